package lti

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	DefaultLaunchTokenTTL = 600 * time.Second
	// DefaultLaunchAudience marks a token as a launch token. Nothing else the
	// tool signs carries it.
	DefaultLaunchAudience = "orthanflow:launch"
)

// LaunchGrant is what the frontend receives after a successful launch.
type LaunchGrant struct {
	ResID       string `json:"res_id"`
	ViewerURL   string `json:"viewer_url"`
	Description string `json:"description"`
}

type launchClaims struct {
	LaunchGrant
	jwt.RegisteredClaims
}

// LaunchTokens issues and validates the short-lived token that carries a
// launch over to the tool frontend. Tokens are signed and checked with the
// tool's own key.
type LaunchTokens struct {
	Identity *SigningIdentity
	// Issuer is written to iss and required on validation (the client id).
	Issuer string
	// Audience is written to aud and required on validation. Defaults to
	// DefaultLaunchAudience.
	Audience string
	TTL      time.Duration
	// Optional: override the clock (useful in tests).
	Now func() time.Time
}

func (lt *LaunchTokens) Issue(g LaunchGrant) (string, error) {
	if lt.Identity == nil {
		return "", ErrNoSigningKey
	}
	now := lt.now()
	return lt.Identity.Sign(launchClaims{
		LaunchGrant: g,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    lt.Issuer,
			Audience:  jwt.ClaimStrings{lt.audience()},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(lt.ttl())),
		},
	})
}

// Validate returns ErrTokenExpired for an expired token and ErrTokenInvalid
// for anything else that fails.
func (lt *LaunchTokens) Validate(token string) (LaunchGrant, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return LaunchGrant{}, ErrMissingToken
	}
	if lt.Identity == nil {
		return LaunchGrant{}, ErrNoSigningKey
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{AlgRS256}),
		jwt.WithExpirationRequired(),
		jwt.WithAudience(lt.audience()),
		jwt.WithTimeFunc(lt.now),
	}
	if lt.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(lt.Issuer))
	}
	claims := &launchClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return lt.Identity.PublicKey(), nil
	}, opts...)
	switch {
	case err == nil:
		return claims.LaunchGrant, nil
	case errors.Is(err, jwt.ErrTokenExpired):
		return LaunchGrant{}, ErrTokenExpired
	default:
		return LaunchGrant{}, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
}

func (lt *LaunchTokens) ttl() time.Duration {
	if lt.TTL > 0 {
		return lt.TTL
	}
	return DefaultLaunchTokenTTL
}

func (lt *LaunchTokens) audience() string {
	if lt.Audience != "" {
		return lt.Audience
	}
	return DefaultLaunchAudience
}

func (lt *LaunchTokens) now() time.Time {
	if lt.Now != nil {
		return lt.Now()
	}
	return time.Now()
}
