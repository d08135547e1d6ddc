package lti

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/golang-jwt/jwt/v5"
)

const maxSubjectLen = 255

// Verifier validates platform id_tokens. Signature verification runs first,
// then the LTI checks in fixed order: iss, aud/azp, sub, nonce, exp/iat. The
// first failing check decides the error.
type Verifier struct {
	PlatformID string
	ClientID   string
	Keys       KeyResolver

	// Leeway is applied to exp and iat (default 0).
	Leeway time.Duration
	// Optional: override the clock (useful in tests).
	Now func() time.Time
}

// Verify checks raw against the platform keys and expectedNonce and returns
// the typed claim set.
func (v *Verifier) Verify(ctx context.Context, raw, expectedNonce string) (*IdentityToken, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty id_token", ErrTokenInvalid)
	}
	if v.Keys == nil {
		return nil, errors.New("lti: verifier has no key resolver")
	}

	// Time claims are checked below in their documented position.
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{AlgRS256}),
		jwt.WithoutClaimsValidation(),
	)
	claims := &IdentityToken{}
	_, err := parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		kid, _ := t.Header["kid"].(string)
		return v.Keys.ResolveKey(ctx, kid)
	})
	if err != nil {
		return nil, classifyParseError(err)
	}

	if err := v.checkIssuer(claims); err != nil {
		return nil, err
	}
	if err := v.checkAudience(claims); err != nil {
		return nil, err
	}
	if err := checkSubject(claims.Subject); err != nil {
		return nil, err
	}
	if expectedNonce == "" || subtle.ConstantTimeCompare([]byte(claims.Nonce), []byte(expectedNonce)) != 1 {
		return nil, ErrNonceMismatch
	}
	if err := v.checkTimes(claims); err != nil {
		return nil, err
	}

	claims.Raw = rawClaims(parser, raw)
	return claims, nil
}

func classifyParseError(err error) error {
	switch {
	case errors.Is(err, ErrKeyNotFound), errors.Is(err, ErrRemoteFetch):
		return err
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	default:
		return fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
}

func (v *Verifier) checkIssuer(c *IdentityToken) error {
	if c.Issuer == "" || c.Issuer != v.PlatformID {
		return fmt.Errorf("%w: got %q", ErrIssuerMismatch, c.Issuer)
	}
	return nil
}

// checkAudience accepts a single aud equal to the client id, or a list that
// contains it. A list with more than one entry must name the client id in azp.
func (v *Verifier) checkAudience(c *IdentityToken) error {
	found := false
	for _, a := range c.Audience {
		if a == v.ClientID {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("%w: client id not in aud", ErrAudienceMismatch)
	}
	if len(c.Audience) > 1 && c.AuthorizedParty == "" {
		return fmt.Errorf("%w: azp required for multiple audiences", ErrAudienceMismatch)
	}
	if c.AuthorizedParty != "" && c.AuthorizedParty != v.ClientID {
		return fmt.Errorf("%w: azp %q", ErrAudienceMismatch, c.AuthorizedParty)
	}
	return nil
}

func checkSubject(sub string) error {
	if sub == "" {
		return fmt.Errorf("%w: missing", ErrSubjectInvalid)
	}
	if utf8.RuneCountInString(sub) > maxSubjectLen {
		return fmt.Errorf("%w: longer than %d characters", ErrSubjectInvalid, maxSubjectLen)
	}
	for i := 0; i < len(sub); i++ {
		if sub[i] > 0x7f {
			return fmt.Errorf("%w: non-ASCII characters", ErrSubjectInvalid)
		}
	}
	return nil
}

func (v *Verifier) checkTimes(c *IdentityToken) error {
	now := v.now().Truncate(time.Second)
	if c.ExpiresAt == nil {
		return fmt.Errorf("%w: exp missing", ErrTokenExpired)
	}
	if now.After(c.ExpiresAt.Add(v.Leeway)) {
		return ErrTokenExpired
	}
	if c.IssuedAt == nil {
		return fmt.Errorf("%w: iat missing", ErrTokenNotYetValid)
	}
	if c.IssuedAt.After(now.Add(v.Leeway)) {
		return ErrTokenNotYetValid
	}
	return nil
}

func (v *Verifier) now() time.Time {
	if v.Now != nil {
		return v.Now()
	}
	return time.Now()
}

// rawClaims decodes the payload segment of an already verified token.
func rawClaims(p *jwt.Parser, raw string) map[string]any {
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return nil
	}
	seg, err := p.DecodeSegment(parts[1])
	if err != nil {
		return nil
	}
	out := map[string]any{}
	if err := json.Unmarshal(seg, &out); err != nil {
		return nil
	}
	return out
}
