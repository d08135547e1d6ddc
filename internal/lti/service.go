package lti

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mind-engage/orthanflow-lti/internal/session"
)

// DisplayMode selects where a successful resource-link launch lands.
type DisplayMode string

const (
	// DisplayFrontend mints a launch token and redirects to the tool frontend.
	DisplayFrontend DisplayMode = "frontend"
	// DisplayViewer redirects straight to the stored viewer URL.
	DisplayViewer DisplayMode = "viewer"
)

// ParseDisplayMode also accepts the legacy names "OrthanFlow" and "Viewer".
func ParseDisplayMode(s string) (DisplayMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "frontend", "orthanflow":
		return DisplayFrontend, nil
	case "viewer", "":
		return DisplayViewer, nil
	default:
		return "", fmt.Errorf("lti: unknown display mode %q (want frontend or viewer)", s)
	}
}

// Options is the immutable tool registration and routing config.
type Options struct {
	PlatformID    string
	ClientID      string
	AuthURL       string // platform OIDC authorization endpoint
	ToolLaunchURL string // url written into deep-link content items
	FrontendURL   string
	SelectionURL  string // content-selection page after a deep-link request
	DisplayMode   DisplayMode
	ReplayTTL     time.Duration
}

// IDTokenVerifier is satisfied by *Verifier.
type IDTokenVerifier interface {
	Verify(ctx context.Context, raw, expectedNonce string) (*IdentityToken, error)
}

// ResourceLookup resolves res_id to the stored viewer URL.
type ResourceLookup interface {
	ViewerURL(ctx context.Context, resID string) (string, bool, error)
}

// Deps are the collaborators of Service. Replay and Logger are optional.
type Deps struct {
	Identity  *SigningIdentity
	Verifier  IDTokenVerifier
	NRPS      Memberships
	Resources ResourceLookup
	Tokens    *LaunchTokens
	Replay    Replay
	Logger    *zap.Logger
}

// Service is the launch state machine. Every method works on the caller's
// LaunchSession; the caller persists it afterwards, including on error,
// because a matched state is consumed even when verification then fails.
type Service struct {
	opts      Options
	identity  *SigningIdentity
	verifier  IDTokenVerifier
	nrps      Memberships
	resources ResourceLookup
	tokens    *LaunchTokens
	replay    Replay
	log       *zap.Logger

	// Optional: override the clock (useful in tests).
	Now func() time.Time
}

func NewService(opts Options, d Deps) (*Service, error) {
	switch {
	case d.Identity == nil:
		return nil, ErrNoSigningKey
	case d.Verifier == nil, d.NRPS == nil, d.Resources == nil, d.Tokens == nil:
		return nil, errors.New("lti: verifier, nrps, resources and tokens are required")
	case opts.PlatformID == "" || opts.ClientID == "" || opts.AuthURL == "":
		return nil, errors.New("lti: platform id, client id and auth url are required")
	}
	if opts.DisplayMode == "" {
		opts.DisplayMode = DisplayViewer
	}
	if opts.SelectionURL == "" {
		opts.SelectionURL = strings.TrimSuffix(opts.FrontendURL, "/") + "/"
	}
	log := d.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		opts:      opts,
		identity:  d.Identity,
		verifier:  d.Verifier,
		nrps:      d.NRPS,
		resources: d.Resources,
		tokens:    d.Tokens,
		replay:    d.Replay,
		log:       log,
	}, nil
}

// verifyCallback consumes the session's state/nonce pair and verifies the
// id_token against the consumed nonce.
func (s *Service) verifyCallback(ctx context.Context, sess *session.LaunchSession, state, raw string) (*IdentityToken, error) {
	nonce, err := consumeState(sess, state)
	if err != nil {
		return nil, err
	}
	tok, err := s.verifier.Verify(ctx, raw, nonce)
	if err != nil {
		return nil, err
	}
	if s.replay != nil {
		fresh, err := s.replay.Use(ctx, "id_token_nonce", tok.Nonce, s.replayTTL())
		if err != nil {
			return nil, err
		}
		if !fresh {
			return nil, fmt.Errorf("%w: nonce already used", ErrNonceMismatch)
		}
	}
	return tok, nil
}

// consumeState checks state against the session and clears state and nonce
// so that neither can be presented twice. An empty stored state never matches.
func consumeState(sess *session.LaunchSession, state string) (string, error) {
	if sess == nil || sess.State == "" || state == "" ||
		subtle.ConstantTimeCompare([]byte(sess.State), []byte(state)) != 1 {
		return "", ErrStateMismatch
	}
	nonce := sess.Nonce
	sess.State, sess.Nonce = "", ""
	return nonce, nil
}

// authorize maps the NRPS decision to nil, ErrAccessDenied or
// ErrAuthorizationUnavailable.
func (s *Service) authorize(ctx context.Context, tok *IdentityToken, roles RoleSet) error {
	ok, err := s.nrps.IsAuthorized(ctx, tok.MembershipsURL(), tok.Subject, roles)
	if err != nil {
		return err
	}
	if !ok {
		return ErrAccessDenied
	}
	return nil
}

// Members is the NRPS passthrough: verify the callback, then return the
// raw roster of the launch context.
func (s *Service) Members(ctx context.Context, sess *session.LaunchSession, state, idToken string) ([]Member, error) {
	tok, err := s.verifyCallback(ctx, sess, state, idToken)
	if err != nil {
		return nil, err
	}
	u := tok.MembershipsURL()
	if u == "" {
		return nil, ErrNrpsURLMissing
	}
	return s.nrps.FetchMembers(ctx, u)
}

// ValidateLaunchToken checks a token previously minted by a launch.
func (s *Service) ValidateLaunchToken(token string) (LaunchGrant, error) {
	return s.tokens.Validate(token)
}

func (s *Service) replayTTL() time.Duration {
	if s.opts.ReplayTTL > 0 {
		return s.opts.ReplayTTL
	}
	return DefaultLaunchTokenTTL
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
