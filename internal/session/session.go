package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/sessions"
)

// LaunchSession is the per-browser LTI state. State and Nonce live from OIDC
// login initiation to the next callback. The DL* fields live from a Deep
// Linking request to its submit.
type LaunchSession struct {
	State string `json:"state,omitempty"`
	Nonce string `json:"nonce,omitempty"`

	DLAudience     string `json:"dl_aud,omitempty"`
	DLReturnURL    string `json:"dl_return_url,omitempty"`
	DLDeploymentID string `json:"dl_deployment_id,omitempty"`
	DLTitle        string `json:"dl_title,omitempty"`
	DLData         string `json:"dl_data,omitempty"`
	DLNonce        string `json:"dl_nonce,omitempty"`
}

// ClearDeepLink drops the Deep Linking context.
func (s *LaunchSession) ClearDeepLink() {
	s.DLAudience, s.DLReturnURL, s.DLDeploymentID = "", "", ""
	s.DLTitle, s.DLData, s.DLNonce = "", "", ""
}

// Store persists LaunchSessions by opaque id. Load returns an empty session
// (not an error) when the id is unknown or expired.
type Store interface {
	Load(ctx context.Context, id string) (*LaunchSession, error)
	Save(ctx context.Context, id string, s *LaunchSession) error
	Delete(ctx context.Context, id string) error
	Ping(ctx context.Context) error
}

const sidKey = "sid"

// Manager binds a browser to a server-side LaunchSession. The browser only
// holds a signed cookie with a random id; the id is never taken from
// request parameters.
type Manager struct {
	store   Store
	cookies *sessions.CookieStore
	name    string
}

type CookieOptions struct {
	Name   string
	Secure bool
	MaxAge time.Duration
}

func NewManager(store Store, hashKey []byte, opts CookieOptions) (*Manager, error) {
	if store == nil {
		return nil, errors.New("session: store required")
	}
	if len(hashKey) < 32 {
		return nil, errors.New("session: cookie hash key must be at least 32 bytes")
	}
	if opts.Name == "" {
		opts.Name = "lti_session"
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = time.Hour
	}
	cs := sessions.NewCookieStore(hashKey)
	cs.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int(opts.MaxAge.Seconds()),
		HttpOnly: true,
		Secure:   opts.Secure,
		SameSite: http.SameSiteLaxMode,
	}
	// LMS callbacks are cross-site form posts.
	if opts.Secure {
		cs.Options.SameSite = http.SameSiteNoneMode
	}
	return &Manager{store: store, cookies: cs, name: opts.Name}, nil
}

// Load returns the browser's session id and state. A browser without a
// valid cookie is given a new id; the cookie is written to w, so Load must
// run before the response body.
func (m *Manager) Load(w http.ResponseWriter, r *http.Request) (string, *LaunchSession, error) {
	// A cookie that fails verification yields a fresh session.
	cs, _ := m.cookies.Get(r, m.name)
	sid, _ := cs.Values[sidKey].(string)
	if sid == "" {
		var err error
		if sid, err = newID(); err != nil {
			return "", nil, err
		}
		cs.Values[sidKey] = sid
		if err := cs.Save(r, w); err != nil {
			return "", nil, fmt.Errorf("session: write cookie: %w", err)
		}
		return sid, &LaunchSession{}, nil
	}
	s, err := m.store.Load(r.Context(), sid)
	if err != nil {
		return "", nil, err
	}
	return sid, s, nil
}

func (m *Manager) Save(ctx context.Context, sid string, s *LaunchSession) error {
	return m.store.Save(ctx, sid, s)
}

func (m *Manager) Ping(ctx context.Context) error { return m.store.Ping(ctx) }

func newID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("session: random id: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
