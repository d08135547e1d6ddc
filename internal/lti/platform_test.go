package lti

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/mind-engage/orthanflow-lti/internal/session"
)

const (
	testPlatformID = "https://lms.example.edu"
	testClientID   = "orthanflow-tool"
	testKID        = "platform-key-1"
	testSubject    = "user-123"
	testResID      = "study-42"
	testViewerURL  = "https://viewer.example.com/study/42"
	testAccess     = "nrps-access-token"
)

// fakePlatform is an LMS: JWKS, OAuth2 token endpoint and NRPS roster.
type fakePlatform struct {
	t   *testing.T
	key *rsa.PrivateKey
	srv *httptest.Server

	members     []Member
	tokenStatus int // 0 means 200
	tokenCalls  atomic.Int32
	jwksCalls   atomic.Int32
}

var platformKey = mustKey()

func mustKey() *rsa.PrivateKey {
	k, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic(err)
	}
	return k
}

func newFakePlatform(t *testing.T) *fakePlatform {
	t.Helper()
	p := &fakePlatform{t: t, key: platformKey}
	mux := http.NewServeMux()
	mux.HandleFunc("/jwks", func(w http.ResponseWriter, r *http.Request) {
		p.jwksCalls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
			Key:       &p.key.PublicKey,
			KeyID:     testKID,
			Algorithm: "RS256",
			Use:       "sig",
		}}})
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		p.tokenCalls.Add(1)
		if p.tokenStatus != 0 {
			http.Error(w, `{"error":"invalid_client"}`, p.tokenStatus)
			return
		}
		if err := r.ParseForm(); err != nil ||
			r.PostForm.Get("grant_type") != "client_credentials" ||
			r.PostForm.Get("client_assertion_type") != clientAssertionType ||
			r.PostForm.Get("client_assertion") == "" ||
			!strings.Contains(r.PostForm.Get("scope"), NRPSScope) {
			http.Error(w, `{"error":"invalid_request"}`, http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"` + testAccess + `","token_type":"Bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/members", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+testAccess || r.Header.Get("Accept") != NRPSMediaType {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", NRPSMediaType)
		_ = json.NewEncoder(w).Encode(membershipContainer{ID: "ctx-1", Members: p.members})
	})
	p.srv = httptest.NewServer(mux)
	t.Cleanup(p.srv.Close)
	return p
}

func (p *fakePlatform) jwksURL() string    { return p.srv.URL + "/jwks" }
func (p *fakePlatform) tokenURL() string   { return p.srv.URL + "/token" }
func (p *fakePlatform) membersURL() string { return p.srv.URL + "/members" }

// sign issues an id_token with the platform key under kid.
func (p *fakePlatform) sign(claims jwt.MapClaims, kid string) string {
	p.t.Helper()
	return signWith(p.t, p.key, kid, claims)
}

func signWith(t *testing.T, key *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if kid != "" {
		tok.Header["kid"] = kid
	}
	s, err := tok.SignedString(key)
	require.NoError(t, err)
	return s
}

// launchClaims is a valid resource-link id_token body for nonce.
func (p *fakePlatform) launchClaims(nonce string) jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss":   testPlatformID,
		"aud":   testClientID,
		"sub":   testSubject,
		"nonce": nonce,
		"iat":   now.Unix(),
		"exp":   now.Add(5 * time.Minute).Unix(),
		"name":  "Dr. Test",

		"https://purl.imsglobal.org/spec/lti/claim/message_type":  MessageResourceLink,
		"https://purl.imsglobal.org/spec/lti/claim/version":       ltiVersion,
		"https://purl.imsglobal.org/spec/lti/claim/deployment_id": "dep-1",
		"https://purl.imsglobal.org/spec/lti/claim/roles":         []string{RoleLearner},
		"https://purl.imsglobal.org/spec/lti/claim/custom":        map[string]any{"res_id": testResID},
		"https://purl.imsglobal.org/spec/lti/claim/resource_link": map[string]any{
			"id": "rl-1", "title": "Chest CT", "description": "Follow-up scan",
		},
		"https://purl.imsglobal.org/spec/lti-nrps/claim/namesroleservice": map[string]any{
			"context_memberships_url": p.membersURL(),
			"service_versions":        []string{"2.0"},
		},
	}
}

// deepLinkClaims is a valid LtiDeepLinkingRequest body for nonce.
func (p *fakePlatform) deepLinkClaims(nonce, returnURL string) jwt.MapClaims {
	c := p.launchClaims(nonce)
	c[ltiClaimMessageType] = MessageDeepLinkingRequest
	delete(c, "https://purl.imsglobal.org/spec/lti/claim/custom")
	c["https://purl.imsglobal.org/spec/lti-dl/claim/deep_linking_settings"] = map[string]any{
		"deep_link_return_url": returnURL,
		"accept_types":         []string{"ltiResourceLink"},
		"data":                 "opaque-data",
	}
	return c
}

func (p *fakePlatform) verifier() *Verifier {
	return &Verifier{
		PlatformID: testPlatformID,
		ClientID:   testClientID,
		Keys:       NewRemoteKeyResolver(p.jwksURL(), 5*time.Second),
	}
}

// fakeResources is a ResourceLookup over a map.
type fakeResources map[string]string

func (f fakeResources) ViewerURL(_ context.Context, resID string) (string, bool, error) {
	u, ok := f[resID]
	return u, ok, nil
}

type serviceFixture struct {
	platform *fakePlatform
	svc      *Service
	identity *SigningIdentity
	tokens   *LaunchTokens
}

func newServiceFixture(t *testing.T, mode DisplayMode) *serviceFixture {
	t.Helper()
	p := newFakePlatform(t)
	p.members = []Member{{UserID: testSubject, Status: "Active", Roles: []string{"Learner"}}}

	id, err := GenerateSigningIdentity(2048)
	require.NoError(t, err)
	tokens := &LaunchTokens{Identity: id, Issuer: testClientID}

	svc, err := NewService(Options{
		PlatformID:    testPlatformID,
		ClientID:      testClientID,
		AuthURL:       p.srv.URL + "/auth",
		ToolLaunchURL: "https://tool.example.com/launch",
		FrontendURL:   "https://tool.example.com",
		SelectionURL:  "https://tool.example.com/select",
		DisplayMode:   mode,
	}, Deps{
		Identity: id,
		Verifier: p.verifier(),
		NRPS: &NRPSClient{
			ClientID: testClientID,
			TokenURL: p.tokenURL(),
			Identity: id,
		},
		Resources: fakeResources{testResID: testViewerURL},
		Tokens:    tokens,
		Replay:    NewInMemoryReplay(0),
	})
	require.NoError(t, err)
	return &serviceFixture{platform: p, svc: svc, identity: id, tokens: tokens}
}

// login runs OIDC initiation and returns the session holding state/nonce.
func (f *serviceFixture) login(t *testing.T) *session.LaunchSession {
	t.Helper()
	sess := &session.LaunchSession{}
	_, err := f.svc.LoginRedirect(sess, LoginRequest{
		Issuer:        testPlatformID,
		TargetLinkURI: "https://tool.example.com/launch",
		LoginHint:     "hint-1",
	})
	require.NoError(t, err)
	return sess
}
