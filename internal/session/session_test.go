package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testHashKey = []byte(strings.Repeat("k", 32))

func TestNewManagerValidation(t *testing.T) {
	_, err := NewManager(nil, testHashKey, CookieOptions{})
	require.Error(t, err)
	_, err = NewManager(NewMemoryStore(0), []byte("short"), CookieOptions{})
	require.Error(t, err)
}

func TestManagerIssuesAndReusesCookie(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	m, err := NewManager(store, testHashKey, CookieOptions{Name: "lti", Secure: true, MaxAge: time.Hour})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	sid, sess, err := m.Load(rec, httptest.NewRequest(http.MethodGet, "/oidc", nil))
	require.NoError(t, err)
	require.NotEmpty(t, sid)
	assert.Equal(t, &LaunchSession{}, sess)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	c := cookies[0]
	assert.Equal(t, "lti", c.Name)
	assert.True(t, c.HttpOnly)
	assert.True(t, c.Secure)
	assert.Equal(t, http.SameSiteNoneMode, c.SameSite)
	assert.NotContains(t, c.Value, sid, "cookie carries a signed value")

	sess.State, sess.Nonce = "state-1", "nonce-1"
	require.NoError(t, m.Save(context.Background(), sid, sess))

	req := httptest.NewRequest(http.MethodPost, "/launch", nil)
	req.AddCookie(c)
	rec = httptest.NewRecorder()
	sid2, sess2, err := m.Load(rec, req)
	require.NoError(t, err)
	assert.Equal(t, sid, sid2)
	assert.Equal(t, "state-1", sess2.State)
	assert.Empty(t, rec.Result().Cookies(), "existing cookie is not rewritten")
}

func TestManagerRejectsTamperedCookie(t *testing.T) {
	m, err := NewManager(NewMemoryStore(time.Hour), testHashKey, CookieOptions{Name: "lti"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/launch", nil)
	req.AddCookie(&http.Cookie{Name: "lti", Value: "attacker-chosen-id"})
	rec := httptest.NewRecorder()
	sid, sess, err := m.Load(rec, req)
	require.NoError(t, err)
	assert.NotEqual(t, "attacker-chosen-id", sid)
	assert.Empty(t, sess.State)
	require.Len(t, rec.Result().Cookies(), 1)
	assert.Equal(t, http.SameSiteLaxMode, rec.Result().Cookies()[0].SameSite)
}

func TestClearDeepLink(t *testing.T) {
	s := &LaunchSession{State: "s", DLAudience: "a", DLReturnURL: "r", DLDeploymentID: "d", DLTitle: "t", DLData: "x", DLNonce: "n"}
	s.ClearDeepLink()
	assert.Equal(t, &LaunchSession{State: "s"}, s)
}
