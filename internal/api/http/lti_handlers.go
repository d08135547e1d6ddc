package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mind-engage/orthanflow-lti/internal/lti"
	"github.com/mind-engage/orthanflow-lti/internal/metrics"
	"github.com/mind-engage/orthanflow-lti/internal/session"
)

// LTIHandlers serves the platform-facing launch flows. Metrics and Log may
// be nil.
type LTIHandlers struct {
	Service  *lti.Service
	Sessions *session.Manager
	JWKS     http.Handler
	Metrics  *metrics.Metrics
	Log      *zap.Logger
}

// MountLTI registers the LTI surface on r.
func MountLTI(r chi.Router, h *LTIHandlers) {
	if h.Log == nil {
		h.Log = zap.NewNop()
	}
	r.Method(http.MethodGet, "/jwks", h.JWKS)
	r.Method(http.MethodHead, "/jwks", h.JWKS)
	r.Get("/oidc", h.Login)
	r.Post("/oidc", h.Login)
	r.Post("/launch", h.Launch)
	r.Post("/deep", h.DeepLink)
	r.Post("/dl_submit", h.DeepLinkSubmit)
	r.Get("/nrps", h.Members)
	r.Post("/lti/validate_token", h.ValidateToken)
}

// Login handles OIDC third-party login initiation. GET reads the query,
// POST the form.
func (h *LTIHandlers) Login(w http.ResponseWriter, r *http.Request) {
	const flow = "oidc_login"
	if err := r.ParseForm(); err != nil {
		h.fail(w, flow, lti.ErrIssuerMissing)
		return
	}
	src := r.Form
	if r.Method == http.MethodPost {
		src = r.PostForm
	}
	sid, sess, err := h.Sessions.Load(w, r)
	if err != nil {
		h.fail(w, flow, err)
		return
	}
	target, err := h.Service.LoginRedirect(sess, lti.LoginRequest{
		Issuer:        src.Get("iss"),
		TargetLinkURI: src.Get("target_link_uri"),
		LoginHint:     src.Get("login_hint"),
		MessageHint:   src.Get("lti_message_hint"),
		DeploymentID:  src.Get("lti_deployment_id"),
	})
	if err != nil {
		h.fail(w, flow, err)
		return
	}
	if err := h.Sessions.Save(r.Context(), sid, sess); err != nil {
		h.fail(w, flow, err)
		return
	}
	h.ok(flow)
	http.Redirect(w, r, target, http.StatusFound)
}

func (h *LTIHandlers) Launch(w http.ResponseWriter, r *http.Request) {
	h.callback(w, r, "launch", h.Service.Launch)
}

func (h *LTIHandlers) DeepLink(w http.ResponseWriter, r *http.Request) {
	h.callback(w, r, "deep_linking", h.Service.DeepLinkRequest)
}

type callbackFunc func(ctx context.Context, sess *session.LaunchSession, state, idToken string) (string, error)

// callback runs an id_token form_post flow. The session is saved whatever
// the outcome because a matched state has already been consumed.
func (h *LTIHandlers) callback(w http.ResponseWriter, r *http.Request, flow string, fn callbackFunc) {
	if err := r.ParseForm(); err != nil {
		h.fail(w, flow, lti.ErrTokenInvalid)
		return
	}
	sid, sess, err := h.Sessions.Load(w, r)
	if err != nil {
		h.fail(w, flow, err)
		return
	}
	target, err := fn(r.Context(), sess, r.PostForm.Get("state"), r.PostForm.Get("id_token"))
	if serr := h.Sessions.Save(r.Context(), sid, sess); serr != nil && err == nil {
		err = serr
	}
	if err != nil {
		h.fail(w, flow, err)
		return
	}
	h.ok(flow)
	http.Redirect(w, r, target, http.StatusFound)
}

// DeepLinkSubmit answers with the auto-post form carrying the signed
// LtiDeepLinkingResponse.
func (h *LTIHandlers) DeepLinkSubmit(w http.ResponseWriter, r *http.Request) {
	const flow = "deep_linking_submit"
	if err := r.ParseForm(); err != nil {
		h.fail(w, flow, lti.ErrMissingResourceID)
		return
	}
	sid, sess, err := h.Sessions.Load(w, r)
	if err != nil {
		h.fail(w, flow, err)
		return
	}
	resp, err := h.Service.DeepLinkSubmit(sess, r.PostForm.Get("session_id"), r.PostForm.Get("title"))
	if err != nil {
		h.fail(w, flow, err)
		return
	}
	if err := h.Sessions.Save(r.Context(), sid, sess); err != nil {
		h.fail(w, flow, err)
		return
	}
	h.ok(flow)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if err := resp.WriteAutoPost(w); err != nil {
		h.Log.Error("write deep linking form", zap.Error(err))
	}
}

// Members is the NRPS passthrough.
func (h *LTIHandlers) Members(w http.ResponseWriter, r *http.Request) {
	const flow = "nrps"
	sid, sess, err := h.Sessions.Load(w, r)
	if err != nil {
		h.fail(w, flow, err)
		return
	}
	q := r.URL.Query()
	members, err := h.Service.Members(r.Context(), sess, q.Get("state"), q.Get("id_token"))
	if serr := h.Sessions.Save(r.Context(), sid, sess); serr != nil && err == nil {
		err = serr
	}
	if err != nil {
		h.fail(w, flow, err)
		return
	}
	if members == nil {
		members = []lti.Member{}
	}
	h.ok(flow)
	writeJSON(w, http.StatusOK, map[string]any{"Members": members})
}

// ValidateToken lets the tool frontend exchange a launch token for the
// resource it grants.
func (h *LTIHandlers) ValidateToken(w http.ResponseWriter, r *http.Request) {
	const flow = "validate_token"
	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 16<<10)).Decode(&req); err != nil {
		h.fail(w, flow, lti.ErrMissingToken)
		return
	}
	grant, err := h.Service.ValidateLaunchToken(strings.TrimSpace(req.Token))
	if err != nil {
		h.fail(w, flow, err)
		return
	}
	h.ok(flow)
	writeJSON(w, http.StatusOK, grant)
}

func (h *LTIHandlers) ok(flow string) {
	if h.Metrics != nil {
		h.Metrics.Flow(flow, "ok")
	}
}

func (h *LTIHandlers) fail(w http.ResponseWriter, flow string, err error) {
	status := writeError(w, h.Log, flow, err)
	if h.Metrics != nil {
		h.Metrics.Flow(flow, http.StatusText(status))
	}
}
