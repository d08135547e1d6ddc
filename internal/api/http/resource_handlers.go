package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/mind-engage/orthanflow-lti/internal/storage"
)

// ResourceHandlers manages the res_id -> viewer URL records read by the
// launch flow.
type ResourceHandlers struct {
	Store *storage.ResourceSessions
	// AdminTokenHash is a bcrypt hash; empty disables the bearer check.
	AdminTokenHash string
	Log            *zap.Logger
}

func MountResources(r chi.Router, h *ResourceHandlers) {
	if h.Log == nil {
		h.Log = zap.NewNop()
	}
	r.Group(func(ar chi.Router) {
		ar.Use(h.requireAdmin)
		ar.Post("/save_session", h.Save)
		ar.Get("/sessions/{res_id}", h.Get)
		ar.Delete("/sessions/{res_id}", h.Delete)
	})
}

func (h *ResourceHandlers) Save(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Session   string `json:"session"`
		ViewerURL string `json:"viewer_url"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Malformed request body", Reason: "malformed_body"})
		return
	}
	req.Session, req.ViewerURL = strings.TrimSpace(req.Session), strings.TrimSpace(req.ViewerURL)
	if req.Session == "" || req.ViewerURL == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Missing session_id or viewer_url"})
		return
	}
	rs, err := h.Store.Save(r.Context(), req.Session, req.ViewerURL)
	if err != nil {
		writeError(w, h.Log, "save_session", err)
		return
	}
	h.Log.Info("resource session recorded", zap.String("res_id", rs.ResID))
	writeJSON(w, http.StatusOK, map[string]string{
		"Message": "Session successfully recorded",
		"session": rs.ResID,
	})
}

func (h *ResourceHandlers) Get(w http.ResponseWriter, r *http.Request) {
	rs, err := h.Store.Get(r.Context(), chi.URLParam(r, "res_id"))
	if err != nil {
		writeError(w, h.Log, "get_session", err)
		return
	}
	writeJSON(w, http.StatusOK, rs)
}

func (h *ResourceHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	resID := chi.URLParam(r, "res_id")
	if err := h.Store.Delete(r.Context(), resID); err != nil {
		writeError(w, h.Log, "delete_session", err)
		return
	}
	h.Log.Info("resource session deleted", zap.String("res_id", resID))
	w.WriteHeader(http.StatusNoContent)
}

func (h *ResourceHandlers) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.AdminTokenHash == "" {
			next.ServeHTTP(w, r)
			return
		}
		tok, err := bearer(r)
		if err == nil {
			err = bcrypt.CompareHashAndPassword([]byte(h.AdminTokenHash), []byte(tok))
		}
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "Unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearer(r *http.Request) (string, error) {
	h := r.Header.Get("Authorization")
	if h == "" || !strings.HasPrefix(strings.ToLower(h), "bearer ") {
		return "", errors.New("missing bearer token")
	}
	return strings.TrimSpace(h[len("Bearer "):]), nil
}
