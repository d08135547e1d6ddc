package lti

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-jose/go-jose/v4"
)

// JWKSProvider returns the public key set to publish.
type JWKSProvider interface {
	PublicJWKS() jose.JSONWebKeySet
}

// JWKSHandler serves the tool's public keys so the platform can verify the
// client assertion and the Deep Linking response.
//
// Mount it like:
//
//	r.Get("/jwks", (&lti.JWKSHandler{Provider: identity}).ServeHTTP)
type JWKSHandler struct {
	Provider JWKSProvider

	// Optional: cache control for responses (default: 10 minutes).
	CacheMaxAge time.Duration
	// Optional: override the clock (useful in tests).
	Now func() time.Time
}

func (h *JWKSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Provider == nil {
		http.Error(w, "jwks: not configured", http.StatusInternalServerError)
		return
	}
	payload, err := json.Marshal(h.Provider.PublicJWKS())
	if err != nil {
		http.Error(w, "jwks: marshal error", http.StatusInternalServerError)
		return
	}

	etag := computeETag(payload)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age="+strconv.Itoa(int(h.cacheAge().Seconds())))
	w.Header().Set("ETag", etag)
	w.Header().Set("Last-Modified", h.now().UTC().Format(http.TimeFormat))

	if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

func (h *JWKSHandler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func (h *JWKSHandler) cacheAge() time.Duration {
	if h.CacheMaxAge > 0 {
		return h.CacheMaxAge
	}
	return 10 * time.Minute
}

func computeETag(b []byte) string {
	sum := sha256.Sum256(b)
	// weak ETag is fine here
	return `W/"` + base64.RawURLEncoding.EncodeToString(sum[:]) + `"`
}
