package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/mind-engage/orthanflow-lti/internal/lti"
	"github.com/mind-engage/orthanflow-lti/internal/storage"
)

type errorBody struct {
	Error  string `json:"Error"`
	Reason string `json:"reason,omitempty"`
}

type statusEntry struct {
	err    error
	status int
	msg    string
}

// errorTable is matched in order; wrapping sentinels come before the ones
// they wrap.
var errorTable = []statusEntry{
	{lti.ErrAuthorizationUnavailable, http.StatusForbidden, "Authorization could not be determined"},
	{lti.ErrAccessDenied, http.StatusForbidden, "Access denied"},

	{lti.ErrStateMismatch, http.StatusBadRequest, "State invalid"},
	{lti.ErrIssuerMissing, http.StatusBadRequest, "Issuer invalid"},
	{lti.ErrTargetLinkMissing, http.StatusBadRequest, "target_link_uri missing"},
	{lti.ErrLoginHintMissing, http.StatusBadRequest, "login_hint missing"},
	{lti.ErrUnsupportedMessage, http.StatusBadRequest, "Unsupported message type"},
	{lti.ErrMissingResourceID, http.StatusBadRequest, "Resource id missing"},
	{lti.ErrSessionNotFound, http.StatusNotFound, "Session not found"},
	{lti.ErrNrpsURLMissing, http.StatusBadRequest, "NRPS URL not found"},
	{lti.ErrMissingReturnURL, http.StatusBadRequest, "Deep link return url missing"},
	{lti.ErrMissingToken, http.StatusBadRequest, "Token missing"},

	{lti.ErrTokenExpired, http.StatusUnauthorized, "Token expired"},
	{lti.ErrTokenNotYetValid, http.StatusUnauthorized, "Token not yet valid"},
	{lti.ErrInvalidSignature, http.StatusUnauthorized, "Token invalid"},
	{lti.ErrKeyNotFound, http.StatusUnauthorized, "Token invalid"},
	{lti.ErrRemoteFetch, http.StatusUnauthorized, "Token invalid"},
	{lti.ErrIssuerMismatch, http.StatusUnauthorized, "Token invalid"},
	{lti.ErrAudienceMismatch, http.StatusUnauthorized, "Token invalid"},
	{lti.ErrSubjectInvalid, http.StatusUnauthorized, "Token invalid"},
	{lti.ErrNonceMismatch, http.StatusUnauthorized, "Token invalid"},
	{lti.ErrTokenInvalid, http.StatusUnauthorized, "Token invalid"},

	{lti.ErrTokenEndpoint, http.StatusBadRequest, "Token endpoint error"},
	{lti.ErrNrpsFetch, http.StatusBadRequest, "NRPS fetch error"},

	{storage.ErrNotFound, http.StatusNotFound, "Session not found"},
}

// reasons gives the short machine-readable cause for 401 answers.
var reasons = map[error]string{
	lti.ErrInvalidSignature: "invalid_signature",
	lti.ErrKeyNotFound:      "key_not_found",
	lti.ErrRemoteFetch:      "jwks_unavailable",
	lti.ErrIssuerMismatch:   "issuer_mismatch",
	lti.ErrAudienceMismatch: "audience_mismatch",
	lti.ErrSubjectInvalid:   "subject_invalid",
	lti.ErrNonceMismatch:    "nonce_mismatch",
	lti.ErrTokenInvalid:     "malformed",
}

// classify returns the status, public message and reason for err. Unknown
// errors are internal.
func classify(err error) (int, string, string) {
	for _, e := range errorTable {
		if errors.Is(err, e.err) {
			return e.status, e.msg, reasons[e.err]
		}
	}
	return http.StatusInternalServerError, "Internal error", ""
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError answers {"Error": ...}. Internal errors are logged with their
// detail; the client only sees the generic message.
func writeError(w http.ResponseWriter, log *zap.Logger, flow string, err error) int {
	status, msg, reason := classify(err)
	if status >= http.StatusInternalServerError {
		log.Error("lti flow failed", zap.String("flow", flow), zap.Error(err))
	} else {
		log.Info("lti flow rejected", zap.String("flow", flow), zap.String("reason", msg), zap.String("cause", reason))
	}
	writeJSON(w, status, errorBody{Error: msg, Reason: reason})
	return status
}
