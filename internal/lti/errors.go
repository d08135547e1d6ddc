package lti

import "errors"

// Key resolution
var (
	ErrRemoteFetch = errors.New("lti: remote key set fetch failed")
	ErrKeyNotFound = errors.New("lti: no key matches kid")
)

// Token verification
var (
	ErrTokenInvalid     = errors.New("lti: token invalid")
	ErrInvalidSignature = errors.New("lti: invalid token signature")
	ErrIssuerMismatch   = errors.New("lti: issuer mismatch")
	ErrAudienceMismatch = errors.New("lti: audience mismatch")
	ErrSubjectInvalid   = errors.New("lti: subject invalid")
	ErrNonceMismatch    = errors.New("lti: nonce mismatch")
	ErrTokenExpired     = errors.New("lti: token expired")
	ErrTokenNotYetValid = errors.New("lti: token not yet valid")
)

// NRPS and authorization
var (
	ErrTokenEndpoint = errors.New("lti: token endpoint error")
	ErrNrpsFetch     = errors.New("lti: nrps fetch failed")
	ErrAccessDenied  = errors.New("lti: access denied")
	// ErrAuthorizationUnavailable means membership could not be determined.
	// It always wraps the underlying cause and is never a denial.
	ErrAuthorizationUnavailable = errors.New("lti: authorization could not be determined")
)

// Protocol and session state
var (
	ErrStateMismatch      = errors.New("lti: state mismatch")
	ErrUnsupportedMessage = errors.New("lti: message type not supported")
	ErrMissingResourceID  = errors.New("lti: missing res_id")
	ErrSessionNotFound    = errors.New("lti: no resource session for res_id")
	ErrNrpsURLMissing     = errors.New("lti: nrps url missing")
	ErrMissingReturnURL   = errors.New("lti: deep linking return url missing")
	ErrMissingToken       = errors.New("lti: token missing")
)

// OIDC login initiation
var (
	ErrIssuerMissing     = errors.New("lti: iss missing or incorrect")
	ErrTargetLinkMissing = errors.New("lti: target_link_uri missing")
	ErrLoginHintMissing  = errors.New("lti: login_hint missing")
)
