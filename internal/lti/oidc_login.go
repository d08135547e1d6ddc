package lti

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/mind-engage/orthanflow-lti/internal/session"
)

// LoginRequest is the third-party initiated login sent by the platform.
type LoginRequest struct {
	Issuer        string
	TargetLinkURI string
	LoginHint     string
	MessageHint   string
	DeploymentID  string
}

// LoginRedirect validates the login initiation, stores a fresh state and
// nonce in sess and returns the platform authorization URL to redirect to.
func (s *Service) LoginRedirect(sess *session.LaunchSession, req LoginRequest) (string, error) {
	if strings.TrimSpace(req.Issuer) == "" || req.Issuer != s.opts.PlatformID {
		return "", ErrIssuerMissing
	}
	if strings.TrimSpace(req.TargetLinkURI) == "" {
		return "", ErrTargetLinkMissing
	}
	if strings.TrimSpace(req.LoginHint) == "" {
		return "", ErrLoginHintMissing
	}

	authURL, err := url.Parse(s.opts.AuthURL)
	if err != nil {
		return "", fmt.Errorf("lti: auth url: %w", err)
	}

	sess.State = uuid.NewString()
	sess.Nonce = uuid.NewString()

	q := authURL.Query()
	q.Set("response_type", "id_token")
	q.Set("response_mode", "form_post")
	q.Set("scope", "openid")
	q.Set("prompt", "none")
	q.Set("client_id", s.opts.ClientID)
	q.Set("redirect_uri", req.TargetLinkURI)
	q.Set("login_hint", req.LoginHint)
	q.Set("state", sess.State)
	q.Set("nonce", sess.Nonce)
	if req.MessageHint != "" {
		q.Set("lti_message_hint", req.MessageHint)
	}
	if req.DeploymentID != "" {
		q.Set("lti_deployment_id", req.DeploymentID)
	}
	authURL.RawQuery = q.Encode()
	return authURL.String(), nil
}
