package lti

import (
	"context"
	"fmt"
	"html/template"
	"io"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/mind-engage/orthanflow-lti/internal/session"
)

const deepLinkResponseTTL = 600 * time.Second

// DeepLinkContext is what a Deep Linking request leaves behind for the
// matching submit.
type DeepLinkContext struct {
	Audience     string // platform issuer that sent the request
	ReturnURL    string
	DeploymentID string
	Title        string
	Data         string
	Nonce        string
}

// ContentItem is an ltiResourceLink returned to the platform.
type ContentItem struct {
	Type   string            `json:"type"`
	URL    string            `json:"url,omitempty"`
	Title  string            `json:"title,omitempty"`
	Custom map[string]string `json:"custom,omitempty"`
}

// DeepLinkResponse is the signed message plus where to post it.
type DeepLinkResponse struct {
	ReturnURL string
	JWT       string
}

// buildDeepLinkClaims assembles the LtiDeepLinkingResponse message.
func buildDeepLinkClaims(clientID string, dl DeepLinkContext, items []ContentItem, now time.Time) jwt.MapClaims {
	return jwt.MapClaims{
		"iss":               clientID,
		"aud":               dl.Audience,
		"iat":               now.Unix(),
		"exp":               now.Add(deepLinkResponseTTL).Unix(),
		"nonce":             dl.Nonce,
		ltiClaimDeployment:  dl.DeploymentID,
		ltiClaimMessageType: MessageDeepLinkingResponse,
		ltiClaimVersion:     ltiVersion,
		dlClaimContentItems: items,
		dlClaimData:         dl.Data,
	}
}

var autoPostTmpl = template.Must(template.New("dl_response").Parse(
	`<form id="dl_response" action="{{.ReturnURL}}" method="POST">` +
		`<input type="hidden" name="JWT" value="{{.JWT}}"/></form>` +
		`<script type="text/javascript">document.getElementById('dl_response').submit();</script>`))

// WriteAutoPost renders a form that posts the response JWT to the platform
// as soon as the browser loads it.
func (r DeepLinkResponse) WriteAutoPost(w io.Writer) error {
	return autoPostTmpl.Execute(w, r)
}

// DeepLinkRequest handles the id_token POST to /deep.
func (s *Service) DeepLinkRequest(ctx context.Context, sess *session.LaunchSession, state, idToken string) (string, error) {
	tok, err := s.verifyCallback(ctx, sess, state, idToken)
	if err != nil {
		return "", err
	}
	if tok.MessageType != MessageDeepLinkingRequest {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedMessage, tok.MessageType)
	}
	return s.deepLinkLaunch(ctx, sess, tok)
}

// deepLinkLaunch lets instructors and administrators through to content
// selection and records the Deep Linking context in the session.
func (s *Service) deepLinkLaunch(ctx context.Context, sess *session.LaunchSession, tok *IdentityToken) (string, error) {
	if err := s.authorize(ctx, tok, DeepLinkRoles); err != nil {
		return "", err
	}
	sess.ClearDeepLink()
	sess.DLAudience = tok.Issuer
	sess.DLDeploymentID = tok.DeploymentID
	sess.DLTitle = tok.ResourceTitle()
	sess.DLNonce = tok.Nonce
	if dl := tok.DeepLinking; dl != nil {
		sess.DLReturnURL = dl.ReturnURL
		sess.DLData = dl.Data
	}

	s.log.Info("lti deep linking request",
		zap.String("flow", "deep_linking"),
		zap.String("sub", tok.Subject),
		zap.String("deployment_id", tok.DeploymentID),
	)
	return s.opts.SelectionURL, nil
}

// DeepLinkSubmit signs the LtiDeepLinkingResponse for the selected resource
// and clears the Deep Linking context from the session.
func (s *Service) DeepLinkSubmit(sess *session.LaunchSession, resID, title string) (DeepLinkResponse, error) {
	if sess == nil || sess.DLReturnURL == "" {
		return DeepLinkResponse{}, ErrMissingReturnURL
	}
	resID = strings.TrimSpace(resID)
	if resID == "" {
		return DeepLinkResponse{}, ErrMissingResourceID
	}
	dl := DeepLinkContext{
		Audience:     sess.DLAudience,
		ReturnURL:    sess.DLReturnURL,
		DeploymentID: sess.DLDeploymentID,
		Title:        sess.DLTitle,
		Data:         sess.DLData,
		Nonce:        sess.DLNonce,
	}
	if strings.TrimSpace(title) == "" {
		title = dl.Title
	}
	item := ContentItem{
		Type:   "ltiResourceLink",
		URL:    s.opts.ToolLaunchURL,
		Title:  title,
		Custom: map[string]string{"res_id": resID},
	}
	signed, err := s.identity.Sign(buildDeepLinkClaims(s.opts.ClientID, dl, []ContentItem{item}, s.now()))
	if err != nil {
		return DeepLinkResponse{}, fmt.Errorf("lti: sign deep linking response: %w", err)
	}
	sess.ClearDeepLink()
	return DeepLinkResponse{ReturnURL: dl.ReturnURL, JWT: signed}, nil
}
