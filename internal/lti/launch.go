package lti

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/mind-engage/orthanflow-lti/internal/session"
)

// Launch handles the id_token POST to /launch. Resource links open the
// viewer; a Deep Linking request posted here is handled like one posted
// to /deep. It returns the URL to redirect the browser to.
func (s *Service) Launch(ctx context.Context, sess *session.LaunchSession, state, idToken string) (string, error) {
	tok, err := s.verifyCallback(ctx, sess, state, idToken)
	if err != nil {
		return "", err
	}
	switch tok.MessageType {
	case MessageResourceLink:
		return s.resourceLaunch(ctx, tok)
	case MessageDeepLinkingRequest:
		return s.deepLinkLaunch(ctx, sess, tok)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedMessage, tok.MessageType)
	}
}

func (s *Service) resourceLaunch(ctx context.Context, tok *IdentityToken) (string, error) {
	resID := tok.ResourceID()
	if resID == "" {
		return "", ErrMissingResourceID
	}
	viewerURL, found, err := s.resources.ViewerURL(ctx, resID)
	if err != nil {
		return "", fmt.Errorf("lti: resource lookup %q: %w", resID, err)
	}
	if !found {
		return "", fmt.Errorf("%w: %s", ErrSessionNotFound, resID)
	}
	if err := s.authorize(ctx, tok, LaunchRoles); err != nil {
		return "", err
	}

	s.log.Info("lti launch",
		zap.String("flow", "resource_link"),
		zap.String("res_id", resID),
		zap.String("sub", tok.Subject),
		zap.String("display", string(s.opts.DisplayMode)),
	)

	if s.opts.DisplayMode != DisplayFrontend {
		return viewerURL, nil
	}
	token, err := s.tokens.Issue(LaunchGrant{
		ResID:       resID,
		ViewerURL:   viewerURL,
		Description: tok.ResourceDescription(),
	})
	if err != nil {
		return "", fmt.Errorf("lti: issue launch token: %w", err)
	}
	return strings.TrimSuffix(s.opts.FrontendURL, "/") + "/student?token=" + url.QueryEscape(token), nil
}
