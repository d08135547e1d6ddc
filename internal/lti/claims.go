package lti

import (
	"fmt"
	"strconv"

	"github.com/golang-jwt/jwt/v5"
)

const (
	ltiClaimMessageType = "https://purl.imsglobal.org/spec/lti/claim/message_type"
	ltiClaimVersion     = "https://purl.imsglobal.org/spec/lti/claim/version"
	ltiClaimDeployment  = "https://purl.imsglobal.org/spec/lti/claim/deployment_id"

	dlClaimContentItems = "https://purl.imsglobal.org/spec/lti-dl/claim/content_items"
	dlClaimData         = "https://purl.imsglobal.org/spec/lti-dl/claim/data"

	ltiVersion = "1.3.0"
)

// Message types handled by the tool.
const (
	MessageResourceLink        = "LtiResourceLinkRequest"
	MessageDeepLinkingRequest  = "LtiDeepLinkingRequest"
	MessageDeepLinkingResponse = "LtiDeepLinkingResponse"
)

// IdentityToken is the typed view of a verified platform id_token. The LTI
// claim namespace is mapped once here so the launch flows never index the
// raw claim map.
type IdentityToken struct {
	jwt.RegisteredClaims

	Nonce           string `json:"nonce,omitempty"`
	AuthorizedParty string `json:"azp,omitempty"`
	Name            string `json:"name,omitempty"`
	Email           string `json:"email,omitempty"`

	MessageType   string                 `json:"https://purl.imsglobal.org/spec/lti/claim/message_type,omitempty"`
	Version       string                 `json:"https://purl.imsglobal.org/spec/lti/claim/version,omitempty"`
	DeploymentID  string                 `json:"https://purl.imsglobal.org/spec/lti/claim/deployment_id,omitempty"`
	TargetLinkURI string                 `json:"https://purl.imsglobal.org/spec/lti/claim/target_link_uri,omitempty"`
	Roles         []string               `json:"https://purl.imsglobal.org/spec/lti/claim/roles,omitempty"`
	Context       *ContextClaim          `json:"https://purl.imsglobal.org/spec/lti/claim/context,omitempty"`
	ResourceLink  *ResourceLinkClaim     `json:"https://purl.imsglobal.org/spec/lti/claim/resource_link,omitempty"`
	Custom        map[string]any         `json:"https://purl.imsglobal.org/spec/lti/claim/custom,omitempty"`
	NamesRoles    *NamesRoleServiceClaim `json:"https://purl.imsglobal.org/spec/lti-nrps/claim/namesroleservice,omitempty"`
	DeepLinking   *DeepLinkingSettings   `json:"https://purl.imsglobal.org/spec/lti-dl/claim/deep_linking_settings,omitempty"`

	// Raw is the full verified claim set.
	Raw map[string]any `json:"-"`
}

type ContextClaim struct {
	ID    string   `json:"id"`
	Label string   `json:"label,omitempty"`
	Title string   `json:"title,omitempty"`
	Type  []string `json:"type,omitempty"`
}

type ResourceLinkClaim struct {
	ID          string `json:"id"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
}

type NamesRoleServiceClaim struct {
	ContextMembershipsURL string   `json:"context_memberships_url"`
	ServiceVersions       []string `json:"service_versions,omitempty"`
}

type DeepLinkingSettings struct {
	ReturnURL                string   `json:"deep_link_return_url"`
	AcceptTypes              []string `json:"accept_types,omitempty"`
	AcceptPresentationTarget []string `json:"accept_presentation_document_targets,omitempty"`
	AcceptMultiple           bool     `json:"accept_multiple,omitempty"`
	AutoCreate               bool     `json:"auto_create,omitempty"`
	Title                    string   `json:"title,omitempty"`
	Text                     string   `json:"text,omitempty"`
	Data                     string   `json:"data,omitempty"`
}

// ResourceID returns custom.res_id as a string ("" when absent).
func (t *IdentityToken) ResourceID() string {
	return t.customString("res_id")
}

// MembershipsURL returns the NRPS context_memberships_url ("" when absent).
func (t *IdentityToken) MembershipsURL() string {
	if t.NamesRoles == nil {
		return ""
	}
	return t.NamesRoles.ContextMembershipsURL
}

func (t *IdentityToken) ResourceTitle() string {
	if t.ResourceLink == nil {
		return ""
	}
	return t.ResourceLink.Title
}

func (t *IdentityToken) ResourceDescription() string {
	if t.ResourceLink == nil {
		return ""
	}
	return t.ResourceLink.Description
}

func (t *IdentityToken) customString(key string) string {
	v, ok := t.Custom[key]
	if !ok || v == nil {
		return ""
	}
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}
