package lti

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

/*
NRPS (Names & Role Provisioning Service) client, tool side

  1. ServiceAccessToken signs a client assertion with the tool key
     (iss = sub = client id, aud = token endpoint, 300s, fresh jti, kid header)
     and exchanges it at the platform token endpoint for a bearer token
     with the contextmembership.readonly scope.
  2. FetchMembers GETs the context_memberships_url with that token and the
     membership container media type, following rel="next" links.
  3. IsAuthorized decides whether a subject may proceed. A failed fetch is
     returned as ErrAuthorizationUnavailable, never as a plain denial.

Nothing is cached: every authorization decision fetches the roster again.
*/

const (
	NRPSScope           = "https://purl.imsglobal.org/spec/lti-nrps/scope/contextmembership.readonly"
	NRPSMediaType       = "application/vnd.ims.lti-nrps.v2.membershipcontainer+json"
	clientAssertionType = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"

	assertionTTL   = 300 * time.Second
	maxMemberPages = 20
)

// Member is one record of the NRPS membership container.
type Member struct {
	UserID             string   `json:"user_id"`
	Roles              []string `json:"roles"`
	Status             string   `json:"status,omitempty"` // Active|Inactive|Deleted
	Name               string   `json:"name,omitempty"`
	GivenName          string   `json:"given_name,omitempty"`
	FamilyName         string   `json:"family_name,omitempty"`
	Email              string   `json:"email,omitempty"`
	Picture            string   `json:"picture,omitempty"`
	LISPersonSourcedID string   `json:"lis_person_sourcedid,omitempty"`
}

type membershipContainer struct {
	ID      string   `json:"id,omitempty"`
	Members []Member `json:"members"`
}

// Memberships is what the launch flows need from NRPS.
type Memberships interface {
	FetchMembers(ctx context.Context, nrpsURL string) ([]Member, error)
	IsAuthorized(ctx context.Context, nrpsURL, subject string, allowed RoleSet) (bool, error)
}

type NRPSClient struct {
	ClientID   string
	TokenURL   string
	Identity   *SigningIdentity
	HTTPClient *http.Client
	// Timeout bounds the token exchange and the member fetch separately (default 10s).
	Timeout time.Duration
	// MaxPages caps the rel=next pages followed (default 20). A roster with
	// more pages is a fetch error.
	MaxPages int
	// Optional: override the clock (useful in tests).
	Now func() time.Time
}

// ServiceAccessToken obtains a bearer token for the NRPS scope.
func (c *NRPSClient) ServiceAccessToken(ctx context.Context) (string, error) {
	assertion, err := c.clientAssertion()
	if err != nil {
		return "", fmt.Errorf("%w: sign assertion: %v", ErrTokenEndpoint, err)
	}
	cc := clientcredentials.Config{
		ClientID: c.ClientID,
		TokenURL: c.TokenURL,
		Scopes:   []string{NRPSScope},
		EndpointParams: url.Values{
			"client_assertion_type": {clientAssertionType},
			"client_assertion":      {assertion},
		},
		AuthStyle: oauth2.AuthStyleInParams,
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.client())

	tok, err := cc.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTokenEndpoint, err)
	}
	return tok.AccessToken, nil
}

func (c *NRPSClient) clientAssertion() (string, error) {
	if c.Identity == nil {
		return "", ErrNoSigningKey
	}
	now := c.now()
	return c.Identity.Sign(jwt.MapClaims{
		"iss": c.ClientID,
		"sub": c.ClientID,
		"aud": c.TokenURL,
		"iat": now.Unix(),
		"exp": now.Add(assertionTTL).Unix(),
		"jti": uuid.NewString(),
	})
}

// FetchMembers returns every member of the context behind nrpsURL.
func (c *NRPSClient) FetchMembers(ctx context.Context, nrpsURL string) ([]Member, error) {
	if strings.TrimSpace(nrpsURL) == "" {
		return nil, ErrNrpsURLMissing
	}
	token, err := c.ServiceAccessToken(ctx)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	var out []Member
	next := nrpsURL
	for page := 0; next != "" && page < c.maxPages(); page++ {
		container, link, err := c.fetchPage(ctx, next, token)
		if err != nil {
			return nil, err
		}
		out = append(out, container.Members...)
		next = link
	}
	if next != "" {
		return nil, fmt.Errorf("%w: roster exceeds %d pages", ErrNrpsFetch, c.maxPages())
	}
	if out == nil {
		out = []Member{}
	}
	return out, nil
}

func (c *NRPSClient) fetchPage(ctx context.Context, pageURL, token string) (membershipContainer, string, error) {
	var container membershipContainer
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return container, "", fmt.Errorf("%w: %v", ErrNrpsFetch, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", NRPSMediaType)

	res, err := c.client().Do(req)
	if err != nil {
		return container, "", fmt.Errorf("%w: %v", ErrNrpsFetch, err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 4096))
		return container, "", fmt.Errorf("%w: %s", ErrNrpsFetch, res.Status)
	}
	if err := json.NewDecoder(res.Body).Decode(&container); err != nil {
		return container, "", fmt.Errorf("%w: decode: %v", ErrNrpsFetch, err)
	}
	return container, nextLink(res.Header.Values("Link")), nil
}

// IsAuthorized fetches the roster and applies Authorize.
func (c *NRPSClient) IsAuthorized(ctx context.Context, nrpsURL, subject string, allowed RoleSet) (bool, error) {
	members, err := c.FetchMembers(ctx, nrpsURL)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrAuthorizationUnavailable, err)
	}
	return Authorize(members, subject, allowed), nil
}

// Authorize is true when subject has exactly one member record, that record
// is Active, and it carries at least one allowed role.
func Authorize(members []Member, subject string, allowed RoleSet) bool {
	var match *Member
	count := 0
	for i := range members {
		if members[i].UserID == subject {
			count++
			match = &members[i]
		}
	}
	if count != 1 {
		return false
	}
	return match.Status == "Active" && allowed.Intersects(match.Roles)
}

// nextLink extracts the rel="next" target from RFC 8288 Link headers.
func nextLink(values []string) string {
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			segs := strings.Split(part, ";")
			if len(segs) < 2 {
				continue
			}
			target := strings.TrimSpace(segs[0])
			if !strings.HasPrefix(target, "<") || !strings.HasSuffix(target, ">") {
				continue
			}
			for _, p := range segs[1:] {
				p = strings.ReplaceAll(strings.TrimSpace(p), " ", "")
				if p == `rel="next"` || p == "rel=next" {
					return strings.Trim(target, "<>")
				}
			}
		}
	}
	return ""
}

func (c *NRPSClient) client() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: c.timeout()}
}

func (c *NRPSClient) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return 10 * time.Second
}

func (c *NRPSClient) maxPages() int {
	if c.MaxPages > 0 {
		return c.MaxPages
	}
	return maxMemberPages
}

func (c *NRPSClient) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}
