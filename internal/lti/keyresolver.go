package lti

import (
	"context"
	"crypto/rsa"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwk"
)

// KeyResolver returns the platform's verification key for a kid.
type KeyResolver interface {
	ResolveKey(ctx context.Context, kid string) (*rsa.PublicKey, error)
}

// RemoteKeyResolver fetches the platform JWKS on every call. Nothing is
// cached, so a key rotated on the platform is seen by the next launch.
type RemoteKeyResolver struct {
	URL        string
	HTTPClient *http.Client
	// Timeout bounds one fetch (default 10s).
	Timeout time.Duration
}

func NewRemoteKeyResolver(jwksURL string, timeout time.Duration) *RemoteKeyResolver {
	return &RemoteKeyResolver{
		URL:        jwksURL,
		HTTPClient: &http.Client{Timeout: timeout},
		Timeout:    timeout,
	}
}

func (r *RemoteKeyResolver) ResolveKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	if strings.TrimSpace(kid) == "" {
		return nil, fmt.Errorf("%w: token header has no kid", ErrKeyNotFound)
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout())
	defer cancel()

	set, err := jwk.Fetch(ctx, r.URL, jwk.WithHTTPClient(r.client()))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRemoteFetch, err)
	}
	key, found := set.LookupKeyID(kid)
	if !found {
		return nil, fmt.Errorf("%w: %q", ErrKeyNotFound, kid)
	}
	var raw any
	if err := jwk.Export(key, &raw); err != nil {
		return nil, fmt.Errorf("%w: export %q: %v", ErrRemoteFetch, kid, err)
	}
	pub, ok := raw.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: key %q is %T, want RSA", ErrKeyNotFound, kid, raw)
	}
	return pub, nil
}

func (r *RemoteKeyResolver) client() *http.Client {
	if r.HTTPClient != nil {
		return r.HTTPClient
	}
	return &http.Client{Timeout: r.timeout()}
}

func (r *RemoteKeyResolver) timeout() time.Duration {
	if r.Timeout > 0 {
		return r.Timeout
	}
	return 10 * time.Second
}
