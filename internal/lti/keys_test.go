package lti

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSigningIdentityPEMRoundTrip(t *testing.T) {
	id, err := GenerateSigningIdentity(2048)
	require.NoError(t, err)
	privPEM, pubPEM, err := id.EncodePEM()
	require.NoError(t, err)

	dir := t.TempDir()
	privPath := filepath.Join(dir, "private.key")
	pubPath := filepath.Join(dir, "public.key")
	require.NoError(t, os.WriteFile(privPath, privPEM, 0o600))
	require.NoError(t, os.WriteFile(pubPath, pubPEM, 0o644))

	loaded, err := LoadSigningIdentity(privPath, pubPath, "")
	require.NoError(t, err)
	assert.Equal(t, id.KID(), loaded.KID(), "kid is derived from the key")
	assert.True(t, loaded.PublicKey().Equal(id.PublicKey()))

	named, err := LoadSigningIdentity(privPath, "", "tool-key")
	require.NoError(t, err)
	assert.Equal(t, "tool-key", named.KID())
}

func TestLoadSigningIdentityMismatchedPair(t *testing.T) {
	a, err := GenerateSigningIdentity(2048)
	require.NoError(t, err)
	b, err := GenerateSigningIdentity(2048)
	require.NoError(t, err)
	privPEM, _, err := a.EncodePEM()
	require.NoError(t, err)
	_, pubPEM, err := b.EncodePEM()
	require.NoError(t, err)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.key"), privPEM, 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.pub"), pubPEM, 0o644))

	_, err = LoadSigningIdentity(filepath.Join(dir, "a.key"), filepath.Join(dir, "b.pub"), "")
	require.ErrorIs(t, err, ErrKeyPairMatch)

	_, err = LoadSigningIdentity("", "", "")
	require.ErrorIs(t, err, ErrNoSigningKey)
}

func TestPublicJWKSShape(t *testing.T) {
	id, err := GenerateSigningIdentity(2048)
	require.NoError(t, err)

	b, err := json.Marshal(id.PublicJWKS())
	require.NoError(t, err)
	var doc struct {
		Keys []map[string]any `json:"keys"`
	}
	require.NoError(t, json.Unmarshal(b, &doc))
	require.Len(t, doc.Keys, 1)

	k := doc.Keys[0]
	assert.Equal(t, "RSA", k["kty"])
	assert.Equal(t, "RS256", k["alg"])
	assert.Equal(t, "sig", k["use"])
	assert.Equal(t, id.KID(), k["kid"])
	assert.Equal(t, "AQAB", k["e"])
	assert.NotEmpty(t, k["n"])
	assert.NotContains(t, k, "d", "private exponent must not be published")
}

func TestSignSetsKID(t *testing.T) {
	id, err := GenerateSigningIdentity(2048)
	require.NoError(t, err)
	raw, err := id.Sign(jwt.MapClaims{"sub": "x"})
	require.NoError(t, err)

	tok, _, err := jwt.NewParser().ParseUnverified(raw, jwt.MapClaims{})
	require.NoError(t, err)
	assert.Equal(t, id.KID(), tok.Header["kid"])
	assert.Equal(t, "RS256", tok.Header["alg"])
}
