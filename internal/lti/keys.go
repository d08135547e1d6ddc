package lti

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
)

/*
Signing identity for the tool

A SigningIdentity is the tool's single RSA key pair plus its key identifier.
It is built once at startup and never mutated afterwards. It is used to:

  - sign the NRPS client assertion (RS256, kid header)
  - sign the Deep Linking response sent back to the platform
  - sign and verify the short-lived launch token handed to the frontend
  - publish the public half as a JWKS document at /jwks

Key material comes from PEM files (PKCS#1 or PKCS#8 private key, PKIX or
PKCS#1 public key). For local development an ephemeral key can be generated
instead; tokens signed by it do not survive a restart.
*/

const AlgRS256 = "RS256"

var (
	ErrNoSigningKey = errors.New("keys: signing key not configured")
	ErrKeyPairMatch = errors.New("keys: public key does not match private key")
)

// SigningIdentity holds the process-wide RSA key pair and kid.
type SigningIdentity struct {
	kid  string
	priv *rsa.PrivateKey
}

// NewSigningIdentity wraps an existing key. An empty kid is derived from the
// public modulus so that it is stable across restarts.
func NewSigningIdentity(priv *rsa.PrivateKey, kid string) (*SigningIdentity, error) {
	if priv == nil {
		return nil, ErrNoSigningKey
	}
	if strings.TrimSpace(kid) == "" {
		kid = MakeKID(&priv.PublicKey)
	}
	return &SigningIdentity{kid: kid, priv: priv}, nil
}

// GenerateSigningIdentity creates a fresh RSA key (dev/tests).
func GenerateSigningIdentity(bits int) (*SigningIdentity, error) {
	if bits <= 0 {
		bits = 2048
	}
	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("rsa generate: %w", err)
	}
	return NewSigningIdentity(priv, "")
}

// LoadSigningIdentity reads the private key from privPath and, when pubPath
// is set, checks that the public key on disk belongs to it.
func LoadSigningIdentity(privPath, pubPath, kid string) (*SigningIdentity, error) {
	if strings.TrimSpace(privPath) == "" {
		return nil, ErrNoSigningKey
	}
	raw, err := os.ReadFile(privPath)
	if err != nil {
		return nil, fmt.Errorf("keys: read private key: %w", err)
	}
	priv, err := ParsePrivateKeyPEM(raw)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(pubPath) != "" {
		rawPub, err := os.ReadFile(pubPath)
		if err != nil {
			return nil, fmt.Errorf("keys: read public key: %w", err)
		}
		pub, err := ParsePublicKeyPEM(rawPub)
		if err != nil {
			return nil, err
		}
		if !pub.Equal(&priv.PublicKey) {
			return nil, ErrKeyPairMatch
		}
	}
	return NewSigningIdentity(priv, kid)
}

func (s *SigningIdentity) KID() string { return s.kid }

func (s *SigningIdentity) PublicKey() *rsa.PublicKey { return &s.priv.PublicKey }

// Sign serializes claims as an RS256 JWT carrying this identity's kid.
func (s *SigningIdentity) Sign(claims jwt.Claims) (string, error) {
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = s.kid
	return tok.SignedString(s.priv)
}

// PublicJWKS returns the public key only, as {"keys":[{kty,alg,use,kid,n,e}]}.
func (s *SigningIdentity) PublicJWKS() jose.JSONWebKeySet {
	return jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
		Key:       &s.priv.PublicKey,
		KeyID:     s.kid,
		Algorithm: AlgRS256,
		Use:       "sig",
	}}}
}

// MakeKID hashes modulus and exponent into a short deterministic kid.
func MakeKID(pub *rsa.PublicKey) string {
	h := sha256.New()
	if pub != nil {
		h.Write(pub.N.Bytes())
		h.Write([]byte{byte(pub.E >> 24), byte(pub.E >> 16), byte(pub.E >> 8), byte(pub.E)})
	}
	sum := h.Sum(nil)
	return "rsa-" + hex.EncodeToString(sum[:8])
}

// --------------------------------- PEM ---------------------------------------

func ParsePrivateKeyPEM(b []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(b)
	if block == nil {
		return nil, errors.New("keys: no PEM block in private key")
	}
	if k, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return k, nil
	}
	k, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("keys: parse private key: %w", err)
	}
	rk, ok := k.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("keys: private key is %T, want RSA", k)
	}
	return rk, nil
}

func ParsePublicKeyPEM(b []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(b)
	if block == nil {
		return nil, errors.New("keys: no PEM block in public key")
	}
	if k, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		return k, nil
	}
	k, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("keys: parse public key: %w", err)
	}
	rk, ok := k.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("keys: public key is %T, want RSA", k)
	}
	return rk, nil
}

// EncodePEM returns PKCS#8 private and PKIX public PEM blocks for the key.
func (s *SigningIdentity) EncodePEM() (privPEM, pubPEM []byte, err error) {
	der, err := x509.MarshalPKCS8PrivateKey(s.priv)
	if err != nil {
		return nil, nil, err
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&s.priv.PublicKey)
	if err != nil {
		return nil, nil, err
	}
	privPEM = pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	pubPEM = pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	return privPEM, pubPEM, nil
}
