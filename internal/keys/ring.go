// Package keys holds the verification key material the gateway checks bearer
// token signatures against.
package keys

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// MinHMACSecretLen is the shortest accepted HMAC secret (256 bits).
const MinHMACSecretLen = 32

// Source records where a key was loaded from.
type Source string

const (
	SourceSecret Source = "secret" // shared HMAC secret
	SourcePEM    Source = "pem"    // PEM public key or certificate
	SourceJWKS   Source = "jwks"   // remote JSON Web Key Set
)

// VerificationKey is a single key able to verify token signatures.
type VerificationKey struct {
	Kid    string
	Alg    string      // JWS algorithm, e.g. HS256, RS256, ES256, EdDSA
	Key    interface{} // []byte, *rsa.PublicKey, *ecdsa.PublicKey or ed25519.PublicKey
	Source Source
}

// Ring is the set of keys tokens are verified against. A Ring is filled once
// at startup (or on reload) and never mutated afterwards, so concurrent reads
// need no locking.
type Ring struct {
	keys  map[string]*VerificationKey
	order []string
}

// NewRing creates a key ring holding keys.
func NewRing(keys ...*VerificationKey) (*Ring, error) {
	r := &Ring{keys: make(map[string]*VerificationKey)}
	for _, k := range keys {
		if err := r.add(k); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Ring) add(key *VerificationKey) error {
	if key == nil || key.Key == nil {
		return errors.New("key material is empty")
	}
	if key.Alg == "" {
		return fmt.Errorf("key %q has no algorithm", key.Kid)
	}
	if _, exists := r.keys[key.Kid]; exists {
		return fmt.Errorf("key with kid %q already exists", key.Kid)
	}
	r.keys[key.Kid] = key
	r.order = append(r.order, key.Kid)
	return nil
}

// Len returns the number of keys in the ring.
func (r *Ring) Len() int {
	return len(r.keys)
}

// Key returns a key by kid. A token without kid is accepted only when the
// ring holds exactly one key.
func (r *Ring) Key(kid string) (*VerificationKey, error) {
	if kid == "" {
		if len(r.order) == 1 {
			return r.keys[r.order[0]], nil
		}
		return nil, errors.New("token has no kid and the key ring holds several keys")
	}
	key, ok := r.keys[kid]
	if !ok {
		return nil, fmt.Errorf("kid not found: %s", kid)
	}
	return key, nil
}

// Algorithms returns the distinct algorithms of the keys in the ring.
func (r *Ring) Algorithms() []string {
	seen := map[string]bool{}
	var algs []string
	for _, k := range r.keys {
		if !seen[k.Alg] {
			seen[k.Alg] = true
			algs = append(algs, k.Alg)
		}
	}
	sort.Strings(algs)
	return algs
}

// Keyfunc resolves the verification key for a parsed token. The token's alg
// header must match the algorithm the key was registered with.
func (r *Ring) Keyfunc() jwt.Keyfunc {
	return func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		key, err := r.Key(strings.TrimSpace(kid))
		if err != nil {
			return nil, err
		}
		if t.Method == nil || t.Method.Alg() != key.Alg {
			return nil, fmt.Errorf("token alg does not match key %q (%s)", key.Kid, key.Alg)
		}
		return key.Key, nil
	}
}

// HMACKey builds an HS256 key from a shared secret.
func HMACKey(kid, secret string) (*VerificationKey, error) {
	if len(secret) < MinHMACSecretLen {
		return nil, fmt.Errorf("hmac secret must be at least %d bytes", MinHMACSecretLen)
	}
	return &VerificationKey{
		Kid:    kid,
		Alg:    jwt.SigningMethodHS256.Alg(),
		Key:    []byte(secret),
		Source: SourceSecret,
	}, nil
}

// ParsePublicKeyPEM builds a key from a PEM encoded PKIX public key or
// certificate.
func ParsePublicKeyPEM(kid, pemText string) (*VerificationKey, error) {
	block, _ := pem.Decode([]byte(strings.TrimSpace(pemText)))
	if block == nil {
		return nil, errors.New("failed to decode PEM")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		// Some keys may be in certificate form.
		cert, certErr := x509.ParseCertificate(block.Bytes)
		if certErr != nil {
			return nil, err
		}
		pub = cert.PublicKey
	}
	alg, err := algorithmFor(pub)
	if err != nil {
		return nil, err
	}
	return &VerificationKey{Kid: kid, Alg: alg, Key: pub, Source: SourcePEM}, nil
}

// algorithmFor picks the JWS algorithm matching a public key type.
func algorithmFor(pub interface{}) (string, error) {
	switch k := pub.(type) {
	case ed25519.PublicKey:
		return jwt.SigningMethodEdDSA.Alg(), nil
	case *rsa.PublicKey:
		return jwt.SigningMethodRS256.Alg(), nil
	case *ecdsa.PublicKey:
		switch k.Curve {
		case elliptic.P256():
			return jwt.SigningMethodES256.Alg(), nil
		case elliptic.P384():
			return jwt.SigningMethodES384.Alg(), nil
		case elliptic.P521():
			return jwt.SigningMethodES512.Alg(), nil
		default:
			return "", fmt.Errorf("unsupported EC curve")
		}
	default:
		return "", fmt.Errorf("unsupported public key type: %T", pub)
	}
}
