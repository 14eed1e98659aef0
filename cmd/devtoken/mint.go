package main

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"storefront-gateway/internal/keys"
	"storefront-gateway/internal/token"
)

// mintOptions describes the token to issue. Exactly one of Secret and
// PrivateKeyPEM must be set.
type mintOptions struct {
	Subject       string
	Roles         []string
	Email         string
	Issuer        string
	Audience      []string
	TTL           time.Duration
	Kid           string
	URIRoleClaim  bool
	Secret        string
	PrivateKeyPEM string
}

func mint(opts mintOptions, now time.Time) (string, error) {
	if opts.Subject == "" {
		return "", errors.New("subject is required")
	}
	if opts.TTL <= 0 {
		return "", errors.New("ttl must be positive")
	}
	if (opts.Secret == "") == (opts.PrivateKeyPEM == "") {
		return "", errors.New("exactly one of a signing secret or a private key is required")
	}

	claims := &token.Claims{
		Email: opts.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   opts.Subject,
			Issuer:    opts.Issuer,
			Audience:  jwt.ClaimStrings(opts.Audience),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(opts.TTL)),
		},
	}
	if opts.URIRoleClaim {
		claims.RoleURI = jwt.ClaimStrings(opts.Roles)
	} else {
		claims.Role = jwt.ClaimStrings(opts.Roles)
	}

	method, key, err := signingKey(opts)
	if err != nil {
		return "", err
	}
	tok := jwt.NewWithClaims(method, claims)
	if opts.Kid != "" {
		tok.Header["kid"] = opts.Kid
	}
	return tok.SignedString(key)
}

func signingKey(opts mintOptions) (jwt.SigningMethod, interface{}, error) {
	if opts.Secret != "" {
		if len(opts.Secret) < keys.MinHMACSecretLen {
			return nil, nil, fmt.Errorf("signing secret must be at least %d bytes", keys.MinHMACSecretLen)
		}
		return jwt.SigningMethodHS256, []byte(opts.Secret), nil
	}
	priv, err := decodePrivateKeyFromPEM(opts.PrivateKeyPEM)
	if err != nil {
		return nil, nil, err
	}
	switch k := priv.(type) {
	case ed25519.PrivateKey:
		return jwt.SigningMethodEdDSA, k, nil
	case *rsa.PrivateKey:
		return jwt.SigningMethodRS256, k, nil
	case *ecdsa.PrivateKey:
		switch k.Curve {
		case elliptic.P256():
			return jwt.SigningMethodES256, k, nil
		case elliptic.P384():
			return jwt.SigningMethodES384, k, nil
		case elliptic.P521():
			return jwt.SigningMethodES512, k, nil
		}
		return nil, nil, fmt.Errorf("unsupported EC curve %s", k.Curve.Params().Name)
	default:
		return nil, nil, fmt.Errorf("unsupported private key type: %T", priv)
	}
}

func decodePrivateKeyFromPEM(pemText string) (crypto.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemText))
	if block == nil {
		return nil, errors.New("failed to decode PEM")
	}
	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	key, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return key, nil
}
