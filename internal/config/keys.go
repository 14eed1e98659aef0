package config

import (
	"context"
	"fmt"
	"net/http"

	"storefront-gateway/internal/keys"
	"storefront-gateway/internal/token"
)

// KeyRing loads every configured verification key. Remote key sets (JWKS
// URL, OIDC discovery) are fetched with client.
func (t Token) KeyRing(ctx context.Context, client *http.Client) (*keys.Ring, error) {
	var all []*keys.VerificationKey
	if t.SigningKey != "" {
		k, err := keys.HMACKey(t.SigningKeyID, t.SigningKey)
		if err != nil {
			return nil, fmt.Errorf("JWT_SIGNING_KEY: %w", err)
		}
		all = append(all, k)
	}
	if t.PublicKeyPEM != "" {
		k, err := keys.ParsePublicKeyPEM(t.PublicKeyID, t.PublicKeyPEM)
		if err != nil {
			return nil, fmt.Errorf("JWT_PUBLIC_KEY_PEM: %w", err)
		}
		all = append(all, k)
	}

	jwksURL := t.JWKSURL
	if jwksURL == "" && t.OIDCIssuerURL != "" {
		discovered, err := keys.DiscoverJWKSURL(ctx, client, t.OIDCIssuerURL)
		if err != nil {
			return nil, err
		}
		jwksURL = discovered
	}
	if jwksURL != "" {
		remote, err := keys.FetchJWKS(ctx, client, jwksURL)
		if err != nil {
			return nil, err
		}
		all = append(all, remote...)
	}
	return keys.NewRing(all...)
}

// Validator builds the token validator for the configured keys and claim
// checks.
func (t Token) Validator(ctx context.Context, client *http.Client) (*token.Validator, error) {
	ring, err := t.KeyRing(ctx, client)
	if err != nil {
		return nil, err
	}
	return token.New(ring, token.Config{
		Issuer:           t.Issuer,
		Audience:         t.Audience,
		ValidateIssuer:   t.ValidateIssuer,
		ValidateAudience: t.ValidateAudience,
		ClockSkew:        t.ClockSkew,
	})
}
