package keys

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/go-jose/go-jose/v4"
)

// ParseJWKS converts a JSON Web Key Set into verification keys. Keys without
// kid, encryption keys and symmetric keys are skipped.
func ParseJWKS(data []byte) ([]*VerificationKey, error) {
	var set jose.JSONWebKeySet
	if err := json.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("decode jwks: %w", err)
	}
	var out []*VerificationKey
	for _, k := range set.Keys {
		if k.Key == nil || (k.Use != "" && k.Use != "sig") {
			continue
		}
		kid := strings.TrimSpace(k.KeyID)
		if kid == "" {
			continue
		}
		if !k.IsPublic() {
			k = k.Public()
			if k.Key == nil {
				continue
			}
		}
		alg := k.Algorithm
		if alg == "" {
			derived, err := algorithmFor(k.Key)
			if err != nil {
				continue
			}
			alg = derived
		}
		out = append(out, &VerificationKey{Kid: kid, Alg: alg, Key: k.Key, Source: SourceJWKS})
	}
	if len(out) == 0 {
		return nil, errors.New("jwks contained no usable keys")
	}
	return out, nil
}

// FetchJWKS downloads and parses the key set published at url.
func FetchJWKS(ctx context.Context, client *http.Client, url string) ([]*VerificationKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("jwks status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return ParseJWKS(body)
}

// DiscoverJWKSURL reads the jwks_uri of an OpenID Connect issuer from its
// discovery document.
func DiscoverJWKSURL(ctx context.Context, client *http.Client, issuerURL string) (string, error) {
	provider, err := oidc.NewProvider(oidc.ClientContext(ctx, client), issuerURL)
	if err != nil {
		return "", fmt.Errorf("failed to create OIDC provider: %w", err)
	}
	var meta struct {
		JWKSURL string `json:"jwks_uri"`
	}
	if err := provider.Claims(&meta); err != nil {
		return "", fmt.Errorf("failed to read discovery document: %w", err)
	}
	if meta.JWKSURL == "" {
		return "", errors.New("discovery document has no jwks_uri")
	}
	return meta.JWKSURL, nil
}
