package config

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/require"

	"storefront-gateway/internal/keys"
	"storefront-gateway/internal/policy"
)

const testSecret = "storefront-config-test-secret-0123456789"

func mapEnv(vars map[string]string) Getenv {
	return func(name string) string { return vars[name] }
}

func baseEnv(extra map[string]string) Getenv {
	vars := map[string]string{
		"GATEWAY_CONFIG":  "testdata/gateway.yaml",
		"JWT_SIGNING_KEY": testSecret,
	}
	for k, v := range extra {
		vars[k] = v
	}
	return mapEnv(vars)
}

func Test_Load(t *testing.T) {
	c := require.New(t)

	cfg, err := Load(baseEnv(map[string]string{
		"SERVICE_PAYMENTS_URL":     "http://payments.internal:8080",
		"UPSTREAM_TIMEOUT_SECONDS": "5",
		"LOG_LEVEL":                "DEBUG",
	}))
	c.NoError(err)

	c.Equal(":8080", cfg.ListenAddr)
	c.Equal(":8081", cfg.HealthListenAddr)
	c.Equal("X-User-Id", cfg.IdentityHeader)
	c.Equal(5*time.Second, cfg.UpstreamTimeout)
	c.Equal("debug", cfg.LogLevel)
	c.Equal("json", cfg.LogFormat)
	c.Equal(policy.Public, cfg.DefaultPolicy)

	c.Len(cfg.Services, 6)
	byName := map[string]string{}
	prefixes := map[string]string{}
	for _, s := range cfg.Services {
		byName[s.Name] = s.URL
		prefixes[s.Name] = s.Prefix
	}
	c.Equal("http://payments.internal:8080", byName["payments"])
	c.Equal("http://localhost:5003", byName["orders"])
	c.Equal("/api/orders", prefixes["orders"])
	c.Equal("/api/shipping/", prefixes["shipping"])

	c.Len(cfg.Aggregates, 1)
	c.Equal(policy.Authenticated, cfg.Aggregates[0].Policy)

	table, err := cfg.PolicyTable()
	c.NoError(err)
	c.Equal(policy.AdminOnly, table.PolicyFor("/api/payments/Payment", "get"))
	c.Equal(policy.Authenticated, table.PolicyFor("/api/orders/Order", "POST"))
	c.Equal(policy.Public, table.PolicyFor("/api/orders/Order", "GET"))
	c.Equal(policy.Public, table.PolicyFor("/api/auth/Auth/login", "DELETE"))
}

func Test_ExampleConfigFoldsPathCase(t *testing.T) {
	c := require.New(t)

	cfg, err := Load(baseEnv(map[string]string{"GATEWAY_CONFIG": "../../gateway.example.yaml"}))
	c.NoError(err)
	c.True(cfg.FoldPathCase)

	table, err := cfg.PolicyTable()
	c.NoError(err)
	c.Equal(policy.AdminOnly, table.PolicyFor("/api/payments/Payment", "GET"))
	c.Equal(policy.AdminOnly, table.PolicyFor("/api/payments/payment", "GET"))
	c.Equal(policy.AdminOnly, table.PolicyFor("/API/PAYMENTS/PAYMENT", "GET"))
}

func Test_Load_Errors(t *testing.T) {
	tests := []struct {
		name string
		env  Getenv
	}{
		{"missing file", baseEnv(map[string]string{"GATEWAY_CONFIG": "testdata/absent.yaml"})},
		{"no key material", mapEnv(map[string]string{"GATEWAY_CONFIG": "testdata/gateway.yaml"})},
		{"overlapping rules", baseEnv(map[string]string{"GATEWAY_CONFIG": "testdata/overlap.yaml"})},
		{"aggregate unknown service", baseEnv(map[string]string{"GATEWAY_CONFIG": "testdata/unknown_source.yaml"})},
		{"bad service url", baseEnv(map[string]string{"SERVICE_ORDERS_URL": "orders:5003"})},
		{"issuer check without issuer", baseEnv(map[string]string{"JWT_VALIDATE_ISSUER": "true"})},
		{"audience check without audience", baseEnv(map[string]string{"JWT_VALIDATE_AUDIENCE": "yes"})},
		{"negative skew", baseEnv(map[string]string{"JWT_CLOCK_SKEW_SECONDS": "-5"})},
		{"half tls", baseEnv(map[string]string{"TLS_CERT_FILE": "cert.pem"})},
		{"bad log level", baseEnv(map[string]string{"LOG_LEVEL": "verbose"})},
		{"bad log format", baseEnv(map[string]string{"LOG_FORMAT": "xml"})},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := Load(test.env)
			require.Error(t, err)
		})
	}
}

func Test_EnvHelpers(t *testing.T) {
	c := require.New(t)
	env := mapEnv(map[string]string{
		"N":     " 42 ",
		"BAD_N": "forty",
		"UNIT_N": "30s",
		"B1":    "Yes",
		"B0":    "off",
		"BAD_B": "maybe",
		"S":     "  value ",
	})

	c.Equal(int64(42), env.int64("N", 1))
	c.Equal(int64(1), env.int64("BAD_N", 1))
	c.Equal(int64(1), env.int64("UNIT_N", 1))
	c.Equal(int64(7), env.int64("MISSING", 7))
	c.True(env.bool("B1", false))
	c.False(env.bool("B0", true))
	c.True(env.bool("BAD_B", true))
	c.Equal("value", env.str("S", "x"))
	c.Equal("x", env.str("MISSING", "x"))

	c.Equal("SERVICE_PAYMENTS_URL", serviceURLVar("payments"))
	c.Equal("SERVICE_CATALOG_ADMIN_URL", serviceURLVar("catalog-admin"))
}

func Test_TokenKeyRing_Secret(t *testing.T) {
	c := require.New(t)

	ring, err := Token{SigningKey: testSecret}.KeyRing(context.Background(), http.DefaultClient)
	c.NoError(err)
	c.Equal(1, ring.Len())
	c.Equal([]string{"HS256"}, ring.Algorithms())

	v, err := Token{SigningKey: testSecret, ClockSkew: time.Second}.Validator(context.Background(), http.DefaultClient)
	c.NoError(err)
	c.NotNil(v)

	_, err = Token{SigningKey: "short"}.KeyRing(context.Background(), http.DefaultClient)
	c.Error(err)
}

func Test_TokenKeyRing_OIDCDiscovery(t *testing.T) {
	c := require.New(t)

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	c.NoError(err)
	set := jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
		Key:       &priv.PublicKey,
		KeyID:     "auth-1",
		Algorithm: "RS256",
		Use:       "sig",
	}}}

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"issuer":                 srv.URL,
			"jwks_uri":               srv.URL + "/keys",
			"authorization_endpoint": srv.URL + "/authorize",
			"token_endpoint":         srv.URL + "/token",
		})
	})
	mux.HandleFunc("/keys", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(set)
	})

	ring, err := Token{SigningKey: testSecret, SigningKeyID: "local", OIDCIssuerURL: srv.URL}.
		KeyRing(context.Background(), srv.Client())
	c.NoError(err)
	c.Equal(2, ring.Len())

	key, err := ring.Key("auth-1")
	c.NoError(err)
	c.Equal(keys.SourceJWKS, key.Source)
	c.Equal("RS256", key.Alg)

	_, err = Token{OIDCIssuerURL: srv.URL + "/missing"}.KeyRing(context.Background(), srv.Client())
	c.Error(err)
}
