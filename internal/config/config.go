// Package config loads the gateway configuration from the environment and a
// YAML file.
//
// Process settings (listen addresses, key material, timeouts) come from
// environment variables, optionally seeded from a .env file. Routing data
// (policy rules, services, aggregates) lives in the file named by
// GATEWAY_CONFIG, default gateway.yaml.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"storefront-gateway/internal/aggregate"
	"storefront-gateway/internal/identity"
	"storefront-gateway/internal/policy"
	"storefront-gateway/internal/proxy"
)

const (
	defaultConfigPath      = "gateway.yaml"
	defaultListenAddr      = ":8080"
	defaultHealthAddr      = ":8081"
	defaultUpstreamTimeout = 30 * time.Second
	defaultLogLevel        = "info"
	defaultLogFormat       = "json"
)

// File is the YAML document.
type File struct {
	// DefaultPolicy applies to requests no rule matches. Empty means public.
	DefaultPolicy policy.Policy     `yaml:"default_policy"`
	FoldPathCase  bool              `yaml:"fold_path_case"`
	Routes        []policy.Rule     `yaml:"routes"`
	Services      []proxy.Service   `yaml:"services"`
	Aggregates    []aggregate.Route `yaml:"aggregates"`
}

// Token holds the credential validation settings.
type Token struct {
	SigningKey       string
	SigningKeyID     string
	PublicKeyPEM     string
	PublicKeyID      string
	JWKSURL          string
	OIDCIssuerURL    string
	Issuer           string
	Audience         string
	ValidateIssuer   bool
	ValidateAudience bool
	ClockSkew        time.Duration
}

// Config is the complete gateway configuration.
type Config struct {
	Path string

	ListenAddr          string
	HealthListenAddr    string
	IdentityHeader      string
	UpstreamTimeout     time.Duration
	ReadyProbeUpstreams bool

	TLSCertFile          string
	TLSKeyFile           string
	TLSClientCAFile      string
	SPIFFEEndpointSocket string

	LogLevel  string
	LogFormat string

	Token Token
	File
}

// Load reads the environment through getenv and the YAML file it points to,
// validates the result and fills in defaults.
func Load(getenv Getenv) (*Config, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	path := getenv.str("GATEWAY_CONFIG", defaultConfigPath)

	file, err := LoadFile(path)
	if err != nil {
		return nil, err
	}

	c := &Config{
		Path:                 path,
		ListenAddr:           getenv.str("LISTEN_ADDR", defaultListenAddr),
		HealthListenAddr:     getenv.str("HEALTH_LISTEN_ADDR", defaultHealthAddr),
		IdentityHeader:       getenv.str("IDENTITY_HEADER", identity.DefaultHeader),
		UpstreamTimeout:      time.Duration(getenv.int64("UPSTREAM_TIMEOUT_SECONDS", 0)) * time.Second,
		ReadyProbeUpstreams:  getenv.bool("READY_PROBE_UPSTREAMS", false),
		TLSCertFile:          getenv.str("TLS_CERT_FILE", ""),
		TLSKeyFile:           getenv.str("TLS_KEY_FILE", ""),
		TLSClientCAFile:      getenv.str("TLS_CLIENT_CA_FILE", ""),
		SPIFFEEndpointSocket: getenv.str("SPIFFE_ENDPOINT_SOCKET", ""),
		LogLevel:             strings.ToLower(getenv.str("LOG_LEVEL", "")),
		LogFormat:            strings.ToLower(getenv.str("LOG_FORMAT", "")),
		Token: Token{
			SigningKey:       getenv.str("JWT_SIGNING_KEY", ""),
			SigningKeyID:     getenv.str("JWT_SIGNING_KEY_ID", ""),
			PublicKeyPEM:     getenv.str("JWT_PUBLIC_KEY_PEM", ""),
			PublicKeyID:      getenv.str("JWT_PUBLIC_KEY_ID", ""),
			JWKSURL:          getenv.str("JWT_JWKS_URL", ""),
			OIDCIssuerURL:    getenv.str("OIDC_ISSUER_URL", ""),
			Issuer:           getenv.str("JWT_ISSUER", ""),
			Audience:         getenv.str("JWT_AUDIENCE", ""),
			ValidateIssuer:   getenv.bool("JWT_VALIDATE_ISSUER", false),
			ValidateAudience: getenv.bool("JWT_VALIDATE_AUDIENCE", false),
			ClockSkew:        time.Duration(getenv.int64("JWT_CLOCK_SKEW_SECONDS", 0)) * time.Second,
		},
		File: file,
	}
	for i := range c.Services {
		if u := getenv.str(serviceURLVar(c.Services[i].Name), ""); u != "" {
			c.Services[i].URL = u
		}
	}

	if err := c.validate(); err != nil {
		return nil, err
	}
	c.hydrateDefaults()
	return c, nil
}

// LoadFile parses the YAML document at path.
func LoadFile(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("read config %s: %w", path, err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return File{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return f, nil
}

func (c *Config) validate() error {
	t := c.Token
	if t.SigningKey == "" && t.PublicKeyPEM == "" && t.JWKSURL == "" && t.OIDCIssuerURL == "" {
		return errors.New("no token verification key configured: set JWT_SIGNING_KEY, JWT_PUBLIC_KEY_PEM, JWT_JWKS_URL or OIDC_ISSUER_URL")
	}
	if t.ValidateIssuer && t.Issuer == "" && t.OIDCIssuerURL == "" {
		return errors.New("JWT_VALIDATE_ISSUER requires JWT_ISSUER")
	}
	if t.ValidateAudience && t.Audience == "" {
		return errors.New("JWT_VALIDATE_AUDIENCE requires JWT_AUDIENCE")
	}
	if t.ClockSkew < 0 {
		return errors.New("JWT_CLOCK_SKEW_SECONDS must not be negative")
	}
	if c.UpstreamTimeout < 0 {
		return errors.New("UPSTREAM_TIMEOUT_SECONDS must not be negative")
	}
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		return errors.New("TLS_CERT_FILE and TLS_KEY_FILE must be set together")
	}
	if c.TLSClientCAFile != "" && c.TLSCertFile == "" {
		return errors.New("TLS_CLIENT_CA_FILE requires TLS_CERT_FILE")
	}
	if c.TLSCertFile != "" && c.SPIFFEEndpointSocket != "" {
		return errors.New("TLS_CERT_FILE and SPIFFE_ENDPOINT_SOCKET are mutually exclusive")
	}
	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.LogLevel)
	}
	switch c.LogFormat {
	case "", "json", "console":
	default:
		return fmt.Errorf("invalid log format: %s", c.LogFormat)
	}
	return c.File.Validate()
}

// Validate checks the parts of the file that can be checked on their own:
// the policy table compiles and every aggregate references a known service.
func (f File) Validate() error {
	if f.DefaultPolicy != "" && !f.DefaultPolicy.IsValid() {
		return fmt.Errorf("unknown default_policy %q", f.DefaultPolicy)
	}
	if _, err := f.PolicyTable(); err != nil {
		return err
	}
	if len(f.Services) == 0 {
		return errors.New("no services configured")
	}
	if err := proxy.ValidateServices(f.Services); err != nil {
		return err
	}
	known := make(map[string]bool, len(f.Services))
	for _, s := range f.Services {
		known[s.Name] = true
	}
	for _, a := range f.Aggregates {
		if err := a.Validate(); err != nil {
			return err
		}
		for _, src := range a.Sources {
			if !known[src.Service] {
				return fmt.Errorf("aggregate %s: unknown service %q", a.Route, src.Service)
			}
		}
	}
	return nil
}

// PolicyTable compiles the routes section.
func (f File) PolicyTable() (*policy.Table, error) {
	return policy.NewTable(f.Routes, policy.Options{
		Default:      f.DefaultPolicy,
		FoldPathCase: f.FoldPathCase,
	})
}

func (c *Config) hydrateDefaults() {
	if c.UpstreamTimeout == 0 {
		c.UpstreamTimeout = defaultUpstreamTimeout
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	if c.LogFormat == "" {
		c.LogFormat = defaultLogFormat
	}
	if c.DefaultPolicy == "" {
		c.DefaultPolicy = policy.Public
	}
	if c.Token.ValidateIssuer && c.Token.Issuer == "" {
		c.Token.Issuer = c.Token.OIDCIssuerURL
	}
	for i := range c.Services {
		if c.Services[i].Prefix == "" {
			c.Services[i].Prefix = proxy.DefaultPrefix(c.Services[i].Name)
		}
	}
	for i := range c.Aggregates {
		if c.Aggregates[i].Policy == "" {
			c.Aggregates[i].Policy = policy.Authenticated
		}
	}
}
