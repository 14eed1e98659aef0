// Package token validates the bearer credentials presented to the gateway and
// turns them into an identity.
package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"storefront-gateway/internal/identity"
	"storefront-gateway/internal/keys"
)

// RoleClaimURI is the role claim name emitted by ASP.NET identity tokens.
const RoleClaimURI = "http://schemas.microsoft.com/ws/2008/06/identity/claims/role"

const bearerPrefix = "Bearer "

// Claims are the fields read from a credential.
type Claims struct {
	Role    jwt.ClaimStrings `json:"role,omitempty"`
	RoleURI jwt.ClaimStrings `json:"http://schemas.microsoft.com/ws/2008/06/identity/claims/role,omitempty"`
	Email   string           `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Roles merges the short and the URI role claims.
func (c *Claims) Roles() []string {
	var out []string
	for _, r := range append(append([]string{}, c.Role...), c.RoleURI...) {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}

// Config controls claim checks beyond the signature.
type Config struct {
	Issuer           string
	Audience         string
	ValidateIssuer   bool
	ValidateAudience bool
	// ClockSkew extends the expiry instant. Zero means strict.
	ClockSkew time.Duration
}

// Option customises a Validator.
type Option func(*Validator)

// WithClock replaces the wall clock used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(v *Validator) { v.now = now }
}

// Validator checks credentials against a key ring. It holds no mutable state
// and is safe for concurrent use.
type Validator struct {
	ring   *keys.Ring
	cfg    Config
	parser *jwt.Parser
	now    func() time.Time
}

// New builds a validator over ring.
func New(ring *keys.Ring, cfg Config, opts ...Option) (*Validator, error) {
	if ring == nil || ring.Len() == 0 {
		return nil, errors.New("no verification keys configured")
	}
	if cfg.ValidateIssuer && cfg.Issuer == "" {
		return nil, errors.New("issuer validation enabled without an issuer")
	}
	if cfg.ValidateAudience && cfg.Audience == "" {
		return nil, errors.New("audience validation enabled without an audience")
	}
	if cfg.ClockSkew < 0 {
		return nil, errors.New("clock skew must not be negative")
	}
	v := &Validator{
		ring: ring,
		cfg:  cfg,
		// Claims are checked below so that the order and the expiry
		// boundary are ours, not the library's.
		parser: jwt.NewParser(
			jwt.WithValidMethods(ring.Algorithms()),
			jwt.WithoutClaimsValidation(),
		),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// ExtractBearer returns the token carried by an Authorization header value.
func ExtractBearer(header string) (string, error) {
	if len(header) < len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return "", fmt.Errorf("%w: authorization header is not a bearer credential", ErrMalformedCredential)
	}
	raw := strings.TrimSpace(header[len(bearerPrefix):])
	if raw == "" {
		return "", fmt.Errorf("%w: empty bearer token", ErrMalformedCredential)
	}
	return raw, nil
}

// Validate verifies raw and returns the identity it asserts. Checks run in
// order: signature, expiry, issuer, audience.
func (v *Validator) Validate(raw string) (*identity.Identity, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty token", ErrMalformedCredential)
	}

	claims := &Claims{}
	if _, err := v.parser.ParseWithClaims(raw, claims, v.ring.Keyfunc()); err != nil {
		if errors.Is(err, jwt.ErrTokenMalformed) {
			return nil, fmt.Errorf("%w: %v", ErrMalformedCredential, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	if claims.ExpiresAt == nil {
		return nil, fmt.Errorf("%w: missing exp", ErrExpired)
	}
	now := v.now().UTC()
	if !now.Before(claims.ExpiresAt.Time.Add(v.cfg.ClockSkew)) {
		return nil, fmt.Errorf("%w: expired at %s", ErrExpired, claims.ExpiresAt.Time.UTC().Format(time.RFC3339))
	}

	if v.cfg.ValidateIssuer && claims.Issuer != v.cfg.Issuer {
		return nil, fmt.Errorf("%w: got %q", ErrIssuerMismatch, claims.Issuer)
	}
	if v.cfg.ValidateAudience && !contains(claims.Audience, v.cfg.Audience) {
		return nil, fmt.Errorf("%w: got %v", ErrAudienceMismatch, []string(claims.Audience))
	}

	if strings.TrimSpace(claims.Subject) == "" {
		return nil, fmt.Errorf("%w: missing sub", ErrMalformedCredential)
	}

	return &identity.Identity{
		Subject: claims.Subject,
		Roles:   claims.Roles(),
		Email:   claims.Email,
	}, nil
}

func contains(audiences jwt.ClaimStrings, audience string) bool {
	for _, aud := range audiences {
		if aud == audience {
			return true
		}
	}
	return false
}
