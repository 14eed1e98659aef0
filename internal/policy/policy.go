// Package policy maps gateway routes to the authorization level they require.
package policy

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Policy is the authorization level required to access a route.
type Policy string

const (
	Public        Policy = "public"
	Authenticated Policy = "authenticated"
	AdminOnly     Policy = "admin"
)

// Parse reads a policy name. Names are case-insensitive and a few common
// spellings are accepted.
func Parse(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "public", "anonymous":
		return Public, nil
	case "authenticated", "auth", "user":
		return Authenticated, nil
	case "admin", "adminonly", "admin_only", "admin-only":
		return AdminOnly, nil
	default:
		return "", fmt.Errorf("unknown policy %q", s)
	}
}

// IsValid reports whether p is one of the known policies.
func (p Policy) IsValid() bool {
	switch p {
	case Public, Authenticated, AdminOnly:
		return true
	default:
		return false
	}
}

func (p Policy) String() string {
	return string(p)
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (p *Policy) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := Parse(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*p = parsed
	return nil
}
