package config

import (
	"strconv"
	"strings"
)

// Getenv looks up an environment variable. os.Getenv in production.
type Getenv func(string) string

func (e Getenv) str(name, def string) string {
	v := strings.TrimSpace(e(name))
	if v == "" {
		return def
	}
	return v
}

func (e Getenv) int64(name string, def int64) int64 {
	v := strings.TrimSpace(e(name))
	if v == "" {
		return def
	}
	out, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return out
}

func (e Getenv) bool(name string, def bool) bool {
	v := strings.TrimSpace(e(name))
	if v == "" {
		return def
	}
	switch strings.ToLower(v) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}

// serviceURLVar is the variable overriding the base URL of a service, e.g.
// SERVICE_PAYMENTS_URL for "payments".
func serviceURLVar(name string) string {
	upper := strings.ToUpper(name)
	upper = strings.NewReplacer("-", "_", ".", "_").Replace(upper)
	return "SERVICE_" + upper + "_URL"
}
