package proxy

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Service is a backend the gateway forwards to. Requests under Prefix are
// sent to URL with the prefix removed.
type Service struct {
	Name   string `yaml:"name"`
	Prefix string `yaml:"prefix"`
	URL    string `yaml:"url"`
}

// DefaultPrefix is the path prefix a service gets when none is configured.
func DefaultPrefix(name string) string {
	return "/api/" + name
}

// Target is where one request is sent.
type Target struct {
	Service string
	URL     *url.URL
}

type route struct {
	name   string
	prefix string
	base   *url.URL
}

// routeSet is immutable once compiled.
type routeSet struct {
	routes []route // longest prefix first
	byName map[string]*url.URL
}

// ValidateServices reports whether services form a usable service map.
func ValidateServices(services []Service) error {
	_, err := compile(services)
	return err
}

func compile(services []Service) (*routeSet, error) {
	rs := &routeSet{byName: make(map[string]*url.URL)}
	prefixes := map[string]string{}
	for _, s := range services {
		name := strings.TrimSpace(s.Name)
		if name == "" {
			return nil, errors.New("service without a name")
		}
		if _, dup := rs.byName[name]; dup {
			return nil, fmt.Errorf("service %q defined twice", name)
		}
		base, err := url.Parse(strings.TrimSpace(s.URL))
		if err != nil {
			return nil, fmt.Errorf("service %q: invalid url: %w", name, err)
		}
		if (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
			return nil, fmt.Errorf("service %q: url %q must be absolute http(s)", name, s.URL)
		}
		prefix := strings.TrimSpace(s.Prefix)
		if prefix == "" {
			prefix = DefaultPrefix(name)
		}
		if !strings.HasPrefix(prefix, "/") {
			return nil, fmt.Errorf("service %q: prefix %q must start with /", name, prefix)
		}
		if prefix != "/" {
			prefix = strings.TrimRight(prefix, "/")
		}
		if other, dup := prefixes[prefix]; dup {
			return nil, fmt.Errorf("services %q and %q share prefix %s", other, name, prefix)
		}
		prefixes[prefix] = name
		rs.byName[name] = base
		rs.routes = append(rs.routes, route{name: name, prefix: prefix, base: base})
	}
	sort.SliceStable(rs.routes, func(i, j int) bool {
		return len(rs.routes[i].prefix) > len(rs.routes[j].prefix)
	})
	return rs, nil
}

// resolve matches p against prefixes on path segment boundaries.
func (rs *routeSet) resolve(p string, rawQuery string) (Target, bool) {
	for _, r := range rs.routes {
		var rest string
		switch {
		case r.prefix == "/":
			rest = p
		case p == r.prefix:
			rest = "/"
		case strings.HasPrefix(p, r.prefix+"/"):
			rest = p[len(r.prefix):]
		default:
			continue
		}
		u := *r.base
		u.Path = joinPath(r.base.Path, rest)
		u.RawPath = ""
		u.RawQuery = joinQuery(r.base.RawQuery, rawQuery)
		return Target{Service: r.name, URL: &u}, true
	}
	return Target{}, false
}

func joinPath(base, rest string) string {
	if base == "" || base == "/" {
		return rest
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(rest, "/")
}

func joinQuery(a, b string) string {
	if a == "" || b == "" {
		return a + b
	}
	return a + "&" + b
}
