// Package aggregate serves composite endpoints that fan a request out to
// several backend services and join their JSON answers into one document.
package aggregate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"storefront-gateway/internal/identity"
	"storefront-gateway/internal/policy"
	"storefront-gateway/internal/respond"
)

// Source is one backend call of an aggregate. Path may reference route
// parameters as {name}.
type Source struct {
	Key     string `yaml:"key"`
	Service string `yaml:"service"`
	Path    string `yaml:"path"`
}

// Route is a composite endpoint. Route uses chi pattern syntax, for example
// /api/gateway/{userId}.
type Route struct {
	Route   string        `yaml:"route"`
	Policy  policy.Policy `yaml:"policy"`
	Sources []Source      `yaml:"sources"`
}

// Validate checks the route is well formed.
func (rt Route) Validate() error {
	if !strings.HasPrefix(rt.Route, "/") {
		return fmt.Errorf("aggregate route %q must start with /", rt.Route)
	}
	if rt.Policy != "" && !rt.Policy.IsValid() {
		return fmt.Errorf("aggregate %s: unknown policy %q", rt.Route, rt.Policy)
	}
	if len(rt.Sources) == 0 {
		return fmt.Errorf("aggregate %s: no sources", rt.Route)
	}
	params := map[string]bool{}
	for _, p := range placeholders(rt.Route) {
		params[p] = true
	}
	keys := map[string]bool{}
	for _, s := range rt.Sources {
		if s.Key == "" || s.Service == "" {
			return fmt.Errorf("aggregate %s: source needs key and service", rt.Route)
		}
		if keys[s.Key] {
			return fmt.Errorf("aggregate %s: duplicate key %q", rt.Route, s.Key)
		}
		keys[s.Key] = true
		if !strings.HasPrefix(s.Path, "/") {
			return fmt.Errorf("aggregate %s: source %s path must start with /", rt.Route, s.Key)
		}
		for _, p := range placeholders(s.Path) {
			if !params[p] {
				return fmt.Errorf("aggregate %s: source %s uses unknown parameter {%s}", rt.Route, s.Key, p)
			}
		}
	}
	return nil
}

// Services resolves a service name to its base URL.
type Services interface {
	ServiceURL(name string) (*url.URL, bool)
}

// Handler serves one aggregate Route. It expects the request to have passed
// the gateway pipeline already, so the identity is in the context.
type Handler struct {
	route          Route
	client         *Client
	services       Services
	identityHeader string
	logger         zerolog.Logger
}

// NewHandler builds a Handler for rt.
func NewHandler(rt Route, client *Client, services Services, identityHeader string, logger zerolog.Logger) (*Handler, error) {
	if err := rt.Validate(); err != nil {
		return nil, err
	}
	if identityHeader == "" {
		identityHeader = identity.DefaultHeader
	}
	return &Handler{
		route:          rt,
		client:         client,
		services:       services,
		identityHeader: identityHeader,
		logger:         logger,
	}, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	header := http.Header{}
	id, _ := identity.FromContext(r.Context())
	identity.Inject(header, h.identityHeader, id)
	if rid := r.Header.Get(respond.RequestIDHeader); rid != "" {
		header.Set(respond.RequestIDHeader, rid)
	}

	var mu sync.Mutex
	result := make(map[string]json.RawMessage, len(h.route.Sources))

	g, ctx := errgroup.WithContext(r.Context())
	for _, src := range h.route.Sources {
		src := src
		g.Go(func() error {
			base, ok := h.services.ServiceURL(src.Service)
			if !ok {
				return fmt.Errorf("source %s: unknown service %q", src.Key, src.Service)
			}
			doc, err := h.client.GetJSON(ctx, base, expand(src.Path, r), header)
			if err != nil {
				return fmt.Errorf("source %s: %w", src.Key, err)
			}
			mu.Lock()
			result[src.Key] = doc
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		h.logger.Warn().
			Err(err).
			Str("route", h.route.Route).
			Str("request_id", r.Header.Get(respond.RequestIDHeader)).
			Msg("aggregate call failed")
		status := http.StatusBadGateway
		if errors.Is(r.Context().Err(), context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		}
		respond.Error(w, status, "upstream_unavailable", "upstream service unavailable")
		return
	}
	respond.JSON(w, http.StatusOK, result)
}

// expand replaces {name} with the escaped route parameter of r.
func expand(pattern string, r *http.Request) string {
	var b strings.Builder
	for {
		open := strings.IndexByte(pattern, '{')
		if open < 0 {
			b.WriteString(pattern)
			return b.String()
		}
		end := strings.IndexByte(pattern[open:], '}')
		if end < 0 {
			b.WriteString(pattern)
			return b.String()
		}
		b.WriteString(pattern[:open])
		name := pattern[open+1 : open+end]
		if i := strings.IndexByte(name, ':'); i >= 0 {
			name = name[:i]
		}
		b.WriteString(url.PathEscape(chi.URLParam(r, name)))
		pattern = pattern[open+end+1:]
	}
}

func placeholders(pattern string) []string {
	var out []string
	for {
		open := strings.IndexByte(pattern, '{')
		if open < 0 {
			return out
		}
		end := strings.IndexByte(pattern[open:], '}')
		if end < 0 {
			return out
		}
		name := pattern[open+1 : open+end]
		// chi allows {name:regexp}
		if i := strings.IndexByte(name, ':'); i >= 0 {
			name = name[:i]
		}
		out = append(out, name)
		pattern = pattern[open+end+1:]
	}
}
