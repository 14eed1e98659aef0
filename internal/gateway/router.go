package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"storefront-gateway/internal/policy"
)

// Endpoint is a handler the gateway serves itself instead of forwarding.
// An empty Policy means the policy table decides.
type Endpoint struct {
	Method  string
	Pattern string
	Policy  policy.Policy
	Handler http.Handler
}

// NewRouter routes endpoints to their handlers and everything else to
// forward. Every route runs through the gateway pipeline.
func NewRouter(g *Gateway, forward http.Handler, endpoints ...Endpoint) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cleanPath)

	for _, ep := range endpoints {
		h := g.Wrap(ep.Handler)
		if ep.Policy != "" {
			h = g.WrapWithPolicy(ep.Handler, ep.Policy)
		}
		method := ep.Method
		if method == "" {
			method = http.MethodGet
		}
		r.Method(method, ep.Pattern, h)
	}

	fwd := g.Wrap(forward)
	r.Handle("/*", fwd)
	r.Handle("/", fwd)
	return r
}

// cleanPath canonicalises the path before routing so that chi and the
// policy table agree on it.
func cleanPath(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if clean := canonicalPath(r.URL.Path); clean != r.URL.Path {
			r.URL.Path = clean
			r.URL.RawPath = ""
		}
		next.ServeHTTP(w, r)
	})
}
