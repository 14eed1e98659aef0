// Package gateway runs the per-request pipeline: resolve the route policy,
// validate the bearer credential, authorize, inject the caller identity and
// hand the request to the next handler (normally the forwarder).
package gateway

import (
	"errors"
	"net/http"
	"path"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"storefront-gateway/internal/authz"
	"storefront-gateway/internal/identity"
	"storefront-gateway/internal/policy"
	"storefront-gateway/internal/respond"
	"storefront-gateway/internal/token"
)

//go:generate mockgen -source=pipeline.go -destination=mock_validator_test.go -package=gateway Validator

// Validator turns a raw bearer token into an identity.
type Validator interface {
	Validate(raw string) (*identity.Identity, error)
}

// snapshot is swapped as a whole on reload; it is never mutated.
type snapshot struct {
	table     *policy.Table
	validator Validator
}

// Option customises a Gateway.
type Option func(*Gateway)

// WithIdentityHeader sets the header the subject is forwarded in.
func WithIdentityHeader(name string) Option {
	return func(g *Gateway) {
		if name != "" {
			g.identityHeader = name
		}
	}
}

// WithLogger sets the audit logger.
func WithLogger(l zerolog.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// Gateway holds the active policy table and validator.
type Gateway struct {
	snap           atomic.Pointer[snapshot]
	identityHeader string
	logger         zerolog.Logger
	now            func() time.Time
}

// New builds a Gateway.
func New(table *policy.Table, validator Validator, opts ...Option) (*Gateway, error) {
	g := &Gateway{
		identityHeader: identity.DefaultHeader,
		logger:         zerolog.Nop(),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	if err := g.Reload(table, validator); err != nil {
		return nil, err
	}
	return g, nil
}

// Reload replaces the policy table and validator. Requests already in the
// pipeline finish with the previous pair.
func (g *Gateway) Reload(table *policy.Table, validator Validator) error {
	if table == nil {
		return errors.New("policy table is required")
	}
	if validator == nil {
		return errors.New("token validator is required")
	}
	g.snap.Store(&snapshot{table: table, validator: validator})
	return nil
}

// Ready reports whether a configuration has been loaded.
func (g *Gateway) Ready() bool {
	return g.snap.Load() != nil
}

// IdentityHeader returns the header the subject is forwarded in.
func (g *Gateway) IdentityHeader() string {
	return g.identityHeader
}

// Wrap runs the pipeline in front of next, using the policy table.
func (g *Gateway) Wrap(next http.Handler) http.Handler {
	return g.wrap(next, nil)
}

// WrapWithPolicy runs the pipeline in front of next with a fixed policy,
// for endpoints the gateway serves itself.
func (g *Gateway) WrapWithPolicy(next http.Handler, p policy.Policy) http.Handler {
	return g.wrap(next, &p)
}

func (g *Gateway) wrap(next http.Handler, fixed *policy.Policy) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g.serve(w, r, next, fixed)
	})
}

func (g *Gateway) serve(w http.ResponseWriter, r *http.Request, next http.Handler, fixed *policy.Policy) {
	start := g.now()
	snap := g.snap.Load()

	rid := strings.TrimSpace(r.Header.Get(respond.RequestIDHeader))
	if rid == "" {
		rid = uuid.NewString()
	}
	r.Header.Set(respond.RequestIDHeader, rid)
	w.Header().Set(respond.RequestIDHeader, rid)

	if clean := canonicalPath(r.URL.Path); clean != r.URL.Path {
		r.URL.Path = clean
		r.URL.RawPath = ""
	}

	p := snap.table.PolicyFor(r.URL.Path, r.Method)
	if fixed != nil {
		p = *fixed
	}

	ev := &AuditEvent{
		Timestamp: start.UTC(),
		RequestID: rid,
		Method:    r.Method,
		Path:      r.URL.Path,
		Policy:    p.String(),
	}
	if peer, err := peerSPIFFEID(r); err == nil {
		ev.Peer = peer
	}
	rec := &statusRecorder{ResponseWriter: w}
	defer func() {
		ev.Status = rec.status
		ev.Duration = g.now().Sub(start)
		requestsTotal.WithLabelValues(ev.Decision, ev.Policy).Inc()
		g.logger.Info().EmbedObject(ev).Msg("audit")
	}()

	id, status, code := g.authenticate(r, snap.validator, p)
	if status != 0 {
		ev.Decision = DecisionDeny
		ev.Reason = code
		deny(rec, status, code, r.Header.Get("Authorization") != "")
		return
	}
	if id == nil && code != "" {
		// Public route, credential rejected: continue without identity.
		ev.Reason = code
	}

	if err := authz.Authorize(id, p); err != nil {
		ev.Decision = DecisionDeny
		switch {
		case errors.Is(err, authz.ErrUnauthenticated):
			ev.Reason = "unauthenticated"
			deny(rec, http.StatusUnauthorized, ev.Reason, false)
		default:
			ev.Reason = "forbidden"
			if id != nil {
				ev.Subject = id.Subject
				ev.Role = id.Role()
			}
			deny(rec, http.StatusForbidden, ev.Reason, false)
		}
		return
	}

	identity.Inject(r.Header, g.identityHeader, id)
	if id != nil {
		ev.Decision = DecisionAllow
		ev.Subject = id.Subject
		ev.Role = id.Role()
		r = r.WithContext(identity.NewContext(r.Context(), id))
	} else {
		ev.Decision = DecisionAnonymous
	}
	next.ServeHTTP(rec, r)
}

// authenticate returns the caller identity. A non-zero status means the
// request must be rejected with that status and code. A nil identity with a
// code means a credential was rejected on a public route.
func (g *Gateway) authenticate(r *http.Request, v Validator, p policy.Policy) (*identity.Identity, int, string) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, 0, ""
	}
	raw, err := token.ExtractBearer(header)
	if err != nil {
		return nil, http.StatusUnauthorized, token.Code(err)
	}
	id, err := v.Validate(raw)
	if err != nil {
		code := token.Code(err)
		if code == "" {
			code = "invalid_token"
		}
		if p == policy.Public {
			return nil, 0, code
		}
		return nil, http.StatusUnauthorized, code
	}
	return id, 0, ""
}

func deny(w http.ResponseWriter, status int, code string, credentialSent bool) {
	if status == http.StatusUnauthorized {
		if credentialSent {
			w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
		} else {
			w.Header().Set("WWW-Authenticate", "Bearer")
		}
	}
	respond.Error(w, status, code, messages[code])
}

var messages = map[string]string{
	"malformed_credential": "authorization header must carry a bearer token",
	"invalid_signature":    "token signature is not valid",
	"expired":              "token has expired",
	"issuer_mismatch":      "token issuer is not accepted",
	"audience_mismatch":    "token audience is not accepted",
	"invalid_token":        "token is not valid",
	"unauthenticated":      "a valid bearer token is required",
	"forbidden":            "insufficient role for this route",
}

// canonicalPath cleans p so that policy lookup and forwarding see the same
// path. Dot segments and duplicate slashes are removed.
func canonicalPath(p string) string {
	if p == "" {
		return "/"
	}
	if p[0] != '/' {
		p = "/" + p
	}
	return path.Clean(p)
}
