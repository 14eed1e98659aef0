// Package proxy forwards authorized requests to the backend services.
package proxy

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"storefront-gateway/internal/respond"
)

// DefaultTimeout bounds one upstream exchange when no timeout is configured.
const DefaultTimeout = 30 * time.Second

// StatusClientClosedRequest is recorded when the caller disconnects before
// the upstream answers. It is never an upstream failure.
const StatusClientClosedRequest = 499

// ErrUpstreamUnavailable is reported when a backend cannot be reached or
// does not answer in time.
var ErrUpstreamUnavailable = errors.New("upstream unavailable")

// Observer is told about every forwarded request once it completes.
type Observer func(service string, status int, elapsed time.Duration)

// Option customises a Forwarder.
type Option func(*Forwarder)

// WithTimeout sets the upstream timeout.
func WithTimeout(d time.Duration) Option {
	return func(f *Forwarder) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// WithTransport replaces the HTTP transport used to reach backends.
func WithTransport(rt http.RoundTripper) Option {
	return func(f *Forwarder) { f.transport = rt }
}

// WithLogger sets the logger upstream failures are reported to.
func WithLogger(l zerolog.Logger) Option {
	return func(f *Forwarder) { f.logger = l }
}

// WithObserver registers a completion callback, used for metrics.
func WithObserver(o Observer) Option {
	return func(f *Forwarder) { f.observe = o }
}

// WithFlushInterval sets how often buffered response data is flushed to the
// caller. Negative flushes after every write.
func WithFlushInterval(d time.Duration) Option {
	return func(f *Forwarder) { f.flushInterval = d }
}

// Forwarder relays requests to the service owning their path prefix and
// streams the response back. It is built once at startup and shared by all
// requests.
type Forwarder struct {
	routes        atomic.Pointer[routeSet]
	proxy         *httputil.ReverseProxy
	transport     http.RoundTripper
	timeout       time.Duration
	flushInterval time.Duration
	logger        zerolog.Logger
	observe       Observer
}

type exchangeKey struct{}

// exchange tracks one forwarded request across the proxy callbacks.
type exchange struct {
	target Target
	status int
}

// New builds a Forwarder for services.
func New(services []Service, opts ...Option) (*Forwarder, error) {
	f := &Forwarder{
		timeout: DefaultTimeout,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.transport == nil {
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.ResponseHeaderTimeout = f.timeout
		t.DialContext = (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext
		f.transport = t
	}
	if err := f.SetServices(services); err != nil {
		return nil, err
	}
	f.proxy = &httputil.ReverseProxy{
		Rewrite:        f.rewrite,
		Transport:      f.transport,
		FlushInterval:  f.flushInterval,
		ModifyResponse: f.modifyResponse,
		ErrorHandler:   f.handleError,
	}
	return f, nil
}

// SetServices replaces the service map. Requests already in flight keep the
// target they resolved.
func (f *Forwarder) SetServices(services []Service) error {
	rs, err := compile(services)
	if err != nil {
		return err
	}
	f.routes.Store(rs)
	return nil
}

// Resolve returns the backend target for a request path and query.
func (f *Forwarder) Resolve(path, rawQuery string) (Target, bool) {
	return f.routes.Load().resolve(path, rawQuery)
}

// ServiceURL returns the base URL of a named service.
func (f *Forwarder) ServiceURL(name string) (*url.URL, bool) {
	u, ok := f.routes.Load().byName[name]
	if !ok {
		return nil, false
	}
	c := *u
	return &c, true
}

// Timeout returns the upstream timeout.
func (f *Forwarder) Timeout() time.Duration {
	return f.timeout
}

// Client returns an HTTP client sharing the forwarder's transport and timeout.
func (f *Forwarder) Client() *http.Client {
	return &http.Client{Transport: f.transport, Timeout: f.timeout}
}

func (f *Forwarder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	target, ok := f.Resolve(r.URL.Path, r.URL.RawQuery)
	if !ok {
		respond.Error(w, http.StatusNotFound, "route_not_found", "no service serves this path")
		return
	}

	// The inbound context is cancelled when the caller goes away, which
	// aborts the upstream request as well.
	ctx, cancel := context.WithTimeout(r.Context(), f.timeout)
	defer cancel()
	ex := &exchange{target: target}
	ctx = context.WithValue(ctx, exchangeKey{}, ex)

	start := time.Now()
	defer func() {
		if f.observe != nil {
			f.observe(target.Service, ex.status, time.Since(start))
		}
	}()
	f.proxy.ServeHTTP(w, r.WithContext(ctx))
}

func exchangeFrom(ctx context.Context) *exchange {
	ex, _ := ctx.Value(exchangeKey{}).(*exchange)
	if ex == nil {
		return &exchange{}
	}
	return ex
}

func (f *Forwarder) rewrite(pr *httputil.ProxyRequest) {
	target := exchangeFrom(pr.In.Context()).target
	pr.Out.URL = target.URL
	pr.Out.Host = ""
	pr.SetXForwarded()
}

func (f *Forwarder) modifyResponse(resp *http.Response) error {
	exchangeFrom(resp.Request.Context()).status = resp.StatusCode
	return nil
}

func (f *Forwarder) handleError(w http.ResponseWriter, r *http.Request, err error) {
	ex := exchangeFrom(r.Context())
	if errors.Is(r.Context().Err(), context.Canceled) {
		ex.status = StatusClientClosedRequest
		f.logger.Debug().
			Str("service", ex.target.Service).
			Str("request_id", r.Header.Get(respond.RequestIDHeader)).
			Msg("caller went away before upstream answered")
		respond.Error(w, StatusClientClosedRequest, "client_closed_request", "request cancelled by caller")
		return
	}
	status := http.StatusBadGateway
	if isTimeout(r.Context(), err) {
		status = http.StatusGatewayTimeout
	}
	ex.status = status
	f.logger.Warn().
		Err(err).
		Str("service", ex.target.Service).
		Str("request_id", r.Header.Get(respond.RequestIDHeader)).
		Int("status", status).
		Msg("upstream request failed")
	respond.Error(w, status, "upstream_unavailable", "upstream service unavailable")
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
