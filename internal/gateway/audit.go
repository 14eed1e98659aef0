package gateway

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spiffe/go-spiffe/v2/svid/x509svid"
)

// Decisions recorded in audit events and metrics.
const (
	DecisionAllow     = "allow"
	DecisionAnonymous = "anonymous"
	DecisionDeny      = "deny"
)

// AuditEvent is the one log record written per request.
type AuditEvent struct {
	Timestamp time.Time
	RequestID string
	Method    string
	Path      string
	Policy    string
	Decision  string // allow|anonymous|deny
	Reason    string
	Subject   string
	Role      string
	Peer      string
	Status    int
	Duration  time.Duration
}

// MarshalZerologObject implements zerolog.LogObjectMarshaler.
func (ev *AuditEvent) MarshalZerologObject(e *zerolog.Event) {
	e.Time("ts", ev.Timestamp).
		Str("request_id", ev.RequestID).
		Str("method", ev.Method).
		Str("path", ev.Path).
		Str("policy", ev.Policy).
		Str("decision", ev.Decision).
		Int("status", ev.Status).
		Dur("duration", ev.Duration)
	if ev.Reason != "" {
		e.Str("reason", ev.Reason)
	}
	if ev.Subject != "" {
		e.Str("subject", ev.Subject)
	}
	if ev.Role != "" {
		e.Str("role", ev.Role)
	}
	if ev.Peer != "" {
		e.Str("peer_spiffe_id", ev.Peer)
	}
}

// statusRecorder remembers the status code written through it.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

// peerSPIFFEID returns the SPIFFE ID of a verified mTLS client.
func peerSPIFFEID(r *http.Request) (string, error) {
	if r.TLS == nil {
		return "", errors.New("missing TLS state")
	}
	if len(r.TLS.PeerCertificates) == 0 {
		return "", errors.New("missing client certificate")
	}
	cert := r.TLS.PeerCertificates[0]
	if id, err := x509svid.IDFromCert(cert); err == nil {
		return id.String(), nil
	}
	for _, uri := range cert.URIs {
		if uri != nil && strings.EqualFold(uri.Scheme, "spiffe") {
			return uri.String(), nil
		}
	}
	return "", errors.New("no SPIFFE URI SAN in client certificate")
}
