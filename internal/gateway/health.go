package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"storefront-gateway/internal/respond"
)

// ReadyCheck reports an error while the gateway should not receive traffic.
type ReadyCheck func(ctx context.Context) error

// NewOpsHandler serves /health, /ready and /metrics.
func NewOpsHandler(checks ...ReadyCheck) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		for _, check := range checks {
			if err := check(ctx); err != nil {
				respond.JSON(w, http.StatusServiceUnavailable, map[string]string{
					"status": "not_ready",
					"reason": err.Error(),
				})
				return
			}
		}
		respond.JSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// LoadedCheck fails until the gateway holds a configuration.
func (g *Gateway) LoadedCheck() ReadyCheck {
	return func(context.Context) error {
		if !g.Ready() {
			return fmt.Errorf("configuration not loaded")
		}
		return nil
	}
}

// UpstreamCheck fails when the service at base does not answer. Any status
// below 500 counts as alive.
func UpstreamCheck(client *http.Client, name string, base *url.URL) ReadyCheck {
	return func(ctx context.Context) error {
		if err := checkHTTPHealth(ctx, client, base.String()); err != nil {
			return fmt.Errorf("service %s: %w", name, err)
		}
		return nil
	}
}

func checkHTTPHealth(ctx context.Context, client *http.Client, healthURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}
