package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"storefront-gateway/internal/aggregate"
	"storefront-gateway/internal/config"
	"storefront-gateway/internal/gateway"
	"storefront-gateway/internal/proxy"
)

// app is the wired gateway: pipeline, forwarder and the two HTTP handlers.
type app struct {
	cfg     *config.Config
	logger  zerolog.Logger
	getenv  config.Getenv
	gw      *gateway.Gateway
	fwd     *proxy.Forwarder
	handler http.Handler
	ops     http.Handler

	reloadMu sync.Mutex
}

// keyFetchTimeout bounds JWKS and OIDC discovery requests.
const keyFetchTimeout = 10 * time.Second

func newApp(ctx context.Context, cfg *config.Config, getenv config.Getenv, logger zerolog.Logger) (*app, error) {
	keyClient := &http.Client{Timeout: keyFetchTimeout}
	validator, err := cfg.Token.Validator(ctx, keyClient)
	if err != nil {
		return nil, fmt.Errorf("token validator: %w", err)
	}
	table, err := cfg.PolicyTable()
	if err != nil {
		return nil, fmt.Errorf("policy table: %w", err)
	}

	fwd, err := proxy.New(cfg.Services,
		proxy.WithTimeout(cfg.UpstreamTimeout),
		proxy.WithLogger(logger),
		proxy.WithObserver(gateway.ObserveUpstream),
		proxy.WithFlushInterval(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("services: %w", err)
	}

	gw, err := gateway.New(table, validator,
		gateway.WithIdentityHeader(cfg.IdentityHeader),
		gateway.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	client := aggregate.NewClient(aggregate.Config{Timeout: cfg.UpstreamTimeout, HTTPClient: fwd.Client()})
	var endpoints []gateway.Endpoint
	for _, rt := range cfg.Aggregates {
		h, err := aggregate.NewHandler(rt, client, fwd, cfg.IdentityHeader, logger)
		if err != nil {
			return nil, err
		}
		endpoints = append(endpoints, gateway.Endpoint{
			Method:  http.MethodGet,
			Pattern: rt.Route,
			Policy:  rt.Policy,
			Handler: h,
		})
	}

	checks := []gateway.ReadyCheck{gw.LoadedCheck()}
	if cfg.ReadyProbeUpstreams {
		probe := &http.Client{Timeout: 2 * time.Second}
		for _, s := range cfg.Services {
			if u, ok := fwd.ServiceURL(s.Name); ok {
				checks = append(checks, gateway.UpstreamCheck(probe, s.Name, u))
			}
		}
	}

	return &app{
		cfg:     cfg,
		logger:  logger,
		getenv:  getenv,
		gw:      gw,
		fwd:     fwd,
		handler: gateway.NewRouter(gw, fwd, endpoints...),
		ops:     gateway.NewOpsHandler(checks...),
	}, nil
}

// reload re-reads the configuration and swaps the policy table, the
// validator and the service map. Listener settings and aggregate routes
// keep their startup values. On error the running configuration is kept.
func (a *app) reload(ctx context.Context) (err error) {
	a.reloadMu.Lock()
	defer a.reloadMu.Unlock()
	defer func() { gateway.RecordReload(err) }()

	cfg, err := config.Load(a.getenv)
	if err != nil {
		return err
	}
	table, err := cfg.PolicyTable()
	if err != nil {
		return err
	}
	validator, err := cfg.Token.Validator(ctx, &http.Client{Timeout: keyFetchTimeout})
	if err != nil {
		return err
	}
	if err := a.fwd.SetServices(cfg.Services); err != nil {
		return err
	}
	if err := a.gw.Reload(table, validator); err != nil {
		return err
	}
	if len(cfg.Aggregates) != len(a.cfg.Aggregates) {
		a.logger.Warn().Msg("aggregate routes changed; restart to apply")
	}
	a.cfg = cfg
	a.logger.Info().
		Str("config", cfg.Path).
		Int("routes", len(cfg.Routes)).
		Int("services", len(cfg.Services)).
		Str("default_policy", cfg.DefaultPolicy.String()).
		Msg("configuration reloaded")
	return nil
}

func newLogger(level, format string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	var logger zerolog.Logger
	if format == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stdout)
	}
	return logger.Level(lvl).With().Timestamp().Str("component", "gateway").Logger()
}
