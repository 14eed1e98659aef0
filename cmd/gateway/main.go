package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spiffe/go-spiffe/v2/spiffetls/tlsconfig"
	"github.com/spiffe/go-spiffe/v2/workloadapi"

	"storefront-gateway/internal/config"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to read .env: %v\n", err)
		os.Exit(1)
	}

	getenv := config.Getenv(os.Getenv)
	cfg, err := config.Load(getenv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, getenv, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to start gateway")
	}

	mainServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	certFile, keyFile := cfg.TLSCertFile, cfg.TLSKeyFile
	if cfg.SPIFFEEndpointSocket != "" {
		// Server and client identities come from the SPIFFE Workload API.
		source, err := workloadapi.NewX509Source(ctx, workloadapi.WithClientOptions(workloadapi.WithAddr(cfg.SPIFFEEndpointSocket)))
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create X509Source")
		}
		defer source.Close()
		mainServer.TLSConfig = tlsconfig.MTLSServerConfig(source, source, tlsconfig.AuthorizeAny())
		mainServer.TLSConfig.MinVersion = tls.VersionTLS12
	} else if certFile != "" {
		tlsCfg, err := serverTLSConfig(cfg.TLSClientCAFile)
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid TLS configuration")
		}
		mainServer.TLSConfig = tlsCfg
	}

	opsServer := &http.Server{
		Addr:              cfg.HealthListenAddr,
		Handler:           a.ops,
		ReadHeaderTimeout: 5 * time.Second,
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		for range hup {
			if err := a.reload(ctx); err != nil {
				logger.Error().Err(err).Msg("reload failed; keeping current configuration")
			}
		}
	}()

	errCh := make(chan error, 2)
	go func() {
		logger.Info().Str("addr", cfg.HealthListenAddr).Msg("ops listener started")
		errCh <- opsServer.ListenAndServe()
	}()
	go func() {
		logger.Info().
			Str("addr", cfg.ListenAddr).
			Bool("tls", mainServer.TLSConfig != nil).
			Int("services", len(cfg.Services)).
			Int("routes", len(cfg.Routes)).
			Str("default_policy", cfg.DefaultPolicy.String()).
			Msg("gateway listening")
		if mainServer.TLSConfig != nil {
			errCh <- mainServer.ListenAndServeTLS(certFile, keyFile)
			return
		}
		errCh <- mainServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("listener stopped")
		}
	case <-ctx.Done():
	}

	signal.Stop(hup)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	shutdown(shutdownCtx, logger, mainServer, opsServer)
}

func serverTLSConfig(clientCAFile string) (*tls.Config, error) {
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if clientCAFile == "" {
		return tlsCfg, nil
	}
	b, err := os.ReadFile(clientCAFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read TLS_CLIENT_CA_FILE: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(b) {
		return nil, errors.New("failed to parse TLS_CLIENT_CA_FILE PEM")
	}
	tlsCfg.ClientCAs = pool
	tlsCfg.ClientAuth = tls.RequireAndVerifyClientCert
	return tlsCfg, nil
}

func shutdown(ctx context.Context, logger zerolog.Logger, servers ...*http.Server) {
	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn().Err(err).Str("addr", srv.Addr).Msg("shutdown incomplete")
		}
	}
	logger.Info().Msg("gateway stopped")
}
