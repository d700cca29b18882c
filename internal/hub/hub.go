// Package hub is the main orchestrator that ties all components together.
package hub

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/quorumhq/quorum/internal/api"
	"github.com/quorumhq/quorum/internal/auth"
	"github.com/quorumhq/quorum/internal/config"
	"github.com/quorumhq/quorum/internal/dispatch"
	"github.com/quorumhq/quorum/internal/recorder"
	"github.com/quorumhq/quorum/internal/registry"
	"github.com/quorumhq/quorum/internal/selector"
	"github.com/quorumhq/quorum/internal/store"
)

// Hub is the main hub process.
type Hub struct {
	cfg    *config.Config
	store  store.Store
	engine *dispatch.Engine
	api    *api.Server
	logger *slog.Logger
}

// New creates a new hub from configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Hub, error) {
	// Initialize storage.
	db, err := store.New(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	tokens := auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.JWTExpiry.Duration)
	signer := auth.NewSigner(cfg.Auth.HMACSecret)
	verifier := auth.NewVerifier(cfg.Auth.HMACSecret)

	reg := registry.New()
	rec := recorder.New(cfg.Upstream.MainServerEndpoint, signer)

	oracle, err := newOracle(cfg.Oracle)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init oracle: %w", err)
	}
	sel := selector.New(oracle, logger)

	disp := dispatch.New(reg, rec, db, signer, db, logger, dispatch.Options{
		InteractTimeout: cfg.Upstream.InteractTimeout.Duration,
	})
	eng := dispatch.NewEngine(sel, disp, db, db, logger)

	apiSrv := api.NewServer(db, tokens, verifier, reg, eng, cfg, logger)

	h := &Hub{
		cfg:    cfg,
		store:  db,
		engine: eng,
		api:    apiSrv,
		logger: logger.With("component", "hub"),
	}

	for _, origin := range cfg.Server.AllowedOrigins {
		if origin == "*" {
			logger.Warn("CORS allowed_origins contains wildcard '*', restrict to specific origins in production")
			break
		}
	}

	return h, nil
}

func newOracle(cfg config.OracleConfig) (selector.Oracle, error) {
	switch cfg.Backend {
	case "", "openai":
		return selector.NewOpenAIOracle(selector.OpenAIOptions{
			APIKey:      cfg.APIKey,
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
		}), nil
	case "static":
		return selector.NewStaticOracle(cfg.Keywords), nil
	default:
		return nil, fmt.Errorf("unknown oracle backend %q", cfg.Backend)
	}
}

// Run starts the hub HTTP server and blocks until the context is canceled.
func (h *Hub) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    h.cfg.Server.Addr,
		Handler: h.api.Handler(),
	}

	// Start rate limiter cleanup tasks.
	h.api.StartBackgroundTasks(ctx)

	errCh := make(chan error, 1)
	go func() {
		h.logger.Info("hub listening", "addr", h.cfg.Server.Addr)
		if h.cfg.Server.TLSCert != "" && h.cfg.Server.TLSKey != "" {
			errCh <- srv.ListenAndServeTLS(h.cfg.Server.TLSCert, h.cfg.Server.TLSKey)
		} else {
			h.logger.Warn("TLS not configured, running without encryption (development only)")
			errCh <- srv.ListenAndServe()
		}
	}()

	select {
	case <-ctx.Done():
		h.logger.Info("shutting down hub gracefully")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			h.logger.Warn("graceful shutdown failed, forcing close", "error", err)
			_ = srv.Close()
		} else {
			h.logger.Info("http server stopped gracefully")
		}

		// Let in-flight dispatches finish; their results still need to reach
		// the transcript even if no client is listening anymore.
		if h.engine.Drain(30 * time.Second) {
			h.logger.Info("dispatch engine drained")
		}

		h.logger.Info("closing store")
		_ = h.store.Close()
		return nil

	case err := <-errCh:
		_ = h.store.Close()
		if err == http.ErrServerClosed {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	}
}
