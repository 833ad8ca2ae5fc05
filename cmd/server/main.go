package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mailmerge/mailmerge/internal/app"
	"github.com/mailmerge/mailmerge/internal/auth"
	"github.com/mailmerge/mailmerge/internal/config"
	"github.com/mailmerge/mailmerge/internal/handler"
	"github.com/mailmerge/mailmerge/internal/logger"
	"github.com/mailmerge/mailmerge/internal/middleware"
	"github.com/mailmerge/mailmerge/internal/router"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	log.Info().Str("version", handler.Version).Msg("starting mail merge server")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize")
	}
	defer a.Close()

	if err := a.Startup(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to restore session")
	}
	if !a.OAuth.Configured() {
		log.Warn().Msg("gmail.client_id or gmail.client_secret is not set, browser sign-in is disabled")
	}

	states, err := auth.NewStateSigner(cfg.Auth.StateSecret, cfg.Auth.StateTTL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize state signer")
	}

	checks := map[string]handler.HealthChecker{}
	if a.Redis != nil {
		checks["redis"] = a.Redis
	}
	if a.DB != nil {
		checks["database"] = a.DB
	}
	var runs handler.RunLister
	if a.Runs != nil {
		runs = a.Runs
	}

	// Initialize handlers
	h := handler.New(log, cfg, a.Merge, a.Credentials, a.OAuth, states, runs, checks)

	// Initialize middleware
	mw := middleware.New(a.Redis, log, cfg)

	// Create HTTP server
	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router.New(h, mw, a.Credentials, cfg.Server.AllowedOrigins),
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down server...")

		// Graceful shutdown with timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}

		// A running dispatch stops at its next sleep once ctx is cancelled.
		a.Merge.Wait()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server exited with error")
		os.Exit(1)
	}
	log.Info().Msg("server stopped")
}
