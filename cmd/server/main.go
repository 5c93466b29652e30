// Command server runs the playground lifecycle manager: HTTP API,
// Docker-backed provisioner and the lease expiry reconciler.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/Sathwik-git/linux-playground/internal/api"
	"github.com/Sathwik-git/linux-playground/internal/auth"
	"github.com/Sathwik-git/linux-playground/internal/config"
	"github.com/Sathwik-git/linux-playground/internal/provider"
	"github.com/Sathwik-git/linux-playground/internal/provision"
	"github.com/Sathwik-git/linux-playground/internal/proxy"
	"github.com/Sathwik-git/linux-playground/internal/ratelimit"
	"github.com/Sathwik-git/linux-playground/internal/reconcile"
	"github.com/Sathwik-git/linux-playground/internal/registry"
	"github.com/Sathwik-git/linux-playground/internal/terminate"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		logger.Info("no .env file found, using system environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.ValidateProvider(); err != nil {
		logger.Error("provider configuration invalid", "error", err)
		os.Exit(1)
	}
	if cfg.AuthToken == "" {
		logger.Error("PLAYGROUND_AUTH_TOKEN must be set")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	initCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	dockerProvider, err := provider.NewDocker(initCtx, cfg, logger.With("component", "provider"))
	cancel()
	if err != nil {
		logger.Error("failed to initialize provider", "error", err)
		os.Exit(1)
	}
	defer dockerProvider.Close()
	logger.Info("provider ready", "image", cfg.InstanceImage)

	verifier, err := auth.NewSharedTokenVerifier(cfg.AuthToken)
	if err != nil {
		logger.Error("failed to create verifier", "error", err)
		os.Exit(1)
	}

	reg := registry.New(cfg.MaxSessionsPerOwner)
	provisioner := provision.New(cfg, dockerProvider, reg, logger.With("component", "provisioner"))
	coordinator := terminate.New(dockerProvider, reg, logger.With("component", "terminator"))

	reconciler := reconcile.New(reg, coordinator, logger.With("component", "reconciler"),
		cfg.ScanInterval, cfg.TerminateRetryBase, cfg.TerminateRetryMax, cfg.RetentionWindow)
	go reconciler.Start(ctx)

	proxyServer := proxy.NewServer(reg, logger.With("component", "proxy"))
	rateLimiter := ratelimit.New(cfg.RequestsPerHour, cfg.RequestBurst)

	handler := api.NewHandler(provisioner, coordinator, reg, logger.With("component", "api"))
	router := handler.SetupRoutes(verifier, proxyServer, rateLimiter, cfg.RequestsPerHour)

	srv := &http.Server{
		Addr:        cfg.ListenAddr,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// Session creation blocks for up to the provisioning ceiling.
		WriteTimeout: cfg.ProvisionTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("forced shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
