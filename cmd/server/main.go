// Package main is the entry point for the hpn-g-relay server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hpn/hpn-g-relay/internal/app"
	"github.com/hpn/hpn-g-relay/internal/config"
	"github.com/hpn/hpn-g-relay/internal/handler"
	"github.com/hpn/hpn-g-relay/internal/logging"
	"github.com/hpn/hpn-g-relay/internal/ui"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "hpn-g-relay: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	ui.PrintBanner()

	// =========================================================================
	// 1. Load configuration (Singleton)
	// =========================================================================
	cfg, err := config.GetConfigWithPath(configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	// =========================================================================
	// 2. Setup structured logger
	// =========================================================================
	logger, closeLog, err := logging.Setup(cfg.Logging)
	if err != nil {
		return err
	}
	defer closeLog()
	slog.SetDefault(logger)

	logger.Info("starting hpn-g-relay",
		slog.String("version", ui.Version),
		slog.String("race_policy", cfg.Orchestrator.RacePolicy),
		slog.String("history_backend", cfg.History.Backend),
	)

	// =========================================================================
	// 3. Assemble pools, backends, history and moderation
	// =========================================================================
	relay, err := app.Build(context.Background(), cfg, logger)
	if err != nil {
		return err
	}
	defer relay.Close()

	// =========================================================================
	// 4. Setup Gin router with middleware
	// =========================================================================
	router := newRouter(cfg, relay, logger)

	// =========================================================================
	// 5. Start HTTP server with graceful shutdown
	// =========================================================================
	addr := cfg.Server.Addr()
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", slog.String("address", addr))
		ui.PrintStartupInfo(addr, relay.PoolSummaries(), relay.Community, cfg.Orchestrator.RacePolicy)

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// =========================================================================
	// 6. Graceful shutdown on SIGTERM/SIGINT
	// =========================================================================
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		logger.Error("server error", slog.String("error", err.Error()))
		return err
	case sig := <-quit:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))
	}
	ui.PrintShutdown()

	shutdownTimeout := time.Duration(cfg.Server.ShutdownTimeoutSeconds) * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("server stopped gracefully")
	ui.PrintGoodbye()
	return nil
}

// newRouter builds the gin engine with middleware and routes.
func newRouter(cfg *config.Configuration, relay *app.App, logger *slog.Logger) *gin.Engine {
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(handler.RecoveryMiddleware(logger))
	router.Use(handler.RequestIDMiddleware())
	router.Use(handler.CORSMiddleware())
	router.Use(handler.LoggingMiddleware(logger, cfg.Logging.Verbose))
	if cfg.RateLimit.Enabled {
		router.Use(handler.RateLimitMiddleware(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, []string{"/health", "/metrics"}))
	}

	h := handler.NewRelayHandler(relay.Orchestrator,
		handler.WithModerator(relay.Moderator),
		handler.WithGate(relay.Gate),
		handler.WithPools(relay.Pools...),
		handler.WithLogger(logger),
	)
	h.Register(router)

	return router
}
