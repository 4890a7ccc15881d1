package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/scanguard/scanguard/internal/artifacts"
	"github.com/scanguard/scanguard/internal/infrastructure/db"
	httpapi "github.com/scanguard/scanguard/internal/interfaces/http"
	"github.com/scanguard/scanguard/internal/metrics"
	"github.com/scanguard/scanguard/internal/persistence"
	"github.com/scanguard/scanguard/internal/pipeline"
)

// runServe starts the HTTP API with graceful shutdown
func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if host, _ := cmd.Flags().GetString("host"); host != "" {
		cfg.Server.Host = host
	}
	if port, _ := cmd.Flags().GetInt("port"); port != 0 {
		cfg.Server.Port = port
	}

	if problems := cfg.Validate(); len(problems) > 0 {
		for _, p := range problems {
			log.Error().Str("problem", p).Msg("configuration invalid")
		}
		return fmt.Errorf("configuration has %d problems", len(problems))
	}

	manager, err := db.NewManager(cfg.Database)
	if err != nil {
		return fmt.Errorf("database init failed: %w", err)
	}
	defer manager.Close()

	var repos *persistence.Repository
	var dbHealth persistence.RepositoryHealth
	if manager.IsEnabled() {
		migrateCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := manager.Migrate(migrateCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("schema migration failed: %w", err)
		}
		repos = manager.Repository()
		dbHealth = manager.Health()
		log.Info().Msg("run history persistence enabled")
	}

	registry := metrics.NewRegistry()

	opts := pipeline.Options{
		Progress:   "none", // API responses and the websocket stream carry progress
		Metrics:    registry,
		Repository: repos,
	}
	if cfg.Artifacts.Enabled {
		opts.Artifacts = artifacts.NewWriter(cfg.Artifacts.Dir)
	}

	pipe, err := pipeline.New(cfg, opts)
	if err != nil {
		return err
	}

	handlers := httpapi.NewHandlers(pipe, repos, dbHealth, registry)
	server, err := httpapi.NewServer(httpapi.ServerConfigFrom(cfg.Server), handlers)
	if err != nil {
		return err
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		addr := server.GetAddress()
		log.Info().
			Str("health", fmt.Sprintf("http://%s/health", addr)).
			Str("metrics", fmt.Sprintf("http://%s/metrics", addr)).
			Str("validate", fmt.Sprintf("http://%s/api/v1/validate", addr)).
			Str("progress", fmt.Sprintf("ws://%s/ws/progress", addr)).
			Msg("API endpoints available")

		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Info().Msg("shutdown signal received")
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
		return err
	}

	log.Info().Msg("server shutdown complete")
	return nil
}
