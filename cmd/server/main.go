package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/realtimeapp/internal/config"
	"github.com/afroash/realtimeapp/internal/server"
	"github.com/afroash/realtimeapp/internal/storage"
)

const version = "v0.3.0"

func main() {
	configPath := flag.String("config", "configs/server.yaml", "path to config file")
	envFile := flag.String("env", ".env", "optional .env file")
	flag.Parse()

	if err := config.LoadDotEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load env file: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.LoadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := cfg.Logging.NewLogger(os.Stdout)

	logger.Info().
		Str("version", version).
		Str("addr", cfg.Server.Addr()).
		Strs("namespaces", cfg.Server.Namespaces).
		Str("driver", cfg.Database.Driver).
		Msg("Starting realtime readings server")

	store, err := openStore(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open store")
	}

	sockets := server.NewHandler(server.HandlerConfig{
		Namespaces:     cfg.Server.Namespaces,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		AuthToken:      cfg.Server.AuthToken,
		PingInterval:   cfg.Server.PingInterval,
	}, store, logger)
	api := server.NewAPIHandler(store, sockets, version, logger)

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      server.NewRouter(api, sockets, cfg.Server.AllowedOrigins, logger),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info().Str("addr", httpServer.Addr).Msg("Server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed")
		}
	}()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Hijacked socket connections are not closed by Shutdown
	sockets.Close()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown error")
	}

	if err := store.Close(); err != nil {
		logger.Error().Err(err).Msg("Store close error")
	}

	logger.Info().Msg("Server stopped")
}

// openStore opens the configured reading store
func openStore(cfg *config.AppConfig, logger zerolog.Logger) (storage.ReadingStore, error) {
	loc, err := cfg.Database.Location()
	if err != nil {
		return nil, err
	}

	switch cfg.Database.Driver {
	case config.DriverMemory:
		logger.Warn().Msg("Using in-memory store, readings are lost on restart")
		return storage.NewMemoryStore(logger, storage.WithLocation(loc)), nil
	default:
		if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		return storage.NewSQLiteStore(cfg.Database.Path, logger, storage.WithLocation(loc))
	}
}
