// Package main is the entry point for the ad-slot server
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	adconfig "github.com/thenexusengine/adslot/internal/config"
	"github.com/thenexusengine/adslot/pkg/logger"
)

func main() {
	// .env is optional; real environment variables win
	envLoaded, envErr := loadEnvFile(".env")

	// Parse configuration from flags and environment
	cfg := ParseConfig()

	// Initialize structured logger
	logger.Init(logger.DefaultConfig())
	log := logger.Log

	if envErr != nil {
		log.Warn().Err(envErr).Msg("Failed to load .env file")
	} else if envLoaded {
		log.Info().Msg("Loaded environment from .env")
	}

	// Create server
	server, err := NewServer(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create server")
	}

	// Start server in goroutine
	go func() {
		if err := server.Start(); err != nil {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), adconfig.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}
}
