// Package cli provides common CLI initialization utilities shared by
// cmd/kakeibo and cmd/kakeibo-worker.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"kakeibo/internal/config"
	applog "kakeibo/internal/log"
)

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// LoadAndValidateConfig loads .env and environment configuration and
// validates it.
func LoadAndValidateConfig() (*config.Config, error) {
	LoadEnvFile()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SetupLogger builds the process logger from cfg and installs it as the
// slog default.
func SetupLogger(cfg *config.Config, component string) (*applog.Logger, error) {
	logger, err := applog.New(applog.Config{
		Level:     cfg.LogLevel,
		Format:    cfg.LogFormat,
		Component: component,
		Output:    os.Stdout,
	})
	if err != nil {
		return nil, fmt.Errorf("setup logging: %w", err)
	}
	applog.SetDefault(logger)
	return logger, nil
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}
