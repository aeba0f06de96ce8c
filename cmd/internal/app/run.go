package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// Run is the entrypoint used by cmd/spendsync.
// It returns an error instead of calling os.Exit to keep defers effective.
func Run() error {
	envFile, envErr := LoadDotEnv()

	cfg := LoadConfig()
	log := NewLogger(cfg.LogLevel, cfg.LogFormat, os.Stdout)

	if envErr != nil {
		return envErr
	}
	if envFile != "" {
		log.Info("config.dotenv.loaded", "path", envFile)
	}

	if err := ValidateSecurityConfig(cfg); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := New(ctx, cfg, log)
	if err != nil {
		return err
	}

	return a.Run(ctx)
}
