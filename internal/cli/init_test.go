package cli

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"finai/internal/config"
	applog "finai/internal/log"
)

func TestLoadConfigRunsChecks(t *testing.T) {
	t.Setenv("DATA_BACKEND", "memory")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("log level=%q", cfg.LogLevel)
	}

	errWorker := errors.New("worker needs sqlite")
	_, err = LoadConfig(func(c *config.Config) error {
		if c.DataBackend != "sqlite" {
			return errWorker
		}
		return nil
	})
	if !errors.Is(err, errWorker) {
		t.Fatalf("check error not returned: %v", err)
	}
}

func TestLoadConfigRejectsInvalidEnv(t *testing.T) {
	t.Setenv("LOG_FORMAT", "xml")
	if _, err := LoadConfig(); err == nil || !strings.Contains(err.Error(), "log format") {
		t.Fatalf("expected log format error, got %v", err)
	}
}

func TestSetupLoggerAppliesLevel(t *testing.T) {
	logger := SetupLogger(&config.Config{LogLevel: "warn", LogFormat: "json"}, applog.ComponentWorker)
	if logger.Component() != applog.ComponentWorker {
		t.Fatalf("component=%q", logger.Component())
	}
	if logger.Enabled(context.Background(), slog.LevelInfo) {
		t.Fatalf("info should be disabled at warn level")
	}
	if !logger.Enabled(context.Background(), slog.LevelWarn) {
		t.Fatalf("warn should be enabled")
	}
}

func TestGracefulShutdownPassesDeadline(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	var deadline time.Time
	GracefulShutdown(logger, time.Minute, func(ctx context.Context) error {
		deadline, _ = ctx.Deadline()
		return nil
	})
	if deadline.IsZero() || time.Until(deadline) > time.Minute {
		t.Fatalf("deadline=%v", deadline)
	}
}
