package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"finai/internal/assistant/gemini"
	"finai/internal/backend"
	"finai/internal/cache"
	"finai/internal/cli"
	"finai/internal/config"
	apphttp "finai/internal/http"
	applog "finai/internal/log"
	"finai/internal/ports"
	"finai/internal/services"
	"finai/internal/storage"
)

func main() {
	cli.LoadEnvFile()
	boot := cli.BootstrapLogger(applog.ComponentApp)

	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		os.Exit(runMigrate(boot))
	}

	cfg := cli.LoadAndValidateConfig(boot.Logger)
	logger := cli.SetupLogger(cfg, applog.ComponentApp)

	ctx, stop := cli.SignalContext(logger.Logger)
	defer stop()

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", "error", err)
		os.Exit(1)
	}
	res, err := backend.NewFactory(logger.WithComponent(applog.ComponentStorage).Logger).CreateBackend(ctx, backendCfg)
	if err != nil {
		logger.Error("Failed to initialize backend", "error", err, "backend", cfg.DataBackend)
		os.Exit(1)
	}
	defer func() {
		if err := res.Close(); err != nil {
			logger.Error("Backend cleanup failed", "error", err)
		}
	}()

	tables := services.NewTableService(res.Store, services.TableServiceConfig{
		Provisioner:       res.Provisioner,
		Logger:            logger,
		DashboardCacheTTL: cfg.DashboardCacheTTL,
	})

	caches := cache.NewManager(logger.WithComponent(applog.ComponentCache).Logger)
	if c := tables.SummaryCache(); c != nil {
		caches.Register(c)
	}
	caches.StartCleanup(time.Minute)

	chat := services.NewAssistantService(newAssistant(cfg, logger), tables, cfg.AssistantTimeout, logger)

	srv := apphttp.NewServer(apphttp.Config{
		Addr:               ":" + cfg.Port,
		CORSOrigins:        cfg.CORSOrigins,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		Logger:             logger,
	}, tables, chat)
	srv.ReadTimeout = 10 * time.Second
	// assistant calls may take up to AssistantTimeout
	srv.WriteTimeout = cfg.AssistantTimeout + 10*time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Starting finai server",
			"port", cfg.Port,
			"backend", cfg.DataBackend,
			"assistant", chat.Enabled(),
			"amqp", cfg.AMQPEnabled())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			logger.Error("Server error", "error", err, "port", cfg.Port)
			caches.Stop()
			os.Exit(1)
		}
	}

	cli.GracefulShutdown(logger.Logger, 30*time.Second, func(ctx context.Context) error {
		caches.Stop()
		return srv.Shutdown(ctx)
	})
}

// newAssistant returns nil when no Gemini key is configured, which leaves
// the chat disabled.
func newAssistant(cfg *config.Config, logger *applog.Logger) ports.Assistant {
	if !cfg.AssistantEnabled() {
		logger.Info("Assistant disabled - no GEMINI_API_KEY provided")
		return nil
	}
	client, err := gemini.New(gemini.Config{
		APIKey:   cfg.GeminiAPIKey,
		Model:    cfg.GeminiModel,
		Endpoint: cfg.GeminiEndpoint,
		Timeout:  cfg.AssistantTimeout,
		Logger:   logger.WithComponent(applog.ComponentAssistant).Logger,
	})
	if err != nil {
		logger.Error("Failed to initialize assistant", "error", err)
		return nil
	}
	return client
}

// runMigrate provisions the SQLite schema and exits.
func runMigrate(logger *applog.Logger) int {
	cfg := config.Load()
	if cfg.SQLiteDBPath == "" {
		logger.Error("SQLITE_DB_PATH is required for migrate")
		return 1
	}
	if err := storage.RunMigrations(cfg.SQLiteDBPath); err != nil {
		logger.Error("Migration failed", "error", err, "path", cfg.SQLiteDBPath)
		return 1
	}
	logger.Info("Migrations applied", "path", cfg.SQLiteDBPath)
	return 0
}
