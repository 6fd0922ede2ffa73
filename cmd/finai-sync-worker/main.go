package main

import (
	"os"

	"golang.org/x/sync/errgroup"

	"finai/internal/amqp"
	"finai/internal/cli"
	"finai/internal/config"
	applog "finai/internal/log"
	gsheet "finai/internal/sheets/google"
	"finai/internal/storage"
	"finai/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	boot := cli.BootstrapLogger(applog.ComponentWorker)

	cfg := cli.LoadAndValidateConfig(boot.Logger, (*config.Config).ValidateSyncWorker)
	logger := cli.SetupLogger(cfg, applog.ComponentWorker)
	logger.Info("Starting finai-sync-worker",
		"batch_size", cfg.SyncBatchSize,
		"interval", cfg.SyncInterval)

	ctx, stop := cli.SignalContext(logger.Logger)
	defer stop()

	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath, cfg.SQLiteAutoMigrate)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", "error", err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer repo.Close()

	exporter, err := gsheet.New(ctx, cfg.GoogleSpreadsheetID, gsheet.Credentials{
		ServiceAccountJSON: cfg.GoogleServiceAccountJSON,
		ServiceAccountFile: cfg.GoogleServiceAccountFile,
		OAuthClientJSON:    cfg.GoogleOAuthClientJSON,
		OAuthClientFile:    cfg.GoogleOAuthClientFile,
		OAuthTokenFile:     cfg.GoogleOAuthTokenFile,
	}, logger.WithComponent(applog.ComponentSheets).Logger)
	if err != nil {
		logger.Error("Failed to initialize Google Sheets exporter", "error", err)
		os.Exit(1)
	}

	queue, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", "error", err)
		os.Exit(1)
	}
	defer queue.Close()

	syncWorker := worker.NewSyncWorker(repo, exporter, cfg.SyncBatchSize, logger.Logger)
	sweeper := worker.NewSweeper(syncWorker.ProcessPending, cfg.SyncInterval, logger.Logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return queue.ConsumeTableSync(gctx, syncWorker.HandleTableSync)
	})
	g.Go(func() error {
		return sweeper.Run(gctx)
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		logger.Error("Sync worker stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("Sync worker stopped")
}
