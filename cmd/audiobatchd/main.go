// Command audiobatchd runs the ingestion and processing daemon: the HTTP
// API, the pipeline workers, and the janitor, sharing one index, one job
// queue, and one artifact store.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/joho/godotenv"

	"audiobatch/internal/api"
	"audiobatch/internal/blobstore"
	"audiobatch/internal/config"
	"audiobatch/internal/deps"
	"audiobatch/internal/index"
	"audiobatch/internal/ingest"
	"audiobatch/internal/janitor"
	"audiobatch/internal/jobqueue"
	"audiobatch/internal/logging"
	"audiobatch/internal/notify"
	"audiobatch/internal/pipeline"
)

const shutdownGrace = 15 * time.Second

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, _, _, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("prepare directories: %v", err)
	}

	logger, err := logging.NewForDaemon(cfg.Logging.Level, cfg.Logging.Format, cfg.Paths.LogDir)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	lock := flock.New(cfg.LockPath())
	locked, err := lock.TryLock()
	if err != nil {
		logger.Error("acquire daemon lock", logging.Error(err))
		os.Exit(1)
	}
	if !locked {
		logger.Error("another audiobatchd instance holds the lock", logging.String("path", cfg.LockPath()))
		os.Exit(1)
	}
	defer lock.Unlock() //nolint:errcheck

	if err := run(ctx, cancel, cfg, logger); err != nil {
		logger.Error("daemon failed", logging.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cancel context.CancelFunc, cfg *config.Config, logger *slog.Logger) error {
	for _, status := range deps.Missing(deps.Check(deps.Requirements(cfg))) {
		logger.Warn("missing dependency",
			logging.String("name", status.Name),
			logging.String("detail", status.Detail),
		)
	}

	idx, err := index.Open(cfg.IndexPath())
	if err != nil {
		return err
	}
	defer idx.Close()

	queue, err := jobqueue.Open(cfg.QueuePath(), time.Duration(cfg.Workflow.LeaseSeconds)*time.Second)
	if err != nil {
		return err
	}
	defer queue.Close()

	store, err := openBlobstore(ctx, cfg)
	if err != nil {
		return err
	}

	engines, err := pipeline.NewEngines(cfg)
	if err != nil {
		return err
	}
	defer engines.Close()

	notifier := notify.NewService(cfg.Notify)
	ingester := ingest.NewService(store, idx, queue, cfg.Ingest, logger)

	orchestrator := pipeline.New(cfg, idx, queue, store, engines, notifier, logger)
	if err := orchestrator.Start(ctx); err != nil {
		return err
	}
	defer orchestrator.Stop()

	sweeper := janitor.New(cfg, idx, queue, logger)
	if err := sweeper.Start(ctx); err != nil {
		return err
	}
	defer sweeper.Stop()

	server := api.NewServer(cfg, idx, store, ingester, notifier, logger)
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	logger.Info("audiobatchd running",
		logging.String("bind", cfg.Paths.APIBind),
		logging.String("store", cfg.Store.Backend),
		logging.Int("workers", cfg.Pipeline.Workers),
	)

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			cancel()
			return err
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api shutdown", logging.Error(err))
	}
	logger.Info("audiobatchd stopped")
	return nil
}

func openBlobstore(ctx context.Context, cfg *config.Config) (blobstore.Store, error) {
	if cfg.Store.Backend == config.StoreBackendS3 {
		return blobstore.NewS3Store(ctx, cfg.Store)
	}
	return blobstore.NewLocalStore(cfg.Store.LocalDir)
}
