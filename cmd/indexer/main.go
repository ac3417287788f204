package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/dobongcare/welfare-chatbot/internal/bootstrap"
	"github.com/dobongcare/welfare-chatbot/internal/config"
	"github.com/dobongcare/welfare-chatbot/internal/observability/logging"
)

const serviceName = "chatbot-indexer"

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logger := logging.NewJSONLogger(serviceName, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	indexer, err := bootstrap.NewIndexer(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("indexer bootstrap error: %v", err)
	}

	report, err := indexer.Sync.Run(ctx)
	if err != nil {
		logger.Error("sync_failed", "error", err,
			"updated", report.Updated, "skipped", report.Skipped, "deleted", report.Deleted)
		os.Exit(1)
	}

	logger.Info("sync_finished",
		"updated", report.Updated,
		"skipped", report.Skipped,
		"deleted", report.Deleted,
		"degraded", report.HadCriticalError,
	)
	if report.HadCriticalError {
		os.Exit(2)
	}
}
