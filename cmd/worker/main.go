package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/dobongcare/welfare-chatbot/internal/bootstrap"
	"github.com/dobongcare/welfare-chatbot/internal/config"
	"github.com/dobongcare/welfare-chatbot/internal/observability/logging"
	"github.com/dobongcare/welfare-chatbot/internal/observability/metrics"
)

const (
	serviceName = "chatbot-worker"
	pollTimeout = time.Second
	jobTimeout  = 2 * time.Minute
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logger := logging.NewJSONLogger(serviceName, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	if app.Queue == nil {
		log.Fatal("worker requires a reachable job queue")
	}
	if app.Results == nil {
		log.Fatal("worker requires a reachable result store")
	}

	workerMetrics := metrics.NewWorkerMetrics(serviceName)
	metricsServer := &http.Server{
		Addr:    ":" + cfg.WorkerMetricsPort,
		Handler: metricsMux(workerMetrics),
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics_server_error", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	logger.Info("worker_started", "subject", cfg.NATSSubject)

	for {
		select {
		case <-ctx.Done():
			logger.Info("worker_stopping")
			return
		default:
		}

		job, ok, err := app.Queue.Next(pollTimeout)
		if err != nil {
			logger.Error("queue_poll_failed", "error", err)
			time.Sleep(pollTimeout)
			continue
		}
		if !ok {
			continue
		}

		workerMetrics.ObserveQueueLag(serviceName, time.Since(job.CreatedAt))
		workerMetrics.StartJob()
		start := time.Now()

		jobCtx, cancel := context.WithTimeout(ctx, jobTimeout)
		result := app.Processor.Process(jobCtx, job)
		saveErr := app.Results.SaveResult(jobCtx, job.ID, result, cfg.ResultTTL)
		cancel()

		workerMetrics.FinishJob(serviceName, time.Since(start), saveErr)
		if saveErr != nil {
			logger.Error("result_save_failed", "job_id", job.ID, "error", saveErr)
			continue
		}
		logger.Info("job_processed", "job_id", job.ID, "total_found", result.TotalFound,
			"duration_ms", float64(time.Since(start).Microseconds())/1000.0)
	}
}

func metricsMux(m *metrics.WorkerMetrics) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return mux
}
