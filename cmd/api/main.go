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

	httpadapter "github.com/dobongcare/welfare-chatbot/internal/adapters/http"
	"github.com/dobongcare/welfare-chatbot/internal/bootstrap"
	"github.com/dobongcare/welfare-chatbot/internal/config"
	"github.com/dobongcare/welfare-chatbot/internal/observability/logging"
	"github.com/dobongcare/welfare-chatbot/internal/observability/metrics"
)

const serviceName = "chatbot-api"

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

	httpMetrics := metrics.NewHTTPServerMetrics(serviceName)
	router := httpadapter.NewRouter(
		app.Chat,
		app.Feedback,
		app.Cache,
		app.Index,
		app.Embedder,
		httpMetrics,
		httpadapter.RouterConfig{
			ServiceName:     serviceName,
			AdminSecret:     cfg.AdminSecret,
			RateLimitMax:    cfg.RateLimitMaxRequests,
			RateLimitWindow: cfg.RateLimitWindow,
		},
	).Handler()

	server := &http.Server{
		Addr:         ":" + cfg.APIPort,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("api_listening", "port", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("api server error: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("api_shutdown_error", "error", err)
	}
}
