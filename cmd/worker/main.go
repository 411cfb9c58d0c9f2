package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fortypixels/invoice-pilot/internal/bootstrap"
	"github.com/fortypixels/invoice-pilot/internal/config"
	"github.com/fortypixels/invoice-pilot/internal/core/domain"
	"github.com/fortypixels/invoice-pilot/internal/observability/logging"
	"github.com/fortypixels/invoice-pilot/internal/observability/metrics"
)

const runTimeout = 10 * time.Minute

func main() {
	cfg := config.Load()
	logger := logging.NewJSONLogger("invoice-pilot-worker", cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	workerMetrics := metrics.NewWorkerMetrics("invoice-pilot-worker")
	go func() {
		metricsServer := &http.Server{
			Addr:    ":" + cfg.WorkerMetricsPort,
			Handler: workerMetrics.Handler(),
		}
		logger.Info("worker metrics listening", "port", cfg.WorkerMetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()

	logger.Info("worker subscribed", "subject", cfg.NATSSubject)
	err = app.Queue.SubscribeFileShared(ctx, func(handlerCtx context.Context, event domain.InvoiceEvent) error {
		runCtx, cancel := context.WithTimeout(handlerCtx, runTimeout)
		defer cancel()

		start := time.Now()
		workerMetrics.StartRun()
		outcome, err := app.Processor.Process(runCtx, event)
		workerMetrics.FinishRun(time.Since(start), outcome)

		if err != nil {
			logger.Error("pipeline run failed",
				"event_id", event.EventID,
				"status", outcome.Status,
				"error", err)
			return err
		}
		logger.Info("pipeline run finished",
			"event_id", event.EventID,
			"status", outcome.Status,
			"duration_ms", time.Since(start).Milliseconds())
		return nil
	})
	if err != nil {
		log.Fatalf("worker subscribe error: %v", err)
	}
}
