package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/joao-fontenele/honey-marketplace/internal/config"
	"github.com/joao-fontenele/honey-marketplace/internal/email"
	"github.com/joao-fontenele/honey-marketplace/internal/messaging"
	"github.com/joao-fontenele/honey-marketplace/internal/notify"
	"github.com/joao-fontenele/honey-marketplace/internal/telemetry"
)

const serviceName = "notification-worker"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))

	if len(cfg.KafkaBrokers) == 0 {
		logger.Error("KAFKA_BROKERS is required")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.TracingEnabled {
		shutdownTracer, err := telemetry.InitTracerProvider(ctx, serviceName, "0.1.0", cfg.OTelEndpoint)
		if err != nil {
			logger.Error("failed to init tracer", "error", err)
			os.Exit(1)
		}
		defer func() { _ = shutdownTracer(context.Background()) }()
	}

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider(serviceName, "0.1.0")
	if err != nil {
		logger.Error("failed to init meter provider", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownMeter(context.Background()) }()

	consumer := messaging.NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, serviceName, logger)
	defer func() { _ = consumer.Close() }()

	sender := notify.NewEmailSender(email.NewClient(cfg.EmailServiceURL, 10*time.Second), cfg.AdminEmail, logger)

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", metricsHandler)
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting notification worker", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
		err := consumer.Consume(gctx, sender.Handle)
		if errors.Is(err, context.Canceled) {
			logger.Info("consumer stopped")
			return nil
		}
		return err
	})

	g.Go(func() error {
		logger.Info("starting metrics server", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("worker error", "error", err)
		os.Exit(1)
	}
}
