package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/joao-fontenele/honey-marketplace/internal/catalog"
	"github.com/joao-fontenele/honey-marketplace/internal/checkout"
	"github.com/joao-fontenele/honey-marketplace/internal/config"
	"github.com/joao-fontenele/honey-marketplace/internal/email"
	"github.com/joao-fontenele/honey-marketplace/internal/messaging"
	"github.com/joao-fontenele/honey-marketplace/internal/notify"
	"github.com/joao-fontenele/honey-marketplace/internal/orders"
	"github.com/joao-fontenele/honey-marketplace/internal/payment"
	"github.com/joao-fontenele/honey-marketplace/internal/producers"
	"github.com/joao-fontenele/honey-marketplace/internal/telemetry"
	"github.com/joao-fontenele/honey-marketplace/internal/users"
	"github.com/joao-fontenele/honey-marketplace/internal/webhook"
)

const serviceName = "checkout"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))

	if err := cfg.RequirePostgres(); err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(1)
	}
	if cfg.Stripe.SecretKey == "" {
		logger.Error("STRIPE_SECRET_KEY is required")
		os.Exit(1)
	}

	ctx := context.Background()

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

	db, err := telemetry.OpenDB(cfg.PostgresURL, cfg.DBSchema)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	if err := db.PingContext(ctx); err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	var publisher notify.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		producer := messaging.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer func() { _ = producer.Close() }()
		publisher = producer
		logger.Info("publishing notifications to kafka", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	} else {
		mailer := email.NewClient(cfg.EmailServiceURL, 10*time.Second)
		publisher = notify.NewEmailSender(mailer, cfg.AdminEmail, logger)
		logger.Info("sending notifications in-process", "email_service", cfg.EmailServiceURL)
	}
	dispatcher := notify.NewDispatcher(publisher, cfg.NotifyQueueSize, logger)

	catalogRepo := catalog.NewRepository(db)
	orderRepo := orders.NewOrderRepository(db)
	userRepo := users.NewRepository(db)
	producerRepo := producers.NewRepository(db)

	broker := payment.NewStripeBroker(cfg.Stripe.SecretKey, logger)

	controller, err := checkout.NewController(
		catalogRepo,
		orderRepo,
		userRepo,
		broker,
		checkout.SettingsFromConfig(cfg.Checkout),
		logger,
	)
	if err != nil {
		logger.Error("failed to build checkout controller", "error", err)
		os.Exit(1)
	}

	checkoutHandler := checkout.NewHandler(controller, orderRepo, checkout.CookieSettings{
		TTL:    cfg.Checkout.CookieTTL,
		Secure: cfg.Checkout.CookieSecure,
	}, logger)
	ordersHandler := orders.NewHandler(orderRepo, logger)
	producersHandler := producers.NewHandler(producerRepo, userRepo, dispatcher, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /checkout", telemetry.WithHTTPRoute(checkoutHandler.HandleCheckout))
	mux.HandleFunc("GET /checkout/confirm", telemetry.WithHTTPRoute(checkoutHandler.HandleConfirm))
	mux.HandleFunc("GET /orders", telemetry.WithHTTPRoute(ordersHandler.HandleList))
	mux.HandleFunc("GET /orders/{id}", telemetry.WithHTTPRoute(ordersHandler.HandleGet))
	mux.HandleFunc("PATCH /sub-orders/{id}/status", telemetry.WithHTTPRoute(ordersHandler.HandleUpdateSubOrderStatus))
	mux.HandleFunc("POST /producers", telemetry.WithHTTPRoute(producersHandler.HandleRegister))
	mux.HandleFunc("GET /producers/me", telemetry.WithHTTPRoute(producersHandler.HandleGetMine))
	mux.Handle("GET /metrics", metricsHandler)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	if cfg.Stripe.WebhookSecret != "" && cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("invalid REDIS_URL", "error", err)
			os.Exit(1)
		}
		rdb := redis.NewClient(opts)
		defer func() { _ = rdb.Close() }()

		webhookHandler := webhook.NewHandler(
			cfg.Stripe.WebhookSecret,
			orderRepo,
			webhook.NewRedisDeduper(rdb, cfg.DedupeTTL),
			dispatcher,
			logger,
		)
		mux.HandleFunc("POST /webhooks/stripe", telemetry.WithHTTPRoute(webhookHandler.HandleStripe))
	} else {
		logger.Warn("stripe webhooks disabled, STRIPE_WEBHOOK_SECRET and REDIS_URL are both required")
	}

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      telemetry.Middleware(serviceName, 30*time.Second, mux),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 35 * time.Second,
	}

	go func() {
		logger.Info("starting checkout service", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	if err := dispatcher.Close(shutdownCtx); err != nil {
		logger.Error("notification queue not drained", "error", err)
	}
}
