package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"order-saga-pipeline/internal/config"
	"order-saga-pipeline/internal/db"
	"order-saga-pipeline/internal/metrics"
	"order-saga-pipeline/internal/outbox"
	"order-saga-pipeline/internal/rabbit"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	pool, err := db.NewPool(ctx, cfg.Postgres.URL)
	if err != nil {
		logger.Fatal("unable to connect to database", zap.Error(err))
	}
	defer pool.Close()
	logger.Info("connected to PostgreSQL")

	conn, err := rabbit.Dial(cfg.Rabbit.URL, cfg.Rabbit.DialAttempts, cfg.Rabbit.DialBackoff, logger)
	if err != nil {
		logger.Fatal("unable to connect to RabbitMQ", zap.Error(err))
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		logger.Fatal("failed to open channel", zap.Error(err))
	}
	defer ch.Close()

	if err := rabbit.DeclareExchanges(ch,
		outbox.OrderExchange,
		outbox.PaymentExchange,
		outbox.InventoryExchange,
		outbox.NotificationExchange,
	); err != nil {
		logger.Fatal("failed to declare topology", zap.Error(err))
	}

	metrics.Register()
	go serveOps(cfg.HTTP.OpsPort, logger)

	// The lease must outlive a full poll cycle so a live dispatcher is never
	// raced by a peer re-claiming rows it is still publishing.
	lease := 4 * cfg.Dispatcher.PollInterval
	store := outbox.NewPgStore(pool, lease)
	publisher := rabbit.NewPublisher(ch, logger)
	dispatcher := outbox.NewDispatcher(store, publisher, logger, otel.Tracer("outbox-dispatcher"), cfg.Dispatcher)

	if err := dispatcher.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("dispatcher exited", zap.Error(err))
	}
	logger.Info("dispatcher shut down")
}

func serveOps(port string, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	logger.Info("ops listener started", zap.String("port", port))
	if err := http.ListenAndServe(":"+port, mux); err != nil {
		logger.Error("ops listener failed", zap.Error(err))
	}
}
