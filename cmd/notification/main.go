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
	"order-saga-pipeline/internal/consumer"
	"order-saga-pipeline/internal/db"
	"order-saga-pipeline/internal/metrics"
	"order-saga-pipeline/internal/model"
	"order-saga-pipeline/internal/outbox"
	"order-saga-pipeline/internal/rabbit"
)

const (
	inventoryReservedQueue = "inventory.reserved.notification"
	inventoryRejectedQueue = "inventory.rejected.notification"
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

	setupCh, err := conn.Channel()
	if err != nil {
		logger.Fatal("failed to open channel", zap.Error(err))
	}
	if err := rabbit.DeclareExchanges(setupCh,
		outbox.OrderExchange,
		outbox.PaymentExchange,
		outbox.InventoryExchange,
		outbox.NotificationExchange,
	); err != nil {
		logger.Fatal("failed to declare topology", zap.Error(err))
	}

	queues := []rabbit.ConsumerQueue{
		{Name: inventoryReservedQueue, Exchange: outbox.InventoryExchange, RoutingKey: model.EventInventoryReserved, RetryTTL: cfg.Consumer.RetryTTL},
		{Name: inventoryRejectedQueue, Exchange: outbox.InventoryExchange, RoutingKey: model.EventInventoryRejected, RetryTTL: cfg.Consumer.RetryTTL},
	}
	for _, q := range queues {
		if err := q.Declare(setupCh); err != nil {
			logger.Fatal("failed to declare queue", zap.String("queue", q.Name), zap.Error(err))
		}
	}
	setupCh.Close()

	metrics.Register()
	go serveOps(cfg.HTTP.OpsPort, logger)

	publishCh, err := conn.Channel()
	if err != nil {
		logger.Fatal("failed to open publish channel", zap.Error(err))
	}
	defer publishCh.Close()

	store := consumer.NewStore(pool)
	notifier := &consumer.LogNotifier{Logger: logger}
	notifications := consumer.NewNotificationConsumer(store, notifier, rabbit.NewPublisher(publishCh, logger), logger)

	tracer := otel.Tracer("notification-consumer")
	errCh := make(chan error, len(queues))

	// Both queues carry inventory outcomes; one handler decides the
	// notification type from the payload status.
	for _, q := range queues {
		ch, err := conn.Channel()
		if err != nil {
			logger.Fatal("failed to open consume channel", zap.Error(err))
		}
		runner := rabbit.NewConsumerRunner(ch, q.Name, "notification-service", cfg.Consumer.Prefetch,
			notifications.HandleInventoryOutcome, logger, tracer)
		go func() { errCh <- runner.Run(ctx) }()
	}

	select {
	case <-ctx.Done():
		logger.Info("notification service shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Fatal("consumer exited", zap.Error(err))
		}
	}
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
