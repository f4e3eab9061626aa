package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"go.uber.org/zap"

	"order-saga-pipeline/internal/config"
	"order-saga-pipeline/internal/db"
	"order-saga-pipeline/internal/outbox"
)

// replay is the operator tool for outbox events that exhausted their retry
// budget: list them, inspect their payloads, and put selected events (or the
// whole backlog) back on the dispatch path.
func main() {
	var (
		list  = flag.Bool("list", false, "list failed outbox events")
		id    = flag.String("id", "", "requeue a single failed event by id")
		all   = flag.Bool("all", false, "requeue every failed event")
		limit = flag.Int("limit", 100, "max events to list or requeue")
	)
	flag.Parse()

	if !*list && *id == "" && !*all {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.Postgres.URL)
	if err != nil {
		logger.Fatal("unable to connect to database", zap.Error(err))
	}
	defer pool.Close()

	store := outbox.NewPgStore(pool, 0)

	switch {
	case *list:
		events, err := store.ListFailed(ctx, *limit)
		if err != nil {
			logger.Fatal("failed to list failed events", zap.Error(err))
		}
		if len(events) == 0 {
			fmt.Println("no failed outbox events")
			return
		}
		for _, ev := range events {
			fmt.Printf("%s  %-22s  aggregate=%s  retries=%d/%d  created=%s\n",
				ev.ID, ev.EventType, ev.AggregateID, ev.RetryCount, ev.MaxRetries,
				ev.CreatedAt.Format("2006-01-02T15:04:05Z"))
		}

	case *id != "":
		if err := store.Requeue(ctx, *id); err != nil {
			logger.Fatal("failed to requeue event", zap.String("event_id", *id), zap.Error(err))
		}
		logger.Info("event requeued", zap.String("event_id", *id))

	case *all:
		events, err := store.ListFailed(ctx, *limit)
		if err != nil {
			logger.Fatal("failed to list failed events", zap.Error(err))
		}
		requeued := 0
		for _, ev := range events {
			if err := store.Requeue(ctx, ev.ID); err != nil {
				logger.Error("failed to requeue event", zap.String("event_id", ev.ID), zap.Error(err))
				continue
			}
			requeued++
		}
		logger.Info("requeue finished", zap.Int("requeued", requeued), zap.Int("failed_total", len(events)))
	}
}
