// Worker consumes every identity event topic from the bus and pushes the envelopes to Loki.
// Set BUS_DRIVER (kafka, amqp or redis) with its connection settings, WORKER_GROUP_ID and LOKI_URL.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cryptoforum/backend/internal/config"
	"cryptoforum/backend/internal/eventbus"
	"cryptoforum/backend/internal/identity/events"
	"cryptoforum/backend/internal/observability"
	"cryptoforum/backend/internal/telemetry/loki"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.LokiURL == "" {
		log.Fatal("worker: LOKI_URL is required")
	}

	if err := observability.InitSentry(cfg.SentryDSN, cfg.Env, "0.1.0"); err != nil {
		log.Printf("sentry: init failed, error reporting disabled: %v", err)
	}
	defer observability.FlushSentry()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		log.Println("worker: shutting down...")
		cancel()
	}()

	bus, err := eventbus.Open(ctx, cfg.BusOptions())
	if err != nil {
		log.Fatalf("eventbus: %v", err)
	}
	defer bus.Close()

	client := loki.NewClient(cfg.LokiURL, "identity-events")
	ship := func(ctx context.Context, msg eventbus.Message) error {
		pushCtx, pushCancel := context.WithTimeout(ctx, 10*time.Second)
		defer pushCancel()
		if err := client.PushEnvelope(pushCtx, msg.Body); err != nil {
			log.Printf("worker: loki push failed for %s: %v", msg.Topic, err)
			return err
		}
		return nil
	}

	for _, t := range events.AllTypes {
		if err := bus.Subscribe(ctx, events.Topic(t), cfg.WorkerGroupID, ship); err != nil {
			log.Fatalf("worker: subscribe %s: %v", t, err)
		}
	}
	log.Printf("worker: consuming %d identity topics (group %s), pushing to %s", len(events.AllTypes), cfg.WorkerGroupID, cfg.LokiURL)

	<-ctx.Done()
	log.Println("worker: stopped")
}
