// profile runs the user-profile service: it answers user.* requests arriving over the event bus.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"cryptoforum/backend/internal/config"
	"cryptoforum/backend/internal/db"
	"cryptoforum/backend/internal/eventbus"
	"cryptoforum/backend/internal/observability"
	"cryptoforum/backend/internal/rpc"
	"cryptoforum/backend/internal/security"
	userhandler "cryptoforum/backend/internal/user/handler"
	userrepo "cryptoforum/backend/internal/user/repository"
	userservice "cryptoforum/backend/internal/user/service"
)

// consumerGroup is shared by every profile instance so each request is answered once.
const consumerGroup = "user-service"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("profile: DATABASE_URL is required")
	}
	if d := strings.ToLower(cfg.BusDriver); d == "" || d == eventbus.DriverMemory {
		log.Fatal("profile: BUS_DRIVER=memory cannot reach the auth service; run cmd/server alone or pick kafka, amqp or redis")
	}

	if err := observability.InitSentry(cfg.SentryDSN, cfg.Env, "0.1.0"); err != nil {
		log.Printf("sentry: init failed, error reporting disabled: %v", err)
	}
	defer observability.FlushSentry()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn, err := db.OpenContext(ctx, cfg.DatabaseURL, 5)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer conn.Close()

	bus, err := eventbus.Open(ctx, cfg.BusOptions())
	if err != nil {
		log.Fatalf("eventbus: %v", err)
	}
	defer bus.Close()

	profiles := userservice.NewProfileService(userrepo.NewPostgresRepository(conn), security.NewHasher(cfg.BcryptCost))
	if err := userhandler.NewServer(profiles).Register(ctx, rpc.NewServer(bus, consumerGroup)); err != nil {
		log.Fatalf("profile: %v", err)
	}
	log.Printf("profile: answering user.* requests on %s bus as %s", cfg.BusDriver, consumerGroup)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Println("profile: shutting down...")
}
