// server runs the authentication service: the AuthService gRPC API, the token lifecycle
// manager and the identity event router.
package main

import (
	"context"
	"database/sql"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	authv1 "cryptoforum/backend/api/auth/v1"
	"cryptoforum/backend/internal/audit"
	auditrepo "cryptoforum/backend/internal/audit/repository"
	"cryptoforum/backend/internal/config"
	"cryptoforum/backend/internal/db"
	"cryptoforum/backend/internal/eventbus"
	"cryptoforum/backend/internal/health"
	"cryptoforum/backend/internal/identity/router"
	identityservice "cryptoforum/backend/internal/identity/service"
	"cryptoforum/backend/internal/observability"
	"cryptoforum/backend/internal/rpc"
	"cryptoforum/backend/internal/security"
	"cryptoforum/backend/internal/server"
	sessionrepo "cryptoforum/backend/internal/session/repository"
	"cryptoforum/backend/internal/telemetry"
	telemetryotel "cryptoforum/backend/internal/telemetry/otel"
	userhandler "cryptoforum/backend/internal/user/handler"
	userrepo "cryptoforum/backend/internal/user/repository"
	userservice "cryptoforum/backend/internal/user/service"
)

const (
	serviceName    = "cryptoforum-auth"
	serviceVersion = "0.1.0"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	if err := observability.InitSentry(cfg.SentryDSN, cfg.Env, serviceVersion); err != nil {
		log.Printf("sentry: init failed, error reporting disabled: %v", err)
	}
	defer observability.FlushSentry()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	providers, err := telemetryotel.NewProviders(ctx, telemetryotel.Config{
		Endpoint:       cfg.OTelEndpoint,
		ServiceName:    serviceName,
		ServiceVersion: serviceVersion,
		InstanceID:     cfg.ServiceInstanceID,
		Insecure:       cfg.OTelInsecure,
	})
	if err != nil {
		log.Fatalf("telemetry: %v", err)
	}
	providers.SetGlobal()

	bus, err := eventbus.Open(ctx, cfg.BusOptions())
	if err != nil {
		log.Fatalf("eventbus: %v", err)
	}
	defer bus.Close()

	var (
		conn     *sql.DB
		sessions sessionrepo.Repository
		audits   auditrepo.Repository
	)
	if cfg.DatabaseURL != "" {
		conn, err = db.OpenContext(ctx, cfg.DatabaseURL, 5)
		if err != nil {
			log.Fatalf("db: %v", err)
		}
		defer conn.Close()
		sessions = sessionrepo.NewPostgresRepository(conn)
		audits = auditrepo.NewPostgresRepository(conn)
	} else {
		log.Println("db: DATABASE_URL not set; sessions and audit logs are kept in memory")
		sessions = sessionrepo.NewMemoryRepository()
		audits = auditrepo.NewMemoryRepository()
	}

	if _, inProcess := bus.(*eventbus.MemoryBus); inProcess {
		// Nothing else can reach an in-process bus, so answer profile requests here.
		var users userrepo.Repository = userrepo.NewMemoryRepository()
		if conn != nil {
			users = userrepo.NewPostgresRepository(conn)
		}
		profiles := userservice.NewProfileService(users, security.NewHasher(cfg.BcryptCost))
		if err := userhandler.NewServer(profiles).Register(ctx, rpc.NewServer(bus, "user-service")); err != nil {
			log.Fatalf("profile: %v", err)
		}
		log.Println("profile: serving user.* requests in process")
	}

	caller := rpc.NewClient(bus, cfg.ServiceInstanceID, cfg.ReplyTimeout())
	if err := caller.Start(ctx); err != nil {
		log.Fatalf("rpc: %v", err)
	}
	profiles := identityservice.NewRPCProfileClient(caller)

	codec := security.NewTokenCodec([]byte(cfg.JWTSecret), cfg.JWTIssuer)
	tokens := identityservice.NewTokenManager(codec, sessions, profiles, cfg.AccessTTL(), cfg.RefreshTTL())
	publisher := router.NewPublisher(bus, telemetryotel.NewEventEmitter(providers.LoggerProvider), serviceName)
	auth := identityservice.NewAuthService(tokens, profiles, publisher)

	if err := router.NewRouter(bus, tokens, audit.NewSink(audits)).Start(ctx); err != nil {
		log.Fatalf("router: %v", err)
	}

	var pinger health.Pinger
	if conn != nil {
		pinger = conn
	}
	checker := health.NewChecker(pinger, authv1.ServiceName)
	go checker.Run(ctx, 10*time.Second)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Fatalf("listen: %v", err)
	}
	defer lis.Close()

	s := server.NewServer(server.Deps{Auth: auth, Tokens: tokens, Audit: publisher, Health: checker})

	go func() {
		log.Printf("gRPC server listening on %s", cfg.GRPCAddr)
		if err := s.Serve(lis); err != nil {
			log.Fatalf("serve: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Println("shutting down gRPC server...")
	s.GracefulStop()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), telemetry.DefaultEmitTimeout+5*time.Second)
	defer shutdownCancel()
	if err := publisher.Flush(shutdownCtx); err != nil {
		log.Printf("publisher flush: %v", err)
	}
	cancel()

	if err := providers.Shutdown(shutdownCtx); err != nil {
		log.Printf("telemetry shutdown: %v", err)
	}
	log.Println("gRPC server stopped")
}
