// Package health drives the standard gRPC health service from dependency checks.
package health

import (
	"context"
	"log"
	"time"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Pinger is used for readiness (e.g. *sql.DB).
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Checker keeps the serving status of services in sync with the pinger.
type Checker struct {
	pinger   Pinger
	server   *health.Server
	services []string
	timeout  time.Duration
}

// NewChecker returns a checker for the given service names. The overall status ("") is always updated.
// If pinger is nil the services are reported SERVING.
func NewChecker(pinger Pinger, services ...string) *Checker {
	return &Checker{
		pinger:   pinger,
		server:   health.NewServer(),
		services: append([]string{""}, services...),
		timeout:  2 * time.Second,
	}
}

// Server returns the grpc health server to register.
func (c *Checker) Server() *health.Server {
	return c.server
}

// Check pings once and publishes the result. Returns the resulting status.
func (c *Checker) Check(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	st := healthpb.HealthCheckResponse_SERVING
	if c.pinger != nil {
		pingCtx, cancel := context.WithTimeout(ctx, c.timeout)
		err := c.pinger.PingContext(pingCtx)
		cancel()
		if err != nil {
			log.Printf("health: ping failed: %v", err)
			st = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	for _, svc := range c.services {
		c.server.SetServingStatus(svc, st)
	}
	return st
}

// Run checks every interval until ctx is done, then marks everything NOT_SERVING.
func (c *Checker) Run(ctx context.Context, interval time.Duration) {
	c.Check(ctx)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			c.server.Shutdown()
			return
		case <-t.C:
			c.Check(ctx)
		}
	}
}
