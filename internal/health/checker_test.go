package health

import (
	"context"
	"errors"
	"sync"
	"testing"

	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// mockPinger implements Pinger for tests.
type mockPinger struct {
	mu      sync.Mutex
	pingErr error
}

func (m *mockPinger) PingContext(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pingErr
}

func (m *mockPinger) fail(err error) {
	m.mu.Lock()
	m.pingErr = err
	m.mu.Unlock()
}

func statusOf(t *testing.T, c *Checker, svc string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := c.Server().Check(context.Background(), &healthpb.HealthCheckRequest{Service: svc})
	if err != nil {
		t.Fatalf("Check(%q): %v", svc, err)
	}
	return resp.GetStatus()
}

func TestCheck_NilPinger(t *testing.T) {
	c := NewChecker(nil, "cryptoforum.auth.v1.AuthService")
	if st := c.Check(context.Background()); st != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("status = %v, want SERVING", st)
	}
	if st := statusOf(t, c, "cryptoforum.auth.v1.AuthService"); st != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("service status = %v", st)
	}
}

func TestCheck_PingerFailureFlipsStatus(t *testing.T) {
	p := &mockPinger{}
	c := NewChecker(p, "svc")
	c.Check(context.Background())
	if st := statusOf(t, c, ""); st != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("status = %v, want SERVING", st)
	}
	p.fail(errors.New("connection refused"))
	if st := c.Check(context.Background()); st != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("status = %v, want NOT_SERVING", st)
	}
	if st := statusOf(t, c, "svc"); st != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("svc status = %v", st)
	}
	p.fail(nil)
	if st := c.Check(context.Background()); st != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("recovered status = %v", st)
	}
}
