package server

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	authv1 "cryptoforum/backend/api/auth/v1"
	"cryptoforum/backend/internal/audit"
	auditrepo "cryptoforum/backend/internal/audit/repository"
	"cryptoforum/backend/internal/eventbus"
	"cryptoforum/backend/internal/health"
	"cryptoforum/backend/internal/identity/events"
	"cryptoforum/backend/internal/identity/router"
	identityservice "cryptoforum/backend/internal/identity/service"
	"cryptoforum/backend/internal/rpc"
	"cryptoforum/backend/internal/security"
	sessionrepo "cryptoforum/backend/internal/session/repository"
	userhandler "cryptoforum/backend/internal/user/handler"
	userrepo "cryptoforum/backend/internal/user/repository"
	userservice "cryptoforum/backend/internal/user/service"
)

const password = "Correct-Horse-9"

// mockServiceRegistrar implements grpc.ServiceRegistrar for testing.
type mockServiceRegistrar struct {
	services []string
}

func (m *mockServiceRegistrar) RegisterService(desc *grpc.ServiceDesc, impl interface{}) {
	m.services = append(m.services, desc.ServiceName)
}

func TestRegisterServices(t *testing.T) {
	reg := &mockServiceRegistrar{}
	RegisterServices(reg, Deps{})
	if len(reg.services) != 1 || reg.services[0] != authv1.ServiceName {
		t.Errorf("services = %v, want only %s", reg.services, authv1.ServiceName)
	}
	reg = &mockServiceRegistrar{}
	RegisterServices(reg, Deps{Health: health.NewChecker(nil)})
	if len(reg.services) != 2 {
		t.Errorf("services = %v, want auth and health", reg.services)
	}
}

// signUps captures confirmation tokens announced on the bus.
type signUps struct {
	mu     sync.Mutex
	tokens map[string]string
}

func (s *signUps) handle(ctx context.Context, msg eventbus.Message) error {
	_, ev, err := events.Decode(msg.Body)
	if err != nil {
		return err
	}
	e := ev.(events.UserSignedUp)
	s.mu.Lock()
	s.tokens[e.Email] = e.ConfirmationHash
	s.mu.Unlock()
	return nil
}

func (s *signUps) token(email string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokens[email]
}

type stack struct {
	bus      *eventbus.MemoryBus
	pub      *router.Publisher
	audits   *auditrepo.MemoryRepository
	sessions *sessionrepo.MemoryRepository
	signUps  *signUps
	client   authv1.AuthServiceClient
	health   healthpb.HealthClient
}

// settle waits until every published event has been consumed.
func (s *stack) settle() {
	s.pub.Wait()
	s.bus.Drain()
}

func newStack(t *testing.T) *stack {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	bus := eventbus.NewMemoryBus()

	profiles := userservice.NewProfileService(userrepo.NewMemoryRepository(), security.NewHasher(4))
	if err := userhandler.NewServer(profiles).Register(ctx, rpc.NewServer(bus, "user-service")); err != nil {
		t.Fatalf("register profiles: %v", err)
	}
	caller := rpc.NewClient(bus, "", time.Second)
	if err := caller.Start(ctx); err != nil {
		t.Fatalf("rpc client: %v", err)
	}
	profileClient := identityservice.NewRPCProfileClient(caller)

	sessions := sessionrepo.NewMemoryRepository()
	codec := security.NewTokenCodec([]byte("e2e-secret"), "cryptoforum")
	tokens := identityservice.NewTokenManager(codec, sessions, profileClient, 15*time.Minute, time.Hour)
	pub := router.NewPublisher(bus, nil, "auth-service")
	auth := identityservice.NewAuthService(tokens, profileClient, pub)

	audits := auditrepo.NewMemoryRepository()
	if err := router.NewRouter(bus, tokens, audit.NewSink(audits)).Start(ctx); err != nil {
		t.Fatalf("router: %v", err)
	}
	su := &signUps{tokens: make(map[string]string)}
	if err := bus.Subscribe(ctx, events.Topic(events.TypeUserSignedUp), "mailer", su.handle); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	checker := health.NewChecker(nil, authv1.ServiceName)
	checker.Check(ctx)
	srv := NewServer(Deps{Auth: auth, Tokens: tokens, Audit: pub, Health: checker})
	lis := bufconn.Listen(1 << 20)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	return &stack{
		bus:      bus,
		pub:      pub,
		audits:   audits,
		sessions: sessions,
		signUps:  su,
		client:   authv1.NewAuthServiceClient(conn),
		health:   healthpb.NewHealthClient(conn),
	}
}

func bearer(token string) context.Context {
	return metadata.AppendToOutgoingContext(context.Background(), "authorization", "Bearer "+token)
}

func (s *stack) registerConfirmed(t *testing.T, email string) {
	t.Helper()
	ctx := context.Background()
	if _, err := s.client.SignUp(ctx, &authv1.SignUpRequest{Email: email, Password: password, Username: "alice"}); err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	s.settle()
	tok := s.signUps.token(email)
	if tok == "" {
		t.Fatal("no confirmation token announced")
	}
	if _, err := s.client.ConfirmAccount(ctx, &authv1.ConfirmAccountRequest{Token: tok}); err != nil {
		t.Fatalf("ConfirmAccount: %v", err)
	}
}

func TestEndToEnd_AccountLifecycle(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	if _, err := s.client.SignUp(ctx, &authv1.SignUpRequest{Email: "alice@example.com", Password: password, Username: "alice"}); err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	s.settle()
	_, err := s.client.SignIn(ctx, &authv1.SignInRequest{Email: "alice@example.com", Password: password})
	if status.Code(err) != codes.FailedPrecondition {
		t.Fatalf("SignIn before confirmation: %v, want FailedPrecondition", err)
	}
	if _, err := s.client.ConfirmAccount(ctx, &authv1.ConfirmAccountRequest{Token: s.signUps.token("alice@example.com")}); err != nil {
		t.Fatalf("ConfirmAccount: %v", err)
	}

	first, err := s.client.SignIn(ctx, &authv1.SignInRequest{Email: "alice@example.com", Password: password})
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	who, err := s.client.Verify(ctx, &authv1.VerifyRequest{AccessToken: first.AccessToken})
	if err != nil || who.UserID != first.UserID {
		t.Fatalf("Verify = %+v, %v", who, err)
	}

	second, err := s.client.SignIn(ctx, &authv1.SignInRequest{Email: "alice@example.com", Password: password})
	if err != nil {
		t.Fatalf("second SignIn: %v", err)
	}
	if n := s.sessions.CountByUser(first.UserID); n != 1 {
		t.Errorf("sessions for user = %d, want 1", n)
	}
	if _, err := s.client.Refresh(ctx, &authv1.RefreshRequest{RefreshToken: first.RefreshToken}); status.Code(err) != codes.Unauthenticated {
		t.Errorf("refresh with superseded token: %v, want Unauthenticated", err)
	}
	rotated, err := s.client.Refresh(ctx, &authv1.RefreshRequest{RefreshToken: second.RefreshToken})
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	if _, err := s.client.Logout(ctx, &authv1.LogoutRequest{}); status.Code(err) != codes.Unauthenticated {
		t.Errorf("Logout without token: %v", err)
	}
	if _, err := s.client.Logout(bearer(rotated.AccessToken), &authv1.LogoutRequest{}); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	s.settle()
	if n := s.sessions.CountByUser(first.UserID); n != 0 {
		t.Errorf("sessions after logout = %d, want 0", n)
	}
	if _, err := s.client.Refresh(ctx, &authv1.RefreshRequest{RefreshToken: rotated.RefreshToken}); status.Code(err) != codes.Unauthenticated {
		t.Errorf("refresh after logout: %v, want Unauthenticated", err)
	}

	s.settle()
	logs, err := s.audits.List(ctx, 100, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	seen := make(map[string]bool)
	rejectedLogout := false
	for _, l := range logs {
		seen[l.Event] = true
		if l.Event == "auth.logout" && l.Status == "ERROR" && l.UserID == "" {
			rejectedLogout = true
		}
	}
	if !rejectedLogout {
		t.Error("logout without a token left no ERROR audit entry")
	}
	for _, want := range []string{"auth.sign_up", "auth.sign_in", "auth.refresh", "auth.logout", "auth.verify"} {
		if !seen[want] {
			t.Errorf("no audit entry %q in %v", want, seen)
		}
	}
}

func TestEndToEnd_PasswordChangeEndsSession(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	s.registerConfirmed(t, "alice@example.com")
	pair, err := s.client.SignIn(ctx, &authv1.SignInRequest{Email: "alice@example.com", Password: password})
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	res, err := s.client.UpdateSettings(bearer(pair.AccessToken), &authv1.UpdateSettingsRequest{
		Fields: map[string]string{"password": "Brand-New-Pass-1"},
	})
	if err != nil {
		t.Fatalf("UpdateSettings: %v", err)
	}
	if len(res.Changed) != 1 || res.Changed[0] != "password" {
		t.Errorf("Changed = %v", res.Changed)
	}
	s.settle()
	if _, err := s.client.Refresh(ctx, &authv1.RefreshRequest{RefreshToken: pair.RefreshToken}); status.Code(err) != codes.Unauthenticated {
		t.Errorf("refresh after password change: %v, want Unauthenticated", err)
	}
	if _, err := s.client.SignIn(ctx, &authv1.SignInRequest{Email: "alice@example.com", Password: "Brand-New-Pass-1"}); err != nil {
		t.Errorf("SignIn with new password: %v", err)
	}
}

func TestEndToEnd_CloseAccount(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	s.registerConfirmed(t, "alice@example.com")
	pair, err := s.client.SignIn(ctx, &authv1.SignInRequest{Email: "alice@example.com", Password: password})
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if _, err := s.client.CloseAccount(bearer(pair.AccessToken), &authv1.CloseAccountRequest{Password: password}); err != nil {
		t.Fatalf("CloseAccount: %v", err)
	}
	s.settle()
	if _, err := s.client.Refresh(ctx, &authv1.RefreshRequest{RefreshToken: pair.RefreshToken}); status.Code(err) != codes.Unauthenticated {
		t.Errorf("refresh after close: %v, want Unauthenticated", err)
	}
	_, err = s.client.SignIn(ctx, &authv1.SignInRequest{Email: "alice@example.com", Password: password})
	if status.Code(err) != codes.FailedPrecondition {
		t.Errorf("SignIn after close: %v, want FailedPrecondition", err)
	}
}

func TestHealth_Serving(t *testing.T) {
	s := newStack(t)
	resp, err := s.health.Check(context.Background(), &healthpb.HealthCheckRequest{Service: authv1.ServiceName})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("status = %v", resp.GetStatus())
	}
}
