package server

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	authv1 "cryptoforum/backend/api/auth/v1"
	"cryptoforum/backend/internal/health"
	identityhandler "cryptoforum/backend/internal/identity/handler"
	identityservice "cryptoforum/backend/internal/identity/service"
	"cryptoforum/backend/internal/server/interceptors"
)

// Deps holds the dependencies of the gRPC API.
type Deps struct {
	// Auth is the auth service behind AuthService. If nil, auth RPCs return Unimplemented.
	Auth *identityservice.AuthService
	// Tokens verifies Bearer access tokens for protected RPCs.
	Tokens interceptors.AccessVerifier
	// Audit receives a LogAction for RPCs that do not audit themselves. If nil, nothing is audited by the interceptor.
	Audit interceptors.AuditPublisher
	// Health backs grpc.health.v1.Health. If nil, the health service is not registered.
	Health *health.Checker
}

// PublicMethods returns the full method names callable without a Bearer token.
func PublicMethods() map[string]bool {
	return map[string]bool{
		authv1.AuthService_SignUp_FullMethodName:         true,
		authv1.AuthService_SignIn_FullMethodName:         true,
		authv1.AuthService_Refresh_FullMethodName:        true,
		authv1.AuthService_Verify_FullMethodName:         true,
		authv1.AuthService_ConfirmAccount_FullMethodName: true,
		healthpb.Health_Check_FullMethodName:             true,
		healthpb.Health_Watch_FullMethodName:             true,
	}
}

// NewServer returns a grpc.Server with tracing, recovery, auth and audit interceptors and
// every service registered.
func NewServer(deps Deps, opts ...grpc.ServerOption) *grpc.Server {
	chain := []grpc.UnaryServerInterceptor{interceptors.RecoverUnary()}
	if deps.Audit != nil {
		skip := map[string]bool{healthpb.Health_Check_FullMethodName: true}
		chain = append(chain, interceptors.AuditUnary(deps.Audit, skip))
	}
	chain = append(chain, interceptors.AuthUnary(deps.Tokens, PublicMethods()))
	opts = append([]grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(chain...),
	}, opts...)
	s := grpc.NewServer(opts...)
	RegisterServices(s, deps)
	return s
}

// RegisterServices registers all gRPC services with the given server.
//
//   - cryptoforum.auth.v1.AuthService → internal/identity/handler
//   - grpc.health.v1.Health           → internal/health
func RegisterServices(s grpc.ServiceRegistrar, deps Deps) {
	authv1.RegisterAuthServiceServer(s, identityhandler.NewAuthServer(deps.Auth))
	if deps.Health != nil {
		healthpb.RegisterHealthServer(s, deps.Health.Server())
	}
}
