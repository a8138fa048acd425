package interceptors

import (
	"context"
	"fmt"
	"log"
	"runtime/debug"

	"github.com/getsentry/sentry-go"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// RecoverUnary returns a unary server interceptor that turns handler panics into Internal
// errors and reports them to Sentry. It must be the outermost interceptor.
func RecoverUnary() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("grpc: panic in %s: %v\n%s", info.FullMethod, r, debug.Stack())
				hub := sentry.CurrentHub().Clone()
				hub.ConfigureScope(func(scope *sentry.Scope) {
					scope.SetTag("grpc.method", info.FullMethod)
				})
				hub.RecoverWithContext(ctx, r)
				resp, err = nil, status.Error(codes.Internal, fmt.Sprintf("internal error in %s", info.FullMethod))
			}
		}()
		return handler(ctx, req)
	}
}
