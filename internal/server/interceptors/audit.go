package interceptors

import (
	"context"
	"net"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"cryptoforum/backend/internal/audit"
	"cryptoforum/backend/internal/identity/events"
)

// AuditPublisher hands events to the bus without blocking the caller.
type AuditPublisher interface {
	PublishAsync(e events.Event)
}

// AuditUnary returns a unary server interceptor that publishes a LogAction after each RPC
// that did not record one itself (see MarkAudited). skipMethods is the set of full method
// names never audited (e.g. health checks). Chain it ahead of AuthUnary so rejected
// credentials are audited too. Publishing is best-effort and never fails the RPC.
func AuditUnary(pub AuditPublisher, skipMethods map[string]bool) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if skipMethods[info.FullMethod] {
			return handler(ctx, req)
		}
		ctx, scope := withAuditScope(ctx)
		resp, err := handler(ctx, req)
		if scope.audited.Load() {
			return resp, err
		}
		userID := scope.user()
		if userID == "" {
			userID, _ = GetUserID(ctx)
		}
		entry := events.LogAction{
			Event:     audit.EventForMethod(info.FullMethod),
			Message:   "call from " + ClientIP(ctx),
			Status:    events.StatusSuccess,
			UserID:    userID,
			Timestamp: time.Now().UTC(),
		}
		if err != nil {
			entry.Status = events.StatusError
			entry.Message = status.Convert(err).Message() + " (from " + ClientIP(ctx) + ")"
		}
		pub.PublishAsync(entry)
		return resp, err
	}
}

// ClientIP returns the client IP from gRPC metadata (x-forwarded-for, x-real-ip) or peer, or "unknown".
func ClientIP(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get("x-forwarded-for"); len(vals) > 0 {
			if s := strings.TrimSpace(vals[0]); s != "" {
				if i := strings.Index(s, ","); i > 0 {
					s = strings.TrimSpace(s[:i])
				}
				return s
			}
		}
		if vals := md.Get("x-real-ip"); len(vals) > 0 {
			if s := strings.TrimSpace(vals[0]); s != "" {
				return s
			}
		}
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		if host, _, err := net.SplitHostPort(p.Addr.String()); err == nil {
			return host
		}
		return p.Addr.String()
	}
	return "unknown"
}
