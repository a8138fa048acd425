package interceptors

import (
	"context"
	"sync/atomic"
)

type contextKey struct{ name string }

var (
	userIDKey     = contextKey{"user_id"}
	emailKey      = contextKey{"email"}
	auditScopeKey = contextKey{"audit_scope"}
)

// WithIdentity returns a context carrying the authenticated user_id and email.
// Handlers and the auth service read these via GetUserID and GetEmail.
func WithIdentity(ctx context.Context, userID, email string) context.Context {
	if scope, ok := ctx.Value(auditScopeKey).(*auditScope); ok {
		scope.userID.Store(&userID)
	}
	ctx = context.WithValue(ctx, userIDKey, userID)
	ctx = context.WithValue(ctx, emailKey, email)
	return ctx
}

// GetUserID returns the user_id from context and true if set; otherwise "", false.
func GetUserID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(userIDKey).(string)
	return v, ok && v != ""
}

// GetEmail returns the email from context and true if set; otherwise "", false.
func GetEmail(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(emailKey).(string)
	return v, ok && v != ""
}

// auditScope is shared by AuditUnary and everything it wraps. Identities set further
// down the chain are recorded here so the audit entry can name the caller.
type auditScope struct {
	audited atomic.Bool
	userID  atomic.Pointer[string]
}

func withAuditScope(ctx context.Context) (context.Context, *auditScope) {
	scope := new(auditScope)
	return context.WithValue(ctx, auditScopeKey, scope), scope
}

func (s *auditScope) user() string {
	if p := s.userID.Load(); p != nil {
		return *p
	}
	return ""
}

// MarkAudited tells AuditUnary that the call already produced its own audit entry.
// No-op outside an audited RPC.
func MarkAudited(ctx context.Context) {
	if scope, ok := ctx.Value(auditScopeKey).(*auditScope); ok {
		scope.audited.Store(true)
	}
}
