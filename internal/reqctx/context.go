// Package reqctx carries per-request caller metadata through context.Context:
// the tenant and user resolved from the gateway token, and the client IP and
// User-Agent recorded on audit entries.
package reqctx

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const (
	ctxKeyIPAddress contextKey = "audit_ip"
	ctxKeyUserAgent contextKey = "audit_ua"
	ctxKeyIdentity  contextKey = "identity"
)

// Identity is the authenticated caller of a request.
type Identity struct {
	TenantID uuid.UUID
	UserID   uuid.UUID
}

// WithIdentity stores the caller identity on ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKeyIdentity, id)
}

// IdentityFrom returns the caller identity, if one was stored.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKeyIdentity).(Identity)
	return id, ok
}

// ContextWithIPAddress adds IP address to context for audit logging.
func ContextWithIPAddress(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ctxKeyIPAddress, ip)
}

// ContextWithUserAgent adds User-Agent to context for audit logging.
func ContextWithUserAgent(ctx context.Context, ua string) context.Context {
	return context.WithValue(ctx, ctxKeyUserAgent, ua)
}

// IPAddress extracts the client IP from context.
func IPAddress(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyIPAddress).(string); ok {
		return v
	}
	return ""
}

// UserAgent extracts the client User-Agent from context.
func UserAgent(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyUserAgent).(string); ok {
		return v
	}
	return ""
}
