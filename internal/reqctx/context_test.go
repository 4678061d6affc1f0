package reqctx

import (
	"context"
	"testing"

	"github.com/google/uuid"
)

func TestIdentityRoundTrip(t *testing.T) {
	ctx := context.Background()
	if _, ok := IdentityFrom(ctx); ok {
		t.Fatal("IdentityFrom(empty) ok = true, want false")
	}

	want := Identity{TenantID: uuid.New(), UserID: uuid.New()}
	got, ok := IdentityFrom(WithIdentity(ctx, want))
	if !ok || got != want {
		t.Errorf("IdentityFrom() = %v, %v; want %v, true", got, ok, want)
	}
}

func TestRequestMetadata(t *testing.T) {
	ctx := ContextWithUserAgent(ContextWithIPAddress(context.Background(), "10.0.0.1"), "curl/8")
	if got := IPAddress(ctx); got != "10.0.0.1" {
		t.Errorf("IPAddress() = %q, want %q", got, "10.0.0.1")
	}
	if got := UserAgent(ctx); got != "curl/8" {
		t.Errorf("UserAgent() = %q, want %q", got, "curl/8")
	}
	if got := IPAddress(context.Background()); got != "" {
		t.Errorf("IPAddress(empty) = %q, want empty", got)
	}
}
