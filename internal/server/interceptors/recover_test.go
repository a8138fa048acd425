package interceptors

import (
	"context"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestRecoverUnary_PanicBecomesInternal(t *testing.T) {
	interceptor := RecoverUnary()
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		panic("boom")
	}
	resp, err := interceptor(context.Background(), "req", &grpc.UnaryServerInfo{FullMethod: "/test.Service/Panics"}, handler)
	if resp != nil {
		t.Errorf("resp = %v, want nil", resp)
	}
	if status.Code(err) != codes.Internal {
		t.Fatalf("code = %v, want Internal", status.Code(err))
	}
}

func TestRecoverUnary_PassesThrough(t *testing.T) {
	interceptor := RecoverUnary()
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return "ok", nil
	}
	resp, err := interceptor(context.Background(), "req", &grpc.UnaryServerInfo{FullMethod: "/test.Service/Fine"}, handler)
	if err != nil || resp != "ok" {
		t.Fatalf("got %v, %v", resp, err)
	}
}
