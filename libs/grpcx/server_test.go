package grpcx

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/cockroachdb/errors"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func TestServer_RefreshFollowsChecks(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	healthy := true
	check := func(context.Context) error {
		if healthy {
			return nil
		}
		return errors.New("db down")
	}
	s := NewServer(logger, []func(context.Context) error{check})
	ctx := context.Background()

	s.refresh(ctx)
	resp, err := s.Health().Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		t.Fatalf("health check: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("expected SERVING, got %s", resp.GetStatus())
	}

	healthy = false
	s.refresh(ctx)
	resp, err = s.Health().Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		t.Fatalf("health check: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("expected NOT_SERVING, got %s", resp.GetStatus())
	}
}

func TestWithRequestID_IgnoresEmpty(t *testing.T) {
	ctx := WithRequestID(context.Background(), "")
	if RequestIDFromContext(ctx) != "" {
		t.Fatalf("expected empty request id")
	}
	ctx = WithRequestID(ctx, "abc")
	if RequestIDFromContext(ctx) != "abc" {
		t.Fatalf("expected abc")
	}
}
