package grpc

import (
	"context"
	"fmt"
	"time"

	gogrpc "google.golang.org/grpc"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

const (
	healthInitialBackoff = 200 * time.Millisecond
	healthMaxBackoff     = time.Second
)

// WaitForHealth blocks until the gRPC health check reports SERVING or the context ends.
func WaitForHealth(ctx context.Context, conn *gogrpc.ClientConn, service string, logf func(string, ...any)) error {
	if conn == nil {
		return fmt.Errorf("gRPC connection is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if logf == nil {
		logf = func(string, ...any) {}
	}

	healthClient := grpc_health_v1.NewHealthClient(conn)
	backoff := healthInitialBackoff
	for {
		callCtx, cancel := context.WithTimeout(ctx, time.Second)
		response, err := healthClient.Check(callCtx, &grpc_health_v1.HealthCheckRequest{Service: service})
		cancel()
		switch {
		case err != nil:
			logf("waiting for gRPC health: %v", err)
		case response.GetStatus() == grpc_health_v1.HealthCheckResponse_SERVING:
			logf("gRPC health check is SERVING")
			return nil
		default:
			logf("waiting for gRPC health: status %s", response.GetStatus().String())
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for gRPC health: %w", ctx.Err())
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, healthMaxBackoff)
	}
}
