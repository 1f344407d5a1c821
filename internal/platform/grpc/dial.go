// Package grpc holds client-side connection helpers for sigchain peers.
package grpc

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// DialStage describes where a dial attempt failed.
type DialStage string

const (
	// DialStageConnect indicates the client connection could not be created.
	DialStageConnect DialStage = "connect"
	// DialStageHealth indicates the health check failed.
	DialStageHealth DialStage = "health"
)

// DialError wraps dial and health check failures with a stage indicator.
type DialError struct {
	Stage DialStage
	Err   error
}

// Error implements the error interface.
func (e *DialError) Error() string {
	if e == nil {
		return "gRPC dial error"
	}
	return fmt.Sprintf("gRPC %s error: %v", e.Stage, e.Err)
}

// Unwrap returns the underlying error.
func (e *DialError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// DialConfig controls how Dial connects and waits for a peer.
type DialConfig struct {
	// Timeout bounds connection plus health wait; zero means the caller's context only.
	Timeout time.Duration
	// HealthService is the service name passed to the health check ("" = server-wide).
	HealthService string
	// Logf receives health wait progress lines when set.
	Logf func(string, ...any)
	// Options are appended to the default dial options.
	Options []gogrpc.DialOption
}

// DefaultClientDialOptions returns plaintext transport and the OTel client
// stats handler so outbound calls carry trace context.
func DefaultClientDialOptions() []gogrpc.DialOption {
	return []gogrpc.DialOption{
		gogrpc.WithTransportCredentials(insecure.NewCredentials()),
		gogrpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	}
}

// Dial creates a client connection to addr and waits for its health check to
// report SERVING. The connection is closed when the health wait fails.
func Dial(ctx context.Context, addr string, cfg DialConfig) (*gogrpc.ClientConn, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	opts := append(DefaultClientDialOptions(), cfg.Options...)
	conn, err := gogrpc.NewClient(addr, opts...)
	if err != nil {
		return nil, &DialError{Stage: DialStageConnect, Err: err}
	}
	if err := WaitForHealth(ctx, conn, cfg.HealthService, cfg.Logf); err != nil {
		_ = conn.Close()
		return nil, &DialError{Stage: DialStageHealth, Err: err}
	}
	return conn, nil
}
