// Package server wires the sigchain runtime and gRPC lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/louisbranch/sigchain/internal/platform/grpc/pagination"
	"github.com/louisbranch/sigchain/internal/platform/timeouts"
	sigchainservice "github.com/louisbranch/sigchain/internal/services/sigchain/api/grpc/sigchain"
	"github.com/louisbranch/sigchain/internal/services/sigchain/engine"
	sigchainsqlite "github.com/louisbranch/sigchain/internal/services/sigchain/storage/sqlite"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

// Config controls where the server listens and stores chains.
type Config struct {
	Addr         string
	DBPath       string
	ReadPageSize int
	// SkipIntegrity disables the startup replay of stored main chains.
	SkipIntegrity bool
}

// Server hosts the sigchain gRPC API and storage lifecycle.
type Server struct {
	listener   net.Listener
	grpcServer *grpc.Server
	health     *health.Server
	store      *sigchainsqlite.Store
}

// New creates a configured sigchain server.
func New(ctx context.Context, cfg Config) (*Server, error) {
	listener, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", cfg.Addr, err)
	}

	dbPath := strings.TrimSpace(cfg.DBPath)
	if dbPath == "" {
		dbPath = filepath.Join("data", "sigchain.db")
	}
	store, err := openSigchainStore(dbPath)
	if err != nil {
		_ = listener.Close()
		return nil, err
	}

	pageSize := engine.DefaultPageSize
	if cfg.ReadPageSize > 0 {
		pageSize.Default = pagination.ClampPageSize(cfg.ReadPageSize, pageSize)
	}
	eng, err := engine.New(store, engine.WithPageSize(pageSize))
	if err != nil {
		_ = listener.Close()
		_ = store.Close()
		return nil, err
	}
	if !cfg.SkipIntegrity {
		if err := eng.VerifyIntegrity(ctx); err != nil {
			_ = listener.Close()
			_ = store.Close()
			return nil, fmt.Errorf("verify stored chains: %w", err)
		}
	}

	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthServer := health.NewServer()
	sigchainservice.RegisterSigchainServer(grpcServer, sigchainservice.NewService(eng))
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(sigchainservice.ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

	return &Server{
		listener:   listener,
		grpcServer: grpcServer,
		health:     healthServer,
		store:      store,
	}, nil
}

// Addr returns the listener address for the server.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Run creates and serves a sigchain server until context cancellation.
func Run(ctx context.Context, cfg Config) error {
	server, err := New(ctx, cfg)
	if err != nil {
		return err
	}
	return server.Serve(ctx)
}

// Serve starts the gRPC server until context cancellation.
func (s *Server) Serve(ctx context.Context) error {
	if s == nil {
		return errors.New("server is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	defer s.Close()

	log.Printf("sigchain server listening at %v", s.listener.Addr())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.grpcServer.Serve(s.listener)
	}()

	select {
	case <-ctx.Done():
		if s.health != nil {
			s.health.Shutdown()
		}
		s.gracefulStop(timeouts.Shutdown)
		err := <-serveErr
		if err == nil || errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return fmt.Errorf("serve gRPC: %w", err)
	case err := <-serveErr:
		if err == nil || errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return fmt.Errorf("serve gRPC: %w", err)
	}
}

// gracefulStop drains in-flight RPCs, forcing a stop once limit passes.
func (s *Server) gracefulStop(limit time.Duration) {
	done := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(limit):
		log.Printf("graceful stop exceeded %s; forcing stop", limit)
		s.grpcServer.Stop()
		<-done
	}
}

// Close releases sigchain server resources.
func (s *Server) Close() {
	if s == nil {
		return
	}
	if s.health != nil {
		s.health.Shutdown()
	}
	if s.grpcServer != nil {
		s.grpcServer.Stop()
	}
	if s.listener != nil {
		_ = s.listener.Close()
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Printf("close sigchain store: %v", err)
		}
		s.store = nil
	}
}

func openSigchainStore(path string) (*sigchainsqlite.Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	store, err := sigchainsqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open sigchain sqlite store: %w", err)
	}
	return store, nil
}
