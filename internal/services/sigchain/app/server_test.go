package server

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	sigchainservice "github.com/louisbranch/sigchain/internal/services/sigchain/api/grpc/sigchain"
	"github.com/louisbranch/sigchain/internal/services/sigchain/domain/keys"
	"github.com/louisbranch/sigchain/internal/services/sigchain/domain/protocol"
	"github.com/louisbranch/sigchain/internal/services/sigchain/domain/verify"
)

func startServer(t *testing.T, dbPath string) *Server {
	t.Helper()
	srv, err := New(context.Background(), Config{Addr: "127.0.0.1:0", DBPath: dbPath})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	serveDone := make(chan error, 1)
	go func() {
		serveDone <- srv.Serve(runCtx)
	}()
	t.Cleanup(func() {
		runCancel()
		select {
		case serveErr := <-serveDone:
			if serveErr != nil {
				t.Fatalf("serve: %v", serveErr)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("timeout waiting for server shutdown")
		}
	})
	return srv
}

func TestServer_SubmitAndReadRoundTrip(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "sigchain.db")
	srv := startServer(t, dbPath)

	client, conn, err := sigchainservice.Dial(context.Background(), srv.Addr())
	if err != nil {
		t.Fatalf("dial sigchain server: %v", err)
	}
	t.Cleanup(func() {
		if closeErr := conn.Close(); closeErr != nil {
			t.Fatalf("close gRPC connection: %v", closeErr)
		}
	})

	admin, err := keys.GenerateSignKeyPair()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	box, err := keys.GenerateBoxKeyPair()
	if err != nil {
		t.Fatalf("generate box key: %v", err)
	}
	genesis, err := verify.Sign(admin, protocol.NewMessage(time.Now(), protocol.GenesisBlock{
		TeamInfo: protocol.TeamInfo{Name: "ops"},
		CreatorIdentity: protocol.Identity{
			PublicKey:           admin.PublicKey,
			EncryptionPublicKey: box.PublicKeyBytes(),
			Email:               "alice@acme.com",
		},
	}))
	if err != nil {
		t.Fatalf("sign genesis: %v", err)
	}
	if _, err := client.Submit(context.Background(), genesis); err != nil {
		t.Fatalf("submit genesis: %v", err)
	}

	read, err := verify.Sign(admin, protocol.NewMessage(time.Now(), protocol.ReadBlocksRequest{
		TeamPointer: protocol.TeamByPublicKey(admin.PublicKey),
		Nonce:       []byte{1},
	}))
	if err != nil {
		t.Fatalf("sign read: %v", err)
	}
	resp, err := client.ReadBlocks(context.Background(), read)
	if err != nil {
		t.Fatalf("read blocks: %v", err)
	}
	if len(resp.Blocks) != 1 {
		t.Fatalf("blocks = %d, want 1", len(resp.Blocks))
	}
}

func TestNewRejectsBadAddress(t *testing.T) {
	_, err := New(context.Background(), Config{Addr: "bad-address", DBPath: filepath.Join(t.TempDir(), "sigchain.db")})
	if err == nil {
		t.Fatal("expected listen error")
	}
}

func TestServeNilServer(t *testing.T) {
	var s *Server
	if err := s.Serve(context.Background()); err == nil {
		t.Fatal("expected error for nil server")
	}
	if s.Addr() != "" {
		t.Fatal("expected empty address for nil server")
	}
}
