package sigchain

import (
	"bytes"
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	apperrors "github.com/louisbranch/sigchain/internal/platform/errors"
	"github.com/louisbranch/sigchain/internal/services/sigchain/domain/invite"
	"github.com/louisbranch/sigchain/internal/services/sigchain/domain/keys"
	"github.com/louisbranch/sigchain/internal/services/sigchain/domain/protocol"
	"github.com/louisbranch/sigchain/internal/services/sigchain/domain/verify"
	"github.com/louisbranch/sigchain/internal/services/sigchain/engine"
	"github.com/louisbranch/sigchain/internal/services/sigchain/storage/sqlite"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "sigchain.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	eng, err := engine.New(store)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	listener := bufconn.Listen(1 << 20)
	server := grpc.NewServer()
	RegisterSigchainServer(server, NewService(eng))
	go func() { _ = server.Serve(listener) }()
	t.Cleanup(server.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) { return listener.Dial() }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial bufconn: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return NewClient(conn)
}

func signBody(t *testing.T, kp keys.SignKeyPair, body protocol.Body) protocol.SignedMessage {
	t.Helper()
	signed, err := verify.Sign(kp, protocol.NewMessage(time.Now(), body))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return signed
}

func createTeam(t *testing.T, client *Client) (keys.SignKeyPair, []byte) {
	t.Helper()
	admin, err := keys.GenerateSignKeyPair()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	box, err := keys.GenerateBoxKeyPair()
	if err != nil {
		t.Fatalf("generate box key: %v", err)
	}
	hash, err := client.Submit(context.Background(), signBody(t, admin, protocol.GenesisBlock{
		TeamInfo: protocol.TeamInfo{Name: "ops"},
		CreatorIdentity: protocol.Identity{
			PublicKey:           admin.PublicKey,
			EncryptionPublicKey: box.PublicKeyBytes(),
			Email:               "alice@acme.com",
		},
	}))
	if err != nil {
		t.Fatalf("submit genesis: %v", err)
	}
	return admin, hash
}

func TestSubmitAndReadOverGRPC(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	admin, genesis := createTeam(t, client)

	next, err := client.Submit(ctx, signBody(t, admin, protocol.Block{LastBlockHash: genesis, Operation: protocol.SetTeamInfo{Name: "infra"}}))
	if err != nil {
		t.Fatalf("submit append: %v", err)
	}

	resp, err := client.ReadBlocks(ctx, signBody(t, admin, protocol.ReadBlocksRequest{
		TeamPointer: protocol.TeamByPublicKey(admin.PublicKey),
		Nonce:       []byte{1},
	}))
	if err != nil {
		t.Fatalf("read blocks: %v", err)
	}
	if len(resp.Blocks) != 2 || resp.More {
		t.Fatalf("read %d blocks (more=%v), want 2", len(resp.Blocks), resp.More)
	}
	if !bytes.Equal(resp.Blocks[1].PayloadHash(), next) {
		t.Fatal("expected blocks to keep their signed bytes across the wire")
	}
}

func TestDomainErrorsSurviveTransport(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	admin, genesis := createTeam(t, client)

	first := signBody(t, admin, protocol.Block{LastBlockHash: genesis, Operation: protocol.SetTeamInfo{Name: "a"}})
	second := signBody(t, admin, protocol.Block{LastBlockHash: genesis, Operation: protocol.SetTeamInfo{Name: "b"}})
	if _, err := client.Submit(ctx, first); err != nil {
		t.Fatalf("submit first: %v", err)
	}

	_, err := client.Submit(ctx, second)
	if !apperrors.IsCode(err, apperrors.CodeNotAppendingToMainChain) {
		t.Fatalf("error = %v, want not appending", err)
	}
	if status.Code(err) != codes.Aborted {
		t.Fatalf("status = %v, want %v", status.Code(err), codes.Aborted)
	}
	if !engine.IsRetryable(err) {
		t.Fatal("expected retryable error on the client side")
	}

	_, err = client.Submit(ctx, first)
	if !engine.IsBlockExists(err) {
		t.Fatalf("error = %v, want block exists", err)
	}

	_, err = client.Submit(ctx, signBody(t, admin, protocol.ReadBlocksRequest{TeamPointer: protocol.TeamByPublicKey(admin.PublicKey), Nonce: []byte{1}}))
	if !apperrors.IsCode(err, apperrors.CodeUnexpectedBody) {
		t.Fatalf("error = %v, want unexpected body", err)
	}
}

func TestErrorsAreLocalizedForCaller(t *testing.T) {
	client := newTestClient(t)
	admin, genesis := createTeam(t, client)
	ctx := metadata.AppendToOutgoingContext(context.Background(), LocaleMetadataKey, "en-GB, fr;q=0.5")

	_, err := client.Submit(ctx, signBody(t, admin, protocol.Block{LastBlockHash: genesis, Operation: protocol.Promote(admin.PublicKey)}))
	if !apperrors.IsCode(err, apperrors.CodeMembershipAlreadyAdmin) {
		t.Fatalf("error = %v, want already admin", err)
	}
	st, _ := status.FromError(err)
	var localized *errdetails.LocalizedMessage
	for _, detail := range st.Details() {
		if m, ok := detail.(*errdetails.LocalizedMessage); ok {
			localized = m
		}
	}
	if localized == nil {
		t.Fatal("expected a localized message detail")
	}
	if localized.GetLocale() != "en-US" {
		t.Fatalf("locale = %q, want en-US", localized.GetLocale())
	}
	if localized.GetMessage() == "" {
		t.Fatal("expected a user-facing message")
	}
}

func TestInviteCiphertextOverGRPC(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	admin, genesis := createTeam(t, client)

	link, err := invite.Create(admin.PublicKey, genesis, protocol.DomainRestriction("acme.com"))
	if err != nil {
		t.Fatalf("create link: %v", err)
	}
	if _, err := client.Submit(ctx, signBody(t, admin, protocol.Block{LastBlockHash: genesis, Operation: protocol.Invite{Invitation: link.Invitation}})); err != nil {
		t.Fatalf("submit invite: %v", err)
	}

	ciphertext, err := client.InviteCiphertext(ctx, link.Invitation.InviteSymmetricKeyHash)
	if err != nil {
		t.Fatalf("invite ciphertext: %v", err)
	}
	if !bytes.Equal(ciphertext, link.Invitation.InviteCiphertext) {
		t.Fatal("expected stored ciphertext")
	}

	_, err = client.InviteCiphertext(ctx, bytes.Repeat([]byte{9}, 32))
	if status.Code(err) != codes.NotFound {
		t.Fatalf("status = %v, want %v", status.Code(err), codes.NotFound)
	}
}

func TestServiceRequiresEngine(t *testing.T) {
	svc := NewService(nil)
	_, err := svc.Submit(context.Background(), &protocol.SignedMessage{})
	if status.Code(err) != codes.Internal {
		t.Fatalf("status = %v, want %v", status.Code(err), codes.Internal)
	}
	_, err = svc.InviteCiphertext(context.Background(), nil)
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("status = %v, want %v", status.Code(err), codes.InvalidArgument)
	}
}
