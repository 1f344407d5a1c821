package sqlite

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	apperrors "github.com/louisbranch/sigchain/internal/platform/errors"
	"github.com/louisbranch/sigchain/internal/services/sigchain/core/filter"
	"github.com/louisbranch/sigchain/internal/services/sigchain/domain/command"
	"github.com/louisbranch/sigchain/internal/services/sigchain/domain/protocol"
	"github.com/louisbranch/sigchain/internal/services/sigchain/domain/team"
	"github.com/louisbranch/sigchain/internal/services/sigchain/storage"
)

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	if _, err := Open(""); err == nil {
		t.Fatal("expected empty path error")
	}
}

func TestInsertBlockRejectsSecondChild(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	teamKey := key(1)
	genesis := testBlock(teamKey, key(10), nil)
	first := testBlock(teamKey, key(11), genesis.Hash)
	fork := testBlock(teamKey, key(12), genesis.Hash)

	for _, block := range []storage.Block{genesis, first} {
		if err := store.InsertBlock(ctx, block); err != nil {
			t.Fatalf("insert block: %v", err)
		}
	}
	err := store.InsertBlock(ctx, fork)
	if !errors.Is(err, storage.ErrChainConflict) {
		t.Fatalf("fork insert error = %v, want %v", err, storage.ErrChainConflict)
	}

	hasChild, err := store.HasChild(ctx, teamKey, genesis.Hash)
	if err != nil {
		t.Fatalf("has child: %v", err)
	}
	if !hasChild {
		t.Fatal("expected genesis to have a child")
	}
	hasChild, err = store.HasChild(ctx, teamKey, first.Hash)
	if err != nil {
		t.Fatalf("has child: %v", err)
	}
	if hasChild {
		t.Fatal("expected head to have no child")
	}

	got, err := store.GetBlock(ctx, first.Hash)
	if err != nil {
		t.Fatalf("get block: %v", err)
	}
	if !bytes.Equal(got.LastBlockHash, genesis.Hash) {
		t.Fatalf("last_block_hash = %x, want %x", got.LastBlockHash, genesis.Hash)
	}
	if got.Signed.Message != first.Signed.Message {
		t.Fatalf("message = %q, want %q", got.Signed.Message, first.Signed.Message)
	}
	if _, err := store.GetBlock(ctx, key(99)); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("missing block error = %v, want not found", err)
	}
}

func TestListBlocksPaginatesInChainOrder(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	teamKey := key(1)
	var (
		parent []byte
		hashes [][]byte
	)
	for i := byte(0); i < 5; i++ {
		block := testBlock(teamKey, key(20+i), parent)
		if err := store.InsertBlock(ctx, block); err != nil {
			t.Fatalf("insert block %d: %v", i, err)
		}
		parent = block.Hash
		hashes = append(hashes, block.Hash)
	}
	// Another team's chain must not leak into the listing.
	if err := store.InsertBlock(ctx, testBlock(key(2), key(40), nil)); err != nil {
		t.Fatalf("insert other team block: %v", err)
	}

	page, err := store.ListBlocks(ctx, teamKey, nil, 2)
	if err != nil {
		t.Fatalf("list first page: %v", err)
	}
	if len(page) != 2 || !bytes.Equal(page[0].Hash, hashes[0]) || !bytes.Equal(page[1].Hash, hashes[1]) {
		t.Fatalf("first page = %d blocks, want genesis then second", len(page))
	}
	page, err = store.ListBlocks(ctx, teamKey, hashes[1], 10)
	if err != nil {
		t.Fatalf("list after: %v", err)
	}
	if len(page) != 3 {
		t.Fatalf("after page len = %d, want 3", len(page))
	}
	if !bytes.Equal(page[2].Hash, hashes[4]) {
		t.Fatalf("last hash = %x, want %x", page[2].Hash, hashes[4])
	}

	count, err := store.CountBlocks(ctx, teamKey)
	if err != nil {
		t.Fatalf("count blocks: %v", err)
	}
	if count != 5 {
		t.Fatalf("count = %d, want 5", count)
	}
}

func TestConcurrentAppendsHaveSingleWinner(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	teamKey := key(1)
	genesis := testBlock(teamKey, key(10), nil)
	if err := store.InsertBlock(ctx, genesis); err != nil {
		t.Fatalf("insert genesis: %v", err)
	}

	const writers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := store.WithinTx(ctx, func(ctx context.Context, tx storage.Store) error {
				hasChild, err := tx.HasChild(ctx, teamKey, genesis.Hash)
				if err != nil {
					return err
				}
				if hasChild {
					return storage.ErrChainConflict
				}
				return tx.InsertBlock(ctx, testBlock(teamKey, key(byte(50+i)), genesis.Hash))
			})
			if err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
				return
			}
			if !errors.Is(err, storage.ErrChainConflict) {
				t.Errorf("writer %d error = %v, want chain conflict", i, err)
			}
		}(i)
	}
	wg.Wait()

	if winners != 1 {
		t.Fatalf("winners = %d, want 1", winners)
	}
	count, err := store.CountBlocks(ctx, teamKey)
	if err != nil {
		t.Fatalf("count blocks: %v", err)
	}
	if count != 2 {
		t.Fatalf("count = %d, want 2", count)
	}
}

func TestWithinTxRollsBackOnError(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	teamKey := key(1)
	boom := errors.New("boom")

	err := store.WithinTx(ctx, func(ctx context.Context, tx storage.Store) error {
		if err := tx.ApplyMutation(ctx, teamKey, team.InsertTeam{Team: team.Team{PublicKey: teamKey, LastBlockHash: key(2), Name: "ops"}}); err != nil {
			return err
		}
		// Nested calls join the outer transaction.
		return tx.WithinTx(ctx, func(ctx context.Context, tx storage.Store) error {
			return boom
		})
	})
	if !errors.Is(err, boom) {
		t.Fatalf("within tx error = %v, want %v", err, boom)
	}
	if _, err := store.GetTeam(ctx, teamKey); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("get team error = %v, want not found", err)
	}
}

func TestApplyMutationMaintainsProjections(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	teamKey := key(1)
	alice := protocol.Identity{PublicKey: key(2), EncryptionPublicKey: key(102), Email: "alice@acme.com"}
	bob := protocol.Identity{PublicKey: key(3), EncryptionPublicKey: key(103), SSHPublicKey: []byte("ssh-ed25519 AAAA"), Email: "bob@acme.com"}

	apply(t, store, teamKey,
		team.InsertTeam{Team: team.Team{PublicKey: teamKey, LastBlockHash: key(9), Name: "ops"}},
		team.InsertMember{Member: team.Member{PublicKey: alice.PublicKey, Email: alice.Email, IsAdmin: true}},
		team.UpsertIdentity{Identity: alice},
		team.InsertMember{Member: team.Member{PublicKey: bob.PublicKey, Email: bob.Email}},
		team.UpsertIdentity{Identity: bob},
		team.UpdateAdmin{PublicKey: bob.PublicKey, IsAdmin: true},
		team.UpdateTeamName{Name: "infra"},
		team.UpdateLogging{Enabled: true},
	)

	got, err := store.GetTeam(ctx, teamKey)
	if err != nil {
		t.Fatalf("get team: %v", err)
	}
	if got.Name != "infra" || !got.LoggingEnabled || got.TemporaryApprovalSeconds != nil {
		t.Fatalf("team = %+v, want infra with logging and no policy", got)
	}

	seconds := int64(3600)
	apply(t, store, teamKey, team.UpdatePolicy{Policy: protocol.Policy{TemporaryApprovalSeconds: &seconds}})
	got, err = store.GetTeam(ctx, teamKey)
	if err != nil {
		t.Fatalf("get team: %v", err)
	}
	if got.TemporaryApprovalSeconds == nil || *got.TemporaryApprovalSeconds != seconds {
		t.Fatalf("policy = %v, want %d", got.TemporaryApprovalSeconds, seconds)
	}

	member, err := store.GetMemberByEmail(ctx, teamKey, "bob@acme.com")
	if err != nil {
		t.Fatalf("get member by email: %v", err)
	}
	if !member.IsAdmin {
		t.Fatal("expected bob promoted")
	}

	apply(t, store, teamKey, team.DeleteMember{PublicKey: bob.PublicKey})
	if _, err := store.GetMember(ctx, teamKey, bob.PublicKey); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("removed member error = %v, want not found", err)
	}
	identity, err := store.GetIdentity(ctx, teamKey, bob.PublicKey)
	if err != nil {
		t.Fatalf("removed member identity: %v", err)
	}
	if string(identity.SSHPublicKey) != "ssh-ed25519 AAAA" {
		t.Fatalf("ssh key = %q", identity.SSHPublicKey)
	}
	members, err := store.ListMembers(ctx, teamKey)
	if err != nil {
		t.Fatalf("list members: %v", err)
	}
	if len(members) != 1 {
		t.Fatalf("members = %d, want 1", len(members))
	}
	identities, err := store.ListIdentities(ctx, teamKey)
	if err != nil {
		t.Fatalf("list identities: %v", err)
	}
	if len(identities) != 2 {
		t.Fatalf("identities = %d, want 2", len(identities))
	}

	err = store.ApplyMutation(ctx, teamKey, team.UpdateAdmin{PublicKey: bob.PublicKey, IsAdmin: false})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("demote removed member error = %v, want not found", err)
	}
}

func TestInvitationProjections(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	teamKey := key(1)
	keyHash := key(70)
	indirect := protocol.IndirectInvitation{
		NoncePublicKey:         key(5),
		Restriction:            protocol.EmailsRestriction{"carol@acme.com", "dave@acme.com"},
		InviteSymmetricKeyHash: keyHash,
		InviteCiphertext:       []byte("sealed"),
	}
	apply(t, store, teamKey,
		team.InsertTeam{Team: team.Team{PublicKey: teamKey, LastBlockHash: key(9), Name: "ops"}},
		team.InsertDirectInvitation{Invitation: protocol.DirectInvitation{PublicKey: key(4), Email: "bob@acme.com"}},
		team.InsertIndirectInvitation{Invitation: indirect},
	)

	counts, err := store.CountInvitations(ctx, teamKey)
	if err != nil {
		t.Fatalf("count invitations: %v", err)
	}
	if counts.Direct != 1 || counts.Indirect != 1 {
		t.Fatalf("counts = %+v, want 1 direct and 1 indirect", counts)
	}

	got, err := store.GetIndirectInvitationByKeyHash(ctx, keyHash)
	if err != nil {
		t.Fatalf("get by key hash: %v", err)
	}
	emails, ok := got.Restriction.(protocol.EmailsRestriction)
	if !ok || len(emails) != 2 || emails[1] != "dave@acme.com" {
		t.Fatalf("restriction = %#v", got.Restriction)
	}
	if string(got.InviteCiphertext) != "sealed" {
		t.Fatalf("ciphertext = %q", got.InviteCiphertext)
	}

	apply(t, store, teamKey, team.DeleteDirectInvitation{PublicKey: key(4)})
	if _, err := store.GetDirectInvitation(ctx, teamKey, key(4)); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("deleted direct invitation error = %v, want not found", err)
	}

	apply(t, store, teamKey, team.DeleteInvitations{})
	if _, err := store.GetIndirectInvitation(ctx, teamKey, key(5)); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("closed indirect invitation error = %v, want not found", err)
	}
}

func TestHostKeyPins(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	teamKey := key(1)
	github := protocol.SSHHostKey{Host: "github.com", PublicKey: []byte("ssh-ed25519 GH")}
	gitlab := protocol.SSHHostKey{Host: "gitlab.com", PublicKey: []byte("ssh-ed25519 GL")}
	apply(t, store, teamKey,
		team.InsertTeam{Team: team.Team{PublicKey: teamKey, LastBlockHash: key(9), Name: "ops"}},
		team.InsertHostKey{HostKey: github},
		team.InsertHostKey{HostKey: gitlab},
	)

	err := store.ApplyMutation(ctx, teamKey, team.InsertHostKey{HostKey: github})
	if !apperrors.IsCode(err, apperrors.CodeHostKeyAlreadyPinned) {
		t.Fatalf("duplicate pin error = %v, want %s", err, apperrors.CodeHostKeyAlreadyPinned)
	}

	pinned, err := store.IsHostKeyPinned(ctx, teamKey, github)
	if err != nil {
		t.Fatalf("is pinned: %v", err)
	}
	if !pinned {
		t.Fatal("expected github pinned")
	}
	all, err := store.ListPinnedHostKeys(ctx, teamKey, "")
	if err != nil {
		t.Fatalf("list pins: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("pins = %d, want 2", len(all))
	}
	byHost, err := store.ListPinnedHostKeys(ctx, teamKey, "gitlab.com")
	if err != nil {
		t.Fatalf("list pins by host: %v", err)
	}
	if len(byHost) != 1 || byHost[0].Host != "gitlab.com" {
		t.Fatalf("pins by host = %+v", byHost)
	}

	apply(t, store, teamKey, team.DeleteHostKey{HostKey: github})
	pinned, err = store.IsHostKeyPinned(ctx, teamKey, github)
	if err != nil {
		t.Fatalf("is pinned: %v", err)
	}
	if pinned {
		t.Fatal("expected github unpinned")
	}
}

func TestInsertLogBlockAssignsTeamTimestamps(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	teamKey := key(1)
	alice, bob := key(2), key(3)

	aliceGenesis := testLogBlock(teamKey, alice, key(30), nil)
	bobGenesis := testLogBlock(teamKey, bob, key(31), nil)
	aliceNext := testLogBlock(teamKey, alice, key(32), aliceGenesis.Hash)

	var timestamps []int64
	for _, block := range []storage.LogBlock{aliceGenesis, bobGenesis, aliceNext} {
		ts, err := store.InsertLogBlock(ctx, block)
		if err != nil {
			t.Fatalf("insert log block: %v", err)
		}
		timestamps = append(timestamps, ts)
	}
	for i, ts := range timestamps {
		if ts != int64(i+1) {
			t.Fatalf("timestamps = %v, want 1..3", timestamps)
		}
	}
	// Another team keeps its own counter.
	ts, err := store.InsertLogBlock(ctx, testLogBlock(key(8), alice, key(33), nil))
	if err != nil {
		t.Fatalf("insert other team log block: %v", err)
	}
	if ts != 1 {
		t.Fatalf("other team timestamp = %d, want 1", ts)
	}

	_, err = store.InsertLogBlock(ctx, testLogBlock(teamKey, alice, key(34), aliceGenesis.Hash))
	if !errors.Is(err, storage.ErrChainConflict) {
		t.Fatalf("log fork error = %v, want chain conflict", err)
	}

	teamBlocks, err := store.ListTeamLogBlocks(ctx, teamKey, 1, 10)
	if err != nil {
		t.Fatalf("list team log blocks: %v", err)
	}
	if len(teamBlocks) != 2 || teamBlocks[0].LogicalTimestamp != 2 || teamBlocks[1].LogicalTimestamp != 3 {
		t.Fatalf("team log blocks = %+v", teamBlocks)
	}
	mine, err := store.ListMemberLogBlocks(ctx, teamKey, alice, aliceGenesis.Hash, 10)
	if err != nil {
		t.Fatalf("list member log blocks: %v", err)
	}
	if len(mine) != 1 || !bytes.Equal(mine[0].Hash, aliceNext.Hash) {
		t.Fatalf("member log blocks after genesis = %d", len(mine))
	}
	if !bytes.Equal(mine[0].Signed.PublicKey, alice) {
		t.Fatal("expected signer restored from member key")
	}
}

func TestLogChainHeadAndKey(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	teamKey, member := key(1), key(2)

	if _, err := store.GetLogChain(ctx, teamKey, member); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("missing chain error = %v, want not found", err)
	}
	if err := store.InsertLogChain(ctx, storage.LogChain{TeamPublicKey: teamKey, MemberPublicKey: member, LastBlockHash: key(30)}); err != nil {
		t.Fatalf("insert log chain: %v", err)
	}
	err := store.InsertLogChain(ctx, storage.LogChain{TeamPublicKey: teamKey, MemberPublicKey: member, LastBlockHash: key(31)})
	if !errors.Is(err, storage.ErrChainConflict) {
		t.Fatalf("duplicate chain error = %v, want chain conflict", err)
	}
	if err := store.UpdateLogChainHead(ctx, teamKey, member, key(32)); err != nil {
		t.Fatalf("update head: %v", err)
	}
	if err := store.SetLogChainKey(ctx, teamKey, member, key(77)); err != nil {
		t.Fatalf("set key: %v", err)
	}
	chain, err := store.GetLogChain(ctx, teamKey, member)
	if err != nil {
		t.Fatalf("get log chain: %v", err)
	}
	if !bytes.Equal(chain.LastBlockHash, key(32)) || !bytes.Equal(chain.SymmetricKey, key(77)) {
		t.Fatalf("chain = %+v", chain)
	}
	if err := store.UpdateLogChainHead(ctx, teamKey, key(3), key(33)); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("update missing chain error = %v, want not found", err)
	}
}

func TestQueuedLogsDrainOldestFirst(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	teamKey := key(1)
	base := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"b", "a", "c"} {
		if err := store.EnqueueLog(ctx, teamKey, storage.QueuedLog{
			ID:        id,
			LogJSON:   []byte(fmt.Sprintf(`{"n":%d}`, i)),
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}); err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
	}

	var order []string
	for {
		next, ok, err := store.NextQueuedLog(ctx, teamKey)
		if err != nil {
			t.Fatalf("next queued log: %v", err)
		}
		if !ok {
			break
		}
		order = append(order, next.ID)
		if err := store.DeleteQueuedLog(ctx, next.ID); err != nil {
			t.Fatalf("delete queued log: %v", err)
		}
	}
	if fmt.Sprint(order) != "[b a c]" {
		t.Fatalf("order = %v, want [b a c]", order)
	}

	if err := store.EnqueueLog(ctx, teamKey, storage.QueuedLog{ID: "d", LogJSON: []byte(`{}`)}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := store.ClearQueuedLogs(ctx, teamKey); err != nil {
		t.Fatalf("clear queued logs: %v", err)
	}
	if _, ok, err := store.NextQueuedLog(ctx, teamKey); err != nil || ok {
		t.Fatalf("after clear ok = %v err = %v, want empty", ok, err)
	}
}

func TestListAuditLogsAppliesFilter(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	teamKey := key(1)
	entries := []storage.AuditLog{
		{TeamPublicKey: teamKey, MemberPublicKey: key(2), LogJSON: []byte(`{}`), UnixSeconds: 100, DeviceName: "laptop", Kind: "ssh", Success: true},
		{TeamPublicKey: teamKey, MemberPublicKey: key(2), LogJSON: []byte(`{}`), UnixSeconds: 200, DeviceName: "laptop", Kind: "ssh", Success: false},
		{TeamPublicKey: teamKey, MemberPublicKey: key(3), LogJSON: []byte(`{}`), UnixSeconds: 300, DeviceName: "phone", Kind: "git_commit", Success: true},
		{TeamPublicKey: key(9), MemberPublicKey: key(3), LogJSON: []byte(`{}`), UnixSeconds: 400, DeviceName: "phone", Kind: "ssh", Success: true},
	}
	for _, entry := range entries {
		if err := store.InsertAuditLog(ctx, entry); err != nil {
			t.Fatalf("insert audit log: %v", err)
		}
	}

	all, err := store.ListAuditLogs(ctx, teamKey, filter.SQLCondition{}, 10)
	if err != nil {
		t.Fatalf("list audit logs: %v", err)
	}
	if len(all) != 3 || all[0].UnixSeconds != 300 {
		t.Fatalf("unfiltered = %d logs, want 3 newest first", len(all))
	}

	cond, err := filter.ParseAuditLogFilter(`kind = "ssh" AND success`)
	if err != nil {
		t.Fatalf("parse filter: %v", err)
	}
	got, err := store.ListAuditLogs(ctx, teamKey, cond, 10)
	if err != nil {
		t.Fatalf("list filtered audit logs: %v", err)
	}
	if len(got) != 1 || got[0].UnixSeconds != 100 || !got[0].Success {
		t.Fatalf("filtered = %+v, want the successful ssh log", got)
	}

	cond, err = filter.ParseAuditLogFilter(`unix_seconds >= 200`)
	if err != nil {
		t.Fatalf("parse filter: %v", err)
	}
	got, err = store.ListAuditLogs(ctx, teamKey, cond, 10)
	if err != nil {
		t.Fatalf("list filtered audit logs: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("time filtered = %d, want 2", len(got))
	}
}

func TestTeamLogCursor(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	teamKey := key(1)

	cursor, err := store.GetTeamLogCursor(ctx, teamKey)
	if err != nil {
		t.Fatalf("get cursor: %v", err)
	}
	if cursor != 0 {
		t.Fatalf("initial cursor = %d, want 0", cursor)
	}
	for _, ts := range []int64{4, 9} {
		if err := store.SetTeamLogCursor(ctx, teamKey, ts); err != nil {
			t.Fatalf("set cursor: %v", err)
		}
	}
	cursor, err = store.GetTeamLogCursor(ctx, teamKey)
	if err != nil {
		t.Fatalf("get cursor: %v", err)
	}
	if cursor != 9 {
		t.Fatalf("cursor = %d, want 9", cursor)
	}
}

func TestWrappedKeyRecipients(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	teamKey := key(1)

	if err := store.AddWrappedKeyRecipients(ctx, teamKey, [][]byte{key(2), key(3)}); err != nil {
		t.Fatalf("add recipients: %v", err)
	}
	if err := store.AddWrappedKeyRecipients(ctx, teamKey, [][]byte{key(3)}); err != nil {
		t.Fatalf("add duplicate recipient: %v", err)
	}
	got, err := store.ListWrappedKeyRecipients(ctx, teamKey)
	if err != nil {
		t.Fatalf("list recipients: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("recipients = %d, want 2", len(got))
	}
	if err := store.ReplaceWrappedKeyRecipients(ctx, teamKey, [][]byte{key(4)}); err != nil {
		t.Fatalf("replace recipients: %v", err)
	}
	got, err = store.ListWrappedKeyRecipients(ctx, teamKey)
	if err != nil {
		t.Fatalf("list recipients: %v", err)
	}
	if len(got) != 1 || !bytes.Equal(got[0], key(4)) {
		t.Fatalf("recipients after replace = %x", got)
	}
}

func openTempStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(filepath.Join(t.TempDir(), "sigchain.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}
	})
	return store
}

func key(b byte) []byte {
	return bytes.Repeat([]byte{b}, 32)
}

func testBlock(teamKey, hash, parent []byte) storage.Block {
	return storage.Block{
		Hash:          hash,
		LastBlockHash: parent,
		TeamPublicKey: teamKey,
		Signed: protocol.SignedMessage{
			PublicKey: key(200),
			Message:   fmt.Sprintf(`{"block":"%x"}`, hash[:4]),
			Signature: key(201),
		},
	}
}

func testLogBlock(teamKey, member, hash, parent []byte) storage.LogBlock {
	return storage.LogBlock{
		Hash:            hash,
		LastBlockHash:   parent,
		TeamPublicKey:   teamKey,
		MemberPublicKey: member,
		Signed: protocol.SignedMessage{
			PublicKey: member,
			Message:   fmt.Sprintf(`{"log":"%x"}`, hash[:4]),
			Signature: key(201),
		},
	}
}

func apply(t *testing.T, store *Store, teamKey []byte, mutations ...command.Mutation) {
	t.Helper()
	for _, m := range mutations {
		if err := store.ApplyMutation(context.Background(), teamKey, m); err != nil {
			t.Fatalf("apply %s: %v", m.MutationKind(), err)
		}
	}
}
