package team

import (
	"bytes"
	"context"
	"testing"

	apperrors "github.com/louisbranch/sigchain/internal/platform/errors"
	"github.com/louisbranch/sigchain/internal/services/sigchain/domain/command"
	"github.com/louisbranch/sigchain/internal/services/sigchain/domain/protocol"
)

func key(b byte) []byte { return bytes.Repeat([]byte{b}, 32) }

func identity(b byte, email string) protocol.Identity {
	return protocol.Identity{PublicKey: key(b), EncryptionPublicKey: key(b + 100), Email: email}
}

// newTeam returns a state created by admin 1 (alice) with member 2 (bob).
func newTeam(t *testing.T) *State {
	t.Helper()
	s := NewState()
	apply(t, s, DecideGenesis(key(1), protocol.GenesisBlock{
		TeamInfo:        protocol.TeamInfo{Name: "acme"},
		CreatorIdentity: identity(1, "alice@acme.com"),
	}, key(200)))
	decide(t, s, key(1), protocol.Invite{Invitation: protocol.DirectInvitation{PublicKey: key(2), Email: "bob@acme.com"}}, "")
	decide(t, s, key(2), protocol.AcceptInvite(identity(2, "bob@acme.com")), "")
	return s
}

func apply(t *testing.T, s *State, d command.Decision) {
	t.Helper()
	if !d.Accepted() {
		t.Fatalf("expected accepted decision, got %v", d.Err())
	}
	for _, m := range d.Mutations {
		if err := s.Fold(m); err != nil {
			t.Fatalf("fold %s: %v", m.MutationKind(), err)
		}
	}
}

// decide runs op and applies it when accepted; want is the expected
// rejection code or empty for acceptance.
func decide(t *testing.T, s *State, author []byte, op protocol.Operation, want apperrors.Code) command.Decision {
	t.Helper()
	d, err := Decide(context.Background(), s, author, op)
	if err != nil {
		t.Fatalf("decide %s: %v", protocol.OperationKind(op), err)
	}
	if want == "" {
		apply(t, s, d)
		return d
	}
	if d.Accepted() {
		t.Fatalf("decide %s: expected %s, got accepted", protocol.OperationKind(op), want)
	}
	if got := apperrors.GetCode(d.Err()); got != want {
		t.Fatalf("decide %s: code = %s, want %s", protocol.OperationKind(op), got, want)
	}
	return d
}

func TestDecideGenesis(t *testing.T) {
	genesis := protocol.GenesisBlock{CreatorIdentity: identity(1, "alice@acme.com")}

	d := DecideGenesis(key(9), genesis, key(200))
	if got := apperrors.GetCode(d.Err()); got != apperrors.CodeNotAnAdmin {
		t.Fatalf("code = %s, want %s", got, apperrors.CodeNotAnAdmin)
	}

	s := NewState()
	apply(t, s, DecideGenesis(key(1), genesis, key(200)))
	if !bytes.Equal(s.Info.PublicKey, key(1)) {
		t.Fatal("expected team key to be the creator key")
	}
	if !bytes.Equal(s.Info.LastBlockHash, key(200)) {
		t.Fatal("expected genesis hash as head")
	}
	m, ok, _ := s.Member(context.Background(), key(1))
	if !ok || !m.IsAdmin {
		t.Fatalf("expected creator to be admin, got %+v", m)
	}
}

func TestDecideGenesisRejectsShortEncryptionKey(t *testing.T) {
	creator := identity(1, "alice@acme.com")
	creator.EncryptionPublicKey = []byte{1}
	d := DecideGenesis(key(1), protocol.GenesisBlock{CreatorIdentity: creator}, key(200))
	if got := apperrors.GetCode(d.Err()); got != apperrors.CodeInvalidKey {
		t.Fatalf("code = %s, want %s", got, apperrors.CodeInvalidKey)
	}
}

func TestAdminOperationsRequireAdmin(t *testing.T) {
	ops := []protocol.Operation{
		protocol.Invite{Invitation: protocol.DirectInvitation{PublicKey: key(3), Email: "carol@acme.com"}},
		protocol.CloseInvitations{},
		protocol.Remove(key(1)),
		protocol.Promote(key(2)),
		protocol.Demote(key(1)),
		protocol.SetPolicy{},
		protocol.SetTeamInfo{Name: "other"},
		protocol.PinHostKey{Host: "github.com", PublicKey: key(50)},
		protocol.UnpinHostKey{Host: "github.com", PublicKey: key(50)},
		protocol.AddLoggingEndpoint{Endpoint: protocol.LoggingCommandEncrypted},
		protocol.RemoveLoggingEndpoint{Endpoint: protocol.LoggingCommandEncrypted},
	}
	s := newTeam(t)
	for _, op := range ops {
		t.Run(protocol.OperationKind(op), func(t *testing.T) {
			decide(t, s, key(2), op, apperrors.CodeNotAnAdmin)
			decide(t, s, key(42), op, apperrors.CodeNotAnAdmin)
		})
	}
}

func TestAcceptInviteDirect(t *testing.T) {
	s := newTeam(t)
	if _, ok := s.Direct[string(key(2))]; ok {
		t.Fatal("expected direct invitation consumed")
	}
	m, ok, _ := s.Member(context.Background(), key(2))
	if !ok || m.IsAdmin || m.Email != "bob@acme.com" {
		t.Fatalf("unexpected member %+v", m)
	}
	if _, ok := s.Identities[string(key(2))]; !ok {
		t.Fatal("expected identity recorded")
	}
}

func TestAcceptInviteDirectRejectsHijack(t *testing.T) {
	s := newTeam(t)
	decide(t, s, key(1), protocol.Invite{Invitation: protocol.DirectInvitation{PublicKey: key(3), Email: "carol@acme.com"}}, "")

	// signer holds a different key than the invitation
	decide(t, s, key(4), protocol.AcceptInvite(identity(4, "carol@acme.com")), apperrors.CodeInviteNotValid)
	// signer is the invitee but declares a foreign identity key
	decide(t, s, key(3), protocol.AcceptInvite(identity(4, "carol@acme.com")), apperrors.CodeInviteNotValid)
	// wrong email
	decide(t, s, key(3), protocol.AcceptInvite(identity(3, "mallory@acme.com")), apperrors.CodeInviteNotValid)

	decide(t, s, key(3), protocol.AcceptInvite(identity(3, "carol@acme.com")), "")
}

func TestAcceptInviteEmailInUse(t *testing.T) {
	s := newTeam(t)
	d := decide(t, s, key(2), protocol.AcceptInvite(identity(2, "bob@acme.com")), apperrors.CodeEmailInUse)
	if got := apperrors.GetMetadata(d.Err())["Email"]; got != "bob@acme.com" {
		t.Fatalf("metadata email = %q", got)
	}
}

func TestAcceptInviteIndirectDomain(t *testing.T) {
	s := newTeam(t)
	decide(t, s, key(1), protocol.Invite{Invitation: protocol.IndirectInvitation{
		NoncePublicKey:         key(60),
		Restriction:            protocol.DomainRestriction("acme.com"),
		InviteSymmetricKeyHash: key(61),
		InviteCiphertext:       []byte("sealed"),
	}}, "")

	decide(t, s, key(60), protocol.AcceptInvite(identity(5, "eve@evil.com")), apperrors.CodeInviteNotValid)
	decide(t, s, key(60), protocol.AcceptInvite(identity(5, "dave@acme.com")), "")
	// the link stays open for other matching emails
	decide(t, s, key(60), protocol.AcceptInvite(identity(6, "erin@acme.com")), "")
	if len(s.Members) != 4 {
		t.Fatalf("members = %d, want 4", len(s.Members))
	}
}

func TestAcceptInviteWithoutInvitation(t *testing.T) {
	s := newTeam(t)
	decide(t, s, key(7), protocol.AcceptInvite(identity(7, "frank@acme.com")), apperrors.CodeInviteNotValid)
}

func TestDirectInviteChecks(t *testing.T) {
	s := newTeam(t)
	invite := func(pk []byte, email string) protocol.Operation {
		return protocol.Invite{Invitation: protocol.DirectInvitation{PublicKey: pk, Email: email}}
	}

	decide(t, s, key(1), invite([]byte{1, 2}, "x@acme.com"), apperrors.CodeInvalidKey)
	decide(t, s, key(1), invite(key(2), "other@acme.com"), apperrors.CodeAlreadyOnTeam)
	decide(t, s, key(1), invite(key(3), "bob@acme.com"), apperrors.CodeEmailInUse)
	decide(t, s, key(1), invite(key(3), "carol@acme.com"), "")
	decide(t, s, key(1), invite(key(3), "carol@acme.com"), apperrors.CodeCloseInvitationsFirst)
}

func TestInvitationKeysAreExclusive(t *testing.T) {
	s := newTeam(t)
	indirect := protocol.IndirectInvitation{
		NoncePublicKey:         key(60),
		Restriction:            protocol.DomainRestriction("acme.com"),
		InviteSymmetricKeyHash: key(61),
	}
	decide(t, s, key(1), protocol.Invite{Invitation: indirect}, "")
	decide(t, s, key(1), protocol.Invite{Invitation: indirect}, apperrors.CodeInviteKeyInUse)
	decide(t, s, key(1), protocol.Invite{Invitation: protocol.DirectInvitation{PublicKey: key(60), Email: "x@acme.com"}}, apperrors.CodeInviteKeyInUse)

	decide(t, s, key(1), protocol.Invite{Invitation: protocol.DirectInvitation{PublicKey: key(3), Email: "carol@acme.com"}}, "")
	indirect.NoncePublicKey = key(3)
	decide(t, s, key(1), protocol.Invite{Invitation: indirect}, apperrors.CodeInviteKeyInUse)
}

func TestIndirectInviteValidation(t *testing.T) {
	s := newTeam(t)
	base := protocol.IndirectInvitation{NoncePublicKey: key(60), InviteSymmetricKeyHash: key(61)}

	empty := base
	empty.Restriction = protocol.EmailsRestriction{}
	decide(t, s, key(1), protocol.Invite{Invitation: empty}, apperrors.CodeInviteRestrictionEmpty)

	noHash := base
	noHash.Restriction = protocol.DomainRestriction("acme.com")
	noHash.InviteSymmetricKeyHash = nil
	decide(t, s, key(1), protocol.Invite{Invitation: noHash}, apperrors.CodeInviteSymmetricKeyHashRequired)

	member := base
	member.Restriction = protocol.EmailsRestriction{"new@acme.com", "bob@acme.com"}
	d := decide(t, s, key(1), protocol.Invite{Invitation: member}, apperrors.CodeAlreadyOnTeam)
	if got := apperrors.GetMetadata(d.Err())["Email"]; got != "bob@acme.com" {
		t.Fatalf("metadata email = %q", got)
	}
}

func TestRemoveClearsInvitations(t *testing.T) {
	s := newTeam(t)
	decide(t, s, key(1), protocol.Invite{Invitation: protocol.DirectInvitation{PublicKey: key(3), Email: "carol@acme.com"}}, "")
	decide(t, s, key(1), protocol.Invite{Invitation: protocol.IndirectInvitation{
		NoncePublicKey:         key(60),
		Restriction:            protocol.DomainRestriction("acme.com"),
		InviteSymmetricKeyHash: key(61),
	}}, "")

	decide(t, s, key(1), protocol.Remove(key(1)), apperrors.CodeMembershipTargetSelf)
	decide(t, s, key(1), protocol.Remove(key(9)), apperrors.CodeNotAMember)
	decide(t, s, key(1), protocol.Remove(key(2)), "")

	if _, ok := s.Members[string(key(2))]; ok {
		t.Fatal("expected member removed")
	}
	if len(s.Direct) != 0 || len(s.Indirect) != 0 {
		t.Fatalf("expected invitations cleared, got %d direct %d indirect", len(s.Direct), len(s.Indirect))
	}
	if _, ok := s.Identities[string(key(2))]; !ok {
		t.Fatal("expected identity kept after removal")
	}
	decide(t, s, key(3), protocol.AcceptInvite(identity(3, "carol@acme.com")), apperrors.CodeInviteNotValid)
}

func TestLeave(t *testing.T) {
	s := newTeam(t)
	decide(t, s, key(2), protocol.Leave{}, "")
	decide(t, s, key(2), protocol.Leave{}, apperrors.CodeNotAMember)
}

func TestPromoteDemote(t *testing.T) {
	s := newTeam(t)
	decide(t, s, key(1), protocol.Demote(key(2)), apperrors.CodeMembershipNotAdmin)
	decide(t, s, key(1), protocol.Promote(key(9)), apperrors.CodeNotAMember)
	decide(t, s, key(1), protocol.Promote(key(2)), "")
	decide(t, s, key(1), protocol.Promote(key(2)), apperrors.CodeMembershipAlreadyAdmin)
	if len(s.Admins()) != 2 {
		t.Fatalf("admins = %d, want 2", len(s.Admins()))
	}
	decide(t, s, key(2), protocol.Demote(key(1)), "")
	decide(t, s, key(1), protocol.SetTeamInfo{Name: "x"}, apperrors.CodeNotAnAdmin)
}

func TestHostKeys(t *testing.T) {
	s := newTeam(t)
	hk := protocol.SSHHostKey{Host: "github.com", PublicKey: key(50)}
	decide(t, s, key(1), protocol.UnpinHostKey(hk), apperrors.CodeHostKeyNotPinned)
	decide(t, s, key(1), protocol.PinHostKey(hk), "")
	decide(t, s, key(1), protocol.PinHostKey(hk), apperrors.CodeHostKeyAlreadyPinned)
	decide(t, s, key(1), protocol.PinHostKey{Host: "gitlab.com", PublicKey: key(50)}, "")
	decide(t, s, key(1), protocol.UnpinHostKey(hk), "")
	if len(s.HostKeys) != 1 || s.HostKeys[0].Host != "gitlab.com" {
		t.Fatalf("unexpected host keys %+v", s.HostKeys)
	}
}

func TestLoggingToggles(t *testing.T) {
	s := newTeam(t)
	add := protocol.AddLoggingEndpoint{Endpoint: protocol.LoggingCommandEncrypted}
	remove := protocol.RemoveLoggingEndpoint{Endpoint: protocol.LoggingCommandEncrypted}
	decide(t, s, key(1), remove, apperrors.CodeLoggingNotEnabled)
	decide(t, s, key(1), add, "")
	if !s.Info.LoggingEnabled {
		t.Fatal("expected logging enabled")
	}
	decide(t, s, key(1), add, apperrors.CodeLoggingAlreadyEnabled)
	decide(t, s, key(1), remove, "")
}

func TestPolicyAndInfoAreIdempotent(t *testing.T) {
	s := newTeam(t)
	seconds := int64(3600)
	decide(t, s, key(1), protocol.SetPolicy{TemporaryApprovalSeconds: &seconds}, "")
	decide(t, s, key(1), protocol.SetPolicy{TemporaryApprovalSeconds: &seconds}, "")
	decide(t, s, key(1), protocol.SetTeamInfo{Name: "acme"}, "")
	if got := s.Info.Policy().TemporaryApprovalSeconds; got == nil || *got != 3600 {
		t.Fatalf("policy = %v", got)
	}
}
