package team

import (
	"bytes"
	"context"

	"github.com/louisbranch/sigchain/internal/services/sigchain/domain/protocol"
)

// Team is the projected team row.
type Team struct {
	PublicKey                []byte
	LastBlockHash            []byte
	Name                     string
	TemporaryApprovalSeconds *int64
	LoggingEnabled           bool
}

// Policy returns the team policy.
func (t Team) Policy() protocol.Policy {
	return protocol.Policy{TemporaryApprovalSeconds: t.TemporaryApprovalSeconds}
}

// Member is an active membership.
type Member struct {
	PublicKey []byte
	Email     string
	IsAdmin   bool
}

// View is the read side the decider consults, scoped to one team.
// Lookups report presence with a bool rather than a not-found error.
type View interface {
	Team(ctx context.Context) (Team, error)
	Member(ctx context.Context, publicKey []byte) (Member, bool, error)
	MemberByEmail(ctx context.Context, email string) (Member, bool, error)
	DirectInvitation(ctx context.Context, publicKey []byte) (protocol.DirectInvitation, bool, error)
	IndirectInvitation(ctx context.Context, noncePublicKey []byte) (protocol.IndirectInvitation, bool, error)
	HostKeyPinned(ctx context.Context, key protocol.SSHHostKey) (bool, error)
}

// State is an in-memory team projection.
type State struct {
	Info       Team
	Members    map[string]Member
	Identities map[string]protocol.Identity
	Direct     map[string]protocol.DirectInvitation
	Indirect   map[string]protocol.IndirectInvitation
	HostKeys   []protocol.SSHHostKey
}

// NewState returns an empty projection.
func NewState() *State {
	return &State{
		Members:    map[string]Member{},
		Identities: map[string]protocol.Identity{},
		Direct:     map[string]protocol.DirectInvitation{},
		Indirect:   map[string]protocol.IndirectInvitation{},
	}
}

func (s *State) Team(context.Context) (Team, error) { return s.Info, nil }

func (s *State) Member(_ context.Context, publicKey []byte) (Member, bool, error) {
	m, ok := s.Members[string(publicKey)]
	return m, ok, nil
}

func (s *State) MemberByEmail(_ context.Context, email string) (Member, bool, error) {
	for _, m := range s.Members {
		if m.Email == email {
			return m, true, nil
		}
	}
	return Member{}, false, nil
}

func (s *State) DirectInvitation(_ context.Context, publicKey []byte) (protocol.DirectInvitation, bool, error) {
	inv, ok := s.Direct[string(publicKey)]
	return inv, ok, nil
}

func (s *State) IndirectInvitation(_ context.Context, noncePublicKey []byte) (protocol.IndirectInvitation, bool, error) {
	inv, ok := s.Indirect[string(noncePublicKey)]
	return inv, ok, nil
}

func (s *State) HostKeyPinned(_ context.Context, key protocol.SSHHostKey) (bool, error) {
	return s.hostKeyIndex(key) >= 0, nil
}

// Admins returns the active admins.
func (s *State) Admins() []Member {
	var admins []Member
	for _, m := range s.Members {
		if m.IsAdmin {
			admins = append(admins, m)
		}
	}
	return admins
}

func (s *State) hostKeyIndex(key protocol.SSHHostKey) int {
	for i, pinned := range s.HostKeys {
		if pinned.Host == key.Host && bytes.Equal(pinned.PublicKey, key.PublicKey) {
			return i
		}
	}
	return -1
}
