package team

import (
	"fmt"

	"github.com/louisbranch/sigchain/internal/services/sigchain/domain/command"
)

// Fold applies one accepted mutation to the in-memory projection.
func (s *State) Fold(m command.Mutation) error {
	switch m := m.(type) {
	case InsertTeam:
		s.Info = m.Team
	case InsertMember:
		s.Members[string(m.Member.PublicKey)] = m.Member
	case UpsertIdentity:
		s.Identities[string(m.Identity.PublicKey)] = m.Identity
	case DeleteMember:
		delete(s.Members, string(m.PublicKey))
	case UpdateAdmin:
		member, ok := s.Members[string(m.PublicKey)]
		if !ok {
			return fmt.Errorf("fold %s: member not found", m.MutationKind())
		}
		member.IsAdmin = m.IsAdmin
		s.Members[string(m.PublicKey)] = member
	case InsertDirectInvitation:
		s.Direct[string(m.Invitation.PublicKey)] = m.Invitation
	case InsertIndirectInvitation:
		s.Indirect[string(m.Invitation.NoncePublicKey)] = m.Invitation
	case DeleteDirectInvitation:
		delete(s.Direct, string(m.PublicKey))
	case DeleteInvitations:
		clear(s.Direct)
		clear(s.Indirect)
	case UpdatePolicy:
		s.Info.TemporaryApprovalSeconds = m.Policy.TemporaryApprovalSeconds
	case UpdateTeamName:
		s.Info.Name = m.Name
	case InsertHostKey:
		if s.hostKeyIndex(m.HostKey) < 0 {
			s.HostKeys = append(s.HostKeys, m.HostKey)
		}
	case DeleteHostKey:
		if i := s.hostKeyIndex(m.HostKey); i >= 0 {
			s.HostKeys = append(s.HostKeys[:i], s.HostKeys[i+1:]...)
		}
	case UpdateLogging:
		s.Info.LoggingEnabled = m.Enabled
	default:
		return fmt.Errorf("fold: unknown mutation %T", m)
	}
	return nil
}

// SetHead records the hash of the latest applied block.
func (s *State) SetHead(hash []byte) {
	s.Info.LastBlockHash = append([]byte(nil), hash...)
}
