package team

import "github.com/louisbranch/sigchain/internal/services/sigchain/domain/protocol"

// InsertTeam creates the team row at genesis.
type InsertTeam struct{ Team Team }

// InsertMember adds an active membership.
type InsertMember struct{ Member Member }

// UpsertIdentity records a member identity; identities outlive memberships.
type UpsertIdentity struct{ Identity protocol.Identity }

// DeleteMember removes an active membership.
type DeleteMember struct{ PublicKey []byte }

// UpdateAdmin sets a member's admin flag.
type UpdateAdmin struct {
	PublicKey []byte
	IsAdmin   bool
}

// InsertDirectInvitation stores a direct invitation.
type InsertDirectInvitation struct {
	Invitation protocol.DirectInvitation
}

// InsertIndirectInvitation stores an indirect invitation.
type InsertIndirectInvitation struct {
	Invitation protocol.IndirectInvitation
}

// DeleteDirectInvitation consumes one direct invitation.
type DeleteDirectInvitation struct{ PublicKey []byte }

// DeleteInvitations drops every direct and indirect invitation of the team.
type DeleteInvitations struct{}

// UpdatePolicy replaces the team policy.
type UpdatePolicy struct{ Policy protocol.Policy }

// UpdateTeamName replaces the team name.
type UpdateTeamName struct{ Name string }

// InsertHostKey pins a host key.
type InsertHostKey struct{ HostKey protocol.SSHHostKey }

// DeleteHostKey unpins a host key.
type DeleteHostKey struct{ HostKey protocol.SSHHostKey }

// UpdateLogging toggles command-encrypted audit logging.
type UpdateLogging struct{ Enabled bool }

func (InsertTeam) MutationKind() string               { return "team.insert" }
func (InsertMember) MutationKind() string             { return "member.insert" }
func (UpsertIdentity) MutationKind() string           { return "identity.upsert" }
func (DeleteMember) MutationKind() string             { return "member.delete" }
func (UpdateAdmin) MutationKind() string              { return "member.update_admin" }
func (InsertDirectInvitation) MutationKind() string   { return "invitation.direct.insert" }
func (InsertIndirectInvitation) MutationKind() string { return "invitation.indirect.insert" }
func (DeleteDirectInvitation) MutationKind() string   { return "invitation.direct.delete" }
func (DeleteInvitations) MutationKind() string        { return "invitation.delete_all" }
func (UpdatePolicy) MutationKind() string             { return "team.update_policy" }
func (UpdateTeamName) MutationKind() string           { return "team.update_name" }
func (InsertHostKey) MutationKind() string            { return "host_key.insert" }
func (DeleteHostKey) MutationKind() string            { return "host_key.delete" }
func (UpdateLogging) MutationKind() string            { return "team.update_logging" }
