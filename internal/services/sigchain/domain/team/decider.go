package team

import (
	"bytes"
	"context"
	"crypto/ed25519"

	apperrors "github.com/louisbranch/sigchain/internal/platform/errors"
	"github.com/louisbranch/sigchain/internal/services/sigchain/domain/command"
	"github.com/louisbranch/sigchain/internal/services/sigchain/domain/protocol"
)

const (
	boxPublicKeySize = 32
	keyHashSize      = 32
)

// DecideGenesis accepts a team creation signed by the declared creator.
// blockHash becomes the initial chain head.
func DecideGenesis(author []byte, genesis protocol.GenesisBlock, blockHash []byte) command.Decision {
	creator := genesis.CreatorIdentity
	if !bytes.Equal(author, creator.PublicKey) {
		return command.Rejectf(apperrors.CodeNotAnAdmin, "genesis must be signed by the creator identity")
	}
	if rejection, ok := checkIdentity(creator); !ok {
		return command.Reject(rejection)
	}
	return command.Accept(
		InsertTeam{Team: Team{
			PublicKey:     creator.PublicKey,
			LastBlockHash: blockHash,
			Name:          genesis.TeamInfo.Name,
		}},
		InsertMember{Member: Member{PublicKey: creator.PublicKey, Email: creator.Email, IsAdmin: true}},
		UpsertIdentity{Identity: creator},
	)
}

// Decide authorizes author for op and returns the resulting mutations.
// AcceptInvite is gated on a matching invitation, Leave on membership, and
// every other operation on the author being an admin. A non-nil error is a
// storage failure; domain rejections come back in the Decision.
func Decide(ctx context.Context, view View, author []byte, op protocol.Operation) (command.Decision, error) {
	switch op := op.(type) {
	case protocol.AcceptInvite:
		return decideAcceptInvite(ctx, view, author, protocol.Identity(op))
	case protocol.Leave:
		if _, ok, err := view.Member(ctx, author); err != nil || !ok {
			return command.Rejectf(apperrors.CodeNotAMember, "only active members can leave"), err
		}
		return command.Accept(DeleteMember{PublicKey: author}), nil
	case nil:
		return command.Rejectf(apperrors.CodeMessageMalformed, "operation is required"), nil
	}

	signer, ok, err := view.Member(ctx, author)
	if err != nil {
		return command.Decision{}, err
	}
	if !ok || !signer.IsAdmin {
		return command.Rejectf(apperrors.CodeNotAnAdmin, "signer is not an admin"), nil
	}

	switch op := op.(type) {
	case protocol.Invite:
		switch inv := op.Invitation.(type) {
		case protocol.DirectInvitation:
			return decideDirectInvite(ctx, view, inv)
		case protocol.IndirectInvitation:
			return decideIndirectInvite(ctx, view, inv)
		default:
			return command.Rejectf(apperrors.CodeMessageMalformed, "invitation is required"), nil
		}
	case protocol.CloseInvitations:
		return command.Accept(DeleteInvitations{}), nil
	case protocol.Remove:
		return decideRemove(ctx, view, author, []byte(op))
	case protocol.Promote:
		return decideRole(ctx, view, []byte(op), true)
	case protocol.Demote:
		return decideRole(ctx, view, []byte(op), false)
	case protocol.SetPolicy:
		return command.Accept(UpdatePolicy{Policy: protocol.Policy(op)}), nil
	case protocol.SetTeamInfo:
		return command.Accept(UpdateTeamName{Name: op.Name}), nil
	case protocol.PinHostKey:
		key := protocol.SSHHostKey(op)
		pinned, err := view.HostKeyPinned(ctx, key)
		if err != nil {
			return command.Decision{}, err
		}
		if pinned {
			return command.Rejectf(apperrors.CodeHostKeyAlreadyPinned, "host key already pinned"), nil
		}
		return command.Accept(InsertHostKey{HostKey: key}), nil
	case protocol.UnpinHostKey:
		key := protocol.SSHHostKey(op)
		pinned, err := view.HostKeyPinned(ctx, key)
		if err != nil {
			return command.Decision{}, err
		}
		if !pinned {
			return command.Rejectf(apperrors.CodeHostKeyNotPinned, "host key not pinned"), nil
		}
		return command.Accept(DeleteHostKey{HostKey: key}), nil
	case protocol.AddLoggingEndpoint:
		return decideLogging(ctx, view, true)
	case protocol.RemoveLoggingEndpoint:
		return decideLogging(ctx, view, false)
	default:
		return command.Rejectf(apperrors.CodeMessageMalformed, "unsupported operation "+protocol.OperationKind(op)), nil
	}
}

// decideAcceptInvite checks the email first so that a second accept for an
// already joined email reports EMAIL_IN_USE whatever invitation it names.
// Indirect invitations are found by the signing nonce key and checked only
// against their restriction; the declared identity key is not bound to the
// signer.
func decideAcceptInvite(ctx context.Context, view View, author []byte, identity protocol.Identity) (command.Decision, error) {
	if rejection, ok := checkIdentity(identity); !ok {
		return command.Reject(rejection), nil
	}
	if _, used, err := view.MemberByEmail(ctx, identity.Email); err != nil || used {
		return emailInUse(identity.Email), err
	}

	indirect, ok, err := view.IndirectInvitation(ctx, author)
	if err != nil {
		return command.Decision{}, err
	}
	if ok {
		if indirect.Restriction == nil || !indirect.Restriction.Allows(identity.Email) {
			return command.Rejectf(apperrors.CodeInviteNotValid, "email does not satisfy the invitation restriction"), nil
		}
	} else {
		direct, ok, err := view.DirectInvitation(ctx, author)
		if err != nil {
			return command.Decision{}, err
		}
		if !ok {
			return command.Rejectf(apperrors.CodeInviteNotValid, "no pending invitation for signer"), nil
		}
		if !bytes.Equal(direct.PublicKey, author) || !bytes.Equal(author, identity.PublicKey) || direct.Email != identity.Email {
			return command.Rejectf(apperrors.CodeInviteNotValid, "identity does not match the direct invitation"), nil
		}
	}

	if _, member, err := view.Member(ctx, identity.PublicKey); err != nil || member {
		return command.Rejectf(apperrors.CodeAlreadyOnTeam, "identity is already on the team"), err
	}

	var mutations []command.Mutation
	if _, pending, err := view.DirectInvitation(ctx, identity.PublicKey); err != nil {
		return command.Decision{}, err
	} else if pending {
		mutations = append(mutations, DeleteDirectInvitation{PublicKey: identity.PublicKey})
	}
	mutations = append(mutations,
		InsertMember{Member: Member{PublicKey: identity.PublicKey, Email: identity.Email}},
		UpsertIdentity{Identity: identity},
	)
	return command.Accept(mutations...), nil
}

func decideDirectInvite(ctx context.Context, view View, inv protocol.DirectInvitation) (command.Decision, error) {
	if len(inv.PublicKey) != ed25519.PublicKeySize {
		return command.Rejectf(apperrors.CodeInvalidKey, "invitee public key must be an ed25519 key"), nil
	}
	if _, ok, err := view.IndirectInvitation(ctx, inv.PublicKey); err != nil || ok {
		return command.Rejectf(apperrors.CodeInviteKeyInUse, "invitation key already in use"), err
	}
	if _, ok, err := view.Member(ctx, inv.PublicKey); err != nil || ok {
		return command.Rejectf(apperrors.CodeAlreadyOnTeam, "invitee is already on the team"), err
	}
	if _, ok, err := view.MemberByEmail(ctx, inv.Email); err != nil || ok {
		return emailInUse(inv.Email), err
	}
	if _, ok, err := view.DirectInvitation(ctx, inv.PublicKey); err != nil || ok {
		return command.Rejectf(apperrors.CodeCloseInvitationsFirst, "a direct invitation for this key is pending"), err
	}
	return command.Accept(InsertDirectInvitation{Invitation: inv}), nil
}

func decideIndirectInvite(ctx context.Context, view View, inv protocol.IndirectInvitation) (command.Decision, error) {
	if len(inv.NoncePublicKey) != ed25519.PublicKeySize {
		return command.Rejectf(apperrors.CodeInvalidKey, "nonce public key must be an ed25519 key"), nil
	}
	switch r := inv.Restriction.(type) {
	case protocol.DomainRestriction:
		if r == "" {
			return command.Rejectf(apperrors.CodeInviteRestrictionEmpty, "domain restriction is empty"), nil
		}
	case protocol.EmailsRestriction:
		if len(r) == 0 {
			return command.Rejectf(apperrors.CodeInviteRestrictionEmpty, "email restriction is empty"), nil
		}
		for _, email := range r {
			if _, ok, err := view.MemberByEmail(ctx, email); err != nil || ok {
				return command.Reject(command.Rejection{
					Code:     apperrors.CodeAlreadyOnTeam,
					Message:  "an invited email is already on the team",
					Metadata: map[string]string{"Email": email},
				}), err
			}
		}
	default:
		return command.Rejectf(apperrors.CodeInviteRestrictionEmpty, "restriction is required"), nil
	}
	if len(inv.InviteSymmetricKeyHash) != keyHashSize {
		return command.Rejectf(apperrors.CodeInviteSymmetricKeyHashRequired, "invite symmetric key hash must be 32 bytes"), nil
	}
	if _, ok, err := view.DirectInvitation(ctx, inv.NoncePublicKey); err != nil || ok {
		return command.Rejectf(apperrors.CodeInviteKeyInUse, "invitation key already in use"), err
	}
	if _, ok, err := view.IndirectInvitation(ctx, inv.NoncePublicKey); err != nil || ok {
		return command.Rejectf(apperrors.CodeInviteKeyInUse, "invitation key already in use"), err
	}
	return command.Accept(InsertIndirectInvitation{Invitation: inv}), nil
}

// decideRemove drops the member and every pending invitation, so links
// issued before a departure must be re-issued.
func decideRemove(ctx context.Context, view View, author, target []byte) (command.Decision, error) {
	if bytes.Equal(author, target) {
		return command.Rejectf(apperrors.CodeMembershipTargetSelf, "cannot remove self, leave instead"), nil
	}
	if _, ok, err := view.Member(ctx, target); err != nil || !ok {
		return command.Rejectf(apperrors.CodeNotAMember, "removed key is not an active member"), err
	}
	return command.Accept(DeleteMember{PublicKey: target}, DeleteInvitations{}), nil
}

func decideRole(ctx context.Context, view View, target []byte, admin bool) (command.Decision, error) {
	member, ok, err := view.Member(ctx, target)
	if err != nil {
		return command.Decision{}, err
	}
	if !ok {
		return command.Rejectf(apperrors.CodeNotAMember, "target is not an active member"), nil
	}
	if admin && member.IsAdmin {
		return command.Rejectf(apperrors.CodeMembershipAlreadyAdmin, "already an admin"), nil
	}
	if !admin && !member.IsAdmin {
		return command.Rejectf(apperrors.CodeMembershipNotAdmin, "not an admin"), nil
	}
	return command.Accept(UpdateAdmin{PublicKey: target, IsAdmin: admin}), nil
}

func decideLogging(ctx context.Context, view View, enable bool) (command.Decision, error) {
	t, err := view.Team(ctx)
	if err != nil {
		return command.Decision{}, err
	}
	if enable && t.LoggingEnabled {
		return command.Rejectf(apperrors.CodeLoggingAlreadyEnabled, "logging already enabled"), nil
	}
	if !enable && !t.LoggingEnabled {
		return command.Rejectf(apperrors.CodeLoggingNotEnabled, "logging not enabled"), nil
	}
	return command.Accept(UpdateLogging{Enabled: enable}), nil
}

func checkIdentity(identity protocol.Identity) (command.Rejection, bool) {
	if len(identity.PublicKey) != ed25519.PublicKeySize {
		return command.Rejection{Code: apperrors.CodeInvalidKey, Message: "identity public key must be an ed25519 key"}, false
	}
	if len(identity.EncryptionPublicKey) != boxPublicKeySize {
		return command.Rejection{Code: apperrors.CodeInvalidKey, Message: "identity encryption key must be 32 bytes"}, false
	}
	if identity.Email == "" {
		return command.Rejection{Code: apperrors.CodeMessageMalformed, Message: "identity email is required"}, false
	}
	return command.Rejection{}, true
}

func emailInUse(email string) command.Decision {
	return command.Reject(command.Rejection{
		Code:     apperrors.CodeEmailInUse,
		Message:  "email already in use on this team",
		Metadata: map[string]string{"Email": email},
	})
}
