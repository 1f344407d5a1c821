package client

import (
	"context"
	"errors"

	apperrors "github.com/louisbranch/sigchain/internal/platform/errors"
	"github.com/louisbranch/sigchain/internal/services/sigchain/domain/invite"
	"github.com/louisbranch/sigchain/internal/services/sigchain/domain/protocol"
	"github.com/louisbranch/sigchain/internal/services/sigchain/storage"
)

// InviteDirect invites exactly one public key and email.
func (c *Client) InviteDirect(ctx context.Context, publicKey []byte, email string) error {
	return c.write(ctx, protocol.Invite{Invitation: protocol.DirectInvitation{PublicKey: publicKey, Email: email}})
}

// CreateInviteLink appends an indirect invitation and returns the link to
// share with joiners.
func (c *Client) CreateInviteLink(ctx context.Context, restriction protocol.Restriction) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	head, err := c.localHead(ctx, c.store)
	if err != nil {
		return "", err
	}
	if head == nil {
		return "", apperrors.New(apperrors.CodeBlockNotFound, "team chain is not replicated")
	}
	link, err := invite.Create(c.team, head, restriction)
	if err != nil {
		return "", err
	}
	if _, err := c.appendOp(ctx, c.id.Sign, protocol.Invite{Invitation: link.Invitation}); err != nil {
		return "", err
	}
	return link.URL, nil
}

// CloseInvitations cancels every pending invitation.
func (c *Client) CloseInvitations(ctx context.Context) error {
	return c.write(ctx, protocol.CloseInvitations{})
}

// RemoveMember removes an active member by public key.
func (c *Client) RemoveMember(ctx context.Context, publicKey []byte) error {
	return c.write(ctx, protocol.Remove(publicKey))
}

// RemoveMemberByEmail removes the active member holding email.
func (c *Client) RemoveMemberByEmail(ctx context.Context, email string) error {
	return c.writeByEmail(ctx, email, func(pk []byte) protocol.Operation { return protocol.Remove(pk) })
}

// Leave removes the member from the team.
func (c *Client) Leave(ctx context.Context) error {
	return c.write(ctx, protocol.Leave{})
}

// SetPolicy replaces the team policy.
func (c *Client) SetPolicy(ctx context.Context, policy protocol.Policy) error {
	return c.write(ctx, protocol.SetPolicy(policy))
}

// SetTeamInfo renames the team.
func (c *Client) SetTeamInfo(ctx context.Context, info protocol.TeamInfo) error {
	return c.write(ctx, protocol.SetTeamInfo(info))
}

// PinHostKey pins an SSH host key for the team.
func (c *Client) PinHostKey(ctx context.Context, host string, publicKey []byte) error {
	return c.write(ctx, protocol.PinHostKey{Host: host, PublicKey: publicKey})
}

// UnpinHostKey removes a pinned SSH host key.
func (c *Client) UnpinHostKey(ctx context.Context, host string, publicKey []byte) error {
	return c.write(ctx, protocol.UnpinHostKey{Host: host, PublicKey: publicKey})
}

// Promote makes an active member an admin.
func (c *Client) Promote(ctx context.Context, publicKey []byte) error {
	return c.write(ctx, protocol.Promote(publicKey))
}

// PromoteByEmail promotes the active member holding email.
func (c *Client) PromoteByEmail(ctx context.Context, email string) error {
	return c.writeByEmail(ctx, email, func(pk []byte) protocol.Operation { return protocol.Promote(pk) })
}

// Demote takes admin rights from a member.
func (c *Client) Demote(ctx context.Context, publicKey []byte) error {
	return c.write(ctx, protocol.Demote(publicKey))
}

// DemoteByEmail demotes the active member holding email.
func (c *Client) DemoteByEmail(ctx context.Context, email string) error {
	return c.writeByEmail(ctx, email, func(pk []byte) protocol.Operation { return protocol.Demote(pk) })
}

// EnableLogging turns on encrypted audit logging for the team.
func (c *Client) EnableLogging(ctx context.Context) error {
	return c.write(ctx, protocol.AddLoggingEndpoint{Endpoint: protocol.LoggingCommandEncrypted})
}

// DisableLogging turns off encrypted audit logging. Queued logs are dropped.
func (c *Client) DisableLogging(ctx context.Context) error {
	return c.write(ctx, protocol.RemoveLoggingEndpoint{Endpoint: protocol.LoggingCommandEncrypted})
}

// AcceptDirectInvite replicates the team and accepts the direct invitation
// addressed to the member's key.
func (c *Client) AcceptDirectInvite(ctx context.Context, profile Profile) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.syncTeam(ctx, c.id.Sign); err != nil {
		return err
	}
	_, err := c.appendOp(ctx, c.id.Sign, protocol.AcceptInvite(c.id.protocolIdentity(profile)))
	return err
}

// FetchInvite resolves an invite link to its sealed secret.
func FetchInvite(ctx context.Context, net Broadcaster, link string) (protocol.IndirectInvitationSecret, error) {
	if net == nil {
		return protocol.IndirectInvitationSecret{}, errors.New("broadcaster is required")
	}
	key, err := invite.ParseLink(link)
	if err != nil {
		return protocol.IndirectInvitationSecret{}, err
	}
	ciphertext, err := net.InviteCiphertext(ctx, invite.KeyHash(key))
	if err != nil {
		return protocol.IndirectInvitationSecret{}, err
	}
	return invite.OpenSecret(ciphertext, key)
}

// JoinWithInvite replicates the team with the invitation nonce key, checks
// that the chain reached the block the invitation was created at, and accepts
// with the nonce key. It returns a client bound to the joined team.
func JoinWithInvite(ctx context.Context, store storage.Store, net Broadcaster, id Identity, secret protocol.IndirectInvitationSecret, profile Profile, opts ...Option) (*Client, error) {
	c, err := New(store, net, id, secret.InitialTeamPublicKey, opts...)
	if err != nil {
		return nil, err
	}
	nonce, err := invite.NonceKeyPair(secret)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.syncTeam(ctx, nonce); err != nil {
		return nil, err
	}
	reached, err := store.BlockExists(ctx, secret.LastBlockHash)
	if err != nil {
		return nil, err
	}
	if !reached {
		return nil, apperrors.New(apperrors.CodeInviteLastBlockHashNotReached, "invitation checkpoint block was not replicated")
	}
	if _, err := c.appendOp(ctx, nonce, protocol.AcceptInvite(id.protocolIdentity(profile))); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) write(ctx context.Context, op protocol.Operation) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.appendOp(ctx, c.id.Sign, op)
	return err
}

func (c *Client) writeByEmail(ctx context.Context, email string, op func(publicKey []byte) protocol.Operation) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	member, err := c.store.GetMemberByEmail(ctx, c.team, email)
	if errors.Is(err, storage.ErrNotFound) {
		return apperrors.WithMetadata(apperrors.CodeNotAMember, "no active member with email", map[string]string{"Email": email})
	}
	if err != nil {
		return err
	}
	_, err = c.appendOp(ctx, c.id.Sign, op(member.PublicKey))
	return err
}
