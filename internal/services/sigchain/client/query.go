package client

import (
	"context"
	"errors"

	"github.com/louisbranch/sigchain/internal/services/sigchain/domain/protocol"
	"github.com/louisbranch/sigchain/internal/services/sigchain/domain/team"
	"github.com/louisbranch/sigchain/internal/services/sigchain/storage"
)

// Admins lists the active admins.
func (c *Client) Admins(ctx context.Context) ([]team.Member, error) {
	members, err := c.store.ListMembers(ctx, c.team)
	if err != nil {
		return nil, err
	}
	admins := members[:0]
	for _, m := range members {
		if m.IsAdmin {
			admins = append(admins, m)
		}
	}
	return admins, nil
}

// ActiveMembers lists the active members ordered by email.
func (c *Client) ActiveMembers(ctx context.Context) ([]team.Member, error) {
	return c.store.ListMembers(ctx, c.team)
}

// ActiveAndRemovedMembers lists every identity that ever joined the team.
func (c *Client) ActiveAndRemovedMembers(ctx context.Context) ([]protocol.Identity, error) {
	return c.store.ListIdentities(ctx, c.team)
}

// MemberByEmail returns the active member holding email.
func (c *Client) MemberByEmail(ctx context.Context, email string) (team.Member, error) {
	return c.store.GetMemberByEmail(ctx, c.team, email)
}

// IsAdmin reports whether the client's member is an active admin.
func (c *Client) IsAdmin(ctx context.Context) (bool, error) {
	member, err := c.store.GetMember(ctx, c.team, c.id.Sign.PublicKey)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return member.IsAdmin, nil
}

// TeamInfo returns the team display information.
func (c *Client) TeamInfo(ctx context.Context) (protocol.TeamInfo, error) {
	info, err := c.store.GetTeam(ctx, c.team)
	if err != nil {
		return protocol.TeamInfo{}, err
	}
	return protocol.TeamInfo{Name: info.Name}, nil
}

// Policy returns the team policy.
func (c *Client) Policy(ctx context.Context) (protocol.Policy, error) {
	info, err := c.store.GetTeam(ctx, c.team)
	if err != nil {
		return protocol.Policy{}, err
	}
	return info.Policy(), nil
}

// LoggingEnabled reports whether encrypted audit logging is on.
func (c *Client) LoggingEnabled(ctx context.Context) (bool, error) {
	info, err := c.store.GetTeam(ctx, c.team)
	if err != nil {
		return false, err
	}
	return info.LoggingEnabled, nil
}

// PinnedHostKeys lists pinned host keys, only those of host when it is set.
func (c *Client) PinnedHostKeys(ctx context.Context, host string) ([]protocol.SSHHostKey, error) {
	return c.store.ListPinnedHostKeys(ctx, c.team, host)
}

// PendingInvitationCounts counts open direct and indirect invitations.
func (c *Client) PendingInvitationCounts(ctx context.Context) (storage.InvitationCounts, error) {
	return c.store.CountInvitations(ctx, c.team)
}

// MainChainBlockCount counts replicated main-chain blocks.
func (c *Client) MainChainBlockCount(ctx context.Context) (int, error) {
	return c.store.CountBlocks(ctx, c.team)
}

// LastBlockHash returns the replicated head, nil before the first sync.
func (c *Client) LastBlockHash(ctx context.Context) ([]byte, error) {
	return c.localHead(ctx, c.store)
}

// TeamPointer addresses the team by its head when replicated, by key otherwise.
func (c *Client) TeamPointer(ctx context.Context) (protocol.TeamPointer, error) {
	return c.teamPointer(ctx, c.store)
}

// MyLogPointer addresses the member's log chain after its last replicated
// block, or from genesis when none is replicated.
func (c *Client) MyLogPointer(ctx context.Context) (protocol.LogChainPointer, error) {
	return c.myLogPointer(ctx, c.store)
}

func (c *Client) teamPointer(ctx context.Context, store storage.Store) (protocol.TeamPointer, error) {
	head, err := c.localHead(ctx, store)
	if err != nil {
		return protocol.TeamPointer{}, err
	}
	if head == nil {
		return protocol.TeamByPublicKey(c.team), nil
	}
	return protocol.TeamByLastBlockHash(head), nil
}

func (c *Client) myLogPointer(ctx context.Context, store storage.Store) (protocol.LogChainPointer, error) {
	chain, err := store.GetLogChain(ctx, c.team, c.id.Sign.PublicKey)
	if errors.Is(err, storage.ErrNotFound) {
		return protocol.LogChainPointer{Genesis: &protocol.LogChainGenesisPointer{
			TeamPublicKey:   c.team,
			MemberPublicKey: c.id.Sign.PublicKey,
		}}, nil
	}
	if err != nil {
		return protocol.LogChainPointer{}, err
	}
	return protocol.LogChainPointer{LastBlockHash: chain.LastBlockHash}, nil
}
