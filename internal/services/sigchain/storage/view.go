package storage

import (
	"context"
	"errors"

	"github.com/louisbranch/sigchain/internal/services/sigchain/domain/protocol"
	"github.com/louisbranch/sigchain/internal/services/sigchain/domain/team"
)

// TeamView scopes a ProjectionStore to one team for the decider.
func TeamView(store ProjectionStore, teamPublicKey []byte) team.View {
	return teamView{store: store, team: teamPublicKey}
}

type teamView struct {
	store ProjectionStore
	team  []byte
}

func (v teamView) Team(ctx context.Context) (team.Team, error) {
	return v.store.GetTeam(ctx, v.team)
}

func (v teamView) Member(ctx context.Context, publicKey []byte) (team.Member, bool, error) {
	return found(v.store.GetMember(ctx, v.team, publicKey))
}

func (v teamView) MemberByEmail(ctx context.Context, email string) (team.Member, bool, error) {
	return found(v.store.GetMemberByEmail(ctx, v.team, email))
}

func (v teamView) DirectInvitation(ctx context.Context, publicKey []byte) (protocol.DirectInvitation, bool, error) {
	return found(v.store.GetDirectInvitation(ctx, v.team, publicKey))
}

func (v teamView) IndirectInvitation(ctx context.Context, noncePublicKey []byte) (protocol.IndirectInvitation, bool, error) {
	return found(v.store.GetIndirectInvitation(ctx, v.team, noncePublicKey))
}

func (v teamView) HostKeyPinned(ctx context.Context, key protocol.SSHHostKey) (bool, error) {
	return v.store.IsHostKeyPinned(ctx, v.team, key)
}

func found[T any](value T, err error) (T, bool, error) {
	if errors.Is(err, ErrNotFound) {
		var zero T
		return zero, false, nil
	}
	if err != nil {
		var zero T
		return zero, false, err
	}
	return value, true, nil
}
