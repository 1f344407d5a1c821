package engine

import (
	"bytes"
	"context"
	"fmt"
	"log"

	"github.com/louisbranch/sigchain/internal/services/sigchain/domain/command"
	"github.com/louisbranch/sigchain/internal/services/sigchain/domain/protocol"
	"github.com/louisbranch/sigchain/internal/services/sigchain/domain/team"
	"github.com/louisbranch/sigchain/internal/services/sigchain/domain/verify"
)

// Replay rebuilds a team projection from its stored main chain, rechecking
// hashes, signatures, parent links and every authorization decision.
func (e *Engine) Replay(ctx context.Context, teamPublicKey []byte) (*team.State, error) {
	state := team.NewState()
	limit := e.pageSize.Max
	if limit <= 0 {
		limit = DefaultPageSize.Max
	}
	var (
		after []byte
		index int
	)
	for {
		blocks, err := e.store.ListBlocks(ctx, teamPublicKey, after, limit)
		if err != nil {
			return nil, err
		}
		for _, block := range blocks {
			if !bytes.Equal(block.Signed.PayloadHash(), block.Hash) {
				return nil, fmt.Errorf("block %d: stored hash does not match payload", index)
			}
			if !bytes.Equal(block.LastBlockHash, after) {
				return nil, fmt.Errorf("block %d: parent link broken", index)
			}
			msg, err := verify.SignatureAndVersion(block.Signed)
			if err != nil {
				return nil, fmt.Errorf("block %d: %w", index, err)
			}
			if err := replayBlock(ctx, state, block.Signed.PublicKey, block.Hash, after, msg); err != nil {
				return nil, fmt.Errorf("block %d: %w", index, err)
			}
			state.SetHead(block.Hash)
			after = block.Hash
			index++
		}
		if len(blocks) < limit {
			break
		}
	}
	if index == 0 {
		return nil, fmt.Errorf("team has no stored blocks")
	}
	return state, nil
}

func replayBlock(ctx context.Context, state *team.State, author, hash, parent []byte, msg protocol.Message) error {
	var mutations []command.Mutation
	switch body := msg.Body.(type) {
	case protocol.GenesisBlock:
		if parent != nil {
			return fmt.Errorf("genesis after first block")
		}
		decision := team.DecideGenesis(author, body, hash)
		if !decision.Accepted() {
			return decision.Err()
		}
		mutations = decision.Mutations
	case protocol.Block:
		if parent == nil {
			return fmt.Errorf("chain does not start with genesis")
		}
		if !bytes.Equal(body.LastBlockHash, parent) {
			return fmt.Errorf("signed parent does not match stored parent")
		}
		decision, err := team.Decide(ctx, state, author, body.Operation)
		if err != nil {
			return err
		}
		if !decision.Accepted() {
			return decision.Err()
		}
		mutations = decision.Mutations
	default:
		return fmt.Errorf("unexpected body %T on main chain", msg.Body)
	}
	for _, m := range mutations {
		if err := state.Fold(m); err != nil {
			return err
		}
	}
	return nil
}

// VerifyIntegrity replays every stored team and compares the result with
// the stored projections.
func (e *Engine) VerifyIntegrity(ctx context.Context) error {
	teams, err := e.store.ListTeamPublicKeys(ctx)
	if err != nil {
		return fmt.Errorf("list teams: %w", err)
	}
	for _, teamKey := range teams {
		state, err := e.Replay(ctx, teamKey)
		if err != nil {
			return fmt.Errorf("replay team %s: %w", shortKey(teamKey), err)
		}
		if err := e.compareProjection(ctx, teamKey, state); err != nil {
			return fmt.Errorf("team %s: %w", shortKey(teamKey), err)
		}
	}
	log.Printf("verified %d team chains", len(teams))
	return nil
}

func (e *Engine) compareProjection(ctx context.Context, teamKey []byte, state *team.State) error {
	stored, err := e.store.GetTeam(ctx, teamKey)
	if err != nil {
		return err
	}
	if !bytes.Equal(stored.LastBlockHash, state.Info.LastBlockHash) {
		return fmt.Errorf("stored head does not match replayed head")
	}
	if stored.Name != state.Info.Name || stored.LoggingEnabled != state.Info.LoggingEnabled {
		return fmt.Errorf("stored team info does not match replay")
	}
	members, err := e.store.ListMembers(ctx, teamKey)
	if err != nil {
		return err
	}
	if len(members) != len(state.Members) {
		return fmt.Errorf("stored %d members, replay has %d", len(members), len(state.Members))
	}
	for _, m := range members {
		replayed, ok := state.Members[string(m.PublicKey)]
		if !ok || replayed.IsAdmin != m.IsAdmin || replayed.Email != m.Email {
			return fmt.Errorf("member %s does not match replay", m.Email)
		}
	}
	counts, err := e.store.CountInvitations(ctx, teamKey)
	if err != nil {
		return err
	}
	if counts.Direct != len(state.Direct) || counts.Indirect != len(state.Indirect) {
		return fmt.Errorf("stored invitations do not match replay")
	}
	return nil
}

func shortKey(key []byte) string {
	if len(key) > 4 {
		key = key[:4]
	}
	return fmt.Sprintf("%x", key)
}
