package engine

import (
	"bytes"
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"

	apperrors "github.com/louisbranch/sigchain/internal/platform/errors"
	"github.com/louisbranch/sigchain/internal/services/sigchain/domain/protocol"
	"github.com/louisbranch/sigchain/internal/services/sigchain/domain/verify"
	"github.com/louisbranch/sigchain/internal/services/sigchain/storage"
)

// LogApplied describes an accepted log-chain block. Exactly one of Genesis
// and Operation is set.
type LogApplied struct {
	TeamPublicKey    []byte
	MemberPublicKey  []byte
	BlockHash        []byte
	LogicalTimestamp int64
	Genesis          *protocol.GenesisLogBlock
	Operation        protocol.LogOperation
}

// VerifyAndProcessLog verifies a log-chain create or append and applies it in
// its own transaction.
func (e *Engine) VerifyAndProcessLog(ctx context.Context, signed protocol.SignedMessage) (LogApplied, error) {
	ctx, span := e.tracer.Start(ctx, "sigchain.process_log")
	defer span.End()

	var applied LogApplied
	err := e.store.WithinTx(ctx, func(ctx context.Context, tx storage.Store) error {
		var err error
		applied, err = e.ProcessLogTx(ctx, tx, signed)
		return err
	})
	if err == nil {
		span.SetAttributes(attribute.Int64("sigchain.logical_timestamp", applied.LogicalTimestamp))
	}
	endSpan(span, err)
	if err != nil {
		return LogApplied{}, err
	}
	return applied, nil
}

// ProcessLogTx verifies and applies a log-chain message using tx.
func (e *Engine) ProcessLogTx(ctx context.Context, tx storage.Store, signed protocol.SignedMessage) (LogApplied, error) {
	msg, err := verify.SignatureAndVersion(signed)
	if err != nil {
		return LogApplied{}, err
	}
	switch body := msg.Body.(type) {
	case protocol.GenesisLogBlock:
		return e.createLogChain(ctx, tx, signed, body)
	case protocol.LogBlock:
		return e.appendLog(ctx, tx, signed, body)
	case nil:
		return LogApplied{}, apperrors.New(apperrors.CodeMessageMalformed, "message body is required")
	default:
		return LogApplied{}, unexpectedBody(string(body.Chain()) + "." + string(body.Action()))
	}
}

// createLogChain starts the signer's log chain. Removed members keep their
// identity, so their chains can still be created and read by admins.
func (e *Engine) createLogChain(ctx context.Context, tx storage.Store, signed protocol.SignedMessage, genesis protocol.GenesisLogBlock) (LogApplied, error) {
	hash := signed.PayloadHash()
	exists, err := tx.LogBlockExists(ctx, hash)
	if err != nil {
		return LogApplied{}, err
	}
	if exists {
		return LogApplied{}, blockExists()
	}
	teamKey, err := ResolveTeamPointer(ctx, tx, genesis.TeamPointer)
	if err != nil {
		return LogApplied{}, err
	}
	if _, err := tx.GetIdentity(ctx, teamKey, signed.PublicKey); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return LogApplied{}, apperrors.New(apperrors.CodeLogChainNotInTeam, "log chain author has no identity in the team")
		}
		return LogApplied{}, err
	}
	if _, err := tx.GetLogChain(ctx, teamKey, signed.PublicKey); err == nil {
		return LogApplied{}, notAppending(nil)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return LogApplied{}, err
	}

	ts, err := tx.InsertLogBlock(ctx, storage.LogBlock{
		Hash:            hash,
		TeamPublicKey:   teamKey,
		MemberPublicKey: signed.PublicKey,
		Signed:          signed,
		CreatedAt:       e.now(),
	})
	if err != nil {
		if errors.Is(err, storage.ErrChainConflict) {
			return LogApplied{}, notAppending(err)
		}
		return LogApplied{}, err
	}
	err = tx.InsertLogChain(ctx, storage.LogChain{
		TeamPublicKey:   teamKey,
		MemberPublicKey: signed.PublicKey,
		LastBlockHash:   hash,
	})
	if err != nil {
		if errors.Is(err, storage.ErrChainConflict) {
			return LogApplied{}, notAppending(err)
		}
		return LogApplied{}, err
	}
	return LogApplied{
		TeamPublicKey:    teamKey,
		MemberPublicKey:  signed.PublicKey,
		BlockHash:        hash,
		LogicalTimestamp: ts,
		Genesis:          &genesis,
	}, nil
}

func (e *Engine) appendLog(ctx context.Context, tx storage.Store, signed protocol.SignedMessage, block protocol.LogBlock) (LogApplied, error) {
	hash := signed.PayloadHash()
	exists, err := tx.LogBlockExists(ctx, hash)
	if err != nil {
		return LogApplied{}, err
	}
	if exists {
		return LogApplied{}, blockExists()
	}
	if block.Operation == nil {
		return LogApplied{}, apperrors.New(apperrors.CodeMessageMalformed, "log operation is required")
	}
	parent, err := tx.GetLogBlock(ctx, block.LastBlockHash)
	if errors.Is(err, storage.ErrNotFound) {
		return LogApplied{}, blockNotFound()
	}
	if err != nil {
		return LogApplied{}, err
	}
	if !bytes.Equal(parent.MemberPublicKey, signed.PublicKey) {
		return LogApplied{}, apperrors.New(apperrors.CodeChainLinkMismatch, "parent block belongs to another member's log chain")
	}
	hasChild, err := tx.HasLogChild(ctx, parent.TeamPublicKey, signed.PublicKey, parent.Hash)
	if err != nil {
		return LogApplied{}, err
	}
	if hasChild {
		return LogApplied{}, notAppending(nil)
	}

	ts, err := tx.InsertLogBlock(ctx, storage.LogBlock{
		Hash:            hash,
		LastBlockHash:   parent.Hash,
		TeamPublicKey:   parent.TeamPublicKey,
		MemberPublicKey: signed.PublicKey,
		Signed:          signed,
		CreatedAt:       e.now(),
	})
	if err != nil {
		if errors.Is(err, storage.ErrChainConflict) {
			return LogApplied{}, notAppending(err)
		}
		return LogApplied{}, err
	}
	if err := tx.UpdateLogChainHead(ctx, parent.TeamPublicKey, signed.PublicKey, hash); err != nil {
		return LogApplied{}, err
	}
	return LogApplied{
		TeamPublicKey:    parent.TeamPublicKey,
		MemberPublicKey:  signed.PublicKey,
		BlockHash:        hash,
		LogicalTimestamp: ts,
		Operation:        block.Operation,
	}, nil
}

// ResolveTeamPointer returns the team a pointer names. A hash pointer must
// name a stored main-chain block.
func ResolveTeamPointer(ctx context.Context, store storage.Store, pointer protocol.TeamPointer) ([]byte, error) {
	switch {
	case len(pointer.PublicKey) > 0:
		if _, err := store.GetTeam(ctx, pointer.PublicKey); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, apperrors.New(apperrors.CodeTeamPointerUnmatched, "team not found")
			}
			return nil, err
		}
		return pointer.PublicKey, nil
	case len(pointer.LastBlockHash) > 0:
		block, err := store.GetBlock(ctx, pointer.LastBlockHash)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, blockNotFound()
		}
		if err != nil {
			return nil, err
		}
		return block.TeamPublicKey, nil
	default:
		return nil, apperrors.New(apperrors.CodeMessageMalformed, "team pointer is empty")
	}
}
