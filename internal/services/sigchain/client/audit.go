package client

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"

	apperrors "github.com/louisbranch/sigchain/internal/platform/errors"
	"github.com/louisbranch/sigchain/internal/services/sigchain/core/filter"
	"github.com/louisbranch/sigchain/internal/services/sigchain/domain/logchain"
	"github.com/louisbranch/sigchain/internal/services/sigchain/domain/protocol"
	"github.com/louisbranch/sigchain/internal/services/sigchain/storage"
)

// DefaultAuditLogLimit caps AuditLogs when no limit is given.
const DefaultAuditLogLimit = 100

// EncryptLog records an audit log on the member's log chain. It is a no-op
// while the team has logging disabled. The log is queued first, so a failed
// broadcast leaves it for the next call to flush.
func (c *Client) EncryptLog(ctx context.Context, entry protocol.Log) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	info, err := c.store.GetTeam(ctx, c.team)
	if err != nil {
		return err
	}
	if !info.LoggingEnabled {
		return nil
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeMessageMalformed, "encode audit log", err)
	}
	if err := c.store.EnqueueLog(ctx, c.team, storage.QueuedLog{
		ID:        uuid.NewString(),
		LogJSON:   data,
		CreatedAt: c.now(),
	}); err != nil {
		return err
	}
	return c.flushLogs(ctx)
}

// FlushLogs drains queued audit logs onto the member's log chain.
func (c *Client) FlushLogs(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flushLogs(ctx)
}

func (c *Client) flushLogs(ctx context.Context) error {
	if err := c.createLogChainIfMissing(ctx); err != nil {
		return err
	}
	if err := c.wrapKeysIfAdminsChanged(ctx); err != nil {
		return err
	}
	for {
		var queuedID string
		_, err := c.commitSend(ctx, c.id.Sign, func(ctx context.Context, tx storage.Store) (protocol.Body, error) {
			queued, ok, err := tx.NextQueuedLog(ctx, c.team)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, errQueueEmpty
			}
			queuedID = queued.ID
			chain, err := tx.GetLogChain(ctx, c.team, c.id.Sign.PublicKey)
			if err != nil {
				return nil, err
			}
			op, err := logchain.EncryptLog(queued.LogJSON, chain.SymmetricKey)
			if err != nil {
				return nil, err
			}
			return protocol.LogBlock{LastBlockHash: chain.LastBlockHash, Operation: op}, nil
		}, func(ctx context.Context, tx storage.Store) error {
			return tx.DeleteQueuedLog(ctx, queuedID)
		})
		if errors.Is(err, errQueueEmpty) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

var errQueueEmpty = errors.New("audit log queue is empty")

func (c *Client) createLogChainIfMissing(ctx context.Context) error {
	_, err := c.store.GetLogChain(ctx, c.team, c.id.Sign.PublicKey)
	if err == nil || !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	_, err = c.commitSend(ctx, c.id.Sign, func(ctx context.Context, tx storage.Store) (protocol.Body, error) {
		pointer, err := c.teamPointer(ctx, tx)
		if err != nil {
			return nil, err
		}
		return protocol.GenesisLogBlock{TeamPointer: pointer}, nil
	}, nil)
	return err
}

// wrapKeysIfAdminsChanged shares the chain key with the current admins and
// the owner, rotating it when a previous recipient lost access.
func (c *Client) wrapKeysIfAdminsChanged(ctx context.Context) error {
	expected, err := c.logRecipients(ctx, c.store)
	if err != nil {
		return err
	}
	current, err := c.store.ListWrappedKeyRecipients(ctx, c.team)
	if err != nil {
		return err
	}
	chain, err := c.store.GetLogChain(ctx, c.team, c.id.Sign.PublicKey)
	if err != nil {
		return err
	}
	op, err := logchain.PlanWrap(expected, current, chain.SymmetricKey, c.id.Box)
	if err != nil || op == nil {
		return err
	}
	_, err = c.commitSend(ctx, c.id.Sign, func(context.Context, storage.Store) (protocol.Body, error) {
		return protocol.LogBlock{LastBlockHash: chain.LastBlockHash, Operation: op}, nil
	}, nil)
	return err
}

func (c *Client) logRecipients(ctx context.Context, store storage.Store) ([][]byte, error) {
	members, err := store.ListMembers(ctx, c.team)
	if err != nil {
		return nil, err
	}
	out := [][]byte{c.id.Box.PublicKeyBytes()}
	for _, m := range members {
		if !m.IsAdmin {
			continue
		}
		identity, err := store.GetIdentity(ctx, c.team, m.PublicKey)
		if err != nil {
			return nil, err
		}
		out = append(out, identity.EncryptionPublicKey)
	}
	return out, nil
}

// AuditLogs lists decrypted audit logs, newest first, matching an AIP-160
// filter over member, device_name, kind, success and unix_seconds.
func (c *Client) AuditLogs(ctx context.Context, filterExpr string, limit int) ([]storage.AuditLog, error) {
	cond, err := filter.ParseAuditLogFilter(filterExpr)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultAuditLogLimit
	}
	return c.store.ListAuditLogs(ctx, c.team, cond, limit)
}
