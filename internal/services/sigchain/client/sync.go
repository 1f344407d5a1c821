package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"

	apperrors "github.com/louisbranch/sigchain/internal/platform/errors"
	"github.com/louisbranch/sigchain/internal/services/sigchain/domain/keys"
	"github.com/louisbranch/sigchain/internal/services/sigchain/domain/logchain"
	"github.com/louisbranch/sigchain/internal/services/sigchain/domain/protocol"
	"github.com/louisbranch/sigchain/internal/services/sigchain/domain/verify"
	"github.com/louisbranch/sigchain/internal/services/sigchain/engine"
	"github.com/louisbranch/sigchain/internal/services/sigchain/storage"
)

// SyncTeam replicates main-chain blocks from the local head until the server
// reports no more.
func (c *Client) SyncTeam(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.syncTeam(ctx, c.id.Sign)
}

func (c *Client) syncTeam(ctx context.Context, reader keys.SignKeyPair) error {
	for {
		head, err := c.localHead(ctx, c.store)
		if err != nil {
			return err
		}
		pointer := protocol.TeamByPublicKey(c.team)
		if head != nil {
			pointer = protocol.TeamByLastBlockHash(head)
		}
		nonce, err := keys.RandomNonce()
		if err != nil {
			return err
		}
		signed, err := c.signRead(reader, protocol.ReadBlocksRequest{TeamPointer: pointer, Nonce: nonce})
		if err != nil {
			return err
		}
		resp, err := c.net.ReadBlocks(ctx, signed)
		if err != nil {
			return err
		}
		if err := c.applyMainBlocks(ctx, head, resp.Blocks); err != nil {
			return err
		}
		if !resp.More || len(resp.Blocks) == 0 {
			return nil
		}
	}
}

// applyMainBlocks checks that blocks link onto prev one after the other and
// applies each in its own transaction.
func (c *Client) applyMainBlocks(ctx context.Context, prev []byte, blocks []protocol.SignedMessage) error {
	for _, block := range blocks {
		msg, err := verify.SignatureAndVersion(block)
		if err != nil {
			return err
		}
		switch body := msg.Body.(type) {
		case protocol.GenesisBlock:
			if prev != nil {
				return apperrors.New(apperrors.CodeChainLinkMismatch, "genesis block after chain start")
			}
			if !bytes.Equal(body.CreatorIdentity.PublicKey, c.team) {
				return apperrors.New(apperrors.CodeTeamPointerUnmatched, "genesis creator does not match team public key")
			}
		case protocol.Block:
			if !bytes.Equal(body.LastBlockHash, prev) {
				return apperrors.New(apperrors.CodeChainLinkMismatch, "block does not extend the previous block")
			}
		default:
			return apperrors.Errorf(apperrors.CodeUnexpectedBody, "unexpected %s.%s block in read response", body.Chain(), body.Action())
		}
		err = c.store.WithinTx(ctx, func(ctx context.Context, tx storage.Store) error {
			return c.apply(ctx, tx, block)
		})
		if err != nil {
			return err
		}
		prev = block.PayloadHash()
	}
	return nil
}

// SyncMyLogs replicates the member's own log chain.
func (c *Client) SyncMyLogs(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for {
		pointer, err := c.myLogPointer(ctx, c.store)
		if err != nil {
			return err
		}
		resp, err := c.readLogs(ctx, protocol.LogFilter{Member: &pointer})
		if err != nil {
			return err
		}
		for _, block := range resp.Blocks {
			if err := c.applyLogBlock(ctx, block); err != nil {
				return err
			}
		}
		if !resp.More || len(resp.Blocks) == 0 {
			return nil
		}
	}
}

// SyncTeamLogs replicates every member log chain newer than the stored
// logical timestamp cursor. Own blocks read back are already applied.
func (c *Client) SyncTeamLogs(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for {
		cursor, err := c.store.GetTeamLogCursor(ctx, c.team)
		if err != nil {
			return err
		}
		resp, err := c.readLogs(ctx, protocol.LogFilter{Team: &protocol.TeamLogFilter{
			TeamPublicKey:        c.team,
			LastLogicalTimestamp: cursor,
		}})
		if err != nil {
			return err
		}
		for _, block := range resp.Blocks {
			if err := c.applyLogBlock(ctx, block); err != nil {
				return err
			}
		}
		if resp.UpdateLogicalTimestamp != nil {
			if err := c.store.SetTeamLogCursor(ctx, c.team, *resp.UpdateLogicalTimestamp); err != nil {
				return err
			}
		}
		if !resp.More || len(resp.Blocks) == 0 {
			return nil
		}
	}
}

func (c *Client) readLogs(ctx context.Context, filter protocol.LogFilter) (protocol.ReadLogBlocksResponse, error) {
	nonce, err := keys.RandomNonce()
	if err != nil {
		return protocol.ReadLogBlocksResponse{}, err
	}
	signed, err := c.signRead(c.id.Sign, protocol.ReadLogBlocksRequest{Nonce: nonce, Filter: filter})
	if err != nil {
		return protocol.ReadLogBlocksResponse{}, err
	}
	return c.net.ReadLogBlocks(ctx, signed)
}

func (c *Client) applyLogBlock(ctx context.Context, block protocol.SignedMessage) error {
	err := c.store.WithinTx(ctx, func(ctx context.Context, tx storage.Store) error {
		return c.apply(ctx, tx, block)
	})
	if engine.IsBlockExists(err) {
		return nil
	}
	return err
}

// apply runs signed through the local engine and updates the client-only
// tables the block affects.
func (c *Client) apply(ctx context.Context, tx storage.Store, signed protocol.SignedMessage) error {
	msg, err := verify.SignatureAndVersion(signed)
	if err != nil {
		return err
	}
	if msg.Body == nil {
		return apperrors.New(apperrors.CodeMessageMalformed, "message body is required")
	}
	if msg.Body.Chain() == protocol.ChainLog {
		applied, err := c.engine.ProcessLogTx(ctx, tx, signed)
		if err != nil {
			return err
		}
		return c.afterLog(ctx, tx, applied)
	}
	applied, err := c.engine.ProcessTx(ctx, tx, signed)
	if err != nil {
		return err
	}
	if !bytes.Equal(applied.TeamPublicKey, c.team) {
		return apperrors.New(apperrors.CodeTeamPointerUnmatched, "block belongs to another team")
	}
	if block, ok := applied.Message.Body.(protocol.Block); ok {
		if _, disabled := block.Operation.(protocol.RemoveLoggingEndpoint); disabled {
			return tx.ClearQueuedLogs(ctx, c.team)
		}
	}
	return nil
}

func (c *Client) afterLog(ctx context.Context, tx storage.Store, applied engine.LogApplied) error {
	if !bytes.Equal(applied.TeamPublicKey, c.team) {
		return apperrors.New(apperrors.CodeLogChainNotInTeam, "log chain is not part of this team")
	}
	owner := applied.MemberPublicKey
	mine := bytes.Equal(owner, c.id.Sign.PublicKey)

	if applied.Genesis != nil {
		return c.openWrappedKeys(ctx, tx, owner, applied.Genesis.WrappedKeys)
	}
	switch op := applied.Operation.(type) {
	case protocol.AddWrappedKeys:
		if err := c.openWrappedKeys(ctx, tx, owner, op); err != nil {
			return err
		}
		if mine {
			return tx.AddWrappedKeyRecipients(ctx, c.team, recipients(op))
		}
	case protocol.RotateKey:
		if err := tx.SetLogChainKey(ctx, c.team, owner, nil); err != nil {
			return err
		}
		if err := c.openWrappedKeys(ctx, tx, owner, op); err != nil {
			return err
		}
		if mine {
			return tx.ReplaceWrappedKeyRecipients(ctx, c.team, recipients(op))
		}
	case protocol.EncryptLog:
		return c.storeDecryptedLog(ctx, tx, owner, op)
	}
	return nil
}

// openWrappedKeys installs the owner's chain key when one of wrapped is
// addressed to this member. Keys that fail to open are skipped.
func (c *Client) openWrappedKeys(ctx context.Context, tx storage.Store, owner []byte, wrapped []protocol.WrappedKey) error {
	own, ok := logchain.KeyFor(wrapped, c.id.Box.PublicKeyBytes())
	if !ok {
		return nil
	}
	identity, err := tx.GetIdentity(ctx, c.team, owner)
	if err != nil {
		return err
	}
	key, err := logchain.UnwrapKey(own, identity.EncryptionPublicKey, c.id.Box)
	if err != nil {
		log.Printf("skip log key from %s: %v", shortKey(owner), err)
		return nil
	}
	return tx.SetLogChainKey(ctx, c.team, owner, key)
}

func (c *Client) storeDecryptedLog(ctx context.Context, tx storage.Store, owner []byte, entry protocol.EncryptLog) error {
	chain, err := tx.GetLogChain(ctx, c.team, owner)
	if err != nil {
		return err
	}
	if len(chain.SymmetricKey) == 0 {
		return nil
	}
	audit, raw, err := logchain.DecryptLog(entry, chain.SymmetricKey)
	if err != nil {
		log.Printf("skip undecryptable log from %s: %v", shortKey(owner), err)
		return nil
	}
	return tx.InsertAuditLog(ctx, storage.AuditLog{
		TeamPublicKey:   c.team,
		MemberPublicKey: owner,
		LogJSON:         raw,
		UnixSeconds:     int64(audit.UnixSeconds),
		DeviceName:      audit.Session.DeviceName,
		Kind:            protocol.LogKind(audit.Body),
		Success:         audit.Body != nil && audit.Body.Succeeded(),
	})
}

func (c *Client) localHead(ctx context.Context, store storage.Store) ([]byte, error) {
	info, err := store.GetTeam(ctx, c.team)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return info.LastBlockHash, nil
}

func recipients(wrapped []protocol.WrappedKey) [][]byte {
	out := make([][]byte, 0, len(wrapped))
	for _, w := range wrapped {
		out = append(out, w.RecipientPublicKey)
	}
	return out
}

func shortKey(key []byte) string {
	if len(key) > 4 {
		key = key[:4]
	}
	return fmt.Sprintf("%x", key)
}
