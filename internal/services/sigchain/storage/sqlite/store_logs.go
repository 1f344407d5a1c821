package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/louisbranch/sigchain/internal/services/sigchain/storage"
)

const logBlockColumns = `hash, last_block_hash, team_public_key, member_public_key, operation, signature, logical_timestamp, created_at`

// GetLogBlock returns one log-chain block by hash.
func (s *Store) GetLogBlock(ctx context.Context, hash []byte) (storage.LogBlock, error) {
	if err := s.ready(ctx); err != nil {
		return storage.LogBlock{}, err
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+logBlockColumns+` FROM log_blocks WHERE hash = ?`, hash)
	block, err := scanLogBlock(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.LogBlock{}, storage.ErrNotFound
		}
		return storage.LogBlock{}, fmt.Errorf("get log block: %w", err)
	}
	return block, nil
}

// LogBlockExists reports whether a log block with hash is stored.
func (s *Store) LogBlockExists(ctx context.Context, hash []byte) (bool, error) {
	if err := s.ready(ctx); err != nil {
		return false, err
	}
	return s.exists(ctx, `SELECT 1 FROM log_blocks WHERE hash = ?`, hash)
}

// HasLogChild reports whether parent already has a successor in the member chain.
func (s *Store) HasLogChild(ctx context.Context, teamPublicKey, memberPublicKey, parent []byte) (bool, error) {
	if err := s.ready(ctx); err != nil {
		return false, err
	}
	return s.exists(ctx,
		`SELECT 1 FROM log_blocks WHERE team_public_key = ? AND member_public_key = ? AND last_block_hash = ?`,
		teamPublicKey, memberPublicKey, parent)
}

// InsertLogBlock stores a log block under the next team logical timestamp.
// A caller-provided LogicalTimestamp is ignored.
func (s *Store) InsertLogBlock(ctx context.Context, block storage.LogBlock) (int64, error) {
	if err := s.ready(ctx); err != nil {
		return 0, err
	}
	if len(block.Hash) == 0 || len(block.TeamPublicKey) == 0 || len(block.MemberPublicKey) == 0 {
		return 0, fmt.Errorf("log block hash, team and member are required")
	}
	var timestamp int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO log_chain_seq (team_public_key, last_logical_timestamp) VALUES (?, 1)
		 ON CONFLICT (team_public_key) DO UPDATE SET last_logical_timestamp = last_logical_timestamp + 1
		 RETURNING last_logical_timestamp`,
		block.TeamPublicKey,
	).Scan(&timestamp)
	if err != nil {
		if isBusyError(err) {
			return 0, fmt.Errorf("next logical timestamp: %w: %v", storage.ErrChainConflict, err)
		}
		return 0, fmt.Errorf("next logical timestamp: %w", err)
	}
	createdAt := block.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO log_blocks (`+logBlockColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		block.Hash,
		nullableBytes(block.LastBlockHash),
		block.TeamPublicKey,
		block.MemberPublicKey,
		block.Signed.Message,
		block.Signed.Signature,
		timestamp,
		toMillis(createdAt),
	)
	if err != nil {
		if isConstraintError(err) || isBusyError(err) {
			return 0, fmt.Errorf("insert log block: %w: %v", storage.ErrChainConflict, err)
		}
		return 0, fmt.Errorf("insert log block: %w", err)
	}
	return timestamp, nil
}

// ListMemberLogBlocks returns up to limit blocks of one member chain in order.
func (s *Store) ListMemberLogBlocks(ctx context.Context, teamPublicKey, memberPublicKey, after []byte, limit int) ([]storage.LogBlock, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}
	var (
		rows *sql.Rows
		err  error
	)
	if after == nil {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+logBlockColumns+`
			   FROM log_blocks
			  WHERE team_public_key = ? AND member_public_key = ?
			  ORDER BY seq ASC
			  LIMIT ?`,
			teamPublicKey, memberPublicKey, limit)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+logBlockColumns+`
			   FROM log_blocks
			  WHERE team_public_key = ? AND member_public_key = ?
			    AND seq > (SELECT seq FROM log_blocks WHERE hash = ?)
			  ORDER BY seq ASC
			  LIMIT ?`,
			teamPublicKey, memberPublicKey, after, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list member log blocks: %w", err)
	}
	return collectLogBlocks(rows, limit)
}

// ListTeamLogBlocks returns up to limit team log blocks with a logical
// timestamp greater than afterTimestamp, in timestamp order.
func (s *Store) ListTeamLogBlocks(ctx context.Context, teamPublicKey []byte, afterTimestamp int64, limit int) ([]storage.LogBlock, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+logBlockColumns+`
		   FROM log_blocks
		  WHERE team_public_key = ? AND logical_timestamp > ?
		  ORDER BY logical_timestamp ASC
		  LIMIT ?`,
		teamPublicKey, afterTimestamp, limit)
	if err != nil {
		return nil, fmt.Errorf("list team log blocks: %w", err)
	}
	return collectLogBlocks(rows, limit)
}

func collectLogBlocks(rows *sql.Rows, limit int) ([]storage.LogBlock, error) {
	defer rows.Close()
	blocks := make([]storage.LogBlock, 0, limit)
	for rows.Next() {
		block, err := scanLogBlock(rows)
		if err != nil {
			return nil, fmt.Errorf("scan log block: %w", err)
		}
		blocks = append(blocks, block)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan log block: %w", err)
	}
	return blocks, nil
}

func scanLogBlock(row rowScanner) (storage.LogBlock, error) {
	var (
		block     storage.LogBlock
		createdAt int64
	)
	if err := row.Scan(
		&block.Hash,
		&block.LastBlockHash,
		&block.TeamPublicKey,
		&block.MemberPublicKey,
		&block.Signed.Message,
		&block.Signed.Signature,
		&block.LogicalTimestamp,
		&createdAt,
	); err != nil {
		return storage.LogBlock{}, err
	}
	block.Signed.PublicKey = block.MemberPublicKey
	block.CreatedAt = fromMillis(createdAt)
	return block, nil
}

// GetLogChain returns the head of one member's log chain.
func (s *Store) GetLogChain(ctx context.Context, teamPublicKey, memberPublicKey []byte) (storage.LogChain, error) {
	if err := s.ready(ctx); err != nil {
		return storage.LogChain{}, err
	}
	var chain storage.LogChain
	err := s.db.QueryRowContext(ctx,
		`SELECT team_public_key, member_public_key, last_block_hash, symmetric_encryption_key
		   FROM log_chains
		  WHERE team_public_key = ? AND member_public_key = ?`,
		teamPublicKey, memberPublicKey,
	).Scan(&chain.TeamPublicKey, &chain.MemberPublicKey, &chain.LastBlockHash, &chain.SymmetricKey)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.LogChain{}, storage.ErrNotFound
		}
		return storage.LogChain{}, fmt.Errorf("get log chain: %w", err)
	}
	return chain, nil
}

// InsertLogChain registers a new member log chain.
func (s *Store) InsertLogChain(ctx context.Context, chain storage.LogChain) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO log_chains (team_public_key, member_public_key, last_block_hash, symmetric_encryption_key)
		 VALUES (?, ?, ?, ?)`,
		chain.TeamPublicKey, chain.MemberPublicKey, chain.LastBlockHash, nullableBytes(chain.SymmetricKey))
	if err != nil {
		if isConstraintError(err) || isBusyError(err) {
			return fmt.Errorf("insert log chain: %w: %v", storage.ErrChainConflict, err)
		}
		return fmt.Errorf("insert log chain: %w", err)
	}
	return nil
}

// UpdateLogChainHead moves a member log chain head.
func (s *Store) UpdateLogChainHead(ctx context.Context, teamPublicKey, memberPublicKey, hash []byte) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	return s.execOne(ctx, "update log chain head",
		`UPDATE log_chains SET last_block_hash = ? WHERE team_public_key = ? AND member_public_key = ?`,
		hash, teamPublicKey, memberPublicKey)
}

// SetLogChainKey records the unwrapped chain key held by this replica.
func (s *Store) SetLogChainKey(ctx context.Context, teamPublicKey, memberPublicKey, key []byte) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	return s.execOne(ctx, "set log chain key",
		`UPDATE log_chains SET symmetric_encryption_key = ? WHERE team_public_key = ? AND member_public_key = ?`,
		nullableBytes(key), teamPublicKey, memberPublicKey)
}
