package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/louisbranch/sigchain/internal/services/sigchain/storage"
)

const blockColumns = `hash, last_block_hash, team_public_key, member_public_key, operation, signature, created_at`

// GetBlock returns one main-chain block by hash.
func (s *Store) GetBlock(ctx context.Context, hash []byte) (storage.Block, error) {
	if err := s.ready(ctx); err != nil {
		return storage.Block{}, err
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+blockColumns+` FROM blocks WHERE hash = ?`, hash)
	block, err := scanBlock(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Block{}, storage.ErrNotFound
		}
		return storage.Block{}, fmt.Errorf("get block: %w", err)
	}
	return block, nil
}

// BlockExists reports whether a main-chain block with hash is stored.
func (s *Store) BlockExists(ctx context.Context, hash []byte) (bool, error) {
	if err := s.ready(ctx); err != nil {
		return false, err
	}
	return s.exists(ctx, `SELECT 1 FROM blocks WHERE hash = ?`, hash)
}

// HasChild reports whether parent already has a successor in the team chain.
func (s *Store) HasChild(ctx context.Context, teamPublicKey, parent []byte) (bool, error) {
	if err := s.ready(ctx); err != nil {
		return false, err
	}
	return s.exists(ctx, `SELECT 1 FROM blocks WHERE team_public_key = ? AND last_block_hash = ?`, teamPublicKey, parent)
}

// InsertBlock stores a main-chain block. The (team, parent) uniqueness
// constraint rejects a second child of the same parent.
func (s *Store) InsertBlock(ctx context.Context, block storage.Block) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if len(block.Hash) == 0 || len(block.TeamPublicKey) == 0 {
		return fmt.Errorf("block hash and team are required")
	}
	createdAt := block.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO blocks (`+blockColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		block.Hash,
		nullableBytes(block.LastBlockHash),
		block.TeamPublicKey,
		block.Signed.PublicKey,
		block.Signed.Message,
		block.Signed.Signature,
		toMillis(createdAt),
	)
	if err != nil {
		if isConstraintError(err) || isBusyError(err) {
			return fmt.Errorf("insert block: %w: %v", storage.ErrChainConflict, err)
		}
		return fmt.Errorf("insert block: %w", err)
	}
	return nil
}

// ListBlocks returns up to limit team blocks in chain order.
func (s *Store) ListBlocks(ctx context.Context, teamPublicKey, after []byte, limit int) ([]storage.Block, error) {
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
			`SELECT `+blockColumns+`
			   FROM blocks
			  WHERE team_public_key = ?
			  ORDER BY seq ASC
			  LIMIT ?`,
			teamPublicKey, limit)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+blockColumns+`
			   FROM blocks
			  WHERE team_public_key = ?
			    AND seq > (SELECT seq FROM blocks WHERE hash = ?)
			  ORDER BY seq ASC
			  LIMIT ?`,
			teamPublicKey, after, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list blocks: %w", err)
	}
	defer rows.Close()

	blocks := make([]storage.Block, 0, limit)
	for rows.Next() {
		block, err := scanBlock(rows)
		if err != nil {
			return nil, fmt.Errorf("list blocks: %w", err)
		}
		blocks = append(blocks, block)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list blocks: %w", err)
	}
	return blocks, nil
}

// CountBlocks returns the number of main-chain blocks of a team.
func (s *Store) CountBlocks(ctx context.Context, teamPublicKey []byte) (int, error) {
	if err := s.ready(ctx); err != nil {
		return 0, err
	}
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM blocks WHERE team_public_key = ?`, teamPublicKey).Scan(&count); err != nil {
		return 0, fmt.Errorf("count blocks: %w", err)
	}
	return count, nil
}

// ListTeamPublicKeys returns every team with a stored chain.
func (s *Store) ListTeamPublicKeys(ctx context.Context) ([][]byte, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT public_key FROM teams ORDER BY public_key`)
	if err != nil {
		return nil, fmt.Errorf("list teams: %w", err)
	}
	defer rows.Close()
	var keys [][]byte
	for rows.Next() {
		var key []byte
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("list teams: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list teams: %w", err)
	}
	return keys, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBlock(row rowScanner) (storage.Block, error) {
	var (
		block     storage.Block
		createdAt int64
	)
	if err := row.Scan(
		&block.Hash,
		&block.LastBlockHash,
		&block.TeamPublicKey,
		&block.Signed.PublicKey,
		&block.Signed.Message,
		&block.Signed.Signature,
		&createdAt,
	); err != nil {
		return storage.Block{}, err
	}
	block.CreatedAt = fromMillis(createdAt)
	return block, nil
}

func (s *Store) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var found int
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// nullableBytes stores empty slices as NULL so genesis parents compare as absent.
func nullableBytes(value []byte) any {
	if len(value) == 0 {
		return nil
	}
	return value
}
