package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/louisbranch/sigchain/internal/services/sigchain/core/filter"
	"github.com/louisbranch/sigchain/internal/services/sigchain/storage"
)

// ListWrappedKeyRecipients returns the encryption keys the own log chain key
// is currently wrapped to.
func (s *Store) ListWrappedKeyRecipients(ctx context.Context, teamPublicKey []byte) ([][]byte, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT destination_public_key FROM current_wrapped_keys WHERE team_public_key = ? ORDER BY destination_public_key`,
		teamPublicKey)
	if err != nil {
		return nil, fmt.Errorf("list wrapped key recipients: %w", err)
	}
	defer rows.Close()
	var recipients [][]byte
	for rows.Next() {
		var key []byte
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("list wrapped key recipients: %w", err)
		}
		recipients = append(recipients, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list wrapped key recipients: %w", err)
	}
	return recipients, nil
}

// AddWrappedKeyRecipients records additional recipients.
func (s *Store) AddWrappedKeyRecipients(ctx context.Context, teamPublicKey []byte, recipients [][]byte) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	for _, recipient := range recipients {
		if err := s.exec(ctx, "add wrapped key recipient",
			`INSERT INTO current_wrapped_keys (team_public_key, destination_public_key) VALUES (?, ?)
			 ON CONFLICT DO NOTHING`,
			teamPublicKey, recipient); err != nil {
			return err
		}
	}
	return nil
}

// ReplaceWrappedKeyRecipients swaps the recipient set after a key rotation.
func (s *Store) ReplaceWrappedKeyRecipients(ctx context.Context, teamPublicKey []byte, recipients [][]byte) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if err := s.exec(ctx, "clear wrapped key recipients",
		`DELETE FROM current_wrapped_keys WHERE team_public_key = ?`, teamPublicKey); err != nil {
		return err
	}
	return s.AddWrappedKeyRecipients(ctx, teamPublicKey, recipients)
}

// EnqueueLog queues a plaintext audit log for encryption.
func (s *Store) EnqueueLog(ctx context.Context, teamPublicKey []byte, log storage.QueuedLog) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if log.ID == "" {
		return fmt.Errorf("queued log id is required")
	}
	createdAt := log.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	return s.exec(ctx, "enqueue log",
		`INSERT INTO queued_logs (id, team_public_key, log_json, created_at) VALUES (?, ?, ?, ?)`,
		log.ID, teamPublicKey, log.LogJSON, toMillis(createdAt))
}

// NextQueuedLog returns the oldest queued log of a team.
func (s *Store) NextQueuedLog(ctx context.Context, teamPublicKey []byte) (storage.QueuedLog, bool, error) {
	if err := s.ready(ctx); err != nil {
		return storage.QueuedLog{}, false, err
	}
	var (
		log       storage.QueuedLog
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, log_json, created_at
		   FROM queued_logs
		  WHERE team_public_key = ?
		  ORDER BY created_at ASC, rowid ASC
		  LIMIT 1`,
		teamPublicKey,
	).Scan(&log.ID, &log.LogJSON, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.QueuedLog{}, false, nil
	}
	if err != nil {
		return storage.QueuedLog{}, false, fmt.Errorf("next queued log: %w", err)
	}
	log.CreatedAt = fromMillis(createdAt)
	return log, true, nil
}

// DeleteQueuedLog removes a queued log once it is on the chain.
func (s *Store) DeleteQueuedLog(ctx context.Context, id string) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	return s.exec(ctx, "delete queued log", `DELETE FROM queued_logs WHERE id = ?`, id)
}

// ClearQueuedLogs drops every queued log of a team.
func (s *Store) ClearQueuedLogs(ctx context.Context, teamPublicKey []byte) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	return s.exec(ctx, "clear queued logs", `DELETE FROM queued_logs WHERE team_public_key = ?`, teamPublicKey)
}

// InsertAuditLog stores one decrypted audit log.
func (s *Store) InsertAuditLog(ctx context.Context, log storage.AuditLog) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	return s.exec(ctx, "insert audit log",
		`INSERT INTO audit_logs (team_public_key, member_public_key, log_json, unix_seconds, device_name, kind, success)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		log.TeamPublicKey, log.MemberPublicKey, log.LogJSON, log.UnixSeconds, log.DeviceName, log.Kind, boolToInt(log.Success))
}

// ListAuditLogs lists decrypted audit logs, newest first, narrowed by cond.
func (s *Store) ListAuditLogs(ctx context.Context, teamPublicKey []byte, cond filter.SQLCondition, limit int) ([]storage.AuditLog, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}
	query := `SELECT id, team_public_key, member_public_key, log_json, unix_seconds, device_name, kind, success
	            FROM audit_logs
	           WHERE team_public_key = ?`
	args := []any{teamPublicKey}
	if cond.Clause != "" {
		query += ` AND (` + cond.Clause + `)`
		args = append(args, cond.Params...)
	}
	query += ` ORDER BY unix_seconds DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	defer rows.Close()
	var logs []storage.AuditLog
	for rows.Next() {
		var (
			log     storage.AuditLog
			success int
		)
		if err := rows.Scan(&log.ID, &log.TeamPublicKey, &log.MemberPublicKey, &log.LogJSON,
			&log.UnixSeconds, &log.DeviceName, &log.Kind, &success); err != nil {
			return nil, fmt.Errorf("list audit logs: %w", err)
		}
		log.Success = success != 0
		logs = append(logs, log)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	return logs, nil
}

// GetTeamLogCursor returns the last team logical timestamp synced, or zero.
func (s *Store) GetTeamLogCursor(ctx context.Context, teamPublicKey []byte) (int64, error) {
	if err := s.ready(ctx); err != nil {
		return 0, err
	}
	var timestamp int64
	err := s.db.QueryRowContext(ctx,
		`SELECT last_logical_timestamp FROM team_log_cursors WHERE team_public_key = ?`, teamPublicKey,
	).Scan(&timestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get team log cursor: %w", err)
	}
	return timestamp, nil
}

// SetTeamLogCursor persists the last team logical timestamp synced.
func (s *Store) SetTeamLogCursor(ctx context.Context, teamPublicKey []byte, timestamp int64) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	return s.exec(ctx, "set team log cursor",
		`INSERT INTO team_log_cursors (team_public_key, last_logical_timestamp) VALUES (?, ?)
		 ON CONFLICT (team_public_key) DO UPDATE SET last_logical_timestamp = excluded.last_logical_timestamp`,
		teamPublicKey, timestamp)
}
