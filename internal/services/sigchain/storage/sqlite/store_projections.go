package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	apperrors "github.com/louisbranch/sigchain/internal/platform/errors"
	"github.com/louisbranch/sigchain/internal/services/sigchain/domain/command"
	"github.com/louisbranch/sigchain/internal/services/sigchain/domain/protocol"
	"github.com/louisbranch/sigchain/internal/services/sigchain/domain/team"
	"github.com/louisbranch/sigchain/internal/services/sigchain/storage"
)

// GetTeam returns the projected team row.
func (s *Store) GetTeam(ctx context.Context, teamPublicKey []byte) (team.Team, error) {
	if err := s.ready(ctx); err != nil {
		return team.Team{}, err
	}
	var (
		t       team.Team
		seconds sql.NullInt64
		logging int
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT public_key, last_block_hash, name, temporary_approval_seconds, command_encrypted_logging_enabled
		   FROM teams
		  WHERE public_key = ?`,
		teamPublicKey,
	).Scan(&t.PublicKey, &t.LastBlockHash, &t.Name, &seconds, &logging)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return team.Team{}, storage.ErrNotFound
		}
		return team.Team{}, fmt.Errorf("get team: %w", err)
	}
	if seconds.Valid {
		value := seconds.Int64
		t.TemporaryApprovalSeconds = &value
	}
	t.LoggingEnabled = logging != 0
	return t, nil
}

// UpdateTeamHead moves the team chain head.
func (s *Store) UpdateTeamHead(ctx context.Context, teamPublicKey, hash []byte) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	return s.execOne(ctx, "update team head",
		`UPDATE teams SET last_block_hash = ? WHERE public_key = ?`, hash, teamPublicKey)
}

// GetMember returns an active membership.
func (s *Store) GetMember(ctx context.Context, teamPublicKey, publicKey []byte) (team.Member, error) {
	if err := s.ready(ctx); err != nil {
		return team.Member{}, err
	}
	return s.getMember(ctx, `WHERE team_public_key = ? AND public_key = ?`, teamPublicKey, publicKey)
}

// GetMemberByEmail returns the active membership holding email.
func (s *Store) GetMemberByEmail(ctx context.Context, teamPublicKey []byte, email string) (team.Member, error) {
	if err := s.ready(ctx); err != nil {
		return team.Member{}, err
	}
	return s.getMember(ctx, `WHERE team_public_key = ? AND email = ?`, teamPublicKey, email)
}

func (s *Store) getMember(ctx context.Context, where string, args ...any) (team.Member, error) {
	var (
		m       team.Member
		isAdmin int
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT public_key, email, is_admin FROM team_memberships `+where, args...,
	).Scan(&m.PublicKey, &m.Email, &isAdmin)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return team.Member{}, storage.ErrNotFound
		}
		return team.Member{}, fmt.Errorf("get member: %w", err)
	}
	m.IsAdmin = isAdmin != 0
	return m, nil
}

// ListMembers returns active memberships ordered by email.
func (s *Store) ListMembers(ctx context.Context, teamPublicKey []byte) ([]team.Member, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT public_key, email, is_admin FROM team_memberships WHERE team_public_key = ? ORDER BY email`,
		teamPublicKey)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()
	var members []team.Member
	for rows.Next() {
		var (
			m       team.Member
			isAdmin int
		)
		if err := rows.Scan(&m.PublicKey, &m.Email, &isAdmin); err != nil {
			return nil, fmt.Errorf("list members: %w", err)
		}
		m.IsAdmin = isAdmin != 0
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	return members, nil
}

const identityColumns = `public_key, encryption_public_key, ssh_public_key, pgp_public_key, email`

// GetIdentity returns a current or former member identity.
func (s *Store) GetIdentity(ctx context.Context, teamPublicKey, publicKey []byte) (protocol.Identity, error) {
	if err := s.ready(ctx); err != nil {
		return protocol.Identity{}, err
	}
	var id protocol.Identity
	err := s.db.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE team_public_key = ? AND public_key = ?`,
		teamPublicKey, publicKey,
	).Scan(&id.PublicKey, &id.EncryptionPublicKey, &id.SSHPublicKey, &id.PGPPublicKey, &id.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return protocol.Identity{}, storage.ErrNotFound
		}
		return protocol.Identity{}, fmt.Errorf("get identity: %w", err)
	}
	return id, nil
}

// ListIdentities returns every identity ever accepted on the team.
func (s *Store) ListIdentities(ctx context.Context, teamPublicKey []byte) ([]protocol.Identity, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE team_public_key = ? ORDER BY email`, teamPublicKey)
	if err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}
	defer rows.Close()
	var ids []protocol.Identity
	for rows.Next() {
		var id protocol.Identity
		if err := rows.Scan(&id.PublicKey, &id.EncryptionPublicKey, &id.SSHPublicKey, &id.PGPPublicKey, &id.Email); err != nil {
			return nil, fmt.Errorf("list identities: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}
	return ids, nil
}

// GetDirectInvitation returns the pending direct invitation for publicKey.
func (s *Store) GetDirectInvitation(ctx context.Context, teamPublicKey, publicKey []byte) (protocol.DirectInvitation, error) {
	if err := s.ready(ctx); err != nil {
		return protocol.DirectInvitation{}, err
	}
	var inv protocol.DirectInvitation
	err := s.db.QueryRowContext(ctx,
		`SELECT public_key, email FROM direct_invitations WHERE team_public_key = ? AND public_key = ?`,
		teamPublicKey, publicKey,
	).Scan(&inv.PublicKey, &inv.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return protocol.DirectInvitation{}, storage.ErrNotFound
		}
		return protocol.DirectInvitation{}, fmt.Errorf("get direct invitation: %w", err)
	}
	return inv, nil
}

const indirectColumns = `nonce_public_key, restriction, invite_symmetric_key_hash, invite_ciphertext`

// GetIndirectInvitation returns the pending indirect invitation for a nonce key.
func (s *Store) GetIndirectInvitation(ctx context.Context, teamPublicKey, noncePublicKey []byte) (protocol.IndirectInvitation, error) {
	if err := s.ready(ctx); err != nil {
		return protocol.IndirectInvitation{}, err
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+indirectColumns+` FROM indirect_invitations WHERE team_public_key = ? AND nonce_public_key = ?`,
		teamPublicKey, noncePublicKey)
	return scanIndirect(row)
}

// GetIndirectInvitationByKeyHash returns the invitation whose link key hashes to keyHash.
func (s *Store) GetIndirectInvitationByKeyHash(ctx context.Context, keyHash []byte) (protocol.IndirectInvitation, error) {
	if err := s.ready(ctx); err != nil {
		return protocol.IndirectInvitation{}, err
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+indirectColumns+` FROM indirect_invitations WHERE invite_symmetric_key_hash = ? LIMIT 1`, keyHash)
	return scanIndirect(row)
}

func scanIndirect(row rowScanner) (protocol.IndirectInvitation, error) {
	var (
		inv         protocol.IndirectInvitation
		restriction string
	)
	err := row.Scan(&inv.NoncePublicKey, &restriction, &inv.InviteSymmetricKeyHash, &inv.InviteCiphertext)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return protocol.IndirectInvitation{}, storage.ErrNotFound
		}
		return protocol.IndirectInvitation{}, fmt.Errorf("get indirect invitation: %w", err)
	}
	inv.Restriction, err = protocol.UnmarshalRestriction([]byte(restriction))
	if err != nil {
		return protocol.IndirectInvitation{}, fmt.Errorf("decode invitation restriction: %w", err)
	}
	return inv, nil
}

// CountInvitations counts pending invitations.
func (s *Store) CountInvitations(ctx context.Context, teamPublicKey []byte) (storage.InvitationCounts, error) {
	if err := s.ready(ctx); err != nil {
		return storage.InvitationCounts{}, err
	}
	var counts storage.InvitationCounts
	err := s.db.QueryRowContext(ctx,
		`SELECT (SELECT COUNT(*) FROM direct_invitations WHERE team_public_key = ?1),
		        (SELECT COUNT(*) FROM indirect_invitations WHERE team_public_key = ?1)`,
		teamPublicKey,
	).Scan(&counts.Direct, &counts.Indirect)
	if err != nil {
		return storage.InvitationCounts{}, fmt.Errorf("count invitations: %w", err)
	}
	return counts, nil
}

// IsHostKeyPinned reports whether the exact (host, key) pin exists.
func (s *Store) IsHostKeyPinned(ctx context.Context, teamPublicKey []byte, key protocol.SSHHostKey) (bool, error) {
	if err := s.ready(ctx); err != nil {
		return false, err
	}
	found, err := s.exists(ctx,
		`SELECT 1 FROM pinned_host_keys WHERE team_public_key = ? AND host = ? AND public_key = ?`,
		teamPublicKey, key.Host, key.PublicKey)
	if err != nil {
		return false, fmt.Errorf("check host key: %w", err)
	}
	return found, nil
}

// ListPinnedHostKeys lists pins ordered by host.
func (s *Store) ListPinnedHostKeys(ctx context.Context, teamPublicKey []byte, host string) ([]protocol.SSHHostKey, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT host, public_key
		   FROM pinned_host_keys
		  WHERE team_public_key = ?1 AND (?2 = '' OR host = ?2)
		  ORDER BY host, public_key`,
		teamPublicKey, host)
	if err != nil {
		return nil, fmt.Errorf("list host keys: %w", err)
	}
	defer rows.Close()
	var pins []protocol.SSHHostKey
	for rows.Next() {
		var pin protocol.SSHHostKey
		if err := rows.Scan(&pin.Host, &pin.PublicKey); err != nil {
			return nil, fmt.Errorf("list host keys: %w", err)
		}
		pins = append(pins, pin)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list host keys: %w", err)
	}
	return pins, nil
}

// ApplyMutation writes one accepted mutation to the projections.
func (s *Store) ApplyMutation(ctx context.Context, teamPublicKey []byte, mutation command.Mutation) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	switch m := mutation.(type) {
	case team.InsertTeam:
		var seconds any
		if m.Team.TemporaryApprovalSeconds != nil {
			seconds = *m.Team.TemporaryApprovalSeconds
		}
		return s.exec(ctx, m.MutationKind(),
			`INSERT INTO teams (public_key, last_block_hash, name, temporary_approval_seconds, command_encrypted_logging_enabled)
			 VALUES (?, ?, ?, ?, ?)`,
			m.Team.PublicKey, m.Team.LastBlockHash, m.Team.Name, seconds, boolToInt(m.Team.LoggingEnabled))
	case team.InsertMember:
		return s.exec(ctx, m.MutationKind(),
			`INSERT INTO team_memberships (team_public_key, public_key, email, is_admin) VALUES (?, ?, ?, ?)`,
			teamPublicKey, m.Member.PublicKey, m.Member.Email, boolToInt(m.Member.IsAdmin))
	case team.UpsertIdentity:
		id := m.Identity
		return s.exec(ctx, m.MutationKind(),
			`INSERT INTO identities (team_public_key, `+identityColumns+`)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT (team_public_key, public_key) DO UPDATE SET
			   encryption_public_key = excluded.encryption_public_key,
			   ssh_public_key = excluded.ssh_public_key,
			   pgp_public_key = excluded.pgp_public_key,
			   email = excluded.email`,
			teamPublicKey, id.PublicKey, id.EncryptionPublicKey, id.SSHPublicKey, id.PGPPublicKey, id.Email)
	case team.DeleteMember:
		return s.exec(ctx, m.MutationKind(),
			`DELETE FROM team_memberships WHERE team_public_key = ? AND public_key = ?`,
			teamPublicKey, m.PublicKey)
	case team.UpdateAdmin:
		return s.execOne(ctx, m.MutationKind(),
			`UPDATE team_memberships SET is_admin = ? WHERE team_public_key = ? AND public_key = ?`,
			boolToInt(m.IsAdmin), teamPublicKey, m.PublicKey)
	case team.InsertDirectInvitation:
		return s.exec(ctx, m.MutationKind(),
			`INSERT INTO direct_invitations (team_public_key, public_key, email) VALUES (?, ?, ?)`,
			teamPublicKey, m.Invitation.PublicKey, m.Invitation.Email)
	case team.InsertIndirectInvitation:
		restriction, err := protocol.MarshalRestriction(m.Invitation.Restriction)
		if err != nil {
			return fmt.Errorf("%s: %w", m.MutationKind(), err)
		}
		return s.exec(ctx, m.MutationKind(),
			`INSERT INTO indirect_invitations (team_public_key, `+indirectColumns+`) VALUES (?, ?, ?, ?, ?)`,
			teamPublicKey, m.Invitation.NoncePublicKey, string(restriction),
			m.Invitation.InviteSymmetricKeyHash, m.Invitation.InviteCiphertext)
	case team.DeleteDirectInvitation:
		return s.exec(ctx, m.MutationKind(),
			`DELETE FROM direct_invitations WHERE team_public_key = ? AND public_key = ?`,
			teamPublicKey, m.PublicKey)
	case team.DeleteInvitations:
		if err := s.exec(ctx, m.MutationKind(),
			`DELETE FROM direct_invitations WHERE team_public_key = ?`, teamPublicKey); err != nil {
			return err
		}
		return s.exec(ctx, m.MutationKind(),
			`DELETE FROM indirect_invitations WHERE team_public_key = ?`, teamPublicKey)
	case team.UpdatePolicy:
		var seconds any
		if m.Policy.TemporaryApprovalSeconds != nil {
			seconds = *m.Policy.TemporaryApprovalSeconds
		}
		return s.execOne(ctx, m.MutationKind(),
			`UPDATE teams SET temporary_approval_seconds = ? WHERE public_key = ?`, seconds, teamPublicKey)
	case team.UpdateTeamName:
		return s.execOne(ctx, m.MutationKind(),
			`UPDATE teams SET name = ? WHERE public_key = ?`, m.Name, teamPublicKey)
	case team.InsertHostKey:
		err := s.exec(ctx, m.MutationKind(),
			`INSERT INTO pinned_host_keys (team_public_key, host, public_key) VALUES (?, ?, ?)`,
			teamPublicKey, m.HostKey.Host, m.HostKey.PublicKey)
		if err != nil && isConstraintError(err) {
			return apperrors.Wrap(apperrors.CodeHostKeyAlreadyPinned, "host key already pinned", err)
		}
		return err
	case team.DeleteHostKey:
		return s.exec(ctx, m.MutationKind(),
			`DELETE FROM pinned_host_keys WHERE team_public_key = ? AND host = ? AND public_key = ?`,
			teamPublicKey, m.HostKey.Host, m.HostKey.PublicKey)
	case team.UpdateLogging:
		return s.execOne(ctx, m.MutationKind(),
			`UPDATE teams SET command_encrypted_logging_enabled = ? WHERE public_key = ?`,
			boolToInt(m.Enabled), teamPublicKey)
	default:
		return fmt.Errorf("apply mutation: unsupported %T", mutation)
	}
}

func (s *Store) exec(ctx context.Context, op, query string, args ...any) error {
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// execOne fails with ErrNotFound when no row was touched.
func (s *Store) execOne(ctx context.Context, op, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}
