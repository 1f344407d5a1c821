// Package storage defines persistence contracts for sigchain state: the
// main and log hash chains, the team projections derived from them, and the
// client-side replica tables.
package storage

import (
	"context"
	"errors"
	"time"

	apperrors "github.com/louisbranch/sigchain/internal/platform/errors"
	"github.com/louisbranch/sigchain/internal/services/sigchain/core/filter"
	"github.com/louisbranch/sigchain/internal/services/sigchain/domain/command"
	"github.com/louisbranch/sigchain/internal/services/sigchain/domain/protocol"
	"github.com/louisbranch/sigchain/internal/services/sigchain/domain/team"
)

var (
	// ErrNotFound indicates a requested record is missing.
	ErrNotFound = apperrors.New(apperrors.CodeNotFound, "record not found")
	// ErrChainConflict indicates the parent block already has a child in the
	// same chain scope, or the write lock could not be taken.
	ErrChainConflict = errors.New("parent block already has a child")
)

// Block is one stored main-chain entry.
type Block struct {
	Hash          []byte
	LastBlockHash []byte
	TeamPublicKey []byte
	Signed        protocol.SignedMessage
	CreatedAt     time.Time
}

// LogBlock is one stored log-chain entry.
type LogBlock struct {
	Hash             []byte
	LastBlockHash    []byte
	TeamPublicKey    []byte
	MemberPublicKey  []byte
	Signed           protocol.SignedMessage
	LogicalTimestamp int64
	CreatedAt        time.Time
}

// LogChain is the head of one member's log chain. SymmetricKey is the
// locally unwrapped key, if this replica holds one.
type LogChain struct {
	TeamPublicKey   []byte
	MemberPublicKey []byte
	LastBlockHash   []byte
	SymmetricKey    []byte
}

// InvitationCounts counts pending invitations of a team.
type InvitationCounts struct {
	Direct   int
	Indirect int
}

// QueuedLog is an audit log waiting to be encrypted onto the owner's chain.
type QueuedLog struct {
	ID        string
	LogJSON   []byte
	CreatedAt time.Time
}

// AuditLog is a decrypted audit log entry.
type AuditLog struct {
	ID              int64
	TeamPublicKey   []byte
	MemberPublicKey []byte
	LogJSON         []byte
	UnixSeconds     int64
	DeviceName      string
	Kind            string
	Success         bool
}

// ChainStore persists main-chain blocks.
type ChainStore interface {
	GetBlock(ctx context.Context, hash []byte) (Block, error)
	BlockExists(ctx context.Context, hash []byte) (bool, error)
	// HasChild reports whether parent already has a successor in the team chain.
	HasChild(ctx context.Context, teamPublicKey, parent []byte) (bool, error)
	// InsertBlock returns ErrChainConflict when the parent already has a child.
	InsertBlock(ctx context.Context, block Block) error
	// ListBlocks returns up to limit blocks in chain order, starting at
	// genesis when after is nil and after that block otherwise.
	ListBlocks(ctx context.Context, teamPublicKey, after []byte, limit int) ([]Block, error)
	CountBlocks(ctx context.Context, teamPublicKey []byte) (int, error)
	ListTeamPublicKeys(ctx context.Context) ([][]byte, error)
}

// ProjectionStore holds the team state derived from the main chain.
type ProjectionStore interface {
	GetTeam(ctx context.Context, teamPublicKey []byte) (team.Team, error)
	UpdateTeamHead(ctx context.Context, teamPublicKey, hash []byte) error
	GetMember(ctx context.Context, teamPublicKey, publicKey []byte) (team.Member, error)
	GetMemberByEmail(ctx context.Context, teamPublicKey []byte, email string) (team.Member, error)
	ListMembers(ctx context.Context, teamPublicKey []byte) ([]team.Member, error)
	GetIdentity(ctx context.Context, teamPublicKey, publicKey []byte) (protocol.Identity, error)
	ListIdentities(ctx context.Context, teamPublicKey []byte) ([]protocol.Identity, error)
	GetDirectInvitation(ctx context.Context, teamPublicKey, publicKey []byte) (protocol.DirectInvitation, error)
	GetIndirectInvitation(ctx context.Context, teamPublicKey, noncePublicKey []byte) (protocol.IndirectInvitation, error)
	// GetIndirectInvitationByKeyHash looks up an invitation across teams.
	GetIndirectInvitationByKeyHash(ctx context.Context, keyHash []byte) (protocol.IndirectInvitation, error)
	CountInvitations(ctx context.Context, teamPublicKey []byte) (InvitationCounts, error)
	IsHostKeyPinned(ctx context.Context, teamPublicKey []byte, key protocol.SSHHostKey) (bool, error)
	// ListPinnedHostKeys lists pins, all of them when host is empty.
	ListPinnedHostKeys(ctx context.Context, teamPublicKey []byte, host string) ([]protocol.SSHHostKey, error)
	ApplyMutation(ctx context.Context, teamPublicKey []byte, mutation command.Mutation) error
}

// LogStore persists member log chains.
type LogStore interface {
	GetLogBlock(ctx context.Context, hash []byte) (LogBlock, error)
	LogBlockExists(ctx context.Context, hash []byte) (bool, error)
	HasLogChild(ctx context.Context, teamPublicKey, memberPublicKey, parent []byte) (bool, error)
	// InsertLogBlock assigns the next team logical timestamp and returns it.
	InsertLogBlock(ctx context.Context, block LogBlock) (int64, error)
	ListMemberLogBlocks(ctx context.Context, teamPublicKey, memberPublicKey, after []byte, limit int) ([]LogBlock, error)
	ListTeamLogBlocks(ctx context.Context, teamPublicKey []byte, afterTimestamp int64, limit int) ([]LogBlock, error)
	GetLogChain(ctx context.Context, teamPublicKey, memberPublicKey []byte) (LogChain, error)
	InsertLogChain(ctx context.Context, chain LogChain) error
	UpdateLogChainHead(ctx context.Context, teamPublicKey, memberPublicKey, hash []byte) error
	SetLogChainKey(ctx context.Context, teamPublicKey, memberPublicKey, key []byte) error
}

// ReplicaStore holds client-only state.
type ReplicaStore interface {
	ListWrappedKeyRecipients(ctx context.Context, teamPublicKey []byte) ([][]byte, error)
	AddWrappedKeyRecipients(ctx context.Context, teamPublicKey []byte, recipients [][]byte) error
	ReplaceWrappedKeyRecipients(ctx context.Context, teamPublicKey []byte, recipients [][]byte) error
	EnqueueLog(ctx context.Context, teamPublicKey []byte, log QueuedLog) error
	// NextQueuedLog returns the oldest queued log, or false when empty.
	NextQueuedLog(ctx context.Context, teamPublicKey []byte) (QueuedLog, bool, error)
	DeleteQueuedLog(ctx context.Context, id string) error
	ClearQueuedLogs(ctx context.Context, teamPublicKey []byte) error
	InsertAuditLog(ctx context.Context, log AuditLog) error
	ListAuditLogs(ctx context.Context, teamPublicKey []byte, cond filter.SQLCondition, limit int) ([]AuditLog, error)
	GetTeamLogCursor(ctx context.Context, teamPublicKey []byte) (int64, error)
	SetTeamLogCursor(ctx context.Context, teamPublicKey []byte, timestamp int64) error
}

// Store is the full sigchain persistence surface.
type Store interface {
	ChainStore
	ProjectionStore
	LogStore
	ReplicaStore
	// WithinTx runs fn in one write transaction. fn must use the Store it is
	// given; returning an error rolls every write back.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}
