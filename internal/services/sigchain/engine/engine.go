package engine

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/louisbranch/sigchain/internal/platform/errors"
	"github.com/louisbranch/sigchain/internal/platform/grpc/pagination"
	"github.com/louisbranch/sigchain/internal/services/sigchain/domain/command"
	"github.com/louisbranch/sigchain/internal/services/sigchain/domain/protocol"
	"github.com/louisbranch/sigchain/internal/services/sigchain/domain/team"
	"github.com/louisbranch/sigchain/internal/services/sigchain/domain/verify"
	"github.com/louisbranch/sigchain/internal/services/sigchain/storage"
)

const tracerName = "github.com/louisbranch/sigchain/internal/services/sigchain/engine"

// DefaultPageSize bounds read pages when no page size is configured.
var DefaultPageSize = pagination.PageSizeConfig{Default: 100, Max: 500}

// Engine verifies and applies signed chain messages against a store.
type Engine struct {
	store    storage.Store
	now      func() time.Time
	tracer   trace.Tracer
	pageSize pagination.PageSizeConfig
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the clock used for stored timestamps and read tokens.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithTracer overrides the global tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		if tracer != nil {
			e.tracer = tracer
		}
	}
}

// WithPageSize bounds read pages.
func WithPageSize(cfg pagination.PageSizeConfig) Option {
	return func(e *Engine) { e.pageSize = cfg }
}

// New builds an engine over store.
func New(store storage.Store, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}
	e := &Engine{
		store:    store,
		now:      time.Now,
		tracer:   otel.Tracer(tracerName),
		pageSize: DefaultPageSize,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Store returns the store the engine writes to.
func (e *Engine) Store() storage.Store { return e.store }

// Applied describes an accepted main-chain block.
type Applied struct {
	TeamPublicKey []byte
	BlockHash     []byte
	Message       protocol.Message
	Mutations     []command.Mutation
}

// VerifyAndProcess verifies a main-chain create or append and applies it in
// its own transaction.
func (e *Engine) VerifyAndProcess(ctx context.Context, signed protocol.SignedMessage) (Applied, error) {
	ctx, span := e.tracer.Start(ctx, "sigchain.process")
	defer span.End()

	var applied Applied
	err := e.store.WithinTx(ctx, func(ctx context.Context, tx storage.Store) error {
		var err error
		applied, err = e.ProcessTx(ctx, tx, signed)
		return err
	})
	if err == nil {
		span.SetAttributes(
			attribute.String("sigchain.operation", operationKind(applied.Message)),
			attribute.Int("sigchain.mutations", len(applied.Mutations)),
		)
	}
	endSpan(span, err)
	if err != nil {
		return Applied{}, err
	}
	return applied, nil
}

// ProcessTx verifies and applies a main-chain message using tx. The caller
// owns the transaction, which lets a client apply locally and broadcast
// before committing.
func (e *Engine) ProcessTx(ctx context.Context, tx storage.Store, signed protocol.SignedMessage) (Applied, error) {
	msg, err := verify.SignatureAndVersion(signed)
	if err != nil {
		return Applied{}, err
	}
	switch body := msg.Body.(type) {
	case protocol.GenesisBlock:
		return e.createTeam(ctx, tx, signed, msg, body)
	case protocol.Block:
		return e.appendBlock(ctx, tx, signed, msg, body)
	case nil:
		return Applied{}, apperrors.New(apperrors.CodeMessageMalformed, "message body is required")
	default:
		return Applied{}, unexpectedBody(string(body.Chain()) + "." + string(body.Action()))
	}
}

func (e *Engine) createTeam(ctx context.Context, tx storage.Store, signed protocol.SignedMessage, msg protocol.Message, genesis protocol.GenesisBlock) (Applied, error) {
	hash := signed.PayloadHash()
	exists, err := tx.BlockExists(ctx, hash)
	if err != nil {
		return Applied{}, err
	}
	if exists {
		return Applied{}, blockExists()
	}
	teamKey := signed.PublicKey
	if _, err := tx.GetTeam(ctx, teamKey); err == nil {
		return Applied{}, blockExists()
	} else if !errors.Is(err, storage.ErrNotFound) {
		return Applied{}, err
	}

	decision := team.DecideGenesis(signed.PublicKey, genesis, hash)
	if !decision.Accepted() {
		return Applied{}, decision.Err()
	}
	if err := e.insertBlock(ctx, tx, hash, nil, teamKey, signed); err != nil {
		return Applied{}, err
	}
	if err := applyMutations(ctx, tx, teamKey, decision.Mutations); err != nil {
		return Applied{}, err
	}
	return Applied{TeamPublicKey: teamKey, BlockHash: hash, Message: msg, Mutations: decision.Mutations}, nil
}

func (e *Engine) appendBlock(ctx context.Context, tx storage.Store, signed protocol.SignedMessage, msg protocol.Message, block protocol.Block) (Applied, error) {
	hash := signed.PayloadHash()
	exists, err := tx.BlockExists(ctx, hash)
	if err != nil {
		return Applied{}, err
	}
	if exists {
		return Applied{}, blockExists()
	}
	if len(block.LastBlockHash) == 0 {
		return Applied{}, apperrors.New(apperrors.CodeMessageMalformed, "last_block_hash is required")
	}
	parent, err := tx.GetBlock(ctx, block.LastBlockHash)
	if errors.Is(err, storage.ErrNotFound) {
		return Applied{}, blockNotFound()
	}
	if err != nil {
		return Applied{}, err
	}
	teamKey := parent.TeamPublicKey
	hasChild, err := tx.HasChild(ctx, teamKey, parent.Hash)
	if err != nil {
		return Applied{}, err
	}
	if hasChild {
		return Applied{}, notAppending(nil)
	}

	decision, err := team.Decide(ctx, storage.TeamView(tx, teamKey), signed.PublicKey, block.Operation)
	if err != nil {
		return Applied{}, err
	}
	if !decision.Accepted() {
		return Applied{}, decision.Err()
	}
	if err := e.insertBlock(ctx, tx, hash, parent.Hash, teamKey, signed); err != nil {
		return Applied{}, err
	}
	if err := tx.UpdateTeamHead(ctx, teamKey, hash); err != nil {
		return Applied{}, err
	}
	if err := applyMutations(ctx, tx, teamKey, decision.Mutations); err != nil {
		return Applied{}, err
	}
	return Applied{TeamPublicKey: teamKey, BlockHash: hash, Message: msg, Mutations: decision.Mutations}, nil
}

func (e *Engine) insertBlock(ctx context.Context, tx storage.Store, hash, parent, teamKey []byte, signed protocol.SignedMessage) error {
	err := tx.InsertBlock(ctx, storage.Block{
		Hash:          hash,
		LastBlockHash: parent,
		TeamPublicKey: teamKey,
		Signed:        signed,
		CreatedAt:     e.now(),
	})
	if errors.Is(err, storage.ErrChainConflict) {
		return notAppending(err)
	}
	return err
}

func applyMutations(ctx context.Context, tx storage.Store, teamKey []byte, mutations []command.Mutation) error {
	for _, m := range mutations {
		if err := tx.ApplyMutation(ctx, teamKey, m); err != nil {
			return err
		}
	}
	return nil
}

func operationKind(msg protocol.Message) string {
	switch body := msg.Body.(type) {
	case protocol.GenesisBlock:
		return "create"
	case protocol.Block:
		return protocol.OperationKind(body.Operation)
	case protocol.GenesisLogBlock:
		return "create"
	case protocol.LogBlock:
		return protocol.LogOperationKind(body.Operation)
	default:
		return ""
	}
}

func endSpan(span trace.Span, err error) {
	if err == nil {
		return
	}
	code := apperrors.GetCode(err)
	span.SetAttributes(attribute.String("sigchain.error_code", string(code)))
	if code == apperrors.CodeUnknown {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return
	}
	// Rejections are expected outcomes, not span failures.
	span.SetStatus(otelcodes.Unset, "")
}
