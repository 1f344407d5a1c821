package engine

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"

	apperrors "github.com/louisbranch/sigchain/internal/platform/errors"
	"github.com/louisbranch/sigchain/internal/platform/grpc/pagination"
	"github.com/louisbranch/sigchain/internal/services/sigchain/domain/protocol"
	"github.com/louisbranch/sigchain/internal/services/sigchain/domain/readtoken"
	"github.com/louisbranch/sigchain/internal/services/sigchain/domain/verify"
	"github.com/louisbranch/sigchain/internal/services/sigchain/storage"
)

// ReadBlocks serves one page of a team's main chain. Active members and
// holders of a pending invitation key may read; invitees replicate the chain
// before accepting.
func (e *Engine) ReadBlocks(ctx context.Context, signed protocol.SignedMessage) (protocol.ReadBlocksResponse, error) {
	ctx, span := e.tracer.Start(ctx, "sigchain.read")
	defer span.End()

	resp, err := e.readBlocks(ctx, signed)
	if err == nil {
		span.SetAttributes(attribute.Int("sigchain.blocks", len(resp.Blocks)), attribute.Bool("sigchain.more", resp.More))
	}
	endSpan(span, err)
	return resp, err
}

func (e *Engine) readBlocks(ctx context.Context, signed protocol.SignedMessage) (protocol.ReadBlocksResponse, error) {
	msg, err := verify.SignatureAndVersion(signed)
	if err != nil {
		return protocol.ReadBlocksResponse{}, err
	}
	req, ok := msg.Body.(protocol.ReadBlocksRequest)
	if !ok {
		return protocol.ReadBlocksResponse{}, unexpectedBody("non-read")
	}
	reader, err := e.reader(signed.PublicKey, req.Token)
	if err != nil {
		return protocol.ReadBlocksResponse{}, err
	}

	var teamKey, after []byte
	switch {
	case len(req.TeamPointer.PublicKey) > 0:
		teamKey = req.TeamPointer.PublicKey
	case len(req.TeamPointer.LastBlockHash) > 0:
		block, err := e.store.GetBlock(ctx, req.TeamPointer.LastBlockHash)
		if errors.Is(err, storage.ErrNotFound) {
			return protocol.ReadBlocksResponse{}, blockNotFound()
		}
		if err != nil {
			return protocol.ReadBlocksResponse{}, err
		}
		teamKey, after = block.TeamPublicKey, block.Hash
	default:
		return protocol.ReadBlocksResponse{}, apperrors.New(apperrors.CodeMessageMalformed, "team pointer is empty")
	}
	if err := e.authorizeChainReader(ctx, teamKey, reader); err != nil {
		return protocol.ReadBlocksResponse{}, err
	}

	limit := pagination.ClampPageSize(0, e.pageSize)
	blocks, err := e.store.ListBlocks(ctx, teamKey, after, limit+1)
	if err != nil {
		return protocol.ReadBlocksResponse{}, err
	}
	resp := protocol.ReadBlocksResponse{Blocks: []protocol.SignedMessage{}}
	if len(blocks) > limit {
		blocks = blocks[:limit]
		resp.More = true
	}
	for _, block := range blocks {
		resp.Blocks = append(resp.Blocks, block.Signed)
	}
	return resp, nil
}

// ReadLogBlocks serves one page of a member log chain or of every log block
// of a team ordered by logical timestamp. Only active members may read.
func (e *Engine) ReadLogBlocks(ctx context.Context, signed protocol.SignedMessage) (protocol.ReadLogBlocksResponse, error) {
	ctx, span := e.tracer.Start(ctx, "sigchain.read_logs")
	defer span.End()

	resp, err := e.readLogBlocks(ctx, signed)
	if err == nil {
		span.SetAttributes(attribute.Int("sigchain.blocks", len(resp.Blocks)), attribute.Bool("sigchain.more", resp.More))
	}
	endSpan(span, err)
	return resp, err
}

func (e *Engine) readLogBlocks(ctx context.Context, signed protocol.SignedMessage) (protocol.ReadLogBlocksResponse, error) {
	msg, err := verify.SignatureAndVersion(signed)
	if err != nil {
		return protocol.ReadLogBlocksResponse{}, err
	}
	req, ok := msg.Body.(protocol.ReadLogBlocksRequest)
	if !ok {
		return protocol.ReadLogBlocksResponse{}, unexpectedBody("non-read")
	}
	reader, err := e.reader(signed.PublicKey, req.Token)
	if err != nil {
		return protocol.ReadLogBlocksResponse{}, err
	}
	limit := pagination.ClampPageSize(0, e.pageSize)

	var (
		teamKey []byte
		list    func() ([]storage.LogBlock, error)
	)
	switch {
	case req.Filter.Team != nil:
		filter := req.Filter.Team
		teamKey = filter.TeamPublicKey
		list = func() ([]storage.LogBlock, error) {
			return e.store.ListTeamLogBlocks(ctx, teamKey, filter.LastLogicalTimestamp, limit+1)
		}
	case req.Filter.Member != nil && req.Filter.Member.Genesis != nil:
		genesis := req.Filter.Member.Genesis
		teamKey = genesis.TeamPublicKey
		list = func() ([]storage.LogBlock, error) {
			return e.store.ListMemberLogBlocks(ctx, teamKey, genesis.MemberPublicKey, nil, limit+1)
		}
	case req.Filter.Member != nil && len(req.Filter.Member.LastBlockHash) > 0:
		parent, err := e.store.GetLogBlock(ctx, req.Filter.Member.LastBlockHash)
		if errors.Is(err, storage.ErrNotFound) {
			return protocol.ReadLogBlocksResponse{}, blockNotFound()
		}
		if err != nil {
			return protocol.ReadLogBlocksResponse{}, err
		}
		teamKey = parent.TeamPublicKey
		list = func() ([]storage.LogBlock, error) {
			return e.store.ListMemberLogBlocks(ctx, teamKey, parent.MemberPublicKey, parent.Hash, limit+1)
		}
	default:
		return protocol.ReadLogBlocksResponse{}, apperrors.New(apperrors.CodeMessageMalformed, "log filter is empty")
	}

	if err := e.authorizeMember(ctx, teamKey, reader); err != nil {
		return protocol.ReadLogBlocksResponse{}, err
	}
	blocks, err := list()
	if err != nil {
		return protocol.ReadLogBlocksResponse{}, err
	}
	resp := protocol.ReadLogBlocksResponse{Blocks: []protocol.SignedMessage{}}
	if len(blocks) > limit {
		blocks = blocks[:limit]
		resp.More = true
	}
	for _, block := range blocks {
		resp.Blocks = append(resp.Blocks, block.Signed)
	}
	if req.Filter.Team != nil && len(blocks) > 0 {
		last := blocks[len(blocks)-1].LogicalTimestamp
		resp.UpdateLogicalTimestamp = &last
	}
	return resp, nil
}

// InviteCiphertext returns the sealed indirect invitation secret stored for
// the hash of a link key.
func (e *Engine) InviteCiphertext(ctx context.Context, keyHash []byte) ([]byte, error) {
	inv, err := e.store.GetIndirectInvitationByKeyHash(ctx, keyHash)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperrors.New(apperrors.CodeInviteCiphertextNotFound, "no invitation for key hash")
	}
	if err != nil {
		return nil, err
	}
	return inv.InviteCiphertext, nil
}

// reader resolves who is reading: the request signer, or the issuer of a
// read token delegated to that signer.
func (e *Engine) reader(signer []byte, token string) ([]byte, error) {
	if token == "" {
		return signer, nil
	}
	claims, err := readtoken.Verify(token, signer, e.now())
	if err != nil {
		return nil, err
	}
	return claims.Issuer, nil
}

func (e *Engine) authorizeChainReader(ctx context.Context, teamKey, reader []byte) error {
	view := storage.TeamView(e.store, teamKey)
	if _, ok, err := view.Member(ctx, reader); err != nil || ok {
		return err
	}
	if _, ok, err := view.DirectInvitation(ctx, reader); err != nil || ok {
		return err
	}
	if _, ok, err := view.IndirectInvitation(ctx, reader); err != nil || ok {
		return err
	}
	return apperrors.New(apperrors.CodeReadNotAuthorized, "reader is not a member or invitee")
}

func (e *Engine) authorizeMember(ctx context.Context, teamKey, reader []byte) error {
	_, ok, err := storage.TeamView(e.store, teamKey).Member(ctx, reader)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.New(apperrors.CodeReadNotAuthorized, "reader is not a member")
	}
	return nil
}
