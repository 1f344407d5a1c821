package engine

import (
	"context"

	apperrors "github.com/louisbranch/sigchain/internal/platform/errors"
	"github.com/louisbranch/sigchain/internal/services/sigchain/domain/protocol"
	"github.com/louisbranch/sigchain/internal/services/sigchain/domain/verify"
)

// Submit routes a write envelope to the main or log chain by its body and
// returns the accepted block hash. Read requests are rejected; they have
// their own entry points.
func (e *Engine) Submit(ctx context.Context, signed protocol.SignedMessage) ([]byte, error) {
	msg, err := verify.SignatureAndVersion(signed)
	if err != nil {
		return nil, err
	}
	if msg.Body == nil {
		return nil, apperrors.New(apperrors.CodeMessageMalformed, "message body is required")
	}
	if msg.Body.Action() == protocol.ActionRead {
		return nil, unexpectedBody(string(msg.Body.Chain()) + ".read")
	}
	if msg.Body.Chain() == protocol.ChainLog {
		applied, err := e.VerifyAndProcessLog(ctx, signed)
		if err != nil {
			return nil, err
		}
		return applied.BlockHash, nil
	}
	applied, err := e.VerifyAndProcess(ctx, signed)
	if err != nil {
		return nil, err
	}
	return applied.BlockHash, nil
}
