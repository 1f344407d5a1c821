package engine

import (
	"errors"

	apperrors "github.com/louisbranch/sigchain/internal/platform/errors"
	"github.com/louisbranch/sigchain/internal/services/sigchain/storage"
)

var (
	// ErrStoreRequired indicates a missing chain store.
	ErrStoreRequired = errors.New("store is required")
)

// IsRetryable reports whether err means the append lost a race on the chain
// head. Callers should refetch the head and sign a new block.
func IsRetryable(err error) bool {
	return apperrors.IsCode(err, apperrors.CodeNotAppendingToMainChain) || errors.Is(err, storage.ErrChainConflict)
}

// IsBlockExists reports whether err signals an already-applied block. A
// duplicate delivery has converged state and is not a failure.
func IsBlockExists(err error) bool {
	return apperrors.IsCode(err, apperrors.CodeBlockExists)
}

func blockExists() error {
	return apperrors.New(apperrors.CodeBlockExists, "block already exists")
}

func notAppending(cause error) error {
	if cause == nil {
		return apperrors.New(apperrors.CodeNotAppendingToMainChain, "parent block already has a child")
	}
	return apperrors.Wrap(apperrors.CodeNotAppendingToMainChain, "parent block already has a child", cause)
}

func blockNotFound() error {
	return apperrors.New(apperrors.CodeBlockNotFound, "parent block not found")
}

func unexpectedBody(what string) error {
	return apperrors.Errorf(apperrors.CodeUnexpectedBody, "unexpected %s body", what)
}
