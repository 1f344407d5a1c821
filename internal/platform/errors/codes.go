// Package errors provides structured error handling with i18n support.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Envelope errors
	CodeInvalidSignature     Code = "CRYPTO_INVALID_SIGNATURE"
	CodeInvalidKey           Code = "CRYPTO_INVALID_KEY"
	CodeMessageMalformed     Code = "MESSAGE_MALFORMED"
	CodeVersionIncompatible  Code = "VERSION_INCOMPATIBLE"
	CodeUnexpectedBody       Code = "UNEXPECTED_BODY"
	CodeDecryptionFailed     Code = "CRYPTO_DECRYPTION_FAILED"
	CodeInviteLinkMalformed  Code = "INVITE_LINK_MALFORMED"
	CodeTeamPointerUnmatched Code = "TEAM_POINTER_UNMATCHED"

	// Authorization errors
	CodeNotAnAdmin Code = "NOT_AN_ADMIN"
	CodeNotAMember Code = "NOT_A_MEMBER"

	// Invitation errors
	CodeInviteNotValid                  Code = "INVITE_NOT_VALID"
	CodeInviteKeyInUse                  Code = "INVITE_KEY_IN_USE"
	CodeAlreadyOnTeam                   Code = "ALREADY_ON_TEAM"
	CodeEmailInUse                      Code = "EMAIL_IN_USE"
	CodeCloseInvitationsFirst           Code = "CLOSE_INVITATIONS_FIRST"
	CodeInviteLastBlockHashNotReached   Code = "INVITE_LAST_BLOCK_HASH_NOT_REACHED"
	CodeTeamCheckpointHashNotReached    Code = "TEAM_CHECKPOINT_LAST_BLOCK_HASH_NOT_REACHED"
	CodeInviteRestrictionEmpty          Code = "INVITE_RESTRICTION_EMPTY"
	CodeInviteSymmetricKeyHashRequired  Code = "INVITE_SYMMETRIC_KEY_HASH_REQUIRED"
	CodeInviteCiphertextNotFound        Code = "INVITE_CIPHERTEXT_NOT_FOUND"
	CodeMembershipTargetSelf            Code = "CANNOT_REMOVE_SELF"
	CodeMembershipAlreadyAdmin          Code = "ALREADY_ADMIN"
	CodeMembershipNotAdmin              Code = "NOT_ADMIN_TARGET"
	CodeHostKeyAlreadyPinned            Code = "HOST_KEY_ALREADY_PINNED"
	CodeHostKeyNotPinned                Code = "HOST_KEY_NOT_PINNED"
	CodeLoggingAlreadyEnabled           Code = "LOGGING_ALREADY_ENABLED"
	CodeLoggingNotEnabled               Code = "LOGGING_NOT_ENABLED"
	CodeLogChainNotInTeam               Code = "LOG_CHAIN_NOT_IN_TEAM"
	CodeLogChainSymmetricKeyUnavailable Code = "LOG_CHAIN_SYMMETRIC_KEY_UNAVAILABLE"

	// Chain errors
	CodeNotAppendingToMainChain Code = "NOT_APPENDING_TO_MAIN_CHAIN"
	CodeBlockExists             Code = "BLOCK_EXISTS"
	CodeBlockNotFound           Code = "BLOCK_NOT_FOUND"
	CodeChainLinkMismatch       Code = "CHAIN_LINK_MISMATCH"

	// Read errors
	CodeReadTokenInvalid  Code = "READ_TOKEN_INVALID"
	CodeReadTokenExpired  Code = "READ_TOKEN_EXPIRED"
	CodeReadTokenMismatch Code = "READ_TOKEN_MISMATCH"
	CodeReadNotAuthorized Code = "READ_NOT_AUTHORIZED"
	CodeFilterInvalid     Code = "FILTER_INVALID"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"
)

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	// InvalidArgument - malformed envelopes and inputs
	case CodeInvalidSignature,
		CodeInvalidKey,
		CodeMessageMalformed,
		CodeUnexpectedBody,
		CodeDecryptionFailed,
		CodeInviteLinkMalformed,
		CodeInviteRestrictionEmpty,
		CodeInviteSymmetricKeyHashRequired,
		CodeReadTokenInvalid,
		CodeReadTokenMismatch,
		CodeFilterInvalid:
		return codes.InvalidArgument

	// PermissionDenied - signer lacks the role for the operation
	case CodeNotAnAdmin,
		CodeNotAMember,
		CodeReadNotAuthorized:
		return codes.PermissionDenied

	// Unauthenticated - credential no longer valid
	case CodeReadTokenExpired:
		return codes.Unauthenticated

	// FailedPrecondition - state doesn't allow operation
	case CodeVersionIncompatible,
		CodeInviteNotValid,
		CodeInviteKeyInUse,
		CodeAlreadyOnTeam,
		CodeEmailInUse,
		CodeCloseInvitationsFirst,
		CodeInviteLastBlockHashNotReached,
		CodeTeamCheckpointHashNotReached,
		CodeMembershipTargetSelf,
		CodeMembershipAlreadyAdmin,
		CodeMembershipNotAdmin,
		CodeHostKeyNotPinned,
		CodeLoggingAlreadyEnabled,
		CodeLoggingNotEnabled,
		CodeLogChainNotInTeam,
		CodeLogChainSymmetricKeyUnavailable,
		CodeTeamPointerUnmatched,
		CodeChainLinkMismatch:
		return codes.FailedPrecondition

	// Aborted - lost a race on the chain head; refetch and retry
	case CodeNotAppendingToMainChain:
		return codes.Aborted

	// NotFound - resource doesn't exist
	case CodeNotFound,
		CodeBlockNotFound,
		CodeInviteCiphertextNotFound:
		return codes.NotFound

	// AlreadyExists - unique resource constraint
	case CodeBlockExists,
		CodeHostKeyAlreadyPinned:
		return codes.AlreadyExists

	default:
		return codes.Internal
	}
}
