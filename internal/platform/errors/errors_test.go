package errors

import (
	"errors"
	"fmt"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestErrorIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("append: %w", New(CodeNotAnAdmin, "signer is not an admin"))
	if !errors.Is(err, New(CodeNotAnAdmin, "other message")) {
		t.Fatal("expected errors.Is to match by code")
	}
	if errors.Is(err, New(CodeEmailInUse, "")) {
		t.Fatal("expected different codes not to match")
	}
	if GetCode(err) != CodeNotAnAdmin {
		t.Fatalf("GetCode = %s, want %s", GetCode(err), CodeNotAnAdmin)
	}
	if GetCode(errors.New("plain")) != CodeUnknown {
		t.Fatal("expected unknown code for plain error")
	}
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(CodeUnknown, "insert block", cause)
	if !errors.Is(err, cause) {
		t.Fatal("expected wrapped cause to be reachable")
	}
}

func TestGRPCCodeMapping(t *testing.T) {
	tests := []struct {
		code Code
		want codes.Code
	}{
		{CodeNotAnAdmin, codes.PermissionDenied},
		{CodeEmailInUse, codes.FailedPrecondition},
		{CodeNotAppendingToMainChain, codes.Aborted},
		{CodeBlockExists, codes.AlreadyExists},
		{CodeInvalidSignature, codes.InvalidArgument},
		{CodeReadTokenExpired, codes.Unauthenticated},
		{CodeBlockNotFound, codes.NotFound},
		{Code("SOMETHING_ELSE"), codes.Internal},
	}
	for _, tt := range tests {
		if got := tt.code.GRPCCode(); got != tt.want {
			t.Fatalf("%s.GRPCCode() = %s, want %s", tt.code, got, tt.want)
		}
	}
}

func TestHandleErrorRoundTripsThroughStatus(t *testing.T) {
	original := WithMetadata(CodeEmailInUse, "email already a member", map[string]string{"Email": "a@acme.co"})
	grpcErr := HandleError(original, "")

	st, ok := status.FromError(grpcErr)
	if !ok {
		t.Fatal("expected gRPC status")
	}
	if st.Code() != codes.FailedPrecondition {
		t.Fatalf("status code = %s, want FailedPrecondition", st.Code())
	}

	restored := FromGRPC(grpcErr)
	if GetCode(restored) != CodeEmailInUse {
		t.Fatalf("restored code = %s, want %s", GetCode(restored), CodeEmailInUse)
	}
	if GetMetadata(restored)["Email"] != "a@acme.co" {
		t.Fatalf("restored metadata = %v", GetMetadata(restored))
	}
}

func TestHandleErrorUnknownIsInternal(t *testing.T) {
	st, _ := status.FromError(HandleError(errors.New("boom"), ""))
	if st.Code() != codes.Internal {
		t.Fatalf("status code = %s, want Internal", st.Code())
	}
	if HandleError(nil, "") != nil {
		t.Fatal("expected nil for nil error")
	}
}
