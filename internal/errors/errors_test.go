package errors

import (
	stderrors "errors"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestErrorIsMatchesByCode(t *testing.T) {
	err := New(CodeActionUnknownType, "no handler for type")
	if !stderrors.Is(err, New(CodeActionUnknownType, "other message")) {
		t.Fatal("expected errors with same code to match")
	}
	if stderrors.Is(err, New(CodeNotFound, "no handler for type")) {
		t.Fatal("expected errors with different codes not to match")
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := stderrors.New("disk full")
	err := Wrap(CodeNotFound, "load action", cause)
	if !stderrors.Is(err, cause) {
		t.Fatal("expected wrapped cause to be reachable")
	}
	if GetCode(err) != CodeNotFound {
		t.Fatalf("code = %q, want %q", GetCode(err), CodeNotFound)
	}
}

func TestGetCodeUnknownForPlainErrors(t *testing.T) {
	if GetCode(stderrors.New("plain")) != CodeUnknown {
		t.Fatal("expected CodeUnknown for plain error")
	}
}

func TestToGRPCStatusMapsCode(t *testing.T) {
	err := WithMetadata(CodeActionMissingTarget, "action has no settlement", map[string]string{
		"action_id": "act-1",
	}).ToGRPCStatus()

	st, ok := status.FromError(err)
	if !ok {
		t.Fatal("expected grpc status error")
	}
	if st.Code() != codes.InvalidArgument {
		t.Fatalf("grpc code = %v, want %v", st.Code(), codes.InvalidArgument)
	}
}
