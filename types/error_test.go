package types

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestError_ChainingAndHelpers(t *testing.T) {
	t.Parallel()

	root := errors.New("root")
	err := NewError(ErrModelInvocation, "model call failed").
		WithCause(root).
		WithHTTPStatus(502).
		WithRetryable(true).
		WithProvider("openai")

	if GetErrorCode(err) != ErrModelInvocation {
		t.Fatalf("expected code %s, got %s", ErrModelInvocation, GetErrorCode(err))
	}
	if !IsRetryable(err) {
		t.Fatalf("expected retryable")
	}
	if !errors.Is(err, root) {
		t.Fatalf("expected errors.Is unwrap to root")
	}
	if got := err.Error(); got == "" {
		t.Fatalf("expected non-empty error string")
	}
}

func TestError_HelpersSeeThroughWrapping(t *testing.T) {
	t.Parallel()

	wrapped := fmt.Errorf("execute: %w", NewAgentNotFoundError("risk-scorer"))

	if !IsErrorCode(wrapped, ErrAgentNotFound) {
		t.Fatalf("expected wrapped error to carry %s", ErrAgentNotFound)
	}
	e, ok := AsError(wrapped)
	if !ok {
		t.Fatalf("expected AsError to find *Error")
	}
	if e.HTTPStatus != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", e.HTTPStatus)
	}
	if GetErrorCode(errors.New("plain")) != "" {
		t.Fatalf("plain errors carry no code")
	}
}

func TestNewPersistenceError_KeepsCauseOutOfMessage(t *testing.T) {
	t.Parallel()

	cause := errors.New("dial tcp 10.0.0.5:5432: connection refused")
	err := NewPersistenceError("complete task", cause)

	if err.Message != "failed to record task outcome" {
		t.Fatalf("unexpected message %q", err.Message)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause in chain")
	}
	if !err.Retryable {
		t.Fatalf("persistence errors are retryable")
	}
}
