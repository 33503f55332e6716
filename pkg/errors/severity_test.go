package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
)

func TestIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("fetch plan: %w", NewRateLimitedError("plan-1", 3))

	if !stderrors.Is(err, ErrRateLimited) {
		t.Fatalf("expected wrapped rate limit error to match ErrRateLimited")
	}
	if stderrors.Is(err, ErrNotFound) {
		t.Fatalf("rate limit error must not match ErrNotFound")
	}
}

func TestUnwrapReachesCause(t *testing.T) {
	cause := stderrors.New("connection reset")
	err := NewTransientNetworkError("svc-1", cause)

	if !stderrors.Is(err, cause) {
		t.Fatalf("expected cause to be reachable through Unwrap")
	}
	if !stderrors.Is(err, ErrTransientNetwork) {
		t.Fatalf("expected ErrTransientNetwork match")
	}
}

func TestErrorString(t *testing.T) {
	err := NewUnexpectedStatusError("dep-9", 502)
	want := "[warning] UNEXPECTED_STATUS: unexpected HTTP status 502 (node: dep-9)"
	if got := err.Error(); got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
}

func TestStoreWriteIsFatal(t *testing.T) {
	err := NewStoreWriteError(stderrors.New("boom"))
	if err.Severity != SeverityFatal || err.Recoverable {
		t.Fatalf("store write errors must be fatal and unrecoverable, got %v/%v", err.Severity, err.Recoverable)
	}
	if err.Severity.String() != "fatal" {
		t.Fatalf("unexpected severity string %q", err.Severity.String())
	}
}
