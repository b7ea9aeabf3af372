// Package errors provides unit tests for error codes.
package errors

import (
	stderrors "errors"
	"strings"
	"testing"
)

// TestNewError tests creating an error with a code.
func TestNewError(t *testing.T) {
	err := New(ErrStoreUnavailable, "cannot open local store")

	if !strings.Contains(err.Error(), "STORE_UNAVAILABLE") {
		t.Errorf("Expected code in message, got %q", err.Error())
	}
	if !strings.Contains(err.Error(), "cannot open local store") {
		t.Errorf("Expected message text, got %q", err.Error())
	}
}

// TestWrapAndUnwrap tests error wrapping preserves the cause chain.
func TestWrapAndUnwrap(t *testing.T) {
	cause := stderrors.New("disk full")
	err := Wrap(ErrStoreQuery, "upsert failed", cause)

	if !stderrors.Is(err, cause) {
		t.Error("Expected wrapped error to match cause via errors.Is")
	}
	if !strings.Contains(err.Error(), "disk full") {
		t.Errorf("Expected cause in message, got %q", err.Error())
	}
}

// TestIs tests code matching.
func TestIs(t *testing.T) {
	err := New(ErrSyncOffline, "no connectivity")

	if !Is(err, ErrSyncOffline) {
		t.Error("Expected Is to match ErrSyncOffline")
	}
	if Is(err, ErrSyncFailed) {
		t.Error("Expected Is not to match ErrSyncFailed")
	}
	if Is(stderrors.New("plain"), ErrSyncOffline) {
		t.Error("Expected Is to be false for non-AppError")
	}
}

// TestCodeOf tests code extraction.
func TestCodeOf(t *testing.T) {
	if CodeOf(New(ErrAuthUnavailable, "no token")) != ErrAuthUnavailable {
		t.Error("Expected ErrAuthUnavailable")
	}
	if CodeOf(stderrors.New("plain")) != ErrInternal {
		t.Error("Expected plain errors to map to ErrInternal")
	}
}
