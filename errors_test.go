package usbtmc

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorIsByCode(t *testing.T) {
	e1 := newError("Read", CodeTimedOut, "slow device")
	if !errors.Is(e1, ErrTimedOut) {
		t.Fatalf("errors.Is(%v, ErrTimedOut) = false, want true", e1)
	}
	if errors.Is(e1, ErrNoDevice) {
		t.Fatalf("errors.Is(%v, ErrNoDevice) = true, want false", e1)
	}
}

func TestWrapErrorPreservesInner(t *testing.T) {
	inner := errors.New("boom")
	wrapped := wrapError("Write", CodeIOError, inner)
	if errors.Unwrap(wrapped) != inner {
		t.Fatalf("Unwrap() = %v, want %v", errors.Unwrap(wrapped), inner)
	}
}

func TestWrapErrorNilIsNil(t *testing.T) {
	if wrapError("op", CodeIOError, nil) != nil {
		t.Fatal("wrapError(nil) should return nil")
	}
}

func TestCodeOf(t *testing.T) {
	err := fmt.Errorf("context: %w", newError("op", CodeDenied, "nope"))
	if CodeOf(err) != CodeDenied {
		t.Fatalf("CodeOf() = %q, want %q", CodeOf(err), CodeDenied)
	}
	if CodeOf(errors.New("plain")) != "" {
		t.Fatal("CodeOf(plain error) should be empty")
	}
}

func TestErrorStringIncludesOpAndCode(t *testing.T) {
	err := newError("Read", CodeTimedOut, "slow device")
	msg := err.Error()
	if msg == "" {
		t.Fatal("Error() returned empty string")
	}
	if !strings.Contains(msg, "Read") || !strings.Contains(msg, string(CodeTimedOut)) {
		t.Fatalf("Error() = %q, want it to include the op %q and the code %q", msg, "Read", CodeTimedOut)
	}
}
