package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
)

// TestErrorFormatting verifies the code/message/cause rendering.
func TestErrorFormatting(t *testing.T) {
	plain := New(ErrQueueFull, "operation queue is full")
	if got := plain.Error(); got != "[QUEUE_FULL] operation queue is full" {
		t.Errorf("Unexpected format: %s", got)
	}

	wrapped := Wrap(ErrDatabase, "insert failed", stderrors.New("disk full"))
	if got := wrapped.Error(); got != "[DATABASE_ERROR] insert failed: disk full" {
		t.Errorf("Unexpected format: %s", got)
	}
}

// TestUnwrap verifies the cause chain is preserved.
func TestUnwrap(t *testing.T) {
	cause := stderrors.New("disk full")
	err := Wrap(ErrDatabase, "insert failed", cause)

	if !stderrors.Is(err, cause) {
		t.Error("Expected errors.Is to reach the cause")
	}
}

// TestIsMatchesCode verifies code matching through wrapping layers.
func TestIsMatchesCode(t *testing.T) {
	err := New(ErrRemoteTimeout, "timed out")

	if !Is(err, ErrRemoteTimeout) {
		t.Error("Expected direct code match")
	}
	if Is(err, ErrRemoteUnavailable) {
		t.Error("Expected mismatched code to fail")
	}

	layered := fmt.Errorf("attempt failed: %w", err)
	if !Is(layered, ErrRemoteTimeout) {
		t.Error("Expected code match through fmt wrapping")
	}

	if Is(stderrors.New("plain"), ErrRemoteTimeout) {
		t.Error("Expected plain error to match no code")
	}
	if Is(nil, ErrRemoteTimeout) {
		t.Error("Expected nil to match no code")
	}
}

// TestCodeOf verifies code extraction with the internal fallback.
func TestCodeOf(t *testing.T) {
	if got := CodeOf(New(ErrValidation, "bad input")); got != ErrValidation {
		t.Errorf("Expected VALIDATION_ERROR, got %s", got)
	}
	if got := CodeOf(stderrors.New("plain")); got != ErrInternal {
		t.Errorf("Expected INTERNAL_ERROR fallback, got %s", got)
	}
}
