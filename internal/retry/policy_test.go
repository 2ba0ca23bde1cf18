// Package retry provides unit tests for error classification and backoff.
package retry

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/autogratuity/tipsync/internal/errors"
)

// TestClassifyRemoteCodes verifies classification of remote client errors.
func TestClassifyRemoteCodes(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		category  Category
		retryable bool
	}{
		{"timeout", errors.New(errors.ErrRemoteTimeout, "timed out"), CategoryTransientNetwork, true},
		{"unavailable", errors.New(errors.ErrRemoteUnavailable, "503"), CategoryServerUnavailable, true},
		{"permission", errors.New(errors.ErrRemotePermission, "forbidden"), CategoryPermissionDenied, false},
		{"not found", errors.New(errors.ErrRemoteNotFound, "missing"), CategoryNotFound, false},
		{"conflict", errors.New(errors.ErrRemoteConflict, "precondition"), CategoryConflict, false},
		{"unknown", stderrors.New("something odd"), CategoryUnknown, false},
	}

	for _, tc := range cases {
		c := Classify(tc.err)
		if c.Category != tc.category {
			t.Errorf("%s: expected category %s, got %s", tc.name, tc.category, c.Category)
		}
		if c.Retryable != tc.retryable {
			t.Errorf("%s: expected retryable=%v, got %v", tc.name, tc.retryable, c.Retryable)
		}
	}
}

// TestClassifyWrappedCodes verifies codes survive error wrapping.
func TestClassifyWrappedCodes(t *testing.T) {
	inner := errors.New(errors.ErrRemotePermission, "forbidden")
	wrapped := fmt.Errorf("write failed: %w", inner)

	c := Classify(wrapped)
	if c.Category != CategoryPermissionDenied {
		t.Errorf("Expected permission_denied through wrapping, got %s", c.Category)
	}
}

// TestClassifyDeadlineExceeded verifies context timeouts are transient.
func TestClassifyDeadlineExceeded(t *testing.T) {
	c := Classify(context.DeadlineExceeded)
	if c.Category != CategoryTransientNetwork {
		t.Errorf("Expected transient_network, got %s", c.Category)
	}
	if !c.Retryable {
		t.Error("Deadline exceeded should be retryable")
	}
}

// TestClassifyMessageHeuristics verifies the transport phrasing fallback.
func TestClassifyMessageHeuristics(t *testing.T) {
	for _, msg := range []string{
		"dial tcp: connection refused",
		"read: connection reset by peer",
		"service temporarily unavailable",
	} {
		c := Classify(stderrors.New(msg))
		if !c.Retryable {
			t.Errorf("Expected %q to classify retryable", msg)
		}
	}
}

// fixedPolicy returns a policy with deterministic jitter for tests.
func fixedPolicy(jitterSample float64) *Policy {
	p := DefaultPolicy()
	p.randFloat = func() float64 { return jitterSample }
	return p
}

// TestBackoffMonotonic verifies delay never decreases with attempt count.
func TestBackoffMonotonic(t *testing.T) {
	p := DefaultPolicy() // real jitter
	c := Classification{Category: CategoryTransientNetwork, Retryable: true}

	prev := time.Duration(0)
	for attempt := 0; attempt < 20; attempt++ {
		delay := p.NextAttemptDelay(attempt, c)
		if delay < prev {
			t.Fatalf("Delay decreased at attempt %d: %v < %v", attempt, delay, prev)
		}
		if delay > p.MaxDelay {
			t.Fatalf("Delay %v exceeds ceiling %v at attempt %d", delay, p.MaxDelay, attempt)
		}
		prev = delay
	}
}

// TestBackoffCeiling verifies large attempt counts cap at MaxDelay exactly.
func TestBackoffCeiling(t *testing.T) {
	p := fixedPolicy(1.0) // maximum jitter
	c := Classification{Category: CategoryServerUnavailable, Retryable: true}

	delay := p.NextAttemptDelay(30, c)
	if delay != p.MaxDelay {
		t.Errorf("Expected delay capped at %v, got %v", p.MaxDelay, delay)
	}
}

// TestBackoffJitterBounds verifies jitter stays within ±20%.
func TestBackoffJitterBounds(t *testing.T) {
	c := Classification{Category: CategoryTransientNetwork, Retryable: true}

	// attempt 3 → base 8s before jitter
	base := 8 * time.Second
	low := fixedPolicy(0.0).NextAttemptDelay(3, c)
	high := fixedPolicy(1.0).NextAttemptDelay(3, c)

	if low != time.Duration(float64(base)*0.8) {
		t.Errorf("Expected lower bound %v, got %v", time.Duration(float64(base)*0.8), low)
	}
	if high != time.Duration(float64(base)*1.2) {
		t.Errorf("Expected upper bound %v, got %v", time.Duration(float64(base)*1.2), high)
	}
}

// TestNonRetryableSentinel verifies non-retryable classifications never
// produce a delay.
func TestNonRetryableSentinel(t *testing.T) {
	p := DefaultPolicy()
	c := Classification{Category: CategoryPermissionDenied, Retryable: false}

	if delay := p.NextAttemptDelay(0, c); delay != DoNotRetry {
		t.Errorf("Expected DoNotRetry sentinel, got %v", delay)
	}
	if !p.NextRetryTime(time.Now(), 0, c).IsZero() {
		t.Error("Expected zero next retry time for non-retryable classification")
	}
}

// TestShouldRetry verifies the attempt ceiling and retryability gating.
func TestShouldRetry(t *testing.T) {
	p := DefaultPolicy()
	transient := Classification{Category: CategoryTransientNetwork, Retryable: true}
	permission := Classification{Category: CategoryPermissionDenied, Retryable: false}

	if !p.ShouldRetry(1, transient) {
		t.Error("Expected retry for transient error under the ceiling")
	}
	if p.ShouldRetry(p.MaxAttempts, transient) {
		t.Error("Expected no retry at the attempt ceiling")
	}
	if p.ShouldRetry(0, permission) {
		t.Error("Expected no retry for permission errors regardless of attempts")
	}
}
