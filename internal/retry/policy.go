// Package retry provides error classification and exponential backoff
// decisions for sync operations. All functions are pure apart from jitter
// randomness; no I/O happens here.
package retry

import (
	"context"
	stderrors "errors"
	"math/rand"
	"net"
	"strings"
	"time"

	"github.com/autogratuity/tipsync/internal/errors"
)

// Category classifies the cause of a failed remote operation.
type Category string

const (
	CategoryTransientNetwork  Category = "transient_network"
	CategoryServerUnavailable Category = "server_unavailable"
	CategoryPermissionDenied  Category = "permission_denied"
	CategoryNotFound          Category = "not_found"
	CategoryConflict          Category = "conflict"
	CategoryUnknown           Category = "unknown"
)

// DoNotRetry is the sentinel delay returned for non-retryable classifications.
const DoNotRetry = time.Duration(-1)

// Classification is the result of mapping an error into a retry category.
type Classification struct {
	Category  Category
	Retryable bool
	Code      errors.ErrorCode
}

// Policy computes retry decisions for failed operations.
type Policy struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	JitterFraction float64

	// randFloat returns a value in [0, 1). Replaceable in tests.
	randFloat func() float64
}

// DefaultPolicy returns the standard policy: 8 attempts, 1s base delay
// doubling per attempt, 1 hour ceiling, ±20% jitter.
func DefaultPolicy() *Policy {
	return &Policy{
		MaxAttempts:    8,
		BaseDelay:      time.Second,
		MaxDelay:       time.Hour,
		JitterFraction: 0.2,
		randFloat:      rand.Float64,
	}
}

// Classify maps a transport or remote-store error into a fixed category.
// Classification is deterministic: the same error always maps the same way.
func Classify(err error) Classification {
	if err == nil {
		return Classification{Category: CategoryUnknown, Retryable: false, Code: errors.ErrInternal}
	}

	// Application error codes from the remote client take precedence.
	switch errors.CodeOf(err) {
	case errors.ErrRemoteTimeout:
		return Classification{CategoryTransientNetwork, true, errors.ErrRemoteTimeout}
	case errors.ErrRemoteUnavailable:
		return Classification{CategoryServerUnavailable, true, errors.ErrRemoteUnavailable}
	case errors.ErrRemotePermission:
		return Classification{CategoryPermissionDenied, false, errors.ErrRemotePermission}
	case errors.ErrRemoteNotFound:
		return Classification{CategoryNotFound, false, errors.ErrRemoteNotFound}
	case errors.ErrRemoteConflict:
		return Classification{CategoryConflict, false, errors.ErrRemoteConflict}
	}

	// Transport-level failures without an application code.
	if stderrors.Is(err, context.DeadlineExceeded) {
		return Classification{CategoryTransientNetwork, true, errors.ErrRemoteTimeout}
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) {
		return Classification{CategoryTransientNetwork, true, errors.ErrRemoteUnavailable}
	}

	// Message heuristics as a last resort, mirroring common transport phrasing.
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"timeout", "timed out", "connection refused", "connection reset",
		"unavailable", "temporary failure", "too many requests", "overloaded",
	} {
		if strings.Contains(msg, marker) {
			return Classification{CategoryTransientNetwork, true, errors.ErrRemoteUnavailable}
		}
	}

	return Classification{CategoryUnknown, false, errors.ErrInternal}
}

// ShouldRetry reports whether another attempt should be scheduled given the
// number of attempts already made.
func (p *Policy) ShouldRetry(attemptCount int, c Classification) bool {
	if !c.Retryable {
		return false
	}
	return attemptCount < p.MaxAttempts
}

// NextAttemptDelay computes the backoff delay before the next attempt:
// base * 2^attemptCount with ±JitterFraction randomization, capped at
// MaxDelay. Returns DoNotRetry for non-retryable classifications.
func (p *Policy) NextAttemptDelay(attemptCount int, c Classification) time.Duration {
	if !c.Retryable {
		return DoNotRetry
	}
	if attemptCount < 0 {
		attemptCount = 0
	}

	delay := p.BaseDelay
	for i := 0; i < attemptCount; i++ {
		delay *= 2
		if delay >= p.MaxDelay {
			// At the ceiling jitter is skipped, keeping the delay sequence
			// non-decreasing across attempts.
			return p.MaxDelay
		}
	}

	// Jitter spreads retries to avoid synchronized reattempts across devices.
	if p.JitterFraction > 0 {
		rnd := p.randFloat
		if rnd == nil {
			rnd = rand.Float64
		}
		factor := 1 - p.JitterFraction + rnd()*2*p.JitterFraction
		delay = time.Duration(float64(delay) * factor)
	}

	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

// NextRetryTime returns the wall-clock time of the next eligible attempt,
// or the zero time if the classification is not retryable.
func (p *Policy) NextRetryTime(now time.Time, attemptCount int, c Classification) time.Time {
	delay := p.NextAttemptDelay(attemptCount, c)
	if delay == DoNotRetry {
		return time.Time{}
	}
	return now.Add(delay)
}
