// Package retry classifies remote-source errors and applies the delay the
// source itself reports. There is no invented backoff curve: rate limits
// carry an explicit wait, transient errors are counted by the caller, and
// everything session-fatal aborts the run.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/log"
	"github.com/telvault/telvault/internal/metrics"
	"github.com/telvault/telvault/internal/source"
)

// Class is the handling category for a remote-source error.
type Class int

const (
	// None means no error.
	None Class = iota
	// RateLimited carries a required wait; the same operation resumes
	// afterwards. Not a content failure.
	RateLimited
	// AccessDenied skips the conversation; the run continues.
	AccessDenied
	// Transient is logged and counted; the caller moves to the next item
	// and aborts the conversation after a consecutive-error ceiling.
	Transient
	// Fatal aborts the entire run (authentication/session failures).
	Fatal
)

// Classify maps an error to its handling class. Unknown errors are
// treated as transient: a mistyped provider error must never take down
// the whole run.
func Classify(err error) Class {
	if err == nil {
		return None
	}
	var rl *source.RateLimitedError
	if errors.As(err, &rl) {
		return RateLimited
	}
	var ad *source.AccessDeniedError
	if errors.As(err, &ad) {
		return AccessDenied
	}
	var auth *source.AuthError
	if errors.As(err, &auth) {
		return Fatal
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Fatal
	}
	return Transient
}

// Wait returns the wait duration a rate-limit error demands, or zero.
func Wait(err error) time.Duration {
	var rl *source.RateLimitedError
	if errors.As(err, &rl) {
		return rl.RetryAfter
	}
	return 0
}

// Do runs op, sleeping out rate limits and resuming the same operation.
// Any other error is returned to the caller for classification. The sleep
// respects ctx cancellation.
func Do(ctx context.Context, label string, op func() error) error {
	for {
		err := op()
		if Classify(err) != RateLimited {
			return err
		}
		wait := Wait(err)
		metrics.RateLimitWaits.Inc()
		log.Warn("Rate limited", "op", label, "wait", wait)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
