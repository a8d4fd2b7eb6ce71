package source

import (
	"fmt"
	"time"
)

// RateLimitedError reports that the remote source requires a wait before
// the same operation may be retried. It is scheduling information, not a
// failure: callers sleep for RetryAfter and resume.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited: retry after %s", e.RetryAfter)
}

// AccessDeniedError reports that the conversation is not accessible
// (private, forbidden, or the account is banned). The conversation is
// skipped; the run continues.
type AccessDeniedError struct {
	Conversation int64
	Reason       string
}

func (e *AccessDeniedError) Error() string {
	return fmt.Sprintf("access denied to conversation %d: %s", e.Conversation, e.Reason)
}

// AuthError reports a session-fatal authentication failure. It aborts the
// entire run.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed: %s", e.Reason)
}

// TransientError wraps a retriable remote failure (network blip, single
// item fetch failure).
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// ErrTopicsUnsupported is returned by GetTopics when the provider has no
// direct topic API.
var ErrTopicsUnsupported = fmt.Errorf("topic listing not supported by source")

// ErrNoProfilePhoto is returned by DownloadProfilePhoto when the
// conversation has no profile photo set.
var ErrNoProfilePhoto = fmt.Errorf("conversation has no profile photo")
