// Package apperrors defines sentinel errors shared across the pipeline.
package apperrors

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound               = errors.New("not found")
	ErrConflict               = errors.New("conflict")
	ErrUnknownMessageType     = errors.New("unknown message type")
	ErrCredentialsKeyMismatch = errors.New("integration credentials were encrypted with a different key")
)

// RateLimitError is surfaced by the provider client when the provider
// returns a rate-limit response. It is never retried and never dead-lettered;
// the job transitions to RATE_LIMIT_REACHED with ResetAt as its resume time.
type RateLimitError struct {
	ResetAt time.Time
}

func (e *RateLimitError) Error() string {
	if e.ResetAt.IsZero() {
		return "provider rate limit reached"
	}
	return fmt.Sprintf("provider rate limit reached, resets at %s", e.ResetAt.Format(time.RFC3339))
}

// AsRateLimit unwraps err into a RateLimitError if it is one.
func AsRateLimit(err error) (*RateLimitError, bool) {
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return rle, true
	}
	return nil, false
}

// FetchTimeoutError marks a page-fetch loop that exceeded its overall
// deadline. It is transient: the retry middleware republishes or
// dead-letters it like any other transient failure.
type FetchTimeoutError struct {
	Elapsed time.Duration
}

func (e *FetchTimeoutError) Error() string {
	return fmt.Sprintf("page fetch loop timed out after %s", e.Elapsed)
}
