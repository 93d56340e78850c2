package llmclient

import (
	"context"
	"errors"
	"fmt"
)

var ErrEmptyResponse = errors.New("empty response from provider")

// UnavailableError means the backend could not be reached or refused the
// call. Auth marks credential failures, which no amount of retrying fixes.
type UnavailableError struct {
	Auth bool
	Err  error
}

func (e *UnavailableError) Error() string {
	if e.Auth {
		return fmt.Sprintf("provider unavailable (auth): %v", e.Err)
	}
	return fmt.Sprintf("provider unavailable: %v", e.Err)
}
func (e *UnavailableError) Unwrap() error { return e.Err }

// TimeoutError means one completion call exceeded its deadline.
type TimeoutError struct {
	Err error
}

func (e *TimeoutError) Error() string { return fmt.Sprintf("provider timeout: %v", e.Err) }
func (e *TimeoutError) Unwrap() error { return e.Err }

// RateLimitError means the backend throttled the call.
type RateLimitError struct {
	Err error
}

func (e *RateLimitError) Error() string { return fmt.Sprintf("provider rate limited: %v", e.Err) }
func (e *RateLimitError) Unwrap() error { return e.Err }

// Retryable reports whether another attempt may succeed. Auth failures are
// permanent; everything else in the taxonomy is transient.
func Retryable(err error) bool {
	var unavailable *UnavailableError
	if errors.As(err, &unavailable) {
		return !unavailable.Auth
	}
	var timeout *TimeoutError
	if errors.As(err, &timeout) {
		return true
	}
	var rateLimited *RateLimitError
	if errors.As(err, &rateLimited) {
		return true
	}
	return false
}

// wrapCallError maps transport-level failures onto the provider taxonomy.
func wrapCallError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Err: err}
	}
	return err
}
