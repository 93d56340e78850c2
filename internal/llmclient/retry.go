package llmclient

import (
	"context"
	"math/rand"
	"time"
)

// NewRetrying wraps next with per-call timeouts and jittered exponential
// backoff for transient failures. Auth failures and other permanent errors
// surface immediately. If the context is canceled, it stops right away.
func NewRetrying(next Provider, maxAttempts int, baseDelay, callTimeout time.Duration) Provider {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if baseDelay <= 0 {
		baseDelay = 300 * time.Millisecond
	}
	return &retrying{next: next, max: maxAttempts, base: baseDelay, callTimeout: callTimeout}
}

type retrying struct {
	next        Provider
	max         int
	base        time.Duration
	callTimeout time.Duration
}

func (r *retrying) Name() string { return r.next.Name() }
func (r *retrying) Close() error { return r.next.Close() }

func (r *retrying) Complete(ctx context.Context, prompt string, p Params) (string, error) {
	var last error
	for i := 0; i < r.max; i++ {
		out, err := r.attempt(ctx, prompt, p)
		if err == nil {
			return out, nil
		}
		if !Retryable(err) {
			return "", err
		}
		last = err
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(backoff(r.base, i)):
		}
	}
	return "", last
}

func (r *retrying) attempt(ctx context.Context, prompt string, p Params) (string, error) {
	if r.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.callTimeout)
		defer cancel()
	}
	return r.next.Complete(ctx, prompt, p)
}

// backoff returns base*2^attempt plus up to 50% random jitter.
func backoff(base time.Duration, attempt int) time.Duration {
	d := base << uint(attempt)
	return d + time.Duration(rand.Int63n(int64(d)/2+1))
}
