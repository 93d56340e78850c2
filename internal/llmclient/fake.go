package llmclient

import (
	"context"
	"sync"
)

// FakeProvider returns scripted responses for offline runs and tests.
type FakeProvider struct {
	// Reply produces the response for a prompt. When nil, every call
	// returns "ok".
	Reply func(prompt string, p Params) (string, error)
	// Gate, when set, blocks each call until the channel is closed or the
	// context ends. Used to exercise cancellation races.
	Gate chan struct{}

	mu    sync.Mutex
	calls int
}

func (f *FakeProvider) Name() string { return "fake" }
func (f *FakeProvider) Close() error { return nil }

func (f *FakeProvider) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *FakeProvider) Complete(ctx context.Context, prompt string, p Params) (string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.Gate != nil {
		select {
		case <-ctx.Done():
			return "", wrapCallError(ctx.Err())
		case <-f.Gate:
		}
	}
	if f.Reply == nil {
		return "ok", nil
	}
	return f.Reply(prompt, p)
}
