package llmclient

import "context"

// Params carries the generation settings for one completion call. The model
// and temperature come from process configuration, not from the caller.
type Params struct {
	Model       string
	Temperature float32
	MaxTokens   int
}

// Provider is the completion backend. One implementation is chosen at
// process start ({cloud, local}) and injected into the engine; it is never
// re-dispatched per call.
type Provider interface {
	Name() string
	Complete(ctx context.Context, prompt string, p Params) (string, error)
	Close() error
}
