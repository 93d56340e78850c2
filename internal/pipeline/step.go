package pipeline

import (
	"errors"
	"fmt"

	"qaflow/internal/llmclient"
)

// Artifact kinds and the synthetic step recorded for the uploaded document.
const (
	StepInput    = "input"
	KindDoc      = "doc"
	KindResponse = "response"
	KindReport   = "report"
)

// Format is the response shape a step expects back from the provider.
type Format int

const (
	FormatText Format = iota
	FormatJSON
	FormatCode
)

func (f Format) MediaType() string {
	switch f {
	case FormatJSON:
		return "application/json"
	case FormatCode:
		return "text/x-python"
	default:
		return "text/plain"
	}
}

// ErrSkipStep is reported by a step whose optional inputs are absent. The
// engine records the step as skipped and moves on without consuming a
// controller action.
var ErrSkipStep = errors.New("step skipped")

// FormatError means the provider's output did not match the step's expected
// shape even after reformat attempts. Eligible for a step retry, not fatal
// to the run.
type FormatError struct {
	Step string
	Err  error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("step %s: response format invalid: %v", e.Step, e.Err)
}
func (e *FormatError) Unwrap() error { return e.Err }

// Prompt is a structured prompt: a fixed instruction plus context sections
// assembled from prior artifacts, ordered oldest first. When the prompt
// exceeds the character budget, sections are dropped or trimmed front-first;
// the instruction itself is never truncated.
type Prompt struct {
	Instruction string
	Sections    []Section
}

type Section struct {
	Title string
	Body  string
}

// Definition is one named, pure pipeline stage. Exactly one of Build or
// Transform is set: Build produces a prompt for the completion provider,
// Transform computes the artifact locally without a provider call.
//
// Steps hold no state and never touch the artifact store; persistence is the
// run engine's job.
type Definition struct {
	Name     string
	Requires []string
	Kind     string
	Format   Format

	Build     func(c *StepContext) (Prompt, error)
	Transform func(c *StepContext) (string, error)
}

// StepContext exposes read access to the prior succeeded artifacts of the
// run and to the run-level generation parameters.
type StepContext struct {
	RunID   string
	Attempt int
	Params  llmclient.Params

	lookup func(step, kind string) (string, error)
}

func NewStepContext(runID string, attempt int, params llmclient.Params, lookup func(step, kind string) (string, error)) *StepContext {
	return &StepContext{RunID: runID, Attempt: attempt, Params: params, lookup: lookup}
}

// Artifact returns the latest content produced by a prior step.
func (c *StepContext) Artifact(step, kind string) (string, error) {
	if c == nil || c.lookup == nil {
		return "", fmt.Errorf("step context is not configured")
	}
	return c.lookup(step, kind)
}

// Input returns the originally submitted requirements document.
func (c *StepContext) Input() (string, error) {
	return c.Artifact(StepInput, KindDoc)
}
