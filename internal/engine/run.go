package engine

import (
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"qaflow/internal/store"
)

type RunStatus string

const (
	StatusPending       RunStatus = "pending"
	StatusRunning       RunStatus = "running"
	StatusAwaitingInput RunStatus = "awaiting_input"
	StatusCompleted     RunStatus = "completed"
	StatusCancelled     RunStatus = "cancelled"
	StatusFailed        RunStatus = "failed"
)

type StepStatus string

const (
	StepNotStarted StepStatus = "not_started"
	StepRunning    StepStatus = "running"
	StepSucceeded  StepStatus = "succeeded"
	StepFailed     StepStatus = "failed"
	StepSkipped    StepStatus = "skipped"
)

// StepRecord is one step's execution state within a run.
type StepRecord struct {
	Name      string            `json:"name"`
	Status    StepStatus        `json:"status"`
	Attempts  int               `json:"attempts"`
	Artifact  *store.Descriptor `json:"artifact,omitempty"`
	LastError string            `json:"last_error,omitempty"`
}

// Run is the mutable state of one end-to-end QA session. Steps[0] is the
// synthetic input record for the submitted document; Steps[1:] mirror the
// pipeline definition in order. CurrentIndex points at the last step that
// reached a settled non-failed state (-1 on a zero run, 0 after create).
type Run struct {
	ID           string       `json:"id"`
	Owner        string       `json:"owner"`
	CreatedAt    time.Time    `json:"created_at"`
	CurrentIndex int          `json:"current_index"`
	Status       RunStatus    `json:"status"`
	Steps        []StepRecord `json:"steps"`
}

func (r Run) clone() Run {
	out := r
	out.Steps = make([]StepRecord, len(r.Steps))
	copy(out.Steps, r.Steps)
	for i, rec := range r.Steps {
		if rec.Artifact != nil {
			d := *rec.Artifact
			out.Steps[i].Artifact = &d
		}
	}
	return out
}

// StepOutcome is what advance/retry hand back to the controller.
type StepOutcome struct {
	Run      Run               `json:"run"`
	Step     string            `json:"step"`
	Skipped  []string          `json:"skipped,omitempty"`
	Artifact *store.Descriptor `json:"artifact,omitempty"`
}

var (
	ErrNoSuchRun      = errors.New("no such run")
	ErrIllegalState   = errors.New("illegal run state")
	ErrRetryExhausted = errors.New("step retry attempts exhausted")
	ErrRunCancelled   = errors.New("run cancelled")
)

// InvalidInputError rejects a bad initial document. The reason is
// user-correctable and surfaced verbatim.
type InvalidInputError struct {
	Reason string
}

func (e *InvalidInputError) Error() string { return "invalid input: " + e.Reason }

// Document is the requirements document that starts a run.
type Document struct {
	Name      string
	MediaType string
	Content   []byte
}

// newRunID derives an opaque identifier from the owner and creation time.
func newRunID(owner string, at time.Time) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(owner))
	return fmt.Sprintf("run-%08x-%d", h.Sum32(), at.UnixNano())
}
