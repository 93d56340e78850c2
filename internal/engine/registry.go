package engine

import (
	"context"
	"fmt"
	"sync"
)

// runState pairs a Run with its locks. op serializes advance/retry for the
// run; mu guards reads and writes of the run snapshot and must never be held
// across a blocking call.
type runState struct {
	op sync.Mutex

	mu         sync.RWMutex
	run        Run
	exhausted  bool
	cancelStep context.CancelFunc
}

func (rs *runState) snapshot() Run {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return rs.run.clone()
}

// terminal reports whether the run can never execute another step.
// A failed run stays non-terminal until its retry budget is spent.
func (rs *runState) terminal() bool {
	switch rs.run.Status {
	case StatusCompleted, StatusCancelled:
		return true
	case StatusFailed:
		return rs.exhausted
	default:
		return false
	}
}

// Registry maps run identifiers to their state machines. Distinct runs share
// no mutable state, so the registry lock only covers the map itself.
type Registry struct {
	mu   sync.RWMutex
	runs map[string]*runState
}

func NewRegistry() *Registry {
	return &Registry{runs: make(map[string]*runState)}
}

func (r *Registry) add(rs *runState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[rs.run.ID] = rs
}

func (r *Registry) get(runID string) (*runState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rs, ok := r.runs[runID]
	return rs, ok
}

// Evict removes a terminal run from the registry. Artifacts stay in the
// store. A run with a step in flight is never evicted.
func (r *Registry) Evict(runID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rs, ok := r.runs[runID]
	if !ok {
		return fmt.Errorf("evict %s: %w", runID, ErrNoSuchRun)
	}
	if !rs.op.TryLock() {
		return fmt.Errorf("evict %s: step in flight: %w", runID, ErrIllegalState)
	}
	defer rs.op.Unlock()
	rs.mu.RLock()
	terminal := rs.terminal()
	rs.mu.RUnlock()
	if !terminal {
		return fmt.Errorf("evict %s: run is not terminal: %w", runID, ErrIllegalState)
	}
	delete(r.runs, runID)
	return nil
}

// Len reports the number of registered runs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.runs)
}
