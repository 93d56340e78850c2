package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"qaflow/internal/llmclient"
	"qaflow/internal/pipeline"
	"qaflow/internal/store"
)

// Options is the per-process run policy.
type Options struct {
	Params             llmclient.Params
	MaxStepRetries     int
	PromptBudget       int
	ReformatAttempts   int
	AcceptedMediaTypes []string
}

// Engine owns every run's state machine. It is the only writer of the
// artifact store and the only caller of the step harness; steps themselves
// stay pure.
type Engine struct {
	store      store.Store
	pipe       *pipeline.Pipeline
	harness    *pipeline.Harness
	params     llmclient.Params
	maxRetries int
	accepted   map[string]bool
	registry   *Registry
	hub        *hub
}

func New(st store.Store, provider llmclient.Provider, pipe *pipeline.Pipeline, opts Options) *Engine {
	maxRetries := opts.MaxStepRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	accepted := opts.AcceptedMediaTypes
	if len(accepted) == 0 {
		accepted = []string{"text/plain", "text/markdown"}
	}
	acceptedSet := make(map[string]bool, len(accepted))
	for _, mt := range accepted {
		acceptedSet[strings.TrimSpace(mt)] = true
	}
	return &Engine{
		store:      st,
		pipe:       pipe,
		harness:    pipeline.NewHarness(provider, opts.PromptBudget, opts.ReformatAttempts),
		params:     opts.Params,
		maxRetries: maxRetries,
		accepted:   acceptedSet,
		registry:   NewRegistry(),
		hub:        newHub(),
	}
}

func (e *Engine) Registry() *Registry { return e.registry }

// Create validates the submitted document, persists it as artifact version 1
// of the synthetic input step, and registers a pending run.
func (e *Engine) Create(ctx context.Context, owner string, doc Document) (Run, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return Run{}, &InvalidInputError{Reason: "owner is required"}
	}
	if len(doc.Content) == 0 || strings.TrimSpace(string(doc.Content)) == "" {
		return Run{}, &InvalidInputError{Reason: "document is empty"}
	}
	mediaType := strings.TrimSpace(doc.MediaType)
	if mediaType == "" {
		mediaType = "text/plain"
	}
	if !e.accepted[mediaType] {
		return Run{}, &InvalidInputError{Reason: fmt.Sprintf("unsupported media type %q", mediaType)}
	}

	now := time.Now().UTC()
	run := Run{
		ID:           newRunID(owner, now),
		Owner:        owner,
		CreatedAt:    now,
		CurrentIndex: -1,
		Status:       StatusPending,
		Steps:        make([]StepRecord, 0, e.pipe.Len()+1),
	}
	run.Steps = append(run.Steps, StepRecord{Name: pipeline.StepInput, Status: StepRunning, Attempts: 1})
	for _, name := range e.pipe.Names() {
		run.Steps = append(run.Steps, StepRecord{Name: name, Status: StepNotStarted})
	}

	art := store.New(run.ID, pipeline.StepInput, pipeline.KindDoc, 1, mediaType, doc.Content)
	if err := e.store.Put(ctx, art); err != nil {
		return Run{}, fmt.Errorf("persist input document: %w", err)
	}
	desc := art.Descriptor()
	run.Steps[0].Status = StepSucceeded
	run.Steps[0].Artifact = &desc
	run.CurrentIndex = 0

	rs := &runState{run: run}
	e.registry.add(rs)
	log.Printf("run %s created for %s (%d pipeline steps)", run.ID, owner, e.pipe.Len())
	e.publish(rs, pipeline.StepInput, StepSucceeded)
	return rs.snapshot(), nil
}

// Advance executes the next runnable step. One controller action drives
// exactly one step; skipped steps do not consume the action.
func (e *Engine) Advance(ctx context.Context, runID string) (StepOutcome, error) {
	rs, ok := e.registry.get(runID)
	if !ok {
		return StepOutcome{}, fmt.Errorf("advance %s: %w", runID, ErrNoSuchRun)
	}
	if !rs.op.TryLock() {
		return StepOutcome{}, fmt.Errorf("advance %s: a step is already running: %w", runID, ErrIllegalState)
	}
	defer rs.op.Unlock()

	rs.mu.Lock()
	status := rs.run.Status
	rs.mu.Unlock()
	if status != StatusPending && status != StatusAwaitingInput {
		return StepOutcome{}, fmt.Errorf("advance %s: run is %s: %w", runID, status, ErrIllegalState)
	}
	return e.runNext(ctx, rs)
}

// Retry re-invokes the current failed step. Attempts are capped; once the
// budget is spent the run stays failed for good.
func (e *Engine) Retry(ctx context.Context, runID string) (StepOutcome, error) {
	rs, ok := e.registry.get(runID)
	if !ok {
		return StepOutcome{}, fmt.Errorf("retry %s: %w", runID, ErrNoSuchRun)
	}
	if !rs.op.TryLock() {
		return StepOutcome{}, fmt.Errorf("retry %s: a step is already running: %w", runID, ErrIllegalState)
	}
	defer rs.op.Unlock()

	rs.mu.Lock()
	if rs.run.Status != StatusFailed {
		status := rs.run.Status
		rs.mu.Unlock()
		return StepOutcome{}, fmt.Errorf("retry %s: run is %s: %w", runID, status, ErrIllegalState)
	}
	if rs.exhausted {
		rs.mu.Unlock()
		return StepOutcome{}, fmt.Errorf("retry %s: %w", runID, ErrRetryExhausted)
	}
	idx := rs.run.CurrentIndex + 1
	if idx >= len(rs.run.Steps) || rs.run.Steps[idx].Status != StepFailed {
		rs.mu.Unlock()
		return StepOutcome{}, fmt.Errorf("retry %s: no failed step to retry: %w", runID, ErrIllegalState)
	}
	rs.mu.Unlock()
	return e.runNext(ctx, rs)
}

// Cancel flips the run to cancelled immediately. It never blocks on an
// in-flight step: the step context is cancelled best-effort and any late
// result is discarded before persistence.
func (e *Engine) Cancel(runID string) (Run, error) {
	rs, ok := e.registry.get(runID)
	if !ok {
		return Run{}, fmt.Errorf("cancel %s: %w", runID, ErrNoSuchRun)
	}
	rs.mu.Lock()
	if rs.terminal() {
		status := rs.run.Status
		rs.mu.Unlock()
		return Run{}, fmt.Errorf("cancel %s: run is already %s: %w", runID, status, ErrIllegalState)
	}
	rs.run.Status = StatusCancelled
	if rs.cancelStep != nil {
		rs.cancelStep()
	}
	run := rs.run.clone()
	rs.mu.Unlock()
	log.Printf("run %s cancelled", runID)
	e.publish(rs, "", "")
	return run, nil
}

// Status returns a point-in-time copy of the run.
func (e *Engine) Status(runID string) (Run, error) {
	rs, ok := e.registry.get(runID)
	if !ok {
		return Run{}, fmt.Errorf("status %s: %w", runID, ErrNoSuchRun)
	}
	return rs.snapshot(), nil
}

// Artifacts lists every stored artifact of the run in pipeline order,
// versions ascending. The history stays fully retrievable after failures.
func (e *Engine) Artifacts(ctx context.Context, runID string) ([]store.Descriptor, error) {
	if _, ok := e.registry.get(runID); !ok {
		return nil, fmt.Errorf("artifacts %s: %w", runID, ErrNoSuchRun)
	}
	descs, err := e.store.List(ctx, runID)
	if err != nil {
		return nil, err
	}
	pos := map[string]int{pipeline.StepInput: 0}
	for i, name := range e.pipe.Names() {
		pos[name] = i + 1
	}
	sort.SliceStable(descs, func(i, j int) bool {
		pi, pj := pos[descs[i].Step], pos[descs[j].Step]
		if pi != pj {
			return pi < pj
		}
		if descs[i].Kind != descs[j].Kind {
			return descs[i].Kind < descs[j].Kind
		}
		return descs[i].Version < descs[j].Version
	})
	return descs, nil
}

// Artifact fetches one artifact's content; version 0 means latest.
func (e *Engine) Artifact(ctx context.Context, runID, step, kind string, version int) (store.Artifact, error) {
	if _, ok := e.registry.get(runID); !ok {
		return store.Artifact{}, fmt.Errorf("artifact %s: %w", runID, ErrNoSuchRun)
	}
	if version > 0 {
		return e.store.GetVersion(ctx, runID, step, kind, version)
	}
	return e.store.GetLatest(ctx, runID, step, kind)
}

// ArtifactURL returns a download URL when the backing store supports one.
// Version 0 means latest and is resolved here: stores presign exact object
// keys, so they only ever see concrete versions.
func (e *Engine) ArtifactURL(ctx context.Context, runID, step, kind string, version int) (string, error) {
	if _, ok := e.registry.get(runID); !ok {
		return "", fmt.Errorf("artifact url %s: %w", runID, ErrNoSuchRun)
	}
	up, ok := e.store.(store.URLProvider)
	if !ok {
		return "", nil
	}
	if version < 1 {
		latest, err := e.store.GetLatest(ctx, runID, step, kind)
		if err != nil {
			return "", err
		}
		version = latest.Version
	}
	return up.GetURL(ctx, runID, step, kind, version)
}

// runNext drives the step at CurrentIndex+1, cascading over skipped steps
// within the same controller action.
func (e *Engine) runNext(ctx context.Context, rs *runState) (StepOutcome, error) {
	var skipped []string
	for {
		rs.mu.Lock()
		if rs.run.Status == StatusCancelled {
			runID := rs.run.ID
			rs.mu.Unlock()
			return StepOutcome{Run: rs.snapshot(), Skipped: skipped},
				fmt.Errorf("run %s: %w", runID, ErrRunCancelled)
		}
		idx := rs.run.CurrentIndex + 1
		if idx >= len(rs.run.Steps) {
			rs.run.Status = StatusCompleted
			run := rs.run.clone()
			rs.mu.Unlock()
			return StepOutcome{Run: run, Skipped: skipped}, nil
		}
		def, _ := e.pipe.Step(idx - 1)

		if skip, reason := e.mustSkip(rs.run, def); skip {
			rs.run.Steps[idx].Status = StepSkipped
			rs.run.Steps[idx].LastError = reason
			rs.run.CurrentIndex = idx
			skipped = append(skipped, def.Name)
			last := idx == len(rs.run.Steps)-1
			if last {
				rs.run.Status = StatusCompleted
			}
			rs.mu.Unlock()
			e.publish(rs, def.Name, StepSkipped)
			if last {
				return StepOutcome{Run: rs.snapshot(), Skipped: skipped}, nil
			}
			continue
		}

		rec := &rs.run.Steps[idx]
		rec.Status = StepRunning
		rec.Attempts++
		rec.LastError = ""
		attempt := rec.Attempts
		rs.run.Status = StatusRunning
		stepCtx, cancelStep := context.WithCancel(ctx)
		rs.cancelStep = cancelStep
		runID := rs.run.ID
		rs.mu.Unlock()
		e.publish(rs, def.Name, StepRunning)
		log.Printf("run %s: step %s attempt %d", runID, def.Name, attempt)

		desc, err := e.executeStep(stepCtx, rs, def, attempt)
		cancelStep()
		rs.mu.Lock()
		rs.cancelStep = nil
		rs.mu.Unlock()

		switch {
		case errors.Is(err, pipeline.ErrSkipStep):
			rs.mu.Lock()
			rec := &rs.run.Steps[idx]
			rec.Status = StepSkipped
			rec.LastError = ""
			rs.run.CurrentIndex = idx
			skipped = append(skipped, def.Name)
			last := idx == len(rs.run.Steps)-1
			if last && rs.run.Status != StatusCancelled {
				rs.run.Status = StatusCompleted
			}
			rs.mu.Unlock()
			e.publish(rs, def.Name, StepSkipped)
			if last {
				return StepOutcome{Run: rs.snapshot(), Skipped: skipped}, nil
			}
			continue

		case errors.Is(err, ErrRunCancelled):
			rs.mu.Lock()
			rec := &rs.run.Steps[idx]
			rec.Status = StepNotStarted
			rec.Attempts--
			rs.mu.Unlock()
			return StepOutcome{Run: rs.snapshot(), Step: def.Name, Skipped: skipped},
				fmt.Errorf("run %s: step %s: %w", runID, def.Name, ErrRunCancelled)

		case err != nil:
			rs.mu.Lock()
			rec := &rs.run.Steps[idx]
			rec.Status = StepFailed
			rec.LastError = err.Error()
			if rs.run.Status != StatusCancelled {
				rs.run.Status = StatusFailed
			}
			if rec.Attempts-1 >= e.maxRetries {
				rs.exhausted = true
			}
			rs.mu.Unlock()
			e.publish(rs, def.Name, StepFailed)
			log.Printf("run %s: step %s failed: %v", runID, def.Name, err)
			return StepOutcome{Run: rs.snapshot(), Step: def.Name, Skipped: skipped}, err

		default:
			rs.mu.Lock()
			rec := &rs.run.Steps[idx]
			rec.Status = StepSucceeded
			rec.Artifact = desc
			rs.run.CurrentIndex = idx
			// A cancel that lost the persistence race stays terminal; the
			// artifact stands but the run does not resume.
			if rs.run.Status != StatusCancelled {
				if idx == len(rs.run.Steps)-1 {
					rs.run.Status = StatusCompleted
				} else {
					rs.run.Status = StatusAwaitingInput
				}
			}
			rs.mu.Unlock()
			e.publish(rs, def.Name, StepSucceeded)
			return StepOutcome{Run: rs.snapshot(), Step: def.Name, Skipped: skipped, Artifact: desc}, nil
		}
	}
}

// mustSkip cascades skips: a step whose prerequisite was skipped cannot run.
func (e *Engine) mustSkip(run Run, def pipeline.Definition) (bool, string) {
	byName := make(map[string]StepRecord, len(run.Steps))
	for _, rec := range run.Steps {
		byName[rec.Name] = rec
	}
	for _, req := range def.Requires {
		rec, ok := byName[req]
		if !ok {
			continue
		}
		if rec.Status == StepSkipped {
			return true, fmt.Sprintf("prerequisite %s was skipped", req)
		}
	}
	return false, ""
}

// executeStep runs the harness and persists the result, unless the run was
// cancelled in the meantime: a late provider result must never reach the
// store.
func (e *Engine) executeStep(ctx context.Context, rs *runState, def pipeline.Definition, attempt int) (*store.Descriptor, error) {
	rs.mu.RLock()
	runID := rs.run.ID
	rs.mu.RUnlock()

	sctx := pipeline.NewStepContext(runID, attempt, e.params, func(step, kind string) (string, error) {
		a, err := e.store.GetLatest(ctx, runID, step, kind)
		if err != nil {
			return "", err
		}
		return string(a.Content), nil
	})

	content, mediaType, err := e.harness.Execute(ctx, def, sctx)
	if err != nil {
		if e.cancelled(rs) {
			return nil, ErrRunCancelled
		}
		return nil, err
	}
	if e.cancelled(rs) {
		return nil, ErrRunCancelled
	}

	art := store.New(runID, def.Name, def.Kind, attempt, mediaType, []byte(content))
	if err := e.store.Put(ctx, art); err != nil {
		if e.cancelled(rs) {
			return nil, ErrRunCancelled
		}
		return nil, fmt.Errorf("persist artifact %s/%s v%d: %w", def.Name, def.Kind, attempt, err)
	}
	desc := art.Descriptor()
	return &desc, nil
}

func (e *Engine) cancelled(rs *runState) bool {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return rs.run.Status == StatusCancelled
}

func (e *Engine) publish(rs *runState, step string, status StepStatus) {
	rs.mu.RLock()
	ev := Event{
		RunID:      rs.run.ID,
		Status:     rs.run.Status,
		Step:       step,
		StepStatus: status,
		At:         time.Now().UTC(),
	}
	rs.mu.RUnlock()
	e.hub.publish(ev)
}

// Watch subscribes to status transitions of one run. The returned cancel
// func must be called to release the subscription.
func (e *Engine) Watch(runID string) (<-chan Event, func(), error) {
	if _, ok := e.registry.get(runID); !ok {
		return nil, nil, fmt.Errorf("watch %s: %w", runID, ErrNoSuchRun)
	}
	ch, cancel := e.hub.subscribe(runID)
	return ch, cancel, nil
}
