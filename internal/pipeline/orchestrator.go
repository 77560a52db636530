// Package pipeline drives the upload, generate, evaluate and analyze workflow
// of a session. The Orchestrator is the only writer of the result store and
// keeps an in-memory copy of the session that it writes through on every
// change.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"soap-evaluator/internal/llm"
	"soap-evaluator/internal/observe"
	"soap-evaluator/internal/queue"
	"soap-evaluator/internal/scoring"
	"soap-evaluator/internal/store"
)

// State is the workflow position of a session.
type State string

const (
	StateIdle       State = "idle"
	StateGenerating State = "generating"
	StateGenerated  State = "generated"
	StateEvaluating State = "evaluating"
	StateEvaluated  State = "evaluated"
)

// Policy decides what happens when a write-through fails.
type Policy string

const (
	// PolicyAbort returns the storage error and leaves memory unchanged.
	PolicyAbort Policy = "abort"
	// PolicyDegrade keeps the in-memory change and stops writing to the store.
	PolicyDegrade Policy = "degrade"
)

const (
	handoffAttempts = 3
	handoffBackoff  = 100 * time.Millisecond
)

// ScoreEvaluator scores candidates against a reference.
type ScoreEvaluator interface {
	Evaluate(ctx context.Context, reference string, candidates []scoring.Candidate) ([]scoring.Metric, error)
}

// Deps are the collaborators shared by every session.
type Deps struct {
	Log       *slog.Logger
	Store     store.Store
	Generator llm.Generator
	Evaluator ScoreEvaluator
	// Queue receives the analyze handoff; nil disables it.
	Queue   queue.Queue
	Metrics *observe.Metrics
	Policy  Policy
}

// Upload is a new transcript submission.
type Upload struct {
	Transcript string
	Reference  string
	Model      string
}

// View is a read-only copy of a session for presentation.
type View struct {
	SessionID          string           `json:"session_id"`
	State              State            `json:"state"`
	GenerationInFlight bool             `json:"generation_in_flight"`
	EvaluationInFlight bool             `json:"evaluation_in_flight"`
	Transcript         string           `json:"transcript,omitempty"`
	Reference          string           `json:"reference,omitempty"`
	HasReference       bool             `json:"has_reference"`
	Model              string           `json:"model,omitempty"`
	Results            []llm.Outcome    `json:"results"`
	Metrics            []scoring.Metric `json:"metrics"`
	ReadOnly           bool             `json:"read_only"`
	Error              string           `json:"error,omitempty"`
	ErrorKind          Kind             `json:"error_kind,omitempty"`
}

type run struct {
	epoch string
}

// Orchestrator runs the workflow of one session.
type Orchestrator struct {
	log       *slog.Logger
	session   string
	store     store.Store
	generator llm.Generator
	evaluator ScoreEvaluator
	queue     queue.Queue
	metrics   *observe.Metrics
	policy    Policy

	mu       sync.Mutex
	snap     store.Snapshot
	state    State
	genRun   *run
	evalRun  *run
	readOnly bool
	closed   bool
	lastErr  error
	base     context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// New builds an Orchestrator for session. Call Resume before use.
func New(session string, deps Deps) *Orchestrator {
	if deps.Metrics == nil {
		deps.Metrics = observe.DefaultMetrics()
	}
	if deps.Policy == "" {
		deps.Policy = PolicyAbort
	}
	base, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		log:       deps.Log.With("session_id", session),
		session:   session,
		store:     deps.Store,
		generator: deps.Generator,
		evaluator: deps.Evaluator,
		queue:     deps.Queue,
		metrics:   deps.Metrics,
		policy:    deps.Policy,
		state:     StateIdle,
		base:      base,
		cancel:    cancel,
	}
}

// SessionID returns the session this orchestrator owns.
func (o *Orchestrator) SessionID() string { return o.session }

// Fingerprint identifies the transcript and model pair a result belongs to.
func Fingerprint(transcript, model string) string {
	return fingerprint(transcript, model)
}

// Resume rehydrates the session from the store and returns the state it
// entered. A persisted transcript and model without a result for that pair
// starts exactly one background generation.
func (o *Orchestrator) Resume(ctx context.Context) (State, error) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return StateIdle, ErrClosed
	}
	values, err := o.store.Load(ctx, o.session)
	if err != nil {
		o.mu.Unlock()
		return StateIdle, fmt.Errorf("resume session: %w", wrapStorage("load", err))
	}
	snap, err := store.Decode(values)
	if err != nil {
		o.mu.Unlock()
		return StateIdle, fmt.Errorf("resume session: %w", wrapStorage("decode", err))
	}
	o.snap = snap
	o.state = o.deriveState()

	if snap.EvaluationInProgress && o.evalRun == nil {
		// An evaluation interrupted by a restart is not resumed.
		if err := o.commit(ctx, snap.Epoch, store.Mutation{
			Set: map[string]string{store.KeyEvaluationInProgress: store.FormatBool(false)},
		}); err != nil {
			o.log.Warn("failed to clear stale evaluation flag", "err", err)
		} else {
			o.snap.EvaluationInProgress = false
		}
	}

	if snap.GenerationInProgress && o.genRun == nil && o.hasCurrentResults() {
		if err := o.commit(ctx, snap.Epoch, store.Mutation{
			Set: map[string]string{store.KeyGenerationInProgress: store.FormatBool(false)},
		}); err == nil {
			o.snap.GenerationInProgress = false
		}
	}

	if len(snap.Results) > 0 && snap.ResultsFingerprint == "" && strings.TrimSpace(snap.Transcript) != "" {
		fp := fingerprint(snap.Transcript, snap.Model)
		if err := o.commit(ctx, snap.Epoch, store.Mutation{
			Set: map[string]string{store.KeyResultsFingerprint: fp},
		}); err != nil {
			o.log.Warn("failed to backfill results fingerprint", "err", err)
		} else {
			o.snap.ResultsFingerprint = fp
		}
	}

	pending := o.needsGeneration()
	o.mu.Unlock()

	if pending && o.StartGeneration() {
		o.log.Info("resumed session with pending generation", "model", snap.Model)
		return StateGenerating, nil
	}
	state := o.State()
	o.log.Info("resumed session", "state", state)
	return state, nil
}

// Upload stores a new transcript and invalidates every previous result. Any
// run of the previous upload is cancelled and its result discarded.
func (o *Orchestrator) Upload(ctx context.Context, u Upload) error {
	if strings.TrimSpace(u.Transcript) == "" {
		return ErrNoTranscript
	}
	if strings.TrimSpace(u.Model) == "" {
		return ErrNoModel
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrClosed
	}

	epoch := uuid.NewString()
	hasRef := strings.TrimSpace(u.Reference) != ""
	m := store.Mutation{
		Set: map[string]string{
			store.KeyTranscript:           u.Transcript,
			store.KeyModel:                u.Model,
			store.KeyHasReference:         store.FormatBool(hasRef),
			store.KeyGenerationInProgress: store.FormatBool(true),
			store.KeyEvaluationInProgress: store.FormatBool(false),
			store.KeyEpoch:                epoch,
		},
		Delete: []string{store.KeyResults, store.KeyResultsFingerprint, store.KeyMetrics},
	}
	if hasRef {
		m.Set[store.KeyReference] = u.Reference
	} else {
		m.Delete = append(m.Delete, store.KeyReference)
	}
	if err := o.commit(ctx, "", m); err != nil {
		return err
	}

	o.cancel()
	o.base, o.cancel = context.WithCancel(context.Background())
	o.genRun, o.evalRun = nil, nil
	o.lastErr = nil
	o.snap = store.Snapshot{
		Transcript:           u.Transcript,
		Model:                u.Model,
		HasReference:         hasRef,
		GenerationInProgress: true,
		Epoch:                epoch,
	}
	if hasRef {
		o.snap.Reference = u.Reference
	}
	o.state = StateIdle
	o.log.Info("transcript uploaded", "model", u.Model, "has_reference", hasRef)
	return nil
}

// SetReference stores a reference note supplied after upload.
func (o *Orchestrator) SetReference(ctx context.Context, reference string) error {
	if strings.TrimSpace(reference) == "" {
		return ErrNoReference
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrClosed
	}
	if o.evalRun != nil {
		return ErrBusy
	}
	err := o.commit(ctx, o.snap.Epoch, store.Mutation{Set: map[string]string{
		store.KeyReference:    reference,
		store.KeyHasReference: store.FormatBool(true),
	}})
	if err != nil {
		return err
	}
	o.snap.Reference = reference
	o.snap.HasReference = true
	return nil
}

// Generate runs generation for the current transcript and model and waits
// for it. A result already stored for the pair is returned without a call.
func (o *Orchestrator) Generate(ctx context.Context) (llm.Outcome, error) {
	o.mu.Lock()
	r, existing, err := o.beginGeneration(ctx)
	o.mu.Unlock()
	if err != nil {
		return llm.Outcome{}, err
	}
	if existing != nil {
		return *existing, nil
	}
	return o.runGeneration(ctx, r)
}

// StartGeneration starts generation in the background. It reports false when
// a run is already in flight or a result already exists.
func (o *Orchestrator) StartGeneration() bool {
	started, err := o.TryStartGeneration()
	if err != nil && !errors.Is(err, ErrBusy) {
		o.log.Warn("generation not started", "err", err)
	}
	return started
}

// TryStartGeneration is StartGeneration with the reason it did not start:
// ErrBusy, a validation error, or a nil error when a result already exists.
func (o *Orchestrator) TryStartGeneration() (bool, error) {
	o.mu.Lock()
	r, existing, err := o.beginGeneration(o.base)
	if err != nil || existing != nil {
		o.mu.Unlock()
		return false, err
	}
	ctx := o.base
	o.wg.Add(1)
	o.mu.Unlock()

	go func() {
		defer o.wg.Done()
		if _, err := o.runGeneration(ctx, r); err != nil && !errors.Is(err, ErrStale) && !errors.Is(err, ErrClosed) {
			o.log.Error("background generation failed", "err", err)
		}
	}()
	return true, nil
}

// beginGeneration must be called with o.mu held.
func (o *Orchestrator) beginGeneration(ctx context.Context) (*run, *llm.Outcome, error) {
	if o.closed {
		return nil, nil, ErrClosed
	}
	if o.genRun != nil || o.evalRun != nil {
		return nil, nil, ErrBusy
	}
	if strings.TrimSpace(o.snap.Transcript) == "" {
		return nil, nil, ErrNoTranscript
	}
	if strings.TrimSpace(o.snap.Model) == "" {
		return nil, nil, ErrNoModel
	}
	if o.hasCurrentResults() {
		out := o.snap.Results[0]
		return nil, &out, nil
	}

	if !o.snap.GenerationInProgress {
		err := o.commit(ctx, o.snap.Epoch, store.Mutation{Set: map[string]string{
			store.KeyGenerationInProgress: store.FormatBool(true),
		}})
		if err != nil {
			return nil, nil, err
		}
		o.snap.GenerationInProgress = true
	}

	r := &run{epoch: o.snap.Epoch}
	o.genRun = r
	o.lastErr = nil
	o.state = StateGenerating
	return r, nil, nil
}

func (o *Orchestrator) runGeneration(ctx context.Context, r *run) (llm.Outcome, error) {
	o.mu.Lock()
	req := llm.Request{Transcript: o.snap.Transcript, Model: o.snap.Model}
	if o.snap.HasReference && o.snap.Reference != "" {
		ref := o.snap.Reference
		req.Reference = &ref
	}
	runCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(o.base, cancel)
	o.mu.Unlock()
	defer stop()
	defer cancel()

	done := o.metrics.TrackRun(ctx, "generation")
	outcome, genErr := o.generator.Generate(runCtx, req)
	done()

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.genRun == r {
		o.genRun = nil
	}
	if o.closed {
		return llm.Outcome{}, ErrClosed
	}
	if o.snap.Epoch != r.epoch {
		o.log.Info("discarding generation result from a previous upload")
		return llm.Outcome{}, ErrStale
	}

	writeCtx := context.WithoutCancel(ctx)
	if genErr != nil {
		o.lastErr = genErr
		o.state = StateIdle
		err := o.commit(writeCtx, r.epoch, store.Mutation{Set: map[string]string{
			store.KeyGenerationInProgress: store.FormatBool(false),
		}})
		if err == nil {
			o.snap.GenerationInProgress = false
		} else {
			o.log.Warn("failed to clear generation flag", "err", err)
		}
		return llm.Outcome{}, genErr
	}

	results, err := store.EncodeResults([]llm.Outcome{outcome})
	if err != nil {
		o.state = o.deriveState()
		return llm.Outcome{}, err
	}
	fp := fingerprint(o.snap.Transcript, o.snap.Model)
	err = o.commit(writeCtx, r.epoch, store.Mutation{
		Set: map[string]string{
			store.KeyResults:              results,
			store.KeyResultsFingerprint:   fp,
			store.KeyGenerationInProgress: store.FormatBool(false),
		},
		Delete: []string{store.KeyMetrics},
	})
	if err != nil {
		o.lastErr = err
		o.state = o.deriveState()
		return llm.Outcome{}, err
	}

	o.snap.Results = []llm.Outcome{outcome}
	o.snap.Metrics = nil
	o.snap.ResultsFingerprint = fp
	o.snap.GenerationInProgress = false
	o.state = o.deriveState()
	o.log.Info("generation stored", "model", outcome.Model, "status", outcome.Status)
	return outcome, nil
}

// Evaluate scores the usable generated notes against the reference. Metrics
// from an earlier evaluation are kept when this one fails.
func (o *Orchestrator) Evaluate(ctx context.Context) ([]scoring.Metric, error) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil, ErrClosed
	}
	if o.evalRun != nil || o.genRun != nil {
		o.mu.Unlock()
		return nil, ErrBusy
	}
	if !o.snap.HasReference || strings.TrimSpace(o.snap.Reference) == "" {
		o.mu.Unlock()
		return nil, ErrNoReference
	}
	candidates := o.candidates()
	if len(candidates) == 0 {
		o.mu.Unlock()
		return nil, ErrNoCandidates
	}

	err := o.commit(ctx, o.snap.Epoch, store.Mutation{Set: map[string]string{
		store.KeyEvaluationInProgress: store.FormatBool(true),
	}})
	if err != nil {
		o.mu.Unlock()
		return nil, err
	}
	r := &run{epoch: o.snap.Epoch}
	o.evalRun = r
	o.snap.EvaluationInProgress = true
	prev := o.state
	o.state = StateEvaluating
	reference := o.snap.Reference
	runCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(o.base, cancel)
	o.mu.Unlock()
	defer stop()
	defer cancel()

	done := o.metrics.TrackRun(ctx, "evaluation")
	start := time.Now()
	metrics, evalErr := o.evaluator.Evaluate(runCtx, reference, candidates)
	elapsed := time.Since(start)
	done()

	o.mu.Lock()
	if o.evalRun == r {
		o.evalRun = nil
	}
	if o.closed {
		o.mu.Unlock()
		return nil, ErrClosed
	}
	if o.snap.Epoch != r.epoch {
		o.mu.Unlock()
		return nil, ErrStale
	}

	writeCtx := context.WithoutCancel(ctx)
	if evalErr != nil {
		o.metrics.RecordEvaluation(ctx, "error", elapsed)
		o.lastErr = evalErr
		o.state = prev
		if err := o.commit(writeCtx, r.epoch, store.Mutation{Set: map[string]string{
			store.KeyEvaluationInProgress: store.FormatBool(false),
		}}); err == nil {
			o.snap.EvaluationInProgress = false
		}
		o.mu.Unlock()
		return nil, fmt.Errorf("evaluation failed: %w", evalErr)
	}

	encoded, err := store.EncodeMetrics(metrics)
	if err == nil {
		err = o.commit(writeCtx, r.epoch, store.Mutation{Set: map[string]string{
			store.KeyMetrics:              encoded,
			store.KeyEvaluationInProgress: store.FormatBool(false),
		}})
	}
	if err != nil {
		o.metrics.RecordEvaluation(ctx, "error", elapsed)
		o.lastErr = err
		o.state = prev
		o.mu.Unlock()
		return nil, err
	}
	o.metrics.RecordEvaluation(ctx, "success", elapsed)
	o.snap.Metrics = metrics
	o.snap.EvaluationInProgress = false
	o.lastErr = nil
	o.state = StateEvaluated
	epoch := r.epoch
	o.mu.Unlock()

	o.log.Info("evaluation stored", "candidates", len(metrics))
	o.handoff(writeCtx, epoch)
	return metrics, nil
}

// handoff enqueues the analyze task. Failures are logged; the metrics are
// already persisted.
func (o *Orchestrator) handoff(ctx context.Context, epoch string) {
	if o.queue == nil {
		return
	}
	task, err := queue.NewAnalyzeTask(o.session, epoch)
	if err != nil {
		o.log.Error("failed to build analyze task", "err", err)
		return
	}
	if err := queue.EnqueueWithRetry(ctx, o.queue, task, handoffAttempts, handoffBackoff); err != nil {
		o.log.Error("failed to enqueue analyze task", "err", err)
		return
	}
	o.log.Info("analysis handoff enqueued", "task_id", task.ID)
}

// State returns the current workflow state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// View returns a copy of the session for presentation.
func (o *Orchestrator) View() View {
	o.mu.Lock()
	defer o.mu.Unlock()
	v := View{
		SessionID:          o.session,
		State:              o.state,
		GenerationInFlight: o.genRun != nil,
		EvaluationInFlight: o.evalRun != nil,
		Transcript:         o.snap.Transcript,
		Reference:          o.snap.Reference,
		HasReference:       o.snap.HasReference,
		Model:              o.snap.Model,
		Results:            append([]llm.Outcome{}, o.snap.Results...),
		Metrics:            append([]scoring.Metric{}, o.snap.Metrics...),
		ReadOnly:           o.readOnly,
	}
	if o.lastErr != nil {
		v.ErrorKind, v.Error = Describe(o.lastErr)
	}
	return v
}

// Snapshot returns a copy of the cached session state.
func (o *Orchestrator) Snapshot() store.Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := o.snap
	s.Results = append([]llm.Outcome(nil), o.snap.Results...)
	s.Metrics = append([]scoring.Metric(nil), o.snap.Metrics...)
	return s
}

// Close cancels in-flight runs and waits for background work to finish.
// Results completing after Close are discarded.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.cancel()
	o.mu.Unlock()
	o.wg.Wait()
}

// commit writes m through to the store when the stored epoch still equals
// epoch (an empty epoch skips the check). It must be called with o.mu held.
func (o *Orchestrator) commit(ctx context.Context, epoch string, m store.Mutation) error {
	if o.readOnly {
		return nil
	}
	err := o.store.Update(ctx, o.session, func(cur store.Values) (store.Mutation, error) {
		if epoch != "" && cur[store.KeyEpoch] != epoch {
			return store.Mutation{}, ErrStale
		}
		return m, nil
	})
	if err == nil || errors.Is(err, ErrStale) {
		return err
	}
	if o.policy == PolicyDegrade {
		o.readOnly = true
		o.log.Error("storage write failed, continuing without persistence", "err", err)
		return nil
	}
	return wrapStorage("write", err)
}

func wrapStorage(op string, err error) error {
	if errors.Is(err, store.ErrSchemaVersion) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// needsGeneration must be called with o.mu held.
func (o *Orchestrator) needsGeneration() bool {
	return strings.TrimSpace(o.snap.Transcript) != "" &&
		strings.TrimSpace(o.snap.Model) != "" &&
		!o.hasCurrentResults()
}

// hasCurrentResults reports whether the stored results belong to the current
// transcript and model. Results stored without a fingerprint are accepted.
func (o *Orchestrator) hasCurrentResults() bool {
	if len(o.snap.Results) == 0 {
		return false
	}
	return o.snap.ResultsFingerprint == "" ||
		o.snap.ResultsFingerprint == fingerprint(o.snap.Transcript, o.snap.Model)
}

func (o *Orchestrator) deriveState() State {
	switch {
	case o.genRun != nil:
		return StateGenerating
	case o.evalRun != nil:
		return StateEvaluating
	case strings.TrimSpace(o.snap.Transcript) == "":
		return StateIdle
	case !o.hasCurrentResults():
		return StateIdle
	case len(o.snap.Metrics) > 0:
		return StateEvaluated
	default:
		return StateGenerated
	}
}

func (o *Orchestrator) candidates() []scoring.Candidate {
	if !o.hasCurrentResults() {
		return nil
	}
	var out []scoring.Candidate
	for _, r := range o.snap.Results {
		if r.Usable() {
			out = append(out, scoring.Candidate{ID: r.ID, Label: r.Label, Text: r.Note})
		}
	}
	return out
}
