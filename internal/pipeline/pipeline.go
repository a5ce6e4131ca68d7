package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/skillforge/mastery-engine/internal/domain/attempt"
	"github.com/skillforge/mastery-engine/internal/domain/item"
	"github.com/skillforge/mastery-engine/internal/domain/profile"
	"github.com/skillforge/mastery-engine/internal/domain/shared"
	"github.com/skillforge/mastery-engine/internal/domain/skill"
	"github.com/skillforge/mastery-engine/internal/tracer"
	"github.com/skillforge/mastery-engine/pkg/circuitbreaker"
	"github.com/skillforge/mastery-engine/pkg/clock"
	"github.com/skillforge/mastery-engine/pkg/logger"
	"github.com/skillforge/mastery-engine/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config holds pipeline tuning parameters.
type Config struct {
	// InferenceTimeout bounds a single sequence-model forward pass.
	// On expiry the attempt commits on the Bayesian estimate alone.
	InferenceTimeout time.Duration

	// Saturation is the attempt count at which estimate confidence
	// reaches 1.
	Saturation int

	// FusionGate decides per student whether sequence-model estimates
	// are fused at all. Nil means always fuse. A gated-off student
	// commits on the Bayesian estimate alone without counting as
	// degraded service.
	FusionGate func(studentID shared.StudentID) bool
}

// DefaultConfig returns the pipeline defaults.
func DefaultConfig() Config {
	return Config{
		InferenceTimeout: 250 * time.Millisecond,
		Saturation:       tracer.DefaultSaturation,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.InferenceTimeout <= 0 {
		return shared.WrapError("pipeline", "ValidateConfig", shared.ErrConfiguration,
			"inference timeout must be positive", nil)
	}
	if c.Saturation <= 0 {
		return shared.WrapError("pipeline", "ValidateConfig", shared.ErrConfiguration,
			"saturation must be positive", nil)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST AND COMMIT CONTRACT
// ══════════════════════════════════════════════════════════════════════════════

// SubmitRequest is one attempt submission.
type SubmitRequest struct {
	StudentID      shared.StudentID
	ItemID         shared.ItemID
	IdempotencyKey shared.IdempotencyKey

	// RawResponse is graded against the item's answer key when
	// Correctness is not supplied.
	RawResponse string

	// Correctness, when set, is a pre-graded outcome in [0,1] and
	// skips answer-key scoring.
	Correctness *float64

	// ResponseTime is the client-reported solve time. Informational.
	ResponseTime time.Duration
}

// Committer persists a terminal attempt and its profile update as one
// atomic unit. The Postgres implementation runs both writes in a single
// transaction; the in-memory one relies on per-key serialization.
type Committer interface {
	Commit(ctx context.Context, a *attempt.Attempt, p *profile.MasteryProfile) error
}

// ══════════════════════════════════════════════════════════════════════════════
// PIPELINE
// ══════════════════════════════════════════════════════════════════════════════

// Pipeline ingests attempt submissions, walks them through the
// processing states, and commits the resulting mastery update. All
// processing for one (student, skill) pair is serialized; distinct
// pairs run in parallel.
type Pipeline struct {
	graph     *skill.Graph
	items     item.Repository
	attempts  attempt.Log
	profiles  profile.Store
	committer Committer
	seq       tracer.SequenceEstimator
	events    shared.EventPublisher
	clock     *clock.Monotonic
	breaker   *circuitbreaker.CircuitBreaker
	executor  *KeyedExecutor
	publish   *retry.Retrier
	tracers   map[shared.SkillID]*tracer.BKT
	cfg       Config
	log       *logger.Logger
}

// New creates a pipeline. A nil clk falls back to the system clock; the
// pipeline always wraps it so ingestion timestamps stay strictly
// increasing. A nil log falls back to the default logger.
func New(
	graph *skill.Graph,
	items item.Repository,
	attempts attempt.Log,
	profiles profile.Store,
	committer Committer,
	seq tracer.SequenceEstimator,
	events shared.EventPublisher,
	clk clock.Clock,
	cfg Config,
	log *logger.Logger,
) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Default()
	}
	log = log.With(logger.Component("pipeline"))

	tracers := make(map[shared.SkillID]*tracer.BKT, graph.Size())
	for _, id := range graph.TopoOrder() {
		sk, _ := graph.Get(id)
		b, err := tracer.NewBKT(sk.Params)
		if err != nil {
			return nil, err
		}
		tracers[id] = b
	}

	p := &Pipeline{
		graph:     graph,
		items:     items,
		attempts:  attempts,
		profiles:  profiles,
		committer: committer,
		seq:       seq,
		events:    events,
		clock:     clock.NewMonotonic(clk),
		executor:  NewKeyedExecutor(),
		publish:   retry.PublishRetrier(),
		tracers:   tracers,
		cfg:       cfg,
		log:       log,
	}
	p.breaker = circuitbreaker.InferenceBreaker(
		p.onBreakerStateChange,
		circuitbreaker.WithIsFailure(func(err error) bool {
			// A short window is not a model fault.
			return !shared.IsInsufficientHistory(err)
		}),
	)
	return p, nil
}

// Close drains in-flight work.
func (p *Pipeline) Close() {
	p.executor.Close()
}

// Degraded reports whether the sequence model is currently bypassed.
func (p *Pipeline) Degraded() bool {
	return !p.breaker.IsClosed()
}

// onBreakerStateChange publishes degraded-mode events on transitions
// in and out of the open state.
func (p *Pipeline) onBreakerStateChange(name string, from, to circuitbreaker.State) {
	p.log.Warn("inference breaker state changed",
		logger.Component(name),
		logger.String("from", from.String()),
		logger.String("to", to.String()),
	)
	switch {
	case to == circuitbreaker.StateOpen:
		p.publishEvent(context.Background(),
			shared.NewDegradedModeEnteredEvent(name, "inference failure threshold reached"))
	case from == circuitbreaker.StateOpen && to == circuitbreaker.StateClosed,
		from == circuitbreaker.StateHalfOpen && to == circuitbreaker.StateClosed:
		p.publishEvent(context.Background(), shared.NewDegradedModeExitedEvent(name))
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// SUBMISSION
// ══════════════════════════════════════════════════════════════════════════════

// Submit processes one attempt end to end and returns the committed
// result. Resubmitting an already-processed idempotency key returns the
// stored outcome without reprocessing.
func (p *Pipeline) Submit(ctx context.Context, req SubmitRequest) (*attempt.CommittedResult, error) {
	if !req.IdempotencyKey.IsValid() {
		return nil, shared.ErrEmptyIdempotency
	}
	if req.StudentID.IsEmpty() {
		return nil, shared.ErrInvalidStudentID
	}

	// Fast path: a stored attempt with this key is already terminal.
	if stored, err := p.attempts.GetByIdempotencyKey(ctx, req.StudentID, req.IdempotencyKey); err == nil {
		return p.replayStored(stored)
	}

	it, err := p.items.GetByID(ctx, req.ItemID)
	if shared.IsNotFound(err) {
		return nil, p.rejectRequest(ctx, req, "unknown item")
	}
	if err != nil {
		return nil, shared.WrapError("pipeline", "Submit", shared.ErrServiceUnavailable, "item lookup failed", err)
	}
	if it.Deprecated {
		return nil, p.rejectRequest(ctx, req, "item is deprecated")
	}
	if !p.graph.Contains(it.SkillID) {
		return nil, p.rejectRequest(ctx, req, fmt.Sprintf("item references unknown skill %s", it.SkillID))
	}

	// Everything past this point mutates per-(student, skill) state
	// and runs serialized. The ingestion timestamp is assigned inside
	// the serialized section so stored order always matches commit
	// order for a pair.
	var (
		result     *attempt.CommittedResult
		processErr error
	)
	key := string(req.StudentID) + "/" + string(it.SkillID)
	if err := p.executor.Execute(ctx, key, func() {
		result, processErr = p.process(ctx, req, it)
	}); err != nil {
		return nil, err
	}
	return result, processErr
}

// process runs the serialized stages: state machine, mastery update,
// and commit. It is only ever invoked from the keyed executor.
func (p *Pipeline) process(ctx context.Context, req SubmitRequest, it *item.Item) (*attempt.CommittedResult, error) {
	// A duplicate may have won the race between the fast-path check
	// and this task's turn in the queue.
	if stored, err := p.attempts.GetByIdempotencyKey(ctx, req.StudentID, req.IdempotencyKey); err == nil {
		return p.replayStored(stored)
	}

	a, err := attempt.NewAttempt(attempt.NewAttemptParams{
		ID:             uuid.NewString(),
		StudentID:      req.StudentID,
		ItemID:         req.ItemID,
		IdempotencyKey: req.IdempotencyKey,
		RawResponse:    req.RawResponse,
		ResponseTime:   req.ResponseTime,
		ReceivedAt:     p.clock.Now(),
	})
	if err != nil {
		return nil, err
	}
	if err := a.MarkValidated(it.SkillID, it.ContentHash); err != nil {
		return nil, err
	}

	correctness := it.Score(req.RawResponse)
	if req.Correctness != nil {
		correctness = shared.Correctness(*req.Correctness)
	}
	if err := a.MarkScored(correctness); err != nil {
		if errors.Is(err, shared.ErrInvalidCorrectness) {
			return nil, p.reject(ctx, a, "correctness out of range")
		}
		return nil, err
	}

	history, err := p.attempts.ListByStudent(ctx, a.StudentID)
	if err != nil {
		return nil, shared.WrapError("pipeline", "Process", shared.ErrServiceUnavailable, "history load failed", err)
	}
	observations := append(toObservations(history), tracer.Observation{
		SkillID:     a.SkillID,
		Correctness: float64(a.Correctness),
		ReceivedAt:  a.ReceivedAt,
	})

	b := p.tracers[a.SkillID]
	guard := &guardedEstimator{
		inner:    p.seq,
		breaker:  p.breaker,
		timeout:  p.cfg.InferenceTimeout,
		fallback: b.Prior(),
	}
	var seqSrc tracer.SequenceEstimator = guard
	if p.cfg.FusionGate != nil && !p.cfg.FusionGate(a.StudentID) {
		seqSrc = fusionOff{}
	}
	est, _, err := tracer.ReplayFused(ctx, b, seqSrc, a.SkillID, observations, p.cfg.Saturation)
	if err != nil {
		return nil, err
	}
	if err := a.MarkMasteryUpdated(); err != nil {
		return nil, err
	}
	if guard.degraded {
		p.log.Warn("attempt committed without sequence estimate",
			logger.StudentID(string(a.StudentID)),
			logger.SkillID(string(a.SkillID)),
			logger.AttemptKey(string(a.IdempotencyKey)),
		)
	}

	prof, err := p.profiles.Get(ctx, a.StudentID, a.SkillID)
	if shared.IsNotFound(err) {
		prof, err = profile.NewProfile(a.StudentID, a.SkillID, b.Prior())
	}
	if err != nil {
		return nil, err
	}
	oldMastery := prof.Mastery

	if err := prof.ApplyEstimate(est.Mastery, est.Confidence, a.ReceivedAt); err != nil {
		return nil, err
	}

	committedAt := p.clock.Now()
	if err := a.MarkCommitted(attempt.CommittedResult{
		Correctness: a.Correctness,
		OldMastery:  oldMastery,
		NewMastery:  est.Mastery,
		Confidence:  est.Confidence,
		Degraded:    guard.degraded,
	}, committedAt); err != nil {
		return nil, err
	}

	if err := p.committer.Commit(ctx, a, prof); err != nil {
		return nil, shared.WrapError("pipeline", "Commit", shared.ErrServiceUnavailable, "commit failed", err)
	}

	p.publishEvent(ctx, shared.NewMasteryChangedEvent(
		string(a.StudentID), string(a.SkillID),
		oldMastery, est.Mastery, est.Confidence,
		a.ID, guard.degraded, committedAt,
	))

	p.log.Info("attempt committed",
		logger.StudentID(string(a.StudentID)),
		logger.SkillID(string(a.SkillID)),
		logger.ItemID(string(a.ItemID)),
		logger.Mastery(est.Mastery),
		logger.Confidence(est.Confidence),
		logger.Bool("degraded", guard.degraded),
	)

	result := *a.Result
	return &result, nil
}

// reject moves the attempt to the Rejected state, records it for
// idempotent replay, and publishes the rejection event.
func (p *Pipeline) reject(ctx context.Context, a *attempt.Attempt, reason string) error {
	if err := a.Reject(reason); err != nil {
		return err
	}
	if err := p.attempts.Append(ctx, a); err != nil && !errors.Is(err, shared.ErrDuplicateAttempt) {
		p.log.Error("failed to record rejected attempt", logger.Err(err),
			logger.AttemptKey(string(a.IdempotencyKey)))
	}
	p.publishEvent(ctx, shared.NewAttemptRejectedEvent(
		string(a.StudentID), string(a.ItemID), string(a.IdempotencyKey), reason))

	return shared.WrapError("pipeline", "Submit", shared.ErrAttemptRejected, reason, nil)
}

// rejectRequest records a rejection for a submission that never made
// it past reference validation, so retries of the same key replay the
// same rejection.
func (p *Pipeline) rejectRequest(ctx context.Context, req SubmitRequest, reason string) error {
	a, err := attempt.NewAttempt(attempt.NewAttemptParams{
		ID:             uuid.NewString(),
		StudentID:      req.StudentID,
		ItemID:         req.ItemID,
		IdempotencyKey: req.IdempotencyKey,
		RawResponse:    req.RawResponse,
		ResponseTime:   req.ResponseTime,
		ReceivedAt:     p.clock.Now(),
	})
	if err != nil {
		return err
	}
	return p.reject(ctx, a, reason)
}

// replayStored converts a previously stored terminal attempt into the
// response a fresh submission with the same key would have produced.
func (p *Pipeline) replayStored(stored *attempt.Attempt) (*attempt.CommittedResult, error) {
	switch {
	case stored.State == attempt.StateCommitted && stored.Result != nil:
		result := *stored.Result
		return &result, nil
	case stored.State == attempt.StateRejected:
		return nil, shared.WrapError("pipeline", "Submit", shared.ErrAttemptRejected, stored.RejectReason, nil)
	default:
		return nil, shared.WrapError("pipeline", "Submit", shared.ErrInvalidState,
			fmt.Sprintf("stored attempt in unexpected state %s", stored.State), nil)
	}
}

func (p *Pipeline) publishEvent(ctx context.Context, event shared.Event) {
	err := p.publish.Do(ctx, func(context.Context) error {
		return retry.Retryable(p.events.Publish(event))
	})
	if err != nil {
		p.log.Error("event publish failed", logger.Err(err),
			logger.String("event_type", string(event.EventType())))
	}
}

func toObservations(attempts []*attempt.Attempt) []tracer.Observation {
	out := make([]tracer.Observation, 0, len(attempts)+1)
	for _, a := range attempts {
		out = append(out, tracer.Observation{
			SkillID:     a.SkillID,
			Correctness: float64(a.Correctness),
			ReceivedAt:  a.ReceivedAt,
		})
	}
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// GUARDED INFERENCE
// ══════════════════════════════════════════════════════════════════════════════

// guardedEstimator wraps the sequence model with the pipeline's timeout
// and circuit breaker. When inference is unavailable it substitutes a
// zero-confidence estimate, which the fusion step weighs as nothing, so
// the attempt still commits on the Bayesian estimate alone.
type guardedEstimator struct {
	inner    tracer.SequenceEstimator
	breaker  *circuitbreaker.CircuitBreaker
	timeout  time.Duration
	fallback float64
	degraded bool
}

// fusionOff stands in for the sequence model when fusion is gated off
// for the student. Zero confidence makes the fusion step reproduce the
// Bayesian estimate exactly.
type fusionOff struct{}

func (fusionOff) Infer(context.Context, shared.SkillID, []tracer.Observation) (tracer.Estimate, error) {
	return tracer.Estimate{}, nil
}

// Infer implements tracer.SequenceEstimator.
func (g *guardedEstimator) Infer(ctx context.Context, skillID shared.SkillID, history []tracer.Observation) (tracer.Estimate, error) {
	var est tracer.Estimate
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		inferCtx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()

		var inferErr error
		est, inferErr = g.inner.Infer(inferCtx, skillID, history)
		return inferErr
	})

	switch {
	case err == nil:
		return est, nil
	case shared.IsInsufficientHistory(err):
		return tracer.Estimate{}, err
	default:
		g.degraded = true
		return tracer.Estimate{Mastery: g.fallback, Confidence: 0}, nil
	}
}
