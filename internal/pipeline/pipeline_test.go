package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skillforge/mastery-engine/internal/domain/item"
	"github.com/skillforge/mastery-engine/internal/domain/shared"
	"github.com/skillforge/mastery-engine/internal/domain/skill"
	"github.com/skillforge/mastery-engine/internal/infrastructure/persistence/memory"
	"github.com/skillforge/mastery-engine/internal/tracer"
	"github.com/skillforge/mastery-engine/pkg/clock"
)

const (
	studentID = shared.StudentID("33333333-3333-3333-3333-333333333333")
	otherID   = shared.StudentID("44444444-4444-4444-4444-444444444444")
)

// capturingBus collects published events for assertions.
type capturingBus struct {
	mu     sync.Mutex
	events []shared.Event
}

func (b *capturingBus) Publish(event shared.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
	return nil
}

func (b *capturingBus) byType(t shared.EventType) []shared.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]shared.Event, 0)
	for _, e := range b.events {
		if e.EventType() == t {
			out = append(out, e)
		}
	}
	return out
}

// failingEstimator simulates a sequence model that always times out.
type failingEstimator struct{}

func (failingEstimator) Infer(context.Context, shared.SkillID, []tracer.Observation) (tracer.Estimate, error) {
	return tracer.Estimate{}, shared.ErrInferenceTimeout
}

// confidentEstimator returns a fixed full-confidence estimate, making
// it obvious from the committed mastery whether fusion ran.
type confidentEstimator struct{}

func (confidentEstimator) Infer(context.Context, shared.SkillID, []tracer.Observation) (tracer.Estimate, error) {
	return tracer.Estimate{Mastery: 0.95, Confidence: 1}, nil
}

type pipelineFixture struct {
	pipeline *Pipeline
	attempts *memory.AttemptLog
	profiles *memory.ProfileStore
	items    *memory.ItemRepository
	bus      *capturingBus
}

func newPipelineFixture(t *testing.T, seq tracer.SequenceEstimator) *pipelineFixture {
	t.Helper()
	return newPipelineFixtureCfg(t, seq, DefaultConfig())
}

func newPipelineFixtureCfg(t *testing.T, seq tracer.SequenceEstimator, cfg Config) *pipelineFixture {
	t.Helper()

	counting, err := skill.NewSkill(skill.NewSkillParams{ID: "counting", Name: "Counting"})
	require.NoError(t, err)
	shapes, err := skill.NewSkill(skill.NewSkillParams{ID: "shapes", Name: "Shapes"})
	require.NoError(t, err)
	graph, err := skill.NewGraph([]*skill.Skill{counting, shapes})
	require.NoError(t, err)

	items := memory.NewItemRepository()
	for id, skillID := range map[string]string{"counting-01": "counting", "shapes-01": "shapes"} {
		it, err := item.NewItem(item.NewItemParams{
			ID:        shared.ItemID(id),
			SkillID:   shared.SkillID(skillID),
			Prompt:    "what is 2+2",
			AnswerKey: []string{"four"},
		})
		require.NoError(t, err)
		require.NoError(t, items.Create(context.Background(), it))
	}

	attempts := memory.NewAttemptLog()
	profiles := memory.NewProfileStore()
	bus := &capturingBus{}

	if seq == nil {
		seq, err = tracer.NewSequenceTracer(nil, 0, 0)
		require.NoError(t, err)
	}

	stepping := clock.NewStepping(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), time.Millisecond)
	p, err := New(graph, items, attempts, profiles,
		memory.NewCommitter(attempts, profiles),
		seq, bus, stepping, cfg, nil)
	require.NoError(t, err)
	t.Cleanup(p.Close)

	return &pipelineFixture{pipeline: p, attempts: attempts, profiles: profiles, items: items, bus: bus}
}

func graded(v float64) *float64 { return &v }

func (f *pipelineFixture) submit(t *testing.T, student shared.StudentID, itemID, key string, correctness float64) *pipelineFixture {
	t.Helper()
	_, err := f.pipeline.Submit(context.Background(), SubmitRequest{
		StudentID:      student,
		ItemID:         shared.ItemID(itemID),
		IdempotencyKey: shared.IdempotencyKey(key),
		Correctness:    graded(correctness),
	})
	require.NoError(t, err)
	return f
}

func TestPipeline_SubmitCommitsAttempt(t *testing.T) {
	f := newPipelineFixture(t, nil)
	ctx := context.Background()

	result, err := f.pipeline.Submit(ctx, SubmitRequest{
		StudentID:      studentID,
		ItemID:         "counting-01",
		IdempotencyKey: "key-1",
		Correctness:    graded(1.0),
	})
	require.NoError(t, err)

	assert.InDelta(t, 0.3, result.OldMastery, 1e-12, "first attempt starts from the prior")
	assert.Greater(t, result.NewMastery, result.OldMastery)
	assert.Greater(t, result.Confidence, 0.0)
	assert.False(t, result.Degraded)
	assert.NotEmpty(t, result.AttemptID)

	prof, err := f.profiles.Get(ctx, studentID, "counting")
	require.NoError(t, err)
	assert.Equal(t, 1, prof.Attempts)
	assert.InDelta(t, result.NewMastery, prof.Mastery, 1e-12)

	log, err := f.attempts.ListByStudent(ctx, studentID)
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.Equal(t, result.AttemptID, log[0].ID)

	require.Len(t, f.bus.byType(shared.EventMasteryChanged), 1)
}

func TestPipeline_DuplicateKeyReturnsStoredResult(t *testing.T) {
	f := newPipelineFixture(t, nil)
	ctx := context.Background()

	first, err := f.pipeline.Submit(ctx, SubmitRequest{
		StudentID:      studentID,
		ItemID:         "counting-01",
		IdempotencyKey: "retry-key",
		Correctness:    graded(1.0),
	})
	require.NoError(t, err)

	// The retry carries a different grade; the stored result must win.
	second, err := f.pipeline.Submit(ctx, SubmitRequest{
		StudentID:      studentID,
		ItemID:         "counting-01",
		IdempotencyKey: "retry-key",
		Correctness:    graded(0.0),
	})
	require.NoError(t, err)
	assert.Equal(t, *first, *second)

	prof, err := f.profiles.Get(ctx, studentID, "counting")
	require.NoError(t, err)
	assert.Equal(t, 1, prof.Attempts, "duplicate must not be reprocessed")
}

func TestPipeline_ScoresRawResponse(t *testing.T) {
	f := newPipelineFixture(t, nil)
	ctx := context.Background()

	result, err := f.pipeline.Submit(ctx, SubmitRequest{
		StudentID:      studentID,
		ItemID:         "counting-01",
		IdempotencyKey: "raw-1",
		RawResponse:    "  FOUR ",
	})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, float64(result.Correctness), 1e-12)

	result, err = f.pipeline.Submit(ctx, SubmitRequest{
		StudentID:      studentID,
		ItemID:         "counting-01",
		IdempotencyKey: "raw-2",
		RawResponse:    "five",
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.0, float64(result.Correctness), 1e-12)
}

func TestPipeline_UnknownItemRejected(t *testing.T) {
	f := newPipelineFixture(t, nil)
	ctx := context.Background()

	req := SubmitRequest{
		StudentID:      studentID,
		ItemID:         "no-such-item",
		IdempotencyKey: "reject-key",
		Correctness:    graded(1.0),
	}
	_, err := f.pipeline.Submit(ctx, req)
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrAttemptRejected))
	require.Len(t, f.bus.byType(shared.EventAttemptRejected), 1)

	// Retrying the same key replays the rejection without a second event.
	_, err = f.pipeline.Submit(ctx, req)
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrAttemptRejected))
	assert.Len(t, f.bus.byType(shared.EventAttemptRejected), 1)
}

func TestPipeline_DeprecatedItemRejected(t *testing.T) {
	f := newPipelineFixture(t, nil)
	ctx := context.Background()

	it, err := f.items.GetByID(ctx, "counting-01")
	require.NoError(t, err)
	it.Deprecate()
	require.NoError(t, f.items.Update(ctx, it))

	req := SubmitRequest{
		StudentID:      studentID,
		ItemID:         "counting-01",
		IdempotencyKey: "deprecated-key",
		Correctness:    graded(1.0),
	}
	_, err = f.pipeline.Submit(ctx, req)
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrAttemptRejected))
	require.Len(t, f.bus.byType(shared.EventAttemptRejected), 1)

	// The rejection must not have touched mastery.
	_, err = f.profiles.Get(ctx, studentID, "counting")
	assert.True(t, shared.IsNotFound(err))

	// Retrying the same key replays the rejection without a second event.
	_, err = f.pipeline.Submit(ctx, req)
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrAttemptRejected))
	assert.Len(t, f.bus.byType(shared.EventAttemptRejected), 1)
}

func TestPipeline_FusionGateOffCommitsBayesianOnly(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FusionGate = func(shared.StudentID) bool { return false }
	f := newPipelineFixtureCfg(t, confidentEstimator{}, cfg)
	ctx := context.Background()

	result, err := f.pipeline.Submit(ctx, SubmitRequest{
		StudentID:      studentID,
		ItemID:         "counting-01",
		IdempotencyKey: "gated-1",
		Correctness:    graded(1.0),
	})
	require.NoError(t, err)
	assert.False(t, result.Degraded, "a gated-off student is policy, not degradation")

	b, err := tracer.NewBKT(skill.DefaultModelParams())
	require.NoError(t, err)
	expected, err := b.Update(b.Prior(), 1.0)
	require.NoError(t, err)
	assert.InDelta(t, expected, result.NewMastery, 1e-12,
		"gated-off commit must be the pure Bayesian posterior")

	// The same estimator with the gate open pulls mastery toward its
	// full-confidence estimate.
	open := newPipelineFixture(t, confidentEstimator{})
	fused, err := open.pipeline.Submit(ctx, SubmitRequest{
		StudentID:      studentID,
		ItemID:         "counting-01",
		IdempotencyKey: "gated-1",
		Correctness:    graded(1.0),
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.95, fused.NewMastery, 1e-12)
}

func TestPipeline_InvalidCorrectnessRejected(t *testing.T) {
	f := newPipelineFixture(t, nil)

	_, err := f.pipeline.Submit(context.Background(), SubmitRequest{
		StudentID:      studentID,
		ItemID:         "counting-01",
		IdempotencyKey: "bad-grade",
		Correctness:    graded(1.5),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrAttemptRejected))
}

func TestPipeline_DegradedOnInferenceFailure(t *testing.T) {
	f := newPipelineFixture(t, failingEstimator{})
	ctx := context.Background()

	result, err := f.pipeline.Submit(ctx, SubmitRequest{
		StudentID:      studentID,
		ItemID:         "counting-01",
		IdempotencyKey: "degraded-1",
		Correctness:    graded(1.0),
	})
	require.NoError(t, err, "inference failure must not fail the attempt")
	assert.True(t, result.Degraded)

	// With zero sequence confidence the commit is the pure Bayesian
	// posterior.
	b, err := tracer.NewBKT(skill.DefaultModelParams())
	require.NoError(t, err)
	expected, err := b.Update(b.Prior(), 1.0)
	require.NoError(t, err)
	assert.InDelta(t, expected, result.NewMastery, 1e-12)
}

func TestPipeline_BreakerOpensAfterRepeatedFailures(t *testing.T) {
	f := newPipelineFixture(t, failingEstimator{})
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		_, err := f.pipeline.Submit(ctx, SubmitRequest{
			StudentID:      studentID,
			ItemID:         "counting-01",
			IdempotencyKey: shared.IdempotencyKey(fmt.Sprintf("open-%d", i)),
			Correctness:    graded(1.0),
		})
		require.NoError(t, err)
	}

	assert.True(t, f.pipeline.Degraded())
	assert.NotEmpty(t, f.bus.byType(shared.EventDegradedModeEntered))
}

func TestPipeline_TimestampsStrictlyIncreasing(t *testing.T) {
	f := newPipelineFixture(t, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		f.submit(t, studentID, "counting-01", fmt.Sprintf("ts-%d", i), 1.0)
	}

	log, err := f.attempts.ListByStudent(ctx, studentID)
	require.NoError(t, err)
	require.Len(t, log, 5)
	for i := 1; i < len(log); i++ {
		assert.True(t, log[i].ReceivedAt.After(log[i-1].ReceivedAt),
			"attempt %d not strictly after its predecessor", i)
	}
}

func TestPipeline_ConcurrentSameSkillAllCommit(t *testing.T) {
	f := newPipelineFixture(t, nil)
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.pipeline.Submit(ctx, SubmitRequest{
				StudentID:      studentID,
				ItemID:         "counting-01",
				IdempotencyKey: shared.IdempotencyKey(fmt.Sprintf("conc-%d", i)),
				Correctness:    graded(1.0),
			})
		}()
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "submission %d", i)
	}

	prof, err := f.profiles.Get(ctx, studentID, "counting")
	require.NoError(t, err)
	assert.Equal(t, n, prof.Attempts, "every concurrent attempt must be applied exactly once")
}

func TestPipeline_ConcurrentStudentsIndependent(t *testing.T) {
	f := newPipelineFixture(t, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, student := range []shared.StudentID{studentID, otherID} {
		student := student
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 5; i++ {
				_, err := f.pipeline.Submit(ctx, SubmitRequest{
					StudentID:      student,
					ItemID:         "shapes-01",
					IdempotencyKey: shared.IdempotencyKey(fmt.Sprintf("%s-%d", student, i)),
					Correctness:    graded(1.0),
				})
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	for _, student := range []shared.StudentID{studentID, otherID} {
		prof, err := f.profiles.Get(ctx, student, "shapes")
		require.NoError(t, err)
		assert.Equal(t, 5, prof.Attempts)
	}
}

func TestPipeline_RecomputeMatchesLivePath(t *testing.T) {
	f := newPipelineFixture(t, nil)
	ctx := context.Background()

	for i, c := range []float64{1, 0, 1, 1, 0.5} {
		f.submit(t, studentID, "counting-01", fmt.Sprintf("live-%d", i), c)
	}
	// Interleave another skill so the sequence window is cross-skill.
	f.submit(t, studentID, "shapes-01", "live-shapes", 1.0)

	before, err := f.profiles.Get(ctx, studentID, "counting")
	require.NoError(t, err)

	result, err := f.pipeline.Recompute(ctx, studentID)
	require.NoError(t, err)
	assert.Equal(t, 6, result.AttemptsReplayed)
	assert.Equal(t, 2, result.SkillsUpdated)

	after, err := f.profiles.Get(ctx, studentID, "counting")
	require.NoError(t, err)
	assert.InDelta(t, before.Mastery, after.Mastery, 1e-12, "replay must reproduce the live estimate")
	assert.InDelta(t, before.Confidence, after.Confidence, 1e-12)
	assert.Equal(t, before.Attempts, after.Attempts)

	require.Len(t, f.bus.byType(shared.EventMasteryRecomputed), 1)
}

func TestPipeline_RecomputeIsDeterministic(t *testing.T) {
	f := newPipelineFixture(t, nil)
	ctx := context.Background()

	for i, c := range []float64{1, 1, 0, 1} {
		f.submit(t, studentID, "counting-01", fmt.Sprintf("det-%d", i), c)
	}

	_, err := f.pipeline.Recompute(ctx, studentID)
	require.NoError(t, err)
	first, err := f.profiles.Get(ctx, studentID, "counting")
	require.NoError(t, err)

	_, err = f.pipeline.Recompute(ctx, studentID)
	require.NoError(t, err)
	second, err := f.profiles.Get(ctx, studentID, "counting")
	require.NoError(t, err)

	assert.InDelta(t, first.Mastery, second.Mastery, 1e-15)
	assert.InDelta(t, first.Confidence, second.Confidence, 1e-15)
	assert.Equal(t, first.Attempts, second.Attempts)
}

func TestPipelineConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	bad := DefaultConfig()
	bad.InferenceTimeout = 0
	err := bad.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrConfiguration))

	bad = DefaultConfig()
	bad.Saturation = -1
	assert.Error(t, bad.Validate())
}
