package calibration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skillforge/mastery-engine/internal/domain/attempt"
	"github.com/skillforge/mastery-engine/internal/domain/item"
	"github.com/skillforge/mastery-engine/internal/domain/profile"
	"github.com/skillforge/mastery-engine/internal/domain/shared"
	"github.com/skillforge/mastery-engine/internal/infrastructure/persistence/memory"
)

// capturingPublisher collects published events for assertions.
type capturingPublisher struct {
	mu     sync.Mutex
	events []shared.Event
}

func (p *capturingPublisher) Publish(event shared.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *capturingPublisher) byType(t shared.EventType) []shared.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]shared.Event, 0)
	for _, e := range p.events {
		if e.EventType() == t {
			out = append(out, e)
		}
	}
	return out
}

type calibratorFixture struct {
	calibrator *Calibrator
	items      *memory.ItemRepository
	attempts   *memory.AttemptLog
	profiles   *memory.ProfileStore
	bus        *capturingPublisher
}

func newCalibratorFixture(t *testing.T) *calibratorFixture {
	t.Helper()

	f := &calibratorFixture{
		items:    memory.NewItemRepository(),
		attempts: memory.NewAttemptLog(),
		profiles: memory.NewProfileStore(),
		bus:      &capturingPublisher{},
	}

	c, err := NewCalibrator(f.items, f.attempts, f.profiles, f.bus, DefaultFitConfig(), nil)
	require.NoError(t, err)
	f.calibrator = c
	return f
}

func (f *calibratorFixture) seedItem(t *testing.T, id, skillID string) *item.Item {
	t.Helper()
	it, err := item.NewItem(item.NewItemParams{
		ID:        shared.ItemID(id),
		SkillID:   shared.SkillID(skillID),
		Prompt:    "simplify 3x + 2x",
		AnswerKey: []string{"5x"},
	})
	require.NoError(t, err)
	require.NoError(t, f.items.Create(context.Background(), it))
	return it
}

// seedResponses populates the log with n committed attempts against the
// item, one per synthetic student, with abilities spread across [0,1]
// and noise-free correctness following the given 2PL parameters.
func (f *calibratorFixture) seedResponses(t *testing.T, it *item.Item, n int, trueDifficulty, trueDiscrimination float64) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < n; i++ {
		student := shared.StudentID(uuid.NewString())
		ability := (float64(i) + 0.5) / float64(n)

		prof, err := profile.NewProfile(student, it.SkillID, ability)
		require.NoError(t, err)
		require.NoError(t, f.profiles.Upsert(ctx, prof))

		correctness, err := shared.NewCorrectness(item.TwoPL(ability, trueDifficulty, trueDiscrimination))
		require.NoError(t, err)

		received := base.Add(time.Duration(i) * time.Second)
		a, err := attempt.NewAttempt(attempt.NewAttemptParams{
			ID:             uuid.NewString(),
			StudentID:      student,
			SkillID:        it.SkillID,
			ItemID:         it.ID,
			IdempotencyKey: shared.IdempotencyKey(fmt.Sprintf("seed-%s-%d", it.ID, i)),
			RawResponse:    "5x",
			ReceivedAt:     received,
		})
		require.NoError(t, err)
		require.NoError(t, a.MarkValidated(it.SkillID, it.ContentHash))
		require.NoError(t, a.MarkScored(correctness))
		require.NoError(t, a.MarkMasteryUpdated())
		require.NoError(t, a.MarkCommitted(attempt.CommittedResult{
			AttemptID:   a.ID,
			Correctness: correctness,
			NewMastery:  ability,
			CommittedAt: received,
		}, received))
		require.NoError(t, f.attempts.Append(ctx, a))
	}
}

func TestCalibrator_CalibrateItem_FitsFromAttemptLog(t *testing.T) {
	f := newCalibratorFixture(t)
	it := f.seedItem(t, "algebra-01", "algebra")
	f.seedResponses(t, it, 40, 0.3, 2.0)

	require.NoError(t, f.calibrator.CalibrateItem(context.Background(), it))

	stored, err := f.items.GetByID(context.Background(), it.ID)
	require.NoError(t, err)
	assert.False(t, stored.Calibration.LowConfidence)
	assert.Equal(t, 40, stored.Calibration.ResponseCount)
	assert.Less(t, stored.Calibration.Difficulty, 0.5,
		"fit must move difficulty toward the easier truth")
	assert.False(t, stored.Calibration.CalibratedAt.IsZero())

	events := f.bus.byType(shared.EventItemRecalibrated)
	require.Len(t, events, 1)
	assert.Equal(t, it.ID.String(), events[0].AggregateID())
}

func TestCalibrator_CalibrateItem_InsufficientEvidenceFlags(t *testing.T) {
	f := newCalibratorFixture(t)
	it := f.seedItem(t, "algebra-02", "algebra")
	f.seedResponses(t, it, 3, 0.5, 1.0)

	before := it.Calibration
	err := f.calibrator.CalibrateItem(context.Background(), it)
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrInsufficientHistory))

	stored, getErr := f.items.GetByID(context.Background(), it.ID)
	require.NoError(t, getErr)
	assert.True(t, stored.Calibration.LowConfidence)
	assert.Equal(t, 3, stored.Calibration.ResponseCount)
	assert.InDelta(t, before.Difficulty, stored.Calibration.Difficulty, 1e-12,
		"previous parameters must be retained")

	assert.Empty(t, f.bus.byType(shared.EventItemRecalibrated))
}

func TestCalibrator_MissingProfileUsesNeutralAbility(t *testing.T) {
	f := newCalibratorFixture(t)
	it := f.seedItem(t, "algebra-03", "algebra")
	f.seedResponses(t, it, 40, 0.4, 1.5)

	// Simulate replayed-away profiles for a quarter of respondents.
	attempts, err := f.attempts.ListByItemSince(context.Background(), it.ID, time.Time{})
	require.NoError(t, err)
	for i, a := range attempts {
		if i%4 == 0 {
			require.NoError(t, f.profiles.Delete(context.Background(), a.StudentID, it.SkillID))
		}
	}

	assert.NoError(t, f.calibrator.CalibrateItem(context.Background(), it))
}

func TestCalibrator_CalibrateAll(t *testing.T) {
	f := newCalibratorFixture(t)
	fitted := f.seedItem(t, "algebra-04", "algebra")
	f.seedResponses(t, fitted, 40, 0.6, 1.5)
	sparse := f.seedItem(t, "algebra-05", "algebra")
	f.seedResponses(t, sparse, 2, 0.5, 1.0)

	result, err := f.calibrator.CalibrateAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.ItemsFitted)
	assert.Equal(t, 1, result.ItemsSkipped)
	assert.Equal(t, 0, result.ItemsFlagged)
	assert.Greater(t, result.Duration, time.Duration(0))

	require.Len(t, f.bus.byType(shared.EventCalibrationCompleted), 1)
}

func TestCalibrator_CalibrateAll_CancelledContext(t *testing.T) {
	f := newCalibratorFixture(t)
	it := f.seedItem(t, "algebra-06", "algebra")
	f.seedResponses(t, it, 40, 0.5, 1.0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.calibrator.CalibrateAll(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestNewCalibrator_RejectsBadConfig(t *testing.T) {
	bad := DefaultFitConfig()
	bad.Epsilon = -1

	_, err := NewCalibrator(memory.NewItemRepository(), memory.NewAttemptLog(),
		memory.NewProfileStore(), nil, bad, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrConfiguration))
}
