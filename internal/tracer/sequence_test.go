package tracer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skillforge/mastery-engine/internal/domain/shared"
)

func history(n int, correctness float64) []Observation {
	obs := make([]Observation, n)
	for i := range obs {
		obs[i] = Observation{SkillID: "fractions", Correctness: correctness}
	}
	return obs
}

func TestSequenceTracer_EmptyHistory(t *testing.T) {
	s, err := NewSequenceTracer(nil, 0, 0)
	require.NoError(t, err)

	_, err = s.Infer(context.Background(), "fractions", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrInsufficientHistory))
}

func TestSequenceTracer_Deterministic(t *testing.T) {
	s, err := NewSequenceTracer(nil, 0, 0)
	require.NoError(t, err)

	obs := []Observation{
		{SkillID: "fractions", Correctness: 1},
		{SkillID: "counting", Correctness: 0.5},
		{SkillID: "fractions", Correctness: 0},
	}

	first, err := s.Infer(context.Background(), "fractions", obs)
	require.NoError(t, err)
	second, err := s.Infer(context.Background(), "fractions", obs)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestSequenceTracer_OutputInUnitInterval(t *testing.T) {
	s, err := NewSequenceTracer(nil, 0, 0)
	require.NoError(t, err)

	for _, n := range []int{1, 5, 20, 80} {
		for _, c := range []float64{0, 0.5, 1} {
			est, err := s.Infer(context.Background(), "fractions", history(n, c))
			require.NoError(t, err)
			assert.GreaterOrEqual(t, est.Mastery, 0.0)
			assert.LessOrEqual(t, est.Mastery, 1.0)
		}
	}
}

func TestSequenceTracer_WindowTruncatesOldest(t *testing.T) {
	s, err := NewSequenceTracer(nil, 10, 0)
	require.NoError(t, err)

	// A long prefix of failures followed by the same recent window
	// must be invisible once truncated.
	recent := history(10, 1)
	padded := append(history(30, 0), recent...)

	fromRecent, err := s.Infer(context.Background(), "fractions", recent)
	require.NoError(t, err)
	fromPadded, err := s.Infer(context.Background(), "fractions", padded)
	require.NoError(t, err)

	assert.Equal(t, fromRecent.Mastery, fromPadded.Mastery)
}

func TestSequenceTracer_ConfidenceSaturates(t *testing.T) {
	s, err := NewSequenceTracer(nil, 50, 20)
	require.NoError(t, err)

	est, err := s.Infer(context.Background(), "fractions", history(5, 1))
	require.NoError(t, err)
	assert.InDelta(t, 0.25, est.Confidence, 1e-12)

	est, err = s.Infer(context.Background(), "fractions", history(20, 1))
	require.NoError(t, err)
	assert.Equal(t, 1.0, est.Confidence)

	est, err = s.Infer(context.Background(), "fractions", history(40, 1))
	require.NoError(t, err)
	assert.Equal(t, 1.0, est.Confidence, "confidence never exceeds 1")
}

func TestSequenceTracer_CancelledContext(t *testing.T) {
	s, err := NewSequenceTracer(nil, 0, 0)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = s.Infer(ctx, "fractions", history(30, 1))
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrTimeout))
}

func TestLoadWeights_RejectsBadDimensions(t *testing.T) {
	w := DefaultWeights()
	w.HiddenBias = w.HiddenBias[:3]

	err := w.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrConfiguration))
}

func TestDefaultWeights_Deterministic(t *testing.T) {
	a := DefaultWeights()
	b := DefaultWeights()
	assert.Equal(t, a, b)
}
