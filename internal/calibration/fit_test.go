package calibration

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skillforge/mastery-engine/internal/domain/item"
	"github.com/skillforge/mastery-engine/internal/domain/shared"
)

// syntheticResponses generates noise-free responses across the ability
// scale whose expected success follows the given 2PL parameters.
func syntheticResponses(difficulty, discrimination float64, perBucket int) []Response {
	responses := make([]Response, 0, NumBuckets*perBucket)
	for i := 0; i < NumBuckets; i++ {
		ability := (float64(i) + 0.5) / NumBuckets
		p := item.TwoPL(ability, difficulty, discrimination)
		for j := 0; j < perBucket; j++ {
			responses = append(responses, Response{Ability: ability, Correctness: p})
		}
	}
	return responses
}

func TestAggregate(t *testing.T) {
	responses := []Response{
		{Ability: 0.04, Correctness: 0},
		{Ability: 0.06, Correctness: 1},
		{Ability: 0.55, Correctness: 0.5},
		{Ability: 1.0, Correctness: 1}, // boundary lands in the top bucket
	}

	buckets := Aggregate(responses)
	require.Len(t, buckets, 3)

	assert.InDelta(t, 0.05, buckets[0].Ability, 1e-12)
	assert.Equal(t, 2, buckets[0].Total)
	assert.InDelta(t, 0.5, buckets[0].SuccessRate(), 1e-12)

	assert.InDelta(t, 0.55, buckets[1].Ability, 1e-12)
	assert.InDelta(t, 0.5, buckets[1].SuccessRate(), 1e-12)

	assert.InDelta(t, 0.95, buckets[2].Ability, 1e-12)
	assert.Equal(t, 1, buckets[2].Total)
}

func TestAggregate_Empty(t *testing.T) {
	assert.Empty(t, Aggregate(nil))
}

func TestFit_TooFewResponses(t *testing.T) {
	current := item.DefaultCalibration()

	_, err := Fit(syntheticResponses(0.5, 1.0, 0), current, DefaultFitConfig())
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrInsufficientHistory))

	_, err = Fit(syntheticResponses(0.5, 1.0, 1)[:5], current, DefaultFitConfig())
	assert.True(t, errors.Is(err, shared.ErrInsufficientHistory))
}

func TestFit_ConvergesOnCleanData(t *testing.T) {
	responses := syntheticResponses(0.3, 2.0, 5)

	fitted, err := Fit(responses, item.DefaultCalibration(), DefaultFitConfig())
	require.NoError(t, err)

	assert.Equal(t, len(responses), fitted.ResponseCount)
	assert.False(t, fitted.LowConfidence)
	assert.Less(t, fitted.Difficulty, 0.5, "fit must move difficulty toward the easier truth")
	assert.GreaterOrEqual(t, fitted.Discrimination, minDiscrimination)
	assert.LessOrEqual(t, fitted.Difficulty, maxDifficulty)
}

func TestFit_HarderDataYieldsHigherDifficulty(t *testing.T) {
	cfg := DefaultFitConfig()
	start := item.DefaultCalibration()

	easy, err := Fit(syntheticResponses(0.2, 1.5, 5), start, cfg)
	require.NoError(t, err)
	hard, err := Fit(syntheticResponses(0.8, 1.5, 5), start, cfg)
	require.NoError(t, err)

	assert.Less(t, easy.Difficulty, hard.Difficulty)
}

func TestFit_RespectsIterationBudget(t *testing.T) {
	cfg := DefaultFitConfig()
	cfg.MaxIterations = 1
	cfg.Epsilon = 1e-12

	_, err := Fit(syntheticResponses(0.9, 3.0, 5), item.DefaultCalibration(), cfg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrNotCalibrated))
}

func TestFitConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultFitConfig().Validate())

	bad := DefaultFitConfig()
	bad.Epsilon = 0
	err := bad.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrConfiguration))

	bad = DefaultFitConfig()
	bad.MinResponses = 0
	assert.Error(t, bad.Validate())

	bad = DefaultFitConfig()
	bad.Damping = 1.5
	assert.Error(t, bad.Validate())
}
