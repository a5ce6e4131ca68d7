package tracer

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skillforge/mastery-engine/internal/domain/shared"
	"github.com/skillforge/mastery-engine/internal/domain/skill"
)

func TestNewBKT_RejectsInvalidParams(t *testing.T) {
	_, err := NewBKT(skill.ModelParams{Learn: 0, Slip: 0.1, Guess: 0.2, Prior: 0.3})
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrConfiguration))

	_, err = NewBKT(skill.ModelParams{Learn: 0.2, Slip: 0.6, Guess: 0.5, Prior: 0.3})
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrConfiguration))
}

func TestBKT_Update_ClosedFormScenario(t *testing.T) {
	// Prior 0.3, fully correct observation, Learn 0.4, Slip 0.1,
	// Guess 0.2, no forgetting:
	//   P(known | correct) = 0.3*0.9 / (0.3*0.9 + 0.7*0.2) = 27/41
	//   posterior          = 27/41 + (14/41)*0.4           = 32.6/41
	b, err := NewBKT(skill.ModelParams{Learn: 0.4, Slip: 0.1, Guess: 0.2, Forget: 0, Prior: 0.3})
	require.NoError(t, err)

	posterior, err := b.Update(0.3, 1)
	require.NoError(t, err)
	assert.InDelta(t, 32.6/41.0, posterior, 1e-9)
}

func TestBKT_Update_StaysInUnitInterval(t *testing.T) {
	paramSets := []skill.ModelParams{
		{Learn: 0.2, Slip: 0.1, Guess: 0.2, Forget: 0, Prior: 0.3},
		{Learn: 0.9, Slip: 0.05, Guess: 0.05, Forget: 0, Prior: 0.01},
		{Learn: 0.01, Slip: 0.4, Guess: 0.4, Forget: 0.3, Prior: 0.99},
	}
	priors := []float64{0, 0.001, 0.3, 0.5, 0.999, 1}
	grades := []float64{0, 0.25, 0.5, 0.75, 1}

	for _, params := range paramSets {
		b, err := NewBKT(params)
		require.NoError(t, err)
		for _, prior := range priors {
			for _, grade := range grades {
				posterior, err := b.Update(prior, grade)
				require.NoError(t, err)
				assert.GreaterOrEqual(t, posterior, 0.0)
				assert.LessOrEqual(t, posterior, 1.0)
			}
		}
	}
}

func TestBKT_Update_CorrectRaisesIncorrectLowers(t *testing.T) {
	b, err := NewBKT(skill.DefaultModelParams())
	require.NoError(t, err)

	afterCorrect, err := b.Update(0.5, 1)
	require.NoError(t, err)
	afterIncorrect, err := b.Update(0.5, 0)
	require.NoError(t, err)

	assert.Greater(t, afterCorrect, afterIncorrect)
}

func TestBKT_Update_FractionalCreditInterpolates(t *testing.T) {
	b, err := NewBKT(skill.DefaultModelParams())
	require.NoError(t, err)

	low, err := b.Update(0.4, 0)
	require.NoError(t, err)
	mid, err := b.Update(0.4, 0.5)
	require.NoError(t, err)
	high, err := b.Update(0.4, 1)
	require.NoError(t, err)

	assert.Greater(t, mid, low)
	assert.Less(t, mid, high)
}

func TestBKT_Update_RejectsOutOfRangeInputs(t *testing.T) {
	b, err := NewBKT(skill.DefaultModelParams())
	require.NoError(t, err)

	_, err = b.Update(-0.1, 1)
	assert.Error(t, err)
	_, err = b.Update(0.5, 1.5)
	assert.Error(t, err)
}

func TestBKT_Replay(t *testing.T) {
	b, err := NewBKT(skill.DefaultModelParams())
	require.NoError(t, err)

	obs := []Observation{
		{SkillID: "fractions", Correctness: 1},
		{SkillID: "fractions", Correctness: 1},
		{SkillID: "fractions", Correctness: 0},
	}

	est, err := b.Replay(obs, 20)
	require.NoError(t, err)

	// Same computation by hand.
	mastery := b.Prior()
	for _, o := range obs {
		mastery, err = b.Update(mastery, o.Correctness)
		require.NoError(t, err)
	}
	assert.Equal(t, mastery, est.Mastery)
	assert.InDelta(t, 3.0/20.0, est.Confidence, 1e-12)
}
