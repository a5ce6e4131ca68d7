package item

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skillforge/mastery-engine/internal/domain/shared"
)

func newTestItem(t *testing.T, answerKey ...string) *Item {
	t.Helper()
	it, err := NewItem(NewItemParams{
		ID:        "fractions-add-01",
		SkillID:   "fractions",
		Prompt:    "Add 1/2 and 1/4.",
		AnswerKey: answerKey,
	})
	require.NoError(t, err)
	return it
}

func TestItem_Score_FullCredit(t *testing.T) {
	it := newTestItem(t, "3/4")

	assert.Equal(t, shared.Correctness(1), it.Score("3/4"))
	assert.Equal(t, shared.Correctness(1), it.Score("  3/4  "), "whitespace is normalized")
	assert.Equal(t, shared.Correctness(0), it.Score("1/2"))
	assert.Equal(t, shared.Correctness(0), it.Score(""))
}

func TestItem_Score_PartialCredit(t *testing.T) {
	it := newTestItem(t, "numerator 3", "denominator 4")

	assert.InDelta(t, 0.5, it.Score("numerator 3, denominator 8").Float64(), 1e-12)
	assert.InDelta(t, 1.0, it.Score("numerator 3 denominator 4").Float64(), 1e-12)
}

func TestItem_ContentHash_ChangesWithContent(t *testing.T) {
	a := HashContent("prompt", []string{"x"})
	b := HashContent("prompt", []string{"y"})
	c := HashContent("other prompt", []string{"x"})

	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Equal(t, a, HashContent("prompt", []string{"x"}), "hash is deterministic")
}

func TestItem_Deprecate(t *testing.T) {
	it := newTestItem(t, "42")
	assert.True(t, it.IsSelectable())

	it.Deprecate()
	assert.False(t, it.IsSelectable())
}

func TestNewItem_Validation(t *testing.T) {
	_, err := NewItem(NewItemParams{ID: "", SkillID: "fractions", AnswerKey: []string{"x"}})
	assert.Error(t, err)

	_, err = NewItem(NewItemParams{ID: "fractions-add-01", SkillID: "fractions", AnswerKey: nil})
	assert.Error(t, err)

	_, err = NewItem(NewItemParams{ID: "fractions-add-01", SkillID: "fractions", AnswerKey: []string{"  "}})
	assert.Error(t, err)
}

func TestTwoPL(t *testing.T) {
	// At ability == difficulty the success probability is exactly 0.5.
	assert.InDelta(t, 0.5, TwoPL(0.7, 0.7, 1.0), 1e-12)

	// Higher ability raises success, higher difficulty lowers it.
	assert.Greater(t, TwoPL(0.9, 0.5, 1.0), TwoPL(0.3, 0.5, 1.0))
	assert.Less(t, TwoPL(0.5, 0.9, 1.0), TwoPL(0.5, 0.1, 1.0))

	// Discrimination steepens the curve around the difficulty.
	steep := TwoPL(0.8, 0.5, 4.0)
	flat := TwoPL(0.8, 0.5, 1.0)
	assert.Greater(t, steep, flat)
}
