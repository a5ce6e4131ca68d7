package skill

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skillforge/mastery-engine/internal/domain/shared"
)

func mustSkill(t *testing.T, id string, prereqs ...string) *Skill {
	t.Helper()
	ids := make([]shared.SkillID, len(prereqs))
	for i, p := range prereqs {
		ids[i] = shared.SkillID(p)
	}
	s, err := NewSkill(NewSkillParams{
		ID:            shared.SkillID(id),
		Name:          id,
		Prerequisites: ids,
	})
	require.NoError(t, err)
	return s
}

func TestNewGraph_TopoOrderRespectsPrerequisites(t *testing.T) {
	g, err := NewGraph([]*Skill{
		mustSkill(t, "fractions", "counting"),
		mustSkill(t, "counting"),
		mustSkill(t, "algebra", "fractions"),
	})
	require.NoError(t, err)

	order := g.TopoOrder()
	pos := make(map[shared.SkillID]int, len(order))
	for i, id := range order {
		pos[id] = i
	}

	assert.Less(t, pos["counting"], pos["fractions"])
	assert.Less(t, pos["fractions"], pos["algebra"])
}

func TestNewGraph_RejectsCycle(t *testing.T) {
	_, err := NewGraph([]*Skill{
		mustSkill(t, "alpha", "gamma"),
		mustSkill(t, "beta", "alpha"),
		mustSkill(t, "gamma", "beta"),
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrConfiguration))
}

func TestNewGraph_RejectsUnknownPrerequisite(t *testing.T) {
	_, err := NewGraph([]*Skill{
		mustSkill(t, "algebra", "ghost-skill"),
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrConfiguration))
}

func TestNewGraph_RejectsDuplicateSkill(t *testing.T) {
	_, err := NewGraph([]*Skill{
		mustSkill(t, "counting"),
		mustSkill(t, "counting"),
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrConfiguration))
}

func TestGraph_IsUnlocked(t *testing.T) {
	g, err := NewGraph([]*Skill{
		mustSkill(t, "counting"),
		mustSkill(t, "fractions", "counting"),
	})
	require.NoError(t, err)

	mastery := map[shared.SkillID]float64{"counting": 0.4}
	lookup := func(id shared.SkillID) float64 { return mastery[id] }

	assert.True(t, g.IsUnlocked("counting", lookup, 0.5), "skill without prerequisites is always unlocked")
	assert.False(t, g.IsUnlocked("fractions", lookup, 0.5))

	mastery["counting"] = 0.6
	assert.True(t, g.IsUnlocked("fractions", lookup, 0.5))
}

func TestGraph_UnlockedSkills_MissingProfileCountsAsZero(t *testing.T) {
	g, err := NewGraph([]*Skill{
		mustSkill(t, "counting"),
		mustSkill(t, "fractions", "counting"),
		mustSkill(t, "algebra", "fractions"),
	})
	require.NoError(t, err)

	unlocked := g.UnlockedSkills(func(shared.SkillID) float64 { return 0 }, 0.5)
	assert.Equal(t, []shared.SkillID{"counting"}, unlocked)
}

func TestModelParams_Validate(t *testing.T) {
	tests := []struct {
		name    string
		params  ModelParams
		wantErr bool
	}{
		{"defaults are valid", DefaultModelParams(), false},
		{"zero learn", ModelParams{Learn: 0, Slip: 0.1, Guess: 0.2, Prior: 0.3}, true},
		{"slip of one", ModelParams{Learn: 0.2, Slip: 1, Guess: 0.2, Prior: 0.3}, true},
		{"guess plus slip at one", ModelParams{Learn: 0.2, Slip: 0.5, Guess: 0.5, Prior: 0.3}, true},
		{"negative forget", ModelParams{Learn: 0.2, Slip: 0.1, Guess: 0.2, Forget: -0.1, Prior: 0.3}, true},
		{"prior above one", ModelParams{Learn: 0.2, Slip: 0.1, Guess: 0.2, Prior: 1.5}, true},
		{"zero forget allowed", ModelParams{Learn: 0.3, Slip: 0.05, Guess: 0.25, Forget: 0, Prior: 0.5}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.params.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, shared.ErrConfiguration))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
