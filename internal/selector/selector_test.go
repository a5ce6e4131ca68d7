package selector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skillforge/mastery-engine/internal/domain/item"
	"github.com/skillforge/mastery-engine/internal/domain/profile"
	"github.com/skillforge/mastery-engine/internal/domain/shared"
	"github.com/skillforge/mastery-engine/internal/domain/skill"
	"github.com/skillforge/mastery-engine/internal/infrastructure/persistence/memory"
)

const studentID = shared.StudentID("22222222-2222-2222-2222-222222222222")

type fixture struct {
	selector  *Selector
	profiles  *memory.ProfileStore
	items     *memory.ItemRepository
	exposures *memory.ExposureTracker
}

func newFixture(t *testing.T, skills []*skill.Skill) *fixture {
	t.Helper()

	graph, err := skill.NewGraph(skills)
	require.NoError(t, err)

	profiles := memory.NewProfileStore()
	items := memory.NewItemRepository()
	exposures := memory.NewExposureTracker()

	sel, err := New(graph, profiles, items, exposures, DefaultConfig(), nil)
	require.NoError(t, err)

	return &fixture{selector: sel, profiles: profiles, items: items, exposures: exposures}
}

func makeSkill(t *testing.T, id string, prereqs ...string) *skill.Skill {
	t.Helper()
	ids := make([]shared.SkillID, len(prereqs))
	for i, p := range prereqs {
		ids[i] = shared.SkillID(p)
	}
	s, err := skill.NewSkill(skill.NewSkillParams{
		ID:            shared.SkillID(id),
		Name:          id,
		Prerequisites: ids,
	})
	require.NoError(t, err)
	return s
}

func (f *fixture) addItem(t *testing.T, id, skillID string, difficulty float64) {
	t.Helper()
	it, err := item.NewItem(item.NewItemParams{
		ID:        shared.ItemID(id),
		SkillID:   shared.SkillID(skillID),
		Prompt:    "prompt " + id,
		AnswerKey: []string{"answer"},
	})
	require.NoError(t, err)
	it.Calibration.Difficulty = difficulty
	it.Calibration.Discrimination = 2.0
	require.NoError(t, f.items.Create(context.Background(), it))
}

func (f *fixture) setMastery(t *testing.T, skillID string, mastery float64) {
	t.Helper()
	p, err := profile.NewProfile(studentID, shared.SkillID(skillID), 0)
	require.NoError(t, err)
	require.NoError(t, p.ApplyEstimate(mastery, 0.5, time.Now()))
	require.NoError(t, f.profiles.Replace(context.Background(), p))
}

func TestSelector_NeverServesLockedSkill(t *testing.T) {
	f := newFixture(t, []*skill.Skill{
		makeSkill(t, "counting"),
		makeSkill(t, "fractions", "counting"),
	})
	f.addItem(t, "counting-01", "counting", 0.3)
	f.addItem(t, "fractions-01", "fractions", 0.3)

	// Mastery of the prerequisite sits below the floor; every choice
	// must come from the unlocked skill.
	f.setMastery(t, "counting", 0.2)
	for i := 0; i < 5; i++ {
		choice, err := f.selector.NextItem(context.Background(), studentID)
		require.NoError(t, err)
		assert.Equal(t, shared.SkillID("counting"), choice.SkillID)
	}
}

func TestSelector_PrefersWeakestEligibleSkill(t *testing.T) {
	f := newFixture(t, []*skill.Skill{
		makeSkill(t, "counting"),
		makeSkill(t, "shapes"),
	})
	f.addItem(t, "counting-01", "counting", 0.5)
	f.addItem(t, "shapes-01", "shapes", 0.5)

	f.setMastery(t, "counting", 0.8)
	f.setMastery(t, "shapes", 0.6)

	choice, err := f.selector.NextItem(context.Background(), studentID)
	require.NoError(t, err)
	assert.Equal(t, shared.SkillID("shapes"), choice.SkillID)
}

func TestSelector_SkipsMasteredSkills(t *testing.T) {
	f := newFixture(t, []*skill.Skill{
		makeSkill(t, "counting"),
		makeSkill(t, "shapes"),
	})
	f.addItem(t, "counting-01", "counting", 0.5)
	f.addItem(t, "shapes-01", "shapes", 0.5)

	f.setMastery(t, "counting", 0.97) // above the ceiling
	f.setMastery(t, "shapes", 0.6)

	choice, err := f.selector.NextItem(context.Background(), studentID)
	require.NoError(t, err)
	assert.Equal(t, shared.SkillID("shapes"), choice.SkillID)
}

func TestSelector_TargetsDifficultyBand(t *testing.T) {
	f := newFixture(t, []*skill.Skill{makeSkill(t, "counting")})

	// With mastery 0.6 and discrimination 2.0: an item at difficulty
	// 0.55 predicts ~0.52 success (out of band); difficulty 0.2
	// predicts ~0.69 (in band, near target 0.7).
	f.addItem(t, "counting-hard", "counting", 0.55)
	f.addItem(t, "counting-easy", "counting", 0.2)
	f.setMastery(t, "counting", 0.6)

	choice, err := f.selector.NextItem(context.Background(), studentID)
	require.NoError(t, err)
	assert.Equal(t, shared.ItemID("counting-easy"), choice.Item.ID)
	assert.InDelta(t, 0.69, choice.PredictedSuccess, 0.01)
}

func TestSelector_TieBreaksByLeastRecentlyShown(t *testing.T) {
	f := newFixture(t, []*skill.Skill{makeSkill(t, "counting")})

	// Identical difficulty, so only exposure recency separates them.
	f.addItem(t, "counting-01", "counting", 0.3)
	f.addItem(t, "counting-02", "counting", 0.3)
	f.setMastery(t, "counting", 0.6)

	ctx := context.Background()
	require.NoError(t, f.exposures.RecordExposure(ctx, studentID, "counting-01", time.Now()))

	choice, err := f.selector.NextItem(ctx, studentID)
	require.NoError(t, err)
	assert.Equal(t, shared.ItemID("counting-02"), choice.Item.ID, "never-shown item wins the tie")
}

func TestSelector_ExcludesDeprecatedItems(t *testing.T) {
	f := newFixture(t, []*skill.Skill{makeSkill(t, "counting")})
	f.addItem(t, "counting-01", "counting", 0.3)
	f.setMastery(t, "counting", 0.6)

	ctx := context.Background()
	it, err := f.items.GetByID(ctx, "counting-01")
	require.NoError(t, err)
	it.Deprecate()
	require.NoError(t, f.items.Update(ctx, it))

	_, err = f.selector.NextItem(ctx, studentID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrNoEligibleItem))
}

func TestSelector_NoEligibleItem(t *testing.T) {
	f := newFixture(t, []*skill.Skill{
		makeSkill(t, "counting"),
		makeSkill(t, "fractions", "counting"),
	})
	// The only item belongs to a locked skill.
	f.addItem(t, "fractions-01", "fractions", 0.3)
	f.setMastery(t, "counting", 0.1)

	_, err := f.selector.NextItem(context.Background(), studentID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrNoEligibleItem))
}

func TestSelector_MissingProfileFallsBackToPrior(t *testing.T) {
	f := newFixture(t, []*skill.Skill{makeSkill(t, "counting")})
	f.addItem(t, "counting-01", "counting", 0.3)

	// No profile at all: the skill prior (0.3) is below the ceiling,
	// so the skill is still practicable.
	choice, err := f.selector.NextItem(context.Background(), studentID)
	require.NoError(t, err)
	assert.Equal(t, shared.SkillID("counting"), choice.SkillID)
	assert.InDelta(t, 0.3, choice.Mastery, 1e-12)
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	bad := DefaultConfig()
	bad.BandLow = 0.8 // above the high edge
	err := bad.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrConfiguration))

	bad = DefaultConfig()
	bad.TargetSuccess = 0.5 // outside the band
	assert.Error(t, bad.Validate())
}
