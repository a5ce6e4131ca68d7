// Package skill contains the skill domain model: the unit of knowledge
// being estimated, its tracer parameters, and the prerequisite graph.
// This is core business logic - no external dependencies here.
package skill

import (
	"fmt"
	"strings"
	"time"

	"github.com/skillforge/mastery-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// MODEL PARAMETERS
// ══════════════════════════════════════════════════════════════════════════════

// ModelParams holds the per-skill Bayesian tracer parameters.
// Each probability must lie strictly inside (0,1), except Forget which
// may be exactly 0 for skills that are never unlearned. Guess and Slip
// must not sum to 1 or the update degenerates.
type ModelParams struct {
	// Learn is the probability of transitioning to the known state
	// after an opportunity to practice.
	Learn float64

	// Slip is the probability of answering incorrectly despite
	// knowing the skill.
	Slip float64

	// Guess is the probability of answering correctly without
	// knowing the skill.
	Guess float64

	// Forget is the probability of losing the skill between
	// opportunities. Usually 0.
	Forget float64

	// Prior is the initial mastery estimate for students with no
	// attempt history on this skill.
	Prior float64
}

// DefaultModelParams returns the engine-wide parameter defaults used
// when a skill does not override them.
func DefaultModelParams() ModelParams {
	return ModelParams{
		Learn:  0.2,
		Slip:   0.1,
		Guess:  0.2,
		Forget: 0.0,
		Prior:  0.3,
	}
}

// Validate checks the parameters. Invalid parameters are a
// configuration error: the engine must refuse to start with them.
func (p ModelParams) Validate() error {
	if p.Learn <= 0 || p.Learn >= 1 {
		return shared.WrapError("skill", "ValidateParams", shared.ErrConfiguration,
			fmt.Sprintf("learn rate %v out of (0,1)", p.Learn), nil)
	}
	if p.Slip <= 0 || p.Slip >= 1 {
		return shared.WrapError("skill", "ValidateParams", shared.ErrConfiguration,
			fmt.Sprintf("slip rate %v out of (0,1)", p.Slip), nil)
	}
	if p.Guess <= 0 || p.Guess >= 1 {
		return shared.WrapError("skill", "ValidateParams", shared.ErrConfiguration,
			fmt.Sprintf("guess rate %v out of (0,1)", p.Guess), nil)
	}
	if p.Forget < 0 || p.Forget >= 1 {
		return shared.WrapError("skill", "ValidateParams", shared.ErrConfiguration,
			fmt.Sprintf("forget rate %v out of [0,1)", p.Forget), nil)
	}
	if p.Prior < 0 || p.Prior > 1 {
		return shared.WrapError("skill", "ValidateParams", shared.ErrConfiguration,
			fmt.Sprintf("prior %v out of [0,1]", p.Prior), nil)
	}
	if p.Guess+p.Slip >= 1 {
		return shared.WrapError("skill", "ValidateParams", shared.ErrConfiguration,
			fmt.Sprintf("guess+slip = %v must be < 1", p.Guess+p.Slip), nil)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// MAIN ENTITY: SKILL
// ══════════════════════════════════════════════════════════════════════════════

// Skill is a node in the knowledge taxonomy. Attempts are recorded
// against items, items belong to skills, and mastery is estimated
// per (student, skill).
type Skill struct {
	// ID is the unique skill identifier.
	ID shared.SkillID

	// Name is the human-readable skill name.
	Name string

	// Description explains what the skill covers.
	Description string

	// Prerequisites lists skills a student should hold at the
	// mastery floor before items of this skill are selectable.
	Prerequisites []shared.SkillID

	// Params are the Bayesian tracer parameters for this skill.
	Params ModelParams

	// CreatedAt is when the skill was registered.
	CreatedAt time.Time

	// UpdatedAt is when the skill was last modified.
	UpdatedAt time.Time
}

// NewSkillParams contains parameters for creating a skill.
type NewSkillParams struct {
	ID            shared.SkillID
	Name          string
	Description   string
	Prerequisites []shared.SkillID
	Params        *ModelParams // nil means engine defaults
}

// NewSkill creates a skill with full validation.
func NewSkill(params NewSkillParams) (*Skill, error) {
	if !params.ID.IsValid() {
		return nil, shared.ErrInvalidSkillID
	}

	name := strings.TrimSpace(params.Name)
	if len(name) == 0 || len(name) > 200 {
		return nil, shared.NewDomainError("skill", "New", shared.ErrInvalidInput, "name must be 1-200 chars")
	}

	modelParams := DefaultModelParams()
	if params.Params != nil {
		modelParams = *params.Params
	}
	if err := modelParams.Validate(); err != nil {
		return nil, err
	}

	seen := make(map[shared.SkillID]bool, len(params.Prerequisites))
	for _, prereq := range params.Prerequisites {
		if !prereq.IsValid() {
			return nil, shared.NewDomainError("skill", "New", shared.ErrInvalidID,
				fmt.Sprintf("invalid prerequisite ID %q", prereq))
		}
		if prereq == params.ID {
			return nil, shared.NewDomainError("skill", "New", shared.ErrInvalidInput,
				"skill cannot be its own prerequisite")
		}
		if seen[prereq] {
			return nil, shared.NewDomainError("skill", "New", shared.ErrInvalidInput,
				fmt.Sprintf("duplicate prerequisite %q", prereq))
		}
		seen[prereq] = true
	}

	now := time.Now().UTC()

	return &Skill{
		ID:            params.ID,
		Name:          name,
		Description:   strings.TrimSpace(params.Description),
		Prerequisites: params.Prerequisites,
		Params:        modelParams,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// HasPrerequisites reports whether the skill depends on other skills.
func (s *Skill) HasPrerequisites() bool {
	return len(s.Prerequisites) > 0
}

// UpdateParams replaces the tracer parameters after validation.
func (s *Skill) UpdateParams(params ModelParams) error {
	if err := params.Validate(); err != nil {
		return err
	}
	s.Params = params
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// String returns a short representation for logging.
func (s *Skill) String() string {
	return fmt.Sprintf("Skill{ID: %s, Prereqs: %d}", s.ID, len(s.Prerequisites))
}

// Clone creates a copy of the skill.
func (s *Skill) Clone() *Skill {
	if s == nil {
		return nil
	}
	clone := *s
	clone.Prerequisites = append([]shared.SkillID(nil), s.Prerequisites...)
	return &clone
}
