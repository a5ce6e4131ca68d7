package skill

import (
	"context"

	"github.com/skillforge/mastery-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACE
// Implementations live in infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// Repository defines storage operations for skills.
type Repository interface {
	// Create registers a new skill.
	// Returns shared.ErrAlreadyExists if the ID is taken.
	Create(ctx context.Context, skill *Skill) error

	// GetByID returns a skill by ID.
	// Returns shared.ErrSkillNotFound if absent.
	GetByID(ctx context.Context, id shared.SkillID) (*Skill, error)

	// GetAll returns every registered skill.
	GetAll(ctx context.Context) ([]*Skill, error)

	// Update replaces a skill's mutable fields.
	// Returns shared.ErrSkillNotFound if absent.
	Update(ctx context.Context, skill *Skill) error

	// Exists checks whether a skill is registered.
	Exists(ctx context.Context, id shared.SkillID) (bool, error)

	// Count returns the number of registered skills.
	Count(ctx context.Context) (int, error)
}

// GraphLoader assembles the validated prerequisite graph from storage.
type GraphLoader interface {
	// LoadGraph reads all skills and builds the DAG. Fails with a
	// configuration error on cycles or dangling references.
	LoadGraph(ctx context.Context) (*Graph, error)
}
