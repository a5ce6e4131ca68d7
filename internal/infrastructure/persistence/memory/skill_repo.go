// Package memory provides in-memory implementations of the domain
// storage interfaces. They back development mode (when Postgres and
// Redis are disabled) and the test suites. All implementations are
// safe for concurrent use and hand out clones, never internal state.
package memory

import (
	"context"
	"sync"

	"github.com/skillforge/mastery-engine/internal/domain/shared"
	"github.com/skillforge/mastery-engine/internal/domain/skill"
)

// SkillRepository is an in-memory skill.Repository.
type SkillRepository struct {
	mu     sync.RWMutex
	skills map[shared.SkillID]*skill.Skill
}

// NewSkillRepository creates an empty repository.
func NewSkillRepository() *SkillRepository {
	return &SkillRepository{skills: make(map[shared.SkillID]*skill.Skill)}
}

// Create implements skill.Repository.
func (r *SkillRepository) Create(_ context.Context, s *skill.Skill) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.skills[s.ID]; ok {
		return shared.WrapError("skill", "Create", shared.ErrAlreadyExists, "skill already registered", nil)
	}
	r.skills[s.ID] = s.Clone()
	return nil
}

// GetByID implements skill.Repository.
func (r *SkillRepository) GetByID(_ context.Context, id shared.SkillID) (*skill.Skill, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.skills[id]
	if !ok {
		return nil, shared.ErrSkillNotFound
	}
	return s.Clone(), nil
}

// GetAll implements skill.Repository.
func (r *SkillRepository) GetAll(_ context.Context) ([]*skill.Skill, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*skill.Skill, 0, len(r.skills))
	for _, s := range r.skills {
		out = append(out, s.Clone())
	}
	return out, nil
}

// Update implements skill.Repository.
func (r *SkillRepository) Update(_ context.Context, s *skill.Skill) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.skills[s.ID]; !ok {
		return shared.ErrSkillNotFound
	}
	r.skills[s.ID] = s.Clone()
	return nil
}

// Exists implements skill.Repository.
func (r *SkillRepository) Exists(_ context.Context, id shared.SkillID) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.skills[id]
	return ok, nil
}

// Count implements skill.Repository.
func (r *SkillRepository) Count(_ context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.skills), nil
}

// LoadGraph implements skill.GraphLoader.
func (r *SkillRepository) LoadGraph(ctx context.Context) (*skill.Graph, error) {
	skills, err := r.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	return skill.NewGraph(skills)
}
