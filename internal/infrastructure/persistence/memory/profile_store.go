package memory

import (
	"context"
	"sync"

	"github.com/skillforge/mastery-engine/internal/domain/profile"
	"github.com/skillforge/mastery-engine/internal/domain/shared"
)

type profileKey struct {
	student shared.StudentID
	skill   shared.SkillID
}

// ProfileStore is an in-memory profile.Store.
type ProfileStore struct {
	mu       sync.RWMutex
	profiles map[profileKey]*profile.MasteryProfile
}

// NewProfileStore creates an empty store.
func NewProfileStore() *ProfileStore {
	return &ProfileStore{profiles: make(map[profileKey]*profile.MasteryProfile)}
}

// Get implements profile.Store.
func (s *ProfileStore) Get(_ context.Context, studentID shared.StudentID, skillID shared.SkillID) (*profile.MasteryProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[profileKey{student: studentID, skill: skillID}]
	if !ok {
		return nil, shared.ErrProfileNotFound
	}
	return p.Clone(), nil
}

// GetByStudent implements profile.Store.
func (s *ProfileStore) GetByStudent(_ context.Context, studentID shared.StudentID) ([]*profile.MasteryProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*profile.MasteryProfile, 0)
	for k, p := range s.profiles {
		if k.student == studentID {
			out = append(out, p.Clone())
		}
	}
	return out, nil
}

// Upsert implements profile.Store. The stale-timestamp refusal mirrors
// the conditional write the Postgres store does in SQL.
func (s *ProfileStore) Upsert(_ context.Context, p *profile.MasteryProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := profileKey{student: p.StudentID, skill: p.SkillID}
	if existing, ok := s.profiles[k]; ok {
		if !p.LastAttemptAt.After(existing.LastAttemptAt) {
			return shared.ErrTimestampOrder
		}
	}
	s.profiles[k] = p.Clone()
	return nil
}

// Replace implements profile.Store.
func (s *ProfileStore) Replace(_ context.Context, p *profile.MasteryProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[profileKey{student: p.StudentID, skill: p.SkillID}] = p.Clone()
	return nil
}

// Delete implements profile.Store.
func (s *ProfileStore) Delete(_ context.Context, studentID shared.StudentID, skillID shared.SkillID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.profiles, profileKey{student: studentID, skill: skillID})
	return nil
}
