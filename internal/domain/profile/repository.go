package profile

import (
	"context"
	"time"

	"github.com/skillforge/mastery-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// STORE INTERFACE
// Implementations live in infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// Store defines storage operations for mastery profiles.
type Store interface {
	// Get returns the profile for a (student, skill) pair.
	// Returns shared.ErrProfileNotFound if absent.
	Get(ctx context.Context, studentID shared.StudentID, skillID shared.SkillID) (*MasteryProfile, error)

	// GetByStudent returns all of a student's profiles.
	GetByStudent(ctx context.Context, studentID shared.StudentID) ([]*MasteryProfile, error)

	// Upsert atomically writes the profile. The write is refused with
	// shared.ErrTimestampOrder if the stored row carries a
	// last-attempt timestamp at or after the new one.
	Upsert(ctx context.Context, profile *MasteryProfile) error

	// Replace overwrites the profile unconditionally. Used by replay,
	// which rebuilds the row from the full log.
	Replace(ctx context.Context, profile *MasteryProfile) error

	// Delete removes a profile. Used by replay when the log holds no
	// attempts for the pair anymore.
	Delete(ctx context.Context, studentID shared.StudentID, skillID shared.SkillID) error
}

// ══════════════════════════════════════════════════════════════════════════════
// CACHE INTERFACE
// Optional read-through cache in front of the store.
// ══════════════════════════════════════════════════════════════════════════════

// Cache defines caching operations for profiles.
type Cache interface {
	// Get fetches a cached profile. Returns shared.ErrProfileNotFound
	// on a miss.
	Get(ctx context.Context, studentID shared.StudentID, skillID shared.SkillID) (*MasteryProfile, error)

	// Set stores a profile with a TTL.
	Set(ctx context.Context, profile *MasteryProfile, ttl time.Duration) error

	// Invalidate drops cached entries for a (student, skill) pair.
	Invalidate(ctx context.Context, studentID shared.StudentID, skillID shared.SkillID) error

	// InvalidateStudent drops every cached entry for a student.
	InvalidateStudent(ctx context.Context, studentID shared.StudentID) error
}
