package redis

import (
	"context"
	"errors"
	"time"

	"github.com/skillforge/mastery-engine/internal/domain/profile"
	"github.com/skillforge/mastery-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROFILE CACHE
// Read-through cache in front of the profile store. Entries are
// invalidated whenever a commit or replay touches the pair, so the
// TTL only bounds staleness after a lost invalidation.
// ══════════════════════════════════════════════════════════════════════════════

// ProfileCache implements profile.Cache on Redis.
type ProfileCache struct {
	cache *Cache
}

// NewProfileCache creates a profile cache over the shared Redis client.
func NewProfileCache(cache *Cache) *ProfileCache {
	return &ProfileCache{cache: cache}
}

// cachedProfile is the wire form of a profile cache entry.
type cachedProfile struct {
	StudentID     string    `json:"student_id"`
	SkillID       string    `json:"skill_id"`
	Mastery       float64   `json:"mastery"`
	Confidence    float64   `json:"confidence"`
	Attempts      int       `json:"attempts"`
	LastAttemptAt time.Time `json:"last_attempt_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Get fetches a cached profile. A miss maps to the domain's not-found
// error so callers fall through to the store.
func (c *ProfileCache) Get(ctx context.Context, studentID shared.StudentID, skillID shared.SkillID) (*profile.MasteryProfile, error) {
	var entry cachedProfile
	err := c.cache.Get(ctx, ProfileKey(string(studentID), string(skillID)), &entry)
	if err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return nil, shared.ErrProfileNotFound
		}
		return nil, err
	}

	return &profile.MasteryProfile{
		StudentID:     shared.StudentID(entry.StudentID),
		SkillID:       shared.SkillID(entry.SkillID),
		Mastery:       entry.Mastery,
		Confidence:    entry.Confidence,
		Attempts:      entry.Attempts,
		LastAttemptAt: entry.LastAttemptAt,
		UpdatedAt:     entry.UpdatedAt,
	}, nil
}

// Set stores a profile with a TTL.
func (c *ProfileCache) Set(ctx context.Context, p *profile.MasteryProfile, ttl time.Duration) error {
	if p == nil {
		return ErrCacheNilValue
	}

	entry := cachedProfile{
		StudentID:     string(p.StudentID),
		SkillID:       string(p.SkillID),
		Mastery:       p.Mastery,
		Confidence:    p.Confidence,
		Attempts:      p.Attempts,
		LastAttemptAt: p.LastAttemptAt,
		UpdatedAt:     p.UpdatedAt,
	}
	return c.cache.Set(ctx, ProfileKey(string(p.StudentID), string(p.SkillID)), entry, ttl)
}

// Invalidate drops the cached entry for a (student, skill) pair.
func (c *ProfileCache) Invalidate(ctx context.Context, studentID shared.StudentID, skillID shared.SkillID) error {
	return c.cache.Delete(ctx, ProfileKey(string(studentID), string(skillID)))
}

// InvalidateStudent drops every cached entry for a student. Replay
// rewrites all of a student's rows at once, so it clears by pattern.
func (c *ProfileCache) InvalidateStudent(ctx context.Context, studentID shared.StudentID) error {
	return c.cache.DeleteByPattern(ctx, StudentProfilePattern(string(studentID)))
}
