package memory

import (
	"context"

	"github.com/skillforge/mastery-engine/internal/domain/attempt"
	"github.com/skillforge/mastery-engine/internal/domain/profile"
)

// Committer persists a terminal attempt together with its profile
// update. The in-memory stores have no shared transaction; atomicity
// comes from the pipeline serializing all writes for a (student, skill)
// pair, so the two writes can never interleave with a competing commit.
type Committer struct {
	attempts *AttemptLog
	profiles *ProfileStore
}

// NewCommitter creates a committer over the given stores.
func NewCommitter(attempts *AttemptLog, profiles *ProfileStore) *Committer {
	return &Committer{attempts: attempts, profiles: profiles}
}

// Commit writes the profile first: its timestamp check is the guard
// against out-of-order application, and a refused profile write must
// leave the log untouched.
func (c *Committer) Commit(ctx context.Context, a *attempt.Attempt, p *profile.MasteryProfile) error {
	if err := c.profiles.Upsert(ctx, p); err != nil {
		return err
	}
	return c.attempts.Append(ctx, a)
}
