package attempt

import (
	"context"
	"time"

	"github.com/skillforge/mastery-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// LOG INTERFACE
// The log is append-only. Committed attempts are never updated or
// deleted; replay depends on that.
// ══════════════════════════════════════════════════════════════════════════════

// Log defines storage operations for the attempt log.
type Log interface {
	// Append durably stores a terminal attempt (committed or rejected).
	// Returns shared.ErrDuplicateAttempt if the idempotency key is
	// already present for the student.
	Append(ctx context.Context, attempt *Attempt) error

	// GetByIdempotencyKey returns the stored attempt for a
	// (student, key) pair. Returns shared.ErrAttemptNotFound if absent.
	GetByIdempotencyKey(ctx context.Context, studentID shared.StudentID, key shared.IdempotencyKey) (*Attempt, error)

	// ListByStudent returns the student's committed attempts ordered
	// by server-received timestamp ascending. This is the replay order.
	ListByStudent(ctx context.Context, studentID shared.StudentID) ([]*Attempt, error)

	// ListByStudentSkill returns the student's committed attempts for
	// one skill, ordered by server-received timestamp ascending.
	ListByStudentSkill(ctx context.Context, studentID shared.StudentID, skillID shared.SkillID) ([]*Attempt, error)

	// ListByItemSince returns committed attempts against an item
	// received after the given time. Calibration reads this.
	ListByItemSince(ctx context.Context, itemID shared.ItemID, since time.Time) ([]*Attempt, error)

	// CountByStudentSkill returns the number of committed attempts
	// for a (student, skill) pair.
	CountByStudentSkill(ctx context.Context, studentID shared.StudentID, skillID shared.SkillID) (int, error)

	// ListStudents returns every student with at least one committed
	// attempt. Replay sweeps iterate this.
	ListStudents(ctx context.Context) ([]shared.StudentID, error)
}
