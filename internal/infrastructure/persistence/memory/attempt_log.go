package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/skillforge/mastery-engine/internal/domain/attempt"
	"github.com/skillforge/mastery-engine/internal/domain/shared"
)

type attemptKey struct {
	student shared.StudentID
	key     shared.IdempotencyKey
}

// AttemptLog is an in-memory attempt.Log. Appends are final: stored
// attempts are never mutated.
type AttemptLog struct {
	mu       sync.RWMutex
	attempts []*attempt.Attempt
	byKey    map[attemptKey]*attempt.Attempt
}

// NewAttemptLog creates an empty log.
func NewAttemptLog() *AttemptLog {
	return &AttemptLog{byKey: make(map[attemptKey]*attempt.Attempt)}
}

func cloneAttempt(a *attempt.Attempt) *attempt.Attempt {
	clone := *a
	if a.Result != nil {
		result := *a.Result
		clone.Result = &result
	}
	return &clone
}

// Append implements attempt.Log.
func (l *AttemptLog) Append(_ context.Context, a *attempt.Attempt) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	k := attemptKey{student: a.StudentID, key: a.IdempotencyKey}
	if _, ok := l.byKey[k]; ok {
		return shared.WrapError("attempt", "Append", shared.ErrDuplicateAttempt, "idempotency key already stored", nil)
	}

	stored := cloneAttempt(a)
	l.attempts = append(l.attempts, stored)
	l.byKey[k] = stored
	return nil
}

// GetByIdempotencyKey implements attempt.Log.
func (l *AttemptLog) GetByIdempotencyKey(_ context.Context, studentID shared.StudentID, key shared.IdempotencyKey) (*attempt.Attempt, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	a, ok := l.byKey[attemptKey{student: studentID, key: key}]
	if !ok {
		return nil, shared.ErrAttemptNotFound
	}
	return cloneAttempt(a), nil
}

// ListByStudent implements attempt.Log.
func (l *AttemptLog) ListByStudent(_ context.Context, studentID shared.StudentID) ([]*attempt.Attempt, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]*attempt.Attempt, 0)
	for _, a := range l.attempts {
		if a.StudentID == studentID && a.State == attempt.StateCommitted {
			out = append(out, cloneAttempt(a))
		}
	}
	sortByReceived(out)
	return out, nil
}

// ListByStudentSkill implements attempt.Log.
func (l *AttemptLog) ListByStudentSkill(_ context.Context, studentID shared.StudentID, skillID shared.SkillID) ([]*attempt.Attempt, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]*attempt.Attempt, 0)
	for _, a := range l.attempts {
		if a.StudentID == studentID && a.SkillID == skillID && a.State == attempt.StateCommitted {
			out = append(out, cloneAttempt(a))
		}
	}
	sortByReceived(out)
	return out, nil
}

// ListByItemSince implements attempt.Log.
func (l *AttemptLog) ListByItemSince(_ context.Context, itemID shared.ItemID, since time.Time) ([]*attempt.Attempt, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]*attempt.Attempt, 0)
	for _, a := range l.attempts {
		if a.ItemID == itemID && a.State == attempt.StateCommitted && a.ReceivedAt.After(since) {
			out = append(out, cloneAttempt(a))
		}
	}
	sortByReceived(out)
	return out, nil
}

// CountByStudentSkill implements attempt.Log.
func (l *AttemptLog) CountByStudentSkill(_ context.Context, studentID shared.StudentID, skillID shared.SkillID) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n := 0
	for _, a := range l.attempts {
		if a.StudentID == studentID && a.SkillID == skillID && a.State == attempt.StateCommitted {
			n++
		}
	}
	return n, nil
}

// ListStudents implements attempt.Log.
func (l *AttemptLog) ListStudents(_ context.Context) ([]shared.StudentID, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	seen := make(map[shared.StudentID]struct{})
	out := make([]shared.StudentID, 0)
	for _, a := range l.attempts {
		if a.State != attempt.StateCommitted {
			continue
		}
		if _, ok := seen[a.StudentID]; ok {
			continue
		}
		seen[a.StudentID] = struct{}{}
		out = append(out, a.StudentID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func sortByReceived(attempts []*attempt.Attempt) {
	sort.Slice(attempts, func(i, j int) bool {
		return attempts[i].ReceivedAt.Before(attempts[j].ReceivedAt)
	})
}
