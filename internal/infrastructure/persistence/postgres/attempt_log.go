package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/skillforge/mastery-engine/internal/domain/attempt"
	"github.com/skillforge/mastery-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ATTEMPT LOG IMPLEMENTATION
// Append-only: terminal attempts are inserted once and never touched
// again. Replay order is the received_at timestamp, which the pipeline
// assigns strictly increasing.
// ══════════════════════════════════════════════════════════════════════════════

// AttemptLog implements attempt.Log for PostgreSQL.
type AttemptLog struct {
	conn *Connection
}

// NewAttemptLog creates a new AttemptLog.
func NewAttemptLog(conn *Connection) *AttemptLog {
	return &AttemptLog{conn: conn}
}

const attemptColumns = `id, student_id, skill_id, item_id, item_content_hash,
	idempotency_key, raw_response, correctness, response_time_ms,
	state, reject_reason, received_at, committed_at, result`

// Append durably stores a terminal attempt.
func (l *AttemptLog) Append(ctx context.Context, a *attempt.Attempt) error {
	if !a.State.IsTerminal() {
		return shared.NewDomainError("attempt", "Append", shared.ErrInvalidState,
			fmt.Sprintf("cannot append attempt in state %s", a.State))
	}

	var resultJSON []byte
	if a.Result != nil {
		data, err := json.Marshal(a.Result)
		if err != nil {
			return fmt.Errorf("failed to marshal attempt result: %w", err)
		}
		resultJSON = data
	}

	query := `
		INSERT INTO attempts (` + attemptColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err := l.conn.Exec(ctx, query,
		a.ID,
		string(a.StudentID),
		string(a.SkillID),
		string(a.ItemID),
		a.ItemContentHash,
		string(a.IdempotencyKey),
		a.RawResponse,
		float64(a.Correctness),
		a.ResponseTime.Milliseconds(),
		string(a.State),
		a.RejectReason,
		a.ReceivedAt,
		nullableTime(a.CommittedAt),
		resultJSON,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.ErrDuplicateAttempt
		}
		return fmt.Errorf("failed to append attempt: %w", err)
	}

	return nil
}

// GetByIdempotencyKey returns the stored attempt for a (student, key) pair.
func (l *AttemptLog) GetByIdempotencyKey(ctx context.Context, studentID shared.StudentID, key shared.IdempotencyKey) (*attempt.Attempt, error) {
	query := `
		SELECT ` + attemptColumns + `
		FROM attempts
		WHERE student_id = $1 AND idempotency_key = $2
	`

	row := l.conn.QueryRow(ctx, query, string(studentID), string(key))
	a, err := scanAttempt(row)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrAttemptNotFound
		}
		return nil, fmt.Errorf("failed to get attempt: %w", err)
	}
	return a, nil
}

// ListByStudent returns the student's committed attempts in replay order.
func (l *AttemptLog) ListByStudent(ctx context.Context, studentID shared.StudentID) ([]*attempt.Attempt, error) {
	query := `
		SELECT ` + attemptColumns + `
		FROM attempts
		WHERE student_id = $1 AND state = 'committed'
		ORDER BY received_at
	`
	return l.queryAttempts(ctx, query, string(studentID))
}

// ListByStudentSkill returns the student's committed attempts for one
// skill in replay order.
func (l *AttemptLog) ListByStudentSkill(ctx context.Context, studentID shared.StudentID, skillID shared.SkillID) ([]*attempt.Attempt, error) {
	query := `
		SELECT ` + attemptColumns + `
		FROM attempts
		WHERE student_id = $1 AND skill_id = $2 AND state = 'committed'
		ORDER BY received_at
	`
	return l.queryAttempts(ctx, query, string(studentID), string(skillID))
}

// ListByItemSince returns committed attempts against an item received
// after the given time.
func (l *AttemptLog) ListByItemSince(ctx context.Context, itemID shared.ItemID, since time.Time) ([]*attempt.Attempt, error) {
	query := `
		SELECT ` + attemptColumns + `
		FROM attempts
		WHERE item_id = $1 AND received_at > $2 AND state = 'committed'
		ORDER BY received_at
	`
	return l.queryAttempts(ctx, query, string(itemID), since)
}

// CountByStudentSkill returns the number of committed attempts for a
// (student, skill) pair.
func (l *AttemptLog) CountByStudentSkill(ctx context.Context, studentID shared.StudentID, skillID shared.SkillID) (int, error) {
	var count int
	err := l.conn.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM attempts
		WHERE student_id = $1 AND skill_id = $2 AND state = 'committed'
	`, string(studentID), string(skillID)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count attempts: %w", err)
	}
	return count, nil
}

// ListStudents returns every student with at least one committed attempt.
func (l *AttemptLog) ListStudents(ctx context.Context) ([]shared.StudentID, error) {
	rows, err := l.conn.Query(ctx, `
		SELECT DISTINCT student_id
		FROM attempts
		WHERE state = 'committed'
		ORDER BY student_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list students: %w", err)
	}
	defer rows.Close()

	var students []shared.StudentID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan student id: %w", err)
		}
		students = append(students, shared.StudentID(id))
	}
	return students, rows.Err()
}

// ─────────────────────────────────────────────────────────────────────────────
// Scanning helpers
// ─────────────────────────────────────────────────────────────────────────────

func (l *AttemptLog) queryAttempts(ctx context.Context, query string, args ...interface{}) ([]*attempt.Attempt, error) {
	rows, err := l.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query attempts: %w", err)
	}
	defer rows.Close()

	var attempts []*attempt.Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan attempt row: %w", err)
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

func scanAttempt(row rowScanner) (*attempt.Attempt, error) {
	var (
		a              attempt.Attempt
		studentID      string
		skillID        string
		itemID         string
		idempotencyKey string
		correctness    float64
		responseTimeMs int64
		state          string
		committedAt    *time.Time
		resultJSON     []byte
	)

	err := row.Scan(
		&a.ID,
		&studentID,
		&skillID,
		&itemID,
		&a.ItemContentHash,
		&idempotencyKey,
		&a.RawResponse,
		&correctness,
		&responseTimeMs,
		&state,
		&a.RejectReason,
		&a.ReceivedAt,
		&committedAt,
		&resultJSON,
	)
	if err != nil {
		return nil, err
	}

	a.StudentID = shared.StudentID(studentID)
	a.SkillID = shared.SkillID(skillID)
	a.ItemID = shared.ItemID(itemID)
	a.IdempotencyKey = shared.IdempotencyKey(idempotencyKey)
	a.Correctness = shared.Correctness(correctness)
	a.ResponseTime = time.Duration(responseTimeMs) * time.Millisecond
	a.State = attempt.State(state)
	if committedAt != nil {
		a.CommittedAt = *committedAt
	}
	if len(resultJSON) > 0 {
		var result attempt.CommittedResult
		if err := json.Unmarshal(resultJSON, &result); err != nil {
			return nil, fmt.Errorf("failed to unmarshal attempt result: %w", err)
		}
		a.Result = &result
	}
	return &a, nil
}
