package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/skillforge/mastery-engine/internal/domain/profile"
	"github.com/skillforge/mastery-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROFILE STORE IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// ProfileStore implements profile.Store for PostgreSQL.
type ProfileStore struct {
	conn *Connection
}

// NewProfileStore creates a new ProfileStore.
func NewProfileStore(conn *Connection) *ProfileStore {
	return &ProfileStore{conn: conn}
}

const profileColumns = `student_id, skill_id, mastery, confidence, attempts,
	last_attempt_at, updated_at`

// Get returns the profile for a (student, skill) pair.
func (s *ProfileStore) Get(ctx context.Context, studentID shared.StudentID, skillID shared.SkillID) (*profile.MasteryProfile, error) {
	query := `
		SELECT ` + profileColumns + `
		FROM mastery_profiles
		WHERE student_id = $1 AND skill_id = $2
	`

	row := s.conn.QueryRow(ctx, query, string(studentID), string(skillID))
	p, err := scanProfile(row)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrProfileNotFound
		}
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return p, nil
}

// GetByStudent returns all of a student's profiles.
func (s *ProfileStore) GetByStudent(ctx context.Context, studentID shared.StudentID) ([]*profile.MasteryProfile, error) {
	query := `
		SELECT ` + profileColumns + `
		FROM mastery_profiles
		WHERE student_id = $1
		ORDER BY skill_id
	`

	rows, err := s.conn.Query(ctx, query, string(studentID))
	if err != nil {
		return nil, fmt.Errorf("failed to query profiles: %w", err)
	}
	defer rows.Close()

	var profiles []*profile.MasteryProfile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan profile row: %w", err)
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

// Upsert atomically writes the profile. The conditional update refuses
// stale writes in the database itself, so two pipeline instances racing
// on the same pair cannot roll mastery backwards.
func (s *ProfileStore) Upsert(ctx context.Context, p *profile.MasteryProfile) error {
	query := `
		INSERT INTO mastery_profiles (` + profileColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (student_id, skill_id) DO UPDATE SET
			mastery = EXCLUDED.mastery,
			confidence = EXCLUDED.confidence,
			attempts = EXCLUDED.attempts,
			last_attempt_at = EXCLUDED.last_attempt_at,
			updated_at = EXCLUDED.updated_at
		WHERE mastery_profiles.last_attempt_at IS NULL
		   OR EXCLUDED.last_attempt_at > mastery_profiles.last_attempt_at
	`

	result, err := s.conn.Exec(ctx, query,
		string(p.StudentID),
		string(p.SkillID),
		p.Mastery,
		p.Confidence,
		p.Attempts,
		nullableTime(p.LastAttemptAt),
		p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert profile: %w", err)
	}
	if result.RowsAffected() == 0 {
		return shared.ErrTimestampOrder
	}
	return nil
}

// Replace overwrites the profile unconditionally. Replay rebuilds the
// row from the full log, so no ordering check applies.
func (s *ProfileStore) Replace(ctx context.Context, p *profile.MasteryProfile) error {
	query := `
		INSERT INTO mastery_profiles (` + profileColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (student_id, skill_id) DO UPDATE SET
			mastery = EXCLUDED.mastery,
			confidence = EXCLUDED.confidence,
			attempts = EXCLUDED.attempts,
			last_attempt_at = EXCLUDED.last_attempt_at,
			updated_at = EXCLUDED.updated_at
	`

	_, err := s.conn.Exec(ctx, query,
		string(p.StudentID),
		string(p.SkillID),
		p.Mastery,
		p.Confidence,
		p.Attempts,
		nullableTime(p.LastAttemptAt),
		p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to replace profile: %w", err)
	}
	return nil
}

// Delete removes a profile.
func (s *ProfileStore) Delete(ctx context.Context, studentID shared.StudentID, skillID shared.SkillID) error {
	result, err := s.conn.Exec(ctx,
		`DELETE FROM mastery_profiles WHERE student_id = $1 AND skill_id = $2`,
		string(studentID), string(skillID),
	)
	if err != nil {
		return fmt.Errorf("failed to delete profile: %w", err)
	}
	if result.RowsAffected() == 0 {
		return shared.ErrProfileNotFound
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Scanning helpers
// ─────────────────────────────────────────────────────────────────────────────

func scanProfile(row rowScanner) (*profile.MasteryProfile, error) {
	var (
		p             profile.MasteryProfile
		studentID     string
		skillID       string
		lastAttemptAt *time.Time
	)

	err := row.Scan(
		&studentID,
		&skillID,
		&p.Mastery,
		&p.Confidence,
		&p.Attempts,
		&lastAttemptAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.StudentID = shared.StudentID(studentID)
	p.SkillID = shared.SkillID(skillID)
	if lastAttemptAt != nil {
		p.LastAttemptAt = *lastAttemptAt
	}
	return &p, nil
}
