package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/skillforge/mastery-engine/internal/domain/attempt"
	"github.com/skillforge/mastery-engine/internal/domain/profile"
	"github.com/skillforge/mastery-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// TRANSACTIONAL COMMITTER
// The commit point of the pipeline: the attempt row and the profile row
// land in one transaction or not at all.
// ══════════════════════════════════════════════════════════════════════════════

// Committer persists an attempt and its profile update atomically.
type Committer struct {
	conn *Connection
}

// NewCommitter creates a new Committer.
func NewCommitter(conn *Connection) *Committer {
	return &Committer{conn: conn}
}

// Commit writes both rows in a single transaction. The profile write
// carries the same stale-timestamp guard as the store's Upsert; when it
// refuses, the whole transaction rolls back and the attempt never
// reaches the log.
func (c *Committer) Commit(ctx context.Context, a *attempt.Attempt, p *profile.MasteryProfile) error {
	if !a.State.IsTerminal() {
		return shared.NewDomainError("attempt", "Commit", shared.ErrInvalidState,
			fmt.Sprintf("cannot commit attempt in state %s", a.State))
	}

	var resultJSON []byte
	if a.Result != nil {
		data, err := json.Marshal(a.Result)
		if err != nil {
			return fmt.Errorf("failed to marshal attempt result: %w", err)
		}
		resultJSON = data
	}

	return c.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		result, err := tx.Exec(ctx, `
			INSERT INTO mastery_profiles (`+profileColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (student_id, skill_id) DO UPDATE SET
				mastery = EXCLUDED.mastery,
				confidence = EXCLUDED.confidence,
				attempts = EXCLUDED.attempts,
				last_attempt_at = EXCLUDED.last_attempt_at,
				updated_at = EXCLUDED.updated_at
			WHERE mastery_profiles.last_attempt_at IS NULL
			   OR EXCLUDED.last_attempt_at > mastery_profiles.last_attempt_at
		`,
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

		_, err = tx.Exec(ctx, `
			INSERT INTO attempts (`+attemptColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		`,
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
	})
}
