package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/skillforge/mastery-engine/internal/domain/shared"
	"github.com/skillforge/mastery-engine/internal/domain/skill"
)

// ══════════════════════════════════════════════════════════════════════════════
// SKILL REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// SkillRepository implements skill.Repository for PostgreSQL.
type SkillRepository struct {
	conn *Connection
}

// NewSkillRepository creates a new SkillRepository.
func NewSkillRepository(conn *Connection) *SkillRepository {
	return &SkillRepository{conn: conn}
}

const skillColumns = `id, name, description, prerequisites,
	learn_rate, slip_rate, guess_rate, forget_rate, prior,
	created_at, updated_at`

// Create registers a new skill.
func (r *SkillRepository) Create(ctx context.Context, s *skill.Skill) error {
	query := `
		INSERT INTO skills (
			id, name, description, prerequisites,
			learn_rate, slip_rate, guess_rate, forget_rate, prior,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := r.conn.Exec(ctx, query,
		string(s.ID),
		s.Name,
		s.Description,
		prerequisiteStrings(s.Prerequisites),
		s.Params.Learn,
		s.Params.Slip,
		s.Params.Guess,
		s.Params.Forget,
		s.Params.Prior,
		s.CreatedAt,
		s.UpdatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.ErrAlreadyExists
		}
		return fmt.Errorf("failed to create skill: %w", err)
	}

	return nil
}

// GetByID returns a skill by ID.
func (r *SkillRepository) GetByID(ctx context.Context, id shared.SkillID) (*skill.Skill, error) {
	query := `SELECT ` + skillColumns + ` FROM skills WHERE id = $1`

	row := r.conn.QueryRow(ctx, query, string(id))
	s, err := scanSkill(row)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrSkillNotFound
		}
		return nil, fmt.Errorf("failed to get skill: %w", err)
	}
	return s, nil
}

// GetAll returns every registered skill.
func (r *SkillRepository) GetAll(ctx context.Context) ([]*skill.Skill, error) {
	query := `SELECT ` + skillColumns + ` FROM skills ORDER BY id`

	rows, err := r.conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query skills: %w", err)
	}
	defer rows.Close()

	var skills []*skill.Skill
	for rows.Next() {
		s, err := scanSkill(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan skill row: %w", err)
		}
		skills = append(skills, s)
	}
	return skills, rows.Err()
}

// Update replaces a skill's mutable fields.
func (r *SkillRepository) Update(ctx context.Context, s *skill.Skill) error {
	query := `
		UPDATE skills SET
			name = $1,
			description = $2,
			prerequisites = $3,
			learn_rate = $4,
			slip_rate = $5,
			guess_rate = $6,
			forget_rate = $7,
			prior = $8,
			updated_at = $9
		WHERE id = $10
	`

	result, err := r.conn.Exec(ctx, query,
		s.Name,
		s.Description,
		prerequisiteStrings(s.Prerequisites),
		s.Params.Learn,
		s.Params.Slip,
		s.Params.Guess,
		s.Params.Forget,
		s.Params.Prior,
		time.Now().UTC(),
		string(s.ID),
	)
	if err != nil {
		return fmt.Errorf("failed to update skill: %w", err)
	}
	if result.RowsAffected() == 0 {
		return shared.ErrSkillNotFound
	}
	return nil
}

// Exists checks whether a skill is registered.
func (r *SkillRepository) Exists(ctx context.Context, id shared.SkillID) (bool, error) {
	var exists bool
	err := r.conn.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM skills WHERE id = $1)`, string(id),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check skill existence: %w", err)
	}
	return exists, nil
}

// Count returns the number of registered skills.
func (r *SkillRepository) Count(ctx context.Context) (int, error) {
	var count int
	err := r.conn.QueryRow(ctx, `SELECT COUNT(*) FROM skills`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count skills: %w", err)
	}
	return count, nil
}

// LoadGraph reads all skills and builds the validated prerequisite DAG.
func (r *SkillRepository) LoadGraph(ctx context.Context) (*skill.Graph, error) {
	skills, err := r.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	return skill.NewGraph(skills)
}

// ─────────────────────────────────────────────────────────────────────────────
// Scanning helpers
// ─────────────────────────────────────────────────────────────────────────────

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSkill(row rowScanner) (*skill.Skill, error) {
	var (
		s       skill.Skill
		id      string
		prereqs []string
	)

	err := row.Scan(
		&id,
		&s.Name,
		&s.Description,
		&prereqs,
		&s.Params.Learn,
		&s.Params.Slip,
		&s.Params.Guess,
		&s.Params.Forget,
		&s.Params.Prior,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	s.ID = shared.SkillID(id)
	s.Prerequisites = make([]shared.SkillID, len(prereqs))
	for i, p := range prereqs {
		s.Prerequisites[i] = shared.SkillID(p)
	}
	return &s, nil
}

func prerequisiteStrings(ids []shared.SkillID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}
