package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/skillforge/mastery-engine/internal/domain/item"
	"github.com/skillforge/mastery-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ITEM REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// ItemRepository implements item.Repository for PostgreSQL.
type ItemRepository struct {
	conn *Connection
}

// NewItemRepository creates a new ItemRepository.
func NewItemRepository(conn *Connection) *ItemRepository {
	return &ItemRepository{conn: conn}
}

const itemColumns = `id, skill_id, answer_key, content_hash,
	difficulty, discrimination, response_count, low_confidence, calibrated_at,
	deprecated, created_at, updated_at`

// Create registers a new item.
func (r *ItemRepository) Create(ctx context.Context, it *item.Item) error {
	query := `
		INSERT INTO items (
			id, skill_id, answer_key, content_hash,
			difficulty, discrimination, response_count, low_confidence, calibrated_at,
			deprecated, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := r.conn.Exec(ctx, query,
		string(it.ID),
		string(it.SkillID),
		it.AnswerKey,
		it.ContentHash,
		it.Calibration.Difficulty,
		it.Calibration.Discrimination,
		it.Calibration.ResponseCount,
		it.Calibration.LowConfidence,
		nullableTime(it.Calibration.CalibratedAt),
		it.Deprecated,
		it.CreatedAt,
		it.UpdatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.ErrAlreadyExists
		}
		return fmt.Errorf("failed to create item: %w", err)
	}

	return nil
}

// GetByID returns an item by ID.
func (r *ItemRepository) GetByID(ctx context.Context, id shared.ItemID) (*item.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE id = $1`

	row := r.conn.QueryRow(ctx, query, string(id))
	it, err := scanItem(row)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrItemNotFound
		}
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	return it, nil
}

// GetBySkill returns all items for a skill, including deprecated ones.
func (r *ItemRepository) GetBySkill(ctx context.Context, skillID shared.SkillID) ([]*item.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE skill_id = $1 ORDER BY id`
	return r.queryItems(ctx, query, string(skillID))
}

// GetAll returns every registered item.
func (r *ItemRepository) GetAll(ctx context.Context) ([]*item.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items ORDER BY id`
	return r.queryItems(ctx, query)
}

// Update replaces an item's mutable fields.
func (r *ItemRepository) Update(ctx context.Context, it *item.Item) error {
	query := `
		UPDATE items SET
			skill_id = $1,
			answer_key = $2,
			content_hash = $3,
			difficulty = $4,
			discrimination = $5,
			response_count = $6,
			low_confidence = $7,
			calibrated_at = $8,
			deprecated = $9,
			updated_at = $10
		WHERE id = $11
	`

	result, err := r.conn.Exec(ctx, query,
		string(it.SkillID),
		it.AnswerKey,
		it.ContentHash,
		it.Calibration.Difficulty,
		it.Calibration.Discrimination,
		it.Calibration.ResponseCount,
		it.Calibration.LowConfidence,
		nullableTime(it.Calibration.CalibratedAt),
		it.Deprecated,
		time.Now().UTC(),
		string(it.ID),
	)
	if err != nil {
		return fmt.Errorf("failed to update item: %w", err)
	}
	if result.RowsAffected() == 0 {
		return shared.ErrItemNotFound
	}
	return nil
}

// UpdateCalibration persists a new 2PL fit without touching the rest
// of the row.
func (r *ItemRepository) UpdateCalibration(ctx context.Context, id shared.ItemID, c item.Calibration) error {
	query := `
		UPDATE items SET
			difficulty = $1,
			discrimination = $2,
			response_count = $3,
			low_confidence = $4,
			calibrated_at = $5,
			updated_at = $6
		WHERE id = $7
	`

	result, err := r.conn.Exec(ctx, query,
		c.Difficulty,
		c.Discrimination,
		c.ResponseCount,
		c.LowConfidence,
		nullableTime(c.CalibratedAt),
		time.Now().UTC(),
		string(id),
	)
	if err != nil {
		return fmt.Errorf("failed to update calibration: %w", err)
	}
	if result.RowsAffected() == 0 {
		return shared.ErrItemNotFound
	}
	return nil
}

// Exists checks whether an item is registered.
func (r *ItemRepository) Exists(ctx context.Context, id shared.ItemID) (bool, error) {
	var exists bool
	err := r.conn.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM items WHERE id = $1)`, string(id),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check item existence: %w", err)
	}
	return exists, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Scanning helpers
// ─────────────────────────────────────────────────────────────────────────────

func (r *ItemRepository) queryItems(ctx context.Context, query string, args ...interface{}) ([]*item.Item, error) {
	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer rows.Close()

	var items []*item.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item row: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func scanItem(row rowScanner) (*item.Item, error) {
	var (
		it           item.Item
		id           string
		skillID      string
		calibratedAt *time.Time
	)

	err := row.Scan(
		&id,
		&skillID,
		&it.AnswerKey,
		&it.ContentHash,
		&it.Calibration.Difficulty,
		&it.Calibration.Discrimination,
		&it.Calibration.ResponseCount,
		&it.Calibration.LowConfidence,
		&calibratedAt,
		&it.Deprecated,
		&it.CreatedAt,
		&it.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	it.ID = shared.ItemID(id)
	it.SkillID = shared.SkillID(skillID)
	if calibratedAt != nil {
		it.Calibration.CalibratedAt = *calibratedAt
	}
	return &it, nil
}

// nullableTime maps the zero time to SQL NULL.
func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
