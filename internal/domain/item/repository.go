package item

import (
	"context"
	"time"

	"github.com/skillforge/mastery-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// Implementations live in infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// Repository defines storage operations for items.
type Repository interface {
	// Create registers a new item.
	// Returns shared.ErrAlreadyExists if the ID is taken.
	Create(ctx context.Context, item *Item) error

	// GetByID returns an item by ID.
	// Returns shared.ErrItemNotFound if absent.
	GetByID(ctx context.Context, id shared.ItemID) (*Item, error)

	// GetBySkill returns all items for a skill, including deprecated
	// ones. Callers filter with IsSelectable.
	GetBySkill(ctx context.Context, skillID shared.SkillID) ([]*Item, error)

	// GetAll returns every registered item.
	GetAll(ctx context.Context) ([]*Item, error)

	// Update replaces an item's mutable fields.
	// Returns shared.ErrItemNotFound if absent.
	Update(ctx context.Context, item *Item) error

	// UpdateCalibration persists a new 2PL fit for the item.
	UpdateCalibration(ctx context.Context, id shared.ItemID, c Calibration) error

	// Exists checks whether an item is registered.
	Exists(ctx context.Context, id shared.ItemID) (bool, error)
}

// ══════════════════════════════════════════════════════════════════════════════
// CONTENT SERVICE
// The engine stores item metadata only; the renderable content body
// lives in an upstream service reachable over this interface.
// ══════════════════════════════════════════════════════════════════════════════

// Content is the renderable body of an item.
type Content struct {
	ItemID      shared.ItemID
	Prompt      string
	ContentHash string
}

// ContentService fetches item content from the upstream content system.
type ContentService interface {
	// GetContent returns the content body for an item.
	GetContent(ctx context.Context, id shared.ItemID) (*Content, error)
}

// ══════════════════════════════════════════════════════════════════════════════
// EXPOSURE TRACKER
// Records when each student last saw each item, for the
// least-recently-shown tie-break during selection.
// ══════════════════════════════════════════════════════════════════════════════

// ExposureTracker tracks per-student item exposure recency.
type ExposureTracker interface {
	// RecordExposure notes that the student was shown the item.
	RecordExposure(ctx context.Context, studentID shared.StudentID, itemID shared.ItemID, at time.Time) error

	// LastExposure returns when the student last saw the item.
	// The zero time means never.
	LastExposure(ctx context.Context, studentID shared.StudentID, itemID shared.ItemID) (time.Time, error)

	// LastExposures returns exposure times for a batch of items.
	// Items never shown map to the zero time.
	LastExposures(ctx context.Context, studentID shared.StudentID, itemIDs []shared.ItemID) (map[shared.ItemID]time.Time, error)
}
