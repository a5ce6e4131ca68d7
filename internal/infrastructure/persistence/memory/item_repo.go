package memory

import (
	"context"
	"sync"
	"time"

	"github.com/skillforge/mastery-engine/internal/domain/item"
	"github.com/skillforge/mastery-engine/internal/domain/shared"
)

// ItemRepository is an in-memory item.Repository.
type ItemRepository struct {
	mu    sync.RWMutex
	items map[shared.ItemID]*item.Item
}

// NewItemRepository creates an empty repository.
func NewItemRepository() *ItemRepository {
	return &ItemRepository{items: make(map[shared.ItemID]*item.Item)}
}

// Create implements item.Repository.
func (r *ItemRepository) Create(_ context.Context, it *item.Item) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.items[it.ID]; ok {
		return shared.WrapError("item", "Create", shared.ErrAlreadyExists, "item already registered", nil)
	}
	r.items[it.ID] = it.Clone()
	return nil
}

// GetByID implements item.Repository.
func (r *ItemRepository) GetByID(_ context.Context, id shared.ItemID) (*item.Item, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	it, ok := r.items[id]
	if !ok {
		return nil, shared.ErrItemNotFound
	}
	return it.Clone(), nil
}

// GetBySkill implements item.Repository.
func (r *ItemRepository) GetBySkill(_ context.Context, skillID shared.SkillID) ([]*item.Item, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*item.Item, 0)
	for _, it := range r.items {
		if it.SkillID == skillID {
			out = append(out, it.Clone())
		}
	}
	return out, nil
}

// GetAll implements item.Repository.
func (r *ItemRepository) GetAll(_ context.Context) ([]*item.Item, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*item.Item, 0, len(r.items))
	for _, it := range r.items {
		out = append(out, it.Clone())
	}
	return out, nil
}

// Update implements item.Repository.
func (r *ItemRepository) Update(_ context.Context, it *item.Item) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.items[it.ID]; !ok {
		return shared.ErrItemNotFound
	}
	r.items[it.ID] = it.Clone()
	return nil
}

// UpdateCalibration implements item.Repository.
func (r *ItemRepository) UpdateCalibration(_ context.Context, id shared.ItemID, c item.Calibration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	it, ok := r.items[id]
	if !ok {
		return shared.ErrItemNotFound
	}
	it.Calibration = c
	it.UpdatedAt = time.Now().UTC()
	return nil
}

// Exists implements item.Repository.
func (r *ItemRepository) Exists(_ context.Context, id shared.ItemID) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.items[id]
	return ok, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// Exposure tracker
// ═══════════════════════════════════════════════════════════════════════════

// ExposureTracker is an in-memory item.ExposureTracker. The Redis
// implementation replaces it in multi-instance deployments.
type ExposureTracker struct {
	mu   sync.RWMutex
	seen map[shared.StudentID]map[shared.ItemID]time.Time
}

// NewExposureTracker creates an empty tracker.
func NewExposureTracker() *ExposureTracker {
	return &ExposureTracker{seen: make(map[shared.StudentID]map[shared.ItemID]time.Time)}
}

// RecordExposure implements item.ExposureTracker.
func (t *ExposureTracker) RecordExposure(_ context.Context, studentID shared.StudentID, itemID shared.ItemID, at time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	byItem, ok := t.seen[studentID]
	if !ok {
		byItem = make(map[shared.ItemID]time.Time)
		t.seen[studentID] = byItem
	}
	byItem[itemID] = at
	return nil
}

// LastExposure implements item.ExposureTracker.
func (t *ExposureTracker) LastExposure(_ context.Context, studentID shared.StudentID, itemID shared.ItemID) (time.Time, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.seen[studentID][itemID], nil
}

// LastExposures implements item.ExposureTracker.
func (t *ExposureTracker) LastExposures(_ context.Context, studentID shared.StudentID, itemIDs []shared.ItemID) (map[shared.ItemID]time.Time, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[shared.ItemID]time.Time, len(itemIDs))
	for _, id := range itemIDs {
		out[id] = t.seen[studentID][id]
	}
	return out, nil
}
