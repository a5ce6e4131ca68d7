package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/skillforge/mastery-engine/internal/domain/item"
	"github.com/skillforge/mastery-engine/internal/domain/shared"
	"github.com/skillforge/mastery-engine/internal/selector"
	"github.com/skillforge/mastery-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// NEXT ITEM QUERY
// Runs the selection policy for a student and records the exposure so
// the recency tie-break sees it on the next call.
// ══════════════════════════════════════════════════════════════════════════════

// NextItemQuery asks for the item a student should practice next.
type NextItemQuery struct {
	// StudentID is the student asking for work.
	StudentID string
}

// Validate validates the query.
func (q NextItemQuery) Validate() error {
	if q.StudentID == "" {
		return errors.New("next_item: student_id is required")
	}
	return nil
}

// NextItemView is the served item.
type NextItemView struct {
	// ItemID is the selected item.
	ItemID string `json:"item_id"`

	// SkillID is the skill the item exercises.
	SkillID string `json:"skill_id"`

	// Prompt is the renderable question text, empty when the content
	// service was unreachable.
	Prompt string `json:"prompt,omitempty"`

	// ContentHash versions the content the student will see.
	ContentHash string `json:"content_hash"`

	// Mastery is the student's current estimate on the skill.
	Mastery float64 `json:"mastery"`

	// PredictedSuccess is the 2PL success probability for this student
	// on this item.
	PredictedSuccess float64 `json:"predicted_success"`

	// Difficulty is the item's current 2PL location parameter.
	Difficulty float64 `json:"difficulty"`
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// NextItemHandler handles the NextItemQuery.
type NextItemHandler struct {
	selector  *selector.Selector
	exposures item.ExposureTracker
	content   item.ContentService
	log       *logger.Logger
}

// NewNextItemHandler creates a new NextItemHandler. The content service
// is optional; without it the view carries metadata only.
func NewNextItemHandler(sel *selector.Selector, exposures item.ExposureTracker, content item.ContentService, log *logger.Logger) *NextItemHandler {
	if log == nil {
		log = logger.Default()
	}
	return &NextItemHandler{
		selector:  sel,
		exposures: exposures,
		content:   content,
		log:       log.With(logger.Component("next_item")),
	}
}

// Handle executes the next item query. Returns
// shared.ErrNoEligibleItem when nothing is selectable for the student.
func (h *NextItemHandler) Handle(ctx context.Context, q NextItemQuery) (*NextItemView, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("next_item: validation failed: %w", err)
	}

	studentID := shared.StudentID(q.StudentID)
	choice, err := h.selector.NextItem(ctx, studentID)
	if err != nil {
		return nil, err
	}

	view := &NextItemView{
		ItemID:           choice.Item.ID.String(),
		SkillID:          choice.SkillID.String(),
		ContentHash:      choice.Item.ContentHash,
		Mastery:          choice.Mastery,
		PredictedSuccess: choice.PredictedSuccess,
		Difficulty:       choice.Item.Calibration.Difficulty,
	}

	if h.content != nil {
		body, err := h.content.GetContent(ctx, choice.Item.ID)
		if err != nil {
			// Serving metadata without a prompt beats serving nothing;
			// the client can fetch content itself.
			h.log.Warn("content fetch failed",
				logger.ItemID(view.ItemID), logger.Err(err))
		} else {
			view.Prompt = body.Prompt
		}
	}

	if h.exposures != nil {
		if err := h.exposures.RecordExposure(ctx, studentID, choice.Item.ID, time.Now().UTC()); err != nil {
			h.log.Warn("exposure record failed",
				logger.StudentID(q.StudentID), logger.Err(err))
		}
	}

	return view, nil
}
