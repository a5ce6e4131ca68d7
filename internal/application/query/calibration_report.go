package query

import (
	"context"
	"sort"
	"time"

	"github.com/skillforge/mastery-engine/internal/domain/item"
)

// ══════════════════════════════════════════════════════════════════════════════
// CALIBRATION REPORT QUERY
// A content-maintenance view over the item pool: current 2PL
// parameters, evidence counts, and which fits to distrust.
// ══════════════════════════════════════════════════════════════════════════════

// CalibrationRow is the calibration state of one item.
type CalibrationRow struct {
	// ItemID is the item.
	ItemID string `json:"item_id"`

	// SkillID is the skill the item exercises.
	SkillID string `json:"skill_id"`

	// Difficulty is the current 2PL location parameter.
	Difficulty float64 `json:"difficulty"`

	// Discrimination is the current 2PL slope parameter.
	Discrimination float64 `json:"discrimination"`

	// ResponseCount is how many responses the fit used.
	ResponseCount int `json:"response_count"`

	// LowConfidence marks unfitted or non-converged parameters.
	LowConfidence bool `json:"low_confidence"`

	// Deprecated items are excluded from selection.
	Deprecated bool `json:"deprecated"`

	// CalibratedAt is when the parameters were last fitted. Zero when
	// the item still carries its registration defaults.
	CalibratedAt time.Time `json:"calibrated_at,omitempty"`
}

// CalibrationReport is the full item pool view.
type CalibrationReport struct {
	// Items lists every item, low-confidence fits first so the rows
	// needing attention lead the report.
	Items []CalibrationRow `json:"items"`

	// TotalItems is the pool size.
	TotalItems int `json:"total_items"`

	// LowConfidenceItems counts distrusted fits.
	LowConfidenceItems int `json:"low_confidence_items"`

	// GeneratedAt is when the report was built.
	GeneratedAt time.Time `json:"generated_at"`
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// CalibrationReportHandler handles calibration report queries.
type CalibrationReportHandler struct {
	items item.Repository
}

// NewCalibrationReportHandler creates a new CalibrationReportHandler.
func NewCalibrationReportHandler(items item.Repository) *CalibrationReportHandler {
	return &CalibrationReportHandler{items: items}
}

// Handle builds the report.
func (h *CalibrationReportHandler) Handle(ctx context.Context) (*CalibrationReport, error) {
	all, err := h.items.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	rows := make([]CalibrationRow, 0, len(all))
	lowConfidence := 0
	for _, it := range all {
		if it.Calibration.LowConfidence {
			lowConfidence++
		}
		rows = append(rows, CalibrationRow{
			ItemID:         it.ID.String(),
			SkillID:        it.SkillID.String(),
			Difficulty:     it.Calibration.Difficulty,
			Discrimination: it.Calibration.Discrimination,
			ResponseCount:  it.Calibration.ResponseCount,
			LowConfidence:  it.Calibration.LowConfidence,
			Deprecated:     it.Deprecated,
			CalibratedAt:   it.Calibration.CalibratedAt,
		})
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].LowConfidence != rows[j].LowConfidence {
			return rows[i].LowConfidence
		}
		return rows[i].ItemID < rows[j].ItemID
	})

	return &CalibrationReport{
		Items:              rows,
		TotalItems:         len(rows),
		LowConfidenceItems: lowConfidence,
		GeneratedAt:        time.Now().UTC(),
	}, nil
}
