package command

import (
	"context"
	"time"

	"github.com/skillforge/mastery-engine/internal/calibration"
)

// ══════════════════════════════════════════════════════════════════════════════
// CALIBRATE ITEMS COMMAND
// Refits 2PL parameters for every item from the attempt log. Normally
// driven by the scheduler; exposed as a command so operators can force
// a pass after a content import.
// ══════════════════════════════════════════════════════════════════════════════

// CalibrateItemsResult summarizes one calibration pass.
type CalibrateItemsResult struct {
	// ItemsFitted is how many items got fresh parameters.
	ItemsFitted int

	// ItemsSkipped is how many items lacked enough responses.
	ItemsSkipped int

	// ItemsFlagged is how many items kept old parameters but were
	// marked low-confidence.
	ItemsFlagged int

	// Duration is how long the pass took.
	Duration time.Duration
}

// CalibrateItemsHandler handles calibration passes.
type CalibrateItemsHandler struct {
	calibrator *calibration.Calibrator
}

// NewCalibrateItemsHandler creates a new CalibrateItemsHandler.
func NewCalibrateItemsHandler(c *calibration.Calibrator) *CalibrateItemsHandler {
	return &CalibrateItemsHandler{calibrator: c}
}

// Handle executes one full calibration pass.
func (h *CalibrateItemsHandler) Handle(ctx context.Context) (*CalibrateItemsResult, error) {
	run, err := h.calibrator.CalibrateAll(ctx)
	if err != nil {
		return nil, err
	}
	return &CalibrateItemsResult{
		ItemsFitted:  run.ItemsFitted,
		ItemsSkipped: run.ItemsSkipped,
		ItemsFlagged: run.ItemsFlagged,
		Duration:     run.Duration,
	}, nil
}
