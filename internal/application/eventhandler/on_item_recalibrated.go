package eventhandler

import (
	"math"

	"github.com/skillforge/mastery-engine/internal/domain/shared"
	"github.com/skillforge/mastery-engine/pkg/logger"
)

// difficultyShiftAlert is the parameter move that warrants a closer
// look at the item: shifts this large usually mean the content changed
// meaning, not that the population drifted.
const difficultyShiftAlert = 0.3

// ══════════════════════════════════════════════════════════════════════════════
// ON ITEM RECALIBRATED HANDLER
// Audit trail for calibration: every refit is logged, large parameter
// shifts are escalated so content maintainers review the item.
// ══════════════════════════════════════════════════════════════════════════════

// OnItemRecalibratedHandler logs calibration outcomes.
type OnItemRecalibratedHandler struct {
	log *logger.Logger
}

// NewOnItemRecalibratedHandler creates a new OnItemRecalibratedHandler.
func NewOnItemRecalibratedHandler(log *logger.Logger) *OnItemRecalibratedHandler {
	if log == nil {
		log = logger.Default()
	}
	return &OnItemRecalibratedHandler{
		log: log.With(logger.Component("on_item_recalibrated")),
	}
}

// HandleRecalibrated logs one item refit. Implements
// shared.EventHandler.
func (h *OnItemRecalibratedHandler) HandleRecalibrated(event shared.Event) error {
	e, ok := event.(shared.ItemRecalibratedEvent)
	if !ok {
		h.log.Warn("received unexpected event",
			logger.String("event_type", string(event.EventType())))
		return nil
	}

	shift := math.Abs(e.NewDifficulty - e.OldDifficulty)
	fields := []logger.Field{
		logger.ItemID(e.ItemID),
		logger.Float64("old_difficulty", e.OldDifficulty),
		logger.Float64("new_difficulty", e.NewDifficulty),
		logger.Float64("discrimination", e.NewDiscrimination),
		logger.Int("responses", e.ResponseCount),
		logger.Bool("low_confidence", e.LowConfidence),
	}

	if shift >= difficultyShiftAlert {
		h.log.Warn("item difficulty shifted sharply", fields...)
		return nil
	}
	h.log.Info("item recalibrated", fields...)
	return nil
}

// HandleCalibrationCompleted logs the run summary. Implements
// shared.EventHandler.
func (h *OnItemRecalibratedHandler) HandleCalibrationCompleted(event shared.Event) error {
	e, ok := event.(shared.CalibrationCompletedEvent)
	if !ok {
		h.log.Warn("received unexpected event",
			logger.String("event_type", string(event.EventType())))
		return nil
	}

	h.log.Info("calibration run completed",
		logger.String("run_id", e.AggregateID()),
		logger.Int("fitted", e.ItemsFitted),
		logger.Int("skipped", e.ItemsSkipped),
		logger.Int("flagged", e.ItemsFlagged),
		logger.Duration("duration", e.Duration),
	)
	return nil
}
