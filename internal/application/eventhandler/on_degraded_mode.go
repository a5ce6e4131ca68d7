package eventhandler

import (
	"sync"
	"time"

	"github.com/skillforge/mastery-engine/internal/domain/shared"
	"github.com/skillforge/mastery-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// ON DEGRADED MODE HANDLER
// Turns degraded-mode transitions into operator-visible alerts and
// tracks how long the engine has been running without the sequence
// model.
// ══════════════════════════════════════════════════════════════════════════════

// OnDegradedModeHandler alerts on degraded mode transitions.
type OnDegradedModeHandler struct {
	log *logger.Logger

	mu        sync.Mutex
	enteredAt map[string]time.Time
}

// NewOnDegradedModeHandler creates a new OnDegradedModeHandler.
func NewOnDegradedModeHandler(log *logger.Logger) *OnDegradedModeHandler {
	if log == nil {
		log = logger.Default()
	}
	return &OnDegradedModeHandler{
		log:       log.With(logger.Component("on_degraded_mode")),
		enteredAt: make(map[string]time.Time),
	}
}

// HandleEntered records and alerts on entering degraded mode.
// Implements shared.EventHandler.
func (h *OnDegradedModeHandler) HandleEntered(event shared.Event) error {
	e, ok := event.(shared.DegradedModeEvent)
	if !ok {
		h.log.Warn("received unexpected event",
			logger.String("event_type", string(event.EventType())))
		return nil
	}

	h.mu.Lock()
	h.enteredAt[e.Component] = e.OccurredAt()
	h.mu.Unlock()

	h.log.Error("component entered degraded mode",
		logger.String("component", e.Component),
		logger.String("reason", e.Reason),
	)
	return nil
}

// HandleExited alerts on recovery with the outage duration.
// Implements shared.EventHandler.
func (h *OnDegradedModeHandler) HandleExited(event shared.Event) error {
	e, ok := event.(shared.DegradedModeEvent)
	if !ok {
		h.log.Warn("received unexpected event",
			logger.String("event_type", string(event.EventType())))
		return nil
	}

	h.mu.Lock()
	entered, known := h.enteredAt[e.Component]
	delete(h.enteredAt, e.Component)
	h.mu.Unlock()

	fields := []logger.Field{logger.String("component", e.Component)}
	if known {
		fields = append(fields, logger.Duration("degraded_for", e.OccurredAt().Sub(entered)))
	}
	h.log.Info("component recovered from degraded mode", fields...)
	return nil
}
