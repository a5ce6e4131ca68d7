// Package eventhandler contains domain event handlers: the reactive
// side of the engine. Handlers run side effects like cache maintenance
// and operator alerts; the write path never waits for them.
package eventhandler

import (
	"context"
	"time"

	"github.com/skillforge/mastery-engine/internal/domain/profile"
	"github.com/skillforge/mastery-engine/internal/domain/shared"
	"github.com/skillforge/mastery-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// ON MASTERY CHANGED HANDLER
// Keeps the profile read cache coherent with the write path. The commit
// already invalidated nothing; this handler is the single place cached
// profiles get dropped after an estimate moves.
// ══════════════════════════════════════════════════════════════════════════════

// OnMasteryChangedHandler invalidates cached profiles after commits
// and replays.
type OnMasteryChangedHandler struct {
	cache   profile.Cache
	timeout time.Duration
	log     *logger.Logger
}

// NewOnMasteryChangedHandler creates a new OnMasteryChangedHandler.
func NewOnMasteryChangedHandler(cache profile.Cache, log *logger.Logger) *OnMasteryChangedHandler {
	if log == nil {
		log = logger.Default()
	}
	return &OnMasteryChangedHandler{
		cache:   cache,
		timeout: 5 * time.Second,
		log:     log.With(logger.Component("on_mastery_changed")),
	}
}

// HandleMasteryChanged drops the cached row for the changed pair.
// Implements shared.EventHandler.
func (h *OnMasteryChangedHandler) HandleMasteryChanged(event shared.Event) error {
	e, ok := event.(shared.MasteryChangedEvent)
	if !ok {
		h.log.Warn("received unexpected event",
			logger.String("event_type", string(event.EventType())))
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	if err := h.cache.Invalidate(ctx, shared.StudentID(e.StudentID), shared.SkillID(e.SkillID)); err != nil {
		h.log.Error("profile cache invalidation failed",
			logger.StudentID(e.StudentID),
			logger.SkillID(e.SkillID),
			logger.Err(err),
		)
		return err
	}

	h.log.Debug("profile cache invalidated",
		logger.StudentID(e.StudentID),
		logger.SkillID(e.SkillID),
		logger.Mastery(e.NewMastery),
	)
	return nil
}

// HandleMasteryRecomputed drops every cached row for the replayed
// student. Implements shared.EventHandler.
func (h *OnMasteryChangedHandler) HandleMasteryRecomputed(event shared.Event) error {
	e, ok := event.(shared.MasteryRecomputedEvent)
	if !ok {
		h.log.Warn("received unexpected event",
			logger.String("event_type", string(event.EventType())))
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	if err := h.cache.InvalidateStudent(ctx, shared.StudentID(e.StudentID)); err != nil {
		h.log.Error("student cache invalidation failed",
			logger.StudentID(e.StudentID),
			logger.Err(err),
		)
		return err
	}
	return nil
}
