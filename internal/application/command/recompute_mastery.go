package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/skillforge/mastery-engine/internal/domain/profile"
	"github.com/skillforge/mastery-engine/internal/domain/shared"
	"github.com/skillforge/mastery-engine/internal/pipeline"
	"github.com/skillforge/mastery-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECOMPUTE MASTERY COMMAND
// Rebuilds a student's profiles by replaying their attempt log through
// the same estimator chain the live pipeline uses. Run after model
// parameter changes or suspected profile corruption.
// ══════════════════════════════════════════════════════════════════════════════

// RecomputeMasteryCommand identifies the student to rebuild.
type RecomputeMasteryCommand struct {
	// StudentID is the student whose profiles are rebuilt.
	StudentID string
}

// Validate validates the command.
func (c RecomputeMasteryCommand) Validate() error {
	if c.StudentID == "" {
		return errors.New("recompute_mastery: student_id is required")
	}
	return nil
}

// RecomputeMasteryResult summarizes the rebuild.
type RecomputeMasteryResult struct {
	// StudentID is the rebuilt student.
	StudentID string

	// SkillsUpdated is how many profile rows were rewritten.
	SkillsUpdated int

	// AttemptsReplayed is how many committed attempts the replay read.
	AttemptsReplayed int

	// Duration is how long the replay took.
	Duration time.Duration
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// RecomputeMasteryHandler handles the RecomputeMasteryCommand.
type RecomputeMasteryHandler struct {
	pipeline *pipeline.Pipeline
	cache    profile.Cache
	log      *logger.Logger
}

// NewRecomputeMasteryHandler creates a new RecomputeMasteryHandler.
// The cache is optional; when present it is cleared after the rebuild
// so readers never see pre-replay estimates.
func NewRecomputeMasteryHandler(p *pipeline.Pipeline, cache profile.Cache, log *logger.Logger) *RecomputeMasteryHandler {
	if log == nil {
		log = logger.Default()
	}
	return &RecomputeMasteryHandler{
		pipeline: p,
		cache:    cache,
		log:      log.With(logger.Component("recompute_mastery")),
	}
}

// Handle executes the recompute mastery command.
func (h *RecomputeMasteryHandler) Handle(ctx context.Context, cmd RecomputeMasteryCommand) (*RecomputeMasteryResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("recompute_mastery: validation failed: %w", err)
	}

	start := time.Now()
	studentID := shared.StudentID(cmd.StudentID)

	replay, err := h.pipeline.Recompute(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("recompute_mastery: replay failed: %w", err)
	}

	if h.cache != nil {
		if err := h.cache.InvalidateStudent(ctx, studentID); err != nil {
			h.log.Warn("cache invalidation after replay failed",
				logger.StudentID(cmd.StudentID),
				logger.Err(err),
			)
		}
	}

	return &RecomputeMasteryResult{
		StudentID:        cmd.StudentID,
		SkillsUpdated:    replay.SkillsUpdated,
		AttemptsReplayed: replay.AttemptsReplayed,
		Duration:         time.Since(start),
	}, nil
}
