package calibration

import (
	"context"
	"errors"
	"time"

	"github.com/skillforge/mastery-engine/internal/domain/attempt"
	"github.com/skillforge/mastery-engine/internal/domain/item"
	"github.com/skillforge/mastery-engine/internal/domain/profile"
	"github.com/skillforge/mastery-engine/internal/domain/shared"
	"github.com/skillforge/mastery-engine/pkg/logger"
)

// neutralAbility stands in when a respondent has no profile for the
// item's skill anymore (profile deleted after a replay, for example).
const neutralAbility = 0.5

// Calibrator refits item parameters from the attempt log. It runs as a
// scheduled job, item by item, and never blocks the attempt pipeline:
// item rows are the only thing it writes.
type Calibrator struct {
	items    item.Repository
	attempts attempt.Log
	profiles profile.Store
	events   shared.EventPublisher
	cfg      FitConfig
	log      *logger.Logger
}

// NewCalibrator creates a calibrator.
func NewCalibrator(
	items item.Repository,
	attempts attempt.Log,
	profiles profile.Store,
	events shared.EventPublisher,
	cfg FitConfig,
	log *logger.Logger,
) (*Calibrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Default()
	}
	return &Calibrator{
		items:    items,
		attempts: attempts,
		profiles: profiles,
		events:   events,
		cfg:      cfg,
		log:      log.With(logger.Component("calibrator")),
	}, nil
}

// RunResult summarizes one calibration pass.
type RunResult struct {
	ItemsFitted  int
	ItemsSkipped int
	ItemsFlagged int
	Duration     time.Duration
}

// CalibrateAll refits every registered item. Individual item failures
// are flagged and logged, never fatal for the run.
func (c *Calibrator) CalibrateAll(ctx context.Context) (RunResult, error) {
	start := time.Now()

	items, err := c.items.GetAll(ctx)
	if err != nil {
		return RunResult{}, shared.WrapError("calibration", "CalibrateAll", shared.ErrExternalService, "listing items", err)
	}

	var result RunResult
	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		switch err := c.CalibrateItem(ctx, it); {
		case err == nil:
			result.ItemsFitted++
		case errors.Is(err, shared.ErrInsufficientHistory):
			result.ItemsSkipped++
		case errors.Is(err, shared.ErrNotCalibrated):
			result.ItemsFlagged++
		default:
			result.ItemsFlagged++
			c.log.Error("item calibration failed",
				logger.ItemID(it.ID.String()),
				logger.Err(err),
			)
		}
	}

	result.Duration = time.Since(start)

	if c.events != nil {
		event := shared.NewCalibrationCompletedEvent(
			start.UTC().Format(time.RFC3339),
			result.ItemsFitted, result.ItemsSkipped, result.ItemsFlagged,
			result.Duration,
		)
		if err := c.events.Publish(event); err != nil {
			c.log.Warn("publishing calibration summary failed", logger.Err(err))
		}
	}

	c.log.Info("calibration run finished",
		logger.Int("fitted", result.ItemsFitted),
		logger.Int("skipped", result.ItemsSkipped),
		logger.Int("flagged", result.ItemsFlagged),
		logger.Duration("duration", result.Duration),
	)

	return result, nil
}

// CalibrateItem refits one item. On insufficient evidence or a
// non-converging fit the previous parameters are retained and the item
// is flagged low-confidence.
func (c *Calibrator) CalibrateItem(ctx context.Context, it *item.Item) error {
	responses, err := c.collectResponses(ctx, it)
	if err != nil {
		return err
	}

	old := it.Calibration
	fitted, err := Fit(responses, old, c.cfg)
	if err != nil {
		if errors.Is(err, shared.ErrInsufficientHistory) || errors.Is(err, shared.ErrNotCalibrated) {
			flagged := old
			flagged.LowConfidence = true
			flagged.ResponseCount = len(responses)
			if updateErr := c.items.UpdateCalibration(ctx, it.ID, flagged); updateErr != nil {
				return updateErr
			}
			it.Calibration = flagged
			c.log.Warn("retaining previous item parameters",
				logger.ItemID(it.ID.String()),
				logger.Int("responses", len(responses)),
				logger.Err(err),
			)
		}
		return err
	}

	fitted.CalibratedAt = time.Now().UTC()
	if err := c.items.UpdateCalibration(ctx, it.ID, fitted); err != nil {
		return err
	}
	it.Calibration = fitted

	if c.events != nil {
		event := shared.NewItemRecalibratedEvent(
			it.ID.String(),
			old.Difficulty, fitted.Difficulty,
			old.Discrimination, fitted.Discrimination,
			fitted.ResponseCount, fitted.LowConfidence,
		)
		if err := c.events.Publish(event); err != nil {
			c.log.Warn("publishing recalibration event failed",
				logger.ItemID(it.ID.String()), logger.Err(err))
		}
	}

	return nil
}

// collectResponses pairs each committed attempt against the item with
// the respondent's current mastery as the ability proxy.
func (c *Calibrator) collectResponses(ctx context.Context, it *item.Item) ([]Response, error) {
	attempts, err := c.attempts.ListByItemSince(ctx, it.ID, time.Time{})
	if err != nil {
		return nil, shared.WrapError("calibration", "CollectResponses", shared.ErrExternalService, "listing attempts", err)
	}

	responses := make([]Response, 0, len(attempts))
	for _, a := range attempts {
		ability := neutralAbility
		prof, err := c.profiles.Get(ctx, a.StudentID, it.SkillID)
		switch {
		case err == nil:
			ability = prof.Mastery
		case errors.Is(err, shared.ErrNotFound):
			// Keep the neutral proxy.
		default:
			return nil, err
		}

		responses = append(responses, Response{
			Ability:     ability,
			Correctness: a.Correctness.Float64(),
		})
	}
	return responses, nil
}
