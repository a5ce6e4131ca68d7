// Package jobs contains implementations of scheduled jobs for the
// mastery engine.
package jobs

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/skillforge/mastery-engine/internal/calibration"
	"github.com/skillforge/mastery-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECALIBRATE ITEMS JOB
// ══════════════════════════════════════════════════════════════════════════════

// RecalibrateItemsJob refits 2PL parameters for the whole item pool
// from the committed attempt log. Items without enough evidence keep
// their previous parameters and stay flagged low-confidence, so a
// partial run never makes the pool worse than it was.
type RecalibrateItemsJob struct {
	// Dependencies
	calibrator *calibration.Calibrator
	log        *logger.Logger

	// Configuration
	config RecalibrateItemsConfig

	// State
	lastRunStats atomic.Value // *RecalibrateStats
}

// RecalibrateItemsConfig contains configuration for the recalibration job.
type RecalibrateItemsConfig struct {
	// Timeout is the maximum duration for a full calibration pass.
	Timeout time.Duration

	// MaxFlaggedFraction fails the run when more than this fraction of
	// processed items ended up flagged. A pool-wide flag wave usually
	// means the ability proxies are broken, not the items.
	MaxFlaggedFraction float64
}

// DefaultRecalibrateItemsConfig returns sensible defaults.
func DefaultRecalibrateItemsConfig() RecalibrateItemsConfig {
	return RecalibrateItemsConfig{
		Timeout:            10 * time.Minute,
		MaxFlaggedFraction: 0.5,
	}
}

// RecalibrateStats contains statistics from a calibration run.
type RecalibrateStats struct {
	StartedAt    time.Time
	CompletedAt  time.Time
	Duration     time.Duration
	ItemsFitted  int
	ItemsSkipped int
	ItemsFlagged int
}

// NewRecalibrateItemsJob creates a new recalibration job.
func NewRecalibrateItemsJob(
	calibrator *calibration.Calibrator,
	log *logger.Logger,
	config RecalibrateItemsConfig,
) *RecalibrateItemsJob {
	if log == nil {
		log = logger.Default()
	}
	return &RecalibrateItemsJob{
		calibrator: calibrator,
		log:        log.With(logger.Component("recalibrate_items_job")),
		config:     config,
	}
}

// Name returns the job name.
func (j *RecalibrateItemsJob) Name() string {
	return "recalibrate_items"
}

// Description returns a human-readable description.
func (j *RecalibrateItemsJob) Description() string {
	return "Refits item difficulty and discrimination from the attempt log"
}

// Run executes one calibration pass over the item pool.
func (j *RecalibrateItemsJob) Run(ctx context.Context) error {
	startedAt := time.Now()

	if j.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.config.Timeout)
		defer cancel()
	}

	result, err := j.calibrator.CalibrateAll(ctx)
	if err != nil {
		return fmt.Errorf("calibration pass failed: %w", err)
	}

	stats := &RecalibrateStats{
		StartedAt:    startedAt,
		CompletedAt:  time.Now(),
		Duration:     result.Duration,
		ItemsFitted:  result.ItemsFitted,
		ItemsSkipped: result.ItemsSkipped,
		ItemsFlagged: result.ItemsFlagged,
	}
	j.lastRunStats.Store(stats)

	processed := result.ItemsFitted + result.ItemsFlagged
	if processed > 0 && j.config.MaxFlaggedFraction > 0 {
		flaggedFraction := float64(result.ItemsFlagged) / float64(processed)
		if flaggedFraction > j.config.MaxFlaggedFraction {
			return fmt.Errorf("calibration flagged %d of %d processed items", result.ItemsFlagged, processed)
		}
	}

	return nil
}

// LastRunStats returns statistics from the last calibration run.
func (j *RecalibrateItemsJob) LastRunStats() *RecalibrateStats {
	stats := j.lastRunStats.Load()
	if stats == nil {
		return nil
	}
	return stats.(*RecalibrateStats)
}
