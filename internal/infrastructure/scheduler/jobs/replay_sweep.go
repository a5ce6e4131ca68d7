package jobs

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/skillforge/mastery-engine/internal/domain/attempt"
	"github.com/skillforge/mastery-engine/internal/domain/profile"
	"github.com/skillforge/mastery-engine/internal/domain/shared"
	"github.com/skillforge/mastery-engine/internal/pipeline"
	"github.com/skillforge/mastery-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPLAY SWEEP JOB
// ══════════════════════════════════════════════════════════════════════════════

// ReplaySweepJob replays every student's committed attempt log through
// the estimators and rewrites their profiles. Live updates are exact,
// so the sweep normally changes nothing; it exists for when model
// parameters or the skill graph were edited, which invalidates every
// stored estimate at once.
//
// Run it in a quiet window: replay bypasses the per-key submission
// queues.
type ReplaySweepJob struct {
	// Dependencies
	pipeline *pipeline.Pipeline
	attempts attempt.Log
	cache    profile.Cache
	log      *logger.Logger

	// Configuration
	config ReplaySweepConfig

	// State
	lastRunStats atomic.Value // *ReplaySweepStats
}

// ReplaySweepConfig contains configuration for the replay sweep job.
type ReplaySweepConfig struct {
	// Timeout is the maximum duration for a full sweep.
	Timeout time.Duration

	// MaxFailures aborts the sweep after this many per-student
	// failures. Zero means never abort.
	MaxFailures int
}

// DefaultReplaySweepConfig returns sensible defaults.
func DefaultReplaySweepConfig() ReplaySweepConfig {
	return ReplaySweepConfig{
		Timeout:     30 * time.Minute,
		MaxFailures: 10,
	}
}

// ReplaySweepStats contains statistics from a sweep run.
type ReplaySweepStats struct {
	StartedAt        time.Time
	CompletedAt      time.Time
	Duration         time.Duration
	StudentsReplayed int
	StudentsFailed   int
	SkillsUpdated    int
	AttemptsReplayed int
}

// NewReplaySweepJob creates a new replay sweep job.
func NewReplaySweepJob(
	p *pipeline.Pipeline,
	attempts attempt.Log,
	cache profile.Cache,
	log *logger.Logger,
	config ReplaySweepConfig,
) *ReplaySweepJob {
	if log == nil {
		log = logger.Default()
	}
	return &ReplaySweepJob{
		pipeline: p,
		attempts: attempts,
		cache:    cache,
		log:      log.With(logger.Component("replay_sweep_job")),
		config:   config,
	}
}

// Name returns the job name.
func (j *ReplaySweepJob) Name() string {
	return "replay_sweep"
}

// Description returns a human-readable description.
func (j *ReplaySweepJob) Description() string {
	return "Replays all attempt logs to rebuild mastery profiles from scratch"
}

// Run executes one sweep over every student with committed attempts.
func (j *ReplaySweepJob) Run(ctx context.Context) error {
	startedAt := time.Now()
	stats := &ReplaySweepStats{StartedAt: startedAt}

	if j.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.config.Timeout)
		defer cancel()
	}

	students, err := j.attempts.ListStudents(ctx)
	if err != nil {
		return fmt.Errorf("listing students failed: %w", err)
	}

	for _, studentID := range students {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := j.replayStudent(ctx, studentID, stats); err != nil {
			stats.StudentsFailed++
			j.log.Error("student replay failed",
				logger.StudentID(string(studentID)),
				logger.Err(err),
			)
			if j.config.MaxFailures > 0 && stats.StudentsFailed >= j.config.MaxFailures {
				return fmt.Errorf("sweep aborted after %d failures", stats.StudentsFailed)
			}
		}
	}

	stats.CompletedAt = time.Now()
	stats.Duration = stats.CompletedAt.Sub(startedAt)
	j.lastRunStats.Store(stats)

	j.log.Info("replay sweep completed",
		logger.Int("students_replayed", stats.StudentsReplayed),
		logger.Int("students_failed", stats.StudentsFailed),
		logger.Int("skills_updated", stats.SkillsUpdated),
		logger.Int("attempts_replayed", stats.AttemptsReplayed),
		logger.Duration("duration", stats.Duration),
	)

	if stats.StudentsFailed > 0 {
		return fmt.Errorf("sweep completed with %d failed students", stats.StudentsFailed)
	}
	return nil
}

// replayStudent rebuilds one student's profiles and drops their cache.
func (j *ReplaySweepJob) replayStudent(ctx context.Context, studentID shared.StudentID, stats *ReplaySweepStats) error {
	result, err := j.pipeline.Recompute(ctx, studentID)
	if err != nil {
		return err
	}

	stats.StudentsReplayed++
	stats.SkillsUpdated += result.SkillsUpdated
	stats.AttemptsReplayed += result.AttemptsReplayed

	if j.cache != nil {
		if err := j.cache.InvalidateStudent(ctx, studentID); err != nil {
			j.log.Warn("cache invalidation failed after replay",
				logger.StudentID(string(studentID)),
				logger.Err(err),
			)
		}
	}
	return nil
}

// LastRunStats returns statistics from the last sweep run.
func (j *ReplaySweepJob) LastRunStats() *ReplaySweepStats {
	stats := j.lastRunStats.Load()
	if stats == nil {
		return nil
	}
	return stats.(*ReplaySweepStats)
}
