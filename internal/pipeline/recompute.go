package pipeline

import (
	"context"
	"time"

	"github.com/skillforge/mastery-engine/internal/domain/profile"
	"github.com/skillforge/mastery-engine/internal/domain/shared"
	"github.com/skillforge/mastery-engine/internal/tracer"
	"github.com/skillforge/mastery-engine/pkg/logger"
)

// RecomputeResult summarizes a full replay of one student's log.
type RecomputeResult struct {
	SkillsUpdated    int
	AttemptsReplayed int
}

// Recompute rebuilds every profile of the student by replaying their
// committed attempt log through the same estimators the live path
// uses. Running it twice against an unchanged log produces identical
// profiles.
//
// This is a maintenance operation: it bypasses the per-key queues and
// writes profiles unconditionally, so run it while the student has no
// in-flight submissions.
func (p *Pipeline) Recompute(ctx context.Context, studentID shared.StudentID) (RecomputeResult, error) {
	if studentID.IsEmpty() {
		return RecomputeResult{}, shared.ErrInvalidStudentID
	}

	history, err := p.attempts.ListByStudent(ctx, studentID)
	if err != nil {
		return RecomputeResult{}, shared.WrapError("pipeline", "Recompute", shared.ErrServiceUnavailable, "history load failed", err)
	}
	observations := toObservations(history)

	touched := make(map[shared.SkillID]bool, len(observations))
	lastAt := make(map[shared.SkillID]time.Time, len(observations))
	for _, obs := range observations {
		touched[obs.SkillID] = true
		lastAt[obs.SkillID] = obs.ReceivedAt
	}

	existing, err := p.profiles.GetByStudent(ctx, studentID)
	if err != nil {
		return RecomputeResult{}, shared.WrapError("pipeline", "Recompute", shared.ErrServiceUnavailable, "profile load failed", err)
	}
	hasProfile := make(map[shared.SkillID]bool, len(existing))
	for _, prof := range existing {
		hasProfile[prof.SkillID] = true
	}

	// The replay consults the same fusion gate as the live path so a
	// gated-off student's rebuilt profiles match their committed ones.
	var seqSrc tracer.SequenceEstimator = p.seq
	if p.cfg.FusionGate != nil && !p.cfg.FusionGate(studentID) {
		seqSrc = fusionOff{}
	}

	result := RecomputeResult{AttemptsReplayed: len(observations)}
	for _, skillID := range p.graph.TopoOrder() {
		b := p.tracers[skillID]

		if !touched[skillID] {
			// A lingering profile with no surviving evidence goes
			// back to the prior.
			if hasProfile[skillID] {
				prof, perr := profile.NewProfile(studentID, skillID, b.Prior())
				if perr != nil {
					return result, perr
				}
				if perr := p.profiles.Replace(ctx, prof); perr != nil {
					return result, perr
				}
				result.SkillsUpdated++
			}
			continue
		}

		est, count, err := tracer.ReplayFused(ctx, b, seqSrc, skillID, observations, p.cfg.Saturation)
		if err != nil {
			return result, err
		}

		prof, err := profile.NewProfile(studentID, skillID, b.Prior())
		if err != nil {
			return result, err
		}
		if err := prof.Rebuild(est.Mastery, est.Confidence, count, lastAt[skillID]); err != nil {
			return result, err
		}
		if err := p.profiles.Replace(ctx, prof); err != nil {
			return result, err
		}
		result.SkillsUpdated++
	}

	p.publishEvent(ctx, shared.NewMasteryRecomputedEvent(
		string(studentID), result.SkillsUpdated, result.AttemptsReplayed))

	p.log.Info("mastery recomputed",
		logger.StudentID(string(studentID)),
		logger.Int("skills_updated", result.SkillsUpdated),
		logger.Int("attempts_replayed", result.AttemptsReplayed),
	)
	return result, nil
}
