package tracer

import (
	"context"
	"errors"

	"github.com/skillforge/mastery-engine/internal/domain/shared"
)

// ReplayFused recomputes the fused estimate for one skill from a
// student's full committed history, ordered by server-received
// timestamp. This is the single update path: the live pipeline calls
// it with history-plus-new-attempt, and recompute calls it with the
// stored log, so both produce bit-identical results.
//
// The returned count is the number of observations on the target
// skill. A count of zero means the history holds no evidence for the
// skill and the estimate is the bare prior.
func ReplayFused(ctx context.Context, b *BKT, seq SequenceEstimator, skillID shared.SkillID, history []Observation, saturation int) (Estimate, int, error) {
	bktMastery := b.Prior()
	skillCount := 0
	lastIdx := -1

	for i, obs := range history {
		if obs.SkillID != skillID {
			continue
		}
		var err error
		bktMastery, err = b.Update(bktMastery, obs.Correctness)
		if err != nil {
			return Estimate{}, 0, err
		}
		skillCount++
		lastIdx = i
	}

	bktEst := Estimate{
		Mastery:    bktMastery,
		Confidence: saturationConfidence(skillCount, saturation),
	}
	if skillCount == 0 {
		return bktEst, 0, nil
	}

	// The sequence model sees the cross-skill window as it stood at
	// the student's last attempt on this skill.
	seqEst, err := seq.Infer(ctx, skillID, history[:lastIdx+1])
	switch {
	case err == nil:
	case errors.Is(err, shared.ErrInsufficientHistory):
		seqEst = Estimate{Mastery: b.Prior(), Confidence: 0}
	default:
		return Estimate{}, 0, err
	}

	return Fuse(bktEst, seqEst), skillCount, nil
}
