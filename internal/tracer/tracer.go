// Package tracer implements the mastery estimators: the closed-form
// Bayesian tracer, the sequence model, and the fusion policy that
// blends them. Everything here is pure computation; persistence and
// scheduling live in the pipeline.
package tracer

import (
	"context"
	"time"

	"github.com/skillforge/mastery-engine/internal/domain/shared"
)

// Observation is one graded attempt as seen by the estimators.
type Observation struct {
	// SkillID is the skill the attempt exercised.
	SkillID shared.SkillID

	// Correctness is the graded outcome in [0,1].
	Correctness float64

	// ReceivedAt is the server-received timestamp. Observations are
	// always fed in this order.
	ReceivedAt time.Time
}

// Estimate is an estimator's output: a mastery probability and the
// confidence backing it, both in [0,1].
type Estimate struct {
	Mastery    float64
	Confidence float64
}

// SequenceEstimator produces an estimate from a bounded window of a
// student's recent attempts. Implementations must be pure: the same
// window always yields the same estimate.
type SequenceEstimator interface {
	// Infer estimates mastery of skillID from the history window.
	// Returns shared.ErrInsufficientHistory for an empty window;
	// callers substitute the skill prior with confidence 0.
	Infer(ctx context.Context, skillID shared.SkillID, history []Observation) (Estimate, error)
}

// saturationConfidence maps an evidence count to a confidence that
// grows linearly and saturates at 1.
func saturationConfidence(n, saturation int) float64 {
	if saturation <= 0 || n >= saturation {
		return 1
	}
	if n <= 0 {
		return 0
	}
	return float64(n) / float64(saturation)
}
