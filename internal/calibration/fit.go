package calibration

import (
	"math"

	"github.com/skillforge/mastery-engine/internal/domain/item"
	"github.com/skillforge/mastery-engine/internal/domain/shared"
)

// FitConfig bounds the iterative fit.
type FitConfig struct {
	// Epsilon is the convergence threshold on the parameter step.
	Epsilon float64

	// MaxIterations caps the fitting iterations.
	MaxIterations int

	// Damping scales each Newton step. 1.0 takes full steps.
	Damping float64

	// MinResponses is the evidence floor below which the fit is not
	// attempted at all.
	MinResponses int
}

// DefaultFitConfig returns the engine defaults.
func DefaultFitConfig() FitConfig {
	return FitConfig{
		Epsilon:       1e-4,
		MaxIterations: 200,
		Damping:       1.0,
		MinResponses:  10,
	}
}

// Validate checks the fit configuration.
func (c FitConfig) Validate() error {
	if c.Epsilon <= 0 {
		return shared.WrapError("calibration", "ValidateConfig", shared.ErrConfiguration, "epsilon must be positive", nil)
	}
	if c.MaxIterations <= 0 {
		return shared.WrapError("calibration", "ValidateConfig", shared.ErrConfiguration, "max iterations must be positive", nil)
	}
	if c.Damping <= 0 || c.Damping > 1 {
		return shared.WrapError("calibration", "ValidateConfig", shared.ErrConfiguration, "damping must be in (0,1]", nil)
	}
	if c.MinResponses < 1 {
		return shared.WrapError("calibration", "ValidateConfig", shared.ErrConfiguration, "min responses must be at least 1", nil)
	}
	return nil
}

// Parameter bounds on the shared mastery scale. The fit projects back
// into these after every step.
const (
	minDifficulty     = 0.0
	maxDifficulty     = 1.0
	minDiscrimination = 0.2
	maxDiscrimination = 8.0

	// maxStep bounds a single Newton step so near-flat curvature
	// cannot launch the parameters across the whole scale.
	maxStep = 0.25

	// informationFloor avoids division by vanishing curvature.
	informationFloor = 1e-6
)

// Fit maximizes the 2PL log-likelihood over the aggregated responses
// with damped Newton steps, starting from the item's current
// parameters. The Fisher information supplies the per-parameter
// curvature, which is the usual scheme for item response fitting.
//
// Returns shared.ErrInsufficientHistory when the evidence floor is not
// met and shared.ErrNotCalibrated when the iteration budget runs out
// before the step shrinks below epsilon. In both cases callers keep
// the previous parameters and flag the item low-confidence.
func Fit(responses []Response, current item.Calibration, cfg FitConfig) (item.Calibration, error) {
	if err := cfg.Validate(); err != nil {
		return item.Calibration{}, err
	}
	if len(responses) < cfg.MinResponses {
		return item.Calibration{}, shared.ErrTooFewResponses
	}

	buckets := Aggregate(responses)

	difficulty := clamp(current.Difficulty, minDifficulty, maxDifficulty)
	discrimination := clamp(current.Discrimination, minDiscrimination, maxDiscrimination)

	converged := false
	for iter := 0; iter < cfg.MaxIterations; iter++ {
		var gradDiff, gradDisc float64
		var infoDiff, infoDisc float64

		for _, b := range buckets {
			p := item.TwoPL(b.Ability, difficulty, discrimination)
			residual := b.Successes - p*float64(b.Total)
			variance := p * (1 - p) * float64(b.Total)
			distance := b.Ability - difficulty

			gradDiff += -discrimination * residual
			gradDisc += distance * residual
			infoDiff += discrimination * discrimination * variance
			infoDisc += distance * distance * variance
		}

		stepDiff := cfg.Damping * gradDiff / math.Max(infoDiff, informationFloor)
		stepDisc := cfg.Damping * gradDisc / math.Max(infoDisc, informationFloor)
		stepDiff = clamp(stepDiff, -maxStep, maxStep)
		stepDisc = clamp(stepDisc, -maxStep, maxStep)

		difficulty = clamp(difficulty+stepDiff, minDifficulty, maxDifficulty)
		discrimination = clamp(discrimination+stepDisc, minDiscrimination, maxDiscrimination)

		if math.Abs(stepDiff) < cfg.Epsilon && math.Abs(stepDisc) < cfg.Epsilon {
			converged = true
			break
		}
	}

	if !converged {
		return item.Calibration{}, shared.ErrNonConvergence
	}

	return item.Calibration{
		Difficulty:     difficulty,
		Discrimination: discrimination,
		ResponseCount:  len(responses),
		LowConfidence:  false,
	}, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
