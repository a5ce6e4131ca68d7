package tracer

import (
	"github.com/skillforge/mastery-engine/internal/domain/shared"
	"github.com/skillforge/mastery-engine/internal/domain/skill"
)

// BKT is the closed-form Bayesian knowledge tracer: a two-state hidden
// Markov model over "knows" / "does not know", updated one observation
// at a time.
type BKT struct {
	params skill.ModelParams
}

// NewBKT creates a tracer for one skill's parameters. Invalid
// parameters are a configuration error.
func NewBKT(params skill.ModelParams) (*BKT, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &BKT{params: params}, nil
}

// Params returns the tracer's parameters.
func (b *BKT) Params() skill.ModelParams {
	return b.params
}

// Prior returns the initial mastery estimate for this skill.
func (b *BKT) Prior() float64 {
	return b.params.Prior
}

// Update folds one observation into the prior and returns the
// posterior mastery probability.
//
// Fractional correctness interpolates the emission likelihoods
// linearly between the fully-correct and fully-incorrect cases, so a
// half-credit attempt moves the estimate half as far.
func (b *BKT) Update(prior, correctness float64) (float64, error) {
	if prior < 0 || prior > 1 {
		return 0, shared.WrapError("tracer", "Update", shared.ErrValueOutOfRange, "prior must be in [0,1]", nil)
	}
	if correctness < 0 || correctness > 1 {
		return 0, shared.ErrInvalidCorrectness
	}

	p := b.params

	// Emission likelihoods under each hidden state.
	likelihoodKnown := correctness*(1-p.Slip) + (1-correctness)*p.Slip
	likelihoodUnknown := correctness*p.Guess + (1-correctness)*(1-p.Guess)

	evidence := prior*likelihoodKnown + (1-prior)*likelihoodUnknown
	var conditional float64
	if evidence > 0 {
		conditional = prior * likelihoodKnown / evidence
	} else {
		// Degenerate parameters already rejected at construction;
		// this only guards float underflow.
		conditional = prior
	}

	// Transition step: learn, then forget.
	posterior := conditional + (1-conditional)*p.Learn
	posterior *= 1 - p.Forget

	return shared.ClampUnit(posterior), nil
}

// Replay folds a sequence of observations starting from the skill
// prior and returns the final estimate. Confidence saturates with the
// number of observations.
func (b *BKT) Replay(observations []Observation, saturation int) (Estimate, error) {
	mastery := b.params.Prior
	for _, obs := range observations {
		var err error
		mastery, err = b.Update(mastery, obs.Correctness)
		if err != nil {
			return Estimate{}, err
		}
	}
	return Estimate{
		Mastery:    mastery,
		Confidence: saturationConfidence(len(observations), saturation),
	}, nil
}
