package tracer

import (
	"context"
	"math"

	"github.com/skillforge/mastery-engine/internal/domain/shared"
)

// Defaults for the sequence tracer's window and confidence saturation.
const (
	DefaultWindow     = 50
	DefaultSaturation = 20
)

// SequenceTracer is a small recurrent network over a student's recent
// attempt window. It is stateless between calls: the entire input is
// the supplied history, so the same window always yields the same
// estimate regardless of which process serves the request.
type SequenceTracer struct {
	weights    *Weights
	window     int
	saturation int
}

// NewSequenceTracer creates a tracer over validated weights. A window
// or saturation of zero takes the default.
func NewSequenceTracer(weights *Weights, window, saturation int) (*SequenceTracer, error) {
	if weights == nil {
		weights = DefaultWeights()
	}
	if err := weights.Validate(); err != nil {
		return nil, err
	}
	if window == 0 {
		window = DefaultWindow
	}
	if saturation == 0 {
		saturation = DefaultSaturation
	}
	if window < 0 || saturation < 0 {
		return nil, shared.WrapError("tracer", "NewSequenceTracer", shared.ErrConfiguration,
			"window and saturation must be positive", nil)
	}

	return &SequenceTracer{
		weights:    weights,
		window:     window,
		saturation: saturation,
	}, nil
}

// Window returns the maximum history length considered.
func (s *SequenceTracer) Window() int {
	return s.window
}

// Infer implements SequenceEstimator. History older than the window is
// dropped from the oldest end before the forward pass.
func (s *SequenceTracer) Infer(ctx context.Context, skillID shared.SkillID, history []Observation) (Estimate, error) {
	if len(history) == 0 {
		return Estimate{}, shared.ErrEmptyHistory
	}
	if len(history) > s.window {
		history = history[len(history)-s.window:]
	}

	w := s.weights
	hidden := make([]float64, w.HiddenSize)
	scratch := make([]float64, w.HiddenSize)

	for step, obs := range history {
		// Inference is bounded by the caller's timeout; honor it
		// between steps.
		if step%8 == 0 {
			if err := ctx.Err(); err != nil {
				return Estimate{}, shared.WrapError("tracer", "Infer", shared.ErrTimeout, "inference cancelled", err)
			}
		}

		c := shared.ClampUnit(obs.Correctness)
		sameSkill := 0.0
		if obs.SkillID == skillID {
			sameSkill = 1.0
		}
		input := [inputSize]float64{c, 1 - c, sameSkill}

		for i := 0; i < w.HiddenSize; i++ {
			sum := w.HiddenBias[i]
			for j := 0; j < inputSize; j++ {
				sum += w.InputHidden[i][j] * input[j]
			}
			for j := 0; j < w.HiddenSize; j++ {
				sum += w.HiddenHidden[i][j] * hidden[j]
			}
			scratch[i] = math.Tanh(sum)
		}
		hidden, scratch = scratch, hidden
	}

	logit := w.OutputBias
	for i := 0; i < w.HiddenSize; i++ {
		logit += w.HiddenOutput[i] * hidden[i]
	}
	mastery := 1.0 / (1.0 + math.Exp(-logit))

	return Estimate{
		Mastery:    shared.ClampUnit(mastery),
		Confidence: saturationConfidence(len(history), s.saturation),
	}, nil
}
