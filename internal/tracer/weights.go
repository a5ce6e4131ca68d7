package tracer

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"

	"github.com/skillforge/mastery-engine/internal/domain/shared"
)

// inputSize is the feature count per observation: correctness,
// incorrectness, and whether the observation matches the target skill.
const inputSize = 3

// Weights holds the sequence model's parameters. They are loaded once
// at startup and treated as read-only for the life of the process;
// training happens offline.
type Weights struct {
	// HiddenSize is the recurrent state dimension.
	HiddenSize int `json:"hidden_size"`

	// InputHidden maps the per-step input features into hidden space,
	// row per hidden unit.
	InputHidden [][]float64 `json:"input_hidden"`

	// HiddenHidden is the recurrent transition, row per hidden unit.
	HiddenHidden [][]float64 `json:"hidden_hidden"`

	// HiddenBias is the per-unit bias.
	HiddenBias []float64 `json:"hidden_bias"`

	// HiddenOutput projects the final hidden state to the logit.
	HiddenOutput []float64 `json:"hidden_output"`

	// OutputBias is the output logit bias.
	OutputBias float64 `json:"output_bias"`
}

// Validate checks dimensional consistency.
func (w *Weights) Validate() error {
	fail := func(msg string) error {
		return shared.WrapError("tracer", "ValidateWeights", shared.ErrConfiguration, msg, nil)
	}

	if w.HiddenSize <= 0 {
		return fail("hidden size must be positive")
	}
	if len(w.InputHidden) != w.HiddenSize {
		return fail(fmt.Sprintf("input_hidden has %d rows, want %d", len(w.InputHidden), w.HiddenSize))
	}
	for i, row := range w.InputHidden {
		if len(row) != inputSize {
			return fail(fmt.Sprintf("input_hidden row %d has %d columns, want %d", i, len(row), inputSize))
		}
	}
	if len(w.HiddenHidden) != w.HiddenSize {
		return fail(fmt.Sprintf("hidden_hidden has %d rows, want %d", len(w.HiddenHidden), w.HiddenSize))
	}
	for i, row := range w.HiddenHidden {
		if len(row) != w.HiddenSize {
			return fail(fmt.Sprintf("hidden_hidden row %d has %d columns, want %d", i, len(row), w.HiddenSize))
		}
	}
	if len(w.HiddenBias) != w.HiddenSize {
		return fail(fmt.Sprintf("hidden_bias has %d entries, want %d", len(w.HiddenBias), w.HiddenSize))
	}
	if len(w.HiddenOutput) != w.HiddenSize {
		return fail(fmt.Sprintf("hidden_output has %d entries, want %d", len(w.HiddenOutput), w.HiddenSize))
	}
	return nil
}

// LoadWeights reads weights from a JSON file.
func LoadWeights(path string) (*Weights, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, shared.WrapError("tracer", "LoadWeights", shared.ErrConfiguration,
			fmt.Sprintf("reading weights file %s", path), err)
	}

	var w Weights
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, shared.WrapError("tracer", "LoadWeights", shared.ErrConfiguration,
			fmt.Sprintf("parsing weights file %s", path), err)
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return &w, nil
}

// DefaultWeights returns a small deterministic weight set used when no
// trained file is configured. The fixed seed keeps inference
// reproducible across processes, which replay relies on.
func DefaultWeights() *Weights {
	const hidden = 16
	rng := rand.New(rand.NewSource(8151))

	randRow := func(n int) []float64 {
		row := make([]float64, n)
		for i := range row {
			row[i] = (rng.Float64()*2 - 1) * 0.5
		}
		return row
	}

	w := &Weights{
		HiddenSize:   hidden,
		InputHidden:  make([][]float64, hidden),
		HiddenHidden: make([][]float64, hidden),
		HiddenBias:   randRow(hidden),
		HiddenOutput: randRow(hidden),
		OutputBias:   0,
	}
	for i := 0; i < hidden; i++ {
		w.InputHidden[i] = randRow(inputSize)
		w.HiddenHidden[i] = randRow(hidden)
	}
	return w
}
