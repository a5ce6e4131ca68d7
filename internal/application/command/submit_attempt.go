// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/skillforge/mastery-engine/internal/domain/shared"
	"github.com/skillforge/mastery-engine/internal/pipeline"
)

// ══════════════════════════════════════════════════════════════════════════════
// SUBMIT ATTEMPT COMMAND
// The write path of the engine: ingest a graded response, fold it into
// the student's mastery profile, and return the committed result.
// ══════════════════════════════════════════════════════════════════════════════

// SubmitAttemptCommand contains one student response to an item.
type SubmitAttemptCommand struct {
	// StudentID is the submitting student.
	StudentID string

	// ItemID is the attempted item.
	ItemID string

	// IdempotencyKey deduplicates client retries. Required.
	IdempotencyKey string

	// RawResponse is the response text, graded against the item's
	// answer key when Correctness is absent.
	RawResponse string

	// Correctness optionally carries a pre-graded outcome in [0,1].
	// When set it overrides server-side grading.
	Correctness *float64

	// ResponseTime is the client-reported solve time.
	ResponseTime time.Duration
}

// Validate validates the command.
func (c SubmitAttemptCommand) Validate() error {
	if c.StudentID == "" {
		return errors.New("submit_attempt: student_id is required")
	}
	if c.ItemID == "" {
		return errors.New("submit_attempt: item_id is required")
	}
	if c.IdempotencyKey == "" {
		return errors.New("submit_attempt: idempotency_key is required")
	}
	if c.Correctness == nil && c.RawResponse == "" {
		return errors.New("submit_attempt: raw_response or correctness is required")
	}
	if c.ResponseTime < 0 {
		return errors.New("submit_attempt: response_time cannot be negative")
	}
	return nil
}

// SubmitAttemptResult contains the committed outcome.
type SubmitAttemptResult struct {
	// AttemptID identifies the stored attempt.
	AttemptID string

	// Correctness is the graded outcome in [0,1].
	Correctness float64

	// OldMastery is the estimate before this attempt.
	OldMastery float64

	// NewMastery is the estimate after this attempt.
	NewMastery float64

	// Confidence reflects the evidence behind the new estimate.
	Confidence float64

	// Degraded is true when the sequence model was unavailable and the
	// estimate fell back to the Bayesian tracer alone.
	Degraded bool

	// CommittedAt is when the attempt became durable.
	CommittedAt time.Time
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// SubmitAttemptHandler handles the SubmitAttemptCommand.
type SubmitAttemptHandler struct {
	pipeline *pipeline.Pipeline
}

// NewSubmitAttemptHandler creates a new SubmitAttemptHandler.
func NewSubmitAttemptHandler(p *pipeline.Pipeline) *SubmitAttemptHandler {
	return &SubmitAttemptHandler{pipeline: p}
}

// Handle executes the submit attempt command. Duplicate idempotency
// keys return the originally committed result; rejected submissions
// surface shared.ErrAttemptRejected.
func (h *SubmitAttemptHandler) Handle(ctx context.Context, cmd SubmitAttemptCommand) (*SubmitAttemptResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("submit_attempt: validation failed: %w", err)
	}

	result, err := h.pipeline.Submit(ctx, pipeline.SubmitRequest{
		StudentID:      shared.StudentID(cmd.StudentID),
		ItemID:         shared.ItemID(cmd.ItemID),
		IdempotencyKey: shared.IdempotencyKey(cmd.IdempotencyKey),
		RawResponse:    cmd.RawResponse,
		Correctness:    cmd.Correctness,
		ResponseTime:   cmd.ResponseTime,
	})
	if err != nil {
		return nil, err
	}

	return &SubmitAttemptResult{
		AttemptID:   result.AttemptID,
		Correctness: result.Correctness.Float64(),
		OldMastery:  result.OldMastery,
		NewMastery:  result.NewMastery,
		Confidence:  result.Confidence,
		Degraded:    result.Degraded,
		CommittedAt: result.CommittedAt,
	}, nil
}
