// Package attempt contains the graded attempt domain model and the
// append-only attempt log. The log is the system of record: profiles
// can always be rebuilt by replaying it.
package attempt

import (
	"fmt"
	"time"

	"github.com/skillforge/mastery-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROCESSING STATE
// ══════════════════════════════════════════════════════════════════════════════

// State is the processing stage of a submission. Transitions only move
// forward; Rejected is reachable from any non-terminal state.
type State string

const (
	// StateReceived - the submission arrived and got a server timestamp.
	StateReceived State = "received"
	// StateValidated - references and payload checked out.
	StateValidated State = "validated"
	// StateScored - the response was graded against the answer key.
	StateScored State = "scored"
	// StateMasteryUpdated - tracer output computed, not yet durable.
	StateMasteryUpdated State = "mastery_updated"
	// StateCommitted - attempt and profile persisted atomically.
	StateCommitted State = "committed"
	// StateRejected - the submission failed validation.
	StateRejected State = "rejected"
)

// IsTerminal reports whether no further transitions are allowed.
func (s State) IsTerminal() bool {
	return s == StateCommitted || s == StateRejected
}

// next maps each state to its single legal forward transition.
var next = map[State]State{
	StateReceived:       StateValidated,
	StateValidated:      StateScored,
	StateScored:         StateMasteryUpdated,
	StateMasteryUpdated: StateCommitted,
}

// CanTransition reports whether moving from s to target is legal.
func (s State) CanTransition(target State) bool {
	if s.IsTerminal() {
		return false
	}
	if target == StateRejected {
		return true
	}
	return next[s] == target
}

// ══════════════════════════════════════════════════════════════════════════════
// MAIN ENTITY: ATTEMPT
// ══════════════════════════════════════════════════════════════════════════════

// Attempt is a single graded interaction between a student and an item.
// Once committed it is immutable.
type Attempt struct {
	// ID is the unique attempt identifier (UUID).
	ID string

	// StudentID identifies the student.
	StudentID shared.StudentID

	// SkillID is the skill of the attempted item, denormalized so the
	// log can be replayed without item lookups.
	SkillID shared.SkillID

	// ItemID identifies the attempted item.
	ItemID shared.ItemID

	// ItemContentHash pins the content version the student saw.
	ItemContentHash string

	// IdempotencyKey deduplicates client retries.
	IdempotencyKey shared.IdempotencyKey

	// RawResponse is the response text as submitted.
	RawResponse string

	// Correctness is the graded outcome in [0,1].
	Correctness shared.Correctness

	// ResponseTime is how long the student took, as reported by the
	// client. Informational only.
	ResponseTime time.Duration

	// State is the current processing stage.
	State State

	// RejectReason explains a rejection, empty otherwise.
	RejectReason string

	// ReceivedAt is the server-assigned ingestion timestamp. It is
	// strictly increasing across all attempts and defines replay order.
	ReceivedAt time.Time

	// CommittedAt is when the attempt became durable.
	CommittedAt time.Time

	// Result carries the committed mastery outcome, stored with the
	// attempt so duplicate submissions can return it verbatim.
	Result *CommittedResult
}

// CommittedResult is the outcome returned to the client on commit and
// replayed for duplicate idempotency keys.
type CommittedResult struct {
	AttemptID   string             `json:"attempt_id"`
	Correctness shared.Correctness `json:"correctness"`
	OldMastery  float64            `json:"old_mastery"`
	NewMastery  float64            `json:"new_mastery"`
	Confidence  float64            `json:"confidence"`
	Degraded    bool               `json:"degraded"`
	CommittedAt time.Time          `json:"committed_at"`
}

// NewAttemptParams contains parameters for ingesting a submission.
type NewAttemptParams struct {
	ID             string
	StudentID      shared.StudentID
	SkillID        shared.SkillID
	ItemID         shared.ItemID
	IdempotencyKey shared.IdempotencyKey
	RawResponse    string
	ResponseTime   time.Duration
	ReceivedAt     time.Time
}

// NewAttempt creates an attempt in the Received state.
func NewAttempt(params NewAttemptParams) (*Attempt, error) {
	if params.ID == "" {
		return nil, shared.NewDomainError("attempt", "New", shared.ErrEmptyValue, "attempt id is required")
	}
	if params.StudentID.IsEmpty() {
		return nil, shared.ErrInvalidStudentID
	}
	if params.ItemID.IsEmpty() {
		return nil, shared.ErrInvalidItemID
	}
	if !params.IdempotencyKey.IsValid() {
		return nil, shared.ErrEmptyIdempotency
	}
	if params.ReceivedAt.IsZero() {
		return nil, shared.NewDomainError("attempt", "New", shared.ErrEmptyValue, "received timestamp is required")
	}

	return &Attempt{
		ID:             params.ID,
		StudentID:      params.StudentID,
		SkillID:        params.SkillID,
		ItemID:         params.ItemID,
		IdempotencyKey: params.IdempotencyKey,
		RawResponse:    params.RawResponse,
		ResponseTime:   params.ResponseTime,
		State:          StateReceived,
		ReceivedAt:     params.ReceivedAt,
	}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// STATE TRANSITIONS
// ══════════════════════════════════════════════════════════════════════════════

func (a *Attempt) transition(target State) error {
	if !a.State.CanTransition(target) {
		return shared.WrapError("attempt", "Transition", shared.ErrStateTransition,
			fmt.Sprintf("cannot move from %s to %s", a.State, target), nil)
	}
	a.State = target
	return nil
}

// MarkValidated records that references and payload checked out.
func (a *Attempt) MarkValidated(skillID shared.SkillID, contentHash string) error {
	if err := a.transition(StateValidated); err != nil {
		return err
	}
	a.SkillID = skillID
	a.ItemContentHash = contentHash
	return nil
}

// MarkScored records the graded correctness.
func (a *Attempt) MarkScored(correctness shared.Correctness) error {
	if !correctness.IsValid() {
		return shared.ErrInvalidCorrectness
	}
	if err := a.transition(StateScored); err != nil {
		return err
	}
	a.Correctness = correctness
	return nil
}

// MarkMasteryUpdated records that tracer output was computed.
func (a *Attempt) MarkMasteryUpdated() error {
	return a.transition(StateMasteryUpdated)
}

// MarkCommitted finalizes the attempt with its result.
func (a *Attempt) MarkCommitted(result CommittedResult, at time.Time) error {
	if err := a.transition(StateCommitted); err != nil {
		return err
	}
	result.AttemptID = a.ID
	result.CommittedAt = at
	a.Result = &result
	a.CommittedAt = at
	return nil
}

// Reject moves the attempt to the Rejected state with a reason.
func (a *Attempt) Reject(reason string) error {
	if err := a.transition(StateRejected); err != nil {
		return err
	}
	a.RejectReason = reason
	return nil
}

// String returns a short representation for logging.
func (a *Attempt) String() string {
	return fmt.Sprintf("Attempt{ID: %s, Student: %s, Item: %s, State: %s}",
		a.ID, a.StudentID, a.ItemID, a.State)
}
