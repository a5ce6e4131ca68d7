package attempt

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skillforge/mastery-engine/internal/domain/shared"
)

func newReceived(t *testing.T) *Attempt {
	t.Helper()
	a, err := NewAttempt(NewAttemptParams{
		ID:             "11111111-1111-1111-1111-111111111111",
		StudentID:      "22222222-2222-2222-2222-222222222222",
		ItemID:         "fractions-add-01",
		IdempotencyKey: "client-key-1",
		RawResponse:    "3/4",
		ReceivedAt:     time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	return a
}

func TestAttempt_HappyPathTransitions(t *testing.T) {
	a := newReceived(t)
	assert.Equal(t, StateReceived, a.State)

	require.NoError(t, a.MarkValidated("fractions", "hash-v1"))
	assert.Equal(t, shared.SkillID("fractions"), a.SkillID)

	require.NoError(t, a.MarkScored(1))
	require.NoError(t, a.MarkMasteryUpdated())

	committedAt := time.Date(2025, 6, 1, 10, 0, 1, 0, time.UTC)
	require.NoError(t, a.MarkCommitted(CommittedResult{NewMastery: 0.6}, committedAt))

	assert.Equal(t, StateCommitted, a.State)
	assert.Equal(t, committedAt, a.CommittedAt)
	require.NotNil(t, a.Result)
	assert.Equal(t, a.ID, a.Result.AttemptID)
	assert.Equal(t, committedAt, a.Result.CommittedAt)
}

func TestAttempt_CannotSkipStates(t *testing.T) {
	a := newReceived(t)

	err := a.MarkScored(1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrStateTransition))

	err = a.MarkCommitted(CommittedResult{}, time.Now())
	assert.True(t, errors.Is(err, shared.ErrStateTransition))
}

func TestAttempt_RejectFromAnyNonTerminalState(t *testing.T) {
	a := newReceived(t)
	require.NoError(t, a.Reject("unknown item"))
	assert.Equal(t, StateRejected, a.State)
	assert.Equal(t, "unknown item", a.RejectReason)

	b := newReceived(t)
	require.NoError(t, b.MarkValidated("fractions", "hash-v1"))
	require.NoError(t, b.MarkScored(0.5))
	require.NoError(t, b.Reject("late validation failure"))
	assert.Equal(t, StateRejected, b.State)
}

func TestAttempt_TerminalStatesAreFinal(t *testing.T) {
	a := newReceived(t)
	require.NoError(t, a.Reject("bad payload"))

	err := a.MarkValidated("fractions", "hash-v1")
	assert.True(t, errors.Is(err, shared.ErrStateTransition))
	err = a.Reject("again")
	assert.True(t, errors.Is(err, shared.ErrStateTransition))
}

func TestAttempt_ScoredRejectsInvalidCorrectness(t *testing.T) {
	a := newReceived(t)
	require.NoError(t, a.MarkValidated("fractions", "hash-v1"))

	err := a.MarkScored(1.2)
	require.Error(t, err)
	assert.Equal(t, StateValidated, a.State, "failed grading must not advance the state")
}

func TestNewAttempt_Validation(t *testing.T) {
	base := NewAttemptParams{
		ID:             "11111111-1111-1111-1111-111111111111",
		StudentID:      "22222222-2222-2222-2222-222222222222",
		ItemID:         "fractions-add-01",
		IdempotencyKey: "key",
		ReceivedAt:     time.Now(),
	}

	missing := base
	missing.IdempotencyKey = ""
	_, err := NewAttempt(missing)
	assert.True(t, errors.Is(err, shared.ErrEmptyValue))

	noTime := base
	noTime.ReceivedAt = time.Time{}
	_, err = NewAttempt(noTime)
	assert.Error(t, err)
}
