package profile

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skillforge/mastery-engine/internal/domain/shared"
)

func TestNewProfile_SeedsPrior(t *testing.T) {
	p, err := NewProfile("22222222-2222-2222-2222-222222222222", "fractions", 0.3)
	require.NoError(t, err)

	assert.Equal(t, 0.3, p.Mastery)
	assert.Equal(t, 0.0, p.Confidence)
	assert.Equal(t, 0, p.Attempts)
	assert.True(t, p.LastAttemptAt.IsZero())
}

func TestProfile_ApplyEstimate(t *testing.T) {
	p, err := NewProfile("22222222-2222-2222-2222-222222222222", "fractions", 0.3)
	require.NoError(t, err)

	first := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, p.ApplyEstimate(0.55, 0.05, first))
	assert.Equal(t, 0.55, p.Mastery)
	assert.Equal(t, 1, p.Attempts)
	assert.Equal(t, first, p.LastAttemptAt)

	require.NoError(t, p.ApplyEstimate(0.62, 0.1, first.Add(time.Second)))
	assert.Equal(t, 2, p.Attempts)
}

func TestProfile_ApplyEstimate_RefusesStaleTimestamps(t *testing.T) {
	p, err := NewProfile("22222222-2222-2222-2222-222222222222", "fractions", 0.3)
	require.NoError(t, err)

	ts := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, p.ApplyEstimate(0.5, 0.05, ts))

	err = p.ApplyEstimate(0.6, 0.1, ts)
	assert.True(t, errors.Is(err, shared.ErrStaleTimestamp), "equal timestamp must be refused")

	err = p.ApplyEstimate(0.6, 0.1, ts.Add(-time.Second))
	assert.True(t, errors.Is(err, shared.ErrStaleTimestamp))

	assert.Equal(t, 0.5, p.Mastery, "stale write must not change state")
	assert.Equal(t, 1, p.Attempts)
}

func TestProfile_ApplyEstimate_ValidatesRanges(t *testing.T) {
	p, err := NewProfile("22222222-2222-2222-2222-222222222222", "fractions", 0.3)
	require.NoError(t, err)

	ts := time.Now()
	assert.Error(t, p.ApplyEstimate(1.1, 0.5, ts))
	assert.Error(t, p.ApplyEstimate(-0.1, 0.5, ts))
	assert.Error(t, p.ApplyEstimate(0.5, 1.5, ts))
}

func TestProfile_Reset(t *testing.T) {
	p, err := NewProfile("22222222-2222-2222-2222-222222222222", "fractions", 0.3)
	require.NoError(t, err)
	require.NoError(t, p.ApplyEstimate(0.8, 0.5, time.Now()))

	p.Reset(0.3)
	assert.Equal(t, 0.3, p.Mastery)
	assert.Equal(t, 0, p.Attempts)
	assert.True(t, p.LastAttemptAt.IsZero())
}
