package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCronExpression_Invalid(t *testing.T) {
	for _, expr := range []string{
		"",
		"* * * *",
		"* * * * * *",
		"61 * * * *",
		"* 24 * * *",
		"*/0 * * * *",
		"a * * * *",
		"5-2 * * * *",
	} {
		_, err := ParseCronExpression(expr)
		assert.Error(t, err, "expression %q must not parse", expr)
	}
}

func TestCronExpression_Next(t *testing.T) {
	// Wednesday 2026-04-01 10:30 UTC.
	base := time.Date(2026, 4, 1, 10, 30, 0, 0, time.UTC)

	tests := []struct {
		expr string
		want time.Time
	}{
		{"* * * * *", base.Add(time.Minute)},
		{"*/15 * * * *", time.Date(2026, 4, 1, 10, 45, 0, 0, time.UTC)},
		{"0 * * * *", time.Date(2026, 4, 1, 11, 0, 0, 0, time.UTC)},
		// Nightly recalibration window.
		{"0 3 * * *", time.Date(2026, 4, 2, 3, 0, 0, 0, time.UTC)},
		// Weekly replay sweep, next Sunday.
		{"0 4 * * 0", time.Date(2026, 4, 5, 4, 0, 0, 0, time.UTC)},
		{"30 10 1 * *", time.Date(2026, 5, 1, 10, 30, 0, 0, time.UTC)},
		{"15,45 9-11 * * *", time.Date(2026, 4, 1, 10, 45, 0, 0, time.UTC)},
	}

	for _, tc := range tests {
		ce, err := ParseCronExpression(tc.expr)
		require.NoError(t, err, tc.expr)
		assert.Equal(t, tc.want, ce.Next(base), "expression %q", tc.expr)
	}
}

func TestCronExpression_NextIsStrictlyAfter(t *testing.T) {
	ce, err := ParseCronExpression("0 3 * * *")
	require.NoError(t, err)

	exactly := time.Date(2026, 4, 1, 3, 0, 0, 0, time.UTC)
	next := ce.Next(exactly)
	assert.Equal(t, exactly.AddDate(0, 0, 1), next)
}

func TestIntervalSchedule(t *testing.T) {
	s := NewIntervalSchedule(10 * time.Minute)
	at := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, at.Add(10*time.Minute), s.Next(at))
	assert.Equal(t, "@every 10m0s", s.String())
}
