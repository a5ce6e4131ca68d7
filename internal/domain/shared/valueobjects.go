package shared

import "regexp"

// ═══════════════════════════════════════════════════════════════════════════
// Identifiers
// ═══════════════════════════════════════════════════════════════════════════

// identRegex is the naming convention for skills and items:
// lowercase segments joined by single hyphens, e.g. "algebra-linear-eq"
// or "go-slices-3".
var identRegex = regexp.MustCompile(`^[a-z][a-z0-9]*(-[a-z0-9]+)*$`)

// StudentID keys the engine's state for one learner. Identity itself
// lives in an upstream service; the engine treats the ID as opaque and
// only rejects blanks.
type StudentID string

func (s StudentID) String() string { return string(s) }
func (s StudentID) IsEmpty() bool  { return s == "" }

// SkillID names one node in the skill graph.
type SkillID string

func (s SkillID) String() string { return string(s) }
func (s SkillID) IsEmpty() bool  { return s == "" }

// IsValid checks length and the naming convention.
func (s SkillID) IsValid() bool {
	return len(s) >= 2 && len(s) <= 64 && identRegex.MatchString(string(s))
}

// ItemID names one practice item. Items share the skill naming
// convention.
type ItemID string

func (i ItemID) String() string { return string(i) }
func (i ItemID) IsEmpty() bool  { return i == "" }

// IsValid checks length and the naming convention.
func (i ItemID) IsValid() bool {
	return len(i) >= 2 && len(i) <= 64 && identRegex.MatchString(string(i))
}

// IdempotencyKey deduplicates client retries of the same submission.
// The client chooses it; the engine only bounds its length.
type IdempotencyKey string

func (k IdempotencyKey) String() string { return string(k) }

// IsValid checks the key is non-empty and bounded.
func (k IdempotencyKey) IsValid() bool {
	return len(k) > 0 && len(k) <= 128
}

// ═══════════════════════════════════════════════════════════════════════════
// Correctness
// ═══════════════════════════════════════════════════════════════════════════

// Correctness is a graded attempt outcome in [0,1]. 1 is fully correct,
// 0 fully incorrect; fractional values carry partial credit.
type Correctness float64

func (c Correctness) Float64() float64 { return float64(c) }

// IsValid checks the grade is within [0,1].
func (c Correctness) IsValid() bool {
	return c >= 0 && c <= 1
}

// NewCorrectness validates a raw grade.
func NewCorrectness(v float64) (Correctness, error) {
	c := Correctness(v)
	if !c.IsValid() {
		return 0, ErrInvalidCorrectness
	}
	return c, nil
}

// ClampUnit forces a raw float64 into [0,1]. Arithmetic on
// probabilities can drift a hair outside the interval, never
// meaningfully.
func ClampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
