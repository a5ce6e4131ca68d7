// Package profile contains the mastery profile domain model: the
// current estimate of a student's mastery for one skill, derived from
// the attempt log.
package profile

import (
	"fmt"
	"time"

	"github.com/skillforge/mastery-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN ENTITY: MASTERY PROFILE
// ══════════════════════════════════════════════════════════════════════════════

// MasteryProfile is the per-(student, skill) mastery state. It is a
// projection of the attempt log and can always be rebuilt from it.
type MasteryProfile struct {
	// StudentID identifies the student.
	StudentID shared.StudentID

	// SkillID identifies the skill.
	SkillID shared.SkillID

	// Mastery is the fused probability estimate in [0,1].
	Mastery float64

	// Confidence reflects how much evidence backs the estimate.
	Confidence float64

	// Attempts is the number of committed attempts folded in.
	Attempts int

	// LastAttemptAt is the server-received timestamp of the most
	// recent folded attempt. Updates must carry a strictly later
	// timestamp; stale writes are refused.
	LastAttemptAt time.Time

	// UpdatedAt is when the row last changed.
	UpdatedAt time.Time
}

// NewProfile creates a fresh profile seeded with the skill prior.
func NewProfile(studentID shared.StudentID, skillID shared.SkillID, prior float64) (*MasteryProfile, error) {
	if studentID.IsEmpty() {
		return nil, shared.ErrInvalidStudentID
	}
	if skillID.IsEmpty() {
		return nil, shared.ErrInvalidSkillID
	}
	if prior < 0 || prior > 1 {
		return nil, shared.ErrInvalidMastery
	}

	return &MasteryProfile{
		StudentID:  studentID,
		SkillID:    skillID,
		Mastery:    prior,
		Confidence: 0,
		UpdatedAt:  time.Now().UTC(),
	}, nil
}

// ApplyEstimate folds a committed attempt's fused estimate into the
// profile. The attempt timestamp must be strictly after the last one
// folded in; this is what makes concurrent pipelines safe to retry.
func (p *MasteryProfile) ApplyEstimate(mastery, confidence float64, attemptAt time.Time) error {
	if mastery < 0 || mastery > 1 {
		return shared.ErrInvalidMastery
	}
	if confidence < 0 || confidence > 1 {
		return shared.NewDomainError("profile", "ApplyEstimate", shared.ErrValueOutOfRange, "confidence must be in [0,1]")
	}
	if !attemptAt.After(p.LastAttemptAt) {
		return shared.ErrTimestampOrder
	}

	p.Mastery = mastery
	p.Confidence = confidence
	p.Attempts++
	p.LastAttemptAt = attemptAt
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// Rebuild overwrites the profile with the outcome of a full log
// replay. Unlike ApplyEstimate it carries no ordering check: replay
// derives its state from the log itself.
func (p *MasteryProfile) Rebuild(mastery, confidence float64, attempts int, lastAttemptAt time.Time) error {
	if mastery < 0 || mastery > 1 {
		return shared.ErrInvalidMastery
	}
	if confidence < 0 || confidence > 1 {
		return shared.NewDomainError("profile", "Rebuild", shared.ErrValueOutOfRange, "confidence must be in [0,1]")
	}
	if attempts < 0 {
		return shared.NewDomainError("profile", "Rebuild", shared.ErrValueOutOfRange, "attempt count cannot be negative")
	}

	p.Mastery = mastery
	p.Confidence = confidence
	p.Attempts = attempts
	p.LastAttemptAt = lastAttemptAt
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// Reset returns the profile to the prior state before a full replay.
func (p *MasteryProfile) Reset(prior float64) {
	p.Mastery = prior
	p.Confidence = 0
	p.Attempts = 0
	p.LastAttemptAt = time.Time{}
	p.UpdatedAt = time.Now().UTC()
}

// String returns a short representation for logging.
func (p *MasteryProfile) String() string {
	return fmt.Sprintf("MasteryProfile{Student: %s, Skill: %s, Mastery: %.3f, Attempts: %d}",
		p.StudentID, p.SkillID, p.Mastery, p.Attempts)
}

// Clone creates a copy of the profile.
func (p *MasteryProfile) Clone() *MasteryProfile {
	if p == nil {
		return nil
	}
	clone := *p
	return &clone
}
