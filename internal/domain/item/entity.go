// Package item contains the practice item domain model: the content a
// student responds to, its answer key, and its calibration state.
package item

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/skillforge/mastery-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CALIBRATION STATE
// ══════════════════════════════════════════════════════════════════════════════

// Calibration holds the 2PL parameters fitted for an item.
type Calibration struct {
	// Difficulty is the 2PL location parameter. Higher means harder.
	Difficulty float64

	// Discrimination is the 2PL slope parameter. Higher means the
	// item separates students around its difficulty more sharply.
	Discrimination float64

	// ResponseCount is the number of responses the fit used.
	ResponseCount int

	// LowConfidence marks fits that did not converge or ran on too
	// few responses. The parameters are still the last good ones.
	LowConfidence bool

	// CalibratedAt is when the parameters were last fitted.
	CalibratedAt time.Time
}

// DefaultCalibration returns the parameters for a fresh, unfitted item.
func DefaultCalibration() Calibration {
	return Calibration{
		Difficulty:     0.5,
		Discrimination: 1.0,
		LowConfidence:  true,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MAIN ENTITY: ITEM
// ══════════════════════════════════════════════════════════════════════════════

// Item is a practice item belonging to exactly one skill. The engine
// owns the item's metadata and calibration; the full content body lives
// in the content service.
type Item struct {
	// ID is the unique item identifier.
	ID shared.ItemID

	// SkillID is the skill this item exercises.
	SkillID shared.SkillID

	// AnswerKey lists the accepted answer components. A response
	// earns credit proportional to how many components it matches.
	AnswerKey []string

	// ContentHash versions the item content. Any edit to the prompt
	// or answer key produces a new hash, which invalidates old
	// calibration assumptions.
	ContentHash string

	// Calibration is the current 2PL fit.
	Calibration Calibration

	// Deprecated items are excluded from selection but kept for the
	// attempt log and replay.
	Deprecated bool

	// CreatedAt is when the item was registered.
	CreatedAt time.Time

	// UpdatedAt is when the item was last modified.
	UpdatedAt time.Time
}

// NewItemParams contains parameters for creating an item.
type NewItemParams struct {
	ID        shared.ItemID
	SkillID   shared.SkillID
	Prompt    string
	AnswerKey []string
}

// NewItem creates an item with full validation.
func NewItem(params NewItemParams) (*Item, error) {
	if !params.ID.IsValid() {
		return nil, shared.ErrInvalidItemID
	}
	if !params.SkillID.IsValid() {
		return nil, shared.ErrInvalidSkillID
	}
	if len(params.AnswerKey) == 0 {
		return nil, shared.NewDomainError("item", "New", shared.ErrEmptyValue, "answer key cannot be empty")
	}

	key := make([]string, 0, len(params.AnswerKey))
	for _, part := range params.AnswerKey {
		part = normalizeAnswer(part)
		if part == "" {
			return nil, shared.NewDomainError("item", "New", shared.ErrEmptyValue, "answer key component cannot be blank")
		}
		key = append(key, part)
	}

	now := time.Now().UTC()

	return &Item{
		ID:          params.ID,
		SkillID:     params.SkillID,
		AnswerKey:   key,
		ContentHash: HashContent(params.Prompt, key),
		Calibration: DefaultCalibration(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// HashContent computes the content version hash over the prompt and
// answer key.
func HashContent(prompt string, answerKey []string) string {
	h, _ := blake2b.New256(nil)
	h.Write([]byte(prompt))
	for _, part := range answerKey {
		h.Write([]byte{0})
		h.Write([]byte(part))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func normalizeAnswer(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// ══════════════════════════════════════════════════════════════════════════════
// DOMAIN METHODS
// ══════════════════════════════════════════════════════════════════════════════

// Score grades a raw response against the answer key and returns
// fractional credit: the share of answer key components present in the
// response. A single-component key grades to 0 or 1.
func (i *Item) Score(response string) shared.Correctness {
	normalized := normalizeAnswer(response)
	if normalized == "" {
		return 0
	}

	matched := 0
	for _, part := range i.AnswerKey {
		if strings.Contains(normalized, part) {
			matched++
		}
	}
	return shared.Correctness(float64(matched) / float64(len(i.AnswerKey)))
}

// ApplyCalibration records a new 2PL fit.
func (i *Item) ApplyCalibration(c Calibration) {
	i.Calibration = c
	i.UpdatedAt = time.Now().UTC()
}

// FlagLowConfidence marks the current calibration as unreliable
// without touching the parameters.
func (i *Item) FlagLowConfidence() {
	i.Calibration.LowConfidence = true
	i.UpdatedAt = time.Now().UTC()
}

// Deprecate removes the item from future selection.
func (i *Item) Deprecate() {
	i.Deprecated = true
	i.UpdatedAt = time.Now().UTC()
}

// IsSelectable reports whether the selector may serve this item.
func (i *Item) IsSelectable() bool {
	return !i.Deprecated
}

// PredictedSuccess returns the 2PL success probability for a student
// with the given ability (their current mastery estimate).
func (i *Item) PredictedSuccess(ability float64) float64 {
	return TwoPL(ability, i.Calibration.Difficulty, i.Calibration.Discrimination)
}

// String returns a short representation for logging.
func (i *Item) String() string {
	return fmt.Sprintf("Item{ID: %s, Skill: %s, Diff: %.2f, Deprecated: %v}",
		i.ID, i.SkillID, i.Calibration.Difficulty, i.Deprecated)
}

// Clone creates a copy of the item.
func (i *Item) Clone() *Item {
	if i == nil {
		return nil
	}
	clone := *i
	clone.AnswerKey = append([]string(nil), i.AnswerKey...)
	return &clone
}
