// Package selector chooses the next practice item for a student:
// prerequisite gating first, then the weakest eligible skill, then
// difficulty targeting within that skill, with exposure recency as the
// tie-break.
package selector

import (
	"context"
	"errors"
	"math"
	"sort"
	"time"

	"github.com/skillforge/mastery-engine/internal/domain/item"
	"github.com/skillforge/mastery-engine/internal/domain/profile"
	"github.com/skillforge/mastery-engine/internal/domain/shared"
	"github.com/skillforge/mastery-engine/internal/domain/skill"
	"github.com/skillforge/mastery-engine/pkg/logger"
)

// Config holds the selection policy thresholds.
type Config struct {
	// MasteryFloor is the prerequisite mastery a student must hold
	// before dependent skills unlock.
	MasteryFloor float64

	// MasteryCeiling excludes skills the student has effectively
	// mastered from further practice.
	MasteryCeiling float64

	// TargetSuccess is the ideal predicted success probability for
	// the served item.
	TargetSuccess float64

	// BandLow and BandHigh bound the acceptable predicted success
	// range. Items inside the band are preferred over items outside.
	BandLow  float64
	BandHigh float64
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		MasteryFloor:   0.5,
		MasteryCeiling: 0.95,
		TargetSuccess:  0.7,
		BandLow:        0.6,
		BandHigh:       0.75,
	}
}

// Validate checks the policy thresholds.
func (c Config) Validate() error {
	fail := func(msg string) error {
		return shared.WrapError("selector", "ValidateConfig", shared.ErrConfiguration, msg, nil)
	}
	if c.MasteryFloor < 0 || c.MasteryFloor > 1 {
		return fail("mastery floor must be in [0,1]")
	}
	if c.MasteryCeiling <= 0 || c.MasteryCeiling > 1 {
		return fail("mastery ceiling must be in (0,1]")
	}
	if c.TargetSuccess <= 0 || c.TargetSuccess >= 1 {
		return fail("target success must be in (0,1)")
	}
	if c.BandLow < 0 || c.BandHigh > 1 || c.BandLow >= c.BandHigh {
		return fail("band must satisfy 0 <= low < high <= 1")
	}
	if c.TargetSuccess < c.BandLow || c.TargetSuccess > c.BandHigh {
		return fail("target success must lie inside the band")
	}
	return nil
}

// Selector implements the next-item policy.
type Selector struct {
	graph     *skill.Graph
	profiles  profile.Store
	items     item.Repository
	exposures item.ExposureTracker
	cfg       Config
	log       *logger.Logger
}

// New creates a selector over a validated prerequisite graph.
func New(
	graph *skill.Graph,
	profiles profile.Store,
	items item.Repository,
	exposures item.ExposureTracker,
	cfg Config,
	log *logger.Logger,
) (*Selector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Default()
	}
	return &Selector{
		graph:     graph,
		profiles:  profiles,
		items:     items,
		exposures: exposures,
		cfg:       cfg,
		log:       log.With(logger.Component("selector")),
	}, nil
}

// Choice is the selection result.
type Choice struct {
	Item             *item.Item
	SkillID          shared.SkillID
	Mastery          float64
	PredictedSuccess float64
}

// NextItem picks the item the student should practice next.
// Returns shared.ErrNoEligibleItem when every skill is locked,
// mastered, or out of selectable items.
func (s *Selector) NextItem(ctx context.Context, studentID shared.StudentID) (*Choice, error) {
	mastery, err := s.masteryBySkill(ctx, studentID)
	if err != nil {
		return nil, err
	}
	lookup := func(id shared.SkillID) float64 { return mastery[id] }

	// Candidate skills: prerequisites met and below the ceiling,
	// weakest first. Skill ID breaks exact ties deterministically.
	candidates := make([]shared.SkillID, 0)
	for _, id := range s.graph.UnlockedSkills(lookup, s.cfg.MasteryFloor) {
		if mastery[id] < s.cfg.MasteryCeiling {
			candidates = append(candidates, id)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if mastery[candidates[i]] != mastery[candidates[j]] {
			return mastery[candidates[i]] < mastery[candidates[j]]
		}
		return candidates[i] < candidates[j]
	})

	for _, skillID := range candidates {
		choice, err := s.pickItem(ctx, studentID, skillID, mastery[skillID])
		if err != nil {
			if errors.Is(err, shared.ErrNoEligibleItem) {
				continue
			}
			return nil, err
		}
		return choice, nil
	}

	s.log.Debug("no eligible item",
		logger.StudentID(studentID.String()),
		logger.Int("candidate_skills", len(candidates)),
	)
	return nil, shared.ErrNoEligibleItem
}

// masteryBySkill loads the student's profiles and fills in each
// skill's prior where no profile exists yet.
func (s *Selector) masteryBySkill(ctx context.Context, studentID shared.StudentID) (map[shared.SkillID]float64, error) {
	profiles, err := s.profiles.GetByStudent(ctx, studentID)
	if err != nil {
		return nil, err
	}

	byID := make(map[shared.SkillID]float64, s.graph.Size())
	for _, id := range s.graph.TopoOrder() {
		sk, _ := s.graph.Get(id)
		byID[id] = sk.Params.Prior
	}
	for _, p := range profiles {
		if _, ok := byID[p.SkillID]; ok {
			byID[p.SkillID] = p.Mastery
		}
	}
	return byID, nil
}

// pickItem applies difficulty targeting within one skill.
func (s *Selector) pickItem(ctx context.Context, studentID shared.StudentID, skillID shared.SkillID, mastery float64) (*Choice, error) {
	items, err := s.items.GetBySkill(ctx, skillID)
	if err != nil {
		return nil, err
	}

	selectable := make([]*item.Item, 0, len(items))
	ids := make([]shared.ItemID, 0, len(items))
	for _, it := range items {
		if it.IsSelectable() {
			selectable = append(selectable, it)
			ids = append(ids, it.ID)
		}
	}
	if len(selectable) == 0 {
		return nil, shared.ErrNoEligibleItem
	}

	exposures := map[shared.ItemID]time.Time{}
	if s.exposures != nil {
		exposures, err = s.exposures.LastExposures(ctx, studentID, ids)
		if err != nil {
			// Selection must survive a dead recency store; fall back
			// to treating everything as never shown.
			s.log.Warn("exposure lookup failed",
				logger.StudentID(studentID.String()), logger.Err(err))
			exposures = map[shared.ItemID]time.Time{}
		}
	}

	best := -1
	var bestInBand bool
	var bestDistance float64
	var bestSuccess float64
	for i, it := range selectable {
		success := it.PredictedSuccess(mastery)
		inBand := success >= s.cfg.BandLow && success <= s.cfg.BandHigh
		distance := math.Abs(success - s.cfg.TargetSuccess)

		if best < 0 || s.better(inBand, distance, exposures[it.ID], it.ID,
			bestInBand, bestDistance, exposures[selectable[best].ID], selectable[best].ID) {
			best = i
			bestInBand = inBand
			bestDistance = distance
			bestSuccess = success
		}
	}

	return &Choice{
		Item:             selectable[best],
		SkillID:          skillID,
		Mastery:          mastery,
		PredictedSuccess: bestSuccess,
	}, nil
}

// better ranks candidate a over candidate b: band membership first,
// then distance to the target success, then least-recently-shown
// (never shown wins), then item ID for determinism.
func (s *Selector) better(
	aInBand bool, aDistance float64, aSeen time.Time, aID shared.ItemID,
	bInBand bool, bDistance float64, bSeen time.Time, bID shared.ItemID,
) bool {
	if aInBand != bInBand {
		return aInBand
	}
	if aDistance != bDistance {
		return aDistance < bDistance
	}
	if !aSeen.Equal(bSeen) {
		return aSeen.Before(bSeen)
	}
	return aID < bID
}
