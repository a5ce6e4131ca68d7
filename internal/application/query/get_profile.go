// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/skillforge/mastery-engine/internal/domain/profile"
	"github.com/skillforge/mastery-engine/internal/domain/shared"
	"github.com/skillforge/mastery-engine/internal/domain/skill"
	"github.com/skillforge/mastery-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET PROFILE QUERY
// Reads mastery profiles through the cache. Skills the student never
// touched report the skill prior with zero confidence, so the view
// always covers the whole taxonomy.
// ══════════════════════════════════════════════════════════════════════════════

// GetProfileQuery fetches one profile or a student's full profile set.
type GetProfileQuery struct {
	// StudentID is the student to read.
	StudentID string

	// SkillID narrows the query to one skill. Empty means all skills.
	SkillID string
}

// Validate validates the query.
func (q GetProfileQuery) Validate() error {
	if q.StudentID == "" {
		return errors.New("get_profile: student_id is required")
	}
	return nil
}

// ProfileView is one (student, skill) mastery row.
type ProfileView struct {
	// StudentID is the student.
	StudentID string `json:"student_id"`

	// SkillID is the skill.
	SkillID string `json:"skill_id"`

	// Mastery is the current fused estimate in [0,1].
	Mastery float64 `json:"mastery"`

	// Confidence reflects the evidence behind the estimate.
	Confidence float64 `json:"confidence"`

	// Attempts is the number of committed attempts folded in.
	Attempts int `json:"attempts"`

	// LastAttemptAt is when the student last practiced the skill.
	// Zero when they never did.
	LastAttemptAt time.Time `json:"last_attempt_at,omitempty"`
}

// GetProfileResult is the query result.
type GetProfileResult struct {
	Profiles []ProfileView `json:"profiles"`
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// GetProfileHandler handles the GetProfileQuery.
type GetProfileHandler struct {
	graph *skill.Graph
	store profile.Store
	cache profile.Cache
	ttl   time.Duration
	log   *logger.Logger
}

// NewGetProfileHandler creates a new GetProfileHandler. The cache is
// optional.
func NewGetProfileHandler(graph *skill.Graph, store profile.Store, cache profile.Cache, cacheTTL time.Duration, log *logger.Logger) *GetProfileHandler {
	if log == nil {
		log = logger.Default()
	}
	return &GetProfileHandler{
		graph: graph,
		store: store,
		cache: cache,
		ttl:   cacheTTL,
		log:   log.With(logger.Component("get_profile")),
	}
}

// Handle executes the get profile query.
func (h *GetProfileHandler) Handle(ctx context.Context, q GetProfileQuery) (*GetProfileResult, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("get_profile: validation failed: %w", err)
	}

	studentID := shared.StudentID(q.StudentID)

	if q.SkillID != "" {
		view, err := h.getOne(ctx, studentID, shared.SkillID(q.SkillID))
		if err != nil {
			return nil, err
		}
		return &GetProfileResult{Profiles: []ProfileView{*view}}, nil
	}

	return h.getAll(ctx, studentID)
}

// getOne reads a single pair through the cache.
func (h *GetProfileHandler) getOne(ctx context.Context, studentID shared.StudentID, skillID shared.SkillID) (*ProfileView, error) {
	sk, ok := h.graph.Get(skillID)
	if !ok {
		return nil, shared.ErrSkillNotFound
	}

	if h.cache != nil {
		if p, err := h.cache.Get(ctx, studentID, skillID); err == nil {
			return profileToView(p), nil
		}
	}

	p, err := h.store.Get(ctx, studentID, skillID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return priorView(studentID, sk), nil
		}
		return nil, err
	}

	if h.cache != nil {
		if err := h.cache.Set(ctx, p, h.ttl); err != nil {
			h.log.Warn("profile cache write failed",
				logger.StudentID(studentID.String()), logger.Err(err))
		}
	}
	return profileToView(p), nil
}

// getAll reads the store once and fills priors for untouched skills.
func (h *GetProfileHandler) getAll(ctx context.Context, studentID shared.StudentID) (*GetProfileResult, error) {
	profiles, err := h.store.GetByStudent(ctx, studentID)
	if err != nil {
		return nil, err
	}

	bySkill := make(map[shared.SkillID]*profile.MasteryProfile, len(profiles))
	for _, p := range profiles {
		bySkill[p.SkillID] = p
	}

	views := make([]ProfileView, 0, h.graph.Size())
	for _, id := range h.graph.TopoOrder() {
		if p, ok := bySkill[id]; ok {
			views = append(views, *profileToView(p))
			continue
		}
		sk, _ := h.graph.Get(id)
		views = append(views, *priorView(studentID, sk))
	}
	return &GetProfileResult{Profiles: views}, nil
}

func profileToView(p *profile.MasteryProfile) *ProfileView {
	return &ProfileView{
		StudentID:     p.StudentID.String(),
		SkillID:       p.SkillID.String(),
		Mastery:       p.Mastery,
		Confidence:    p.Confidence,
		Attempts:      p.Attempts,
		LastAttemptAt: p.LastAttemptAt,
	}
}

func priorView(studentID shared.StudentID, sk *skill.Skill) *ProfileView {
	return &ProfileView{
		StudentID:  studentID.String(),
		SkillID:    sk.ID.String(),
		Mastery:    sk.Params.Prior,
		Confidence: 0,
	}
}
