package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/skillforge/mastery-engine/internal/application/command"
	"github.com/skillforge/mastery-engine/internal/application/query"
	"github.com/skillforge/mastery-engine/internal/domain/shared"
	"github.com/skillforge/mastery-engine/internal/domain/skill"
	"github.com/skillforge/mastery-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// ROOT & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleRoot handles the root endpoint.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeJSONError(w, http.StatusNotFound, "not_found", "The requested resource was not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"service": "mastery-engine",
		"version": "v1",
		"status":  "running",
		"uptime":  s.Uptime().Round(time.Second).String(),
	})
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	status := s.deps.HealthChecker.Check(r.Context())

	httpStatus := http.StatusOK
	if !status.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, status)
}

// handleReady handles readiness probe requests. Degraded mode is
// reported but does not fail readiness: the fallback estimator still
// serves.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker == nil {
		writeJSON(w, http.StatusOK, map[string]bool{"ready": true})
		return
	}

	status := s.deps.HealthChecker.Check(r.Context())
	if !status.Ready {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"ready":   false,
			"message": status.Message,
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ready":    true,
		"degraded": status.Degraded,
	})
}

// handleLive handles liveness probe requests. Liveness only confirms
// the process responds; dependency failures are readiness concerns.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"alive": true})
}

// ══════════════════════════════════════════════════════════════════════════════
// ATTEMPT SUBMISSION
// ══════════════════════════════════════════════════════════════════════════════

// submitAttemptRequest is the request body for POST /api/v1/attempts.
type submitAttemptRequest struct {
	StudentID      string   `json:"student_id"`
	ItemID         string   `json:"item_id"`
	IdempotencyKey string   `json:"idempotency_key"`
	RawResponse    string   `json:"raw_response,omitempty"`
	Correctness    *float64 `json:"correctness,omitempty"`
	ResponseTimeMs int64    `json:"response_time_ms,omitempty"`
}

// submitAttemptResponse is the response body for a committed attempt.
type submitAttemptResponse struct {
	AttemptID   string    `json:"attempt_id"`
	Correctness float64   `json:"correctness"`
	OldMastery  float64   `json:"old_mastery"`
	NewMastery  float64   `json:"new_mastery"`
	Confidence  float64   `json:"confidence"`
	Degraded    bool      `json:"degraded,omitempty"`
	CommittedAt time.Time `json:"committed_at"`
}

// handleSubmitAttempt handles POST /api/v1/attempts. Resubmitting an
// already-processed idempotency key replays the stored result, so
// client retries are always safe.
func (s *Server) handleSubmitAttempt(w http.ResponseWriter, r *http.Request) {
	var req submitAttemptRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	result, err := s.deps.SubmitAttemptHandler.Handle(r.Context(), command.SubmitAttemptCommand{
		StudentID:      req.StudentID,
		ItemID:         req.ItemID,
		IdempotencyKey: req.IdempotencyKey,
		RawResponse:    req.RawResponse,
		Correctness:    req.Correctness,
		ResponseTime:   time.Duration(req.ResponseTimeMs) * time.Millisecond,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, submitAttemptResponse{
		AttemptID:   result.AttemptID,
		Correctness: result.Correctness,
		OldMastery:  result.OldMastery,
		NewMastery:  result.NewMastery,
		Confidence:  result.Confidence,
		Degraded:    result.Degraded,
		CommittedAt: result.CommittedAt,
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// NEXT ITEM & PROFILES
// ══════════════════════════════════════════════════════════════════════════════

// handleNextItem handles GET /api/v1/students/{id}/next-item.
func (s *Server) handleNextItem(w http.ResponseWriter, r *http.Request) {
	view, err := s.deps.NextItemHandler.Handle(r.Context(), query.NextItemQuery{
		StudentID: r.PathValue("id"),
	})
	if err != nil {
		if errors.Is(err, shared.ErrNoEligibleItem) {
			writeJSONError(w, http.StatusNotFound, "no_eligible_item",
				"No item is currently selectable for this student")
			return
		}
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, view)
}

// handleGetProfiles handles GET /api/v1/students/{id}/profile. The
// skill_id query parameter narrows the result to one skill.
func (s *Server) handleGetProfiles(w http.ResponseWriter, r *http.Request) {
	result, err := s.deps.GetProfileHandler.Handle(r.Context(), query.GetProfileQuery{
		StudentID: r.PathValue("id"),
		SkillID:   getQueryParam(r, "skill_id", ""),
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// handleGetProfile handles GET /api/v1/students/{id}/profile/{skill}.
func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	result, err := s.deps.GetProfileHandler.Handle(r.Context(), query.GetProfileQuery{
		StudentID: r.PathValue("id"),
		SkillID:   r.PathValue("skill"),
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result.Profiles[0])
}

// ══════════════════════════════════════════════════════════════════════════════
// ADMINISTRATIVE HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// registerSkillRequest is the request body for POST /api/v1/skills.
type registerSkillRequest struct {
	ID            string             `json:"id"`
	Name          string             `json:"name"`
	Description   string             `json:"description,omitempty"`
	Prerequisites []string           `json:"prerequisites,omitempty"`
	Params        *skill.ModelParams `json:"params,omitempty"`
}

// handleRegisterSkill handles POST /api/v1/skills.
func (s *Server) handleRegisterSkill(w http.ResponseWriter, r *http.Request) {
	var req registerSkillRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	sk, err := s.deps.RegisterSkillHandler.Handle(r.Context(), command.RegisterSkillCommand{
		ID:            req.ID,
		Name:          req.Name,
		Description:   req.Description,
		Prerequisites: req.Prerequisites,
		Params:        req.Params,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id":            sk.ID.String(),
		"name":          sk.Name,
		"prerequisites": req.Prerequisites,
	})
}

// registerItemRequest is the request body for POST /api/v1/items.
type registerItemRequest struct {
	ID        string   `json:"id"`
	SkillID   string   `json:"skill_id"`
	Prompt    string   `json:"prompt"`
	AnswerKey []string `json:"answer_key"`
}

// handleRegisterItem handles POST /api/v1/items.
func (s *Server) handleRegisterItem(w http.ResponseWriter, r *http.Request) {
	var req registerItemRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	it, err := s.deps.RegisterItemHandler.Handle(r.Context(), command.RegisterItemCommand{
		ID:        req.ID,
		SkillID:   req.SkillID,
		Prompt:    req.Prompt,
		AnswerKey: req.AnswerKey,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id":           it.ID.String(),
		"skill_id":     it.SkillID.String(),
		"content_hash": it.ContentHash,
	})
}

// handleDeprecateItem handles DELETE /api/v1/items/{id}. The item stays
// in storage because the attempt log references it.
func (s *Server) handleDeprecateItem(w http.ResponseWriter, r *http.Request) {
	err := s.deps.DeprecateItemHandler.Handle(r.Context(), command.DeprecateItemCommand{
		ItemID: r.PathValue("id"),
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"item_id": r.PathValue("id"),
		"status":  "deprecated",
	})
}

// recomputeResponse is the response body for a replay.
type recomputeResponse struct {
	StudentID        string `json:"student_id"`
	SkillsUpdated    int    `json:"skills_updated"`
	AttemptsReplayed int    `json:"attempts_replayed"`
	DurationMs       int64  `json:"duration_ms"`
}

// handleRecompute handles POST /api/v1/students/{id}/recompute.
func (s *Server) handleRecompute(w http.ResponseWriter, r *http.Request) {
	result, err := s.deps.RecomputeMasteryHandler.Handle(r.Context(), command.RecomputeMasteryCommand{
		StudentID: r.PathValue("id"),
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, recomputeResponse{
		StudentID:        result.StudentID,
		SkillsUpdated:    result.SkillsUpdated,
		AttemptsReplayed: result.AttemptsReplayed,
		DurationMs:       result.Duration.Milliseconds(),
	})
}

// calibrationRunResponse is the response body for a calibration pass.
type calibrationRunResponse struct {
	ItemsFitted  int   `json:"items_fitted"`
	ItemsSkipped int   `json:"items_skipped"`
	ItemsFlagged int   `json:"items_flagged"`
	DurationMs   int64 `json:"duration_ms"`
}

// handleRunCalibration handles POST /api/v1/calibration/run.
func (s *Server) handleRunCalibration(w http.ResponseWriter, r *http.Request) {
	result, err := s.deps.CalibrateItemsHandler.Handle(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, calibrationRunResponse{
		ItemsFitted:  result.ItemsFitted,
		ItemsSkipped: result.ItemsSkipped,
		ItemsFlagged: result.ItemsFlagged,
		DurationMs:   result.Duration.Milliseconds(),
	})
}

// handleCalibrationReport handles GET /api/v1/calibration/report.
func (s *Server) handleCalibrationReport(w http.ResponseWriter, r *http.Request) {
	report, err := s.deps.CalibrationReportHandler.Handle(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST & ERROR HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// decodeBody decodes a JSON request body, writing a 400 on failure.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	defer func() { _, _ = io.Copy(io.Discard, r.Body) }()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
		return false
	}
	return true
}

// writeDomainError maps domain errors to HTTP status codes.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case shared.IsNotFound(err):
		writeJSONError(w, http.StatusNotFound, "not_found", err.Error())
	case shared.IsAlreadyExists(err):
		writeJSONError(w, http.StatusConflict, "already_exists", err.Error())
	case errors.Is(err, shared.ErrAttemptRejected):
		writeJSONError(w, http.StatusUnprocessableEntity, "attempt_rejected", err.Error())
	case errors.Is(err, shared.ErrItemDeprecated):
		writeJSONError(w, http.StatusConflict, "item_deprecated", err.Error())
	case errors.Is(err, shared.ErrConcurrentModification):
		writeJSONError(w, http.StatusConflict, "concurrent_modification", err.Error())
	case shared.IsValidation(err) || isValidationMessage(err):
		writeJSONError(w, http.StatusBadRequest, "validation_error", err.Error())
	case errors.Is(err, shared.ErrServiceUnavailable) || errors.Is(err, shared.ErrTimeout):
		writeJSONError(w, http.StatusServiceUnavailable, "service_unavailable", err.Error())
	default:
		s.log.Error("unhandled domain error",
			logger.String("path", r.URL.Path),
			logger.String("request_id", getRequestID(r.Context())),
			logger.Err(err),
		)
		writeJSONError(w, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
	}
}

// isValidationMessage catches command Validate errors, which wrap plain
// errors.New values rather than the shared sentinels.
func isValidationMessage(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "validation failed") || strings.Contains(msg, "is required")
}

// getQueryParam returns a query parameter or a default.
func getQueryParam(r *http.Request, name, defaultValue string) string {
	if v := r.URL.Query().Get(name); v != "" {
		return v
	}
	return defaultValue
}
