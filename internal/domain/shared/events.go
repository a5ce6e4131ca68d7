package shared

import "time"

// EventType identifies a kind of domain event.
type EventType string

// Every event the engine emits. Subscribers key off these.
const (
	EventMasteryChanged    EventType = "mastery.changed"
	EventMasteryRecomputed EventType = "mastery.recomputed"

	EventAttemptRejected EventType = "attempt.rejected"

	EventItemRecalibrated     EventType = "item.recalibrated"
	EventCalibrationCompleted EventType = "calibration.completed"

	EventDegradedModeEntered EventType = "engine.degraded_mode_entered"
	EventDegradedModeExited  EventType = "engine.degraded_mode_exited"
)

// Event is what travels over the bus. Payload flattens the event into
// a map so transports can serialize it without knowing the concrete
// type.
type Event interface {
	EventType() EventType
	OccurredAt() time.Time
	AggregateID() string
	Payload() map[string]interface{}
}

// BaseEvent carries the fields every event shares. Concrete events
// embed it and add their own Payload.
type BaseEvent struct {
	Type        EventType `json:"type"`
	Timestamp   time.Time `json:"timestamp"`
	AggregateId string    `json:"aggregate_id"`
	Version     int       `json:"version"`
}

func (e BaseEvent) EventType() EventType  { return e.Type }
func (e BaseEvent) OccurredAt() time.Time { return e.Timestamp }
func (e BaseEvent) AggregateID() string   { return e.AggregateId }

// NewBaseEvent stamps an event with its type, aggregate, and time.
func NewBaseEvent(eventType EventType, aggregateID string) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   time.Now(),
		AggregateId: aggregateID,
		Version:     1,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Mastery Events
// ═══════════════════════════════════════════════════════════════════════════

// MasteryChangedEvent is emitted when a committed attempt moves a
// student's mastery estimate for a skill. Aggregate ID is the student.
type MasteryChangedEvent struct {
	BaseEvent
	StudentID   string    `json:"student_id"`
	SkillID     string    `json:"skill_id"`
	OldMastery  float64   `json:"old_mastery"`
	NewMastery  float64   `json:"new_mastery"`
	Confidence  float64   `json:"confidence"`
	AttemptID   string    `json:"attempt_id"`
	Degraded    bool      `json:"degraded"`
	CommittedAt time.Time `json:"committed_at"`
}

func (e MasteryChangedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id":   e.StudentID,
		"skill_id":     e.SkillID,
		"old_mastery":  e.OldMastery,
		"new_mastery":  e.NewMastery,
		"confidence":   e.Confidence,
		"attempt_id":   e.AttemptID,
		"degraded":     e.Degraded,
		"committed_at": e.CommittedAt.Format(time.RFC3339Nano),
	}
}

// NewMasteryChangedEvent builds the event for one mastery transition.
func NewMasteryChangedEvent(studentID, skillID string, oldMastery, newMastery, confidence float64, attemptID string, degraded bool, committedAt time.Time) MasteryChangedEvent {
	return MasteryChangedEvent{
		BaseEvent:   NewBaseEvent(EventMasteryChanged, studentID),
		StudentID:   studentID,
		SkillID:     skillID,
		OldMastery:  oldMastery,
		NewMastery:  newMastery,
		Confidence:  confidence,
		AttemptID:   attemptID,
		Degraded:    degraded,
		CommittedAt: committedAt,
	}
}

// Delta returns the signed change in mastery.
func (e MasteryChangedEvent) Delta() float64 {
	return e.NewMastery - e.OldMastery
}

// MasteryRecomputedEvent is emitted after a full replay of a student's
// attempt log overwrote their profiles.
type MasteryRecomputedEvent struct {
	BaseEvent
	StudentID        string `json:"student_id"`
	SkillsUpdated    int    `json:"skills_updated"`
	AttemptsReplayed int    `json:"attempts_replayed"`
}

func (e MasteryRecomputedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id":        e.StudentID,
		"skills_updated":    e.SkillsUpdated,
		"attempts_replayed": e.AttemptsReplayed,
	}
}

// NewMasteryRecomputedEvent builds the event for a finished replay.
func NewMasteryRecomputedEvent(studentID string, skillsUpdated, attemptsReplayed int) MasteryRecomputedEvent {
	return MasteryRecomputedEvent{
		BaseEvent:        NewBaseEvent(EventMasteryRecomputed, studentID),
		StudentID:        studentID,
		SkillsUpdated:    skillsUpdated,
		AttemptsReplayed: attemptsReplayed,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Attempt Events
// ═══════════════════════════════════════════════════════════════════════════

// AttemptRejectedEvent is emitted when a submission fails validation.
type AttemptRejectedEvent struct {
	BaseEvent
	StudentID      string `json:"student_id"`
	ItemID         string `json:"item_id"`
	IdempotencyKey string `json:"idempotency_key"`
	Reason         string `json:"reason"`
}

func (e AttemptRejectedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id":      e.StudentID,
		"item_id":         e.ItemID,
		"idempotency_key": e.IdempotencyKey,
		"reason":          e.Reason,
	}
}

// NewAttemptRejectedEvent builds the event for a rejected submission.
func NewAttemptRejectedEvent(studentID, itemID, idempotencyKey, reason string) AttemptRejectedEvent {
	return AttemptRejectedEvent{
		BaseEvent:      NewBaseEvent(EventAttemptRejected, studentID),
		StudentID:      studentID,
		ItemID:         itemID,
		IdempotencyKey: idempotencyKey,
		Reason:         reason,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Calibration Events
// ═══════════════════════════════════════════════════════════════════════════

// ItemRecalibratedEvent is emitted when a calibration run updates an
// item's difficulty and discrimination. Aggregate ID is the item.
type ItemRecalibratedEvent struct {
	BaseEvent
	ItemID            string  `json:"item_id"`
	OldDifficulty     float64 `json:"old_difficulty"`
	NewDifficulty     float64 `json:"new_difficulty"`
	OldDiscrimination float64 `json:"old_discrimination"`
	NewDiscrimination float64 `json:"new_discrimination"`
	ResponseCount     int     `json:"response_count"`
	LowConfidence     bool    `json:"low_confidence"`
}

func (e ItemRecalibratedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"item_id":            e.ItemID,
		"old_difficulty":     e.OldDifficulty,
		"new_difficulty":     e.NewDifficulty,
		"old_discrimination": e.OldDiscrimination,
		"new_discrimination": e.NewDiscrimination,
		"response_count":     e.ResponseCount,
		"low_confidence":     e.LowConfidence,
	}
}

// NewItemRecalibratedEvent builds the event for one refitted item.
func NewItemRecalibratedEvent(itemID string, oldDiff, newDiff, oldDisc, newDisc float64, responses int, lowConfidence bool) ItemRecalibratedEvent {
	return ItemRecalibratedEvent{
		BaseEvent:         NewBaseEvent(EventItemRecalibrated, itemID),
		ItemID:            itemID,
		OldDifficulty:     oldDiff,
		NewDifficulty:     newDiff,
		OldDiscrimination: oldDisc,
		NewDiscrimination: newDisc,
		ResponseCount:     responses,
		LowConfidence:     lowConfidence,
	}
}

// CalibrationCompletedEvent summarizes a whole calibration run.
type CalibrationCompletedEvent struct {
	BaseEvent
	ItemsFitted  int           `json:"items_fitted"`
	ItemsSkipped int           `json:"items_skipped"`
	ItemsFlagged int           `json:"items_flagged"`
	Duration     time.Duration `json:"duration"`
}

func (e CalibrationCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"items_fitted":  e.ItemsFitted,
		"items_skipped": e.ItemsSkipped,
		"items_flagged": e.ItemsFlagged,
		"duration":      e.Duration.String(),
	}
}

// NewCalibrationCompletedEvent builds the run summary event.
func NewCalibrationCompletedEvent(runID string, fitted, skipped, flagged int, duration time.Duration) CalibrationCompletedEvent {
	return CalibrationCompletedEvent{
		BaseEvent:    NewBaseEvent(EventCalibrationCompleted, runID),
		ItemsFitted:  fitted,
		ItemsSkipped: skipped,
		ItemsFlagged: flagged,
		Duration:     duration,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Engine Events
// ═══════════════════════════════════════════════════════════════════════════

// DegradedModeEvent is emitted when the pipeline starts or stops
// bypassing the sequence model. While degraded, commits still happen
// on the Bayesian estimate alone.
type DegradedModeEvent struct {
	BaseEvent
	Component string `json:"component"`
	Reason    string `json:"reason"`
	Entered   bool   `json:"entered"`
}

func (e DegradedModeEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"component": e.Component,
		"reason":    e.Reason,
		"entered":   e.Entered,
	}
}

// NewDegradedModeEnteredEvent marks entry into degraded mode.
func NewDegradedModeEnteredEvent(component, reason string) DegradedModeEvent {
	return DegradedModeEvent{
		BaseEvent: NewBaseEvent(EventDegradedModeEntered, component),
		Component: component,
		Reason:    reason,
		Entered:   true,
	}
}

// NewDegradedModeExitedEvent marks recovery from degraded mode.
func NewDegradedModeExitedEvent(component string) DegradedModeEvent {
	return DegradedModeEvent{
		BaseEvent: NewBaseEvent(EventDegradedModeExited, component),
		Component: component,
		Entered:   false,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Bus Interfaces
// ═══════════════════════════════════════════════════════════════════════════

// EventHandler consumes one event. Returning an error does not stop
// delivery to other handlers; buses log and move on.
type EventHandler func(event Event) error

// EventPublisher is the write half of the bus. The pipeline and the
// calibrator depend on this alone.
type EventPublisher interface {
	Publish(event Event) error
}

// EventBus is the full bus surface the composition root wires.
type EventBus interface {
	EventPublisher

	// Subscribe registers a handler for one event type;
	// SubscribeAll for every type.
	Subscribe(eventType EventType, handler EventHandler) error
	SubscribeAll(handler EventHandler) error
}
