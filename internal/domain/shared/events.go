package shared

import (
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types. The certification gate listens to the completion
// events; everything else is informational.
const (
	// Progress events
	EventUnitCompleted    EventType = "progress.unit_completed"
	EventContentCompleted EventType = "progress.content_completed"

	// Exam events
	EventAttemptStarted EventType = "exam.attempt_started"
	EventAttemptGraded  EventType = "exam.attempt_graded"
	EventExamPassed     EventType = "exam.passed"

	// Certificate events
	EventCertificateIssued EventType = "certificate.issued"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, aggregateID string) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   time.Now(),
		AggregateId: aggregateID,
		Version:     1,
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// EnrollmentKey builds the aggregate id of a (user, course) pair.
func EnrollmentKey(userID, courseID string) string {
	return userID + ":" + courseID
}

// ═══════════════════════════════════════════════════════════════════════════
// Progress Events
// ═══════════════════════════════════════════════════════════════════════════

// UnitCompletedEvent is emitted when a unit is added to a learner's completed set.
type UnitCompletedEvent struct {
	BaseEvent
	UserID         string `json:"user_id"`
	CourseID       string `json:"course_id"`
	UnitID         string `json:"unit_id"`
	CompletedUnits int    `json:"completed_units"`
	TotalUnits     int    `json:"total_units"`
}

// Payload implements Event interface.
func (e UnitCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":         e.UserID,
		"course_id":       e.CourseID,
		"unit_id":         e.UnitID,
		"completed_units": e.CompletedUnits,
		"total_units":     e.TotalUnits,
	}
}

// NewUnitCompletedEvent creates a new UnitCompletedEvent.
func NewUnitCompletedEvent(userID, courseID, unitID string, completed, total int) UnitCompletedEvent {
	return UnitCompletedEvent{
		BaseEvent:      NewBaseEvent(EventUnitCompleted, EnrollmentKey(userID, courseID)),
		UserID:         userID,
		CourseID:       courseID,
		UnitID:         unitID,
		CompletedUnits: completed,
		TotalUnits:     total,
	}
}

// ContentCompletedEvent is emitted once, when contentCompleted flips to true.
type ContentCompletedEvent struct {
	BaseEvent
	UserID   string `json:"user_id"`
	CourseID string `json:"course_id"`
}

// Payload implements Event interface.
func (e ContentCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":   e.UserID,
		"course_id": e.CourseID,
	}
}

// NewContentCompletedEvent creates a new ContentCompletedEvent.
func NewContentCompletedEvent(userID, courseID string) ContentCompletedEvent {
	return ContentCompletedEvent{
		BaseEvent: NewBaseEvent(EventContentCompleted, EnrollmentKey(userID, courseID)),
		UserID:    userID,
		CourseID:  courseID,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Exam Events
// ═══════════════════════════════════════════════════════════════════════════

// AttemptStartedEvent is emitted when a new attempt is created.
type AttemptStartedEvent struct {
	BaseEvent
	UserID   string `json:"user_id"`
	CourseID string `json:"course_id"`
}

// Payload implements Event interface.
func (e AttemptStartedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":   e.UserID,
		"course_id": e.CourseID,
	}
}

// NewAttemptStartedEvent creates a new AttemptStartedEvent.
func NewAttemptStartedEvent(attemptID, userID, courseID string) AttemptStartedEvent {
	return AttemptStartedEvent{
		BaseEvent: NewBaseEvent(EventAttemptStarted, attemptID),
		UserID:    userID,
		CourseID:  courseID,
	}
}

// AttemptGradedEvent is emitted for every graded attempt, passed or not.
type AttemptGradedEvent struct {
	BaseEvent
	UserID      string `json:"user_id"`
	CourseID    string `json:"course_id"`
	Score       int    `json:"score"`
	TotalPoints int    `json:"total_points"`
	Percentage  int    `json:"percentage"`
	Passed      bool   `json:"passed"`
}

// Payload implements Event interface.
func (e AttemptGradedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":      e.UserID,
		"course_id":    e.CourseID,
		"score":        e.Score,
		"total_points": e.TotalPoints,
		"percentage":   e.Percentage,
		"passed":       e.Passed,
	}
}

// NewAttemptGradedEvent creates a new AttemptGradedEvent.
func NewAttemptGradedEvent(attemptID, userID, courseID string, score, total, percentage int, passed bool) AttemptGradedEvent {
	return AttemptGradedEvent{
		BaseEvent:   NewBaseEvent(EventAttemptGraded, attemptID),
		UserID:      userID,
		CourseID:    courseID,
		Score:       score,
		TotalPoints: total,
		Percentage:  percentage,
		Passed:      passed,
	}
}

// ExamPassedEvent is emitted when a graded attempt passed.
type ExamPassedEvent struct {
	BaseEvent
	UserID     string `json:"user_id"`
	CourseID   string `json:"course_id"`
	Percentage int    `json:"percentage"`
}

// Payload implements Event interface.
func (e ExamPassedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":    e.UserID,
		"course_id":  e.CourseID,
		"percentage": e.Percentage,
	}
}

// NewExamPassedEvent creates a new ExamPassedEvent.
func NewExamPassedEvent(attemptID, userID, courseID string, percentage int) ExamPassedEvent {
	return ExamPassedEvent{
		BaseEvent:  NewBaseEvent(EventExamPassed, attemptID),
		UserID:     userID,
		CourseID:   courseID,
		Percentage: percentage,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Certificate Events
// ═══════════════════════════════════════════════════════════════════════════

// CertificateIssuedEvent is emitted when a certificate row is created.
type CertificateIssuedEvent struct {
	BaseEvent
	UserID          string  `json:"user_id"`
	CourseID        string  `json:"course_id"`
	DocumentRef     string  `json:"document_ref"`
	ScorePercentage float64 `json:"score_percentage"`
}

// Payload implements Event interface.
func (e CertificateIssuedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":          e.UserID,
		"course_id":        e.CourseID,
		"document_ref":     e.DocumentRef,
		"score_percentage": e.ScorePercentage,
	}
}

// NewCertificateIssuedEvent creates a new CertificateIssuedEvent.
func NewCertificateIssuedEvent(certificateID, userID, courseID, documentRef string, score float64) CertificateIssuedEvent {
	return CertificateIssuedEvent{
		BaseEvent:       NewBaseEvent(EventCertificateIssued, certificateID),
		UserID:          userID,
		CourseID:        courseID,
		DocumentRef:     documentRef,
		ScorePercentage: score,
	}
}

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}

// PayloadString reads a string field from an event payload. Events that
// crossed a transport arrive as reconstructed maps, so handlers go
// through the payload instead of type-asserting concrete events.
func PayloadString(event Event, key string) string {
	v, ok := event.Payload()[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}
