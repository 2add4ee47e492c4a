package models

import "time"

type EventType string

const (
	EventTypeTestStarted      EventType = "test_started"
	EventTypeMetricSampled    EventType = "metric_sampled"
	EventTypeScaleOutStarted  EventType = "scale_out_started"
	EventTypeWorkerLaunched   EventType = "worker_launched"
	EventTypeWorkerHealthy    EventType = "worker_healthy"
	EventTypeWorkerRegistered EventType = "worker_registered"
	EventTypeScaleOutFailed   EventType = "scale_out_failed"
	EventTypeTestFinished     EventType = "test_finished"
	EventTypeError            EventType = "error"
)

type EventSeverity string

const (
	SeverityInfo     EventSeverity = "info"
	SeverityWarning  EventSeverity = "warning"
	SeverityCritical EventSeverity = "critical"
)

// Event represents an internal run event
type Event struct {
	ID        string        `json:"id"`
	Type      EventType     `json:"type"`
	Severity  EventSeverity `json:"severity"`
	TestID    string        `json:"test_id,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
	Message   string        `json:"message"`
	Data      interface{}   `json:"data,omitempty"`
}

func NewEvent(eventType EventType, testID, message string) *Event {
	return &Event{
		ID:        NewUUID(),
		Type:      eventType,
		Severity:  SeverityInfo,
		TestID:    testID,
		Timestamp: time.Now(),
		Message:   message,
	}
}

func (e *Event) WithSeverity(severity EventSeverity) *Event {
	e.Severity = severity
	return e
}

func (e *Event) WithData(data interface{}) *Event {
	e.Data = data
	return e
}
