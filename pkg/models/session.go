package models

import "time"

// TestMode selects which load-generator exercise a session runs.
type TestMode string

const (
	ModeHorizontal  TestMode = "horizontal"
	ModeAutoscaling TestMode = "autoscaling"
	ModeWarmup      TestMode = "warmup"
)

// StartPath returns the request path that starts a session in this mode.
func (m TestMode) StartPath() string {
	switch m {
	case ModeHorizontal:
		return "/test/horizontal"
	case ModeWarmup:
		return "/warmup"
	default:
		return "/autoscaling"
	}
}

// AddPath returns the request path that registers an additional worker.
// Only the horizontal exercise accepts extra workers.
func (m TestMode) AddPath() string {
	return "/test/horizontal/add"
}

// TestSession tracks one load-generator test run.
type TestSession struct {
	LogID     string    `json:"log_id"`
	Mode      TestMode  `json:"mode"`
	StartedAt time.Time `json:"started_at"`
	Finished  bool      `json:"finished"`
}

func NewTestSession(logID string, mode TestMode) *TestSession {
	return &TestSession{
		LogID:     logID,
		Mode:      mode,
		StartedAt: time.Now(),
	}
}
