package models

import "time"

type WorkerHealth string

const (
	WorkerBooting WorkerHealth = "BOOTING"
	WorkerHealthy WorkerHealth = "HEALTHY"
	WorkerFailed  WorkerHealth = "FAILED"
)

// Worker is a single provisioned web-service instance.
type Worker struct {
	ID         string       `json:"id"`
	Address    string       `json:"address,omitempty"`
	Health     WorkerHealth `json:"health"`
	LaunchedAt time.Time    `json:"launched_at"`
	HealthyAt  *time.Time   `json:"healthy_at,omitempty"`
}

func NewWorker(id, address string) *Worker {
	return &Worker{
		ID:         id,
		Address:    address,
		Health:     WorkerBooting,
		LaunchedAt: time.Now(),
	}
}

func (w *Worker) MarkHealthy() {
	now := time.Now()
	w.Health = WorkerHealthy
	w.HealthyAt = &now
}

func (w *Worker) MarkFailed() {
	w.Health = WorkerFailed
}

// HasAddress reports whether the instance came back with a public DNS name.
func (w *Worker) HasAddress() bool {
	return w.Address != ""
}
