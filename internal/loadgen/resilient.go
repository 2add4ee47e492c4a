package loadgen

import (
	"context"

	"github.com/OldStager01/vm-scaling/internal/resilience"
	"github.com/OldStager01/vm-scaling/pkg/models"
)

// ResilientMonitor wraps the steady-state polling calls in a circuit breaker.
// A load generator that stays unreachable across consecutive polls surfaces
// as resilience.ErrCircuitOpen, which the controller treats as run-fatal
// instead of polling a dead endpoint forever.
type ResilientMonitor struct {
	monitor        Monitor
	circuitBreaker *resilience.CircuitBreaker
}

type ResilientMonitorConfig struct {
	Monitor       Monitor
	MaxFailures   int
	OnStateChange func(name string, from, to resilience.State)
}

func NewResilientMonitor(cfg ResilientMonitorConfig) *ResilientMonitor {
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:          "loadgen",
		MaxFailures:   cfg.MaxFailures,
		OnStateChange: cfg.OnStateChange,
	})

	return &ResilientMonitor{
		monitor:        cfg.Monitor,
		circuitBreaker: cb,
	}
}

func (m *ResilientMonitor) Completed(ctx context.Context, logID string) (bool, error) {
	var done bool
	err := m.circuitBreaker.Execute(func() error {
		var err error
		done, err = m.monitor.Completed(ctx, logID)
		return err
	})
	if err != nil {
		return false, err
	}
	return done, nil
}

func (m *ResilientMonitor) CurrentRPS(ctx context.Context, logID string) (models.MetricSample, error) {
	var sample models.MetricSample
	err := m.circuitBreaker.Execute(func() error {
		var err error
		sample, err = m.monitor.CurrentRPS(ctx, logID)
		return err
	})
	if err != nil {
		return models.MetricSample{}, err
	}
	return sample, nil
}

// AddWorker is part of a scale-out attempt, not steady-state polling, so it
// bypasses the breaker: a rejection is already non-fatal to the run.
func (m *ResilientMonitor) AddWorker(ctx context.Context, mode models.TestMode, dns string) error {
	return m.monitor.AddWorker(ctx, mode, dns)
}

func (m *ResilientMonitor) CircuitState() resilience.State {
	return m.circuitBreaker.State()
}
