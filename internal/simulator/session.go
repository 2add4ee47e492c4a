// Package simulator emulates the external load/test service locally: sessions
// started over HTTP, an rps curve that responds to added workers, and the
// INI-style log report the operator tooling polls.
package simulator

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/OldStager01/vm-scaling/pkg/models"
)

var (
	ErrNoActiveSession = errors.New("no active session")
	ErrWorkerExists    = errors.New("worker already registered")
)

type SessionConfig struct {
	// Duration is how long a session runs before the log reports finished.
	Duration time.Duration
	// WorkerRPS is the rate a single worker sustains; each additional worker
	// contributes WorkerRPS scaled down by Decay^n (diminishing returns).
	WorkerRPS float64
	Decay     float64
	// Rampup is how long a newly added worker takes to reach full rate.
	Rampup time.Duration
	// SampleInterval spaces the rps sections in the rendered log.
	SampleInterval time.Duration

	Now func() time.Time
}

func (c SessionConfig) withDefaults() SessionConfig {
	if c.Duration == 0 {
		c.Duration = 5 * time.Minute
	}
	if c.WorkerRPS == 0 {
		c.WorkerRPS = 30
	}
	if c.Decay == 0 {
		c.Decay = 0.8
	}
	if c.Rampup == 0 {
		c.Rampup = 10 * time.Second
	}
	if c.SampleInterval == 0 {
		c.SampleInterval = time.Second
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

type workerEntry struct {
	address string
	addedAt time.Time
}

type Session struct {
	cfg SessionConfig

	LogID     string
	Mode      models.TestMode
	StartedAt time.Time

	mu      sync.Mutex
	workers []workerEntry
}

func newSession(logID string, mode models.TestMode, firstWorker string, cfg SessionConfig) *Session {
	s := &Session{
		cfg:       cfg,
		LogID:     logID,
		Mode:      mode,
		StartedAt: cfg.Now(),
	}
	s.workers = []workerEntry{{address: firstWorker, addedAt: s.StartedAt}}
	return s
}

// AddWorker registers another backend; duplicates are rejected.
func (s *Session) AddWorker(address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.workers {
		if w.address == address {
			return ErrWorkerExists
		}
	}
	s.workers = append(s.workers, workerEntry{address: address, addedAt: s.cfg.Now()})
	return nil
}

func (s *Session) WorkerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.workers)
}

// CurrentRPS computes the simulated rate at the given instant. The i-th
// worker contributes WorkerRPS * Decay^i, ramping up linearly after it joins.
func (s *Session) CurrentRPS(at time.Time) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var total float64
	for i, w := range s.workers {
		age := at.Sub(w.addedAt)
		if age <= 0 {
			continue
		}
		ramp := 1.0
		if age < s.cfg.Rampup {
			ramp = float64(age) / float64(s.cfg.Rampup)
		}
		total += s.cfg.WorkerRPS * math.Pow(s.cfg.Decay, float64(i)) * ramp
	}
	return total
}

func (s *Session) Finished(at time.Time) bool {
	return at.Sub(s.StartedAt) >= s.cfg.Duration
}

// maxLogSamples caps the rendered report so long sessions don't produce
// multi-megabyte responses; the poller only reads the latest section anyway.
const maxLogSamples = 50

// RenderLog produces the INI-style report: a [Test] header, one rps section
// per elapsed sample interval, and a finished marker once the duration is up.
func (s *Session) RenderLog(at time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[Test]\n")
	fmt.Fprintf(&b, "name=%s\n", s.LogID)
	fmt.Fprintf(&b, "starttime=%s\n", s.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "mode=%s\n\n", s.Mode)

	elapsed := at.Sub(s.StartedAt)
	if elapsed > s.cfg.Duration {
		elapsed = s.cfg.Duration
	}
	samples := int(elapsed / s.cfg.SampleInterval)
	first := 0
	if samples > maxLogSamples {
		first = samples - maxLogSamples
	}
	for i := first; i < samples; i++ {
		sampleAt := s.StartedAt.Add(time.Duration(i+1) * s.cfg.SampleInterval)
		fmt.Fprintf(&b, "[Current rps=%.2f]\n", s.CurrentRPS(sampleAt))
		fmt.Fprintf(&b, "time=%s\n\n", sampleAt.Format(time.RFC3339))
	}

	if s.Finished(at) {
		b.WriteString("[Test finished]\n")
	}
	return b.String()
}

// Registry tracks sessions by log id and knows which one is active.
type Registry struct {
	cfg SessionConfig

	mu       sync.RWMutex
	sessions map[string]*Session
	order    []string
}

func NewRegistry(cfg SessionConfig) *Registry {
	return &Registry{
		cfg:      cfg.withDefaults(),
		sessions: make(map[string]*Session),
	}
}

// Start opens a new session with the given first worker and returns it.
func (r *Registry) Start(mode models.TestMode, firstWorker string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	logID := fmt.Sprintf("vmscaling-%s.log", models.NewUUID()[:8])
	session := newSession(logID, mode, firstWorker, r.cfg)
	r.sessions[logID] = session
	r.order = append(r.order, logID)
	return session
}

func (r *Registry) Get(logID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[logID]
	return s, ok
}

// Active returns the most recently started session that has not finished.
func (r *Registry) Active() (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := r.cfg.Now()
	for i := len(r.order) - 1; i >= 0; i-- {
		s := r.sessions[r.order[i]]
		if !s.Finished(now) {
			return s, nil
		}
	}
	return nil, ErrNoActiveSession
}
