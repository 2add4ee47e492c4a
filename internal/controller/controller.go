// Package controller runs the reactive scaling loop of the horizontal
// exercise: poll the load generator's reported request rate and launch one
// additional web-service worker whenever the rate stays under the threshold
// and the cooldown window has passed.
package controller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/OldStager01/vm-scaling/internal/events"
	"github.com/OldStager01/vm-scaling/internal/loadgen"
	"github.com/OldStager01/vm-scaling/internal/logger"
	"github.com/OldStager01/vm-scaling/internal/provision"
	"github.com/OldStager01/vm-scaling/internal/resilience"
	"github.com/OldStager01/vm-scaling/pkg/models"
)

var ErrLoadGenUnreachable = errors.New("load generator unreachable")

// AttemptOutcome is the terminal result of one scale-out attempt. Only a
// successful registration resets the cooldown timer.
type AttemptOutcome string

const (
	OutcomeRegistered      AttemptOutcome = "registered"
	OutcomeProvisionFailed AttemptOutcome = "provision_failed"
	OutcomeNoAddress       AttemptOutcome = "no_address"
	OutcomeUnhealthy       AttemptOutcome = "unhealthy"
	OutcomeRejected        AttemptOutcome = "registration_rejected"
)

// Prober checks a candidate worker's HTTP reachability.
type Prober interface {
	WaitHealthy(ctx context.Context, address string) error
}

type Config struct {
	// RPSLowThreshold triggers a scale-out when the observed rate drops
	// under it.
	RPSLowThreshold float64
	// Cooldown is the minimum spacing between successful scale-outs.
	Cooldown time.Duration
	// PollInterval is the loop cadence; kept at or under a second so test
	// completion is noticed promptly.
	PollInterval time.Duration
	// WebServiceAMI is the image new workers are launched from.
	WebServiceAMI string

	Monitor     loadgen.Monitor
	Provisioner provision.Provisioner
	Prober      Prober
	Tracker     *provision.Tracker
	Publisher   *events.Publisher

	// Now and Sleep default to the real clock. Tests substitute synthetic
	// time so traces of simulated seconds run instantly.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration)
}

type Controller struct {
	config Config

	// lastScaleAction is owned exclusively by the loop goroutine; the whole
	// scale-out protocol is synchronous, so at most one attempt is ever in
	// flight and no locking is needed.
	lastScaleAction time.Time
	workersAdded    int
}

func New(cfg Config) *Controller {
	if cfg.RPSLowThreshold == 0 {
		cfg.RPSLowThreshold = 50
	}
	if cfg.Cooldown == 0 {
		cfg.Cooldown = 100 * time.Second
	}
	if cfg.PollInterval == 0 || cfg.PollInterval > time.Second {
		cfg.PollInterval = 1 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepContext
	}

	return &Controller{config: cfg}
}

// WorkersAdded reports how many workers were successfully registered with
// the load generator during the run.
func (c *Controller) WorkersAdded() int {
	return c.workersAdded
}

// Run drives the monitoring loop until the load generator reports the
// session finished. The cooldown timer starts at "now" so the first scale-out
// waits a full window.
func (c *Controller) Run(ctx context.Context, session *models.TestSession) error {
	cfg := c.config
	c.lastScaleAction = cfg.Now()

	logger.WithTest(session.LogID).Infof(
		"Monitoring started: threshold=%.1f rps, cooldown=%s", cfg.RPSLowThreshold, cfg.Cooldown)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		// Completion wins over everything else in an iteration.
		done, err := cfg.Monitor.Completed(ctx, session.LogID)
		if err != nil {
			if fatal := c.pollError(session.LogID, "completion check", err); fatal != nil {
				return fatal
			}
			done = false
		}
		if done {
			session.Finished = true
			cfg.Publisher.TestFinished(session.LogID)
			logger.WithTest(session.LogID).Infof(
				"Test finished, %d workers added", c.workersAdded)
			return nil
		}

		sample, err := cfg.Monitor.CurrentRPS(ctx, session.LogID)
		if err != nil {
			if fatal := c.pollError(session.LogID, "metric fetch", err); fatal != nil {
				return fatal
			}
			sample = models.NewMetricSample(0, cfg.Now())
		}
		cfg.Publisher.MetricSampled(session.LogID, sample)

		elapsed := cfg.Now().Sub(c.lastScaleAction)
		logger.WithTest(session.LogID).Debugf(
			"rps=%.2f, %.0fs since last scale action", sample.RPS, elapsed.Seconds())

		if sample.RPS < cfg.RPSLowThreshold && elapsed > cfg.Cooldown {
			if outcome := c.scaleOut(ctx, session); outcome == OutcomeRegistered {
				c.lastScaleAction = cfg.Now()
				c.workersAdded++
			}
		}

		cfg.Sleep(ctx, cfg.PollInterval)
	}
}

// pollError decides what a failed steady-state poll means. An open circuit
// means the load generator has been gone for a while: abort the run rather
// than spin against a dead endpoint. Anything else is a transient observation
// gap, logged and treated as "nothing seen this tick".
func (c *Controller) pollError(logID, op string, err error) error {
	if errors.Is(err, resilience.ErrCircuitOpen) {
		c.config.Publisher.Error(logID, "Load generator unreachable, aborting run", err)
		return fmt.Errorf("%w: %s: %v", ErrLoadGenUnreachable, op, err)
	}
	logger.WithTest(logID).Warnf("%s failed: %v", op, err)
	return nil
}

// scaleOut runs the full synchronous attempt protocol: provision, read back
// the address, probe for health, register. The instance id is tracked the
// moment it exists so teardown reclaims abandoned workers too.
func (c *Controller) scaleOut(ctx context.Context, session *models.TestSession) AttemptOutcome {
	cfg := c.config
	cfg.Publisher.ScaleOutStarted(session.LogID)

	worker, err := cfg.Provisioner.Create(ctx, cfg.WebServiceAMI)
	if worker != nil {
		// Tracked even when the create failed partway: a launched instance
		// whose running-wait errored still exists and must be terminated.
		cfg.Tracker.Track(worker.ID)
	}
	if err != nil {
		// Capacity limits land here as well; the next eligible tick simply
		// tries again.
		logger.WithTest(session.LogID).Warnf("Provisioning failed: %v", err)
		cfg.Publisher.ScaleOutFailed(session.LogID, "provisioning", err)
		return OutcomeProvisionFailed
	}

	cfg.Publisher.WorkerLaunched(session.LogID, worker)

	if !worker.HasAddress() {
		logger.WithWorker(worker.ID).Warn("Instance has no public address, abandoning attempt")
		cfg.Publisher.ScaleOutFailed(session.LogID, "missing address", nil)
		return OutcomeNoAddress
	}

	if err := cfg.Prober.WaitHealthy(ctx, worker.Address); err != nil {
		worker.MarkFailed()
		logger.WithWorker(worker.ID).Warnf("Health check failed: %v", err)
		cfg.Publisher.ScaleOutFailed(session.LogID, "health check", err)
		return OutcomeUnhealthy
	}
	worker.MarkHealthy()
	cfg.Publisher.WorkerHealthy(session.LogID, worker)

	if err := cfg.Monitor.AddWorker(ctx, session.Mode, worker.Address); err != nil {
		logger.WithWorker(worker.ID).Warnf("Registration rejected: %v", err)
		cfg.Publisher.ScaleOutFailed(session.LogID, "registration", err)
		return OutcomeRejected
	}

	logger.WithWorker(worker.ID).Info("Worker registered with load generator")
	cfg.Publisher.WorkerRegistered(session.LogID, worker)
	return OutcomeRegistered
}

func sleepContext(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
