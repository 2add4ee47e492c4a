// Package probe implements the readiness check for freshly launched
// web-service workers: lightweight HTTP reachability probes at a fixed
// interval, bounded by an attempt budget.
package probe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/OldStager01/vm-scaling/internal/logger"
)

var ErrNotReady = errors.New("worker never became healthy")

type Config struct {
	// Timeout bounds each individual probe request.
	Timeout time.Duration
	// Interval is the pause between consecutive probes.
	Interval time.Duration
	// MaxAttempts is the probe budget per worker.
	MaxAttempts int
}

type Prober struct {
	client      *http.Client
	interval    time.Duration
	maxAttempts int
}

func New(cfg Config) *Prober {
	if cfg.Timeout == 0 {
		cfg.Timeout = 1 * time.Second
	}
	if cfg.Interval == 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 40
	}

	return &Prober{
		client:      &http.Client{Timeout: cfg.Timeout},
		interval:    cfg.Interval,
		maxAttempts: cfg.MaxAttempts,
	}
}

// WaitHealthy blocks until a single probe against http://<address>/ returns
// HTTP 200, or the attempt budget runs out. Transport errors count as "not
// yet ready", never as failure of the whole wait.
func (p *Prober) WaitHealthy(ctx context.Context, address string) error {
	url := fmt.Sprintf("http://%s/", address)

	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		if p.probeOnce(ctx, url) {
			logger.Debugf("Worker at %s ready after %d probes", address, attempt)
			return nil
		}

		if attempt == p.maxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.interval):
		}
	}

	return fmt.Errorf("%w: %s after %d attempts", ErrNotReady, address, p.maxAttempts)
}

func (p *Prober) probeOnce(ctx context.Context, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}

	resp, err := p.client.Do(req)
	if err != nil {
		// Not booted yet, or still booting the web application.
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}
