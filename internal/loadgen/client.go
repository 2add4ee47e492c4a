// Package loadgen is the HTTP client for the load generator's test API:
// starting sessions, registering workers, and scraping the live log report.
package loadgen

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/OldStager01/vm-scaling/internal/logger"
	"github.com/OldStager01/vm-scaling/internal/logparse"
	"github.com/OldStager01/vm-scaling/pkg/models"
)

var (
	ErrRequestFailed        = errors.New("load generator request failed")
	ErrRegistrationRejected = errors.New("worker registration rejected")
)

// Monitor is the view of a running test session the scaling controller needs.
type Monitor interface {
	// Completed reports whether the session log carries the terminal marker.
	Completed(ctx context.Context, logID string) (bool, error)

	// CurrentRPS returns the most recently reported requests-per-second.
	// A report without an rps field yields a zero sample, not an error.
	CurrentRPS(ctx context.Context, logID string) (models.MetricSample, error)

	// AddWorker registers an additional web-service instance with the
	// running session.
	AddWorker(ctx context.Context, mode models.TestMode, dns string) error
}

type Config struct {
	// DNS is the public address of the load generator instance.
	DNS string
	// Timeout bounds each request.
	Timeout time.Duration
	// InitBackoff is the pause between test-initialization retries.
	InitBackoff time.Duration
	// Sink receives every fetched log report. Optional.
	Sink LogSink
}

type Client struct {
	client      *http.Client
	dns         string
	initBackoff time.Duration
	sink        LogSink
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.InitBackoff == 0 {
		cfg.InitBackoff = 1 * time.Second
	}

	return &Client{
		client:      &http.Client{Timeout: cfg.Timeout},
		dns:         cfg.DNS,
		initBackoff: cfg.InitBackoff,
		sink:        cfg.Sink,
	}
}

// StartTest starts a session and returns it once the load generator accepts.
// Initialization is a precondition for the whole run, so transport errors and
// non-200 responses are retried indefinitely with a constant backoff; only
// context cancellation aborts the wait.
func (c *Client) StartTest(ctx context.Context, mode models.TestMode, dns string) (*models.TestSession, error) {
	url := fmt.Sprintf("http://%s%s?dns=%s", c.dns, mode.StartPath(), dns)

	var logID string
	operation := func() error {
		body, err := c.get(ctx, url)
		if err != nil {
			return err
		}
		logID, err = logparse.TestID(body)
		return err
	}

	notify := func(err error, d time.Duration) {
		logger.Debugf("Test initialization not accepted yet (%v), retrying in %s", err, d)
	}

	b := backoff.WithContext(backoff.NewConstantBackOff(c.initBackoff), ctx)
	if err := backoff.RetryNotify(operation, b, notify); err != nil {
		return nil, fmt.Errorf("starting %s test: %w", mode, err)
	}

	logger.WithTest(logID).Infof("Test session started in %s mode", mode)
	return models.NewTestSession(logID, mode), nil
}

// AddWorker submits an additional worker's address to the running session.
// Anything but a 200 is a rejection.
func (c *Client) AddWorker(ctx context.Context, mode models.TestMode, dns string) error {
	url := fmt.Sprintf("http://%s%s?dns=%s", c.dns, mode.AddPath(), dns)

	resp, err := c.do(ctx, url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrRegistrationRejected, resp.StatusCode)
	}
	return nil
}

// FetchReport fetches the session's current log text and hands a copy to the
// sink. Sink failures are logged, never propagated: persistence is a side
// effect, not part of the monitoring contract.
func (c *Client) FetchReport(ctx context.Context, logID string) (string, error) {
	url := fmt.Sprintf("http://%s/log?name=%s", c.dns, logID)

	text, err := c.get(ctx, url)
	if err != nil {
		return "", err
	}

	if c.sink != nil {
		if err := c.sink.Write(logID, text); err != nil {
			logger.WithTest(logID).Warnf("Failed to persist log report: %v", err)
		}
	}
	return text, nil
}

func (c *Client) Completed(ctx context.Context, logID string) (bool, error) {
	text, err := c.FetchReport(ctx, logID)
	if err != nil {
		return false, err
	}
	return logparse.Finished(text), nil
}

func (c *Client) CurrentRPS(ctx context.Context, logID string) (models.MetricSample, error) {
	text, err := c.FetchReport(ctx, logID)
	if err != nil {
		return models.MetricSample{}, err
	}

	rps, ok := logparse.CurrentRPS(text)
	if !ok {
		logger.WithTest(logID).Debug("No rps field in report yet, observing 0")
	}
	return models.NewMetricSample(rps, time.Now()), nil
}

func (c *Client) do(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	return resp, nil
}

func (c *Client) get(ctx context.Context, url string) (string, error) {
	resp, err := c.do(ctx, url)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d", ErrRequestFailed, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: reading body: %v", ErrRequestFailed, err)
	}
	return string(body), nil
}
