package models

import "time"

// MetricSample is a single requests-per-second observation scraped from the
// load generator's log report. Samples are ephemeral and never persisted.
type MetricSample struct {
	RPS        float64   `json:"rps"`
	ObservedAt time.Time `json:"observed_at"`
}

func NewMetricSample(rps float64, at time.Time) MetricSample {
	if rps < 0 {
		rps = 0
	}
	return MetricSample{RPS: rps, ObservedAt: at}
}
