package events

import (
	"fmt"

	"github.com/OldStager01/vm-scaling/pkg/models"
)

type Publisher struct {
	bus *EventBus
}

func NewPublisher(bus *EventBus) *Publisher {
	return &Publisher{bus: bus}
}

func (p *Publisher) MetricSampled(testID string, sample models.MetricSample) {
	event := models.NewEvent(models.EventTypeMetricSampled, testID,
		fmt.Sprintf("Current rps %.2f", sample.RPS)).
		WithData(sample)
	p.bus.Publish(event)
}

func (p *Publisher) ScaleOutStarted(testID string) {
	p.bus.Publish(models.NewEvent(models.EventTypeScaleOutStarted, testID,
		"RPS below threshold, launching new worker"))
}

func (p *Publisher) WorkerLaunched(testID string, worker *models.Worker) {
	event := models.NewEvent(models.EventTypeWorkerLaunched, testID,
		"Worker "+worker.ID+" launched").
		WithData(worker)
	p.bus.Publish(event)
}

func (p *Publisher) WorkerHealthy(testID string, worker *models.Worker) {
	event := models.NewEvent(models.EventTypeWorkerHealthy, testID,
		"Worker "+worker.ID+" passed health check").
		WithData(worker)
	p.bus.Publish(event)
}

func (p *Publisher) WorkerRegistered(testID string, worker *models.Worker) {
	event := models.NewEvent(models.EventTypeWorkerRegistered, testID,
		"Worker "+worker.ID+" registered with load generator").
		WithData(worker)
	p.bus.Publish(event)
}

func (p *Publisher) ScaleOutFailed(testID, reason string, err error) {
	msg := "Scale-out attempt abandoned: " + reason
	event := models.NewEvent(models.EventTypeScaleOutFailed, testID, msg).
		WithSeverity(models.SeverityWarning)
	if err != nil {
		event.WithData(err.Error())
	}
	p.bus.Publish(event)
}

func (p *Publisher) TestFinished(testID string) {
	p.bus.Publish(models.NewEvent(models.EventTypeTestFinished, testID,
		"Load generator reported test finished"))
}

func (p *Publisher) Error(testID, message string, err error) {
	event := models.NewEvent(models.EventTypeError, testID, message).
		WithSeverity(models.SeverityCritical)
	if err != nil {
		event.WithData(err.Error())
	}
	p.bus.Publish(event)
}
