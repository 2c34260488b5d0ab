package run

import (
	"context"
	"fmt"

	"watchtower/internal/broker"
	"watchtower/internal/constants"
	"watchtower/internal/incident"
	"watchtower/pkg/logging"
	"watchtower/pkg/models"
)

// EventPublisher announces finished runs and raised incidents on the
// broker. Envelope IDs are derived from the run ID, so a redelivered event
// carries the same ID.
type EventPublisher struct {
	producer broker.Publisher
	topic    string
}

func NewEventPublisher(producer broker.Publisher, topic string) *EventPublisher {
	if topic == "" {
		topic = constants.DefaultEventTopic
	}
	return &EventPublisher{producer: producer, topic: topic}
}

func (p *EventPublisher) RunFinished(ctx context.Context, res *Result) error {
	event := models.RunFinishedEvent{
		RunID:       res.RunID,
		RuleID:      res.RuleID,
		DatasetID:   res.DatasetID,
		Status:      string(res.Status),
		TotalRows:   res.TotalRows,
		PassedCount: res.PassedCount,
		FailedCount: res.FailedCount,
		Error:       res.Error,
	}
	if res.FinishedAt != nil {
		event.FinishedAt = *res.FinishedAt
	}
	return p.publish(ctx, models.MessageTypeRunFinished, res.RunID, event)
}

func (p *EventPublisher) IncidentRaised(ctx context.Context, inc *incident.Incident, created bool) error {
	return p.publish(ctx, models.MessageTypeIncidentRaised, inc.RunID, models.IncidentRaisedEvent{
		IncidentID: inc.ID,
		RunID:      inc.RunID,
		RuleID:     inc.RuleID,
		DatasetID:  inc.DatasetID,
		Severity:   inc.Severity,
		Title:      inc.Title,
		Created:    created,
	})
}

func (p *EventPublisher) publish(ctx context.Context, messageType, runID string, payload interface{}) error {
	envelope, err := models.NewMessageEnvelopeBuilder().
		WithID(fmt.Sprintf("%s:%s", messageType, runID)).
		WithType(messageType).
		WithSource(constants.EventSource).
		WithTraceID(logging.GetTraceID(ctx)).
		WithPayload(payload).
		Build()
	if err != nil {
		return err
	}
	return p.producer.Publish(ctx, p.topic, *envelope)
}
