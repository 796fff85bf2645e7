package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ramiqadoumi/go-action-flow/internal/domain"
)

const (
	TopicRequests  = "actions.requests"
	TopicCompleted = "actions.completed"
	TopicFailed    = "actions.failed"
	TopicDLQ       = "actions.dlq"
)

// ActionEvent is published when an action reaches a terminal state.
type ActionEvent struct {
	Task    *domain.Task        `json:"task"`
	Result  domain.ActionResult `json:"result"`
	EventAt time.Time           `json:"event_at"`
}

// EventPublisher is a scheduler sink that publishes terminal actions, keyed
// by task id so all events of one action land on the same partition.
type EventPublisher struct {
	producer       Producer
	completedTopic string
	failedTopic    string
}

// NewEventPublisher publishes to the default topics.
func NewEventPublisher(p Producer) *EventPublisher {
	return &EventPublisher{producer: p, completedTopic: TopicCompleted, failedTopic: TopicFailed}
}

func (e *EventPublisher) RecordCompleted(ctx context.Context, task *domain.Task, result domain.ActionResult) error {
	return e.publish(ctx, e.completedTopic, task, result)
}

func (e *EventPublisher) RecordFailed(ctx context.Context, task *domain.Task, result domain.ActionResult) error {
	return e.publish(ctx, e.failedTopic, task, result)
}

func (e *EventPublisher) publish(ctx context.Context, topic string, task *domain.Task, result domain.ActionResult) error {
	raw, err := json.Marshal(ActionEvent{Task: task, Result: result, EventAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal action event: %w", err)
	}
	return e.producer.Publish(ctx, topic, task.ID, raw)
}
