package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ramiqadoumi/go-action-flow/internal/kafka"
	"github.com/ramiqadoumi/go-action-flow/pkg/telemetry"
)

// Intake consumes ActionRequest messages from Kafka and enqueues them.
// Messages that cannot be decoded or enqueued go to the dead-letter topic.
type Intake struct {
	consumer kafka.Consumer
	producer kafka.Producer
	sched    Enqueuer
	logger   *slog.Logger
}

func NewIntake(consumer kafka.Consumer, producer kafka.Producer, sched Enqueuer, logger *slog.Logger) *Intake {
	return &Intake{consumer: consumer, producer: producer, sched: sched, logger: logger}
}

// Run starts consuming. Blocks until ctx is cancelled.
func (i *Intake) Run(ctx context.Context) error {
	return i.consumer.Subscribe(ctx, i.handle)
}

func (i *Intake) handle(ctx context.Context, msg kafka.Message) error {
	ctx, span := otel.Tracer("scheduler").Start(ctx, "scheduler.intake",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination.name", msg.Topic),
			attribute.Int64("messaging.kafka.offset", msg.Offset),
		),
	)
	defer span.End()

	var req ActionRequest
	if err := json.Unmarshal(msg.Value, &req); err != nil {
		i.logger.Error("malformed action request, sending to DLQ", slog.String("error", err.Error()))
		span.RecordError(err)
		span.SetStatus(codes.Error, "malformed message")
		return i.toDLQ(ctx, msg)
	}

	id, err := req.Submit(i.sched)
	if err != nil {
		i.logger.Warn("action request refused, sending to DLQ",
			slog.String("platform", req.Platform),
			slog.String("destination", req.Destination),
			slog.String("error", err.Error()),
		)
		span.RecordError(err)
		span.SetStatus(codes.Error, "enqueue refused")
		return i.toDLQ(ctx, msg)
	}

	span.SetAttributes(attribute.String("task.id", id), attribute.String("task.platform", req.Platform))
	telemetry.IntakeMessagesTotal.WithLabelValues("enqueued").Inc()
	i.logger.Info("action request enqueued", slog.String("task_id", id), slog.Int64("offset", msg.Offset))
	return nil
}

// toDLQ returns an error when the dead-letter publish fails so the offset
// is not committed.
func (i *Intake) toDLQ(ctx context.Context, msg kafka.Message) error {
	if err := i.producer.Publish(ctx, kafka.TopicDLQ, string(msg.Key), msg.Value); err != nil {
		i.logger.Error("failed to publish to DLQ", slog.String("error", err.Error()))
		return fmt.Errorf("publish to %s: %w", kafka.TopicDLQ, err)
	}
	telemetry.IntakeMessagesTotal.WithLabelValues("dlq").Inc()
	return nil
}
