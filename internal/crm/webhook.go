// Package crm notifies an external CRM about finished actions so lead
// records can be updated with the outreach outcome.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ramiqadoumi/go-action-flow/internal/domain"
)

// WebhookConfig configures the outbound call.
type WebhookConfig struct {
	URL     string            `mapstructure:"url"`
	Method  string            `mapstructure:"method"`
	Headers map[string]string `mapstructure:"headers"`
	Timeout time.Duration     `mapstructure:"timeout"`
}

// Payload is the JSON body posted for every terminal action.
type Payload struct {
	Event       string             `json:"event"`
	TaskID      string             `json:"task_id"`
	Platform    string             `json:"platform"`
	Destination string             `json:"destination"`
	Kind        domain.ContentKind `json:"kind"`
	Status      domain.Status      `json:"status"`
	Content     string             `json:"content,omitempty"`
	Verified    bool               `json:"verified"`
	ResultRef   string             `json:"result_ref,omitempty"`
	Attempts    int                `json:"attempts"`
	ErrorKind   domain.ErrorKind   `json:"error_kind,omitempty"`
	Error       string             `json:"error,omitempty"`
	FinishedAt  time.Time          `json:"finished_at"`
}

// WebhookSink posts a Payload to the CRM for every terminal action.
type WebhookSink struct {
	cfg    WebhookConfig
	client *http.Client
}

// NewWebhookSink creates a WebhookSink. Method defaults to POST.
func NewWebhookSink(cfg WebhookConfig) (*WebhookSink, error) {
	if cfg.URL == "" {
		return nil, errors.New("crm webhook: url is required")
	}
	if cfg.Method == "" {
		cfg.Method = http.MethodPost
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &WebhookSink{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}, nil
}

func (s *WebhookSink) RecordCompleted(ctx context.Context, task *domain.Task, result domain.ActionResult) error {
	return s.send(ctx, "action.completed", task, result)
}

func (s *WebhookSink) RecordFailed(ctx context.Context, task *domain.Task, result domain.ActionResult) error {
	return s.send(ctx, "action.failed", task, result)
}

func (s *WebhookSink) send(ctx context.Context, event string, task *domain.Task, result domain.ActionResult) error {
	ctx, span := otel.Tracer("crm").Start(ctx, "crm.webhook")
	defer span.End()
	span.SetAttributes(
		attribute.String("webhook.url", s.cfg.URL),
		attribute.String("webhook.event", event),
		attribute.String("task.id", task.ID),
	)

	body, err := json.Marshal(Payload{
		Event:       event,
		TaskID:      task.ID,
		Platform:    task.Target.Platform,
		Destination: task.Target.Destination,
		Kind:        task.Target.Kind,
		Status:      task.Status,
		Content:     task.Content,
		Verified:    result.Verified,
		ResultRef:   result.ResultRef,
		Attempts:    task.Attempts,
		ErrorKind:   result.ErrorKind,
		Error:       result.Error,
		FinishedAt:  result.FinishedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal crm payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, s.cfg.Method, s.cfg.URL, bytes.NewReader(body))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "build request failed")
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range s.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "http call failed")
		return fmt.Errorf("webhook call to %s: %w", s.cfg.URL, err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode >= http.StatusBadRequest {
		err := fmt.Errorf("webhook %s returned status %d", s.cfg.URL, resp.StatusCode)
		span.RecordError(err)
		span.SetStatus(codes.Error, "bad status code")
		return err
	}
	return nil
}
