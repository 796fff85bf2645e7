package scheduler

import (
	"strings"

	"github.com/ramiqadoumi/go-action-flow/internal/domain"
)

// Enqueuer is the part of the Scheduler that intake surfaces need.
type Enqueuer interface {
	Enqueue(target domain.Target, style string, opts ...EnqueueOption) (string, error)
}

// ActionRequest is the wire form of an enqueue request, shared by the REST
// surface, the Kafka intake and the CLI.
type ActionRequest struct {
	Platform    string             `json:"platform"`
	Destination string             `json:"destination"`
	Kind        domain.ContentKind `json:"kind"`
	Style       string             `json:"style,omitempty"`
	Content     string             `json:"content,omitempty"`
	MaxAttempts int                `json:"max_attempts,omitempty"`
}

func (r ActionRequest) Target() domain.Target {
	kind := r.Kind
	if kind == "" {
		kind = domain.KindComment
	}
	return domain.Target{
		Platform:    strings.ToLower(strings.TrimSpace(r.Platform)),
		Destination: strings.TrimSpace(r.Destination),
		Kind:        kind,
	}
}

func (r ActionRequest) Options() []EnqueueOption {
	var opts []EnqueueOption
	if r.MaxAttempts > 0 {
		opts = append(opts, WithMaxAttempts(r.MaxAttempts))
	}
	if strings.TrimSpace(r.Content) != "" {
		opts = append(opts, WithContent(r.Content))
	}
	return opts
}

// Submit enqueues r on e.
func (r ActionRequest) Submit(e Enqueuer) (string, error) {
	return e.Enqueue(r.Target(), r.Style, r.Options()...)
}
