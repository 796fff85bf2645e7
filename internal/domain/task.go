package domain

import (
	"strings"
	"time"
)

// Status represents the states an action task can be in.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusGenerating Status = "GENERATING"
	StatusPosting    Status = "POSTING"
	StatusVerifying  Status = "VERIFYING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// IsTerminal returns true if no further state transitions are possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// transitions lists the legal next states for every non-terminal status.
var transitions = map[Status][]Status{
	StatusPending:    {StatusGenerating},
	StatusGenerating: {StatusPosting, StatusPending, StatusFailed},
	StatusPosting:    {StatusVerifying, StatusPending, StatusFailed},
	StatusVerifying:  {StatusCompleted, StatusPending, StatusFailed},
}

// CanTransition reports whether a task in status s may move to next.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ContentKind is the kind of social action a task performs.
type ContentKind string

const (
	KindComment       ContentKind = "comment"
	KindDirectMessage ContentKind = "direct_message"
)

// Valid reports whether k is a known content kind.
func (k ContentKind) Valid() bool {
	return k == KindComment || k == KindDirectMessage
}

// Target identifies where an action lands: a post URL for comments or a
// recipient handle for direct messages.
type Target struct {
	Platform    string      `json:"platform"`
	Destination string      `json:"destination"`
	Kind        ContentKind `json:"kind"`
}

// Validate checks the target fields that do not depend on configuration.
func (t Target) Validate() error {
	if strings.TrimSpace(t.Platform) == "" {
		return &InvalidTargetError{Field: "platform"}
	}
	if strings.TrimSpace(t.Destination) == "" {
		return &InvalidTargetError{Field: "destination"}
	}
	if !t.Kind.Valid() {
		return &InvalidTargetError{Field: "kind"}
	}
	return nil
}

// LastError keeps the classification and message of the most recent failure.
type LastError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// Task is a single social action owned by the scheduler until it is terminal.
type Task struct {
	ID                 string            `json:"id"`
	Target             Target            `json:"target"`
	Style              string            `json:"style,omitempty"`
	Content            string            `json:"content,omitempty"`
	Status             Status            `json:"status"`
	Attempts           int               `json:"attempts"`
	MaxAttempts        int               `json:"max_attempts"`
	RateLimitDeferrals int               `json:"rate_limit_deferrals"`
	CreatedAt          time.Time         `json:"created_at"`
	ScheduledFor       time.Time         `json:"scheduled_for"`
	StartedAt          *time.Time        `json:"started_at,omitempty"`
	CompletedAt        *time.Time        `json:"completed_at,omitempty"`
	LastError          *LastError        `json:"last_error,omitempty"`
	ResultRef          string            `json:"result_ref,omitempty"`
	Verified           bool              `json:"verified"`
	Strategies         map[string]string `json:"strategies,omitempty"`
}

// Transition moves the task to next, rejecting moves the state machine does
// not allow.
func (t *Task) Transition(next Status) error {
	if !t.Status.CanTransition(next) {
		return &InvalidTransitionError{TaskID: t.ID, From: t.Status, To: next}
	}
	t.Status = next
	return nil
}

// Reschedule sets the next due time, never moving it backwards.
func (t *Task) Reschedule(at time.Time) {
	if at.After(t.ScheduledFor) {
		t.ScheduledFor = at
	}
}

// Clone returns a deep copy safe to hand out in snapshots.
func (t *Task) Clone() *Task {
	c := *t
	if t.StartedAt != nil {
		v := *t.StartedAt
		c.StartedAt = &v
	}
	if t.CompletedAt != nil {
		v := *t.CompletedAt
		c.CompletedAt = &v
	}
	if t.LastError != nil {
		v := *t.LastError
		c.LastError = &v
	}
	if t.Strategies != nil {
		c.Strategies = make(map[string]string, len(t.Strategies))
		for k, v := range t.Strategies {
			c.Strategies[k] = v
		}
	}
	return &c
}
