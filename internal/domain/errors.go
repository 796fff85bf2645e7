package domain

import (
	"errors"
	"fmt"
)

// ErrorKind is the normalised classification of an action failure.
type ErrorKind string

const (
	KindRateLimited           ErrorKind = "RATE_LIMITED"
	KindTransientNotFound     ErrorKind = "TRANSIENT_NOT_FOUND"
	KindVerificationUncertain ErrorKind = "VERIFICATION_UNCERTAIN"
	KindRejected              ErrorKind = "REJECTED"
	KindChannelUnavailable    ErrorKind = "CHANNEL_UNAVAILABLE"
)

// ErrRefused is returned by content generators that decline to produce
// content for a target. It is never retried.
var ErrRefused = errors.New("content generation refused")

// ActionError is a stage failure normalised to an ErrorKind.
type ActionError struct {
	Kind     ErrorKind
	Stage    Stage
	Err      error
	Artifact string
}

func (e *ActionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Stage, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Stage, e.Kind, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }

// NewActionError builds an ActionError for stage with the given kind.
func NewActionError(kind ErrorKind, stage Stage, err error) *ActionError {
	return &ActionError{Kind: kind, Stage: stage, Err: err}
}

// TaskNotFoundError is returned when a task ID does not exist.
type TaskNotFoundError struct {
	TaskID string
}

func (e *TaskNotFoundError) Error() string {
	return fmt.Sprintf("task not found: %s", e.TaskID)
}

// UnknownPlatformError is returned when a target names a platform without a
// configured quota.
type UnknownPlatformError struct {
	Platform string
}

func (e *UnknownPlatformError) Error() string {
	return fmt.Sprintf("no quota configured for platform %q", e.Platform)
}

// InvalidTargetError is returned when a target is missing a required field.
type InvalidTargetError struct {
	Field string
}

func (e *InvalidTargetError) Error() string {
	return fmt.Sprintf("invalid target: field %q is required or invalid", e.Field)
}

// InvalidTransitionError is returned when a task status change is not allowed.
type InvalidTransitionError struct {
	TaskID string
	From   Status
	To     Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("task %s: illegal transition %s -> %s", e.TaskID, e.From, e.To)
}

// QuotaExceededError is returned when a platform has no remaining budget in
// the current rolling window.
type QuotaExceededError struct {
	Platform string
	Limit    int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded for platform %q: limit is %d", e.Platform, e.Limit)
}
