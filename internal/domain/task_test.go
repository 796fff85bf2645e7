package domain_test

import (
	"errors"
	"testing"
	"time"

	"github.com/ramiqadoumi/go-action-flow/internal/domain"
)

func TestStatusConstants(t *testing.T) {
	tests := []struct {
		status domain.Status
		want   string
	}{
		{domain.StatusPending, "PENDING"},
		{domain.StatusGenerating, "GENERATING"},
		{domain.StatusPosting, "POSTING"},
		{domain.StatusVerifying, "VERIFYING"},
		{domain.StatusCompleted, "COMPLETED"},
		{domain.StatusFailed, "FAILED"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if string(tt.status) != tt.want {
				t.Errorf("Status value = %q, want %q", tt.status, tt.want)
			}
		})
	}
}

func TestIsTerminal(t *testing.T) {
	for _, s := range []domain.Status{domain.StatusCompleted, domain.StatusFailed} {
		if !s.IsTerminal() {
			t.Errorf("IsTerminal(%q) = false, want true", s)
		}
	}
	for _, s := range []domain.Status{
		domain.StatusPending, domain.StatusGenerating,
		domain.StatusPosting, domain.StatusVerifying,
	} {
		if s.IsTerminal() {
			t.Errorf("IsTerminal(%q) = true, want false", s)
		}
	}
}

func TestTransition_HappyPath(t *testing.T) {
	task := &domain.Task{ID: "t1", Status: domain.StatusPending}
	for _, next := range []domain.Status{
		domain.StatusGenerating, domain.StatusPosting,
		domain.StatusVerifying, domain.StatusCompleted,
	} {
		if err := task.Transition(next); err != nil {
			t.Fatalf("Transition(%s): %v", next, err)
		}
	}
}

func TestTransition_RetryReturnsToPending(t *testing.T) {
	task := &domain.Task{ID: "t1", Status: domain.StatusPosting}
	if err := task.Transition(domain.StatusPending); err != nil {
		t.Fatalf("posting -> pending should be allowed: %v", err)
	}
}

func TestTransition_Illegal(t *testing.T) {
	tests := []struct{ from, to domain.Status }{
		{domain.StatusPending, domain.StatusCompleted},
		{domain.StatusPending, domain.StatusPosting},
		{domain.StatusCompleted, domain.StatusPending},
		{domain.StatusFailed, domain.StatusGenerating},
		{domain.StatusGenerating, domain.StatusCompleted},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			task := &domain.Task{ID: "t1", Status: tt.from}
			err := task.Transition(tt.to)
			var invalid *domain.InvalidTransitionError
			if !errors.As(err, &invalid) {
				t.Fatalf("expected InvalidTransitionError, got %v", err)
			}
			if task.Status != tt.from {
				t.Errorf("status changed to %s on rejected transition", task.Status)
			}
		})
	}
}

func TestReschedule_NeverMovesBackwards(t *testing.T) {
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	task := &domain.Task{ScheduledFor: base}

	task.Reschedule(base.Add(-time.Minute))
	if !task.ScheduledFor.Equal(base) {
		t.Errorf("ScheduledFor moved backwards to %v", task.ScheduledFor)
	}

	task.Reschedule(base.Add(time.Minute))
	if !task.ScheduledFor.Equal(base.Add(time.Minute)) {
		t.Errorf("ScheduledFor = %v, want %v", task.ScheduledFor, base.Add(time.Minute))
	}
}

func TestTargetValidate(t *testing.T) {
	tests := []struct {
		name    string
		target  domain.Target
		wantErr string
	}{
		{"ok", domain.Target{Platform: "x", Destination: "https://x.com/p/1", Kind: domain.KindComment}, ""},
		{"no platform", domain.Target{Destination: "d", Kind: domain.KindComment}, "platform"},
		{"no destination", domain.Target{Platform: "x", Destination: "  ", Kind: domain.KindComment}, "destination"},
		{"bad kind", domain.Target{Platform: "x", Destination: "d", Kind: "like"}, "kind"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.target.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var invalid *domain.InvalidTargetError
			if !errors.As(err, &invalid) || invalid.Field != tt.wantErr {
				t.Fatalf("expected InvalidTargetError{%s}, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestClone_IsDeep(t *testing.T) {
	now := time.Now()
	orig := &domain.Task{
		ID:         "t1",
		StartedAt:  &now,
		LastError:  &domain.LastError{Kind: domain.KindRejected, Message: "no"},
		Strategies: map[string]string{"input": "direct_insert"},
	}
	c := orig.Clone()
	c.Strategies["input"] = "keystrokes"
	c.LastError.Message = "changed"
	*c.StartedAt = now.Add(time.Hour)

	if orig.Strategies["input"] != "direct_insert" {
		t.Error("clone shares strategies map")
	}
	if orig.LastError.Message != "no" {
		t.Error("clone shares LastError")
	}
	if !orig.StartedAt.Equal(now) {
		t.Error("clone shares StartedAt")
	}
}
