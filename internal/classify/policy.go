package classify

import (
	"time"

	"github.com/ramiqadoumi/go-action-flow/internal/domain"
)

// Policy turns an error kind and a task's attempt history into a retry
// decision.
type Policy struct {
	// BaseDelay and MaxDelay bound the exponential backoff.
	BaseDelay time.Duration `mapstructure:"base_delay"`
	MaxDelay  time.Duration `mapstructure:"max_delay"`
	// RateLimitDelay is the fixed cooldown after a RateLimited failure.
	RateLimitDelay time.Duration `mapstructure:"rate_limit_delay"`
	// RateLimitGrace is how many RateLimited failures are refunded before
	// they start consuming attempts.
	RateLimitGrace int `mapstructure:"rate_limit_grace"`
	// ChannelMaxAttempts caps attempts for ChannelUnavailable failures.
	ChannelMaxAttempts int `mapstructure:"channel_max_attempts"`
}

// DefaultPolicy returns the policy used when none is configured.
func DefaultPolicy() Policy {
	return Policy{
		BaseDelay:          30 * time.Second,
		MaxDelay:           15 * time.Minute,
		RateLimitDelay:     15 * time.Minute,
		RateLimitGrace:     3,
		ChannelMaxAttempts: 2,
	}
}

// Decision is the outcome of Decide.
type Decision struct {
	Retry bool
	Delay time.Duration
	// Refund means the failed attempt does not count against MaxAttempts.
	Refund bool
}

// Backoff returns the delay after the given attempt (1-indexed):
// BaseDelay * 2^(attempt-1), capped at MaxDelay.
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Decide expects task.Attempts to already include the failed attempt.
func (p Policy) Decide(kind domain.ErrorKind, task *domain.Task) Decision {
	switch kind {
	case domain.KindRejected, domain.KindVerificationUncertain:
		return Decision{}
	case domain.KindRateLimited:
		if task.RateLimitDeferrals < p.RateLimitGrace {
			return Decision{Retry: true, Delay: p.RateLimitDelay, Refund: true}
		}
		if task.Attempts < task.MaxAttempts {
			return Decision{Retry: true, Delay: p.RateLimitDelay}
		}
		return Decision{}
	case domain.KindChannelUnavailable:
		limit := task.MaxAttempts
		if p.ChannelMaxAttempts > 0 && p.ChannelMaxAttempts < limit {
			limit = p.ChannelMaxAttempts
		}
		if task.Attempts < limit {
			return Decision{Retry: true, Delay: p.Backoff(task.Attempts)}
		}
		return Decision{}
	default:
		if task.Attempts < task.MaxAttempts {
			return Decision{Retry: true, Delay: p.Backoff(task.Attempts)}
		}
		return Decision{}
	}
}
