// Package quota enforces per-platform action budgets: a rolling window count
// plus a minimum spacing between consecutive actions.
package quota

import (
	"sort"
	"sync"
	"time"

	"github.com/ramiqadoumi/go-action-flow/internal/domain"
)

// Limits configures one platform.
type Limits struct {
	// WindowLimit is the maximum number of successful actions in Window.
	WindowLimit int `mapstructure:"window_limit" yaml:"window_limit"`
	// Window is the rolling lookback span.
	Window time.Duration `mapstructure:"window" yaml:"window"`
	// MinInterval is the minimum gap between two consecutive actions.
	MinInterval time.Duration `mapstructure:"min_interval" yaml:"min_interval"`
}

// Snapshot is a read-only view of one platform's quota.
type Snapshot struct {
	Platform           string        `json:"platform"`
	WindowLimit        int           `json:"window_limit"`
	Window             time.Duration `json:"window"`
	MinInterval        time.Duration `json:"min_interval"`
	CurrentWindowCount int           `json:"current_window_count"`
	LastActionAt       *time.Time    `json:"last_action_at,omitempty"`
	NextEligibleAt     time.Time     `json:"next_eligible_at"`
}

type platformState struct {
	limits    Limits
	successes []time.Time // ascending
	lastAt    time.Time
}

// prune drops successes that fell out of the rolling window ending at now.
func (p *platformState) prune(now time.Time) {
	cutoff := now.Add(-p.limits.Window)
	i := sort.Search(len(p.successes), func(i int) bool {
		return p.successes[i].After(cutoff)
	})
	if i > 0 {
		p.successes = append(p.successes[:0], p.successes[i:]...)
	}
}

func (p *platformState) nextEligible(now time.Time) time.Time {
	p.prune(now)
	next := now
	if !p.lastAt.IsZero() {
		if t := p.lastAt.Add(p.limits.MinInterval); t.After(next) {
			next = t
		}
	}
	if n := len(p.successes); n >= p.limits.WindowLimit && n > 0 {
		// A slot frees when the oldest success that keeps the window full expires.
		oldest := p.successes[n-p.limits.WindowLimit]
		if t := oldest.Add(p.limits.Window); t.After(next) {
			next = t
		}
	}
	return next
}

// Tracker holds the quota state of every configured platform.
type Tracker struct {
	mu        sync.Mutex
	platforms map[string]*platformState
}

// NewTracker creates a tracker for the given platforms. Platforms absent from
// limits are unknown and never admitted.
func NewTracker(limits map[string]Limits) *Tracker {
	t := &Tracker{platforms: make(map[string]*platformState, len(limits))}
	for name, l := range limits {
		if l.WindowLimit <= 0 {
			l.WindowLimit = 1
		}
		if l.Window <= 0 {
			l.Window = time.Hour
		}
		t.platforms[name] = &platformState{limits: l}
	}
	return t
}

// Known reports whether platform has a configured quota.
func (t *Tracker) Known(platform string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.platforms[platform]
	return ok
}

// Platforms returns the configured platform ids in sorted order.
func (t *Tracker) Platforms() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.platforms))
	for name := range t.platforms {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// CanAdmit is true iff the rolling window has room and the minimum interval
// since the last action has elapsed.
func (t *Tracker) CanAdmit(platform string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.platforms[platform]
	if !ok {
		return false
	}
	p.prune(now)
	if len(p.successes) >= p.limits.WindowLimit {
		return false
	}
	return !now.Before(p.nextEligible(now))
}

// NextEligibleAt returns the earliest instant platform could admit an action,
// never earlier than now.
func (t *Tracker) NextEligibleAt(platform string, now time.Time) (time.Time, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.platforms[platform]
	if !ok {
		return time.Time{}, &domain.UnknownPlatformError{Platform: platform}
	}
	return p.nextEligible(now), nil
}

// RecordSuccess consumes one unit of platform's budget at now.
func (t *Tracker) RecordSuccess(platform string, now time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.platforms[platform]
	if !ok {
		return &domain.UnknownPlatformError{Platform: platform}
	}
	p.prune(now)
	if len(p.successes) >= p.limits.WindowLimit {
		return &domain.QuotaExceededError{Platform: platform, Limit: p.limits.WindowLimit}
	}
	p.successes = append(p.successes, now)
	if now.After(p.lastAt) {
		p.lastAt = now
	}
	return nil
}

// Hydrate seeds platform with successes recorded by a previous process.
func (t *Tracker) Hydrate(platform string, successes []time.Time, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.platforms[platform]
	if !ok || len(successes) == 0 {
		return
	}
	merged := append(append([]time.Time{}, p.successes...), successes...)
	sort.Slice(merged, func(i, j int) bool { return merged[i].Before(merged[j]) })
	p.successes = merged
	if last := merged[len(merged)-1]; last.After(p.lastAt) {
		p.lastAt = last
	}
	p.prune(now)
}

// Snapshot returns the state of every platform, sorted by platform id.
func (t *Tracker) Snapshot(now time.Time) []Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Snapshot, 0, len(t.platforms))
	for name, p := range t.platforms {
		s := Snapshot{
			Platform:       name,
			WindowLimit:    p.limits.WindowLimit,
			Window:         p.limits.Window,
			MinInterval:    p.limits.MinInterval,
			NextEligibleAt: p.nextEligible(now),
		}
		s.CurrentWindowCount = len(p.successes)
		if !p.lastAt.IsZero() {
			last := p.lastAt
			s.LastActionAt = &last
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Platform < out[j].Platform })
	return out
}
