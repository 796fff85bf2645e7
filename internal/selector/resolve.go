package selector

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ramiqadoumi/go-action-flow/internal/control"
	"github.com/ramiqadoumi/go-action-flow/pkg/poll"
)

// ErrNotResolved is returned when none of the candidates matched.
var ErrNotResolved = errors.New("no candidate selector resolved")

// Resolution records which candidate won.
type Resolution struct {
	Selector string
	Index    int
	Element  control.Element
}

// Stale reports whether a fallback, not the primary candidate, resolved.
func (r Resolution) Stale() bool { return r.Index > 0 }

// ResolveOnce probes candidates in order and returns the first that resolves.
// Channel errors and malformed probe output abort immediately.
func ResolveOnce(ctx context.Context, ch control.Channel, candidates []string) (Resolution, error) {
	if len(candidates) == 0 {
		return Resolution{}, fmt.Errorf("%w: empty candidate list", ErrNotResolved)
	}
	for i, sel := range candidates {
		raw, err := ch.Evaluate(ctx, control.ProbeScript(sel))
		if err != nil {
			return Resolution{}, fmt.Errorf("probe %q: %w", sel, err)
		}
		el, err := control.ParseElement(raw)
		if err != nil {
			return Resolution{}, fmt.Errorf("probe %q: %w", sel, err)
		}
		if el.Found {
			return Resolution{Selector: sel, Index: i, Element: el}, nil
		}
	}
	return Resolution{}, fmt.Errorf("%w: tried [%s]", ErrNotResolved, strings.Join(candidates, ", "))
}

// Resolver polls ResolveOnce until a candidate resolves or Timeout elapses.
type Resolver struct {
	Interval time.Duration
	Timeout  time.Duration
}

// Await waits for one of candidates to resolve. A lost page context counts
// as not resolved yet. If accept is non-nil, a
// resolved element must also satisfy it (e.g. be enabled).
func (r Resolver) Await(ctx context.Context, ch control.Channel, candidates []string, accept func(control.Element) bool) (Resolution, error) {
	var (
		res     Resolution
		lastErr error
	)
	ok, err := poll.Until(ctx, r.Interval, r.Timeout, func(ctx context.Context) (bool, error) {
		got, err := ResolveOnce(ctx, ch, candidates)
		if err != nil {
			if errors.Is(err, ErrNotResolved) || errors.Is(err, control.ErrContextLost) {
				lastErr = err
				return false, nil
			}
			return false, err
		}
		res = got
		if accept != nil && !accept(got.Element) {
			lastErr = fmt.Errorf("%w: %q resolved but not ready", ErrNotResolved, got.Selector)
			return false, nil
		}
		return true, nil
	})
	if err != nil {
		return Resolution{}, err
	}
	if !ok {
		if lastErr == nil {
			lastErr = ErrNotResolved
		}
		return Resolution{}, fmt.Errorf("after %s: %w", r.Timeout, lastErr)
	}
	return res, nil
}
