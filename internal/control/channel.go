// Package control defines the capability the action pipeline uses to observe
// and drive the destination surface, plus the typed results of the probe
// scripts it evaluates against it.
package control

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable marks failures of the channel itself (connection lost,
// browser gone) as opposed to the surface refusing an operation.
var ErrUnavailable = errors.New("control channel unavailable")

// ErrContextLost marks a call that failed because the page's script context
// went away mid-call, typically during a navigation. The channel itself is
// still usable.
var ErrContextLost = errors.New("page context lost")

// Channel is one logical browser session. It is not safe for concurrent
// interactions; the scheduler serialises all use.
//
// The boolean results report whether the surface accepted the operation. An
// error means the channel could not carry it out at all.
type Channel interface {
	Navigate(ctx context.Context, destination string) (bool, error)
	Evaluate(ctx context.Context, script string) (string, error)
	WaitForCondition(ctx context.Context, predicate string, timeout time.Duration) (bool, error)
	InjectKeystrokes(ctx context.Context, text string) (bool, error)
	ClickAt(ctx context.Context, x, y float64) (bool, error)
}

// Screenshotter is implemented by channels that can capture the current
// surface. Used for failure diagnostics only.
type Screenshotter interface {
	Screenshot(ctx context.Context) ([]byte, error)
}
