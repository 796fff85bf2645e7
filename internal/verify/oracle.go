// Package verify looks for observable evidence that a submitted action
// actually landed on the destination surface.
package verify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ramiqadoumi/go-action-flow/internal/control"
	"github.com/ramiqadoumi/go-action-flow/internal/selector"
	"github.com/ramiqadoumi/go-action-flow/pkg/poll"
	"github.com/ramiqadoumi/go-action-flow/pkg/telemetry"
)

// DefaultSnippetRunes is the prefix of the content matched against rendered
// text. Destinations trim, reflow and truncate long content.
const DefaultSnippetRunes = 40

// Evidence is the verification outcome. Found=false is a signal, not an
// error: the action may still have landed.
type Evidence struct {
	Found bool
	// Ref identifies the rendered element (its id or link) when known.
	Ref string
}

// Oracle polls the rendered-content candidates of a platform for the
// expected content.
type Oracle struct {
	ch       control.Channel
	catalog  *selector.Catalog
	interval time.Duration
	runes    int
	logger   *slog.Logger
}

// Option configures an Oracle.
type Option func(*Oracle)

// WithInterval sets the poll interval. Default 1s.
func WithInterval(d time.Duration) Option { return func(o *Oracle) { o.interval = d } }

// WithSnippetRunes sets the matched prefix length.
func WithSnippetRunes(n int) Option { return func(o *Oracle) { o.runes = n } }

func WithLogger(l *slog.Logger) Option { return func(o *Oracle) { o.logger = l } }

func New(ch control.Channel, catalog *selector.Catalog, opts ...Option) *Oracle {
	o := &Oracle{
		ch:       ch,
		catalog:  catalog,
		interval: time.Second,
		runes:    DefaultSnippetRunes,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Verify polls until an element rendered under one of platform's rendered
// candidates contains the prefix of content, or timeout elapses. Channel
// failures while polling are logged and treated as "not yet seen".
func (o *Oracle) Verify(ctx context.Context, platform, content string, timeout time.Duration) Evidence {
	ctx, span := otel.Tracer("verify").Start(ctx, "verify.oracle")
	defer span.End()

	snippet := control.Snippet(content, o.runes)
	p, ok := o.catalog.Platform(platform)
	if !ok || snippet == "" || len(p.Rendered) == 0 {
		telemetry.VerifyOutcomes.WithLabelValues("skipped").Inc()
		return Evidence{}
	}

	var ev Evidence
	found, err := poll.Until(ctx, o.interval, timeout, func(ctx context.Context) (bool, error) {
		for _, sel := range p.Rendered {
			raw, err := o.ch.Evaluate(ctx, control.FindTextScript(sel, snippet))
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return false, err
				}
				o.logger.Debug("verification probe failed", slog.String("selector", sel), slog.String("error", err.Error()))
				continue
			}
			m, err := control.ParseMatch(raw)
			if err != nil {
				o.logger.Debug("verification probe malformed", slog.String("selector", sel), slog.String("error", err.Error()))
				continue
			}
			if m.Found {
				ev = Evidence{Found: true, Ref: m.Ref}
				return true, nil
			}
		}
		return false, nil
	})
	if err != nil {
		o.logger.Warn("verification interrupted", slog.String("platform", platform), slog.String("error", err.Error()))
	}

	result := "timeout"
	if found {
		result = "found"
	}
	span.SetAttributes(attribute.String("verify.result", result), attribute.String("verify.ref", ev.Ref))
	telemetry.VerifyOutcomes.WithLabelValues(result).Inc()
	return ev
}
