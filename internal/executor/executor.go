// Package executor drives one task from "has content" to "content was
// submitted" against a flaky destination surface: navigate, locate the
// input control, enter the content through a chain of input strategies, and
// submit.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ramiqadoumi/go-action-flow/internal/classify"
	"github.com/ramiqadoumi/go-action-flow/internal/control"
	"github.com/ramiqadoumi/go-action-flow/internal/domain"
	"github.com/ramiqadoumi/go-action-flow/internal/selector"
	"github.com/ramiqadoumi/go-action-flow/pkg/poll"
	"github.com/ramiqadoumi/go-action-flow/pkg/retry"
	"github.com/ramiqadoumi/go-action-flow/pkg/telemetry"
)

// Config tunes the stage retries and surface waits.
type Config struct {
	// StageAttempts is how many times each stage is tried before the
	// attempt fails.
	StageAttempts  int           `mapstructure:"stage_attempts"`
	StageBaseDelay time.Duration `mapstructure:"stage_base_delay"`
	StageMaxDelay  time.Duration `mapstructure:"stage_max_delay"`

	PollInterval    time.Duration `mapstructure:"poll_interval"`
	NavigateTimeout time.Duration `mapstructure:"navigate_timeout"`
	LocateTimeout   time.Duration `mapstructure:"locate_timeout"`
	// InputTimeout bounds the wait for the surface to accept one input
	// strategy's entry.
	InputTimeout time.Duration `mapstructure:"input_timeout"`
	// SubmitTimeout bounds the wait for the submit control to become enabled.
	SubmitTimeout time.Duration `mapstructure:"submit_timeout"`
	// SettleTimeout bounds the post-click scan for cooldown or rejection
	// messages.
	SettleTimeout time.Duration `mapstructure:"settle_timeout"`

	// SnippetRunes is the content prefix length used to confirm input.
	SnippetRunes int `mapstructure:"snippet_runes"`
	// ArtifactDir receives failure screenshots. Empty disables capture.
	ArtifactDir string `mapstructure:"artifact_dir"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		StageAttempts:   3,
		StageBaseDelay:  500 * time.Millisecond,
		StageMaxDelay:   3 * time.Second,
		PollInterval:    250 * time.Millisecond,
		NavigateTimeout: 30 * time.Second,
		LocateTimeout:   10 * time.Second,
		InputTimeout:    3 * time.Second,
		SubmitTimeout:   8 * time.Second,
		SettleTimeout:   4 * time.Second,
		SnippetRunes:    24,
	}
}

// Outcome reports which strategy carried each stage.
type Outcome struct {
	Strategies map[string]string
}

// Executor performs actions over a single control channel.
type Executor struct {
	ch       control.Channel
	catalog  *selector.Catalog
	cfg      Config
	inputs   []InputStrategy
	artifact *artifactWriter
	logger   *slog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithConfig replaces the default stage tuning.
func WithConfig(c Config) Option { return func(e *Executor) { e.cfg = c } }

func WithLogger(l *slog.Logger) Option { return func(e *Executor) { e.logger = l } }

// WithInputStrategies replaces the input chain. Order is attempt order.
func WithInputStrategies(s ...InputStrategy) Option { return func(e *Executor) { e.inputs = s } }

// New creates an Executor. The default input chain is direct insertion,
// then simulated keystrokes, then clipboard paste.
func New(ch control.Channel, catalog *selector.Catalog, opts ...Option) *Executor {
	e := &Executor{
		ch:      ch,
		catalog: catalog,
		cfg:     DefaultConfig(),
		inputs:  []InputStrategy{DirectInsert{}, Keystrokes{}, ClipboardPaste{}},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.cfg.StageAttempts <= 0 {
		e.cfg.StageAttempts = 1
	}
	e.artifact = newArtifactWriter(ch, e.cfg.ArtifactDir)
	return e
}

// run holds the per-attempt state shared by the stages.
type run struct {
	task     *domain.Task
	platform selector.Platform
	log      *slog.Logger
	outcome  Outcome
	input    selector.Resolution
}

// Execute runs navigate → locate → input → submit for task. Failures are
// returned as *domain.ActionError carrying the failing stage, its kind and,
// when a screenshot could be captured, the artifact path.
func (e *Executor) Execute(ctx context.Context, task *domain.Task) (Outcome, error) {
	ctx, span := otel.Tracer("executor").Start(ctx, "executor.execute")
	defer span.End()
	span.SetAttributes(
		attribute.String("task.id", task.ID),
		attribute.String("task.platform", task.Target.Platform),
		attribute.Int("task.attempt", task.Attempts),
	)

	platform, ok := e.catalog.Platform(task.Target.Platform)
	if !ok {
		err := domain.NewActionError(domain.KindRejected, domain.StageLocate,
			fmt.Errorf("no selector catalog entry for platform %q", task.Target.Platform))
		span.RecordError(err)
		return Outcome{}, err
	}
	if task.Content == "" {
		return Outcome{}, domain.NewActionError(domain.KindRejected, domain.StageInput, errors.New("task has no content"))
	}

	r := &run{
		task:     task,
		platform: platform,
		log: e.logger.With(
			slog.String("task_id", task.ID),
			slog.String("platform", task.Target.Platform),
			slog.Int("attempt", task.Attempts),
		),
		outcome: Outcome{Strategies: map[string]string{}},
	}

	stages := []struct {
		stage domain.Stage
		fn    func(context.Context, *run) error
	}{
		{domain.StageNavigate, e.navigate},
		{domain.StageLocate, e.locate},
		{domain.StageInput, e.enterContent},
		{domain.StageSubmit, e.submit},
	}
	for _, s := range stages {
		if err := e.stage(ctx, r, s.stage, s.fn); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, string(s.stage)+" failed")
			return r.outcome, err
		}
	}
	return r.outcome, nil
}

// stage retries fn with a short backoff while it keeps failing with
// TransientNotFound, then normalises the final error.
func (e *Executor) stage(ctx context.Context, r *run, stage domain.Stage, fn func(context.Context, *run) error) error {
	ctx, span := otel.Tracer("executor").Start(ctx, "executor."+string(stage))
	defer span.End()

	err := retry.Do(ctx, retry.Config{
		MaxAttempts: e.cfg.StageAttempts,
		BaseDelay:   e.cfg.StageBaseDelay,
		MaxDelay:    e.cfg.StageMaxDelay,
		Retryable: func(err error) bool {
			return classify.Classify(err) == domain.KindTransientNotFound
		},
		OnRetry: func(attempt int, err error) {
			r.log.Warn("stage failed, retrying",
				slog.String("stage", string(stage)),
				slog.Int("stage_attempt", attempt),
				slog.String("error", err.Error()),
			)
		},
	}, func(ctx context.Context) error {
		return fn(ctx, r)
	})
	if err == nil {
		return nil
	}

	ae := classify.Normalise(stage, err)
	if ae.Stage == "" {
		ae.Stage = stage
	}
	span.RecordError(ae)
	span.SetStatus(codes.Error, string(ae.Kind))
	telemetry.ExecutorStageFailures.WithLabelValues(r.task.Target.Platform, string(stage), string(ae.Kind)).Inc()

	if ae.Kind != domain.KindChannelUnavailable {
		if path, shotErr := e.artifact.capture(ctx, r.task, stage); shotErr != nil {
			r.log.Warn("failure screenshot not captured", slog.String("error", shotErr.Error()))
		} else {
			ae.Artifact = path
		}
	}
	r.log.Error("stage failed",
		slog.String("stage", string(stage)),
		slog.String("error_kind", string(ae.Kind)),
		slog.String("error", ae.Error()),
		slog.String("artifact", ae.Artifact),
	)
	return ae
}

func (e *Executor) record(r *run, stage domain.Stage, strategy string, fallback bool) {
	r.outcome.Strategies[string(stage)] = strategy
	telemetry.ExecutorStrategyTotal.WithLabelValues(r.task.Target.Platform, string(stage), strategy).Inc()
	if fallback {
		telemetry.ExecutorFallbackTotal.WithLabelValues(r.task.Target.Platform, string(stage)).Inc()
		r.log.Warn("stage succeeded through fallback",
			slog.String("stage", string(stage)),
			slog.String("strategy", strategy),
		)
	}
}

func (e *Executor) navigate(ctx context.Context, r *run) error {
	dest, err := r.platform.DestinationURL(r.task.Target.Destination, r.task.Target.Kind == domain.KindDirectMessage)
	if err != nil {
		return domain.NewActionError(domain.KindRejected, domain.StageNavigate, err)
	}
	ok, err := e.ch.Navigate(ctx, dest)
	if err != nil {
		return domain.NewActionError(classify.Classify(err), domain.StageNavigate, err)
	}
	if !ok {
		return domain.NewActionError(domain.KindTransientNotFound, domain.StageNavigate,
			fmt.Errorf("navigation to %s refused", dest))
	}
	ready, err := e.ch.WaitForCondition(ctx, "document.readyState === 'complete'", e.cfg.NavigateTimeout)
	if err != nil {
		return domain.NewActionError(classify.Classify(err), domain.StageNavigate, err)
	}
	if !ready {
		return domain.NewActionError(domain.KindTransientNotFound, domain.StageNavigate,
			fmt.Errorf("%s did not finish loading within %s", dest, e.cfg.NavigateTimeout))
	}
	r.outcome.Strategies[string(domain.StageNavigate)] = dest
	return nil
}

func (e *Executor) locate(ctx context.Context, r *run) error {
	res, err := e.resolver(e.cfg.LocateTimeout).Await(ctx, e.ch, r.platform.Candidates(selector.RoleInput), nil)
	if err != nil {
		return err
	}
	r.input = res
	e.record(r, domain.StageLocate, res.Selector, res.Stale())
	return nil
}

func (e *Executor) submit(ctx context.Context, r *run) error {
	res, err := e.resolver(e.cfg.SubmitTimeout).Await(ctx, e.ch, r.platform.Candidates(selector.RoleSubmit),
		func(el control.Element) bool { return el.Enabled })
	if err != nil {
		return err
	}
	ok, err := e.ch.ClickAt(ctx, res.Element.X, res.Element.Y)
	if err != nil {
		return domain.NewActionError(classify.Classify(err), domain.StageSubmit, err)
	}
	if !ok {
		return domain.NewActionError(domain.KindTransientNotFound, domain.StageSubmit,
			fmt.Errorf("click on %q not delivered", res.Selector))
	}
	e.record(r, domain.StageSubmit, res.Selector, res.Stale())
	return e.settle(ctx, r)
}

// settle scans the surface after the click for a cooldown or rejection
// message. Reaching the timeout without one is not a failure.
func (e *Executor) settle(ctx context.Context, r *run) error {
	markers := classify.Markers{RateLimit: r.platform.RateLimitMarkers, Rejection: r.platform.RejectionMarkers}
	if len(markers.RateLimit) == 0 && len(markers.Rejection) == 0 {
		return nil
	}
	var found error
	_, err := poll.Until(ctx, e.cfg.PollInterval, e.cfg.SettleTimeout, func(ctx context.Context) (bool, error) {
		raw, err := e.ch.Evaluate(ctx, control.PageTextScript())
		if err != nil {
			return false, err
		}
		page, err := control.ParsePageText(raw)
		if err != nil {
			return false, err
		}
		if kind, marker := classify.Surface(page.Text, markers); kind != "" {
			found = domain.NewActionError(kind, domain.StageSubmit, fmt.Errorf("surface shows %q", marker))
			return true, nil
		}
		// The composer emptying is the usual sign the submission went through.
		el, err := selector.ResolveOnce(ctx, e.ch, []string{r.input.Selector})
		if errors.Is(err, selector.ErrNotResolved) {
			return true, nil
		}
		if err != nil {
			return false, err
		}
		return !containsSnippet(el.Element.Text, r.task.Content, e.cfg.SnippetRunes), nil
	})
	if found != nil {
		return found
	}
	if err != nil {
		// The click already happened; a channel hiccup here is left to the
		// verifier rather than risking a duplicate submission.
		r.log.Warn("post-submit scan failed", slog.String("error", err.Error()))
	}
	return nil
}

func (e *Executor) resolver(timeout time.Duration) selector.Resolver {
	return selector.Resolver{Interval: e.cfg.PollInterval, Timeout: timeout}
}

func containsSnippet(haystack, content string, n int) bool {
	snip := control.Snippet(content, n)
	return snip != "" && strings.Contains(control.Fold(haystack), snip)
}
