// Package scheduler owns the action queue, the per-platform quotas and the
// single control channel, and runs one action at a time through
// generate → execute → verify.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ramiqadoumi/go-action-flow/internal/classify"
	"github.com/ramiqadoumi/go-action-flow/internal/domain"
	"github.com/ramiqadoumi/go-action-flow/internal/executor"
	"github.com/ramiqadoumi/go-action-flow/internal/generator"
	"github.com/ramiqadoumi/go-action-flow/internal/quota"
	"github.com/ramiqadoumi/go-action-flow/internal/verify"
	"github.com/ramiqadoumi/go-action-flow/pkg/telemetry"
)

// Executor performs one submission attempt of a task that has content.
type Executor interface {
	Execute(ctx context.Context, task *domain.Task) (executor.Outcome, error)
}

// Verifier looks for the submitted content on the destination surface.
type Verifier interface {
	Verify(ctx context.Context, platform, content string, timeout time.Duration) verify.Evidence
}

// Sink receives terminal tasks. Sinks are fire-and-forget: errors are
// logged and counted, never acted on.
type Sink interface {
	RecordCompleted(ctx context.Context, task *domain.Task, result domain.ActionResult) error
	RecordFailed(ctx context.Context, task *domain.Task, result domain.ActionResult) error
}

// StatusSink is implemented by sinks that also track non-terminal status
// changes.
type StatusSink interface {
	RecordStatus(ctx context.Context, task *domain.Task) error
}

// ResultSink is implemented by sinks that keep the history of attempts that
// ended in a retry.
type ResultSink interface {
	RecordResult(ctx context.Context, result domain.ActionResult) error
}

// History returns the success times recorded for platform since a point in
// time, oldest first.
type History interface {
	Load(ctx context.Context, platform string, since time.Time) ([]time.Time, error)
}

// HistoryFunc adapts a function to History.
type HistoryFunc func(ctx context.Context, platform string, since time.Time) ([]time.Time, error)

func (f HistoryFunc) Load(ctx context.Context, platform string, since time.Time) ([]time.Time, error) {
	return f(ctx, platform, since)
}

// Ledger persists quota consumption across restarts.
type Ledger interface {
	History
	Record(ctx context.Context, platform string, at time.Time) error
}

// Config tunes the scheduler.
type Config struct {
	// TickInterval is the period between ticks after the immediate one on
	// Start.
	TickInterval time.Duration `mapstructure:"tick_interval"`
	// TaskTimeout bounds one whole attempt, generation and verification
	// included.
	TaskTimeout   time.Duration `mapstructure:"task_timeout"`
	VerifyTimeout time.Duration `mapstructure:"verify_timeout"`
	// SinkTimeout bounds each sink call.
	SinkTimeout time.Duration `mapstructure:"sink_timeout"`
	// MaxAttempts is the per-task default when Enqueue is not given one.
	MaxAttempts int `mapstructure:"max_attempts"`
	// ArchiveSize is how many recent terminal tasks QueueStatus reports.
	ArchiveSize int `mapstructure:"archive_size"`
}

// DefaultConfig returns the configuration used for zero fields.
func DefaultConfig() Config {
	return Config{
		TickInterval:  30 * time.Second,
		TaskTimeout:   3 * time.Minute,
		VerifyTimeout: 45 * time.Second,
		SinkTimeout:   5 * time.Second,
		MaxAttempts:   3,
		ArchiveSize:   200,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.TickInterval <= 0 {
		c.TickInterval = d.TickInterval
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = d.TaskTimeout
	}
	if c.VerifyTimeout <= 0 {
		c.VerifyTimeout = d.VerifyTimeout
	}
	if c.SinkTimeout <= 0 {
		c.SinkTimeout = d.SinkTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.ArchiveSize <= 0 {
		c.ArchiveSize = d.ArchiveSize
	}
	return c
}

// Scheduler is the single owner of the queue, the quota tracker and the
// collaborators that touch the control channel.
type Scheduler struct {
	cfg     Config
	quota   *quota.Tracker
	windows map[string]time.Duration
	policy  classify.Policy
	now     func() time.Time
	logger  *slog.Logger
	sinks   []Sink
	ledger  Ledger
	history History

	// mu guards the fields below.
	mu        sync.Mutex
	queue     queue
	inFlight  *domain.Task
	archive   []*domain.Task
	generator generator.Generator
	executor  Executor
	verifier  Verifier
	hydrated  bool

	// runMu serialises Tick: one action at a time.
	runMu sync.Mutex

	dispatch dispatcher

	loopMu sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

func WithConfig(c Config) Option                 { return func(s *Scheduler) { s.cfg = c } }
func WithPolicy(p classify.Policy) Option        { return func(s *Scheduler) { s.policy = p } }
func WithClock(now func() time.Time) Option      { return func(s *Scheduler) { s.now = now } }
func WithLogger(l *slog.Logger) Option           { return func(s *Scheduler) { s.logger = l } }
func WithSinks(sinks ...Sink) Option             { return func(s *Scheduler) { s.sinks = append(s.sinks, sinks...) } }
func WithGenerator(g generator.Generator) Option { return func(s *Scheduler) { s.generator = g } }
func WithExecutor(e Executor) Option             { return func(s *Scheduler) { s.executor = e } }
func WithVerifier(v Verifier) Option             { return func(s *Scheduler) { s.verifier = v } }

// WithLedger records every quota-consuming success in l and hydrates the
// tracker from it on Start.
func WithLedger(l Ledger) Option { return func(s *Scheduler) { s.ledger = l } }

// WithHistory sets the hydration source used when no ledger is configured
// or the ledger cannot be read.
func WithHistory(h History) Option { return func(s *Scheduler) { s.history = h } }

// New creates a scheduler for the platforms in limits. Platforms without
// limits are rejected by Enqueue.
func New(limits map[string]quota.Limits, opts ...Option) *Scheduler {
	s := &Scheduler{
		cfg:     DefaultConfig(),
		quota:   quota.NewTracker(limits),
		windows: make(map[string]time.Duration, len(limits)),
		policy:  classify.DefaultPolicy(),
		now:     func() time.Time { return time.Now().UTC() },
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cfg = s.cfg.withDefaults()
	for _, snap := range s.quota.Snapshot(s.now()) {
		s.windows[snap.Platform] = snap.Window
	}
	return s
}

func (s *Scheduler) SetGenerator(g generator.Generator) {
	s.mu.Lock()
	s.generator = g
	s.mu.Unlock()
}

func (s *Scheduler) SetExecutor(e Executor) {
	s.mu.Lock()
	s.executor = e
	s.mu.Unlock()
}

func (s *Scheduler) SetVerifier(v Verifier) {
	s.mu.Lock()
	s.verifier = v
	s.mu.Unlock()
}

// EnqueueOption adjusts a task created by Enqueue.
type EnqueueOption func(*domain.Task)

// WithMaxAttempts overrides the configured attempt budget.
func WithMaxAttempts(n int) EnqueueOption {
	return func(t *domain.Task) {
		if n > 0 {
			t.MaxAttempts = n
		}
	}
}

// WithContent supplies pre-written content; generation is skipped.
func WithContent(content string) EnqueueOption {
	return func(t *domain.Task) { t.Content = strings.TrimSpace(content) }
}

// Enqueue validates target and queues a task for it. The task is scheduled
// for the platform's next eligible instant, never earlier than now.
func (s *Scheduler) Enqueue(target domain.Target, style string, opts ...EnqueueOption) (string, error) {
	if err := target.Validate(); err != nil {
		return "", err
	}
	now := s.now()
	next, err := s.quota.NextEligibleAt(target.Platform, now)
	if err != nil {
		return "", err
	}

	task := &domain.Task{
		ID:           uuid.New().String(),
		Target:       target,
		Style:        style,
		Status:       domain.StatusPending,
		MaxAttempts:  s.cfg.MaxAttempts,
		CreatedAt:    now,
		ScheduledFor: now,
	}
	for _, opt := range opts {
		opt(task)
	}
	task.Reschedule(next)

	// The pending write is queued before the task can be popped, so it
	// always reaches the sinks ahead of the task's later statuses.
	s.mu.Lock()
	s.recordStatus(context.Background(), task)
	s.queue.push(task)
	s.mu.Unlock()

	s.updateQueueDepth()
	telemetry.SchedulerTasksEnqueued.WithLabelValues(target.Platform, string(target.Kind)).Inc()
	s.logger.Info("action enqueued",
		slog.String("task_id", task.ID),
		slog.String("platform", target.Platform),
		slog.String("kind", string(target.Kind)),
		slog.Time("scheduled_for", task.ScheduledFor),
	)
	return task.ID, nil
}

// Restore re-queues pending tasks persisted by a previous process. Tasks
// that are not pending, or whose platform is not configured, are skipped.
// It returns how many tasks were queued.
func (s *Scheduler) Restore(tasks []*domain.Task) int {
	now := s.now()
	restored := 0
	s.mu.Lock()
	for _, t := range tasks {
		if t.Status != domain.StatusPending || !s.quota.Known(t.Target.Platform) {
			continue
		}
		if s.queue.find(t.ID) != nil {
			continue
		}
		t = t.Clone()
		if t.MaxAttempts <= 0 {
			t.MaxAttempts = s.cfg.MaxAttempts
		}
		if next, err := s.quota.NextEligibleAt(t.Target.Platform, now); err == nil {
			t.Reschedule(next)
		}
		s.queue.push(t)
		restored++
	}
	s.mu.Unlock()
	s.updateQueueDepth()
	return restored
}

// Tick runs the earliest due, quota-admitted task to completion. It returns
// false when nothing was eligible or ctx is already done.
func (s *Scheduler) Tick(ctx context.Context) bool {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if ctx.Err() != nil {
		return false
	}

	now := s.now()
	s.mu.Lock()
	task := s.queue.popDue(now, func(platform string) bool {
		return s.quota.CanAdmit(platform, now)
	})
	if task != nil {
		s.inFlight = task.Clone()
	}
	s.mu.Unlock()
	if task == nil {
		return false
	}
	s.updateQueueDepth()

	s.run(ctx, task)

	s.mu.Lock()
	s.inFlight = nil
	s.mu.Unlock()
	return true
}

// Start hydrates quotas, ticks once immediately and then every
// TickInterval until Stop. Calling Start on a running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.loopMu.Lock()
	defer s.loopMu.Unlock()
	if s.cancel != nil {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(loopCtx, s.done)
	s.logger.Info("scheduler started", slog.Duration("tick_interval", s.cfg.TickInterval))
}

// Stop prevents new ticks, waits for the in-flight action to reach its
// natural end and then for the queued sink writes. Calling Stop again only
// waits for sink writes.
func (s *Scheduler) Stop() {
	s.loopMu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.loopMu.Unlock()
	if cancel == nil {
		s.Flush()
		return
	}
	cancel()
	<-done
	s.Flush()
	s.logger.Info("scheduler stopped")
}

// Flush blocks until every sink write queued so far has been delivered.
func (s *Scheduler) Flush() {
	s.dispatch.wait()
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	s.Hydrate(ctx)

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Hydrate seeds the quota tracker from the ledger, falling back to the
// history source. It runs at most once per scheduler.
func (s *Scheduler) Hydrate(ctx context.Context) {
	s.mu.Lock()
	if s.hydrated {
		s.mu.Unlock()
		return
	}
	s.hydrated = true
	s.mu.Unlock()

	sources := make([]History, 0, 2)
	if s.ledger != nil {
		sources = append(sources, s.ledger)
	}
	if s.history != nil {
		sources = append(sources, s.history)
	}
	if len(sources) == 0 {
		return
	}

	now := s.now()
	for _, platform := range s.quota.Platforms() {
		since := now.Add(-s.windows[platform])
		for _, src := range sources {
			successes, err := src.Load(ctx, platform, since)
			if err != nil {
				s.logger.Warn("quota hydration failed",
					slog.String("platform", platform),
					slog.String("error", err.Error()),
				)
				continue
			}
			s.quota.Hydrate(platform, successes, now)
			s.logger.Info("quota hydrated",
				slog.String("platform", platform),
				slog.Int("successes", len(successes)),
			)
			break
		}
	}
	s.updateQuotaGauges(now)
}

// QueueStatus is a point-in-time view of the scheduler's tasks.
type QueueStatus struct {
	Pending  []*domain.Task `json:"pending"`
	InFlight *domain.Task   `json:"in_flight,omitempty"`
	// Recent holds the latest terminal tasks, newest first.
	Recent []*domain.Task `json:"recent"`
}

func (s *Scheduler) QueueStatus() QueueStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := QueueStatus{
		Pending: s.queue.snapshot(),
		Recent:  make([]*domain.Task, 0, len(s.archive)),
	}
	if s.inFlight != nil {
		st.InFlight = s.inFlight.Clone()
	}
	for i := len(s.archive) - 1; i >= 0; i-- {
		st.Recent = append(st.Recent, s.archive[i].Clone())
	}
	return st
}

func (s *Scheduler) QuotaStatus() []quota.Snapshot {
	return s.quota.Snapshot(s.now())
}

// Task returns a copy of the task with id, wherever it currently is.
func (s *Scheduler) Task(id string) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t := s.queue.find(id); t != nil {
		return t.Clone(), nil
	}
	if s.inFlight != nil && s.inFlight.ID == id {
		return s.inFlight.Clone(), nil
	}
	for i := len(s.archive) - 1; i >= 0; i-- {
		if s.archive[i].ID == id {
			return s.archive[i].Clone(), nil
		}
	}
	return nil, &domain.TaskNotFoundError{TaskID: id}
}

func (s *Scheduler) collaborators() (generator.Generator, Executor, Verifier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generator, s.executor, s.verifier
}

// publish replaces the in-flight snapshot.
func (s *Scheduler) publish(t *domain.Task) {
	s.mu.Lock()
	s.inFlight = t.Clone()
	s.mu.Unlock()
}

func (s *Scheduler) requeue(t *domain.Task) {
	s.mu.Lock()
	s.queue.push(t)
	s.mu.Unlock()
	s.updateQueueDepth()
}

func (s *Scheduler) archiveTask(t *domain.Task) {
	s.mu.Lock()
	s.archive = append(s.archive, t.Clone())
	if over := len(s.archive) - s.cfg.ArchiveSize; over > 0 {
		s.archive = append(s.archive[:0], s.archive[over:]...)
	}
	s.mu.Unlock()
}

func (s *Scheduler) updateQueueDepth() {
	s.mu.Lock()
	depth := s.queue.depth()
	s.mu.Unlock()
	for _, platform := range s.quota.Platforms() {
		telemetry.SchedulerQueueDepth.WithLabelValues(platform).Set(float64(depth[platform]))
	}
}

func (s *Scheduler) updateQuotaGauges(now time.Time) {
	for _, snap := range s.quota.Snapshot(now) {
		telemetry.SchedulerQuotaUsed.WithLabelValues(snap.Platform).Set(float64(snap.CurrentWindowCount))
	}
}

// sinkName labels sink metrics and logs.
func sinkName(v any) string {
	return strings.TrimPrefix(fmt.Sprintf("%T", v), "*")
}
