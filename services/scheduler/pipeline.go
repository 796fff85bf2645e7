package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ramiqadoumi/go-action-flow/internal/classify"
	"github.com/ramiqadoumi/go-action-flow/internal/domain"
	"github.com/ramiqadoumi/go-action-flow/internal/generator"
	"github.com/ramiqadoumi/go-action-flow/pkg/telemetry"
)

var (
	errNoGenerator = errors.New("no content generator configured")
	errNoExecutor  = errors.New("no executor configured")
	errEmptyText   = errors.New("generator returned empty content")
)

// run executes one attempt of t and then either archives it or puts it
// back in the queue. The attempt runs on a context detached from ctx's
// cancellation so Stop never interrupts a submission halfway.
func (s *Scheduler) run(ctx context.Context, t *domain.Task) {
	execCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.TaskTimeout)
	defer cancel()

	execCtx, span := otel.Tracer("scheduler").Start(execCtx, "scheduler.run_action")
	defer span.End()
	span.SetAttributes(
		attribute.String("task.id", t.ID),
		attribute.String("task.platform", t.Target.Platform),
		attribute.String("task.kind", string(t.Target.Kind)),
	)

	start := s.now()
	t.Attempts++
	t.StartedAt = &start
	span.SetAttributes(attribute.Int("task.attempt", t.Attempts))

	log := s.logger.With(
		slog.String("task_id", t.ID),
		slog.String("platform", t.Target.Platform),
		slog.Int("attempt", t.Attempts),
	)
	result := domain.ActionResult{TaskID: t.ID, Attempt: t.Attempts}

	gen, exec, ver := s.collaborators()

	// pending → generating
	s.advance(execCtx, t, domain.StatusGenerating)
	if err := s.generate(execCtx, gen, t); err != nil {
		span.SetStatus(codes.Error, err.Error())
		s.fail(execCtx, t, result, err, start, log)
		return
	}

	// Quota is checked again right before anything reaches the destination.
	now := s.now()
	if !s.quota.CanAdmit(t.Target.Platform, now) {
		s.deferForQuota(execCtx, t, now, log)
		return
	}

	// generating → posting
	s.advance(execCtx, t, domain.StatusPosting)
	if exec == nil {
		span.SetStatus(codes.Error, errNoExecutor.Error())
		s.fail(execCtx, t, result, domain.NewActionError(domain.KindChannelUnavailable, domain.StageNavigate, errNoExecutor), start, log)
		return
	}
	outcome, err := exec.Execute(execCtx, t)
	result.Strategies = outcome.Strategies
	t.Strategies = outcome.Strategies
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.fail(execCtx, t, result, err, start, log)
		return
	}

	// posting → verifying
	s.advance(execCtx, t, domain.StatusVerifying)
	if ver != nil {
		ev := ver.Verify(execCtx, t.Target.Platform, t.Content, s.cfg.VerifyTimeout)
		t.Verified = ev.Found
		t.ResultRef = ev.Ref
	}
	span.SetAttributes(attribute.Bool("task.verified", t.Verified))
	s.complete(execCtx, t, result, start, log)
}

// advance moves t forward and publishes the new status.
func (s *Scheduler) advance(ctx context.Context, t *domain.Task, next domain.Status) {
	if err := t.Transition(next); err != nil {
		s.logger.Error("status transition", slog.String("task_id", t.ID), slog.String("error", err.Error()))
		return
	}
	s.publish(t)
	s.recordStatus(ctx, t)
}

func (s *Scheduler) generate(ctx context.Context, gen generator.Generator, t *domain.Task) error {
	if t.Content != "" {
		return nil
	}
	if gen == nil {
		return domain.NewActionError(domain.KindTransientNotFound, domain.StageGenerate, errNoGenerator)
	}
	text, err := gen.Generate(ctx, generator.ContextFor(t))
	if err == nil && text == "" {
		err = errEmptyText
	}
	if err != nil {
		kind := domain.KindTransientNotFound
		if errors.Is(err, domain.ErrRefused) {
			kind = domain.KindRejected
		}
		return domain.NewActionError(kind, domain.StageGenerate, err)
	}
	t.Content = text
	return nil
}

// deferForQuota puts t back without charging the attempt.
func (s *Scheduler) deferForQuota(ctx context.Context, t *domain.Task, now time.Time, log *slog.Logger) {
	t.Attempts--
	t.StartedAt = nil
	next, _ := s.quota.NextEligibleAt(t.Target.Platform, now)
	t.Reschedule(next)
	if err := t.Transition(domain.StatusPending); err != nil {
		log.Error("status transition", slog.String("error", err.Error()))
	}
	log.Info("quota closed before submission, deferred", slog.Time("scheduled_for", t.ScheduledFor))
	s.requeue(t)
	s.recordStatus(ctx, t)
}

func (s *Scheduler) complete(ctx context.Context, t *domain.Task, result domain.ActionResult, start time.Time, log *slog.Logger) {
	now := s.now()
	if err := s.quota.RecordSuccess(t.Target.Platform, now); err != nil {
		log.Error("quota record", slog.String("error", err.Error()))
	}
	s.updateQuotaGauges(now)
	if s.ledger != nil {
		lctx, cancel := context.WithTimeout(ctx, s.cfg.SinkTimeout)
		if err := s.ledger.Record(lctx, t.Target.Platform, now); err != nil {
			telemetry.SinkErrorsTotal.WithLabelValues("ledger").Inc()
			log.Warn("quota ledger write failed", slog.String("error", err.Error()))
		}
		cancel()
	}

	t.CompletedAt = &now
	outcome := "verified"
	if t.Verified {
		t.LastError = nil
	} else {
		outcome = "unverified"
		t.LastError = &domain.LastError{
			Kind:    domain.KindVerificationUncertain,
			Message: fmt.Sprintf("submitted but not observed within %s", s.cfg.VerifyTimeout),
		}
		result.ErrorKind = domain.KindVerificationUncertain
	}
	if err := t.Transition(domain.StatusCompleted); err != nil {
		log.Error("status transition", slog.String("error", err.Error()))
	}

	result.Success = true
	result.Verified = t.Verified
	result.ResultRef = t.ResultRef
	result.DurationMs = now.Sub(start).Milliseconds()
	result.FinishedAt = now

	telemetry.SchedulerActionDurationSeconds.WithLabelValues(t.Target.Platform).Observe(now.Sub(start).Seconds())
	telemetry.SchedulerTasksFinished.WithLabelValues(t.Target.Platform, outcome).Inc()
	log.Info("action completed",
		slog.Bool("verified", t.Verified),
		slog.String("result_ref", t.ResultRef),
		slog.Int64("duration_ms", result.DurationMs),
	)

	s.archiveTask(t)
	snap := t.Clone()
	s.toSinks(ctx, "completed", func(ctx context.Context, sink Sink) error {
		return sink.RecordCompleted(ctx, snap, result)
	})
}

func (s *Scheduler) fail(ctx context.Context, t *domain.Task, result domain.ActionResult, err error, start time.Time, log *slog.Logger) {
	now := s.now()
	ae := classify.Normalise(domain.StageNavigate, err)

	t.LastError = &domain.LastError{Kind: ae.Kind, Message: ae.Error()}
	result.ErrorKind = ae.Kind
	result.Error = ae.Error()
	result.Artifact = ae.Artifact
	result.DurationMs = now.Sub(start).Milliseconds()
	result.FinishedAt = now
	telemetry.SchedulerActionDurationSeconds.WithLabelValues(t.Target.Platform).Observe(now.Sub(start).Seconds())

	d := s.policy.Decide(ae.Kind, t)
	if d.Retry {
		if d.Refund {
			t.Attempts--
			t.RateLimitDeferrals++
		}
		t.Reschedule(now.Add(d.Delay))
		if err := t.Transition(domain.StatusPending); err != nil {
			log.Error("status transition", slog.String("error", err.Error()))
		}
		telemetry.SchedulerRetriesTotal.WithLabelValues(t.Target.Platform, string(ae.Kind)).Inc()
		log.Warn("attempt failed, rescheduled",
			slog.String("error_kind", string(ae.Kind)),
			slog.String("stage", string(ae.Stage)),
			slog.String("error", ae.Error()),
			slog.Bool("refunded", d.Refund),
			slog.Time("scheduled_for", t.ScheduledFor),
		)
		s.requeue(t)
		s.recordStatus(ctx, t)
		s.recordResult(ctx, result)
		return
	}

	t.CompletedAt = &now
	if err := t.Transition(domain.StatusFailed); err != nil {
		log.Error("status transition", slog.String("error", err.Error()))
	}
	telemetry.SchedulerTasksFinished.WithLabelValues(t.Target.Platform, "failed").Inc()
	log.Error("action failed",
		slog.String("error_kind", string(ae.Kind)),
		slog.String("stage", string(ae.Stage)),
		slog.String("error", ae.Error()),
		slog.String("artifact", ae.Artifact),
	)

	s.archiveTask(t)
	snap := t.Clone()
	s.toSinks(ctx, "failed", func(ctx context.Context, sink Sink) error {
		return sink.RecordFailed(ctx, snap, result)
	})
}

// toSinks queues fn for every sink, each call with its own timeout. Writes
// reach the sinks in the order they were queued. Failures are logged and
// counted only.
func (s *Scheduler) toSinks(ctx context.Context, event string, fn func(context.Context, Sink) error) {
	if len(s.sinks) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	s.dispatch.post(func() { s.deliver(ctx, event, fn) })
}

func (s *Scheduler) deliver(ctx context.Context, event string, fn func(context.Context, Sink) error) {
	for _, sink := range s.sinks {
		sctx, cancel := context.WithTimeout(ctx, s.cfg.SinkTimeout)
		err := fn(sctx, sink)
		cancel()
		if err != nil {
			name := sinkName(sink)
			telemetry.SinkErrorsTotal.WithLabelValues(name).Inc()
			s.logger.Warn("sink write failed",
				slog.String("sink", name),
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (s *Scheduler) recordStatus(ctx context.Context, t *domain.Task) {
	snap := t.Clone()
	s.toSinks(ctx, "status", func(ctx context.Context, sink Sink) error {
		if ss, ok := sink.(StatusSink); ok {
			return ss.RecordStatus(ctx, snap)
		}
		return nil
	})
}

func (s *Scheduler) recordResult(ctx context.Context, result domain.ActionResult) {
	s.toSinks(ctx, "result", func(ctx context.Context, sink Sink) error {
		if rs, ok := sink.(ResultSink); ok {
			return rs.RecordResult(ctx, result)
		}
		return nil
	})
}
