package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ramiqadoumi/go-action-flow/internal/domain"
)

// ActionRepository abstracts all database access for actions and their
// attempt history.
type ActionRepository interface {
	Upsert(ctx context.Context, task *domain.Task) error
	RecordResult(ctx context.Context, result domain.ActionResult) error
	GetByID(ctx context.Context, id string) (*domain.Task, error)
	ListByStatus(ctx context.Context, status domain.Status, limit int) ([]*domain.Task, error)
	ListResults(ctx context.Context, taskID string) ([]domain.ActionResult, error)
	// SuccessesSince returns completion times of submitted actions on
	// platform, oldest first.
	SuccessesSince(ctx context.Context, platform string, since time.Time) ([]time.Time, error)

	// Sink methods used by the scheduler.
	RecordStatus(ctx context.Context, task *domain.Task) error
	RecordCompleted(ctx context.Context, task *domain.Task, result domain.ActionResult) error
	RecordFailed(ctx context.Context, task *domain.Task, result domain.ActionResult) error
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository wraps a pgxpool with the ActionRepository interface.
func NewRepository(pool *pgxpool.Pool) ActionRepository {
	return &repository{pool: pool}
}

// NewPool creates a pgxpool and verifies connectivity.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return pool, nil
}

const taskColumns = `id, platform, destination, kind, style, content, status, attempts, max_attempts,
	rate_limit_deferrals, created_at, scheduled_for, started_at, completed_at,
	last_error_kind, last_error_message, result_ref, verified, strategies`

// Upsert inserts or updates task. A row that already reached COMPLETED or
// FAILED is left untouched.
func (r *repository) Upsert(ctx context.Context, task *domain.Task) error {
	var errKind, errMsg *string
	if task.LastError != nil {
		k, m := string(task.LastError.Kind), task.LastError.Message
		errKind, errMsg = &k, &m
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO actions (`+taskColumns+`, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, now())
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			status = EXCLUDED.status,
			attempts = EXCLUDED.attempts,
			rate_limit_deferrals = EXCLUDED.rate_limit_deferrals,
			scheduled_for = EXCLUDED.scheduled_for,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at,
			last_error_kind = EXCLUDED.last_error_kind,
			last_error_message = EXCLUDED.last_error_message,
			result_ref = EXCLUDED.result_ref,
			verified = EXCLUDED.verified,
			strategies = EXCLUDED.strategies,
			updated_at = now()
		WHERE actions.status NOT IN ('COMPLETED', 'FAILED')
	`,
		task.ID, task.Target.Platform, task.Target.Destination, string(task.Target.Kind),
		task.Style, task.Content, string(task.Status), task.Attempts, task.MaxAttempts,
		task.RateLimitDeferrals, task.CreatedAt, task.ScheduledFor, task.StartedAt, task.CompletedAt,
		errKind, errMsg, task.ResultRef, task.Verified, task.Strategies,
	)
	if err != nil {
		return fmt.Errorf("upsert action %s: %w", task.ID, err)
	}
	return nil
}

func (r *repository) RecordResult(ctx context.Context, result domain.ActionResult) error {
	if result.FinishedAt.IsZero() {
		result.FinishedAt = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO action_results
			(id, task_id, attempt, success, verified, error_kind, error, artifact, result_ref,
			 strategies, duration_ms, finished_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		uuid.New().String(), result.TaskID, result.Attempt, result.Success, result.Verified,
		string(result.ErrorKind), result.Error, result.Artifact, result.ResultRef,
		result.Strategies, result.DurationMs, result.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("record result for action %s: %w", result.TaskID, err)
	}
	return nil
}

func (r *repository) GetByID(ctx context.Context, id string) (*domain.Task, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM actions WHERE id = $1`, id)
	task, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &domain.TaskNotFoundError{TaskID: id}
	}
	return task, err
}

func (r *repository) ListByStatus(ctx context.Context, status domain.Status, limit int) ([]*domain.Task, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+taskColumns+`
		FROM actions
		WHERE status = $1
		ORDER BY scheduled_for, created_at
		LIMIT $2
	`, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("list actions by status %s: %w", status, err)
	}
	defer rows.Close()

	var tasks []*domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

func (r *repository) ListResults(ctx context.Context, taskID string) ([]domain.ActionResult, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT task_id, attempt, success, verified, error_kind, error, artifact, result_ref,
		       strategies, duration_ms, finished_at
		FROM action_results
		WHERE task_id = $1
		ORDER BY attempt, finished_at
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list results for action %s: %w", taskID, err)
	}
	defer rows.Close()

	var out []domain.ActionResult
	for rows.Next() {
		var res domain.ActionResult
		var kind string
		if err := rows.Scan(
			&res.TaskID, &res.Attempt, &res.Success, &res.Verified, &kind, &res.Error,
			&res.Artifact, &res.ResultRef, &res.Strategies, &res.DurationMs, &res.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		res.ErrorKind = domain.ErrorKind(kind)
		out = append(out, res)
	}
	return out, rows.Err()
}

func (r *repository) SuccessesSince(ctx context.Context, platform string, since time.Time) ([]time.Time, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT completed_at
		FROM actions
		WHERE platform = $1 AND status = $2 AND completed_at >= $3
		ORDER BY completed_at
	`, platform, string(domain.StatusCompleted), since)
	if err != nil {
		return nil, fmt.Errorf("list successes for %s: %w", platform, err)
	}
	defer rows.Close()

	var out []time.Time
	for rows.Next() {
		var at time.Time
		if err := rows.Scan(&at); err != nil {
			return nil, fmt.Errorf("scan success: %w", err)
		}
		out = append(out, at)
	}
	return out, rows.Err()
}

func (r *repository) RecordStatus(ctx context.Context, task *domain.Task) error {
	return r.Upsert(ctx, task)
}

func (r *repository) RecordCompleted(ctx context.Context, task *domain.Task, result domain.ActionResult) error {
	return r.recordTerminal(ctx, task, result)
}

func (r *repository) RecordFailed(ctx context.Context, task *domain.Task, result domain.ActionResult) error {
	return r.recordTerminal(ctx, task, result)
}

func (r *repository) recordTerminal(ctx context.Context, task *domain.Task, result domain.ActionResult) error {
	if err := r.Upsert(ctx, task); err != nil {
		return err
	}
	return r.RecordResult(ctx, result)
}

// scanTask reads an action row from any pgx row type.
func scanTask(row interface {
	Scan(...any) error
}) (*domain.Task, error) {
	var (
		task            domain.Task
		kind, status    string
		errKind, errMsg *string
	)
	err := row.Scan(
		&task.ID, &task.Target.Platform, &task.Target.Destination, &kind, &task.Style, &task.Content,
		&status, &task.Attempts, &task.MaxAttempts, &task.RateLimitDeferrals,
		&task.CreatedAt, &task.ScheduledFor, &task.StartedAt, &task.CompletedAt,
		&errKind, &errMsg, &task.ResultRef, &task.Verified, &task.Strategies,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan action: %w", err)
	}
	task.Target.Kind = domain.ContentKind(kind)
	task.Status = domain.Status(status)
	if errKind != nil {
		task.LastError = &domain.LastError{Kind: domain.ErrorKind(*errKind)}
		if errMsg != nil {
			task.LastError.Message = *errMsg
		}
	}
	return &task, nil
}
