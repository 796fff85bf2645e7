//go:build integration

package redis_test

import (
	"context"
	"log"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcRedis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/ramiqadoumi/go-action-flow/internal/domain"
	redisstore "github.com/ramiqadoumi/go-action-flow/internal/redis"
)

var testRedisAddr string

func TestMain(m *testing.M) {
	os.Exit(run(m))
}

func run(m *testing.M) int {
	ctx := context.Background()
	ctr, err := tcRedis.Run(ctx, "redis:7-alpine")
	if err != nil {
		log.Fatalf("start redis container: %v", err)
	}
	defer ctr.Terminate(ctx) //nolint:errcheck

	connStr, err := ctr.ConnectionString(ctx)
	if err != nil {
		log.Fatalf("redis connection string: %v", err)
	}
	// ConnectionString returns "redis://host:port"; go-redis wants host:port.
	testRedisAddr = strings.TrimPrefix(connStr, "redis://")
	return m.Run()
}

// newRedisClient returns a client connected to the test container and flushes
// the database on cleanup so tests don't interfere with each other.
func newRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: testRedisAddr})
	t.Cleanup(func() {
		client.FlushDB(context.Background()) //nolint:errcheck
		client.Close()                       //nolint:errcheck
	})
	return client
}

func TestStateStore_StatusRoundTrip(t *testing.T) {
	store := redisstore.NewStateStore(newRedisClient(t))
	ctx := context.Background()

	for _, status := range []domain.Status{
		domain.StatusPending,
		domain.StatusGenerating,
		domain.StatusPosting,
		domain.StatusVerifying,
		domain.StatusCompleted,
	} {
		require.NoError(t, store.SetStatus(ctx, "task-fsm", status))
		got, err := store.GetStatus(ctx, "task-fsm")
		require.NoError(t, err)
		assert.Equal(t, status, got)
	}
}

func TestStateStore_GetStatus_NotFound(t *testing.T) {
	store := redisstore.NewStateStore(newRedisClient(t))

	_, err := store.GetStatus(context.Background(), "does-not-exist")
	var notFound *domain.TaskNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "does-not-exist", notFound.TaskID)
}

func TestStateStore_RecordCompleted(t *testing.T) {
	store := redisstore.NewStateStore(newRedisClient(t))
	ctx := context.Background()

	task := &domain.Task{
		ID:       "task-done",
		Target:   domain.Target{Platform: "x", Destination: "https://x.com/a/status/1", Kind: domain.KindComment},
		Status:   domain.StatusCompleted,
		Verified: true,
	}
	result := domain.ActionResult{
		TaskID:     task.ID,
		Attempt:    1,
		Success:    true,
		Verified:   true,
		Strategies: map[string]string{"input": "keystrokes"},
		FinishedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
	require.NoError(t, store.RecordCompleted(ctx, task, result))

	status, err := store.GetStatus(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, status)

	meta, err := store.GetTaskMeta(ctx, task.ID)
	require.NoError(t, err)
	assert.True(t, meta.Verified)

	got, err := store.GetResult(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "keystrokes", got.Strategies["input"])
	assert.True(t, got.FinishedAt.Equal(result.FinishedAt))
}

func TestQuotaLedger_RecordAndLoad(t *testing.T) {
	ledger := redisstore.NewQuotaLedger(newRedisClient(t), time.Hour)
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, ledger.Record(ctx, "x", now.Add(-50*time.Minute)))
	require.NoError(t, ledger.Record(ctx, "x", now.Add(-5*time.Minute)))
	require.NoError(t, ledger.Record(ctx, "linkedin", now))

	got, err := ledger.Load(ctx, "x", now.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].Equal(now.Add(-50*time.Minute)))

	got, err = ledger.Load(ctx, "x", now.Add(-10*time.Minute))
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestQuotaLedger_EvictsPastRetention(t *testing.T) {
	ledger := redisstore.NewQuotaLedger(newRedisClient(t), time.Hour)
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, ledger.Record(ctx, "x", now.Add(-3*time.Hour)))
	require.NoError(t, ledger.Record(ctx, "x", now))

	got, err := ledger.Load(ctx, "x", now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Len(t, got, 1, "entries older than retention are dropped on write")
}
