package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// QuotaLedger persists the timestamps of successful actions per platform so a
// restart inside a quota window does not hand out a fresh budget.
type QuotaLedger interface {
	Record(ctx context.Context, platform string, at time.Time) error
	Load(ctx context.Context, platform string, since time.Time) ([]time.Time, error)
}

type zsetLedger struct {
	client    *redis.Client
	retention time.Duration
}

// NewQuotaLedger returns a Redis-backed ledger. Entries older than retention
// are evicted on every write; retention should be the longest quota window.
func NewQuotaLedger(client *redis.Client, retention time.Duration) QuotaLedger {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &zsetLedger{client: client, retention: retention}
}

func ledgerKey(platform string) string { return "quota:ledger:" + platform }

// Record appends at to platform's ledger. It uses a sorted set scored by the
// nanosecond timestamp, which is also the member.
func (l *zsetLedger) Record(ctx context.Context, platform string, at time.Time) error {
	ns := at.UnixNano()
	cutoff := at.Add(-l.retention).UnixNano()
	key := ledgerKey(platform)

	pipe := l.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", "("+strconv.FormatInt(cutoff, 10))
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(ns), Member: strconv.FormatInt(ns, 10)})
	pipe.Expire(ctx, key, l.retention*2)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("quota ledger record for %q: %w", platform, err)
	}
	return nil
}

// Load returns platform's successes at or after since, oldest first.
func (l *zsetLedger) Load(ctx context.Context, platform string, since time.Time) ([]time.Time, error) {
	members, err := l.client.ZRangeByScore(ctx, ledgerKey(platform), &redis.ZRangeBy{
		Min: strconv.FormatInt(since.UnixNano(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("quota ledger load for %q: %w", platform, err)
	}
	out := make([]time.Time, 0, len(members))
	for _, m := range members {
		ns, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("quota ledger entry %q for %q: %w", m, platform, err)
		}
		out = append(out, time.Unix(0, ns).UTC())
	}
	return out, nil
}
