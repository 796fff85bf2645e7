package kafka

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramiqadoumi/go-action-flow/internal/domain"
)

type published struct {
	topic, key string
	value      []byte
}

type fakeProducer struct {
	mu  sync.Mutex
	out []published
}

func (f *fakeProducer) Publish(_ context.Context, topic, key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.out = append(f.out, published{topic: topic, key: key, value: value})
	return nil
}

func (f *fakeProducer) Close() error { return nil }

func TestEventPublisher_RoutesByOutcome(t *testing.T) {
	p := &fakeProducer{}
	pub := NewEventPublisher(p)
	ctx := context.Background()

	done := &domain.Task{ID: "t-1", Status: domain.StatusCompleted}
	failed := &domain.Task{ID: "t-2", Status: domain.StatusFailed}
	require.NoError(t, pub.RecordCompleted(ctx, done, domain.ActionResult{TaskID: "t-1", Success: true}))
	require.NoError(t, pub.RecordFailed(ctx, failed, domain.ActionResult{TaskID: "t-2", ErrorKind: domain.KindRejected}))

	require.Len(t, p.out, 2)
	assert.Equal(t, TopicCompleted, p.out[0].topic)
	assert.Equal(t, "t-1", p.out[0].key)
	assert.Equal(t, TopicFailed, p.out[1].topic)

	var ev ActionEvent
	require.NoError(t, json.Unmarshal(p.out[1].value, &ev))
	assert.Equal(t, domain.KindRejected, ev.Result.ErrorKind)
	assert.Equal(t, domain.StatusFailed, ev.Task.Status)
}

func TestHeaderCarrier_SetReplaces(t *testing.T) {
	var c HeaderCarrier
	c.Set("traceparent", "a")
	c.Set("tracestate", "b")
	c.Set("traceparent", "c")

	assert.Equal(t, "c", c.Get("traceparent"))
	assert.Equal(t, "", c.Get("missing"))
	assert.ElementsMatch(t, []string{"tracestate", "traceparent"}, c.Keys())
}
