package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramiqadoumi/go-action-flow/internal/domain"
	"github.com/ramiqadoumi/go-action-flow/internal/kafka"
)

// ── mocks ────────────────────────────────────────────────────────────────────

type publishedMsg struct {
	topic string
	key   string
	value []byte
}

type fakeProducer struct {
	msgs []publishedMsg
	err  error
}

func (p *fakeProducer) Publish(_ context.Context, topic, key string, value []byte) error {
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, publishedMsg{topic, key, value})
	return nil
}
func (p *fakeProducer) Close() error { return nil }

// fakeConsumer hands its messages to the handler once and records which
// ones would have been committed.
type fakeConsumer struct {
	msgs      []kafka.Message
	committed []int64
}

func (c *fakeConsumer) Subscribe(ctx context.Context, h kafka.HandlerFunc) error {
	for _, m := range c.msgs {
		if err := h(ctx, m); err == nil {
			c.committed = append(c.committed, m.Offset)
		}
	}
	return nil
}
func (c *fakeConsumer) Close() error { return nil }

func newIntakeFixture(t *testing.T, msgs ...string) (*Intake, *fakeConsumer, *fakeProducer, *Scheduler) {
	t.Helper()
	consumer := &fakeConsumer{}
	for i, m := range msgs {
		consumer.msgs = append(consumer.msgs, kafka.Message{Topic: kafka.TopicRequests, Value: []byte(m), Offset: int64(i)})
	}
	producer := &fakeProducer{}
	s := newTestScheduler(t, newClock(), relaxed())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewIntake(consumer, producer, s, logger), consumer, producer, s
}

// ── tests ────────────────────────────────────────────────────────────────────

func TestIntake_EnqueuesValidRequest(t *testing.T) {
	in, consumer, producer, s := newIntakeFixture(t,
		`{"platform":"X","destination":" https://x.test/status/9 ","style":"warm","max_attempts":5}`,
	)
	require.NoError(t, in.Run(context.Background()))

	pending := s.QueueStatus().Pending
	require.Len(t, pending, 1)
	assert.Equal(t, domain.Target{Platform: "x", Destination: "https://x.test/status/9", Kind: domain.KindComment}, pending[0].Target)
	assert.Equal(t, "warm", pending[0].Style)
	assert.Equal(t, 5, pending[0].MaxAttempts)
	assert.Empty(t, producer.msgs)
	assert.Equal(t, []int64{0}, consumer.committed)
}

func TestIntake_MalformedGoesToDLQ(t *testing.T) {
	in, consumer, producer, s := newIntakeFixture(t, `{not json`)
	require.NoError(t, in.Run(context.Background()))

	require.Len(t, producer.msgs, 1)
	assert.Equal(t, kafka.TopicDLQ, producer.msgs[0].topic)
	assert.Equal(t, `{not json`, string(producer.msgs[0].value))
	assert.Empty(t, s.QueueStatus().Pending)
	assert.Equal(t, []int64{0}, consumer.committed)
}

func TestIntake_RefusedTargetGoesToDLQ(t *testing.T) {
	in, _, producer, s := newIntakeFixture(t,
		`{"platform":"myspace","destination":"https://myspace.test/1"}`,
		`{"platform":"x","destination":""}`,
		`{"platform":"x","destination":"@jane","kind":"direct_message","content":"hi"}`,
	)
	require.NoError(t, in.Run(context.Background()))

	assert.Len(t, producer.msgs, 2)
	pending := s.QueueStatus().Pending
	require.Len(t, pending, 1)
	assert.Equal(t, "hi", pending[0].Content)
}

func TestIntake_DLQFailureSkipsCommit(t *testing.T) {
	in, consumer, producer, _ := newIntakeFixture(t, `[]`)
	producer.err = errors.New("broker unreachable")
	require.NoError(t, in.Run(context.Background()))

	assert.Empty(t, consumer.committed, "message is redelivered")
}
