package scheduler

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramiqadoumi/go-action-flow/internal/domain"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestCampaigns_Validation(t *testing.T) {
	s := newTestScheduler(t, newClock(), relaxed())
	tests := []struct {
		name string
		camp Campaign
	}{
		{"no name", Campaign{Cron: "0 9 * * *", Destinations: []string{"a"}}},
		{"bad cron", Campaign{Name: "c", Cron: "every morning", Destinations: []string{"a"}}},
		{"no destinations", Campaign{Name: "c", Cron: "0 9 * * *"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewCampaigns(s, []Campaign{tc.camp}, discard())
			assert.Error(t, err)
		})
	}

	dup := Campaign{Name: "c", Cron: "0 9 * * *", Destinations: []string{"a"}}
	_, err := NewCampaigns(s, []Campaign{dup, dup}, discard())
	assert.ErrorContains(t, err, "defined twice")
}

func TestCampaigns_FireEnqueuesEveryDestination(t *testing.T) {
	s := newTestScheduler(t, newClock(), relaxed())
	camp := Campaign{
		Name:         "launch-week",
		Cron:         "0 9 * * 1-5",
		Platform:     "x",
		Kind:         domain.KindDirectMessage,
		Style:        "intro",
		Destinations: []string{"@ada", "", "@grace"},
		MaxAttempts:  2,
	}
	c, err := NewCampaigns(s, []Campaign{camp}, discard())
	require.NoError(t, err)
	c.Start()
	defer c.Stop()

	assert.Equal(t, 2, c.Fire(camp), "an empty destination is refused, the rest proceed")

	pending := s.QueueStatus().Pending
	require.Len(t, pending, 2)
	assert.Equal(t, "@ada", pending[0].Target.Destination)
	assert.Equal(t, domain.KindDirectMessage, pending[0].Target.Kind)
	assert.Equal(t, "intro", pending[0].Style)
	assert.Equal(t, 2, pending[1].MaxAttempts)
}
