package config

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramiqadoumi/go-action-flow/internal/domain"
)

func fromYAML(t *testing.T, doc string) *viper.Viper {
	t.Helper()
	v := viper.New()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(strings.NewReader(doc)))
	return v
}

func TestLoad_FullFile(t *testing.T) {
	v := fromYAML(t, `
log_level: debug
http_port: "8080"
kafka_brokers: "a:9092, b:9092"
intake: true

scheduler:
  tick_interval: 10s
  max_attempts: 5

policy:
  base_delay: 1m
  rate_limit_grace: 1

quotas:
  LinkedIn:
    window_limit: 20
    window: 24h
    min_interval: 3m

executor:
  stage_attempts: 4
  artifact_dir: /tmp/artifacts

openai:
  model: gpt-4o-mini
  styles:
    friendly: Keep it warm.

templates:
  intro: "Hi {{.Destination}}"

campaigns:
  - name: weekly
    cron: "0 9 * * 1"
    platform: linkedin
    kind: direct_message
    destinations: [alice, bob]
`)

	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.True(t, cfg.Intake)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Brokers())

	assert.Equal(t, 10*time.Second, cfg.Scheduler.TickInterval)
	assert.Equal(t, 5, cfg.Scheduler.MaxAttempts)
	assert.Equal(t, 3*time.Minute, cfg.Scheduler.TaskTimeout, "unset fields keep defaults")

	assert.Equal(t, time.Minute, cfg.Policy.BaseDelay)
	assert.Equal(t, 1, cfg.Policy.RateLimitGrace)
	assert.Equal(t, 15*time.Minute, cfg.Policy.MaxDelay)

	require.Contains(t, cfg.Quotas, "linkedin")
	assert.Equal(t, 20, cfg.Quotas["linkedin"].WindowLimit)
	assert.Equal(t, 24*time.Hour, cfg.Quotas["linkedin"].Window)
	assert.Equal(t, 3*time.Minute, cfg.Quotas["linkedin"].MinInterval)

	assert.Equal(t, 4, cfg.Executor.StageAttempts)
	assert.Equal(t, "/tmp/artifacts", cfg.Executor.ArtifactDir)
	assert.Equal(t, 24, cfg.Executor.SnippetRunes)

	assert.Equal(t, "http://127.0.0.1:9222", cfg.CDP.Endpoint)
	assert.Equal(t, "gpt-4o-mini", cfg.OpenAI.Model)
	assert.Equal(t, "Keep it warm.", cfg.OpenAI.Styles["friendly"])
	assert.Equal(t, "Hi {{.Destination}}", cfg.Templates["intro"])

	require.Len(t, cfg.Campaigns, 1)
	assert.Equal(t, "weekly", cfg.Campaigns[0].Name)
	assert.Equal(t, domain.ContentKind("direct_message"), cfg.Campaigns[0].Kind)
	assert.Equal(t, []string{"alice", "bob"}, cfg.Campaigns[0].Destinations)
}

func TestLoad_NoBrokers(t *testing.T) {
	cfg, err := Load(fromYAML(t, `
quotas:
  x: {window_limit: 1, window: 1h}
`))
	require.NoError(t, err)
	assert.Nil(t, cfg.Brokers())
}

func TestLoad_InvalidQuotas(t *testing.T) {
	cases := map[string]string{
		"missing":      `log_level: info`,
		"zero limit":   "quotas:\n  x: {window_limit: 0, window: 1h}",
		"zero window":  "quotas:\n  x: {window_limit: 2}",
		"neg interval": "quotas:\n  x: {window_limit: 2, window: 1h, min_interval: -1s}",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(fromYAML(t, doc))
			assert.Error(t, err)
		})
	}
}
