package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/ramiqadoumi/go-action-flow/internal/cdp"
	"github.com/ramiqadoumi/go-action-flow/internal/classify"
	"github.com/ramiqadoumi/go-action-flow/internal/crm"
	"github.com/ramiqadoumi/go-action-flow/internal/executor"
	"github.com/ramiqadoumi/go-action-flow/internal/generator"
	"github.com/ramiqadoumi/go-action-flow/internal/quota"
	"github.com/ramiqadoumi/go-action-flow/services/scheduler"
)

// Config holds typed configuration for the scheduler service.
type Config struct {
	LogLevel      string
	HTTPPort      string
	MetricsAddr   string
	OTelEndpoint  string
	RedisAddr     string
	PostgresDSN   string
	KafkaBrokers  string
	Intake        bool
	SelectorsPath string

	Scheduler scheduler.Config
	Policy    classify.Policy
	Quotas    map[string]quota.Limits
	Executor  executor.Config
	CDP       cdp.Config
	OpenAI    generator.OpenAIConfig
	Templates map[string]string
	Webhook   crm.WebhookConfig
	Campaigns []scheduler.Campaign
}

// Brokers splits KafkaBrokers. It returns nil when Kafka is not configured.
func (c Config) Brokers() []string {
	var out []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// Load reads all values from the given viper instance. Nested sections
// start from their package defaults so a partial file only overrides
// what it names.
func Load(v *viper.Viper) (Config, error) {
	cfg := Config{
		LogLevel:      v.GetString("log_level"),
		HTTPPort:      v.GetString("http_port"),
		MetricsAddr:   v.GetString("metrics_addr"),
		OTelEndpoint:  v.GetString("otel_endpoint"),
		RedisAddr:     v.GetString("redis_addr"),
		PostgresDSN:   v.GetString("postgres_dsn"),
		KafkaBrokers:  v.GetString("kafka_brokers"),
		Intake:        v.GetBool("intake"),
		SelectorsPath: v.GetString("selectors_path"),

		Scheduler: scheduler.DefaultConfig(),
		Policy:    classify.DefaultPolicy(),
		Executor:  executor.DefaultConfig(),
		CDP:       cdp.Config{Endpoint: "http://127.0.0.1:9222"},
	}

	sections := []struct {
		key string
		out any
	}{
		{"scheduler", &cfg.Scheduler},
		{"policy", &cfg.Policy},
		{"quotas", &cfg.Quotas},
		{"executor", &cfg.Executor},
		{"cdp", &cfg.CDP},
		{"openai", &cfg.OpenAI},
		{"templates", &cfg.Templates},
		{"webhook", &cfg.Webhook},
		{"campaigns", &cfg.Campaigns},
	}
	for _, s := range sections {
		if !v.IsSet(s.key) {
			continue
		}
		if err := v.UnmarshalKey(s.key, s.out); err != nil {
			return Config{}, fmt.Errorf("config %s: %w", s.key, err)
		}
	}

	// Platform names are matched case-insensitively at intake.
	if len(cfg.Quotas) > 0 {
		quotas := make(map[string]quota.Limits, len(cfg.Quotas))
		for name, l := range cfg.Quotas {
			quotas[strings.ToLower(name)] = l
		}
		cfg.Quotas = quotas
	}
	if len(cfg.Quotas) == 0 {
		return Config{}, fmt.Errorf("config quotas: at least one platform is required")
	}
	for name, l := range cfg.Quotas {
		if l.WindowLimit <= 0 || l.Window <= 0 {
			return Config{}, fmt.Errorf("config quotas.%s: window_limit and window must be positive", name)
		}
		if l.MinInterval < 0 {
			return Config{}, fmt.Errorf("config quotas.%s: min_interval must not be negative", name)
		}
	}
	return cfg, nil
}
