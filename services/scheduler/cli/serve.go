package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ramiqadoumi/go-action-flow/internal/cdp"
	"github.com/ramiqadoumi/go-action-flow/internal/crm"
	"github.com/ramiqadoumi/go-action-flow/internal/domain"
	"github.com/ramiqadoumi/go-action-flow/internal/executor"
	"github.com/ramiqadoumi/go-action-flow/internal/generator"
	"github.com/ramiqadoumi/go-action-flow/internal/kafka"
	"github.com/ramiqadoumi/go-action-flow/internal/postgres"
	"github.com/ramiqadoumi/go-action-flow/internal/quota"
	redisstore "github.com/ramiqadoumi/go-action-flow/internal/redis"
	"github.com/ramiqadoumi/go-action-flow/internal/selector"
	"github.com/ramiqadoumi/go-action-flow/internal/verify"
	"github.com/ramiqadoumi/go-action-flow/pkg/telemetry"
	"github.com/ramiqadoumi/go-action-flow/services/scheduler"
	"github.com/ramiqadoumi/go-action-flow/services/scheduler/config"
	"github.com/ramiqadoumi/go-action-flow/services/scheduler/handler"
)

// restoreLimit caps how many pending actions are reloaded on startup.
const restoreLimit = 10000

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the scheduler, its REST API and the optional intake",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("http-port", "8080", "HTTP server port")
	serveCmd.Flags().String("metrics-addr", ":9093", "Prometheus metrics server address")
	serveCmd.Flags().String("redis-addr", "", "Redis address (host:port); empty disables the quota ledger and live state")
	serveCmd.Flags().String("kafka-brokers", "", "comma-separated Kafka broker addresses; empty disables events and intake")
	serveCmd.Flags().Bool("intake", false, "consume action requests from Kafka")
	serveCmd.Flags().String("cdp-endpoint", "http://127.0.0.1:9222", "browser remote debugging address")
	serveCmd.Flags().String("selectors", "", "selector catalog file overlaid on the built-in one")
	serveCmd.Flags().String("otel-endpoint", "", "OTLP HTTP endpoint for tracing (e.g. localhost:4318); empty disables tracing")

	bindFlag("http_port", serveCmd.Flags(), "http-port")
	bindFlag("metrics_addr", serveCmd.Flags(), "metrics-addr")
	bindFlag("redis_addr", serveCmd.Flags(), "redis-addr")
	bindFlag("kafka_brokers", serveCmd.Flags(), "kafka-brokers")
	bindFlag("intake", serveCmd.Flags(), "intake")
	bindFlag("cdp.endpoint", serveCmd.Flags(), "cdp-endpoint")
	bindFlag("selectors_path", serveCmd.Flags(), "selectors")
	bindFlag("otel_endpoint", serveCmd.Flags(), "otel-endpoint")
	_ = viper.BindEnv("otel_endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")
	_ = viper.BindEnv("openai.api_key", "OPENAI_API_KEY")
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	logger := buildLogger(cfg.LogLevel, serviceName)

	shutdownTracer, err := telemetry.InitTracer(context.Background(), serviceName, cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer shutdownTracer()

	initCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var (
		sinks   []scheduler.Sink
		pending []*domain.Task
		checks  = map[string]handler.ReadyCheck{}
		opts    = []scheduler.Option{
			scheduler.WithConfig(cfg.Scheduler),
			scheduler.WithPolicy(cfg.Policy),
			scheduler.WithLogger(logger),
		}
	)

	// ── postgres ──────────────────────────────────────────────────────────────
	if cfg.PostgresDSN != "" {
		pool, err := postgres.NewPool(initCtx, cfg.PostgresDSN)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer pool.Close()
		if err := postgres.Migrate(initCtx, pool); err != nil {
			return err
		}
		repo := postgres.NewRepository(pool)
		pending, err = repo.ListByStatus(initCtx, domain.StatusPending, restoreLimit)
		if err != nil {
			return fmt.Errorf("load pending actions: %w", err)
		}
		sinks = append(sinks, repo)
		opts = append(opts, scheduler.WithHistory(scheduler.HistoryFunc(repo.SuccessesSince)))
		checks["postgres"] = func(ctx context.Context) error { return pool.Ping(ctx) }
	}

	// ── redis ─────────────────────────────────────────────────────────────────
	if cfg.RedisAddr != "" {
		redisClient := redisstore.NewClient(cfg.RedisAddr)
		defer func() { _ = redisClient.Close() }()
		if err := redisClient.Ping(initCtx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		sinks = append(sinks, redisstore.NewStateStore(redisClient))
		opts = append(opts, scheduler.WithLedger(redisstore.NewQuotaLedger(redisClient, longestWindow(cfg.Quotas))))
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}

	// ── kafka ─────────────────────────────────────────────────────────────────
	brokers := cfg.Brokers()
	var producer kafka.Producer
	if len(brokers) > 0 {
		producer = kafka.NewProducer(brokers)
		defer func() { _ = producer.Close() }()
		sinks = append(sinks, kafka.NewEventPublisher(producer))
	}

	if cfg.Webhook.URL != "" {
		hook, err := crm.NewWebhookSink(cfg.Webhook)
		if err != nil {
			return err
		}
		sinks = append(sinks, hook)
	}
	opts = append(opts, scheduler.WithSinks(sinks...))

	gen, err := buildGenerator(cfg, logger)
	if err != nil {
		return fmt.Errorf("generator: %w", err)
	}
	if gen != nil {
		opts = append(opts, scheduler.WithGenerator(gen))
	}

	sched := scheduler.New(cfg.Quotas, opts...)
	if n := sched.Restore(pending); n > 0 {
		logger.Info("restored pending actions", slog.Int("count", n))
	}

	// ── browser ───────────────────────────────────────────────────────────────
	catalog, err := selector.Load(cfg.SelectorsPath)
	if err != nil {
		return err
	}
	browser := cdp.NewSession(cfg.CDP, logger)
	defer func() { _ = browser.Close() }()
	if err := browser.Connect(initCtx); err != nil {
		// Attempts fail as ChannelUnavailable until the browser is reachable;
		// the session attaches on the first call that finds it up.
		logger.Warn("browser unavailable", slog.String("endpoint", cfg.CDP.Endpoint), slog.String("error", err.Error()))
	}
	sched.SetExecutor(executor.New(browser, catalog,
		executor.WithConfig(cfg.Executor),
		executor.WithLogger(logger),
	))
	sched.SetVerifier(verify.New(browser, catalog,
		verify.WithInterval(cfg.Executor.PollInterval),
		verify.WithSnippetRunes(cfg.Executor.SnippetRunes),
		verify.WithLogger(logger),
	))

	var campaigns *scheduler.Campaigns
	if len(cfg.Campaigns) > 0 {
		campaigns, err = scheduler.NewCampaigns(sched, cfg.Campaigns, logger)
		if err != nil {
			return err
		}
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	rest := handler.NewREST(sched, checks, logger)
	httpSrv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      handler.NewRouter(rest, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// ── signal handling ───────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	telemetry.StartMetricsServer(runCtx, cfg.MetricsAddr, logger)

	sched.Start(runCtx)
	if campaigns != nil {
		campaigns.Start()
	}

	var wg sync.WaitGroup
	if cfg.Intake && producer != nil {
		consumer := kafka.NewConsumer(brokers, kafka.TopicRequests, serviceName+"-intake", logger)
		defer func() { _ = consumer.Close() }()
		intake := scheduler.NewIntake(consumer, producer, sched, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := intake.Run(runCtx); err != nil {
				logger.Error("intake stopped", slog.String("error", err.Error()))
			}
		}()
	}

	go func() {
		logger.Info("HTTP server starting", slog.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	<-quit
	logger.Info("shutting down...")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutCancel()
	if err := httpSrv.Shutdown(shutCtx); err != nil {
		logger.Error("HTTP shutdown error", slog.String("error", err.Error()))
	}
	if campaigns != nil {
		campaigns.Stop()
	}
	runCancel()
	wg.Wait()
	sched.Stop()
	logger.Info("stopped")
	return nil
}

// buildGenerator prefers the OpenAI generator when an API key is set and
// falls back to templates. It returns nil when neither is configured.
func buildGenerator(cfg config.Config, logger *slog.Logger) (generator.Generator, error) {
	if cfg.OpenAI.APIKey != "" {
		logger.Info("content generator", slog.String("kind", "openai"), slog.String("model", cfg.OpenAI.Model))
		return generator.NewOpenAI(cfg.OpenAI)
	}
	if len(cfg.Templates) > 0 {
		logger.Info("content generator", slog.String("kind", "template"), slog.Int("styles", len(cfg.Templates)))
		return generator.NewTemplate(cfg.Templates)
	}
	logger.Warn("no content generator configured; only actions with content will succeed")
	return nil, nil
}

func longestWindow(limits map[string]quota.Limits) time.Duration {
	var out time.Duration
	for _, l := range limits {
		if l.Window > out {
			out = l.Window
		}
	}
	return out
}
