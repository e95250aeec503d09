package di

import (
	"context"
	"fmt"
	"time"

	"QuantGate/internal/domain/repository"
	"QuantGate/internal/handler/api"
	internalrepo "QuantGate/internal/repository"
	"QuantGate/internal/service/chart"
	"QuantGate/internal/service/ratelimit"
	"QuantGate/internal/service/resolver"
	"QuantGate/internal/service/results"
	"QuantGate/internal/services/executor"
	"QuantGate/internal/usecase"
	"QuantGate/pkg/cache"
	pkgch "QuantGate/pkg/clickhouse"
	"QuantGate/pkg/config"
	pkgkafka "QuantGate/pkg/kafka"
	"QuantGate/pkg/logger"
	"QuantGate/pkg/metrics"
	"QuantGate/pkg/queue"
	"QuantGate/pkg/server"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

// ProvideLogger creates the structured logger from the log section.
func ProvideLogger(cfg *config.Config) (*logger.Logger, error) {
	l, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l.With(logger.String("env", cfg.Environment)), nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics(cfg *config.Config) repository.Metrics {
	if !cfg.Metrics.Enabled {
		return metrics.Nop{}
	}
	return metrics.New(prometheus.DefaultRegisterer)
}

// ProvideRedisClient connects to Redis when the results transport, the cache
// or the queue needs it. It returns nil otherwise.
func ProvideRedisClient(cfg *config.Config) (*redis.Client, func(), error) {
	if cfg.Results.Transport != "redis" && !cfg.Cache.RedisEnabled && !cfg.Queue.Enabled {
		return nil, func() {}, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Results.Redis.Addr,
		Password: cfg.Results.Redis.Password,
		DB:       cfg.Results.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis ping %s: %w", cfg.Results.Redis.Addr, err)
	}
	return client, func() { _ = client.Close() }, nil
}

// ProvideCache builds the outcome and host-detection cache: memory in front
// of Redis when enabled.
func ProvideCache(cfg *config.Config, client *redis.Client) (cache.Service, func()) {
	var remote cache.Service
	if cfg.Cache.RedisEnabled && client != nil {
		remote = cache.NewRedisCacheFromClient(client, cfg.Cache.Prefix)
	}
	c := cache.NewLayeredCache(remote, cfg.Cache.MemoryMaxSize, time.Minute)
	return c, func() { _ = c.Close() }
}

// ProvideJobSubmitter creates the executor HTTP client.
func ProvideJobSubmitter(cfg *config.Config, l *logger.Logger) (repository.JobSubmitter, error) {
	c, err := executor.NewClient(executor.Config{
		BaseURL:    cfg.Executor.BaseURL,
		SubmitPath: cfg.Executor.SubmitPath,
		Timeout:    cfg.Executor.Timeout,
		Token:      cfg.Auth.Token,
		UserID:     cfg.Auth.UserID,
	}, l)
	if err != nil {
		return nil, fmt.Errorf("executor client: %w", err)
	}
	return c, nil
}

// ProvideResultSubscriber picks the configured result transport.
func ProvideResultSubscriber(cfg *config.Config, client *redis.Client, m repository.Metrics, l *logger.Logger) (repository.ResultSubscriber, error) {
	r := cfg.Results
	opts := []results.Option{
		results.WithTopicPrefix(r.TopicPrefix),
		results.WithReconnect(r.MaxReconnects, r.BackoffMin, r.BackoffMax),
		results.WithLogger(l),
		results.WithMetrics(m),
	}
	switch r.Transport {
	case "redis":
		if client == nil {
			return nil, fmt.Errorf("redis transport needs a redis client")
		}
		return results.NewRedisSubscriber(client, r.PollInterval, opts...), nil
	case "kafka":
		return results.NewKafkaSubscriber(results.KafkaConfig{
			Brokers:   r.Kafka.Brokers,
			Topic:     r.Kafka.Topic,
			Partition: r.Kafka.Partition,
			MinBytes:  r.Kafka.MinBytes,
			MaxBytes:  r.Kafka.MaxBytes,
		}, opts...), nil
	case "websocket":
		s, err := results.NewWebSocketSubscriber(r.WebSocket.URL, opts...)
		if err != nil {
			return nil, fmt.Errorf("websocket subscriber: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown results transport %q", r.Transport)
	}
}

func ProvideChartRenderer(l *logger.Logger) repository.ChartRenderer {
	return chart.NewRenderer(chart.WithLogger(l))
}

// ProvideURLResolver memoizes host detection in the shared cache.
func ProvideURLResolver(cfg *config.Config, c cache.Service, l *logger.Logger) repository.URLResolver {
	d := cfg.Detection
	detector := resolver.NewHostDetector(resolver.DetectorConfig{
		MetadataURL:      d.MetadataURL,
		MetadataTokenURL: d.MetadataTokenURL,
		PublicIPURLs:     d.PublicIPURLs,
		StepTimeout:      d.StepTimeout,
		CacheTTL:         d.CacheTTL,
	}, c, l)
	return resolver.NewResolver(detector, l)
}

// ProvideRunStore connects the ClickHouse run history when enabled.
func ProvideRunStore(cfg *config.Config, l *logger.Logger) (repository.RunStore, func(), error) {
	if !cfg.ClickHouse.Enabled {
		return nil, func() {}, nil
	}
	ch := cfg.ClickHouse
	client, err := pkgch.NewClient(
		pkgch.WithHost(ch.Host),
		pkgch.WithPort(ch.Port),
		pkgch.WithDatabase(ch.Database),
		pkgch.WithCredentials(ch.User, ch.Password),
		pkgch.WithTimeouts(ch.DialTimeout, ch.ReadTimeout),
		pkgch.WithAsyncInsert(true, false),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	store, err := internalrepo.NewCHRunStore(ctx, client, internalrepo.DefaultRunsTable, l)
	if err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return store, func() { _ = store.Close() }, nil
}

// ProvideOutcomePublisher creates the Kafka outcome publisher when enabled.
func ProvideOutcomePublisher(cfg *config.Config) (repository.OutcomePublisher, func(), error) {
	if !cfg.Outcomes.Enabled {
		return nil, func() {}, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Outcomes.Brokers),
		pkgkafka.WithCompression(cfg.Outcomes.Compression),
		pkgkafka.WithRequiredAcks(1),
		pkgkafka.WithBatchTimeout(50*time.Millisecond),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka producer: %w", err)
	}
	pub := internalrepo.NewKafkaOutcomePublisher(producer, cfg.Outcomes.Topic)
	return pub, func() { _ = pub.Close() }, nil
}

// ProvideOrchestrator assembles the run pipeline.
func ProvideOrchestrator(
	cfg *config.Config,
	submitter repository.JobSubmitter,
	subscriber repository.ResultSubscriber,
	renderer repository.ChartRenderer,
	urlResolver repository.URLResolver,
	store repository.RunStore,
	publisher repository.OutcomePublisher,
	m repository.Metrics,
	l *logger.Logger,
) *usecase.BacktestOrchestrator {
	opts := []usecase.OrchestratorOption{
		usecase.WithOrchestratorMetrics(m),
		usecase.WithOrchestratorLogger(l),
	}
	if store != nil {
		opts = append(opts, usecase.WithRunStore(store))
	}
	if publisher != nil {
		opts = append(opts, usecase.WithOutcomePublisher(publisher))
	}
	return usecase.NewBacktestOrchestrator(submitter, subscriber, renderer, urlResolver, usecase.OrchestratorConfig{
		ListenTime:     cfg.Results.ListenTime,
		TerminalGrace:  cfg.Results.TerminalGrace,
		SubmitAttempts: cfg.Executor.SubmitAttempts,
		ChartsDir:      cfg.Charts.Dir,
		Resolver:       cfg.ResolverConfig(),
	}, opts...)
}

// ProvideQueue creates the async job queue when enabled.
func ProvideQueue(cfg *config.Config, client *redis.Client, l *logger.Logger) *queue.RedisQueue {
	if !cfg.Queue.Enabled || client == nil {
		return nil
	}
	q := cfg.Queue
	return queue.NewRedisQueue(l, queue.Config{
		Workers:    q.Workers,
		RetryLimit: q.RetryLimit,
		RetryDelay: q.RetryDelay,
	}, client, queue.WithKeyPrefix(q.KeyPrefix))
}

// ProvideBacktestService binds the orchestrator to the cache, queue and history.
func ProvideBacktestService(
	cfg *config.Config,
	orch *usecase.BacktestOrchestrator,
	c cache.Service,
	q *queue.RedisQueue,
	store repository.RunStore,
	l *logger.Logger,
) *usecase.BacktestService {
	opts := []usecase.ServiceOption{
		usecase.WithOutcomeTTL(cfg.Cache.OutcomeTTL),
		usecase.WithServiceLogger(l),
	}
	if q != nil {
		opts = append(opts, usecase.WithQueue(q))
	}
	if store != nil {
		opts = append(opts, usecase.WithHistory(store))
	}
	svc := usecase.NewBacktestService(orch, c, opts...)
	if q != nil {
		q.RegisterJob(usecase.NewRunJob(svc))
	}
	return svc
}

func ProvideRateLimiter() *ratelimit.Limiter {
	return ratelimit.New()
}

// ProvideBacktestHandler exposes the service over HTTP with per-client rate limiting.
func ProvideBacktestHandler(cfg *config.Config, svc *usecase.BacktestService, rl *ratelimit.Limiter, l *logger.Logger) *api.BacktestEchoHandler {
	limit := rl.Middleware(cfg.Server.RateLimit.Capacity, cfg.Server.RateLimit.RefillPerSec)
	return api.NewBacktestEchoHandler(l, svc, limit)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	l *logger.Logger,
	handler *api.BacktestEchoHandler,
	q *queue.RedisQueue,
	rl *ratelimit.Limiter,
) *server.App {
	return server.New(cfg, l, handler, q, rl)
}
