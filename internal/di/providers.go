package di

import (
	"context"
	"fmt"
	"os"
	"syscall"
	"time"

	"TickWatch/internal/domain/repository"
	"TickWatch/internal/handler/api"
	mid "TickWatch/internal/middleware"
	internalrepo "TickWatch/internal/repository"
	"TickWatch/internal/service/backend"
	"TickWatch/internal/service/dispatch"
	"TickWatch/internal/service/ratelimit"
	"TickWatch/internal/service/stream"
	"TickWatch/internal/usecase"
	"TickWatch/pkg/cache"
	pkgch "TickWatch/pkg/clickhouse"
	"TickWatch/pkg/config"
	xhttp "TickWatch/pkg/http"
	pkgkafka "TickWatch/pkg/kafka"
	applogger "TickWatch/pkg/logger"
	"TickWatch/pkg/metrics"
	"TickWatch/pkg/server"

	"github.com/google/uuid"
)

// SessionID identifies this run in logs and recorded ticks.
type SessionID string

func ProvideSessionID() SessionID {
	return SessionID(uuid.NewString())
}

// ProvideLogger builds the application logger from the logging section.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	return applogger.New(&applogger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
}

// ProvideMetrics returns the Prometheus recorder, or a no-op when metrics are off.
func ProvideMetrics(cfg *config.Config) repository.Metrics {
	if !cfg.Metrics.Enabled {
		return metrics.Noop{}
	}
	return metrics.New()
}

func ProvideBackendClient(cfg *config.Config) *backend.Client {
	return backend.New(cfg.Backend.BaseURL, cfg.Backend.Timeout)
}

// ProvideTransport creates the SSE transport with the configured back-off.
func ProvideTransport(cfg *config.Config, l *applogger.Logger, m repository.Metrics) *stream.Transport {
	rc := cfg.Stream.Reconnect
	return stream.New(l.With(applogger.String("component", "stream")), m,
		stream.WithBackoff(stream.Backoff{
			Initial:     rc.InitialDelay,
			Max:         rc.MaxDelay,
			Multiplier:  rc.Multiplier,
			MaxAttempts: rc.MaxAttempts,
		}),
	)
}

func ProvideDispatcher(l *applogger.Logger, m repository.Metrics) *dispatch.Dispatcher {
	return dispatch.New(l.With(applogger.String("component", "dispatch")), m)
}

func ProvideHub(l *applogger.Logger) *api.Hub {
	return api.NewHub(l.With(applogger.String("component", "hub")))
}

// ProvideCache creates the market cache for cache.mode. The cleanup closes it.
func ProvideCache(cfg *config.Config, l *applogger.Logger) (cache.Service, func(), error) {
	svc, err := newCache(cfg)
	if err != nil {
		return nil, nil, err
	}
	return svc, func() {
		if err := svc.Close(); err != nil {
			l.Warn("cache close error", applogger.Error(err))
		}
	}, nil
}

func newCache(cfg *config.Config) (cache.Service, error) {
	cc := cfg.Cache
	if cc.Mode == "memory" {
		return cache.NewMemoryCache(cache.WithMemoryMaxSize(cc.MaxSize)), nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rc, err := cache.NewRedisCache(ctx,
		cache.WithRedisHost(cc.Redis.Host),
		cache.WithRedisPort(cc.Redis.Port),
		cache.WithRedisPassword(cc.Redis.Password),
		cache.WithRedisDB(cc.Redis.DB),
		cache.WithRedisPrefix(cc.Redis.Prefix),
	)
	if err != nil {
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	if cc.Mode == "redis" {
		return rc, nil
	}
	return cache.NewLayeredCache(rc,
		cache.WithLayeredMemorySize(cc.MaxSize),
		cache.WithLayeredMemoryTTL(cc.MarketsTTL),
	), nil
}

// ProvideKafkaProducer creates the producer when the kafka sink or the log
// collector needs one, and attaches the collector. The cleanup detaches the
// collector before closing the producer it publishes through.
func ProvideKafkaProducer(cfg *config.Config, l *applogger.Logger, id SessionID) (*pkgkafka.Producer, func(), error) {
	if cfg.Sink.Type != usecase.SinkKafka && !cfg.Logging.Collect.Enabled {
		return nil, func() {}, nil
	}

	kc := cfg.Kafka
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(kc.Brokers),
		pkgkafka.WithCompression(kc.Compression),
		pkgkafka.WithRequiredAcks(kc.RequiredAcks),
		pkgkafka.WithBatchSize(kc.Producer.BatchSize),
		pkgkafka.WithBatchBytes(kc.Producer.BatchBytes),
		pkgkafka.WithBatchTimeout(kc.Producer.Linger),
		pkgkafka.WithTimeouts(kc.Producer.WriteTimeout, kc.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(kc.Producer.MaxAttempts),
		pkgkafka.WithAsync(kc.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka producer: %w", err)
	}

	if lc := cfg.Logging.Collect; lc.Enabled {
		l.AddCollector(&applogger.CollectionConfig{
			TimeInterval:   lc.Interval,
			CountThreshold: lc.Threshold,
			Topic:          lc.Topic,
			Publisher:      producer,
			SessionID:      string(id),
		})
	}
	return producer, func() {
		l.RemoveCollector()
		if err := producer.Close(); err != nil {
			l.Warn("kafka producer close error", applogger.Error(err))
		}
	}, nil
}

// ProvideClickHouseClient connects and creates the database when the
// clickhouse sink is selected; otherwise it returns nil.
func ProvideClickHouseClient(cfg *config.Config, l *applogger.Logger) (*pkgch.Client, func(), error) {
	if cfg.Sink.Type != usecase.SinkClickHouse {
		return nil, func() {}, nil
	}

	ch := cfg.ClickHouse
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// the database must exist before the pool can select it
	boot, err := pkgch.NewClient(ctx,
		pkgch.WithAddr(ch.Host, ch.Port),
		pkgch.WithCredentials(ch.User, ch.Password),
		pkgch.WithHTTP(ch.UseHTTP),
		pkgch.WithTimeouts(ch.DialTimeout, ch.ReadTimeout, ch.WriteTimeout),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("clickhouse client: %w", err)
	}
	err = boot.Exec(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", ch.Database))
	_ = boot.Close()
	if err != nil {
		return nil, nil, fmt.Errorf("clickhouse database: %w", err)
	}

	client, err := pkgch.NewClient(ctx,
		pkgch.WithAddr(ch.Host, ch.Port),
		pkgch.WithDatabase(ch.Database),
		pkgch.WithCredentials(ch.User, ch.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(ch.UseHTTP),
		pkgch.WithAsyncInsert(ch.AsyncInsert, ch.WaitForAsync),
		pkgch.WithTimeouts(ch.DialTimeout, ch.ReadTimeout, ch.WriteTimeout),
		pkgch.WithMaxExecutionTime(ch.MaxExecutionTime),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("clickhouse client: %w", err)
	}
	return client, func() {
		if err := client.Close(); err != nil {
			l.Warn("clickhouse close error", applogger.Error(err))
		}
	}, nil
}

// ProvideTickStorage returns ClickHouse-backed history, or nil without a client.
func ProvideTickStorage(ch *pkgch.Client) (repository.Storage, error) {
	if ch == nil {
		return nil, nil
	}
	store := internalrepo.NewClickHouseStorage(ch)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("tick storage: %w", err)
	}
	return store, nil
}

// ProvideTickPublisher returns the Kafka tick publisher when the kafka sink is selected.
func ProvideTickPublisher(cfg *config.Config, producer *pkgkafka.Producer) repository.Publisher {
	if cfg.Sink.Type != usecase.SinkKafka || producer == nil {
		return nil
	}
	return internalrepo.NewKafkaPublisher(producer, cfg.Kafka.Topic)
}

func ProvideTickProcessor(cfg *config.Config, pub repository.Publisher, store repository.Storage, m repository.Metrics) *usecase.TickProcessor {
	return usecase.NewTickProcessor(pub, store, m, cfg.Sink.Type)
}

func ProvidePipeline(cfg *config.Config, proc *usecase.TickProcessor, m repository.Metrics, l *applogger.Logger) *mid.RealtimePipeline {
	return mid.NewRealtimePipeline(proc, m, l.With(applogger.String("component", "pipeline")),
		mid.WithMaxRPS(cfg.Sink.MaxRPS),
		mid.WithBufferSize(cfg.Sink.BufferSize),
	)
}

// ProvideTickRecorder returns nil when sink.type is none.
func ProvideTickRecorder(cfg *config.Config, pipe *mid.RealtimePipeline, m repository.Metrics, l *applogger.Logger) *usecase.TickRecorder {
	if cfg.Sink.Type == usecase.SinkNone {
		return nil
	}
	return usecase.NewTickRecorder(pipe, m, l.With(applogger.String("component", "recorder")), cfg.Sink.BufferSize)
}

// ProvideObservers fans session updates out to the hub and, when recording, the recorder.
func ProvideObservers(hub *api.Hub, rec *usecase.TickRecorder) usecase.Observers {
	obs := usecase.Observers{hub}
	if rec != nil {
		obs = append(obs, rec)
	}
	return obs
}

func ProvideSubscriptionController(
	cfg *config.Config,
	id SessionID,
	b *backend.Client,
	t *stream.Transport,
	d *dispatch.Dispatcher,
	obs usecase.Observers,
	m repository.Metrics,
	l *applogger.Logger,
) *usecase.SubscriptionController {
	return usecase.NewSubscriptionController(b, t, d, obs, m, l, cfg.StreamURL(),
		usecase.WithUnsubscribeTimeout(cfg.Session.UnsubscribeTimeout),
		usecase.WithSessionID(string(id)),
	)
}

// ProvideLifecycleGuard wires the cleanup triggers enabled in config.
func ProvideLifecycleGuard(
	cfg *config.Config,
	b *backend.Client,
	t *stream.Transport,
	ctl *usecase.SubscriptionController,
	hub *api.Hub,
	m repository.Metrics,
	l *applogger.Logger,
) *usecase.LifecycleGuard {
	sources := []usecase.Source{usecase.ContextSource{Trigger: usecase.TriggerTeardown}}
	if cfg.Lifecycle.OSSignals {
		sources = append(sources, usecase.SignalSource{
			Trigger: usecase.TriggerUnload,
			Signals: []os.Signal{os.Interrupt, syscall.SIGTERM},
		})
	}
	if cfg.Lifecycle.CleanupOnDetach {
		sources = append(sources, usecase.ChannelSource{Trigger: usecase.TriggerHidden, C: hub.Detached()})
	}
	return usecase.NewLifecycleGuard(b, t, ctl, m,
		l.With(applogger.String("component", "lifecycle")),
		cfg.Session.CleanupTimeout,
		sources...,
	)
}

func ProvideStatsPoller(cfg *config.Config, b *backend.Client, hub *api.Hub, m repository.Metrics, l *applogger.Logger) *usecase.StatsPoller {
	return usecase.NewStatsPoller(b, hub, hub, m, l.With(applogger.String("component", "stats")), cfg.Session.StatsInterval)
}

func ProvideMarketCatalog(cfg *config.Config, b *backend.Client, c cache.Service, m repository.Metrics, l *applogger.Logger) *usecase.MarketCatalog {
	return usecase.NewMarketCatalog(b, c, cfg.Cache.MarketsTTL, m, l)
}

func ProvideRateLimiter(cfg *config.Config) *ratelimit.Limiter {
	return ratelimit.New(cfg.RateLimit.Capacity, cfg.RateLimit.RefillPerSec)
}

func ProvideDashboardHandler(
	l *applogger.Logger,
	ctl *usecase.SubscriptionController,
	guard *usecase.LifecycleGuard,
	markets *usecase.MarketCatalog,
	poller *usecase.StatsPoller,
	b *backend.Client,
	hub *api.Hub,
	limiter *ratelimit.Limiter,
	store repository.Storage,
) xhttp.Handler {
	h := api.NewDashboardEchoHandler(l, ctl, guard, markets, poller, b, b, hub, limiter)
	if store != nil {
		h.WithHistory(store)
	}
	return h
}

func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	ctl *usecase.SubscriptionController,
	guard *usecase.LifecycleGuard,
	poller *usecase.StatsPoller,
	markets *usecase.MarketCatalog,
	rec *usecase.TickRecorder,
	pipe *mid.RealtimePipeline,
	hub *api.Hub,
	handler xhttp.Handler,
) *server.App {
	return server.New(cfg, l, server.Components{
		Controller: ctl,
		Guard:      guard,
		Poller:     poller,
		Markets:    markets,
		Recorder:   rec,
		Pipeline:   pipe,
		Hub:        hub,
		Handler:    handler,
	})
}
