package di

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/kafka-go"

	"AutoTrader/internal/domain/models"
	domrepo "AutoTrader/internal/domain/repository"
	domsvc "AutoTrader/internal/domain/service"
	"AutoTrader/internal/handler/api"
	"AutoTrader/internal/handler/jobs"
	"AutoTrader/internal/repository"
	"AutoTrader/internal/scheduler"
	"AutoTrader/internal/service/alpaca"
	"AutoTrader/internal/service/ratelimit"
	"AutoTrader/internal/services/features"
	"AutoTrader/internal/services/specialist"
	"AutoTrader/internal/usecase"
	"AutoTrader/pkg/cache"
	pkgch "AutoTrader/pkg/clickhouse"
	"AutoTrader/pkg/config"
	xhttp "AutoTrader/pkg/http"
	pkgkafka "AutoTrader/pkg/kafka"
	applogger "AutoTrader/pkg/logger"
	"AutoTrader/pkg/metrics"
	"AutoTrader/pkg/queue"
	"AutoTrader/pkg/server"
)

const (
	logFlushInterval  = 30 * time.Second
	logFlushThreshold = 200
	headlineCacheSize = 1000
	headlineLocalTTL  = time.Minute
	runDedupeTTL      = 30 * time.Minute
)

// ProvideKafkaProducer creates a Kafka producer, or nil when Kafka is off.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.WriteTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideLogger builds the root logger. With Kafka on, repeated errors are
// aggregated by call site and shipped to the logs topic.
func ProvideLogger(cfg *config.Config, producer *pkgkafka.Producer) (*applogger.Logger, error) {
	l, err := applogger.New(&cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	if producer != nil {
		l.AddCollector(&applogger.CollectionConfig{
			TimeInterval:   logFlushInterval,
			CountThreshold: logFlushThreshold,
			Topic:          cfg.Kafka.LogsTopic,
			Source:         logSource(cfg.Environment),
			Publisher:      producer,
		})
	}
	return l.With(applogger.String("env", cfg.Environment)), nil
}

func logSource(env string) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return env
	}
	return env + "/" + host
}

// ProvideMetrics registers the trading metrics on the default registry,
// which the Kafka client metrics share.
func ProvideMetrics() domrepo.Metrics {
	return metrics.New(prometheus.DefaultRegisterer)
}

func ProvideCalendar(cfg *config.Config) (*scheduler.Calendar, error) {
	return scheduler.NewCalendar(cfg.Market)
}

// ProvideClickHouseClient connects the analytics mirror and creates its
// schema, or returns nil when ClickHouse is off.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if !cfg.ClickHouse.Enabled {
		return nil, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.InitSchema(ctx, repository.TradeSchema(cfg.ClickHouse.Database)); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, nil
}

// ProvideRedisCache connects Redis, or returns nil when Redis is off.
func ProvideRedisCache(cfg *config.Config) (*cache.RedisCache, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	rc, err := cache.NewRedisCache(
		cache.WithRedisAddr(cfg.Redis.Addr),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	return rc, nil
}

// ProvideSymbolLocker shares order locks through Redis when available.
func ProvideSymbolLocker(cfg *config.Config, rc *cache.RedisCache, l *applogger.Logger) domrepo.SymbolLocker {
	var locker *repository.CacheSymbolLocker
	if rc != nil {
		locker = repository.NewRedisSymbolLocker(rc, cfg.Trading.LockTTL)
	} else {
		locker = repository.NewMemorySymbolLocker(cfg.Trading.LockTTL)
	}
	locker.SetLogger(l)
	return locker
}

// ProvideHeadlineCache keeps headlines in process, backed by Redis when on.
func ProvideHeadlineCache(rc *cache.RedisCache) cache.Store {
	if rc != nil {
		return cache.NewLayeredCache(rc, headlineCacheSize, headlineLocalTTL)
	}
	return cache.NewMemoryCache(cache.WithMemoryMaxSize(headlineCacheSize))
}

func ProvideAlpacaClient(cfg *config.Config, l *applogger.Logger) *alpaca.Client {
	return alpaca.NewClient(cfg.Alpaca, alpaca.WithLogger(l))
}

func ProvideBroker(c *alpaca.Client) *alpaca.Broker { return alpaca.NewBroker(c) }

func ProvideMarketData(c *alpaca.Client) *alpaca.MarketData { return alpaca.NewMarketData(c) }

// ProvideScreener caches the most-active list in Redis so every instance
// shares one discovery call per TTL.
func ProvideScreener(cfg *config.Config, c *alpaca.Client, rc *cache.RedisCache) *alpaca.Screener {
	var store cache.Store
	if rc != nil {
		store = rc.Namespace("alpaca")
	}
	return alpaca.NewScreener(c, store, cfg.Alpaca.ScreenerTop, cfg.Alpaca.ScreenerTTL)
}

func ProvideHeadlines(cfg *config.Config, c *alpaca.Client, hc cache.Store) domsvc.HeadlineSource {
	return alpaca.NewCachedHeadlines(alpaca.NewNews(c), hc, cfg.Alpaca.NewsTTL)
}

// ProvideSentimentBuffer always exists so sentiment specialists can be
// configured; without Kafka it stays empty and they vote neutral.
func ProvideSentimentBuffer(cfg *config.Config, m domrepo.Metrics) *repository.SentimentBuffer {
	return repository.NewSentimentBuffer(cfg.Kafka.SentimentTopic, cfg.Kafka.SentimentPosts, cfg.Kafka.SentimentAge, m)
}

func ProvideFrameBuilder(cfg *config.Config, cal *scheduler.Calendar) *features.Builder {
	return features.NewBuilder(
		features.WithLookahead(cfg.Training.LookaheadBars),
		features.WithProfitTarget(cfg.Training.ProfitTarget),
		features.WithLocation(cal.Location()),
	)
}

func ProvideJournal(cfg *config.Config, cal *scheduler.Calendar, l *applogger.Logger) (*repository.TradeLogger, error) {
	j, err := repository.NewTradeLogger(cfg.Journal, cal.Location())
	if err != nil {
		return nil, fmt.Errorf("trade journal: %w", err)
	}
	j.SetLogger(l)
	return j, nil
}

func ProvideSignalStore(cfg *config.Config) *repository.FileSignalStore {
	return repository.NewFileSignalStore(cfg.DataDir)
}

func ProvideArtifactStore(cfg *config.Config) *specialist.ArtifactStore {
	return specialist.NewArtifactStore(filepath.Join(cfg.DataDir, "models"), cfg.Training.RetainModels)
}

func ProvideKnowledgeBase(cfg *config.Config) *specialist.KnowledgeBase {
	return specialist.NewKnowledgeBase(filepath.Join(cfg.DataDir, "knowledge_base.json"), cfg.Training.KnowledgeCap)
}

func ProvideSpecialists(
	cfg *config.Config,
	store *specialist.ArtifactStore,
	kb *specialist.KnowledgeBase,
	headlines domsvc.HeadlineSource,
	posts *repository.SentimentBuffer,
	l *applogger.Logger,
) ([]domsvc.Specialist, error) {
	return specialist.Build(cfg.Specialists, specialist.Deps{
		Training:  cfg.Training,
		Store:     store,
		Knowledge: kb,
		Headlines: headlines,
		Posts:     posts,
		Logger:    l.Component("specialists"),
	})
}

func ProvideEnsemble(cfg *config.Config, sps []domsvc.Specialist, m domrepo.Metrics, l *applogger.Logger) *usecase.Ensemble {
	return usecase.NewEnsemble(sps, cfg.Ensemble,
		usecase.WithEnsembleMetrics(m),
		usecase.WithEnsembleLogger(l),
	)
}

// ProvideKafkaEvents publishes trades and recommendations, or is nil when
// Kafka is off.
func ProvideKafkaEvents(cfg *config.Config, producer *pkgkafka.Producer) *repository.KafkaEventPublisher {
	if producer == nil {
		return nil
	}
	return repository.NewKafkaEventPublisherFromProducer(producer, cfg.Kafka.TradesTopic, cfg.Kafka.SignalsTopic)
}

// ProvideTradeMirror is the ClickHouse copy of the journal, or nil.
func ProvideTradeMirror(cfg *config.Config, ch *pkgch.Client, l *applogger.Logger) *repository.CHTradeMirror {
	if ch == nil {
		return nil
	}
	m := repository.NewCHTradeMirror(ch, cfg.ClickHouse.Database)
	m.SetLogger(l)
	return m
}

// ProvideTradeSinks collects the enabled sinks. Disabled sinks are left out
// rather than stored as typed nils.
func ProvideTradeSinks(events *repository.KafkaEventPublisher, mirror *repository.CHTradeMirror) []domrepo.TradeSink {
	var sinks []domrepo.TradeSink
	if events != nil {
		sinks = append(sinks, events)
	}
	if mirror != nil {
		sinks = append(sinks, mirror)
	}
	return sinks
}

func ProvideLiveTrader(
	cfg *config.Config,
	broker *alpaca.Broker,
	md *alpaca.MarketData,
	screener *alpaca.Screener,
	frames *features.Builder,
	journal *repository.TradeLogger,
	signals *repository.FileSignalStore,
	locker domrepo.SymbolLocker,
	ens *usecase.Ensemble,
	sinks []domrepo.TradeSink,
	m domrepo.Metrics,
	l *applogger.Logger,
) (*usecase.LiveTrader, error) {
	return usecase.NewLiveTrader(cfg, usecase.TraderDeps{
		Broker:     broker,
		MarketData: md,
		Candidates: screener,
		Frames:     frames,
		Journal:    journal,
		Signals:    signals,
		Locker:     locker,
	}, ens,
		usecase.WithTraderLogger(l),
		usecase.WithTraderMetrics(m),
		usecase.WithSinks(sinks...),
	)
}

// ProvideMarketScheduler builds the session scheduler and attaches it to
// the trader it drives.
func ProvideMarketScheduler(
	cfg *config.Config,
	cal *scheduler.Calendar,
	trader *usecase.LiveTrader,
	m domrepo.Metrics,
	l *applogger.Logger,
) (*scheduler.MarketScheduler, error) {
	ms, err := scheduler.NewMarketScheduler(cfg.Scheduler, cal, trader.Callbacks(),
		scheduler.WithLogger(l),
		scheduler.WithMetrics(m),
	)
	if err != nil {
		return nil, fmt.Errorf("market scheduler: %w", err)
	}
	trader.SetScheduler(ms)
	return ms, nil
}

// ProvideJobQueue is the Redis run-now queue, or nil when Redis is off.
// Runs are never retried and at most one per job waits at a time.
func ProvideJobQueue(cfg *config.Config, rc *cache.RedisCache, l *applogger.Logger) *queue.RedisQueue {
	if rc == nil {
		return nil
	}
	return queue.NewRedisQueue(l.Component("job_queue"),
		&queue.QueueConfig{Workers: cfg.Redis.QueueWorkers, DedupeTTL: runDedupeTTL},
		rc.Client(), queue.ModeProducerConsumer,
		queue.WithKeyPrefix(cfg.Redis.Prefix+":queue"),
	)
}

func ProvideJobRunner(trader *usecase.LiveTrader, q *queue.RedisQueue, m domrepo.Metrics, l *applogger.Logger) *jobs.Runner {
	opts := []jobs.Option{jobs.WithLogger(l), jobs.WithMetrics(m)}
	if q != nil {
		opts = append(opts, jobs.WithQueue(q))
	}
	r := jobs.NewRunner(jobs.TraderFuncs(trader), opts...)
	if q != nil {
		q.RegisterJobs(r.QueueJobs())
	}
	return r
}

// ProvideHealthChecks checks every enabled infrastructure dependency.
func ProvideHealthChecks(cfg *config.Config, rc *cache.RedisCache, ch *pkgch.Client, producer *pkgkafka.Producer) map[string]api.HealthCheck {
	checks := map[string]api.HealthCheck{}
	if rc != nil {
		checks["redis"] = func(ctx context.Context) error {
			return rc.Client().Ping(ctx).Err()
		}
	}
	if ch != nil {
		checks["clickhouse"] = ch.Health
	}
	if producer != nil {
		brokers := cfg.Kafka.Brokers
		checks["kafka"] = func(ctx context.Context) error {
			var d kafka.Dialer
			var lastErr error
			for _, b := range brokers {
				conn, err := d.DialContext(ctx, "tcp", b)
				if err == nil {
					return conn.Close()
				}
				lastErr = err
			}
			return lastErr
		}
	}
	return checks
}

func ProvideOpsHandler(
	cfg *config.Config,
	l *applogger.Logger,
	journal *repository.TradeLogger,
	ms *scheduler.MarketScheduler,
	cal *scheduler.Calendar,
	trader *usecase.LiveTrader,
	kb *specialist.KnowledgeBase,
	mirror *repository.CHTradeMirror,
	runner *jobs.Runner,
	checks map[string]api.HealthCheck,
) *api.OpsHandler {
	d := api.Deps{
		Journal:     journal,
		Session:     ms,
		Performance: trader,
		Jobs:        ms,
		Knowledge:   kb,
		Runner:      runner,
		Limiter:     ratelimit.New(cfg.Server.JobRate, cfg.Server.JobBurst),
		Health:      checks,
		Location:    cal.Location(),
	}
	if mirror != nil {
		d.Analytics = mirror
	}
	return api.NewOpsHandler(l, d)
}

// ProvideHTTPServer serves the operator API and /metrics, or is nil when
// the server is off.
func ProvideHTTPServer(cfg *config.Config, l *applogger.Logger, ops *api.OpsHandler) *xhttp.Server {
	if !cfg.Server.Enabled {
		return nil
	}
	return xhttp.NewServer([]xhttp.ServerOption{
		xhttp.WithHost(cfg.Server.Host),
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithServerLogger(l),
		xhttp.WithPrometheus(prometheus.DefaultRegisterer, prometheus.DefaultGatherer),
	}, ops)
}

// ProvideKafkaConsumer reads the social-post topic, or is nil when Kafka is
// off.
func ProvideKafkaConsumer(cfg *config.Config, l *applogger.Logger, m domrepo.Metrics) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerLogger(l),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	hl := l.Component("kafka_consumer")
	consumer.WithConsumerHook(pkgkafka.NewHookChain(
		pkgkafka.NewTimingHook(func(ctx context.Context, topic string, elapsed time.Duration, err error) {
			m.RecordLatency("kafka_handle", elapsed.Seconds())
			if err != nil {
				hl.Warn("message handling failed",
					applogger.String("topic", topic),
					applogger.String("trace_id", pkgkafka.TraceID(ctx)),
					applogger.Error(err))
			}
		}),
		pkgkafka.HookFuncs{
			Err: func(ctx context.Context, topic string, km kafka.Message, data []byte, err error) {
				m.RecordError("kafka_consume")
			},
		},
	))
	return consumer, nil
}

// ProvideTradeStream is the broker's order-update stream, or nil unless
// enabled.
func ProvideTradeStream(cfg *config.Config, l *applogger.Logger) *alpaca.TradeUpdateStream {
	if !cfg.Alpaca.StreamEnabled {
		return nil
	}
	return alpaca.NewTradeUpdateStream(cfg.Alpaca, l)
}

// ProvideTradeUpdateHandler counts and logs broker order events.
func ProvideTradeUpdateHandler(m domrepo.Metrics, l *applogger.Logger) alpaca.TradeUpdateHandler {
	l = l.Component("trade_updates")
	return func(u models.TradeUpdate) {
		m.RecordOrder(string(u.Side), u.Event)
		l.Info("order update",
			applogger.String("event", u.Event),
			applogger.String("order_id", u.OrderID),
			applogger.String("symbol", u.Symbol),
			applogger.Float64("qty", u.Qty),
			applogger.Float64("price", u.Price))
	}
}

func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	trader *usecase.LiveTrader,
	runner *jobs.Runner,
	httpServer *xhttp.Server,
	consumer *pkgkafka.Consumer,
	posts *repository.SentimentBuffer,
	q *queue.RedisQueue,
	stream *alpaca.TradeUpdateStream,
	onUpdate alpaca.TradeUpdateHandler,
	producer *pkgkafka.Producer,
	ch *pkgch.Client,
	rc *cache.RedisCache,
) *server.App {
	var opts []server.Option
	if httpServer != nil {
		opts = append(opts, server.WithHTTPServer(httpServer))
	}
	if consumer != nil {
		opts = append(opts, server.WithConsumer(consumer, posts))
	}
	if q != nil {
		opts = append(opts, server.WithQueue(q))
	}
	if stream != nil {
		opts = append(opts, server.WithTradeStream(stream, onUpdate))
	}

	// closed in reverse: logs flush before the producer they ship through
	if rc != nil {
		opts = append(opts, server.WithCloser("redis", rc.Close))
	}
	if ch != nil {
		opts = append(opts, server.WithCloser("clickhouse", ch.Close))
	}
	if producer != nil {
		opts = append(opts, server.WithCloser("kafka_producer", producer.Close))
		opts = append(opts, server.WithCloser("log_collector", func() error {
			l.RemoveCollector()
			return nil
		}))
	}
	return server.New(cfg, l, trader, runner, opts...)
}
