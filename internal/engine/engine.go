// Package engine assembles one monitor pipeline per tracked population:
// subscription manager, dedup and queue, worker consumers, enrichment,
// pricing, scoring, persistence and fan-out, with ordered teardown.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/solwatch/swapfeed/internal/chain"
	"github.com/solwatch/swapfeed/internal/config"
	"github.com/solwatch/swapfeed/internal/dedup"
	"github.com/solwatch/swapfeed/internal/domain"
	"github.com/solwatch/swapfeed/internal/enrich"
	"github.com/solwatch/swapfeed/internal/fanout"
	"github.com/solwatch/swapfeed/internal/pricing"
	"github.com/solwatch/swapfeed/internal/queue"
	"github.com/solwatch/swapfeed/internal/store"
	"github.com/solwatch/swapfeed/internal/subscription"
	"github.com/solwatch/swapfeed/internal/worker"
)

// Engine status values.
const (
	StatusInitializing = "initializing"
	StatusActive       = "active"
	StatusStopped      = "stopped"
)

const (
	workerCloseDeadline = 10 * time.Second
	obliterateDeadline  = 5 * time.Second
	janitorInterval     = 10 * time.Minute
)

// Downstream carries the optional fan-out consumers. Nil fields are skipped.
type Downstream struct {
	Matcher fanout.AlertMatcher
	Caster  fanout.Broadcaster
	Tweeter fanout.TweetComposer
}

// Monitor runs the full pipeline for one account kind.
type Monitor struct {
	kind   domain.AccountKind
	cfg    *config.Config
	mc     config.MonitorConfig
	logger *zap.Logger

	store       *store.Store
	deduper     *dedup.Deduper
	producer    *queue.Producer
	consumers   []*queue.Consumer
	hub         *fanout.Hub
	tokens      *enrich.MemoryTokenCache
	enrichRedis *redis.Client

	status    atomic.Value
	cancel    context.CancelFunc
	group     *errgroup.Group
	hubCancel context.CancelFunc
	hubDone   chan struct{}
}

func monitorConfigFor(cfg *config.Config, kind domain.AccountKind) config.MonitorConfig {
	if kind == domain.KindKOL {
		return cfg.KOL
	}
	return cfg.Whale
}

// NewMonitor builds the pipeline without starting it.
func NewMonitor(ctx context.Context, cfg *config.Config, kind domain.AccountKind, down Downstream, logger *zap.Logger) (*Monitor, error) {
	log := logger.With(zap.String("monitor", string(kind)))

	st, err := store.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase, log)
	if err != nil {
		return nil, err
	}
	if err := st.EnsureIndexes(ctx); err != nil {
		_ = st.Close(ctx)
		return nil, fmt.Errorf("ensure indexes: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	deduper := dedup.New(rdb, log)

	redisOpt := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	producer := queue.NewProducer(redisOpt, kind, deduper, cfg.QueueWarnDepth, log)

	hub := fanout.NewHub(down.Matcher, down.Caster, down.Tweeter, st, log)

	m := &Monitor{
		kind:     kind,
		cfg:      cfg,
		mc:       monitorConfigFor(cfg, kind),
		logger:   log,
		store:    st,
		deduper:  deduper,
		producer: producer,
		hub:      hub,
	}
	m.status.Store(StatusInitializing)
	return m, nil
}

// Status reports the engine lifecycle phase.
func (m *Monitor) Status() string {
	return m.status.Load().(string)
}

// Start snapshots the tracked accounts, spins up workers and opens the
// subscription. It returns once everything is running.
func (m *Monitor) Start(ctx context.Context) error {
	accounts, err := m.store.LoadTrackedAccounts(ctx, m.kind)
	if err != nil {
		return fmt.Errorf("load tracked accounts: %w", err)
	}
	if len(accounts) == 0 {
		return fmt.Errorf("no tracked %s accounts", m.kind)
	}
	set := domain.NewAccountSet(accounts)
	m.logger.Info("tracked accounts loaded", zap.Int("count", set.Len()))

	runCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	group, groupCtx := errgroup.WithContext(runCtx)
	m.group = group

	chainClient := chain.NewClient(m.cfg.RPCURL, m.logger)

	m.tokens = enrich.NewMemoryTokenCache(m.store.TokenCache(), enrich.DefaultEntryTTL)
	m.enrichRedis = redis.NewClient(&redis.Options{Addr: m.cfg.RedisAddr})
	negative := enrich.NewRedisNegativeCache(m.enrichRedis, enrich.DefaultNegativeTTL, m.logger)

	primary := enrich.NewHeliusProvider(m.cfg.RPCURL, m.cfg.ProviderRPS, m.logger)
	fallback := enrich.NewBirdeyeProvider("", m.cfg.BirdeyeAPIKey, m.cfg.ProviderRPS, m.logger)
	enricher := enrich.New(primary, fallback, fallback, negative, m.tokens, m.logger)

	quotes := pricing.NewBirdeyeQuotes("", m.cfg.BirdeyeAPIKey, m.cfg.ProviderRPS, m.logger)
	pricer := pricing.New(quotes, m.logger)

	floor, hasFloor := m.cfg.ConfidenceFloor()
	processor := worker.NewProcessor(worker.Config{
		Kind:      m.kind,
		Accounts:  set,
		Locks:     m.deduper,
		Fetcher:   chainClient,
		Trades:    m.store,
		Resolver:  enricher,
		Pricer:    pricer,
		Publisher: m.hub,
		Floor:     floor,
		HasFloor:  hasFloor,
	}, m.logger)

	redisOpt := asynq.RedisClientOpt{Addr: m.cfg.RedisAddr}
	// One limiter per queue; every consumer shares it so the aggregate job
	// rate stays within the configured bound.
	limiter := queue.NewRateLimiter(m.mc.RateLimitMax, m.mc.RateLimitWindow)
	for i := 0; i < m.mc.NumWorkers; i++ {
		consumer := queue.NewConsumer(redisOpt, queue.ConsumerOptions{
			Kind:        m.kind,
			Concurrency: m.mc.WorkerConcurrency,
			RateMax:     m.mc.RateLimitMax,
			RateWindow:  m.mc.RateLimitWindow,
			Limiter:     limiter,
		}, processor, m.logger)
		if err := consumer.Start(); err != nil {
			cancel()
			return fmt.Errorf("start consumer %d: %w", i, err)
		}
		m.consumers = append(m.consumers, consumer)
	}

	// The hub outlives the run context: it keeps reading until the workers
	// have drained, so nothing published during shutdown is lost.
	hubCtx, hubCancel := context.WithCancel(context.Background())
	m.hubCancel = hubCancel
	m.hubDone = make(chan struct{})
	go func() {
		defer close(m.hubDone)
		m.hub.Run(hubCtx)
	}()

	group.Go(func() error {
		m.runJanitor(groupCtx)
		return nil
	})

	sub := subscription.NewManager(subscription.Options{URL: m.cfg.FeedURL()}, set, m.producer, m.logger)
	group.Go(func() error {
		err := sub.Run(groupCtx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	m.status.Store(StatusActive)
	m.logger.Info("monitor active",
		zap.Int("workers", m.mc.NumWorkers),
		zap.Int("concurrency", m.mc.WorkerConcurrency))
	return nil
}

// runJanitor periodically sweeps the in-process token cache.
func (m *Monitor) runJanitor(ctx context.Context) {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			kept := m.tokens.Sweep()
			m.logger.Debug("token cache swept", zap.Int("entries", kept))
		}
	}
}

// Close tears the pipeline down in order: stop intake, snapshot queue
// depth, drain workers, stop fan-out, obliterate the queue, then close the
// backends.
func (m *Monitor) Close() error {
	m.status.Store(StatusStopped)

	if m.cancel != nil {
		m.cancel()
	}
	if m.group != nil {
		if err := m.group.Wait(); err != nil {
			m.logger.Warn("background task error during shutdown", zap.Error(err))
		}
	}

	if depth := m.producer.Depth(); depth >= 0 {
		m.logger.Info("queue depth at shutdown", zap.Int("depth", depth))
	}

	// Workers drain first; the hub keeps reading until they are done, then
	// delivers whatever they published on their way out.
	for _, consumer := range m.consumers {
		consumer.Shutdown(workerCloseDeadline)
	}
	if m.hubCancel != nil {
		m.hubCancel()
		<-m.hubDone
	}

	m.producer.Obliterate(obliterateDeadline)

	if err := m.producer.Close(); err != nil {
		m.logger.Warn("queue close failed", zap.Error(err))
	}
	if m.enrichRedis != nil {
		if err := m.enrichRedis.Close(); err != nil {
			m.logger.Warn("enrichment redis close failed", zap.Error(err))
		}
	}
	if err := m.deduper.Close(); err != nil {
		m.logger.Warn("redis close failed", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.store.Close(ctx); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	return nil
}
