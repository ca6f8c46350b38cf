package queue

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/solwatch/swapfeed/internal/domain"
)

// Consumer drains one queue with bounded concurrency and a shared rate
// limiter in front of the handler.
type Consumer struct {
	server  *asynq.Server
	mux     *asynq.ServeMux
	limiter *rate.Limiter
	logger  *zap.Logger
}

// ConsumerOptions sizes one consumer.
type ConsumerOptions struct {
	Kind        domain.AccountKind
	Concurrency int
	// RateMax jobs per RateWindow bound upstream-API fan-out.
	RateMax    int
	RateWindow time.Duration
	// Limiter, when set, is shared by every consumer on the queue so the
	// aggregate job rate stays within RateMax regardless of consumer count.
	Limiter *rate.Limiter
}

// NewRateLimiter builds the per-queue job limiter: RateMax jobs per window
// with a burst of RateMax.
func NewRateLimiter(max int, window time.Duration) *rate.Limiter {
	return rate.NewLimiter(rate.Limit(float64(max)/window.Seconds()), max)
}

func NewConsumer(redisOpt asynq.RedisClientOpt, opts ConsumerOptions, handler asynq.Handler, logger *zap.Logger) *Consumer {
	log := logger.Named("consumer").With(zap.String("queue", QueueFor(opts.Kind)))

	limiter := opts.Limiter
	if limiter == nil {
		limiter = NewRateLimiter(opts.RateMax, opts.RateWindow)
	}

	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: opts.Concurrency,
		Queues:      map[string]int{QueueFor(opts.Kind): 1},
		RetryDelayFunc: func(n int, _ error, _ *asynq.Task) time.Duration {
			return RetryDelay(n)
		},
		Logger: asynqLogger{log},
	})

	c := &Consumer{
		server:  server,
		mux:     asynq.NewServeMux(),
		limiter: limiter,
		logger:  log,
	}
	c.mux.Handle(TypeProcessSignature, c.rateLimited(handler))
	return c
}

// rateLimited blocks each job on the shared limiter before dispatch.
func (c *Consumer) rateLimited(next asynq.Handler) asynq.Handler {
	return asynq.HandlerFunc(func(ctx context.Context, t *asynq.Task) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		return next.ProcessTask(ctx, t)
	})
}

// Start begins draining the queue; non-blocking.
func (c *Consumer) Start() error {
	return c.server.Start(c.mux)
}

// Shutdown drains in-flight jobs, force-stopping at the deadline.
func (c *Consumer) Shutdown(deadline time.Duration) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.server.Shutdown()
	}()

	select {
	case <-done:
	case <-time.After(deadline):
		c.logger.Warn("worker shutdown deadline exceeded, force closing",
			zap.Duration("deadline", deadline))
		c.server.Stop()
	}
}

// asynqLogger adapts zap to asynq's logger interface.
type asynqLogger struct {
	log *zap.Logger
}

func (l asynqLogger) Debug(args ...interface{}) { l.log.Sugar().Debug(args...) }
func (l asynqLogger) Info(args ...interface{})  { l.log.Sugar().Info(args...) }
func (l asynqLogger) Warn(args ...interface{})  { l.log.Sugar().Warn(args...) }
func (l asynqLogger) Error(args ...interface{}) { l.log.Sugar().Error(args...) }
func (l asynqLogger) Fatal(args ...interface{}) { l.log.Sugar().Fatal(args...) }
