package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/solwatch/swapfeed/internal/dedup"
	"github.com/solwatch/swapfeed/internal/domain"
)

// Producer enqueues jobs for one account kind. It satisfies the
// subscription manager's Sink interface.
type Producer struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	dedup     *dedup.Deduper
	kind      domain.AccountKind
	queue     string
	warnDepth int
	logger    *zap.Logger
}

func NewProducer(redisOpt asynq.RedisClientOpt, kind domain.AccountKind, deduper *dedup.Deduper, warnDepth int, logger *zap.Logger) *Producer {
	return &Producer{
		client:    asynq.NewClient(redisOpt),
		inspector: asynq.NewInspector(redisOpt),
		dedup:     deduper,
		kind:      kind,
		queue:     QueueFor(kind),
		warnDepth: warnDepth,
		logger:    logger.Named("queue").With(zap.String("queue", QueueFor(kind))),
	}
}

// Enqueue gates the notification through the dedup set and queues it. A
// pair already marked pending short-circuits without error.
func (p *Producer) Enqueue(ctx context.Context, n domain.RawTxNotification) error {
	fresh, err := p.dedup.MarkPending(ctx, p.kind, n.Signature, n.Account)
	if err != nil {
		return fmt.Errorf("dedup gate: %w", err)
	}
	if !fresh {
		p.logger.Debug("duplicate notification dropped",
			zap.String("signature", n.Signature),
			zap.String("account", n.Account))
		return nil
	}

	task, err := NewTask(Job{
		ID:         uuid.NewString(),
		Signature:  n.Signature,
		Account:    n.Account,
		Kind:       p.kind,
		RawTx:      n.RawTx,
		EnqueuedAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	_, err = p.client.EnqueueContext(ctx, task,
		asynq.Queue(p.queue),
		asynq.MaxRetry(MaxRetry),
		asynq.Retention(retention),
	)
	if err != nil {
		// Re-open the pair so a later notification can retry the enqueue.
		if unmarkErr := p.dedup.Unmark(ctx, p.kind, n.Signature, n.Account); unmarkErr != nil {
			p.logger.Warn("unmark after enqueue failure", zap.Error(unmarkErr))
		}
		return fmt.Errorf("enqueue %s: %w", n.Signature, err)
	}

	p.dedup.RecordLatestSignature(ctx, n.Account, n.Signature)
	p.warnOnDepth()
	return nil
}

func (p *Producer) warnOnDepth() {
	if p.warnDepth <= 0 {
		return
	}
	info, err := p.inspector.GetQueueInfo(p.queue)
	if err != nil {
		return
	}
	if depth := info.Pending + info.Active; depth > p.warnDepth {
		p.logger.Warn("queue depth above threshold",
			zap.Int("depth", depth),
			zap.Int("threshold", p.warnDepth))
	}
}

// Depth returns pending plus active jobs, for shutdown logging.
func (p *Producer) Depth() int {
	info, err := p.inspector.GetQueueInfo(p.queue)
	if err != nil {
		return -1
	}
	return info.Pending + info.Active
}

// Obliterate drops every queued task within the deadline. Used by shutdown
// after workers are closed.
func (p *Producer) Obliterate(deadline time.Duration) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, drop := range []func(string) (int, error){
			p.inspector.DeleteAllPendingTasks,
			p.inspector.DeleteAllScheduledTasks,
			p.inspector.DeleteAllRetryTasks,
		} {
			if n, err := drop(p.queue); err != nil {
				p.logger.Warn("obliterate step failed", zap.Error(err))
			} else if n > 0 {
				p.logger.Info("dropped queued tasks", zap.Int("count", n))
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(deadline):
		p.logger.Warn("obliterate deadline exceeded", zap.Duration("deadline", deadline))
	}
}

func (p *Producer) Close() error {
	if err := p.inspector.Close(); err != nil {
		p.logger.Warn("inspector close", zap.Error(err))
	}
	return p.client.Close()
}
