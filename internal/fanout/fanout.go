// Package fanout delivers persisted trades to downstream consumers: the
// alert matcher, the websocket broadcaster and the tweet composer. Delivery
// is best-effort over a bounded channel; a full buffer drops the event
// rather than stalling the worker.
package fanout

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/solwatch/swapfeed/internal/domain"
	"github.com/solwatch/swapfeed/internal/scoring"
)

// TradeEvent is one persisted trade heading downstream.
type TradeEvent struct {
	Kind  domain.AccountKind
	Trade *domain.StoredTrade
	// Throttled suppresses the tweet path for repeat small buys.
	Throttled bool
}

// AlertMatcher receives every persisted trade.
type AlertMatcher interface {
	MatchTrade(ctx context.Context, ev TradeEvent)
}

// Broadcaster pushes trades to connected websocket clients.
type Broadcaster interface {
	BroadcastTrade(ctx context.Context, ev TradeEvent)
}

// TweetComposer is triggered for unthrottled BUY records. It reports
// whether the token qualified for the promoted bonus.
type TweetComposer interface {
	ComposeTweet(ctx context.Context, ev TradeEvent) (promoted bool, err error)
}

// HotnessPatcher writes the promoted-token bonus back to the stored record.
type HotnessPatcher interface {
	PatchHotness(ctx context.Context, kind domain.AccountKind, signature string, tradeType domain.TradeType, score int) error
}

const (
	defaultBuffer = 256
	drainTimeout  = 5 * time.Second
)

// Hub owns the delivery loop.
type Hub struct {
	events  chan TradeEvent
	matcher AlertMatcher
	caster  Broadcaster
	tweeter TweetComposer
	patcher HotnessPatcher
	logger  *zap.Logger
}

func NewHub(matcher AlertMatcher, caster Broadcaster, tweeter TweetComposer, patcher HotnessPatcher, logger *zap.Logger) *Hub {
	return &Hub{
		events:  make(chan TradeEvent, defaultBuffer),
		matcher: matcher,
		caster:  caster,
		tweeter: tweeter,
		patcher: patcher,
		logger:  logger.Named("fanout"),
	}
}

// Publish hands an event to the hub without blocking. Events are dropped
// when the buffer is full.
func (h *Hub) Publish(ev TradeEvent) {
	select {
	case h.events <- ev:
	default:
		h.logger.Warn("fanout buffer full, dropping event",
			zap.String("signature", ev.Trade.Signature))
	}
}

// Run dispatches events until the context ends, then drains whatever the
// workers published before they were stopped.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.drain()
			return
		case ev := <-h.events:
			h.dispatch(ctx, ev)
		}
	}
}

// drain delivers the buffered remainder on a fresh context; the run context
// is already dead by the time this is called.
func (h *Hub) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	for {
		select {
		case ev := <-h.events:
			h.dispatch(ctx, ev)
		default:
			return
		}
	}
}

func (h *Hub) dispatch(ctx context.Context, ev TradeEvent) {
	if h.matcher != nil {
		h.matcher.MatchTrade(ctx, ev)
	}
	if h.caster != nil {
		h.caster.BroadcastTrade(ctx, ev)
	}
	if h.tweeter == nil || ev.Trade.Type != domain.TradeBuy || ev.Throttled {
		return
	}

	promoted, err := h.tweeter.ComposeTweet(ctx, ev)
	if err != nil {
		h.logger.Warn("tweet compose failed",
			zap.String("signature", ev.Trade.Signature), zap.Error(err))
		return
	}
	if promoted {
		h.applyPromotedBonus(ctx, ev)
	}
}

// applyPromotedBonus patches the stored hotness score; the only mutation a
// record sees after insert.
func (h *Hub) applyPromotedBonus(ctx context.Context, ev TradeEvent) {
	if h.patcher == nil {
		return
	}
	boosted := ev.Trade.HotnessScore + scoring.PromotedTokenBonus
	if boosted > scoring.MaxScore {
		boosted = scoring.MaxScore
	}
	err := h.patcher.PatchHotness(ctx, ev.Kind, ev.Trade.Signature, ev.Trade.Type, boosted)
	if err != nil {
		h.logger.Warn("promoted bonus patch failed",
			zap.String("signature", ev.Trade.Signature), zap.Error(err))
		return
	}
	h.logger.Info("promoted token bonus applied",
		zap.String("signature", ev.Trade.Signature),
		zap.Int("hotness", boosted))
}
