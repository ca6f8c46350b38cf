package fanout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/solwatch/swapfeed/internal/domain"
)

type recorder struct {
	mu       sync.Mutex
	matched  []string
	casted   []string
	tweeted  []string
	patched  map[string]int
	promoted bool
	tweetErr error
}

func newRecorder() *recorder {
	return &recorder{patched: make(map[string]int)}
}

func (r *recorder) MatchTrade(_ context.Context, ev TradeEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.matched = append(r.matched, ev.Trade.Signature)
}

func (r *recorder) BroadcastTrade(_ context.Context, ev TradeEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.casted = append(r.casted, ev.Trade.Signature)
}

func (r *recorder) ComposeTweet(_ context.Context, ev TradeEvent) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tweeted = append(r.tweeted, ev.Trade.Signature)
	return r.promoted, r.tweetErr
}

func (r *recorder) PatchHotness(_ context.Context, _ domain.AccountKind, signature string, _ domain.TradeType, score int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.patched[signature] = score
	return nil
}

func (r *recorder) snapshot() (matched, casted, tweeted []string, patched map[string]int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	patched = make(map[string]int, len(r.patched))
	for k, v := range r.patched {
		patched[k] = v
	}
	return append([]string(nil), r.matched...), append([]string(nil), r.casted...), append([]string(nil), r.tweeted...), patched
}

func buyEvent(sig string, score int) TradeEvent {
	return TradeEvent{
		Kind:  domain.KindWhale,
		Trade: &domain.StoredTrade{Signature: sig, Type: domain.TradeBuy, HotnessScore: score},
	}
}

func TestDispatchBuyHitsAllConsumers(t *testing.T) {
	rec := newRecorder()
	hub := NewHub(rec, rec, rec, rec, zap.NewNop())

	hub.dispatch(context.Background(), buyEvent("sig1", 5))

	matched, casted, tweeted, _ := rec.snapshot()
	assert.Equal(t, []string{"sig1"}, matched)
	assert.Equal(t, []string{"sig1"}, casted)
	assert.Equal(t, []string{"sig1"}, tweeted)
}

func TestDispatchSellSkipsTweet(t *testing.T) {
	rec := newRecorder()
	hub := NewHub(rec, rec, rec, rec, zap.NewNop())

	ev := TradeEvent{
		Kind:  domain.KindWhale,
		Trade: &domain.StoredTrade{Signature: "sig2", Type: domain.TradeSell},
	}
	hub.dispatch(context.Background(), ev)

	matched, _, tweeted, _ := rec.snapshot()
	assert.Equal(t, []string{"sig2"}, matched)
	assert.Empty(t, tweeted)
}

func TestDispatchThrottledSkipsTweet(t *testing.T) {
	rec := newRecorder()
	hub := NewHub(rec, rec, rec, rec, zap.NewNop())

	ev := buyEvent("sig3", 1)
	ev.Throttled = true
	hub.dispatch(context.Background(), ev)

	_, _, tweeted, _ := rec.snapshot()
	assert.Empty(t, tweeted)
}

func TestPromotedBonusClamps(t *testing.T) {
	rec := newRecorder()
	rec.promoted = true
	hub := NewHub(rec, rec, rec, rec, zap.NewNop())

	hub.dispatch(context.Background(), buyEvent("sig4", 9))

	_, _, _, patched := rec.snapshot()
	assert.Equal(t, 10, patched["sig4"])
}

func TestTweetErrorSkipsPatch(t *testing.T) {
	rec := newRecorder()
	rec.promoted = true
	rec.tweetErr = errors.New("rate limited")
	hub := NewHub(rec, rec, rec, rec, zap.NewNop())

	hub.dispatch(context.Background(), buyEvent("sig5", 4))

	_, _, _, patched := rec.snapshot()
	assert.Empty(t, patched)
}

func TestPublishNeverBlocks(t *testing.T) {
	hub := NewHub(nil, nil, nil, nil, zap.NewNop())
	for i := 0; i < defaultBuffer+10; i++ {
		hub.Publish(buyEvent("sig", 1))
	}
}

func TestRunDrainsPublishedEvents(t *testing.T) {
	rec := newRecorder()
	hub := NewHub(rec, rec, nil, nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	hub.Publish(buyEvent("sig6", 2))

	require.Eventually(t, func() bool {
		matched, _, _, _ := rec.snapshot()
		return len(matched) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestRunDeliversBufferedEventsAfterStop(t *testing.T) {
	rec := newRecorder()
	hub := NewHub(rec, rec, nil, nil, zap.NewNop())

	// Events published while the loop is stopped must survive: workers keep
	// publishing during their drain window after the run context dies.
	hub.Publish(buyEvent("sig7", 1))
	hub.Publish(buyEvent("sig8", 1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	hub.Run(ctx)

	matched, casted, _, _ := rec.snapshot()
	assert.Equal(t, []string{"sig7", "sig8"}, matched)
	assert.Equal(t, []string{"sig7", "sig8"}, casted)
}
