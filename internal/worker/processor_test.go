package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/solwatch/swapfeed/internal/domain"
	"github.com/solwatch/swapfeed/internal/enrich"
	"github.com/solwatch/swapfeed/internal/fanout"
	"github.com/solwatch/swapfeed/internal/pricing"
	"github.com/solwatch/swapfeed/internal/queue"
	"github.com/solwatch/swapfeed/internal/store"
)

const (
	swapperAddr = "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU"
	poolAddr    = "58oQChx4yWmvKdwLLZzBi4ChoCc2fqCUWBkwMihLYQo2"
	mintTok     = "A1KLoBrKBde8Ty9qtNQUtq3C2ortoC3u7twggz7sEto6"
	mintOther   = "B62qkYKaJkBdAzPY3ZApASYfRDWTiJBPdRDF8sQgpump"
)

type fakeLocks struct {
	denyLock bool
	acquired []string
	released []string
	unmarked []string

	// releaseCtxErr captures the state of the context handed to ReleaseLock.
	releaseCtxErr error
}

func (f *fakeLocks) AcquireLock(_ context.Context, sig string) (bool, error) {
	if f.denyLock {
		return false, nil
	}
	f.acquired = append(f.acquired, sig)
	return true, nil
}

func (f *fakeLocks) ReleaseLock(ctx context.Context, sig string) {
	f.releaseCtxErr = ctx.Err()
	f.released = append(f.released, sig)
}

func (f *fakeLocks) Unmark(_ context.Context, _ domain.AccountKind, sig, _ string) error {
	f.unmarked = append(f.unmarked, sig)
	return nil
}

type fakeFetcher struct {
	tx          *domain.RawTransaction
	err         error
	unconfirmed bool
	statusErr   error
	statusCalls int
	calls       int
}

func (f *fakeFetcher) SignatureConfirmed(_ context.Context, _ string) (bool, error) {
	f.statusCalls++
	if f.statusErr != nil {
		return false, f.statusErr
	}
	return !f.unconfirmed, nil
}

func (f *fakeFetcher) FetchParsedTransaction(_ context.Context, _ string) (*domain.RawTransaction, error) {
	f.calls++
	return f.tx, f.err
}

type fakeTrades struct {
	existing  int64
	insertErr error
	inserted  []*domain.StoredTrade
	pairs     [][2]*domain.StoredTrade
	purchases []domain.RepeatPurchaseRecord
	dailyBuys int
}

func (f *fakeTrades) CountBySignature(_ context.Context, _ domain.AccountKind, _ string) (int64, error) {
	return f.existing, nil
}

func (f *fakeTrades) InsertTrade(_ context.Context, _ domain.AccountKind, trade *domain.StoredTrade) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.inserted = append(f.inserted, trade)
	return nil
}

func (f *fakeTrades) InsertSplitPair(_ context.Context, _ domain.AccountKind, sell, buy *domain.StoredTrade) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.pairs = append(f.pairs, [2]*domain.StoredTrade{sell, buy})
	return nil
}

func (f *fakeTrades) RecordBuy(_ context.Context, _ domain.AccountKind, _, _, _ string) (store.BuyTiming, error) {
	return store.BuyTiming{IsFirstBuy: true}, nil
}

func (f *fakeTrades) CountDailyBuys(_ context.Context, _ domain.AccountKind, _, _, _ string) (int, error) {
	return f.dailyBuys, nil
}

func (f *fakeTrades) RecordPurchase(_ context.Context, _ domain.AccountKind, rec domain.RepeatPurchaseRecord) error {
	f.purchases = append(f.purchases, rec)
	return nil
}

func (f *fakeTrades) RecentTrades(_ context.Context, _ domain.AccountKind, _ string, _ time.Time) ([]domain.StoredTrade, error) {
	return nil, nil
}

func (f *fakeTrades) BuyVolumeSpike(_ context.Context, _ domain.AccountKind, _ string, _ time.Time) (float64, error) {
	return 0, nil
}

type fakeResolver struct{}

func (fakeResolver) Resolve(_ context.Context, mint, parsed string) enrich.ResolvedToken {
	if domain.IsNativeMint(mint) {
		return enrich.ResolvedToken{Symbol: "SOL", Name: "Solana"}
	}
	if parsed != "" {
		return enrich.ResolvedToken{Symbol: parsed, Name: parsed}
	}
	return enrich.ResolvedToken{Symbol: "TOK", Name: "Test Token"}
}

func (fakeResolver) CreationTime(_ context.Context, _ string) *time.Time { return nil }

type fakePricer struct{}

func (fakePricer) Price(_ context.Context, swap *domain.ParsedSwap) pricing.PricedSwap {
	return pricing.PricedSwap{
		USDAmounts: domain.USDAmounts{BuyAmount: 100, SellAmount: 100},
		SolAmounts: pricing.BuildSolAmounts(swap),
		GasFeeUSD:  0.0005,
	}
}

type fakePublisher struct {
	events []fanout.TradeEvent
}

func (f *fakePublisher) Publish(ev fanout.TradeEvent) { f.events = append(f.events, ev) }

// nativeBuyTx builds a jsonParsed transaction where the swapper spends 1 SOL
// for 1000 TOK.
func nativeBuyTx(sig string) *domain.RawTransaction {
	return &domain.RawTransaction{
		Signature: sig,
		BlockTime: 1724371200,
		Message: domain.TxMessage{AccountKeys: []domain.AccountKey{
			{Pubkey: swapperAddr, Signer: true},
			{Pubkey: poolAddr},
		}},
		Meta: &domain.TxMeta{
			Fee:          5000,
			PreBalances:  []uint64{5_000_000_000, 10_000_000_000},
			PostBalances: []uint64{3_999_995_000, 11_000_000_000},
			PreTokenBalances: []domain.TokenBalance{{
				Mint: mintTok, Owner: swapperAddr,
				UITokenAmount: domain.UITokenAmount{Amount: "0", Decimals: 6},
			}},
			PostTokenBalances: []domain.TokenBalance{{
				Mint: mintTok, Owner: swapperAddr,
				UITokenAmount: domain.UITokenAmount{Amount: "1000000000", Decimals: 6},
			}},
		},
	}
}

// splitTx swaps 500 A for 1000 B with no native intermediate.
func splitTx(sig string) *domain.RawTransaction {
	return &domain.RawTransaction{
		Signature: sig,
		BlockTime: 1724371200,
		Message: domain.TxMessage{AccountKeys: []domain.AccountKey{
			{Pubkey: swapperAddr, Signer: true},
		}},
		Meta: &domain.TxMeta{
			Fee:          5000,
			PreBalances:  []uint64{1_000_000_000},
			PostBalances: []uint64{999_995_000},
			PreTokenBalances: []domain.TokenBalance{
				{Mint: mintTok, Owner: swapperAddr, UITokenAmount: domain.UITokenAmount{Amount: "500000000", Decimals: 6}},
				{Mint: mintOther, Owner: swapperAddr, UITokenAmount: domain.UITokenAmount{Amount: "0", Decimals: 6}},
			},
			PostTokenBalances: []domain.TokenBalance{
				{Mint: mintTok, Owner: swapperAddr, UITokenAmount: domain.UITokenAmount{Amount: "0", Decimals: 6}},
				{Mint: mintOther, Owner: swapperAddr, UITokenAmount: domain.UITokenAmount{Amount: "1000000000", Decimals: 6}},
			},
		},
	}
}

// signerTierBuyTx has a distinct fee payer; the tracked account is the
// first signer, so the classification grades HIGH.
func signerTierBuyTx(sig string) *domain.RawTransaction {
	return &domain.RawTransaction{
		Signature: sig,
		BlockTime: 1724371200,
		Message: domain.TxMessage{AccountKeys: []domain.AccountKey{
			{Pubkey: poolAddr},
			{Pubkey: swapperAddr, Signer: true},
		}},
		Meta: &domain.TxMeta{
			Fee:          5000,
			PreBalances:  []uint64{1_000_000_000, 5_000_000_000},
			PostBalances: []uint64{999_995_000, 4_000_000_000},
			PreTokenBalances: []domain.TokenBalance{{
				Mint: mintTok, Owner: swapperAddr,
				UITokenAmount: domain.UITokenAmount{Amount: "0", Decimals: 6},
			}},
			PostTokenBalances: []domain.TokenBalance{{
				Mint: mintTok, Owner: swapperAddr,
				UITokenAmount: domain.UITokenAmount{Amount: "1000000000", Decimals: 6},
			}},
		},
	}
}

func newProcessor(locks *fakeLocks, fetcher *fakeFetcher, trades *fakeTrades, pub *fakePublisher) *Processor {
	accounts := domain.NewAccountSet([]domain.TrackedAccount{
		{Address: swapperAddr, Kind: domain.KindWhale, Labels: []string{"SMART MONEY"}},
	})
	return NewProcessor(Config{
		Kind:      domain.KindWhale,
		Accounts:  accounts,
		Locks:     locks,
		Fetcher:   fetcher,
		Trades:    trades,
		Resolver:  fakeResolver{},
		Pricer:    fakePricer{},
		Publisher: pub,
	}, zap.NewNop())
}

func TestProcessTaskPersistsBuy(t *testing.T) {
	locks := &fakeLocks{}
	trades := &fakeTrades{}
	pub := &fakePublisher{}
	p := newProcessor(locks, &fakeFetcher{err: errors.New("unused")}, trades, pub)

	tx := nativeBuyTx("sig-buy")
	raw, err := json.Marshal(tx)
	require.NoError(t, err)
	task, err := queue.NewTask(queue.Job{Signature: tx.Signature, Account: swapperAddr, Kind: domain.KindWhale, RawTx: raw})
	require.NoError(t, err)

	require.NoError(t, p.ProcessTask(context.Background(), task))

	require.Len(t, trades.inserted, 1)
	got := trades.inserted[0]
	assert.Equal(t, domain.TradeBuy, got.Type)
	assert.Equal(t, mintTok, got.TokenOut.Address)
	assert.Equal(t, "SOL", got.TokenIn.Symbol)
	assert.InDelta(t, 1000, got.TokenAmounts.BuyAmount, 1e-9)
	assert.Positive(t, got.HotnessScore)
	assert.Equal(t, []string{"SMART MONEY"}, got.TrackedAccount.Labels)

	require.Len(t, pub.events, 1)
	assert.False(t, pub.events[0].Throttled)
	require.Len(t, trades.purchases, 1)
	assert.Equal(t, mintTok, trades.purchases[0].TokenAddress)

	assert.Equal(t, []string{"sig-buy"}, locks.acquired)
	assert.Equal(t, []string{"sig-buy"}, locks.released)
	assert.Equal(t, []string{"sig-buy"}, locks.unmarked)
}

func TestProcessTaskSkipsWhenLocked(t *testing.T) {
	locks := &fakeLocks{denyLock: true}
	trades := &fakeTrades{}
	p := newProcessor(locks, &fakeFetcher{}, trades, &fakePublisher{})

	tx := nativeBuyTx("sig-locked")
	raw, _ := json.Marshal(tx)
	task, err := queue.NewTask(queue.Job{Signature: tx.Signature, Account: swapperAddr, Kind: domain.KindWhale, RawTx: raw})
	require.NoError(t, err)

	require.NoError(t, p.ProcessTask(context.Background(), task))
	assert.Empty(t, trades.inserted)
	assert.Empty(t, locks.released)
}

func TestProcessTaskSkipsFullyPersistedSignature(t *testing.T) {
	locks := &fakeLocks{}
	trades := &fakeTrades{existing: 2}
	p := newProcessor(locks, &fakeFetcher{}, trades, &fakePublisher{})

	tx := nativeBuyTx("sig-done")
	raw, _ := json.Marshal(tx)
	task, err := queue.NewTask(queue.Job{Signature: tx.Signature, Account: swapperAddr, Kind: domain.KindWhale, RawTx: raw})
	require.NoError(t, err)

	require.NoError(t, p.ProcessTask(context.Background(), task))
	assert.Empty(t, trades.inserted)
	assert.Equal(t, []string{"sig-done"}, locks.released)
}

func TestProcessTaskRefetchesWithoutCachedTx(t *testing.T) {
	fetcher := &fakeFetcher{tx: nativeBuyTx("sig-refetch")}
	trades := &fakeTrades{}
	p := newProcessor(&fakeLocks{}, fetcher, trades, &fakePublisher{})

	task, err := queue.NewTask(queue.Job{Signature: "sig-refetch", Account: swapperAddr, Kind: domain.KindWhale})
	require.NoError(t, err)

	require.NoError(t, p.ProcessTask(context.Background(), task))
	assert.Equal(t, 1, fetcher.statusCalls)
	assert.Equal(t, 1, fetcher.calls)
	assert.Len(t, trades.inserted, 1)
}

func TestProcessTaskDropsUnconfirmedSignature(t *testing.T) {
	fetcher := &fakeFetcher{unconfirmed: true}
	locks := &fakeLocks{}
	trades := &fakeTrades{}
	p := newProcessor(locks, fetcher, trades, &fakePublisher{})

	task, err := queue.NewTask(queue.Job{Signature: "sig-gone", Account: swapperAddr, Kind: domain.KindWhale})
	require.NoError(t, err)

	// The chain does not confirm the signature; the job is dropped without
	// attempting the full fetch.
	require.NoError(t, p.ProcessTask(context.Background(), task))
	assert.Equal(t, 1, fetcher.statusCalls)
	assert.Zero(t, fetcher.calls)
	assert.Empty(t, trades.inserted)
	assert.Equal(t, []string{"sig-gone"}, locks.released)
}

func TestProcessTaskStatusErrorIsRetryable(t *testing.T) {
	fetcher := &fakeFetcher{statusErr: errors.New("rpc down")}
	locks := &fakeLocks{}
	p := newProcessor(locks, fetcher, &fakeTrades{}, &fakePublisher{})

	task, err := queue.NewTask(queue.Job{Signature: "sig-status", Account: swapperAddr, Kind: domain.KindWhale})
	require.NoError(t, err)

	assert.Error(t, p.ProcessTask(context.Background(), task))
	assert.Zero(t, fetcher.calls)
	assert.Equal(t, []string{"sig-status"}, locks.released)
}

func TestProcessTaskFetchFailureIsRetryable(t *testing.T) {
	fetcher := &fakeFetcher{err: errors.New("rpc timeout")}
	locks := &fakeLocks{}
	p := newProcessor(locks, fetcher, &fakeTrades{}, &fakePublisher{})

	task, err := queue.NewTask(queue.Job{Signature: "sig-down", Account: swapperAddr, Kind: domain.KindWhale})
	require.NoError(t, err)

	assert.Error(t, p.ProcessTask(context.Background(), task))
	// The lock is still released so the retry can run.
	assert.Equal(t, []string{"sig-down"}, locks.released)
}

func TestProcessTaskDropsFailedTx(t *testing.T) {
	tx := nativeBuyTx("sig-failed")
	tx.Meta.Err = map[string]interface{}{"InstructionError": []interface{}{0, "Custom"}}
	trades := &fakeTrades{}
	p := newProcessor(&fakeLocks{}, &fakeFetcher{}, trades, &fakePublisher{})

	raw, _ := json.Marshal(tx)
	task, err := queue.NewTask(queue.Job{Signature: tx.Signature, Account: swapperAddr, Kind: domain.KindWhale, RawTx: raw})
	require.NoError(t, err)

	require.NoError(t, p.ProcessTask(context.Background(), task))
	assert.Empty(t, trades.inserted)
}

func TestProcessTaskPersistsSplitPairAtomically(t *testing.T) {
	trades := &fakeTrades{}
	pub := &fakePublisher{}
	p := newProcessor(&fakeLocks{}, &fakeFetcher{}, trades, pub)

	tx := splitTx("sig-split")
	raw, _ := json.Marshal(tx)
	task, err := queue.NewTask(queue.Job{Signature: tx.Signature, Account: swapperAddr, Kind: domain.KindWhale, RawTx: raw})
	require.NoError(t, err)

	require.NoError(t, p.ProcessTask(context.Background(), task))

	assert.Empty(t, trades.inserted)
	require.Len(t, trades.pairs, 1)
	sell, buy := trades.pairs[0][0], trades.pairs[0][1]
	assert.Equal(t, domain.TradeSell, sell.Type)
	assert.Equal(t, domain.TradeBuy, buy.Type)
	assert.Equal(t, sell.Signature, buy.Signature)
	assert.Nil(t, sell.SolAmounts.BuySolAmount)
	assert.Nil(t, sell.SolAmounts.SellSolAmount)
	assert.Len(t, pub.events, 2)
}

func TestProcessTaskTreatsDuplicateInsertAsDone(t *testing.T) {
	trades := &fakeTrades{insertErr: store.ErrAlreadyProcessed}
	pub := &fakePublisher{}
	p := newProcessor(&fakeLocks{}, &fakeFetcher{}, trades, pub)

	tx := nativeBuyTx("sig-dup")
	raw, _ := json.Marshal(tx)
	task, err := queue.NewTask(queue.Job{Signature: tx.Signature, Account: swapperAddr, Kind: domain.KindWhale, RawTx: raw})
	require.NoError(t, err)

	require.NoError(t, p.ProcessTask(context.Background(), task))
	assert.Empty(t, pub.events)
}

func TestProcessTaskConfidenceFloor(t *testing.T) {
	trades := &fakeTrades{}
	accounts := domain.NewAccountSet([]domain.TrackedAccount{
		{Address: swapperAddr, Kind: domain.KindWhale},
	})
	p := NewProcessor(Config{
		Kind:     domain.KindWhale,
		Accounts: accounts,
		Locks:    &fakeLocks{},
		Fetcher:  &fakeFetcher{},
		Trades:   trades,
		Resolver: fakeResolver{},
		Pricer:   fakePricer{},
		Floor:    domain.ConfidenceMax,
		HasFloor: true,
	}, zap.NewNop())

	// The tracked account signs but does not pay the fee, so the record
	// grades HIGH, below the MAX floor.
	tx := signerTierBuyTx("sig-floor")
	raw, _ := json.Marshal(tx)
	task, err := queue.NewTask(queue.Job{Signature: tx.Signature, Account: swapperAddr, Kind: domain.KindWhale, RawTx: raw})
	require.NoError(t, err)

	require.NoError(t, p.ProcessTask(context.Background(), task))
	assert.Empty(t, trades.inserted)
	assert.Empty(t, trades.pairs)
}

func TestProcessTaskReleasesLockAfterContextCancel(t *testing.T) {
	locks := &fakeLocks{}
	trades := &fakeTrades{}
	p := newProcessor(locks, &fakeFetcher{}, trades, &fakePublisher{})

	tx := nativeBuyTx("sig-cancel")
	raw, err := json.Marshal(tx)
	require.NoError(t, err)
	task, err := queue.NewTask(queue.Job{Signature: tx.Signature, Account: swapperAddr, Kind: domain.KindWhale, RawTx: raw})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, p.ProcessTask(ctx, task))

	// Cleanup runs on its own context so a cancelled job context cannot
	// leave the processing lock behind.
	assert.Equal(t, []string{"sig-cancel"}, locks.released)
	assert.Equal(t, []string{"sig-cancel"}, locks.unmarked)
	assert.NoError(t, locks.releaseCtxErr)
}

func TestToTradeEventUsesTradedSide(t *testing.T) {
	buy := &domain.StoredTrade{
		Type:         domain.TradeBuy,
		TokenOut:     domain.TokenDescriptor{Address: mintTok},
		TokenAmounts: domain.TokenAmounts{BuyAmount: 1000},
		USDAmounts:   domain.USDAmounts{BuyAmount: 100},
	}
	ev := toTradeEvent(buy)
	assert.Equal(t, mintTok, ev.Token)
	assert.InDelta(t, 1000, ev.TokenAmount, 1e-9)

	sell := &domain.StoredTrade{
		Type:         domain.TradeSell,
		TokenIn:      domain.TokenDescriptor{Address: mintOther},
		TokenAmounts: domain.TokenAmounts{SellAmount: 50},
		USDAmounts:   domain.USDAmounts{SellAmount: 25},
	}
	ev = toTradeEvent(sell)
	assert.Equal(t, mintOther, ev.Token)
	assert.InDelta(t, 50, ev.TokenAmount, 1e-9)
	assert.InDelta(t, 25, ev.USDAmount, 1e-9)
}
