// Package worker consumes queued (signature, account) jobs: lock, classify,
// enrich, price, score, persist, fan out. Transient failures return an
// error so the queue reschedules; classifier rejections are terminal drops.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/solwatch/swapfeed/internal/classifier"
	"github.com/solwatch/swapfeed/internal/domain"
	"github.com/solwatch/swapfeed/internal/enrich"
	"github.com/solwatch/swapfeed/internal/fanout"
	"github.com/solwatch/swapfeed/internal/pricing"
	"github.com/solwatch/swapfeed/internal/queue"
	"github.com/solwatch/swapfeed/internal/scoring"
	"github.com/solwatch/swapfeed/internal/store"
)

// Locks is the per-signature mutex plus the pending-pair set.
type Locks interface {
	AcquireLock(ctx context.Context, signature string) (bool, error)
	ReleaseLock(ctx context.Context, signature string)
	Unmark(ctx context.Context, kind domain.AccountKind, signature, account string) error
}

// TxFetcher is the RPC fallback when a job carries no cached transaction.
// The status check runs first; the full fetch is only worth its cost for a
// signature the chain confirms.
type TxFetcher interface {
	SignatureConfirmed(ctx context.Context, signature string) (bool, error)
	FetchParsedTransaction(ctx context.Context, signature string) (*domain.RawTransaction, error)
}

// TradeStore is the persistence surface the processor needs.
type TradeStore interface {
	CountBySignature(ctx context.Context, kind domain.AccountKind, signature string) (int64, error)
	InsertTrade(ctx context.Context, kind domain.AccountKind, trade *domain.StoredTrade) error
	InsertSplitPair(ctx context.Context, kind domain.AccountKind, sell, buy *domain.StoredTrade) error
	RecordBuy(ctx context.Context, kind domain.AccountKind, tokenAddress, account, signature string) (store.BuyTiming, error)
	CountDailyBuys(ctx context.Context, kind domain.AccountKind, tokenAddress, account, dayBucket string) (int, error)
	RecordPurchase(ctx context.Context, kind domain.AccountKind, rec domain.RepeatPurchaseRecord) error
	RecentTrades(ctx context.Context, kind domain.AccountKind, account string, since time.Time) ([]domain.StoredTrade, error)
	BuyVolumeSpike(ctx context.Context, kind domain.AccountKind, tokenAddress string, now time.Time) (float64, error)
}

// TokenResolver enriches one mint.
type TokenResolver interface {
	Resolve(ctx context.Context, mint, parsedSymbol string) enrich.ResolvedToken
	CreationTime(ctx context.Context, mint string) *time.Time
}

// SwapPricer prices one classified swap.
type SwapPricer interface {
	Price(ctx context.Context, swap *domain.ParsedSwap) pricing.PricedSwap
}

// Publisher hands persisted trades downstream.
type Publisher interface {
	Publish(ev fanout.TradeEvent)
}

// Processor handles one queue's jobs. It implements asynq.Handler.
type Processor struct {
	kind      domain.AccountKind
	accounts  *domain.AccountSet
	locks     Locks
	fetcher   TxFetcher
	trades    TradeStore
	resolver  TokenResolver
	pricer    SwapPricer
	publisher Publisher
	floor     domain.Confidence
	hasFloor  bool
	logger    *zap.Logger
}

// Config wires a processor.
type Config struct {
	Kind      domain.AccountKind
	Accounts  *domain.AccountSet
	Locks     Locks
	Fetcher   TxFetcher
	Trades    TradeStore
	Resolver  TokenResolver
	Pricer    SwapPricer
	Publisher Publisher
	// Floor drops records graded below the configured confidence.
	Floor    domain.Confidence
	HasFloor bool
}

func NewProcessor(cfg Config, logger *zap.Logger) *Processor {
	return &Processor{
		kind:      cfg.Kind,
		accounts:  cfg.Accounts,
		locks:     cfg.Locks,
		fetcher:   cfg.Fetcher,
		trades:    cfg.Trades,
		resolver:  cfg.Resolver,
		pricer:    cfg.Pricer,
		publisher: cfg.Publisher,
		floor:     cfg.Floor,
		hasFloor:  cfg.HasFloor,
		logger:    logger.Named("worker").With(zap.String("kind", string(cfg.Kind))),
	}
}

var _ asynq.Handler = (*Processor)(nil)

// releaseTimeout bounds the deferred lock and pending-pair cleanup.
const releaseTimeout = 5 * time.Second

// errSignatureUnavailable marks a signature the chain does not confirm:
// unknown at finalized commitment or failed on-chain.
var errSignatureUnavailable = errors.New("signature unavailable on-chain")

// ProcessTask runs one job to completion. A nil return acks the job; an
// error return reschedules it.
func (p *Processor) ProcessTask(ctx context.Context, task *asynq.Task) error {
	job, err := queue.ParseJob(task)
	if err != nil {
		p.logger.Error("unparseable job dropped", zap.Error(err))
		return nil
	}

	acquired, err := p.locks.AcquireLock(ctx, job.Signature)
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !acquired {
		p.logger.Debug("signature locked elsewhere, skipping",
			zap.String("signature", job.Signature))
		return nil
	}
	defer func() {
		// The job context is cancelled during shutdown; the lock and
		// pending-pair cleanup still have to reach Redis.
		releaseCtx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()
		p.locks.ReleaseLock(releaseCtx, job.Signature)
		if err := p.locks.Unmark(releaseCtx, p.kind, job.Signature, job.Account); err != nil {
			p.logger.Warn("unmark failed", zap.String("signature", job.Signature), zap.Error(err))
		}
	}()

	count, err := p.trades.CountBySignature(ctx, p.kind, job.Signature)
	if err != nil {
		return fmt.Errorf("count existing records: %w", err)
	}
	if count >= 2 {
		return nil
	}

	tx, err := p.rawTransaction(ctx, job)
	if err != nil {
		if errors.Is(err, errSignatureUnavailable) {
			p.logger.Warn("signature not confirmed on-chain, dropping",
				zap.String("signature", job.Signature))
			return nil
		}
		return err
	}

	tracked, ok := p.accounts.Lookup(job.Account)
	if !ok {
		p.logger.Warn("account no longer tracked, dropping",
			zap.String("account", job.Account))
		return nil
	}

	matchedVia, ok := matchSourceFor(tx, p.accounts, job.Account)
	if !ok {
		p.logger.Debug("account not present in transaction, dropping",
			zap.String("signature", job.Signature),
			zap.String("account", job.Account))
		return nil
	}

	outcome, err := classifier.Classify(tx, tracked, matchedVia)
	if err != nil {
		if rej, isRej := domain.AsRejection(err); isRej {
			p.logger.Debug("classification rejected",
				zap.String("signature", job.Signature),
				zap.String("reason", string(rej.Reason)),
				zap.Any("debug", rej.Debug))
			return nil
		}
		return fmt.Errorf("classify %s: %w", job.Signature, err)
	}

	return p.persistOutcome(ctx, tracked, outcome)
}

// rawTransaction prefers the cached copy from the notification and falls
// back to the chain RPC: a status call first, then the full fetch.
func (p *Processor) rawTransaction(ctx context.Context, job queue.Job) (*domain.RawTransaction, error) {
	if len(job.RawTx) > 0 {
		var tx domain.RawTransaction
		if err := json.Unmarshal(job.RawTx, &tx); err == nil && tx.Signature != "" {
			return &tx, nil
		}
		p.logger.Warn("cached raw tx unusable, re-fetching",
			zap.String("signature", job.Signature))
	}

	confirmed, err := p.fetcher.SignatureConfirmed(ctx, job.Signature)
	if err != nil {
		return nil, fmt.Errorf("signature status %s: %w", job.Signature, err)
	}
	if !confirmed {
		return nil, fmt.Errorf("%s: %w", job.Signature, errSignatureUnavailable)
	}

	tx, err := p.fetcher.FetchParsedTransaction(ctx, job.Signature)
	if err != nil {
		return nil, fmt.Errorf("re-fetch %s: %w", job.Signature, err)
	}
	return tx, nil
}

// matchSourceFor re-derives which lookup surfaced the account; the queue
// payload does not carry it.
func matchSourceFor(tx *domain.RawTransaction, accounts *domain.AccountSet, address string) (domain.MatchSource, bool) {
	for _, match := range classifier.MatchAccounts(tx, accounts) {
		if match.Account.Address == address {
			return match.Source, true
		}
	}
	return "", false
}

func (p *Processor) persistOutcome(ctx context.Context, tracked domain.TrackedAccount, outcome *domain.Outcome) error {
	records := outcome.Records()
	if p.hasFloor {
		for _, swap := range records {
			if !swap.Confidence.AtLeast(p.floor) {
				p.logger.Debug("below confidence floor, dropping",
					zap.String("signature", swap.Signature),
					zap.String("confidence", string(swap.Confidence)))
				return nil
			}
		}
	}

	built := make([]*builtTrade, 0, len(records))
	for _, swap := range records {
		built = append(built, p.buildTrade(ctx, tracked, swap))
	}

	var err error
	if outcome.Pair != nil {
		err = p.trades.InsertSplitPair(ctx, p.kind, built[0].trade, built[1].trade)
	} else {
		err = p.trades.InsertTrade(ctx, p.kind, built[0].trade)
	}
	if errors.Is(err, store.ErrAlreadyProcessed) {
		return nil
	}
	if err != nil {
		return err
	}

	for _, b := range built {
		p.afterPersist(ctx, tracked, b)
	}
	return nil
}

type builtTrade struct {
	trade     *domain.StoredTrade
	tokenAddr string
	usd       float64
	throttled bool
}

// buildTrade maps one classified swap to its stored record, including the
// hotness score for BUYs.
func (p *Processor) buildTrade(ctx context.Context, tracked domain.TrackedAccount, swap *domain.ParsedSwap) *builtTrade {
	priced := p.pricer.Price(ctx, swap)

	baseTok := p.resolver.Resolve(ctx, swap.BaseAsset.Mint, swap.BaseAsset.Symbol)
	quoteTok := p.resolver.Resolve(ctx, swap.QuoteAsset.Mint, swap.QuoteAsset.Symbol)
	baseAge := p.resolver.CreationTime(ctx, swap.BaseAsset.Mint)
	quoteAge := p.resolver.CreationTime(ctx, swap.QuoteAsset.Mint)

	base := domain.TokenDescriptor{
		Symbol:   displaySymbol(baseTok),
		Name:     baseTok.Name,
		Address:  swap.BaseAsset.Mint,
		ImageURL: baseTok.ImageURL,
	}
	quote := domain.TokenDescriptor{
		Symbol:   displaySymbol(quoteTok),
		Name:     quoteTok.Name,
		Address:  swap.QuoteAsset.Mint,
		ImageURL: quoteTok.ImageURL,
	}

	trade := &domain.StoredTrade{
		Signature:            swap.Signature,
		ClassificationSource: swap.Source,
		USDAmounts:           priced.USDAmounts,
		TokenPrices:          priced.TokenPrices,
		SolAmounts:           priced.SolAmounts,
		Protocol:             swap.Protocol,
		GasFeeUSD:            priced.GasFeeUSD,
		MarketCap:            priced.MarketCaps,
		Confidence:           swap.Confidence,
		TrackedAccount: domain.TradeAccount{
			Address:    tracked.Address,
			Labels:     tracked.Labels,
			Influencer: tracked.Influencer,
		},
		Timestamps: domain.TradeTimestamps{Tx: swap.Timestamp},
	}

	nativeAmount := observedNative(swap)
	switch swap.Direction {
	case domain.DirectionBuy:
		trade.Type = domain.TradeBuy
		trade.TokenOut = base
		trade.TokenIn = quote
		trade.TokenOut.USDAmount = priced.USDAmounts.BuyAmount
		trade.TokenOut.MarketCap = priced.MarketCaps.Buy
		trade.TokenIn.USDAmount = priced.USDAmounts.SellAmount
		trade.TokenAmounts = domain.TokenAmounts{
			BuyAmount:  swap.Amounts.BaseAmount,
			SellAmount: nativeAmount,
		}
		trade.Timestamps.TokenOutCreationAge = baseAge
		trade.Timestamps.TokenInCreationAge = quoteAge
	case domain.DirectionSell:
		trade.Type = domain.TradeSell
		trade.TokenIn = base
		trade.TokenOut = quote
		trade.TokenIn.USDAmount = priced.USDAmounts.SellAmount
		trade.TokenIn.MarketCap = priced.MarketCaps.Sell
		trade.TokenOut.USDAmount = priced.USDAmounts.BuyAmount
		trade.TokenAmounts = domain.TokenAmounts{
			BuyAmount:  nativeAmount,
			SellAmount: swap.Amounts.BaseAmount,
		}
		trade.Timestamps.TokenInCreationAge = baseAge
		trade.Timestamps.TokenOutCreationAge = quoteAge
	}

	b := &builtTrade{
		trade:     trade,
		tokenAddr: swap.BaseAsset.Mint,
		usd:       tradeUSD(trade),
	}
	if trade.Type == domain.TradeBuy {
		p.scoreBuy(ctx, tracked, swap, b)
	}
	return b
}

// scoreBuy gathers scoring inputs and computes the hotness score.
func (p *Processor) scoreBuy(ctx context.Context, tracked domain.TrackedAccount, swap *domain.ParsedSwap, b *builtTrade) {
	timing, err := p.trades.RecordBuy(ctx, p.kind, b.tokenAddr, tracked.Address, swap.Signature)
	if err != nil {
		p.logger.Warn("hotness aggregate update failed",
			zap.String("signature", swap.Signature), zap.Error(err))
	}

	dayBucket := store.DayBucket(swap.Timestamp)
	dailyBuys, err := p.trades.CountDailyBuys(ctx, p.kind, b.tokenAddr, tracked.Address, dayBucket)
	if err != nil {
		p.logger.Warn("daily buy count failed", zap.Error(err))
	}

	spike, err := p.trades.BuyVolumeSpike(ctx, p.kind, b.tokenAddr, swap.Timestamp)
	if err != nil {
		p.logger.Debug("volume spike lookup failed", zap.Error(err))
	}

	perf := p.recentPerformance(ctx, tracked.Address, swap.Timestamp)

	in := scoring.Inputs{
		Kind:             p.kind,
		Labels:           tracked.Labels,
		USDAmount:        b.usd,
		MarketCap:        b.trade.MarketCap.Buy,
		Performance:      perf,
		VolumeSpikeRatio: spike,
		IsFirstBuy:       timing.IsFirstBuy,
		DistinctBuyers:   timing.DistinctBuyers,
		DailyBuyCount:    dailyBuys,
	}
	if tracked.Influencer != nil {
		in.Followers = int(tracked.Influencer.FollowerCount)
	}

	b.trade.HotnessScore = scoring.Score(in)
	b.throttled = scoring.SmallBuyThrottled(b.usd, dailyBuys)
}

func (p *Processor) recentPerformance(ctx context.Context, account string, now time.Time) scoring.Performance {
	since := now.Add(-scoring.PerformanceWindow)
	trades, err := p.trades.RecentTrades(ctx, p.kind, account, since)
	if err != nil {
		p.logger.Debug("recent trades lookup failed", zap.Error(err))
		return scoring.Performance{}
	}

	events := make([]scoring.TradeEvent, 0, len(trades))
	for i := range trades {
		events = append(events, toTradeEvent(&trades[i]))
	}
	return scoring.ComputePerformance(events, now)
}

// afterPersist records repeat purchases and emits fan-out events.
func (p *Processor) afterPersist(ctx context.Context, tracked domain.TrackedAccount, b *builtTrade) {
	if b.trade.Type == domain.TradeBuy {
		rec := domain.RepeatPurchaseRecord{
			TokenAddress:   b.tokenAddr,
			TrackedAccount: tracked.Address,
			TxnSignature:   b.trade.Signature,
			USDAmount:      b.usd,
			DayBucket:      store.DayBucket(b.trade.Timestamps.Tx),
		}
		if err := p.trades.RecordPurchase(ctx, p.kind, rec); err != nil {
			p.logger.Warn("purchase record failed",
				zap.String("signature", b.trade.Signature), zap.Error(err))
		}
	}

	if p.publisher != nil {
		p.publisher.Publish(fanout.TradeEvent{
			Kind:      p.kind,
			Trade:     b.trade,
			Throttled: b.throttled,
		})
	}
}

func displaySymbol(tok enrich.ResolvedToken) string {
	if tok.Symbol == "" {
		return "Unknown"
	}
	return tok.Symbol
}

func observedNative(swap *domain.ParsedSwap) float64 {
	switch swap.Direction {
	case domain.DirectionBuy:
		return swap.Amounts.TotalWalletCost
	case domain.DirectionSell:
		return swap.Amounts.NetWalletReceived
	}
	return 0
}

// tradeUSD is the USD value of the traded token side.
func tradeUSD(trade *domain.StoredTrade) float64 {
	if trade.Type == domain.TradeBuy {
		return trade.USDAmounts.BuyAmount
	}
	return trade.USDAmounts.SellAmount
}

// toTradeEvent maps a stored record to the slim performance view. The
// scored token is the non-native side.
func toTradeEvent(trade *domain.StoredTrade) scoring.TradeEvent {
	ev := scoring.TradeEvent{
		Type: trade.Type,
		At:   trade.Timestamps.Tx,
	}
	if trade.Type == domain.TradeBuy {
		ev.Token = trade.TokenOut.Address
		ev.TokenAmount = trade.TokenAmounts.BuyAmount
		ev.USDAmount = trade.USDAmounts.BuyAmount
	} else {
		ev.Token = trade.TokenIn.Address
		ev.TokenAmount = trade.TokenAmounts.SellAmount
		ev.USDAmount = trade.USDAmounts.SellAmount
	}
	return ev
}
