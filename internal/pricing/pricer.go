// Package pricing converts classified swaps into USD terms. When a native
// leg was observed on-chain the token price follows from the swap ratio and
// no per-transaction quote lookup is made; provider quotes serve swaps with
// no native side. Stored native amounts are restricted to observed on-chain
// deltas.
package pricing

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/solwatch/swapfeed/internal/domain"
)

const (
	// FallbackSolPrice is used when the provider returns nothing usable.
	FallbackSolPrice = 150.0

	lamportsPerSol = 1e9
	priceCacheTTL  = 30 * time.Second
)

// QuoteProvider serves USD prices and market caps.
type QuoteProvider interface {
	CurrentPrice(ctx context.Context, mint string) (float64, error)
	HistoricalPrice(ctx context.Context, mint string, at time.Time) (float64, error)
	MarketCap(ctx context.Context, mint string) (float64, error)
}

// PricedSwap is the pricing output for one classified swap.
type PricedSwap struct {
	USDAmounts  domain.USDAmounts
	TokenPrices domain.TokenPrices
	SolAmounts  domain.SolAmounts
	MarketCaps  domain.MarketCaps
	GasFeeUSD   float64
}

// Pricer answers price questions with a short-lived in-process cache in
// front of the provider.
type Pricer struct {
	provider QuoteProvider
	logger   *zap.Logger

	mu     sync.Mutex
	cached map[string]cachedPrice
}

type cachedPrice struct {
	price   float64
	fetched time.Time
}

func New(provider QuoteProvider, logger *zap.Logger) *Pricer {
	return &Pricer{
		provider: provider,
		logger:   logger.Named("pricing"),
		cached:   make(map[string]cachedPrice),
	}
}

// CurrentSolPrice returns the live native-coin price, falling back to a
// constant when the provider has nothing usable.
func (p *Pricer) CurrentSolPrice(ctx context.Context) float64 {
	price := p.currentPrice(ctx, domain.NativeMint)
	if price <= 0 {
		p.logger.Warn("native price unavailable, using fallback",
			zap.Float64("fallback", FallbackSolPrice))
		return FallbackSolPrice
	}
	return price
}

// HistoricalSolPrice returns the native price at the transaction timestamp,
// falling back to the current price on provider failure.
func (p *Pricer) HistoricalSolPrice(ctx context.Context, at time.Time) float64 {
	price, err := p.provider.HistoricalPrice(ctx, domain.NativeMint, at)
	if err != nil || price <= 0 {
		if err != nil {
			p.logger.Warn("historical native price failed", zap.Time("at", at), zap.Error(err))
		}
		return p.CurrentSolPrice(ctx)
	}
	return price
}

func (p *Pricer) currentPrice(ctx context.Context, mint string) float64 {
	p.mu.Lock()
	if c, ok := p.cached[mint]; ok && time.Since(c.fetched) < priceCacheTTL {
		p.mu.Unlock()
		return c.price
	}
	p.mu.Unlock()

	price, err := p.provider.CurrentPrice(ctx, mint)
	if err != nil {
		p.logger.Debug("price lookup failed", zap.String("mint", mint), zap.Error(err))
		return 0
	}

	p.mu.Lock()
	p.cached[mint] = cachedPrice{price: price, fetched: time.Now()}
	p.mu.Unlock()
	return price
}

func (p *Pricer) marketCap(ctx context.Context, mint string) float64 {
	mc, err := p.provider.MarketCap(ctx, mint)
	if err != nil {
		p.logger.Debug("market cap lookup failed", zap.String("mint", mint), zap.Error(err))
		return 0
	}
	return mc
}

// Price computes USD values, per-token prices, native deltas, market caps
// and the USD gas fee for one classified swap.
func (p *Pricer) Price(ctx context.Context, swap *domain.ParsedSwap) PricedSwap {
	solNow := p.CurrentSolPrice(ctx)

	out := PricedSwap{
		SolAmounts: BuildSolAmounts(swap),
		GasFeeUSD:  GasFeeUSD(swap.Amounts.FeeLamports, solNow),
	}

	nativeAmount := observedNativeAmount(swap)
	var nativeUSD, basePrice float64
	imputed := false
	if nativeAmount > 0 {
		histSol := p.HistoricalSolPrice(ctx, swap.Timestamp)
		nativeUSD = nativeAmount * histSol
		if swap.Amounts.BaseAmount > 0 {
			// Both legs observed on-chain: the token price is the swap
			// ratio, and the record is marked so consumers know the price
			// was not quoted directly.
			basePrice = nativeUSD / swap.Amounts.BaseAmount
			imputed = true
		}
	}
	if basePrice <= 0 {
		basePrice = p.currentPrice(ctx, swap.BaseAsset.Mint)
		imputed = false
	}
	baseUSD := swap.Amounts.BaseAmount * basePrice

	// With no observed native leg the pass-through side mirrors the token
	// side; never the other way around.
	if nativeUSD == 0 {
		nativeUSD = baseUSD
	}

	solSidePrice := solNow
	switch swap.Direction {
	case domain.DirectionBuy:
		out.USDAmounts = domain.USDAmounts{BuyAmount: baseUSD, SellAmount: nativeUSD}
		out.TokenPrices = domain.TokenPrices{BuyPrice: basePrice, SellPrice: solSidePrice, Imputed: imputed}
	case domain.DirectionSell:
		out.USDAmounts = domain.USDAmounts{BuyAmount: nativeUSD, SellAmount: baseUSD}
		out.TokenPrices = domain.TokenPrices{BuyPrice: solSidePrice, SellPrice: basePrice, Imputed: imputed}
	}

	baseMC := p.marketCap(ctx, swap.BaseAsset.Mint)
	switch swap.Direction {
	case domain.DirectionBuy:
		out.MarketCaps = domain.MarketCaps{Buy: baseMC}
	case domain.DirectionSell:
		out.MarketCaps = domain.MarketCaps{Sell: baseMC}
	}

	return out
}

// observedNativeAmount returns the on-chain native delta attached to the
// swap, zero when none was observed.
func observedNativeAmount(swap *domain.ParsedSwap) float64 {
	switch swap.Direction {
	case domain.DirectionBuy:
		return swap.Amounts.TotalWalletCost
	case domain.DirectionSell:
		return swap.Amounts.NetWalletReceived
	}
	return 0
}

// BuildSolAmounts applies the stored-native-delta rule: only observed
// amounts are stored, and a swap with no native side stores neither.
func BuildSolAmounts(swap *domain.ParsedSwap) domain.SolAmounts {
	var out domain.SolAmounts

	switch {
	case swap.BaseAsset.IsNative():
		amount := swap.Amounts.BaseAmount
		if swap.Direction == domain.DirectionBuy {
			out.BuySolAmount = &amount
		} else {
			out.SellSolAmount = &amount
		}
	case swap.QuoteAsset.IsNative():
		switch swap.Direction {
		case domain.DirectionBuy:
			if cost := swap.Amounts.TotalWalletCost; cost > 0 {
				out.SellSolAmount = &cost
			}
		case domain.DirectionSell:
			if received := swap.Amounts.NetWalletReceived; received > 0 {
				out.BuySolAmount = &received
			}
		}
	}
	return out
}

// GasFeeUSD converts the on-chain fee from lamports.
func GasFeeUSD(feeLamports uint64, solPrice float64) float64 {
	return float64(feeLamports) / lamportsPerSol * solPrice
}
