// Package classifier turns raw parsed transactions into direction-tagged
// swaps from a tracked account's perspective. Classification is a pure
// function of the transaction and the account: identical inputs always
// produce identical outputs, and every failure is a terminal, typed
// rejection.
package classifier

import (
	"math"

	"github.com/solwatch/swapfeed/internal/domain"
)

// SourceTag is the classification source written to persisted records.
const (
	SourceTag       = "v2_parser"
	sourceSplitBuy  = SourceTag + "_split_buy"
	sourceSplitSell = SourceTag + "_split_sell"
)

// excludedMints are quote-like stablecoins that never classify as the base
// asset of a trade.
var excludedMints = map[string]struct{}{
	"EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v": {}, // USDC
	"Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB": {}, // USDT
}

// Classify runs steps B through G against one tracked account. Step A
// (account matching) runs earlier, at the subscription pre-check, via
// MatchAccounts. The returned error is either a *domain.Rejection (terminal)
// or nil.
func Classify(tx *domain.RawTransaction, tracked domain.TrackedAccount, matchedVia domain.MatchSource) (*domain.Outcome, error) {
	if tx.Signature == "" || tx.Meta == nil {
		return nil, domain.NewRejection(domain.RejectMissingMeta, domain.RejectDebug{})
	}
	if tx.Meta.Err != nil {
		return nil, domain.NewRejection(domain.RejectFailedTx, domain.RejectDebug{FeePayer: tx.FeePayer()})
	}

	debug := domain.RejectDebug{
		FeePayer:    tx.FeePayer(),
		SignerCount: len(tx.Signers()),
	}

	method, ok := identifySwapper(tx, tracked.Address)
	if !ok {
		return nil, domain.NewRejection(domain.RejectNoSwapper, debug)
	}

	deltas := netDeltas(tx, tracked.Address)
	debug.DeltaMints = deltaMints(deltas)

	if len(deltas) < 2 {
		return nil, domain.NewRejection(domain.RejectNonSwap, debug)
	}

	sent, received, unambiguous := splitDirectional(deltas)
	if !unambiguous {
		return nil, domain.NewRejection(domain.RejectAmbiguousDirection, debug)
	}

	protocol := detectProtocol(tx)
	confidence := grade(method, unambiguous)

	switch {
	case !sent.IsNative() && !received.IsNative():
		return classifyTokenToToken(tx, tracked.Address, sent, received, method, matchedVia, confidence, protocol, debug)
	case received.IsNative():
		// Native received: the swapper sold the sent token.
		if _, excluded := excludedMints[sent.Mint]; excluded {
			return nil, domain.NewRejection(domain.RejectExcludedTokens, debug)
		}
		swap := newSwap(tx, tracked.Address, domain.DirectionSell, sent, received, method, matchedVia, confidence, protocol)
		swap.Amounts.NetWalletReceived = received.Amount
		return &domain.Outcome{Swap: swap}, nil
	default:
		// Native sent: the swapper bought the received token.
		if _, excluded := excludedMints[received.Mint]; excluded {
			return nil, domain.NewRejection(domain.RejectExcludedTokens, debug)
		}
		swap := newSwap(tx, tracked.Address, domain.DirectionBuy, sent, received, method, matchedVia, confidence, protocol)
		// The post-balance delta already includes fees paid, so the
		// observed outflow is the gross wallet cost.
		swap.Amounts.TotalWalletCost = math.Abs(sent.Amount)
		return &domain.Outcome{Swap: swap}, nil
	}
}

// classifyTokenToToken applies the native-leg rule: a stable intermediate
// native transfer collapses the route into a single BUY with native quote;
// otherwise the route splits into a SELL-to-native and a BUY-from-native
// record pair.
func classifyTokenToToken(
	tx *domain.RawTransaction,
	swapper string,
	sent, received AssetDelta,
	method domain.SwapperIDMethod,
	matchedVia domain.MatchSource,
	confidence domain.Confidence,
	protocol string,
	debug domain.RejectDebug,
) (*domain.Outcome, error) {
	_, sentExcluded := excludedMints[sent.Mint]
	_, receivedExcluded := excludedMints[received.Mint]
	if sentExcluded && receivedExcluded {
		return nil, domain.NewRejection(domain.RejectExcludedTokens, debug)
	}

	if leg := findNativeLeg(tx, swapper); leg > 0 {
		if receivedExcluded {
			return nil, domain.NewRejection(domain.RejectExcludedTokens, debug)
		}
		native := AssetDelta{
			Mint:     domain.WrappedNativeMint,
			Symbol:   "SOL",
			Decimals: 9,
			Amount:   -leg,
		}
		swap := newSwap(tx, swapper, domain.DirectionBuy, native, received, method, matchedVia, confidence, protocol)
		swap.Amounts.SwapInputAmount = leg
		swap.Amounts.TotalWalletCost = leg
		return &domain.Outcome{Swap: swap}, nil
	}

	nativeIn := AssetDelta{Mint: domain.WrappedNativeMint, Symbol: "SOL", Decimals: 9}

	// A stablecoin side never becomes a stored base asset: the route
	// collapses to the non-stable child instead of a full pair.
	if sentExcluded {
		buy := newSwap(tx, swapper, domain.DirectionBuy, nativeIn, received, method, matchedVia, confidence, protocol)
		buy.Source = sourceSplitBuy
		return &domain.Outcome{Swap: buy}, nil
	}
	if receivedExcluded {
		sell := newSwap(tx, swapper, domain.DirectionSell, sent, nativeIn, method, matchedVia, confidence, protocol)
		sell.Source = sourceSplitSell
		return &domain.Outcome{Swap: sell}, nil
	}

	sell := newSwap(tx, swapper, domain.DirectionSell, sent, nativeIn, method, matchedVia, confidence, protocol)
	sell.Source = sourceSplitSell

	buy := newSwap(tx, swapper, domain.DirectionBuy, nativeIn, received, method, matchedVia, confidence, protocol)
	buy.Source = sourceSplitBuy

	return &domain.Outcome{Pair: &domain.SplitSwapPair{Sell: sell, Buy: buy}}, nil
}

// newSwap assembles a ParsedSwap with the base/quote assignment implied by
// the direction: the swapper receives the base on a BUY and sends it on a
// SELL. Native amounts are filled in by the caller only when observed.
func newSwap(
	tx *domain.RawTransaction,
	swapper string,
	direction domain.Direction,
	sent, received AssetDelta,
	method domain.SwapperIDMethod,
	matchedVia domain.MatchSource,
	confidence domain.Confidence,
	protocol string,
) *domain.ParsedSwap {
	var base, quote AssetDelta
	if direction == domain.DirectionBuy {
		base, quote = received, sent
	} else {
		base, quote = sent, received
	}

	return &domain.ParsedSwap{
		Signature:  tx.Signature,
		Timestamp:  tx.Timestamp(),
		Swapper:    swapper,
		Direction:  direction,
		BaseAsset:  asset(base),
		QuoteAsset: asset(quote),
		Amounts: domain.SwapAmounts{
			BaseAmount:       math.Abs(base.Amount),
			SwapInputAmount:  math.Abs(sent.Amount),
			SwapOutputAmount: math.Abs(received.Amount),
			FeeLamports:      tx.Meta.Fee,
		},
		Confidence:   confidence,
		Protocol:     protocol,
		IdentifiedBy: method,
		MatchedVia:   matchedVia,
		Source:       SourceTag,
	}
}

func asset(d AssetDelta) domain.Asset {
	return domain.Asset{Mint: d.Mint, Symbol: d.Symbol, Decimals: d.Decimals}
}

// grade maps the identification tier and delta clarity to a confidence
// level.
func grade(method domain.SwapperIDMethod, unambiguous bool) domain.Confidence {
	if !unambiguous {
		return domain.ConfidenceLow
	}
	switch method {
	case domain.IDByFeePayer:
		return domain.ConfidenceMax
	case domain.IDBySigner:
		return domain.ConfidenceHigh
	case domain.IDByOwnerAnalysis:
		return domain.ConfidenceMedium
	}
	return domain.ConfidenceLow
}
