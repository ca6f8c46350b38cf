package domain

import "time"

// Native mint addresses. SOL and its wrapped SPL form are equivalent for
// classification.
const (
	NativeMint        = "So11111111111111111111111111111111111111111"
	WrappedNativeMint = "So11111111111111111111111111111111111111112"
)

// SolanaGenesis is the creation timestamp used for the native coin and its
// wrapped form instead of a provider lookup.
var SolanaGenesis = time.Date(2020, time.March, 16, 14, 29, 0, 0, time.UTC)

// IsNativeMint treats SOL and wSOL as the same asset.
func IsNativeMint(mint string) bool {
	return mint == NativeMint || mint == WrappedNativeMint
}

// Direction of a swap from the swapper's perspective.
type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
)

// Confidence grades how reliably the swapper was identified and the deltas
// resolved.
type Confidence string

const (
	ConfidenceMax    Confidence = "MAX"
	ConfidenceHigh   Confidence = "HIGH"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceLow    Confidence = "LOW"
)

// confidenceRank orders confidence levels for floor comparison.
var confidenceRank = map[Confidence]int{
	ConfidenceLow:    0,
	ConfidenceMedium: 1,
	ConfidenceHigh:   2,
	ConfidenceMax:    3,
}

// AtLeast reports whether c meets the given floor.
func (c Confidence) AtLeast(floor Confidence) bool {
	return confidenceRank[c] >= confidenceRank[floor]
}

// ParseConfidence maps a config string to a Confidence; ok is false for
// unknown values.
func ParseConfidence(s string) (Confidence, bool) {
	switch Confidence(s) {
	case ConfidenceMax, ConfidenceHigh, ConfidenceMedium, ConfidenceLow:
		return Confidence(s), true
	}
	return "", false
}

// SwapperIDMethod records which of the three identification tiers matched.
type SwapperIDMethod string

const (
	IDByFeePayer      SwapperIDMethod = "fee_payer"
	IDBySigner        SwapperIDMethod = "signer"
	IDByOwnerAnalysis SwapperIDMethod = "owner_analysis"
)

// MatchSource records which lookup surfaced the tracked account.
type MatchSource string

const (
	MatchAccountKeys       MatchSource = "accountKeys"
	MatchPostTokenBalances MatchSource = "postTokenBalances"
	MatchInnerInstructions MatchSource = "innerInstructions"
)

// Asset is one side of a swap.
type Asset struct {
	Mint     string `json:"mint"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}

func (a Asset) IsNative() bool { return IsNativeMint(a.Mint) }

// SwapAmounts carries the observed quantities of a classified swap. Native
// amounts are set only when the native side was observed on-chain; they are
// never derived from USD values.
type SwapAmounts struct {
	// BaseAmount is the non-native amount in whole token units.
	BaseAmount float64 `json:"baseAmount"`
	// SwapInputAmount / SwapOutputAmount are the swapper's raw in/out
	// amounts of the two sides when known.
	SwapInputAmount  float64 `json:"swapInputAmount,omitempty"`
	SwapOutputAmount float64 `json:"swapOutputAmount,omitempty"`
	// TotalWalletCost is the gross native cost of a BUY including fees;
	// NetWalletReceived is the net native receipt of a SELL. Zero when the
	// native side was not observed.
	TotalWalletCost   float64 `json:"totalWalletCost,omitempty"`
	NetWalletReceived float64 `json:"netWalletReceived,omitempty"`
	// FeeLamports is the transaction fee as charged on-chain.
	FeeLamports uint64 `json:"feeLamports"`
}

// ParsedSwap is the classifier's primary output: one direction-tagged swap
// from the tracked account's perspective.
type ParsedSwap struct {
	Signature    string          `json:"signature"`
	Timestamp    time.Time       `json:"timestamp"`
	Swapper      string          `json:"swapper"`
	Direction    Direction       `json:"direction"`
	BaseAsset    Asset           `json:"baseAsset"`
	QuoteAsset   Asset           `json:"quoteAsset"`
	Amounts      SwapAmounts     `json:"amounts"`
	Confidence   Confidence      `json:"confidence"`
	Protocol     string          `json:"protocol"`
	IdentifiedBy SwapperIDMethod `json:"swapperIdentificationMethod"`
	MatchedVia   MatchSource     `json:"matchedVia"`
	// Source tags the classification path, e.g. "v2_parser",
	// "v2_parser_split_sell".
	Source string `json:"classificationSource"`
}

// SplitSwapPair is produced when a token-to-token route has no stable native
// intermediate: the trade is recorded as a SELL into native plus a BUY from
// native, sharing signature, timestamp, swapper and protocol.
type SplitSwapPair struct {
	Sell *ParsedSwap `json:"sellRecord"`
	Buy  *ParsedSwap `json:"buyRecord"`
}

// Outcome is the classifier's successful result: exactly one of Swap or
// Pair is set.
type Outcome struct {
	Swap *ParsedSwap
	Pair *SplitSwapPair
}

// Records returns the one or two swaps held by the outcome.
func (o *Outcome) Records() []*ParsedSwap {
	if o.Pair != nil {
		return []*ParsedSwap{o.Pair.Sell, o.Pair.Buy}
	}
	return []*ParsedSwap{o.Swap}
}
