package domain

import "time"

// TradeType is the persisted record type. The legacy "both" value is never
// written; split pairs persist two records instead.
type TradeType string

const (
	TradeBuy  TradeType = "buy"
	TradeSell TradeType = "sell"
)

// TokenDescriptor denormalizes one side of the trade for downstream readers.
type TokenDescriptor struct {
	Symbol    string  `bson:"symbol" json:"symbol"`
	Name      string  `bson:"name" json:"name"`
	Address   string  `bson:"address" json:"address"`
	ImageURL  string  `bson:"imageUrl,omitempty" json:"imageUrl,omitempty"`
	MarketCap float64 `bson:"marketCap" json:"marketCap"`
	USDAmount float64 `bson:"usdAmount" json:"usdAmount"`
}

// USDAmounts holds the USD value of each side of the trade.
type USDAmounts struct {
	BuyAmount  float64 `bson:"buyAmount" json:"buyAmount"`
	SellAmount float64 `bson:"sellAmount" json:"sellAmount"`
}

// TokenAmounts holds the whole-unit token quantities of each side.
type TokenAmounts struct {
	BuyAmount  float64 `bson:"buyAmount" json:"buyAmount"`
	SellAmount float64 `bson:"sellAmount" json:"sellAmount"`
}

// TokenPrices holds per-token USD prices. Imputed marks prices estimated
// from the swap ratio rather than quoted by a provider.
type TokenPrices struct {
	BuyPrice  float64 `bson:"buyPrice" json:"buyPrice"`
	SellPrice float64 `bson:"sellPrice" json:"sellPrice"`
	Imputed   bool    `bson:"imputed,omitempty" json:"imputed,omitempty"`
}

// SolAmounts records observed native deltas only. A nil field means no
// native leg was observed on that side; values are never back-computed from
// USD prices.
type SolAmounts struct {
	BuySolAmount  *float64 `bson:"buySolAmount" json:"buySolAmount"`
	SellSolAmount *float64 `bson:"sellSolAmount" json:"sellSolAmount"`
}

// MarketCaps snapshots market cap at trade time for each side.
type MarketCaps struct {
	Buy  float64 `bson:"buy" json:"buy"`
	Sell float64 `bson:"sell" json:"sell"`
}

// TradeTimestamps groups the transaction time and token ages.
type TradeTimestamps struct {
	Tx                  time.Time  `bson:"tx" json:"tx"`
	TokenInCreationAge  *time.Time `bson:"tokenInCreationAge,omitempty" json:"tokenInCreationAge,omitempty"`
	TokenOutCreationAge *time.Time `bson:"tokenOutCreationAge,omitempty" json:"tokenOutCreationAge,omitempty"`
}

// TradeAccount embeds the tracked account the record was written for.
type TradeAccount struct {
	Address    string             `bson:"address" json:"address"`
	Labels     []string           `bson:"labels,omitempty" json:"labels,omitempty"`
	Influencer *InfluencerProfile `bson:"influencer,omitempty" json:"influencer,omitempty"`
}

// StoredTrade is the canonical persisted swap record. At most two records
// exist per signature, distinguished by Type, enforced by a compound unique
// index on (signature, type).
type StoredTrade struct {
	Signature            string          `bson:"signature" json:"signature"`
	Type                 TradeType       `bson:"type" json:"type"`
	ClassificationSource string          `bson:"classificationSource" json:"classificationSource"`
	USDAmounts           USDAmounts      `bson:"usdAmounts" json:"usdAmounts"`
	TokenAmounts         TokenAmounts    `bson:"tokenAmounts" json:"tokenAmounts"`
	TokenPrices          TokenPrices     `bson:"tokenPrices" json:"tokenPrices"`
	SolAmounts           SolAmounts      `bson:"solAmounts" json:"solAmounts"`
	TokenIn              TokenDescriptor `bson:"tokenIn" json:"tokenIn"`
	TokenOut             TokenDescriptor `bson:"tokenOut" json:"tokenOut"`
	Protocol             string          `bson:"protocol" json:"protocol"`
	GasFeeUSD            float64         `bson:"gasFeeUsd" json:"gasFeeUsd"`
	TrackedAccount       TradeAccount    `bson:"trackedAccount" json:"trackedAccount"`
	MarketCap            MarketCaps      `bson:"marketCap" json:"marketCap"`
	HotnessScore         int             `bson:"hotnessScore" json:"hotnessScore"`
	Confidence           Confidence      `bson:"confidence" json:"confidence"`
	Timestamps           TradeTimestamps `bson:"timestamps" json:"timestamps"`
}

// HotnessAggregate is the per-token rolling buyer record behind the timing
// bonus.
type HotnessAggregate struct {
	TokenAddress      string    `bson:"tokenAddress" json:"tokenAddress"`
	FirstBuySignature string    `bson:"firstBuySignature" json:"firstBuySignature"`
	UniqueBuyers      []string  `bson:"uniqueBuyers" json:"uniqueBuyers"`
	CreatedAt         time.Time `bson:"createdAt" json:"createdAt"`
}

// RepeatPurchaseRecord drives the daily-repeat penalty and small-buy
// throttle. DayBucket is the UTC date in YYYY-MM-DD form.
type RepeatPurchaseRecord struct {
	TokenAddress        string    `bson:"tokenAddress" json:"tokenAddress"`
	TrackedAccount      string    `bson:"trackedAccount" json:"trackedAccount"`
	TxnSignature        string    `bson:"txnSignature" json:"txnSignature"`
	USDAmount           float64   `bson:"usdAmount" json:"usdAmount"`
	DayBucket           string    `bson:"utcDayBucket" json:"utcDayBucket"`
	IsDailyLimitReached bool      `bson:"isDailyLimitReached" json:"isDailyLimitReached"`
	CreatedAt           time.Time `bson:"createdAt" json:"createdAt"`
}

// TokenMetadataCacheEntry is the cached resolution result for one mint.
type TokenMetadataCacheEntry struct {
	Address   string    `bson:"address" json:"address"`
	Symbol    string    `bson:"symbol" json:"symbol"`
	Name      string    `bson:"name" json:"name"`
	ImageURL  string    `bson:"imageUrl,omitempty" json:"imageUrl,omitempty"`
	Source    string    `bson:"source" json:"source"` // primary | fallback | negative
	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
}
