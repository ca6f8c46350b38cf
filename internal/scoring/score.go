// Package scoring computes the hotness score attached to BUY records. The
// score is a clamped sum of independent component tiers; SELL records and
// split-pair SELL children always score zero.
package scoring

import (
	"strings"

	"github.com/solwatch/swapfeed/internal/domain"
)

const (
	// MaxScore bounds the persisted hotness value.
	MaxScore = 10

	// PromotedTokenBonus is applied post-persist by the tweet path.
	PromotedTokenBonus = 3

	// SmallBuyThresholdUSD gates the daily-repeat small-buy throttle.
	SmallBuyThresholdUSD = 140
)

// tagPoints is the fixed per-label table for the whale path.
var tagPoints = map[string]int{
	"SMART MONEY":       3,
	"HEAVY ACCUMULATOR": 2,
	"EARLY BUYER":       2,
	"SNIPER":            1,
	"DORMANT":           1,
	"COORDINATED":       1,
	"FLIPPER":           0,
}

// Inputs carries everything a score computation needs, pre-fetched by the
// worker so Score itself stays pure.
type Inputs struct {
	Kind        domain.AccountKind
	Labels      []string
	Followers   int
	USDAmount   float64
	MarketCap   float64
	Performance Performance
	// VolumeSpikeRatio is last-15-minute BUY inflow over the 24 h hourly
	// average; zero when unknown.
	VolumeSpikeRatio float64
	IsFirstBuy       bool
	DistinctBuyers   int
	// DailyBuyCount is how many times this account already bought this
	// token today (UTC), excluding the current trade.
	DailyBuyCount int
}

// Score computes the hotness score, clamped to [0, MaxScore].
func Score(in Inputs) int {
	total := 0

	switch in.Kind {
	case domain.KindWhale:
		total += tagBonus(in.Labels)
	case domain.KindKOL:
		total += followerTier(in.Followers)
	}

	total += performanceTier(in.Performance)
	total += sizeTier(in.USDAmount)
	total += marketCapTier(in.MarketCap)
	total += volumeSpikeTier(in.VolumeSpikeRatio, in.Kind)
	total += timingBonus(in)

	if in.DailyBuyCount >= 2 {
		total--
	}

	if total < 0 {
		return 0
	}
	if total > MaxScore {
		return MaxScore
	}
	return total
}

func tagBonus(labels []string) int {
	sum := 0
	for _, label := range labels {
		sum += tagPoints[strings.ToUpper(strings.TrimSpace(label))]
	}
	return sum
}

func followerTier(followers int) int {
	switch {
	case followers >= 100_000:
		return 3
	case followers >= 10_000:
		return 2
	case followers >= 1_000:
		return 1
	}
	return 0
}

func performanceTier(p Performance) int {
	if p.Completed == 0 {
		return 0
	}
	switch {
	case p.WinRate >= 0.60 && p.ROI >= 2.0:
		return 3
	case p.WinRate >= 0.40 || p.ROI >= 1.0:
		return 2
	case p.WinRate >= 0.20 || p.ROI >= 0.5:
		return 1
	case p.WinRate < 0.10 && p.ROI < 0:
		return -1
	}
	return 0
}

func sizeTier(usd float64) int {
	switch {
	case usd > 20_000:
		return 3
	case usd >= 5_000:
		return 2
	case usd >= 1_000:
		return 1
	case usd < 500:
		return -2
	}
	return 0
}

func marketCapTier(mc float64) int {
	if mc <= 0 {
		return 0
	}
	switch {
	case mc < 1_000_000:
		return 3
	case mc < 5_000_000:
		return 2
	case mc < 20_000_000:
		return 1
	}
	return 0
}

// volumeSpikeTier rewards moderate spikes and, on the whale path, penalizes
// extreme ones.
func volumeSpikeTier(ratio float64, kind domain.AccountKind) int {
	if ratio <= 0 {
		return 0
	}
	if kind == domain.KindWhale && ratio > 5 {
		return -1
	}
	switch {
	case ratio >= 3:
		return 2
	case ratio >= 2:
		return 1
	}
	return 0
}

// earlyBuyerCap is the distinct-buyer count below which the +1 bonus still
// applies.
func earlyBuyerCap(kind domain.AccountKind) int {
	if kind == domain.KindKOL {
		return 3
	}
	return 6
}

func timingBonus(in Inputs) int {
	bonus := 0
	if in.IsFirstBuy {
		bonus += 2
	}
	if in.DistinctBuyers < earlyBuyerCap(in.Kind) {
		bonus++
	}
	return bonus
}

// SmallBuyThrottled reports whether a repeat small buy should be suppressed
// from downstream alerting.
func SmallBuyThrottled(usd float64, dailyBuyCount int) bool {
	return dailyBuyCount >= 2 && usd < SmallBuyThresholdUSD
}
