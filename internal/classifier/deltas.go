package classifier

import (
	"math"
	"sort"
	"strconv"

	"github.com/solwatch/swapfeed/internal/domain"
)

const (
	// lamportsPerSol converts raw native balances to whole SOL.
	lamportsPerSol = 1e9

	// nativeDustThreshold filters rent refunds and account-creation noise
	// out of native deltas, in whole SOL.
	nativeDustThreshold = 0.002

	// tokenDustThreshold filters rounding noise out of token deltas.
	tokenDustThreshold = 1e-9
)

// AssetDelta is the net balance change of one mint for one owner across the
// transaction. Amount is in whole token units (native deltas in SOL).
type AssetDelta struct {
	Mint     string
	Symbol   string
	Decimals uint8
	Amount   float64
}

// IsNative reports whether the delta tracks the merged native balance.
func (d AssetDelta) IsNative() bool { return domain.IsNativeMint(d.Mint) }

// netDeltas computes the owner's per-mint net changes between pre and post
// token balances, folds the wrapped-native mint and raw lamport movements
// into a single native delta, drops dust, and collapses intermediate assets
// that net to zero (multi-hop routes).
func netDeltas(tx *domain.RawTransaction, owner string) []AssetDelta {
	type mintState struct {
		pre, post float64
		decimals  uint8
	}
	byMint := make(map[string]*mintState)

	get := func(mint string, decimals uint8) *mintState {
		if s, ok := byMint[mint]; ok {
			return s
		}
		s := &mintState{decimals: decimals}
		byMint[mint] = s
		return s
	}

	for _, bal := range tx.Meta.PreTokenBalances {
		if bal.Owner != owner {
			continue
		}
		get(bal.Mint, bal.UITokenAmount.Decimals).pre += tokenUnits(bal.UITokenAmount)
	}
	for _, bal := range tx.Meta.PostTokenBalances {
		if bal.Owner != owner {
			continue
		}
		get(bal.Mint, bal.UITokenAmount.Decimals).post += tokenUnits(bal.UITokenAmount)
	}

	var deltas []AssetDelta
	nativeDelta := rawNativeDelta(tx, owner)

	for mint, s := range byMint {
		d := s.post - s.pre
		if domain.IsNativeMint(mint) {
			// wSOL changes merge into the native delta.
			nativeDelta += d
			continue
		}
		if math.Abs(d) < tokenDustThreshold {
			continue
		}
		deltas = append(deltas, AssetDelta{
			Mint:     mint,
			Decimals: s.decimals,
			Amount:   d,
		})
	}

	if math.Abs(nativeDelta) >= nativeDustThreshold {
		deltas = append(deltas, AssetDelta{
			Mint:     domain.WrappedNativeMint,
			Symbol:   "SOL",
			Decimals: 9,
			Amount:   nativeDelta,
		})
	}

	// Stable output order: largest absolute movement first.
	sort.Slice(deltas, func(i, j int) bool {
		return math.Abs(deltas[i].Amount) > math.Abs(deltas[j].Amount)
	})

	return deltas
}

// rawNativeDelta sums the owner's lamport balance changes across all of its
// account-key slots, in whole SOL.
func rawNativeDelta(tx *domain.RawTransaction, owner string) float64 {
	var delta float64
	for i, key := range tx.Message.AccountKeys {
		if key.Pubkey != owner {
			continue
		}
		if i < len(tx.Meta.PreBalances) && i < len(tx.Meta.PostBalances) {
			delta += (float64(tx.Meta.PostBalances[i]) - float64(tx.Meta.PreBalances[i])) / lamportsPerSol
		}
	}
	return delta
}

// tokenUnits converts a raw amount string to whole token units, preferring
// the raw integer over the pre-rounded uiAmount.
func tokenUnits(a domain.UITokenAmount) float64 {
	if a.Amount != "" {
		if raw, err := strconv.ParseFloat(a.Amount, 64); err == nil {
			return raw / math.Pow10(int(a.Decimals))
		}
	}
	return a.UIAmount
}

// splitDirectional partitions deltas into the sent (negative) and received
// (positive) sides. ok is false unless there is exactly one of each.
func splitDirectional(deltas []AssetDelta) (sent, received AssetDelta, ok bool) {
	var negatives, positives []AssetDelta
	for _, d := range deltas {
		if d.Amount < 0 {
			negatives = append(negatives, d)
		} else {
			positives = append(positives, d)
		}
	}
	if len(negatives) != 1 || len(positives) != 1 {
		return AssetDelta{}, AssetDelta{}, false
	}
	return negatives[0], positives[0], true
}

// deltaMints summarizes delta mints for rejection diagnostics.
func deltaMints(deltas []AssetDelta) []string {
	mints := make([]string, 0, len(deltas))
	for _, d := range deltas {
		mints = append(mints, d.Mint)
	}
	return mints
}
