package classifier

import (
	"github.com/solwatch/swapfeed/internal/domain"
)

// identifySwapper resolves the swapper perspective for a tracked account
// using the three-tier ladder: fee payer, first signer, then owner analysis
// of net token deltas. ok is false when no tier matches.
func identifySwapper(tx *domain.RawTransaction, tracked string) (method domain.SwapperIDMethod, ok bool) {
	if tx.FeePayer() == tracked {
		return domain.IDByFeePayer, true
	}

	if signers := tx.Signers(); len(signers) > 0 && signers[0] == tracked {
		return domain.IDBySigner, true
	}

	if isUniqueSwapOwner(tx, tracked) {
		return domain.IDByOwnerAnalysis, true
	}

	return "", false
}

// isUniqueSwapOwner reports whether the tracked account is the only owner in
// the transaction whose net deltas form a consistent two-asset swap: exactly
// one asset sent and one received after dust and intermediate collapse.
func isUniqueSwapOwner(tx *domain.RawTransaction, tracked string) bool {
	owners := make(map[string]struct{})
	for _, bal := range tx.Meta.PreTokenBalances {
		if bal.Owner != "" {
			owners[bal.Owner] = struct{}{}
		}
	}
	for _, bal := range tx.Meta.PostTokenBalances {
		if bal.Owner != "" {
			owners[bal.Owner] = struct{}{}
		}
	}

	trackedQualifies := false
	qualifying := 0
	for owner := range owners {
		if _, _, ok := splitDirectional(netDeltas(tx, owner)); !ok {
			continue
		}
		qualifying++
		if owner == tracked {
			trackedQualifies = true
		}
	}

	return trackedQualifies && qualifying == 1
}
