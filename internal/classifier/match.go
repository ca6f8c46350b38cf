package classifier

import (
	"strconv"

	"github.com/solwatch/swapfeed/internal/domain"
)

// Match is one tracked account found in a transaction, tagged with the
// source that first surfaced it.
type Match struct {
	Account domain.TrackedAccount
	Source  domain.MatchSource
}

// MatchAccounts collects tracked accounts referenced by the transaction from
// three sources, in priority order: top-level accountKeys, owners in
// postTokenBalances, and account references inside innerInstructions
// (numeric indices are resolved against accountKeys). Each account is
// reported once, attributed to the first source that matched it.
func MatchAccounts(tx *domain.RawTransaction, tracked *domain.AccountSet) []Match {
	seen := make(map[string]struct{})
	var matches []Match

	add := func(address string, source domain.MatchSource) {
		if _, dup := seen[address]; dup {
			return
		}
		acct, ok := tracked.Lookup(address)
		if !ok {
			return
		}
		seen[address] = struct{}{}
		matches = append(matches, Match{Account: acct, Source: source})
	}

	for _, key := range tx.Message.AccountKeys {
		add(key.Pubkey, domain.MatchAccountKeys)
	}

	if tx.Meta != nil {
		for _, bal := range tx.Meta.PostTokenBalances {
			if bal.Owner != "" {
				add(bal.Owner, domain.MatchPostTokenBalances)
			}
		}

		for _, set := range tx.Meta.InnerInstructions {
			for _, ins := range set.Instructions {
				for _, ref := range ins.Accounts {
					add(resolveAccountRef(tx, ref), domain.MatchInnerInstructions)
				}
			}
		}
	}

	return matches
}

// resolveAccountRef handles both pubkey strings and numeric indices into
// accountKeys, which some feeds emit for inner instructions.
func resolveAccountRef(tx *domain.RawTransaction, ref string) string {
	if idx, err := strconv.Atoi(ref); err == nil {
		if idx >= 0 && idx < len(tx.Message.AccountKeys) {
			return tx.Message.AccountKeys[idx].Pubkey
		}
		return ""
	}
	return ref
}
