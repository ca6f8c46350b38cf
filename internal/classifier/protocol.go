package classifier

import (
	"encoding/json"
	"math"

	"github.com/solwatch/swapfeed/internal/domain"
)

// Known swap program ids. Unrecognized programs classify fine; they just tag
// the record with an "unknown" protocol.
var knownProtocols = map[string]string{
	"675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8": "raydium_amm_v4",
	"CAMMCzo5YL8w4VFF8KVHrK22GGUsp5VTaW7grrKgrWqK": "raydium_clmm",
	"whirLbMiicVdio4qvUfM5KAg6Ct8VwpYzGff3uctyCc":  "orca_whirlpool",
	"JUP6LkbZbjS1jKKwapdHNy74zcZ3tLUZoi5QNyVTaV4":  "jupiter_v6",
	"6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P":  "pumpfun",
	"pAMMBay6oceH9fJKBRHGP5D4bD4sWpmSwMn52FMfXEA":  "pumpswap",
	"LBUZKhRxPF3XUpBCjp4YzTKgLccjZhTSDM9YuVaPwxo":  "meteora_dlmm",
}

// detectProtocol scans top-level and inner instructions for a known swap
// program id.
func detectProtocol(tx *domain.RawTransaction) string {
	for _, ins := range tx.Message.Instructions {
		if name, ok := knownProtocols[ins.ProgramID]; ok {
			return name
		}
	}
	if tx.Meta != nil {
		for _, set := range tx.Meta.InnerInstructions {
			for _, ins := range set.Instructions {
				if name, ok := knownProtocols[ins.ProgramID]; ok {
					return name
				}
			}
		}
	}
	return "unknown"
}

// systemTransferInfo is the parsed payload of a system-program transfer.
type systemTransferInfo struct {
	Type string `json:"type"`
	Info struct {
		Source      string  `json:"source"`
		Destination string  `json:"destination"`
		Lamports    float64 `json:"lamports"`
	} `json:"info"`
}

// findNativeLeg looks for a stable intermediate native transfer inside the
// inner instructions: a system transfer touching the swapper whose amount is
// above dust. Returns the leg amount in whole SOL, or 0 when none is
// observable. Its presence suppresses the token-to-token split.
func findNativeLeg(tx *domain.RawTransaction, swapper string) float64 {
	if tx.Meta == nil {
		return 0
	}

	var best float64
	for _, set := range tx.Meta.InnerInstructions {
		for _, ins := range set.Instructions {
			if ins.Program != "system" || len(ins.Parsed) == 0 {
				continue
			}
			var parsed systemTransferInfo
			if err := json.Unmarshal(ins.Parsed, &parsed); err != nil {
				continue
			}
			if parsed.Type != "transfer" {
				continue
			}
			if parsed.Info.Source != swapper && parsed.Info.Destination != swapper {
				continue
			}
			sol := parsed.Info.Lamports / lamportsPerSol
			if sol >= nativeDustThreshold && sol > best {
				best = sol
			}
		}
	}

	return math.Abs(best)
}
