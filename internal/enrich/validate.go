package enrich

import (
	"strings"
	"unicode"
)

// placeholder symbols emitted by upstream parsers when resolution failed.
var placeholderSymbols = map[string]struct{}{
	"unknown": {},
	"token":   {},
}

// ValidSymbol reports whether a parsed symbol is worth caching: non-empty,
// not a known placeholder, not a shortened address, and free of control
// characters.
func ValidSymbol(symbol string) bool {
	trimmed := strings.TrimSpace(symbol)
	if trimmed == "" || len(trimmed) > 32 {
		return false
	}
	if _, bad := placeholderSymbols[strings.ToLower(trimmed)]; bad {
		return false
	}
	if looksShortened(trimmed) {
		return false
	}
	for _, r := range trimmed {
		if unicode.IsControl(r) {
			return false
		}
	}
	return true
}

// looksShortened detects the xxxx...yyyy form this pipeline itself emits.
func looksShortened(s string) bool {
	return strings.Contains(s, "...")
}

// ShortenAddress renders the placeholder used when every provider failed.
func ShortenAddress(address string) string {
	if len(address) <= 8 {
		return address
	}
	return address[:4] + "..." + address[len(address)-4:]
}
