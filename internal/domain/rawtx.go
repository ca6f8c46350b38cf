package domain

import (
	"encoding/json"
	"time"
)

// The jsonParsed shapes below mirror what the upstream transaction feed and
// the getParsedTransaction RPC return. Numeric token amounts arrive as
// strings and are converted once, at the classifier boundary.

// AccountKey is one entry of message.accountKeys in jsonParsed encoding.
type AccountKey struct {
	Pubkey   string `json:"pubkey"`
	Signer   bool   `json:"signer"`
	Writable bool   `json:"writable"`
}

// UITokenAmount carries both the raw integer amount and the decimal form.
type UITokenAmount struct {
	Amount   string  `json:"amount"`
	Decimals uint8   `json:"decimals"`
	UIAmount float64 `json:"uiAmount"`
}

// TokenBalance is one pre/post token balance entry.
type TokenBalance struct {
	AccountIndex  int           `json:"accountIndex"`
	Mint          string        `json:"mint"`
	Owner         string        `json:"owner"`
	UITokenAmount UITokenAmount `json:"uiTokenAmount"`
}

// ParsedInstruction is a single (possibly inner) instruction. Accounts may be
// pubkeys or numeric indices into accountKeys depending on the program; the
// classifier resolves both.
type ParsedInstruction struct {
	Program   string          `json:"program,omitempty"`
	ProgramID string          `json:"programId"`
	Accounts  []string        `json:"accounts,omitempty"`
	Parsed    json.RawMessage `json:"parsed,omitempty"`
	Data      string          `json:"data,omitempty"`
}

// InnerInstructionSet groups inner instructions under their outer index.
type InnerInstructionSet struct {
	Index        int                 `json:"index"`
	Instructions []ParsedInstruction `json:"instructions"`
}

// TxMeta is the transaction meta block.
type TxMeta struct {
	Err               interface{}           `json:"err"`
	Fee               uint64                `json:"fee"`
	PreBalances       []uint64              `json:"preBalances"`
	PostBalances      []uint64              `json:"postBalances"`
	PreTokenBalances  []TokenBalance        `json:"preTokenBalances"`
	PostTokenBalances []TokenBalance        `json:"postTokenBalances"`
	InnerInstructions []InnerInstructionSet `json:"innerInstructions"`
}

// TxMessage is the transaction message block.
type TxMessage struct {
	AccountKeys  []AccountKey        `json:"accountKeys"`
	Instructions []ParsedInstruction `json:"instructions"`
}

// RawTransaction is the parsed transaction as delivered by the feed or the
// RPC fallback.
type RawTransaction struct {
	Signature string    `json:"signature"`
	BlockTime int64     `json:"blockTime"`
	Slot      uint64    `json:"slot"`
	Message   TxMessage `json:"message"`
	Meta      *TxMeta   `json:"meta"`
}

// Failed reports whether the transaction errored on-chain.
func (t *RawTransaction) Failed() bool {
	return t.Meta == nil || t.Meta.Err != nil
}

// FeePayer is by convention the first account key.
func (t *RawTransaction) FeePayer() string {
	if len(t.Message.AccountKeys) == 0 {
		return ""
	}
	return t.Message.AccountKeys[0].Pubkey
}

// Signers returns the pubkeys flagged as signers, fee payer first.
func (t *RawTransaction) Signers() []string {
	var signers []string
	for _, k := range t.Message.AccountKeys {
		if k.Signer {
			signers = append(signers, k.Pubkey)
		}
	}
	return signers
}

// Timestamp converts blockTime; zero time when the feed omitted it.
func (t *RawTransaction) Timestamp() time.Time {
	if t.BlockTime == 0 {
		return time.Time{}
	}
	return time.Unix(t.BlockTime, 0).UTC()
}

// RawTxNotification is the job payload produced by the subscription manager:
// one matched tracked account plus the raw transaction captured from the
// feed, so workers can usually skip the RPC re-fetch.
type RawTxNotification struct {
	Signature string          `json:"signature"`
	Account   string          `json:"account"`
	Kind      AccountKind     `json:"kind"`
	RawTx     json.RawMessage `json:"rawTx,omitempty"`
}
