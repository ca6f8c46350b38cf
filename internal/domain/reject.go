package domain

import "fmt"

// RejectReason is the closed set of terminal classifier rejections. A
// rejection is never retried for the same (signature, account) pair.
type RejectReason string

const (
	RejectNoTrackedAccount   RejectReason = "no_tracked_account"
	RejectNoSwapper          RejectReason = "no_swapper"
	RejectAmbiguousDirection RejectReason = "ambiguous_direction"
	RejectNonSwap            RejectReason = "non_swap"
	RejectExcludedTokens     RejectReason = "excluded_tokens"
	RejectFailedTx           RejectReason = "failed_tx"
	RejectMissingMeta        RejectReason = "missing_meta"
	RejectBelowConfidence    RejectReason = "below_confidence_floor"
)

// RejectDebug is a small diagnostic snapshot attached to rejections.
type RejectDebug struct {
	FeePayer    string   `json:"feePayer,omitempty"`
	SignerCount int      `json:"signerCount,omitempty"`
	DeltaMints  []string `json:"deltaMints,omitempty"`
}

// Rejection is a typed, terminal classification error.
type Rejection struct {
	Reason RejectReason
	Debug  RejectDebug
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("classification rejected: %s", r.Reason)
}

// NewRejection builds a rejection with optional debug context.
func NewRejection(reason RejectReason, debug RejectDebug) *Rejection {
	return &Rejection{Reason: reason, Debug: debug}
}

// AsRejection unwraps err into a *Rejection if it is one.
func AsRejection(err error) (*Rejection, bool) {
	r, ok := err.(*Rejection)
	return r, ok
}
