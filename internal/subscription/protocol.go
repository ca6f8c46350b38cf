package subscription

import (
	"encoding/json"
	"fmt"

	"github.com/solwatch/swapfeed/internal/domain"
)

// Wire types for the upstream JSON-RPC 2.0 transaction feed. The request
// shape must match the provider exactly; responses are tolerant of extra
// fields.

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int64         `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type txSubscribeFilter struct {
	AccountInclude []string `json:"accountInclude"`
}

type txSubscribeOptions struct {
	Commitment                     string `json:"commitment"`
	Encoding                       string `json:"encoding"`
	TransactionDetails             string `json:"transactionDetails"`
	ShowRewards                    bool   `json:"showRewards"`
	MaxSupportedTransactionVersion int    `json:"maxSupportedTransactionVersion"`
}

// newSubscribeRequest builds a transactionSubscribe request for the given
// address batch.
func newSubscribeRequest(id int64, addresses []string) rpcRequest {
	return rpcRequest{
		JSONRPC: "2.0",
		ID:      id,
		Method:  "transactionSubscribe",
		Params: []interface{}{
			txSubscribeFilter{AccountInclude: addresses},
			txSubscribeOptions{
				Commitment:                     "finalized",
				Encoding:                       "jsonParsed",
				TransactionDetails:             "full",
				ShowRewards:                    false,
				MaxSupportedTransactionVersion: 0,
			},
		},
	}
}

// feedMessage is the envelope of every message from the feed: either a
// subscription ack (Result/ID set) or a notification (Method set).
type feedMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// txNotification mirrors the provider's nested notification payload.
type txNotification struct {
	Subscription int64 `json:"subscription"`
	Result       struct {
		Signature   string `json:"signature"`
		Slot        uint64 `json:"slot"`
		Transaction struct {
			Transaction struct {
				Message   domain.TxMessage `json:"message"`
				BlockTime int64            `json:"blockTime"`
			} `json:"transaction"`
			Meta      *domain.TxMeta `json:"meta"`
			BlockTime int64          `json:"blockTime"`
		} `json:"transaction"`
	} `json:"result"`
}

// parseNotification decodes a transactionNotification into the canonical
// raw-transaction shape.
func parseNotification(params json.RawMessage) (*domain.RawTransaction, error) {
	var n txNotification
	if err := json.Unmarshal(params, &n); err != nil {
		return nil, fmt.Errorf("decode notification: %w", err)
	}

	blockTime := n.Result.Transaction.BlockTime
	if blockTime == 0 {
		blockTime = n.Result.Transaction.Transaction.BlockTime
	}

	return &domain.RawTransaction{
		Signature: n.Result.Signature,
		Slot:      n.Result.Slot,
		BlockTime: blockTime,
		Message:   n.Result.Transaction.Transaction.Message,
		Meta:      n.Result.Transaction.Meta,
	}, nil
}

// BatchAddresses splits the tracked address list into subscription batches
// for providers that cap accountInclude sizes. A non-positive size yields a
// single batch.
func BatchAddresses(addresses []string, size int) [][]string {
	if size <= 0 || len(addresses) <= size {
		return [][]string{addresses}
	}
	var batches [][]string
	for start := 0; start < len(addresses); start += size {
		end := start + size
		if end > len(addresses) {
			end = len(addresses)
		}
		batches = append(batches, addresses[start:end])
	}
	return batches
}
