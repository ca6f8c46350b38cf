// Package chain is the RPC fallback path: when a worker's job carries no
// cached raw transaction, it re-fetches the parsed transaction over HTTP
// JSON-RPC with per-call timeouts and bounded retries.
package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"

	"github.com/solwatch/swapfeed/internal/domain"
)

const (
	statusTimeout = 10 * time.Second
	fetchTimeout  = 15 * time.Second
	maxElapsed    = 45 * time.Second
)

// Client wraps the chain RPC endpoint.
type Client struct {
	rpcURL     string
	rpcClient  *rpc.Client
	httpClient *http.Client
	logger     *zap.Logger
}

func NewClient(rpcURL string, logger *zap.Logger) *Client {
	return &Client{
		rpcURL:     rpcURL,
		rpcClient:  rpc.New(rpcURL),
		httpClient: &http.Client{Timeout: fetchTimeout},
		logger:     logger.Named("chain"),
	}
}

// SignatureConfirmed checks the signature's status with the 10 s timeout.
// A missing status means the transaction is not (yet) visible.
func (c *Client) SignatureConfirmed(ctx context.Context, signature string) (bool, error) {
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return false, fmt.Errorf("bad signature %q: %w", signature, err)
	}

	ctx, cancel := context.WithTimeout(ctx, statusTimeout)
	defer cancel()

	out, err := c.rpcClient.GetSignatureStatuses(ctx, true, sig)
	if err != nil {
		return false, fmt.Errorf("getSignatureStatuses: %w", err)
	}
	if out == nil || len(out.Value) == 0 || out.Value[0] == nil {
		return false, nil
	}
	status := out.Value[0]
	return status.Err == nil, nil
}

// getTransactionRequest is the jsonParsed getTransaction call. The typed
// solana-go GetTransaction returns binary-encoded messages; the classifier
// consumes the jsonParsed owner/accountKey shapes, so this call goes over
// raw JSON-RPC and decodes straight into the domain types.
type getTransactionRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type getTransactionResponse struct {
	Result *struct {
		Slot        uint64         `json:"slot"`
		BlockTime   int64          `json:"blockTime"`
		Meta        *domain.TxMeta `json:"meta"`
		Transaction struct {
			Message    domain.TxMessage `json:"message"`
			Signatures []string         `json:"signatures"`
		} `json:"transaction"`
	} `json:"result"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// FetchParsedTransaction retrieves the jsonParsed transaction, retrying
// transient failures with exponential backoff up to three attempts.
func (c *Client) FetchParsedTransaction(ctx context.Context, signature string) (*domain.RawTransaction, error) {
	op := func() (*domain.RawTransaction, error) {
		return c.fetchOnce(ctx, signature)
	}

	tx, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(3),
		backoff.WithMaxElapsedTime(maxElapsed),
	)
	if err != nil {
		return nil, fmt.Errorf("fetch transaction %s: %w", signature, err)
	}
	return tx, nil
}

func (c *Client) fetchOnce(ctx context.Context, signature string) (*domain.RawTransaction, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	reqBody, err := json.Marshal(getTransactionRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "getTransaction",
		Params: []interface{}{
			signature,
			map[string]interface{}{
				"encoding":                       "jsonParsed",
				"commitment":                     "finalized",
				"maxSupportedTransactionVersion": 0,
			},
		},
	})
	if err != nil {
		return nil, backoff.Permanent(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(reqBody))
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, fmt.Errorf("rpc status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, backoff.Permanent(fmt.Errorf("rpc status %d", resp.StatusCode))
	}

	var decoded getTransactionResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode getTransaction: %w", err)
	}
	if decoded.Error != nil {
		return nil, backoff.Permanent(fmt.Errorf("rpc error %d: %s", decoded.Error.Code, decoded.Error.Message))
	}
	if decoded.Result == nil {
		// Not found yet at finalized commitment; worth a retry.
		return nil, fmt.Errorf("transaction %s not found", signature)
	}

	return &domain.RawTransaction{
		Signature: signature,
		Slot:      decoded.Result.Slot,
		BlockTime: decoded.Result.BlockTime,
		Message:   decoded.Result.Transaction.Message,
		Meta:      decoded.Result.Meta,
	}, nil
}
