package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/ratelimit"
	"go.uber.org/zap"
)

const quoteTimeout = 20 * time.Second

// BirdeyeQuotes implements QuoteProvider against the Birdeye public API.
type BirdeyeQuotes struct {
	baseURL string
	apiKey  string
	client  *http.Client
	limiter ratelimit.Limiter
	logger  *zap.Logger
}

func NewBirdeyeQuotes(baseURL, apiKey string, rps int, logger *zap.Logger) *BirdeyeQuotes {
	if baseURL == "" {
		baseURL = "https://public-api.birdeye.so"
	}
	return &BirdeyeQuotes{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: quoteTimeout},
		limiter: ratelimit.New(rps),
		logger:  logger.Named("quotes"),
	}
}

type priceResponse struct {
	Success bool `json:"success"`
	Data    *struct {
		Value float64 `json:"value"`
	} `json:"data"`
}

func (q *BirdeyeQuotes) CurrentPrice(ctx context.Context, mint string) (float64, error) {
	var decoded priceResponse
	if err := q.get(ctx, "/defi/price", url.Values{"address": {mint}}, &decoded); err != nil {
		return 0, err
	}
	if !decoded.Success || decoded.Data == nil {
		return 0, fmt.Errorf("no price for %s", mint)
	}
	return decoded.Data.Value, nil
}

type historyResponse struct {
	Success bool `json:"success"`
	Data    *struct {
		Items []struct {
			UnixTime int64   `json:"unixTime"`
			Value    float64 `json:"value"`
		} `json:"items"`
	} `json:"data"`
}

// HistoricalPrice returns the closest one-minute candle around the
// transaction timestamp.
func (q *BirdeyeQuotes) HistoricalPrice(ctx context.Context, mint string, at time.Time) (float64, error) {
	params := url.Values{
		"address":      {mint},
		"address_type": {"token"},
		"type":         {"1m"},
		"time_from":    {strconv.FormatInt(at.Add(-time.Minute).Unix(), 10)},
		"time_to":      {strconv.FormatInt(at.Add(time.Minute).Unix(), 10)},
	}

	var decoded historyResponse
	if err := q.get(ctx, "/defi/history_price", params, &decoded); err != nil {
		return 0, err
	}
	if !decoded.Success || decoded.Data == nil || len(decoded.Data.Items) == 0 {
		return 0, fmt.Errorf("no history for %s at %s", mint, at.Format(time.RFC3339))
	}
	return decoded.Data.Items[len(decoded.Data.Items)-1].Value, nil
}

type overviewResponse struct {
	Success bool `json:"success"`
	Data    *struct {
		MarketCap float64 `json:"mc"`
	} `json:"data"`
}

func (q *BirdeyeQuotes) MarketCap(ctx context.Context, mint string) (float64, error) {
	var decoded overviewResponse
	if err := q.get(ctx, "/defi/token_overview", url.Values{"address": {mint}}, &decoded); err != nil {
		return 0, err
	}
	if !decoded.Success || decoded.Data == nil {
		return 0, fmt.Errorf("no overview for %s", mint)
	}
	return decoded.Data.MarketCap, nil
}

func (q *BirdeyeQuotes) get(ctx context.Context, path string, params url.Values, out interface{}) error {
	q.limiter.Take()

	ctx, cancel := context.WithTimeout(ctx, quoteTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, q.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-API-KEY", q.apiKey)
	req.Header.Set("x-chain", "solana")

	resp, err := q.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("quote status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
