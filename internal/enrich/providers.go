package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/ratelimit"
	"go.uber.org/zap"

	"github.com/solwatch/swapfeed/internal/domain"
)

const providerTimeout = 20 * time.Second

// HeliusProvider resolves token metadata through the getAsset DAS method on
// the same RPC endpoint the rest of the pipeline uses.
type HeliusProvider struct {
	rpcURL  string
	client  *http.Client
	limiter ratelimit.Limiter
	logger  *zap.Logger
}

func NewHeliusProvider(rpcURL string, rps int, logger *zap.Logger) *HeliusProvider {
	return &HeliusProvider{
		rpcURL:  rpcURL,
		client:  &http.Client{Timeout: providerTimeout},
		limiter: ratelimit.New(rps),
		logger:  logger.Named("helius"),
	}
}

type getAssetRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int         `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
}

type getAssetResponse struct {
	Result *struct {
		Content struct {
			Metadata struct {
				Symbol string `json:"symbol"`
				Name   string `json:"name"`
			} `json:"metadata"`
			Links struct {
				Image string `json:"image"`
			} `json:"links"`
		} `json:"content"`
	} `json:"result"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (p *HeliusProvider) TokenMetadata(ctx context.Context, mint string) (*domain.TokenMetadataCacheEntry, error) {
	p.limiter.Take()

	reqBody, err := json.Marshal(getAssetRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "getAsset",
		Params:  map[string]string{"id": mint},
	})
	if err != nil {
		return nil, err
	}

	var decoded getAssetResponse
	if err := p.post(ctx, reqBody, &decoded); err != nil {
		return nil, err
	}
	if decoded.Error != nil {
		return nil, fmt.Errorf("getAsset %d: %s", decoded.Error.Code, decoded.Error.Message)
	}
	if decoded.Result == nil {
		return nil, fmt.Errorf("asset %s not found", mint)
	}

	meta := decoded.Result.Content.Metadata
	return &domain.TokenMetadataCacheEntry{
		Symbol:   meta.Symbol,
		Name:     meta.Name,
		ImageURL: decoded.Result.Content.Links.Image,
		Source:   "primary",
	}, nil
}

func (p *HeliusProvider) post(ctx context.Context, body []byte, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, providerTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.rpcURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("das status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// BirdeyeProvider is the fallback market-data source. It also serves
// creation timestamps, which the DAS API does not expose.
type BirdeyeProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client
	limiter ratelimit.Limiter
	logger  *zap.Logger
}

func NewBirdeyeProvider(baseURL, apiKey string, rps int, logger *zap.Logger) *BirdeyeProvider {
	if baseURL == "" {
		baseURL = "https://public-api.birdeye.so"
	}
	return &BirdeyeProvider{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: providerTimeout},
		limiter: ratelimit.New(rps),
		logger:  logger.Named("birdeye"),
	}
}

type birdeyeOverviewResponse struct {
	Success bool `json:"success"`
	Data    *struct {
		Symbol  string `json:"symbol"`
		Name    string `json:"name"`
		LogoURI string `json:"logoURI"`
	} `json:"data"`
}

func (p *BirdeyeProvider) TokenMetadata(ctx context.Context, mint string) (*domain.TokenMetadataCacheEntry, error) {
	var decoded birdeyeOverviewResponse
	if err := p.get(ctx, "/defi/token_overview?address="+mint, &decoded); err != nil {
		return nil, err
	}
	if !decoded.Success || decoded.Data == nil {
		return nil, fmt.Errorf("no overview for %s", mint)
	}
	return &domain.TokenMetadataCacheEntry{
		Symbol:   decoded.Data.Symbol,
		Name:     decoded.Data.Name,
		ImageURL: decoded.Data.LogoURI,
		Source:   "fallback",
	}, nil
}

type birdeyeCreationResponse struct {
	Success bool `json:"success"`
	Data    *struct {
		BlockUnixTime int64 `json:"blockUnixTime"`
	} `json:"data"`
}

func (p *BirdeyeProvider) TokenCreationTime(ctx context.Context, mint string) (*time.Time, error) {
	var decoded birdeyeCreationResponse
	if err := p.get(ctx, "/defi/token_creation_info?address="+mint, &decoded); err != nil {
		return nil, err
	}
	if !decoded.Success || decoded.Data == nil || decoded.Data.BlockUnixTime <= 0 {
		return nil, nil
	}
	ts := time.Unix(decoded.Data.BlockUnixTime, 0).UTC()
	return &ts, nil
}

func (p *BirdeyeProvider) get(ctx context.Context, path string, out interface{}) error {
	p.limiter.Take()

	ctx, cancel := context.WithTimeout(ctx, providerTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-API-KEY", p.apiKey)
	req.Header.Set("x-chain", "solana")

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("birdeye status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
