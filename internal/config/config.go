// Package config loads the pipeline configuration from an optional config
// file plus environment variables. Env vars win over file values.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/solwatch/swapfeed/internal/domain"
)

// MonitorConfig holds the per-population (whale or KOL) tunables.
type MonitorConfig struct {
	NumWorkers        int           `mapstructure:"num_workers"`
	WorkerConcurrency int           `mapstructure:"worker_concurrency"`
	RateLimitMax      int           `mapstructure:"rate_limit_max"`
	RateLimitWindow   time.Duration `mapstructure:"rate_limit_window"`
}

// Config is the full runtime configuration.
type Config struct {
	HeliusAPIKey string `mapstructure:"helius_api_key"`
	WSSURL       string `mapstructure:"wss_url"`
	RPCURL       string `mapstructure:"rpc_url"`

	MongoURI      string `mapstructure:"mongo_uri"`
	MongoDatabase string `mapstructure:"mongo_database"`
	RedisAddr     string `mapstructure:"redis_addr"`

	// BirdeyeAPIKey authenticates the fallback metadata and price provider.
	BirdeyeAPIKey string `mapstructure:"birdeye_api_key"`
	// ProviderRPS caps requests per second against each external provider.
	ProviderRPS int `mapstructure:"provider_rps"`

	Whale MonitorConfig `mapstructure:"whale"`
	KOL   MonitorConfig `mapstructure:"kol"`

	// MinAlertConfidence is an optional floor; classified trades below it
	// are not persisted. Empty disables the floor.
	MinAlertConfidence string `mapstructure:"min_alert_confidence"`

	QueueWarnDepth int  `mapstructure:"queue_warn_depth"`
	Debug          bool `mapstructure:"debug"`
}

const (
	DefaultNumWorkers      = 1
	DefaultConcurrency     = 8
	DefaultRateLimitMax    = 30
	DefaultRateLimitWindow = 5000 * time.Millisecond
	DefaultQueueWarnDepth  = 500
	DefaultMongoDatabase   = "swapfeed"
	DefaultProviderRPS     = 10
)

// Load reads the config file at path (optional, "" skips the file) and
// applies environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()

	defaults := map[string]interface{}{
		"whale.num_workers":        DefaultNumWorkers,
		"whale.worker_concurrency": DefaultConcurrency,
		"whale.rate_limit_max":     DefaultRateLimitMax,
		"whale.rate_limit_window":  DefaultRateLimitWindow,
		"kol.num_workers":          DefaultNumWorkers,
		"kol.worker_concurrency":   DefaultConcurrency,
		"kol.rate_limit_max":       DefaultRateLimitMax,
		"kol.rate_limit_window":    DefaultRateLimitWindow,
		"queue_warn_depth":         DefaultQueueWarnDepth,
		"redis_addr":               "127.0.0.1:6379",
		"mongo_database":           DefaultMongoDatabase,
		"provider_rps":             DefaultProviderRPS,
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyEnvironment(v, &cfg)

	return &cfg, Validate(&cfg)
}

// applyEnvironment maps the recognized env vars onto the config. The names
// are the operational contract and are kept verbatim.
func applyEnvironment(v *viper.Viper, cfg *Config) {
	v.AutomaticEnv()

	if s := v.GetString("HELIUS_API_KEY"); s != "" {
		cfg.HeliusAPIKey = s
	}
	if s := v.GetString("WSS_URL"); s != "" {
		cfg.WSSURL = s
	}
	if s := v.GetString("RPC_URL"); s != "" {
		cfg.RPCURL = s
	}
	if s := v.GetString("MONGO_URI"); s != "" {
		cfg.MongoURI = s
	}
	if s := v.GetString("MONGO_DATABASE"); s != "" {
		cfg.MongoDatabase = s
	}
	if s := v.GetString("BIRDEYE_API_KEY"); s != "" {
		cfg.BirdeyeAPIKey = s
	}
	if s := v.GetString("REDIS_ADDR"); s != "" {
		cfg.RedisAddr = s
	}
	if s := v.GetString("MIN_ALERT_CONFIDENCE"); s != "" {
		cfg.MinAlertConfidence = s
	}

	if n := v.GetInt("NUM_WORKERS_WHALE"); n > 0 {
		cfg.Whale.NumWorkers = n
	}
	if n := v.GetInt("NUM_WORKERS_KOL"); n > 0 {
		cfg.KOL.NumWorkers = n
	}
	if n := v.GetInt("WORKER_CONCURRENCY_WHALE"); n > 0 {
		cfg.Whale.WorkerConcurrency = n
	}
	if n := v.GetInt("WORKER_CONCURRENCY_KOL"); n > 0 {
		cfg.KOL.WorkerConcurrency = n
	}
	if n := v.GetInt("RATE_LIMIT_MAX_WHALE"); n > 0 {
		cfg.Whale.RateLimitMax = n
	}
	if n := v.GetInt("RATE_LIMIT_MAX_KOL"); n > 0 {
		cfg.KOL.RateLimitMax = n
	}
	if n := v.GetInt("TIME_IN_SECONDS_WHALE"); n > 0 {
		cfg.Whale.RateLimitWindow = time.Duration(n) * time.Millisecond
	}
	if n := v.GetInt("TIME_IN_SECONDS_KOL"); n > 0 {
		cfg.KOL.RateLimitWindow = time.Duration(n) * time.Millisecond
	}
}

// FeedURL assembles the websocket URL with the API-key query parameter.
func (c *Config) FeedURL() string {
	if c.HeliusAPIKey == "" {
		return c.WSSURL
	}
	sep := "?"
	if strings.Contains(c.WSSURL, "?") {
		sep = "&"
	}
	return c.WSSURL + sep + "api-key=" + url.QueryEscape(c.HeliusAPIKey)
}

// ConfidenceFloor parses MinAlertConfidence; ok is false when unset or
// unparseable.
func (c *Config) ConfidenceFloor() (domain.Confidence, bool) {
	if c.MinAlertConfidence == "" {
		return "", false
	}
	return domain.ParseConfidence(strings.ToUpper(c.MinAlertConfidence))
}

// Validate rejects unusable configurations before anything connects.
func Validate(cfg *Config) error {
	if cfg.WSSURL == "" {
		return errors.New("missing wss_url")
	}
	if err := validateScheme(cfg.WSSURL, "ws"); err != nil {
		return fmt.Errorf("wss_url: %w", err)
	}
	if cfg.RPCURL != "" {
		if err := validateScheme(cfg.RPCURL, "http"); err != nil {
			return fmt.Errorf("rpc_url: %w", err)
		}
	}
	if cfg.MongoURI == "" {
		return errors.New("missing mongo_uri")
	}
	if cfg.RedisAddr == "" {
		return errors.New("missing redis_addr")
	}
	if cfg.MinAlertConfidence != "" {
		if _, ok := domain.ParseConfidence(strings.ToUpper(cfg.MinAlertConfidence)); !ok {
			return fmt.Errorf("invalid min_alert_confidence %q", cfg.MinAlertConfidence)
		}
	}
	for name, mc := range map[string]MonitorConfig{"whale": cfg.Whale, "kol": cfg.KOL} {
		if mc.NumWorkers <= 0 {
			return fmt.Errorf("%s: invalid num_workers", name)
		}
		if mc.WorkerConcurrency <= 0 {
			return fmt.Errorf("%s: invalid worker_concurrency", name)
		}
		if mc.RateLimitMax <= 0 {
			return fmt.Errorf("%s: invalid rate_limit_max", name)
		}
		if mc.RateLimitWindow <= 0 {
			return fmt.Errorf("%s: invalid rate_limit_window", name)
		}
	}
	return nil
}

func validateScheme(rawURL, prefix string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return errors.New("invalid URL format")
	}
	if !strings.HasPrefix(parsed.Scheme, prefix) {
		return fmt.Errorf("URL scheme must start with %q", prefix)
	}
	return nil
}
