// Package config assembles the core's tunables into one struct tree, one
// nested block per component, mirroring the teacher's own
// Config{Discord, Telegram, TradeMonitor, Markets, ...} shape (§6: "supplied
// as a struct with the following recognized options"). CLI flag parsing is
// out of scope (§1); Load reads environment variables the way the teacher's
// config.Load does: IsProd, venue base URLs, poll/stream settings, and the
// detector, consolidator, cluster and wallet-store thresholds.
package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"

	"whalewatch/internal/cluster"
	"whalewatch/internal/consolidator"
	"whalewatch/internal/detectors"
	"whalewatch/internal/ingest"
	"whalewatch/internal/trade"
	"whalewatch/internal/walletstore"
)

// Config holds every recognized tunable named in spec §6, one nested block
// per core component plus the venue/transport knobs outside any one
// component's scope.
type Config struct {
	IsProd bool `json:"is_prod"`

	Polymarket PolymarketConfig `json:"polymarket"`
	Kalshi     KalshiConfig     `json:"kalshi"`

	Ingest       ingest.Config       `json:"ingest"`
	Detectors    detectors.Config    `json:"detectors"`
	Consolidator consolidator.Config `json:"consolidator"`
	Cluster      cluster.Config      `json:"cluster"`
	Wallets      walletstore.Config  `json:"wallets"`

	// CategoryThreadIDs routes a market's inferred category to the
	// downstream sink's channel/thread id (§6: "the category→thread-id
	// routing map consumed by the sink adapter"). The sink adapter itself
	// is out of scope (§1); the core only carries the map through.
	CategoryThreadIDs map[trade.Category]string `json:"category_thread_ids"`
}

// PolymarketConfig holds the Polymarket venue's base URLs, matching
// clients/polymarketapi.PolymarketApiClient's Gamma/Data split.
type PolymarketConfig struct {
	GammaBaseURL string `json:"gamma_base_url"`
	DataBaseURL  string `json:"data_base_url"`
}

// KalshiConfig holds the Kalshi venue's base URL.
type KalshiConfig struct {
	BaseURL string `json:"base_url"`
}

// Clone returns a deep copy safe to mutate independently of c, matching the
// teacher's Config.Clone contract that LiveConfig.Update relies on.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	if c.CategoryThreadIDs != nil {
		clone.CategoryThreadIDs = make(map[trade.Category]string, len(c.CategoryThreadIDs))
		for k, v := range c.CategoryThreadIDs {
			clone.CategoryThreadIDs[k] = v
		}
	}
	return &clone
}

// ToJSON serializes the config, matching the teacher's ToJSON/ConfigFromJSON
// round-trip used by the (out-of-scope) Gist-backed hot reload.
func (c *Config) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// ConfigFromJSON deserializes JSON into a config, merging with base.
func ConfigFromJSON(data []byte, base *Config) (*Config, error) {
	if base == nil {
		base = Defaults()
	}
	cfg := base.Clone()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Defaults returns the canonical defaults named across spec §4: each
// component's own DefaultConfig/DefaultConfig(), composed.
func Defaults() *Config {
	return &Config{
		IsProd: false,
		Polymarket: PolymarketConfig{
			GammaBaseURL: "https://gamma-api.polymarket.com",
			DataBaseURL:  "https://data-api.polymarket.com",
		},
		Kalshi: KalshiConfig{
			BaseURL: "https://trading-api.kalshi.com/trade-api/v2",
		},
		Ingest:       ingest.DefaultConfig(),
		Detectors:    detectors.DefaultConfig(),
		Consolidator: consolidator.DefaultConfig(),
		Cluster:      cluster.DefaultConfig(),
		Wallets:      walletstore.DefaultConfig(),
		CategoryThreadIDs: map[trade.Category]string{
			trade.CategoryPolitics: "",
			trade.CategoryCrypto:   "",
			trade.CategorySports:   "",
		},
	}
}

// Load builds a config from environment variables layered over Defaults,
// matching the teacher's Load() shape (envString/envBool/... helpers over a
// Defaults() base) for the handful of knobs that plausibly vary per
// deployment without a full settings-store round trip (CLI/env loading
// beyond this is out of scope, §1).
func Load() *Config {
	cfg := Defaults()

	cfg.IsProd = envBool("STAGE", "PROD")

	cfg.Polymarket.GammaBaseURL = envString("POLYMARKET_GAMMA_API_URL", cfg.Polymarket.GammaBaseURL)
	cfg.Polymarket.DataBaseURL = envString("POLYMARKET_DATA_API_URL", cfg.Polymarket.DataBaseURL)
	cfg.Kalshi.BaseURL = envString("KALSHI_API_URL", cfg.Kalshi.BaseURL)

	cfg.Ingest.PollInterval = envDuration("POLL_INTERVAL", cfg.Ingest.PollInterval)
	cfg.Ingest.StreamReconnectBaseDelay = envDuration("WS_RECONNECT_DELAY", cfg.Ingest.StreamReconnectBaseDelay)
	cfg.Ingest.ExcludeSports = envBoolDefault("EXCLUDE_SPORTS", cfg.Ingest.ExcludeSports)

	cfg.Detectors.WhaleThresholdUSD = envFloat("WHALE_THRESHOLD_USD", cfg.Detectors.WhaleThresholdUSD)
	cfg.Detectors.NewWalletThresholdUSD = envFloat("NEW_WALLET_THRESHOLD_USD", cfg.Detectors.NewWalletThresholdUSD)
	cfg.Detectors.FocusedWalletThresholdUSD = envFloat("FOCUSED_WALLET_THRESHOLD_USD", cfg.Detectors.FocusedWalletThresholdUSD)
	cfg.Detectors.StdMultiplier = envFloat("STD_MULTIPLIER", cfg.Detectors.StdMultiplier)
	cfg.Detectors.MinTradesForStats = envInt("MIN_TRADES_FOR_STATS", cfg.Detectors.MinTradesForStats)
	cfg.Detectors.ExitThresholdUSD = envFloat("EXIT_THRESHOLD_USD", cfg.Detectors.ExitThresholdUSD)
	cfg.Detectors.ContrarianProbability = envFloat("CONTRARIAN_THRESHOLD", cfg.Detectors.ContrarianProbability)
	cfg.Detectors.ExtremeConfidenceHigh = envFloat("EXTREME_CONFIDENCE_HIGH", cfg.Detectors.ExtremeConfidenceHigh)
	cfg.Detectors.ExtremeConfidenceLow = envFloat("EXTREME_CONFIDENCE_LOW", cfg.Detectors.ExtremeConfidenceLow)
	cfg.Detectors.VIP.MinVolume = envFloat("VIP_MIN_VOLUME", cfg.Detectors.VIP.MinVolume)
	cfg.Detectors.VIP.MinWinRate = envFloat("VIP_MIN_WIN_RATE", cfg.Detectors.VIP.MinWinRate)
	cfg.Detectors.VIP.MinLargeTrades = envInt("VIP_LARGE_TRADES", cfg.Detectors.VIP.MinLargeTrades)

	cfg.Consolidator.MinAlertThresholdUSD = envFloat("MIN_ALERT_THRESHOLD_USD", cfg.Consolidator.MinAlertThresholdUSD)
	cfg.Consolidator.CryptoMinThresholdUSD = envFloat("CRYPTO_MIN_THRESHOLD_USD", cfg.Consolidator.CryptoMinThresholdUSD)
	cfg.Consolidator.MinTriggersRequired = envInt("MIN_TRIGGERS_REQUIRED", cfg.Consolidator.MinTriggersRequired)

	cfg.Cluster.EntityEdgeThreshold = envFloat("ENTITY_EDGE_THRESHOLD", cfg.Cluster.EntityEdgeThreshold)
	cfg.Cluster.EdgeHalflife = envDuration("EDGE_HALFLIFE", cfg.Cluster.EdgeHalflife)
	cfg.Ingest.ClusterCoordWindow = envDuration("CLUSTER_TIME_WINDOW", cfg.Ingest.ClusterCoordWindow)

	cfg.Wallets.VIP = cfg.Detectors.VIP
	cfg.Wallets.LargeTradeThresholdUSD = envFloat("VIP_LARGE_TRADE_THRESHOLD", cfg.Wallets.LargeTradeThresholdUSD)

	return cfg
}

func envString(key, defaultVal string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

func envBool(key, trueValue string) bool {
	return strings.EqualFold(strings.TrimSpace(os.Getenv(key)), trueValue)
}

func envBoolDefault(key string, defaultVal bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal
	}
	return strings.EqualFold(v, "true") || strings.EqualFold(v, "1") || strings.EqualFold(v, "yes")
}
