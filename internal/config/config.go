// =================================
// File: internal/config/config.go
// =================================
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	License     string            `mapstructure:"license"`
	Keygen      KeygenConfig      `mapstructure:"keygen"`
	RPCList     []string          `mapstructure:"rpc_list"`
	RPCRateHz   float64           `mapstructure:"rpc_rate_limit"`
	Relay       RelayConfig       `mapstructure:"relay"`
	Bundle      BundleConfig      `mapstructure:"bundle"`
	Sniper      SniperConfig      `mapstructure:"sniper"`
	Mitigation  MitigationConfig  `mapstructure:"mitigation"`
	Storage     StorageConfig     `mapstructure:"storage"`
	HTTP        HTTPConfig        `mapstructure:"http"`
	Log         LogConfig         `mapstructure:"log"`
	WalletsFile string            `mapstructure:"wallets_file"`
}

type KeygenConfig struct {
	AccountID    string `mapstructure:"account_id"`
	ProductID    string `mapstructure:"product_id"`
	ProductToken string `mapstructure:"product_token"`
}

// Enabled reports whether keygen.sh validation is configured.
func (k KeygenConfig) Enabled() bool {
	return k.AccountID != "" && k.ProductID != "" && k.ProductToken != ""
}

type RelayConfig struct {
	URL           string   `mapstructure:"url"`
	MaxBundleSize int      `mapstructure:"max_bundle_size"`
	RateHz        float64  `mapstructure:"rate_limit"`
	TipAccounts   []string `mapstructure:"tip_accounts"`
	TipLamports   uint64   `mapstructure:"tip_lamports"`
}

type BundleConfig struct {
	MaxRetries       int `mapstructure:"max_retries"`
	ChunkDelayMs     int `mapstructure:"chunk_delay_ms"`
	LandingTimeoutMs int `mapstructure:"landing_timeout_ms"`
	MaxElapsedMs     int `mapstructure:"max_elapsed_ms"`
}

func (b BundleConfig) ChunkDelay() time.Duration {
	return time.Duration(b.ChunkDelayMs) * time.Millisecond
}

func (b BundleConfig) LandingTimeout() time.Duration {
	return time.Duration(b.LandingTimeoutMs) * time.Millisecond
}

func (b BundleConfig) MaxElapsed() time.Duration {
	return time.Duration(b.MaxElapsedMs) * time.Millisecond
}

type SniperConfig struct {
	PollIntervalMs     int `mapstructure:"poll_interval_ms"`
	HardMaxBlocks      int `mapstructure:"hard_max_blocks"`
	SafetyMarginBlocks int `mapstructure:"safety_margin_blocks"`
	SlotDurationMs     int `mapstructure:"slot_duration_ms"`
	// SignatureLimit is the page size of signature history queries.
	SignatureLimit int `mapstructure:"signature_limit"`
}

func (s SniperConfig) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalMs) * time.Millisecond
}

func (s SniperConfig) SlotDuration() time.Duration {
	return time.Duration(s.SlotDurationMs) * time.Millisecond
}

type MitigationConfig struct {
	TimeoutMs         int    `mapstructure:"timeout_ms"`
	ComputeUnits      uint32 `mapstructure:"compute_units"`
	PriorityFeeMicros uint64 `mapstructure:"priority_fee_micro_lamports"`
}

func (m MitigationConfig) Timeout() time.Duration {
	return time.Duration(m.TimeoutMs) * time.Millisecond
}

type StorageConfig struct {
	Driver      string `mapstructure:"driver"`
	PostgresURL string `mapstructure:"postgres_url"`
}

type HTTPConfig struct {
	Listen     string  `mapstructure:"listen"`
	RateHz     float64 `mapstructure:"rate_limit"`
	RateBurst  int     `mapstructure:"rate_burst"`
	ShutdownMs int     `mapstructure:"shutdown_timeout_ms"`
}

func (h HTTPConfig) ShutdownTimeout() time.Duration {
	return time.Duration(h.ShutdownMs) * time.Millisecond
}

type LogConfig struct {
	File        string `mapstructure:"file"`
	MaxSizeMB   int    `mapstructure:"max_size_mb"`
	MaxBackups  int    `mapstructure:"max_backups"`
	MaxAgeDays  int    `mapstructure:"max_age_days"`
	Development bool   `mapstructure:"development"`

	// AuditFile receives one CSV row per lifecycle event. Empty disables it.
	AuditFile string `mapstructure:"audit_file"`
}

const (
	DefaultRPCRateHz          = 50.0
	DefaultMaxBundleSize      = 5
	DefaultRelayRateHz        = 5.0
	DefaultMaxRetries         = 3
	DefaultChunkDelayMs       = 1000
	DefaultLandingTimeoutMs   = 8000
	DefaultMaxElapsedMs       = 10000
	DefaultPollIntervalMs     = 200
	DefaultHardMaxBlocks      = 10
	DefaultSafetyMarginBlocks = 2
	DefaultSlotDurationMs     = 400
	DefaultSignatureLimit     = 100
	DefaultMitigationTimeout  = 30000
	DefaultComputeUnits       = 200_000
	DefaultHTTPListen         = ":8080"
	DefaultHTTPRateHz         = 20.0
	DefaultHTTPRateBurst      = 40
	DefaultShutdownMs         = 15000

	StorageMemory   = "memory"
	StoragePostgres = "postgres"

	envPrefix = "LAUNCHGUARD"
)

func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	for key, value := range defaults() {
		v.SetDefault(key, value)
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := loadEnvironmentVariables(v, &cfg); err != nil {
		return nil, err
	}

	return &cfg, validateConfig(&cfg)
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"rpc_rate_limit":                         DefaultRPCRateHz,
		"relay.max_bundle_size":                  DefaultMaxBundleSize,
		"relay.rate_limit":                       DefaultRelayRateHz,
		"bundle.max_retries":                     DefaultMaxRetries,
		"bundle.chunk_delay_ms":                  DefaultChunkDelayMs,
		"bundle.landing_timeout_ms":              DefaultLandingTimeoutMs,
		"bundle.max_elapsed_ms":                  DefaultMaxElapsedMs,
		"sniper.poll_interval_ms":                DefaultPollIntervalMs,
		"sniper.hard_max_blocks":                 DefaultHardMaxBlocks,
		"sniper.safety_margin_blocks":            DefaultSafetyMarginBlocks,
		"sniper.slot_duration_ms":                DefaultSlotDurationMs,
		"sniper.signature_limit":                 DefaultSignatureLimit,
		"mitigation.timeout_ms":                  DefaultMitigationTimeout,
		"mitigation.compute_units":               DefaultComputeUnits,
		"mitigation.priority_fee_micro_lamports": 0,
		"storage.driver":                         StorageMemory,
		"http.listen":                            DefaultHTTPListen,
		"http.rate_limit":                        DefaultHTTPRateHz,
		"http.rate_burst":                        DefaultHTTPRateBurst,
		"http.shutdown_timeout_ms":               DefaultShutdownMs,
		"log.file":                               "launchguard.log",
		"log.max_size_mb":                        100,
		"log.max_backups":                        3,
		"log.max_age_days":                       7,
	}
}

func validateConfig(cfg *Config) error {
	if len(cfg.RPCList) == 0 {
		return errors.New("rpc_list is empty")
	}
	for _, rpcURL := range cfg.RPCList {
		if err := validateURLWithCache(rpcURL, "http"); err != nil {
			return fmt.Errorf("invalid RPC URL %q: %w", rpcURL, err)
		}
	}
	if cfg.Relay.URL == "" {
		return errors.New("relay.url is required")
	}
	if err := validateURLWithCache(cfg.Relay.URL, "http"); err != nil {
		return fmt.Errorf("invalid relay URL: %w", err)
	}
	if err := validateNumericParams(cfg); err != nil {
		return err
	}
	switch cfg.Storage.Driver {
	case StorageMemory:
	case StoragePostgres:
		if cfg.Storage.PostgresURL == "" {
			return errors.New("storage.postgres_url is required for postgres driver")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
	return nil
}

func validateNumericParams(cfg *Config) error {
	if cfg.Relay.MaxBundleSize <= 0 {
		return errors.New("invalid relay.max_bundle_size")
	}
	if cfg.Bundle.MaxRetries <= 0 {
		return errors.New("invalid bundle.max_retries")
	}
	if cfg.Bundle.ChunkDelayMs < 0 {
		return errors.New("invalid bundle.chunk_delay_ms")
	}
	if cfg.Sniper.PollIntervalMs <= 0 {
		return errors.New("invalid sniper.poll_interval_ms")
	}
	if cfg.Sniper.HardMaxBlocks <= 0 {
		return errors.New("invalid sniper.hard_max_blocks")
	}
	if cfg.Sniper.SafetyMarginBlocks < 0 {
		return errors.New("invalid sniper.safety_margin_blocks")
	}
	if cfg.Sniper.SlotDurationMs <= 0 {
		return errors.New("invalid sniper.slot_duration_ms")
	}
	if cfg.Sniper.SignatureLimit <= 0 || cfg.Sniper.SignatureLimit > 1000 {
		return errors.New("invalid sniper.signature_limit")
	}
	if cfg.RPCRateHz <= 0 || cfg.Relay.RateHz <= 0 || cfg.HTTP.RateHz <= 0 {
		return errors.New("rate limits must be positive")
	}
	return nil
}

var urlCache sync.Map

func validateURLWithCache(rawURL string, protocol string) error {
	if _, ok := urlCache.Load(rawURL); ok {
		return nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return errors.New("invalid URL format")
	}
	if !strings.HasPrefix(parsed.Scheme, protocol) {
		return errors.New("invalid URL protocol")
	}
	urlCache.Store(rawURL, parsed)
	return nil
}

func loadEnvironmentVariables(v *viper.Viper, cfg *Config) error {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if envLicense := v.GetString("LICENSE"); envLicense != "" {
		cfg.License = envLicense
	}
	if envRelay := v.GetString("RELAY_URL"); envRelay != "" {
		cfg.Relay.URL = envRelay
	}
	if envPostgres := v.GetString("POSTGRES_URL"); envPostgres != "" {
		cfg.Storage.PostgresURL = envPostgres
	}

	envRPCList := v.GetString("RPC_LIST")
	if envRPCList != "" {
		var cleanRPCs []string
		for _, rpc := range strings.Split(envRPCList, ",") {
			if clean := strings.TrimSpace(rpc); clean != "" {
				cleanRPCs = append(cleanRPCs, clean)
			}
		}
		if len(cleanRPCs) > 0 {
			cfg.RPCList = cleanRPCs
		}
	}
	return nil
}
