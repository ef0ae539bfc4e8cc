// internal/config/config_test.go
package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var validConfigJSON = `{
    "rpc_list": [
        "https://api.mainnet-beta.solana.com",
        "https://rpc.example.org"
    ],
    "relay": {
        "url": "https://mainnet.block-engine.jito.wtf/api/v1/bundles",
        "tip_accounts": ["96gYZGLnJYVFmbjzopPSU6QiEV5fGqZNyN9nmNhvrZU5"],
        "tip_lamports": 10000
    },
    "sniper": {
        "hard_max_blocks": 12
    },
    "storage": {
        "driver": "memory"
    }
}`

var invalidConfigJSON = `{
    "rpc_list": [],
    "relay": {"url": ""}
}`

func setupTestConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0600))
	return configPath
}

func TestLoadConfig(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr bool
		check   func(*testing.T, *Config)
	}{
		{
			name:    "Valid config with defaults",
			content: validConfigJSON,
			check: func(t *testing.T, cfg *Config) {
				assert.Len(t, cfg.RPCList, 2)
				assert.Equal(t, 12, cfg.Sniper.HardMaxBlocks)
				assert.Equal(t, DefaultPollIntervalMs, cfg.Sniper.PollIntervalMs)
				assert.Equal(t, DefaultMaxBundleSize, cfg.Relay.MaxBundleSize)
				assert.Equal(t, uint64(10000), cfg.Relay.TipLamports)
				assert.Equal(t, StorageMemory, cfg.Storage.Driver)
				assert.Equal(t, DefaultChunkDelayMs, cfg.Bundle.ChunkDelayMs)
			},
		},
		{
			name:    "Invalid config - empty required fields",
			content: invalidConfigJSON,
			wantErr: true,
		},
		{
			name:    "Invalid JSON syntax",
			content: "{invalid json",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadConfig(setupTestConfig(t, tt.content))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("LAUNCHGUARD_RPC_LIST", " https://a.example.org , ,https://b.example.org")
	t.Setenv("LAUNCHGUARD_LICENSE", "env-license")

	cfg, err := LoadConfig(setupTestConfig(t, validConfigJSON))
	require.NoError(t, err)

	assert.Equal(t, []string{"https://a.example.org", "https://b.example.org"}, cfg.RPCList)
	assert.Equal(t, "env-license", cfg.License)
}

func validConfig() *Config {
	return &Config{
		RPCList:   []string{"https://test-rpc.com"},
		RPCRateHz: DefaultRPCRateHz,
		Relay: RelayConfig{
			URL:           "https://relay.example.org",
			MaxBundleSize: 5,
			RateHz:        1,
		},
		Bundle: BundleConfig{MaxRetries: 3, ChunkDelayMs: 100},
		Sniper: SniperConfig{
			PollIntervalMs:     200,
			HardMaxBlocks:      10,
			SafetyMarginBlocks: 2,
			SlotDurationMs:     400,
			SignatureLimit:     100,
		},
		Storage: StorageConfig{Driver: StorageMemory},
		HTTP:    HTTPConfig{RateHz: 10, RateBurst: 10},
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "Valid configuration", mutate: func(*Config) {}},
		{name: "Invalid RPC scheme", mutate: func(c *Config) { c.RPCList = []string{"ftp://rpc"} }, wantErr: true},
		{name: "Missing relay", mutate: func(c *Config) { c.Relay.URL = "" }, wantErr: true},
		{name: "Zero bundle size", mutate: func(c *Config) { c.Relay.MaxBundleSize = 0 }, wantErr: true},
		{name: "Zero hard max blocks", mutate: func(c *Config) { c.Sniper.HardMaxBlocks = 0 }, wantErr: true},
		{name: "Postgres without dsn", mutate: func(c *Config) { c.Storage.Driver = StoragePostgres }, wantErr: true},
		{name: "Unknown driver", mutate: func(c *Config) { c.Storage.Driver = "mongo" }, wantErr: true},
		{
			name: "Postgres with dsn",
			mutate: func(c *Config) {
				c.Storage.Driver = StoragePostgres
				c.Storage.PostgresURL = "postgres://u:p@localhost/db"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := validateConfig(cfg)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
