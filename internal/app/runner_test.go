package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/launch-guard/internal/config"
)

const runnerConfigJSON = `{
    "rpc_list": ["http://127.0.0.1:1"],
    "relay": {
        "url": "http://127.0.0.1:1/api/v1/bundles",
        "tip_accounts": ["96gYZGLnJYVFmbjzopPSU6QiEV5fGqZNyN9nmNhvrZU5"]
    },
    "http": {"listen": "127.0.0.1:0", "shutdown_timeout_ms": 2000},
    "storage": {"driver": "memory"}
}`

func loadRunnerConfig(t *testing.T) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(runnerConfigJSON), 0600))
	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)
	return cfg
}

func TestRunner_StartsAndStops(t *testing.T) {
	r := NewRunner(loadRunnerConfig(t), zaptest.NewLogger(t))
	require.NoError(t, r.Initialize(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not stop")
	}
	assert.Zero(t, r.monitors.Active())
}

func TestRunner_WritesAuditFile(t *testing.T) {
	cfg := loadRunnerConfig(t)
	cfg.Log.AuditFile = filepath.Join(t.TempDir(), "audit.csv")

	r := NewRunner(cfg, zaptest.NewLogger(t))
	require.NoError(t, r.Initialize(context.Background()))
	require.NoError(t, r.Shutdown(context.Background()))

	data, err := os.ReadFile(cfg.Log.AuditFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "timestamp,event,token")
}

func TestRunner_MissingWalletsFile(t *testing.T) {
	cfg := loadRunnerConfig(t)
	cfg.WalletsFile = filepath.Join(t.TempDir(), "missing.yaml")

	r := NewRunner(cfg, zaptest.NewLogger(t))
	err := r.Initialize(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wallets file")
	assert.NoError(t, r.Shutdown(context.Background()))
}

func TestRunner_RejectsShortLicense(t *testing.T) {
	cfg := loadRunnerConfig(t)
	cfg.License = "abc"

	r := NewRunner(cfg, zaptest.NewLogger(t))
	assert.ErrorContains(t, r.Initialize(context.Background()), "license validation failed")
}
