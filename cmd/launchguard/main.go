// cmd/launchguard/main.go
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/launch-guard/internal/app"
	"github.com/rovshanmuradov/launch-guard/internal/config"
	"github.com/rovshanmuradov/launch-guard/internal/logger"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	envFile := flag.String("env", ".env", "Optional dotenv file with LAUNCHGUARD_* overrides")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !os.IsNotExist(err) {
		log.Printf("failed to load %s: %v", *envFile, err)
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	appLogger := logger.New(cfg.Log)
	defer func() {
		_ = appLogger.Sync()
	}()
	appLogger.Info("Starting launch guard",
		zap.String("config", *configPath),
		zap.Int("rpc_nodes", len(cfg.RPCList)),
		zap.String("storage", cfg.Storage.Driver))

	runner := app.NewRunner(cfg, appLogger.Logger)
	if err := runner.Initialize(rootCtx); err != nil {
		appLogger.Error("Failed to initialize", zap.Error(err))
		_ = runner.Shutdown(context.Background())
		_ = appLogger.Sync()
		os.Exit(1)
	}

	if err := runner.Run(rootCtx); err != nil {
		appLogger.Error("Launch guard stopped with error", zap.Error(err))
		_ = appLogger.Sync()
		os.Exit(1)
	}
	appLogger.Info("Launch guard stopped")
}
