package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcusNeufeldt/fundingscope/internal/config"
	"github.com/MarcusNeufeldt/fundingscope/internal/core"
	"github.com/MarcusNeufeldt/fundingscope/internal/feed"
	"github.com/MarcusNeufeldt/fundingscope/internal/server"
	"github.com/MarcusNeufeldt/fundingscope/pkg/concurrency"
	"github.com/MarcusNeufeldt/fundingscope/pkg/logging"
	"github.com/MarcusNeufeldt/fundingscope/pkg/telemetry"
)

var (
	// Version information (set via build flags)
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/fundingscope.yaml", "Path to configuration file")
	port := flag.Int("port", 0, "Server port (overrides config)")
	offline := flag.Bool("offline", false, "Run without the market data feed")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("fundingscope version %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}

	var tel *telemetry.Telemetry
	if cfg.Telemetry.EnableMetrics {
		tel, err = telemetry.Setup("fundingscope", cfg.Telemetry.TraceDebug)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to set up telemetry: %v\n", err)
			os.Exit(1)
		}
	}

	logger, err := logging.NewZapLogger(cfg.System.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	logging.SetGlobalLogger(logger)

	logger.Info("Starting fundingscope",
		"version", version,
		"port", cfg.Server.Port,
		"offline", *offline,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var priceFeed core.PriceFeed
	if !*offline {
		priceFeed = feed.New(feed.Config{
			BaseURL:  cfg.Feed.BaseURL,
			Timeout:  cfg.FeedTimeout(),
			CacheTTL: cfg.FeedCacheTTL(),
		}, logger.WithField("component", "feed"))
	}

	pool := concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:        "ScenarioMatrixPool",
		MaxWorkers:  cfg.Concurrency.MatrixPoolSize,
		MaxCapacity: cfg.Concurrency.MatrixPoolBuffer,
	}, logger)
	defer pool.Stop()

	srv := server.New(cfg.Server, cfg.Calc, priceFeed, pool, logger)

	go func() {
		if err := srv.Start(ctx); err != nil {
			logger.Error("Server error", "error", err)
			cancel()
		}
	}()

	logger.Info("fundingscope is running",
		"api_url", fmt.Sprintf("http://localhost:%d/api/v1/", cfg.Server.Port),
		"websocket_url", fmt.Sprintf("ws://localhost:%d/ws", cfg.Server.Port),
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Server.Port),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	select {
	case <-sigChan:
		logger.Info("Received shutdown signal, gracefully shutting down...")
	case <-ctx.Done():
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Error("Error during server shutdown", "error", err)
	}
	if tel != nil {
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Telemetry shutdown incomplete", "error", err)
		}
	}

	logger.Info("fundingscope stopped")
}

// loadConfig falls back to built-in defaults when the config file is absent,
// so the binary runs out of the box.
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := config.DefaultConfig()
		return cfg, cfg.Validate()
	}
	return config.LoadConfig(path)
}
