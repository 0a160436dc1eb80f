package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/personal/interstitial-ad-coordinator/internal/infrastructure/provider"
	"github.com/personal/interstitial-ad-coordinator/pkg/config"
	mylogger "github.com/personal/interstitial-ad-coordinator/pkg/logger"
)

// provider-simulator plays the remote ad network for an interstitial-api
// running with provider.mode=redis
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := mylogger.New(cfg.LogLevel, cfg.Environment)

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Addr(),
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		ReadTimeout:  time.Duration(cfg.Redis.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.Redis.WriteTimeoutSeconds) * time.Second,
	})
	defer client.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Fatalf("Failed to ping Redis: %v", err)
	}

	sim := cfg.Provider.Simulated
	network := provider.NewSimulatedProvider(provider.SimulatedConfig{
		LoadDelay:       time.Duration(sim.LoadDelayMs) * time.Millisecond,
		DisplayDuration: time.Duration(sim.DisplayDurationMs) * time.Millisecond,
		FillRate:        sim.FillRate,
		ClickRate:       sim.ClickRate,
		Seed:            sim.Seed,
	}, logger)

	gateway := provider.NewGateway(client, network, provider.GatewayConfig{
		CommandChannel: cfg.Provider.CommandChannel,
		EventChannel:   cfg.Provider.EventChannel,
		CommandTimeout: cfg.Provider.CommandTimeout(),
		LoadedKeyTTL:   cfg.Provider.LoadedKeyTTL(),
	}, logger)

	logger.WithFields(mylogger.Fields{
		"fillRate":  sim.FillRate,
		"clickRate": sim.ClickRate,
		"redis":     cfg.Redis.Addr(),
	}).Info("Starting ad network simulator")

	if err := gateway.Run(ctx, nil); err != nil {
		logger.Fatalf("Gateway stopped: %v", err)
	}

	logger.Info("Ad network simulator stopped")
}
