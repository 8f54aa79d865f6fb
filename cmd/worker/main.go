// Package main provides the reconciliation worker entry point for the
// presale purchase coordination service.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/presale-coordinator/internal/adapter"
	"github.com/presale-coordinator/internal/config"
	"github.com/presale-coordinator/internal/logging"
	"github.com/presale-coordinator/internal/metrics"
	"github.com/presale-coordinator/internal/storage"
	"github.com/presale-coordinator/internal/types"
	"github.com/presale-coordinator/internal/worker"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logging.InitGlobalLogger(
		logging.ParseLogLevel(cfg.Logging.Level),
		logging.ParseLogFormat(cfg.Logging.Format),
	)
	logger := logging.GetGlobalLogger()

	logger.Info("Connecting to Postgres...")
	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Postgres")
	}
	defer postgres.Close()

	purchaseRepo := storage.NewPurchaseRepository(postgres)

	registry := prometheus.NewRegistry()
	m := metrics.NewMetrics(registry)

	logger.Info("Initializing chain adapters...")
	adapters := buildAdapters(cfg, logger)
	if len(adapters) == 0 {
		logger.Fatal("No chain adapters initialized")
	}

	reconciler, err := worker.NewReconciler(&worker.ReconcilerConfig{
		Adapters:     adapters,
		Store:        purchaseRepo,
		Logger:       logger,
		Metrics:      m,
		PollInterval: cfg.Watcher.PollInterval * 10,
		RPCRateLimit: cfg.Watcher.RPCRateLimit,
		RPCBurst:     cfg.Watcher.RPCBurst,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create reconciler")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := reconciler.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start reconciler")
	}
	logger.Info("Reconciliation worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := reconciler.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Fatal("Reconciler forced to stop")
	}
	logger.Info("Worker exited")
}

// buildAdapters creates one chain adapter per enabled network
func buildAdapters(cfg *config.Config, logger *logging.Logger) map[types.Network]adapter.ChainAdapter {
	adapters := make(map[types.Network]adapter.ChainAdapter)

	for _, name := range cfg.Chains.Enabled {
		chainCfg, ok := cfg.Chains.Chains[name]
		if !ok || chainCfg.RPCPrimary == "" {
			logger.WithField("network", name).Warn("Skipping network: no RPC endpoint configured")
			continue
		}
		network := types.Network(name)

		provider, err := adapter.NewRPCProvider(chainCfg.RPCPrimary, chainCfg.RPCSecondary)
		if err != nil {
			logger.WithError(err).WithField("network", name).Warn("Failed to create provider")
			continue
		}

		var chainAdapter adapter.ChainAdapter
		switch chainCfg.Kind {
		case types.KindSolana:
			chainAdapter, err = adapter.NewSolanaAdapterFromEndpoint(chainCfg.RPCPrimary)
		case types.KindTron:
			chainAdapter, err = adapter.NewTronAdapter(&adapter.TronAdapterConfig{Provider: provider})
		default:
			chainAdapter, err = adapter.NewEVMAdapter(&adapter.EVMAdapterConfig{
				Network:         network,
				ChainID:         chainCfg.ChainID,
				Provider:        provider,
				PresaleContract: chainCfg.PresaleContract,
			})
		}
		if err != nil {
			logger.WithError(err).WithField("network", name).Warn("Failed to create adapter")
			continue
		}

		adapters[network] = chainAdapter
	}

	return adapters
}
