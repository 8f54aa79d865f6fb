// Package main provides the API server entry point for the presale
// purchase coordination service.
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
	"github.com/presale-coordinator/internal/api"
	"github.com/presale-coordinator/internal/circuitbreaker"
	"github.com/presale-coordinator/internal/config"
	"github.com/presale-coordinator/internal/coordinator"
	"github.com/presale-coordinator/internal/logging"
	"github.com/presale-coordinator/internal/metrics"
	"github.com/presale-coordinator/internal/pricing"
	"github.com/presale-coordinator/internal/recording"
	"github.com/presale-coordinator/internal/referral"
	"github.com/presale-coordinator/internal/storage"
	"github.com/presale-coordinator/internal/types"
	"github.com/presale-coordinator/internal/worker"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logLevel := logging.ParseLogLevel(cfg.Logging.Level)
	logFormat := logging.ParseLogFormat(cfg.Logging.Format)
	logging.InitGlobalLogger(logLevel, logFormat)

	logger := logging.GetGlobalLogger()
	logger.WithFields(map[string]interface{}{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
	}).Info("Structured logging initialized")

	// Database connections
	logger.Info("Connecting to databases...")

	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Postgres")
	}
	defer postgres.Close()

	clickhouse, err := storage.NewClickHouseDB(&cfg.Database.ClickHouse)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to ClickHouse")
	}
	defer clickhouse.Close()

	schemaCtx, schemaCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := clickhouse.EnsureSchema(schemaCtx); err != nil {
		schemaCancel()
		logger.WithError(err).Fatal("Failed to ensure ClickHouse schema")
	}
	schemaCancel()

	redis, err := storage.NewRedisCache(&cfg.Database.Redis)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer redis.Close()

	logger.Info("Database connections established")

	registry := prometheus.NewRegistry()
	m := metrics.NewMetrics(registry)
	breakers := circuitbreaker.NewManager(logger)

	// Chain adapters
	logger.Info("Initializing chain adapters...")
	adapters, feeds := buildAdapters(cfg, logger)
	if len(adapters) == 0 {
		logger.Fatal("No chain adapters initialized")
	}

	// Pricing
	resolver, err := pricing.NewResolver(&pricing.ResolverConfig{
		Stages:            cfg.Presale.Stages,
		ActiveStageID:     cfg.Presale.ActiveStageID,
		Oracle:            pricing.NewFeedOracle(feeds, breakers, logger, 0),
		FallbackUSD:       cfg.Presale.FallbackPriceUSD,
		StableTolerance:   cfg.Presale.StableTolerance,
		VolatileTolerance: cfg.Presale.VolatileTolerance,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create price resolver")
	}

	// External collaborators
	referralClient := referral.NewClient(cfg.Referral.Endpoint, cfg.Referral.Timeout, breakers, logger)
	referrals := referral.NewTracker(referralClient, logger)

	recordingClient := recording.NewClient(cfg.Recording.Endpoint, cfg.Recording.Timeout, breakers, logger)
	recorder := recording.NewRecorder(recordingClient, redis, logger)

	// Repositories
	purchaseRepo := storage.NewPurchaseRepository(postgres)
	transitionRepo := storage.NewTransitionRepository(clickhouse)

	// Balance reads are cached; a confirmed purchase refreshes the wallet's
	// entries after the settle delay so served balances reflect spent funds
	balances := adapter.NewBalanceCache(adapters, cfg.Presale.BalanceCacheTTL)

	// Confirmed receipts land on the board, which serves the confirmation
	// payload after the attempt state is dismissed
	confirmations := coordinator.NewBoard()

	// Per-wallet purchase sessions
	sessions := coordinator.NewManager(func(wallet string) (*coordinator.Coordinator, error) {
		return coordinator.NewCoordinator(&coordinator.Config{
			Adapters:    adapters,
			Resolver:    resolver,
			Referral:    referrals,
			Recorder:    recorder,
			Sink:        confirmations,
			Transitions: transitionRepo,
			Purchases:   purchaseRepo,
			Allocation:  purchaseRepo,
			RefreshBalances: func(network types.Network, wallet string) {
				refreshCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				balances.Refresh(refreshCtx, network, wallet)
			},
			RefreshDelay: cfg.Presale.BalanceRefreshDelay,
			Network:      types.NetworkEthereum,
			Logger:       logger,
			Metrics:      m,
		})
	})

	// Receipt watcher keeps unresolved sessions moving
	watcher, err := worker.NewReceiptWatcher(&worker.ReceiptWatcherConfig{
		Adapters:     adapters,
		Sessions:     sessions,
		Logger:       logger,
		Metrics:      m,
		PollInterval: cfg.Watcher.PollInterval,
		RPCRateLimit: cfg.Watcher.RPCRateLimit,
		RPCBurst:     cfg.Watcher.RPCBurst,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create receipt watcher")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := watcher.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start receipt watcher")
	}

	serverConfig := &api.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    15 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		RequestsPerSec:  cfg.Server.RequestsPerSec,
		Burst:           cfg.Server.Burst,
	}

	server := api.NewServer(serverConfig, balances, sessions, resolver, referrals, purchaseRepo, purchaseRepo, confirmations, registry, m, logger)

	go func() {
		if err := server.Start(); err != nil {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	logger.WithFields(map[string]interface{}{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Server started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer shutdownCancel()

	if err := watcher.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Error("Receipt watcher shutdown failed")
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Fatal("Server forced to shutdown")
	}

	logger.Info("Server exited")
}

// buildAdapters creates one chain adapter per enabled network and collects
// the Chainlink feeds EVM adapters expose for the price oracle
func buildAdapters(cfg *config.Config, logger *logging.Logger) (map[types.Network]adapter.ChainAdapter, map[types.Network]pricing.NetworkFeeds) {
	adapters := make(map[types.Network]adapter.ChainAdapter)
	feeds := make(map[types.Network]pricing.NetworkFeeds)

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
			chainAdapter, err = adapter.NewTronAdapter(&adapter.TronAdapterConfig{
				Provider:    provider,
				Stablecoins: stablecoins(chainCfg),
			})
		default:
			var evm *adapter.EVMAdapter
			evm, err = adapter.NewEVMAdapter(&adapter.EVMAdapterConfig{
				Network:         network,
				ChainID:         chainCfg.ChainID,
				Provider:        provider,
				PresaleContract: chainCfg.PresaleContract,
				Stablecoins:     stablecoins(chainCfg),
			})
			if err == nil && chainCfg.NativePriceFeed != "" {
				// the feed is keyed by the chain's native currency
				if native, ok := nativeFeedCurrency(network); ok {
					feeds[network] = pricing.NetworkFeeds{
						Reader: evm,
						Feeds:  map[types.Currency]string{native: chainCfg.NativePriceFeed},
					}
				}
			}
			chainAdapter = evm
		}
		if err != nil {
			logger.WithError(err).WithField("network", name).Warn("Failed to create adapter")
			continue
		}

		adapters[network] = chainAdapter
		logger.WithFields(map[string]interface{}{
			"network": name,
			"rpc":     chainCfg.RPCPrimary,
		}).Info("Chain adapter initialized")
	}

	return adapters, feeds
}

// stablecoins builds the approval-gated token table for one network
func stablecoins(chainCfg config.ChainConfig) map[types.Currency]adapter.StablecoinInfo {
	out := make(map[types.Currency]adapter.StablecoinInfo)
	if chainCfg.USDTContract != "" {
		out[types.CurrencyUSDT] = adapter.StablecoinInfo{Address: chainCfg.USDTContract, Decimals: chainCfg.USDTDecimals}
	}
	if chainCfg.USDCContract != "" {
		out[types.CurrencyUSDC] = adapter.StablecoinInfo{Address: chainCfg.USDCContract, Decimals: chainCfg.USDCDecimals}
	}
	return out
}

func nativeFeedCurrency(network types.Network) (types.Currency, bool) {
	for _, method := range pricing.MethodsForNetwork(network) {
		if method.Type == types.CurrencyNative {
			return method.Symbol, true
		}
	}
	return "", false
}
