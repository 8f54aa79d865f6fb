// Package config provides configuration management for the presale purchase service.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/presale-coordinator/internal/types"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Chains    ChainsConfig
	Presale   PresaleConfig
	Referral  ReferralConfig
	Recording RecordingConfig
	Watcher   WatcherConfig
	Logging   LoggingConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           string
	Host           string
	RequestsPerSec int
	Burst          int
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// ClickHouseConfig holds ClickHouse configuration
type ClickHouseConfig struct {
	Host     string
	Port     string
	Database string
	User     string
	Password string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// ChainsConfig holds per-network chain configuration
type ChainsConfig struct {
	Enabled []string
	Chains  map[string]ChainConfig
}

// ChainConfig holds configuration for a specific network
type ChainConfig struct {
	Kind            types.ChainKind
	ChainID         int64 // EVM chain id; zero for solana/tron
	RPCPrimary      string
	RPCSecondary    string
	PresaleContract string
	PollInterval    time.Duration

	// Stablecoin token contracts, empty when the token is absent on the chain
	USDTContract string
	USDCContract string
	USDTDecimals int
	USDCDecimals int

	// NativePriceFeed is the Chainlink aggregator for the chain's native
	// currency, EVM networks only
	NativePriceFeed string
}

// PresaleConfig holds sale-stage and pricing policy configuration.
// Allocation tolerances are policy, not constants: stablecoins get a tight
// tolerance, oracle-priced currencies a looser one to absorb feed jitter.
type PresaleConfig struct {
	Stages              []types.Stage
	ActiveStageID       int
	StableTolerance     float64 // fraction of the purchase's USD value, default 0.001
	VolatileTolerance   float64 // fraction of the purchase's USD value, default 0.01
	BalanceRefreshDelay time.Duration
	BalanceCacheTTL     time.Duration
	FallbackPriceUSD    map[types.Currency]float64
}

// ReferralConfig holds the external referral-validation collaborator endpoint
type ReferralConfig struct {
	Endpoint string
	Timeout  time.Duration
}

// RecordingConfig holds the external purchase-recording collaborator endpoint
type RecordingConfig struct {
	Endpoint string
	Timeout  time.Duration
}

// WatcherConfig holds receipt-watcher configuration
type WatcherConfig struct {
	PollInterval time.Duration
	RPCRateLimit float64 // RPC requests per second across pending transactions
	RPCBurst     int
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// Load .env file (optional in production)
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port:           getEnv("SERVER_PORT", "8080"),
			Host:           getEnv("SERVER_HOST", "0.0.0.0"),
			RequestsPerSec: getEnvAsInt("SERVER_RATE_LIMIT_RPS", 10),
			Burst:          getEnvAsInt("SERVER_RATE_LIMIT_BURST", 20),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "presale"),
				User:           getEnv("POSTGRES_USER", "presale"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 50),
			},
			ClickHouse: ClickHouseConfig{
				Host:     getEnv("CLICKHOUSE_HOST", "localhost"),
				Port:     getEnv("CLICKHOUSE_PORT", "9000"),
				Database: getEnv("CLICKHOUSE_DB", "presale"),
				User:     getEnv("CLICKHOUSE_USER", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 50),
			},
		},
		Presale: PresaleConfig{
			Stages:              loadStages(),
			ActiveStageID:       getEnvAsInt("PRESALE_ACTIVE_STAGE", 1),
			StableTolerance:     getEnvAsFloat("PRESALE_STABLE_TOLERANCE", 0.001),
			VolatileTolerance:   getEnvAsFloat("PRESALE_VOLATILE_TOLERANCE", 0.01),
			BalanceRefreshDelay: getEnvAsDuration("PRESALE_BALANCE_REFRESH_DELAY", 2*time.Second),
			BalanceCacheTTL:     getEnvAsDuration("PRESALE_BALANCE_CACHE_TTL", 30*time.Second),
			FallbackPriceUSD:    loadFallbackPrices(),
		},
		Referral: ReferralConfig{
			Endpoint: getEnv("REFERRAL_API_ENDPOINT", ""),
			Timeout:  getEnvAsDuration("REFERRAL_API_TIMEOUT", 10*time.Second),
		},
		Recording: RecordingConfig{
			Endpoint: getEnv("RECORDING_API_ENDPOINT", ""),
			Timeout:  getEnvAsDuration("RECORDING_API_TIMEOUT", 15*time.Second),
		},
		Watcher: WatcherConfig{
			PollInterval: getEnvAsDuration("WATCHER_POLL_INTERVAL", 3*time.Second),
			RPCRateLimit: getEnvAsFloat("WATCHER_RPC_RATE_LIMIT", 10),
			RPCBurst:     getEnvAsInt("WATCHER_RPC_BURST", 5),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	config.Chains = loadChainConfigs()

	return config, nil
}

// loadChainConfigs loads network-specific configurations
func loadChainConfigs() ChainsConfig {
	enabledChains := strings.Split(getEnv("ENABLED_NETWORKS", "ethereum,polygon,base,bsc,solana,tron"), ",")

	chains := make(map[string]ChainConfig)
	for _, chain := range enabledChains {
		chain = strings.TrimSpace(chain)
		if chain == "" {
			continue
		}

		prefix := strings.ToUpper(strings.ReplaceAll(chain, "-", "_"))
		chains[chain] = ChainConfig{
			Kind:            kindForNetwork(types.Network(chain)),
			ChainID:         int64(getEnvAsInt(prefix+"_CHAIN_ID", defaultChainID(types.Network(chain)))),
			RPCPrimary:      getEnv(prefix+"_RPC_PRIMARY", ""),
			RPCSecondary:    getEnv(prefix+"_RPC_SECONDARY", ""),
			PresaleContract: getEnv(prefix+"_PRESALE_CONTRACT", ""),
			PollInterval:    getEnvAsDuration(prefix+"_POLL_INTERVAL", 3*time.Second),
			USDTContract:    getEnv(prefix+"_USDT_CONTRACT", ""),
			USDCContract:    getEnv(prefix+"_USDC_CONTRACT", ""),
			USDTDecimals:    getEnvAsInt(prefix+"_USDT_DECIMALS", 6),
			USDCDecimals:    getEnvAsInt(prefix+"_USDC_DECIMALS", 6),
			NativePriceFeed: getEnv(prefix+"_NATIVE_PRICE_FEED", ""),
		}
	}

	return ChainsConfig{
		Enabled: enabledChains,
		Chains:  chains,
	}
}

// loadStages loads the sale stage table. Stages are configured as
// "id:name:priceUsd:capUsd" triples separated by semicolons.
func loadStages() []types.Stage {
	raw := getEnv("PRESALE_STAGES", "1:Stage 1:0.025:100000;2:Stage 2:0.03:250000;3:Stage 3:0.04:500000")

	var stages []types.Stage
	for _, entry := range strings.Split(raw, ";") {
		parts := strings.Split(strings.TrimSpace(entry), ":")
		if len(parts) != 4 {
			continue
		}
		id, err := strconv.Atoi(parts[0])
		if err != nil {
			continue
		}
		price, err := strconv.ParseFloat(parts[2], 64)
		if err != nil {
			continue
		}
		cap, err := strconv.ParseFloat(parts[3], 64)
		if err != nil {
			continue
		}
		stages = append(stages, types.Stage{ID: id, Name: parts[1], PriceUSD: price, CapUSD: cap})
	}
	return stages
}

// loadFallbackPrices loads the static per-currency USD prices used when
// the oracle is unavailable.
func loadFallbackPrices() map[types.Currency]float64 {
	return map[types.Currency]float64{
		types.CurrencyETH:  getEnvAsFloat("FALLBACK_PRICE_ETH", 3000),
		types.CurrencyBNB:  getEnvAsFloat("FALLBACK_PRICE_BNB", 3000),
		types.CurrencyPOL:  getEnvAsFloat("FALLBACK_PRICE_POL", 3000),
		types.CurrencyGLMR: getEnvAsFloat("FALLBACK_PRICE_GLMR", 3000),
		types.CurrencyDEV:  getEnvAsFloat("FALLBACK_PRICE_DEV", 0.1),
		types.CurrencySOL:  getEnvAsFloat("FALLBACK_PRICE_SOL", 150),
		types.CurrencyTRX:  getEnvAsFloat("FALLBACK_PRICE_TRX", 0.25),
		types.CurrencyUSDT: getEnvAsFloat("FALLBACK_PRICE_USDT", 1.0),
		types.CurrencyUSDC: getEnvAsFloat("FALLBACK_PRICE_USDC", 1.0),
		types.CurrencyDOT:  getEnvAsFloat("FALLBACK_PRICE_DOT", 1.0),
	}
}

func kindForNetwork(network types.Network) types.ChainKind {
	switch network {
	case types.NetworkSolana:
		return types.KindSolana
	case types.NetworkTron:
		return types.KindTron
	default:
		return types.KindEVM
	}
}

func defaultChainID(network types.Network) int {
	switch network {
	case types.NetworkEthereum:
		return 1
	case types.NetworkPolygon:
		return 137
	case types.NetworkPolygonAmoy:
		return 80002
	case types.NetworkBase:
		return 8453
	case types.NetworkBSC:
		return 56
	case types.NetworkBSCTestnet:
		return 97
	case types.NetworkMoonbeam:
		return 1284
	case types.NetworkMoonbase:
		return 1287
	default:
		return 0
	}
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat gets an environment variable as a float with a default value
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
