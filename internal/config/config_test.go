package config

import (
	"os"
	"testing"
	"time"

	"github.com/presale-coordinator/internal/types"
)

func TestLoadConfig(t *testing.T) {
	if err := os.Setenv("SERVER_PORT", "9090"); err != nil {
		t.Fatalf("Failed to set SERVER_PORT: %v", err)
	}
	if err := os.Setenv("POSTGRES_HOST", "testhost"); err != nil {
		t.Fatalf("Failed to set POSTGRES_HOST: %v", err)
	}
	if err := os.Setenv("PRESALE_BALANCE_REFRESH_DELAY", "5s"); err != nil {
		t.Fatalf("Failed to set PRESALE_BALANCE_REFRESH_DELAY: %v", err)
	}
	defer func() {
		_ = os.Unsetenv("SERVER_PORT")
		_ = os.Unsetenv("POSTGRES_HOST")
		_ = os.Unsetenv("PRESALE_BALANCE_REFRESH_DELAY")
	}()

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("Server.Port = %v, want %v", cfg.Server.Port, "9090")
	}

	if cfg.Database.Postgres.Host != "testhost" {
		t.Errorf("Database.Postgres.Host = %v, want %v", cfg.Database.Postgres.Host, "testhost")
	}

	if cfg.Presale.BalanceRefreshDelay != 5*time.Second {
		t.Errorf("Presale.BalanceRefreshDelay = %v, want %v", cfg.Presale.BalanceRefreshDelay, 5*time.Second)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Presale.StableTolerance != 0.001 {
		t.Errorf("StableTolerance = %v, want 0.001", cfg.Presale.StableTolerance)
	}
	if cfg.Presale.VolatileTolerance != 0.01 {
		t.Errorf("VolatileTolerance = %v, want 0.01", cfg.Presale.VolatileTolerance)
	}

	if len(cfg.Presale.Stages) != 3 {
		t.Fatalf("expected 3 default stages, got %d", len(cfg.Presale.Stages))
	}
	first := cfg.Presale.Stages[0]
	if first.PriceUSD != 0.025 || first.CapUSD != 100000 {
		t.Errorf("stage 1 = %+v, want price 0.025 cap 100000", first)
	}

	if cfg.Presale.FallbackPriceUSD[types.CurrencySOL] != 150 {
		t.Errorf("SOL fallback = %v, want 150", cfg.Presale.FallbackPriceUSD[types.CurrencySOL])
	}
}

func TestLoadChainConfigs(t *testing.T) {
	if err := os.Setenv("ENABLED_NETWORKS", "ethereum,solana,tron"); err != nil {
		t.Fatalf("Failed to set ENABLED_NETWORKS: %v", err)
	}
	if err := os.Setenv("ETHEREUM_RPC_PRIMARY", "https://eth.example"); err != nil {
		t.Fatalf("Failed to set ETHEREUM_RPC_PRIMARY: %v", err)
	}
	defer func() {
		_ = os.Unsetenv("ENABLED_NETWORKS")
		_ = os.Unsetenv("ETHEREUM_RPC_PRIMARY")
	}()

	chains := loadChainConfigs()

	if len(chains.Enabled) != 3 {
		t.Fatalf("expected 3 enabled networks, got %d", len(chains.Enabled))
	}

	eth := chains.Chains["ethereum"]
	if eth.Kind != types.KindEVM {
		t.Errorf("ethereum kind = %v, want evm", eth.Kind)
	}
	if eth.ChainID != 1 {
		t.Errorf("ethereum chain id = %v, want 1", eth.ChainID)
	}
	if eth.RPCPrimary != "https://eth.example" {
		t.Errorf("ethereum rpc = %v", eth.RPCPrimary)
	}

	if chains.Chains["solana"].Kind != types.KindSolana {
		t.Errorf("solana kind = %v, want solana", chains.Chains["solana"].Kind)
	}
	if chains.Chains["tron"].Kind != types.KindTron {
		t.Errorf("tron kind = %v, want tron", chains.Chains["tron"].Kind)
	}
}

func TestGetEnvAsFloat(t *testing.T) {
	if err := os.Setenv("TEST_FLOAT", "0.5"); err != nil {
		t.Fatalf("Failed to set TEST_FLOAT: %v", err)
	}
	defer func() { _ = os.Unsetenv("TEST_FLOAT") }()

	if got := getEnvAsFloat("TEST_FLOAT", 1.0); got != 0.5 {
		t.Errorf("getEnvAsFloat = %v, want 0.5", got)
	}
	if got := getEnvAsFloat("TEST_FLOAT_MISSING", 1.0); got != 1.0 {
		t.Errorf("getEnvAsFloat default = %v, want 1.0", got)
	}
}
