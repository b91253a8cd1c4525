package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fd1az/arbitrage-pipeline/internal/apperror"
)

const validYAML = `
ethereum:
  websocket_url: wss://node.example/ws
  http_url: https://node.example
bundle:
  executor_address: "0x00000000000000000000000000000000000000e1"
market:
  pools:
    - venue: uniswap_v2
      address: "0xB4e16d0168e52d35CaCD2c6185b44281Ec28C9Dc"
      kind: constant-product
      fee: 0.003
      token0: USDC
      token1: WETH
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Search.MaxHops != 3 {
		t.Errorf("MaxHops = %d, want 3", cfg.Search.MaxHops)
	}
	if cfg.Bundle.ValidityWindow != 2*time.Second {
		t.Errorf("ValidityWindow = %v, want 2s", cfg.Bundle.ValidityWindow)
	}
	if cfg.Bundle.DivergenceTolerance != 0.05 {
		t.Errorf("DivergenceTolerance = %v", cfg.Bundle.DivergenceTolerance)
	}
	if len(cfg.Relay.Endpoints) != 1 || cfg.Relay.Endpoints[0].Name != "flashbots" {
		t.Errorf("Relay.Endpoints = %+v", cfg.Relay.Endpoints)
	}
	if !cfg.Strategy.Enabled["multi-hop"] {
		t.Error("multi-hop should be enabled by default")
	}
	if got := cfg.Market.Pools[0].Fee; got != 0.003 {
		t.Errorf("pool fee = %v", got)
	}
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"conservative multiplier below one", func(c *Config) { c.Profit.ConservativeMultiplier = 0.9 }},
		{"aggressive multiplier below one", func(c *Config) { c.Profit.AggressiveMultiplier = 0.5 }},
		{"no relays", func(c *Config) { c.Relay.Endpoints = nil }},
		{"bad executor", func(c *Config) { c.Bundle.ExecutorAddress = "nope" }},
		{"hop count", func(c *Config) { c.Search.MaxHops = 1 }},
		{"floor above balance", func(c *Config) { c.Risk.BalanceFloor = 20 }},
		{"unknown archive", func(c *Config) { c.Archive.Backend = "s3" }},
		{"redis without addr", func(c *Config) { c.Archive.Backend = "redis" }},
		{"fee bump", func(c *Config) { c.Submission.FeeBump = 1 }},
		{"daily loss pct", func(c *Config) { c.Risk.MaxDailyLossPercent = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, validYAML))
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			tt.mutate(cfg)

			err = cfg.Validate()
			if apperror.GetCode(err) != apperror.CodeConfigurationInvalid {
				t.Errorf("Validate() = %v, want CONFIGURATION_INVALID", err)
			}
		})
	}
}

func TestLoad_MissingPoolsIsFatal(t *testing.T) {
	body := `
ethereum:
  websocket_url: wss://node.example/ws
  http_url: https://node.example
bundle:
  executor_address: "0x00000000000000000000000000000000000000e1"
`
	_, err := Load(writeConfig(t, body))
	if apperror.GetCode(err) != apperror.CodeConfigurationInvalid {
		t.Errorf("Load() = %v, want CONFIGURATION_INVALID", err)
	}
}
