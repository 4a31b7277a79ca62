package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPCAddress != ":8545" {
		t.Fatalf("unexpected rpc address %q", cfg.RPCAddress)
	}
	if cfg.OracleMode != OracleModeManual {
		t.Fatalf("unexpected oracle mode %q", cfg.OracleMode)
	}
	if cfg.Engine.LiquidationThresholdBps != 5_000 || cfg.Engine.LiquidationBonusBps != 1_000 {
		t.Fatalf("unexpected engine defaults %+v", cfg.Engine)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config not persisted: %v", err)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.DataDir != cfg.DataDir {
		t.Fatalf("reload mismatch: %q vs %q", reloaded.DataDir, cfg.DataDir)
	}
}

func TestLoadRejectsBadOracleMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	payload := "RPCAddress = \":8545\"\nRegistryFile = \"registry.yaml\"\nOracleMode = \"chainlink\"\n"
	if err := os.WriteFile(path, []byte(payload), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected rejection of unknown oracle mode")
	}
}

func TestLoadRegistry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.yaml")
	payload := `assets:
  - symbol: weth
    feed: eth-usd
    price: "2000"
  - symbol: WBTC
    feed: btc-usd
`
	if err := os.WriteFile(path, []byte(payload), 0o644); err != nil {
		t.Fatalf("write registry: %v", err)
	}
	registry, err := LoadRegistry(path)
	if err != nil {
		t.Fatalf("load registry: %v", err)
	}
	symbols := registry.Symbols()
	if len(symbols) != 2 || symbols[0] != "WETH" || symbols[1] != "WBTC" {
		t.Fatalf("unexpected symbols %v", symbols)
	}
	feeds := registry.Feeds()
	if feeds[0] != "eth-usd" || feeds[1] != "btc-usd" {
		t.Fatalf("unexpected feeds %v", feeds)
	}
}

func TestLoadRegistryValidation(t *testing.T) {
	dir := t.TempDir()

	empty := filepath.Join(dir, "empty.yaml")
	if err := os.WriteFile(empty, []byte("assets: []\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadRegistry(empty); err == nil {
		t.Fatal("expected rejection of empty registry")
	}

	dup := filepath.Join(dir, "dup.yaml")
	payload := `assets:
  - symbol: WETH
    feed: eth-usd
  - symbol: weth
    feed: other
`
	if err := os.WriteFile(dup, []byte(payload), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadRegistry(dup); err == nil {
		t.Fatal("expected rejection of duplicate symbol")
	}

	missing := filepath.Join(dir, "missing.yaml")
	if err := os.WriteFile(missing, []byte("assets:\n  - symbol: WETH\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadRegistry(missing); err == nil {
		t.Fatal("expected rejection of missing feed")
	}
}
