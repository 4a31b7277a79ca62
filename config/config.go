package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	RPCAddress        string  `toml:"RPCAddress"`
	DataDir           string  `toml:"DataDir"`
	RegistryFile      string  `toml:"RegistryFile"`
	HistoryDatabase   string  `toml:"HistoryDatabase"`
	Environment       string  `toml:"Environment"`
	LogFile           string  `toml:"LogFile"`
	LogMaxSizeMB      int     `toml:"LogMaxSizeMB"`
	OracleMode        string  `toml:"OracleMode"`
	OracleEndpoint    string  `toml:"OracleEndpoint"`
	RequestsPerMinute float64 `toml:"RequestsPerMinute"`
	RequestBurst      int     `toml:"RequestBurst"`

	Engine EngineConfig `toml:"engine"`
}

type EngineConfig struct {
	LiquidationThresholdBps uint64 `toml:"LiquidationThresholdBps"`
	LiquidationBonusBps     uint64 `toml:"LiquidationBonusBps"`
}

const (
	OracleModeManual = "manual"
	OracleModeHTTP   = "http"
)

// Load loads the configuration from the given path, creating a default file
// on first run.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = ":8545"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./stable-data"
	}
	if strings.TrimSpace(cfg.Environment) == "" {
		cfg.Environment = "local"
	}
	if strings.TrimSpace(cfg.OracleMode) == "" {
		cfg.OracleMode = OracleModeManual
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 600
	}
	if cfg.RequestBurst <= 0 {
		cfg.RequestBurst = 20
	}
	if strings.TrimSpace(cfg.HistoryDatabase) == "" {
		cfg.HistoryDatabase = filepath.Join(cfg.DataDir, "history.db")
	}
}

func validate(cfg *Config) error {
	switch cfg.OracleMode {
	case OracleModeManual, OracleModeHTTP:
	default:
		return fmt.Errorf("config: unsupported oracle mode %q", cfg.OracleMode)
	}
	if strings.TrimSpace(cfg.RegistryFile) == "" {
		return fmt.Errorf("config: RegistryFile required")
	}
	return nil
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{
		RPCAddress:        ":8545",
		DataDir:           "./stable-data",
		RegistryFile:      "registry.yaml",
		Environment:       "local",
		OracleMode:        OracleModeManual,
		RequestsPerMinute: 600,
		RequestBurst:      20,
		Engine: EngineConfig{
			LiquidationThresholdBps: 5_000,
			LiquidationBonusBps:     1_000,
		},
	}
	applyDefaults(cfg)
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	buf := new(bytes.Buffer)
	if err := toml.NewEncoder(buf).Encode(cfg); err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}
