package main

import (
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/pratokko/stable-coin/config"
	"github.com/pratokko/stable-coin/crypto"
	"github.com/pratokko/stable-coin/history"
	"github.com/pratokko/stable-coin/native/bank"
	"github.com/pratokko/stable-coin/native/common"
	"github.com/pratokko/stable-coin/native/stable"
	"github.com/pratokko/stable-coin/observability/logging"
	"github.com/pratokko/stable-coin/rpc"
	"github.com/pratokko/stable-coin/state"
	"github.com/pratokko/stable-coin/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	logger := logging.Setup("stabled", cfg.Environment, logging.FileConfig{
		Path:      cfg.LogFile,
		MaxSizeMB: cfg.LogMaxSizeMB,
	})

	registry, err := config.LoadRegistry(cfg.RegistryFile)
	if err != nil {
		logger.Error("Failed to load collateral registry", slog.Any("error", err))
		os.Exit(1)
	}

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "ledger"))
	if err != nil {
		logger.Error("Failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	manager := state.NewManager(db)
	custody := custodyAddress()
	treasury := bank.New(manager, custody)

	engine, err := stable.NewEngine(registry.Symbols(), registry.Feeds(), custody, stable.Params{
		LiquidationThresholdBps: cfg.Engine.LiquidationThresholdBps,
		LiquidationBonusBps:     cfg.Engine.LiquidationBonusBps,
	})
	if err != nil {
		logger.Error("Failed to construct engine", slog.Any("error", err))
		os.Exit(1)
	}
	engine.SetState(manager)
	engine.SetCapabilities(treasury, treasury)

	pauses := common.NewSwitch()
	engine.SetPauses(pauses)
	engine.SetEmitter(logEmitter{logger: logger})

	oracle, err := buildOracle(cfg, registry)
	if err != nil {
		logger.Error("Failed to configure oracle", slog.Any("error", err))
		os.Exit(1)
	}
	engine.SetOracle(oracle)

	archive, err := openArchive(cfg)
	if err != nil {
		logger.Error("Failed to open history archive", slog.Any("error", err))
		os.Exit(1)
	}

	server := rpc.NewServer(engine, manager, archive, logger, rpc.Options{
		RequestsPerMinute: cfg.RequestsPerMinute,
		Burst:             cfg.RequestBurst,
		Pauses:            pauses,
	})

	logger.Info("stabled ready",
		slog.String("rpc", cfg.RPCAddress),
		slog.Int("assets", len(registry.Assets)),
		slog.String("oracle", cfg.OracleMode),
	)
	if err := server.Start(cfg.RPCAddress); err != nil && err != http.ErrServerClosed {
		logger.Error("RPC server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

// logEmitter writes engine events to the structured log.
type logEmitter struct {
	logger *slog.Logger
}

func (l logEmitter) Emit(event stable.Event) {
	attrs := make([]any, 0, 2*len(event.Attributes)+2)
	attrs = append(attrs, slog.String("event", event.Type))
	for key, value := range event.Attributes {
		attrs = append(attrs, slog.String(key, value))
	}
	l.logger.Info("engine event", attrs...)
}

// custodyAddress derives the engine's internal custody account from a fixed
// domain string so every node agrees on it.
func custodyAddress() crypto.Address {
	digest := ethcrypto.Keccak256([]byte("stable/engine/custody"))
	return crypto.NewAddress(crypto.StablePrefix, digest[12:])
}

func buildOracle(cfg *config.Config, registry *config.Registry) (stable.PriceOracle, error) {
	switch cfg.OracleMode {
	case config.OracleModeHTTP:
		return stable.NewHTTPOracle(nil, cfg.OracleEndpoint), nil
	case config.OracleModeManual:
		oracle := stable.NewManualOracle()
		for _, asset := range registry.Assets {
			if strings.TrimSpace(asset.Price) == "" {
				continue
			}
			if err := oracle.SetDecimal(asset.Feed, asset.Price); err != nil {
				return nil, fmt.Errorf("seed price for %s: %w", asset.Symbol, err)
			}
		}
		return oracle, nil
	default:
		return nil, fmt.Errorf("unsupported oracle mode %q", cfg.OracleMode)
	}
}

func openArchive(cfg *config.Config) (*history.Archive, error) {
	if strings.TrimSpace(cfg.HistoryDatabase) == "" {
		return nil, nil
	}
	if dir := filepath.Dir(cfg.HistoryDatabase); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	db, err := gorm.Open(sqlite.Open(cfg.HistoryDatabase), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	return history.New(db)
}
