package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// RegistryAsset pairs an approved collateral symbol with its price feed. The
// optional Price field seeds the manual oracle with a decimal USD quote.
type RegistryAsset struct {
	Symbol string `yaml:"symbol"`
	Feed   string `yaml:"feed"`
	Price  string `yaml:"price,omitempty"`
}

// Registry is the genesis collateral registry read at startup.
type Registry struct {
	Assets []RegistryAsset `yaml:"assets"`
}

// LoadRegistry parses the YAML registry file and validates it.
func LoadRegistry(path string) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("registry: read %s: %w", path, err)
	}
	registry := &Registry{}
	if err := yaml.Unmarshal(raw, registry); err != nil {
		return nil, fmt.Errorf("registry: parse %s: %w", path, err)
	}
	if len(registry.Assets) == 0 {
		return nil, fmt.Errorf("registry: %s lists no assets", path)
	}
	seen := make(map[string]struct{}, len(registry.Assets))
	for i := range registry.Assets {
		asset := &registry.Assets[i]
		asset.Symbol = strings.ToUpper(strings.TrimSpace(asset.Symbol))
		asset.Feed = strings.TrimSpace(asset.Feed)
		if asset.Symbol == "" || asset.Feed == "" {
			return nil, fmt.Errorf("registry: entry %d missing symbol or feed", i)
		}
		if _, dup := seen[asset.Symbol]; dup {
			return nil, fmt.Errorf("registry: duplicate symbol %s", asset.Symbol)
		}
		seen[asset.Symbol] = struct{}{}
	}
	return registry, nil
}

// Symbols returns the approved symbols in file order.
func (r *Registry) Symbols() []string {
	symbols := make([]string, 0, len(r.Assets))
	for _, asset := range r.Assets {
		symbols = append(symbols, asset.Symbol)
	}
	return symbols
}

// Feeds returns the feed identifiers aligned with Symbols.
func (r *Registry) Feeds() []string {
	feeds := make([]string, 0, len(r.Assets))
	for _, asset := range r.Assets {
		feeds = append(feeds, asset.Feed)
	}
	return feeds
}
