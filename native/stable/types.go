package stable

import (
	"math/big"
	"strings"

	"github.com/pratokko/stable-coin/crypto"
)

// ApprovedAsset pairs a collateral asset symbol with its price feed
// identifier. The registry of approved assets is fixed at engine
// construction and never changes afterwards.
type ApprovedAsset struct {
	Symbol string
	FeedID string
}

// Registry holds the ordered set of approved collateral assets. Order is
// significant: account value sums enumerate assets in registration order.
type Registry struct {
	assets []ApprovedAsset
	feeds  map[string]string
}

// NewRegistry builds the immutable asset registry from parallel symbol and
// feed identifier lists. Mismatched lengths, blank entries and duplicate
// symbols fail construction.
func NewRegistry(symbols, feeds []string) (*Registry, error) {
	if len(symbols) != len(feeds) {
		return nil, ErrMismatchedRegistry
	}
	reg := &Registry{feeds: make(map[string]string, len(symbols))}
	for i := range symbols {
		symbol := normaliseSymbol(symbols[i])
		feed := strings.TrimSpace(feeds[i])
		if symbol == "" || feed == "" {
			return nil, ErrMismatchedRegistry
		}
		if _, exists := reg.feeds[symbol]; exists {
			return nil, ErrMismatchedRegistry
		}
		reg.feeds[symbol] = feed
		reg.assets = append(reg.assets, ApprovedAsset{Symbol: symbol, FeedID: feed})
	}
	return reg, nil
}

// Assets returns a copy of the registered assets in registration order.
func (r *Registry) Assets() []ApprovedAsset {
	if r == nil {
		return nil
	}
	return append([]ApprovedAsset(nil), r.assets...)
}

// Feed resolves the price feed identifier for an asset symbol.
func (r *Registry) Feed(symbol string) (string, bool) {
	if r == nil {
		return "", false
	}
	feed, ok := r.feeds[normaliseSymbol(symbol)]
	return feed, ok
}

// Approved reports whether the symbol names a registered asset.
func (r *Registry) Approved(symbol string) bool {
	_, ok := r.Feed(symbol)
	return ok
}

// Position is a read-only snapshot of a user's deposits and debt, assembled
// on demand from the ledgers for queries and the RPC surface.
type Position struct {
	Address    crypto.Address
	Collateral map[string]*big.Int
	Debt       *big.Int
}

func normaliseSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
