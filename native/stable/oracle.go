package stable

import (
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"sync"
)

// PriceOracle resolves the USD unit price for a feed identifier, scaled to
// the shared 1e18 fixed point. The latest answer is trusted as-is: the
// engine performs no staleness or deviation checks, which is an explicit
// limitation of this core rather than an omission.
type PriceOracle interface {
	Price(feedID string) (*big.Int, error)
}

// ManualOracle is an in-memory oracle used for tests and manual overrides
// during incident response.
type ManualOracle struct {
	mu     sync.RWMutex
	prices map[string]*big.Int
}

// NewManualOracle constructs an empty manual oracle instance.
func NewManualOracle() *ManualOracle {
	return &ManualOracle{prices: make(map[string]*big.Int)}
}

// Set stores the 1e18-scaled USD unit price for a feed.
func (m *ManualOracle) Set(feedID string, price *big.Int) {
	if m == nil || price == nil {
		return
	}
	key := strings.TrimSpace(feedID)
	if key == "" {
		return
	}
	m.mu.Lock()
	m.prices[key] = new(big.Int).Set(price)
	m.mu.Unlock()
}

// SetDecimal parses a decimal USD price string ("2000.50") and stores it
// scaled to 1e18.
func (m *ManualOracle) SetDecimal(feedID, price string) error {
	if m == nil {
		return fmt.Errorf("manual oracle not configured")
	}
	trimmed := strings.TrimSpace(price)
	if trimmed == "" {
		return fmt.Errorf("manual oracle: price required")
	}
	rat, ok := new(big.Rat).SetString(trimmed)
	if !ok {
		return fmt.Errorf("manual oracle: invalid price %q", price)
	}
	if rat.Sign() <= 0 {
		return fmt.Errorf("manual oracle: price must be positive")
	}
	m.Set(feedID, ratToWei(rat))
	return nil
}

// Price retrieves the stored unit price for the feed.
func (m *ManualOracle) Price(feedID string) (*big.Int, error) {
	if m == nil {
		return nil, fmt.Errorf("manual oracle not configured")
	}
	key := strings.TrimSpace(feedID)
	m.mu.RLock()
	stored, ok := m.prices[key]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("manual oracle: price for feed %q not found", feedID)
	}
	return new(big.Int).Set(stored), nil
}

// HTTPDoer abstracts http.Client for ease of testing.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPOracle adapts a CoinGecko-style simple price endpoint. Feed
// identifiers map directly to upstream asset identifiers.
type HTTPOracle struct {
	client   HTTPDoer
	endpoint string
}

const defaultPriceEndpoint = "https://api.coingecko.com/api/v3/simple/price"

// NewHTTPOracle constructs an HTTP oracle adapter. When client is nil,
// http.DefaultClient is used.
func NewHTTPOracle(client HTTPDoer, endpoint string) *HTTPOracle {
	ep := strings.TrimSpace(endpoint)
	if ep == "" {
		ep = defaultPriceEndpoint
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPOracle{client: client, endpoint: ep}
}

func (o *HTTPOracle) Price(feedID string) (*big.Int, error) {
	if o == nil {
		return nil, fmt.Errorf("http oracle not configured")
	}
	id := strings.ToLower(strings.TrimSpace(feedID))
	if id == "" {
		return nil, fmt.Errorf("http oracle: feed identifier required")
	}
	req, err := http.NewRequest(http.MethodGet, o.endpoint, nil)
	if err != nil {
		return nil, err
	}
	values := url.Values{}
	values.Set("ids", id)
	values.Set("vs_currencies", "usd")
	req.URL.RawQuery = values.Encode()
	resp, err := o.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("http oracle: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	decoder := json.NewDecoder(resp.Body)
	decoder.UseNumber()
	var payload map[string]map[string]json.Number
	if err := decoder.Decode(&payload); err != nil {
		return nil, fmt.Errorf("http oracle: decode: %w", err)
	}
	entry, ok := payload[id]
	if !ok {
		return nil, fmt.Errorf("http oracle: price missing for %s", feedID)
	}
	raw, ok := entry["usd"]
	if !ok {
		return nil, fmt.Errorf("http oracle: usd price missing for %s", feedID)
	}
	rat, ok := new(big.Rat).SetString(raw.String())
	if !ok || rat.Sign() <= 0 {
		return nil, fmt.Errorf("http oracle: invalid price %q", raw.String())
	}
	return ratToWei(rat), nil
}

func ratToWei(r *big.Rat) *big.Int {
	scaled := new(big.Rat).Mul(r, new(big.Rat).SetInt(precision))
	return new(big.Int).Quo(scaled.Num(), scaled.Denom())
}
