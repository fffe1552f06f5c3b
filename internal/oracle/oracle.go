// Package oracle supplies spot prices for the vault's underlying.
//
// Two sources are provided: Fixed, a static source for tests and local
// development, and Bybit, which reads the public V5 spot ticker endpoint.
// Prices are returned in the asset's smallest unit; exchange decimal
// strings are converted exactly, never through float64.
package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrNoPrice is returned when a source has no price for the symbol.
	ErrNoPrice = errors.New("oracle: no price for symbol")

	// ErrBadPrice is returned when the exchange reports a price that
	// cannot be represented in smallest units.
	ErrBadPrice = errors.New("oracle: unrepresentable price")
)

// PriceData is one observed spot price.
type PriceData struct {
	Symbol    string    `json:"symbol"`
	Price     int64     `json:"price"` // smallest units
	UpdatedAt time.Time `json:"updated_at"`
}

// Fixed is a static price source.
type Fixed struct {
	mu     sync.RWMutex
	prices map[string]int64
}

// NewFixed creates a fixed source from a symbol to price map.
func NewFixed(prices map[string]int64) *Fixed {
	cp := make(map[string]int64, len(prices))
	for k, v := range prices {
		cp[k] = v
	}
	return &Fixed{prices: cp}
}

// SpotPrice returns the configured price for the symbol.
func (f *Fixed) SpotPrice(_ context.Context, symbol string) (int64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	p, ok := f.prices[symbol]
	if !ok {
		return 0, ErrNoPrice
	}
	return p, nil
}

// Set updates the price for a symbol.
func (f *Fixed) Set(symbol string, price int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[symbol] = price
}

// maxCachedSymbols bounds the Bybit last-price map. The vault tracks one
// underlying, so the cap only matters if a caller fans out across symbols.
const maxCachedSymbols = 128

// Bybit reads spot prices from the public V5 market tickers endpoint. The
// last good price per symbol is kept and served when a fetch fails, so a
// brief exchange outage does not stall settlement.
type Bybit struct {
	baseURL  string
	client   *http.Client
	decimals int32 // smallest-unit exponent, e.g. 6 for micro-quote units

	mu   sync.Mutex
	last map[string]PriceData
}

// NewBybit creates a Bybit source. baseURL is typically
// "https://api.bybit.com"; decimals is the power of ten mapping one quote
// unit to smallest units.
func NewBybit(baseURL string, decimals int32) *Bybit {
	return &Bybit{
		baseURL:  baseURL,
		client:   &http.Client{Timeout: 10 * time.Second},
		decimals: decimals,
		last:     make(map[string]PriceData),
	}
}

type tickersResponse struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		List []struct {
			Symbol    string `json:"symbol"`
			LastPrice string `json:"lastPrice"`
		} `json:"list"`
	} `json:"result"`
}

// SpotPrice fetches the last traded price for the symbol, falling back to
// the cached value when the exchange is unreachable.
func (b *Bybit) SpotPrice(ctx context.Context, symbol string) (int64, error) {
	price, err := b.fetch(ctx, symbol)
	if err != nil {
		if cached, ok := b.cached(symbol); ok {
			return cached.Price, nil
		}
		return 0, err
	}
	b.remember(symbol, price)
	return price, nil
}

func (b *Bybit) fetch(ctx context.Context, symbol string) (int64, error) {
	url := fmt.Sprintf("%s/v5/market/tickers?category=spot&symbol=%s", b.baseURL, symbol)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, err
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("oracle: tickers returned %d", resp.StatusCode)
	}

	var tk tickersResponse
	if err := json.Unmarshal(body, &tk); err != nil {
		return 0, fmt.Errorf("oracle: parse tickers: %w", err)
	}
	if tk.RetCode != 0 {
		return 0, fmt.Errorf("oracle: bybit error %d: %s", tk.RetCode, tk.RetMsg)
	}
	if len(tk.Result.List) == 0 {
		return 0, ErrNoPrice
	}

	return toSmallestUnits(tk.Result.List[0].LastPrice, b.decimals)
}

// toSmallestUnits converts an exchange decimal string to smallest units.
// Sub-unit remainders are rejected rather than rounded: the tick size of a
// listed instrument is expected to fit the configured exponent.
func toSmallestUnits(s string, decimals int32) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("oracle: parse price %q: %w", s, err)
	}
	scaled := d.Shift(decimals)
	if !scaled.IsInteger() {
		return 0, ErrBadPrice
	}
	if !scaled.BigInt().IsInt64() {
		return 0, ErrBadPrice
	}
	v := scaled.IntPart()
	if v <= 0 {
		return 0, ErrBadPrice
	}
	return v, nil
}

func (b *Bybit) cached(symbol string) (PriceData, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.last[symbol]
	return p, ok
}

func (b *Bybit) remember(symbol string, price int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.last[symbol]; !ok && len(b.last) >= maxCachedSymbols {
		return
	}
	b.last[symbol] = PriceData{Symbol: symbol, Price: price, UpdatedAt: time.Now().UTC()}
}

// SetHTTPClient replaces the HTTP client. Intended for tests.
func (b *Bybit) SetHTTPClient(c *http.Client) { b.client = c }
