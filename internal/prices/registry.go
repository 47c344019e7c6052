package prices

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/leafsii/leafsii-lending/internal/ledger"
)

// Feed maps a ledger asset to a provider symbol.
type Feed struct {
	Asset    ledger.Address
	Symbol   string
	Decimals int32
	// Fallback is used until the first observation arrives.
	Fallback decimal.NullDecimal
}

// Registry holds the configured feeds.
type Registry struct {
	feeds    map[ledger.Address]Feed
	bySymbol map[string][]ledger.Address
}

func NewRegistry() *Registry {
	return &Registry{
		feeds:    make(map[ledger.Address]Feed),
		bySymbol: make(map[string][]ledger.Address),
	}
}

// AddFeed registers f. Several assets may share a symbol.
func (r *Registry) AddFeed(f Feed) error {
	if !f.Asset.Valid() {
		return fmt.Errorf("feed: empty asset")
	}
	if _, exists := r.feeds[f.Asset]; exists {
		return fmt.Errorf("feed for %s already registered", f.Asset)
	}
	if f.Decimals < 0 || f.Decimals > 18 {
		return fmt.Errorf("feed %s: decimals %d outside 0..18", f.Asset, f.Decimals)
	}
	f.Symbol = strings.ToUpper(strings.TrimSpace(f.Symbol))
	r.feeds[f.Asset] = f
	if f.Symbol != "" {
		r.bySymbol[f.Symbol] = append(r.bySymbol[f.Symbol], f.Asset)
	}
	return nil
}

// Feed returns the feed for asset.
func (r *Registry) Feed(asset ledger.Address) (Feed, bool) {
	f, ok := r.feeds[asset]
	return f, ok
}

// Assets returns the assets quoted by symbol.
func (r *Registry) Assets(symbol string) []ledger.Address {
	return r.bySymbol[strings.ToUpper(symbol)]
}

// Symbols returns the unique provider symbols to subscribe to, sorted.
func (r *Registry) Symbols() []string {
	symbols := make([]string, 0, len(r.bySymbol))
	for sym := range r.bySymbol {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	return symbols
}

// Feeds returns every feed ordered by asset.
func (r *Registry) Feeds() []Feed {
	out := make([]Feed, 0, len(r.feeds))
	for _, f := range r.feeds {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out
}
