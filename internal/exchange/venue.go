// Package exchange provides USDT-margined futures market data clients
// for MEXC and Gate.io.
package exchange

import "context"

// Venue is a futures exchange serving last-trade prices for base
// symbols (contract names without the _USDT suffix).
type Venue interface {
	Name() string
	Symbols(ctx context.Context) ([]string, error)
	Price(ctx context.Context, symbol string) (float64, error)
	TradeURL(symbol string) string
}
