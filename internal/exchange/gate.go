package exchange

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Gate provides futures market data from Gate.io.
type Gate struct {
	apiURL     string
	httpClient *http.Client
}

// gateContract is a /api/v4/futures/usdt/contracts entry.
type gateContract struct {
	Name        string `json:"name"`
	LastPrice   string `json:"last_price"`
	InDelisting bool   `json:"in_delisting"`
}

// NewGate creates a Gate.io client. An empty URL selects the
// production endpoint.
func NewGate(apiURL string, timeout time.Duration) *Gate {
	if apiURL == "" {
		apiURL = "https://api.gateio.ws"
	}
	return &Gate{
		apiURL: apiURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Name returns the venue name.
func (g *Gate) Name() string { return "Gate.io" }

// TradeURL returns the web trading page for a symbol.
func (g *Gate) TradeURL(symbol string) string {
	return fmt.Sprintf("https://www.gate.com/ru/futures/USDT/%s_USDT", symbol)
}

// Symbols returns all USDT-margined contract base symbols.
func (g *Gate) Symbols(ctx context.Context) ([]string, error) {
	var contracts []gateContract
	if err := g.getJSON(ctx, g.apiURL+"/api/v4/futures/usdt/contracts", &contracts); err != nil {
		return nil, fmt.Errorf("failed to fetch gate contracts: %w", err)
	}

	symbols := make([]string, 0, len(contracts))
	for _, c := range contracts {
		base, ok := strings.CutSuffix(c.Name, "_USDT")
		if !ok || c.InDelisting {
			continue
		}
		symbols = append(symbols, base)
	}
	return symbols, nil
}

// Price returns the last traded price for a base symbol.
func (g *Gate) Price(ctx context.Context, symbol string) (float64, error) {
	var contract gateContract
	url := fmt.Sprintf("%s/api/v4/futures/usdt/contracts/%s_USDT", g.apiURL, symbol)
	if err := g.getJSON(ctx, url, &contract); err != nil {
		return 0, fmt.Errorf("failed to fetch gate price for %s: %w", symbol, err)
	}

	price, err := strconv.ParseFloat(contract.LastPrice, 64)
	if err != nil || price <= 0 {
		return 0, fmt.Errorf("gate: no usable price for %s", symbol)
	}
	return price, nil
}

func (g *Gate) getJSON(ctx context.Context, url string, out interface{}) error {
	return getJSON(ctx, g.httpClient, url, out)
}
