package exchange

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	mexcTickerTTL   = 10 * time.Second
	mexcContractTTL = time.Hour
	mexcDepthLevels = 9
)

// MEXC provides futures market data from MEXC.
type MEXC struct {
	futuresAPIURL  string
	contractAPIURL string
	httpClient     *http.Client

	mu              sync.Mutex
	tickers         map[string]float64
	tickersUpdated  time.Time
	contracts       map[string]mexcContract
	contractsLoaded time.Time
}

type mexcContract struct {
	PriceScale   int
	ContractSize float64
	MaxVol       float64
}

// mexcTickerResponse is the /api/v1/contract/ticker payload.
type mexcTickerResponse struct {
	Success bool `json:"success"`
	Data    []struct {
		Symbol    string  `json:"symbol"`
		LastPrice float64 `json:"lastPrice"`
	} `json:"data"`
}

// mexcDetailResponse is the /api/v1/contract/detail payload.
type mexcDetailResponse struct {
	Success bool `json:"success"`
	Data    []struct {
		Symbol       string  `json:"symbol"`
		PriceScale   int     `json:"priceScale"`
		ContractSize float64 `json:"contractSize"`
		MaxVol       float64 `json:"maxVol"`
	} `json:"data"`
}

// mexcDepthResponse is the /api/v1/contract/depth/{symbol} payload.
// Each level is [price, contracts, orders].
type mexcDepthResponse struct {
	Success bool `json:"success"`
	Data    struct {
		Bids [][]float64 `json:"bids"`
	} `json:"data"`
}

// NewMEXC creates a MEXC client. Empty URLs select the production
// endpoints.
func NewMEXC(futuresAPIURL, contractAPIURL string, timeout time.Duration) *MEXC {
	if futuresAPIURL == "" {
		futuresAPIURL = "https://futures.mexc.com"
	}
	if contractAPIURL == "" {
		contractAPIURL = "https://contract.mexc.com"
	}
	return &MEXC{
		futuresAPIURL:  futuresAPIURL,
		contractAPIURL: contractAPIURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Name returns the venue name.
func (m *MEXC) Name() string { return "MEXC" }

// TradeURL returns the web trading page for a symbol.
func (m *MEXC) TradeURL(symbol string) string {
	return fmt.Sprintf("https://www.mexc.com/ru-RU/futures/%s_USDT?type=linear_swap", symbol)
}

// Symbols returns all USDT-margined contract base symbols.
func (m *MEXC) Symbols(ctx context.Context) ([]string, error) {
	tickers, err := m.allTickers(ctx)
	if err != nil {
		return nil, err
	}
	symbols := make([]string, 0, len(tickers))
	for symbol := range tickers {
		symbols = append(symbols, symbol)
	}
	return symbols, nil
}

// Price returns the last traded price for a base symbol. Prices come
// from a bulk ticker snapshot refreshed at most once per TTL, so
// per-symbol calls are cheap.
func (m *MEXC) Price(ctx context.Context, symbol string) (float64, error) {
	tickers, err := m.allTickers(ctx)
	if err != nil {
		return 0, err
	}
	price, ok := tickers[symbol]
	if !ok || price <= 0 {
		return 0, fmt.Errorf("mexc: no ticker for %s", symbol)
	}
	return price, nil
}

func (m *MEXC) allTickers(ctx context.Context) (map[string]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.tickers != nil && time.Since(m.tickersUpdated) < mexcTickerTTL {
		return m.tickers, nil
	}

	var body mexcTickerResponse
	if err := m.getJSON(ctx, m.futuresAPIURL+"/api/v1/contract/ticker", &body); err != nil {
		if m.tickers != nil {
			// Serve the stale snapshot rather than nothing.
			return m.tickers, nil
		}
		return nil, fmt.Errorf("failed to fetch mexc tickers: %w", err)
	}
	if !body.Success {
		return nil, fmt.Errorf("mexc ticker API returned success=false")
	}

	tickers := make(map[string]float64, len(body.Data))
	for _, t := range body.Data {
		base, ok := strings.CutSuffix(t.Symbol, "_USDT")
		if !ok || t.LastPrice <= 0 {
			continue
		}
		tickers[base] = t.LastPrice
	}
	m.tickers = tickers
	m.tickersUpdated = time.Now()
	return tickers, nil
}

func (m *MEXC) contractInfo(ctx context.Context, symbol string) (mexcContract, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.contracts == nil || time.Since(m.contractsLoaded) > mexcContractTTL {
		var body mexcDetailResponse
		if err := m.getJSON(ctx, m.contractAPIURL+"/api/v1/contract/detail", &body); err != nil {
			return mexcContract{}, fmt.Errorf("failed to fetch mexc contract details: %w", err)
		}
		if !body.Success {
			return mexcContract{}, fmt.Errorf("mexc contract detail API returned success=false")
		}
		contracts := make(map[string]mexcContract, len(body.Data))
		for _, c := range body.Data {
			base, ok := strings.CutSuffix(c.Symbol, "_USDT")
			if !ok {
				continue
			}
			contracts[base] = mexcContract{
				PriceScale:   c.PriceScale,
				ContractSize: c.ContractSize,
				MaxVol:       c.MaxVol,
			}
		}
		m.contracts = contracts
		m.contractsLoaded = time.Now()
	}

	info, ok := m.contracts[symbol]
	if !ok {
		return mexcContract{}, fmt.Errorf("mexc: no contract info for %s", symbol)
	}
	return info, nil
}

// FormatPrice renders a price with the contract's priceScale decimal
// places. Without contract info the price is rendered as-is.
func (m *MEXC) FormatPrice(ctx context.Context, symbol string, price float64) string {
	info, err := m.contractInfo(ctx, symbol)
	if err != nil {
		return strconv.FormatFloat(price, 'f', -1, 64)
	}
	return strconv.FormatFloat(price, 'f', info.PriceScale, 64)
}

// MaxPositionUSDT returns the largest position the contract allows,
// maxVol contracts converted to coins at the current price.
func (m *MEXC) MaxPositionUSDT(ctx context.Context, symbol string) (int, error) {
	info, err := m.contractInfo(ctx, symbol)
	if err != nil {
		return 0, err
	}
	price, err := m.Price(ctx, symbol)
	if err != nil {
		return 0, err
	}
	return int(info.MaxVol * info.ContractSize * price), nil
}

// BidsVolumeUSDT sums the top order book bid levels into USDT,
// converting contract quantities to coins via contractSize.
func (m *MEXC) BidsVolumeUSDT(ctx context.Context, symbol string) (int, error) {
	info, err := m.contractInfo(ctx, symbol)
	if err != nil {
		return 0, err
	}

	var body mexcDepthResponse
	url := fmt.Sprintf("%s/api/v1/contract/depth/%s_USDT", m.contractAPIURL, symbol)
	if err := m.getJSON(ctx, url, &body); err != nil {
		return 0, fmt.Errorf("failed to fetch mexc depth for %s: %w", symbol, err)
	}
	if !body.Success {
		return 0, fmt.Errorf("mexc depth API returned success=false for %s", symbol)
	}

	total := 0.0
	levels := body.Data.Bids
	if len(levels) > mexcDepthLevels {
		levels = levels[:mexcDepthLevels]
	}
	for _, bid := range levels {
		if len(bid) < 2 {
			continue
		}
		price, contracts := bid[0], bid[1]
		total += price * contracts * info.ContractSize
	}
	return int(total), nil
}

func (m *MEXC) getJSON(ctx context.Context, url string, out interface{}) error {
	return getJSON(ctx, m.httpClient, url, out)
}
