package exchange

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync/atomic"
	"testing"
	"time"
)

func mexcServers(t *testing.T, tickerCalls *int32) (*httptest.Server, *httptest.Server) {
	t.Helper()
	futures := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/contract/ticker" {
			http.NotFound(w, r)
			return
		}
		atomic.AddInt32(tickerCalls, 1)
		fmt.Fprint(w, `{"success":true,"data":[
			{"symbol":"BTC_USDT","lastPrice":50000.5},
			{"symbol":"ETH_USDT","lastPrice":3000},
			{"symbol":"BTC_USD","lastPrice":50000}
		]}`)
	}))
	contract := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/contract/detail":
			fmt.Fprint(w, `{"success":true,"data":[
				{"symbol":"BTC_USDT","priceScale":1,"contractSize":0.0001,"maxVol":50000},
				{"symbol":"ETH_USDT","priceScale":2,"contractSize":0.01,"maxVol":20000}
			]}`)
		case "/api/v1/contract/depth/BTC_USDT":
			fmt.Fprint(w, `{"success":true,"data":{"bids":[
				[50000,100,1],[49999,200,2],[49998,300,1]
			]}}`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(futures.Close)
	t.Cleanup(contract.Close)
	return futures, contract
}

func TestMEXC_PriceAndCache(t *testing.T) {
	var calls int32
	futures, contract := mexcServers(t, &calls)
	m := NewMEXC(futures.URL, contract.URL, 5*time.Second)
	ctx := context.Background()

	price, err := m.Price(ctx, "BTC")
	if err != nil {
		t.Fatalf("Price: %v", err)
	}
	if price != 50000.5 {
		t.Errorf("price = %v, want 50000.5", price)
	}

	// Second call inside the TTL hits the cache.
	if _, err := m.Price(ctx, "ETH"); err != nil {
		t.Fatalf("Price: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("ticker endpoint hit %d times, want 1", got)
	}

	if _, err := m.Price(ctx, "NOPE"); err == nil {
		t.Error("expected error for unknown symbol")
	}

	symbols, err := m.Symbols(ctx)
	if err != nil {
		t.Fatalf("Symbols: %v", err)
	}
	sort.Strings(symbols)
	// The non-USDT contract is filtered out.
	if len(symbols) != 2 || symbols[0] != "BTC" || symbols[1] != "ETH" {
		t.Errorf("Symbols = %v, want [BTC ETH]", symbols)
	}
}

func TestMEXC_ContractDerived(t *testing.T) {
	var calls int32
	futures, contract := mexcServers(t, &calls)
	m := NewMEXC(futures.URL, contract.URL, 5*time.Second)
	ctx := context.Background()

	if got := m.FormatPrice(ctx, "BTC", 50000.5); got != "50000.5" {
		t.Errorf("FormatPrice BTC = %q, want 50000.5", got)
	}
	if got := m.FormatPrice(ctx, "ETH", 3000); got != "3000.00" {
		t.Errorf("FormatPrice ETH = %q, want 3000.00", got)
	}

	// maxVol 50000 contracts x 0.0001 coins x 50000.5 USDT.
	limit, err := m.MaxPositionUSDT(ctx, "BTC")
	if err != nil {
		t.Fatalf("MaxPositionUSDT: %v", err)
	}
	if limit != 250002 {
		t.Errorf("MaxPositionUSDT = %d, want 250002", limit)
	}

	vol, err := m.BidsVolumeUSDT(ctx, "BTC")
	if err != nil {
		t.Fatalf("BidsVolumeUSDT: %v", err)
	}
	// 50000*100*0.0001 + 49999*200*0.0001 + 49998*300*0.0001.
	if vol != 2999 {
		t.Errorf("BidsVolumeUSDT = %d, want 2999", vol)
	}
}

func TestGate_SymbolsAndPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v4/futures/usdt/contracts":
			fmt.Fprint(w, `[
				{"name":"BTC_USDT","last_price":"50100"},
				{"name":"OLD_USDT","last_price":"1","in_delisting":true},
				{"name":"BTC_USD","last_price":"50000"}
			]`)
		case "/api/v4/futures/usdt/contracts/BTC_USDT":
			fmt.Fprint(w, `{"name":"BTC_USDT","last_price":"50100.5"}`)
		case "/api/v4/futures/usdt/contracts/DEAD_USDT":
			fmt.Fprint(w, `{"name":"DEAD_USDT","last_price":"0"}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	g := NewGate(srv.URL, 5*time.Second)
	ctx := context.Background()

	symbols, err := g.Symbols(ctx)
	if err != nil {
		t.Fatalf("Symbols: %v", err)
	}
	if len(symbols) != 1 || symbols[0] != "BTC" {
		t.Errorf("Symbols = %v, want [BTC]", symbols)
	}

	price, err := g.Price(ctx, "BTC")
	if err != nil {
		t.Fatalf("Price: %v", err)
	}
	if price != 50100.5 {
		t.Errorf("price = %v, want 50100.5", price)
	}

	if _, err := g.Price(ctx, "DEAD"); err == nil {
		t.Error("zero price should be an error")
	}
	if _, err := g.Price(ctx, "MISSING"); err == nil {
		t.Error("404 should be an error")
	}
}

type stubVenue struct {
	name   string
	prices map[string]float64
}

func (s *stubVenue) Name() string                              { return s.name }
func (s *stubVenue) TradeURL(symbol string) string             { return "https://example.com/" + symbol }
func (s *stubVenue) Symbols(context.Context) ([]string, error) { return nil, nil }
func (s *stubVenue) Price(_ context.Context, symbol string) (float64, error) {
	p, ok := s.prices[symbol]
	if !ok {
		return 0, fmt.Errorf("no price for %s", symbol)
	}
	return p, nil
}

type slowVenue struct {
	stubVenue
	delay time.Duration
}

func (s *slowVenue) Price(ctx context.Context, symbol string) (float64, error) {
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	return s.stubVenue.Price(ctx, symbol)
}

func TestFetcher_BatchDeadline(t *testing.T) {
	symbols := make([]string, 10)
	quotes := map[string]float64{}
	for i := range symbols {
		symbols[i] = fmt.Sprintf("SYM%d", i)
		quotes[symbols[i]] = 100
	}
	a := &slowVenue{stubVenue: stubVenue{name: "A", prices: quotes}, delay: 300 * time.Millisecond}
	b := &stubVenue{name: "B", prices: quotes}

	// One worker and 300ms per call would take 6s without a shared
	// deadline. The batch must return once the second expires.
	f := NewFetcher(a, b, 1, time.Second)

	started := time.Now()
	prices, err := f.Fetch(context.Background(), symbols)
	elapsed := time.Since(started)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if elapsed > 2*time.Second {
		t.Fatalf("batch took %v, deadline not shared", elapsed)
	}
	if len(prices) != len(symbols) {
		t.Fatalf("got %d pairs, want %d", len(prices), len(symbols))
	}

	var complete, partial int
	for _, pair := range prices {
		if pair.Complete() {
			complete++
		} else {
			partial++
		}
	}
	if complete == 0 {
		t.Error("expected at least one completed pair before the deadline")
	}
	if partial == 0 {
		t.Error("expected unfinished symbols to come back partial")
	}
}

func TestFetcher_PartialResults(t *testing.T) {
	a := &stubVenue{name: "A", prices: map[string]float64{"BTC": 103, "ETH": 50}}
	b := &stubVenue{name: "B", prices: map[string]float64{"BTC": 100}}
	f := NewFetcher(a, b, 4, time.Second)

	prices, err := f.Fetch(context.Background(), []string{"BTC", "ETH", "SOL"})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(prices) != 3 {
		t.Fatalf("got %d pairs, want 3", len(prices))
	}

	btc := prices["BTC"]
	if !btc.Complete() {
		t.Fatal("BTC pair should be complete")
	}
	if got := btc.Spread(); got != 3 {
		t.Errorf("BTC spread = %v, want 3", got)
	}

	eth := prices["ETH"]
	if !eth.HasA || eth.HasB || eth.Complete() {
		t.Errorf("ETH pair should be A-only: %+v", eth)
	}

	sol := prices["SOL"]
	if sol.HasA || sol.HasB {
		t.Errorf("SOL pair should be empty: %+v", sol)
	}
}
