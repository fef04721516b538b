package exchange

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dkrylov/spreadwatch/internal/logger"
	"github.com/dkrylov/spreadwatch/internal/models"
)

// Fetcher gathers paired prices from two venues with bounded
// concurrency. Per-symbol failures leave the pair partial rather than
// failing the whole batch.
type Fetcher struct {
	venueA  Venue
	venueB  Venue
	workers int
	timeout time.Duration
}

// NewFetcher creates a fetcher over the two venues. workers bounds the
// number of in-flight requests per batch.
func NewFetcher(venueA, venueB Venue, workers int, timeout time.Duration) *Fetcher {
	if workers <= 0 {
		workers = 20
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Fetcher{
		venueA:  venueA,
		venueB:  venueB,
		workers: workers,
		timeout: timeout,
	}
}

// Fetch returns paired quotes for the given symbols. The whole batch
// shares one deadline; symbols still in flight when it expires come
// back with the missing sides flagged. Symbols a venue could not price
// are present with the corresponding side missing.
func (f *Fetcher) Fetch(ctx context.Context, symbols []string) (models.Prices, error) {
	prices := make(models.Prices, len(symbols))
	for _, s := range symbols {
		prices[s] = models.PairQuote{}
	}

	bctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(f.workers)

	for _, symbol := range symbols {
		symbol := symbol
		g.Go(func() error {
			priceA, errA := f.venueA.Price(bctx, symbol)
			priceB, errB := f.venueB.Price(bctx, symbol)
			if errA != nil {
				logger.Debug("%s price failed for %s: %v", f.venueA.Name(), symbol, errA)
			}
			if errB != nil {
				logger.Debug("%s price failed for %s: %v", f.venueB.Name(), symbol, errB)
			}

			mu.Lock()
			prices[symbol] = models.PairQuote{
				A:    priceA,
				B:    priceB,
				HasA: errA == nil,
				HasB: errB == nil,
			}
			mu.Unlock()
			return nil
		})
	}

	_ = g.Wait()
	return prices, ctx.Err()
}
