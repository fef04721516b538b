// Package coverage resolves the set of symbols listed on both venues
// and verifies that each one actually serves prices.
package coverage

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dkrylov/spreadwatch/internal/exchange"
	"github.com/dkrylov/spreadwatch/internal/logger"
)

const (
	// DefaultRawTTL is how long an unverified symbol intersection stays
	// usable.
	DefaultRawTTL = 12 * time.Hour
	// DefaultVerifiedTTL is how long a price-verified set stays usable.
	DefaultVerifiedTTL = 6 * time.Hour

	verifyWorkers = 5
)

// Store caches resolved symbol sets across restarts.
type Store interface {
	SaveCoverage(symbols, venues []string, verified bool) error
	LoadCoverage(verified bool) ([]string, time.Time, error)
}

// Resolver computes and caches the tradable symbol set.
type Resolver struct {
	venueA      exchange.Venue
	venueB      exchange.Venue
	store       Store
	rawTTL      time.Duration
	verifiedTTL time.Duration

	mu       sync.Mutex
	cached   []string
	cachedAt time.Time

	now func() time.Time
}

// NewResolver creates a resolver over the two venues. store may be nil.
func NewResolver(venueA, venueB exchange.Venue, store Store) *Resolver {
	return &Resolver{
		venueA:      venueA,
		venueB:      venueB,
		store:       store,
		rawTTL:      DefaultRawTTL,
		verifiedTTL: DefaultVerifiedTTL,
		now:         time.Now,
	}
}

// SetTTLs overrides the default cache lifetimes. Zero values keep the
// current setting.
func (r *Resolver) SetTTLs(raw, verified time.Duration) {
	r.mu.Lock()
	if raw > 0 {
		r.rawTTL = raw
	}
	if verified > 0 {
		r.verifiedTTL = verified
	}
	r.mu.Unlock()
}

// Symbols returns the verified symbol set, refreshing it when the
// cached one has expired. When both venues are unreachable an empty
// set is returned rather than an error, so a transient outage idles
// the monitor instead of killing it.
func (r *Resolver) Symbols(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	if r.cached != nil && r.now().Sub(r.cachedAt) < r.verifiedTTL {
		out := r.cached
		r.mu.Unlock()
		return out, nil
	}
	r.mu.Unlock()

	// Persisted verified set survives restarts.
	if symbols, at, ok := r.loadStored(true, r.verifiedTTL); ok {
		r.setCached(symbols, at)
		return symbols, nil
	}

	symbols, err := r.resolve(ctx)
	if err != nil {
		return nil, err
	}
	if len(symbols) > 0 {
		// An empty set usually means an outage, retry on the next cycle.
		r.setCached(symbols, r.now())
	}
	return symbols, nil
}

// Invalidate drops the cached set so the next Symbols call resolves
// from scratch.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	r.cached = nil
	r.mu.Unlock()
}

func (r *Resolver) setCached(symbols []string, at time.Time) {
	r.mu.Lock()
	r.cached = symbols
	r.cachedAt = at
	r.mu.Unlock()
}

func (r *Resolver) loadStored(verified bool, ttl time.Duration) ([]string, time.Time, bool) {
	if r.store == nil {
		return nil, time.Time{}, false
	}
	symbols, at, err := r.store.LoadCoverage(verified)
	if err != nil {
		logger.Warn("failed to load coverage cache (verified=%v): %v", verified, err)
		return nil, time.Time{}, false
	}
	if len(symbols) == 0 || r.now().Sub(at) > ttl {
		return nil, time.Time{}, false
	}
	logger.Info("loaded %d cached symbols (verified=%v, age %s)",
		len(symbols), verified, r.now().Sub(at).Round(time.Minute))
	return symbols, at, true
}

func (r *Resolver) resolve(ctx context.Context) ([]string, error) {
	shared, ok := r.loadStoredRaw()
	if !ok {
		var err error
		shared, err = r.intersect(ctx)
		if err != nil {
			logger.Error("coverage resolution failed: %v", err)
			return []string{}, nil
		}
		r.saveStored(shared, false)
	}

	verified := r.verify(ctx, shared)
	logger.Info("coverage: %d shared symbols, %d verified", len(shared), len(verified))
	r.saveStored(verified, true)
	return verified, nil
}

func (r *Resolver) loadStoredRaw() ([]string, bool) {
	symbols, _, ok := r.loadStored(false, r.rawTTL)
	return symbols, ok
}

func (r *Resolver) saveStored(symbols []string, verified bool) {
	if r.store == nil {
		return
	}
	venues := []string{r.venueA.Name(), r.venueB.Name()}
	if err := r.store.SaveCoverage(symbols, venues, verified); err != nil {
		logger.Warn("failed to persist coverage (verified=%v): %v", verified, err)
	}
}

// intersect lists both venues and keeps the symbols present on both.
func (r *Resolver) intersect(ctx context.Context) ([]string, error) {
	var symbolsA, symbolsB []string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		symbolsA, err = r.venueA.Symbols(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		symbolsB, err = r.venueB.Symbols(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	onB := make(map[string]struct{}, len(symbolsB))
	for _, s := range symbolsB {
		onB[s] = struct{}{}
	}
	var shared []string
	for _, s := range symbolsA {
		if _, ok := onB[s]; ok {
			shared = append(shared, s)
		}
	}
	sort.Strings(shared)
	return shared, nil
}

// verify keeps the symbols both venues actually serve a price for.
// Listing pages sometimes advertise contracts whose price endpoints
// return nothing.
func (r *Resolver) verify(ctx context.Context, symbols []string) []string {
	verified := make([]string, 0, len(symbols))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(verifyWorkers)
	for _, symbol := range symbols {
		symbol := symbol
		g.Go(func() error {
			if _, err := r.venueA.Price(gctx, symbol); err != nil {
				return nil
			}
			if _, err := r.venueB.Price(gctx, symbol); err != nil {
				return nil
			}
			mu.Lock()
			verified = append(verified, symbol)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	sort.Strings(verified)
	return verified
}
