// Package engine runs the per-symbol spread lifecycle state machine:
// Absent -> Pending -> Active -> Absent, driven by two polling cadences.
package engine

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/dkrylov/spreadwatch/internal/logger"
	"github.com/dkrylov/spreadwatch/internal/models"
)

// Source fetches paired prices for a set of symbols.
type Source interface {
	Fetch(ctx context.Context, symbols []string) (models.Prices, error)
}

// Coverage yields the set of symbols tradable on both venues.
type Coverage interface {
	Symbols(ctx context.Context) ([]string, error)
}

// Sink realizes spread lifecycles as external notifications.
type Sink interface {
	Create(text, symbol string) (int, error)
	Update(handle int, text, symbol string) models.UpdateResult
	Delete(handle int) bool
}

// Recorder receives completed events for the daily summary.
type Recorder interface {
	Add(symbol string, maxSpread float64, start, end time.Time, positionLimit int)
	RemoveSymbol(symbol string) int
}

// Bans is the persisted exclusion set.
type Bans interface {
	Ban(symbol string) bool
	Unban(symbol string) bool
	Contains(symbol string) bool
	Symbols() []string
}

// MarketInfo annotates notifications with venue-specific figures. It is
// optional and any call may fail without affecting state transitions.
type MarketInfo interface {
	FormatPrice(ctx context.Context, symbol string, price float64) string
	MaxPositionUSDT(ctx context.Context, symbol string) (int, error)
	BidsVolumeUSDT(ctx context.Context, symbol string) (int, error)
}

// Config holds the state machine's tunables. Failure thresholds are
// explicit counts, decoupled from the cycle cadence that drives them.
type Config struct {
	Threshold           float64
	ConfirmDelay        time.Duration
	MinEventDuration    time.Duration
	MaxActiveAge        time.Duration
	MaxPriceFailures    int
	NewSymbolGrace      time.Duration
	NewSymbolQuota      int
	NewSymbolWindow     time.Duration
	NotifyMinInterval   time.Duration
	StaleIdle           time.Duration
	DuplicateSweepEvery time.Duration
	StaleSweepEvery     time.Duration
}

// DefaultConfig returns the production tuning.
func DefaultConfig() Config {
	return Config{
		Threshold:           3.0,
		ConfirmDelay:        5 * time.Second,
		MinEventDuration:    60 * time.Second,
		MaxActiveAge:        4 * time.Hour,
		MaxPriceFailures:    3,
		NewSymbolGrace:      24 * time.Hour,
		NewSymbolQuota:      3,
		NewSymbolWindow:     24 * time.Hour,
		NotifyMinInterval:   3 * time.Second,
		StaleIdle:           2 * time.Minute,
		DuplicateSweepEvery: 30 * time.Second,
		StaleSweepEvery:     5 * time.Minute,
	}
}

// Engine owns the per-symbol spread state. All map mutation happens
// under one mutex; sink and market calls happen outside it, with their
// results applied in a later locked section.
type Engine struct {
	cfg      Config
	source   Source
	coverage Coverage
	sink     Sink
	recorder Recorder
	bans     Bans
	market   MarketInfo

	mu          sync.Mutex
	pending     map[string]*models.PendingCandidate
	active      map[string]*models.ActiveSpread
	untracked   map[string]int
	newlyListed map[string]time.Time
	admissions  []time.Time

	lastDupSweep   time.Time
	lastStaleSweep time.Time

	now func() time.Time
}

// New creates an engine. market may be nil.
func New(cfg Config, source Source, coverage Coverage, sink Sink, recorder Recorder, bans Bans, market MarketInfo) *Engine {
	return &Engine{
		cfg:         cfg,
		source:      source,
		coverage:    coverage,
		sink:        sink,
		recorder:    recorder,
		bans:        bans,
		market:      market,
		pending:     make(map[string]*models.PendingCandidate),
		active:      make(map[string]*models.ActiveSpread),
		untracked:   make(map[string]int),
		newlyListed: make(map[string]time.Time),
		now:         time.Now,
	}
}

// exit is a decided Active -> Absent transition, executed outside the
// lock.
type exit struct {
	symbol string
	handle int
	reason string
	ban    bool
	purge  bool
	record bool
	max    float64
	start  time.Time
	end    time.Time
}

// refresh is a scheduled live-notification edit.
type refresh struct {
	symbol    string
	handle    int
	quote     models.PairQuote
	spread    float64
	maxSpread float64
	isNew     bool
	start     time.Time
}

// promotion is a confirmed pending candidate awaiting its notification.
type promotion struct {
	symbol     string
	quote      models.PairQuote
	spread     float64
	isNew      bool
	observedAt time.Time
}

// FastCycle re-fetches prices for active symbols only and advances
// their self-loop and exit transitions. Intended cadence: ~3s.
func (e *Engine) FastCycle(ctx context.Context) {
	symbols := e.activeSymbols()
	if len(symbols) == 0 {
		return
	}

	prices, err := e.source.Fetch(ctx, symbols)
	if err != nil {
		logger.Warn("fast cycle price fetch failed: %v", err)
		return
	}
	e.advanceActive(ctx, prices)
}

// SlowCycle fetches the full tradable set, evaluates Pending
// transitions and new-listing detection, advances active spreads, and
// runs the periodic sweeps. Intended cadence: ~15s.
func (e *Engine) SlowCycle(ctx context.Context) {
	symbols, err := e.coverage.Symbols(ctx)
	if err != nil {
		logger.Error("coverage refresh failed: %v", err)
		return
	}
	symbols = e.withoutBanned(symbols)
	if len(symbols) == 0 {
		logger.Warn("tradable set is empty, skipping cycle")
		return
	}

	prices, err := e.source.Fetch(ctx, symbols)
	if err != nil {
		logger.Warn("slow cycle price fetch failed: %v", err)
		return
	}

	e.trackUntracked(prices)
	e.advanceActive(ctx, prices)
	e.advancePending(ctx, prices)
	e.runSweeps()
}

// withoutBanned copies symbols minus the banned ones. The input slice
// may be a cache owned by the coverage resolver, never filter it in
// place.
func (e *Engine) withoutBanned(symbols []string) []string {
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if !e.bans.Contains(s) {
			out = append(out, s)
		}
	}
	return out
}

func (e *Engine) activeSymbols() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.active))
	for s := range e.active {
		out = append(out, s)
	}
	return out
}

// trackUntracked maintains the consecutive-failure counters for
// symbols without an active spread and admits repeat offenders as new
// listings, subject to the sliding quota window.
func (e *Engine) trackUntracked(prices models.Prices) {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()

	for symbol, quote := range prices {
		if _, tracked := e.active[symbol]; tracked {
			continue
		}
		if quote.Complete() {
			delete(e.untracked, symbol)
			continue
		}

		e.untracked[symbol]++
		if e.untracked[symbol] < e.cfg.MaxPriceFailures {
			continue
		}
		if _, marked := e.newlyListed[symbol]; marked {
			e.untracked[symbol] = 0
			continue
		}
		if e.admitNewSymbol(now) {
			e.newlyListed[symbol] = now
			logger.Info("symbol %s marked as new listing (%d/%d slots used)",
				symbol, len(e.admissions), e.cfg.NewSymbolQuota)
		} else {
			// Quota exhausted: reset so the counter does not grow
			// without bound.
			e.untracked[symbol] = 0
		}
	}

	for symbol, markedAt := range e.newlyListed {
		if now.Sub(markedAt) > e.cfg.NewSymbolGrace {
			delete(e.newlyListed, symbol)
		}
	}
}

// admitNewSymbol prunes expired admissions and claims a quota slot if
// one is free. Caller must hold the mutex.
func (e *Engine) admitNewSymbol(now time.Time) bool {
	kept := e.admissions[:0]
	for _, at := range e.admissions {
		if now.Sub(at) < e.cfg.NewSymbolWindow {
			kept = append(kept, at)
		}
	}
	e.admissions = kept

	if len(e.admissions) >= e.cfg.NewSymbolQuota {
		return false
	}
	e.admissions = append(e.admissions, now)
	return true
}

// advanceActive runs the Active self-loop and exit transitions against
// one price snapshot.
func (e *Engine) advanceActive(ctx context.Context, prices models.Prices) {
	var exits []exit
	var refreshes []refresh

	e.mu.Lock()
	now := e.now()
	for symbol, a := range e.active {
		quote, ok := prices[symbol]
		if !ok {
			continue
		}

		if !quote.Complete() {
			a.Failures++
			if a.Failures >= e.cfg.MaxPriceFailures {
				exits = append(exits, e.dropLocked(symbol, exit{
					reason: "price unavailable",
				}))
			}
			continue
		}
		a.Failures = 0

		if now.Sub(a.StartTime) >= e.cfg.MaxActiveAge {
			exits = append(exits, e.dropLocked(symbol, exit{
				reason: "age limit",
				ban:    true,
				purge:  true,
			}))
			continue
		}

		abs := math.Abs(quote.Spread())

		if a.IsNew && now.Sub(a.NewMarkedAt) >= e.cfg.NewSymbolGrace {
			if abs >= e.cfg.Threshold {
				a.IsNew = false
				logger.Info("symbol %s is no longer a new listing", symbol)
			} else {
				exits = append(exits, e.naturalEndLocked(symbol, a, now))
				continue
			}
		}

		if !a.IsNew && abs < e.cfg.Threshold {
			exits = append(exits, e.naturalEndLocked(symbol, a, now))
			continue
		}

		a.LastPriceUpdate = now
		if abs > a.MaxSpread {
			a.MaxSpread = abs
		}
		if now.Sub(a.LastNotifyUpdate) >= e.cfg.NotifyMinInterval {
			a.LastNotifyUpdate = now
			refreshes = append(refreshes, refresh{
				symbol:    symbol,
				handle:    a.Handle,
				quote:     quote,
				spread:    quote.Spread(),
				maxSpread: a.MaxSpread,
				isNew:     a.IsNew,
				start:     a.StartTime,
			})
		}
	}
	e.mu.Unlock()

	e.executeExits(ctx, exits)
	e.executeRefreshes(ctx, refreshes)
}

// naturalEndLocked decides the record-or-discard outcome of a natural
// termination. Caller must hold the mutex.
func (e *Engine) naturalEndLocked(symbol string, a *models.ActiveSpread, now time.Time) exit {
	return e.dropLocked(symbol, exit{
		reason: "below threshold",
		record: now.Sub(a.StartTime) >= e.cfg.MinEventDuration,
		max:    a.MaxSpread,
		start:  a.StartTime,
		end:    now,
	})
}

// dropLocked removes the active entry and, when the exit bans, applies
// the ban while still holding the lock so a symbol is never both
// tracked and banned. Caller must hold the mutex.
func (e *Engine) dropLocked(symbol string, x exit) exit {
	x.symbol = symbol
	if a, ok := e.active[symbol]; ok {
		x.handle = a.Handle
		delete(e.active, symbol)
	}
	delete(e.newlyListed, symbol)
	if x.ban {
		e.bans.Ban(symbol)
	}
	return x
}

func (e *Engine) executeExits(ctx context.Context, exits []exit) {
	for _, x := range exits {
		logger.Info("spread %s ended (%s)", x.symbol, x.reason)
		if x.handle != 0 {
			if !e.sink.Delete(x.handle) {
				logger.Warn("failed to delete notification %d for %s", x.handle, x.symbol)
			}
		}
		if x.record {
			limit := e.positionLimit(ctx, x.symbol)
			e.recorder.Add(x.symbol, x.max, x.start, x.end, limit)
		}
		if x.purge {
			if n := e.recorder.RemoveSymbol(x.symbol); n > 0 {
				logger.Info("purged %d daily entries for banned symbol %s", n, x.symbol)
			}
		}
	}
}

func (e *Engine) executeRefreshes(ctx context.Context, refreshes []refresh) {
	for _, r := range refreshes {
		text := e.renderSpread(ctx, r)
		switch e.sink.Update(r.handle, text, r.symbol) {
		case models.UpdateOK, models.UpdateUnmodified:
		case models.UpdateDeleted:
			// The user removed the message, which reads as "stop
			// showing me this symbol".
			logger.Info("notification for %s was deleted by user, banning", r.symbol)
			e.mu.Lock()
			e.dropLocked(r.symbol, exit{reason: "user deleted", ban: true})
			e.mu.Unlock()
			if n := e.recorder.RemoveSymbol(r.symbol); n > 0 {
				logger.Info("purged %d daily entries for %s", n, r.symbol)
			}
		default:
			logger.Warn("failed to update notification %d for %s", r.handle, r.symbol)
		}
	}
}

// advancePending evaluates Absent -> Pending and Pending ->
// Active/Absent transitions against a full-set price snapshot.
func (e *Engine) advancePending(ctx context.Context, prices models.Prices) {
	var promotions []promotion
	promoting := make(map[string]bool)

	e.mu.Lock()
	now := e.now()

	for symbol, p := range e.pending {
		quote, ok := prices[symbol]
		alive := ok && quote.Complete() && math.Abs(quote.Spread()) >= e.cfg.Threshold
		if !alive {
			// Dropped below threshold or vanished before confirmation.
			delete(e.pending, symbol)
			continue
		}
		if now.Sub(p.ObservedAt) >= e.cfg.ConfirmDelay {
			delete(e.pending, symbol)
			promoting[symbol] = true
			promotions = append(promotions, promotion{
				symbol:     symbol,
				quote:      quote,
				spread:     quote.Spread(),
				isNew:      p.IsNew,
				observedAt: p.ObservedAt,
			})
		}
	}

	for symbol, quote := range prices {
		if !quote.Complete() {
			continue
		}
		if _, isPending := e.pending[symbol]; isPending || promoting[symbol] {
			continue
		}
		if _, isActive := e.active[symbol]; isActive {
			continue
		}
		spread := quote.Spread()
		if math.Abs(spread) < e.cfg.Threshold || e.bans.Contains(symbol) {
			continue
		}
		_, isNew := e.newlyListed[symbol]
		e.pending[symbol] = &models.PendingCandidate{
			Symbol:      symbol,
			FirstSpread: spread,
			IsNew:       isNew,
			ObservedAt:  now,
		}
		logger.Info("spread %s %.2f%% awaiting confirmation", symbol, math.Abs(spread))
	}
	e.mu.Unlock()

	e.executePromotions(ctx, promotions)
}

func (e *Engine) executePromotions(ctx context.Context, promotions []promotion) {
	for _, p := range promotions {
		abs := math.Abs(p.spread)
		start := p.observedAt.Add(e.cfg.ConfirmDelay)
		text := e.renderSpread(ctx, refresh{
			symbol:    p.symbol,
			quote:     p.quote,
			spread:    p.spread,
			maxSpread: abs,
			isNew:     p.isNew,
			start:     start,
		})

		handle, err := e.sink.Create(text, p.symbol)
		if err != nil {
			// The symbol re-enters Pending on the next cycle.
			logger.Error("failed to create notification for %s: %v", p.symbol, err)
			continue
		}

		e.mu.Lock()
		now := e.now()
		if _, exists := e.active[p.symbol]; exists {
			e.mu.Unlock()
			e.sink.Delete(handle)
			continue
		}
		a := &models.ActiveSpread{
			Symbol:           p.symbol,
			StartTime:        start,
			LastPriceUpdate:  now,
			LastNotifyUpdate: now,
			MaxSpread:        abs,
			IsNew:            p.isNew,
			Handle:           handle,
		}
		if p.isNew {
			a.NewMarkedAt = now
		}
		e.active[p.symbol] = a
		delete(e.untracked, p.symbol)
		e.mu.Unlock()

		logger.Info("spread %s %.2f%% confirmed, notification %d", p.symbol, abs, handle)
	}
}

// runSweeps executes the periodic maintenance passes when their
// intervals have elapsed.
func (e *Engine) runSweeps() {
	e.mu.Lock()
	now := e.now()
	dup := now.Sub(e.lastDupSweep) >= e.cfg.DuplicateSweepEvery
	stale := now.Sub(e.lastStaleSweep) >= e.cfg.StaleSweepEvery
	if dup {
		e.lastDupSweep = now
	}
	if stale {
		e.lastStaleSweep = now
	}
	e.mu.Unlock()

	if dup {
		e.sweepDuplicates()
	}
	if stale {
		e.sweepStale()
	}
}

// sweepDuplicates enforces the one-record-per-symbol invariant: a
// pending candidate shadowed by an active spread is dropped, and
// active records that ended up sharing a notification handle are
// collapsed down to the one with the freshest price update.
func (e *Engine) sweepDuplicates() {
	e.mu.Lock()
	for symbol := range e.pending {
		if _, isActive := e.active[symbol]; isActive {
			logger.Warn("duplicate sweep: dropping pending %s shadowed by active", symbol)
			delete(e.pending, symbol)
		}
	}

	byHandle := make(map[int][]*models.ActiveSpread)
	for _, a := range e.active {
		byHandle[a.Handle] = append(byHandle[a.Handle], a)
	}
	for handle, group := range byHandle {
		if len(group) < 2 {
			continue
		}
		sort.Slice(group, func(i, j int) bool {
			return group[i].LastPriceUpdate.After(group[j].LastPriceUpdate)
		})
		for _, a := range group[1:] {
			logger.Warn("duplicate sweep: dropping %s sharing notification %d", a.Symbol, handle)
			delete(e.active, a.Symbol)
		}
	}
	e.mu.Unlock()
}

// sweepStale evicts active records whose price feed went quiet without
// tripping the failure counter.
func (e *Engine) sweepStale() {
	var exits []exit

	e.mu.Lock()
	now := e.now()
	for symbol, a := range e.active {
		if now.Sub(a.LastPriceUpdate) > e.cfg.StaleIdle {
			exits = append(exits, e.dropLocked(symbol, exit{reason: "stale"}))
		}
	}
	e.mu.Unlock()

	e.executeExits(context.Background(), exits)
}

// Stop tears down every open notification, best effort. New cycles
// must not be scheduled after calling it.
func (e *Engine) Stop(ctx context.Context) {
	e.mu.Lock()
	handles := make(map[string]int, len(e.active))
	for symbol, a := range e.active {
		handles[symbol] = a.Handle
	}
	e.active = make(map[string]*models.ActiveSpread)
	e.pending = make(map[string]*models.PendingCandidate)
	e.mu.Unlock()

	for symbol, handle := range handles {
		if ctx.Err() != nil {
			logger.Warn("shutdown cut short, %s notification left behind", symbol)
			return
		}
		if handle != 0 {
			e.sink.Delete(handle)
		}
	}
}

func (e *Engine) positionLimit(ctx context.Context, symbol string) int {
	if e.market == nil {
		return 0
	}
	limit, err := e.market.MaxPositionUSDT(ctx, symbol)
	if err != nil {
		logger.Debug("position limit lookup failed for %s: %v", symbol, err)
		return 0
	}
	return limit
}
