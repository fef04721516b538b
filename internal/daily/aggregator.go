// Package daily maintains the per-day ledger of completed spread events
// and renders it as the pinned summary message.
package daily

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dkrylov/spreadwatch/internal/logger"
	"github.com/dkrylov/spreadwatch/internal/models"
)

// DefaultMergeGap is the maximum pause between two events of the same
// symbol for them to be folded into a single summary line.
const DefaultMergeGap = 3 * time.Minute

// Ledger persists completed events across restarts.
type Ledger interface {
	SaveEvent(ev *models.CompletedEvent) error
	DeleteEventsBySymbol(dayKey, symbol string) (int, error)
	PurgeEventsBefore(dayKey string) error
	EventsForDay(dayKey string) ([]*models.CompletedEvent, error)
}

// Aggregator collects completed spread events for the current day.
// The day boundary follows the configured location, not UTC.
type Aggregator struct {
	mu       sync.Mutex
	loc      *time.Location
	mergeGap time.Duration
	store    Ledger
	now      func() time.Time

	dayKey string
	events []*models.CompletedEvent
	seq    int
}

// NewAggregator creates an aggregator whose day rolls over at midnight
// in loc. store may be nil for memory-only operation.
func NewAggregator(loc *time.Location, mergeGap time.Duration, store Ledger) *Aggregator {
	if loc == nil {
		loc = time.UTC
	}
	if mergeGap <= 0 {
		mergeGap = DefaultMergeGap
	}
	a := &Aggregator{
		loc:      loc,
		mergeGap: mergeGap,
		store:    store,
		now:      time.Now,
	}
	a.dayKey = a.keyFor(a.now())
	return a
}

func (a *Aggregator) keyFor(t time.Time) string {
	return t.In(a.loc).Format("2006-01-02")
}

// DayKey returns the key of the day currently being aggregated.
func (a *Aggregator) DayKey() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dayKey
}

// checkDay resets the ledger when the local date has changed.
// Caller must hold the mutex.
func (a *Aggregator) checkDay(now time.Time) bool {
	key := a.keyFor(now)
	if key == a.dayKey {
		return false
	}
	logger.Info("daily summary rollover: %s -> %s (%d events dropped)", a.dayKey, key, len(a.events))
	a.dayKey = key
	a.events = nil
	a.seq = 0
	if a.store != nil {
		if err := a.store.PurgeEventsBefore(key); err != nil {
			logger.Error("failed to purge old events: %v", err)
		}
	}
	return true
}

// RolledOver reports whether the local date has changed, resetting the
// ledger if so.
func (a *Aggregator) RolledOver() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.checkDay(a.now())
}

// MinEventDuration is the shortest spread worth a summary line.
const MinEventDuration = 60 * time.Second

// Add records a completed event. Events shorter than MinEventDuration
// are dropped. When the same symbol already has an event that ended no
// more than the merge gap before start, the existing line is extended
// instead of appending a new one.
func (a *Aggregator) Add(symbol string, maxSpread float64, start, end time.Time, positionLimit int) {
	if end.Sub(start) < MinEventDuration {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	a.checkDay(now)

	duration := int(end.Sub(start).Seconds())

	for i := len(a.events) - 1; i >= 0; i-- {
		prev := a.events[i]
		if prev.Symbol != symbol {
			continue
		}
		gap := start.Sub(prev.EndTime)
		if gap < 0 {
			gap = 0
		}
		if gap <= a.mergeGap {
			prev.DurationSeconds += int(gap.Seconds()) + duration
			prev.EndTime = end
			if maxSpread > prev.MaxSpread {
				prev.MaxSpread = maxSpread
			}
			if positionLimit > 0 {
				prev.PositionLimit = positionLimit
			}
			a.persist(prev)
			return
		}
		break
	}

	a.seq++
	ev := &models.CompletedEvent{
		ID:              uuid.New().String(),
		Seq:             a.seq,
		Symbol:          symbol,
		MaxSpread:       maxSpread,
		DurationSeconds: duration,
		StartTime:       start,
		EndTime:         end,
		DayKey:          a.dayKey,
		PositionLimit:   positionLimit,
	}
	a.events = append(a.events, ev)
	a.persist(ev)
}

func (a *Aggregator) persist(ev *models.CompletedEvent) {
	if a.store == nil {
		return
	}
	if err := a.store.SaveEvent(ev); err != nil {
		logger.Error("failed to persist event %s #%d: %v", ev.Symbol, ev.Seq, err)
	}
}

// RemoveSymbol drops every line for symbol from the current day.
// Returns the number of removed lines.
func (a *Aggregator) RemoveSymbol(symbol string) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	kept := a.events[:0]
	removed := 0
	for _, ev := range a.events {
		if ev.Symbol == symbol {
			removed++
			continue
		}
		kept = append(kept, ev)
	}
	a.events = kept

	if removed > 0 && a.store != nil {
		if _, err := a.store.DeleteEventsBySymbol(a.dayKey, symbol); err != nil {
			logger.Error("failed to delete events for %s: %v", symbol, err)
		}
	}
	return removed
}

// Events returns a snapshot of the current day's events in insertion order.
func (a *Aggregator) Events() []*models.CompletedEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.checkDay(a.now())
	out := make([]*models.CompletedEvent, len(a.events))
	for i, ev := range a.events {
		c := *ev
		out[i] = &c
	}
	return out
}

// Len returns the number of summary lines for the current day.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.events)
}

// Restore replaces the current day's ledger with recovered events.
// Events belonging to other days are ignored.
func (a *Aggregator) Restore(events []*models.CompletedEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.checkDay(a.now())
	a.events = nil
	a.seq = 0
	for _, ev := range events {
		if ev.DayKey != "" && ev.DayKey != a.dayKey {
			continue
		}
		c := *ev
		if c.ID == "" {
			c.ID = uuid.New().String()
		}
		c.DayKey = a.dayKey
		a.seq++
		c.Seq = a.seq
		a.events = append(a.events, &c)
		a.persist(&c)
	}
}

// LoadFromStore restores the current day's ledger from persistence.
func (a *Aggregator) LoadFromStore() error {
	if a.store == nil {
		return nil
	}
	a.mu.Lock()
	key := a.dayKey
	a.mu.Unlock()

	events, err := a.store.EventsForDay(key)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.checkDay(a.now()) {
		return nil
	}
	a.events = events
	a.seq = 0
	for _, ev := range events {
		if ev.Seq > a.seq {
			a.seq = ev.Seq
		}
	}
	logger.Info("restored %d events for %s from storage", len(events), a.dayKey)
	return nil
}

// Render produces the summary message for the current day.
func (a *Aggregator) Render() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.now()
	a.checkDay(now)
	return RenderSummary(a.events, now.In(a.loc), a.loc)
}
