// Package models defines the core domain entities: price quotes, tracked
// spreads, and completed daily-log events.
package models

import (
	"errors"
	"time"
)

// PairQuote holds one polling cycle's prices for a symbol on both venues.
// Either side may be missing when the fetch for that venue failed.
type PairQuote struct {
	A    float64
	B    float64
	HasA bool
	HasB bool
}

// Complete reports whether both venues delivered a usable price.
func (q PairQuote) Complete() bool {
	return q.HasA && q.HasB && q.A > 0 && q.B > 0
}

// Spread returns the signed percentage difference (A − B) / B × 100.
// Zero when either side is missing.
func (q PairQuote) Spread() float64 {
	if !q.Complete() {
		return 0
	}
	return (q.A - q.B) / q.B * 100
}

// Prices maps symbol → both-venue quote for one cycle.
type Prices map[string]PairQuote

// PendingCandidate is a spread observation awaiting its confirmation window
// before being promoted to an active spread.
type PendingCandidate struct {
	Symbol      string
	FirstSpread float64
	IsNew       bool
	ObservedAt  time.Time
}

// ActiveSpread is a confirmed, ongoing arbitrage event with a live
// notification and running statistics. There is at most one per symbol.
type ActiveSpread struct {
	Symbol           string
	StartTime        time.Time
	LastPriceUpdate  time.Time
	LastNotifyUpdate time.Time
	MaxSpread        float64
	IsNew            bool
	NewMarkedAt      time.Time
	Failures         int
	Handle           int
}

// Duration returns the wall-clock age of the spread at the given instant.
func (a *ActiveSpread) Duration(now time.Time) time.Duration {
	return now.Sub(a.StartTime)
}

// CompletedEvent is an immutable entry in the day-scoped log. Entries for the
// same symbol separated by a short gap are merged in place by the aggregator,
// which refreshes EndTime, DurationSeconds and MaxSpread.
type CompletedEvent struct {
	ID              string
	Seq             int
	Symbol          string
	MaxSpread       float64
	DurationSeconds int
	StartTime       time.Time
	EndTime         time.Time
	DayKey          string
	PositionLimit   int
}

// Validate checks the field constraints of a completed event.
func (e *CompletedEvent) Validate() error {
	if e.Symbol == "" {
		return errors.New("symbol must not be empty")
	}
	if e.MaxSpread <= 0 {
		return errors.New("max spread must be positive")
	}
	if e.DurationSeconds < 60 {
		return errors.New("duration must be at least 60 seconds")
	}
	if e.DayKey == "" {
		return errors.New("day key must not be empty")
	}
	if e.EndTime.Before(e.StartTime) {
		return errors.New("end time must not precede start time")
	}
	return nil
}

// UpdateResult classifies the outcome of editing an external notification.
type UpdateResult int

const (
	// UpdateOK means the edit was applied.
	UpdateOK UpdateResult = iota
	// UpdateUnmodified means the text was already current; treated as success.
	UpdateUnmodified
	// UpdateDeleted means the underlying message no longer exists. The user
	// removed it, which drives the ban-on-deletion transition.
	UpdateDeleted
	// UpdateFailed is any other transient failure; state is left unchanged
	// and the edit is retried on a later cycle.
	UpdateFailed
)

func (r UpdateResult) String() string {
	switch r {
	case UpdateOK:
		return "ok"
	case UpdateUnmodified:
		return "unmodified"
	case UpdateDeleted:
		return "deleted"
	default:
		return "failed"
	}
}
