package storage

import (
	"testing"
	"time"

	"github.com/dkrylov/spreadwatch/internal/models"
	"github.com/google/uuid"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStorage_BanRoundTrip(t *testing.T) {
	s := newTestStorage(t)

	for _, sym := range []string{"BTC", "ETH", "BTC"} { // duplicate is a no-op
		if err := s.AddBanned(sym); err != nil {
			t.Fatalf("AddBanned(%s): %v", sym, err)
		}
	}

	banned, err := s.LoadBanned()
	if err != nil {
		t.Fatalf("LoadBanned: %v", err)
	}
	if len(banned) != 2 {
		t.Fatalf("got %d banned symbols, want 2", len(banned))
	}
	if banned[0] != "BTC" || banned[1] != "ETH" {
		t.Errorf("unexpected banned set: %v", banned)
	}

	if err := s.RemoveBanned("BTC"); err != nil {
		t.Fatalf("RemoveBanned: %v", err)
	}
	banned, _ = s.LoadBanned()
	if len(banned) != 1 || banned[0] != "ETH" {
		t.Errorf("after unban got %v, want [ETH]", banned)
	}
}

func TestStorage_CoverageRoundTrip(t *testing.T) {
	s := newTestStorage(t)

	// No stored coverage yet.
	syms, at, err := s.LoadCoverage(true)
	if err != nil {
		t.Fatalf("LoadCoverage: %v", err)
	}
	if len(syms) != 0 || !at.IsZero() {
		t.Errorf("expected empty coverage, got %v at %v", syms, at)
	}

	venues := []string{"MEXC", "Gate.io"}
	if err := s.SaveCoverage([]string{"BTC", "ETH", "SOL"}, venues, true); err != nil {
		t.Fatalf("SaveCoverage: %v", err)
	}
	syms, at, err = s.LoadCoverage(true)
	if err != nil {
		t.Fatalf("LoadCoverage: %v", err)
	}
	if len(syms) != 3 {
		t.Errorf("got %d symbols, want 3", len(syms))
	}
	if time.Since(at) > time.Minute {
		t.Errorf("save time too old: %v", at)
	}

	// Raw and verified sets are independent.
	if syms, _, _ := s.LoadCoverage(false); len(syms) != 0 {
		t.Errorf("raw coverage should be empty, got %v", syms)
	}

	// Replacing shrinks the set.
	if err := s.SaveCoverage([]string{"BTC"}, venues, true); err != nil {
		t.Fatalf("SaveCoverage replace: %v", err)
	}
	syms, _, _ = s.LoadCoverage(true)
	if len(syms) != 1 || syms[0] != "BTC" {
		t.Errorf("after replace got %v, want [BTC]", syms)
	}
}

func testEvent(symbol, dayKey string, seq int, end time.Time) *models.CompletedEvent {
	return &models.CompletedEvent{
		ID:              uuid.New().String(),
		Seq:             seq,
		Symbol:          symbol,
		MaxSpread:       3.5,
		DurationSeconds: 90,
		StartTime:       end.Add(-90 * time.Second),
		EndTime:         end,
		DayKey:          dayKey,
	}
}

func TestStorage_EventLedger(t *testing.T) {
	s := newTestStorage(t)
	now := time.Now()

	events := []*models.CompletedEvent{
		testEvent("BTC", "2024-03-01", 1, now.Add(-2*time.Hour)),
		testEvent("ETH", "2024-03-01", 2, now.Add(-time.Hour)),
		testEvent("BTC", "2024-03-01", 3, now),
		testEvent("SOL", "2024-02-29", 1, now.Add(-26*time.Hour)),
	}
	for _, ev := range events {
		if err := s.SaveEvent(ev); err != nil {
			t.Fatalf("SaveEvent(%s): %v", ev.Symbol, err)
		}
	}

	day, err := s.EventsForDay("2024-03-01")
	if err != nil {
		t.Fatalf("EventsForDay: %v", err)
	}
	if len(day) != 3 {
		t.Fatalf("got %d events, want 3", len(day))
	}
	// Ordered by end time.
	if day[0].Symbol != "BTC" || day[1].Symbol != "ETH" || day[2].Symbol != "BTC" {
		t.Errorf("unexpected order: %v %v %v", day[0].Symbol, day[1].Symbol, day[2].Symbol)
	}

	// A merge reuses the id and shows up as an update, not a new row.
	merged := *events[2]
	merged.DurationSeconds = 300
	merged.MaxSpread = 4.1
	if err := s.SaveEvent(&merged); err != nil {
		t.Fatalf("SaveEvent merged: %v", err)
	}
	day, _ = s.EventsForDay("2024-03-01")
	if len(day) != 3 {
		t.Errorf("merge created a new row: got %d events", len(day))
	}

	n, err := s.DeleteEventsBySymbol("2024-03-01", "BTC")
	if err != nil {
		t.Fatalf("DeleteEventsBySymbol: %v", err)
	}
	if n != 2 {
		t.Errorf("deleted %d rows, want 2", n)
	}

	if err := s.PurgeEventsBefore("2024-03-01"); err != nil {
		t.Fatalf("PurgeEventsBefore: %v", err)
	}
	if old, _ := s.EventsForDay("2024-02-29"); len(old) != 0 {
		t.Errorf("previous day should be purged, got %d events", len(old))
	}
}

func TestStorage_SaveEventRejectsInvalid(t *testing.T) {
	s := newTestStorage(t)
	ev := testEvent("BTC", "2024-03-01", 1, time.Now())
	ev.DurationSeconds = 30
	if err := s.SaveEvent(ev); err == nil {
		t.Error("expected validation error for sub-minute event")
	}
}
