package daily

import (
	"fmt"
	"time"

	"github.com/dkrylov/spreadwatch/internal/logger"
	"github.com/dkrylov/spreadwatch/internal/models"
)

// SummarySink is the chat surface the pinned summary lives on.
type SummarySink interface {
	Send(text string) (int, error)
	Edit(handle int, text string) models.UpdateResult
	Pin(handle int) error
	FindPinned(match func(text string) bool) (handle int, text string, found bool)
}

const (
	lookupAttempts = 5
	lookupDelay    = 2 * time.Second
	createAttempts = 3
	createDelay    = 3 * time.Second
)

// Summary keeps one pinned message per day in sync with the aggregator.
type Summary struct {
	agg  *Aggregator
	sink SummarySink

	handle   int
	day      string
	lastText string

	// createdDay is the day key a summary was already created (or
	// found pinned) for. One creation per day: a summary the channel
	// owner deleted stays deleted until the next rollover.
	createdDay string

	sleep func(time.Duration)
	now   func() time.Time
}

// NewSummary creates a summary manager over agg and sink.
func NewSummary(agg *Aggregator, sink SummarySink) *Summary {
	return &Summary{
		agg:   agg,
		sink:  sink,
		sleep: time.Sleep,
		now:   time.Now,
	}
}

// Recover looks for an existing pinned summary for today and, when the
// aggregator is empty, rebuilds the ledger from its text. Called once
// on startup, before any Refresh.
func (s *Summary) Recover() {
	day := s.now().In(s.agg.loc)
	handle, text, found := s.findWithRetry(day)
	if !found {
		logger.Info("no pinned summary found for %s", day.Format(headerDate))
		return
	}
	s.handle = handle
	s.day = s.agg.DayKey()
	s.lastText = text
	s.createdDay = s.day
	logger.Info("recovered pinned summary message %d", handle)

	if s.agg.Len() > 0 {
		return
	}
	events, ok := ParseSummary(text, s.agg.loc)
	if !ok {
		logger.Warn("pinned summary message %d did not parse", handle)
		return
	}
	s.agg.Restore(events)
	logger.Info("restored %d summary lines from pinned message", len(events))
}

func (s *Summary) findWithRetry(day time.Time) (int, string, bool) {
	match := func(text string) bool { return IsSummary(text, day) }
	for attempt := 1; ; attempt++ {
		handle, text, found := s.sink.FindPinned(match)
		if found {
			return handle, text, true
		}
		if attempt >= lookupAttempts {
			return 0, "", false
		}
		s.sleep(lookupDelay)
	}
}

// Refresh pushes the current summary to the chat, creating and pinning
// a new message when the day has changed. At most one summary is
// created per day; one the channel owner deleted is left gone.
func (s *Summary) Refresh() error {
	day := s.agg.DayKey()
	if day != s.day {
		// New day gets a fresh pinned message.
		s.handle = 0
		s.day = day
		s.lastText = ""
	}

	text := s.agg.Render()
	if s.handle != 0 && text == s.lastText {
		return nil
	}

	if s.handle == 0 {
		if s.createdDay == day {
			return nil
		}
		return s.create(text)
	}

	switch s.sink.Edit(s.handle, text) {
	case models.UpdateOK, models.UpdateUnmodified:
		s.lastText = text
		return nil
	case models.UpdateDeleted:
		logger.Warn("pinned summary message %d was deleted, not recreating until the next day", s.handle)
		s.handle = 0
		return nil
	default:
		return fmt.Errorf("failed to edit summary message %d", s.handle)
	}
}

func (s *Summary) create(text string) error {
	var lastErr error
	for attempt := 1; attempt <= createAttempts; attempt++ {
		handle, err := s.sink.Send(text)
		if err == nil {
			s.handle = handle
			s.lastText = text
			s.createdDay = s.day
			if err := s.sink.Pin(handle); err != nil {
				logger.Warn("failed to pin summary message %d: %v", handle, err)
			}
			return nil
		}
		lastErr = err
		s.sleep(createDelay * time.Duration(attempt))
	}
	return fmt.Errorf("failed to create summary message: %w", lastErr)
}
