package engine

import (
	"sort"

	"github.com/dkrylov/spreadwatch/internal/logger"
)

// Status is a point-in-time snapshot of the engine for the chat
// commands.
type Status struct {
	ActiveSymbols  []string
	PendingSymbols []string
	BannedCount    int
	NewListings    int
}

// Status reports the engine's current tracking state.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := Status{
		ActiveSymbols:  make([]string, 0, len(e.active)),
		PendingSymbols: make([]string, 0, len(e.pending)),
		BannedCount:    len(e.bans.Symbols()),
		NewListings:    len(e.newlyListed),
	}
	for s := range e.active {
		st.ActiveSymbols = append(st.ActiveSymbols, s)
	}
	for s := range e.pending {
		st.PendingSymbols = append(st.PendingSymbols, s)
	}
	sort.Strings(st.ActiveSymbols)
	sort.Strings(st.PendingSymbols)
	return st
}

// BannedSymbols returns the ban list for the /list command.
func (e *Engine) BannedSymbols() []string {
	return e.bans.Symbols()
}

// Ban excludes a symbol, tearing down any live tracking for it.
// Returns false if it was already banned.
func (e *Engine) Ban(symbol string) bool {
	e.mu.Lock()
	delete(e.pending, symbol)
	banned := e.bans.Contains(symbol)
	x := e.dropLocked(symbol, exit{reason: "manual ban", ban: true})
	e.mu.Unlock()

	if banned {
		return false
	}
	if x.handle != 0 {
		e.sink.Delete(x.handle)
	}
	if n := e.recorder.RemoveSymbol(symbol); n > 0 {
		logger.Info("purged %d daily entries for banned symbol %s", n, symbol)
	}
	logger.Info("symbol %s banned manually", symbol)
	return true
}

// Unban removes a symbol from the exclusion set. Returns false if it
// was not banned.
func (e *Engine) Unban(symbol string) bool {
	ok := e.bans.Unban(symbol)
	if ok {
		logger.Info("symbol %s unbanned", symbol)
	}
	return ok
}
