// Package banlist tracks symbols excluded from monitoring.
package banlist

import (
	"sort"
	"sync"

	"github.com/dkrylov/spreadwatch/internal/logger"
)

// Store persists the ban set across restarts.
type Store interface {
	LoadBanned() ([]string, error)
	AddBanned(symbol string) error
	RemoveBanned(symbol string) error
}

// List is an in-memory ban set with write-through persistence.
// Persistence failures are logged and do not affect the in-memory state.
type List struct {
	mu    sync.RWMutex
	set   map[string]struct{}
	store Store
}

// New creates a ban list backed by store. A nil store keeps the list
// memory-only.
func New(store Store) (*List, error) {
	l := &List{
		set:   make(map[string]struct{}),
		store: store,
	}
	if store != nil {
		symbols, err := store.LoadBanned()
		if err != nil {
			return nil, err
		}
		for _, s := range symbols {
			l.set[s] = struct{}{}
		}
	}
	return l, nil
}

// Ban adds a symbol to the set. Returns false if it was already banned.
func (l *List) Ban(symbol string) bool {
	l.mu.Lock()
	if _, ok := l.set[symbol]; ok {
		l.mu.Unlock()
		return false
	}
	l.set[symbol] = struct{}{}
	l.mu.Unlock()

	if l.store != nil {
		if err := l.store.AddBanned(symbol); err != nil {
			logger.Error("failed to persist ban for %s: %v", symbol, err)
		}
	}
	return true
}

// Unban removes a symbol from the set. Returns false if it was not banned.
func (l *List) Unban(symbol string) bool {
	l.mu.Lock()
	if _, ok := l.set[symbol]; !ok {
		l.mu.Unlock()
		return false
	}
	delete(l.set, symbol)
	l.mu.Unlock()

	if l.store != nil {
		if err := l.store.RemoveBanned(symbol); err != nil {
			logger.Error("failed to persist unban for %s: %v", symbol, err)
		}
	}
	return true
}

// Contains reports whether the symbol is banned.
func (l *List) Contains(symbol string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.set[symbol]
	return ok
}

// Symbols returns the banned symbols in sorted order.
func (l *List) Symbols() []string {
	l.mu.RLock()
	out := make([]string, 0, len(l.set))
	for s := range l.set {
		out = append(out, s)
	}
	l.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Len returns the number of banned symbols.
func (l *List) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.set)
}

// Filter returns symbols with banned entries removed.
func (l *List) Filter(symbols []string) []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if _, banned := l.set[s]; !banned {
			out = append(out, s)
		}
	}
	return out
}
