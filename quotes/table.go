// Package quotes holds the latest market data point per instrument and
// derives sortable views for consumers. Writes come only from the stream
// manager's inbound path; reads get consistent copies.
package quotes

import (
	"sort"
	"sync"

	"tickerflow/models"
)

// Table is a keyed last-write-wins store of the most recent MarketTick per
// symbol. Entries are never dropped except by replacement; staleness is the
// caller's concern via MarketTick.Timestamp.
type Table struct {
	mu    sync.RWMutex
	ticks map[string]models.MarketTick
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{ticks: make(map[string]models.MarketTick)}
}

// Upsert replaces the entry for the tick's symbol, inserting when absent.
func (t *Table) Upsert(tick models.MarketTick) {
	t.mu.Lock()
	t.ticks[tick.Symbol] = tick
	t.mu.Unlock()
}

// Get returns the latest tick for a symbol.
func (t *Table) Get(symbol string) (models.MarketTick, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	tick, ok := t.ticks[symbol]
	return tick, ok
}

// Len returns the number of tracked symbols.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.ticks)
}

// SortedView returns a snapshot of all ticks ordered by the chosen field and
// direction. Ties are broken by ascending symbol so the order is total and
// deterministic for identical input.
func (t *Table) SortedView(field models.SortField, direction models.SortDirection) []models.MarketTick {
	t.mu.RLock()
	view := make([]models.MarketTick, 0, len(t.ticks))
	for _, tick := range t.ticks {
		view = append(view, tick)
	}
	t.mu.RUnlock()

	desc := direction == models.SortDescending
	sort.Slice(view, func(i, j int) bool {
		a, b := view[i], view[j]
		var less bool
		switch field {
		case models.SortByPrice:
			if a.Price == b.Price {
				return a.Symbol < b.Symbol
			}
			less = a.Price < b.Price
		case models.SortByChangePct:
			if a.ChangePct == b.ChangePct {
				return a.Symbol < b.Symbol
			}
			less = a.ChangePct < b.ChangePct
		case models.SortByVolume:
			if a.Volume == b.Volume {
				return a.Symbol < b.Symbol
			}
			less = a.Volume < b.Volume
		default:
			less = a.Symbol < b.Symbol
			if desc {
				return !less
			}
			return less
		}
		if desc {
			return !less
		}
		return less
	})
	return view
}
