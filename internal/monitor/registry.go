package monitor

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rewired-gh/dipwatch/internal/models"
)

// UpdateOutcome carries copies of a symbol's state before and after one update.
type UpdateOutcome struct {
	Symbol  string
	Prior   models.PriceState
	Updated models.PriceState
	First   bool
}

// Registry owns every PriceState. One mutex guards the map and its entries.
type Registry struct {
	mu     sync.Mutex
	states map[string]*models.PriceState
}

func NewRegistry() *Registry {
	return &Registry{states: make(map[string]*models.PriceState)}
}

// RegisterSymbols inserts empty states for ids not yet tracked and returns how many were added.
// Existing entries keep their accumulated state.
func (r *Registry) RegisterSymbols(ids []string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	added := 0
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, exists := r.states[id]; exists {
			continue
		}
		r.states[id] = &models.PriceState{}
		added++
	}
	return added
}

// Update applies one observation. Non-positive or non-finite prices are ignored
// and reported with ok == false.
func (r *Registry) Update(symbol string, price float64, at time.Time) (UpdateOutcome, bool) {
	return r.UpdateWith(symbol, price, at, nil)
}

// UpdateWith is Update with fn run inside the critical section after the state is written.
// fn must not block.
func (r *Registry) UpdateWith(symbol string, price float64, at time.Time, fn func(UpdateOutcome)) (UpdateOutcome, bool) {
	if symbol == "" || !validPrice(price) {
		return UpdateOutcome{}, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	state, exists := r.states[symbol]
	if !exists {
		state = &models.PriceState{}
		r.states[symbol] = state
	}

	out := UpdateOutcome{Symbol: symbol, Prior: *state}

	state.CurrentPrice = price
	state.LastUpdateTime = at
	state.UpdateCount++

	if !state.HasData {
		state.MaxPrice = price
		state.MaxPriceTime = at
		state.HasData = true
		out.First = true
	} else if price > state.MaxPrice {
		state.MaxPrice = price
		state.MaxPriceTime = at
	}

	out.Updated = *state
	if fn != nil {
		fn(out)
	}
	return out, true
}

// Get returns a copy of the state for symbol.
func (r *Registry) Get(symbol string) (models.PriceState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, exists := r.states[symbol]
	if !exists {
		return models.PriceState{}, false
	}
	return *state, true
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.states)
}

// Snapshot copies every entry under the lock and returns them sorted by symbol.
func (r *Registry) Snapshot() []models.SymbolEntry {
	r.mu.Lock()
	entries := make([]models.SymbolEntry, 0, len(r.states))
	for symbol, state := range r.states {
		entries = append(entries, models.SymbolEntry{Symbol: symbol, State: *state})
	}
	r.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Symbol < entries[j].Symbol
	})
	return entries
}

func validPrice(p float64) bool {
	return p > 0 && !math.IsInf(p, 0) && !math.IsNaN(p)
}
