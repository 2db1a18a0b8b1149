// Package models defines the core domain entities: price state, alerts, snapshots and feed events.
package models

import (
	"time"
)

// PriceState is the per-symbol record kept by the registry.
// MaxPrice never decreases over the lifetime of a state.
type PriceState struct {
	CurrentPrice   float64   `json:"current_price"`
	MaxPrice       float64   `json:"max_price"`
	MaxPriceTime   time.Time `json:"max_price_time"`
	LastUpdateTime time.Time `json:"last_update_time"`
	HasData        bool      `json:"has_data"`
	UpdateCount    uint64    `json:"update_count"`
}

// Active reports whether the state holds a positive price.
func (s PriceState) Active() bool {
	return s.HasData && s.CurrentPrice > 0
}

type SymbolEntry struct {
	Symbol string     `json:"symbol"`
	State  PriceState `json:"state"`
}

// StatsView is a read-only aggregate over one registry snapshot.
type StatsView struct {
	TotalSymbols     int           `json:"total_symbols"`
	SymbolsWithData  int           `json:"symbols_with_data"`
	ActiveSymbols    int           `json:"active_symbols"`
	ThresholdPercent float64       `json:"threshold_percent"`
	StartedAt        time.Time     `json:"started_at"`
	Uptime           time.Duration `json:"uptime"`
	TakenAt          time.Time     `json:"taken_at"`
	Entries          []SymbolEntry `json:"entries,omitempty"`
}

// NewStatsView counts entries and stamps timing fields.
func NewStatsView(entries []SymbolEntry, threshold float64, startedAt, now time.Time) StatsView {
	view := StatsView{
		TotalSymbols:     len(entries),
		ThresholdPercent: threshold,
		StartedAt:        startedAt,
		Uptime:           now.Sub(startedAt),
		TakenAt:          now,
		Entries:          entries,
	}
	for _, e := range entries {
		if e.State.HasData {
			view.SymbolsWithData++
			if e.State.CurrentPrice > 0 {
				view.ActiveSymbols++
			}
		}
	}
	return view
}
