package models

import (
	"errors"
	"math"
	"time"
)

// AlertEvent is emitted once per update whose drawdown reaches the threshold.
type AlertEvent struct {
	ID              string    `json:"id"`
	Symbol          string    `json:"symbol"`
	CurrentPrice    float64   `json:"current_price"`
	MaxPrice        float64   `json:"max_price"`
	DipPercent      float64   `json:"dip_percent"`
	SecondsSinceMax float64   `json:"seconds_since_max"`
	UpdateCount     uint64    `json:"update_count"`
	Threshold       float64   `json:"threshold_percent"`
	EmittedAt       time.Time `json:"emitted_at"`
}

// Validate checks alert field constraints.
func (a *AlertEvent) Validate() error {
	if a.ID == "" {
		return errors.New("alert ID must not be empty")
	}
	if a.Symbol == "" {
		return errors.New("alert symbol must not be empty")
	}
	if !(a.CurrentPrice > 0) || math.IsInf(a.CurrentPrice, 0) {
		return errors.New("current price must be positive and finite")
	}
	if a.MaxPrice < a.CurrentPrice {
		return errors.New("max price must be >= current price")
	}
	if a.DipPercent < 0 || a.DipPercent > 100 {
		return errors.New("dip percent must be between 0 and 100")
	}
	if a.SecondsSinceMax < 0 {
		return errors.New("seconds since max must not be negative")
	}
	if a.UpdateCount == 0 {
		return errors.New("update count must be at least 1")
	}
	if a.EmittedAt.IsZero() {
		return errors.New("emitted at must be set")
	}
	return nil
}
