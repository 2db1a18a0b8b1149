package monitor

import (
	"github.com/rewired-gh/dipwatch/internal/models"
)

const DefaultThreshold = 20.0

// DipPercent is the decline of CurrentPrice below MaxPrice in percent.
// It is 0 when the state has no usable peak or sits at the peak.
func DipPercent(s models.PriceState) float64 {
	if !s.HasData || s.MaxPrice <= 0 || s.CurrentPrice >= s.MaxPrice {
		return 0
	}
	// multiply first so that e.g. 100 -> 80 is exactly 20
	return (s.MaxPrice - s.CurrentPrice) * 100 / s.MaxPrice
}

// Evaluate decides whether the transition prior -> updated is alert-worthy.
// The returned event has no ID or EmittedAt; the caller stamps both.
func Evaluate(prior, updated models.PriceState, thresholdPercent float64) (models.AlertEvent, bool) {
	if !prior.HasData {
		return models.AlertEvent{}, false
	}
	if updated.MaxPrice <= 0 || updated.CurrentPrice >= updated.MaxPrice {
		return models.AlertEvent{}, false
	}

	dip := DipPercent(updated)
	if dip < thresholdPercent {
		return models.AlertEvent{}, false
	}

	// ticks stamped by the local clock and by the feed can arrive out of order
	sinceMax := updated.LastUpdateTime.Sub(updated.MaxPriceTime).Seconds()
	if sinceMax < 0 {
		sinceMax = 0
	}

	return models.AlertEvent{
		CurrentPrice:    updated.CurrentPrice,
		MaxPrice:        updated.MaxPrice,
		DipPercent:      dip,
		SecondsSinceMax: sinceMax,
		UpdateCount:     updated.UpdateCount,
		Threshold:       thresholdPercent,
	}, true
}
