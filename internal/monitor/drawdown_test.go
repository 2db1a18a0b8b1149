package monitor

import (
	"math"
	"testing"
	"time"

	"github.com/rewired-gh/dipwatch/internal/models"
)

func withData(current, max float64) models.PriceState {
	return models.PriceState{
		CurrentPrice:   current,
		MaxPrice:       max,
		MaxPriceTime:   t0,
		LastUpdateTime: t0.Add(30 * time.Second),
		HasData:        true,
		UpdateCount:    5,
	}
}

func TestEvaluate(t *testing.T) {
	seeded := withData(100, 100)

	tests := []struct {
		name      string
		prior     models.PriceState
		updated   models.PriceState
		threshold float64
		wantAlert bool
		wantDip   float64
	}{
		{
			name:      "first observation never alerts",
			prior:     models.PriceState{},
			updated:   withData(1, 100),
			threshold: 20,
			wantAlert: false,
		},
		{
			name:      "exact boundary alerts",
			prior:     seeded,
			updated:   withData(80.0, 100),
			threshold: 20,
			wantAlert: true,
			wantDip:   20.0,
		},
		{
			name:      "just above boundary does not alert",
			prior:     seeded,
			updated:   withData(80.01, 100),
			threshold: 20,
			wantAlert: false,
		},
		{
			name:      "at the high never alerts",
			prior:     seeded,
			updated:   withData(100, 100),
			threshold: 20,
			wantAlert: false,
		},
		{
			name:      "zero threshold alerts below high",
			prior:     seeded,
			updated:   withData(99.99, 100),
			threshold: 0,
			wantAlert: true,
			wantDip:   0.01,
		},
		{
			name:      "zero threshold at high stays silent",
			prior:     seeded,
			updated:   withData(100, 100),
			threshold: 0,
			wantAlert: false,
		},
		{
			name:      "zero max is undefined",
			prior:     seeded,
			updated:   models.PriceState{HasData: true, CurrentPrice: 1},
			threshold: 0,
			wantAlert: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, ok := Evaluate(tt.prior, tt.updated, tt.threshold)
			if ok != tt.wantAlert {
				t.Fatalf("Evaluate() alert = %v, want %v", ok, tt.wantAlert)
			}
			if !ok {
				return
			}
			if math.Abs(ev.DipPercent-tt.wantDip) > 1e-9 {
				t.Errorf("DipPercent = %v, want %v", ev.DipPercent, tt.wantDip)
			}
			if ev.SecondsSinceMax != 30 {
				t.Errorf("SecondsSinceMax = %v, want 30", ev.SecondsSinceMax)
			}
			if ev.UpdateCount != tt.updated.UpdateCount {
				t.Errorf("UpdateCount = %d, want %d", ev.UpdateCount, tt.updated.UpdateCount)
			}
			if ev.Threshold != tt.threshold {
				t.Errorf("Threshold = %v, want %v", ev.Threshold, tt.threshold)
			}
		})
	}
}

func TestEvaluate_BoundaryIsExact(t *testing.T) {
	if dip := DipPercent(withData(80.0, 100)); dip != 20.0 {
		t.Errorf("DipPercent(80/100) = %.17g, want exactly 20", dip)
	}
}

func TestEvaluate_NonDecreasingNeverAlerts(t *testing.T) {
	r := NewRegistry()
	prices := []float64{1, 1, 1.5, 2, 2, 10, 10.0001, 500}
	for i, p := range prices {
		out, _ := r.Update("BNB_USDT", p, t0.Add(time.Duration(i)*time.Second))
		for _, threshold := range []float64{0, 0.5, 20} {
			if _, ok := Evaluate(out.Prior, out.Updated, threshold); ok {
				t.Errorf("tick %d (%v) alerted at threshold %v", i, p, threshold)
			}
		}
	}
}

func TestDipPercent_NoData(t *testing.T) {
	if DipPercent(models.PriceState{}) != 0 {
		t.Error("empty state should have zero dip")
	}
}

func TestEvaluate_PeakStampedAfterDrop(t *testing.T) {
	prior := withData(100, 100)
	updated := withData(50, 100)
	updated.LastUpdateTime = t0.Add(-2 * time.Second)

	ev, ok := Evaluate(prior, updated, 20)
	if !ok {
		t.Fatal("expected alert")
	}
	if ev.SecondsSinceMax != 0 {
		t.Errorf("SecondsSinceMax = %v, want 0", ev.SecondsSinceMax)
	}
}
