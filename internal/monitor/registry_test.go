package monitor

import (
	"fmt"
	"math"
	"sync"
	"testing"
	"time"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestRegistry_FirstObservation(t *testing.T) {
	for _, price := range []float64{0.00000001, 1, 42.5, 1e9} {
		t.Run(fmt.Sprintf("%g", price), func(t *testing.T) {
			r := NewRegistry()
			out, ok := r.Update("BTC_USDT", price, t0)
			if !ok {
				t.Fatal("update rejected")
			}
			if !out.First {
				t.Error("expected First on first observation")
			}
			if out.Prior.HasData {
				t.Error("prior should have no data")
			}
			s := out.Updated
			if s.CurrentPrice != price || s.MaxPrice != price {
				t.Errorf("current=%v max=%v, want both %v", s.CurrentPrice, s.MaxPrice, price)
			}
			if !s.HasData || s.UpdateCount != 1 {
				t.Errorf("hasData=%v updateCount=%d, want true/1", s.HasData, s.UpdateCount)
			}
			if !s.MaxPriceTime.Equal(t0) || !s.LastUpdateTime.Equal(t0) {
				t.Errorf("timestamps not set to observation time")
			}
		})
	}
}

func TestRegistry_RejectsInvalidPrices(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.Update("BTC_USDT", 100, t0); !ok {
		t.Fatal("seed update rejected")
	}

	for _, price := range []float64{0, -1, math.NaN(), math.Inf(1), math.Inf(-1)} {
		if _, ok := r.Update("BTC_USDT", price, t0.Add(time.Second)); ok {
			t.Errorf("price %v should be ignored", price)
		}
	}

	s, _ := r.Get("BTC_USDT")
	if s.UpdateCount != 1 || s.CurrentPrice != 100 {
		t.Errorf("state changed by rejected prices: %+v", s)
	}
	if _, ok := r.Update("", 10, t0); ok {
		t.Error("empty symbol should be ignored")
	}
}

func TestRegistry_MaxIsMonotonic(t *testing.T) {
	r := NewRegistry()
	prices := []float64{100, 120, 90, 130, 50, 129.99}
	wantMax := []float64{100, 120, 120, 130, 130, 130}

	for i, p := range prices {
		at := t0.Add(time.Duration(i) * time.Second)
		out, _ := r.Update("ETH_USDT", p, at)
		if out.Updated.MaxPrice != wantMax[i] {
			t.Errorf("tick %d: max=%v, want %v", i, out.Updated.MaxPrice, wantMax[i])
		}
		if out.Updated.MaxPrice < out.Prior.MaxPrice {
			t.Errorf("tick %d: max decreased", i)
		}
		if out.Updated.UpdateCount != uint64(i+1) {
			t.Errorf("tick %d: updateCount=%d", i, out.Updated.UpdateCount)
		}
	}

	s, _ := r.Get("ETH_USDT")
	if !s.MaxPriceTime.Equal(t0.Add(3 * time.Second)) {
		t.Errorf("maxPriceTime = %v, want time of 130 tick", s.MaxPriceTime)
	}
}

func TestRegistry_RegisterSymbolsIdempotent(t *testing.T) {
	r := NewRegistry()
	if n := r.RegisterSymbols([]string{"BTC_USDT", "ETH_USDT"}); n != 2 {
		t.Errorf("first register added %d, want 2", n)
	}
	r.Update("BTC_USDT", 100, t0)
	r.Update("BTC_USDT", 90, t0.Add(time.Second))

	if n := r.RegisterSymbols([]string{"ETH_USDT", "BTC_USDT", "SOL_USDT"}); n != 1 {
		t.Errorf("second register added %d, want 1", n)
	}

	s, ok := r.Get("BTC_USDT")
	if !ok {
		t.Fatal("BTC_USDT missing")
	}
	if s.UpdateCount != 2 || s.MaxPrice != 100 || s.CurrentPrice != 90 {
		t.Errorf("existing state was reset: %+v", s)
	}
	if r.Len() != 3 {
		t.Errorf("Len = %d, want 3", r.Len())
	}

	empty, _ := r.Get("SOL_USDT")
	if empty.HasData || empty.UpdateCount != 0 {
		t.Errorf("registered symbol should be empty: %+v", empty)
	}
}

func TestRegistry_SnapshotSortedCopy(t *testing.T) {
	r := NewRegistry()
	r.RegisterSymbols([]string{"SOL_USDT", "ADA_USDT"})
	r.Update("BTC_USDT", 10, t0)

	snap := r.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("snapshot has %d entries, want 3", len(snap))
	}
	want := []string{"ADA_USDT", "BTC_USDT", "SOL_USDT"}
	for i, e := range snap {
		if e.Symbol != want[i] {
			t.Errorf("entry %d = %s, want %s", i, e.Symbol, want[i])
		}
	}

	// mutating the registry afterwards must not touch the copy
	r.Update("BTC_USDT", 20, t0.Add(time.Second))
	if snap[1].State.CurrentPrice != 10 {
		t.Errorf("snapshot aliased registry state")
	}
}

func TestRegistry_UpdateWithRunsHook(t *testing.T) {
	r := NewRegistry()
	var calls int
	r.UpdateWith("BTC_USDT", 10, t0, func(out UpdateOutcome) {
		calls++
		if out.Symbol != "BTC_USDT" || !out.First {
			t.Errorf("unexpected outcome %+v", out)
		}
	})
	r.UpdateWith("BTC_USDT", -1, t0, func(UpdateOutcome) { calls++ })
	if calls != 1 {
		t.Errorf("hook called %d times, want 1", calls)
	}
}

func TestRegistry_ConcurrentUpdates(t *testing.T) {
	r := NewRegistry()
	symbols := []string{"BTC_USDT", "ETH_USDT", "SOL_USDT", "XRP_USDT"}
	const perWorker = 500

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				sym := symbols[(w+i)%len(symbols)]
				r.Update(sym, float64(1+i%50), t0.Add(time.Duration(i)*time.Millisecond))
				if i%100 == 0 {
					for _, e := range r.Snapshot() {
						if e.State.HasData && e.State.MaxPrice < e.State.CurrentPrice {
							t.Errorf("partial state observed for %s: %+v", e.Symbol, e.State)
						}
					}
				}
			}
		}(w)
	}
	wg.Wait()

	var total uint64
	for _, e := range r.Snapshot() {
		total += e.State.UpdateCount
		if e.State.MaxPrice != 50 {
			t.Errorf("%s max=%v, want 50", e.Symbol, e.State.MaxPrice)
		}
	}
	if total != 8*perWorker {
		t.Errorf("total updates = %d, want %d", total, 8*perWorker)
	}
}
