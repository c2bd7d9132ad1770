package position

import (
	"math"
	"testing"
	"time"

	"github.com/mwalsh/polyflow/internal/adapters/outbound/clob_http"
	"github.com/mwalsh/polyflow/internal/config"
	"github.com/mwalsh/polyflow/internal/core/markets"
)

func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	limits := config.DefaultRiskLimits()
	tr, err := NewTracker(nil, limits)
	if err != nil {
		t.Fatalf("NewTracker: %v", err)
	}
	return tr
}

func almost(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestBuyFillsWeightedAverage(t *testing.T) {
	tr := newTestTracker(t)

	if _, err := tr.ApplyFill("0xc", markets.Yes, "BUY", 10, 0.30); err != nil {
		t.Fatal(err)
	}
	if _, err := tr.ApplyFill("0xc", markets.Yes, "BUY", 5, 0.60); err != nil {
		t.Fatal(err)
	}

	p, ok := tr.Get("0xc", markets.Yes)
	if !ok {
		t.Fatal("position missing")
	}
	if p.Shares != 15 {
		t.Errorf("shares = %.2f, want 15", p.Shares)
	}
	if !almost(p.AvgPrice, 0.40) {
		t.Errorf("avg price = %.4f, want 0.40", p.AvgPrice)
	}
	if !almost(p.TotalCost, 6.0) {
		t.Errorf("total cost = %.4f, want 6.0", p.TotalCost)
	}
}

func TestSellRealizesAndClamps(t *testing.T) {
	tr := newTestTracker(t)

	tr.ApplyFill("0xc", markets.Yes, "BUY", 10, 0.40)
	realized, err := tr.ApplyFill("0xc", markets.Yes, "SELL", 4, 0.55)
	if err != nil {
		t.Fatal(err)
	}
	if !almost(realized, 0.6) { // (0.55-0.40)*4
		t.Errorf("realized = %.4f, want 0.60", realized)
	}
	p, _ := tr.Get("0xc", markets.Yes)
	if p.Shares != 6 || !almost(p.AvgPrice, 0.40) {
		t.Errorf("after partial sell: %.2f @ %.4f", p.Shares, p.AvgPrice)
	}

	// Oversized sell clamps to held shares and closes the position.
	realized, err = tr.ApplyFill("0xc", markets.Yes, "SELL", 100, 0.50)
	if err != nil {
		t.Fatal(err)
	}
	if !almost(realized, 0.6) { // (0.50-0.40)*6
		t.Errorf("clamped realized = %.4f, want 0.60", realized)
	}
	if _, ok := tr.Get("0xc", markets.Yes); ok {
		t.Error("position should be closed")
	}
}

func TestSellOnFlatIgnored(t *testing.T) {
	tr := newTestTracker(t)
	realized, err := tr.ApplyFill("0xc", markets.No, "SELL", 5, 0.50)
	if err != nil || realized != 0 {
		t.Errorf("flat sell: realized=%.2f err=%v", realized, err)
	}
}

func TestPeakAndTrailingStop(t *testing.T) {
	limits := config.DefaultRiskLimits()
	limits.Safety.TrailingActivation = 0.90
	limits.Safety.TrailingDistance = 0.05
	tr, _ := NewTracker(nil, limits)

	tr.ApplyFill("0xc", markets.Yes, "BUY", 10, 0.80)
	tr.UpdatePeak("0xc", markets.Yes, 0.85)
	if tr.TrailingStopHit("0xc", markets.Yes, 0.79) {
		t.Error("stop must not arm below activation")
	}

	tr.UpdatePeak("0xc", markets.Yes, 0.92)
	if tr.TrailingStopHit("0xc", markets.Yes, 0.88) {
		t.Error("price above peak-distance must not fire")
	}
	if !tr.TrailingStopHit("0xc", markets.Yes, 0.87) {
		t.Error("armed stop should fire at peak-distance")
	}

	// Peak never lowers.
	if peak := tr.UpdatePeak("0xc", markets.Yes, 0.50); !almost(peak, 0.92) {
		t.Errorf("peak = %.2f, want 0.92", peak)
	}
}

func TestStopLossHit(t *testing.T) {
	limits := config.DefaultRiskLimits()
	limits.Safety.StopLossPrice = 0.50
	tr, _ := NewTracker(nil, limits)

	if tr.StopLossHit("0xc", markets.Yes, 0.40) {
		t.Error("flat position must not fire")
	}

	tr.ApplyFill("0xc", markets.Yes, "BUY", 10, 0.60)
	if tr.StopLossHit("0xc", markets.Yes, 0.51) {
		t.Error("bid above the stop level must not fire")
	}
	if !tr.StopLossHit("0xc", markets.Yes, 0.50) {
		t.Error("bid at the stop level should fire")
	}
	if !tr.StopLossHit("0xc", markets.Yes, 0.35) {
		t.Error("bid below the stop level should fire")
	}

	// The hard stop is independent of the trailing stop's arming.
	if tr.TrailingStopHit("0xc", markets.Yes, 0.35) {
		t.Error("trailing stop must not be armed without a peak")
	}
}

func testRegistry(t *testing.T) *markets.Registry {
	t.Helper()
	r := markets.NewRegistry()
	if err := r.Register(markets.TokenPair{ConditionID: "0xc", YesToken: "tok-y", NoToken: "tok-n"}); err != nil {
		t.Fatal(err)
	}
	return r
}

func TestSyncFromExchange(t *testing.T) {
	tr := newTestTracker(t)
	reg := testRegistry(t)

	tr.ApplyFill("0xc", markets.Yes, "BUY", 10, 0.40)

	synced := tr.SyncFromExchange([]clob_http.ExchangePosition{
		{TokenID: "tok-y", Size: 7, AvgPrice: 0.40},
		{TokenID: "tok-n", Size: 3, AvgPrice: 0.55},
	}, reg, true)
	if !synced {
		t.Fatal("forced sync did not run")
	}

	yes, _ := tr.Get("0xc", markets.Yes)
	if yes.Shares != 7 {
		t.Errorf("yes shares = %.2f, want 7 (exchange view wins)", yes.Shares)
	}
	no, ok := tr.Get("0xc", markets.No)
	if !ok || no.Shares != 3 || !almost(no.AvgPrice, 0.55) {
		t.Errorf("adopted no position = %+v", no)
	}
}

func TestSyncDropsPositionsExchangeLacks(t *testing.T) {
	tr := newTestTracker(t)
	reg := testRegistry(t)

	tr.ApplyFill("0xc", markets.Yes, "BUY", 10, 0.40)
	tr.SyncFromExchange([]clob_http.ExchangePosition{}, reg, true)

	if _, ok := tr.Get("0xc", markets.Yes); ok {
		t.Error("position not held on exchange should be dropped")
	}
}

func TestSyncNilSnapshotIsNoOp(t *testing.T) {
	tr := newTestTracker(t)
	reg := testRegistry(t)

	tr.ApplyFill("0xc", markets.Yes, "BUY", 10, 0.40)
	if tr.SyncFromExchange(nil, reg, true) {
		t.Error("nil snapshot must not sync")
	}
	if _, ok := tr.Get("0xc", markets.Yes); !ok {
		t.Error("ledger wiped on nil snapshot")
	}
}

func TestSyncThrottled(t *testing.T) {
	tr := newTestTracker(t)
	reg := testRegistry(t)

	current := time.Unix(1_700_000_000, 0)
	tr.now = func() time.Time { return current }

	if !tr.SyncFromExchange([]clob_http.ExchangePosition{}, reg, false) {
		t.Fatal("first sync should run")
	}
	current = current.Add(500 * time.Millisecond) // default interval is 2s
	if tr.SyncFromExchange([]clob_http.ExchangePosition{}, reg, false) {
		t.Error("sync inside the interval should be throttled")
	}
	if !tr.SyncFromExchange([]clob_http.ExchangePosition{}, reg, true) {
		t.Error("forced sync must bypass the throttle")
	}
}

func TestDetectArbitrageLong(t *testing.T) {
	tr := newTestTracker(t) // min edge 0.02

	arb := tr.DetectArbitrage("0xc", 0.46, 0.50, 0, 0)
	if arb == nil {
		t.Fatal("expected long arbitrage at 0.46+0.50")
	}
	if arb.Direction != "long" || !almost(arb.Edge, 0.04) {
		t.Errorf("arb = %+v", arb)
	}

	if arb := tr.DetectArbitrage("0xc", 0.49, 0.50, 0, 0); arb != nil {
		t.Errorf("edge 0.01 below minimum, got %+v", arb)
	}
}

func TestDetectArbitrageShortNeedsBothHoldings(t *testing.T) {
	tr := newTestTracker(t)

	if arb := tr.DetectArbitrage("0xc", 0, 0, 0.53, 0.52); arb != nil {
		t.Errorf("short arb without holdings = %+v", arb)
	}

	tr.ApplyFill("0xc", markets.Yes, "BUY", 5, 0.40)
	tr.ApplyFill("0xc", markets.No, "BUY", 5, 0.40)
	arb := tr.DetectArbitrage("0xc", 0, 0, 0.53, 0.52)
	if arb == nil || arb.Direction != "short" || !almost(arb.Edge, 0.05) {
		t.Errorf("arb = %+v", arb)
	}
}

func TestShouldFlipAndInstructions(t *testing.T) {
	tr := newTestTracker(t) // min confidence 0.6

	tr.ApplyFill("0xc", markets.No, "BUY", 8, 0.45)

	if tr.ShouldFlip("0xc", markets.Yes, 0.5) {
		t.Error("confidence below threshold must not flip")
	}
	if !tr.ShouldFlip("0xc", markets.Yes, 0.7) {
		t.Error("strong opposite signal should flip")
	}
	if tr.ShouldFlip("0xc", markets.No, 0.9) {
		t.Error("signal for the held side must not flip")
	}

	flip := tr.FlipInstructions("0xc", markets.Yes)
	if flip == nil {
		t.Fatal("expected flip instructions")
	}
	if flip.SellSide != markets.No || flip.SellShares != 8 || flip.BuySide != markets.Yes {
		t.Errorf("flip = %+v", flip)
	}

	if flip := tr.FlipInstructions("0xc", markets.No); flip != nil {
		t.Errorf("nothing to flip toward held side, got %+v", flip)
	}
}
