package liquidate

import (
	"context"
	"testing"
	"time"

	"github.com/mwalsh/polyflow/internal/adapters/outbound/clob_http"
	"github.com/mwalsh/polyflow/internal/config"
	"github.com/mwalsh/polyflow/internal/core/markets"
	"github.com/mwalsh/polyflow/internal/core/position"
	"github.com/mwalsh/polyflow/internal/events"
)

type fakeExchange struct {
	fills     []float64 // size matched per sell attempt, in order
	sells     []clob_http.OrderRequest
	positions []clob_http.ExchangePosition
	posCalls  int
}

func (f *fakeExchange) PlaceOrder(_ context.Context, req clob_http.OrderRequest) (*clob_http.OrderResult, error) {
	f.sells = append(f.sells, req)
	idx := len(f.sells) - 1
	matched := 0.0
	if idx < len(f.fills) {
		matched = f.fills[idx]
	}
	if matched == 0 {
		return nil, nil // IOC missed
	}
	return &clob_http.OrderResult{
		OrderID:     "sell",
		Status:      "matched",
		Price:       req.Price,
		Size:        req.Size,
		SizeMatched: matched,
	}, nil
}

func (f *fakeExchange) GetPositions(context.Context) ([]clob_http.ExchangePosition, error) {
	f.posCalls++
	return f.positions, nil
}

type env struct {
	ctrl    *Controller
	ex      *fakeExchange
	tracker *position.Tracker
	events  *[]events.LiquidationEvent
	slept   *[]time.Duration
}

func newTestEnv(t *testing.T, limits config.RiskLimits) *env {
	t.Helper()
	limits.ApplyDefaults()

	tracker, err := position.NewTracker(nil, limits)
	if err != nil {
		t.Fatal(err)
	}
	reg := markets.NewRegistry()
	if err := reg.Register(markets.TokenPair{ConditionID: "0xc", YesToken: "tok-y", NoToken: "tok-n"}); err != nil {
		t.Fatal(err)
	}

	bus := events.NewBus()
	var published []events.LiquidationEvent
	bus.Subscribe(events.EventLiquidation, func(e events.Event) error {
		published = append(published, e.Payload.(events.LiquidationEvent))
		return nil
	})

	ex := &fakeExchange{}
	ctrl := NewController(ex, tracker, reg, bus, limits)

	var slept []time.Duration
	ctrl.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	// Position timestamps are in the past relative to this clock, so
	// the post-fill grace period does not apply unless a test arranges it.
	ctrl.now = func() time.Time { return time.Now().Add(time.Hour) }

	return &env{ctrl: ctrl, ex: ex, tracker: tracker, events: &published, slept: &slept}
}

func TestLiquidateClosesAcrossPartialFills(t *testing.T) {
	e := newTestEnv(t, config.RiskLimits{})
	e.tracker.ApplyFill("0xc", markets.Yes, "BUY", 20, 0.90)

	e.ex.fills = []float64{0, 12, 8}
	outcome, err := e.ctrl.Liquidate(context.Background(), "0xc", markets.Yes, "stop loss")
	if err != nil {
		t.Fatalf("Liquidate: %v", err)
	}
	if outcome != Closed {
		t.Fatalf("outcome = %s, want closed", outcome)
	}
	if len(e.ex.sells) != 3 {
		t.Errorf("attempts = %d, want 3", len(e.ex.sells))
	}

	// Each retry sells only what is still held.
	wantSizes := []float64{20, 20, 8}
	for i, req := range e.ex.sells {
		if req.Size != wantSizes[i] {
			t.Errorf("attempt %d size = %.2f, want %.2f", i+1, req.Size, wantSizes[i])
		}
		if req.TimeInForce != clob_http.TIFFillAndKill {
			t.Errorf("attempt %d tif = %s", i+1, req.TimeInForce)
		}
		if req.Price != 0.01 {
			t.Errorf("attempt %d price = %.2f, want floor 0.01", i+1, req.Price)
		}
	}

	if _, held := e.tracker.Get("0xc", markets.Yes); held {
		t.Error("position should be flat after close")
	}
	if len(*e.events) != 1 || (*e.events)[0].Outcome != "closed" {
		t.Errorf("events = %+v", *e.events)
	}
}

func TestLiquidateExhaustsRetryBudget(t *testing.T) {
	limits := config.RiskLimits{}
	limits.ApplyDefaults()
	limits.Safety.MaxRetries = 4
	limits.Safety.SyncEvery = 100 // keep sync out of this test
	e := newTestEnv(t, limits)

	e.tracker.ApplyFill("0xc", markets.Yes, "BUY", 10, 0.90)
	// No fills at all.
	outcome, err := e.ctrl.Liquidate(context.Background(), "0xc", markets.Yes, "stop loss")
	if err == nil {
		t.Fatal("exhaustion must surface an error")
	}
	if outcome != Exhausted {
		t.Fatalf("outcome = %s, want exhausted", outcome)
	}
	if len(e.ex.sells) != 4 {
		t.Errorf("attempts = %d, want 4", len(e.ex.sells))
	}

	evts := *e.events
	if len(evts) != 1 || evts[0].Outcome != "exhausted" || evts[0].Remaining != 10 || evts[0].Attempts != 4 {
		t.Errorf("events = %+v", evts)
	}
}

func TestLiquidateFlatIsImmediatelyClosed(t *testing.T) {
	e := newTestEnv(t, config.RiskLimits{})

	outcome, err := e.ctrl.Liquidate(context.Background(), "0xc", markets.Yes, "stop loss")
	if err != nil || outcome != Closed {
		t.Fatalf("flat liquidation = %s, %v", outcome, err)
	}
	if len(e.ex.sells) != 0 {
		t.Errorf("no sells expected, got %d", len(e.ex.sells))
	}
}

func TestLiquidateSyncClampsRemaining(t *testing.T) {
	limits := config.RiskLimits{}
	limits.ApplyDefaults()
	limits.Safety.SyncEvery = 2
	limits.Safety.MaxRetries = 10
	e := newTestEnv(t, limits)

	e.tracker.ApplyFill("0xc", markets.Yes, "BUY", 10, 0.90)
	// Sells never report fills, but after the second attempt the
	// exchange says we are flat (fills landed out of band).
	e.ex.positions = []clob_http.ExchangePosition{}

	outcome, err := e.ctrl.Liquidate(context.Background(), "0xc", markets.Yes, "stop loss")
	if err != nil {
		t.Fatalf("Liquidate: %v", err)
	}
	if outcome != Closed {
		t.Fatalf("outcome = %s, want closed via sync clamp", outcome)
	}
	if len(e.ex.sells) != 2 {
		t.Errorf("attempts = %d, want 2 (clamped at first sync)", len(e.ex.sells))
	}
	if e.ex.posCalls != 1 {
		t.Errorf("position syncs = %d, want 1", e.ex.posCalls)
	}
}

func TestLiquidateSyncNeverClampsUp(t *testing.T) {
	limits := config.RiskLimits{}
	limits.ApplyDefaults()
	limits.Safety.SyncEvery = 1
	limits.Safety.MaxRetries = 2
	e := newTestEnv(t, limits)

	e.tracker.ApplyFill("0xc", markets.Yes, "BUY", 10, 0.90)
	// Exchange lags and reports more than we think we hold.
	e.ex.positions = []clob_http.ExchangePosition{{TokenID: "tok-y", Size: 50, AvgPrice: 0.9}}

	if _, err := e.ctrl.Liquidate(context.Background(), "0xc", markets.Yes, "stop loss"); err == nil {
		t.Fatal("expected exhaustion")
	}
	for _, req := range e.ex.sells {
		if req.Size > 10 {
			t.Errorf("sell size %.2f grew beyond local remaining", req.Size)
		}
	}
}

func TestLiquidateGracePeriodAfterRecentBuy(t *testing.T) {
	limits := config.RiskLimits{}
	limits.ApplyDefaults()
	limits.Safety.MaxRetries = 1
	e := newTestEnv(t, limits)

	e.tracker.ApplyFill("0xc", markets.Yes, "BUY", 5, 0.90) // UpdatedAt ~ now
	now := time.Now()
	e.ctrl.now = func() time.Time { return now }

	e.ex.fills = []float64{5}
	if _, err := e.ctrl.Liquidate(context.Background(), "0xc", markets.Yes, "flip"); err != nil {
		t.Fatal(err)
	}

	slept := *e.slept
	if len(slept) == 0 {
		t.Fatal("expected a grace period sleep before the first sell")
	}
	if slept[0] <= 0 || slept[0] > 2*time.Second {
		t.Errorf("grace sleep = %s", slept[0])
	}
}

func TestLiquidateAll(t *testing.T) {
	e := newTestEnv(t, config.RiskLimits{})
	e.tracker.ApplyFill("0xa", markets.Yes, "BUY", 5, 0.5)

	// Register the second market.
	e.ctrl.registry.Register(markets.TokenPair{ConditionID: "0xa", YesToken: "ta-y", NoToken: "ta-n"})

	e.ex.fills = []float64{5}
	if err := e.ctrl.LiquidateAll(context.Background(), "shutdown"); err != nil {
		t.Fatalf("LiquidateAll: %v", err)
	}
	if len(e.tracker.All()) != 0 {
		t.Errorf("positions remain: %+v", e.tracker.All())
	}
}
