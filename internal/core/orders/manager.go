package orders

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mwalsh/polyflow/internal/adapters/outbound/clob_http"
	"github.com/mwalsh/polyflow/internal/config"
	"github.com/mwalsh/polyflow/internal/events"
	"github.com/mwalsh/polyflow/internal/telemetry"
)

// Record is one order the manager is tracking.
type Record struct {
	OrderID     string
	Req         clob_http.OrderRequest
	Status      string
	SizeMatched float64
	PlacedAt    time.Time
}

// Terminal reports whether the order can no longer fill.
func (r *Record) Terminal() bool {
	switch r.Status {
	case "matched", "canceled", "closed", "unmatched":
		return true
	}
	return false
}

// Manager tracks resting orders and enforces account-level gates: the
// open-order ceiling and the daily realized-loss cutoff. All order
// placement flows through it.
type Manager struct {
	exchange Exchange
	bus      *events.Bus
	limits   config.RiskLimits

	mu       sync.Mutex
	open     map[string]*Record
	dailyPnL decimal.Decimal
	pnlDay   string

	now func() time.Time
}

func NewManager(exchange Exchange, bus *events.Bus, limits config.RiskLimits) *Manager {
	return &Manager{
		exchange: exchange,
		bus:      bus,
		limits:   limits,
		open:     make(map[string]*Record),
		now:      time.Now,
	}
}

// RecordPnL folds a realized trade result into today's running total.
// The total rolls over at local midnight.
func (m *Manager) RecordPnL(delta decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollDayLocked()
	m.dailyPnL = m.dailyPnL.Add(delta)
}

// DailyPnL returns today's realized result.
func (m *Manager) DailyPnL() decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollDayLocked()
	return m.dailyPnL
}

// caller must hold mu
func (m *Manager) rollDayLocked() {
	day := m.now().Format("2006-01-02")
	if day != m.pnlDay {
		if m.pnlDay != "" {
			telemetry.Infof("orders: daily P&L rollover, %s closed at %s", m.pnlDay, m.dailyPnL)
		}
		m.pnlDay = day
		m.dailyPnL = decimal.Zero
	}
}

// CanPlaceOrder checks the account gates without touching the
// exchange. A nil error means an order may be submitted right now.
func (m *Manager) CanPlaceOrder() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.canPlaceLocked(1)
}

// caller must hold mu
func (m *Manager) canPlaceLocked(n int) error {
	m.rollDayLocked()

	if limit := m.limits.Orders.MaxDailyLoss; limit != config.DailyLossDisabled {
		if m.dailyPnL.LessThanOrEqual(decimal.NewFromFloat(limit)) {
			return fmt.Errorf("daily loss limit reached: pnl=%s limit=%.2f", m.dailyPnL, limit)
		}
	}

	resting := 0
	for _, rec := range m.open {
		if !rec.Terminal() {
			resting++
		}
	}
	if resting+n > m.limits.Orders.MaxOpenOrders {
		return fmt.Errorf("open order ceiling: %d resting + %d new > %d", resting, n, m.limits.Orders.MaxOpenOrders)
	}
	return nil
}

// PlaceLimitOrder submits one order through the gates. For immediate
// time-in-force a (nil, nil) return means no fill, matching the
// exchange client's convention.
func (m *Manager) PlaceLimitOrder(ctx context.Context, req clob_http.OrderRequest) (*clob_http.OrderResult, error) {
	m.mu.Lock()
	if err := m.canPlaceLocked(1); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.mu.Unlock()

	start := m.now()
	res, err := m.exchange.PlaceOrder(ctx, req)
	if err != nil {
		return nil, err
	}
	telemetry.Metrics.OrderE2ELatency.Record(time.Since(start))
	if res == nil {
		return nil, nil
	}

	m.track(res, req)
	return res, nil
}

// PlaceBatchOrders submits a batch through the gates. The whole batch
// counts against the open-order ceiling up front.
func (m *Manager) PlaceBatchOrders(ctx context.Context, reqs []clob_http.OrderRequest) ([]*clob_http.OrderResult, error) {
	if len(reqs) == 0 {
		return nil, nil
	}

	m.mu.Lock()
	if err := m.canPlaceLocked(len(reqs)); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.mu.Unlock()

	results, err := m.exchange.PlaceBatch(ctx, reqs)
	for i, res := range results {
		if res != nil {
			m.track(res, reqs[i])
		}
	}
	return results, err
}

func (m *Manager) track(res *clob_http.OrderResult, req clob_http.OrderRequest) {
	rec := &Record{
		OrderID:     res.OrderID,
		Req:         req,
		Status:      res.Status,
		SizeMatched: res.SizeMatched,
		PlacedAt:    m.now(),
	}

	m.mu.Lock()
	m.open[res.OrderID] = rec
	m.updateGaugeLocked()
	m.mu.Unlock()

	m.bus.Publish(events.Event{
		ID:        res.OrderID,
		Type:      events.EventOrderPlaced,
		Market:    req.ConditionID,
		Timestamp: m.now(),
		Payload: events.OrderPlacedEvent{
			OrderID:     res.OrderID,
			ConditionID: req.ConditionID,
			Side:        string(req.Side),
			OrderSide:   req.OrderSide,
			Price:       req.Price,
			Size:        req.Size,
			TimeInForce: req.TimeInForce,
		},
	})

	if res.SizeMatched > 0 {
		m.publishFill(rec, res.SizeMatched)
	}
}

func (m *Manager) publishFill(rec *Record, shares float64) {
	telemetry.Metrics.FillsApplied.Inc()
	m.bus.Publish(events.Event{
		ID:        rec.OrderID,
		Type:      events.EventFill,
		Market:    rec.Req.ConditionID,
		Timestamp: m.now(),
		Payload: events.FillEvent{
			OrderID:     rec.OrderID,
			ConditionID: rec.Req.ConditionID,
			Side:        string(rec.Req.Side),
			OrderSide:   rec.Req.OrderSide,
			Shares:      shares,
			Price:       rec.Req.Price,
		},
	})
}

// CancelStaleOrders cancels resting orders older than the configured
// stale timeout. Returns how many cancels were issued.
func (m *Manager) CancelStaleOrders(ctx context.Context) int {
	cutoff := m.now().Add(-m.limits.StaleOrderTimeout())

	m.mu.Lock()
	var stale []*Record
	for _, rec := range m.open {
		if !rec.Terminal() && rec.PlacedAt.Before(cutoff) {
			stale = append(stale, rec)
		}
	}
	m.mu.Unlock()

	cancelled := 0
	for _, rec := range stale {
		if err := m.exchange.CancelOrder(ctx, rec.OrderID); err != nil {
			telemetry.Warnf("orders: stale cancel %s failed: %v", rec.OrderID, err)
			continue
		}
		m.mu.Lock()
		rec.Status = "canceled"
		m.updateGaugeLocked()
		m.mu.Unlock()
		cancelled++
	}
	if cancelled > 0 {
		telemetry.Infof("orders: canceled %d stale orders", cancelled)
	}
	return cancelled
}

// CancelAllForMarket cancels every resting order on both outcome
// tokens of one market.
func (m *Manager) CancelAllForMarket(ctx context.Context, conditionID string, tokenIDs ...string) error {
	for _, tok := range tokenIDs {
		if err := m.exchange.CancelMarketOrders(ctx, tok); err != nil {
			return fmt.Errorf("cancel market %s token %s: %w", conditionID, tok, err)
		}
	}

	m.mu.Lock()
	for _, rec := range m.open {
		if rec.Req.ConditionID == conditionID && !rec.Terminal() {
			rec.Status = "canceled"
		}
	}
	m.updateGaugeLocked()
	m.mu.Unlock()
	return nil
}

// RefreshStatuses reconciles tracked orders against the exchange's
// open-order list. Fills detected as a grown matched size publish fill
// events. A tracked order the exchange no longer lists is marked
// closed; without fill confirmation it must not be treated as matched.
func (m *Manager) RefreshStatuses(ctx context.Context) error {
	listed, err := m.exchange.GetOpenOrders(ctx, "")
	if err != nil {
		return fmt.Errorf("refresh statuses: %w", err)
	}

	byID := make(map[string]clob_http.OpenOrder, len(listed))
	for _, o := range listed {
		byID[o.OrderID] = o
	}

	type fill struct {
		rec   *Record
		delta float64
	}
	var fills []fill

	m.mu.Lock()
	for id, rec := range m.open {
		if rec.Terminal() {
			continue
		}
		if o, ok := byID[id]; ok {
			if o.SizeMatched > rec.SizeMatched {
				fills = append(fills, fill{rec, o.SizeMatched - rec.SizeMatched})
				rec.SizeMatched = o.SizeMatched
			}
			if o.Status != "" {
				rec.Status = o.Status
			}
			continue
		}
		// Gone from the exchange with no terminal status seen.
		telemetry.Warnf("orders: %s missing from exchange open list, marking closed", id)
		rec.Status = "closed"
	}
	m.updateGaugeLocked()
	m.mu.Unlock()

	for _, f := range fills {
		m.publishFill(f.rec, f.delta)
	}
	return nil
}

// Open returns a snapshot of non-terminal tracked orders.
func (m *Manager) Open() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, 0, len(m.open))
	for _, rec := range m.open {
		if !rec.Terminal() {
			out = append(out, *rec)
		}
	}
	return out
}

// Prune drops terminal records from the table.
func (m *Manager) Prune() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, rec := range m.open {
		if rec.Terminal() {
			delete(m.open, id)
		}
	}
	m.updateGaugeLocked()
}

// caller must hold mu
func (m *Manager) updateGaugeLocked() {
	resting := 0
	for _, rec := range m.open {
		if !rec.Terminal() {
			resting++
		}
	}
	telemetry.Metrics.OpenOrders.Set(int64(resting))
}
