package position

import (
	"fmt"
	"sync"
	"time"

	"github.com/mwalsh/polyflow/internal/adapters/outbound/clob_http"
	"github.com/mwalsh/polyflow/internal/config"
	"github.com/mwalsh/polyflow/internal/core/markets"
	"github.com/mwalsh/polyflow/internal/telemetry"
)

// Position is one side of one market's holdings.
type Position struct {
	ConditionID string
	Side        markets.Side
	Shares      float64
	AvgPrice    float64
	TotalCost   float64
	PeakPrice   float64
	UpdatedAt   time.Time
}

func sideFromString(s string) markets.Side {
	if side, ok := markets.NormalizeOutcome(s); ok {
		return side
	}
	return markets.Side(s)
}

func key(conditionID string, side markets.Side) string {
	return conditionID + "|" + string(side)
}

// Tracker is the local position ledger. Fills mutate it, every
// mutation writes through to the store, and a throttled exchange sync
// reconciles drift. It is the single source of truth the liquidation
// and flip logic read from.
type Tracker struct {
	store  *Store
	limits config.RiskLimits

	mu        sync.Mutex
	positions map[string]*Position
	lastSync  time.Time

	now func() time.Time
}

func NewTracker(store *Store, limits config.RiskLimits) (*Tracker, error) {
	t := &Tracker{
		store:     store,
		limits:    limits,
		positions: make(map[string]*Position),
		now:       time.Now,
	}

	loaded, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load positions: %w", err)
	}
	for i := range loaded {
		p := loaded[i]
		t.positions[key(p.ConditionID, p.Side)] = &p
	}
	if len(loaded) > 0 {
		telemetry.Infof("position: restored %d positions from ledger", len(loaded))
	}
	return t, nil
}

// Get returns a copy of one position, or ok=false when flat.
func (t *Tracker) Get(conditionID string, side markets.Side) (Position, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.positions[key(conditionID, side)]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

// All returns a copy of every open position.
func (t *Tracker) All() []Position {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Position, 0, len(t.positions))
	for _, p := range t.positions {
		out = append(out, *p)
	}
	return out
}

// ApplyFill folds one confirmed fill into the ledger. Buys grow the
// position at a weighted average price; sells reduce it, clamped at
// zero, and return the realized P&L of the shares sold.
func (t *Tracker) ApplyFill(conditionID string, side markets.Side, orderSide string, shares, price float64) (realized float64, err error) {
	if shares <= 0 {
		return 0, fmt.Errorf("fill shares %.4f must be positive", shares)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	k := key(conditionID, side)
	p, ok := t.positions[k]

	switch orderSide {
	case "BUY":
		if !ok {
			p = &Position{ConditionID: conditionID, Side: side}
			t.positions[k] = p
		}
		p.TotalCost += shares * price
		p.Shares += shares
		p.AvgPrice = p.TotalCost / p.Shares
		p.UpdatedAt = t.now()

	case "SELL":
		if !ok || p.Shares <= 0 {
			telemetry.Warnf("position: sell fill on flat %s/%s ignored", conditionID, side)
			return 0, nil
		}
		sold := shares
		if sold > p.Shares {
			telemetry.Warnf("position: sell fill %.2f exceeds held %.2f on %s/%s, clamping",
				shares, p.Shares, conditionID, side)
			sold = p.Shares
		}
		realized = (price - p.AvgPrice) * sold
		p.Shares -= sold
		p.TotalCost = p.AvgPrice * p.Shares
		p.UpdatedAt = t.now()
		if p.Shares <= 0 {
			delete(t.positions, k)
		}

	default:
		return 0, fmt.Errorf("bad order side %q", orderSide)
	}

	telemetry.Metrics.FillsApplied.Inc()
	// Persist while still holding the lock so two concurrent fills
	// cannot land their writes in the store in the opposite order.
	if err := t.store.Upsert(*p); err != nil {
		telemetry.Errorf("position: persist %s/%s: %v", conditionID, side, err)
	}
	t.store.RecordTrade(conditionID, string(side), orderSide, shares, price, realized, t.now())
	return realized, nil
}

// UpdatePeak raises the position's peak observed price, for trailing
// stop arming. Returns the current peak.
func (t *Tracker) UpdatePeak(conditionID string, side markets.Side, price float64) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.positions[key(conditionID, side)]
	if !ok {
		return 0
	}
	if price > p.PeakPrice {
		p.PeakPrice = price
	}
	if err := t.store.Upsert(*p); err != nil {
		telemetry.Errorf("position: persist peak %s/%s: %v", conditionID, side, err)
	}
	return p.PeakPrice
}

// StopLossHit reports whether the hard stop should fire: the position
// is held and the current exit price has fallen to or below the
// configured stop-loss level.
func (t *Tracker) StopLossHit(conditionID string, side markets.Side, price float64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.positions[key(conditionID, side)]
	if !ok || p.Shares <= 0 {
		return false
	}
	return price <= t.limits.Safety.StopLossPrice
}

// TrailingStopHit reports whether the trailing stop should fire: the
// peak has reached the activation price and the current price has
// fallen by at least the configured distance.
func (t *Tracker) TrailingStopHit(conditionID string, side markets.Side, price float64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.positions[key(conditionID, side)]
	if !ok || p.Shares <= 0 {
		return false
	}
	if p.PeakPrice < t.limits.Safety.TrailingActivation {
		return false
	}
	return price <= p.PeakPrice-t.limits.Safety.TrailingDistance
}

// SyncFromExchange reconciles the ledger against the exchange's view.
// A nil snapshot (failed fetch upstream) is a no-op: the ledger is
// never wiped on bad data. Syncs are throttled to the configured
// interval unless force is set. Returns whether a sync ran.
func (t *Tracker) SyncFromExchange(exchange []clob_http.ExchangePosition, registry *markets.Registry, force bool) bool {
	if exchange == nil {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if !force && now.Sub(t.lastSync) < t.limits.SyncInterval() {
		return false
	}
	t.lastSync = now

	seen := make(map[string]bool)
	var dirty []Position

	for _, ep := range exchange {
		cond, ok := registry.ConditionOf(ep.TokenID)
		if !ok {
			cond = ep.ConditionID
		}
		side, ok := registry.SideOf(ep.TokenID)
		if !ok {
			telemetry.Debugf("position: sync skipping unknown asset %s", ep.TokenID)
			continue
		}
		if cond == "" {
			continue
		}

		k := key(cond, side)
		seen[k] = true

		p, held := t.positions[k]
		switch {
		case !held && ep.Size > 0:
			p = &Position{
				ConditionID: cond,
				Side:        side,
				Shares:      ep.Size,
				AvgPrice:    ep.AvgPrice,
				TotalCost:   ep.Size * ep.AvgPrice,
				UpdatedAt:   now,
			}
			t.positions[k] = p
			telemetry.Infof("position: sync adopted %s/%s %.2f@%.3f", cond, side, ep.Size, ep.AvgPrice)
			dirty = append(dirty, *p)
		case held && ep.Size != p.Shares:
			telemetry.Infof("position: sync adjusting %s/%s %.2f -> %.2f", cond, side, p.Shares, ep.Size)
			p.Shares = ep.Size
			p.TotalCost = p.AvgPrice * p.Shares
			p.UpdatedAt = now
			if p.Shares <= 0 {
				delete(t.positions, k)
			}
			dirty = append(dirty, *p)
		}
	}

	// Ledger entries the exchange no longer reports are gone.
	for k, p := range t.positions {
		if !seen[k] {
			telemetry.Infof("position: sync dropping %s/%s (not held on exchange)", p.ConditionID, p.Side)
			gone := *p
			gone.Shares = 0
			dirty = append(dirty, gone)
			delete(t.positions, k)
		}
	}

	for _, p := range dirty {
		if err := t.store.Upsert(p); err != nil {
			telemetry.Errorf("position: persist sync %s/%s: %v", p.ConditionID, p.Side, err)
		}
	}

	telemetry.Metrics.PositionSyncs.Inc()
	return true
}

// Arbitrage is a detected riskless pairing of the two outcome books.
type Arbitrage struct {
	ConditionID string
	Direction   string // "long" buys both sides, "short" sells both
	Edge        float64
}

// DetectArbitrage checks both directions of the YES/NO pairing: buying
// both sides for less than 1.00, or selling both sides (when held) for
// more than 1.00, with at least the configured edge.
func (t *Tracker) DetectArbitrage(conditionID string, yesAsk, noAsk, yesBid, noBid float64) *Arbitrage {
	minEdge := t.limits.Arbitrage.MinEdge

	if yesAsk > 0 && noAsk > 0 {
		if edge := 1 - (yesAsk + noAsk); edge >= minEdge {
			telemetry.Metrics.ArbOpportunities.Inc()
			return &Arbitrage{ConditionID: conditionID, Direction: "long", Edge: edge}
		}
	}

	if yesBid > 0 && noBid > 0 {
		yes, hasYes := t.Get(conditionID, markets.Yes)
		no, hasNo := t.Get(conditionID, markets.No)
		if hasYes && hasNo && yes.Shares > 0 && no.Shares > 0 {
			if edge := (yesBid + noBid) - 1; edge >= minEdge {
				telemetry.Metrics.ArbOpportunities.Inc()
				return &Arbitrage{ConditionID: conditionID, Direction: "short", Edge: edge}
			}
		}
	}
	return nil
}

// Flip describes switching a holding to the opposite outcome.
type Flip struct {
	ConditionID string
	SellSide    markets.Side
	SellShares  float64
	BuySide     markets.Side
}

// ShouldFlip reports whether a directional signal for signalSide is
// strong enough to abandon a holding on the opposite side.
func (t *Tracker) ShouldFlip(conditionID string, signalSide markets.Side, confidence float64) bool {
	if confidence < t.limits.Arbitrage.MinConfidenceFlip {
		return false
	}
	held, ok := t.Get(conditionID, signalSide.Opposite())
	return ok && held.Shares > 0
}

// FlipInstructions returns the sell-then-buy pair that moves the
// holding to signalSide, or nil when there is nothing to flip.
func (t *Tracker) FlipInstructions(conditionID string, signalSide markets.Side) *Flip {
	held, ok := t.Get(conditionID, signalSide.Opposite())
	if !ok || held.Shares <= 0 {
		return nil
	}
	return &Flip{
		ConditionID: conditionID,
		SellSide:    held.Side,
		SellShares:  held.Shares,
		BuySide:     signalSide,
	}
}
