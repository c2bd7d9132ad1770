package liquidate

import (
	"context"
	"fmt"
	"time"

	"github.com/mwalsh/polyflow/internal/adapters/outbound/clob_http"
	"github.com/mwalsh/polyflow/internal/config"
	"github.com/mwalsh/polyflow/internal/core/markets"
	"github.com/mwalsh/polyflow/internal/core/position"
	"github.com/mwalsh/polyflow/internal/events"
	"github.com/mwalsh/polyflow/internal/telemetry"
)

// Outcome is the terminal state of one liquidation run.
type Outcome string

const (
	// Closed: the position was fully exited.
	Closed Outcome = "closed"
	// Exhausted: retries ran out with shares still held. Requires
	// operator attention.
	Exhausted Outcome = "exhausted"
)

// Exchange is the slice of the exchange client liquidation needs.
type Exchange interface {
	PlaceOrder(ctx context.Context, req clob_http.OrderRequest) (*clob_http.OrderResult, error)
	GetPositions(ctx context.Context) ([]clob_http.ExchangePosition, error)
}

// Controller force-exits positions. It sells with immediate-or-cancel
// orders at the price floor, retrying until the position is flat or
// the attempt budget is gone. Periodic exchange syncs clamp the
// remaining size down when fills landed that the responses missed.
type Controller struct {
	exchange Exchange
	tracker  *position.Tracker
	registry *markets.Registry
	bus      *events.Bus
	limits   config.RiskLimits

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

func NewController(exchange Exchange, tracker *position.Tracker, registry *markets.Registry, bus *events.Bus, limits config.RiskLimits) *Controller {
	return &Controller{
		exchange: exchange,
		tracker:  tracker,
		registry: registry,
		bus:      bus,
		limits:   limits,
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Liquidate exits one position. It never treats an unfilled sell as
// fatal: immediate orders that miss are simply retried. The returned
// outcome is also published on the bus.
func (c *Controller) Liquidate(ctx context.Context, conditionID string, side markets.Side, reason string) (Outcome, error) {
	pos, held := c.tracker.Get(conditionID, side)
	if !held || pos.Shares <= 0 {
		telemetry.Infof("liquidate: %s/%s already flat", conditionID, side)
		return Closed, nil
	}

	pair, ok := c.registry.Pair(conditionID)
	if !ok {
		return Exhausted, fmt.Errorf("liquidate %s/%s: market not registered", conditionID, side)
	}
	tokenID, err := pair.Token(side)
	if err != nil {
		return Exhausted, fmt.Errorf("liquidate %s/%s: %w", conditionID, side, err)
	}
	floor := pair.SnapPrice(c.limits.Safety.FloorPrice)

	telemetry.Warnf("liquidate: triggered %s/%s shares=%.2f reason=%s", conditionID, side, pos.Shares, reason)

	// A fill that just landed may not be visible to the matching
	// engine yet. Hold off briefly before selling into it.
	if since := c.now().Sub(pos.UpdatedAt); since < c.limits.GracePeriod() {
		if err := c.sleep(ctx, c.limits.GracePeriod()-since); err != nil {
			return Exhausted, err
		}
	}

	remaining := pos.Shares
	attempts := 0

	for attempts < c.limits.Safety.MaxRetries && remaining > 0 {
		attempts++

		res, err := c.exchange.PlaceOrder(ctx, clob_http.OrderRequest{
			ConditionID: conditionID,
			TokenID:     tokenID,
			Side:        side,
			OrderSide:   "SELL",
			Price:       floor,
			Size:        remaining,
			TimeInForce: clob_http.TIFFillAndKill,
		})
		switch {
		case err != nil:
			telemetry.Warnf("liquidate: attempt %d sell failed: %v", attempts, err)
		case res == nil:
			telemetry.Debugf("liquidate: attempt %d no fill (%.2f remaining)", attempts, remaining)
		case res.SizeMatched > 0:
			matched := res.SizeMatched
			if matched > remaining {
				matched = remaining
			}
			if _, err := c.tracker.ApplyFill(conditionID, side, "SELL", matched, res.Price); err != nil {
				telemetry.Errorf("liquidate: apply fill: %v", err)
			}
			remaining -= matched
			telemetry.Infof("liquidate: attempt %d sold %.2f, %.2f remaining", attempts, matched, remaining)
		}

		if remaining <= 0 {
			break
		}

		// Periodically trust the exchange over our arithmetic, but
		// only downward. A larger reported size is more likely a lag
		// artifact than a real refill.
		if attempts%c.limits.Safety.SyncEvery == 0 {
			if size, ok := c.exchangeSize(ctx, tokenID); ok && size < remaining {
				telemetry.Infof("liquidate: sync clamped remaining %.2f -> %.2f", remaining, size)
				remaining = size
			}
		}
		if remaining <= 0 {
			break
		}

		if err := c.sleep(ctx, c.limits.SafetyRetryDelay()); err != nil {
			return Exhausted, err
		}
	}

	if remaining <= 0 {
		telemetry.Metrics.LiquidationsClosed.Inc()
		telemetry.Infof("liquidate: %s/%s closed after %d attempts", conditionID, side, attempts)
		c.publish(conditionID, side, Closed, 0, attempts, reason)
		return Closed, nil
	}

	telemetry.Metrics.LiquidationsExhausted.Inc()
	telemetry.Errorf("liquidate: %s/%s EXHAUSTED after %d attempts, %.2f shares stuck",
		conditionID, side, attempts, remaining)
	c.publish(conditionID, side, Exhausted, remaining, attempts, reason)
	return Exhausted, fmt.Errorf("liquidate %s/%s: %d attempts exhausted with %.2f remaining",
		conditionID, side, attempts, remaining)
}

func (c *Controller) exchangeSize(ctx context.Context, tokenID string) (float64, bool) {
	positions, err := c.exchange.GetPositions(ctx)
	if err != nil {
		telemetry.Warnf("liquidate: position sync failed: %v", err)
		return 0, false
	}
	c.tracker.SyncFromExchange(positions, c.registry, true)

	for _, p := range positions {
		if p.TokenID == tokenID {
			return p.Size, true
		}
	}
	// Not listed means the exchange considers us flat.
	return 0, true
}

func (c *Controller) publish(conditionID string, side markets.Side, outcome Outcome, remaining float64, attempts int, reason string) {
	c.bus.Publish(events.Event{
		ID:        conditionID,
		Type:      events.EventLiquidation,
		Market:    conditionID,
		Timestamp: c.now(),
		Payload: events.LiquidationEvent{
			ConditionID: conditionID,
			Side:        string(side),
			Outcome:     string(outcome),
			Remaining:   remaining,
			Attempts:    attempts,
			Reason:      reason,
		},
	})
}

// LiquidateAll exits every open position, continuing past individual
// failures. Returns the first error encountered.
func (c *Controller) LiquidateAll(ctx context.Context, reason string) error {
	var firstErr error
	for _, pos := range c.tracker.All() {
		if _, err := c.Liquidate(ctx, pos.ConditionID, pos.Side, reason); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
