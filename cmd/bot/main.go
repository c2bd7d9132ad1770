package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mwalsh/polyflow/internal/adapters/inbound/market_ws"
	"github.com/mwalsh/polyflow/internal/adapters/outbound/clob_http"
	"github.com/mwalsh/polyflow/internal/adapters/outbound/gamma_http"
	"github.com/mwalsh/polyflow/internal/adapters/poly_auth"
	"github.com/mwalsh/polyflow/internal/config"
	"github.com/mwalsh/polyflow/internal/core/claims"
	"github.com/mwalsh/polyflow/internal/core/liquidate"
	"github.com/mwalsh/polyflow/internal/core/markets"
	"github.com/mwalsh/polyflow/internal/core/orders"
	"github.com/mwalsh/polyflow/internal/core/position"
	"github.com/mwalsh/polyflow/internal/core/ratelimit"
	"github.com/mwalsh/polyflow/internal/core/retry"
	"github.com/mwalsh/polyflow/internal/events"
	"github.com/mwalsh/polyflow/internal/telemetry"
)

const (
	discoverEvery = time.Minute
	claimCooldown = 6 * time.Hour
)

func main() {
	cfg := config.Load()
	if cfg.LogFile != "" {
		telemetry.InitWithFile(telemetry.ParseLogLevel(cfg.LogLevel), cfg.LogFile)
	} else {
		telemetry.Init(telemetry.ParseLogLevel(cfg.LogLevel))
	}
	telemetry.Infof("Starting trading engine")

	bus := events.NewBus()

	// ── Risk limits ─────────────────────────────────────────────
	riskLimits, err := config.LoadRiskLimits(cfg.RiskLimitsPath)
	if err != nil {
		telemetry.Warnf("Risk limits: %v (using defaults)", err)
		riskLimits = config.DefaultRiskLimits()
	}

	// ── Exchange auth + clients ─────────────────────────────────
	signer, err := poly_auth.NewSigner(cfg.WalletAddress, poly_auth.Creds{
		APIKey:     cfg.APIKey,
		Secret:     cfg.APISecret,
		Passphrase: cfg.APIPassphrase,
	}, nil)
	if err != nil {
		telemetry.Errorf("Exchange auth: %v", err)
		os.Exit(1)
	}
	if !signer.Enabled() {
		telemetry.Warnf("No API credentials set, running read-only against public endpoints")
	}

	limiter := ratelimit.New(
		riskLimits.Rate.BurstLimit,
		riskLimits.Rate.SustainedLimit,
		time.Duration(riskLimits.Rate.WindowSeconds*float64(time.Second)),
	)
	policy := retry.NewPolicy(
		5,
		time.Duration(riskLimits.Backoff.InitialSeconds*float64(time.Second)),
		time.Duration(riskLimits.Backoff.MaxSeconds*float64(time.Second)),
		riskLimits.Backoff.Multiplier,
	)

	clob := clob_http.NewClient(cfg.ClobBaseURL, cfg.WalletAddress, signer, limiter, policy)
	gamma := gamma_http.NewClient(cfg.GammaBaseURL, policy)

	// ── Durable state ───────────────────────────────────────────
	store, err := position.OpenStore(cfg.PositionsDBPath)
	if err != nil {
		telemetry.Errorf("Position store: %v", err)
		os.Exit(1)
	}
	defer store.Close()

	tracker, err := position.NewTracker(store, riskLimits)
	if err != nil {
		telemetry.Errorf("Position tracker: %v", err)
		os.Exit(1)
	}

	cooldown := claims.NewCooldown(cfg.ClaimCooldownPath, claimCooldown)
	if cooldown.Ready() {
		telemetry.Infof("Claims: cooldown clear")
	} else {
		telemetry.Infof("Claims: next claim in %s", cooldown.Remaining())
	}

	// ── Core services ───────────────────────────────────────────
	registry := markets.NewRegistry()
	manager := orders.NewManager(clob, bus, riskLimits)
	liquidator := liquidate.NewController(clob, tracker, registry, bus, riskLimits)

	// Fills flow into the ledger; realized P&L feeds the daily gate.
	bus.Subscribe(events.EventFill, func(e events.Event) error {
		fill := e.Payload.(events.FillEvent)
		side, ok := markets.NormalizeOutcome(fill.Side)
		if !ok {
			telemetry.Warnf("fill with unknown side %q ignored", fill.Side)
			return nil
		}
		realized, err := tracker.ApplyFill(fill.ConditionID, side, fill.OrderSide, fill.Shares, fill.Price)
		if err != nil {
			return err
		}
		if realized != 0 {
			manager.RecordPnL(decimal.NewFromFloat(realized))
		}
		return nil
	})

	// ── Market data feed ────────────────────────────────────────
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wsState := market_ws.NewReconnectState(
		time.Duration(riskLimits.Backoff.InitialSeconds*float64(time.Second)),
		time.Duration(riskLimits.Backoff.MaxSeconds*float64(time.Second)),
		riskLimits.Backoff.Multiplier,
		time.Duration(riskLimits.Backoff.JitterSeconds*float64(time.Second)),
	)
	ws := market_ws.NewClient(cfg.WSURL, wsState, bus)

	guard := newLiquidationGuard(liquidator)
	ws.WatchAll(func(m market_ws.Message) {
		if m.EventType != "last_trade_price" || m.Price <= 0 {
			return
		}
		cond, ok := registry.ConditionOf(m.AssetID)
		if !ok {
			return
		}
		side, _ := registry.SideOf(m.AssetID)
		if _, held := tracker.Get(cond, side); !held {
			return
		}
		tracker.UpdatePeak(cond, side, m.Price)
		if tracker.StopLossHit(cond, side, m.Price) {
			guard.trigger(ctx, cond, side, "stop loss")
			return
		}
		if tracker.TrailingStopHit(cond, side, m.Price) {
			guard.trigger(ctx, cond, side, "trailing stop")
		}
	})

	if err := ws.Connect(ctx); err != nil {
		telemetry.Warnf("Market feed: %v (will keep retrying)", err)
		go func() {
			for ctx.Err() == nil {
				time.Sleep(wsState.NextBackoff())
				if err := ws.Connect(ctx); err == nil {
					return
				}
			}
		}()
	}

	// ── Background loops ────────────────────────────────────────
	go discoverLoop(ctx, cfg.Symbols, gamma, clob, registry, ws, manager)
	go every(ctx, cfg.StatusRefreshEvery, func() {
		if err := manager.RefreshStatuses(ctx); err != nil {
			telemetry.Warnf("Status refresh: %v", err)
		}
		manager.Prune()
	})
	go every(ctx, cfg.StaleOrderTimeout/2, func() {
		manager.CancelStaleOrders(ctx)
	})
	if signer.Enabled() {
		go every(ctx, cfg.PositionSyncInterval, func() {
			positions, err := clob.GetPositions(ctx)
			if err != nil {
				telemetry.Warnf("Position sync: %v", err)
				return
			}
			tracker.SyncFromExchange(positions, registry, false)
		})
	}

	// ── Shutdown ────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	telemetry.Infof("Shutting down...")
	cancel()
	if err := ws.Close(); err != nil {
		telemetry.Warnf("Feed close: %v", err)
	}
	telemetry.Infof("Done. daily_pnl=%s open_orders=%d", manager.DailyPnL(), len(manager.Open()))
}

// discoverLoop resolves the current 15m up/down market for each symbol
// and keeps the registry and feed subscriptions pointed at it. Freshly
// opened markets can lag on the metadata API, so a slug miss there
// falls back to scanning the exchange's own market list. When a symbol
// rolls over to a new bucket, resting orders on the outgoing market
// are canceled to free their collateral.
func discoverLoop(ctx context.Context, symbols []string, gamma *gamma_http.Client, clob *clob_http.Client, registry *markets.Registry, ws *market_ws.Client, manager *orders.Manager) {
	rot := newMarketRotation()
	resolve := func() {
		bucket := gamma_http.CurrentBucket(time.Now())
		for _, sym := range symbols {
			slug := gamma_http.UpDownSlug(sym, bucket)
			pair, err := resolvePair(ctx, gamma, clob, slug)
			if err != nil {
				telemetry.Warnf("Discover %s: %v", slug, err)
				continue
			}
			if outgoing, rotated := rot.advance(sym, pair); rotated {
				telemetry.Infof("Rotating %s: %s -> %s", sym, outgoing.ConditionID, pair.ConditionID)
				if err := manager.CancelAllForMarket(ctx, outgoing.ConditionID, outgoing.YesToken, outgoing.NoToken); err != nil {
					telemetry.Warnf("Rotate %s: cancel %s: %v", sym, outgoing.ConditionID, err)
				}
			}
			if _, known := registry.Pair(pair.ConditionID); known {
				continue
			}
			if err := registry.Register(pair); err != nil {
				telemetry.Warnf("Discover %s: %v", slug, err)
				continue
			}
			telemetry.Infof("Discovered %s -> %s", slug, pair.ConditionID)
			if err := ws.Subscribe([]string{pair.YesToken, pair.NoToken}); err != nil {
				telemetry.Warnf("Subscribe %s: %v", slug, err)
			}
		}
	}

	resolve()
	ticker := time.NewTicker(discoverEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			resolve()
		}
	}
}

func resolvePair(ctx context.Context, gamma *gamma_http.Client, clob *clob_http.Client, slug string) (markets.TokenPair, error) {
	m, gammaErr := gamma.GetMarketBySlug(ctx, slug)
	if gammaErr == nil {
		return pairFromMarket(m)
	}

	info, err := clob.FindMarketBySlug(ctx, slug)
	if err != nil {
		return markets.TokenPair{}, fmt.Errorf("metadata: %v; exchange fallback: %w", gammaErr, err)
	}
	return pairFromMarketInfo(info)
}

// pairFromMarket maps gamma metadata onto a token pair using the
// normalized outcome labels.
func pairFromMarket(m *gamma_http.Market) (markets.TokenPair, error) {
	ids, err := m.TokenIDs()
	if err != nil {
		return markets.TokenPair{}, err
	}
	labels, err := m.OutcomeLabels()
	if err != nil {
		return markets.TokenPair{}, err
	}

	pair := markets.TokenPair{
		ConditionID: m.ConditionID,
		TickSize:    m.MinTickSize,
		NegRisk:     m.NegRisk,
	}
	for i, label := range labels {
		if i >= len(ids) {
			break
		}
		side, ok := markets.NormalizeOutcome(label)
		if !ok {
			continue
		}
		if side == markets.Yes {
			pair.YesToken = ids[i]
		} else {
			pair.NoToken = ids[i]
		}
	}
	if pair.YesToken == "" || pair.NoToken == "" {
		return markets.TokenPair{}, errIncompletePair(m.Slug)
	}
	return pair, nil
}

// pairFromMarketInfo is the exchange-list equivalent of pairFromMarket.
func pairFromMarketInfo(info *clob_http.MarketInfo) (markets.TokenPair, error) {
	pair := markets.TokenPair{
		ConditionID: info.ConditionID,
		TickSize:    info.TickSize,
		NegRisk:     info.NegRisk,
	}
	for _, tok := range info.Tokens {
		side, ok := markets.NormalizeOutcome(tok.Outcome)
		if !ok {
			continue
		}
		if side == markets.Yes {
			pair.YesToken = tok.TokenID
		} else {
			pair.NoToken = tok.TokenID
		}
	}
	if pair.YesToken == "" || pair.NoToken == "" {
		return markets.TokenPair{}, errIncompletePair(info.Slug)
	}
	return pair, nil
}

// marketRotation remembers which market each symbol is currently on so
// the previous bucket's market surfaces exactly once when the slug
// rolls over.
type marketRotation struct {
	current map[string]markets.TokenPair
}

func newMarketRotation() *marketRotation {
	return &marketRotation{current: make(map[string]markets.TokenPair)}
}

// advance records pair as sym's current market. It returns the
// outgoing pair and true the first time sym moves to a different
// condition id.
func (r *marketRotation) advance(sym string, pair markets.TokenPair) (markets.TokenPair, bool) {
	old, had := r.current[sym]
	r.current[sym] = pair
	if had && old.ConditionID != pair.ConditionID {
		return old, true
	}
	return markets.TokenPair{}, false
}

type errIncompletePair string

func (e errIncompletePair) Error() string {
	return "market " + string(e) + ": could not map outcomes to token pair"
}

// liquidationGuard keeps at most one liquidation in flight per
// position so a burst of trade prints cannot stack safety exits.
type liquidationGuard struct {
	liquidator *liquidate.Controller
	mu         sync.Mutex
	inflight   map[string]bool
}

func newLiquidationGuard(l *liquidate.Controller) *liquidationGuard {
	return &liquidationGuard{liquidator: l, inflight: make(map[string]bool)}
}

func (g *liquidationGuard) trigger(ctx context.Context, conditionID string, side markets.Side, reason string) {
	k := conditionID + "|" + string(side)
	g.mu.Lock()
	if g.inflight[k] {
		g.mu.Unlock()
		return
	}
	g.inflight[k] = true
	g.mu.Unlock()

	go func() {
		defer func() {
			g.mu.Lock()
			delete(g.inflight, k)
			g.mu.Unlock()
		}()
		if _, err := g.liquidator.Liquidate(ctx, conditionID, side, reason); err != nil {
			telemetry.Errorf("Liquidation %s/%s: %v", conditionID, side, err)
		}
	}()
}

// every runs fn on a fixed interval until the context ends.
func every(ctx context.Context, interval time.Duration, fn func()) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}
