package market_ws

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mwalsh/polyflow/internal/events"
	"github.com/mwalsh/polyflow/internal/telemetry"
)

const (
	// App-level heartbeat; the feed expects a text PING every ~10s.
	pingInterval = 10 * time.Second
	// Watchdog: a healthy feed never goes this long without a frame.
	silenceTimeout = 60 * time.Second
	writeWait      = 5 * time.Second
	closeJoinWait  = 3 * time.Second
)

// Handler receives market-data messages for one subscribed asset.
type Handler func(Message)

// Client maintains the market-data WebSocket: subscription state,
// heartbeats, a silence watchdog, and reconnection with exponential
// backoff. Messages are fanned out to per-asset handlers; connection
// status transitions go onto the event bus.
//
// Gorilla/websocket allows one concurrent reader and one concurrent
// writer, so writes are serialized through writeMu.
type Client struct {
	url   string
	bus   *events.Bus
	state *ReconnectState

	mu       sync.Mutex // guards conn, assets, handlers
	conn     *websocket.Conn
	assets   map[string]bool
	handlers map[string][]Handler
	catchAll []Handler

	writeMu sync.Mutex

	done     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
}

func NewClient(wsURL string, state *ReconnectState, bus *events.Bus) *Client {
	return &Client{
		url:      wsURL,
		bus:      bus,
		state:    state,
		assets:   make(map[string]bool),
		handlers: make(map[string][]Handler),
		done:     make(chan struct{}),
		stop:     make(chan struct{}),
	}
}

// Connect dials the feed and starts the read/reconnect loop. The
// initial dial failing is returned to the caller; once connected,
// later drops are handled internally.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.dial(ctx); err != nil {
		c.state.RecordFailure()
		return fmt.Errorf("ws dial: %w", err)
	}
	c.state.RecordSuccess()
	go c.runLoop(ctx)
	return nil
}

func (c *Client) dial(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	return nil
}

// Watch registers a handler for one asset's messages. Handlers run on
// the read goroutine; anything slow should hand off to its own
// goroutine.
func (c *Client) Watch(assetID string, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[assetID] = append(c.handlers[assetID], h)
}

// WatchAll registers a handler for every message regardless of asset.
func (c *Client) WatchAll(h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.catchAll = append(c.catchAll, h)
}

// Subscribe adds assets to the subscription set and, when the
// connection is live, re-sends the full set. Assets added while
// disconnected are picked up on the next (re)connect.
func (c *Client) Subscribe(assetIDs []string) error {
	c.mu.Lock()
	added := 0
	for _, id := range assetIDs {
		if !c.assets[id] {
			c.assets[id] = true
			added++
		}
	}
	conn := c.conn
	all := c.assetList()
	c.mu.Unlock()

	telemetry.Metrics.SubscribedAssets.Set(int64(len(all)))
	if added == 0 || conn == nil {
		return nil
	}
	return c.sendSubscribe(conn, all)
}

// caller must hold mu
func (c *Client) assetList() []string {
	all := make([]string, 0, len(c.assets))
	for id := range c.assets {
		all = append(all, id)
	}
	return all
}

func (c *Client) sendSubscribe(conn *websocket.Conn, assetIDs []string) error {
	sub := struct {
		AssetIDs []string `json:"assets_ids"`
		Type     string   `json:"type"`
	}{AssetIDs: assetIDs, Type: "market"}

	telemetry.Debugf("market_ws: subscribing to %d assets", len(assetIDs))
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(sub)
}

func (c *Client) runLoop(ctx context.Context) {
	defer close(c.done)

	for {
		c.resubscribeAll()
		c.publishStatus(true)
		c.readLoop(ctx)
		c.publishStatus(false)

		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		default:
		}

		// The read loop only ends up here when an established
		// connection dropped or errored, which counts against the
		// backoff state the same as a failed dial.
		c.state.RecordFailure()

		if !c.reconnect(ctx) {
			return
		}
		telemetry.Metrics.WSReconnects.Inc()
		telemetry.Infof("market_ws: reconnected to %s", c.url)
	}
}

// reconnect dials with backoff until success or shutdown. Returns
// false when the loop should exit.
func (c *Client) reconnect(ctx context.Context) bool {
	for {
		backoff := c.state.NextBackoff()
		telemetry.Warnf("market_ws: reconnecting in %s (failures=%d)", backoff, c.state.Failures())

		select {
		case <-ctx.Done():
			return false
		case <-c.stop:
			return false
		case <-time.After(backoff):
		}

		if err := c.dial(ctx); err != nil {
			c.state.RecordFailure()
			telemetry.Warnf("market_ws: dial failed: %v", err)
			continue
		}
		c.state.RecordSuccess()
		return true
	}
}

func (c *Client) resubscribeAll() {
	c.mu.Lock()
	conn := c.conn
	all := c.assetList()
	c.mu.Unlock()

	if conn == nil || len(all) == 0 {
		return
	}
	if err := c.sendSubscribe(conn, all); err != nil {
		telemetry.Warnf("market_ws: resubscribe failed: %v", err)
	}
}

func (c *Client) readLoop(ctx context.Context) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}
	defer conn.Close()

	pingDone := make(chan struct{})
	defer close(pingDone)
	go c.pingLoop(conn, pingDone)

	conn.SetReadDeadline(time.Now().Add(silenceTimeout))

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		default:
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			telemetry.Warnf("market_ws: read error: %v", err)
			return
		}
		conn.SetReadDeadline(time.Now().Add(silenceTimeout))

		msgs, isPing := ParseFrame(data)
		if isPing {
			c.writeText(conn, pongToken)
			continue
		}
		for _, m := range msgs {
			c.dispatch(m)
		}
	}
}

func (c *Client) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-c.stop:
			return
		case <-ticker.C:
			if err := c.writeText(conn, pingToken); err != nil {
				telemetry.Warnf("market_ws: ping write failed: %v", err)
				return
			}
		}
	}
}

func (c *Client) writeText(conn *websocket.Conn, payload string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, []byte(payload))
}

func (c *Client) dispatch(m Message) {
	telemetry.Metrics.WSMessages.Inc()

	c.mu.Lock()
	handlers := append([]Handler(nil), c.handlers[m.AssetID]...)
	handlers = append(handlers, c.catchAll...)
	c.mu.Unlock()

	for _, h := range handlers {
		h(m)
	}
}

func (c *Client) publishStatus(connected bool) {
	c.bus.Publish(events.Event{
		Type:      events.EventWSStatus,
		Timestamp: time.Now(),
		Payload:   events.WSStatusEvent{Connected: connected},
	})
}

// Close shuts the feed down and waits briefly for the run loop to
// exit. The socket close happens off the caller's goroutine so a
// wedged peer cannot block shutdown.
func (c *Client) Close() error {
	c.stopOnce.Do(func() {
		close(c.stop)
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn != nil {
			go conn.Close()
		}
	})

	select {
	case <-c.done:
		return nil
	case <-time.After(closeJoinWait):
		return fmt.Errorf("ws close: run loop did not exit within %s", closeJoinWait)
	}
}

// Done is closed when the run loop has fully exited.
func (c *Client) Done() <-chan struct{} {
	return c.done
}
