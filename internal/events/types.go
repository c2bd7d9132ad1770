package events

import "time"

// Event is the envelope that flows through the event bus.
type Event struct {
	ID        string
	Type      EventType
	Market    string
	Timestamp time.Time
	Payload   any
}

type EventType string

const (
	// Streaming-feed status
	EventWSStatus EventType = "ws_status"
	// Order lifecycle
	EventOrderPlaced EventType = "order_placed"
	EventFill        EventType = "fill"
	// Safety exits
	EventLiquidation EventType = "liquidation"
)

// WSStatusEvent signals market-data socket connect/disconnect.
type WSStatusEvent struct {
	Connected bool `json:"connected"`
}

// OrderPlacedEvent is published after an order is accepted by the exchange.
type OrderPlacedEvent struct {
	OrderID     string  `json:"order_id"`
	ConditionID string  `json:"condition_id"`
	Side        string  `json:"side"`       // "YES" or "NO"
	OrderSide   string  `json:"order_side"` // "BUY" or "SELL"
	Price       float64 `json:"price"`
	Size        float64 `json:"size"`
	TimeInForce string  `json:"time_in_force"`
	Strategy    string  `json:"strategy,omitempty"`
}

// FillEvent is published on every confirmed (possibly partial) fill.
// The position tracker is the intended subscriber.
type FillEvent struct {
	OrderID     string  `json:"order_id"`
	ConditionID string  `json:"condition_id"`
	Side        string  `json:"side"`
	OrderSide   string  `json:"order_side"`
	Shares      float64 `json:"shares"`
	Price       float64 `json:"price"`
}

// LiquidationEvent reports the terminal state of a safety exit.
// Outcome "exhausted" means an open risk position could not be closed
// and requires operator attention.
type LiquidationEvent struct {
	ConditionID string  `json:"condition_id"`
	Side        string  `json:"side"`
	Outcome     string  `json:"outcome"` // "closed" or "exhausted"
	Remaining   float64 `json:"remaining"`
	Attempts    int     `json:"attempts"`
	Reason      string  `json:"reason"`
}
