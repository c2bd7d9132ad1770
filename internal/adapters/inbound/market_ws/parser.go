package market_ws

import (
	"bytes"
	"encoding/json"

	"github.com/mwalsh/polyflow/internal/telemetry"
)

// Heartbeat tokens exchanged as plain text frames, not JSON.
const (
	pingToken = "PING"
	pongToken = "PONG"
)

// Message is one market-data update with the routing fields decoded.
// Raw keeps the full frame for consumers that need more than the
// common fields.
type Message struct {
	EventType string  `json:"event_type"`
	AssetID   string  `json:"asset_id"`
	Market    string  `json:"market"`
	Price     float64 `json:"price,string"`
	Size      float64 `json:"size,string"`
	Side      string  `json:"side"`
	Timestamp string  `json:"timestamp"`

	Raw json.RawMessage `json:"-"`
}

// ParseFrame decodes one WebSocket frame. The feed sends three frame
// shapes: plain-text heartbeat tokens, a single JSON object, or a JSON
// array of objects. isPing is true for a server PING that must be
// answered with a PONG.
func ParseFrame(data []byte) (msgs []Message, isPing bool) {
	trimmed := bytes.TrimSpace(data)
	switch string(trimmed) {
	case pingToken:
		return nil, true
	case pongToken, "":
		return nil, false
	}

	switch trimmed[0] {
	case '{':
		var m Message
		if err := json.Unmarshal(trimmed, &m); err != nil {
			telemetry.Metrics.WSParseErrors.Inc()
			telemetry.Warnf("market_ws: parse error: %v", err)
			return nil, false
		}
		m.Raw = append(json.RawMessage(nil), trimmed...)
		return []Message{m}, false
	case '[':
		var raws []json.RawMessage
		if err := json.Unmarshal(trimmed, &raws); err != nil {
			telemetry.Metrics.WSParseErrors.Inc()
			telemetry.Warnf("market_ws: parse error: %v", err)
			return nil, false
		}
		msgs = make([]Message, 0, len(raws))
		for _, raw := range raws {
			var m Message
			if err := json.Unmarshal(raw, &m); err != nil {
				telemetry.Metrics.WSParseErrors.Inc()
				continue
			}
			m.Raw = raw
			msgs = append(msgs, m)
		}
		return msgs, false
	default:
		telemetry.Metrics.WSParseErrors.Inc()
		telemetry.Warnf("market_ws: unrecognized frame: %.60s", string(trimmed))
		return nil, false
	}
}
