package clob_http

import (
	"fmt"
	"strconv"
	"strings"
)

// Order responses have shipped ids under several key spellings and
// sometimes one envelope deep. Normalization is the only place the
// engine copes with that.
var orderIDKeys = []string{"id", "order_id", "orderId", "orderID", "order-id", "_id"}

var envelopeKeys = []string{"data", "result", "order"}

// extractOrderID digs the order id out of a decoded response object,
// checking every known key spelling at the top level and then one
// level down inside known envelopes. Returns "" when nothing matches.
func extractOrderID(obj map[string]any) string {
	if id := orderIDFrom(obj); id != "" {
		return id
	}
	for _, env := range envelopeKeys {
		if inner, ok := obj[env].(map[string]any); ok {
			if id := orderIDFrom(inner); id != "" {
				return id
			}
		}
	}
	return ""
}

func orderIDFrom(obj map[string]any) string {
	for _, key := range orderIDKeys {
		v, ok := obj[key]
		if !ok {
			continue
		}
		switch id := v.(type) {
		case string:
			if id != "" {
				return id
			}
		case float64:
			return strconv.FormatInt(int64(id), 10)
		}
	}
	return ""
}

// normalizeStatus folds the exchange's status vocabulary onto the
// engine's: "live", "matched", "delayed", "unmatched" or "canceled".
func normalizeStatus(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "live", "open", "active", "resting":
		return "live"
	case "matched", "filled", "complete", "completed":
		return "matched"
	case "delayed", "pending":
		return "delayed"
	case "unmatched", "killed":
		return "unmatched"
	case "canceled", "cancelled":
		return "canceled"
	default:
		return strings.ToLower(strings.TrimSpace(raw))
	}
}

// asFloat converts the number-or-string values the exchange emits for
// prices and sizes.
func asFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case string:
		return strconv.ParseFloat(n, 64)
	case nil:
		return 0, nil
	default:
		return 0, fmt.Errorf("unexpected numeric type %T", v)
	}
}
