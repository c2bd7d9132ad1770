package clob_http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/mwalsh/polyflow/internal/telemetry"
)

// ExchangePosition is one outcome-token holding as the exchange sees
// it. The position tracker reconciles its local ledger against these.
type ExchangePosition struct {
	TokenID     string
	ConditionID string
	Size        float64
	AvgPrice    float64
}

// GetPositions returns the account's current holdings. A nil slice
// with nil error never happens: an empty account yields an empty
// slice, so callers can distinguish "flat" from "fetch failed".
func (c *Client) GetPositions(ctx context.Context) ([]ExchangePosition, error) {
	path := "/positions?user=" + url.QueryEscape(c.address)
	body, err := c.get(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("get positions: %w", err)
	}

	var raw []map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode positions: %w", err)
	}

	positions := make([]ExchangePosition, 0, len(raw))
	for _, obj := range raw {
		var p ExchangePosition
		if v, ok := obj["asset"].(string); ok {
			p.TokenID = v
		} else if v, ok := obj["asset_id"].(string); ok {
			p.TokenID = v
		}
		if v, ok := obj["conditionId"].(string); ok {
			p.ConditionID = v
		} else if v, ok := obj["condition_id"].(string); ok {
			p.ConditionID = v
		}
		p.Size, _ = asFloat(obj["size"])
		p.AvgPrice, _ = asFloat(obj["avgPrice"])
		if p.AvgPrice == 0 {
			p.AvgPrice, _ = asFloat(obj["avg_price"])
		}
		if p.TokenID == "" {
			telemetry.Warnf("clob: position entry without asset id, skipping")
			continue
		}
		positions = append(positions, p)
	}

	telemetry.Metrics.PositionSyncs.Inc()
	return positions, nil
}
