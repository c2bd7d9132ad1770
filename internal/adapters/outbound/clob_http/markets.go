package clob_http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
)

// MarketToken is one outcome token inside an exchange market object.
type MarketToken struct {
	TokenID string `json:"token_id"`
	Outcome string `json:"outcome"`
}

// MarketInfo is the exchange's own view of a market's static
// parameters. Discovery prefers the public metadata API; this is the
// fallback when a freshly opened market has not propagated there yet.
type MarketInfo struct {
	ConditionID string        `json:"condition_id"`
	Slug        string        `json:"market_slug"`
	Active      bool          `json:"active"`
	Closed      bool          `json:"closed"`
	TickSize    float64       `json:"minimum_tick_size"`
	NegRisk     bool          `json:"neg_risk"`
	Tokens      []MarketToken `json:"tokens"`
}

// GetMarket fetches one market's static metadata by condition id.
func (c *Client) GetMarket(ctx context.Context, conditionID string) (*MarketInfo, error) {
	body, err := c.get(ctx, "/markets/"+url.PathEscape(conditionID))
	if err != nil {
		return nil, fmt.Errorf("get market %s: %w", conditionID, err)
	}

	var m MarketInfo
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, fmt.Errorf("decode market %s: %w", conditionID, err)
	}
	if m.ConditionID == "" {
		return nil, fmt.Errorf("market %s: empty condition id", conditionID)
	}
	return &m, nil
}

// FindMarketBySlug scans the exchange market list for a slug match.
// The list endpoint wraps its payload inconsistently, so a bare array
// and the data/markets envelopes are all accepted.
func (c *Client) FindMarketBySlug(ctx context.Context, slug string) (*MarketInfo, error) {
	body, err := c.get(ctx, "/markets?limit=2000")
	if err != nil {
		return nil, fmt.Errorf("list markets: %w", err)
	}

	list, err := decodeMarketList(body)
	if err != nil {
		return nil, err
	}
	for i := range list {
		if list[i].Slug == slug {
			return &list[i], nil
		}
	}
	return nil, fmt.Errorf("no exchange market with slug %s", slug)
}

func decodeMarketList(body []byte) ([]MarketInfo, error) {
	var list []MarketInfo
	if err := json.Unmarshal(body, &list); err == nil {
		return list, nil
	}

	var envelope struct {
		Data    []MarketInfo `json:"data"`
		Markets []MarketInfo `json:"markets"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decode market list: %w", err)
	}
	if envelope.Data != nil {
		return envelope.Data, nil
	}
	return envelope.Markets, nil
}
