package clob_http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/google/uuid"

	"github.com/mwalsh/polyflow/internal/core/markets"
	"github.com/mwalsh/polyflow/internal/telemetry"
)

// maxBatchSize is the exchange's per-request cap on batched orders.
const maxBatchSize = 15

// Time-in-force values accepted by the exchange.
const (
	TIFGoodTilCancel = "GTC"
	TIFGoodTilDate   = "GTD"
	TIFFillOrKill    = "FOK"
	TIFFillAndKill   = "FAK" // immediate-or-cancel
)

// OrderRequest describes one limit order against an outcome token.
type OrderRequest struct {
	ConditionID string
	TokenID     string
	Side        markets.Side
	OrderSide   string // "BUY" or "SELL"
	Price       float64
	Size        float64
	TimeInForce string
	Expiration  int64  // unix seconds, GTD only
	ClientID    string // generated when empty
}

func (r *OrderRequest) validate() error {
	if r.TokenID == "" {
		return fmt.Errorf("order missing token id")
	}
	if r.OrderSide != "BUY" && r.OrderSide != "SELL" {
		return fmt.Errorf("bad order side %q", r.OrderSide)
	}
	if r.Price <= 0 || r.Price >= 1 {
		return fmt.Errorf("price %.4f outside (0,1)", r.Price)
	}
	if r.Size <= 0 {
		return fmt.Errorf("size %.2f must be positive", r.Size)
	}
	switch r.TimeInForce {
	case TIFGoodTilCancel, TIFGoodTilDate, TIFFillOrKill, TIFFillAndKill:
	case "":
		r.TimeInForce = TIFGoodTilCancel
	default:
		return fmt.Errorf("bad time in force %q", r.TimeInForce)
	}
	if r.ClientID == "" {
		r.ClientID = uuid.NewString()
	}
	return nil
}

func (r *OrderRequest) payload() map[string]any {
	p := map[string]any{
		"tokenID":   r.TokenID,
		"side":      r.OrderSide,
		"price":     r.Price,
		"size":      r.Size,
		"orderType": r.TimeInForce,
		"clientID":  r.ClientID,
	}
	if r.TimeInForce == TIFGoodTilDate && r.Expiration > 0 {
		p["expiration"] = r.Expiration
	}
	return p
}

// OrderResult is the normalized outcome of a placed order.
type OrderResult struct {
	OrderID     string
	ClientID    string
	Status      string
	Price       float64
	Size        float64
	SizeMatched float64
}

// PlaceOrder submits one order. For immediate time-in-force (FOK/FAK)
// a response with no fill means the order did not execute: the method
// returns (nil, nil) so callers can tell "no fill" from "failed".
func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	if err := req.validate(); err != nil {
		telemetry.Metrics.OrderErrors.Inc()
		return nil, err
	}

	body, err := c.post(ctx, "/order", req.payload())
	if err != nil {
		telemetry.Metrics.OrderErrors.Inc()
		return nil, fmt.Errorf("place order: %w", err)
	}

	res, err := c.decodeOrderResult(body, req)
	if err != nil {
		telemetry.Metrics.OrderErrors.Inc()
		return nil, err
	}

	c.invalidateAfterOrder(req.TokenID)

	if res == nil {
		telemetry.Infof("clob: %s order not matched token=%s price=%.2f size=%.2f",
			req.TimeInForce, req.TokenID, req.Price, req.Size)
		return nil, nil
	}

	telemetry.Metrics.OrdersSent.Inc()
	telemetry.Infof("clob: order placed token=%s %s %s price=%.2f size=%.2f -> %s (%s)",
		req.TokenID, req.OrderSide, req.Side, req.Price, req.Size, res.OrderID, res.Status)
	return res, nil
}

// PlaceBatch submits orders in chunks of at most maxBatchSize per
// request. Results are positional: results[i] matches reqs[i], with
// nil for unmatched immediate orders. The first transport error stops
// the remaining chunks.
func (c *Client) PlaceBatch(ctx context.Context, reqs []OrderRequest) ([]*OrderResult, error) {
	results := make([]*OrderResult, 0, len(reqs))

	for start := 0; start < len(reqs); start += maxBatchSize {
		end := start + maxBatchSize
		if end > len(reqs) {
			end = len(reqs)
		}
		chunk := reqs[start:end]

		payloads := make([]map[string]any, 0, len(chunk))
		for i := range chunk {
			if err := chunk[i].validate(); err != nil {
				return results, fmt.Errorf("batch order %d: %w", start+i, err)
			}
			payloads = append(payloads, chunk[i].payload())
		}

		body, err := c.post(ctx, "/orders", payloads)
		if err != nil {
			telemetry.Metrics.OrderErrors.Inc()
			return results, fmt.Errorf("place batch [%d:%d]: %w", start, end, err)
		}

		chunkResults, err := c.decodeBatchResults(body, chunk)
		if err != nil {
			return results, err
		}
		results = append(results, chunkResults...)

		for i := range chunk {
			c.invalidateAfterOrder(chunk[i].TokenID)
		}
		telemetry.Metrics.BatchesSent.Inc()
	}

	telemetry.Infof("clob: batch placed %d orders in %d chunks",
		len(reqs), (len(reqs)+maxBatchSize-1)/maxBatchSize)
	return results, nil
}

func (c *Client) decodeOrderResult(body []byte, req OrderRequest) (*OrderResult, error) {
	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, fmt.Errorf("decode order response: %w", err)
	}
	return resultFromObject(obj, req)
}

func (c *Client) decodeBatchResults(body []byte, reqs []OrderRequest) ([]*OrderResult, error) {
	var objs []map[string]any
	if err := json.Unmarshal(body, &objs); err != nil {
		// Some gateways wrap the array in an envelope.
		var envelope map[string]any
		if err2 := json.Unmarshal(body, &envelope); err2 != nil {
			return nil, fmt.Errorf("decode batch response: %w", err)
		}
		raw, ok := envelope["results"].([]any)
		if !ok {
			return nil, fmt.Errorf("batch response has no results array")
		}
		for _, item := range raw {
			if m, ok := item.(map[string]any); ok {
				objs = append(objs, m)
			}
		}
	}

	if len(objs) != len(reqs) {
		return nil, fmt.Errorf("batch response has %d entries for %d orders", len(objs), len(reqs))
	}

	results := make([]*OrderResult, len(reqs))
	for i, obj := range objs {
		res, err := resultFromObject(obj, reqs[i])
		if err != nil {
			return nil, fmt.Errorf("batch entry %d: %w", i, err)
		}
		results[i] = res
		if res != nil {
			telemetry.Metrics.OrdersSent.Inc()
		}
	}
	return results, nil
}

func resultFromObject(obj map[string]any, req OrderRequest) (*OrderResult, error) {
	if errMsg, ok := obj["errorMsg"].(string); ok && errMsg != "" {
		return nil, fmt.Errorf("order rejected: %s", errMsg)
	}
	if success, ok := obj["success"].(bool); ok && !success {
		return nil, fmt.Errorf("order rejected: %v", obj["error"])
	}

	status := ""
	if s, ok := obj["status"].(string); ok {
		status = normalizeStatus(s)
	}

	orderID := extractOrderID(obj)
	switch req.TimeInForce {
	case TIFFillOrKill:
		// Fill-or-kill either matches in full or is a rejection. Any
		// other status ("live", "delayed", empty) must not be handed
		// back as a placed order.
		if orderID == "" || status != "matched" {
			return nil, nil
		}
	case TIFFillAndKill:
		if orderID == "" || status == "unmatched" {
			return nil, nil
		}
	}
	if orderID == "" {
		return nil, fmt.Errorf("order response has no recognizable id")
	}

	matched, _ := asFloat(obj["size_matched"])
	if matched == 0 {
		if ms, ok := obj["makingAmount"]; ok {
			matched, _ = asFloat(ms)
		}
	}

	return &OrderResult{
		OrderID:     orderID,
		ClientID:    req.ClientID,
		Status:      status,
		Price:       req.Price,
		Size:        req.Size,
		SizeMatched: matched,
	}, nil
}

// CancelOrder cancels one resting order by exchange id.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	if orderID == "" {
		return fmt.Errorf("empty order id")
	}
	if _, err := c.delete(ctx, "/order", map[string]string{"orderID": orderID}); err != nil {
		return fmt.Errorf("cancel order %s: %w", orderID, err)
	}
	telemetry.Metrics.OrdersCancelled.Inc()
	telemetry.Infof("clob: canceled order %s", orderID)
	return nil
}

// CancelAll cancels every resting order for the account.
func (c *Client) CancelAll(ctx context.Context) error {
	if _, err := c.delete(ctx, "/cancel-all", nil); err != nil {
		return fmt.Errorf("cancel all: %w", err)
	}
	telemetry.Infof("clob: canceled all resting orders")
	return nil
}

// CancelMarketOrders cancels resting orders on one outcome token.
func (c *Client) CancelMarketOrders(ctx context.Context, tokenID string) error {
	body := map[string]string{"asset_id": tokenID}
	if _, err := c.delete(ctx, "/cancel-market-orders", body); err != nil {
		return fmt.Errorf("cancel market orders %s: %w", tokenID, err)
	}
	c.invalidateAfterOrder(tokenID)
	return nil
}

// OpenOrder is one resting order as reported by the exchange.
type OpenOrder struct {
	OrderID     string
	TokenID     string
	OrderSide   string
	Price       float64
	Size        float64
	SizeMatched float64
	Status      string
}

// GetOpenOrders lists resting orders, optionally filtered by token.
func (c *Client) GetOpenOrders(ctx context.Context, tokenID string) ([]OpenOrder, error) {
	path := "/data/orders"
	if tokenID != "" {
		path += "?asset_id=" + url.QueryEscape(tokenID)
	}
	body, err := c.get(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("get open orders: %w", err)
	}

	var raw []map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode open orders: %w", err)
	}

	orders := make([]OpenOrder, 0, len(raw))
	for _, obj := range raw {
		o := OpenOrder{OrderID: extractOrderID(obj)}
		if o.OrderID == "" {
			telemetry.Warnf("clob: open order entry without id, skipping")
			continue
		}
		if v, ok := obj["asset_id"].(string); ok {
			o.TokenID = v
		}
		if v, ok := obj["side"].(string); ok {
			o.OrderSide = v
		}
		if v, ok := obj["status"].(string); ok {
			o.Status = normalizeStatus(v)
		}
		o.Price, _ = asFloat(obj["price"])
		o.Size, _ = asFloat(obj["original_size"])
		if o.Size == 0 {
			o.Size, _ = asFloat(obj["size"])
		}
		o.SizeMatched, _ = asFloat(obj["size_matched"])
		orders = append(orders, o)
	}
	return orders, nil
}

func (c *Client) invalidateAfterOrder(tokenID string) {
	c.reads.InvalidatePrefix("book:" + tokenID)
	c.reads.InvalidatePrefix("price:" + tokenID)
	c.reads.Invalidate("balance")
}
