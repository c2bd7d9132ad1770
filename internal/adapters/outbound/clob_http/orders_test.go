package clob_http

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/mwalsh/polyflow/internal/core/markets"
)

func TestPlaceOrderGTC(t *testing.T) {
	c, _ := newTestEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/order" || r.Method != http.MethodPost {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		var payload map[string]any
		json.NewDecoder(r.Body).Decode(&payload)
		if payload["orderType"] != "GTC" {
			t.Errorf("orderType = %v", payload["orderType"])
		}
		if payload["clientID"] == "" {
			t.Error("client id not generated")
		}
		w.Write([]byte(`{"orderID": "ord-42", "status": "LIVE"}`))
	}))

	res, err := c.PlaceOrder(context.Background(), OrderRequest{
		ConditionID: "0xc",
		TokenID:     "tok-1",
		Side:        markets.Yes,
		OrderSide:   "BUY",
		Price:       0.45,
		Size:        10,
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if res.OrderID != "ord-42" {
		t.Errorf("order id = %q", res.OrderID)
	}
	if res.Status != "live" {
		t.Errorf("status = %q, want live", res.Status)
	}
}

func TestPlaceOrderFOKUnmatchedReturnsNil(t *testing.T) {
	c, _ := newTestEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status": "unmatched"}`))
	}))

	res, err := c.PlaceOrder(context.Background(), OrderRequest{
		TokenID: "tok-1", OrderSide: "BUY", Price: 0.45, Size: 10,
		TimeInForce: TIFFillOrKill,
	})
	if err != nil {
		t.Fatalf("unmatched FOK must not error, got %v", err)
	}
	if res != nil {
		t.Errorf("unmatched FOK result = %+v, want nil", res)
	}
}

func TestPlaceOrderFOKRequiresMatched(t *testing.T) {
	// A fill-or-kill either fills in full or did not execute. Any
	// status other than matched must come back as nil, not as a
	// resting order.
	cases := []struct {
		name string
		body string
	}{
		{"delayed", `{"orderID": "ord-7", "status": "delayed"}`},
		{"live", `{"orderID": "ord-7", "status": "live"}`},
		{"no status", `{"orderID": "ord-7"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, _ := newTestEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tc.body))
			}))

			res, err := c.PlaceOrder(context.Background(), OrderRequest{
				TokenID: "tok-1", OrderSide: "BUY", Price: 0.45, Size: 10,
				TimeInForce: TIFFillOrKill,
			})
			if err != nil {
				t.Fatalf("PlaceOrder: %v", err)
			}
			if res != nil {
				t.Errorf("unfilled FOK result = %+v, want nil", res)
			}
		})
	}
}

func TestPlaceOrderFOKMatched(t *testing.T) {
	c, _ := newTestEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"orderID": "ord-8", "status": "matched", "size_matched": "10"}`))
	}))

	res, err := c.PlaceOrder(context.Background(), OrderRequest{
		TokenID: "tok-1", OrderSide: "BUY", Price: 0.45, Size: 10,
		TimeInForce: TIFFillOrKill,
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if res == nil {
		t.Fatal("matched FOK returned nil")
	}
	if res.Status != "matched" || res.SizeMatched != 10 {
		t.Errorf("result = %+v", res)
	}
}

func TestPlaceBatchHalfFilledPair(t *testing.T) {
	// Two complementary FOK legs where only one fills: the caller
	// must see exactly which leg executed, with nil for the other.
	c, _ := newTestEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"orderID": "ord-1", "status": "matched", "size_matched": "10"},
			{"orderID": "ord-7", "status": "delayed"}
		]`))
	}))

	results, err := c.PlaceBatch(context.Background(), []OrderRequest{
		{TokenID: "tok-y", OrderSide: "BUY", Price: 0.48, Size: 10, TimeInForce: TIFFillOrKill},
		{TokenID: "tok-n", OrderSide: "BUY", Price: 0.50, Size: 10, TimeInForce: TIFFillOrKill},
	})
	if err != nil {
		t.Fatalf("PlaceBatch: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	if results[0] == nil || results[0].Status != "matched" {
		t.Errorf("filled leg = %+v, want matched", results[0])
	}
	if results[1] != nil {
		t.Errorf("unfilled leg = %+v, want nil", results[1])
	}
}

func TestPlaceOrderRejected(t *testing.T) {
	c, _ := newTestEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success": false, "error": "insufficient balance"}`))
	}))

	_, err := c.PlaceOrder(context.Background(), OrderRequest{
		TokenID: "tok-1", OrderSide: "BUY", Price: 0.45, Size: 10,
	})
	if err == nil {
		t.Fatal("expected rejection error")
	}
}

func TestPlaceOrderValidation(t *testing.T) {
	c, _ := newTestEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("invalid order must not reach the exchange")
	}))

	cases := []OrderRequest{
		{OrderSide: "BUY", Price: 0.5, Size: 10},                      // no token
		{TokenID: "t", OrderSide: "HOLD", Price: 0.5, Size: 10},       // bad side
		{TokenID: "t", OrderSide: "BUY", Price: 1.5, Size: 10},        // price out of range
		{TokenID: "t", OrderSide: "BUY", Price: 0.5, Size: 0},         // zero size
		{TokenID: "t", OrderSide: "BUY", Price: 0.5, Size: 1, TimeInForce: "XX"},
	}
	for i, req := range cases {
		if _, err := c.PlaceOrder(context.Background(), req); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}
}

func TestPlaceBatchSplitsChunks(t *testing.T) {
	var batches [][]map[string]any
	c, _ := newTestEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/orders" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var payload []map[string]any
		json.NewDecoder(r.Body).Decode(&payload)
		batches = append(batches, payload)

		results := make([]map[string]any, len(payload))
		for i := range payload {
			results[i] = map[string]any{"orderID": "ord", "status": "live"}
		}
		json.NewEncoder(w).Encode(results)
	}))

	reqs := make([]OrderRequest, 20)
	for i := range reqs {
		reqs[i] = OrderRequest{TokenID: "tok-1", OrderSide: "BUY", Price: 0.5, Size: 1}
	}

	results, err := c.PlaceBatch(context.Background(), reqs)
	if err != nil {
		t.Fatalf("PlaceBatch: %v", err)
	}
	if len(results) != 20 {
		t.Errorf("results = %d, want 20", len(results))
	}
	if len(batches) != 2 {
		t.Fatalf("batches = %d, want 2", len(batches))
	}
	if len(batches[0]) != 15 || len(batches[1]) != 5 {
		t.Errorf("chunk sizes = %d, %d; want 15, 5", len(batches[0]), len(batches[1]))
	}
}

func TestExtractOrderIDVariants(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"plain id", `{"id": "a1"}`, "a1"},
		{"snake case", `{"order_id": "a2"}`, "a2"},
		{"camel case", `{"orderId": "a3"}`, "a3"},
		{"upper camel", `{"orderID": "a4"}`, "a4"},
		{"kebab", `{"order-id": "a5"}`, "a5"},
		{"underscore", `{"_id": "a6"}`, "a6"},
		{"numeric id", `{"id": 12345}`, "12345"},
		{"nested data", `{"data": {"orderId": "a7"}}`, "a7"},
		{"nested result", `{"result": {"order_id": "a8"}}`, "a8"},
		{"nested order", `{"order": {"id": "a9"}}`, "a9"},
		{"missing", `{"status": "live"}`, ""},
		{"empty string", `{"id": ""}`, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var obj map[string]any
			if err := json.Unmarshal([]byte(tc.body), &obj); err != nil {
				t.Fatal(err)
			}
			if got := extractOrderID(obj); got != tc.want {
				t.Errorf("extractOrderID(%s) = %q, want %q", tc.body, got, tc.want)
			}
		})
	}
}

func TestNormalizeStatus(t *testing.T) {
	cases := map[string]string{
		"LIVE":      "live",
		"open":      "live",
		"Filled":    "matched",
		"matched":   "matched",
		"cancelled": "canceled",
		"canceled":  "canceled",
		"pending":   "delayed",
		"killed":    "unmatched",
		"weird":     "weird",
	}
	for in, want := range cases {
		if got := normalizeStatus(in); got != want {
			t.Errorf("normalizeStatus(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestGetOpenOrders(t *testing.T) {
	c, _ := newTestEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"id": "o1", "asset_id": "tok-1", "side": "BUY", "price": "0.45", "original_size": "10", "size_matched": "4", "status": "LIVE"},
			{"asset_id": "tok-2"},
			{"order_id": "o2", "asset_id": "tok-2", "side": "SELL", "price": "0.60", "size": "5", "status": "open"}
		]`))
	}))

	orders, err := c.GetOpenOrders(context.Background(), "")
	if err != nil {
		t.Fatalf("GetOpenOrders: %v", err)
	}
	if len(orders) != 2 {
		t.Fatalf("orders = %d, want 2 (id-less entry skipped)", len(orders))
	}
	if orders[0].OrderID != "o1" || orders[0].SizeMatched != 4 {
		t.Errorf("first order = %+v", orders[0])
	}
	if orders[1].Status != "live" {
		t.Errorf("second order status = %q, want live", orders[1].Status)
	}
}

func TestGetPositions(t *testing.T) {
	c, _ := newTestEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("user"); got != "0xwallet" {
			t.Errorf("user = %q", got)
		}
		w.Write([]byte(`[
			{"asset": "tok-1", "conditionId": "0xc", "size": 15, "avgPrice": 0.4},
			{"size": 3}
		]`))
	}))

	positions, err := c.GetPositions(context.Background())
	if err != nil {
		t.Fatalf("GetPositions: %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("positions = %d, want 1", len(positions))
	}
	p := positions[0]
	if p.TokenID != "tok-1" || p.ConditionID != "0xc" || p.Size != 15 || p.AvgPrice != 0.4 {
		t.Errorf("position = %+v", p)
	}
}
