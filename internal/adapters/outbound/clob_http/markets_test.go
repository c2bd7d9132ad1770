package clob_http

import (
	"context"
	"net/http"
	"testing"
)

func TestGetMarket(t *testing.T) {
	c, _ := newTestEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/markets/0xcond" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte(`{
			"condition_id": "0xcond",
			"market_slug": "btc-updown-15m-1700000100",
			"active": true,
			"minimum_tick_size": 0.001,
			"neg_risk": true,
			"tokens": [
				{"token_id": "tok-up", "outcome": "Up"},
				{"token_id": "tok-down", "outcome": "Down"}
			]
		}`))
	}))

	m, err := c.GetMarket(context.Background(), "0xcond")
	if err != nil {
		t.Fatalf("GetMarket: %v", err)
	}
	if m.TickSize != 0.001 {
		t.Errorf("tick size = %v, want 0.001", m.TickSize)
	}
	if !m.NegRisk {
		t.Error("neg_risk flag lost")
	}
	if len(m.Tokens) != 2 || m.Tokens[0].TokenID != "tok-up" || m.Tokens[1].Outcome != "Down" {
		t.Errorf("tokens = %+v", m.Tokens)
	}
}

func TestFindMarketBySlug(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"bare array", `[
			{"condition_id": "0xa", "market_slug": "other"},
			{"condition_id": "0xb", "market_slug": "eth-updown-15m-1700000100"}
		]`},
		{"data envelope", `{"data": [
			{"condition_id": "0xa", "market_slug": "other"},
			{"condition_id": "0xb", "market_slug": "eth-updown-15m-1700000100"}
		]}`},
		{"markets envelope", `{"markets": [
			{"condition_id": "0xb", "market_slug": "eth-updown-15m-1700000100"}
		]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, _ := newTestEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tc.body))
			}))

			m, err := c.FindMarketBySlug(context.Background(), "eth-updown-15m-1700000100")
			if err != nil {
				t.Fatalf("FindMarketBySlug: %v", err)
			}
			if m.ConditionID != "0xb" {
				t.Errorf("condition = %s, want 0xb", m.ConditionID)
			}
		})
	}
}

func TestFindMarketBySlugMiss(t *testing.T) {
	c, _ := newTestEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	if _, err := c.FindMarketBySlug(context.Background(), "nope"); err == nil {
		t.Fatal("expected miss error")
	}
}
