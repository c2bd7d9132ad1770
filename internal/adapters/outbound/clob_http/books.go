package clob_http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
)

// Level is one price level of an order book side.
type Level struct {
	Price float64 `json:"price,string"`
	Size  float64 `json:"size,string"`
}

// Book is a snapshot of one outcome token's order book. TickSize may
// be zero on older snapshots that predate the field.
type Book struct {
	TokenID  string  `json:"asset_id"`
	TickSize float64 `json:"tick_size,string"`
	Bids     []Level `json:"bids"`
	Asks     []Level `json:"asks"`
}

// BestBid returns the highest bid, or 0 when the side is empty.
func (b *Book) BestBid() float64 {
	best := 0.0
	for _, lvl := range b.Bids {
		if lvl.Price > best {
			best = lvl.Price
		}
	}
	return best
}

// BestAsk returns the lowest ask, or 0 when the side is empty.
func (b *Book) BestAsk() float64 {
	best := 0.0
	for _, lvl := range b.Asks {
		if best == 0 || lvl.Price < best {
			best = lvl.Price
		}
	}
	return best
}

// Midpoint returns the mid price, or 0 when either side is empty.
func (b *Book) Midpoint() float64 {
	bid, ask := b.BestBid(), b.BestAsk()
	if bid == 0 || ask == 0 {
		return 0
	}
	return (bid + ask) / 2
}

// GetBook returns the order book for a token. Snapshots are cached
// briefly and concurrent misses for the same token collapse into one
// upstream request.
func (c *Client) GetBook(ctx context.Context, tokenID string) (*Book, error) {
	key := "book:" + tokenID
	if v, ok := c.reads.Get(key); ok {
		return v.(*Book), nil
	}

	v, err, _ := c.flight.Do(key, func() (any, error) {
		body, err := c.get(ctx, "/book?token_id="+url.QueryEscape(tokenID))
		if err != nil {
			return nil, fmt.Errorf("get book %s: %w", tokenID, err)
		}
		var book Book
		if err := json.Unmarshal(body, &book); err != nil {
			return nil, fmt.Errorf("decode book %s: %w", tokenID, err)
		}
		if book.TokenID == "" {
			book.TokenID = tokenID
		}
		c.reads.SetTTL(key, &book, bookTTL)
		return &book, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Book), nil
}

// GetPrice returns the current price for one side of a token's book
// ("BUY" quotes the best ask, "SELL" the best bid).
func (c *Client) GetPrice(ctx context.Context, tokenID, side string) (float64, error) {
	key := "price:" + tokenID + ":" + side
	if v, ok := c.reads.Get(key); ok {
		return v.(float64), nil
	}

	v, err, _ := c.flight.Do(key, func() (any, error) {
		path := fmt.Sprintf("/price?token_id=%s&side=%s", url.QueryEscape(tokenID), url.QueryEscape(side))
		body, err := c.get(ctx, path)
		if err != nil {
			return 0.0, fmt.Errorf("get price %s %s: %w", tokenID, side, err)
		}
		var resp struct {
			Price float64 `json:"price,string"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return 0.0, fmt.Errorf("decode price %s: %w", tokenID, err)
		}
		c.reads.SetTTL(key, resp.Price, bookTTL)
		return resp.Price, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(float64), nil
}

// GetBalance returns the account's available collateral. Cached
// briefly; order placement invalidates it.
func (c *Client) GetBalance(ctx context.Context) (float64, error) {
	if v, ok := c.reads.Get("balance"); ok {
		return v.(float64), nil
	}

	v, err, _ := c.flight.Do("balance", func() (any, error) {
		body, err := c.get(ctx, "/balance-allowance?asset_type=COLLATERAL")
		if err != nil {
			return 0.0, fmt.Errorf("get balance: %w", err)
		}
		var resp struct {
			Balance float64 `json:"balance,string"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return 0.0, fmt.Errorf("decode balance: %w", err)
		}
		// Balance arrives in collateral base units.
		bal := resp.Balance / 1e6
		c.reads.SetTTL("balance", bal, balanceTTL)
		return bal, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(float64), nil
}
