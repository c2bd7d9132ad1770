package clob_http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mwalsh/polyflow/internal/adapters/poly_auth"
	"github.com/mwalsh/polyflow/internal/core/cache"
	"github.com/mwalsh/polyflow/internal/core/ratelimit"
	"github.com/mwalsh/polyflow/internal/core/retry"
	"github.com/mwalsh/polyflow/internal/telemetry"
)

const (
	bookTTL    = 2 * time.Second
	balanceTTL = 5 * time.Second
)

// Client talks to the exchange's order API. Every request passes
// through the shared dual-window rate limiter before it leaves the
// process, transient failures are retried with backoff, and an
// auth-expired response triggers one transparent credential refresh
// and replay.
type Client struct {
	baseURL    string
	address    string
	httpClient *http.Client
	signer     *poly_auth.Signer
	limiter    *ratelimit.Limiter
	policy     *retry.Policy

	reads  *cache.TTL
	flight singleflight.Group
}

func NewClient(baseURL, address string, signer *poly_auth.Signer, limiter *ratelimit.Limiter, policy *retry.Policy) *Client {
	return &Client{
		baseURL: baseURL,
		address: address,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		signer:  signer,
		limiter: limiter,
		policy:  policy,
		reads:   cache.NewTTL(bookTTL),
	}
}

// do runs one exchange request end to end: rate limit gate, signing,
// transient retry, and a single auth refresh on credential expiry.
func (c *Client) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		payload = data
	}

	op := fmt.Sprintf("clob %s %s", method, path)
	refreshed := false

	return retry.DoValue(ctx, c.policy, op, func(ctx context.Context) ([]byte, error) {
		respBody, err := c.doOnce(ctx, method, path, payload)
		if errors.Is(err, retry.ErrAuthExpired) && !refreshed {
			refreshed = true
			telemetry.Warnf("clob_http: credentials expired, refreshing")
			if rerr := c.signer.Refresh(); rerr != nil {
				return nil, fmt.Errorf("%s: %w (refresh failed: %v)", op, err, rerr)
			}
			return c.doOnce(ctx, method, path, payload)
		}
		return respBody, err
	}, nil)
}

func (c *Client) doOnce(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	if _, err := c.limiter.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	if err := c.signer.SignRequest(req, payload); err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http do: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	elapsed := time.Since(start)
	telemetry.Metrics.RequestLatency.Record(elapsed)
	telemetry.Debugf("clob_http: %s %s -> %d (%s)", method, path, resp.StatusCode, elapsed)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return respBody, nil
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, retry.ErrAuthExpired
	default:
		return nil, &retry.HTTPError{StatusCode: resp.StatusCode, Body: truncate(string(respBody), 300)}
	}
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

func (c *Client) post(ctx context.Context, path string, body any) ([]byte, error) {
	return c.do(ctx, http.MethodPost, path, body)
}

func (c *Client) delete(ctx context.Context, path string, body any) ([]byte, error) {
	return c.do(ctx, http.MethodDelete, path, body)
}

// Cache exposes the read cache so callers can drop entries they know
// are stale, for instance after a liquidation completes.
func (c *Client) Cache() *cache.TTL { return c.reads }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
