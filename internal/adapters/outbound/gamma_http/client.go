package gamma_http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/mwalsh/polyflow/internal/core/retry"
	"github.com/mwalsh/polyflow/internal/telemetry"
)

// Client reads public market metadata from the Gamma API. No auth; a
// token-bucket limiter keeps discovery polling polite.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	policy     *retry.Policy
}

func NewClient(baseURL string, policy *retry.Policy) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(10), 20),
		policy:  policy,
	}
}

// Market is the subset of Gamma market metadata the engine uses. The
// token id and outcome arrays arrive JSON-encoded inside strings.
type Market struct {
	ConditionID  string  `json:"conditionId"`
	Slug         string  `json:"slug"`
	Question     string  `json:"question"`
	Active       bool    `json:"active"`
	Closed       bool    `json:"closed"`
	ClobTokenIDs string  `json:"clobTokenIds"`
	Outcomes     string  `json:"outcomes"`
	EndDate      string  `json:"endDate"`
	MinTickSize  float64 `json:"orderPriceMinTickSize"`
	NegRisk      bool    `json:"negRisk"`
}

// TokenIDs decodes the string-wrapped token id array.
func (m Market) TokenIDs() ([]string, error) {
	var ids []string
	if err := json.Unmarshal([]byte(m.ClobTokenIDs), &ids); err != nil {
		return nil, fmt.Errorf("decode clobTokenIds %q: %w", m.ClobTokenIDs, err)
	}
	return ids, nil
}

// OutcomeLabels decodes the string-wrapped outcome label array.
func (m Market) OutcomeLabels() ([]string, error) {
	var labels []string
	if err := json.Unmarshal([]byte(m.Outcomes), &labels); err != nil {
		return nil, fmt.Errorf("decode outcomes %q: %w", m.Outcomes, err)
	}
	return labels, nil
}

// GetMarketBySlug fetches one market's metadata by its URL slug.
func (c *Client) GetMarketBySlug(ctx context.Context, slug string) (*Market, error) {
	path := "/markets/slug/" + url.PathEscape(slug)
	body, err := c.get(ctx, path)
	if err != nil {
		return nil, err
	}

	var m Market
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, fmt.Errorf("decode market %s: %w", slug, err)
	}
	if m.ConditionID == "" {
		return nil, fmt.Errorf("market %s: empty condition id", slug)
	}
	return &m, nil
}

// GetMarketByCondition fetches market metadata by condition id.
func (c *Client) GetMarketByCondition(ctx context.Context, conditionID string) (*Market, error) {
	body, err := c.get(ctx, "/markets?condition_ids="+url.QueryEscape(conditionID))
	if err != nil {
		return nil, err
	}

	var list []Market
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("decode markets for %s: %w", conditionID, err)
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("no market for condition %s", conditionID)
	}
	return &list[0], nil
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	return retry.DoValue(ctx, c.policy, "gamma GET "+path, func(ctx context.Context) ([]byte, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return nil, err
		}

		start := time.Now()
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		telemetry.Metrics.RequestLatency.Record(time.Since(start))

		body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			return nil, &retry.HTTPError{StatusCode: resp.StatusCode, Body: truncate(string(body), 200)}
		}
		return body, nil
	}, nil)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
