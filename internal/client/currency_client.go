package client

import (
	"context"
	"fmt"
	"net/url"

	"github.com/glennhaavar-prog/ai-erp-sub003/internal/httpclient"
)

// CurrencyClient is a client for the currency-rate service.
type CurrencyClient struct {
	client *httpclient.Client
}

// NewCurrencyClient creates a new currency-rate client.
func NewCurrencyClient(baseURL string) *CurrencyClient {
	return &CurrencyClient{
		client: httpclient.NewClient(baseURL),
	}
}

type rateResponse struct {
	Rate int64 `json:"rate"` // scaled by 1e6
}

// Rate returns the exchange rate between two currencies on a date, scaled by 1e6.
func (c *CurrencyClient) Rate(ctx context.Context, from, to, date string) (int64, error) {
	path := fmt.Sprintf("/api/v1/rates?from=%s&to=%s&date=%s",
		url.QueryEscape(from), url.QueryEscape(to), url.QueryEscape(date))

	var resp rateResponse
	if err := c.client.Get(ctx, path, &resp); err != nil {
		return 0, fmt.Errorf("failed to fetch rate %s/%s: %w", from, to, err)
	}
	return resp.Rate, nil
}
