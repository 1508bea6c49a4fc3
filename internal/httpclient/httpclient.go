// Package httpclient is a small JSON-over-HTTP client used by the external
// collaborator clients. Network and 5xx failures come back coded unavailable
// so the task layer treats them as transient.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/glennhaavar-prog/ai-erp-sub003/internal/apperrors"
)

// Client issues JSON requests against a single base URL.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client with a default 30s per-call timeout.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Get issues a GET and decodes the JSON response into out.
func (c *Client) Get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to build request")
	}
	return c.do(req, out)
}

// Post issues a POST with a JSON body and decodes the response into out.
// A nil out discards the response body.
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to encode request body")
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to build request")
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "request failed")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return apperrors.Newf(apperrors.ErrCodeUnavailable, "%s %s returned %d", req.Method, req.URL.Path, resp.StatusCode)
	case resp.StatusCode >= 400:
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return apperrors.Newf(apperrors.ErrCodeInvalidInput, "%s %s returned %d: %s", req.Method, req.URL.Path, resp.StatusCode, string(payload))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, fmt.Sprintf("failed to decode %s response", req.URL.Path))
	}
	return nil
}
