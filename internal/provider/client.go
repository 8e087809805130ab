package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// Client talks to the realtime conversation provider. The provider's API
// surface is loosely typed: list responses may be a bare array or any of
// several nested container shapes, so every method returns the decoded JSON
// as-is and shape handling lives in the resolver.
type Client struct {
	http   *resty.Client
	logger *slog.Logger
}

func NewClient(baseURL, apiKey string, logger *slog.Logger) *Client {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(15 * time.Second).
		SetHeader("Accept", "application/json")
	if apiKey != "" {
		c.SetHeader("X-API-Key", apiKey)
	}
	return &Client{http: c, logger: logger}
}

func (c *Client) get(ctx context.Context, path string, query map[string]string) (any, error) {
	req := c.http.R().SetContext(ctx)
	if len(query) > 0 {
		req.SetQueryParams(query)
	}
	resp, err := req.Get(path)
	if err != nil {
		return nil, fmt.Errorf("provider get %s: %w", path, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("provider get %s: status %d", path, resp.StatusCode())
	}
	var body any
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return nil, fmt.Errorf("provider get %s: parse body: %w", path, err)
	}
	return body, nil
}

// ListCallsByAgent lists calls filtered by the provider-side agent id.
func (c *Client) ListCallsByAgent(ctx context.Context, agentID string) (any, error) {
	return c.get(ctx, "/v1/calls", map[string]string{"agent_id": agentID})
}

// GetCall fetches a single call, interpreting id as a provider call id.
func (c *Client) GetCall(ctx context.Context, id string) (any, error) {
	return c.get(ctx, "/v1/calls/"+id, nil)
}

// ListCallsBySession lists calls filtered by a provider-side session id.
func (c *Client) ListCallsBySession(ctx context.Context, sessionID string) (any, error) {
	return c.get(ctx, "/v1/calls", map[string]string{"session_id": sessionID})
}

// ListCalls is the unfiltered listing, used as a last resort.
func (c *Client) ListCalls(ctx context.Context) (any, error) {
	return c.get(ctx, "/v1/calls", nil)
}

// ListMessages retrieves the message objects for one call. Message shape is
// not fixed beyond usually having some text-bearing field and some sender
// discriminator; normalization happens in the fetcher.
func (c *Client) ListMessages(ctx context.Context, callID string) (any, error) {
	return c.get(ctx, "/v1/calls/"+callID+"/messages", nil)
}
