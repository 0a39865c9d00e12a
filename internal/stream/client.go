package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"
)

// Client talks to the negotiation backend: it opens per-room event streams
// and starts negotiations. The underlying http.Client carries no global
// timeout because streams are long-lived; callers bound individual requests
// with contexts.
type Client struct {
	baseURL string
	httpc   *http.Client
}

// ClientOpts holds parameters for creating a Client.
type ClientOpts struct {
	// BaseURL is the backend root, e.g. "http://localhost:8000".
	BaseURL string

	// Token, when set, is sent as a bearer token on every request.
	Token string

	// HTTPClient overrides the default client. Its transport is reused
	// when a token is configured.
	HTTPClient *http.Client
}

// NewClient creates a backend Client.
func NewClient(opts ClientOpts) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("stream: base url is required")
	}

	httpc := opts.HTTPClient
	if httpc == nil {
		httpc = &http.Client{}
	}
	if opts.Token != "" {
		httpc = &http.Client{
			Transport: &oauth2.Transport{
				Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.Token}),
				Base:   httpc.Transport,
			},
		}
	}

	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		httpc:   httpc,
	}, nil
}

// OpenStream opens the room's event feed. The returned body stays open until
// closed by the caller or the context is cancelled.
func (c *Client) OpenStream(ctx context.Context, roomID string) (io.ReadCloser, error) {
	u := fmt.Sprintf("%s/api/v1/negotiation/stream/%s", c.baseURL, url.PathEscape(roomID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("stream: open %s: %w", roomID, err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("stream: open %s: %w", roomID, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("stream: open %s: unexpected status %s", roomID, resp.Status)
	}
	return resp.Body, nil
}

// StartRequest carries the buyer's constraints for a new negotiation.
type StartRequest struct {
	ItemName  string  `json:"item_name,omitempty"`
	MaxBudget float64 `json:"max_budget,omitempty"`
	Quantity  int     `json:"quantity,omitempty"`
	MaxRounds int     `json:"max_rounds,omitempty"`
}

// StartNegotiation asks the backend to begin negotiating in the room. The
// event feed reports progress; this call only kicks it off.
func (c *Client) StartNegotiation(ctx context.Context, roomID string, start StartRequest) error {
	body, err := json.Marshal(start)
	if err != nil {
		return fmt.Errorf("stream: start %s: %w", roomID, err)
	}

	u := fmt.Sprintf("%s/api/v1/negotiation/start/%s", c.baseURL, url.PathEscape(roomID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("stream: start %s: %w", roomID, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("stream: start %s: %w", roomID, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("stream: start %s: unexpected status %s", roomID, resp.Status)
	}
	return nil
}
