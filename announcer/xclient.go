package announcer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// HTTPDoer abstracts the HTTP client for tests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPClient posts messages to an X API v2 compatible tweet endpoint using
// OAuth2 bearer auth.
type HTTPClient struct {
	endpoint string
	bearer   string
	client   HTTPDoer
}

var _ XClient = (*HTTPClient)(nil)

// ClientOption adjusts the posting client.
type ClientOption func(*HTTPClient)

// WithHTTPClient replaces the HTTP client, for tests.
func WithHTTPClient(client HTTPDoer) ClientOption {
	return func(c *HTTPClient) { c.client = client }
}

// NewHTTPClient builds the posting client. endpoint is the full tweet
// creation URL.
func NewHTTPClient(endpoint, bearer string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		endpoint: strings.TrimSpace(endpoint),
		bearer:   strings.TrimSpace(bearer),
		client:   &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PostTweet submits the text and returns the created id.
func (c *HTTPClient) PostTweet(ctx context.Context, text string) (string, error) {
	if c.endpoint == "" {
		return "", fmt.Errorf("announcer endpoint not configured")
	}
	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return "", fmt.Errorf("encode tweet: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearer)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var body struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if body.Data.ID == "" {
		return "", fmt.Errorf("response missing tweet id")
	}
	return body.Data.ID, nil
}
