package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrUnavailable marks transport failures and 5xx answers from the signing endpoint
var ErrUnavailable = errors.New("relay signer unavailable")

// Client talks to a remote signing endpoint
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

var _ Signer = (*Client)(nil)

// NewClient creates a client for the signing endpoint at baseURL
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) Identity(ctx context.Context) (Identity, error) {
	var id Identity
	if err := c.do(ctx, http.MethodGet, "/v1/identity", nil, &id); err != nil {
		return Identity{}, err
	}
	if id.Address.IsZero() {
		return Identity{}, fmt.Errorf("relay returned an empty identity")
	}
	return id, nil
}

func (c *Client) Sign(ctx context.Context, req SignRequest) (*SignResponse, error) {
	var resp SignResponse
	if err := c.do(ctx, http.MethodPost, "/v1/sign", req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Transaction) == 0 {
		return nil, fmt.Errorf("relay returned an empty transaction")
	}
	return &resp, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var eb errorBody
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&eb)
		switch {
		case resp.StatusCode == http.StatusUnauthorized:
			return fmt.Errorf("%w: %s", ErrUnauthorized, eb.Message)
		case resp.StatusCode == http.StatusForbidden:
			return fmt.Errorf("%w: %s", ErrForeignSigner, eb.Message)
		case resp.StatusCode >= 500:
			return fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, eb.Message)
		default:
			return fmt.Errorf("relay rejected request (status %d): %s", resp.StatusCode, eb.Message)
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode relay response: %w", err)
	}
	return nil
}
