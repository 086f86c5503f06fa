// Package client talks to a running waproxy server. The CLI subcommands
// other than serve are built on it.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultTimeout = 30 * time.Second

// Status is the body of GET /.
type Status struct {
	Status        string `json:"status"`
	Message       string `json:"message"`
	Uptime        string `json:"uptime"`
	Authenticated bool   `json:"authenticated"`
	QRGenerated   bool   `json:"qr_generated"`
	BridgeState   string `json:"bridge_state"`
}

// QRStatus is the body of GET /qr and of /restart.
type QRStatus struct {
	Status         string `json:"status"`
	Message        string `json:"message"`
	QR             string `json:"qr,omitempty"`
	TimeSinceStart string `json:"time_since_start,omitempty"`
	RestartURL     string `json:"restart_url,omitempty"`
}

// Client calls the proxy HTTP API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a client for the proxy at baseURL, e.g. "http://localhost:8000".
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Status fetches the proxy status.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var s Status
	err := c.getJSON(ctx, "/", &s)
	return s, err
}

// QR fetches the pairing status and QR code.
func (c *Client) QR(ctx context.Context) (QRStatus, error) {
	var s QRStatus
	err := c.getJSON(ctx, "/qr", &s)
	return s, err
}

// Logs returns the tail of the bridge log.
func (c *Client) Logs(ctx context.Context) (string, error) {
	var body struct {
		Logs string `json:"logs"`
	}
	if err := c.getJSON(ctx, "/logs", &body); err != nil {
		return "", err
	}
	return body.Logs, nil
}

// Restart asks the proxy to restart the bridge.
func (c *Client) Restart(ctx context.Context) (QRStatus, error) {
	var s QRStatus
	err := c.getJSON(ctx, "/restart", &s)
	return s, err
}

// StreamURL returns the websocket URL of the live log stream.
func (c *Client) StreamURL() string {
	switch {
	case strings.HasPrefix(c.baseURL, "https://"):
		return "wss://" + strings.TrimPrefix(c.baseURL, "https://") + "/logs/stream"
	case strings.HasPrefix(c.baseURL, "http://"):
		return "ws://" + strings.TrimPrefix(c.baseURL, "http://") + "/logs/stream"
	default:
		return "ws://" + c.baseURL + "/logs/stream"
	}
}

// DefaultToolPrefix is the path tools are called under unless another is given.
const DefaultToolPrefix = "/tool"

// CallTool posts args to {prefix}/{name} and returns the raw JSON answer.
// An empty prefix means DefaultToolPrefix.
func (c *Client) CallTool(ctx context.Context, prefix, name string, args any) (json.RawMessage, error) {
	if prefix == "" {
		prefix = DefaultToolPrefix
	}
	body, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tool arguments: %w", err)
	}
	path := strings.TrimRight(prefix, "/") + "/" + name
	code, data, err := c.do(ctx, http.MethodPost, path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	if code != http.StatusOK {
		return nil, fmt.Errorf("tool %s: unexpected status %d: %s", name, code, strings.TrimSpace(string(data)))
	}
	return json.RawMessage(bytes.TrimSpace(data)), nil
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	code, data, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	if code != http.StatusOK {
		return fmt.Errorf("GET %s: unexpected status %d: %s", path, code, strings.TrimSpace(string(data)))
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("waproxy unreachable at %s: %w", c.baseURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response: %w", err)
	}
	return resp.StatusCode, data, nil
}
