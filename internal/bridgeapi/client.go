// Package bridgeapi is a client for the bridge's local REST API.
package bridgeapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Iron-Ham/waproxy/internal/errors"
)

const (
	// defaultTimeout is the per-request timeout.
	defaultTimeout = 30 * time.Second

	// maxResponseBytes caps how much of a response body is read.
	maxResponseBytes = 10 << 20

	// unknownResponse is reported when the bridge omits a message.
	unknownResponse = "Unknown response"
)

// HTTPClient is the subset of *http.Client used by Client.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client talks to the bridge REST API rooted at a base URL such as
// "http://localhost:8080/api".
type Client struct {
	baseURL    string
	httpClient HTTPClient
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc HTTPClient) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout sets the timeout of the default HTTP client.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if hc, ok := c.httpClient.(*http.Client); ok && timeout > 0 {
			hc.Timeout = timeout
		}
	}
}

// NewClient creates a client for the API at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the API root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// SendResult is the outcome of a send request.
type SendResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type sendRequest struct {
	Recipient string `json:"recipient"`
	Message   string `json:"message"`
}

type sendResponse struct {
	Success bool    `json:"success"`
	Message *string `json:"message"`
}

// SendMessage posts a text message to recipient. The result is successful
// only when the bridge answered 200 and reported success itself.
func (c *Client) SendMessage(ctx context.Context, recipient, message string) (SendResult, error) {
	const endpoint = "/send"

	reqBytes, err := json.Marshal(sendRequest{Recipient: recipient, Message: message})
	if err != nil {
		return SendResult{}, fmt.Errorf("marshal request: %w", err)
	}

	status, body, err := c.do(ctx, http.MethodPost, endpoint, bytes.NewReader(reqBytes))
	if err != nil {
		return SendResult{}, err
	}

	var resp sendResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return SendResult{}, errors.NewUpstreamError(endpoint, err).
			WithStatusCode(status).
			WithMessage("invalid JSON response")
	}

	result := SendResult{
		Success: status == http.StatusOK && resp.Success,
		Message: unknownResponse,
	}
	if resp.Message != nil {
		result.Message = *resp.Message
	}
	return result, nil
}

// SearchContacts queries the bridge contact list. The response body is
// returned unchanged whatever the status code, as long as it is JSON.
func (c *Client) SearchContacts(ctx context.Context, query string) (json.RawMessage, error) {
	const endpoint = "/contacts/search"

	path := endpoint + "?query=" + url.QueryEscape(query)
	status, body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	body = bytes.TrimSpace(body)
	if !json.Valid(body) {
		return nil, errors.NewUpstreamError(endpoint, nil).
			WithStatusCode(status).
			WithMessage("response is not JSON")
	}
	return json.RawMessage(body), nil
}

// do sends a request and returns the status code and body.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (int, []byte, error) {
	endpoint := path
	if i := strings.IndexByte(endpoint, '?'); i >= 0 {
		endpoint = endpoint[:i]
	}

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
		return 0, nil, errors.NewUpstreamError(endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, errors.NewUpstreamError(endpoint, err).WithStatusCode(resp.StatusCode)
	}
	return resp.StatusCode, data, nil
}
