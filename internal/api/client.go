package api

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

	"github.com/praveen5665/bmail/internal/apierrors"
)

const (
	// DefaultTimeout bounds every HTTP exchange made by a Client.
	DefaultTimeout = 30 * time.Second

	// maxResponseSize caps how much of a response body is read.
	maxResponseSize = 16 << 20

	userAgent = "bmail-client-go"
)

// Config configures a Client.
type Config struct {
	// BaseURL is prepended to every request path.
	BaseURL string
	// Token, when set, is sent as a Bearer token.
	Token string
	// HTTPClient overrides the default http.Client.
	HTTPClient *http.Client
	// Timeout is used when HTTPClient is nil. Defaults to DefaultTimeout.
	Timeout time.Duration
	// Retry controls retries of idempotent requests. Defaults to DefaultRetryConfig.
	Retry *RetryConfig
}

// Client is a small HTTP client for JSON services and content gateways.
// Only idempotent requests (GET, HEAD) are retried.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	retry      *RetryConfig
}

// Option configures the API client.
type Option func(*Config)

// WithToken sets the Bearer token.
func WithToken(token string) Option {
	return func(c *Config) {
		c.Token = token
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Config) {
		c.HTTPClient = client
	}
}

// WithTimeout sets the request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.Timeout = timeout
	}
}

// WithRetry sets the retry policy.
func WithRetry(rc *RetryConfig) Option {
	return func(c *Config) {
		c.Retry = rc
	}
}

// New creates a client for baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	cfg := Config{BaseURL: baseURL}
	for _, opt := range opts {
		opt(&cfg)
	}
	return NewClient(cfg)
}

// NewClient creates a client from an explicit Config.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	retry := cfg.Retry
	if retry == nil {
		retry = DefaultRetryConfig()
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		httpClient: httpClient,
		retry:      retry,
	}, nil
}

// Do sends a JSON request and decodes a JSON response into result.
func (c *Client) Do(ctx context.Context, method, path string, body, result any) error {
	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		payload = data
	}

	respBody, err := c.send(ctx, method, path, payload, "application/json", "application/json")
	if err != nil {
		return err
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// DoRaw sends body verbatim with the given content type and returns the raw
// response body.
func (c *Client) DoRaw(ctx context.Context, method, path string, body []byte, contentType string) ([]byte, error) {
	return c.send(ctx, method, path, body, contentType, "*/*")
}

func (c *Client) send(ctx context.Context, method, path string, body []byte, contentType, accept string) ([]byte, error) {
	url := c.baseURL + path
	idempotent := method == http.MethodGet || method == http.MethodHead

	for attempt := 0; ; attempt++ {
		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}
		if body != nil && contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		req.Header.Set("Accept", accept)
		req.Header.Set("User-Agent", userAgent)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if idempotent && attempt < c.retry.MaxRetries {
				if werr := c.retry.Wait(ctx, attempt); werr != nil {
					return nil, werr
				}
				continue
			}
			return nil, &apierrors.NetworkError{Err: err, URL: url, Attempt: attempt + 1}
		}

		respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
		resp.Body.Close()

		if resp.StatusCode >= 400 {
			if idempotent && c.retry.ShouldRetry(attempt, resp.StatusCode) {
				if werr := c.retry.Wait(ctx, attempt); werr != nil {
					return nil, werr
				}
				continue
			}
			return nil, parseErrorResponse(resp, respBody)
		}

		if readErr != nil {
			return nil, &apierrors.NetworkError{Err: readErr, URL: url, Attempt: attempt + 1}
		}
		return respBody, nil
	}
}

func parseErrorResponse(resp *http.Response, body []byte) error {
	var errResp struct {
		Error     string `json:"error"`
		Message   string `json:"message"`
		RequestID string `json:"request_id"`
	}

	if err := json.Unmarshal(body, &errResp); err == nil && (errResp.Error != "" || errResp.Message != "") {
		msg := errResp.Error
		if msg == "" {
			msg = errResp.Message
		}
		return &apierrors.APIError{
			StatusCode: resp.StatusCode,
			Message:    msg,
			RequestID:  errResp.RequestID,
		}
	}

	return &apierrors.APIError{
		StatusCode: resp.StatusCode,
		Message:    strings.TrimSpace(string(body)),
	}
}

// IsNetworkError reports whether err is a transport failure rather than an
// HTTP status returned by the server.
func IsNetworkError(err error) bool {
	var netErr *apierrors.NetworkError
	return errors.As(err, &netErr)
}
