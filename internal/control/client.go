package control

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/crimson-sun/tre/internal/session"
)

const (
	maxRetries          = 3
	defaultRetryBackoff = 500 * time.Millisecond
)

// APIError is a non-2xx response from the control API.
type APIError struct {
	StatusCode int
	Message    string

	retryAfter string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("control: HTTP %d: %s", e.StatusCode, e.Message)
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPTimeout sets the per-request timeout. Default: 5s.
func WithHTTPTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.http.Timeout = d }
}

// WithClientBackoff sets the first retry delay, doubled per retry.
func WithClientBackoff(d time.Duration) ClientOption {
	return func(c *Client) { c.backoff = d }
}

// Client talks to the control API of a running session. All calls are
// idempotent and retried on 429 and 5xx.
type Client struct {
	baseURL string
	http    *http.Client
	backoff time.Duration
}

// NewClient creates a client for addr ("127.0.0.1:7070" or a full URL).
func NewClient(addr string, opts ...ClientOption) *Client {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	c := &Client{
		baseURL: strings.TrimRight(addr, "/"),
		http:    &http.Client{Timeout: 5 * time.Second},
		backoff: defaultRetryBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current run snapshot.
func (c *Client) State(ctx context.Context) (session.State, error) {
	var st session.State
	err := c.do(ctx, http.MethodGet, "/run", &st)
	return st, err
}

// Pause suspends matching. Lines keep being buffered.
func (c *Client) Pause(ctx context.Context) (session.State, error) {
	return c.post(ctx, "/run/pause")
}

// Resume replays buffered lines and continues matching.
func (c *Client) Resume(ctx context.Context) (session.State, error) {
	return c.post(ctx, "/run/resume")
}

// Stop ends the run.
func (c *Client) Stop(ctx context.Context) (session.State, error) {
	return c.post(ctx, "/run/stop")
}

func (c *Client) post(ctx context.Context, path string) (session.State, error) {
	var st session.State
	err := c.do(ctx, http.MethodPost, path, &st)
	return st, err
}

func (c *Client) do(ctx context.Context, method, path string, dest any) error {
	var lastErr *APIError
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			t := time.NewTimer(c.retryDelay(attempt, lastErr))
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
		if err != nil {
			return fmt.Errorf("control: %w", err)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("control: %s %s: %w", method, path, err)
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("control: read response: %w", err)
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if err := json.Unmarshal(body, dest); err != nil {
				return fmt.Errorf("control: decode response: %w", err)
			}
			return nil
		}

		apiErr := &APIError{StatusCode: resp.StatusCode, Message: errorMessage(body)}
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			apiErr.retryAfter = resp.Header.Get("Retry-After")
			lastErr = apiErr
		case resp.StatusCode >= 500:
			lastErr = apiErr
		default:
			return apiErr
		}
	}
	return lastErr
}

func (c *Client) retryDelay(attempt int, lastErr *APIError) time.Duration {
	if lastErr != nil && lastErr.retryAfter != "" {
		if secs, err := strconv.Atoi(lastErr.retryAfter); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return c.backoff * time.Duration(1<<(attempt-1))
}

// errorMessage extracts {"error": "..."} or falls back to the raw body.
func errorMessage(body []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return e.Error
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 512 {
		s = s[:512]
	}
	return s
}
