// Package webhook posts batch payloads to user configured endpoints.
//
// A request that fails at the network level is retried once as a plain
// "simple" request whose response is never read. When that retry goes
// through, the attempt is reported as a success with Opaque set: the
// endpoint accepted the connection but the real outcome is unknown.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

const (
	DefaultTimeout = 30 * time.Second

	// ErrBlocked is reported when both transports fail
	ErrBlocked = "request blocked: likely cross-origin restriction"

	maxErrorBody = 1024
)

// Result is the outcome of one delivery attempt
type Result struct {
	Success bool   `json:"success"`
	Status  int    `json:"status,omitempty"`
	Error   string `json:"error,omitempty"`
	// Opaque is set when success was assumed from the fallback transport
	Opaque bool `json:"opaque,omitempty"`
}

// TestResult is the outcome of a probe request
type TestResult struct {
	Result
	Latency time.Duration `json:"latency"`
}

// Client delivers payloads with a primary JSON transport and an opaque
// fallback
type Client struct {
	httpClient *http.Client
	now        func() time.Time
}

// NewClient creates a webhook client bounded by timeout
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		now: time.Now,
	}
}

// Send posts payload as JSON to url
func (c *Client) Send(ctx context.Context, url string, payload any) *Result {
	data, err := json.Marshal(payload)
	if err != nil {
		return &Result{Error: fmt.Sprintf("marshal payload: %v", err)}
	}
	return c.deliver(ctx, url, data)
}

// Test sends a minimal probe to url and measures the round trip
func (c *Client) Test(ctx context.Context, url string) *TestResult {
	start := c.now()
	res := c.Send(ctx, url, &TestPayload{Source: Source, Test: true, Timestamp: start.UTC()})
	return &TestResult{Result: *res, Latency: c.now().Sub(start)}
}

func (c *Client) deliver(ctx context.Context, url string, data []byte) *Result {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return &Result{Error: fmt.Sprintf("create request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if !retryOpaque(ctx, err) {
			return &Result{Error: err.Error()}
		}
		return c.deliverOpaque(ctx, url, data)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		io.Copy(io.Discard, resp.Body)
		return &Result{Success: true, Status: resp.StatusCode}
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &Result{
		Status: resp.StatusCode,
		Error:  fmt.Sprintf("HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(body)),
	}
}

// deliverOpaque retries as a simple text/plain request and ignores the
// response entirely
func (c *Client) deliverOpaque(ctx context.Context, url string, data []byte) *Result {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return &Result{Error: ErrBlocked}
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &Result{Error: ErrBlocked}
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	return &Result{Success: true, Status: http.StatusOK, Opaque: true}
}

// retryOpaque reports whether err is a generic network failure. Timeouts
// and cancellations are final.
func retryOpaque(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return false
	}
	return true
}
