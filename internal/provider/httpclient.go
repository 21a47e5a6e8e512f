/*
PURPOSE:
  HTTP client for provider calls with optional backoff before a stream
  starts.

REQUIREMENTS:
  - Only 429, 502, 503, 504 and transient dial errors are retried, and
    only when MaxAttempts is above 1.
  - Once a 2xx response is returned nothing is retried.

ARCHITECTURE INTEGRATION:
  - Used by: internal/provider/provider.go, built in internal/cli/run.go

ERROR HANDLING:
  - Context cancellation stops the backoff immediately.

RELATED FILES:
  - internal/provider/errors.go
  - internal/config/config.go (retry section)
*/

package provider

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/daryltucker/mimic-runner/internal/output"
)

// RetryConfig controls pre-stream retries of transient failures.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// DefaultRetryConfig makes a single attempt, so a 429 or 5xx ends the job as
// an error and retry stays with the caller. Raise MaxAttempts to retry
// transient failures before the stream starts.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 1,
		BaseDelay:   time.Second,
		MaxDelay:    10 * time.Second,
	}
}

// Client wraps http.Client with retry logic for transient errors that
// happen before a stream starts. Once a success status arrives the body is
// handed to the caller and never retried.
type Client struct {
	http  *http.Client
	retry RetryConfig
}

// NewClient creates a client with retry support.
func NewClient(retry RetryConfig) *Client {
	if retry.MaxAttempts < 1 {
		retry.MaxAttempts = 1
	}
	return &Client{
		// No overall timeout: a response body is a long-lived stream.
		http: &http.Client{
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout: 10 * time.Second,
				IdleConnTimeout:     90 * time.Second,
				MaxIdleConns:        32,
				MaxIdleConnsPerHost: 8,
			},
		},
		retry: retry,
	}
}

// NewClientWithHTTP uses a caller-supplied http.Client (tests, custom transports).
func NewClientWithHTTP(hc *http.Client, retry RetryConfig) *Client {
	c := NewClient(retry)
	c.http = hc
	return c
}

// Post sends body to url. Retryable statuses (429, 502, 503, 504) and
// transient dial errors are retried with exponential backoff; the final
// attempt's response is returned as-is so its body can be reported.
func (c *Client) Post(ctx context.Context, url string, header http.Header, body []byte) (*http.Response, error) {
	delay := c.retry.BaseDelay
	var lastErr error

	for attempt := 0; attempt < c.retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			output.Logger.Debugw("Retrying request", "url", url, "attempt", attempt+1, "delay", delay)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay = min(delay*2, c.retry.MaxDelay)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("request: %w", err)
		}
		for k, vs := range header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}

		last := attempt == c.retry.MaxAttempts-1
		resp, err := c.http.Do(req)
		if err != nil {
			if isRetryableNetError(err) && !last {
				lastErr = err
				continue
			}
			return nil, err
		}

		if shouldRetryStatus(resp.StatusCode) && !last {
			resp.Body.Close()
			lastErr = fmt.Errorf("HTTP %d", resp.StatusCode)
			continue
		}
		return resp, nil
	}

	return nil, fmt.Errorf("after %d attempts: %w", c.retry.MaxAttempts, lastErr)
}

// shouldRetryStatus checks if an HTTP status code warrants a retry.
func shouldRetryStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
