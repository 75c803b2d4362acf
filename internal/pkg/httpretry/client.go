// Package httpretry provides an HTTP client with automatic retry logic,
// exponential backoff, and jitter for resilient external API calls.
package httpretry

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ignite/provider-outreach/internal/pkg/logger"
	"github.com/ignite/provider-outreach/internal/pkg/retry"
)

// HTTPDoer is the interface for executing HTTP requests.
// Both *http.Client and *RetryClient satisfy this interface.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RetryClient wraps an HTTPDoer with retry logic using exponential backoff and jitter.
type RetryClient struct {
	client HTTPDoer
	policy retry.Policy
}

// NewRetryClient creates a new RetryClient that wraps the given HTTPDoer.
// If client is nil, a default http.Client with 30s timeout is used.
// maxRetries is the number of retry attempts after the initial request (default 3).
func NewRetryClient(client HTTPDoer, maxRetries int) *RetryClient {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &RetryClient{
		client: client,
		policy: retry.Policy{MaxAttempts: maxRetries + 1, BaseDelay: time.Second, MaxDelay: 30 * time.Second},
	}
}

// WithPolicy replaces the backoff policy. Used by tests to shrink delays.
func (rc *RetryClient) WithPolicy(p retry.Policy) *RetryClient {
	rc.policy = p
	return rc
}

// Do executes the HTTP request with retry logic.
// It retries on retryable status codes (429, 500, 502, 503, 504) and
// transient network errors. It does NOT retry on client errors or
// context cancellation. On the final attempt the response is returned
// as-is so the caller can inspect the status code and body.
func (rc *RetryClient) Do(req *http.Request) (*http.Response, error) {
	var final *http.Response
	_, err := retry.Do(req.Context(), rc.policy, func(ctx context.Context, attempt int) error {
		if attempt > 1 {
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return retry.Permanent(fmt.Errorf("httpretry: failed to reset request body: %w", err))
				}
				req.Body = body
			}
			logger.Debug("httpretry: retrying", "attempt", attempt, "method", req.Method, "host", req.URL.Host, "path", req.URL.Path)
		}

		resp, err := rc.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return retry.Permanent(err)
			}
			return err
		}
		if !isRetryableStatus(resp.StatusCode) || attempt == rc.policy.MaxAttempts {
			final = resp
			return nil
		}
		// Drain for connection reuse.
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		return fmt.Errorf("httpretry: server returned retryable status %d", resp.StatusCode)
	})
	if final != nil {
		return final, nil
	}
	return nil, err
}

// IsRetryableStatus exposes the retry classification for callers that map
// status codes onto their own error taxonomy.
func IsRetryableStatus(statusCode int) bool { return isRetryableStatus(statusCode) }

// isRetryableStatus returns true for 429, 500, 502, 503 and 504.
func isRetryableStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
