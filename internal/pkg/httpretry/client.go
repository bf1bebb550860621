// Package httpretry wraps an HTTP client with bounded retries for calls to
// external endpoints that fail transiently, such as SNS subscription
// confirmation URLs. Server errors and 429s are retried with capped
// exponential backoff; client errors are returned to the caller untouched.
package httpretry

import (
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"time"
)

// HTTPDoer executes a single HTTP request. *http.Client satisfies it, so
// tests can pass a plain client or a stub.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RetryClient retries transient failures on behalf of the wrapped client.
type RetryClient struct {
	inner      HTTPDoer
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// NewRetryClient wraps client with retry behavior. A nil client gets a
// 30-second-timeout http.Client; maxRetries <= 0 falls back to 3 retries
// after the initial attempt.
func NewRetryClient(client HTTPDoer, maxRetries int) *RetryClient {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &RetryClient{
		inner:      client,
		maxRetries: maxRetries,
		baseDelay:  time.Second,
		maxDelay:   30 * time.Second,
	}
}

// Do runs the request, retrying network errors and retryable statuses
// (429, 500, 502, 503, 504) until the retry budget is spent. The final
// response is returned as-is even when its status is retryable, so callers
// can still read the body. Context cancellation stops the loop immediately.
func (rc *RetryClient) Do(req *http.Request) (*http.Response, error) {
	var lastErr error

	for attempt := 0; ; attempt++ {
		if err := req.Context().Err(); err != nil {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, err
		}

		if attempt > 0 {
			// Rewind the body for requests that carry one.
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, fmt.Errorf("httpretry: rewind request body: %w", err)
				}
				req.Body = body
			}

			wait := rc.backoff(attempt)
			log.Printf("httpretry: attempt %d/%d %s %s in %s", attempt, rc.maxRetries, req.Method, req.URL.Host, wait)
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-req.Context().Done():
				timer.Stop()
				if lastErr != nil {
					return nil, lastErr
				}
				return nil, req.Context().Err()
			}
		}

		resp, err := rc.inner.Do(req)
		switch {
		case err != nil:
			if req.Context().Err() != nil {
				return nil, err
			}
			lastErr = err
		case !retryable(resp.StatusCode):
			return resp, nil
		case attempt == rc.maxRetries:
			return resp, nil
		default:
			// Drain so the connection can be reused.
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			lastErr = fmt.Errorf("httpretry: status %d", resp.StatusCode)
		}

		if attempt == rc.maxRetries {
			return nil, lastErr
		}
	}
}

// backoff doubles the base delay per attempt, caps it, and applies equal
// jitter (half fixed, half random) so synchronized callers spread out.
func (rc *RetryClient) backoff(attempt int) time.Duration {
	d := rc.baseDelay << (attempt - 1)
	if d > rc.maxDelay || d <= 0 {
		d = rc.maxDelay
	}
	half := d / 2
	return half + time.Duration(rand.Int63n(int64(half)+1))
}

func retryable(status int) bool {
	switch status {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}
