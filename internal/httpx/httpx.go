// Package httpx wraps hashicorp/go-retryablehttp with the CORE's error
// taxonomy: transient network failures are retried with
// exponential backoff up to a configured bound and then surfaced as
// MaxRetryError, non-retryable 4xx responses surface immediately as
// UpstreamRejectError. Grounded on quantrion/utils.py:retry_request.
package httpx

import (
	"fmt"
	"io"
	"net/http"
	"time"

	retryablehttp "github.com/hashicorp/go-retryablehttp"
)

// MaxRetryError is returned when a request exhausted its retry budget
// against a transient (429/5xx/transport) failure.
type MaxRetryError struct {
	Attempts int
	Err      error
}

func (e *MaxRetryError) Error() string {
	return fmt.Sprintf("httpx: max retries (%d) reached: %v", e.Attempts, e.Err)
}

func (e *MaxRetryError) Unwrap() error { return e.Err }

// UpstreamRejectError wraps a non-retryable 4xx response.
type UpstreamRejectError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamRejectError) Error() string {
	return fmt.Sprintf("httpx: upstream rejected request: status %d: %s", e.StatusCode, e.Body)
}

var retryableStatus = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// NewClient builds a retryablehttp client whose retry policy matches spec
// §7's TransientNetwork taxonomy: retryable on 429/5xx/transport errors,
// exponential backoff, bounded by maxRetries.
func NewClient(maxRetries int) *retryablehttp.Client {
	client := retryablehttp.NewClient()
	client.Logger = nil
	client.RetryMax = maxRetries
	client.RetryWaitMin = 100 * time.Millisecond
	client.RetryWaitMax = 5 * time.Second
	client.CheckRetry = func(_ interface{}, resp *http.Response, err error) (bool, error) {
		if err != nil {
			return true, nil
		}
		if resp == nil {
			return false, nil
		}
		return retryableStatus[resp.StatusCode], nil
	}
	return client
}

// Do executes req and classifies the outcome per the CORE's error
// taxonomy: transport/retryable-status exhaustion becomes MaxRetryError,
// a non-retryable 4xx/5xx status becomes UpstreamRejectError, success
// (2xx) returns the response unwrapped for the caller to decode.
func Do(client *retryablehttp.Client, req *retryablehttp.Request) (*http.Response, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, &MaxRetryError{Attempts: client.RetryMax, Err: err}
	}
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &UpstreamRejectError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return resp, nil
}
