package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

const (
	DefaultTimeout    = 10 * time.Minute
	DefaultMaxRetries = 0
	maxMaxRetries     = 5
	retryBaseDelay    = 200 * time.Millisecond
)

type UnsupportedProviderError struct {
	Selector string
}

func (e *UnsupportedProviderError) Error() string {
	return fmt.Sprintf("unsupported provider: %q", e.Selector)
}

// ProviderCallError covers transport failures, non-2xx statuses and error
// envelopes returned by the provider.
type ProviderCallError struct {
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderCallError) Error() string {
	switch {
	case e.StatusCode > 0 && strings.TrimSpace(e.Message) != "":
		return fmt.Sprintf("%s request failed with status %d: %s", e.Provider, e.StatusCode, e.Message)
	case e.StatusCode > 0:
		return fmt.Sprintf("%s request failed with status %d", e.Provider, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("%s request failed: %v", e.Provider, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Provider, e.Message)
	}
}

func (e *ProviderCallError) Unwrap() error {
	return e.Err
}

type MalformedResponseError struct {
	Provider string
	Reason   string
	Err      error
}

func (e *MalformedResponseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s returned a malformed response: %s: %v", e.Provider, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s returned a malformed response: %s", e.Provider, e.Reason)
}

func (e *MalformedResponseError) Unwrap() error {
	return e.Err
}

// ErrorCategory is the low-cardinality label used in logs and metrics.
func ErrorCategory(err error) string {
	if err == nil {
		return "none"
	}

	var unsupported *UnsupportedProviderError
	if errors.As(err, &unsupported) {
		return "unsupported_provider"
	}

	var malformed *MalformedResponseError
	if errors.As(err, &malformed) {
		return "malformed_response"
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}

	var callErr *ProviderCallError
	if errors.As(err, &callErr) {
		if callErr.StatusCode > 0 {
			return fmt.Sprintf("provider_http_%d", callErr.StatusCode)
		}
		var netErr net.Error
		if errors.As(callErr.Err, &netErr) && netErr.Timeout() {
			return "timeout"
		}
		if callErr.Err == nil {
			return "provider_error"
		}
		return "transport"
	}

	return "unknown"
}

func boundMaxRetries(maxRetries int) int {
	if maxRetries < 0 {
		return 0
	}
	if maxRetries > maxMaxRetries {
		return maxMaxRetries
	}
	return maxRetries
}

func shouldRetryHTTPStatus(statusCode int) bool {
	return statusCode == 429 || statusCode >= 500
}

func shouldRetryError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var callErr *ProviderCallError
	if errors.As(err, &callErr) && callErr.StatusCode > 0 {
		return shouldRetryHTTPStatus(callErr.StatusCode)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	message := strings.ToLower(err.Error())
	retryableTokens := []string{
		"timeout",
		"temporarily unavailable",
		"connection reset",
		"connection refused",
		"broken pipe",
		"eof",
	}
	for _, token := range retryableTokens {
		if strings.Contains(message, token) {
			return true
		}
	}

	return false
}

func waitForBackoff(ctx context.Context, attempt int) error {
	delay := retryBaseDelay << attempt
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
