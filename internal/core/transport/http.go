// Package transport delivers queued requests to the upstream collector.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cyclops-relay/cyclops/internal/core"
)

// DefaultTimeout bounds a single upstream round trip.
const DefaultTimeout = 30 * time.Second

// maxDrainBytes caps how much of a response body is read before closing.
const maxDrainBytes = 64 << 10

// StatusError reports a non-2xx upstream response.
type StatusError struct {
	StatusCode int
	RetryAfter time.Duration
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("upstream responded %d", e.StatusCode)
	}
	return fmt.Sprintf("upstream responded %d: %s", e.StatusCode, e.Body)
}

// IsRateLimited reports whether err is an upstream 429 and returns its
// Retry-After hint.
func IsRateLimited(err error) (time.Duration, bool) {
	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusTooManyRequests {
		return statusErr.RetryAfter, true
	}
	return 0, false
}

// HTTP sends requests with a plain http.Client. It never retries.
type HTTP struct {
	Client    *http.Client
	UserAgent string
}

// NewHTTP returns an HTTP transport with the given per-request timeout.
func NewHTTP(timeout time.Duration, userAgent string) *HTTP {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTP{
		Client:    &http.Client{Timeout: timeout},
		UserAgent: userAgent,
	}
}

// Send performs one upstream request for req.
func (h *HTTP) Send(ctx context.Context, req *core.PendingRequest) error {
	if req == nil {
		return errors.New("request is required")
	}

	method := req.Method
	if method == "" {
		method = http.MethodPost
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return fmt.Errorf("build upstream request: %w", err)
	}
	for name, value := range req.Headers {
		httpReq.Header.Set(name, value)
	}
	if h.UserAgent != "" && httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", h.UserAgent)
	}

	client := h.Client
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup on HTTP response body

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxDrainBytes))
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	return &StatusError{
		StatusCode: resp.StatusCode,
		RetryAfter: retryAfter(resp),
		Body:       truncate(strings.TrimSpace(string(body)), 256),
	}
}

func retryAfter(resp *http.Response) time.Duration {
	if resp == nil || resp.Header == nil {
		return 0
	}

	retry := resp.Header.Get("Retry-After")
	if retry == "" {
		return 0
	}

	if seconds, err := time.ParseDuration(retry + "s"); err == nil {
		if seconds < 0 {
			return 0
		}
		return seconds
	}
	if parsed, err := http.ParseTime(retry); err == nil {
		if wait := time.Until(parsed); wait > 0 {
			return wait
		}
	}
	return 0
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}

// Failure kinds reported by Classify.
const (
	FailureRateLimited = "rate_limited"
	FailureClient      = "client_error"
	FailureServer      = "server_error"
	FailureTimeout     = "timeout"
	FailureNetwork     = "network"
)

// Classify buckets a Send error for metrics. It returns "" for nil.
func Classify(err error) string {
	if err == nil {
		return ""
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == http.StatusTooManyRequests:
			return FailureRateLimited
		case statusErr.StatusCode >= 500:
			return FailureServer
		default:
			return FailureClient
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return FailureTimeout
	}
	return FailureNetwork
}
