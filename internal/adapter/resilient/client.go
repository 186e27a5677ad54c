// Package resilient wraps outbound HTTP calls in a circuit breaker with
// bounded exponential backoff.
package resilient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned without a network call while the breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker open")

// maxErrorBody caps how much of a failed response body is kept for logs.
const maxErrorBody = 512

// Backoff controls retry timing. MaxRetries counts retries after the first attempt.
type Backoff struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultBackoff retries twice. Interactive callers that must fail fast set
// MaxRetries to zero.
var DefaultBackoff = Backoff{
	MaxRetries:      2,
	InitialInterval: 250 * time.Millisecond,
	MaxInterval:     2 * time.Second,
}

// StatusError is a non-2xx response. The body has already been closed.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// retryable reports whether the status is worth another attempt.
func (e *StatusError) retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Client issues requests through a circuit breaker.
type Client struct {
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	backoff    Backoff
	logger     *slog.Logger
}

// New creates a Client. name labels the breaker in logs.
func New(name string, httpClient *http.Client, backoff Backoff, logger *slog.Logger) *Client {
	if backoff.InitialInterval <= 0 {
		backoff.InitialInterval = DefaultBackoff.InitialInterval
	}
	if backoff.MaxRetries < 0 {
		backoff.MaxRetries = 0
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
		// Client errors and caller cancellations are not the upstream's fault.
		IsSuccessful: func(err error) bool {
			if errors.Is(err, context.Canceled) {
				return true
			}
			var se *StatusError
			if errors.As(err, &se) {
				return !se.retryable()
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return &Client{httpClient: httpClient, breaker: cb, backoff: backoff, logger: logger}
}

// Do sends the request built by build, retrying transport failures, 429s,
// and 5xx responses. A successful response is returned with its body open.
func (c *Client) Do(ctx context.Context, build func(ctx context.Context) (*http.Request, error)) (*http.Response, error) {
	delay := c.backoff.InitialInterval
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		req, err := build(ctx)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}

		result, err := c.breaker.Execute(func() (interface{}, error) {
			return c.send(req)
		})
		if err == nil {
			resp, ok := result.(*http.Response)
			if !ok {
				return nil, errors.New("unexpected result type from circuit breaker")
			}
			return resp, nil
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", ErrCircuitOpen, err)
		}

		var se *StatusError
		if errors.As(err, &se) && !se.retryable() {
			return nil, err
		}
		if attempt >= c.backoff.MaxRetries {
			return nil, err
		}

		c.logger.Debug("retrying request", "url", req.URL.Redacted(), "attempt", attempt+1, "delay", delay, "error", err)
		if !sleepWithContext(ctx, delay) {
			return nil, ctx.Err()
		}
		delay = nextBackoff(delay, c.backoff.MaxInterval)
	}
}

func (c *Client) send(req *http.Request) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return resp, nil
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if maxBackoff > 0 && next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
