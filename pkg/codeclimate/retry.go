package codeclimate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// retryPolicy controls the transport-level retry loop.
type retryPolicy struct {
	maxAttempts int
	backoff     time.Duration
	maxBackoff  time.Duration
}

// do executes req with exponential backoff. Network errors, 429 and 5xx are
// retried; any other response is returned to the caller as-is. When every
// attempt fails the error wraps ErrTransient.
func (p retryPolicy) do(ctx context.Context, client *http.Client, req *http.Request, logger *slog.Logger) (*http.Response, error) {
	attempts := max(p.maxAttempts, 1)
	delay := p.backoff

	var lastErr error

	for attempt := range attempts {
		if attempt > 0 {
			logger.DebugContext(ctx, "retrying request",
				"url", req.URL.String(), "attempt", attempt+1, "delay", delay, "error", lastErr)

			err := sleepCtx(ctx, delay)
			if err != nil {
				return nil, err
			}

			delay = min(delay*2, p.maxBackoff)
		}

		resp, err := client.Do(req.WithContext(ctx))
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}

			lastErr = err

			continue
		}

		if !isRetryableStatus(resp.StatusCode) {
			return resp, nil
		}

		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		lastErr = fmt.Errorf("%w: %s", errStatus, resp.Status)
	}

	return nil, fmt.Errorf("%w: %s after %d attempts: %w", ErrTransient, req.URL.Path, attempts, lastErr)
}

var errStatus = errors.New("retryable status")

// isRetryableStatus returns true for HTTP status codes that should be retried.
func isRetryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
