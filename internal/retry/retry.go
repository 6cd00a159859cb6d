// Package retry holds the request retry and polling discipline shared by
// every remote client.
package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/daijiaran/cinegrid/internal/domain"
	"github.com/daijiaran/cinegrid/internal/infra"
)

// StatusError is returned by clients for non-2xx responses.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("http status %d", e.Code)
	}
	return fmt.Sprintf("http status %d: %s", e.Code, e.Message)
}

// IsTransient reports whether err is a server-class or transport failure.
// Client errors (4xx, including 429) and cancellation are never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= http.StatusInternalServerError
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF)
}

// Request retries a single remote call. Retries counts extra attempts after
// the first one.
type Request struct {
	Retries   int
	Delay     time.Duration
	Retryable func(error) bool
	Logger    *infra.Logger
}

// DefaultRequest allows at most one retry of a transient failure.
func DefaultRequest(logger *infra.Logger) Request {
	return Request{Retries: 1, Delay: time.Second, Retryable: IsTransient, Logger: logger}
}

// Do runs fn until it succeeds, returns a non-retryable error, or the retry
// budget is spent.
func (r Request) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	retryable := r.Retryable
	if retryable == nil {
		retryable = IsTransient
	}
	logger := infra.LoggerOrDiscard(r.Logger)
	var err error
	for attempt := 0; attempt <= r.Retries; attempt++ {
		if attempt > 0 {
			if werr := Wait(ctx, r.Delay*time.Duration(attempt)); werr != nil {
				return werr
			}
			logger.Warn().Err(err).Int("attempt", attempt+1).Msg("retry: retrying transient failure")
		}
		err = fn(ctx)
		if err == nil || !retryable(err) {
			return err
		}
	}
	return err
}

// Poll describes a fixed-interval polling loop with an attempt ceiling.
type Poll struct {
	MaxAttempts int
	Interval    time.Duration
	LogEvery    int
	// MaxConsecutiveErrors bounds transient poll failures in a row.
	MaxConsecutiveErrors int
	Logger               *infra.Logger
}

// DefaultPoll matches the service defaults: 3s interval, 400 attempts.
func DefaultPoll(logger *infra.Logger) Poll {
	return Poll{MaxAttempts: 400, Interval: 3 * time.Second, LogEvery: 5, MaxConsecutiveErrors: 5, Logger: logger}
}

// Check performs one observation. done stops the loop with the returned value.
type Check[T any] func(ctx context.Context, attempt int) (value T, done bool, err error)

// Until polls check until done, a hard error, cancellation or the ceiling.
// The context is checked before each call, after each call and while waiting
// between calls, so cancellation never waits out an interval.
func Until[T any](ctx context.Context, p Poll, label string, check Check[T]) (T, error) {
	var zero T
	logger := infra.LoggerOrDiscard(p.Logger)
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	maxErrs := p.MaxConsecutiveErrors
	if maxErrs <= 0 {
		maxErrs = 5
	}
	consecutive := 0

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := Cause(ctx); err != nil {
			return zero, err
		}
		value, done, err := check(ctx, attempt)
		if cerr := Cause(ctx); cerr != nil {
			return zero, cerr
		}
		switch {
		case err != nil && IsTransient(err):
			consecutive++
			logger.Warn().Err(err).Str("job", label).Int("attempt", attempt).Msg("retry: transient poll failure")
			if consecutive >= maxErrs {
				return zero, fmt.Errorf("poll %s: %d consecutive failures: %w", label, consecutive, err)
			}
		case err != nil:
			return zero, err
		case done:
			return value, nil
		default:
			consecutive = 0
		}
		if p.LogEvery > 0 && attempt%p.LogEvery == 0 {
			logger.Info().Str("job", label).Int("attempt", attempt).Int("max_attempts", maxAttempts).Msg("retry: still polling")
		}
		if attempt == maxAttempts {
			break
		}
		if err := Wait(ctx, p.Interval); err != nil {
			return zero, err
		}
	}
	return zero, fmt.Errorf("%w: %s still running after %d polls", domain.ErrPollingTimeout, label, maxAttempts)
}

// Wait sleeps for d unless ctx ends first.
func Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return Cause(ctx)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return Cause(ctx)
	case <-timer.C:
		return nil
	}
}

// Cause returns the cancellation cause of ctx, or nil while it is live.
func Cause(ctx context.Context) error {
	if ctx.Err() == nil {
		return nil
	}
	if cause := context.Cause(ctx); cause != nil {
		return cause
	}
	return ctx.Err()
}
