package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/daijiaran/cinegrid/internal/domain"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "500", err: &StatusError{Code: 500}, want: true},
		{name: "503 wrapped", err: fmt.Errorf("genai: %w", &StatusError{Code: 503}), want: true},
		{name: "400", err: &StatusError{Code: 400}, want: false},
		{name: "429", err: &StatusError{Code: 429}, want: false},
		{name: "net", err: &net.OpError{Op: "dial", Err: errors.New("refused")}, want: true},
		{name: "cancel", err: context.Canceled, want: false},
		{name: "plain", err: errors.New("bad json"), want: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsTransient(tc.err); got != tc.want {
				t.Fatalf("IsTransient(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestRequestRetriesOnceOnServerError(t *testing.T) {
	calls := 0
	err := Request{Retries: 1}.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return &StatusError{Code: 502}
	})
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
	var se *StatusError
	if !errors.As(err, &se) || se.Code != 502 {
		t.Fatalf("err = %v, want status 502", err)
	}
}

func TestRequestDoesNotRetryClientError(t *testing.T) {
	for _, code := range []int{400, 429} {
		calls := 0
		_ = Request{Retries: 1}.Do(context.Background(), func(ctx context.Context) error {
			calls++
			return &StatusError{Code: code}
		})
		if calls != 1 {
			t.Fatalf("status %d: calls = %d, want 1", code, calls)
		}
	}
}

func TestRequestSucceedsAfterRetry(t *testing.T) {
	calls := 0
	err := Request{Retries: 1}.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return &StatusError{Code: 500}
		}
		return nil
	})
	if err != nil || calls != 2 {
		t.Fatalf("err = %v calls = %d", err, calls)
	}
}

func TestUntilReturnsValueWhenDone(t *testing.T) {
	p := Poll{MaxAttempts: 10, Interval: time.Millisecond}
	got, err := Until(context.Background(), p, "job-1", func(ctx context.Context, attempt int) (int, bool, error) {
		return attempt, attempt == 3, nil
	})
	if err != nil {
		t.Fatalf("Until error: %v", err)
	}
	if got != 3 {
		t.Fatalf("value = %d, want 3", got)
	}
}

func TestUntilTimesOutAtCeiling(t *testing.T) {
	calls := 0
	p := Poll{MaxAttempts: 4, Interval: time.Millisecond}
	_, err := Until(context.Background(), p, "job-2", func(ctx context.Context, attempt int) (string, bool, error) {
		calls++
		return "running", false, nil
	})
	if !errors.Is(err, domain.ErrPollingTimeout) {
		t.Fatalf("err = %v, want ErrPollingTimeout", err)
	}
	if errors.Is(err, domain.ErrRemoteTaskFailure) {
		t.Fatal("timeout must not look like a remote failure")
	}
	if calls != 4 {
		t.Fatalf("calls = %d, want 4", calls)
	}
}

func TestUntilCancelDuringWaitReturnsImmediately(t *testing.T) {
	ctx, cancel := context.WithCancelCause(context.Background())
	p := Poll{MaxAttempts: 100, Interval: time.Hour}
	start := time.Now()
	_, err := Until(ctx, p, "job-3", func(ctx context.Context, attempt int) (int, bool, error) {
		go cancel(domain.ErrCancelled)
		return 0, false, nil
	})
	if !errors.Is(err, domain.ErrCancelled) {
		t.Fatalf("err = %v, want ErrCancelled", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("cancellation waited out the interval")
	}
}

func TestUntilChecksCancelBeforeFirstCall(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	_, err := Until(ctx, Poll{MaxAttempts: 3}, "job-4", func(ctx context.Context, attempt int) (int, bool, error) {
		calls++
		return 0, false, nil
	})
	if !errors.Is(err, context.Canceled) || calls != 0 {
		t.Fatalf("err = %v calls = %d", err, calls)
	}
}

func TestUntilToleratesTransientErrors(t *testing.T) {
	p := Poll{MaxAttempts: 10, Interval: time.Millisecond, MaxConsecutiveErrors: 3}
	got, err := Until(context.Background(), p, "job-5", func(ctx context.Context, attempt int) (int, bool, error) {
		if attempt <= 2 {
			return 0, false, &StatusError{Code: 503}
		}
		return 7, true, nil
	})
	if err != nil || got != 7 {
		t.Fatalf("got = %d err = %v", got, err)
	}

	_, err = Until(context.Background(), p, "job-6", func(ctx context.Context, attempt int) (int, bool, error) {
		return 0, false, &StatusError{Code: 503}
	})
	if err == nil || errors.Is(err, domain.ErrPollingTimeout) {
		t.Fatalf("err = %v, want consecutive failure error", err)
	}
}

func TestUntilStopsOnHardError(t *testing.T) {
	hard := &domain.RemoteFailureError{Reason: "nope"}
	_, err := Until(context.Background(), Poll{MaxAttempts: 5, Interval: time.Millisecond}, "job-7", func(ctx context.Context, attempt int) (int, bool, error) {
		return 0, false, hard
	})
	if !errors.Is(err, domain.ErrRemoteTaskFailure) {
		t.Fatalf("err = %v", err)
	}
}
