package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/daijiaran/cinegrid/internal/domain"
	"github.com/daijiaran/cinegrid/internal/retry"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}
}

func newTestClient(rt roundTripFunc, attempts int) *Client {
	return NewClient(Options{
		APIKey:     "secret",
		BaseURL:    "https://jobs.example.com/",
		HTTPClient: &http.Client{Transport: rt},
		Poll:       &retry.Poll{MaxAttempts: attempts, Interval: time.Millisecond, MaxConsecutiveErrors: 3},
	})
}

func TestSubmitImageSendsPayload(t *testing.T) {
	var captured imageRequest
	client := newTestClient(func(r *http.Request) (*http.Response, error) {
		if r.URL.String() != "https://jobs.example.com/v1/draw/nano-banana" {
			t.Fatalf("unexpected url %s", r.URL)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Fatalf("unexpected auth header %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return jsonResponse(http.StatusOK, `{"code":0,"msg":"success","data":{"id":"job-1"}}`), nil
	}, 3)

	id, err := client.SubmitImage(context.Background(), ImagePayload{
		Prompt:        "a grid",
		AspectRatio:   "16:9",
		ImageSize:     "4K",
		ReferenceURLs: []string{"https://cdn.example.com/ref.png"},
	})
	if err != nil {
		t.Fatalf("SubmitImage: %v", err)
	}
	if id != "job-1" {
		t.Fatalf("expected job-1, got %q", id)
	}
	if captured.WebHook != "-1" || captured.ShutProgress {
		t.Fatalf("unexpected webhook settings %+v", captured)
	}
	if captured.AspectRatio != "16:9" || captured.ImageSize != "4K" || len(captured.URLs) != 1 {
		t.Fatalf("unexpected payload %+v", captured)
	}
}

func TestSubmitWithoutIDNeverPolls(t *testing.T) {
	var polls atomic.Int32
	client := newTestClient(func(r *http.Request) (*http.Response, error) {
		if strings.HasSuffix(r.URL.Path, "/result") {
			polls.Add(1)
		}
		return jsonResponse(http.StatusOK, `{"code":0,"data":{}}`), nil
	}, 3)

	_, err := client.SubmitImage(context.Background(), ImagePayload{Prompt: "x"})
	if !errors.Is(err, domain.ErrSubmission) {
		t.Fatalf("expected submission error, got %v", err)
	}
	if polls.Load() != 0 {
		t.Fatalf("expected zero polls, got %d", polls.Load())
	}
}

func TestSubmitRemoteErrorVerbatim(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "error code", status: http.StatusOK, body: `{"code":-1,"msg":"insufficient credits"}`},
		{name: "http status", status: http.StatusPaymentRequired, body: `{"code":402,"msg":"insufficient credits"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(func(r *http.Request) (*http.Response, error) {
				return jsonResponse(tt.status, tt.body), nil
			}, 3)
			_, err := client.SubmitImage(context.Background(), ImagePayload{Prompt: "x"})
			if !errors.Is(err, domain.ErrSubmission) {
				t.Fatalf("expected submission error, got %v", err)
			}
			if !strings.Contains(err.Error(), "insufficient credits") {
				t.Fatalf("remote message lost: %v", err)
			}
		})
	}
}

func TestReadyRequiresBaseURLAndKey(t *testing.T) {
	client := NewClient(Options{APIKey: "k"})
	if err := client.Ready(); !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	client = NewClient(Options{BaseURL: "https://jobs.example.com"})
	if _, err := client.SubmitVideo(context.Background(), VideoPayload{Prompt: "x"}); !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestAwaitReportsProgressAndResult(t *testing.T) {
	responses := []string{
		`{"code":0,"data":{"id":"job-1","status":"running","progress":10}}`,
		`{"code":0,"data":{"id":"job-1","status":"running","progress":60}}`,
		`{"code":0,"data":{"id":"job-1","status":"succeeded","progress":100,"results":[{"url":"https://cdn.example.com/out.png"}]}}`,
	}
	var calls atomic.Int32
	client := newTestClient(func(r *http.Request) (*http.Response, error) {
		idx := int(calls.Add(1)) - 1
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["id"] != "job-1" {
			t.Fatalf("unexpected poll body %v", body)
		}
		return jsonResponse(http.StatusOK, responses[idx]), nil
	}, 10)

	var progress []int
	state, err := client.Await(context.Background(), domain.JobKindImage, "job-1", func(p int) {
		progress = append(progress, p)
	})
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if state.ResultURL != "https://cdn.example.com/out.png" {
		t.Fatalf("unexpected result url %q", state.ResultURL)
	}
	if len(progress) != 3 || progress[2] != 100 {
		t.Fatalf("unexpected progress %v", progress)
	}
}

func TestPollAcceptsFractionalAndStringProgress(t *testing.T) {
	cases := []struct {
		body string
		want int
	}{
		{`{"code":0,"data":{"status":"running","progress":42.5}}`, 43},
		{`{"code":0,"data":{"status":"running","progress":"17"}}`, 17},
		{`{"code":0,"data":{"status":"running","progress":"88.2%"}}`, 88},
		{`{"code":0,"data":{"status":"running","progress":null}}`, 0},
		{`{"code":0,"data":{"status":"running","progress":"soon"}}`, 0},
		{`{"code":0,"data":{"status":"running","progress":140.9}}`, 100},
	}
	for _, tc := range cases {
		client := newTestClient(func(r *http.Request) (*http.Response, error) {
			return jsonResponse(http.StatusOK, tc.body), nil
		}, 3)
		state, err := client.Poll(context.Background(), domain.JobKindVideo, "job-9")
		if err != nil {
			t.Fatalf("Poll(%s): %v", tc.body, err)
		}
		if state.Status != domain.JobStatusRunning || state.Progress != tc.want {
			t.Fatalf("Poll(%s) = %+v, want running at %d", tc.body, state, tc.want)
		}
	}
}

func TestAwaitRemoteFailure(t *testing.T) {
	client := newTestClient(func(r *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `{"code":0,"data":{"status":"failed","failure_reason":"output_moderation","error":"image blocked"}}`), nil
	}, 5)

	_, err := client.Await(context.Background(), domain.JobKindImage, "job-2", nil)
	var remote *domain.RemoteFailureError
	if !errors.As(err, &remote) {
		t.Fatalf("expected remote failure, got %v", err)
	}
	if remote.Code != "output_moderation" || remote.Reason != "image blocked" {
		t.Fatalf("unexpected failure %+v", remote)
	}
	if !remote.Moderated() {
		t.Fatal("expected moderation failure")
	}
}

func TestAwaitTimesOut(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(func(r *http.Request) (*http.Response, error) {
		calls.Add(1)
		return jsonResponse(http.StatusOK, `{"code":0,"data":{"status":"running","progress":5}}`), nil
	}, 4)

	_, err := client.Await(context.Background(), domain.JobKindVideo, "job-3", nil)
	if !errors.Is(err, domain.ErrPollingTimeout) {
		t.Fatalf("expected polling timeout, got %v", err)
	}
	if calls.Load() != 4 {
		t.Fatalf("expected 4 polls, got %d", calls.Load())
	}
}

func TestAwaitHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancelCause(context.Background())
	client := newTestClient(func(r *http.Request) (*http.Response, error) {
		cancel(domain.ErrCancelled)
		return jsonResponse(http.StatusOK, `{"code":0,"data":{"status":"running"}}`), nil
	}, 100)

	_, err := client.Await(ctx, domain.JobKindImage, "job-4", nil)
	if !errors.Is(err, domain.ErrCancelled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}

func TestNormalizeStatus(t *testing.T) {
	tests := map[string]domain.JobStatus{
		"succeeded":  domain.JobStatusSucceeded,
		"SUCCESS":    domain.JobStatusSucceeded,
		"failed":     domain.JobStatusFailed,
		"running":    domain.JobStatusRunning,
		"processing": domain.JobStatusRunning,
		"":           domain.JobStatusQueued,
	}
	for raw, want := range tests {
		if got := normalizeStatus(raw); got != want {
			t.Fatalf("normalizeStatus(%q) = %s, want %s", raw, got, want)
		}
	}
}
