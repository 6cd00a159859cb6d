package video

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/daijiaran/cinegrid/internal/domain"
	"github.com/daijiaran/cinegrid/internal/providers/jobs"
	"github.com/daijiaran/cinegrid/internal/retry"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestJobsGeneratorSubmitsStill(t *testing.T) {
	client := jobs.NewClient(jobs.Options{
		APIKey:  "k",
		BaseURL: "https://jobs.example.com",
		HTTPClient: &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			var out string
			switch r.URL.Path {
			case "/v1/video/sora-video":
				var body map[string]any
				_ = json.NewDecoder(r.Body).Decode(&body)
				if body["url"] != "https://cdn.example.com/still.png" || body["model"] != "sora-2" {
					t.Fatalf("unexpected submit body %v", body)
				}
				out = `{"code":0,"data":{"id":"vid-1"}}`
			case "/v1/draw/result":
				out = `{"code":0,"data":{"status":"succeeded","progress":100,"results":[{"url":"https://cdn.example.com/clip.mp4"}]}}`
			default:
				t.Fatalf("unexpected path %s", r.URL.Path)
			}
			return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader(out)), Header: make(http.Header)}, nil
		})},
		Poll: &retry.Poll{MaxAttempts: 2, Interval: time.Millisecond},
	})

	asset, err := NewJobsGenerator(client).Generate(context.Background(), Request{
		Prompt:   "slow dolly in",
		ImageURL: "https://cdn.example.com/still.png",
	}, nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if asset.URL != "https://cdn.example.com/clip.mp4" {
		t.Fatalf("unexpected clip url %q", asset.URL)
	}
}

func TestMockGeneratorProgress(t *testing.T) {
	var progress []int
	asset, err := NewMockGenerator(0, "https://cdn.example.com/sample.mp4").Generate(context.Background(), Request{}, func(p int) {
		progress = append(progress, p)
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if asset.URL != "https://cdn.example.com/sample.mp4" {
		t.Fatalf("unexpected url %q", asset.URL)
	}
	if len(progress) != 5 || progress[4] != 100 {
		t.Fatalf("unexpected progress %v", progress)
	}
}

func TestMockGeneratorCancelled(t *testing.T) {
	ctx, cancel := context.WithCancelCause(context.Background())
	cancel(domain.ErrCancelled)
	if _, err := NewMockGenerator(time.Hour, "x").Generate(ctx, Request{}, nil); err != domain.ErrCancelled {
		t.Fatalf("expected cancellation, got %v", err)
	}
}
