package image

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/daijiaran/cinegrid/internal/domain"
	"github.com/daijiaran/cinegrid/internal/imagegen"
	"github.com/daijiaran/cinegrid/internal/providers/jobs"
	"github.com/daijiaran/cinegrid/internal/retry"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func testSpec() imagegen.PromptSpec {
	return imagegen.BuildPromptSpec(imagegen.Params{
		Prompt:     "harbour at dawn",
		Grid:       domain.Grid2x2,
		ShotWidth:  16,
		ShotHeight: 9,
		Quality:    domain.Quality1K,
	})
}

func TestMockGeneratorRendersCanvas(t *testing.T) {
	spec := testSpec()
	var progress []int
	asset, err := NewMockGenerator(0).Generate(context.Background(), Request{TaskID: "task-1", Spec: spec}, func(p int) {
		progress = append(progress, p)
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if asset.Width != spec.Dimensions.FinalWidth || asset.Height != spec.Dimensions.FinalHeight {
		t.Fatalf("unexpected size %dx%d", asset.Width, asset.Height)
	}
	if asset.Image == nil || !asset.HasData() || asset.MIME != "image/png" {
		t.Fatalf("expected decoded image and png bytes")
	}
	if len(progress) == 0 || progress[len(progress)-1] != 100 {
		t.Fatalf("unexpected progress %v", progress)
	}
}

func TestMockGeneratorCancellation(t *testing.T) {
	ctx, cancel := context.WithCancelCause(context.Background())
	cancel(domain.ErrCancelled)
	_, err := NewMockGenerator(time.Hour).Generate(ctx, Request{Spec: testSpec()}, nil)
	if !errors.Is(err, domain.ErrCancelled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}

func TestJobsGeneratorSendsReferenceURLs(t *testing.T) {
	var polls atomic.Int32
	client := jobs.NewClient(jobs.Options{
		APIKey:  "k",
		BaseURL: "https://jobs.example.com",
		HTTPClient: &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			body, _ := io.ReadAll(r.Body)
			var out string
			switch r.URL.Path {
			case "/v1/draw/nano-banana":
				if !strings.Contains(string(body), "https://cdn.example.com/ref.png") {
					t.Fatalf("reference url missing from %s", body)
				}
				out = `{"code":0,"data":{"id":"job-9"}}`
			default:
				polls.Add(1)
				out = `{"code":0,"data":{"status":"succeeded","progress":100,"url":"https://cdn.example.com/grid.png"}}`
			}
			return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader(out)), Header: make(http.Header)}, nil
		})},
		Poll: &retry.Poll{MaxAttempts: 3, Interval: time.Millisecond},
	})
	gen := NewJobsGenerator(client)
	if gen.ReferenceMode() != ReferenceURL {
		t.Fatal("jobs backend takes reference urls")
	}
	asset, err := gen.Generate(context.Background(), Request{
		Spec:       testSpec(),
		References: []domain.ReferenceAsset{{Name: "ref", URL: "https://cdn.example.com/ref.png"}},
	}, nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if asset.URL != "https://cdn.example.com/grid.png" || polls.Load() != 1 {
		t.Fatalf("unexpected result %+v after %d polls", asset, polls.Load())
	}
}

func TestRenderGridCellsDiffer(t *testing.T) {
	img := renderGrid(64, 36, 2, 2, deterministicSeed("a"))
	if img.RGBAAt(40, 5) == img.RGBAAt(10, 30) && img.RGBAAt(10, 30) == img.RGBAAt(40, 30) {
		t.Fatal("expected distinct cell colours")
	}
}
