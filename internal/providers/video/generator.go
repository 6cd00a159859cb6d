// Package video adapts the configured clip backend for storyboard cards.
package video

import (
	"context"
	"time"

	"github.com/daijiaran/cinegrid/internal/domain"
	"github.com/daijiaran/cinegrid/internal/providers/jobs"
	"github.com/daijiaran/cinegrid/internal/retry"
)

// Request describes one image-to-video generation.
type Request struct {
	Prompt      string
	ImageURL    string
	AspectRatio string
	Duration    int
}

// Generator is the contract implemented by every video backend.
type Generator interface {
	Name() string
	Ready() error
	Generate(ctx context.Context, req Request, onProgress func(int)) (domain.GeneratedAsset, error)
}

// JobsGenerator runs clips through the submit-and-poll job protocol.
type JobsGenerator struct {
	client *jobs.Client
}

func NewJobsGenerator(client *jobs.Client) *JobsGenerator {
	return &JobsGenerator{client: client}
}

func (g *JobsGenerator) Name() string { return "jobs" }

func (g *JobsGenerator) Ready() error { return g.client.Ready() }

func (g *JobsGenerator) Generate(ctx context.Context, req Request, onProgress func(int)) (domain.GeneratedAsset, error) {
	id, err := g.client.SubmitVideo(ctx, jobs.VideoPayload{
		Prompt:      req.Prompt,
		ImageURL:    req.ImageURL,
		AspectRatio: req.AspectRatio,
		Duration:    req.Duration,
	})
	if err != nil {
		return domain.GeneratedAsset{}, err
	}
	state, err := g.client.Await(ctx, domain.JobKindVideo, id, onProgress)
	if err != nil {
		return domain.GeneratedAsset{}, err
	}
	return domain.GeneratedAsset{URL: state.ResultURL, MIME: "video/mp4"}, nil
}

// MockGenerator answers every request with the same sample clip after a delay.
type MockGenerator struct {
	delay     time.Duration
	sampleURL string
}

func NewMockGenerator(delay time.Duration, sampleURL string) *MockGenerator {
	return &MockGenerator{delay: delay, sampleURL: sampleURL}
}

func (g *MockGenerator) Name() string { return "mock" }

func (g *MockGenerator) Ready() error { return nil }

func (g *MockGenerator) Generate(ctx context.Context, req Request, onProgress func(int)) (domain.GeneratedAsset, error) {
	for pct := 20; pct <= 100; pct += 20 {
		if err := retry.Wait(ctx, g.delay/5); err != nil {
			return domain.GeneratedAsset{}, err
		}
		if onProgress != nil {
			onProgress(pct)
		}
	}
	return domain.GeneratedAsset{URL: g.sampleURL, MIME: "video/mp4"}, nil
}

var (
	_ Generator = (*JobsGenerator)(nil)
	_ Generator = (*MockGenerator)(nil)
)
