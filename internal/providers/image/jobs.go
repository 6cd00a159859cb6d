package image

import (
	"context"

	"github.com/daijiaran/cinegrid/internal/domain"
	"github.com/daijiaran/cinegrid/internal/providers/jobs"
)

// JobsGenerator submits a composite job and polls it to completion.
type JobsGenerator struct {
	client *jobs.Client
}

func NewJobsGenerator(client *jobs.Client) *JobsGenerator {
	return &JobsGenerator{client: client}
}

func (g *JobsGenerator) Name() string { return "jobs:" + g.client.ImageModel() }

func (g *JobsGenerator) Ready() error { return g.client.Ready() }

func (g *JobsGenerator) ReferenceMode() ReferenceMode { return ReferenceURL }

func (g *JobsGenerator) Generate(ctx context.Context, req Request, onProgress ProgressFunc) (domain.GeneratedAsset, error) {
	urls := make([]string, 0, len(req.References))
	for _, ref := range req.References {
		if ref.URL != "" {
			urls = append(urls, ref.URL)
		}
	}
	id, err := g.client.SubmitImage(ctx, jobs.ImagePayload{
		Prompt:        req.Spec.FullPrompt,
		AspectRatio:   req.Spec.Dimensions.AspectToken,
		ImageSize:     req.Spec.Dimensions.ImageSize,
		ReferenceURLs: urls,
	})
	if err != nil {
		return domain.GeneratedAsset{}, err
	}
	report(onProgress, 0)
	state, err := g.client.Await(ctx, domain.JobKindImage, id, onProgress)
	if err != nil {
		return domain.GeneratedAsset{}, err
	}
	return domain.GeneratedAsset{URL: state.ResultURL}, nil
}

var _ Generator = (*JobsGenerator)(nil)
