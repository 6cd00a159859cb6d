package image

import (
	"context"

	"github.com/daijiaran/cinegrid/internal/domain"
	"github.com/daijiaran/cinegrid/internal/providers/genai"
)

// GeminiGenerator produces composites through the streaming generateContent
// endpoint.
type GeminiGenerator struct {
	client *genai.Client
}

func NewGeminiGenerator(client *genai.Client) *GeminiGenerator {
	return &GeminiGenerator{client: client}
}

func (g *GeminiGenerator) Name() string { return "gemini:" + g.client.Model() }

func (g *GeminiGenerator) Ready() error { return g.client.Ready() }

func (g *GeminiGenerator) ReferenceMode() ReferenceMode { return ReferenceInline }

func (g *GeminiGenerator) Generate(ctx context.Context, req Request, onProgress ProgressFunc) (domain.GeneratedAsset, error) {
	asset, err := g.client.GenerateImage(ctx, genai.ImageRequest{
		Prompt:      req.Spec.FullPrompt,
		AspectRatio: req.Spec.Dimensions.AspectToken,
		ImageSize:   req.Spec.Dimensions.ImageSize,
		References:  req.References,
	})
	if err != nil {
		return domain.GeneratedAsset{}, err
	}
	report(onProgress, 100)
	return asset, nil
}

var _ Generator = (*GeminiGenerator)(nil)
