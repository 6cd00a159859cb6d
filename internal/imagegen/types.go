package imagegen

import (
	"fmt"

	"github.com/daijiaran/cinegrid/internal/domain"
)

// Params are the user-facing generation parameters.
type Params struct {
	Prompt         string          `json:"prompt"`
	Grid           domain.GridMode `json:"grid"`
	ShotWidth      int             `json:"shot_width"`
	ShotHeight     int             `json:"shot_height"`
	Quality        domain.Quality  `json:"quality"`
	ReferenceCount int             `json:"reference_count"`
}

// ParamsFromTask adapts a task snapshot.
func ParamsFromTask(p domain.TaskParams) Params {
	return Params{
		Prompt:         p.Prompt,
		Grid:           p.Grid,
		ShotWidth:      p.ShotWidth,
		ShotHeight:     p.ShotHeight,
		Quality:        p.Quality,
		ReferenceCount: len(p.References),
	}
}

// Dimensions describes the canvas the model is asked to produce.
type Dimensions struct {
	Cols        int    `json:"cols"`
	Rows        int    `json:"rows"`
	FinalWidth  int    `json:"final_width"`
	FinalHeight int    `json:"final_height"`
	CellWidth   int    `json:"cell_width"`
	CellHeight  int    `json:"cell_height"`
	RatioString string `json:"ratio"`
	AspectToken string `json:"aspect_ratio"`
	ImageSize   string `json:"image_size"`
}

// Size renders the canvas as WxH for endpoints that take pixel sizes.
func (d Dimensions) Size() string {
	return fmt.Sprintf("%dx%d", d.FinalWidth, d.FinalHeight)
}

// PromptSpec is the literal payload sent to an image model.
type PromptSpec struct {
	FullPrompt     string     `json:"full_prompt"`
	NegativePrompt string     `json:"negative_prompt"`
	Dimensions     Dimensions `json:"dimensions"`
}
