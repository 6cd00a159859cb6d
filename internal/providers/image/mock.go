package image

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	stdimage "image"
	"image/color"
	"image/draw"
	"image/png"
	"strconv"
	"time"

	"github.com/daijiaran/cinegrid/internal/domain"
	"github.com/daijiaran/cinegrid/internal/retry"
)

// mockSteps is how many progress updates a mock generation emits.
const mockSteps = 4

// MockGenerator renders a deterministic grid locally. It needs no credentials
// and lets the whole pipeline run offline.
type MockGenerator struct {
	delay time.Duration
}

// NewMockGenerator returns a generator that takes roughly delay per composite.
func NewMockGenerator(delay time.Duration) *MockGenerator {
	return &MockGenerator{delay: delay}
}

func (g *MockGenerator) Name() string { return "mock" }

func (g *MockGenerator) Ready() error { return nil }

func (g *MockGenerator) ReferenceMode() ReferenceMode { return ReferenceInline }

func (g *MockGenerator) Generate(ctx context.Context, req Request, onProgress ProgressFunc) (domain.GeneratedAsset, error) {
	step := g.delay / mockSteps
	for i := 1; i <= mockSteps; i++ {
		if err := retry.Wait(ctx, step); err != nil {
			return domain.GeneratedAsset{}, err
		}
		if i < mockSteps {
			report(onProgress, i*100/mockSteps)
		}
	}

	d := req.Spec.Dimensions
	seed := deterministicSeed(req.TaskID, req.Spec.FullPrompt)
	img := renderGrid(d.FinalWidth, d.FinalHeight, d.Cols, d.Rows, seed)
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return domain.GeneratedAsset{}, fmt.Errorf("mock: encode png: %w", err)
	}
	report(onProgress, 100)
	return domain.GeneratedAsset{
		MIME:   "image/png",
		Data:   buf.Bytes(),
		Image:  img,
		Width:  img.Bounds().Dx(),
		Height: img.Bounds().Dy(),
	}, nil
}

var _ Generator = (*MockGenerator)(nil)

// renderGrid paints each cell a distinct colour with a diagonal accent so
// individual slices are recognisable.
func renderGrid(width, height, cols, rows int, seed string) *stdimage.RGBA {
	if width <= 0 {
		width = 1920
	}
	if height <= 0 {
		height = 1080
	}
	if cols <= 0 {
		cols = 1
	}
	if rows <= 0 {
		rows = 1
	}
	img := stdimage.NewRGBA(stdimage.Rect(0, 0, width, height))
	accent := colorFromSeed(seed, 2)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			cell := stdimage.Rect(c*width/cols, r*height/rows, (c+1)*width/cols, (r+1)*height/rows)
			draw.Draw(img, cell, &stdimage.Uniform{colorFromSeed(seed, r*cols+c)}, stdimage.Point{}, draw.Src)
			for i := 0; i < cell.Dx() && i < cell.Dy(); i++ {
				img.Set(cell.Min.X+i, cell.Min.Y+i, accent)
			}
		}
	}
	return img
}

func deterministicSeed(parts ...string) string {
	hasher := sha256.New()
	for _, part := range parts {
		hasher.Write([]byte(part))
		hasher.Write([]byte{'|'})
	}
	return hex.EncodeToString(hasher.Sum(nil))
}

func colorFromSeed(seed string, shift int) color.RGBA {
	if len(seed) < 6 {
		seed = "000000"
	}
	doubled := seed + seed
	start := (shift * 6) % len(seed)
	segment := doubled[start : start+6]
	return color.RGBA{R: hexByte(segment[0:2]), G: hexByte(segment[2:4]), B: hexByte(segment[4:6]), A: 255}
}

func hexByte(s string) uint8 {
	v, err := strconv.ParseUint(s, 16, 8)
	if err != nil {
		return 0
	}
	return uint8(v)
}
