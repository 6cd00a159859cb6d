// Package slicer partitions a composite grid image into individual shots.
package slicer

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"

	_ "golang.org/x/image/webp"

	"github.com/daijiaran/cinegrid/internal/domain"
)

// MaxDeviation is the relative aspect mismatch above which a warning is
// attached to the result.
const MaxDeviation = 0.10

// MaxEdge bounds either side of an encoded composite, four times the 4k long
// edge. Larger images are refused before any pixel buffer is allocated.
const MaxEdge = 4 * 3840

// Source is either encoded bytes or an already decoded image. Image wins when
// both are set.
type Source struct {
	Data  []byte
	Image image.Image
}

// Result is the ordered slice batch for one composite.
type Result struct {
	Slices   []domain.Slice
	Width    int
	Height   int
	Warnings []string
}

// Slice cuts src into grid cells in row-major order. Cell edges come from the
// decoded pixel size, so the rectangles tile the image exactly. ref is the
// configured single-shot ratio and is copied onto every slice.
func Slice(taskID string, src Source, grid domain.GridMode, ref domain.Ratio) (Result, error) {
	img := src.Image
	if img == nil {
		if len(src.Data) == 0 {
			return Result{}, fmt.Errorf("slicer: %w: empty image", domain.ErrDecodeFailure)
		}
		cfg, _, err := image.DecodeConfig(bytes.NewReader(src.Data))
		if err != nil {
			return Result{}, fmt.Errorf("slicer: %w: %v", domain.ErrDecodeFailure, err)
		}
		if cfg.Width > MaxEdge || cfg.Height > MaxEdge {
			return Result{}, fmt.Errorf("slicer: %w: image is %dx%d, limit is %d per side", domain.ErrDecodeFailure, cfg.Width, cfg.Height, MaxEdge)
		}
		decoded, _, err := image.Decode(bytes.NewReader(src.Data))
		if err != nil {
			return Result{}, fmt.Errorf("slicer: %w: %v", domain.ErrDecodeFailure, err)
		}
		img = decoded
	}
	b := img.Bounds()
	if b.Empty() {
		return Result{}, fmt.Errorf("slicer: %w: image has no pixels", domain.ErrDecodeFailure)
	}

	rows, cols := grid.Dimensions()
	res := Result{Width: b.Dx(), Height: b.Dy()}
	if warning := aspectWarning(res.Width, res.Height, rows, cols, ref); warning != "" {
		res.Warnings = append(res.Warnings, warning)
	}

	res.Slices = make([]domain.Slice, 0, rows*cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			rect := CellBounds(b, rows, cols, r, c)
			surface := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
			draw.Draw(surface, surface.Bounds(), img, rect.Min, draw.Src)
			res.Slices = append(res.Slices, domain.Slice{
				ID:          SliceID(taskID, r*cols+c),
				TaskID:      taskID,
				Row:         r,
				Col:         c,
				Bounds:      rect,
				AspectRatio: ref,
				Image:       surface,
			})
		}
	}
	return res, nil
}

// CellBounds returns the source rectangle of cell (row, col). Each edge is
// rounded independently so neighbouring cells share their boundary.
func CellBounds(b image.Rectangle, rows, cols, row, col int) image.Rectangle {
	w, h := float64(b.Dx()), float64(b.Dy())
	edge := func(i, n int, size float64) int {
		return int(math.Round(float64(i) * size / float64(n)))
	}
	return image.Rect(
		b.Min.X+edge(col, cols, w),
		b.Min.Y+edge(row, rows, h),
		b.Min.X+edge(col+1, cols, w),
		b.Min.Y+edge(row+1, rows, h),
	)
}

// SliceID is stable for the lifetime of the owning task.
func SliceID(taskID string, index int) string {
	return fmt.Sprintf("%s-s%02d", taskID, index)
}

func aspectWarning(width, height, rows, cols int, ref domain.Ratio) string {
	if !ref.Valid() {
		return ""
	}
	expected := float64(ref.Width*cols) / float64(ref.Height*rows)
	actual := float64(width) / float64(height)
	dev := domain.Deviation(actual, expected)
	if dev <= MaxDeviation {
		return ""
	}
	return fmt.Sprintf("composite aspect %.3f deviates %.0f%% from expected %.3f; slices may be distorted", actual, dev*100, expected)
}

// IsDecodeFailure reports whether err came from an undecodable source.
func IsDecodeFailure(err error) bool {
	return errors.Is(err, domain.ErrDecodeFailure)
}
