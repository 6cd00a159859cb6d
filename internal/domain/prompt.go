package domain

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// GridMode enumerates the supported composite layouts.
type GridMode string

const (
	Grid1x1 GridMode = "1x1"
	Grid2x2 GridMode = "2x2"
	Grid3x3 GridMode = "3x3"
)

// ParseGrid normalizes user input. Empty input selects the storyboard default (3x3).
func ParseGrid(raw string) (GridMode, error) {
	switch GridMode(strings.ToLower(strings.TrimSpace(raw))) {
	case "":
		return Grid3x3, nil
	case Grid1x1:
		return Grid1x1, nil
	case Grid2x2:
		return Grid2x2, nil
	case Grid3x3:
		return Grid3x3, nil
	}
	return "", fmt.Errorf("%w: unsupported grid %q", ErrInvalidInput, raw)
}

// Dimensions returns rows and cols for the grid.
func (g GridMode) Dimensions() (rows, cols int) {
	switch g {
	case Grid1x1:
		return 1, 1
	case Grid2x2:
		return 2, 2
	default:
		return 3, 3
	}
}

// Cells returns rows*cols.
func (g GridMode) Cells() int {
	r, c := g.Dimensions()
	return r * c
}

// Quality is the output resolution tier.
type Quality string

const (
	Quality1K Quality = "1k"
	Quality2K Quality = "2k"
	Quality4K Quality = "4k"
)

// ParseQuality normalizes user input. Empty input selects 2k.
func ParseQuality(raw string) (Quality, error) {
	switch q := Quality(strings.ToLower(strings.TrimSpace(raw))); q {
	case "":
		return Quality2K, nil
	case Quality1K, Quality2K, Quality4K:
		return q, nil
	default:
		return "", fmt.Errorf("%w: quality %q", ErrInvalidInput, raw)
	}
}

// Ratio is a width:height rational.
type Ratio struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Valid reports whether both terms are positive.
func (r Ratio) Valid() bool {
	return r.Width > 0 && r.Height > 0
}

// Float returns width/height, or 0 for an invalid ratio.
func (r Ratio) Float() float64 {
	if !r.Valid() {
		return 0
	}
	return float64(r.Width) / float64(r.Height)
}

// Reduced divides both terms by their GCD.
func (r Ratio) Reduced() Ratio {
	if !r.Valid() {
		return r
	}
	g := GCD(r.Width, r.Height)
	return Ratio{Width: r.Width / g, Height: r.Height / g}
}

func (r Ratio) String() string {
	red := r.Reduced()
	return fmt.Sprintf("%d:%d", red.Width, red.Height)
}

// ParseRatio reads "W:H" (or "WxH") into a reduced ratio.
func ParseRatio(raw string) (Ratio, error) {
	raw = strings.TrimSpace(strings.ToLower(raw))
	sep := ":"
	if !strings.Contains(raw, sep) {
		sep = "x"
	}
	w, h, ok := strings.Cut(raw, sep)
	if !ok {
		return Ratio{}, fmt.Errorf("%w: aspect ratio %q", ErrInvalidInput, raw)
	}
	wi, errW := strconv.Atoi(strings.TrimSpace(w))
	hi, errH := strconv.Atoi(strings.TrimSpace(h))
	r := Ratio{Width: wi, Height: hi}
	if errW != nil || errH != nil || !r.Valid() {
		return Ratio{}, fmt.Errorf("%w: aspect ratio %q", ErrInvalidInput, raw)
	}
	return r.Reduced(), nil
}

// Deviation returns |a-b|/b for two ratios expressed as floats.
func Deviation(actual, expected float64) float64 {
	if expected == 0 {
		return 0
	}
	return math.Abs(actual-expected) / expected
}

// GCD returns the greatest common divisor of two positive integers.
func GCD(a, b int) int {
	if a < 0 {
		a = -a
	}
	if b < 0 {
		b = -b
	}
	for b != 0 {
		a, b = b, a%b
	}
	if a == 0 {
		return 1
	}
	return a
}

// ReferenceAsset is one reference image attached to a generation request.
// Either Data (locally owned bytes) or URL is set.
type ReferenceAsset struct {
	Name string `json:"name,omitempty"`
	MIME string `json:"mime,omitempty"`
	URL  string `json:"url,omitempty"`
	Data []byte `json:"-"`
}

// Clone deep-copies the asset bytes.
func (a ReferenceAsset) Clone() ReferenceAsset {
	out := a
	if a.Data != nil {
		out.Data = append([]byte(nil), a.Data...)
	}
	return out
}

// TaskParams is the immutable parameter snapshot taken when a task is submitted.
type TaskParams struct {
	Prompt     string           `json:"prompt"`
	Grid       GridMode         `json:"grid"`
	Quality    Quality          `json:"quality"`
	ShotWidth  int              `json:"shot_width"`
	ShotHeight int              `json:"shot_height"`
	Model      string           `json:"model,omitempty"`
	References []ReferenceAsset `json:"references,omitempty"`
}

// Clone returns a deep copy so callers cannot mutate the snapshot.
func (p TaskParams) Clone() TaskParams {
	out := p
	if p.References != nil {
		out.References = make([]ReferenceAsset, len(p.References))
		for i, ref := range p.References {
			out.References[i] = ref.Clone()
		}
	}
	return out
}

// ShotRatio returns the configured single-shot aspect, falling back to 16:9.
func (p TaskParams) ShotRatio() Ratio {
	r := Ratio{Width: p.ShotWidth, Height: p.ShotHeight}
	if !r.Valid() {
		return Ratio{Width: 1920, Height: 1080}
	}
	return r
}
