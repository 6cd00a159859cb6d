package imagegen

import (
	"fmt"
	"math"
	"strings"

	"github.com/daijiaran/cinegrid/internal/domain"
)

const (
	defaultShotWidth  = 1920
	defaultShotHeight = 1080
)

// DefaultNegativePrompt lists artefacts that break slicing or continuity.
const DefaultNegativePrompt = "borders, white gutters, frame lines, panel numbers, captions, text, watermark, signature, blurry, low quality, deformed, extra limbs, duplicated panels"

var positiveKeywords = []weighted{
	{"masterpiece", 1.2},
	{"best quality", 1.2},
	{"cinematic lighting", 1.1},
	{"consistent characters", 1.3},
	{"seamless grid layout", 1.3},
}

var negativeKeywords = []weighted{
	{"borders", 1.3},
	{"gutters between panels", 1.3},
	{"text", 1.2},
	{"watermark", 1.2},
	{"blurry", 1.1},
	{"deformed", 1.1},
}

var aspectTokens = []domain.Ratio{
	{Width: 1, Height: 1},
	{Width: 2, Height: 3},
	{Width: 3, Height: 2},
	{Width: 3, Height: 4},
	{Width: 4, Height: 3},
	{Width: 4, Height: 5},
	{Width: 5, Height: 4},
	{Width: 9, Height: 16},
	{Width: 16, Height: 9},
	{Width: 21, Height: 9},
}

type weighted struct {
	word   string
	weight float64
}

func (w weighted) String() string {
	return fmt.Sprintf("(%s:%.1f)", w.word, w.weight)
}

// LongEdge maps a quality tier onto the canonical long-edge length.
func LongEdge(q domain.Quality) int {
	switch domain.Quality(strings.ToLower(string(q))) {
	case domain.Quality1K:
		return 1024
	case domain.Quality4K:
		return 3840
	default:
		return 1920
	}
}

func imageSizeToken(q domain.Quality) string {
	switch LongEdge(q) {
	case 1024:
		return "1K"
	case 3840:
		return "4K"
	default:
		return "2K"
	}
}

// RoundTo8 rounds to the nearest multiple of 8, never below 8.
func RoundTo8(v float64) int {
	n := int(math.Round(v/8)) * 8
	if n < 8 {
		return 8
	}
	return n
}

// BuildPromptSpec converts generation parameters into the prompt and canvas
// size a model expects. It never fails; bad numbers fall back to defaults.
func BuildPromptSpec(p Params) PromptSpec {
	grid := p.Grid
	if grid == "" {
		grid = domain.Grid3x3
	}
	rows, cols := grid.Dimensions()

	shot := domain.Ratio{Width: p.ShotWidth, Height: p.ShotHeight}
	if !shot.Valid() {
		shot = domain.Ratio{Width: defaultShotWidth, Height: defaultShotHeight}
	}
	ratio := shot.Float()
	long := float64(LongEdge(p.Quality))

	var width, height float64
	if ratio >= 1 {
		width, height = long, long/ratio
	} else {
		width, height = long*ratio, long
	}
	finalW, finalH := RoundTo8(width), RoundTo8(height)

	dims := Dimensions{
		Cols:        cols,
		Rows:        rows,
		FinalWidth:  finalW,
		FinalHeight: finalH,
		CellWidth:   finalW / cols,
		CellHeight:  finalH / rows,
		RatioString: shot.String(),
		AspectToken: closestAspect(ratio).String(),
		ImageSize:   imageSizeToken(p.Quality),
	}

	return PromptSpec{
		FullPrompt:     composePrompt(p, dims),
		NegativePrompt: DefaultNegativePrompt,
		Dimensions:     dims,
	}
}

func composePrompt(p Params, d Dimensions) string {
	var lines []string
	if d.Rows*d.Cols == 1 {
		lines = append(lines,
			fmt.Sprintf("Create one single cinematic film frame with aspect ratio %s at %dx%d pixels.", d.RatioString, d.FinalWidth, d.FinalHeight),
			"Fill the whole canvas with the shot. Do not add borders or split the image into panels.",
		)
	} else {
		lines = append(lines,
			fmt.Sprintf("MUST create exactly one storyboard image arranged as a %d columns by %d rows grid containing %d panels.", d.Cols, d.Rows, d.Rows*d.Cols),
			fmt.Sprintf("MUST make every panel a separate cinematic shot with aspect ratio %s, about %dx%d pixels each, for a %dx%d canvas.", d.RatioString, d.CellWidth, d.CellHeight, d.FinalWidth, d.FinalHeight),
			"MUST place panels edge to edge with no borders, gutters, margins, captions or numbering.",
			"MUST keep characters, wardrobe and art style consistent across panels, and vary camera angle and framing between shots.",
		)
	}
	if p.ReferenceCount > 0 {
		lines = append(lines, fmt.Sprintf("Use the %d attached reference image(s) for character identity and visual style.", p.ReferenceCount))
	}

	pos := make([]string, len(positiveKeywords))
	for i, k := range positiveKeywords {
		pos[i] = k.String()
	}
	lines = append(lines, strings.Join(pos, ", "))

	if text := strings.TrimSpace(p.Prompt); text != "" {
		lines = append(lines, "Scene: "+text)
	}

	neg := make([]string, len(negativeKeywords))
	for i, k := range negativeKeywords {
		neg[i] = k.String()
	}
	lines = append(lines, "Avoid: "+strings.Join(neg, ", "))

	return strings.Join(lines, "\n")
}

func closestAspect(ratio float64) domain.Ratio {
	best := aspectTokens[0]
	bestDist := math.Inf(1)
	for _, candidate := range aspectTokens {
		dist := math.Abs(math.Log(candidate.Float()) - math.Log(ratio))
		if dist < bestDist {
			best, bestDist = candidate, dist
		}
	}
	return best
}
