package merge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/daijiaran/cinegrid/internal/domain"
)

// ProbeInfo is the subset of ffprobe output the engine needs.
type ProbeInfo struct {
	Width    int
	Height   int
	Duration float64
}

// Target is the fixed output surface every clip is rendered onto.
type Target struct {
	Width  int
	Height int
	FPS    int
}

// Transcoder performs the media operations behind a merge.
type Transcoder interface {
	// Check fails with domain.ErrBackendUnavailable when the tools are missing.
	Check(ctx context.Context) error
	Probe(ctx context.Context, path string) (ProbeInfo, error)
	// Render re-encodes in onto the target surface, letterboxing as needed.
	Render(ctx context.Context, in, out string, target Target) error
	// Concat joins rendered segments in order without re-encoding.
	Concat(ctx context.Context, segments []string, out string) error
}

// FFmpeg runs the ffmpeg and ffprobe binaries.
type FFmpeg struct {
	ffmpeg  string
	ffprobe string
}

func NewFFmpeg(ffmpegPath, ffprobePath string) *FFmpeg {
	if strings.TrimSpace(ffmpegPath) == "" {
		ffmpegPath = "ffmpeg"
	}
	if strings.TrimSpace(ffprobePath) == "" {
		ffprobePath = "ffprobe"
	}
	return &FFmpeg{ffmpeg: ffmpegPath, ffprobe: ffprobePath}
}

func (f *FFmpeg) Check(ctx context.Context) error {
	for _, bin := range []string{f.ffmpeg, f.ffprobe} {
		if _, err := exec.LookPath(bin); err != nil {
			return fmt.Errorf("merge: %w: %s not found: %v", domain.ErrBackendUnavailable, bin, err)
		}
	}
	return nil
}

type probeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
		Duration  string `json:"duration"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

func (f *FFmpeg) Probe(ctx context.Context, path string) (ProbeInfo, error) {
	cmd := exec.CommandContext(ctx, f.ffprobe, "-v", "error", "-hide_banner", "-show_format", "-show_streams", "-of", "json", "--", path)
	output, err := cmd.Output()
	if err != nil {
		return ProbeInfo{}, fmt.Errorf("ffprobe %s: %w", filepath.Base(path), err)
	}
	var parsed probeOutput
	if err := json.Unmarshal(output, &parsed); err != nil {
		return ProbeInfo{}, fmt.Errorf("ffprobe parse: %w", err)
	}
	info := ProbeInfo{Duration: parseSeconds(parsed.Format.Duration)}
	for _, s := range parsed.Streams {
		if !strings.EqualFold(s.CodecType, "video") {
			continue
		}
		info.Width, info.Height = s.Width, s.Height
		if info.Duration == 0 {
			info.Duration = parseSeconds(s.Duration)
		}
		break
	}
	if info.Width <= 0 || info.Height <= 0 {
		return ProbeInfo{}, errors.New("ffprobe: no video stream")
	}
	return info, nil
}

func (f *FFmpeg) Render(ctx context.Context, in, out string, target Target) error {
	filter := fmt.Sprintf(
		"scale=%[1]d:%[2]d:force_original_aspect_ratio=decrease,pad=%[1]d:%[2]d:(ow-iw)/2:(oh-ih)/2,setsar=1,fps=%[3]d,format=yuv420p",
		target.Width, target.Height, target.FPS,
	)
	return f.run(ctx, "-i", in, "-vf", filter, "-an", "-c:v", "libx264", "-preset", "veryfast", "-crf", "20", "-movflags", "+faststart", out)
}

func (f *FFmpeg) Concat(ctx context.Context, segments []string, out string) error {
	var list strings.Builder
	for _, seg := range segments {
		abs, err := filepath.Abs(seg)
		if err != nil {
			return err
		}
		fmt.Fprintf(&list, "file '%s'\n", strings.ReplaceAll(abs, "'", `'\''`))
	}
	listPath := out + ".txt"
	if err := os.WriteFile(listPath, []byte(list.String()), 0o644); err != nil {
		return fmt.Errorf("concat list: %w", err)
	}
	defer os.Remove(listPath)
	return f.run(ctx, "-f", "concat", "-safe", "0", "-i", listPath, "-c", "copy", "-movflags", "+faststart", out)
}

func (f *FFmpeg) run(ctx context.Context, args ...string) error {
	full := append([]string{"-y", "-v", "error", "-hide_banner"}, args...)
	cmd := exec.CommandContext(ctx, f.ffmpeg, full...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg: %w: %s", err, strings.TrimSpace(string(output)))
	}
	return nil
}

func parseSeconds(value string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil || math.IsNaN(v) || v < 0 {
		return 0
	}
	return v
}

var _ Transcoder = (*FFmpeg)(nil)
