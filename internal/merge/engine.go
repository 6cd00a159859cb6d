// Package merge concatenates storyboard clips into one video. Each clip is
// re-rendered onto a shared fixed-size surface at a fixed frame rate and the
// rendered segments are joined in input order.
package merge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/daijiaran/cinegrid/internal/domain"
	"github.com/daijiaran/cinegrid/internal/infra"
	"github.com/daijiaran/cinegrid/internal/storage"
)

const (
	defaultWidth  = 1280
	defaultHeight = 720
	defaultFPS    = 30
)

// Options wires the engine.
type Options struct {
	Transcoder Transcoder
	Fetcher    *storage.Fetcher
	Store      *storage.FileStore
	WorkDir    string
	Logger     *infra.Logger
}

// Engine runs at most one merge at a time.
type Engine struct {
	tx      Transcoder
	fetcher *storage.Fetcher
	store   *storage.FileStore
	workDir string
	logger  *infra.Logger

	mu         sync.Mutex
	state      domain.MergeState
	generation uint64
}

func NewEngine(opts Options) *Engine {
	fetcher := opts.Fetcher
	if fetcher == nil {
		fetcher = storage.NewFetcher(nil, opts.Store)
	}
	return &Engine{
		tx:      opts.Transcoder,
		fetcher: fetcher,
		store:   opts.Store,
		workDir: opts.WorkDir,
		logger:  infra.LoggerOrDiscard(opts.Logger),
	}
}

// State returns the current merge state.
func (e *Engine) State() domain.MergeState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Invalidate drops the last merged result. A merge running now will not
// publish its output.
func (e *Engine) Invalidate() {
	e.mu.Lock()
	e.generation++
	e.state.MergedURL = ""
	e.mu.Unlock()
}

// Merge renders clips in order and publishes the joined video. Once started it
// is not cancellable; ctx only carries values. Clips that cannot be fetched,
// probed or rendered are skipped.
func (e *Engine) Merge(ctx context.Context, clips []domain.Clip) (string, error) {
	if len(clips) == 0 {
		return "", fmt.Errorf("%w: nothing to merge", domain.ErrInvalidInput)
	}
	e.mu.Lock()
	if e.state.IsMerging {
		e.mu.Unlock()
		return "", fmt.Errorf("merge: %w: a merge is already running", domain.ErrBusy)
	}
	e.state = domain.MergeState{IsMerging: true}
	gen := e.generation
	e.mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	url, err := e.run(ctx, clips)

	e.mu.Lock()
	defer e.mu.Unlock()
	if err != nil {
		e.state = domain.MergeState{}
		return "", err
	}
	if e.generation != gen {
		e.state = domain.MergeState{}
		if key, ok := e.store.KeyFromURL(url); ok {
			_ = e.store.Delete(key)
		}
		return "", fmt.Errorf("%w: clips changed while merging", domain.ErrInvalidTransition)
	}
	e.state = domain.MergeState{Progress: 100, MergedURL: url}
	return url, nil
}

func (e *Engine) run(ctx context.Context, clips []domain.Clip) (string, error) {
	if err := e.tx.Check(ctx); err != nil {
		return "", err
	}
	if err := os.MkdirAll(e.workDir, 0o755); err != nil {
		return "", fmt.Errorf("merge: %w: work dir: %v", domain.ErrBackendUnavailable, err)
	}
	dir, err := os.MkdirTemp(e.workDir, "merge-*")
	if err != nil {
		return "", fmt.Errorf("merge: %w: work dir: %v", domain.ErrBackendUnavailable, err)
	}
	defer os.RemoveAll(dir)

	target := Target{Width: defaultWidth, Height: defaultHeight, FPS: defaultFPS}
	sized := false
	segments := make([]string, 0, len(clips))
	var total float64
	for i, clip := range clips {
		seg, info, err := e.renderClip(ctx, dir, i, clip, &target, &sized)
		if err != nil {
			e.logger.Warn().Err(err).Str("clip_id", clip.ID).Int("index", i).Msg("merge: clip skipped")
		} else {
			segments = append(segments, seg)
			total += info.Duration
		}
		e.setProgress((i + 1) * 100 / len(clips))
	}
	if len(segments) == 0 {
		return "", errors.New("merge: no clip could be rendered")
	}

	out := segments[0]
	if len(segments) > 1 {
		out = filepath.Join(dir, "merged.mp4")
		if err := e.tx.Concat(ctx, segments, out); err != nil {
			return "", fmt.Errorf("merge: concat: %w", err)
		}
	}
	data, err := os.ReadFile(out)
	if err != nil {
		return "", fmt.Errorf("merge: read output: %w", err)
	}
	key, err := e.store.Write(ctx, "merge/"+uuid.NewString()+".mp4", data)
	if err != nil {
		return "", fmt.Errorf("merge: store output: %w", err)
	}
	e.logger.Info().
		Int("clips", len(clips)).
		Int("rendered", len(segments)).
		Float64("duration_seconds", total).
		Int("width", target.Width).
		Int("height", target.Height).
		Msg("merge: complete")
	return e.store.URL(key), nil
}

// renderClip downloads one clip and renders it onto target. The first clip
// that probes successfully fixes the target size.
func (e *Engine) renderClip(ctx context.Context, dir string, i int, clip domain.Clip, target *Target, sized *bool) (string, ProbeInfo, error) {
	data, _, err := e.fetcher.Fetch(ctx, clip.URL)
	if err != nil {
		return "", ProbeInfo{}, err
	}
	in := filepath.Join(dir, fmt.Sprintf("clip-%03d.src", i))
	if err := os.WriteFile(in, data, 0o644); err != nil {
		return "", ProbeInfo{}, err
	}
	info, err := e.tx.Probe(ctx, in)
	if err != nil {
		return "", ProbeInfo{}, err
	}
	if !*sized {
		target.Width, target.Height = even(info.Width), even(info.Height)
		*sized = true
	}
	seg := filepath.Join(dir, fmt.Sprintf("seg-%03d.mp4", i))
	if err := e.tx.Render(ctx, in, seg, *target); err != nil {
		return "", ProbeInfo{}, err
	}
	return seg, info, nil
}

func (e *Engine) setProgress(pct int) {
	e.mu.Lock()
	e.state.Progress = pct
	e.mu.Unlock()
}

// even rounds down to an even size, which yuv420p requires.
func even(v int) int {
	if v < 2 {
		return 2
	}
	return v &^ 1
}
