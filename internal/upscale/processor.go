package upscale

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/daijiaran/cinegrid/internal/alerts"
	"github.com/daijiaran/cinegrid/internal/domain"
	"github.com/daijiaran/cinegrid/internal/infra"
	"github.com/daijiaran/cinegrid/internal/retry"
)

// Enhancer is the enhancement backend.
type Enhancer interface {
	Ready() error
	Enhance(ctx context.Context, data []byte) ([]byte, string, error)
}

// Summary reports one ProcessAll batch.
type Summary struct {
	Total      int      `json:"total"`
	Succeeded  int      `json:"succeeded"`
	Failed     int      `json:"failed"`
	ResultIDs  []string `json:"result_ids"`
	FirstError string   `json:"first_error,omitempty"`
}

// Processor drains the queue sequentially. The queue is left untouched;
// clearing it is a separate user action.
type Processor struct {
	queue    *Queue
	results  *Results
	enhancer Enhancer
	alerts   *alerts.Board
	cooldown time.Duration
	logger   *infra.Logger
	running  atomic.Bool
}

// ProcessorOptions wires a Processor.
type ProcessorOptions struct {
	Queue    *Queue
	Results  *Results
	Enhancer Enhancer
	Alerts   *alerts.Board
	Cooldown time.Duration
	Logger   *infra.Logger
}

func NewProcessor(opts ProcessorOptions) *Processor {
	return &Processor{
		queue:    opts.Queue,
		results:  opts.Results,
		enhancer: opts.Enhancer,
		alerts:   opts.Alerts,
		cooldown: opts.Cooldown,
		logger:   infra.LoggerOrDiscard(opts.Logger),
	}
}

// Running reports whether a batch is in progress.
func (p *Processor) Running() bool {
	return p.running.Load()
}

// ProcessAll enhances every queued item in order. A failing item is logged
// and skipped; the first failure of the batch is pushed to the alert board.
// Only cancellation stops the batch early.
func (p *Processor) ProcessAll(ctx context.Context) (Summary, error) {
	if !p.running.CompareAndSwap(false, true) {
		return Summary{}, fmt.Errorf("upscale: %w: a batch is already running", domain.ErrBusy)
	}
	defer p.running.Store(false)

	if err := p.enhancer.Ready(); err != nil {
		p.alerts.Push("upscale", err)
		return Summary{}, err
	}

	items := p.queue.Items()
	summary := Summary{Total: len(items), ResultIDs: []string{}}
	var firstErr error
	for i, item := range items {
		if i > 0 {
			if err := retry.Wait(ctx, p.cooldown); err != nil {
				return summary, err
			}
		}
		data, mime, err := p.enhancer.Enhance(ctx, item.Data)
		if err != nil {
			if cause := retry.Cause(ctx); cause != nil {
				return summary, cause
			}
			summary.Failed++
			if firstErr == nil {
				firstErr = err
				summary.FirstError = err.Error()
			}
			p.logger.Warn().Err(err).Str("source_id", item.SourceID).Int("index", i).Msg("upscale: item failed, continuing")
			continue
		}
		res := domain.UpscaledResult{
			ID:          uuid.NewString(),
			SourceID:    item.SourceID,
			Data:        data,
			MIME:        mime,
			AspectRatio: item.AspectRatio,
			CreatedAt:   time.Now().UTC(),
		}
		p.results.Append(res)
		summary.Succeeded++
		summary.ResultIDs = append(summary.ResultIDs, res.ID)
	}

	if firstErr != nil {
		p.alerts.Push("upscale", fmt.Errorf("%d of %d items failed: %w", summary.Failed, summary.Total, firstErr))
	}
	p.logger.Info().
		Int("total", summary.Total).
		Int("succeeded", summary.Succeeded).
		Int("failed", summary.Failed).
		Msg("upscale: batch complete")
	return summary, nil
}
