// Package generation owns the lifecycle of composite generation tasks: it
// submits them to the configured image backend, tracks progress, materializes
// the result locally and slices it into shots.
package generation

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/daijiaran/cinegrid/internal/alerts"
	"github.com/daijiaran/cinegrid/internal/domain"
	"github.com/daijiaran/cinegrid/internal/imagegen"
	"github.com/daijiaran/cinegrid/internal/infra"
	imageprovider "github.com/daijiaran/cinegrid/internal/providers/image"
	"github.com/daijiaran/cinegrid/internal/retry"
	"github.com/daijiaran/cinegrid/internal/slicer"
	"github.com/daijiaran/cinegrid/internal/storage"
)

// Options wires the orchestrator's collaborators.
type Options struct {
	Generator imageprovider.Generator
	Store     *storage.FileStore
	Fetcher   *storage.Fetcher
	Alerts    *alerts.Board
	Logger    *infra.Logger
	Now       func() time.Time
}

// SubmitRequest carries user input for one task.
type SubmitRequest struct {
	Prompt     string
	Grid       string
	Quality    string
	ShotWidth  int
	ShotHeight int
	References []domain.ReferenceAsset
	Locale     string
}

// Orchestrator is the single writer of the task list.
type Orchestrator struct {
	gen     imageprovider.Generator
	store   *storage.FileStore
	fetcher *storage.Fetcher
	alerts  *alerts.Board
	logger  *infra.Logger
	now     func() time.Time

	mu       sync.Mutex
	tasks    map[string]*entry
	order    []string
	selected string

	base     context.Context
	shutdown context.CancelCauseFunc
	wg       sync.WaitGroup
}

type entry struct {
	task   domain.GenerationTask
	locale string
	cancel context.CancelCauseFunc
}

// New builds an orchestrator. Close must be called to stop in-flight work.
func New(opts Options) *Orchestrator {
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	fetcher := opts.Fetcher
	if fetcher == nil {
		fetcher = storage.NewFetcher(nil, opts.Store)
	}
	base, shutdown := context.WithCancelCause(context.Background())
	return &Orchestrator{
		gen:      opts.Generator,
		store:    opts.Store,
		fetcher:  fetcher,
		alerts:   opts.Alerts,
		logger:   infra.LoggerOrDiscard(opts.Logger),
		now:      now,
		tasks:    make(map[string]*entry),
		base:     base,
		shutdown: shutdown,
	}
}

// BackendName reports the configured image backend.
func (o *Orchestrator) BackendName() string {
	return o.gen.Name()
}

// Submit validates the request, creates a loading task and starts it in the
// background. Configuration errors create no task and reach the alert board.
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	params, err := buildParams(req)
	if err != nil {
		return "", err
	}
	if err := o.gen.Ready(); err != nil {
		o.alerts.Push("generation", err)
		return "", err
	}
	params.Model = o.gen.Name()
	return o.start(params, req.Locale), nil
}

// Retry starts a fresh task from a failed task's parameter snapshot.
func (o *Orchestrator) Retry(id string) (string, error) {
	o.mu.Lock()
	e, ok := o.tasks[id]
	if !ok {
		o.mu.Unlock()
		return "", fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	if e.task.Status != domain.TaskError {
		status := e.task.Status
		o.mu.Unlock()
		return "", fmt.Errorf("%w: retry while %s", domain.ErrInvalidTransition, status)
	}
	params := e.task.Params.Clone()
	locale := e.locale
	o.mu.Unlock()

	if err := o.gen.Ready(); err != nil {
		o.alerts.Push("generation", err)
		return "", err
	}
	return o.start(params, locale), nil
}

// Cancel moves a loading task to error immediately and aborts its work.
func (o *Orchestrator) Cancel(id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.tasks[id]
	if !ok {
		return fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	next, err := apply(e.task, event{
		kind:    eventFail,
		at:      o.now(),
		failure: failureFor(domain.ErrCancelled, e.locale),
	})
	if err != nil {
		return err
	}
	e.task = next
	if e.cancel != nil {
		e.cancel(domain.ErrCancelled)
	}
	o.logger.Info().Str("task_id", id).Msg("generation: task cancelled")
	return nil
}

// Delete removes a task, aborting it first if it is still running, and clears
// the selection when it pointed at the task.
func (o *Orchestrator) Delete(id string) error {
	o.mu.Lock()
	e, ok := o.tasks[id]
	if !ok {
		o.mu.Unlock()
		return fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	if e.cancel != nil {
		e.cancel(domain.ErrCancelled)
	}
	delete(o.tasks, id)
	o.order = slices.DeleteFunc(o.order, func(v string) bool { return v == id })
	if o.selected == id {
		o.selected = ""
	}
	o.mu.Unlock()

	if o.store != nil {
		_ = o.store.DeletePrefix("tasks/" + id)
	}
	return nil
}

// Get returns a copy of one task.
func (o *Orchestrator) Get(id string) (domain.GenerationTask, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.tasks[id]
	if !ok {
		return domain.GenerationTask{}, fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	return e.task.Clone(), nil
}

// List returns copies of all tasks, most recent first.
func (o *Orchestrator) List() []domain.GenerationTask {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]domain.GenerationTask, 0, len(o.order))
	for i := len(o.order) - 1; i >= 0; i-- {
		out = append(out, o.tasks[o.order[i]].task.Clone())
	}
	return out
}

// Select marks a task as the one currently being viewed.
func (o *Orchestrator) Select(id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.tasks[id]; !ok {
		return fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	o.selected = id
	return nil
}

// Selected returns the selected task, if any.
func (o *Orchestrator) Selected() (domain.GenerationTask, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.tasks[o.selected]
	if !ok {
		return domain.GenerationTask{}, false
	}
	return e.task.Clone(), true
}

// Close cancels all running tasks and waits for their goroutines.
func (o *Orchestrator) Close() {
	o.shutdown(domain.ErrCancelled)
	o.wg.Wait()
}

func (o *Orchestrator) start(params domain.TaskParams, locale string) string {
	now := o.now()
	task := domain.GenerationTask{
		ID:         newTaskID(now),
		Status:     domain.TaskPending,
		PromptText: params.Prompt,
		Grid:       params.Grid,
		Params:     params,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	task, _ = apply(task, event{kind: eventStart, at: now})

	ctx, cancel := context.WithCancelCause(o.base)
	o.mu.Lock()
	o.tasks[task.ID] = &entry{task: task, locale: locale, cancel: cancel}
	o.order = append(o.order, task.ID)
	if o.selected == "" {
		o.selected = task.ID
	}
	o.mu.Unlock()

	o.logger.Info().
		Str("task_id", task.ID).
		Str("grid", string(params.Grid)).
		Str("quality", string(params.Quality)).
		Str("backend", o.gen.Name()).
		Msg("generation: task submitted")

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer cancel(nil)
		o.drive(ctx, task.ID, params)
	}()
	return task.ID
}

// update applies ev to the stored task. Events for tasks that were deleted
// or already finished are dropped.
func (o *Orchestrator) update(id string, ev event) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.tasks[id]
	if !ok {
		return false
	}
	next, err := apply(e.task, ev)
	if err != nil {
		o.logger.Debug().Err(err).Str("task_id", id).Msg("generation: event dropped")
		return false
	}
	e.task = next
	if next.Status.Terminal() {
		e.cancel = nil
	}
	return true
}

func (o *Orchestrator) localeOf(id string) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if e, ok := o.tasks[id]; ok {
		return e.locale
	}
	return ""
}

func (o *Orchestrator) fail(ctx context.Context, id string, err error, warnings []string) {
	if cause := retry.Cause(ctx); cause != nil {
		err = cause
	}
	failure := failureFor(err, o.localeOf(id))
	if o.update(id, event{kind: eventFail, at: o.now(), failure: failure, warnings: warnings}) {
		o.logger.Warn().Err(err).Str("task_id", id).Str("kind", string(failure.Kind)).Msg("generation: task failed")
	}
}

func (o *Orchestrator) drive(ctx context.Context, id string, params domain.TaskParams) {
	spec := imagegen.BuildPromptSpec(imagegen.ParamsFromTask(params))
	var warnings []string

	refs, refWarnings := o.resolveReferences(ctx, id, params.References)
	warnings = append(warnings, refWarnings...)

	asset, err := o.gen.Generate(ctx, imageprovider.Request{TaskID: id, Spec: spec, References: refs}, func(pct int) {
		o.update(id, event{kind: eventProgress, at: o.now(), progress: pct})
	})
	if err != nil {
		o.fail(ctx, id, err, warnings)
		return
	}

	data, resultURL, warning, err := o.materialize(ctx, id, asset)
	if err != nil {
		o.fail(ctx, id, err, warnings)
		return
	}
	if warning != "" {
		warnings = append(warnings, warning)
	}

	res, err := slicer.Slice(id, slicer.Source{Data: data, Image: asset.Image}, params.Grid, params.ShotRatio())
	if err != nil {
		o.fail(ctx, id, err, warnings)
		return
	}
	warnings = append(warnings, res.Warnings...)
	for _, w := range res.Warnings {
		o.logger.Warn().Str("task_id", id).Msg("generation: " + w)
	}

	if cause := retry.Cause(ctx); cause != nil {
		o.fail(ctx, id, cause, warnings)
		return
	}
	if o.update(id, event{
		kind:      eventSucceed,
		at:        o.now(),
		resultURL: resultURL,
		remoteURL: asset.URL,
		slices:    res.Slices,
		warnings:  warnings,
	}) {
		o.logger.Info().
			Str("task_id", id).
			Int("slices", len(res.Slices)).
			Int("width", res.Width).
			Int("height", res.Height).
			Msg("generation: task succeeded")
	}
}

// materialize copies the composite into the local store. When a hosted result
// cannot be re-fetched, the remote URL is kept as a degraded fallback and a
// warning is returned instead of an error.
func (o *Orchestrator) materialize(ctx context.Context, id string, asset domain.GeneratedAsset) ([]byte, string, string, error) {
	data, mime := asset.Data, asset.MIME
	if !asset.HasData() && asset.Image == nil {
		fetched, fetchedMIME, err := o.fetcher.Fetch(ctx, asset.URL)
		if err != nil {
			if cause := retry.Cause(ctx); cause != nil {
				return nil, "", "", cause
			}
			o.logger.Warn().Err(err).Str("task_id", id).Str("url", asset.URL).Msg("generation: result re-fetch failed, keeping remote url")
			return nil, asset.URL, "result could not be copied locally: " + err.Error(), nil
		}
		data, mime = fetched, fetchedMIME
	}
	if o.store == nil || len(data) == 0 {
		if asset.URL != "" {
			return data, asset.URL, "", nil
		}
		return data, "", "", errors.New("generation: no storage configured for inline result")
	}
	key, err := o.store.Write(ctx, fmt.Sprintf("tasks/%s/composite.%s", id, storage.ExtensionForMIME(mime)), data)
	if err != nil {
		if cause := retry.Cause(ctx); cause != nil {
			return nil, "", "", cause
		}
		if asset.URL != "" {
			return data, asset.URL, "result could not be stored locally: " + err.Error(), nil
		}
		return nil, "", "", err
	}
	return data, o.store.URL(key), "", nil
}

// resolveReferences shapes reference assets for the backend: inline
// backends need bytes, URL backends need addresses. References that cannot
// be converted are dropped with a warning.
func (o *Orchestrator) resolveReferences(ctx context.Context, id string, refs []domain.ReferenceAsset) ([]domain.ReferenceAsset, []string) {
	if len(refs) == 0 {
		return nil, nil
	}
	mode := o.gen.ReferenceMode()
	out := make([]domain.ReferenceAsset, 0, len(refs))
	var warnings []string
	for i, ref := range refs {
		ref = ref.Clone()
		switch {
		case mode == imageprovider.ReferenceInline && len(ref.Data) == 0:
			data, mime, err := o.fetcher.Fetch(ctx, ref.URL)
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("reference %d skipped: %v", i+1, err))
				continue
			}
			ref.Data, ref.MIME = data, mime
		case mode == imageprovider.ReferenceURL && (ref.URL == "" || strings.HasPrefix(ref.URL, "data:")):
			data := ref.Data
			mime := ref.MIME
			if len(data) == 0 {
				var err error
				if data, mime, err = storage.DecodeDataURI(ref.URL); err != nil {
					warnings = append(warnings, fmt.Sprintf("reference %d skipped: %v", i+1, err))
					continue
				}
			}
			if o.store == nil {
				warnings = append(warnings, fmt.Sprintf("reference %d skipped: no storage to publish it", i+1))
				continue
			}
			key, err := o.store.Write(ctx, fmt.Sprintf("tasks/%s/ref-%02d.%s", id, i+1, storage.ExtensionForMIME(mime)), data)
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("reference %d skipped: %v", i+1, err))
				continue
			}
			ref.URL = o.store.URL(key)
		}
		out = append(out, ref)
	}
	return out, warnings
}

func buildParams(req SubmitRequest) (domain.TaskParams, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return domain.TaskParams{}, fmt.Errorf("%w: prompt is required", domain.ErrInvalidInput)
	}
	grid, err := domain.ParseGrid(req.Grid)
	if err != nil {
		return domain.TaskParams{}, err
	}
	quality, err := domain.ParseQuality(req.Quality)
	if err != nil {
		return domain.TaskParams{}, err
	}
	params := domain.TaskParams{
		Prompt:     prompt,
		Grid:       grid,
		Quality:    quality,
		ShotWidth:  req.ShotWidth,
		ShotHeight: req.ShotHeight,
	}
	params.References = make([]domain.ReferenceAsset, 0, len(req.References))
	for _, ref := range req.References {
		params.References = append(params.References, ref.Clone())
	}
	return params, nil
}

func failureFor(err error, locale string) *domain.TaskFailure {
	return &domain.TaskFailure{
		Kind:    domain.KindOf(err),
		Message: domain.FriendlyMessage(err, locale),
		Detail:  err.Error(),
	}
}

// newTaskID derives a sortable id from the creation time.
func newTaskID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	return fmt.Sprintf("task-%d-%s", now.UnixMilli(), suffix)
}
