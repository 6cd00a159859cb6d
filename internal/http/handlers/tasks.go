package handlers

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/daijiaran/cinegrid/internal/domain"
	"github.com/daijiaran/cinegrid/internal/generation"
	"github.com/daijiaran/cinegrid/internal/middleware"
	"github.com/daijiaran/cinegrid/internal/storage"
	"github.com/daijiaran/cinegrid/pkg/zip"
)

type referenceInput struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	// Data is a data: URI.
	Data string `json:"data"`
}

type submitTaskRequest struct {
	Prompt     string           `json:"prompt"`
	Grid       string           `json:"grid"`
	Quality    string           `json:"quality"`
	ShotWidth  int              `json:"shot_width"`
	ShotHeight int              `json:"shot_height"`
	References []referenceInput `json:"references"`
}

type taskView struct {
	domain.GenerationTask
	SliceURLs []string `json:"slice_urls"`
	Selected  bool     `json:"selected"`
}

func (a *App) view(t domain.GenerationTask, selectedID string) taskView {
	urls := make([]string, 0, len(t.Slices))
	for _, s := range t.Slices {
		urls = append(urls, fmt.Sprintf("/v1/tasks/%s/slices/%s", t.ID, s.ID))
	}
	return taskView{GenerationTask: t, SliceURLs: urls, Selected: t.ID == selectedID}
}

func (a *App) selectedID() string {
	if t, ok := a.Tasks.Selected(); ok {
		return t.ID
	}
	return ""
}

func (a *App) SubmitTask(w http.ResponseWriter, r *http.Request) {
	var req submitTaskRequest
	if !a.decode(w, r, &req) {
		return
	}
	refs := make([]domain.ReferenceAsset, 0, len(req.References))
	for i, in := range req.References {
		ref := domain.ReferenceAsset{Name: in.Name, URL: strings.TrimSpace(in.URL)}
		if in.Data != "" {
			data, mime, err := storage.DecodeDataURI(in.Data)
			if err != nil {
				a.error(w, http.StatusBadRequest, "invalid_input", fmt.Sprintf("reference %d: %v", i, err))
				return
			}
			ref.Data, ref.MIME = data, mime
		}
		if ref.URL == "" && len(ref.Data) == 0 {
			a.error(w, http.StatusBadRequest, "invalid_input", fmt.Sprintf("reference %d has no url or data", i))
			return
		}
		refs = append(refs, ref)
	}
	id, err := a.Tasks.Submit(r.Context(), generation.SubmitRequest{
		Prompt:     req.Prompt,
		Grid:       req.Grid,
		Quality:    req.Quality,
		ShotWidth:  req.ShotWidth,
		ShotHeight: req.ShotHeight,
		References: refs,
		Locale:     middleware.LocaleFromContext(r.Context()),
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusAccepted, map[string]string{"id": id})
}

func (a *App) ListTasks(w http.ResponseWriter, r *http.Request) {
	selected := a.selectedID()
	tasks := a.Tasks.List()
	items := make([]taskView, 0, len(tasks))
	for _, t := range tasks {
		items = append(items, a.view(t, selected))
	}
	a.json(w, http.StatusOK, map[string]any{"items": items})
}

func (a *App) GetTask(w http.ResponseWriter, r *http.Request) {
	t, err := a.Tasks.Get(chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, a.view(t, a.selectedID()))
}

func (a *App) CancelTask(w http.ResponseWriter, r *http.Request) {
	if err := a.Tasks.Cancel(chi.URLParam(r, "id")); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) RetryTask(w http.ResponseWriter, r *http.Request) {
	id, err := a.Tasks.Retry(chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusAccepted, map[string]string{"id": id})
}

func (a *App) SelectTask(w http.ResponseWriter, r *http.Request) {
	if err := a.Tasks.Select(chi.URLParam(r, "id")); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) DeleteTask(w http.ResponseWriter, r *http.Request) {
	if err := a.Tasks.Delete(chi.URLParam(r, "id")); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// TaskResult serves a locally materialized composite, or redirects to the
// remote URL when the copy could not be made.
func (a *App) TaskResult(w http.ResponseWriter, r *http.Request) {
	t, err := a.Tasks.Get(chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if t.ResultImageURL == "" {
		a.error(w, http.StatusNotFound, "not_found", "task has no result yet")
		return
	}
	if key, ok := a.Store.KeyFromURL(t.ResultImageURL); ok {
		data, err := a.Store.Read(key)
		if err != nil {
			a.fail(w, r, fmt.Errorf("read result: %w", err))
			return
		}
		w.Header().Set("Content-Type", http.DetectContentType(data))
		http.ServeContent(w, r, key, t.UpdatedAt, bytes.NewReader(data))
		return
	}
	http.Redirect(w, r, t.ResultImageURL, http.StatusFound)
}

func (a *App) TaskSlice(w http.ResponseWriter, r *http.Request) {
	t, err := a.Tasks.Get(chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	s, ok := t.SliceByID(chi.URLParam(r, "sid"))
	if !ok {
		a.error(w, http.StatusNotFound, "not_found", "slice not found")
		return
	}
	data, err := s.PNG()
	if err != nil {
		a.fail(w, r, fmt.Errorf("encode slice: %w", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "private, max-age=3600")
	_, _ = w.Write(data)
}

func (a *App) TaskSlicesZip(w http.ResponseWriter, r *http.Request) {
	t, err := a.Tasks.Get(chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if len(t.Slices) == 0 {
		a.error(w, http.StatusNotFound, "not_found", "task has no slices")
		return
	}
	entries := make([]zip.Entry, 0, len(t.Slices))
	for _, s := range t.Slices {
		data, err := s.PNG()
		if err != nil {
			a.fail(w, r, fmt.Errorf("encode slice %s: %w", s.ID, err))
			return
		}
		entries = append(entries, zip.Entry{Name: s.ID + ".png", Data: data, Modified: t.UpdatedAt})
	}
	a.writeZip(w, t.ID+"-slices.zip", entries)
}

func (a *App) writeZip(w http.ResponseWriter, filename string, entries []zip.Entry) {
	var buf bytes.Buffer
	if err := zip.Write(&buf, entries); err != nil {
		a.logger().Error().Err(err).Str("file", filename).Msg("zip export failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to build archive")
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	_, _ = w.Write(buf.Bytes())
}
