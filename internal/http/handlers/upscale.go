package handlers

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/daijiaran/cinegrid/internal/domain"
	"github.com/daijiaran/cinegrid/internal/storage"
	"github.com/daijiaran/cinegrid/pkg/zip"
)

type queueItemRequest struct {
	TaskID      string       `json:"task_id"`
	SliceID     string       `json:"slice_id"`
	SourceID    string       `json:"source_id"`
	Image       string       `json:"image"`
	AspectRatio domain.Ratio `json:"aspect_ratio"`
}

type bulkQueueRequest struct {
	TaskID string             `json:"task_id"`
	Items  []queueItemRequest `json:"items"`
}

func (a *App) ListQueue(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]any{
		"items":      a.Queue.Items(),
		"processing": a.Upscaler.Running(),
	})
}

func (a *App) AddQueueItem(w http.ResponseWriter, r *http.Request) {
	var req queueItemRequest
	if !a.decode(w, r, &req) {
		return
	}
	item, err := a.queueItem(r, req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if err := a.Queue.Add(item); err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusCreated, item)
}

// AddQueueItems stages every slice of a task, or an explicit item list.
// Items already queued are skipped.
func (a *App) AddQueueItems(w http.ResponseWriter, r *http.Request) {
	var req bulkQueueRequest
	if !a.decode(w, r, &req) {
		return
	}
	var items []domain.QueueItem
	if req.TaskID != "" {
		t, err := a.Tasks.Get(req.TaskID)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		for _, s := range t.Slices {
			item, err := queueItemFromSlice(s)
			if err != nil {
				a.fail(w, r, err)
				return
			}
			items = append(items, item)
		}
	}
	for _, in := range req.Items {
		item, err := a.queueItem(r, in)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		items = append(items, item)
	}
	if len(items) == 0 {
		a.error(w, http.StatusBadRequest, "invalid_input", "nothing to queue")
		return
	}
	added := a.Queue.AddMany(items)
	a.json(w, http.StatusOK, map[string]int{"added": added, "skipped": len(items) - added, "queued": a.Queue.Len()})
}

func (a *App) queueItem(r *http.Request, req queueItemRequest) (domain.QueueItem, error) {
	if req.TaskID != "" && req.SliceID != "" {
		t, err := a.Tasks.Get(req.TaskID)
		if err != nil {
			return domain.QueueItem{}, err
		}
		s, ok := t.SliceByID(req.SliceID)
		if !ok {
			return domain.QueueItem{}, fmt.Errorf("slice %s: %w", req.SliceID, domain.ErrNotFound)
		}
		return queueItemFromSlice(s)
	}
	if strings.TrimSpace(req.SourceID) == "" || strings.TrimSpace(req.Image) == "" {
		return domain.QueueItem{}, fmt.Errorf("%w: source_id and image are required", domain.ErrInvalidInput)
	}
	var (
		data []byte
		err  error
	)
	if strings.HasPrefix(req.Image, "data:") {
		data, _, err = storage.DecodeDataURI(req.Image)
		if err != nil {
			err = fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
		}
	} else {
		data, _, err = a.Fetcher.Fetch(r.Context(), req.Image)
	}
	if err != nil {
		return domain.QueueItem{}, err
	}
	return domain.QueueItem{SourceID: req.SourceID, Data: data, AspectRatio: req.AspectRatio, AddedAt: time.Now().UTC()}, nil
}

func queueItemFromSlice(s domain.Slice) (domain.QueueItem, error) {
	data, err := s.PNG()
	if err != nil {
		return domain.QueueItem{}, fmt.Errorf("encode slice %s: %w", s.ID, err)
	}
	return domain.QueueItem{SourceID: s.ID, Data: data, AspectRatio: s.AspectRatio, AddedAt: time.Now().UTC()}, nil
}

func (a *App) RemoveQueueItem(w http.ResponseWriter, r *http.Request) {
	if err := a.Queue.Remove(chi.URLParam(r, "sid")); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) ClearQueue(w http.ResponseWriter, r *http.Request) {
	a.Queue.Clear()
	w.WriteHeader(http.StatusNoContent)
}

// ProcessQueue starts a batch in the background. With ?wait=true it runs in
// the request and returns the batch summary.
func (a *App) ProcessQueue(w http.ResponseWriter, r *http.Request) {
	if a.Queue.Len() == 0 {
		a.error(w, http.StatusBadRequest, "invalid_input", "the queue is empty")
		return
	}
	if r.URL.Query().Get("wait") == "true" {
		summary, err := a.Upscaler.ProcessAll(r.Context())
		if err != nil {
			a.fail(w, r, err)
			return
		}
		a.json(w, http.StatusOK, summary)
		return
	}
	if a.Upscaler.Running() {
		a.fail(w, r, fmt.Errorf("upscale: %w", domain.ErrBusy))
		return
	}
	go func() {
		summary, err := a.Upscaler.ProcessAll(a.background())
		if err != nil && !errors.Is(err, domain.ErrBusy) {
			a.logger().Warn().Err(err).Msg("upscale: batch stopped")
			return
		}
		a.logger().Info().Int("succeeded", summary.Succeeded).Int("failed", summary.Failed).Msg("upscale: batch finished")
	}()
	a.json(w, http.StatusAccepted, map[string]any{"processing": true, "queued": a.Queue.Len()})
}

func (a *App) ListResults(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]any{"items": a.Results.List()})
}

func (a *App) ClearResults(w http.ResponseWriter, r *http.Request) {
	a.Results.Clear()
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) GetResult(w http.ResponseWriter, r *http.Request) {
	res, err := a.Results.Get(chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", res.MIME)
	http.ServeContent(w, r, res.ID, res.CreatedAt, bytes.NewReader(res.Data))
}

func (a *App) ResultsZip(w http.ResponseWriter, r *http.Request) {
	results := a.Results.List()
	if len(results) == 0 {
		a.error(w, http.StatusNotFound, "not_found", "no upscaled results")
		return
	}
	entries := make([]zip.Entry, 0, len(results))
	for _, res := range results {
		name := res.SourceID + "-upscaled." + storage.ExtensionForMIME(res.MIME)
		entries = append(entries, zip.Entry{Name: name, Data: res.Data, Modified: res.CreatedAt})
	}
	a.writeZip(w, "upscaled.zip", entries)
}
