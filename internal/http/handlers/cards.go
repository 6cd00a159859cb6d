package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	_ "golang.org/x/image/webp"

	"github.com/daijiaran/cinegrid/internal/domain"
	"github.com/daijiaran/cinegrid/internal/middleware"
	"github.com/daijiaran/cinegrid/internal/storage"
	"github.com/daijiaran/cinegrid/internal/storyboard"
)

type addCardRequest struct {
	ImageURL    string `json:"image_url"`
	TaskID      string `json:"task_id"`
	SliceID     string `json:"slice_id"`
	Prompt      string `json:"prompt"`
	AspectRatio string `json:"aspect_ratio"`
	Duration    int    `json:"duration"`
}

type updateCardRequest struct {
	Prompt *string `json:"prompt"`
}

type reorderRequest struct {
	IDs []string `json:"ids"`
}

func (a *App) ListCards(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]any{"items": a.Cards.Cards(), "merge": a.Cards.MergeState()})
}

// AddCard creates a card from an image URL, an uploaded data: URI or a task
// slice. Uploads and slices are published to the file store so video
// backends can fetch them, and their shape fills in a missing aspect ratio.
func (a *App) AddCard(w http.ResponseWriter, r *http.Request) {
	var req addCardRequest
	if !a.decode(w, r, &req) {
		return
	}
	var (
		imageURL = strings.TrimSpace(req.ImageURL)
		shape    domain.Ratio
		err      error
	)
	switch {
	case strings.HasPrefix(imageURL, "data:"):
		imageURL, shape, err = a.publishUpload(r.Context(), imageURL)
	case imageURL == "" && req.TaskID != "" && req.SliceID != "":
		imageURL, shape, err = a.publishSlice(r.Context(), req.TaskID, req.SliceID)
	}
	if err != nil {
		a.fail(w, r, err)
		return
	}
	aspect := strings.TrimSpace(req.AspectRatio)
	if aspect == "" && shape.Valid() {
		aspect = shape.String()
	}
	card, err := a.Cards.Add(storyboard.NewCard{
		ImageURL:    imageURL,
		Prompt:      req.Prompt,
		AspectRatio: aspect,
		Duration:    req.Duration,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusCreated, card)
}

func (a *App) publishSlice(ctx context.Context, taskID, sliceID string) (string, domain.Ratio, error) {
	t, err := a.Tasks.Get(taskID)
	if err != nil {
		return "", domain.Ratio{}, err
	}
	s, ok := t.SliceByID(sliceID)
	if !ok {
		return "", domain.Ratio{}, fmt.Errorf("slice %s: %w", sliceID, domain.ErrNotFound)
	}
	data, err := s.PNG()
	if err != nil {
		return "", domain.Ratio{}, fmt.Errorf("encode slice %s: %w", sliceID, err)
	}
	key, err := a.Store.Write(ctx, "cards/"+s.ID+".png", data)
	if err != nil {
		return "", domain.Ratio{}, fmt.Errorf("publish slice %s: %w", sliceID, err)
	}
	shape := s.AspectRatio
	if !shape.Valid() {
		shape = domain.Ratio{Width: s.Bounds.Dx(), Height: s.Bounds.Dy()}
	}
	return a.Store.URL(key), shape, nil
}

// publishUpload stores an uploaded still under cards/ and returns its public
// URL and pixel shape.
func (a *App) publishUpload(ctx context.Context, raw string) (string, domain.Ratio, error) {
	data, mime, err := storage.DecodeDataURI(raw)
	if err != nil {
		return "", domain.Ratio{}, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", domain.Ratio{}, fmt.Errorf("%w: upload is not a supported image: %v", domain.ErrInvalidInput, err)
	}
	key, err := a.Store.Write(ctx, "cards/"+uuid.NewString()+"."+storage.ExtensionForMIME(mime), data)
	if err != nil {
		return "", domain.Ratio{}, fmt.Errorf("publish upload: %w", err)
	}
	return a.Store.URL(key), domain.Ratio{Width: cfg.Width, Height: cfg.Height}, nil
}

func (a *App) UpdateCard(w http.ResponseWriter, r *http.Request) {
	var req updateCardRequest
	if !a.decode(w, r, &req) {
		return
	}
	if req.Prompt == nil {
		a.error(w, http.StatusBadRequest, "invalid_input", "prompt is required")
		return
	}
	card, err := a.Cards.UpdatePrompt(chi.URLParam(r, "id"), *req.Prompt)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, card)
}

func (a *App) DeleteCard(w http.ResponseWriter, r *http.Request) {
	if err := a.Cards.Delete(chi.URLParam(r, "id")); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) ReorderCards(w http.ResponseWriter, r *http.Request) {
	var req reorderRequest
	if !a.decode(w, r, &req) {
		return
	}
	if err := a.Cards.Reorder(req.IDs); err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"items": a.Cards.Cards()})
}

func (a *App) GenerateCard(w http.ResponseWriter, r *http.Request) {
	card, err := a.Cards.Generate(chi.URLParam(r, "id"), middleware.LocaleFromContext(r.Context()))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusAccepted, card)
}

// StartMerge joins finished clips in the background; ?wait=true merges in
// the request and returns the output URL.
func (a *App) StartMerge(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("wait") == "true" {
		url, err := a.Cards.Merge(r.Context())
		if err != nil {
			a.fail(w, r, err)
			return
		}
		a.json(w, http.StatusOK, map[string]string{"merged_url": url})
		return
	}
	if a.Cards.MergeState().IsMerging {
		a.fail(w, r, fmt.Errorf("merge: %w", domain.ErrBusy))
		return
	}
	if !hasFinishedClip(a.Cards.Cards()) {
		a.error(w, http.StatusBadRequest, "invalid_input", "no finished clips to merge")
		return
	}
	go func() {
		url, err := a.Cards.Merge(a.background())
		if err != nil {
			if !errors.Is(err, domain.ErrBusy) {
				a.logger().Warn().Err(err).Msg("merge: failed")
			}
			return
		}
		a.logger().Info().Str("merged_url", url).Msg("merge: finished")
	}()
	a.json(w, http.StatusAccepted, a.Cards.MergeState())
}

func hasFinishedClip(cards []domain.VideoCard) bool {
	for _, c := range cards {
		if c.Status == domain.VideoSuccess {
			return true
		}
	}
	return false
}

func (a *App) MergeState(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, a.Cards.MergeState())
}

func (a *App) MergeOutput(w http.ResponseWriter, r *http.Request) {
	st := a.Cards.MergeState()
	if st.MergedURL == "" {
		a.error(w, http.StatusNotFound, "not_found", "no merged video")
		return
	}
	http.Redirect(w, r, st.MergedURL, http.StatusFound)
}
