package handlers

import (
	"net/http"
	"strings"

	"github.com/daijiaran/cinegrid/internal/domain"
	"github.com/daijiaran/cinegrid/internal/imagegen"
	"github.com/daijiaran/cinegrid/internal/providers/chat"
)

type promptSpecRequest struct {
	Prompt         string `json:"prompt"`
	Grid           string `json:"grid"`
	Quality        string `json:"quality"`
	ShotWidth      int    `json:"shot_width"`
	ShotHeight     int    `json:"shot_height"`
	ReferenceCount int    `json:"reference_count"`
}

// PromptSpec previews the prompt and dimensions a submit would use.
func (a *App) PromptSpec(w http.ResponseWriter, r *http.Request) {
	var req promptSpecRequest
	if !a.decode(w, r, &req) {
		return
	}
	grid, err := domain.ParseGrid(req.Grid)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	quality, err := domain.ParseQuality(req.Quality)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	spec := imagegen.BuildPromptSpec(imagegen.Params{
		Prompt:         req.Prompt,
		Grid:           grid,
		ShotWidth:      req.ShotWidth,
		ShotHeight:     req.ShotHeight,
		Quality:        quality,
		ReferenceCount: max(req.ReferenceCount, 0),
	})
	a.json(w, http.StatusOK, spec)
}

type analyzeRequest struct {
	Prompt    string         `json:"prompt"`
	System    string         `json:"system"`
	ImageURLs []string       `json:"image_urls"`
	Messages  []chat.Message `json:"messages"`
}

// Analyze forwards a prompt (optionally with images) to the analysis model.
func (a *App) Analyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if !a.decode(w, r, &req) {
		return
	}
	if a.Analyzer == nil {
		a.fail(w, r, domain.ErrConfiguration)
		return
	}
	if err := a.Analyzer.Ready(); err != nil {
		a.Alerts.Push("analyze", err)
		a.fail(w, r, err)
		return
	}
	messages := req.Messages
	if len(messages) == 0 {
		var err error
		if messages, err = buildAnalyzeMessages(req); err != nil {
			a.fail(w, r, err)
			return
		}
	}
	content, err := a.Analyzer.Analyze(r.Context(), messages)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, map[string]string{"content": content})
}

func buildAnalyzeMessages(req analyzeRequest) ([]chat.Message, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, domain.ErrInvalidInput
	}
	var messages []chat.Message
	if s := strings.TrimSpace(req.System); s != "" {
		messages = append(messages, chat.Message{Role: "system", Content: s})
	}
	if len(req.ImageURLs) == 0 {
		return append(messages, chat.Message{Role: "user", Content: prompt}), nil
	}
	parts := []map[string]any{{"type": "text", "text": prompt}}
	for _, u := range req.ImageURLs {
		if u = strings.TrimSpace(u); u != "" {
			parts = append(parts, map[string]any{"type": "image_url", "image_url": map[string]string{"url": u}})
		}
	}
	return append(messages, chat.Message{Role: "user", Content: parts}), nil
}
