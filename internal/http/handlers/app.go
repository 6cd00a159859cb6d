package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/daijiaran/cinegrid/internal/alerts"
	"github.com/daijiaran/cinegrid/internal/domain"
	"github.com/daijiaran/cinegrid/internal/generation"
	"github.com/daijiaran/cinegrid/internal/infra"
	"github.com/daijiaran/cinegrid/internal/middleware"
	"github.com/daijiaran/cinegrid/internal/providers/chat"
	"github.com/daijiaran/cinegrid/internal/storage"
	"github.com/daijiaran/cinegrid/internal/storyboard"
	"github.com/daijiaran/cinegrid/internal/upscale"
)

// Analyzer answers free-form analysis prompts.
type Analyzer interface {
	Ready() error
	Analyze(ctx context.Context, messages []chat.Message) (string, error)
}

// App carries the components the handlers drive. Background is the
// process-lifetime context for work that outlives a request.
type App struct {
	Config     *infra.Config
	Logger     *infra.Logger
	Background context.Context

	Tasks    *generation.Orchestrator
	Queue    *upscale.Queue
	Results  *upscale.Results
	Upscaler *upscale.Processor
	Cards    *storyboard.Manager
	Analyzer Analyzer
	Store    *storage.FileStore
	Fetcher  *storage.Fetcher
	Alerts   *alerts.Board
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	a.json(w, code, map[string]any{"error": map[string]string{"code": errCode, "message": message}})
}

func (a *App) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 64<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return false
	}
	return true
}

// fail renders err with the status its taxonomy kind maps to. Remote
// failures use the localized friendly text.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	msg := err.Error()
	switch domain.KindOf(err) {
	case domain.KindCancelled, domain.KindPollingTimeout, domain.KindRemoteFailure, domain.KindDecodeFailure, domain.KindBackendUnavailable:
		msg = domain.FriendlyMessage(err, middleware.LocaleFromContext(r.Context()))
	}
	if status >= http.StatusInternalServerError {
		a.logger().Error().Err(err).Str("path", r.URL.Path).Str("request_id", middleware.RequestIDFromContext(r.Context())).Msg("request failed")
	}
	a.error(w, status, code, msg)
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, domain.ErrDuplicate):
		return http.StatusConflict, "duplicate"
	case errors.Is(err, domain.ErrBusy):
		return http.StatusConflict, "busy"
	case errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	}
	switch kind := domain.KindOf(err); kind {
	case domain.KindConfiguration, domain.KindBackendUnavailable:
		return http.StatusServiceUnavailable, string(kind)
	case domain.KindSubmission, domain.KindRemoteFailure:
		return http.StatusBadGateway, string(kind)
	case domain.KindPollingTimeout:
		return http.StatusGatewayTimeout, string(kind)
	case domain.KindCancelled:
		return http.StatusConflict, string(kind)
	case domain.KindDecodeFailure:
		return http.StatusUnprocessableEntity, string(kind)
	}
	return http.StatusInternalServerError, "internal"
}

func (a *App) logger() *infra.Logger {
	return infra.LoggerOrDiscard(a.Logger)
}

func (a *App) background() context.Context {
	if a.Background != nil {
		return a.Background
	}
	return context.Background()
}
