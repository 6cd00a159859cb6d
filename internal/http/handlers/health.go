package handlers

import (
	"net/http"
)

func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok"}
	if a.Config != nil {
		resp["image_backend"] = a.Config.ImageBackend
		resp["video_backend"] = a.Config.VideoBackend
	}
	if a.Tasks != nil {
		resp["image_model"] = a.Tasks.BackendName()
	}
	a.json(w, http.StatusOK, resp)
}

func (a *App) ListAlerts(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]any{"items": a.Alerts.List()})
}

func (a *App) ClearAlerts(w http.ResponseWriter, r *http.Request) {
	a.Alerts.Clear()
	w.WriteHeader(http.StatusNoContent)
}
