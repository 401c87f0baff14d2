package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mwehrli/carillon/internal/api"
	"github.com/mwehrli/carillon/internal/apperrors"
	"github.com/mwehrli/carillon/internal/audio"
	"github.com/mwehrli/carillon/internal/auth"
)

// registerControlRoutes wires the scheduler/alert control surface and the
// read-only status and calendar endpoints.
func (app *App) registerControlRoutes(router chi.Router) {
	router.Method(http.MethodPost, "/api/planning/activate",
		auth.Require(app.store, "control:scheduler_activate", app.activatePlanning))
	router.Method(http.MethodPost, "/api/planning/deactivate",
		auth.Require(app.store, "control:scheduler_deactivate", app.deactivatePlanning))

	router.Method(http.MethodPost, "/api/alert/trigger/{file}",
		auth.Require(app.store, "control:alert_trigger_any", app.triggerAlert))
	router.Method(http.MethodPost, "/api/alert/stop",
		auth.Require(app.store, "control:alert_stop", app.stopAlert))
	router.Method(http.MethodPost, "/api/alert/end",
		auth.Require(app.store, "control:alert_end", app.endAlert))

	router.Method(http.MethodGet, "/api/status", api.Handler(app.status))
	router.Method(http.MethodGet, "/api/status/stream", api.Handler(app.stream.serve))
	router.Method(http.MethodGet, "/api/daily_schedule", api.Handler(app.dailySchedule))
	router.Method(http.MethodGet, "/api/calendar_view", api.Handler(app.calendarView))
	router.Method(http.MethodGet, "/api/audio_devices", api.Handler(app.audioDevices))

	router.Method(http.MethodPost, "/api/config/reload",
		auth.Require(app.store, "control:config_reload", app.reloadConfig))
}

func (app *App) activatePlanning(w http.ResponseWriter, r *http.Request) error {
	app.scheduler.Start()
	return api.WriteOK(w, "planning activated")
}

func (app *App) deactivatePlanning(w http.ResponseWriter, r *http.Request) error {
	app.scheduler.Stop()
	return api.WriteOK(w, "planning deactivated")
}

// triggerAlert starts an alert sound. Beyond the generic trigger permission
// (already checked by the route), the configured PPMS and attack sounds each
// require their own permission.
func (app *App) triggerAlert(w http.ResponseWriter, r *http.Request) error {
	file := chi.URLParam(r, "file")
	if file == "" {
		return apperrors.NewValidationError("sound file is required", nil)
	}
	settings := app.store.Settings()

	specific := ""
	switch file {
	case settings.PPMSSound:
		specific = "control:alert_trigger_ppms"
	case settings.AttackSound:
		specific = "control:alert_trigger_attentat"
	}
	if specific != "" {
		if err := auth.Require(app.store, specific, noop)(w, r); err != nil {
			return err
		}
	}

	if err := app.alerts.Trigger(file, settings.AudioDeviceName); err != nil {
		return apperrors.NewAppError(apperrors.ErrorCodeAlertFileMissing, err.Error(), 400, nil)
	}
	return api.WriteOK(w, "alert started: "+file)
}

// noop is the terminal handler for nested permission checks.
func noop(w http.ResponseWriter, r *http.Request) error { return nil }

func (app *App) stopAlert(w http.ResponseWriter, r *http.Request) error {
	app.alerts.Stop()
	return api.WriteOK(w, "alert stopped")
}

func (app *App) endAlert(w http.ResponseWriter, r *http.Request) error {
	settings := app.store.Settings()
	if err := app.alerts.End(settings.EndAlertSound, settings.AudioDeviceName); err != nil {
		return apperrors.NewAppError(apperrors.ErrorCodeAlertFileMissing, err.Error(), 400, nil)
	}
	return api.WriteOK(w, "alert ended")
}

// statusPayload is the composite view served by /api/status and pushed on
// the websocket stream.
type statusPayload struct {
	ScheduleActive  bool   `json:"schedule_active"`
	NextRingTime    string `json:"next_ring_time,omitempty"`
	NextRingLabel   string `json:"next_ring_label,omitempty"`
	LastError       string `json:"last_error,omitempty"`
	AlertActive     bool   `json:"alert_active"`
	AlertType       string `json:"alert_type,omitempty"`
	RefreshInterval int    `json:"status_refresh_interval_seconds"`
	AlertClickMode  string `json:"alert_click_mode"`
}

func (app *App) statusSnapshot() statusPayload {
	// Status reads double as the alert reaper.
	alertActive, alertFile := app.alerts.Status()
	settings := app.store.Settings()
	return statusPayload{
		ScheduleActive:  app.scheduler.IsActive(),
		NextRingTime:    app.scheduler.NextRingInstantISO(),
		NextRingLabel:   app.scheduler.NextRingLabel(),
		LastError:       app.scheduler.LastError(),
		AlertActive:     alertActive,
		AlertType:       alertFile,
		RefreshInterval: settings.StatusRefreshIntervalSec,
		AlertClickMode:  settings.AlertClickMode,
	}
}

func (app *App) status(w http.ResponseWriter, r *http.Request) error {
	return api.WriteResource(w, http.StatusOK, app.statusSnapshot())
}

func (app *App) dailySchedule(w http.ResponseWriter, r *http.Request) error {
	raw := r.URL.Query().Get("date")
	if raw == "" {
		return apperrors.NewValidationError("date query parameter is required", nil)
	}
	date, err := time.ParseInLocation("2006-01-02", raw, time.Local)
	if err != nil {
		return apperrors.NewValidationError("date must be YYYY-MM-DD", nil)
	}
	return api.WriteResource(w, http.StatusOK, app.scheduler.ScheduleForDate(date))
}

func (app *App) audioDevices(w http.ResponseWriter, r *http.Request) error {
	devices := audio.ListDevices()
	if devices == nil {
		devices = []string{}
	}
	return api.WriteList(w, "devices", devices)
}

func (app *App) reloadConfig(w http.ResponseWriter, r *http.Request) error {
	statuses := app.reloadAll()
	failed := false
	for _, status := range statuses {
		if status != "ok" {
			failed = true
		}
	}
	payload := map[string]any{"files": statuses}
	if failed {
		payload["status"] = "partial"
		return api.WriteJSON(w, http.StatusOK, payload)
	}
	payload["status"] = "ok"
	return api.WriteJSON(w, http.StatusOK, payload)
}
