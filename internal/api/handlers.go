package api

import (
	"errors"
	"maps"
	"net/http"
	"strings"
	"time"

	"posturewatch/internal/posture"
	"posturewatch/internal/types"
)

// settingsView is the wire shape of the posture settings. The alert
// interval is exposed in seconds to match the operator's numeric input.
type settingsView struct {
	MinAngle             int       `json:"min_angle"`
	MaxAngle             int       `json:"max_angle"`
	AlertIntervalSeconds float64   `json:"alert_interval_seconds"`
	Synced               bool      `json:"synced"`
	SyncError            string    `json:"sync_error,omitempty"`
	UpdatedAt            time.Time `json:"updated_at"`
}

func newSettingsView(s posture.Settings) settingsView {
	return settingsView{
		MinAngle:             s.MinAngle,
		MaxAngle:             s.MaxAngle,
		AlertIntervalSeconds: s.AlertInterval.Seconds(),
		Synced:               s.Synced,
		SyncError:            s.SyncError,
		UpdatedAt:            s.UpdatedAt,
	}
}

// configRequest is the PUT /v1/config body. All fields are required.
type configRequest struct {
	MinAngle             *int     `json:"min_angle"`
	MaxAngle             *int     `json:"max_angle"`
	AlertIntervalSeconds *float64 `json:"alert_interval_seconds"`
}

func (c configRequest) toPostureConfig() (types.PostureConfig, error) {
	var missing []string
	if c.MinAngle == nil {
		missing = append(missing, "min_angle")
	}
	if c.MaxAngle == nil {
		missing = append(missing, "max_angle")
	}
	if c.AlertIntervalSeconds == nil {
		missing = append(missing, "alert_interval_seconds")
	}
	if len(missing) > 0 {
		return types.PostureConfig{}, types.NewAppErrorWithDetails(
			types.ErrCodeValidationMissingField,
			"missing required field: "+strings.Join(missing, ", "),
			nil,
			map[string]any{"fields": missing},
		)
	}

	return types.PostureConfig{
		MinAngle:      *c.MinAngle,
		MaxAngle:      *c.MaxAngle,
		AlertInterval: time.Duration(*c.AlertIntervalSeconds * float64(time.Second)),
	}, nil
}

type saveResponse struct {
	Settings settingsView `json:"settings"`
	Message  string       `json:"message"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	st, err := s.Monitor.OnStart(r.Context())
	if err != nil {
		Error(w, r, err)
		return
	}
	Data(w, r, http.StatusOK, st)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	st, err := s.Monitor.OnStop(r.Context())
	if err != nil {
		Error(w, r, err)
		return
	}
	Data(w, r, http.StatusOK, st)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	Data(w, r, http.StatusOK, s.Monitor.Status())
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	Data(w, r, http.StatusOK, newSettingsView(s.Monitor.Settings()))
}

func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	var req configRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		Error(w, r, err)
		return
	}
	cfg, err := req.toPostureConfig()
	if err != nil {
		Error(w, r, err)
		return
	}

	res, err := s.Monitor.OnSaveConfig(r.Context(), cfg)
	if err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) && strings.HasPrefix(string(appErr.Code), "transport_") {
			// The local settings were applied; tell the operator what
			// state they are in alongside the rejection.
			details := map[string]any{"settings": newSettingsView(res.Settings)}
			maps.Copy(details, appErr.Details)
			Error(w, r, types.NewAppErrorWithDetails(appErr.Code, res.Message, appErr.Err, details))
			return
		}
		Error(w, r, err)
		return
	}

	Data(w, r, http.StatusOK, saveResponse{
		Settings: newSettingsView(res.Settings),
		Message:  res.Message,
	})
}

func (s *Server) handleOverlay(w http.ResponseWriter, r *http.Request) {
	img, ok := s.Monitor.Overlay()
	if !ok {
		Error(w, r, types.NewAppError(types.ErrCodeNotFoundOverlay, "no pose overlay has been rendered yet", nil))
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(img)
}
