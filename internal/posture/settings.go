package posture

import (
	"errors"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"posturewatch/internal/types"
)

var validate = validator.New()

// Settings is the local posture configuration plus its sync state with the
// remote classifier. The angle band only becomes authoritative once the
// classifier acknowledges it; until then Synced is false.
type Settings struct {
	MinAngle      int           `json:"min_angle"`
	MaxAngle      int           `json:"max_angle"`
	AlertInterval time.Duration `json:"-"`
	Synced        bool          `json:"synced"`
	SyncError     string        `json:"sync_error,omitempty"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// PostureConfig returns the tunables without sync metadata.
func (s Settings) PostureConfig() types.PostureConfig {
	return types.PostureConfig{
		MinAngle:      s.MinAngle,
		MaxAngle:      s.MaxAngle,
		AlertInterval: s.AlertInterval,
	}
}

// ThresholdUpdate returns the angle band in its wire shape.
func (s Settings) ThresholdUpdate() types.ThresholdUpdate {
	return types.ThresholdUpdate{MinAngle: s.MinAngle, MaxAngle: s.MaxAngle}
}

// ValidateConfig checks the invariants of a posture configuration and maps
// violations onto validation error codes.
func ValidateConfig(cfg types.PostureConfig) error {
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "configuration validation failed", err)
	}

	fe := verrs[0]
	switch fe.Field() {
	case "AlertInterval":
		return types.NewAppErrorWithDetails(
			types.ErrCodeValidationAlertInterval,
			"alert interval must be greater than zero",
			err,
			map[string]any{"alert_interval_seconds": cfg.AlertInterval.Seconds()},
		)
	default:
		msg := "angles must be between -180 and 180 degrees"
		if fe.Tag() == "gtfield" {
			msg = "minimum angle must be less than maximum angle"
		}
		return types.NewAppErrorWithDetails(
			types.ErrCodeValidationAngleBounds,
			msg,
			err,
			map[string]any{"min_angle": cfg.MinAngle, "max_angle": cfg.MaxAngle},
		)
	}
}

// SettingsStore holds the current Settings. Writers are the configuration
// path only; readers may be anywhere.
type SettingsStore struct {
	clock types.Clock

	mu  sync.RWMutex
	cur Settings
}

// NewSettingsStore seeds the store with initial. The band starts unsynced
// because the classifier has not confirmed it yet.
func NewSettingsStore(initial types.PostureConfig, clock types.Clock) *SettingsStore {
	if clock == nil {
		clock = types.RealClock{}
	}
	return &SettingsStore{
		clock: clock,
		cur: Settings{
			MinAngle:      initial.MinAngle,
			MaxAngle:      initial.MaxAngle,
			AlertInterval: initial.AlertInterval,
			UpdatedAt:     clock.Now(),
		},
	}
}

// Get returns a copy of the current settings.
func (s *SettingsStore) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

// AlertInterval implements IntervalSource.
func (s *SettingsStore) AlertInterval() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur.AlertInterval
}

// Apply replaces the local configuration. The caller must have validated
// cfg. A changed angle band becomes unsynced; an unchanged band keeps its
// sync state since the alert interval is purely local.
func (s *SettingsStore) Apply(cfg types.PostureConfig) Settings {
	s.mu.Lock()
	defer s.mu.Unlock()

	bandChanged := cfg.MinAngle != s.cur.MinAngle || cfg.MaxAngle != s.cur.MaxAngle

	s.cur.MinAngle = cfg.MinAngle
	s.cur.MaxAngle = cfg.MaxAngle
	s.cur.AlertInterval = cfg.AlertInterval
	s.cur.UpdatedAt = s.clock.Now()
	if bandChanged {
		s.cur.Synced = false
		s.cur.SyncError = ""
	}
	return s.cur
}

// MarkSynced records the classifier's acknowledgment of band. It is a no-op
// if the band has changed again since the push started.
func (s *SettingsStore) MarkSynced(band types.ThresholdUpdate) Settings {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cur.ThresholdUpdate() == band {
		s.cur.Synced = true
		s.cur.SyncError = ""
	}
	return s.cur
}

// MarkUnsynced records a failed push of band.
func (s *SettingsStore) MarkUnsynced(band types.ThresholdUpdate, reason string) Settings {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cur.ThresholdUpdate() == band {
		s.cur.Synced = false
		s.cur.SyncError = reason
	}
	return s.cur
}
