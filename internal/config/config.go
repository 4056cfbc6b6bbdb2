// Package config defines the process configuration for the posture agent.
// Configuration is loaded once at startup and is immutable thereafter; the
// operator-adjustable posture thresholds only seed the runtime settings store.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> struct tag defaults (Lowest)
//
// Any missing required value or invalid format fails startup.
package config

import (
	"time"

	"posturewatch/internal/types"
)

// SecretString is an alias for types.SecretString.
type SecretString = types.SecretString

// Config is the top-level configuration struct for the posture agent.
// Sub-components receive only the config subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev prod"`
	Autostart   bool   `envconfig:"AUTOSTART" default:"false"`

	Log        LogConfig
	Server     ServerConfig
	Camera     CameraConfig
	Classifier ClassifierConfig
	Sampling   SamplingConfig
	Posture    PostureConfig
	Alert      AlertConfig
	Metrics    MetricsConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// LogConfig controls the slog handler and optional rotated log file.
type LogConfig struct {
	Level      string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
	File       string `envconfig:"LOG_FILE"`
	MaxSizeMB  int    `envconfig:"LOG_MAX_SIZE_MB" default:"50" validate:"gt=0"`
	MaxBackups int    `envconfig:"LOG_MAX_BACKUPS" default:"3" validate:"gte=0"`
	MaxAgeDays int    `envconfig:"LOG_MAX_AGE_DAYS" default:"7" validate:"gte=0"`
}

// ServerConfig holds the operator API listener settings.
type ServerConfig struct {
	Port      string  `envconfig:"PORT" default:"8090" validate:"required,numeric"`
	RateLimit float64 `envconfig:"API_RATE_LIMIT" default:"5" validate:"gt=0"`
	RateBurst int     `envconfig:"API_RATE_BURST" default:"10" validate:"gt=0"`
}

// CameraConfig describes the video source the sampler reads frames from.
// URL is either an http(s) snapshot endpoint or a file:// / plain path to a
// directory of still frames.
type CameraConfig struct {
	URL         string        `envconfig:"CAMERA_URL" validate:"required"`
	Timeout     time.Duration `envconfig:"CAMERA_TIMEOUT" default:"5s" validate:"gt=0"`
	JPEGQuality int           `envconfig:"JPEG_QUALITY" default:"80" validate:"gte=1,lte=100"`
}

// ClassifierConfig points at the remote pose/posture service. Stub swaps in
// the in-process stub classifier and makes URL optional.
type ClassifierConfig struct {
	Stub        bool          `envconfig:"CLASSIFIER_STUB" default:"false"`
	URL         string        `envconfig:"CLASSIFIER_URL" validate:"required_without=Stub,omitempty,url"`
	APIKey      SecretString  `envconfig:"CLASSIFIER_API_KEY"`
	Timeout     time.Duration `envconfig:"CLASSIFIER_TIMEOUT" default:"10s" validate:"gt=0"`
	ProcessPath string        `envconfig:"CLASSIFIER_PROCESS_PATH" default:"/api/process-image" validate:"startswith=/"`
	ConfigPath  string        `envconfig:"CLASSIFIER_CONFIG_PATH" default:"/api/config" validate:"startswith=/"`
}

// SamplingConfig holds the frame sampling cadence.
type SamplingConfig struct {
	Interval time.Duration `envconfig:"SAMPLE_INTERVAL" default:"1s" validate:"gt=0"`
}

// PostureConfig seeds the runtime posture settings.
type PostureConfig struct {
	MinAngle      int           `envconfig:"POSTURE_MIN_ANGLE" default:"60" validate:"gte=-180,lte=180"`
	MaxAngle      int           `envconfig:"POSTURE_MAX_ANGLE" default:"80" validate:"gte=-180,lte=180,gtfield=MinAngle"`
	AlertInterval time.Duration `envconfig:"ALERT_INTERVAL" default:"10s" validate:"gt=0"`
}

// AlertConfig configures the alert channels. Audio is always on; webhook and
// queue delivery are enabled by setting their URLs.
type AlertConfig struct {
	SoundFile  string        `envconfig:"ALERT_SOUND_FILE" default:"static/sounds/soft-alert.mp3"`
	Player     string        `envconfig:"ALERT_PLAYER" default:"paplay"`
	Timeout    time.Duration `envconfig:"ALERT_TIMEOUT" default:"5s" validate:"gt=0"`
	WebhookURL string        `envconfig:"ALERT_WEBHOOK_URL" validate:"omitempty,url"`
	QueueURL   string        `envconfig:"ALERT_QUEUE_URL" validate:"omitempty,url"`
}

// MetricsConfig toggles CloudWatch metric emission.
type MetricsConfig struct {
	Enabled     bool   `envconfig:"METRICS_ENABLED" default:"false"`
	Namespace   string `envconfig:"METRIC_NAMESPACE" default:"PostureWatch"`
	Region      string `envconfig:"AWS_REGION" default:"us-east-1"`
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// ToPostureConfig converts the env-sourced thresholds to the runtime type.
func (p PostureConfig) ToPostureConfig() types.PostureConfig {
	return types.PostureConfig{
		MinAngle:      p.MinAngle,
		MaxAngle:      p.MaxAngle,
		AlertInterval: p.AlertInterval,
	}
}

// BuildInfo holds build-time metadata injected via ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures.
type ConfigErrorType string

const (
	// ErrMissingEnv indicates a required environment variable was not found.
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
