package capture

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"log/slog"
	"sync"
	"time"

	"posturewatch/internal/types"
)

// DefaultJPEGQuality matches the browser canvas default for image/jpeg.
const DefaultJPEGQuality = 80

// Frame is one encoded capture.
type Frame struct {
	JPEG       []byte
	Width      int
	Height     int
	CapturedAt time.Time
}

// SamplerConfig configures a Sampler.
type SamplerConfig struct {
	Source      Source
	JPEGQuality int
	Clock       types.Clock
	Logger      *slog.Logger
}

// Sampler captures and encodes frames from its Source. It refuses to sample
// unless the source has been opened.
type Sampler struct {
	source  Source
	quality int
	clock   types.Clock
	logger  *slog.Logger

	mu   sync.RWMutex
	open bool
}

// NewSampler creates a Sampler.
func NewSampler(cfg SamplerConfig) *Sampler {
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = DefaultJPEGQuality
	}
	if cfg.Clock == nil {
		cfg.Clock = types.RealClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Sampler{
		source:  cfg.Source,
		quality: cfg.JPEGQuality,
		clock:   cfg.Clock,
		logger:  cfg.Logger,
	}
}

// Open activates the video source.
func (s *Sampler) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.open {
		return nil
	}
	if err := s.source.Open(ctx); err != nil {
		s.logger.WarnContext(ctx, "video source unavailable", "error", err)
		return err
	}
	s.open = true
	return nil
}

// Close releases the video source.
func (s *Sampler) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open {
		return nil
	}
	s.open = false
	return s.source.Close()
}

// Active reports whether the source is open.
func (s *Sampler) Active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.open
}

// Sample captures the current frame and encodes it as JPEG. Nothing is
// returned on failure, so a failed tick never submits a partial frame.
func (s *Sampler) Sample(ctx context.Context) (Frame, error) {
	if !s.Active() {
		return Frame{}, types.NewAppError(types.ErrCodeCaptureSourceUnavailable, "no active video source", nil)
	}

	img, err := s.source.Capture(ctx)
	if err != nil {
		return Frame{}, err
	}

	encoded, err := EncodeJPEG(img, s.quality)
	if err != nil {
		return Frame{}, err
	}

	b := img.Bounds()
	return Frame{
		JPEG:       encoded,
		Width:      b.Dx(),
		Height:     b.Dy(),
		CapturedAt: s.clock.Now(),
	}, nil
}

// EncodeJPEG compresses img at the given quality.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, types.NewAppError(types.ErrCodeCaptureEncodeFailed, "frame is empty", nil)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, types.NewAppError(types.ErrCodeCaptureEncodeFailed, "failed to encode frame", err)
	}
	return buf.Bytes(), nil
}
