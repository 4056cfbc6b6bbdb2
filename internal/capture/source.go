// Package capture owns the video source and turns its current frame into an
// encoded image for classification.
package capture

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"posturewatch/internal/external"
	"posturewatch/internal/types"
)

// Source is a live frame provider. Open is called once per session and
// Close when the session ends.
type Source interface {
	Open(ctx context.Context) error
	Capture(ctx context.Context) (image.Image, error)
	Close() error
}

// SourceConfig selects and configures a Source.
type SourceConfig struct {
	// URL is an http(s) snapshot endpoint, a file:// URL, or a plain path
	// to a directory of still frames.
	URL     string
	Timeout time.Duration
	Logger  *slog.Logger
}

// NewSource picks a Source implementation from the URL scheme.
func NewSource(cfg SourceConfig) (Source, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeCaptureSourceUnavailable, "invalid camera URL", err)
	}

	switch u.Scheme {
	case "http", "https":
		return NewHTTPSnapshotSource(cfg.URL, &http.Client{Timeout: cfg.Timeout}, cfg.Logger), nil
	case "file":
		return NewDirectorySource(u.Path, cfg.Logger), nil
	case "":
		return NewDirectorySource(cfg.URL, cfg.Logger), nil
	default:
		return nil, types.NewAppError(
			types.ErrCodeCaptureSourceUnavailable,
			fmt.Sprintf("unsupported camera URL scheme %q", u.Scheme),
			nil,
		)
	}
}

// ---------------------------------------------------------------------------
// HTTP snapshot source
// ---------------------------------------------------------------------------

// HTTPSnapshotSource fetches one still image per capture from a camera's
// snapshot endpoint (JPEG or PNG).
type HTTPSnapshotSource struct {
	url    string
	client *external.BaseClient
	logger *slog.Logger
}

// NewHTTPSnapshotSource creates a snapshot source. Camera requests go through
// a BaseClient so a dead camera trips the breaker instead of stalling every tick.
func NewHTTPSnapshotSource(snapshotURL string, httpClient *http.Client, logger *slog.Logger) *HTTPSnapshotSource {
	return &HTTPSnapshotSource{
		url:    snapshotURL,
		client: external.NewBaseClient(httpClient, "camera", external.NoRetryPolicy(), "PostureWatch/1.0"),
		logger: logger,
	}
}

// Open probes the endpoint with a real capture.
func (s *HTTPSnapshotSource) Open(ctx context.Context) error {
	if _, err := s.Capture(ctx); err != nil {
		return types.NewAppError(types.ErrCodeCaptureSourceUnavailable, "camera unavailable", err)
	}
	s.logger.InfoContext(ctx, "camera snapshot source opened", "url", s.url)
	return nil
}

func (s *HTTPSnapshotSource) Capture(ctx context.Context) (image.Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeCaptureFrameFailed, "failed to create snapshot request", err)
	}
	req.Header.Set("Accept", "image/jpeg, image/png")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeCaptureFrameFailed, "snapshot request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, types.NewAppError(
			types.ErrCodeCaptureFrameFailed,
			fmt.Sprintf("camera returned %d", resp.StatusCode),
			nil,
		)
	}

	img, _, err := image.Decode(resp.Body)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeCaptureFrameFailed, "failed to decode snapshot", err)
	}
	return img, nil
}

func (s *HTTPSnapshotSource) Close() error { return nil }

// ---------------------------------------------------------------------------
// Directory source
// ---------------------------------------------------------------------------

var frameExtensions = []string{".jpg", ".jpeg", ".png"}

// DirectorySource replays the still frames of a directory in name order,
// wrapping around at the end. It stands in for a camera in demos and tests.
type DirectorySource struct {
	dir    string
	logger *slog.Logger

	mu     sync.Mutex
	frames []string
	next   int
}

// NewDirectorySource creates a DirectorySource over dir.
func NewDirectorySource(dir string, logger *slog.Logger) *DirectorySource {
	return &DirectorySource{dir: dir, logger: logger}
}

// Open lists the frames. An empty or missing directory is unavailable.
func (s *DirectorySource) Open(ctx context.Context) error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return types.NewAppError(types.ErrCodeCaptureSourceUnavailable, "camera unavailable", err)
	}

	var frames []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if slices.Contains(frameExtensions, strings.ToLower(filepath.Ext(e.Name()))) {
			frames = append(frames, filepath.Join(s.dir, e.Name()))
		}
	}
	if len(frames) == 0 {
		return types.NewAppError(
			types.ErrCodeCaptureSourceUnavailable,
			"camera unavailable",
			fmt.Errorf("no frames in %s", s.dir),
		)
	}
	slices.Sort(frames)

	s.mu.Lock()
	s.frames = frames
	s.next = 0
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "frame directory source opened", "dir", s.dir, "frames", len(frames))
	return nil
}

func (s *DirectorySource) Capture(ctx context.Context) (image.Image, error) {
	s.mu.Lock()
	if len(s.frames) == 0 {
		s.mu.Unlock()
		return nil, types.NewAppError(types.ErrCodeCaptureSourceUnavailable, "source is not open", nil)
	}
	path := s.frames[s.next]
	s.next = (s.next + 1) % len(s.frames)
	s.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeCaptureFrameFailed, "failed to open frame", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, types.NewAppError(
			types.ErrCodeCaptureFrameFailed,
			"failed to decode frame",
			err,
		).WithDetails(map[string]any{"path": path})
	}
	return img, nil
}

func (s *DirectorySource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = nil
	s.next = 0
	return nil
}
