package capture

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"posturewatch/internal/types"
)

func solidImage(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func pngBytes(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func requireCode(t *testing.T, err error, code types.ErrorCode) {
	t.Helper()
	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr), "expected AppError, got %v", err)
	assert.Equal(t, code, appErr.Code)
}

func TestNewSource_SelectsByScheme(t *testing.T) {
	src, err := NewSource(SourceConfig{URL: "http://camera.local/snapshot.jpg"})
	require.NoError(t, err)
	assert.IsType(t, &HTTPSnapshotSource{}, src)

	src, err = NewSource(SourceConfig{URL: "file:///var/frames"})
	require.NoError(t, err)
	require.IsType(t, &DirectorySource{}, src)
	assert.Equal(t, "/var/frames", src.(*DirectorySource).dir)

	src, err = NewSource(SourceConfig{URL: "./frames"})
	require.NoError(t, err)
	assert.IsType(t, &DirectorySource{}, src)

	_, err = NewSource(SourceConfig{URL: "rtsp://camera.local/stream"})
	requireCode(t, err, types.ErrCodeCaptureSourceUnavailable)
}

func TestHTTPSnapshotSource_Capture(t *testing.T) {
	frame := pngBytes(t, solidImage(64, 48, color.RGBA{R: 200, A: 255}))
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(frame)
	}))
	defer server.Close()

	src, err := NewSource(SourceConfig{URL: server.URL + "/snapshot"})
	require.NoError(t, err)
	require.NoError(t, src.Open(context.Background()))

	img, err := src.Capture(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 64, img.Bounds().Dx())
	assert.Equal(t, 48, img.Bounds().Dy())
}

func TestHTTPSnapshotSource_OpenFailsWhenCameraDown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	src, _ := NewSource(SourceConfig{URL: server.URL})
	err := src.Open(context.Background())

	requireCode(t, err, types.ErrCodeCaptureSourceUnavailable)
}

func TestHTTPSnapshotSource_GarbageBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not an image"))
	}))
	defer server.Close()

	src, _ := NewSource(SourceConfig{URL: server.URL})
	_, err := src.Capture(context.Background())

	requireCode(t, err, types.ErrCodeCaptureFrameFailed)
}

func TestDirectorySource_CyclesFramesInOrder(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.png"), pngBytes(t, solidImage(20, 10, color.White)), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.png"), pngBytes(t, solidImage(10, 10, color.Black)), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip me"), 0o600))

	src := NewDirectorySource(dir, discardLogger())
	require.NoError(t, src.Open(context.Background()))

	widths := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		img, err := src.Capture(context.Background())
		require.NoError(t, err)
		widths = append(widths, img.Bounds().Dx())
	}
	assert.Equal(t, []int{10, 20, 10}, widths)
}

func TestDirectorySource_EmptyDirIsUnavailable(t *testing.T) {
	src := NewDirectorySource(t.TempDir(), discardLogger())
	requireCode(t, src.Open(context.Background()), types.ErrCodeCaptureSourceUnavailable)
}

func TestDirectorySource_MissingDirIsUnavailable(t *testing.T) {
	src := NewDirectorySource(filepath.Join(t.TempDir(), "nope"), discardLogger())
	requireCode(t, src.Open(context.Background()), types.ErrCodeCaptureSourceUnavailable)
}

func TestDirectorySource_CaptureAfterClose(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.png"), pngBytes(t, solidImage(4, 4, color.White)), 0o600))

	src := NewDirectorySource(dir, discardLogger())
	require.NoError(t, src.Open(context.Background()))
	require.NoError(t, src.Close())

	_, err := src.Capture(context.Background())
	requireCode(t, err, types.ErrCodeCaptureSourceUnavailable)
}

func TestDirectorySource_CorruptFrame(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.jpg"), []byte("corrupt"), 0o600))

	src := NewDirectorySource(dir, discardLogger())
	require.NoError(t, src.Open(context.Background()))

	_, err := src.Capture(context.Background())
	requireCode(t, err, types.ErrCodeCaptureFrameFailed)
}
