package alert

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"posturewatch/internal/types"
)

// CommandRunner runs an external program to completion.
type CommandRunner func(ctx context.Context, name string, args ...string) error

// execRunner runs the command with exec.CommandContext and folds stderr
// into the error.
func execRunner(ctx context.Context, name string, args ...string) error {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%w: %s", err, msg)
		}
		return err
	}
	return nil
}

// AudioConfig configures an AudioChannel.
type AudioConfig struct {
	// Player is the command line of the audio player; the sound file is
	// appended as the last argument (e.g. "paplay" or "ffplay -nodisp -autoexit").
	Player    string
	SoundFile string
	Runner    CommandRunner
	Logger    *slog.Logger
}

// AudioChannel plays a fixed sound through a local player process.
type AudioChannel struct {
	player    []string
	soundFile string
	run       CommandRunner
	logger    *slog.Logger
}

// NewAudioChannel creates an AudioChannel.
func NewAudioChannel(cfg AudioConfig) *AudioChannel {
	if cfg.Runner == nil {
		cfg.Runner = execRunner
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &AudioChannel{
		player:    strings.Fields(cfg.Player),
		soundFile: cfg.SoundFile,
		run:       cfg.Runner,
		logger:    cfg.Logger,
	}
}

func (a *AudioChannel) Name() string { return "audio" }

// Deliver plays the sound. A missing asset or player failure is a playback
// error.
func (a *AudioChannel) Deliver(ctx context.Context, ev Event) error {
	if len(a.player) == 0 {
		return types.NewAppError(types.ErrCodePlaybackFailed, "no audio player configured", nil)
	}
	if _, err := os.Stat(a.soundFile); err != nil {
		return types.NewAppErrorWithDetails(
			types.ErrCodePlaybackFailed,
			"alert sound is missing",
			err,
			map[string]any{"sound_file": a.soundFile},
		)
	}

	args := append(append([]string{}, a.player[1:]...), a.soundFile)
	if err := a.run(ctx, a.player[0], args...); err != nil {
		return types.NewAppErrorWithDetails(
			types.ErrCodePlaybackFailed,
			"audio player failed",
			err,
			map[string]any{"player": a.player[0]},
		)
	}

	a.logger.DebugContext(ctx, "alert sound played", "alert_id", ev.ID, "sound_file", a.soundFile)
	return nil
}
