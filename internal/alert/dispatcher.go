// Package alert delivers posture alerts. The tracker alone decides when an
// alert is due; the dispatcher only fans the event out to its channels and
// never reports failures back.
package alert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"posturewatch/internal/types"
)

// EventType is the type tag carried by every serialized alert.
const EventType = "posture_alert"

// Event describes one alert firing.
type Event struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	SessionID   string    `json:"session_id"`
	FiredAt     time.Time `json:"fired_at"`
	DurationSec int64     `json:"duration_sec"`
	Angle       float64   `json:"angle"`
	Status      string    `json:"status"`
}

// NewEvent stamps a new alert event.
func NewEvent(sessionID string, firedAt time.Time, durationSec int64, angle float64, status string) Event {
	return Event{
		ID:          uuid.NewString(),
		Type:        EventType,
		SessionID:   sessionID,
		FiredAt:     firedAt,
		DurationSec: durationSec,
		Angle:       angle,
		Status:      status,
	}
}

// Text is a one-line human summary of the event.
func (e Event) Text() string {
	return fmt.Sprintf("Bad posture for %ds (neck angle %.2f)", e.DurationSec, e.Angle)
}

// Channel is one alert destination.
type Channel interface {
	Name() string
	Deliver(ctx context.Context, ev Event) error
}

// DeliveryRecorder receives per-channel delivery outcomes.
type DeliveryRecorder interface {
	RecordAlertDelivery(ctx context.Context, channel string, ok bool)
}

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	Channels []Channel
	// Timeout bounds each channel delivery.
	Timeout  time.Duration
	Recorder DeliveryRecorder
	Logger   *slog.Logger
}

// Dispatcher fans alerts out to every channel concurrently.
type Dispatcher struct {
	channels []Channel
	timeout  time.Duration
	recorder DeliveryRecorder
	logger   *slog.Logger

	wg sync.WaitGroup
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Dispatcher{
		channels: cfg.Channels,
		timeout:  cfg.Timeout,
		recorder: cfg.Recorder,
		logger:   cfg.Logger,
	}
}

// Fire starts delivery on every channel and returns immediately. Delivery
// outlives ctx cancellation but not the per-delivery timeout.
func (d *Dispatcher) Fire(ctx context.Context, ev Event) {
	base := context.WithoutCancel(ctx)
	for _, ch := range d.channels {
		d.wg.Add(1)
		go func(ch Channel) {
			defer d.wg.Done()
			d.deliver(base, ch, ev)
		}(ch)
	}
}

// Wait blocks until all deliveries started so far have finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) deliver(ctx context.Context, ch Channel, ev Event) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			d.logger.ErrorContext(ctx, "alert channel panicked",
				"channel", ch.Name(),
				"alert_id", ev.ID,
				"panic", r,
			)
			d.record(ctx, ch.Name(), false)
		}
	}()

	start := time.Now()
	err := ch.Deliver(ctx, ev)
	d.record(ctx, ch.Name(), err == nil)

	if err != nil {
		code := types.ErrCodePlaybackFailed
		var appErr *types.AppError
		if errors.As(err, &appErr) {
			code = appErr.Code
		}
		d.logger.WarnContext(ctx, "alert delivery failed",
			"channel", ch.Name(),
			"alert_id", ev.ID,
			"session_id", ev.SessionID,
			"code", code,
			"error", err,
		)
		return
	}

	d.logger.InfoContext(ctx, "alert delivered",
		"channel", ch.Name(),
		"alert_id", ev.ID,
		"duration_sec", ev.DurationSec,
		"elapsed", time.Since(start),
	)
}

func (d *Dispatcher) record(ctx context.Context, channel string, ok bool) {
	if d.recorder != nil {
		d.recorder.RecordAlertDelivery(ctx, channel, ok)
	}
}
