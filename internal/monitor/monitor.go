package monitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"posturewatch/internal/alert"
	"posturewatch/internal/capture"
	"posturewatch/internal/external"
	"posturewatch/internal/posture"
	"posturewatch/internal/render"
	"posturewatch/internal/telemetry"
	"posturewatch/internal/types"
)

// FrameSampler is the capture side of a session.
type FrameSampler interface {
	Open(ctx context.Context) error
	Close() error
	Sample(ctx context.Context) (capture.Frame, error)
}

// Alerter fires alerts without blocking.
type Alerter interface {
	Fire(ctx context.Context, ev alert.Event)
}

// Config wires a Monitor.
type Config struct {
	Sampler    FrameSampler
	Classifier external.Classifier
	Settings   *posture.SettingsStore
	Renderer   *render.Renderer
	Alerts     Alerter
	Recorder   telemetry.Recorder

	Interval  time.Duration
	NewTicker TickerFactory
	// SyncTimeout bounds the best-effort threshold push made at start.
	SyncTimeout time.Duration
	Clock       types.Clock
	Logger      *slog.Logger
}

// SaveResult is the outcome of a configuration save.
type SaveResult struct {
	Settings posture.Settings `json:"settings"`
	Message  string           `json:"message"`
}

// Monitor owns the monitoring session and its sampling loop.
type Monitor struct {
	sampler    FrameSampler
	classifier external.Classifier
	settings   *posture.SettingsStore
	tracker    *posture.Tracker
	renderer   *render.Renderer
	alerts     Alerter
	recorder   telemetry.Recorder
	scheduler  *Scheduler

	syncTimeout time.Duration
	clock       types.Clock
	logger      *slog.Logger

	// cmdMu serializes start/stop.
	cmdMu sync.Mutex
	bg    sync.WaitGroup

	mu      sync.RWMutex
	status  Status
	overlay []byte

	hub *hub
}

// New creates an idle Monitor.
func New(cfg Config) *Monitor {
	if cfg.Clock == nil {
		cfg.Clock = types.RealClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Recorder == nil {
		cfg.Recorder = telemetry.Nop{}
	}
	if cfg.Renderer == nil {
		cfg.Renderer = render.NewRenderer(render.DefaultStyle())
	}
	if cfg.SyncTimeout <= 0 {
		cfg.SyncTimeout = 10 * time.Second
	}

	m := &Monitor{
		sampler:     cfg.Sampler,
		classifier:  cfg.Classifier,
		settings:    cfg.Settings,
		tracker:     posture.NewTracker(cfg.Settings),
		renderer:    cfg.Renderer,
		alerts:      cfg.Alerts,
		recorder:    cfg.Recorder,
		syncTimeout: cfg.SyncTimeout,
		clock:       cfg.Clock,
		logger:      cfg.Logger,
		hub:         newHub(),
	}
	m.scheduler = NewScheduler(SchedulerConfig{
		Interval:  cfg.Interval,
		Task:      m.runTick,
		OnDrop:    m.recorder.RecordDroppedTick,
		NewTicker: cfg.NewTicker,
		Logger:    cfg.Logger,
	})
	m.status = m.withSettings(idleStatus(cfg.Clock.Now()))
	return m
}

// OnStart opens the video source and begins a session. If the source cannot
// be opened no session is created.
func (m *Monitor) OnStart(ctx context.Context) (Status, error) {
	m.cmdMu.Lock()
	defer m.cmdMu.Unlock()

	if sess, ok := m.tracker.Active(); ok {
		return m.Status(), types.NewAppError(
			types.ErrCodeConflictSessionActive,
			"a monitoring session is already active",
			nil,
		).WithDetails(map[string]any{"session_id": sess.ID})
	}

	if err := m.sampler.Open(ctx); err != nil {
		st := m.update(func(s *Status) {
			s.Message = "camera unavailable"
			s.Error = err.Error()
		})
		var appErr *types.AppError
		if !errors.As(err, &appErr) {
			err = types.NewAppError(types.ErrCodeCaptureSourceUnavailable, "camera unavailable", err)
		}
		return st, err
	}

	now := m.clock.Now()
	sess, err := m.tracker.Begin(now)
	if err != nil {
		m.closeSampler(ctx)
		return m.Status(), err
	}

	m.mu.Lock()
	m.overlay = nil
	m.mu.Unlock()

	started := sess.StartedAt
	st := m.replace(Status{
		Active:    true,
		SessionID: sess.ID,
		StartedAt: &started,
		State:     sess.State.Status,
		Message:   "Monitoring started",
		UpdatedAt: now,
	})

	if err := m.scheduler.Start(context.WithoutCancel(ctx)); err != nil {
		// Not reachable while cmdMu serializes start and stop.
		m.logger.ErrorContext(ctx, "scheduler refused to start", "error", err)
	}

	if !m.settings.Get().Synced {
		m.syncInBackground(ctx)
	}

	m.logger.InfoContext(ctx, "monitoring session started", "session_id", sess.ID)
	return st, nil
}

// OnStop ends the session. An in-flight classification is allowed to finish
// but its result is discarded.
func (m *Monitor) OnStop(ctx context.Context) (Status, error) {
	m.cmdMu.Lock()
	defer m.cmdMu.Unlock()

	sess, err := m.tracker.End()
	if err != nil {
		return m.Status(), err
	}

	m.scheduler.Stop()
	m.closeSampler(ctx)

	m.mu.Lock()
	m.overlay = nil
	m.mu.Unlock()

	st := m.replace(idleStatus(m.clock.Now()))
	m.logger.InfoContext(ctx, "monitoring session stopped",
		"session_id", sess.ID,
		"duration", m.clock.Now().Sub(sess.StartedAt),
	)
	return st, nil
}

// OnSaveConfig validates cfg, applies it locally, and pushes the angle band
// to the classifier. A rejected push leaves the local settings in place but
// marks them unsynced and returns the transport error.
func (m *Monitor) OnSaveConfig(ctx context.Context, cfg types.PostureConfig) (SaveResult, error) {
	if err := posture.ValidateConfig(cfg); err != nil {
		return SaveResult{Settings: m.settings.Get()}, err
	}

	applied := m.settings.Apply(cfg)
	band := applied.ThresholdUpdate()

	ack, err := m.classifier.PushThresholds(ctx, band)
	if err != nil {
		s := m.settings.MarkUnsynced(band, errorMessage(err))
		m.update(func(*Status) {})
		m.logger.WarnContext(ctx, "threshold push failed; local settings kept",
			"min_angle", band.MinAngle,
			"max_angle", band.MaxAngle,
			"error", err,
		)
		return SaveResult{
			Settings: s,
			Message:  "Saved locally, but the classifier did not confirm the new angles: " + errorMessage(err),
		}, err
	}

	s := m.settings.MarkSynced(band)
	m.update(func(*Status) {})
	m.logger.InfoContext(ctx, "posture settings saved",
		"min_angle", s.MinAngle,
		"max_angle", s.MaxAngle,
		"alert_interval", s.AlertInterval,
	)

	msg := "Configuration updated"
	if ack != nil && ack.Message != "" {
		msg = ack.Message
	}
	return SaveResult{Settings: s, Message: msg}, nil
}

// Shutdown stops any active session and waits for in-flight work.
func (m *Monitor) Shutdown(ctx context.Context) error {
	if _, ok := m.tracker.Active(); ok {
		if _, err := m.OnStop(ctx); err != nil && !isCode(err, types.ErrCodeConflictSessionInactive) {
			return err
		}
	}
	if err := m.scheduler.Wait(ctx); err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		m.bg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns the latest status.
func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// Overlay returns the latest rendered overlay as PNG.
func (m *Monitor) Overlay() ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.overlay, m.overlay != nil
}

// Settings returns the current posture settings.
func (m *Monitor) Settings() posture.Settings {
	return m.settings.Get()
}

// Subscribe returns a channel of status updates and a cancel function.
func (m *Monitor) Subscribe() (<-chan Status, func()) {
	return m.hub.subscribe()
}

// runTick is the scheduler task: sample, classify, track, then render and
// alert.
func (m *Monitor) runTick(ctx context.Context) {
	sess, ok := m.tracker.Active()
	if !ok {
		return
	}
	ctx = types.WithSessionID(ctx, sess.ID)

	defer func() {
		if r := recover(); r != nil {
			m.logger.ErrorContext(ctx, "monitoring tick panicked", "panic", r)
		}
	}()

	frame, err := m.sampler.Sample(ctx)
	if err != nil {
		m.logger.WarnContext(ctx, "frame capture failed; tick skipped", "error", err)
		m.updateIfSession(sess.ID, func(s *Status) {
			s.Error = errorMessage(err)
		})
		return
	}

	start := m.clock.Now()
	result := m.classifier.Classify(ctx, frame.JPEG)
	m.recorder.RecordClassification(ctx, m.clock.Now().Sub(start), result.Failed())

	obs, ok := m.tracker.Observe(sess.ID, result, m.clock.Now())
	if !ok {
		m.logger.DebugContext(ctx, "classification result discarded; session ended")
		return
	}

	if result.Failed() {
		m.logger.WarnContext(ctx, "classification failed", "error", result.Error)
		m.updateIfSession(sess.ID, func(s *Status) {
			s.Message = "Status: " + result.Error
			s.Error = result.Error
		})
		return
	}

	caption := render.Caption{
		Status:     result.Status,
		Good:       result.IsGood,
		Angle:      result.Angle,
		HasAngle:   true,
		InStreak:   obs.State.Status == posture.StatusBad,
		BadSeconds: obs.Decision.DurationSec,
	}
	overlay, err := render.EncodePNG(m.renderer.Render(frame.Width, frame.Height, result.Landmarks, &caption))
	if err != nil {
		m.logger.WarnContext(ctx, "overlay encoding failed", "error", err)
	}

	m.mu.Lock()
	if m.status.SessionID == sess.ID && overlay != nil {
		m.overlay = overlay
	}
	m.mu.Unlock()

	m.updateIfSession(sess.ID, func(s *Status) {
		s.State = obs.State.Status
		s.Message = result.Status
		s.Good = result.IsGood
		s.Error = ""
		s.setAngle(result.Angle)
		s.BadPostureSeconds = nil
		if obs.State.Status == posture.StatusBad {
			secs := obs.Decision.DurationSec
			s.BadPostureSeconds = &secs
		}
		if obs.Decision.Alert {
			s.Alerts++
		}
	})

	if obs.Decision.Alert {
		ev := alert.NewEvent(sess.ID, obs.At, obs.Decision.DurationSec, result.Angle, result.Status)
		m.logger.InfoContext(ctx, "bad posture alert",
			"alert_id", ev.ID,
			"duration_sec", ev.DurationSec,
			"angle", result.Angle,
		)
		m.recorder.RecordAlert(ctx)
		if m.alerts != nil {
			m.alerts.Fire(ctx, ev)
		}
	}
}

// syncInBackground pushes the current band without holding up the caller.
func (m *Monitor) syncInBackground(ctx context.Context) {
	band := m.settings.Get().ThresholdUpdate()
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.syncTimeout)

	m.bg.Add(1)
	go func() {
		defer m.bg.Done()
		defer cancel()

		if _, err := m.classifier.PushThresholds(ctx, band); err != nil {
			m.settings.MarkUnsynced(band, errorMessage(err))
			m.logger.WarnContext(ctx, "initial threshold sync failed", "error", err)
		} else {
			m.settings.MarkSynced(band)
		}
		m.update(func(*Status) {})
	}()
}

func (m *Monitor) closeSampler(ctx context.Context) {
	if err := m.sampler.Close(); err != nil {
		m.logger.WarnContext(ctx, "failed to close video source", "error", err)
	}
}

// replace swaps in a new status and publishes it.
func (m *Monitor) replace(s Status) Status {
	m.mu.Lock()
	m.status = m.withSettings(s)
	st := m.status
	m.mu.Unlock()

	m.hub.publish(st)
	return st
}

// update mutates the current status and publishes it.
func (m *Monitor) update(fn func(*Status)) Status {
	m.mu.Lock()
	fn(&m.status)
	m.status.UpdatedAt = m.clock.Now()
	m.status = m.withSettings(m.status)
	st := m.status
	m.mu.Unlock()

	m.hub.publish(st)
	return st
}

// updateIfSession applies fn only while sessionID is still the current
// session, so a late tick cannot overwrite the status of a newer one.
func (m *Monitor) updateIfSession(sessionID string, fn func(*Status)) {
	m.mu.Lock()
	if m.status.SessionID != sessionID {
		m.mu.Unlock()
		return
	}
	fn(&m.status)
	m.status.UpdatedAt = m.clock.Now()
	m.status = m.withSettings(m.status)
	st := m.status
	m.mu.Unlock()

	m.hub.publish(st)
}

func (m *Monitor) withSettings(s Status) Status {
	cur := m.settings.Get()
	s.ConfigSynced = cur.Synced
	s.ConfigSyncError = cur.SyncError
	s.DroppedTicks = m.scheduler.Dropped()
	return s
}

func errorMessage(err error) string {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}

func isCode(err error, code types.ErrorCode) bool {
	var appErr *types.AppError
	return errors.As(err, &appErr) && appErr.Code == code
}
