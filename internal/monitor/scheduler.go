// Package monitor runs monitoring sessions: a periodic scheduler drives the
// sample, classify, track, render and alert pipeline, and the Monitor exposes
// the operator commands that start, stop and reconfigure it.
package monitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ErrSchedulerRunning is returned by Start when the scheduler is already running.
var ErrSchedulerRunning = errors.New("scheduler already running")

// Ticker is the subset of *time.Ticker the scheduler uses.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFactory creates a Ticker with the given period.
type TickerFactory func(period time.Duration) Ticker

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

// NewRealTicker wraps time.NewTicker.
func NewRealTicker(period time.Duration) Ticker {
	return realTicker{t: time.NewTicker(period)}
}

// Task is one unit of periodic work.
type Task func(ctx context.Context)

// SchedulerConfig configures a Scheduler.
type SchedulerConfig struct {
	Interval time.Duration
	Task     Task
	// OnDrop is called for every tick dropped because a task was in flight.
	OnDrop    func(ctx context.Context)
	NewTicker TickerFactory
	Logger    *slog.Logger
}

// Scheduler runs Task on a fixed period. At most one task is in flight: a
// tick that fires while the previous task is still running is dropped and
// counted, never queued.
type Scheduler struct {
	interval  time.Duration
	task      Task
	onDrop    func(ctx context.Context)
	newTicker TickerFactory
	logger    *slog.Logger

	busy     atomic.Bool
	dropped  atomic.Uint64
	inflight sync.WaitGroup

	mu       sync.Mutex
	cancel   context.CancelFunc
	loopDone chan struct{}
}

// NewScheduler creates a stopped Scheduler.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.NewTicker == nil {
		cfg.NewTicker = NewRealTicker
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Scheduler{
		interval:  cfg.Interval,
		task:      cfg.Task,
		onDrop:    cfg.OnDrop,
		newTicker: cfg.NewTicker,
		logger:    cfg.Logger,
	}
}

// Start begins ticking. The loop runs until Stop is called or ctx ends.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return ErrSchedulerRunning
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.loopDone = done

	ticker := s.newTicker(s.interval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C():
				s.tick(loopCtx)
			}
		}
	}()

	s.logger.DebugContext(ctx, "scheduler started", "interval", s.interval)
	return nil
}

// Stop cancels future ticks. A task already in flight keeps running; use
// Wait to block until it returns.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.loopDone
	s.cancel, s.loopDone = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Wait blocks until no task is in flight or ctx ends.
func (s *Scheduler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Running reports whether the tick loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// Dropped returns the number of ticks dropped since creation.
func (s *Scheduler) Dropped() uint64 {
	return s.dropped.Load()
}

func (s *Scheduler) tick(ctx context.Context) {
	if !s.busy.CompareAndSwap(false, true) {
		n := s.dropped.Add(1)
		s.logger.DebugContext(ctx, "tick dropped; previous task still in flight", "dropped_total", n)
		if s.onDrop != nil {
			s.onDrop(ctx)
		}
		return
	}

	// The task outlives Stop so an in-flight round-trip completes; its
	// result is discarded downstream once the session is gone.
	taskCtx := context.WithoutCancel(ctx)
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		defer s.busy.Store(false)
		s.task(taskCtx)
	}()
}
