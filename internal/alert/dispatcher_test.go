package alert

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var testEvent = Event{
	ID:          "alert-1",
	Type:        EventType,
	SessionID:   "sess-1",
	FiredAt:     time.Date(2026, 3, 2, 9, 0, 10, 0, time.UTC),
	DurationSec: 10,
	Angle:       42.125,
	Status:      "Bad Posture",
}

// fakeChannel records deliveries and can block or fail on demand.
type fakeChannel struct {
	name    string
	err     error
	block   chan struct{}
	panicOn bool

	mu     sync.Mutex
	events []Event
	ctxErr error
}

func (f *fakeChannel) Name() string { return f.name }

func (f *fakeChannel) Deliver(ctx context.Context, ev Event) error {
	if f.panicOn {
		panic("speaker exploded")
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			f.mu.Lock()
			f.ctxErr = ctx.Err()
			f.mu.Unlock()
			return ctx.Err()
		}
	}
	f.mu.Lock()
	f.events = append(f.events, ev)
	f.mu.Unlock()
	return f.err
}

func (f *fakeChannel) delivered() []Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Event(nil), f.events...)
}

type deliveryRecord struct {
	channel string
	ok      bool
}

type fakeRecorder struct {
	mu      sync.Mutex
	records []deliveryRecord
}

func (r *fakeRecorder) RecordAlertDelivery(_ context.Context, channel string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, deliveryRecord{channel, ok})
}

func TestDispatcher_FiresAllChannels(t *testing.T) {
	audio := &fakeChannel{name: "audio"}
	hook := &fakeChannel{name: "webhook", err: errors.New("503")}
	rec := &fakeRecorder{}

	d := NewDispatcher(DispatcherConfig{
		Channels: []Channel{audio, hook},
		Recorder: rec,
		Logger:   discardLogger(),
	})

	d.Fire(context.Background(), testEvent)
	d.Wait()

	assert.Equal(t, []Event{testEvent}, audio.delivered())
	assert.Equal(t, []Event{testEvent}, hook.delivered())
	assert.ElementsMatch(t, []deliveryRecord{{"audio", true}, {"webhook", false}}, rec.records)
}

func TestDispatcher_FireDoesNotBlock(t *testing.T) {
	slow := &fakeChannel{name: "audio", block: make(chan struct{})}
	d := NewDispatcher(DispatcherConfig{Channels: []Channel{slow}, Timeout: time.Minute, Logger: discardLogger()})

	returned := make(chan struct{})
	go func() {
		d.Fire(context.Background(), testEvent)
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("Fire blocked on a slow channel")
	}

	close(slow.block)
	d.Wait()
	assert.Len(t, slow.delivered(), 1)
}

func TestDispatcher_TimeoutBoundsDelivery(t *testing.T) {
	stuck := &fakeChannel{name: "audio", block: make(chan struct{})}
	d := NewDispatcher(DispatcherConfig{Channels: []Channel{stuck}, Timeout: 20 * time.Millisecond, Logger: discardLogger()})

	d.Fire(context.Background(), testEvent)
	d.Wait()

	assert.ErrorIs(t, stuck.ctxErr, context.DeadlineExceeded)
}

func TestDispatcher_SurvivesCallerCancellation(t *testing.T) {
	ch := &fakeChannel{name: "audio", block: make(chan struct{})}
	d := NewDispatcher(DispatcherConfig{Channels: []Channel{ch}, Timeout: time.Minute, Logger: discardLogger()})

	ctx, cancel := context.WithCancel(context.Background())
	d.Fire(ctx, testEvent)
	cancel()
	close(ch.block)
	d.Wait()

	require.NoError(t, ch.ctxErr)
	assert.Len(t, ch.delivered(), 1)
}

func TestDispatcher_RecoversFromPanickingChannel(t *testing.T) {
	bad := &fakeChannel{name: "audio", panicOn: true}
	good := &fakeChannel{name: "queue"}
	rec := &fakeRecorder{}
	d := NewDispatcher(DispatcherConfig{Channels: []Channel{bad, good}, Recorder: rec, Logger: discardLogger()})

	require.NotPanics(t, func() {
		d.Fire(context.Background(), testEvent)
		d.Wait()
	})
	assert.Len(t, good.delivered(), 1)
	assert.Contains(t, rec.records, deliveryRecord{"audio", false})
}

func TestDispatcher_NoChannels(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{})
	d.Fire(context.Background(), testEvent)
	d.Wait()
}

func TestNewEvent(t *testing.T) {
	at := time.Date(2026, 3, 2, 9, 0, 20, 0, time.UTC)
	ev := NewEvent("sess-9", at, 20, 51.5, "Bad Posture")

	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, EventType, ev.Type)
	assert.Equal(t, "sess-9", ev.SessionID)
	assert.Equal(t, at, ev.FiredAt)
	assert.Equal(t, "Bad posture for 20s (neck angle 51.50)", ev.Text())
	assert.NotEqual(t, ev.ID, NewEvent("sess-9", at, 20, 51.5, "Bad Posture").ID)
}
