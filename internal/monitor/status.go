package monitor

import (
	"fmt"
	"sync"
	"time"

	"posturewatch/internal/posture"
)

// Status is the operator-facing view of the agent, mirroring what the UI
// status display shows.
type Status struct {
	Active    bool           `json:"active"`
	SessionID string         `json:"session_id,omitempty"`
	StartedAt *time.Time     `json:"started_at,omitempty"`
	State     posture.Status `json:"state"`

	// Message is the status line: the classifier's verdict, or the last
	// error while one is current.
	Message   string   `json:"message"`
	Good      bool     `json:"good"`
	Angle     *float64 `json:"angle,omitempty"`
	AngleText string   `json:"angle_text,omitempty"`

	// BadPostureSeconds is only set while a bad-posture streak is open.
	BadPostureSeconds *int64 `json:"bad_posture_seconds,omitempty"`
	Error             string `json:"error,omitempty"`

	ConfigSynced    bool      `json:"config_synced"`
	ConfigSyncError string    `json:"config_sync_error,omitempty"`
	DroppedTicks    uint64    `json:"dropped_ticks"`
	Alerts          int       `json:"alerts"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func idleStatus(now time.Time) Status {
	return Status{State: posture.StatusIdle, Message: "Monitoring stopped", UpdatedAt: now}
}

func (s *Status) setAngle(angle float64) {
	s.Angle = &angle
	s.AngleText = fmt.Sprintf("Neck Angle: %.2f", angle)
}

// hub fans Status updates out to subscribers. Each subscriber holds at most
// one pending update; a slow reader sees only the latest.
type hub struct {
	mu   sync.Mutex
	next int
	subs map[int]chan Status
}

func newHub() *hub {
	return &hub{subs: make(map[int]chan Status)}
}

func (h *hub) subscribe() (<-chan Status, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.next
	h.next++
	ch := make(chan Status, 1)
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs, id)
			close(ch)
		})
	}
}

func (h *hub) publish(s Status) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ch := range h.subs {
		select {
		case ch <- s:
		default:
			// Replace the stale pending update.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- s:
			default:
			}
		}
	}
}
