package posture

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"posturewatch/internal/types"
)

// IntervalSource supplies the alert interval in force right now. It is read
// on every observation so operator updates take effect on the next result.
type IntervalSource interface {
	AlertInterval() time.Duration
}

// Session is one monitoring run, from start to stop.
type Session struct {
	ID        string
	StartedAt time.Time
	State     SessionState
}

// Observation is the outcome of applying one result to the active session.
type Observation struct {
	SessionID string
	State     SessionState
	Decision  Decision
	Result    types.ClassificationResult
	At        time.Time
}

// Tracker owns the single active session. All access is serialized.
type Tracker struct {
	intervals IntervalSource

	mu      sync.Mutex
	session *Session
}

// NewTracker creates a Tracker with no active session.
func NewTracker(intervals IntervalSource) *Tracker {
	return &Tracker{intervals: intervals}
}

// Begin creates a new session. It fails if one is already active.
func (t *Tracker) Begin(now time.Time) (Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.session != nil {
		return Session{}, types.NewAppError(
			types.ErrCodeConflictSessionActive,
			"a monitoring session is already active",
			nil,
		).WithDetails(map[string]any{"session_id": t.session.ID})
	}

	t.session = &Session{
		ID:        uuid.NewString(),
		StartedAt: now,
		State:     NewSessionState(),
	}
	return *t.session, nil
}

// End destroys the active session and returns it.
func (t *Tracker) End() (Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.session == nil {
		return Session{}, types.NewAppError(
			types.ErrCodeConflictSessionInactive,
			"no monitoring session is active",
			nil,
		)
	}

	ended := *t.session
	t.session = nil
	return ended, nil
}

// Active returns a copy of the active session, if any.
func (t *Tracker) Active() (Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.session == nil {
		return Session{}, false
	}
	return *t.session, true
}

// Observe applies r to the session identified by sessionID. Results for a
// session that has since been stopped or replaced are discarded and ok is
// false.
func (t *Tracker) Observe(sessionID string, r types.ClassificationResult, now time.Time) (obs Observation, ok bool) {
	interval := t.intervals.AlertInterval()

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.session == nil || t.session.ID != sessionID {
		return Observation{}, false
	}

	next, d := Transition(t.session.State, r, now, interval)
	t.session.State = next

	return Observation{
		SessionID: sessionID,
		State:     next,
		Decision:  d,
		Result:    r,
		At:        now,
	}, true
}
