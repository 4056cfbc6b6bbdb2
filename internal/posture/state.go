// Package posture tracks sustained bad posture over a stream of
// classification results and decides when an alert is due.
//
// Transition is a pure function over SessionState so the streak and alert
// cadence rules can be tested without clocks, goroutines, or I/O. Tracker
// owns the single active session and applies Transition under a lock.
package posture

import (
	"time"

	"posturewatch/internal/types"
)

// Status is the tracker's view of the user's posture.
type Status string

const (
	StatusIdle Status = "idle"
	StatusGood Status = "good"
	StatusBad  Status = "bad"
)

// SessionState is the mutable state of one monitoring session.
// A zero time means "none" for both timestamps.
type SessionState struct {
	Status    Status    `json:"status"`
	BadSince  time.Time `json:"bad_since,omitempty"`
	LastAlert time.Time `json:"last_alert,omitempty"`
}

// NewSessionState returns the state of a freshly started session.
func NewSessionState() SessionState {
	return SessionState{Status: StatusIdle}
}

// StreakSeconds returns the whole seconds elapsed since the first bad
// reading of the current streak, or 0 outside a streak.
func (s SessionState) StreakSeconds(now time.Time) int64 {
	if s.Status != StatusBad || s.BadSince.IsZero() {
		return 0
	}
	elapsed := now.Sub(s.BadSince)
	if elapsed < 0 {
		return 0
	}
	return int64(elapsed / time.Second)
}

// Decision describes what a single Transition did.
type Decision struct {
	// Applied is false when the result carried an error and the state was
	// left untouched.
	Applied     bool
	Alert       bool
	DurationSec int64
}

// Transition applies one classification result observed at now.
//
// An error result changes nothing. A good result clears the streak and the
// alert cadence. A bad result opens a streak if none is open, then fires an
// alert once the streak has lasted alertInterval and at least alertInterval
// has passed since the previous alert of the same streak.
func Transition(s SessionState, r types.ClassificationResult, now time.Time, alertInterval time.Duration) (SessionState, Decision) {
	if r.Failed() {
		return s, Decision{DurationSec: s.StreakSeconds(now)}
	}

	if r.IsGood {
		return SessionState{Status: StatusGood}, Decision{Applied: true}
	}

	next := s
	if next.Status != StatusBad || next.BadSince.IsZero() {
		next.Status = StatusBad
		next.BadSince = now
		next.LastAlert = time.Time{}
	}

	d := Decision{Applied: true, DurationSec: next.StreakSeconds(now)}

	due := time.Duration(d.DurationSec)*time.Second >= alertInterval
	cooled := next.LastAlert.IsZero() || now.Sub(next.LastAlert) >= alertInterval
	if due && cooled {
		d.Alert = true
		next.LastAlert = now
	}

	return next, d
}
