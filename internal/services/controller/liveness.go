package controller

import (
	"sync"
	"time"
)

// Liveness tracks the implicit heartbeat every telemetry message carries.
// A device never heard from is stale.
type Liveness struct {
	staleAfter time.Duration
	seen       sync.Map // deviceID -> time.Time
}

func NewLiveness(staleAfter time.Duration) *Liveness {
	if staleAfter <= 0 {
		staleAfter = 90 * time.Second
	}
	return &Liveness{staleAfter: staleAfter}
}

func (l *Liveness) Touch(deviceID string, at time.Time) {
	if l == nil || deviceID == "" {
		return
	}
	l.seen.Store(deviceID, at)
}

// LastSeen reports when the device last produced telemetry.
func (l *Liveness) LastSeen(deviceID string) (time.Time, bool) {
	if l == nil {
		return time.Time{}, false
	}
	v, ok := l.seen.Load(deviceID)
	if !ok {
		return time.Time{}, false
	}
	return v.(time.Time), true
}

func (l *Liveness) Stale(deviceID string, now time.Time) bool {
	last, ok := l.LastSeen(deviceID)
	if !ok {
		return true
	}
	return now.Sub(last) >= l.staleAfter
}
