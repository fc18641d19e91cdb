package entities

import "time"

// DeviceState is the persisted controller-side view of one irrigation relay.
// RelayState is the single source of truth for "commanded on": there is no
// feedback channel confirming the physical relay, so the controller trusts
// the last delivery it could confirm. LastOnTs/LastOffTs move only when an
// action is committed, never on RECOMMEND outcomes.
type DeviceState struct {
	DeviceID      string `json:"device_id"`
	RelayState    bool   `json:"relay_state"`
	ManualLock    bool   `json:"manual_lock"`
	LastActionTs  int64  `json:"last_action_ts"` // unix ms, 0 = never
	LastOnTs      int64  `json:"last_on_ts"`
	LastOffTs     int64  `json:"last_off_ts"`
	LastTelemetry string `json:"last_telemetry,omitempty"` // raw JSON snapshot
	UpdatedAt     int64  `json:"updated_at"`
}

// NewDeviceState returns the lazily-created initial record for a device seen
// for the first time: relay off, no action history.
func NewDeviceState(deviceID string) *DeviceState {
	return &DeviceState{DeviceID: deviceID}
}

// SinceOn reports how long the relay has been on relative to now.
// Zero LastOnTs (never turned on) yields a very large duration.
func (s *DeviceState) SinceOn(now time.Time) time.Duration {
	return sinceMs(s.LastOnTs, now)
}

// SinceOff reports how long ago the relay was last turned off.
func (s *DeviceState) SinceOff(now time.Time) time.Duration {
	return sinceMs(s.LastOffTs, now)
}

func sinceMs(ts int64, now time.Time) time.Duration {
	if ts == 0 {
		return time.Duration(1<<62 - 1)
	}
	return now.Sub(time.UnixMilli(ts))
}
