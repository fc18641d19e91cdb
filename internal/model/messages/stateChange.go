package messages

import "time"

// StateChangeEvent reports an observed relay state change. Published by
// receivers (simulator, future firmware bridges), archived by the event log.
type StateChangeEvent struct {
	DeviceID   string    `json:"device_id"`
	RelayState bool      `json:"relay_state"`
	Source     string    `json:"source"`
	Timestamp  time.Time `json:"timestamp"`
}
