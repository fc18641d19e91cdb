package messages

import (
	"encoding/json"
	"time"

	"github.com/agroflow/irrigation-controller/internal/model/entities"
)

// Reason codes carried by IrrigationEvent. Blocked reasons also report the
// remaining wait in WaitRemainingMs.
const (
	ReasonSoilBelowOn       = "soil_below_threshold_on"
	ReasonSoilAboveOff      = "soil_above_threshold_off"
	ReasonNoAction          = "no_action"
	ReasonNoNumericSoil     = "no_numeric_soil"
	ReasonWatchdogForcedOff = "watchdog_forced_off"
	ReasonManualLock        = "manual_lock"
	ReasonBlockedAfterOff   = "on_blocked_interval_after_off"
	ReasonBlockedBetweenOn  = "on_blocked_interval_between_on"
	ReasonBlockedMinOn      = "off_blocked_min_on"
	ReasonBlockedBetweenOff = "off_blocked_interval_between_off"
	ReasonPublishFailed     = "publish_failed"
	ReasonForcedOn          = "forced_on"
	ReasonForcedOff         = "forced_off"
)

// IrrigationEvent is the append-only audit record: exactly one per telemetry
// event processed (and one per forced or watchdog action), whether or not a
// relay transition happened. Write-once.
type IrrigationEvent struct {
	EventID         string                     `json:"event_id"`
	DeviceID        string                     `json:"device_id"`
	Action          Action                     `json:"action"`
	Reason          string                     `json:"reason"`
	ThresholdOn     int                        `json:"threshold_on"`
	ThresholdOff    int                        `json:"threshold_off"`
	SoilPct         *float64                   `json:"soil_pct,omitempty"`
	RelayState      bool                       `json:"relay_state"`
	WaitRemainingMs int64                      `json:"wait_remaining_ms,omitempty"`
	Details         *ThresholdDetails          `json:"details,omitempty"`
	Publish         *PublishReport             `json:"publish,omitempty"`
	Telemetry       json.RawMessage            `json:"telemetry,omitempty"`
	Forecast        *entities.ForecastSnapshot `json:"forecast,omitempty"`
	Timestamp       time.Time                  `json:"timestamp"`
}
