package eventlog

import (
	"encoding/json"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/agroflow/irrigation-controller/internal/model/messages"
)

// Measurements. irrigation_event carries the audit trail; relay_state_change
// archives observed relay transitions reported by receivers.
const (
	MeasurementIrrigationEvent = "irrigation_event"
	MeasurementStateChange     = "relay_state_change"
)

// irrigationEventPoint normalizes an IrrigationEvent into an Influx point.
// Tags are the bounded-cardinality keys queries filter on; the full record is
// preserved verbatim in the payload field so no detail is lost.
func irrigationEventPoint(evt messages.IrrigationEvent) (*write.Point, error) {
	payload, err := json.Marshal(evt)
	if err != nil {
		return nil, err
	}

	tags := map[string]string{
		"device_id": evt.DeviceID,
		"action":    string(evt.Action),
		"reason":    evt.Reason,
	}

	fields := map[string]interface{}{
		"payload":       string(payload),
		"threshold_on":  int64(evt.ThresholdOn),
		"threshold_off": int64(evt.ThresholdOff),
		"relay_state":   evt.RelayState,
		"count":         int64(1),
	}
	if evt.SoilPct != nil {
		fields["soil_pct"] = *evt.SoilPct
	}
	if evt.WaitRemainingMs > 0 {
		fields["wait_remaining_ms"] = evt.WaitRemainingMs
	}
	if d := evt.Details; d != nil {
		fields["eto_mm"] = d.EToMm
		fields["etc_mm"] = d.ETcMm
		fields["rain24_mm"] = d.Rain24Mm
		fields["deficit_mm"] = d.DeficitMm
	}

	ts := evt.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return influxdb2.NewPoint(MeasurementIrrigationEvent, tags, fields, ts), nil
}

func stateChangePoint(evt messages.StateChangeEvent) *write.Point {
	tags := map[string]string{
		"device_id": evt.DeviceID,
	}
	if evt.Source != "" {
		tags["source"] = evt.Source
	}
	fields := map[string]interface{}{
		"relay_state": evt.RelayState,
		"count":       int64(1),
	}
	ts := evt.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return influxdb2.NewPoint(MeasurementStateChange, tags, fields, ts)
}
