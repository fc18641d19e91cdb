package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/agroflow/irrigation-controller/internal/model/messages"
)

// buildRecentFlux selects the newest audit payloads for one device. A 30d
// range covers devices that act rarely; limit bounds the result.
func buildRecentFlux(bucket, deviceID string, limit int) string {
	return fmt.Sprintf(`
from(bucket: %q)
  |> range(start: -30d)
  |> filter(fn: (r) => r._measurement == %q and r.device_id == %q)
  |> filter(fn: (r) => r._field == "payload")
  |> keep(columns: ["_time","_value"])
  |> sort(columns: ["_time"], desc: true)
  |> limit(n:%d)
`, bucket, MeasurementIrrigationEvent, deviceID, limit)
}

// Recent returns the latest IrrigationEvents for a device, newest first.
func (l *InfluxLog) Recent(ctx context.Context, deviceID string, limit int) ([]messages.IrrigationEvent, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 500 {
		limit = 500
	}
	queryAPI := l.client.QueryAPI(l.org)
	res, err := queryAPI.Query(ctx, buildRecentFlux(l.bucket, deviceID, limit))
	if err != nil {
		return nil, fmt.Errorf("eventlog: query recent for %s: %w", deviceID, err)
	}
	defer func() { _ = res.Close() }()

	out := make([]messages.IrrigationEvent, 0, limit)
	for res.Next() {
		raw, ok := res.Record().Value().(string)
		if !ok || strings.TrimSpace(raw) == "" {
			continue
		}
		var evt messages.IrrigationEvent
		if err := json.Unmarshal([]byte(raw), &evt); err != nil {
			// A corrupt payload must not hide the remaining records.
			continue
		}
		out = append(out, evt)
	}
	if res.Err() != nil {
		return out, fmt.Errorf("eventlog: iterate recent for %s: %w", deviceID, res.Err())
	}
	return out, nil
}
