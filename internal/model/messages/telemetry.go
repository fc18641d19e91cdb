package messages

import (
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"
)

// Telemetry is one field-device reading. SoilPct is nil when the device could
// not produce a numeric value; the decision engine records that instead of
// guessing. Raw keeps the original payload for audit snapshots.
type Telemetry struct {
	DeviceID    string
	SoilPct     *float64
	Temperature *float64
	Humidity    *float64
	Crop        string
	Lat         *float64
	Lon         *float64
	Timestamp   time.Time
	Raw         json.RawMessage
}

var ErrNoDeviceID = errors.New("telemetry: missing device id")

// ParseTelemetry decodes a telemetry payload tolerating the field aliases and
// loose value types seen across device firmwares: numbers arriving as strings,
// soil percent with a trailing '%', comma decimal separators.
func ParseTelemetry(payload []byte) (*Telemetry, error) {
	var m map[string]any
	if err := json.Unmarshal(payload, &m); err != nil {
		return nil, err
	}
	t := &Telemetry{Raw: append(json.RawMessage(nil), payload...)}
	t.DeviceID = firstString(m, "device_id", "deviceId", "sensor_id", "id")
	if t.DeviceID == "" {
		return nil, ErrNoDeviceID
	}
	t.SoilPct = numField(m, "soil_pct", "soilPct", "soil", "soil_moisture", "moisture")
	t.Temperature = numField(m, "temperature", "temp")
	t.Humidity = numField(m, "humidity", "hum")
	t.Crop = firstString(m, "crop")
	t.Lat = numField(m, "lat", "latitude")
	t.Lon = numField(m, "lon", "lng", "longitude")
	t.Timestamp = timeField(m, "timestamp", "time", "ts")
	return t, nil
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func numField(m map[string]any, keys ...string) *float64 {
	for _, k := range keys {
		v, ok := m[k]
		if !ok || v == nil {
			continue
		}
		if f, ok := toF64(v); ok {
			return &f
		}
		// Present but unreadable counts as unreadable, not as "try next alias".
		return nil
	}
	return nil
}

// toF64 coerces the loose value types devices send: JSON numbers, numeric
// strings (optionally '%'-suffixed, comma decimals tolerated).
func toF64(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return 0, false
		}
		return x, true
	case string:
		s := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(x), "%"))
		if s == "" {
			return 0, false
		}
		s = strings.ReplaceAll(s, ",", ".")
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

func timeField(m map[string]any, keys ...string) time.Time {
	for _, k := range keys {
		switch x := m[k].(type) {
		case string:
			if ts, err := time.Parse(time.RFC3339, x); err == nil {
				return ts
			}
		case float64:
			// unix seconds or milliseconds, disambiguated by magnitude
			if x > 1e12 {
				return time.UnixMilli(int64(x))
			}
			if x > 0 {
				return time.Unix(int64(x), 0)
			}
		}
	}
	return time.Time{}
}
