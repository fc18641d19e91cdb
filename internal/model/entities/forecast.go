package entities

import "math"

// ForecastSnapshot is the slice of weather data the controller consumes.
// A nil snapshot degrades to rain=0 and the default temperature chain.
type ForecastSnapshot struct {
	DailyRainMm []float64 `json:"daily_rain_mm"`
	CurrentTemp *float64  `json:"current_temp,omitempty"`
}

// Rain24 returns the next-24h rain estimate in mm, 0 when the snapshot is
// absent or malformed. Never fails.
func (f *ForecastSnapshot) Rain24() float64 {
	if f == nil || len(f.DailyRainMm) == 0 {
		return 0
	}
	r := f.DailyRainMm[0]
	if math.IsNaN(r) || math.IsInf(r, 0) || r < 0 {
		return 0
	}
	return r
}

// Temp returns the current temperature if the snapshot carries a usable one.
func (f *ForecastSnapshot) Temp() (float64, bool) {
	if f == nil || f.CurrentTemp == nil {
		return 0, false
	}
	t := *f.CurrentTemp
	if math.IsNaN(t) || math.IsInf(t, 0) {
		return 0, false
	}
	return t, true
}
