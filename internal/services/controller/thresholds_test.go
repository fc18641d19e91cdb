package controller_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/agroflow/irrigation-controller/internal/model/entities"
	"github.com/agroflow/irrigation-controller/internal/model/messages"
	"github.com/agroflow/irrigation-controller/internal/services/controller"
)

func tomatoProfile() entities.CropProfile {
	p, ok := entities.LookupCrop("tomato")
	if !ok {
		panic("tomato profile missing")
	}
	return p
}

func f64(v float64) *float64 { return &v }

func TestComputeThresholdsTomatoDefaults(t *testing.T) {
	// 25C, no rain: ETo=1.5, ETc=1.35, deltaPct=0.045, baseline=30.
	tel := &messages.Telemetry{DeviceID: "field1", Temperature: f64(25)}

	res := controller.ComputeThresholds(tel, nil, tomatoProfile())

	assert.Equal(t, 30, res.ThresholdOn)
	assert.Equal(t, 35, res.ThresholdOff)
	assert.InDelta(t, 1.5, res.Details.EToMm, 1e-9)
	assert.InDelta(t, 1.35, res.Details.ETcMm, 1e-9)
	assert.InDelta(t, 30.0, res.Details.BaselinePct, 1e-9)
}

func TestComputeThresholdsDeterministic(t *testing.T) {
	tel := &messages.Telemetry{DeviceID: "field1", Temperature: f64(31.2)}
	f := &entities.ForecastSnapshot{DailyRainMm: []float64{2.5, 0}}

	a := controller.ComputeThresholds(tel, f, tomatoProfile())
	b := controller.ComputeThresholds(tel, f, tomatoProfile())

	assert.Equal(t, a, b)
}

func TestComputeThresholdsRainLowersDemand(t *testing.T) {
	// Shallow roots make the delta visible after rounding.
	profile := entities.CropProfile{
		Name: "seedling", Kc: 1, TargetFraction: 0.75, RootDepthCm: 5,
		FieldCapacityPct: 40, WiltingPointPct: 10, HysteresisPct: 5,
	}
	tel := &messages.Telemetry{DeviceID: "field1", Temperature: f64(35)}

	dry := controller.ComputeThresholds(tel, &entities.ForecastSnapshot{DailyRainMm: []float64{0}}, profile)
	wet := controller.ComputeThresholds(tel, &entities.ForecastSnapshot{DailyRainMm: []float64{10}}, profile)

	assert.Equal(t, 31, dry.ThresholdOn)
	assert.Equal(t, 30, wet.ThresholdOn)
	assert.LessOrEqual(t, wet.ThresholdOn, dry.ThresholdOn)
	assert.Zero(t, wet.Details.DeficitMm)
}

func TestComputeThresholdsTempFallbackChain(t *testing.T) {
	profile := tomatoProfile()

	// Telemetry temperature wins over forecast.
	tel := &messages.Telemetry{DeviceID: "d", Temperature: f64(30)}
	f := &entities.ForecastSnapshot{CurrentTemp: f64(10)}
	res := controller.ComputeThresholds(tel, f, profile)
	assert.InDelta(t, 2.0, res.Details.EToMm, 1e-9)

	// No telemetry temperature: forecast current temp.
	res = controller.ComputeThresholds(&messages.Telemetry{DeviceID: "d"}, f, profile)
	assert.InDelta(t, 0.0, res.Details.EToMm, 1e-9)

	// Neither: 25C default.
	res = controller.ComputeThresholds(nil, nil, profile)
	assert.InDelta(t, 1.5, res.Details.EToMm, 1e-9)
}

func TestComputeThresholdsColdDayNoDemand(t *testing.T) {
	tel := &messages.Telemetry{DeviceID: "d", Temperature: f64(5)}

	res := controller.ComputeThresholds(tel, nil, tomatoProfile())

	assert.Zero(t, res.Details.EToMm)
	assert.Zero(t, res.Details.DeficitMm)
	assert.Equal(t, 30, res.ThresholdOn)
}

func TestComputeThresholdsBandClamps(t *testing.T) {
	// Baseline above fieldCapacity-3 clamps down.
	saturating := entities.CropProfile{
		Name: "bog", Kc: 0.9, TargetFraction: 1, RootDepthCm: 30,
		FieldCapacityPct: 20, WiltingPointPct: 10, HysteresisPct: 5,
	}
	res := controller.ComputeThresholds(nil, nil, saturating)
	assert.Equal(t, 17, res.ThresholdOn)
	assert.Equal(t, 22, res.ThresholdOff)

	// Hysteresis can never push threshold_off past 100.
	wet := entities.CropProfile{
		Name: "paddy", Kc: 0.9, TargetFraction: 1, RootDepthCm: 30,
		FieldCapacityPct: 100, WiltingPointPct: 10, HysteresisPct: 5,
	}
	res = controller.ComputeThresholds(nil, nil, wet)
	assert.Equal(t, 97, res.ThresholdOn)
	assert.Equal(t, 100, res.ThresholdOff)
}

func TestComputeThresholdsBandOrdering(t *testing.T) {
	temps := []float64{0, 25, 42}
	rains := []float64{0, 3, 25}
	for _, crop := range []string{"tomato", "maize", "lettuce", "vineyard"} {
		profile, ok := entities.LookupCrop(crop)
		assert.True(t, ok)
		for _, temp := range temps {
			for _, rain := range rains {
				tel := &messages.Telemetry{DeviceID: "d", Temperature: f64(temp)}
				f := &entities.ForecastSnapshot{DailyRainMm: []float64{rain}}
				res := controller.ComputeThresholds(tel, f, profile)

				assert.LessOrEqual(t, res.ThresholdOn, res.ThresholdOff,
					"crop=%s temp=%v rain=%v", crop, temp, rain)
				assert.LessOrEqual(t, res.ThresholdOff, 100,
					"crop=%s temp=%v rain=%v", crop, temp, rain)
				assert.GreaterOrEqual(t, res.ThresholdOn, 0,
					"crop=%s temp=%v rain=%v", crop, temp, rain)
			}
		}
	}
}

func TestComputeThresholdsDegenerateProfile(t *testing.T) {
	// A zero profile normalizes to the default parameter set.
	res := controller.ComputeThresholds(nil, nil, entities.CropProfile{})
	assert.Equal(t, 30, res.ThresholdOn)
	assert.Equal(t, 35, res.ThresholdOff)
}
