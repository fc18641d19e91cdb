package controller

import (
	"math"

	"github.com/agroflow/irrigation-controller/internal/model/entities"
	"github.com/agroflow/irrigation-controller/internal/model/messages"
)

// Threshold model constants. The ET proxy is a linear approximation, not
// Penman-Monteith.
const (
	defaultTempC     = 25.0
	etoBaseTempC     = 10.0
	etoSlopeMmPerC   = 0.1
	rainInfiltration = 0.8
	minMmPerPct      = 5.0
	bandMarginPct    = 3.0
)

// ComputeThresholds derives the ON/OFF moisture band for one decision cycle.
// Pure, deterministic and total: nil telemetry or forecast and missing crop
// fields fall back to documented defaults, never to an error.
func ComputeThresholds(t *messages.Telemetry, f *entities.ForecastSnapshot, profile entities.CropProfile) messages.ThresholdResult {
	crop := profile.Normalized()

	rain24 := f.Rain24()

	tDay := defaultTempC
	if t != nil && t.Temperature != nil {
		tDay = *t.Temperature
	} else if ft, ok := f.Temp(); ok {
		tDay = ft
	}

	eto := math.Max(0, etoSlopeMmPerC*(tDay-etoBaseTempC))
	etc := eto * crop.Kc
	rainEff := rain24 * rainInfiltration
	deficit := math.Max(0, etc-rainEff)
	mmPerPct := math.Max(minMmPerPct, crop.RootDepthCm)
	deltaPct := deficit / mmPerPct
	baseline := crop.FieldCapacityPct * crop.TargetFraction

	// The +-3 margin keeps the trigger away from the wilting point and from
	// saturation.
	onRaw := clamp(baseline+deltaPct, crop.WiltingPointPct+bandMarginPct, crop.FieldCapacityPct-bandMarginPct)
	thresholdOn := int(math.Round(onRaw))
	offRaw := clamp(float64(thresholdOn)+crop.HysteresisPct, float64(thresholdOn), 100)
	thresholdOff := int(math.Round(offRaw))

	return messages.ThresholdResult{
		ThresholdOn:  thresholdOn,
		ThresholdOff: thresholdOff,
		Details: messages.ThresholdDetails{
			EToMm:       eto,
			ETcMm:       etc,
			Rain24Mm:    rain24,
			RainEffMm:   rainEff,
			DeficitMm:   deficit,
			DeltaPct:    deltaPct,
			BaselinePct: baseline,
			Crop:        crop,
		},
	}
}

// clamp bounds x to [lo, hi]. An inverted band (profile too narrow for the
// safety margins) resolves to lo.
func clamp(x, lo, hi float64) float64 {
	if lo > hi {
		return lo
	}
	return math.Max(lo, math.Min(hi, x))
}
