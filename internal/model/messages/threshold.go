package messages

import "github.com/agroflow/irrigation-controller/internal/model/entities"

// ThresholdDetails is the diagnostic breakdown behind a threshold band,
// attached to events so every decision is reconstructible after the fact.
type ThresholdDetails struct {
	EToMm       float64              `json:"eto_mm"`
	ETcMm       float64              `json:"etc_mm"`
	Rain24Mm    float64              `json:"rain24_mm"`
	RainEffMm   float64              `json:"rain_eff_mm"`
	DeficitMm   float64              `json:"deficit_mm"`
	DeltaPct    float64              `json:"delta_pct"`
	BaselinePct float64              `json:"baseline_pct"`
	Crop        entities.CropProfile `json:"crop"`
}

// ThresholdResult is the ON/OFF moisture band for one decision cycle.
// Recomputed every cycle; logged, never persisted as authoritative state.
type ThresholdResult struct {
	ThresholdOn  int              `json:"threshold_on"`
	ThresholdOff int              `json:"threshold_off"`
	Details      ThresholdDetails `json:"details"`
}
