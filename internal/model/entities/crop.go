package entities

// CropProfile holds the per-crop parameters feeding the threshold model.
// Reference data: looked up by name, never mutated at runtime.
type CropProfile struct {
	Name             string  `json:"name"`
	Kc               float64 `json:"kc"`
	TargetFraction   float64 `json:"target_fraction"`
	RootDepthCm      float64 `json:"root_depth_cm"`
	FieldCapacityPct float64 `json:"field_capacity_pct"`
	WiltingPointPct  float64 `json:"wilting_point_pct"`
	HysteresisPct    float64 `json:"hysteresis_pct"`
}

// DefaultCropName is used when telemetry names no crop and no override is
// configured.
const DefaultCropName = "tomato"

// Fallback parameters used whenever a profile field is missing or out of range.
const (
	DefaultKc               = 0.9
	DefaultTargetFraction   = 0.75
	DefaultRootDepthCm      = 30.0
	DefaultFieldCapacityPct = 40.0
	DefaultWiltingPointPct  = 10.0
	DefaultHysteresisPct    = 5.0
)

// DefaultCropProfile returns the built-in fallback profile under the given name.
func DefaultCropProfile(name string) CropProfile {
	return CropProfile{
		Name:             name,
		Kc:               DefaultKc,
		TargetFraction:   DefaultTargetFraction,
		RootDepthCm:      DefaultRootDepthCm,
		FieldCapacityPct: DefaultFieldCapacityPct,
		WiltingPointPct:  DefaultWiltingPointPct,
		HysteresisPct:    DefaultHysteresisPct,
	}
}

// Normalized returns a copy with every missing or out-of-range field replaced
// by its default, so downstream math never sees a degenerate parameter.
func (p CropProfile) Normalized() CropProfile {
	out := p
	if !(out.Kc > 0) {
		out.Kc = DefaultKc
	}
	if !(out.TargetFraction > 0) || out.TargetFraction > 1 {
		out.TargetFraction = DefaultTargetFraction
	}
	if !(out.RootDepthCm > 0) {
		out.RootDepthCm = DefaultRootDepthCm
	}
	if !(out.FieldCapacityPct > 0) || out.FieldCapacityPct > 100 {
		out.FieldCapacityPct = DefaultFieldCapacityPct
	}
	if !(out.WiltingPointPct > 0) || out.WiltingPointPct >= 100 {
		out.WiltingPointPct = DefaultWiltingPointPct
	}
	if !(out.HysteresisPct > 0) {
		out.HysteresisPct = DefaultHysteresisPct
	}
	// Wilting point must stay strictly below field capacity; an inconsistent
	// pair resets both.
	if out.WiltingPointPct >= out.FieldCapacityPct {
		out.FieldCapacityPct = DefaultFieldCapacityPct
		out.WiltingPointPct = DefaultWiltingPointPct
	}
	return out
}

// builtinCrops is the reference table shipped with the controller. Values are
// coarse agronomic estimates; site-specific profiles come from CROP_PROFILE_FILE.
var builtinCrops = map[string]CropProfile{
	"tomato": {
		Name: "tomato", Kc: 0.9, TargetFraction: 0.75, RootDepthCm: 30,
		FieldCapacityPct: 40, WiltingPointPct: 10, HysteresisPct: 5,
	},
	"maize": {
		Name: "maize", Kc: 1.05, TargetFraction: 0.7, RootDepthCm: 60,
		FieldCapacityPct: 42, WiltingPointPct: 12, HysteresisPct: 5,
	},
	"lettuce": {
		Name: "lettuce", Kc: 0.85, TargetFraction: 0.8, RootDepthCm: 15,
		FieldCapacityPct: 38, WiltingPointPct: 9, HysteresisPct: 4,
	},
	"vineyard": {
		Name: "vineyard", Kc: 0.6, TargetFraction: 0.6, RootDepthCm: 80,
		FieldCapacityPct: 35, WiltingPointPct: 11, HysteresisPct: 6,
	},
}

// LookupCrop returns the built-in profile for name, reporting whether it exists.
func LookupCrop(name string) (CropProfile, bool) {
	p, ok := builtinCrops[name]
	return p, ok
}
