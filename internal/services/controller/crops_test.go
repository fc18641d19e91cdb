package controller_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agroflow/irrigation-controller/internal/model/entities"
	"github.com/agroflow/irrigation-controller/internal/services/controller"
)

func TestResolveBuiltinCrops(t *testing.T) {
	r := controller.NewBuiltinCropResolver("")

	p := r.Resolve("maize")
	assert.Equal(t, "maize", p.Name)
	assert.InDelta(t, 1.05, p.Kc, 1e-9)
	assert.InDelta(t, 60, p.RootDepthCm, 1e-9)
}

func TestResolveIsCaseAndSpaceInsensitive(t *testing.T) {
	r := controller.NewBuiltinCropResolver("")

	assert.Equal(t, r.Resolve("tomato"), r.Resolve("  TOMATO "))
}

func TestResolveUnknownCropGetsDefaults(t *testing.T) {
	r := controller.NewBuiltinCropResolver("")

	p := r.Resolve("dragonfruit")
	assert.Equal(t, "dragonfruit", p.Name, "unknown crops keep their name for audit events")
	assert.InDelta(t, entities.DefaultKc, p.Kc, 1e-9)
	assert.InDelta(t, entities.DefaultFieldCapacityPct, p.FieldCapacityPct, 1e-9)
}

func TestResolveEmptyNameUsesConfiguredDefault(t *testing.T) {
	r := controller.NewBuiltinCropResolver("lettuce")

	p := r.Resolve("")
	assert.Equal(t, "lettuce", p.Name)
	assert.InDelta(t, 0.85, p.Kc, 1e-9)
}

func TestFileOverridesShadowBuiltins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crops.json")
	profiles := `{
		"Tomato": {"kc": 1.2, "target_fraction": 0.6, "root_depth_cm": 45,
		           "field_capacity_pct": 44, "wilting_point_pct": 12, "hysteresis_pct": 6},
		"basil":  {"kc": 0.7}
	}`
	require.NoError(t, os.WriteFile(path, []byte(profiles), 0o644))

	r, err := controller.NewCropResolver(path, "")
	require.NoError(t, err)

	tomato := r.Resolve("tomato")
	assert.InDelta(t, 1.2, tomato.Kc, 1e-9, "file profile shadows the builtin")
	assert.InDelta(t, 45, tomato.RootDepthCm, 1e-9)

	// Sparse override: missing fields are normalized to defaults.
	basil := r.Resolve("basil")
	assert.Equal(t, "basil", basil.Name)
	assert.InDelta(t, 0.7, basil.Kc, 1e-9)
	assert.InDelta(t, entities.DefaultRootDepthCm, basil.RootDepthCm, 1e-9)

	// Builtins not mentioned in the file still resolve.
	assert.InDelta(t, 1.05, r.Resolve("maize").Kc, 1e-9)
}

func TestCropResolverRejectsUnreadableFile(t *testing.T) {
	_, err := controller.NewCropResolver(filepath.Join(t.TempDir(), "missing.json"), "")
	assert.Error(t, err, "a configured but missing profile file must not be silently ignored")
}

func TestCropResolverRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crops.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := controller.NewCropResolver(path, "")
	assert.Error(t, err)
}

func TestCropResolverEmptyPathIsBuiltinsOnly(t *testing.T) {
	r, err := controller.NewCropResolver("", "")
	require.NoError(t, err)
	assert.Equal(t, "tomato", r.Resolve("").Name)
}
