package controller

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/agroflow/irrigation-controller/internal/model/entities"
)

// CropResolver maps crop names to profiles: built-ins overlaid by an optional
// JSON file. Profiles are loaded once at construction and never mutated, so
// lookups need no locking.
type CropResolver struct {
	overrides   map[string]entities.CropProfile
	defaultCrop string
}

// NewBuiltinCropResolver resolves against the built-in table only.
func NewBuiltinCropResolver(defaultCrop string) *CropResolver {
	if defaultCrop == "" {
		defaultCrop = entities.DefaultCropName
	}
	return &CropResolver{
		overrides:   map[string]entities.CropProfile{},
		defaultCrop: strings.ToLower(defaultCrop),
	}
}

// NewCropResolver loads overrides from path, a JSON object keyed by crop name.
// An empty path means built-ins only; a present but unreadable file is an
// error.
func NewCropResolver(path, defaultCrop string) (*CropResolver, error) {
	r := NewBuiltinCropResolver(defaultCrop)
	if path == "" {
		return r, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("crops: read %s: %w", path, err)
	}
	var raw map[string]entities.CropProfile
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("crops: parse %s: %w", path, err)
	}
	for name, p := range raw {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		if p.Name == "" {
			p.Name = name
		}
		r.overrides[name] = p
	}
	return r, nil
}

// Resolve never fails: unknown names get the default parameter set under the
// requested name, and every returned profile is normalized.
func (r *CropResolver) Resolve(name string) entities.CropProfile {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = r.defaultCrop
	}
	if p, ok := r.overrides[name]; ok {
		return p.Normalized()
	}
	if p, ok := entities.LookupCrop(name); ok {
		return p.Normalized()
	}
	return entities.DefaultCropProfile(name)
}
