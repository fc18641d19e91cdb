package sensor_simulator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"sync"
	"time"
)

// Trajectory tunables, percent points per minute. Irrigation wets the probe
// volume far faster than drainage dries it.
const (
	defaultDecayPctPerMin = 0.006
	gainPctPerMin         = 0.9

	// One fetch at startup, never per tick.
	soilGridsURL = "https://rest.isric.org/soilgrids/v2.0/properties/query?lat=%f&lon=%f&property=wv0010"
)

// Generator maintains one device's simulated soil moisture and advances it
// along a relay-dependent trajectory.
type Generator struct {
	mu      sync.Mutex
	seeded  bool
	last    time.Time
	soilPct float64 // [0..100]
	decay   float64
	httpc   *http.Client
}

// NewGenerator starts the trajectory at startPct with the default dry-down
// rate.
func NewGenerator(startPct float64) *Generator {
	return &Generator{
		soilPct: clampPct(startPct),
		decay:   defaultDecayPctPerMin,
		httpc:   &http.Client{Timeout: 8 * time.Second},
	}
}

// SeedFromSoilGrids replaces the configured start value with the site's
// topsoil water content, once. Any failure keeps the configured seed.
func (g *Generator) SeedFromSoilGrids(ctx context.Context, lat, lon float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.seeded || (lat == 0 && lon == 0) {
		g.seeded = true
		return nil
	}
	g.seeded = true

	pct, err := g.fetchTopsoilPct(ctx, lat, lon)
	if err != nil {
		return err
	}
	g.soilPct = clampPct(pct)
	return nil
}

// Next advances the trajectory to now and returns the new soil percentage.
func (g *Generator) Next(now time.Time, relayOn bool) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.last.IsZero() {
		g.last = now
		return g.soilPct
	}
	dtMin := now.Sub(g.last).Minutes()
	if dtMin < 0 {
		dtMin = 0
	}
	if relayOn {
		g.soilPct = clampPct(g.soilPct + gainPctPerMin*dtMin)
	} else {
		g.soilPct = clampPct(g.soilPct - g.decay*dtMin)
	}
	g.last = now
	return g.soilPct
}

func (g *Generator) fetchTopsoilPct(ctx context.Context, lat, lon float64) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf(soilGridsURL, lat, lon), nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("User-Agent", "agroflow-sensor-simulator/1.0")

	resp, err := g.httpc.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return 0, fmt.Errorf("soilgrids status %d: %s", resp.StatusCode, string(b))
	}

	var parsed any
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&parsed); err != nil {
		return 0, err
	}
	wv, ok := extractWaterContent(parsed)
	if !ok {
		return 0, fmt.Errorf("soilgrids: water content not found in response")
	}
	// wv**** layers come as thousandths of m3/m3 (e.g. 420 => 42%).
	if wv > 1.5 {
		wv = wv / 1000.0
	}
	return clampPct(wv * 100), nil
}

// extractWaterContent walks the SoilGrids response shape
// properties.layers[0].depths[0].values.{Q0.5|mean}, tolerating the optional
// GeoJSON features wrapper.
func extractWaterContent(v any) (float64, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return 0, false
	}
	if feats, ok := m["features"].([]any); ok && len(feats) > 0 {
		if f0, ok := feats[0].(map[string]any); ok {
			m = f0
		}
	}
	props, ok := m["properties"].(map[string]any)
	if !ok {
		return 0, false
	}
	layers, ok := props["layers"].([]any)
	if !ok || len(layers) == 0 {
		return 0, false
	}
	l0, ok := layers[0].(map[string]any)
	if !ok {
		return 0, false
	}
	depths, ok := l0["depths"].([]any)
	if !ok || len(depths) == 0 {
		return 0, false
	}
	d0, ok := depths[0].(map[string]any)
	if !ok {
		return 0, false
	}
	values, ok := d0["values"].(map[string]any)
	if !ok {
		return 0, false
	}
	for _, k := range []string{"Q0.5", "mean"} {
		if f, ok := values[k].(float64); ok && !math.IsNaN(f) {
			return f, true
		}
	}
	return 0, false
}

func clampPct(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 100 {
		return 100
	}
	return x
}
