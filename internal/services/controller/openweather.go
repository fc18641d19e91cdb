package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/agroflow/irrigation-controller/internal/model/entities"
	"github.com/agroflow/irrigation-controller/internal/observability"
)

type owmDaily struct {
	Dt   int64   `json:"dt"`
	Rain float64 `json:"rain"`
}

type owmResp struct {
	Current struct {
		Temp float64 `json:"temp"`
	} `json:"current"`
	Daily []owmDaily `json:"daily"`
}

type cachedForecast struct {
	snapshot  entities.ForecastSnapshot
	fetchedAt time.Time
}

// OWMClient fetches One Call 3.0 forecasts. Responses are cached per rounded
// coordinate and the upstream is guarded by a circuit breaker.
type OWMClient struct {
	apiKey  string
	baseURL string
	httpc   *http.Client
	ttl     time.Duration
	breaker *gobreaker.CircuitBreaker
	metrics *observability.Metrics
	logger  *zap.Logger
	now     func() time.Time

	mu    sync.Mutex
	cache map[string]cachedForecast
}

var _ WeatherClient = (*OWMClient)(nil)

func NewOWMClient(apiKey, baseURL string, ttl time.Duration, metrics *observability.Metrics, logger *zap.Logger) *OWMClient {
	if baseURL == "" {
		baseURL = "https://api.openweathermap.org"
	}
	if ttl <= 0 {
		ttl = 6 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &OWMClient{
		apiKey:  apiKey,
		baseURL: baseURL,
		httpc:   &http.Client{Timeout: 10 * time.Second},
		ttl:     ttl,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
		cache:   make(map[string]cachedForecast),
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "openweather",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			logger.Warn("weather breaker state change",
				zap.String("from", from.String()), zap.String("to", to.String()))
			metrics.SetWeatherCBState(float64(to))
		},
	})
	return c
}

// Forecast returns a cached snapshot when fresh enough, otherwise fetches
// through the breaker. A stale cache entry is served when the upstream
// fails.
func (c *OWMClient) Forecast(ctx context.Context, lat, lon float64) (*entities.ForecastSnapshot, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("openweather: missing api key")
	}
	key := cacheKey(lat, lon)

	c.mu.Lock()
	entry, ok := c.cache[key]
	c.mu.Unlock()
	if ok && c.now().Sub(entry.fetchedAt) < c.ttl {
		snap := entry.snapshot
		return &snap, nil
	}

	res, err := c.breaker.Execute(func() (any, error) {
		return c.fetch(ctx, lat, lon)
	})
	if err != nil {
		if ok {
			c.logger.Warn("weather fetch failed, serving stale cache",
				zap.String("cell", key), zap.Error(err))
			snap := entry.snapshot
			return &snap, nil
		}
		return nil, err
	}
	snap := res.(*entities.ForecastSnapshot)

	c.mu.Lock()
	c.cache[key] = cachedForecast{snapshot: *snap, fetchedAt: c.now()}
	c.mu.Unlock()
	return snap, nil
}

func (c *OWMClient) fetch(ctx context.Context, lat, lon float64) (*entities.ForecastSnapshot, error) {
	url := fmt.Sprintf("%s/data/3.0/onecall?lat=%f&lon=%f&exclude=minutely,hourly,alerts&units=metric&appid=%s",
		c.baseURL, lat, lon, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, fmt.Errorf("openweather: status %d: %s", resp.StatusCode, string(b))
	}

	var out owmResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	if len(out.Daily) == 0 {
		return nil, fmt.Errorf("openweather: no daily data")
	}

	snap := &entities.ForecastSnapshot{
		DailyRainMm: make([]float64, 0, len(out.Daily)),
	}
	temp := out.Current.Temp
	snap.CurrentTemp = &temp
	for _, d := range out.Daily {
		snap.DailyRainMm = append(snap.DailyRainMm, d.Rain)
	}
	return snap, nil
}

// cacheKey buckets coordinates to ~1km so jittering GPS readings share an
// entry.
func cacheKey(lat, lon float64) string {
	return fmt.Sprintf("%.2f,%.2f", lat, lon)
}
