package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agroflow/irrigation-controller/internal/config"
)

func TestLoadControllerDefaults(t *testing.T) {
	cfg := config.LoadController()

	assert.Equal(t, "localhost", cfg.MQTT.Host)
	assert.Equal(t, 1883, cfg.MQTT.Port)
	assert.Equal(t, "telemetry/soil/#", cfg.TelemetryTopic)
	assert.Equal(t, "event/irrigationDecision/{device}", cfg.DecisionEventTopicTemplate)
	assert.Equal(t, "cmd/irrigation/{device}", cfg.RelayTopicTemplate)
	assert.Equal(t, 60*time.Second, cfg.Gates.MinOn)
	assert.Equal(t, 4*time.Hour, cfg.Gates.MaxOn)
	assert.Equal(t, 3, cfg.RelayPublishRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.RelayPublishRetryDelay)
	assert.Equal(t, "tomato", cfg.DefaultCrop)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, 6*time.Hour, cfg.WeatherCacheTTL)
}

func TestLoadControllerFromEnvironment(t *testing.T) {
	t.Setenv("MQTT_HOST", "broker.internal")
	t.Setenv("MQTT_PORT", "8883")
	t.Setenv("MIN_ON_MS", "120000")
	t.Setenv("MAX_ON_MS", "7200000")
	t.Setenv("DEFAULT_CROP", "maize")
	t.Setenv("RELAY_PUBLISH_RETRIES", "5")

	cfg := config.LoadController()

	assert.Equal(t, "broker.internal", cfg.MQTT.Host)
	assert.Equal(t, 8883, cfg.MQTT.Port)
	assert.Equal(t, 2*time.Minute, cfg.Gates.MinOn)
	assert.Equal(t, 2*time.Hour, cfg.Gates.MaxOn)
	assert.Equal(t, "maize", cfg.DefaultCrop)
	assert.Equal(t, 5, cfg.RelayPublishRetries)
}

func TestGateConfigNormalized(t *testing.T) {
	g := config.GateConfig{}.Normalized()
	assert.Equal(t, 60*time.Second, g.MinOn)
	assert.Equal(t, 30*time.Second, g.MinIntervalBetweenOn)
	assert.Equal(t, 5*time.Second, g.MinIntervalAfterOff)
	assert.Equal(t, 5*time.Second, g.MinIntervalBetweenOff)
	assert.Equal(t, 4*time.Hour, g.MaxOn)

	custom := config.GateConfig{MinOn: time.Second}.Normalized()
	assert.Equal(t, time.Second, custom.MinOn, "explicit values survive")
	assert.Equal(t, 4*time.Hour, custom.MaxOn)
}

func TestParseSimDevices(t *testing.T) {
	devices, err := config.ParseSimDevices("field1:tomato:43.61:3.87, field2:maize, field3")
	require.NoError(t, err)
	require.Len(t, devices, 3)

	assert.Equal(t, "field1", devices[0].DeviceID)
	assert.Equal(t, "tomato", devices[0].Crop)
	assert.InDelta(t, 43.61, devices[0].Lat, 1e-9)
	assert.InDelta(t, 3.87, devices[0].Lon, 1e-9)

	assert.Equal(t, "maize", devices[1].Crop)
	assert.Zero(t, devices[1].Lat, "coordinates are optional")

	assert.Equal(t, "field3", devices[2].DeviceID)
	assert.Empty(t, devices[2].Crop)
}

func TestParseSimDevicesRejectsGarbage(t *testing.T) {
	_, err := config.ParseSimDevices("")
	assert.Error(t, err)

	_, err = config.ParseSimDevices("field1:tomato:north:south")
	assert.Error(t, err)

	_, err = config.ParseSimDevices(":tomato")
	assert.Error(t, err)
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("X_STR", "value")
	t.Setenv("X_INT", "42")
	t.Setenv("X_FLOAT", "0,8") // comma decimals arrive from some locales
	t.Setenv("X_MS", "2500")
	t.Setenv("X_BAD_INT", "forty")

	assert.Equal(t, "value", config.EnvStr("X_STR", "def"))
	assert.Equal(t, "def", config.EnvStr("X_MISSING", "def"))
	assert.Equal(t, 42, config.EnvInt("X_INT", 0))
	assert.Equal(t, 7, config.EnvInt("X_BAD_INT", 7), "unparseable values fall back")
	assert.InDelta(t, 0.8, config.EnvFloat("X_FLOAT", 0), 1e-9)
	assert.Equal(t, 2500*time.Millisecond, config.EnvMS("X_MS", 0))
	assert.Equal(t, time.Second, config.EnvMS("X_MISSING", 1000))
}

func TestLoadSimulatorDefaults(t *testing.T) {
	cfg, err := config.LoadSimulator()
	require.NoError(t, err)

	assert.Len(t, cfg.Devices, 2)
	assert.Equal(t, "field1", cfg.Devices[0].DeviceID)
	assert.Equal(t, 15*time.Second, cfg.Interval)
	assert.InDelta(t, 33, cfg.StartSoilPct, 1e-9)
	assert.Equal(t, "telemetry/soil/{device}", cfg.TelemetryTopicTemplate)
}
