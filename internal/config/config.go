package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ControllerConfig carries everything the controller daemon needs, resolved
// from the environment with the documented defaults.
type ControllerConfig struct {
	MQTT MQTTConfig

	TelemetryTopic             string
	DecisionEventTopicTemplate string
	RelayTopicMap              string
	RelayTopicTemplate         string

	Gates GateConfig

	RelayPublishRetries    int
	RelayPublishRetryDelay time.Duration
	WatchdogSweepInterval  time.Duration

	StateDBPath string

	Influx InfluxConfig

	OWMAPIKey       string
	OWMBaseURL      string
	WeatherCacheTTL time.Duration

	CropProfileFile string
	DefaultCrop     string

	HTTPAddr   string
	StaleAfter time.Duration

	LogLevel  string
	LogFormat string
}

// MQTTConfig addresses the broker.
type MQTTConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	ClientID string
}

// GateConfig holds the interlock timing constants. All wall-clock.
type GateConfig struct {
	MinOn                 time.Duration
	MinIntervalBetweenOn  time.Duration
	MinIntervalAfterOff   time.Duration
	MinIntervalBetweenOff time.Duration
	MaxOn                 time.Duration
}

// Normalized fills unset gates with the shipped defaults so a zero-value
// GateConfig still interlocks sanely.
func (g GateConfig) Normalized() GateConfig {
	if g.MinOn <= 0 {
		g.MinOn = 60 * time.Second
	}
	if g.MinIntervalBetweenOn <= 0 {
		g.MinIntervalBetweenOn = 30 * time.Second
	}
	if g.MinIntervalAfterOff <= 0 {
		g.MinIntervalAfterOff = 5 * time.Second
	}
	if g.MinIntervalBetweenOff <= 0 {
		g.MinIntervalBetweenOff = 5 * time.Second
	}
	if g.MaxOn <= 0 {
		g.MaxOn = 4 * time.Hour
	}
	return g
}

// InfluxConfig addresses the event-log bucket.
type InfluxConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// LoadController resolves the controller configuration from the environment.
func LoadController() ControllerConfig {
	hostname := EnvStr("HOSTNAME", "local")
	return ControllerConfig{
		MQTT: MQTTConfig{
			Host:     EnvStr("MQTT_HOST", "localhost"),
			Port:     EnvInt("MQTT_PORT", 1883),
			User:     EnvStr("MQTT_USER", "guest"),
			Password: EnvStr("MQTT_PASSWORD", "guest"),
			ClientID: EnvStr("MQTT_CLIENT_ID", fmt.Sprintf("irrigation-controller-%s", hostname)),
		},
		TelemetryTopic:             EnvStr("TELEMETRY_TOPIC", "telemetry/soil/#"),
		DecisionEventTopicTemplate: EnvStr("DECISION_EVENT_TOPIC_TEMPLATE", "event/irrigationDecision/{device}"),
		RelayTopicMap:              EnvStr("RELAY_TOPIC_MAP", "field1=cmd/irrigation/zone1,field2=cmd/irrigation/zone2"),
		RelayTopicTemplate:         EnvStr("RELAY_TOPIC_TEMPLATE", "cmd/irrigation/{device}"),
		Gates: GateConfig{
			MinOn:                 EnvMS("MIN_ON_MS", 60_000),
			MinIntervalBetweenOn:  EnvMS("MIN_INTERVAL_BETWEEN_ON_MS", 30_000),
			MinIntervalAfterOff:   EnvMS("MIN_INTERVAL_AFTER_OFF_MS", 5_000),
			MinIntervalBetweenOff: EnvMS("MIN_INTERVAL_BETWEEN_OFF_MS", 5_000),
			MaxOn:                 EnvMS("MAX_ON_MS", 4*60*60*1000),
		},
		RelayPublishRetries:    EnvInt("RELAY_PUBLISH_RETRIES", 3),
		RelayPublishRetryDelay: EnvMS("RELAY_PUBLISH_RETRY_DELAY_MS", 500),
		WatchdogSweepInterval:  EnvMS("WATCHDOG_SWEEP_INTERVAL_MS", 60_000),
		StateDBPath:            EnvStr("STATE_DB_PATH", "./data/device-state.db"),
		Influx: InfluxConfig{
			URL:    EnvStr("INFLUX_URL", "http://localhost:8086"),
			Token:  EnvStr("INFLUX_TOKEN", ""),
			Org:    EnvStr("INFLUX_ORG", "agroflow"),
			Bucket: EnvStr("INFLUX_BUCKET", "irrigation_events"),
		},
		OWMAPIKey:       EnvStr("OWM_API_KEY", ""),
		OWMBaseURL:      EnvStr("OWM_BASE_URL", "https://api.openweathermap.org"),
		WeatherCacheTTL: EnvMS("WEATHER_CACHE_TTL_MS", 6*60*60*1000),
		CropProfileFile: EnvStr("CROP_PROFILE_FILE", ""),
		DefaultCrop:     EnvStr("DEFAULT_CROP", "tomato"),
		HTTPAddr:        EnvStr("HTTP_ADDR", ":8080"),
		StaleAfter:      EnvMS("STALE_AFTER_MS", 90_000),
		LogLevel:        EnvStr("LOG_LEVEL", "info"),
		LogFormat:       EnvStr("LOG_FORMAT", "json"),
	}
}

// SimulatorConfig carries the sensor-simulator settings.
type SimulatorConfig struct {
	MQTT MQTTConfig

	Devices                []SimDevice
	Interval               time.Duration
	StartSoilPct           float64
	NullSoilEvery          int
	TelemetryTopicTemplate string
	RelayTopicTemplate     string

	LogLevel  string
	LogFormat string
}

// SimDevice is one simulated device: "id:crop:lat:lon" in SIM_DEVICES.
type SimDevice struct {
	DeviceID string
	Crop     string
	Lat      float64
	Lon      float64
}

// LoadSimulator resolves the simulator configuration from the environment.
func LoadSimulator() (SimulatorConfig, error) {
	hostname := EnvStr("HOSTNAME", "local")
	devices, err := ParseSimDevices(EnvStr("SIM_DEVICES", "field1:tomato:43.61:3.87,field2:maize:43.62:3.88"))
	if err != nil {
		return SimulatorConfig{}, err
	}
	return SimulatorConfig{
		MQTT: MQTTConfig{
			Host:     EnvStr("MQTT_HOST", "localhost"),
			Port:     EnvInt("MQTT_PORT", 1883),
			User:     EnvStr("MQTT_USER", "guest"),
			Password: EnvStr("MQTT_PASSWORD", "guest"),
			ClientID: EnvStr("MQTT_CLIENT_ID", fmt.Sprintf("sensor-simulator-%s", hostname)),
		},
		Devices:                devices,
		Interval:               EnvMS("SIM_INTERVAL_MS", 15_000),
		StartSoilPct:           EnvFloat("SIM_START_SOIL_PCT", 33),
		NullSoilEvery:          EnvInt("SIM_NULL_SOIL_EVERY", 0),
		TelemetryTopicTemplate: EnvStr("TELEMETRY_TOPIC_TEMPLATE", "telemetry/soil/{device}"),
		RelayTopicTemplate:     EnvStr("RELAY_TOPIC_TEMPLATE", "cmd/irrigation/{device}"),
		LogLevel:               EnvStr("LOG_LEVEL", "info"),
		LogFormat:              EnvStr("LOG_FORMAT", "json"),
	}, nil
}

// ParseSimDevices parses "id:crop:lat:lon,id:crop:lat:lon". Crop may be empty;
// lat/lon may be omitted ("id:crop" or bare "id").
func ParseSimDevices(s string) ([]SimDevice, error) {
	var out []SimDevice
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.Split(part, ":")
		d := SimDevice{DeviceID: strings.TrimSpace(fields[0])}
		if d.DeviceID == "" {
			return nil, fmt.Errorf("config: empty device id in SIM_DEVICES entry %q", part)
		}
		if len(fields) > 1 {
			d.Crop = strings.TrimSpace(fields[1])
		}
		if len(fields) > 3 {
			lat, err1 := parseFloat(fields[2])
			lon, err2 := parseFloat(fields[3])
			if err1 != nil || err2 != nil {
				return nil, fmt.Errorf("config: bad coordinates in SIM_DEVICES entry %q", part)
			}
			d.Lat, d.Lon = lat, lon
		}
		out = append(out, d)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("config: SIM_DEVICES resolved to no devices")
	}
	return out, nil
}

// EnvStr returns the env value or def when unset/empty.
func EnvStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func EnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return i
		}
	}
	return def
}

// EnvFloat tolerates comma decimal separators ("0,8").
func EnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := parseFloat(v); err == nil {
			return f
		}
	}
	return def
}

// EnvMS reads a millisecond count into a Duration.
func EnvMS(key string, defMS int64) time.Duration {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil && i >= 0 {
			return time.Duration(i) * time.Millisecond
		}
	}
	return time.Duration(defMS) * time.Millisecond
}

func parseFloat(s string) (float64, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", ".")
	return strconv.ParseFloat(s, 64)
}
