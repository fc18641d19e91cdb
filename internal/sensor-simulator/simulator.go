// Package sensor_simulator closes the control loop in development: it emits
// synthetic soil telemetry for configured devices and obeys the relay
// commands the controller publishes back.
package sensor_simulator

import (
	"context"
	"encoding/json"
	"math"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/agroflow/irrigation-controller/internal/config"
	"github.com/agroflow/irrigation-controller/internal/model/messages"
	"github.com/agroflow/irrigation-controller/pkg/dedup"
	"github.com/agroflow/irrigation-controller/pkg/rabbitmq"
)

const (
	dedupTTL        = 30 * time.Second
	stateChangeTmpl = "event/stateChange/{device}"
)

// deviceSim is one simulated field device: a soil probe plus the relay the
// controller drives.
type deviceSim struct {
	cfg config.SimDevice
	gen *Generator

	mu      sync.Mutex
	relayOn bool
	ticks   int
}

func (d *deviceSim) setRelay(on bool) (changed bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.relayOn == on {
		return false
	}
	d.relayOn = on
	return true
}

func (d *deviceSim) relay() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.relayOn
}

// Simulator drives every configured device on one shared ticker and one
// shared relay-command subscription.
type Simulator struct {
	devices   map[string]*deviceSim // keyed by device id
	byTopic   map[string]*deviceSim // keyed by relay command topic
	publisher rabbitmq.IPublisher
	consumer  rabbitmq.IConsumer[mqtt.Message]
	deduper   *dedup.Deduper

	telemetryTmpl string
	interval      time.Duration
	nullSoilEvery int

	logger *zap.Logger
	now    func() time.Time
}

// telemetryMsg is the wire shape the simulator emits. SoilPct stays a pointer
// so the occasional null reading is an explicit JSON null.
type telemetryMsg struct {
	DeviceID    string   `json:"device_id"`
	SoilPct     *float64 `json:"soil_pct"`
	Temperature float64  `json:"temperature"`
	Crop        string   `json:"crop,omitempty"`
	Lat         float64  `json:"lat,omitempty"`
	Lon         float64  `json:"lon,omitempty"`
	Timestamp   string   `json:"timestamp"`
}

// New builds the simulator. relayTopics must be parallel to cfg.Devices: the
// topic each device listens on for its commands.
func New(cfg config.SimulatorConfig, relayTopics []string, consumer rabbitmq.IConsumer[mqtt.Message], publisher rabbitmq.IPublisher, logger *zap.Logger) *Simulator {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Simulator{
		devices:       make(map[string]*deviceSim, len(cfg.Devices)),
		byTopic:       make(map[string]*deviceSim, len(cfg.Devices)),
		publisher:     publisher,
		consumer:      consumer,
		deduper:       dedup.New(dedupTTL, 10_000),
		telemetryTmpl: cfg.TelemetryTopicTemplate,
		interval:      cfg.Interval,
		nullSoilEvery: cfg.NullSoilEvery,
		logger:        logger,
		now:           time.Now,
	}
	for i, d := range cfg.Devices {
		sim := &deviceSim{cfg: d, gen: NewGenerator(cfg.StartSoilPct)}
		s.devices[d.DeviceID] = sim
		if i < len(relayTopics) {
			s.byTopic[relayTopics[i]] = sim
		}
	}
	return s
}

// Start seeds the generators, launches the command listener and then emits
// telemetry for every device each interval until ctx is cancelled.
func (s *Simulator) Start(ctx context.Context) {
	for id, dev := range s.devices {
		if err := dev.gen.SeedFromSoilGrids(ctx, dev.cfg.Lat, dev.cfg.Lon); err != nil {
			s.logger.Warn("soilgrids seed failed, keeping configured start value",
				zap.String("device", id), zap.Error(err))
		}
	}

	s.consumer.SetHandler(s.handleRelayCommand)
	go s.consumer.ConsumeMessage(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.publisher.Close()
			return
		case <-ticker.C:
			for _, dev := range s.devices {
				s.emit(dev)
			}
		}
	}
}

func (s *Simulator) emit(dev *deviceSim) {
	now := s.now()
	soil := dev.gen.Next(now, dev.relay())

	dev.mu.Lock()
	dev.ticks++
	dropSoil := s.nullSoilEvery > 0 && dev.ticks%s.nullSoilEvery == 0
	dev.mu.Unlock()

	msg := telemetryMsg{
		DeviceID:    dev.cfg.DeviceID,
		Temperature: simTemp(now),
		Crop:        dev.cfg.Crop,
		Lat:         dev.cfg.Lat,
		Lon:         dev.cfg.Lon,
		Timestamp:   now.UTC().Format(time.RFC3339),
	}
	if !dropSoil {
		msg.SoilPct = &soil
	}

	b, err := json.Marshal(msg)
	if err != nil {
		s.logger.Warn("telemetry marshal failed", zap.Error(err))
		return
	}
	topic := strings.NewReplacer("{device}", dev.cfg.DeviceID).Replace(s.telemetryTmpl)
	if err := s.publisher.PublishToQos(topic, 0, false, b); err != nil {
		s.logger.Warn("telemetry publish failed",
			zap.String("topic", topic), zap.Error(err))
		return
	}
	s.logger.Debug("telemetry published",
		zap.String("device", dev.cfg.DeviceID),
		zap.Float64("soil_pct", soil),
		zap.Bool("null_reading", dropSoil),
		zap.Bool("relay_on", dev.relay()))
}

// handleRelayCommand applies a relay command in whichever encoding it
// arrives. QoS 1 redeliveries carry identical payloads and are deduplicated.
func (s *Simulator) handleRelayCommand(topic string, msg mqtt.Message) error {
	if !s.deduper.ShouldProcess(dedup.Key(msg.Payload())) {
		return nil
	}

	dev, ok := s.byTopic[msg.Topic()]
	if !ok {
		dev, ok = s.byTopic[topic]
	}
	if !ok {
		s.logger.Warn("relay command for unknown topic", zap.String("topic", msg.Topic()))
		return nil
	}

	on, ok := messages.ParseRelayPayload(msg.Payload())
	if !ok {
		s.logger.Warn("undecodable relay command",
			zap.String("topic", msg.Topic()),
			zap.ByteString("payload", msg.Payload()))
		return nil
	}

	if !dev.setRelay(on) {
		return nil
	}
	s.logger.Info("relay switched",
		zap.String("device", dev.cfg.DeviceID), zap.Bool("on", on))
	s.publishStateChange(dev.cfg.DeviceID, on)
	return nil
}

func (s *Simulator) publishStateChange(deviceID string, on bool) {
	evt := messages.StateChangeEvent{
		DeviceID:   deviceID,
		RelayState: on,
		Source:     "simulator",
		Timestamp:  s.now().UTC(),
	}
	b, err := json.Marshal(evt)
	if err != nil {
		s.logger.Warn("state change marshal failed", zap.Error(err))
		return
	}
	topic := strings.NewReplacer("{device}", deviceID).Replace(stateChangeTmpl)
	if err := s.publisher.PublishToQos(topic, 1, false, b); err != nil {
		s.logger.Warn("state change publish failed",
			zap.String("topic", topic), zap.Error(err))
	}
}

// simTemp is a diurnal temperature curve: coolest near 05:00, warmest near
// 17:00, 18..30 degrees.
func simTemp(now time.Time) float64 {
	h := float64(now.Hour()) + float64(now.Minute())/60
	return 24 + 6*math.Sin((h-11)*math.Pi/12)
}
