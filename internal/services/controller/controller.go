// Package controller implements the irrigation decision engine: it consumes
// soil telemetry, computes a crop-specific moisture band, walks the relay
// state machine under per-device interlocks and emits exactly one audit event
// per cycle.
package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agroflow/irrigation-controller/internal/config"
	"github.com/agroflow/irrigation-controller/internal/eventlog"
	"github.com/agroflow/irrigation-controller/internal/model/entities"
	"github.com/agroflow/irrigation-controller/internal/model/messages"
	"github.com/agroflow/irrigation-controller/internal/observability"
	"github.com/agroflow/irrigation-controller/internal/repository"
	"github.com/agroflow/irrigation-controller/pkg/rabbitmq"
)

const forecastTimeout = 5 * time.Second

// Actuator delivers a relay command to a device and reports which encodings
// were confirmed by the broker.
type Actuator interface {
	Send(ctx context.Context, deviceID string, action messages.Action) messages.PublishReport
}

// WeatherClient supplies a best-effort forecast. Implementations may cache or
// open-circuit; the controller degrades to defaults on any error.
type WeatherClient interface {
	Forecast(ctx context.Context, lat, lon float64) (*entities.ForecastSnapshot, error)
}

// Params collects the controller's collaborators. Consumer, Weather, Metrics,
// Liveness and Now are optional; everything else is required.
type Params struct {
	Consumer  rabbitmq.IConsumer[messages.Telemetry]
	Publisher rabbitmq.IPublisher
	Actuator  Actuator
	Repo      repository.DeviceStateRepository
	EventLog  eventlog.Log
	Weather   WeatherClient
	Crops     *CropResolver
	Liveness  *Liveness
	Metrics   *observability.Metrics
	Logger    *zap.Logger

	Gates                 config.GateConfig
	DecisionTopicTemplate string
	DefaultCrop           string

	// Now overrides the wall clock for interlock arithmetic.
	Now func() time.Time
}

// Controller owns the per-device relay state machine.
type Controller struct {
	consumer     rabbitmq.IConsumer[messages.Telemetry]
	stateChanges rabbitmq.IConsumer[messages.StateChangeEvent]
	publisher    rabbitmq.IPublisher
	actuator     Actuator
	repo         repository.DeviceStateRepository
	log          eventlog.Log
	weather      WeatherClient
	crops        *CropResolver
	liveness     *Liveness
	metrics      *observability.Metrics
	logger       *zap.Logger

	gates             config.GateConfig
	decisionTopicTmpl string
	defaultCrop       string

	now func() time.Time

	// devLocks serializes the read-decide-actuate-write cycle per device.
	// Distinct devices proceed concurrently.
	devMu    sync.Mutex
	devLocks map[string]*sync.Mutex
}

func NewController(p Params) (*Controller, error) {
	if p.Actuator == nil {
		return nil, errors.New("controller: nil actuator")
	}
	if p.Repo == nil {
		return nil, errors.New("controller: nil device state repository")
	}
	if p.EventLog == nil {
		return nil, errors.New("controller: nil event log")
	}
	if p.Logger == nil {
		p.Logger = zap.NewNop()
	}
	if p.Crops == nil {
		p.Crops = NewBuiltinCropResolver(p.DefaultCrop)
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	if p.DecisionTopicTemplate == "" {
		p.DecisionTopicTemplate = "event/irrigationDecision/{device}"
	}
	if p.DefaultCrop == "" {
		p.DefaultCrop = entities.DefaultCropName
	}

	ctrl := &Controller{
		consumer:          p.Consumer,
		publisher:         p.Publisher,
		actuator:          p.Actuator,
		repo:              p.Repo,
		log:               p.EventLog,
		weather:           p.Weather,
		crops:             p.Crops,
		liveness:          p.Liveness,
		metrics:           p.Metrics,
		logger:            p.Logger,
		gates:             p.Gates.Normalized(),
		decisionTopicTmpl: p.DecisionTopicTemplate,
		defaultCrop:       p.DefaultCrop,
		now:               p.Now,
		devLocks:          make(map[string]*sync.Mutex),
	}
	if ctrl.consumer != nil {
		ctrl.consumer.SetHandler(ctrl.handleTelemetry)
	}
	return ctrl, nil
}

// AttachStateChangeConsumer archives device-reported relay transitions next
// to the commanded ones.
func (c *Controller) AttachStateChangeConsumer(consumer rabbitmq.IConsumer[messages.StateChangeEvent]) {
	consumer.SetHandler(func(topic string, m mqtt.Message) error {
		var evt messages.StateChangeEvent
		if err := json.Unmarshal(m.Payload(), &evt); err != nil {
			c.logger.Warn("dropping malformed state change",
				zap.String("topic", topic), zap.Error(err))
			return nil
		}
		if err := c.log.AppendStateChange(context.Background(), evt); err != nil {
			c.metrics.EventlogError()
			c.logger.Warn("state change append failed",
				zap.String("device", evt.DeviceID), zap.Error(err))
		}
		return nil
	})
	c.stateChanges = consumer
}

// Start launches the attached consumers and returns. They stop when ctx is
// cancelled.
func (c *Controller) Start(ctx context.Context) {
	if c.consumer != nil {
		go c.consumer.ConsumeMessage(ctx)
	}
	if c.stateChanges != nil {
		go c.stateChanges.ConsumeMessage(ctx)
	}
}

// handleTelemetry is the MQTT callback. Malformed payloads are dropped with a
// warning rather than surfaced as handler errors.
func (c *Controller) handleTelemetry(topic string, msg mqtt.Message) error {
	t, err := messages.ParseTelemetry(msg.Payload())
	if err != nil {
		c.metrics.TelemetrySeen("malformed")
		c.logger.Warn("dropping malformed telemetry",
			zap.String("topic", topic), zap.Error(err))
		return nil
	}
	c.metrics.TelemetrySeen("ok")
	c.liveness.Touch(t.DeviceID, c.now())

	if _, err := c.ProcessTelemetry(context.Background(), t); err != nil {
		c.logger.Warn("telemetry cycle failed",
			zap.String("device", t.DeviceID), zap.Error(err))
	}
	return nil
}

// ProcessTelemetry runs one full decision cycle for a telemetry event and
// returns the audit event it produced. Every call produces exactly one event,
// including blocked and degraded cycles.
func (c *Controller) ProcessTelemetry(ctx context.Context, t *messages.Telemetry) (*messages.IrrigationEvent, error) {
	if t == nil || t.DeviceID == "" {
		return nil, errors.New("controller: telemetry without device id")
	}
	wallStart := time.Now()

	unlock := c.lockDevice(t.DeviceID)
	defer unlock()

	state, err := c.repo.Ensure(ctx, t.DeviceID)
	if err != nil {
		// Persistence outage degrades to a fresh in-memory state; interlocks
		// then run on zero timestamps.
		c.logger.Warn("state load failed, using fresh state",
			zap.String("device", t.DeviceID), zap.Error(err))
		state = entities.NewDeviceState(t.DeviceID)
	}

	profile := c.crops.Resolve(firstNonEmpty(t.Crop, c.defaultCrop))
	forecast := c.fetchForecast(ctx, t)
	thr := ComputeThresholds(t, forecast, profile)

	now := c.now()
	evt := c.newEvent(t.DeviceID, thr, t)
	evt.Forecast = forecast
	c.evaluate(ctx, t, state, thr, evt, now)

	// The telemetry snapshot is observational and refreshes on every cycle,
	// committed or not.
	state.LastTelemetry = string(t.Raw)
	if err := c.repo.Save(ctx, state); err != nil {
		c.logger.Warn("state save failed, gating may reuse stale timestamps",
			zap.String("device", t.DeviceID), zap.Error(err))
	}

	c.appendAndPublish(ctx, evt)
	c.metrics.DecisionMade(string(evt.Action), evt.Reason, time.Since(wallStart))
	return evt, nil
}

// evaluate walks the decision table in priority order: manual lock, watchdog,
// numeric-soil check, ON evaluation, OFF evaluation, no-action. It mutates
// state only through commitAction.
func (c *Controller) evaluate(ctx context.Context, t *messages.Telemetry, st *entities.DeviceState, thr messages.ThresholdResult, evt *messages.IrrigationEvent, now time.Time) {
	if st.ManualLock {
		recommend(evt, st, messages.ReasonManualLock)
		return
	}

	if st.RelayState && st.SinceOn(now) > c.gates.MaxOn {
		c.commitAction(ctx, st, evt, messages.ActionOff, messages.ReasonWatchdogForcedOff, now)
		return
	}

	if t.SoilPct == nil {
		recommend(evt, st, messages.ReasonNoNumericSoil)
		return
	}
	soil := *t.SoilPct

	if soil <= float64(thr.ThresholdOn) {
		if st.RelayState {
			// Already watering: a re-delivered dry reading would duplicate
			// the ON command, which the between-on window rate-limits.
			if wait := c.gates.MinIntervalBetweenOn - st.SinceOn(now); wait > 0 {
				blocked(evt, st, messages.ReasonBlockedBetweenOn, wait)
				return
			}
			recommend(evt, st, messages.ReasonNoAction)
			return
		}
		// The relevant cool-down depends on which edge happened last.
		if st.LastOffTs > st.LastOnTs {
			if wait := c.gates.MinIntervalAfterOff - st.SinceOff(now); wait > 0 {
				blocked(evt, st, messages.ReasonBlockedAfterOff, wait)
				return
			}
		} else if st.LastOnTs > 0 {
			if wait := c.gates.MinIntervalBetweenOn - st.SinceOn(now); wait > 0 {
				blocked(evt, st, messages.ReasonBlockedBetweenOn, wait)
				return
			}
		}
		c.commitAction(ctx, st, evt, messages.ActionOn, messages.ReasonSoilBelowOn, now)
		return
	}

	if soil >= float64(thr.ThresholdOff) {
		if !st.RelayState {
			// Already off: duplicate OFF commands are rate-limited the same
			// way by the between-off window.
			if st.LastOffTs > 0 {
				if wait := c.gates.MinIntervalBetweenOff - st.SinceOff(now); wait > 0 {
					blocked(evt, st, messages.ReasonBlockedBetweenOff, wait)
					return
				}
			}
			recommend(evt, st, messages.ReasonNoAction)
			return
		}
		if wait := c.gates.MinOn - st.SinceOn(now); wait > 0 {
			blocked(evt, st, messages.ReasonBlockedMinOn, wait)
			return
		}
		if st.LastOffTs > 0 {
			if wait := c.gates.MinIntervalBetweenOff - st.SinceOff(now); wait > 0 {
				blocked(evt, st, messages.ReasonBlockedBetweenOff, wait)
				return
			}
		}
		c.commitAction(ctx, st, evt, messages.ActionOff, messages.ReasonSoilAboveOff, now)
		return
	}

	recommend(evt, st, messages.ReasonNoAction)
}

// commitAction actuates and, only on confirmed delivery, transitions the
// state machine. An all-encodings failure leaves state untouched and
// downgrades the event to a publish-failure RECOMMEND.
func (c *Controller) commitAction(ctx context.Context, st *entities.DeviceState, evt *messages.IrrigationEvent, action messages.Action, reason string, now time.Time) {
	report := c.actuator.Send(ctx, st.DeviceID, action)
	evt.Publish = &report
	if !report.Committed() {
		evt.Action = messages.ActionRecommend
		evt.Reason = messages.ReasonPublishFailed
		evt.RelayState = st.RelayState
		return
	}

	on := action == messages.ActionOn || action == messages.ActionForceOn
	ms := now.UnixMilli()
	st.RelayState = on
	st.LastActionTs = ms
	if on {
		st.LastOnTs = ms
	} else {
		st.LastOffTs = ms
	}

	evt.Action = action
	evt.Reason = reason
	evt.RelayState = on
	c.metrics.SetRelayState(st.DeviceID, on)
}

// ForceAction bypasses every gate, including the manual lock, and drives the
// relay directly. Used by the operator API.
func (c *Controller) ForceAction(ctx context.Context, deviceID string, on bool) (*messages.IrrigationEvent, error) {
	if deviceID == "" {
		return nil, errors.New("controller: force without device id")
	}
	wallStart := time.Now()

	unlock := c.lockDevice(deviceID)
	defer unlock()

	state, err := c.repo.Ensure(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("controller: load state for %s: %w", deviceID, err)
	}

	action, reason := messages.ActionForceOff, messages.ReasonForcedOff
	if on {
		action, reason = messages.ActionForceOn, messages.ReasonForcedOn
	}

	now := c.now()
	thr := ComputeThresholds(nil, nil, c.crops.Resolve(c.defaultCrop))
	evt := c.newEvent(deviceID, thr, nil)
	c.commitAction(ctx, state, evt, action, reason, now)

	if err := c.repo.Save(ctx, state); err != nil {
		c.logger.Warn("state save failed after force",
			zap.String("device", deviceID), zap.Error(err))
	}
	c.appendAndPublish(ctx, evt)
	c.metrics.DecisionMade(string(evt.Action), evt.Reason, time.Since(wallStart))
	return evt, nil
}

func (c *Controller) newEvent(deviceID string, thr messages.ThresholdResult, t *messages.Telemetry) *messages.IrrigationEvent {
	evt := &messages.IrrigationEvent{
		EventID:      uuid.NewString(),
		DeviceID:     deviceID,
		ThresholdOn:  thr.ThresholdOn,
		ThresholdOff: thr.ThresholdOff,
		Details:      &thr.Details,
		Timestamp:    c.now().UTC(),
	}
	if t != nil {
		evt.SoilPct = t.SoilPct
		evt.Telemetry = t.Raw
	}
	return evt
}

// appendAndPublish records the audit event and mirrors it to the decision
// topic. Both sinks are best-effort: losing an audit record must not stall
// the control loop.
func (c *Controller) appendAndPublish(ctx context.Context, evt *messages.IrrigationEvent) {
	if err := c.log.Append(ctx, *evt); err != nil {
		c.metrics.EventlogError()
		c.logger.Warn("event log append failed",
			zap.String("device", evt.DeviceID), zap.Error(err))
	}
	if c.publisher == nil {
		return
	}
	b, err := json.Marshal(evt)
	if err != nil {
		c.logger.Warn("decision event marshal failed", zap.Error(err))
		return
	}
	topic := strings.NewReplacer("{device}", evt.DeviceID).Replace(c.decisionTopicTmpl)
	if err := c.publisher.PublishToQos(topic, 1, false, string(b)); err != nil {
		c.logger.Warn("decision publish failed",
			zap.String("topic", topic), zap.Error(err))
	}
}

func (c *Controller) fetchForecast(ctx context.Context, t *messages.Telemetry) *entities.ForecastSnapshot {
	if c.weather == nil || t.Lat == nil || t.Lon == nil {
		return nil
	}
	fctx, cancel := context.WithTimeout(ctx, forecastTimeout)
	defer cancel()
	f, err := c.weather.Forecast(fctx, *t.Lat, *t.Lon)
	if err != nil {
		c.logger.Warn("forecast unavailable",
			zap.String("device", t.DeviceID), zap.Error(err))
		return nil
	}
	return f
}

func (c *Controller) lockDevice(deviceID string) func() {
	c.devMu.Lock()
	mu, ok := c.devLocks[deviceID]
	if !ok {
		mu = &sync.Mutex{}
		c.devLocks[deviceID] = mu
	}
	c.devMu.Unlock()
	mu.Lock()
	return mu.Unlock
}

func recommend(evt *messages.IrrigationEvent, st *entities.DeviceState, reason string) {
	evt.Action = messages.ActionRecommend
	evt.Reason = reason
	evt.RelayState = st.RelayState
}

func blocked(evt *messages.IrrigationEvent, st *entities.DeviceState, reason string, wait time.Duration) {
	recommend(evt, st, reason)
	ms := wait.Milliseconds()
	if ms <= 0 {
		ms = 1
	}
	evt.WaitRemainingMs = ms
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
