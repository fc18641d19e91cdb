package controller_test

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agroflow/irrigation-controller/internal/config"
	"github.com/agroflow/irrigation-controller/internal/model/entities"
	"github.com/agroflow/irrigation-controller/internal/model/messages"
	"github.com/agroflow/irrigation-controller/internal/repository"
	"github.com/agroflow/irrigation-controller/internal/services/controller"
)

// fakeClock drives the interlock arithmetic deterministically.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 5, 12, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type actCall struct {
	deviceID string
	action   messages.Action
}

// fakeActuator confirms every encoding unless fail is set.
type fakeActuator struct {
	mu    sync.Mutex
	fail  bool
	calls []actCall
}

func (a *fakeActuator) Send(_ context.Context, deviceID string, action messages.Action) messages.PublishReport {
	a.mu.Lock()
	a.calls = append(a.calls, actCall{deviceID: deviceID, action: action})
	fail := a.fail
	a.mu.Unlock()
	if fail {
		return messages.PublishReport{Failed: map[string]string{
			"plain": "broker down", "numeric": "broker down", "json": "broker down",
		}}
	}
	return messages.PublishReport{Succeeded: []string{"plain", "numeric", "json"}}
}

func (a *fakeActuator) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.calls)
}

// memLog captures audit events in memory.
type memLog struct {
	mu      sync.Mutex
	errAge  time.Duration
	events  []messages.IrrigationEvent
	changes []messages.StateChangeEvent
}

func (l *memLog) Append(_ context.Context, evt messages.IrrigationEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, evt)
	return nil
}

func (l *memLog) AppendStateChange(_ context.Context, evt messages.StateChangeEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.changes = append(l.changes, evt)
	return nil
}

func (l *memLog) Recent(_ context.Context, deviceID string, limit int) ([]messages.IrrigationEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []messages.IrrigationEvent
	for i := len(l.events) - 1; i >= 0 && len(out) < limit; i-- {
		if l.events[i].DeviceID == deviceID {
			out = append(out, l.events[i])
		}
	}
	return out, nil
}

func (l *memLog) LastErrorAge() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.errAge > 0 {
		return l.errAge
	}
	return 99999 * time.Hour
}

func (l *memLog) Close() {}

func (l *memLog) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

func (l *memLog) last() messages.IrrigationEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.events[len(l.events)-1]
}

// fakePublisher records decision-event publishes.
type fakePublisher struct {
	mu       sync.Mutex
	topics   []string
	payloads [][]byte
}

func (p *fakePublisher) PublishMessage(msg interface{}) error {
	return p.PublishToQos("", 0, false, msg)
}

func (p *fakePublisher) PublishMessageQos(qos byte, retained bool, msg interface{}) error {
	return p.PublishToQos("", qos, retained, msg)
}

func (p *fakePublisher) PublishToQos(topic string, _ byte, _ bool, msg interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	switch m := msg.(type) {
	case []byte:
		p.payloads = append(p.payloads, m)
	case string:
		p.payloads = append(p.payloads, []byte(m))
	}
	return nil
}

func (p *fakePublisher) Close() {}

type testRig struct {
	ctrl  *controller.Controller
	repo  repository.DeviceStateRepository
	act   *fakeActuator
	log   *memLog
	pub   *fakePublisher
	clock *fakeClock
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	repo, err := repository.NewSQLiteDeviceStateRepository(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	act := &fakeActuator{}
	log := &memLog{}
	pub := &fakePublisher{}
	clock := newFakeClock()

	ctrl, err := controller.NewController(controller.Params{
		Publisher: pub,
		Actuator:  act,
		Repo:      repo,
		EventLog:  log,
		Gates:     config.GateConfig{},
		Now:       clock.Now,
	})
	require.NoError(t, err)

	return &testRig{ctrl: ctrl, repo: repo, act: act, log: log, pub: pub, clock: clock}
}

func telemetry(deviceID string, soil *float64) *messages.Telemetry {
	raw, _ := json.Marshal(map[string]any{"device_id": deviceID, "soil_pct": soil})
	return &messages.Telemetry{DeviceID: deviceID, SoilPct: soil, Raw: raw}
}

func (r *testRig) stage(t *testing.T, st *entities.DeviceState) {
	t.Helper()
	require.NoError(t, r.repo.Save(context.Background(), st))
}

func (r *testRig) state(t *testing.T, deviceID string) *entities.DeviceState {
	t.Helper()
	st, err := r.repo.Get(context.Background(), deviceID)
	require.NoError(t, err)
	return st
}

func TestTurnsOnWhenDry(t *testing.T) {
	rig := newTestRig(t)

	evt, err := rig.ctrl.ProcessTelemetry(context.Background(), telemetry("field1", f64(12)))
	require.NoError(t, err)

	assert.Equal(t, messages.ActionOn, evt.Action)
	assert.Equal(t, messages.ReasonSoilBelowOn, evt.Reason)
	assert.Equal(t, 30, evt.ThresholdOn)
	assert.Equal(t, 35, evt.ThresholdOff)
	assert.True(t, evt.RelayState)
	require.NotNil(t, evt.Publish)
	assert.True(t, evt.Publish.Committed())

	st := rig.state(t, "field1")
	assert.True(t, st.RelayState)
	assert.Equal(t, rig.clock.Now().UnixMilli(), st.LastOnTs)
	assert.Equal(t, 1, rig.act.callCount())
	assert.Equal(t, 1, rig.log.count())
}

func TestNoActionInsideBand(t *testing.T) {
	rig := newTestRig(t)

	evt, err := rig.ctrl.ProcessTelemetry(context.Background(), telemetry("field1", f64(32)))
	require.NoError(t, err)

	assert.Equal(t, messages.ActionRecommend, evt.Action)
	assert.Equal(t, messages.ReasonNoAction, evt.Reason)
	assert.Zero(t, rig.act.callCount())
	assert.False(t, rig.state(t, "field1").RelayState)
}

func TestRedeliveredTelemetryNoSecondTransition(t *testing.T) {
	rig := newTestRig(t)
	msg := telemetry("field1", f64(12))

	first, err := rig.ctrl.ProcessTelemetry(context.Background(), msg)
	require.NoError(t, err)
	require.Equal(t, messages.ActionOn, first.Action)

	rig.clock.Advance(time.Second)
	second, err := rig.ctrl.ProcessTelemetry(context.Background(), msg)
	require.NoError(t, err)

	assert.Equal(t, messages.ActionRecommend, second.Action)
	assert.Equal(t, messages.ReasonBlockedBetweenOn, second.Reason)
	assert.Equal(t, int64(29000), second.WaitRemainingMs)
	assert.Equal(t, 1, rig.act.callCount(), "redelivery must not actuate twice")
	assert.Equal(t, 2, rig.log.count(), "every cycle leaves an audit record")
}

func TestDryReadingPastBetweenOnWindow(t *testing.T) {
	rig := newTestRig(t)
	msg := telemetry("field1", f64(12))

	first, err := rig.ctrl.ProcessTelemetry(context.Background(), msg)
	require.NoError(t, err)
	require.Equal(t, messages.ActionOn, first.Action)
	onTs := rig.state(t, "field1").LastOnTs

	rig.clock.Advance(10 * time.Minute)
	evt, err := rig.ctrl.ProcessTelemetry(context.Background(), msg)
	require.NoError(t, err)

	assert.Equal(t, messages.ActionRecommend, evt.Action)
	assert.Equal(t, messages.ReasonNoAction, evt.Reason)
	assert.Equal(t, 1, rig.act.callCount())
	assert.Equal(t, onTs, rig.state(t, "field1").LastOnTs,
		"a still-dry reading must not restart the max-on clock")
}

func TestWetReadingAfterRecentStop(t *testing.T) {
	rig := newTestRig(t)
	now := rig.clock.Now()
	rig.stage(t, &entities.DeviceState{
		DeviceID:  "field1",
		LastOnTs:  now.Add(-10 * time.Minute).UnixMilli(),
		LastOffTs: now.Add(-2 * time.Second).UnixMilli(),
	})

	evt, err := rig.ctrl.ProcessTelemetry(context.Background(), telemetry("field1", f64(50)))
	require.NoError(t, err)

	assert.Equal(t, messages.ActionRecommend, evt.Action)
	assert.Equal(t, messages.ReasonBlockedBetweenOff, evt.Reason)
	assert.Equal(t, int64(3000), evt.WaitRemainingMs)
	assert.Zero(t, rig.act.callCount())
	assert.False(t, rig.state(t, "field1").RelayState)
}

func TestOnBlockedAfterRecentOff(t *testing.T) {
	rig := newTestRig(t)
	now := rig.clock.Now()
	rig.stage(t, &entities.DeviceState{
		DeviceID:  "field1",
		LastOnTs:  now.Add(-10 * time.Minute).UnixMilli(),
		LastOffTs: now.Add(-2 * time.Second).UnixMilli(),
	})

	evt, err := rig.ctrl.ProcessTelemetry(context.Background(), telemetry("field1", f64(12)))
	require.NoError(t, err)

	assert.Equal(t, messages.ActionRecommend, evt.Action)
	assert.Equal(t, messages.ReasonBlockedAfterOff, evt.Reason)
	assert.Equal(t, int64(3000), evt.WaitRemainingMs)
	assert.Zero(t, rig.act.callCount())
	assert.False(t, rig.state(t, "field1").RelayState)
}

func TestOnBlockedBetweenStarts(t *testing.T) {
	rig := newTestRig(t)
	now := rig.clock.Now()
	rig.stage(t, &entities.DeviceState{
		DeviceID:  "field1",
		LastOnTs:  now.Add(-10 * time.Second).UnixMilli(),
		LastOffTs: now.Add(-20 * time.Second).UnixMilli(),
	})

	evt, err := rig.ctrl.ProcessTelemetry(context.Background(), telemetry("field1", f64(12)))
	require.NoError(t, err)

	assert.Equal(t, messages.ReasonBlockedBetweenOn, evt.Reason)
	assert.Equal(t, int64(20000), evt.WaitRemainingMs)
	assert.Zero(t, rig.act.callCount())
}

func TestOffBlockedByMinOn(t *testing.T) {
	rig := newTestRig(t)
	now := rig.clock.Now()
	rig.stage(t, &entities.DeviceState{
		DeviceID:   "field1",
		RelayState: true,
		LastOnTs:   now.Add(-30 * time.Second).UnixMilli(),
	})

	evt, err := rig.ctrl.ProcessTelemetry(context.Background(), telemetry("field1", f64(50)))
	require.NoError(t, err)

	assert.Equal(t, messages.ReasonBlockedMinOn, evt.Reason)
	assert.Equal(t, int64(30000), evt.WaitRemainingMs)
	assert.True(t, rig.state(t, "field1").RelayState, "relay keeps running")
}

func TestOffBlockedBetweenStops(t *testing.T) {
	rig := newTestRig(t)
	now := rig.clock.Now()
	rig.stage(t, &entities.DeviceState{
		DeviceID:   "field1",
		RelayState: true,
		LastOnTs:   now.Add(-2 * time.Minute).UnixMilli(),
		LastOffTs:  now.Add(-2 * time.Second).UnixMilli(),
	})

	evt, err := rig.ctrl.ProcessTelemetry(context.Background(), telemetry("field1", f64(50)))
	require.NoError(t, err)

	assert.Equal(t, messages.ReasonBlockedBetweenOff, evt.Reason)
	assert.Equal(t, int64(3000), evt.WaitRemainingMs)
}

func TestTurnsOffWhenWet(t *testing.T) {
	rig := newTestRig(t)
	now := rig.clock.Now()
	rig.stage(t, &entities.DeviceState{
		DeviceID:   "field1",
		RelayState: true,
		LastOnTs:   now.Add(-2 * time.Minute).UnixMilli(),
		LastOffTs:  now.Add(-10 * time.Minute).UnixMilli(),
	})

	evt, err := rig.ctrl.ProcessTelemetry(context.Background(), telemetry("field1", f64(50)))
	require.NoError(t, err)

	assert.Equal(t, messages.ActionOff, evt.Action)
	assert.Equal(t, messages.ReasonSoilAboveOff, evt.Reason)
	st := rig.state(t, "field1")
	assert.False(t, st.RelayState)
	assert.Equal(t, rig.clock.Now().UnixMilli(), st.LastOffTs)
}

func TestWatchdogPrecedesSoilEvaluation(t *testing.T) {
	rig := newTestRig(t)
	now := rig.clock.Now()
	rig.stage(t, &entities.DeviceState{
		DeviceID:   "field1",
		RelayState: true,
		LastOnTs:   now.Add(-5 * time.Hour).UnixMilli(),
		LastOffTs:  now.Add(-1 * time.Second).UnixMilli(), // would block a normal OFF
	})

	// Nil soil: the watchdog must fire before the numeric-soil check.
	evt, err := rig.ctrl.ProcessTelemetry(context.Background(), telemetry("field1", nil))
	require.NoError(t, err)

	assert.Equal(t, messages.ActionOff, evt.Action)
	assert.Equal(t, messages.ReasonWatchdogForcedOff, evt.Reason)
	assert.False(t, rig.state(t, "field1").RelayState)
}

func TestManualLockSkipsEverything(t *testing.T) {
	rig := newTestRig(t)
	now := rig.clock.Now()
	rig.stage(t, &entities.DeviceState{
		DeviceID:   "field1",
		RelayState: true,
		ManualLock: true,
		LastOnTs:   now.Add(-5 * time.Hour).UnixMilli(), // even the watchdog
	})

	evt, err := rig.ctrl.ProcessTelemetry(context.Background(), telemetry("field1", f64(50)))
	require.NoError(t, err)

	assert.Equal(t, messages.ActionRecommend, evt.Action)
	assert.Equal(t, messages.ReasonManualLock, evt.Reason)
	assert.Zero(t, rig.act.callCount())
	assert.True(t, rig.state(t, "field1").RelayState)
}

func TestNilSoilRecommends(t *testing.T) {
	rig := newTestRig(t)

	evt, err := rig.ctrl.ProcessTelemetry(context.Background(), telemetry("field1", nil))
	require.NoError(t, err)

	assert.Equal(t, messages.ActionRecommend, evt.Action)
	assert.Equal(t, messages.ReasonNoNumericSoil, evt.Reason)
	assert.Nil(t, evt.SoilPct)

	// The telemetry snapshot still refreshes on degraded cycles.
	st := rig.state(t, "field1")
	assert.Contains(t, st.LastTelemetry, "field1")
}

func TestPublishFailureLeavesStateUntouched(t *testing.T) {
	rig := newTestRig(t)
	rig.act.fail = true

	evt, err := rig.ctrl.ProcessTelemetry(context.Background(), telemetry("field1", f64(12)))
	require.NoError(t, err)

	assert.Equal(t, messages.ActionRecommend, evt.Action)
	assert.Equal(t, messages.ReasonPublishFailed, evt.Reason)
	require.NotNil(t, evt.Publish)
	assert.False(t, evt.Publish.Committed())

	st := rig.state(t, "field1")
	assert.False(t, st.RelayState, "state must never claim an unconfirmed transition")
	assert.Zero(t, st.LastOnTs)
	assert.NotEmpty(t, st.LastTelemetry)
}

func TestForceBypassesLockAndGates(t *testing.T) {
	rig := newTestRig(t)
	now := rig.clock.Now()
	rig.stage(t, &entities.DeviceState{
		DeviceID:   "field1",
		ManualLock: true,
		LastOffTs:  now.Add(-1 * time.Second).UnixMilli(), // would block a normal ON
	})

	evt, err := rig.ctrl.ForceAction(context.Background(), "field1", true)
	require.NoError(t, err)

	assert.Equal(t, messages.ActionForceOn, evt.Action)
	assert.Equal(t, messages.ReasonForcedOn, evt.Reason)
	st := rig.state(t, "field1")
	assert.True(t, st.RelayState)
	assert.Equal(t, now.UnixMilli(), st.LastOnTs)

	evt, err = rig.ctrl.ForceAction(context.Background(), "field1", false)
	require.NoError(t, err)
	assert.Equal(t, messages.ActionForceOff, evt.Action)
	assert.Equal(t, messages.ReasonForcedOff, evt.Reason)
	assert.False(t, rig.state(t, "field1").RelayState)
}

func TestDecisionEventPublished(t *testing.T) {
	rig := newTestRig(t)

	_, err := rig.ctrl.ProcessTelemetry(context.Background(), telemetry("field1", f64(12)))
	require.NoError(t, err)

	rig.pub.mu.Lock()
	defer rig.pub.mu.Unlock()
	require.Len(t, rig.pub.topics, 1)
	assert.Equal(t, "event/irrigationDecision/field1", rig.pub.topics[0])

	var evt messages.IrrigationEvent
	require.NoError(t, json.Unmarshal(rig.pub.payloads[0], &evt))
	assert.Equal(t, "field1", evt.DeviceID)
	assert.Equal(t, messages.ActionOn, evt.Action)
	assert.NotEmpty(t, evt.EventID)
}

func TestCropFromTelemetrySelectsProfile(t *testing.T) {
	rig := newTestRig(t)
	msg := telemetry("field2", f64(50))
	msg.Crop = "lettuce"

	evt, err := rig.ctrl.ProcessTelemetry(context.Background(), msg)
	require.NoError(t, err)

	assert.Equal(t, 30, evt.ThresholdOn)
	assert.Equal(t, 34, evt.ThresholdOff, "lettuce hysteresis is 4 points")
	assert.Equal(t, "lettuce", evt.Details.Crop.Name)
}

func TestSweepForcesOffLongRunningRelays(t *testing.T) {
	rig := newTestRig(t)
	now := rig.clock.Now()
	rig.stage(t, &entities.DeviceState{
		DeviceID:   "stuck",
		RelayState: true,
		LastOnTs:   now.Add(-5 * time.Hour).UnixMilli(),
	})
	rig.stage(t, &entities.DeviceState{
		DeviceID:   "locked",
		RelayState: true,
		ManualLock: true,
		LastOnTs:   now.Add(-5 * time.Hour).UnixMilli(),
	})
	rig.stage(t, &entities.DeviceState{
		DeviceID:   "fresh",
		RelayState: true,
		LastOnTs:   now.Add(-10 * time.Minute).UnixMilli(),
	})

	rig.ctrl.SweepOnce(context.Background())

	assert.False(t, rig.state(t, "stuck").RelayState)
	assert.True(t, rig.state(t, "locked").RelayState, "operator owns locked devices")
	assert.True(t, rig.state(t, "fresh").RelayState)

	require.Equal(t, 1, rig.log.count())
	evt := rig.log.last()
	assert.Equal(t, "stuck", evt.DeviceID)
	assert.Equal(t, messages.ReasonWatchdogForcedOff, evt.Reason)
	assert.True(t, strings.HasPrefix(rig.pub.topics[0], "event/irrigationDecision/"))
}

func TestConcurrentCyclesDistinctDevices(t *testing.T) {
	rig := newTestRig(t)

	var wg sync.WaitGroup
	for _, id := range []string{"a", "b", "c", "d"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for i := 0; i < 5; i++ {
				_, err := rig.ctrl.ProcessTelemetry(context.Background(), telemetry(id, f64(12)))
				assert.NoError(t, err)
			}
		}(id)
	}
	wg.Wait()

	// One committed ON per device; the re-deliveries only add audit records.
	for _, id := range []string{"a", "b", "c", "d"} {
		assert.True(t, rig.state(t, id).RelayState)
	}
	assert.Equal(t, 20, rig.log.count())
}
