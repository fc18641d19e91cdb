package controller

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/agroflow/irrigation-controller/internal/model/messages"
)

// WatchdogSweeper periodically forces OFF relays that exceeded the max-on
// window. The telemetry path applies the same rule, but a device whose sensor
// went silent would otherwise water forever.
type WatchdogSweeper struct {
	ctrl     *Controller
	interval time.Duration
	logger   *zap.Logger
}

func NewWatchdogSweeper(ctrl *Controller, interval time.Duration, logger *zap.Logger) *WatchdogSweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WatchdogSweeper{ctrl: ctrl, interval: interval, logger: logger}
}

func (w *WatchdogSweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.ctrl.SweepOnce(ctx)
		}
	}
}

// SweepOnce forces OFF every unlocked device whose relay has been on longer
// than MaxOn. Manually locked devices belong to the operator and are skipped.
func (c *Controller) SweepOnce(ctx context.Context) {
	states, err := c.repo.List(ctx)
	if err != nil {
		c.logger.Warn("watchdog sweep: listing device states failed", zap.Error(err))
		return
	}
	now := c.now()
	for _, st := range states {
		if !st.RelayState || st.ManualLock {
			continue
		}
		if st.SinceOn(now) <= c.gates.MaxOn {
			continue
		}
		c.sweepDevice(ctx, st.DeviceID)
	}
}

// sweepDevice re-checks under the device lock: a telemetry cycle may have
// switched the relay off between the List and now.
func (c *Controller) sweepDevice(ctx context.Context, deviceID string) {
	wallStart := time.Now()

	unlock := c.lockDevice(deviceID)
	defer unlock()

	st, err := c.repo.Get(ctx, deviceID)
	if err != nil {
		c.logger.Warn("watchdog sweep: state reload failed",
			zap.String("device", deviceID), zap.Error(err))
		return
	}
	now := c.now()
	if !st.RelayState || st.ManualLock || st.SinceOn(now) <= c.gates.MaxOn {
		return
	}

	c.logger.Warn("watchdog forcing relay off",
		zap.String("device", deviceID),
		zap.Duration("on_for", st.SinceOn(now)))

	thr := ComputeThresholds(nil, nil, c.crops.Resolve(c.defaultCrop))
	evt := c.newEvent(deviceID, thr, nil)
	c.commitAction(ctx, st, evt, messages.ActionOff, messages.ReasonWatchdogForcedOff, now)

	if err := c.repo.Save(ctx, st); err != nil {
		c.logger.Warn("watchdog sweep: state save failed",
			zap.String("device", deviceID), zap.Error(err))
	}
	c.appendAndPublish(ctx, evt)
	c.metrics.DecisionMade(string(evt.Action), evt.Reason, time.Since(wallStart))
}
