// Package eventlog persists the append-only irrigation audit trail on
// InfluxDB. Every decision cycle produces exactly one IrrigationEvent here,
// acted or not; records are write-once.
package eventlog

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"go.uber.org/zap"

	"github.com/agroflow/irrigation-controller/internal/config"
	"github.com/agroflow/irrigation-controller/internal/model/messages"
)

// Log is the append-only audit collaborator the controller writes to.
type Log interface {
	Append(ctx context.Context, evt messages.IrrigationEvent) error
	AppendStateChange(ctx context.Context, evt messages.StateChangeEvent) error
	Recent(ctx context.Context, deviceID string, limit int) ([]messages.IrrigationEvent, error)
	LastErrorAge() time.Duration
	Close()
}

// InfluxLog implements Log on a batched InfluxDB 2.x write API.
type InfluxLog struct {
	client influxdb2.Client
	writer *Writer
	org    string
	bucket string
	logger *zap.Logger
}

var _ Log = (*InfluxLog)(nil)

// NewInfluxLog connects the audit log to InfluxDB. Writes are batched; the
// wrapped Writer tracks asynchronous write errors for readiness reporting.
func NewInfluxLog(cfg config.InfluxConfig, batchSize uint, flushInterval time.Duration, logger *zap.Logger) *InfluxLog {
	if batchSize == 0 {
		batchSize = 10
	}
	if flushInterval <= 0 {
		flushInterval = 200 * time.Millisecond
	}
	opts := influxdb2.DefaultOptions().
		SetBatchSize(batchSize).
		SetFlushInterval(uint(flushInterval.Milliseconds()))
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)
	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)
	return &InfluxLog{
		client: client,
		writer: NewWriter(writeAPI, logger),
		org:    cfg.Org,
		bucket: cfg.Bucket,
		logger: logger,
	}
}

// Append queues one irrigation event for writing. Marshal problems surface
// immediately; transport errors are asynchronous and visible via LastErrorAge.
func (l *InfluxLog) Append(_ context.Context, evt messages.IrrigationEvent) error {
	p, err := irrigationEventPoint(evt)
	if err != nil {
		return fmt.Errorf("eventlog: encode event %s: %w", evt.EventID, err)
	}
	l.writer.WritePoint(p)
	l.writer.MarkIngest(string(evt.Action))
	return nil
}

// AppendStateChange archives an observed relay state change.
func (l *InfluxLog) AppendStateChange(_ context.Context, evt messages.StateChangeEvent) error {
	l.writer.WritePoint(stateChangePoint(evt))
	l.writer.MarkIngest("state_change")
	return nil
}

// LastErrorAge reports how long ago the last asynchronous write error happened.
func (l *InfluxLog) LastErrorAge() time.Duration { return l.writer.LastErrorAge() }

// Close flushes pending writes and releases the client.
func (l *InfluxLog) Close() {
	l.writer.Flush()
	l.client.Close()
}
