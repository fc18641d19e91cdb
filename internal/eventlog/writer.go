package eventlog

import (
	"sync"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"go.uber.org/zap"
)

// Writer wraps the asynchronous WriteAPI and tracks the last write error so
// /readyz can report event-log health.
type Writer struct {
	api     api.WriteAPI
	mu      sync.RWMutex
	lastErr time.Time
	counts  map[string]int64
}

// NewWriter starts draining the write API's error channel.
func NewWriter(w api.WriteAPI, logger *zap.Logger) *Writer {
	ww := &Writer{
		api:     w,
		lastErr: time.Now().Add(-24 * time.Hour),
		counts:  make(map[string]int64),
	}
	go func() {
		for err := range w.Errors() {
			if err != nil {
				ww.mu.Lock()
				ww.lastErr = time.Now()
				ww.mu.Unlock()
				logger.Warn("influx write error", zap.Error(err))
			}
		}
	}()
	return ww
}

// WritePoint queues a point on the batched API.
func (w *Writer) WritePoint(p *write.Point) {
	w.api.WritePoint(p)
}

// Flush forces pending batches out.
func (w *Writer) Flush() {
	w.api.Flush()
}

// LastErrorAge reports how long writes have been error-free.
func (w *Writer) LastErrorAge() time.Duration {
	if w == nil {
		return 99999 * time.Hour
	}
	w.mu.RLock()
	t := w.lastErr
	w.mu.RUnlock()
	return time.Since(t)
}

// MarkIngest bumps a per-kind counter. Debug aid, not a metric.
func (w *Writer) MarkIngest(kind string) {
	if w == nil {
		return
	}
	w.mu.Lock()
	w.counts[kind]++
	w.mu.Unlock()
}

// Count reads the counter for an event kind.
func (w *Writer) Count(kind string) int64 {
	if w == nil {
		return 0
	}
	w.mu.RLock()
	c := w.counts[kind]
	w.mu.RUnlock()
	return c
}
