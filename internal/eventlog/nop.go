package eventlog

import (
	"context"
	"time"

	"github.com/agroflow/irrigation-controller/internal/model/messages"
)

// Nop discards everything. Used when the controller boots without an Influx
// endpoint and as a test double.
type Nop struct{}

var _ Log = Nop{}

func (Nop) Append(context.Context, messages.IrrigationEvent) error { return nil }

func (Nop) AppendStateChange(context.Context, messages.StateChangeEvent) error { return nil }

func (Nop) Recent(context.Context, string, int) ([]messages.IrrigationEvent, error) {
	return nil, nil
}

func (Nop) LastErrorAge() time.Duration { return 99999 * time.Hour }

func (Nop) Close() {}
