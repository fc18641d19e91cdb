package controller

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/agroflow/irrigation-controller/internal/model/messages"
	"github.com/agroflow/irrigation-controller/internal/observability"
	"github.com/agroflow/irrigation-controller/pkg/rabbitmq"
)

// relayEncodings is the fixed attempt order for every actuation.
var relayEncodings = []string{
	messages.EncodingPlain,
	messages.EncodingNumeric,
	messages.EncodingJSON,
}

// MQTTActuator delivers relay commands over MQTT, attempting every encoding
// independently of the others' outcomes.
type MQTTActuator struct {
	publisher  rabbitmq.IPublisher
	router     RelayRouter
	retries    int
	retryDelay time.Duration
	metrics    *observability.Metrics
	logger     *zap.Logger
	now        func() time.Time
}

var _ Actuator = (*MQTTActuator)(nil)

// NewMQTTActuator wires the actuator. retries is the total attempt count per
// encoding; values below 1 fall back to 3 attempts 500ms apart.
func NewMQTTActuator(publisher rabbitmq.IPublisher, router RelayRouter, retries int, retryDelay time.Duration, metrics *observability.Metrics, logger *zap.Logger) *MQTTActuator {
	if retries < 1 {
		retries = 3
	}
	if retryDelay <= 0 {
		retryDelay = 500 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MQTTActuator{
		publisher:  publisher,
		router:     router,
		retries:    retries,
		retryDelay: retryDelay,
		metrics:    metrics,
		logger:     logger,
		now:        time.Now,
	}
}

// Send publishes action to the device's relay topic in every encoding and
// reports which ones the broker confirmed. It never returns early: a failed
// encoding must not shadow a later one that would succeed.
func (a *MQTTActuator) Send(ctx context.Context, deviceID string, action messages.Action) messages.PublishReport {
	topic := a.router.Topic(deviceID)
	report := messages.PublishReport{Failed: map[string]string{}}

	for _, enc := range relayEncodings {
		payload, err := messages.EncodeRelayPayload(enc, deviceID, action, a.now())
		if err != nil {
			report.Failed[enc] = err.Error()
			a.metrics.EncodingResult(enc, false)
			continue
		}

		bo := backoff.WithContext(
			backoff.WithMaxRetries(backoff.NewConstantBackOff(a.retryDelay), uint64(a.retries-1)),
			ctx,
		)
		err = backoff.Retry(func() error {
			return a.publisher.PublishToQos(topic, 1, false, payload)
		}, bo)
		if err != nil {
			report.Failed[enc] = err.Error()
			a.metrics.EncodingResult(enc, false)
			a.logger.Warn("relay encoding delivery failed",
				zap.String("device", deviceID),
				zap.String("topic", topic),
				zap.String("encoding", enc),
				zap.Error(err))
			continue
		}
		report.Succeeded = append(report.Succeeded, enc)
		a.metrics.EncodingResult(enc, true)
	}

	if len(report.Failed) == 0 {
		report.Failed = nil
	}
	return report
}
