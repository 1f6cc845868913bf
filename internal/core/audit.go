package core

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"
)

// EventPublisher fans audit events out to an external queue. Optional;
// the recorder works without one.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, message interface{}) error
}

// AuditRecorder appends OtaEvent facts. Appends are best-effort: a failed
// write is logged and counted but never propagated, so the state transition
// that triggered it stands.
type AuditRecorder struct {
	store     Repository
	publisher EventPublisher
	logger    *logrus.Logger
}

func NewAuditRecorder(store Repository, publisher EventPublisher, logger *logrus.Logger) *AuditRecorder {
	return &AuditRecorder{
		store:     store,
		publisher: publisher,
		logger:    logger,
	}
}

// Record appends one audit fact and, when a publisher is configured,
// mirrors it onto the audit queue.
func (a *AuditRecorder) Record(ctx context.Context, eventType, deviceID, firmwareVersion string, data map[string]interface{}) {
	event := &OtaEvent{
		EventType:       eventType,
		DeviceID:        deviceID,
		FirmwareVersion: firmwareVersion,
		CreatedAt:       time.Now(),
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err == nil {
			event.EventData = raw
		}
	}

	if err := a.store.AppendEvent(ctx, event); err != nil {
		metricAuditFailuresTotal.Inc()
		a.logger.WithError(err).WithFields(logrus.Fields{
			"event_type": eventType,
			"device_id":  deviceID,
		}).Warn("Failed to append audit event")
	} else {
		metricEventsTotal.WithLabelValues(eventType).Inc()
	}

	if a.publisher != nil {
		if err := a.publisher.Publish(ctx, eventType, event); err != nil {
			a.logger.WithError(err).WithField("event_type", eventType).
				Warn("Failed to publish audit event")
		}
	}
}
