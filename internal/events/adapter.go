package events

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"example.com/paku/services/ota/internal/core"
)

// Adapter translates decoded device events into state machine calls. It is
// registered as the message handler on the MQTT subscription.
type Adapter struct {
	attempts *core.UpdateAttemptService
	logger   *logrus.Logger
}

func NewAdapter(attempts *core.UpdateAttemptService, logger *logrus.Logger) *Adapter {
	return &Adapter{attempts: attempts, logger: logger}
}

// HandleMessage processes one broker message. An ignored message returns
// nil; only state machine failures surface as errors so the subscriber can
// count them.
func (a *Adapter) HandleMessage(ctx context.Context, topic string, payload []byte) error {
	switch ev := Decode(topic, payload).(type) {
	case AckEvent:
		return a.handleAck(ctx, ev)
	case ProgressEvent:
		return a.handleProgress(ctx, ev)
	case ResultEvent:
		return a.handleResult(ctx, ev)
	case IgnoredEvent:
		a.logger.WithFields(logrus.Fields{
			"topic":  ev.Topic,
			"reason": ev.Reason,
		}).Warn("Dropping unusable device message")
		return nil
	}
	return nil
}

func (a *Adapter) handleAck(ctx context.Context, ev AckEvent) error {
	_, err := a.attempts.StartAttempt(ctx, ev.DeviceID, ev.FirmwareVersion)
	return err
}

func (a *Adapter) handleProgress(ctx context.Context, ev ProgressEvent) error {
	percent := ev.Percent
	_, err := a.attempts.AdvanceStatus(ctx, ev.DeviceID, ev.FirmwareVersion,
		phaseStatus(ev.Phase), &percent, "")
	return err
}

func (a *Adapter) handleResult(ctx context.Context, ev ResultEvent) error {
	status := core.StatusFailed
	if ev.Success {
		status = core.StatusSuccess
	}
	_, err := a.attempts.AdvanceStatus(ctx, ev.DeviceID, ev.FirmwareVersion,
		status, nil, ev.Message)
	return err
}

// phaseStatus maps a device-reported phase label onto an update status.
// Unrecognized phases count as downloading, the earliest in-flight state.
func phaseStatus(phase string) string {
	p := strings.ToLower(phase)
	switch {
	case strings.Contains(p, "install"):
		return core.StatusInstalling
	case strings.Contains(p, "verify"):
		return core.StatusDownloaded
	default:
		return core.StatusDownloading
	}
}
