// Package events decodes device-originated OTA messages from the broker
// and applies them to the update attempt state machine.
package events

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Topic layout: {site}/edge/{device_id}/ota/{kind} where kind is one of
// status, progress or result.
const (
	KindStatus   = "status"
	KindProgress = "progress"
	KindResult   = "result"
)

// Event is a decoded device message. Concrete types carry the per-kind
// payload.
type Event interface {
	Device() string
}

// AckEvent is the device acknowledging that it will apply an update.
type AckEvent struct {
	DeviceID        string
	FirmwareVersion string
}

func (e AckEvent) Device() string { return e.DeviceID }

// ProgressEvent is a mid-flight progress report.
type ProgressEvent struct {
	DeviceID        string
	FirmwareVersion string
	Percent         int
	Phase           string
}

func (e ProgressEvent) Device() string { return e.DeviceID }

// ResultEvent is the device's terminal verdict for an update.
type ResultEvent struct {
	DeviceID        string
	FirmwareVersion string
	Success         bool
	Message         string
}

func (e ResultEvent) Device() string { return e.DeviceID }

// IgnoredEvent marks a message that was structurally unusable. The reason
// is kept for logging; the adapter drops these without failing the stream.
type IgnoredEvent struct {
	Topic  string
	Reason string
}

func (e IgnoredEvent) Device() string { return "" }

type ackPayload struct {
	FirmwareVersion string `json:"firmware_version"`
}

type progressPayload struct {
	FirmwareVersion string `json:"firmware_version"`
	Percent         int    `json:"percent"`
	Phase           string `json:"phase"`
}

type resultPayload struct {
	FirmwareVersion string `json:"firmware_version"`
	Success         bool   `json:"success"`
	Message         string `json:"message"`
}

// Decode parses one broker message into an Event. Malformed topics and
// undecodable payloads come back as IgnoredEvent, never an error: a bad
// message must not wedge the subscription.
func Decode(topic string, payload []byte) Event {
	parts := strings.Split(topic, "/")
	if len(parts) != 5 || parts[1] != "edge" || parts[3] != "ota" {
		return IgnoredEvent{Topic: topic, Reason: "unrecognized topic shape"}
	}
	deviceID := parts[2]
	if deviceID == "" {
		return IgnoredEvent{Topic: topic, Reason: "empty device id"}
	}

	switch parts[4] {
	case KindStatus:
		var p ackPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return IgnoredEvent{Topic: topic, Reason: fmt.Sprintf("bad ack payload: %v", err)}
		}
		if p.FirmwareVersion == "" {
			return IgnoredEvent{Topic: topic, Reason: "ack missing firmware_version"}
		}
		return AckEvent{DeviceID: deviceID, FirmwareVersion: p.FirmwareVersion}

	case KindProgress:
		var p progressPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return IgnoredEvent{Topic: topic, Reason: fmt.Sprintf("bad progress payload: %v", err)}
		}
		return ProgressEvent{
			DeviceID:        deviceID,
			FirmwareVersion: p.FirmwareVersion,
			Percent:         p.Percent,
			Phase:           p.Phase,
		}

	case KindResult:
		var p resultPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return IgnoredEvent{Topic: topic, Reason: fmt.Sprintf("bad result payload: %v", err)}
		}
		return ResultEvent{
			DeviceID:        deviceID,
			FirmwareVersion: p.FirmwareVersion,
			Success:         p.Success,
			Message:         p.Message,
		}
	}

	return IgnoredEvent{Topic: topic, Reason: fmt.Sprintf("unknown message kind %q", parts[4])}
}
