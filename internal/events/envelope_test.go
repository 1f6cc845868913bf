package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeAck(t *testing.T) {
	ev := Decode("helsinki/edge/device-1/ota/status", []byte(`{"firmware_version":"2.0.0"}`))
	ack, ok := ev.(AckEvent)
	require.True(t, ok)
	assert.Equal(t, "device-1", ack.DeviceID)
	assert.Equal(t, "2.0.0", ack.FirmwareVersion)
}

func TestDecodeProgress(t *testing.T) {
	ev := Decode("helsinki/edge/device-1/ota/progress", []byte(`{"firmware_version":"2.0.0","percent":45,"phase":"downloading"}`))
	progress, ok := ev.(ProgressEvent)
	require.True(t, ok)
	assert.Equal(t, 45, progress.Percent)
	assert.Equal(t, "downloading", progress.Phase)
}

func TestDecodeResult(t *testing.T) {
	ev := Decode("oulu/edge/device-9/ota/result", []byte(`{"firmware_version":"2.0.0","success":false,"message":"checksum mismatch"}`))
	result, ok := ev.(ResultEvent)
	require.True(t, ok)
	assert.False(t, result.Success)
	assert.Equal(t, "checksum mismatch", result.Message)
}

func TestDecodeIgnoresBadInput(t *testing.T) {
	cases := []struct {
		name    string
		topic   string
		payload string
	}{
		{"too few segments", "edge/device-1/ota", `{}`},
		{"wrong namespace", "site/fleet/device-1/ota/status", `{}`},
		{"wrong subsystem", "site/edge/device-1/telemetry/status", `{}`},
		{"unknown kind", "site/edge/device-1/ota/reboot", `{}`},
		{"empty device id", "site/edge//ota/status", `{"firmware_version":"2.0.0"}`},
		{"malformed json", "site/edge/device-1/ota/status", `{"firmware_version":`},
		{"ack without version", "site/edge/device-1/ota/status", `{}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev := Decode(tc.topic, []byte(tc.payload))
			ignored, ok := ev.(IgnoredEvent)
			require.True(t, ok, "expected IgnoredEvent, got %T", ev)
			assert.NotEmpty(t, ignored.Reason)
		})
	}
}

func TestPhaseStatus(t *testing.T) {
	assert.Equal(t, "installing", phaseStatus("Installing"))
	assert.Equal(t, "installing", phaseStatus("install"))
	assert.Equal(t, "downloaded", phaseStatus("verifying"))
	assert.Equal(t, "downloading", phaseStatus("downloading"))
	assert.Equal(t, "downloading", phaseStatus(""))
	assert.Equal(t, "downloading", phaseStatus("warming-up"))
}
