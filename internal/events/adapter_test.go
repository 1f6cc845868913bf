package events_test

import (
	"context"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/paku/services/ota/internal/core"
	"example.com/paku/services/ota/internal/core/coretest"
	"example.com/paku/services/ota/internal/events"
)

func newAdapterFixture(t *testing.T) (*events.Adapter, *core.UpdateAttemptService, *coretest.Repository) {
	t.Helper()
	repo := coretest.NewRepository()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	audit := core.NewAuditRecorder(repo, nil, logger)
	registry := core.NewDeviceRegistryService(repo, nil, logger)
	attempts := core.NewUpdateAttemptService(repo, registry, audit, logger)
	return events.NewAdapter(attempts, logger), attempts, repo
}

func TestAdapterFullLifecycle(t *testing.T) {
	adapter, attempts, _ := newAdapterFixture(t)
	ctx := context.Background()

	require.NoError(t, adapter.HandleMessage(ctx, "site/edge/device-1/ota/status",
		[]byte(`{"firmware_version":"2.0.0"}`)))

	attempt, err := attempts.CurrentAttempt(ctx, "device-1")
	require.NoError(t, err)
	assert.Equal(t, core.StatusPending, attempt.Status)

	require.NoError(t, adapter.HandleMessage(ctx, "site/edge/device-1/ota/progress",
		[]byte(`{"firmware_version":"2.0.0","percent":30,"phase":"downloading"}`)))
	require.NoError(t, adapter.HandleMessage(ctx, "site/edge/device-1/ota/progress",
		[]byte(`{"firmware_version":"2.0.0","percent":90,"phase":"installing"}`)))

	attempt, err = attempts.CurrentAttempt(ctx, "device-1")
	require.NoError(t, err)
	assert.Equal(t, core.StatusInstalling, attempt.Status)
	assert.Equal(t, 90, attempt.ProgressPercent)

	require.NoError(t, adapter.HandleMessage(ctx, "site/edge/device-1/ota/result",
		[]byte(`{"firmware_version":"2.0.0","success":true}`)))

	attempt, err = attempts.CurrentAttempt(ctx, "device-1")
	require.NoError(t, err)
	assert.Equal(t, core.StatusSuccess, attempt.Status)
	assert.NotNil(t, attempt.CompletedAt)
}

func TestAdapterFailureResult(t *testing.T) {
	adapter, attempts, _ := newAdapterFixture(t)
	ctx := context.Background()

	require.NoError(t, adapter.HandleMessage(ctx, "site/edge/device-1/ota/status",
		[]byte(`{"firmware_version":"2.0.0"}`)))
	require.NoError(t, adapter.HandleMessage(ctx, "site/edge/device-1/ota/result",
		[]byte(`{"firmware_version":"2.0.0","success":false,"message":"checksum mismatch"}`)))

	attempt, err := attempts.CurrentAttempt(ctx, "device-1")
	require.NoError(t, err)
	assert.Equal(t, core.StatusFailed, attempt.Status)
	assert.Equal(t, "checksum mismatch", attempt.ErrorMessage)
	assert.NotNil(t, attempt.CompletedAt)

	// Terminal means terminal: further progress is rejected.
	err = adapter.HandleMessage(ctx, "site/edge/device-1/ota/progress",
		[]byte(`{"firmware_version":"2.0.0","percent":10,"phase":"downloading"}`))
	assert.ErrorIs(t, err, core.ErrInvalidTransition)
}

func TestAdapterIgnoresMalformedMessages(t *testing.T) {
	adapter, _, repo := newAdapterFixture(t)
	ctx := context.Background()

	assert.NoError(t, adapter.HandleMessage(ctx, "garbage-topic", []byte(`{}`)))
	assert.NoError(t, adapter.HandleMessage(ctx, "site/edge/device-1/ota/status", []byte(`not-json`)))
	assert.Empty(t, repo.Attempts)
}

func TestAdapterProgressWithoutAttempt(t *testing.T) {
	adapter, _, _ := newAdapterFixture(t)

	err := adapter.HandleMessage(context.Background(), "site/edge/ghost/ota/progress",
		[]byte(`{"firmware_version":"2.0.0","percent":10,"phase":"downloading"}`))
	assert.ErrorIs(t, err, core.ErrUnknownAttempt)
}
