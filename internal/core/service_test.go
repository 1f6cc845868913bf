package core_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/paku/services/ota/config"
	"example.com/paku/services/ota/internal/core"
	"example.com/paku/services/ota/internal/core/coretest"
)

func newServiceFixture(t *testing.T) (*core.ServiceRegistry, *coretest.Repository) {
	t.Helper()
	repo := coretest.NewRepository()
	services, err := core.NewServiceRegistry(core.ServiceConfig{
		Store:  repo,
		Logger: testLogger(),
		Firmware: config.FirmwareConfig{
			StoragePath: t.TempDir(),
			MaxFileSize: 1 << 20,
		},
	})
	require.NoError(t, err)
	return services, repo
}

func seedRelease(t *testing.T, repo *coretest.Repository, version, model string) {
	t.Helper()
	require.NoError(t, repo.CreateFirmware(context.Background(), &core.FirmwareRelease{
		Version:        version,
		DeviceModel:    model,
		FilePath:       "/tmp/" + version + ".bin",
		FileSize:       1024,
		ChecksumSHA256: "deadbeef",
	}))
}

func seedPolicy(t *testing.T, repo *coretest.Repository, version, model string, pct int) {
	t.Helper()
	require.NoError(t, repo.CreatePolicy(context.Background(), &core.RolloutPolicy{
		Name:              "rollout-" + version,
		FirmwareVersion:   version,
		DeviceModel:       model,
		TargetMode:        core.TargetModeAll,
		RolloutPercentage: pct,
		IsActive:          true,
	}))
}

func TestCheckForUpdateOffersAndCreatesAttempt(t *testing.T) {
	services, repo := newServiceFixture(t)
	ctx := context.Background()
	seedRelease(t, repo, "2.0.0", "paku-hub")
	seedPolicy(t, repo, "2.0.0", "paku-hub", 100)

	offer, err := services.Updates.CheckForUpdate(ctx, "device-1", "paku-hub", "1.0.0")
	require.NoError(t, err)

	assert.True(t, offer.UpdateAvailable)
	assert.Equal(t, "2.0.0", offer.LatestVersion)
	assert.Equal(t, "/api/firmware/download/2.0.0", offer.DownloadURL)
	assert.Equal(t, "deadbeef", offer.ChecksumSHA256)

	// The check registered the device and opened a pending attempt.
	device, err := repo.GetDevice(ctx, "device-1")
	require.NoError(t, err)
	assert.Equal(t, "paku-hub", device.DeviceModel)

	attempt, err := services.Attempts.CurrentAttempt(ctx, "device-1")
	require.NoError(t, err)
	assert.Equal(t, core.StatusPending, attempt.Status)
	assert.Equal(t, "2.0.0", attempt.FirmwareVersion)
}

func TestCheckForUpdateNoActivePolicy(t *testing.T) {
	services, repo := newServiceFixture(t)
	ctx := context.Background()
	seedRelease(t, repo, "2.0.0", "paku-hub")

	offer, err := services.Updates.CheckForUpdate(ctx, "device-1", "paku-hub", "1.0.0")
	require.NoError(t, err)

	assert.False(t, offer.UpdateAvailable)
	assert.Equal(t, "2.0.0", offer.LatestVersion)

	_, err = services.Attempts.CurrentAttempt(ctx, "device-1")
	assert.ErrorIs(t, err, core.ErrUnknownAttempt)
}

func TestCheckForUpdateAlreadyCurrent(t *testing.T) {
	services, repo := newServiceFixture(t)
	ctx := context.Background()
	seedRelease(t, repo, "2.0.0", "paku-hub")
	seedPolicy(t, repo, "2.0.0", "paku-hub", 100)

	offer, err := services.Updates.CheckForUpdate(ctx, "device-1", "paku-hub", "2.0.0")
	require.NoError(t, err)
	assert.False(t, offer.UpdateAvailable)

	offer, err = services.Updates.CheckForUpdate(ctx, "device-1", "paku-hub", "3.0.0")
	require.NoError(t, err)
	assert.False(t, offer.UpdateAvailable, "a newer device must not be downgraded")
}

func TestCheckForUpdateNoFirmwareForModel(t *testing.T) {
	services, repo := newServiceFixture(t)
	ctx := context.Background()
	seedRelease(t, repo, "2.0.0", "paku-hub")

	offer, err := services.Updates.CheckForUpdate(ctx, "device-1", "other-model", "1.0.0")
	require.NoError(t, err)
	assert.False(t, offer.UpdateAvailable)
}

func TestCheckForUpdateMinVersionGate(t *testing.T) {
	services, repo := newServiceFixture(t)
	ctx := context.Background()
	require.NoError(t, repo.CreateFirmware(ctx, &core.FirmwareRelease{
		Version:        "3.0.0",
		DeviceModel:    "paku-hub",
		MinVersion:     "2.0.0",
		FilePath:       "/tmp/3.0.0.bin",
		FileSize:       1024,
		ChecksumSHA256: "deadbeef",
	}))
	seedPolicy(t, repo, "3.0.0", "paku-hub", 100)

	offer, err := services.Updates.CheckForUpdate(ctx, "device-1", "paku-hub", "1.5.0")
	require.NoError(t, err)
	assert.False(t, offer.UpdateAvailable)

	offer, err = services.Updates.CheckForUpdate(ctx, "device-2", "paku-hub", "2.1.0")
	require.NoError(t, err)
	assert.True(t, offer.UpdateAvailable)
}

func TestCheckForUpdateZeroPercentRollout(t *testing.T) {
	services, repo := newServiceFixture(t)
	ctx := context.Background()
	seedRelease(t, repo, "2.0.0", "paku-hub")
	seedPolicy(t, repo, "2.0.0", "paku-hub", 0)

	offer, err := services.Updates.CheckForUpdate(ctx, "device-1", "paku-hub", "1.0.0")
	require.NoError(t, err)
	assert.False(t, offer.UpdateAvailable)
}

func TestCheckForUpdateGroupTargeting(t *testing.T) {
	services, repo := newServiceFixture(t)
	ctx := context.Background()
	seedRelease(t, repo, "2.0.0", "paku-hub")
	require.NoError(t, repo.CreatePolicy(ctx, &core.RolloutPolicy{
		Name:              "beta-rollout",
		FirmwareVersion:   "2.0.0",
		DeviceModel:       "paku-hub",
		TargetMode:        core.TargetModeGroup,
		TargetFilter:      []byte(`{"groups":["beta"]}`),
		RolloutPercentage: 100,
		IsActive:          true,
	}))

	// Pre-register the beta device with group metadata.
	require.NoError(t, repo.UpsertDevice(ctx, &core.Device{DeviceID: "beta-device", DeviceModel: "paku-hub"}))
	repo.Devices["beta-device"].Metadata = []byte(`{"groups":["beta"]}`)

	offer, err := services.Updates.CheckForUpdate(ctx, "beta-device", "paku-hub", "1.0.0")
	require.NoError(t, err)
	assert.True(t, offer.UpdateAvailable)

	offer, err = services.Updates.CheckForUpdate(ctx, "prod-device", "paku-hub", "1.0.0")
	require.NoError(t, err)
	assert.False(t, offer.UpdateAvailable)
}
