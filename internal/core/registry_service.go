package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// DeviceCache is a read cache for device rows. Optional; a nil cache
// disables caching.
type DeviceCache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, expiration time.Duration) error
	Delete(ctx context.Context, key string) error
}

// DeviceRegistryService tracks the fleet inventory: last-known firmware
// version, last-seen time and group metadata per device. Devices are
// created on first contact and never deleted.
type DeviceRegistryService struct {
	store  Repository
	cache  DeviceCache
	logger *logrus.Logger
}

func NewDeviceRegistryService(store Repository, cache DeviceCache, logger *logrus.Logger) *DeviceRegistryService {
	return &DeviceRegistryService{
		store:  store,
		cache:  cache,
		logger: logger,
	}
}

// CheckIn upserts the device row from a firmware check: model and reported
// version are refreshed and last_seen is stamped.
func (s *DeviceRegistryService) CheckIn(ctx context.Context, deviceID, deviceModel, currentVersion string) error {
	device := &Device{
		DeviceID:               deviceID,
		DeviceModel:            deviceModel,
		CurrentFirmwareVersion: currentVersion,
	}
	if err := s.store.UpsertDevice(ctx, device); err != nil {
		return fmt.Errorf("failed to upsert device: %w", err)
	}
	s.invalidate(ctx, deviceID)
	return nil
}

// Touch stamps last_seen, creating the device row if this is first contact.
func (s *DeviceRegistryService) Touch(ctx context.Context, deviceID string) error {
	if err := s.store.TouchDevice(ctx, deviceID); err != nil {
		return err
	}
	s.invalidate(ctx, deviceID)
	return nil
}

// GetDevice returns a device row, consulting the read cache first.
func (s *DeviceRegistryService) GetDevice(ctx context.Context, deviceID string) (*Device, error) {
	if cached := s.getCached(ctx, deviceID); cached != nil {
		return cached, nil
	}

	device, err := s.store.GetDevice(ctx, deviceID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDeviceNotFound
		}
		return nil, err
	}

	s.putCached(ctx, device)
	return device, nil
}

// DeviceGroups returns the device's group tags; unknown devices or devices
// without metadata yield nil.
func (s *DeviceRegistryService) DeviceGroups(ctx context.Context, deviceID string) []string {
	device, err := s.GetDevice(ctx, deviceID)
	if err != nil {
		return nil
	}
	return device.Groups()
}

// SetCurrentVersion records a completed update in the inventory.
func (s *DeviceRegistryService) SetCurrentVersion(ctx context.Context, deviceID, version string) error {
	if err := s.store.UpdateDeviceFirmware(ctx, deviceID, version); err != nil {
		return err
	}
	s.invalidate(ctx, deviceID)
	return nil
}

// ListDevices returns fleet inventory, most recently seen first.
func (s *DeviceRegistryService) ListDevices(ctx context.Context, deviceModel string, limit int) ([]*Device, error) {
	return s.store.ListDevices(ctx, deviceModel, limit)
}

func (s *DeviceRegistryService) getCached(ctx context.Context, deviceID string) *Device {
	if s.cache == nil {
		return nil
	}
	data, err := s.cache.Get(ctx, deviceCacheKey(deviceID))
	if err != nil {
		return nil
	}
	var device Device
	if err := json.Unmarshal([]byte(data), &device); err != nil {
		return nil
	}
	return &device
}

func (s *DeviceRegistryService) putCached(ctx context.Context, device *Device) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(device)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, deviceCacheKey(device.DeviceID), string(data), 24*time.Hour); err != nil {
		s.logger.WithError(err).WithField("device_id", device.DeviceID).Debug("Failed to cache device")
	}
}

func (s *DeviceRegistryService) invalidate(ctx context.Context, deviceID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, deviceCacheKey(deviceID)); err != nil {
		s.logger.WithError(err).WithField("device_id", deviceID).Debug("Failed to invalidate device cache")
	}
}

func deviceCacheKey(deviceID string) string {
	return fmt.Sprintf("device:%s", deviceID)
}
