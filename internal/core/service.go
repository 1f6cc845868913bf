package core

import (
	"context"
	"errors"
	"fmt"

	"example.com/paku/services/ota/config"
	"example.com/paku/services/ota/internal/utils"
	"github.com/sirupsen/logrus"
)

// UpdateOffer is the outcome of a firmware check for one device.
type UpdateOffer struct {
	UpdateAvailable bool   `json:"update_available"`
	CurrentVersion  string `json:"current_version"`
	LatestVersion   string `json:"latest_version,omitempty"`
	DownloadURL     string `json:"download_url,omitempty"`
	FileSize        int64  `json:"file_size,omitempty"`
	ChecksumSHA256  string `json:"checksum_sha256,omitempty"`
	ReleaseNotes    string `json:"release_notes,omitempty"`
}

// UpdateService coordinates the device-initiated firmware check: registry
// upsert, catalog lookup, policy selection, targeting, and attempt creation.
type UpdateService struct {
	registry *DeviceRegistryService
	catalog  *FirmwareCatalogService
	policies *RolloutPolicyService
	attempts *UpdateAttemptService
	logger   *logrus.Logger
}

func NewUpdateService(registry *DeviceRegistryService, catalog *FirmwareCatalogService, policies *RolloutPolicyService, attempts *UpdateAttemptService, logger *logrus.Logger) *UpdateService {
	return &UpdateService{
		registry: registry,
		catalog:  catalog,
		policies: policies,
		attempts: attempts,
		logger:   logger,
	}
}

// CheckForUpdate decides whether to offer the device an update. The device
// row is upserted as a side effect; when an update is offered a pending
// attempt is created.
func (s *UpdateService) CheckForUpdate(ctx context.Context, deviceID, deviceModel, currentVersion string) (*UpdateOffer, error) {
	metricChecksTotal.Inc()

	if err := s.registry.CheckIn(ctx, deviceID, deviceModel, currentVersion); err != nil {
		return nil, err
	}

	noUpdate := &UpdateOffer{UpdateAvailable: false, CurrentVersion: currentVersion}

	latest, err := s.catalog.Latest(ctx, deviceModel)
	if err != nil {
		if errors.Is(err, ErrFirmwareNotFound) {
			return noUpdate, nil
		}
		return nil, err
	}
	noUpdate.LatestVersion = latest.Version

	if utils.CompareVersions(currentVersion, latest.Version) >= 0 {
		return noUpdate, nil
	}

	if latest.MinVersion != "" && utils.CompareVersions(currentVersion, latest.MinVersion) < 0 {
		s.logger.WithFields(logrus.Fields{
			"device_id":   deviceID,
			"current":     currentVersion,
			"min_version": latest.MinVersion,
		}).Info("Device below minimum version for latest release")
		return noUpdate, nil
	}

	policy, err := s.policies.ActiveFor(ctx, latest.Version, deviceModel)
	if err != nil {
		if errors.Is(err, ErrPolicyNotFound) {
			s.logger.WithFields(logrus.Fields{
				"model":   deviceModel,
				"version": latest.Version,
			}).Info("No active rollout for latest release")
			return noUpdate, nil
		}
		return nil, err
	}

	var groups []string
	if policy.TargetMode == TargetModeGroup {
		groups = s.registry.DeviceGroups(ctx, deviceID)
	}

	if !IsEligible(deviceID, policy, groups) {
		s.logger.WithFields(logrus.Fields{
			"device_id": deviceID,
			"policy":    policy.Name,
		}).Info("Device not eligible for rollout")
		return noUpdate, nil
	}

	if _, err := s.attempts.StartAttempt(ctx, deviceID, latest.Version); err != nil {
		return nil, err
	}
	metricOffersTotal.Inc()

	return &UpdateOffer{
		UpdateAvailable: true,
		CurrentVersion:  currentVersion,
		LatestVersion:   latest.Version,
		DownloadURL:     fmt.Sprintf("/api/firmware/download/%s", latest.Version),
		FileSize:        latest.FileSize,
		ChecksumSHA256:  latest.ChecksumSHA256,
		ReleaseNotes:    latest.ReleaseNotes,
	}, nil
}

// ServiceRegistry holds all domain services.
type ServiceRegistry struct {
	Registry *DeviceRegistryService
	Catalog  *FirmwareCatalogService
	Policies *RolloutPolicyService
	Attempts *UpdateAttemptService
	Updates  *UpdateService
	Audit    *AuditRecorder
	Store    Repository
}

// ServiceConfig carries the dependencies for the service layer. Cache and
// Publisher are optional.
type ServiceConfig struct {
	Store     Repository
	Cache     DeviceCache
	Publisher EventPublisher
	Logger    *logrus.Logger
	Firmware  config.FirmwareConfig
}

// NewServiceRegistry wires the service layer together.
func NewServiceRegistry(cfg ServiceConfig) (*ServiceRegistry, error) {
	audit := NewAuditRecorder(cfg.Store, cfg.Publisher, cfg.Logger)
	registry := NewDeviceRegistryService(cfg.Store, cfg.Cache, cfg.Logger)

	catalog, err := NewFirmwareCatalogService(cfg.Store, audit, cfg.Logger, cfg.Firmware.StoragePath, cfg.Firmware.MaxFileSize)
	if err != nil {
		return nil, err
	}

	policies := NewRolloutPolicyService(cfg.Store, audit, cfg.Logger)
	attempts := NewUpdateAttemptService(cfg.Store, registry, audit, cfg.Logger)
	updates := NewUpdateService(registry, catalog, policies, attempts, cfg.Logger)

	return &ServiceRegistry{
		Registry: registry,
		Catalog:  catalog,
		Policies: policies,
		Attempts: attempts,
		Updates:  updates,
		Audit:    audit,
		Store:    cfg.Store,
	}, nil
}
