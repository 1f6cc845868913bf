package core

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"example.com/paku/services/ota/internal/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ReleaseMetadata carries the admin-supplied fields of a firmware upload.
type ReleaseMetadata struct {
	Version      string
	DeviceModel  string
	MinVersion   string
	Changelog    string
	ReleaseNotes string
	IsSigned     bool
}

// FirmwareCatalogService owns firmware artifacts and their metadata.
// Releases are immutable once created; the latest release per model is the
// most recently created one.
type FirmwareCatalogService struct {
	store       Repository
	audit       *AuditRecorder
	logger      *logrus.Logger
	storagePath string
	maxFileSize int64
}

func NewFirmwareCatalogService(store Repository, audit *AuditRecorder, logger *logrus.Logger, storagePath string, maxFileSize int64) (*FirmwareCatalogService, error) {
	if err := os.MkdirAll(storagePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create firmware storage: %w", err)
	}
	return &FirmwareCatalogService{
		store:       store,
		audit:       audit,
		logger:      logger,
		storagePath: storagePath,
		maxFileSize: maxFileSize,
	}, nil
}

// CreateRelease stores a firmware binary and its metadata. The checksum is
// computed server-side; the signed flag is recorded as supplied, signing
// itself is out of scope.
func (s *FirmwareCatalogService) CreateRelease(ctx context.Context, data []byte, meta ReleaseMetadata) (*FirmwareRelease, error) {
	if err := utils.ValidateVersion(meta.Version); err != nil {
		return nil, BusinessError{"FIRMWARE_001", fmt.Sprintf("invalid version format: %v", err)}
	}
	if meta.DeviceModel == "" {
		return nil, BusinessError{"FIRMWARE_002", "device model is required"}
	}
	if s.maxFileSize > 0 && int64(len(data)) > s.maxFileSize {
		return nil, BusinessError{"FIRMWARE_003", fmt.Sprintf("file size exceeds limit of %d bytes", s.maxFileSize)}
	}

	existing, err := s.store.GetFirmwareByVersion(ctx, meta.Version)
	if err == nil && existing != nil {
		return nil, ErrFirmwareAlreadyExists
	}

	digest := sha256.Sum256(data)
	checksum := hex.EncodeToString(digest[:])

	fileName := fmt.Sprintf("%s_%s.bin", meta.DeviceModel, meta.Version)
	fullPath := filepath.Join(s.storagePath, fileName)
	if err := os.WriteFile(fullPath, data, 0644); err != nil {
		return nil, fmt.Errorf("failed to save firmware: %w", err)
	}

	release := &FirmwareRelease{
		Version:        meta.Version,
		DeviceModel:    meta.DeviceModel,
		MinVersion:     meta.MinVersion,
		FilePath:       fileName,
		FileSize:       int64(len(data)),
		ChecksumSHA256: checksum,
		IsSigned:       meta.IsSigned,
		Changelog:      meta.Changelog,
		ReleaseNotes:   meta.ReleaseNotes,
		CreatedBy:      "admin",
	}
	if err := s.store.CreateFirmware(ctx, release); err != nil {
		os.Remove(fullPath)
		return nil, fmt.Errorf("failed to create release record: %w", err)
	}

	s.audit.Record(ctx, EventFirmwareUploaded, "", release.Version, map[string]interface{}{
		"device_model": release.DeviceModel,
		"file_size":    release.FileSize,
		"checksum":     release.ChecksumSHA256,
	})

	s.logger.WithFields(logrus.Fields{
		"version": release.Version,
		"model":   release.DeviceModel,
		"size":    release.FileSize,
	}).Info("Firmware release created")

	return release, nil
}

// GetByVersion looks a release up by its version string.
func (s *FirmwareCatalogService) GetByVersion(ctx context.Context, version string) (*FirmwareRelease, error) {
	release, err := s.store.GetFirmwareByVersion(ctx, version)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrFirmwareNotFound
		}
		return nil, err
	}
	return release, nil
}

// Latest returns the most recently created release for a device model.
func (s *FirmwareCatalogService) Latest(ctx context.Context, deviceModel string) (*FirmwareRelease, error) {
	release, err := s.store.GetLatestFirmware(ctx, deviceModel)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrFirmwareNotFound
		}
		return nil, err
	}
	return release, nil
}

// ListReleases returns release history, newest first.
func (s *FirmwareCatalogService) ListReleases(ctx context.Context, deviceModel string, limit int) ([]*FirmwareRelease, error) {
	return s.store.ListFirmware(ctx, deviceModel, limit)
}

// ResolvePath returns the on-disk location of a release's binary.
func (s *FirmwareCatalogService) ResolvePath(release *FirmwareRelease) string {
	return filepath.Join(s.storagePath, release.FilePath)
}
