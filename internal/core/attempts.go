package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

func newAttemptID() string {
	return uuid.New().String()
}

// supersededMessage is recorded on an attempt displaced by a newer one.
const supersededMessage = "superseded by new update attempt"

// statusSuccessors lists the legal successor states per state. Devices may
// skip intermediate reports (a lost progress message must not strand the
// attempt), so every non-terminal state can reach every later non-terminal
// state and both plain terminal states directly: pending may jump straight
// to downloaded or installing, not just to a terminal. Backward edges are
// never legal. rolled_back is reachable only from a terminal state.
var statusSuccessors = map[string][]string{
	StatusPending:     {StatusDownloading, StatusDownloaded, StatusInstalling, StatusSuccess, StatusFailed},
	StatusDownloading: {StatusDownloaded, StatusInstalling, StatusSuccess, StatusFailed},
	StatusDownloaded:  {StatusInstalling, StatusSuccess, StatusFailed},
	StatusInstalling:  {StatusSuccess, StatusFailed},
	StatusSuccess:     {StatusRolledBack},
	StatusFailed:      {StatusRolledBack},
	StatusRolledBack:  {},
}

// CanTransition reports whether the edge from -> to is legal. A repeated
// report of the current status is accepted (idempotent re-stamp).
func CanTransition(from, to string) bool {
	if from == to {
		return true
	}
	for _, s := range statusSuccessors[from] {
		if s == to {
			return true
		}
	}
	return false
}

// UpdateAttemptService owns the per-device update state machine. Reads and
// writes for a single device are serialized behind a per-device mutex;
// devices never block each other.
type UpdateAttemptService struct {
	store    Repository
	registry *DeviceRegistryService
	audit    *AuditRecorder
	logger   *logrus.Logger
	locks    cmap.ConcurrentMap[string, *sync.Mutex]
}

func NewUpdateAttemptService(store Repository, registry *DeviceRegistryService, audit *AuditRecorder, logger *logrus.Logger) *UpdateAttemptService {
	return &UpdateAttemptService{
		store:    store,
		registry: registry,
		audit:    audit,
		logger:   logger,
		locks:    cmap.New[*sync.Mutex](),
	}
}

func (s *UpdateAttemptService) deviceLock(deviceID string) *sync.Mutex {
	if mu, ok := s.locks.Get(deviceID); ok {
		return mu
	}
	s.locks.SetIfAbsent(deviceID, &sync.Mutex{})
	mu, _ := s.locks.Get(deviceID)
	return mu
}

// StartAttempt ensures a pending attempt exists for (deviceID, version).
// If a non-terminal attempt for the same version already exists it is
// returned unchanged, which makes acknowledgement delivery idempotent.
// A non-terminal attempt for a different version is superseded: marked
// failed before the new pending attempt is created, so at most one
// attempt per device is ever non-terminal.
func (s *UpdateAttemptService) StartAttempt(ctx context.Context, deviceID, version string) (*UpdateAttempt, error) {
	mu := s.deviceLock(deviceID)
	mu.Lock()
	defer mu.Unlock()

	active, err := s.store.GetActiveAttempt(ctx, deviceID)
	if err == nil && active != nil {
		if active.FirmwareVersion == version {
			return active, nil
		}

		now := time.Now()
		active.Status = StatusFailed
		active.ErrorMessage = supersededMessage
		active.CompletedAt = &now
		active.LastReportedAt = now
		if err := s.store.SaveAttempt(ctx, active); err != nil {
			return nil, fmt.Errorf("failed to supersede attempt: %w", err)
		}
		metricTransitionsTotal.WithLabelValues(StatusFailed).Inc()
		s.audit.Record(ctx, EventUpdateFailed, deviceID, active.FirmwareVersion,
			map[string]interface{}{"error": supersededMessage})

		s.logger.WithFields(logrus.Fields{
			"device_id":   deviceID,
			"old_version": active.FirmwareVersion,
			"new_version": version,
		}).Info("Superseded active update attempt")
	} else if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	now := time.Now()
	attempt := &UpdateAttempt{
		AttemptID:       newAttemptID(),
		DeviceID:        deviceID,
		FirmwareVersion: version,
		Status:          StatusPending,
		StartedAt:       now,
		LastReportedAt:  now,
	}
	if err := s.store.CreateAttempt(ctx, attempt); err != nil {
		return nil, fmt.Errorf("failed to create update attempt: %w", err)
	}

	s.audit.Record(ctx, EventUpdateStarted, deviceID, version,
		map[string]interface{}{"attempt_id": attempt.AttemptID})
	metricTransitionsTotal.WithLabelValues(StatusPending).Inc()

	s.logger.WithFields(logrus.Fields{
		"device_id":  deviceID,
		"version":    version,
		"attempt_id": attempt.AttemptID,
	}).Info("Update attempt started")

	return attempt, nil
}

// AdvanceStatus applies a status report to the device's current attempt.
// An illegal edge returns ErrInvalidTransition and leaves the attempt
// untouched; a repeat of the current status only refreshes
// last_reported_at. A successful terminal transition sets completed_at and
// propagates the new firmware version to the device registry.
func (s *UpdateAttemptService) AdvanceStatus(ctx context.Context, deviceID, version, newStatus string, progress *int, errorMessage string) (*UpdateAttempt, error) {
	if !IsValidStatus(newStatus) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, newStatus)
	}

	mu := s.deviceLock(deviceID)
	mu.Lock()
	defer mu.Unlock()

	attempt, err := s.store.GetCurrentAttempt(ctx, deviceID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUnknownAttempt
		}
		return nil, err
	}

	if version != "" && version != attempt.FirmwareVersion {
		s.logger.WithFields(logrus.Fields{
			"device_id":        deviceID,
			"reported_version": version,
			"attempt_version":  attempt.FirmwareVersion,
		}).Warn("Status report version does not match current attempt")
	}

	now := time.Now()

	// Idempotent re-report of the current status.
	if attempt.Status == newStatus {
		attempt.LastReportedAt = now
		if progress != nil {
			attempt.ProgressPercent = clampPercent(*progress)
		}
		if errorMessage != "" {
			attempt.ErrorMessage = errorMessage
		}
		return attempt, s.store.SaveAttempt(ctx, attempt)
	}

	if !CanTransition(attempt.Status, newStatus) {
		metricRejectedTransitionsTotal.Inc()
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, attempt.Status, newStatus)
	}

	attempt.Status = newStatus
	attempt.LastReportedAt = now
	if progress != nil {
		attempt.ProgressPercent = clampPercent(*progress)
	}
	if newStatus == StatusSuccess {
		attempt.ProgressPercent = 100
	}
	if errorMessage != "" {
		attempt.ErrorMessage = errorMessage
	}
	if IsTerminalStatus(newStatus) {
		attempt.CompletedAt = &now
	}

	if err := s.store.SaveAttempt(ctx, attempt); err != nil {
		return nil, fmt.Errorf("failed to save update attempt: %w", err)
	}
	metricTransitionsTotal.WithLabelValues(newStatus).Inc()

	switch newStatus {
	case StatusSuccess:
		if err := s.registry.SetCurrentVersion(ctx, deviceID, attempt.FirmwareVersion); err != nil {
			s.logger.WithError(err).WithField("device_id", deviceID).
				Error("Failed to update device firmware version")
		}
		s.audit.Record(ctx, EventUpdateCompleted, deviceID, attempt.FirmwareVersion, nil)
	case StatusFailed:
		s.audit.Record(ctx, EventUpdateFailed, deviceID, attempt.FirmwareVersion,
			map[string]interface{}{"error": attempt.ErrorMessage})
	}

	s.logger.WithFields(logrus.Fields{
		"device_id": deviceID,
		"version":   attempt.FirmwareVersion,
		"status":    newStatus,
	}).Info("Update attempt advanced")

	return attempt, nil
}

// CurrentAttempt returns the device's attempt with the greatest
// last_reported_at.
func (s *UpdateAttemptService) CurrentAttempt(ctx context.Context, deviceID string) (*UpdateAttempt, error) {
	attempt, err := s.store.GetCurrentAttempt(ctx, deviceID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUnknownAttempt
		}
		return nil, err
	}
	return attempt, nil
}

// ListAttempts returns attempt history, newest first.
func (s *UpdateAttemptService) ListAttempts(ctx context.Context, deviceID, firmwareVersion string, limit int) ([]*UpdateAttempt, error) {
	return s.store.ListAttempts(ctx, deviceID, firmwareVersion, limit)
}

func clampPercent(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
