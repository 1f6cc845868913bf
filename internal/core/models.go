package core

import (
	"encoding/json"
	"time"
)

// Device is one physical unit in the fleet, keyed by its opaque device_id.
// Rows are created on first contact and never deleted.
type Device struct {
	ID                     uint            `json:"id" gorm:"primaryKey"`
	DeviceID               string          `json:"device_id" gorm:"uniqueIndex;not null"`
	DeviceModel            string          `json:"device_model" gorm:"index"`
	CurrentFirmwareVersion string          `json:"current_firmware_version"`
	Metadata               json.RawMessage `json:"metadata" gorm:"type:jsonb"`
	LastSeen               *time.Time      `json:"last_seen" gorm:"index"`
	CreatedAt              time.Time       `json:"created_at"`
	UpdatedAt              time.Time       `json:"updated_at"`
}

// DeviceMetadata is the decoded shape of Device.Metadata.
type DeviceMetadata struct {
	Groups []string `json:"groups"`
}

// Groups returns the device's group tags, or nil when no metadata is set.
func (d *Device) Groups() []string {
	if len(d.Metadata) == 0 {
		return nil
	}
	var meta DeviceMetadata
	if err := json.Unmarshal(d.Metadata, &meta); err != nil {
		return nil
	}
	return meta.Groups
}

// FirmwareRelease is one immutable versioned build artifact for a device model.
type FirmwareRelease struct {
	ID             uint      `json:"id" gorm:"primaryKey"`
	Version        string    `json:"version" gorm:"uniqueIndex;not null"`
	DeviceModel    string    `json:"device_model" gorm:"index;not null"`
	MinVersion     string    `json:"min_version"`
	FilePath       string    `json:"file_path" gorm:"not null"`
	FileSize       int64     `json:"file_size" gorm:"not null"`
	ChecksumSHA256 string    `json:"checksum_sha256" gorm:"not null"`
	IsSigned       bool      `json:"is_signed" gorm:"default:false"`
	Changelog      string    `json:"changelog"`
	ReleaseNotes   string    `json:"release_notes"`
	CreatedBy      string    `json:"created_by"`
	CreatedAt      time.Time `json:"created_at"`
}

// RolloutPolicy decides which devices may receive a firmware version.
// Multiple policies may exist per (version, model); the most recently
// created active one wins.
type RolloutPolicy struct {
	ID                uint            `json:"id" gorm:"primaryKey"`
	Name              string          `json:"name" gorm:"not null"`
	FirmwareVersion   string          `json:"firmware_version" gorm:"index;not null"`
	DeviceModel       string          `json:"device_model" gorm:"index;not null"`
	TargetMode        string          `json:"target_mode" gorm:"not null"`
	TargetFilter      json.RawMessage `json:"target_filter" gorm:"type:jsonb"`
	RolloutPercentage int             `json:"rollout_percentage" gorm:"default:100"`
	IsActive          bool            `json:"is_active" gorm:"default:true;index"`
	CreatedBy         string          `json:"created_by"`
	CreatedAt         time.Time       `json:"created_at"`
}

// UpdateAttempt is the lifecycle record of one device applying one firmware
// version. Rows are never deleted; the device's current attempt is the row
// with the greatest last_reported_at.
type UpdateAttempt struct {
	ID              uint       `json:"id" gorm:"primaryKey"`
	AttemptID       string     `json:"attempt_id" gorm:"uniqueIndex;not null"`
	DeviceID        string     `json:"device_id" gorm:"index;not null"`
	FirmwareVersion string     `json:"firmware_version" gorm:"index;not null"`
	Status          string     `json:"status" gorm:"index;not null"`
	ErrorMessage    string     `json:"error_message"`
	ProgressPercent int        `json:"progress_percent" gorm:"default:0"`
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at"`
	LastReportedAt  time.Time  `json:"last_reported_at" gorm:"index"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// OtaEvent is an append-only audit fact. Written on every state change,
// never read back by the decision logic.
type OtaEvent struct {
	ID              uint            `json:"id" gorm:"primaryKey"`
	EventType       string          `json:"event_type" gorm:"index;not null"`
	DeviceID        string          `json:"device_id" gorm:"index"`
	FirmwareVersion string          `json:"firmware_version"`
	EventData       json.RawMessage `json:"event_data" gorm:"type:jsonb"`
	CreatedAt       time.Time       `json:"created_at" gorm:"index"`
}

// TableName overrides for GORM
func (Device) TableName() string          { return "devices" }
func (FirmwareRelease) TableName() string { return "firmware_releases" }
func (RolloutPolicy) TableName() string   { return "rollout_policies" }
func (UpdateAttempt) TableName() string   { return "update_attempts" }
func (OtaEvent) TableName() string        { return "ota_events" }

// Update attempt statuses.
const (
	StatusPending     = "pending"
	StatusDownloading = "downloading"
	StatusDownloaded  = "downloaded"
	StatusInstalling  = "installing"
	StatusSuccess     = "success"
	StatusFailed      = "failed"
	StatusRolledBack  = "rolled_back"
)

// Rollout targeting modes.
const (
	TargetModeAll      = "all"
	TargetModeCanary   = "canary"
	TargetModeSpecific = "specific"
	TargetModeGroup    = "group"
)

// Audit event types.
const (
	EventUpdateStarted    = "update_started"
	EventUpdateCompleted  = "update_completed"
	EventUpdateFailed     = "update_failed"
	EventFirmwareUploaded = "firmware_uploaded"
	EventRolloutCreated   = "rollout_created"
)

var validStatuses = map[string]bool{
	StatusPending:     true,
	StatusDownloading: true,
	StatusDownloaded:  true,
	StatusInstalling:  true,
	StatusSuccess:     true,
	StatusFailed:      true,
	StatusRolledBack:  true,
}

// IsValidStatus reports whether s is a member of the update status enumeration.
func IsValidStatus(s string) bool {
	return validStatuses[s]
}

// IsTerminalStatus reports whether s is a terminal update status.
func IsTerminalStatus(s string) bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusRolledBack
}
