package core

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository defines the interface for data access operations.
type Repository interface {
	// Device operations
	UpsertDevice(ctx context.Context, device *Device) error
	GetDevice(ctx context.Context, deviceID string) (*Device, error)
	UpdateDeviceFirmware(ctx context.Context, deviceID, version string) error
	TouchDevice(ctx context.Context, deviceID string) error
	ListDevices(ctx context.Context, deviceModel string, limit int) ([]*Device, error)

	// Firmware operations
	CreateFirmware(ctx context.Context, firmware *FirmwareRelease) error
	GetFirmwareByVersion(ctx context.Context, version string) (*FirmwareRelease, error)
	GetLatestFirmware(ctx context.Context, deviceModel string) (*FirmwareRelease, error)
	ListFirmware(ctx context.Context, deviceModel string, limit int) ([]*FirmwareRelease, error)

	// Rollout policy operations
	CreatePolicy(ctx context.Context, policy *RolloutPolicy) error
	GetActivePolicy(ctx context.Context, firmwareVersion, deviceModel string) (*RolloutPolicy, error)
	ListPolicies(ctx context.Context, limit int) ([]*RolloutPolicy, error)

	// Update attempt operations
	CreateAttempt(ctx context.Context, attempt *UpdateAttempt) error
	SaveAttempt(ctx context.Context, attempt *UpdateAttempt) error
	GetCurrentAttempt(ctx context.Context, deviceID string) (*UpdateAttempt, error)
	GetActiveAttempt(ctx context.Context, deviceID string) (*UpdateAttempt, error)
	ListAttempts(ctx context.Context, deviceID, firmwareVersion string, limit int) ([]*UpdateAttempt, error)

	// Audit log
	AppendEvent(ctx context.Context, event *OtaEvent) error

	// Fleet metrics
	CountDevices(ctx context.Context) (int64, error)
	CountDevicesByModel(ctx context.Context) (map[string]int64, error)
	CountAttemptsByStatus(ctx context.Context, since time.Time) (map[string]int64, error)
	CountActivePolicies(ctx context.Context) (int64, error)

	// Health
	Ping(ctx context.Context) error

	// Transaction support
	WithTransaction(ctx context.Context, fn func(context.Context, Repository) error) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository creates a Repository backed by the given gorm handle.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTransaction(ctx context.Context, fn func(c context.Context, repo Repository) error) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		return fn(ctx, NewRepository(tx))
	})
}

// --- Device operations ---

func (r *repository) UpsertDevice(ctx context.Context, d *Device) error {
	now := time.Now()
	d.LastSeen = &now
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "device_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"device_model", "current_firmware_version", "last_seen", "updated_at",
		}),
	}).Create(d).Error
}

func (r *repository) GetDevice(ctx context.Context, deviceID string) (*Device, error) {
	var d Device
	err := r.db.WithContext(ctx).Where("device_id = ?", deviceID).First(&d).Error
	return &d, err
}

func (r *repository) UpdateDeviceFirmware(ctx context.Context, deviceID, version string) error {
	return r.db.WithContext(ctx).Model(&Device{}).
		Where("device_id = ?", deviceID).
		Updates(map[string]interface{}{"current_firmware_version": version, "last_seen": time.Now()}).Error
}

func (r *repository) TouchDevice(ctx context.Context, deviceID string) error {
	now := time.Now()
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "device_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_seen", "updated_at"}),
	}).Create(&Device{DeviceID: deviceID, LastSeen: &now}).Error
}

func (r *repository) ListDevices(ctx context.Context, deviceModel string, limit int) ([]*Device, error) {
	var devices []*Device
	q := r.db.WithContext(ctx).Order("last_seen DESC")
	if deviceModel != "" {
		q = q.Where("device_model = ?", deviceModel)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	return devices, q.Find(&devices).Error
}

// --- Firmware operations ---

func (r *repository) CreateFirmware(ctx context.Context, fw *FirmwareRelease) error {
	return r.db.WithContext(ctx).Create(fw).Error
}

func (r *repository) GetFirmwareByVersion(ctx context.Context, version string) (*FirmwareRelease, error) {
	var fw FirmwareRelease
	return &fw, r.db.WithContext(ctx).Where("version = ?", version).First(&fw).Error
}

func (r *repository) GetLatestFirmware(ctx context.Context, deviceModel string) (*FirmwareRelease, error) {
	var fw FirmwareRelease
	return &fw, r.db.WithContext(ctx).
		Where("device_model = ?", deviceModel).
		Order("created_at DESC").First(&fw).Error
}

func (r *repository) ListFirmware(ctx context.Context, deviceModel string, limit int) ([]*FirmwareRelease, error) {
	var releases []*FirmwareRelease
	q := r.db.WithContext(ctx).Order("created_at DESC")
	if deviceModel != "" {
		q = q.Where("device_model = ?", deviceModel)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	return releases, q.Find(&releases).Error
}

// --- Rollout policy operations ---

func (r *repository) CreatePolicy(ctx context.Context, p *RolloutPolicy) error {
	return r.db.WithContext(ctx).Create(p).Error
}

func (r *repository) GetActivePolicy(ctx context.Context, firmwareVersion, deviceModel string) (*RolloutPolicy, error) {
	var p RolloutPolicy
	err := r.db.WithContext(ctx).
		Where("firmware_version = ? AND device_model = ? AND is_active = ?", firmwareVersion, deviceModel, true).
		Order("created_at DESC").First(&p).Error
	return &p, err
}

func (r *repository) ListPolicies(ctx context.Context, limit int) ([]*RolloutPolicy, error) {
	var policies []*RolloutPolicy
	q := r.db.WithContext(ctx).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	return policies, q.Find(&policies).Error
}

// --- Update attempt operations ---

func (r *repository) CreateAttempt(ctx context.Context, a *UpdateAttempt) error {
	return r.db.WithContext(ctx).Create(a).Error
}

func (r *repository) SaveAttempt(ctx context.Context, a *UpdateAttempt) error {
	return r.db.WithContext(ctx).Save(a).Error
}

func (r *repository) GetCurrentAttempt(ctx context.Context, deviceID string) (*UpdateAttempt, error) {
	var a UpdateAttempt
	err := r.db.WithContext(ctx).
		Where("device_id = ?", deviceID).
		Order("last_reported_at DESC").First(&a).Error
	return &a, err
}

func (r *repository) GetActiveAttempt(ctx context.Context, deviceID string) (*UpdateAttempt, error) {
	var a UpdateAttempt
	err := r.db.WithContext(ctx).
		Where("device_id = ? AND status IN ?", deviceID,
			[]string{StatusPending, StatusDownloading, StatusDownloaded, StatusInstalling}).
		Order("last_reported_at DESC").First(&a).Error
	return &a, err
}

func (r *repository) ListAttempts(ctx context.Context, deviceID, firmwareVersion string, limit int) ([]*UpdateAttempt, error) {
	var attempts []*UpdateAttempt
	q := r.db.WithContext(ctx).Order("last_reported_at DESC")
	if deviceID != "" {
		q = q.Where("device_id = ?", deviceID)
	}
	if firmwareVersion != "" {
		q = q.Where("firmware_version = ?", firmwareVersion)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	return attempts, q.Find(&attempts).Error
}

// --- Audit log ---

func (r *repository) AppendEvent(ctx context.Context, e *OtaEvent) error {
	return r.db.WithContext(ctx).Create(e).Error
}

// --- Fleet metrics ---

func (r *repository) CountDevices(ctx context.Context) (int64, error) {
	var n int64
	return n, r.db.WithContext(ctx).Model(&Device{}).Count(&n).Error
}

func (r *repository) CountDevicesByModel(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		DeviceModel string
		N           int64
	}
	err := r.db.WithContext(ctx).Model(&Device{}).
		Select("device_model, COUNT(*) AS n").
		Group("device_model").Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.DeviceModel] = row.N
	}
	return out, nil
}

func (r *repository) CountAttemptsByStatus(ctx context.Context, since time.Time) (map[string]int64, error) {
	var rows []struct {
		Status string
		N      int64
	}
	err := r.db.WithContext(ctx).Model(&UpdateAttempt{}).
		Select("status, COUNT(*) AS n").
		Where("last_reported_at > ?", since).
		Group("status").Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.Status] = row.N
	}
	return out, nil
}

func (r *repository) CountActivePolicies(ctx context.Context) (int64, error) {
	var n int64
	return n, r.db.WithContext(ctx).Model(&RolloutPolicy{}).Where("is_active = ?", true).Count(&n).Error
}

// --- Health ---

func (r *repository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
