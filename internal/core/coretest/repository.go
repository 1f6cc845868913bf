// Package coretest provides an in-memory Repository fake for unit tests.
package coretest

import (
	"context"
	"sync"
	"time"

	"gorm.io/gorm"

	"example.com/paku/services/ota/internal/core"
)

// Repository is an in-memory core.Repository. Missing rows are reported as
// gorm.ErrRecordNotFound so callers see the same sentinel as the real store.
type Repository struct {
	mu sync.Mutex

	Devices  map[string]*core.Device
	Firmware []*core.FirmwareRelease
	Policies []*core.RolloutPolicy
	Attempts []*core.UpdateAttempt
	Events   []*core.OtaEvent

	PingErr error
	nextID  uint
}

func NewRepository() *Repository {
	return &Repository{Devices: make(map[string]*core.Device)}
}

func (r *Repository) id() uint {
	r.nextID++
	return r.nextID
}

// --- Device operations ---

func (r *Repository) UpsertDevice(ctx context.Context, d *core.Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	if existing, ok := r.Devices[d.DeviceID]; ok {
		existing.DeviceModel = d.DeviceModel
		existing.CurrentFirmwareVersion = d.CurrentFirmwareVersion
		existing.LastSeen = &now
		existing.UpdatedAt = now
		return nil
	}
	cp := *d
	cp.ID = r.id()
	cp.LastSeen = &now
	cp.CreatedAt = now
	cp.UpdatedAt = now
	r.Devices[d.DeviceID] = &cp
	return nil
}

func (r *Repository) GetDevice(ctx context.Context, deviceID string) (*core.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.Devices[deviceID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *d
	return &cp, nil
}

func (r *Repository) UpdateDeviceFirmware(ctx context.Context, deviceID, version string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.Devices[deviceID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	now := time.Now()
	d.CurrentFirmwareVersion = version
	d.LastSeen = &now
	return nil
}

func (r *Repository) TouchDevice(ctx context.Context, deviceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	if d, ok := r.Devices[deviceID]; ok {
		d.LastSeen = &now
		d.UpdatedAt = now
		return nil
	}
	r.Devices[deviceID] = &core.Device{ID: r.id(), DeviceID: deviceID, LastSeen: &now, CreatedAt: now, UpdatedAt: now}
	return nil
}

func (r *Repository) ListDevices(ctx context.Context, deviceModel string, limit int) ([]*core.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*core.Device
	for _, d := range r.Devices {
		if deviceModel != "" && d.DeviceModel != deviceModel {
			continue
		}
		cp := *d
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// --- Firmware operations ---

func (r *Repository) CreateFirmware(ctx context.Context, fw *core.FirmwareRelease) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *fw
	cp.ID = r.id()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	r.Firmware = append(r.Firmware, &cp)
	return nil
}

func (r *Repository) GetFirmwareByVersion(ctx context.Context, version string) (*core.FirmwareRelease, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, fw := range r.Firmware {
		if fw.Version == version {
			cp := *fw
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

// GetLatestFirmware mirrors the created_at DESC ordering of the real store:
// the most recently appended release for the model wins.
func (r *Repository) GetLatestFirmware(ctx context.Context, deviceModel string) (*core.FirmwareRelease, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.Firmware) - 1; i >= 0; i-- {
		if r.Firmware[i].DeviceModel == deviceModel {
			cp := *r.Firmware[i]
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *Repository) ListFirmware(ctx context.Context, deviceModel string, limit int) ([]*core.FirmwareRelease, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*core.FirmwareRelease
	for i := len(r.Firmware) - 1; i >= 0; i-- {
		fw := r.Firmware[i]
		if deviceModel != "" && fw.DeviceModel != deviceModel {
			continue
		}
		cp := *fw
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// --- Rollout policy operations ---

func (r *Repository) CreatePolicy(ctx context.Context, p *core.RolloutPolicy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *p
	cp.ID = r.id()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	r.Policies = append(r.Policies, &cp)
	return nil
}

func (r *Repository) GetActivePolicy(ctx context.Context, firmwareVersion, deviceModel string) (*core.RolloutPolicy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.Policies) - 1; i >= 0; i-- {
		p := r.Policies[i]
		if p.IsActive && p.FirmwareVersion == firmwareVersion && p.DeviceModel == deviceModel {
			cp := *p
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *Repository) ListPolicies(ctx context.Context, limit int) ([]*core.RolloutPolicy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*core.RolloutPolicy
	for i := len(r.Policies) - 1; i >= 0; i-- {
		cp := *r.Policies[i]
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// --- Update attempt operations ---

func (r *Repository) CreateAttempt(ctx context.Context, a *core.UpdateAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *a
	cp.ID = r.id()
	a.ID = cp.ID
	r.Attempts = append(r.Attempts, &cp)
	return nil
}

func (r *Repository) SaveAttempt(ctx context.Context, a *core.UpdateAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.Attempts {
		if existing.AttemptID == a.AttemptID {
			cp := *a
			cp.ID = existing.ID
			r.Attempts[i] = &cp
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (r *Repository) GetCurrentAttempt(ctx context.Context, deviceID string) (*core.UpdateAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var current *core.UpdateAttempt
	for _, a := range r.Attempts {
		if a.DeviceID != deviceID {
			continue
		}
		if current == nil || !a.LastReportedAt.Before(current.LastReportedAt) {
			current = a
		}
	}
	if current == nil {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *current
	return &cp, nil
}

func (r *Repository) GetActiveAttempt(ctx context.Context, deviceID string) (*core.UpdateAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var current *core.UpdateAttempt
	for _, a := range r.Attempts {
		if a.DeviceID != deviceID || core.IsTerminalStatus(a.Status) {
			continue
		}
		if current == nil || !a.LastReportedAt.Before(current.LastReportedAt) {
			current = a
		}
	}
	if current == nil {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *current
	return &cp, nil
}

func (r *Repository) ListAttempts(ctx context.Context, deviceID, firmwareVersion string, limit int) ([]*core.UpdateAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*core.UpdateAttempt
	for i := len(r.Attempts) - 1; i >= 0; i-- {
		a := r.Attempts[i]
		if deviceID != "" && a.DeviceID != deviceID {
			continue
		}
		if firmwareVersion != "" && a.FirmwareVersion != firmwareVersion {
			continue
		}
		cp := *a
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// --- Audit log ---

func (r *Repository) AppendEvent(ctx context.Context, e *core.OtaEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *e
	cp.ID = r.id()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	r.Events = append(r.Events, &cp)
	return nil
}

// EventsOfType returns recorded audit events matching the given type.
func (r *Repository) EventsOfType(eventType string) []*core.OtaEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*core.OtaEvent
	for _, e := range r.Events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

// --- Fleet metrics ---

func (r *Repository) CountDevices(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.Devices)), nil
}

func (r *Repository) CountDevicesByModel(ctx context.Context) (map[string]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int64)
	for _, d := range r.Devices {
		out[d.DeviceModel]++
	}
	return out, nil
}

func (r *Repository) CountAttemptsByStatus(ctx context.Context, since time.Time) (map[string]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int64)
	for _, a := range r.Attempts {
		if a.LastReportedAt.After(since) {
			out[a.Status]++
		}
	}
	return out, nil
}

func (r *Repository) CountActivePolicies(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, p := range r.Policies {
		if p.IsActive {
			n++
		}
	}
	return n, nil
}

// --- Health ---

func (r *Repository) Ping(ctx context.Context) error {
	return r.PingErr
}

// --- Transaction support ---

func (r *Repository) WithTransaction(ctx context.Context, fn func(context.Context, core.Repository) error) error {
	return fn(ctx, r)
}
