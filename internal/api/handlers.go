package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"example.com/paku/services/ota/internal/core"
)

// OTAHandlers holds all HTTP handlers
type OTAHandlers struct {
	services *core.ServiceRegistry
}

// NewOTAHandlers creates a new handler instance
func NewOTAHandlers(services *core.ServiceRegistry) *OTAHandlers {
	return &OTAHandlers{services: services}
}

// HealthCheck returns service health status including database reachability
func (h *OTAHandlers) HealthCheck(c *gin.Context) {
	if err := h.services.Store.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"error":  "database unreachable",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now(),
		"service":   "ota-service",
	})
}

// --- Device-facing endpoints ---

type checkRequest struct {
	DeviceID       string `form:"device_id" binding:"required"`
	DeviceModel    string `form:"device_model" binding:"required"`
	CurrentVersion string `form:"current_version" binding:"required"`
}

// CheckFirmware handles a device's update poll
func (h *OTAHandlers) CheckFirmware(c *gin.Context) {
	var req checkRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request format", "details": err.Error()})
		return
	}

	offer, err := h.services.Updates.CheckForUpdate(c.Request.Context(), req.DeviceID, req.DeviceModel, req.CurrentVersion)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to check for updates"})
		return
	}

	c.JSON(http.StatusOK, offer)
}

// DownloadFirmware serves a firmware binary with integrity headers
func (h *OTAHandlers) DownloadFirmware(c *gin.Context) {
	version := c.Param("version")

	release, err := h.services.Catalog.GetByVersion(c.Request.Context(), version)
	if err != nil {
		if errors.Is(err, core.ErrFirmwareNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve firmware"})
		}
		return
	}

	c.Header("X-Firmware-Version", release.Version)
	c.Header("X-Checksum-SHA256", release.ChecksumSHA256)
	c.Header("Content-Type", "application/octet-stream")
	c.File(h.services.Catalog.ResolvePath(release))
}

type statusReport struct {
	FirmwareVersion string `json:"firmware_version"`
	Status          string `json:"status" binding:"required"`
	Progress        *int   `json:"progress_percent"`
	ErrorMessage    string `json:"error_message"`
}

// ReportUpdateStatus applies a device's status report to its current attempt
func (h *OTAHandlers) ReportUpdateStatus(c *gin.Context) {
	deviceID := c.Param("device_id")

	var req statusReport
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request format", "details": err.Error()})
		return
	}

	if !core.IsValidStatus(req.Status) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status value", "status": req.Status})
		return
	}

	if err := h.services.Registry.Touch(c.Request.Context(), deviceID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record device contact"})
		return
	}

	attempt, err := h.services.Attempts.AdvanceStatus(c.Request.Context(), deviceID,
		req.FirmwareVersion, req.Status, req.Progress, req.ErrorMessage)
	if err != nil {
		switch {
		case errors.Is(err, core.ErrUnknownAttempt):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case errors.Is(err, core.ErrInvalidTransition):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to apply status report"})
		}
		return
	}

	c.JSON(http.StatusOK, attempt)
}

// GetUpdateStatus returns the device's current attempt
func (h *OTAHandlers) GetUpdateStatus(c *gin.Context) {
	deviceID := c.Param("device_id")

	attempt, err := h.services.Attempts.CurrentAttempt(c.Request.Context(), deviceID)
	if err != nil {
		if errors.Is(err, core.ErrUnknownAttempt) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get update status"})
		}
		return
	}

	c.JSON(http.StatusOK, attempt)
}

// --- Admin endpoints ---

// UploadFirmware handles a multipart firmware upload
func (h *OTAHandlers) UploadFirmware(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "firmware file is required"})
		return
	}

	f, err := file.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read firmware file"})
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read firmware file"})
		return
	}

	meta := core.ReleaseMetadata{
		Version:      c.PostForm("version"),
		DeviceModel:  c.PostForm("device_model"),
		MinVersion:   c.PostForm("min_version"),
		Changelog:    c.PostForm("changelog"),
		ReleaseNotes: c.PostForm("release_notes"),
		IsSigned:     c.PostForm("is_signed") == "true",
	}

	release, err := h.services.Catalog.CreateRelease(c.Request.Context(), data, meta)
	if err != nil {
		var bizErr core.BusinessError
		switch {
		case errors.Is(err, core.ErrFirmwareAlreadyExists):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.As(err, &bizErr):
			c.JSON(http.StatusBadRequest, gin.H{"error": bizErr.Message, "code": bizErr.Code})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create firmware release"})
		}
		return
	}

	c.JSON(http.StatusCreated, release)
}

// ListFirmwareReleases returns release history
func (h *OTAHandlers) ListFirmwareReleases(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	releases, err := h.services.Catalog.ListReleases(c.Request.Context(), c.Query("device_model"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list firmware releases"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"releases": releases,
		"count":    len(releases),
	})
}

// CreateRollout creates a new rollout policy
func (h *OTAHandlers) CreateRollout(c *gin.Context) {
	var policy core.RolloutPolicy
	if err := c.ShouldBindJSON(&policy); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request format", "details": err.Error()})
		return
	}
	policy.IsActive = true

	if err := h.services.Policies.Create(c.Request.Context(), &policy); err != nil {
		var bizErr core.BusinessError
		if errors.As(err, &bizErr) {
			c.JSON(http.StatusBadRequest, gin.H{"error": bizErr.Message, "code": bizErr.Code})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create rollout"})
		}
		return
	}

	c.JSON(http.StatusCreated, policy)
}

// ListRollouts returns rollout policies, newest first
func (h *OTAHandlers) ListRollouts(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	policies, err := h.services.Policies.List(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list rollouts"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"rollouts": policies,
		"count":    len(policies),
	})
}

// ListDevices returns fleet inventory
func (h *OTAHandlers) ListDevices(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	devices, err := h.services.Registry.ListDevices(c.Request.Context(), c.Query("device_model"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list devices"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"devices": devices,
		"count":   len(devices),
	})
}

// ListUpdateAttempts returns attempt history with optional filters
func (h *OTAHandlers) ListUpdateAttempts(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	attempts, err := h.services.Attempts.ListAttempts(c.Request.Context(),
		c.Query("device_id"), c.Query("firmware_version"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list update attempts"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"attempts": attempts,
		"count":    len(attempts),
	})
}

// FleetMetrics returns JSON aggregates over the fleet and recent attempts
func (h *OTAHandlers) FleetMetrics(c *gin.Context) {
	ctx := c.Request.Context()

	totalDevices, err := h.services.Store.CountDevices(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute metrics"})
		return
	}
	byModel, err := h.services.Store.CountDevicesByModel(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute metrics"})
		return
	}
	byStatus, err := h.services.Store.CountAttemptsByStatus(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute metrics"})
		return
	}
	activePolicies, err := h.services.Store.CountActivePolicies(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute metrics"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"total_devices":    totalDevices,
		"devices_by_model": byModel,
		"attempts_24h":     byStatus,
		"active_rollouts":  activePolicies,
		"generated_at":     time.Now(),
	})
}
