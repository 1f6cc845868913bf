package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// SetupRoutes configures all API routes
func SetupRoutes(router *gin.Engine, handlers *OTAHandlers, adminAPIKey string, logger *logrus.Logger) {
	// Global middleware
	router.Use(Recovery(logger))
	router.Use(RequestLogger(logger))
	router.Use(CORS())

	// Health check (public)
	router.GET("/health", handlers.HealthCheck)

	// Operator metrics
	router.GET("/metrics", handlers.FleetMetrics)
	router.GET("/metrics/prometheus", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	api.Use(RateLimiter(300)) // per IP per minute

	// Device-facing endpoints
	firmware := api.Group("/firmware")
	{
		firmware.GET("/check", handlers.CheckFirmware)
		firmware.GET("/download/:version", handlers.DownloadFirmware)
	}

	device := api.Group("/device/:device_id")
	{
		device.POST("/update-status", handlers.ReportUpdateStatus)
		device.GET("/update-status", handlers.GetUpdateStatus)
	}

	// Admin endpoints
	admin := api.Group("/admin")
	admin.Use(APIKeyAuth(adminAPIKey))
	{
		admin.POST("/firmware/upload", handlers.UploadFirmware)
		admin.GET("/firmware/releases", handlers.ListFirmwareReleases)
		admin.POST("/rollout/create", handlers.CreateRollout)
		admin.GET("/rollouts", handlers.ListRollouts)
		admin.GET("/devices", handlers.ListDevices)
		admin.GET("/update-status", handlers.ListUpdateAttempts)
	}
}
