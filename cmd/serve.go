package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"example.com/paku/services/ota/internal/api"
	"example.com/paku/services/ota/internal/core"
	"example.com/paku/services/ota/internal/events"
	"example.com/paku/services/ota/internal/infrastructure"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Starts the OTA coordination API server",
	Long:  `Launches the HTTP server and broker subscription that handle firmware checks, downloads, status reports and rollout administration.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServer() error {
	logger.Info("Initializing OTA Service...")

	// --- Infrastructure Setup ---
	logger.Info("Connecting to database...")
	db, err := infrastructure.NewDatabase(cfg.Database)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	logger.Info("Connecting to cache...")
	var deviceCache core.DeviceCache
	cache, err := infrastructure.NewCache(cfg.Redis)
	if err != nil {
		logger.WithError(err).Warn("Cache unavailable, continuing without it")
	} else {
		defer cache.Close()
		deviceCache = cache
	}

	var publisher core.EventPublisher
	if cfg.ServiceBus.ConnectionString != "" {
		logger.Info("Connecting to messaging service...")
		messaging, err := infrastructure.NewMessaging(cfg.ServiceBus)
		if err != nil {
			logger.WithError(err).Warn("Messaging service unavailable, continuing without it")
		} else {
			defer messaging.Close()
			publisher = messaging
		}
	}

	// --- Service Layer Setup ---
	store := core.NewRepository(db.DB)

	services, err := core.NewServiceRegistry(core.ServiceConfig{
		Store:     store,
		Cache:     deviceCache,
		Publisher: publisher,
		Logger:    logger,
		Firmware:  cfg.Firmware,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}

	// --- Broker Subscription ---
	var subscriber *infrastructure.MQTTSubscriber
	if cfg.MQTT != nil && cfg.MQTT.BrokerURL != "" {
		adapter := events.NewAdapter(services.Attempts, logger)
		subscriber, err = infrastructure.NewMQTTSubscriber(*cfg.MQTT, adapter.HandleMessage, logger)
		if err != nil {
			return fmt.Errorf("failed to create MQTT subscriber: %w", err)
		}
		if err := subscriber.Start(); err != nil {
			logger.WithError(err).Warn("MQTT broker unavailable, continuing with HTTP reports only")
			subscriber = nil
		}
	}

	// --- API Layer Setup ---
	router := gin.New()
	handlers := api.NewOTAHandlers(services)
	api.SetupRoutes(router, handlers, cfg.Admin.APIKey, logger)

	// --- HTTP Server ---
	serverAddr := fmt.Sprintf(":%d", cfg.Server.Port)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// --- Graceful Shutdown ---
	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Infof("OTA Service API listening on %s", serverAddr)

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Server failed to start: %v", err)
		}
	}()

	<-shutdownChan

	logger.Warn("Shutdown signal received, initiating graceful shutdown...")

	if subscriber != nil {
		subscriber.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Errorf("Server shutdown failed: %v", err)
	} else {
		logger.Info("Server stopped gracefully")
	}

	logger.Info("OTA Service shutdown complete")
	return nil
}
