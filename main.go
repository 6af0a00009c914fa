package main

import (
	// standard library
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	// third-party
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	// internal
	"github.com/rmitchellscott/holofleet/internal/auth"
	"github.com/rmitchellscott/holofleet/internal/config"
	"github.com/rmitchellscott/holofleet/internal/database"
	"github.com/rmitchellscott/holofleet/internal/handlers"
	"github.com/rmitchellscott/holofleet/internal/logging"
	"github.com/rmitchellscott/holofleet/internal/pollers"
	"github.com/rmitchellscott/holofleet/internal/version"
)

func main() {
	_ = godotenv.Load()

	if len(os.Args) > 1 && (os.Args[1] == "--version" || os.Args[1] == "-v") {
		fmt.Println(version.String())
		os.Exit(0)
	}

	logging.InfoWithComponent(logging.ComponentStartup, "Starting Holofleet", "version", version.String())

	if err := database.Initialize(); err != nil {
		logging.ErrorWithComponent(logging.ComponentStartup, "Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	db := database.GetDB()
	deviceService := database.NewDeviceService(db)
	playlistService := database.NewPlaylistService(db)
	assignmentService := database.NewAssignmentService(db)
	assetService := database.NewAssetService(db)

	deviceHandlers := handlers.NewDeviceHandlers(deviceService, assignmentService)
	adminHandlers := handlers.NewAdminHandlers(deviceService, playlistService, assignmentService, assetService)
	contentHandlers := handlers.NewContentHandlers(assetService)

	// Background pollers: fleet liveness sweep and telemetry retention
	pollerManager := pollers.NewManager()
	pollerManager.Register(pollers.NewLivenessPoller(deviceService))
	pollerManager.Register(pollers.NewHeartbeatRetentionPoller(deviceService))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := pollerManager.Start(ctx); err != nil {
		logging.ErrorWithComponent(logging.ComponentStartup, "Failed to start pollers", "error", err)
		os.Exit(1)
	}

	port := config.Get("PORT", "")
	if port == "" {
		port = "8000"
	}
	addr := ":" + port

	if mode := config.Get("GIN_MODE", ""); mode != "" {
		gin.SetMode(mode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	// Configure CORS for browser-based device emulators
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{
		"Origin",
		"Content-Type",
		"Accept",
		"Authorization",
		"User-Agent",
	}
	router.Use(cors.New(corsConfig))

	// Health and version
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "version": version.String()})
	})

	// Public device endpoints (credential-based, rate limited)
	router.POST("/api/devices/register", auth.AuthRateLimitMiddleware(), deviceHandlers.Register)
	router.POST("/api/devices/auth", auth.AuthRateLimitMiddleware(), deviceHandlers.Authenticate)

	// Device endpoints (bearer token)
	device := router.Group("/api/devices")
	device.Use(auth.DeviceAuthMiddleware())
	{
		device.POST("/heartbeat", deviceHandlers.Heartbeat)           // POST /api/devices/heartbeat - report health
		device.GET("/playlist", deviceHandlers.AssignedPlaylist)      // GET /api/devices/playlist - current assignment
		device.GET("/commands", deviceHandlers.Commands)              // GET /api/devices/commands - queued commands
		device.GET("/content/:id/download", contentHandlers.Download) // GET /api/devices/content/:id/download - fetch content
	}

	// Admin endpoints
	admin := router.Group("/api/admin")
	{
		admin.GET("/devices", adminHandlers.ListDevices)                                     // GET /api/admin/devices - list fleet
		admin.GET("/devices/stats", adminHandlers.FleetStats)                                // GET /api/admin/devices/stats - counts by status
		admin.GET("/devices/:id", adminHandlers.GetDevice)                                   // GET /api/admin/devices/:id - get device
		admin.PUT("/devices/:id/status", adminHandlers.SetDeviceStatus)                      // PUT /api/admin/devices/:id/status - lifecycle transition
		admin.DELETE("/devices/:id", adminHandlers.DeleteDevice)                             // DELETE /api/admin/devices/:id - retire device
		admin.POST("/devices/:id/commands", adminHandlers.SendCommand)                       // POST /api/admin/devices/:id/commands - queue command
		admin.POST("/devices/:id/assignments", adminHandlers.AssignPlaylist)                 // POST /api/admin/devices/:id/assignments - assign playlist
		admin.GET("/devices/:id/assignments", adminHandlers.ListDeviceAssignments)           // GET /api/admin/devices/:id/assignments - list assignments
		admin.DELETE("/devices/:id/assignments/:playlistId", adminHandlers.UnassignPlaylist) // DELETE - remove assignment

		admin.POST("/playlists", adminHandlers.CreatePlaylist)                     // POST /api/admin/playlists - create playlist
		admin.GET("/playlists/:id", adminHandlers.GetPlaylist)                     // GET /api/admin/playlists/:id - playlist with items
		admin.PUT("/playlists/:id", adminHandlers.UpdatePlaylist)                  // PUT /api/admin/playlists/:id - update settings
		admin.PUT("/playlists/:id/schedule", adminHandlers.SetPlaylistSchedule)    // PUT /api/admin/playlists/:id/schedule - set schedule
		admin.DELETE("/playlists/:id", adminHandlers.DeletePlaylist)               // DELETE /api/admin/playlists/:id - delete playlist
		admin.POST("/playlists/:id/items", adminHandlers.AddPlaylistItem)          // POST /api/admin/playlists/:id/items - add item
		admin.PUT("/playlists/:id/reorder", adminHandlers.ReorderPlaylistItems)    // PUT /api/admin/playlists/:id/reorder - reorder items
		admin.PUT("/playlists/items/:itemId", adminHandlers.UpdateItemDuration)    // PUT /api/admin/playlists/items/:itemId - update duration
		admin.DELETE("/playlists/items/:itemId", adminHandlers.RemovePlaylistItem) // DELETE /api/admin/playlists/items/:itemId - remove item

		admin.POST("/content", contentHandlers.Upload)            // POST /api/admin/content - upload content
		admin.GET("/content", contentHandlers.ListAssets)         // GET /api/admin/content - list content
		admin.GET("/content/:id", contentHandlers.GetAsset)       // GET /api/admin/content/:id - content metadata
		admin.DELETE("/content/:id", contentHandlers.DeleteAsset) // DELETE /api/admin/content/:id - delete content
	}

	// Version endpoint
	router.GET("/api/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"version": version.Version, "commit": version.Commit})
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	// Start server in a goroutine
	go func() {
		logging.InfoWithComponent(logging.ComponentStartup, "Listening", "address", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.ErrorWithComponent(logging.ComponentStartup, "Failed to start server", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.Info("Shutting down server and pollers")

	// Stop pollers first
	if err := pollerManager.Stop(); err != nil {
		logging.Error("Error stopping pollers", "error", err)
	}

	// Give a timeout context for shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Shutdown HTTP server
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logging.Info("Server and pollers stopped")
}
