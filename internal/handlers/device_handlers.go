package handlers

import (
	"errors"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/rmitchellscott/holofleet/internal/auth"
	"github.com/rmitchellscott/holofleet/internal/database"
	"github.com/rmitchellscott/holofleet/internal/logging"
)

var (
	macPattern     = regexp.MustCompile(`^([A-F0-9]{2}:){5}[A-F0-9]{2}$`)
	tpmHashPattern = regexp.MustCompile(`^[A-F0-9]{64}$`)
)

// validHardwareID accepts a MAC address (XX:XX:XX:XX:XX:XX) or a TPM hash
// (64-character hex string).
func validHardwareID(id string) (string, bool) {
	upper := strings.ToUpper(id)
	if macPattern.MatchString(upper) || tpmHashPattern.MatchString(upper) {
		return upper, true
	}
	return "", false
}

// DeviceHandlers exposes the device-facing API
type DeviceHandlers struct {
	devices     *database.DeviceService
	assignments *database.AssignmentService
}

// NewDeviceHandlers creates device handlers backed by the registry services
func NewDeviceHandlers(devices *database.DeviceService, assignments *database.AssignmentService) *DeviceHandlers {
	return &DeviceHandlers{devices: devices, assignments: assignments}
}

type registerRequest struct {
	HardwareID    string         `json:"hardware_id" binding:"required,hardware_id"`
	DeviceSecret  string         `json:"device_secret" binding:"required,min=16,max=255"`
	Name          string         `json:"name" binding:"required,max=255"`
	HardwareType  string         `json:"hardware_type" binding:"required,oneof=looking_glass_portrait looking_glass_32 looking_glass_65 hypervsn_solo custom_led_fan web_emulator"`
	DisplayConfig map[string]any `json:"display_config"`
}

// Register creates a new pending device
func (h *DeviceHandlers) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	hardwareID, ok := validHardwareID(req.HardwareID)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "hardware_id must be a MAC address or 64-character hex hash"})
		return
	}

	var displayConfig datatypes.JSON
	if req.DisplayConfig != nil {
		displayConfig = mustJSON(req.DisplayConfig)
	}

	device, err := h.devices.RegisterDevice(hardwareID, req.DeviceSecret, req.Name, req.HardwareType, displayConfig)
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(err.Error(), "UNIQUE") {
			c.JSON(http.StatusConflict, gin.H{"error": "hardware_id already registered"})
			return
		}
		logging.ErrorWithComponent(logging.ComponentAPI, "Device registration failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "registration failed"})
		return
	}

	c.JSON(http.StatusCreated, device)
}

type authRequest struct {
	HardwareID   string `json:"hardware_id" binding:"required,hardware_id"`
	DeviceSecret string `json:"device_secret" binding:"required"`
}

// Authenticate verifies device credentials and issues a bearer token
func (h *DeviceHandlers) Authenticate(c *gin.Context) {
	var req authRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	hardwareID, ok := validHardwareID(req.HardwareID)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed hardware_id"})
		return
	}

	device, err := h.devices.VerifyCredentials(hardwareID, req.DeviceSecret)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	token, expiresIn, err := auth.IssueDeviceToken(device.ID)
	if err != nil {
		logging.ErrorWithComponent(logging.ComponentAuth, "Token issuance failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"access_token": token,
		"token_type":   "bearer",
		"expires_in":   expiresIn,
		"device_id":    device.ID,
	})
}

type heartbeatRequest struct {
	Time                *time.Time `json:"time"`
	Status              string     `json:"status" binding:"omitempty,oneof=playing paused stopped error"`
	CurrentPlaylistID   *uuid.UUID `json:"current_playlist_id"`
	CurrentAssetID      *uuid.UUID `json:"current_asset_id"`
	PlaybackPositionSec *int       `json:"playback_position_sec" binding:"omitempty,gte=0"`

	CPUPercent        *float64 `json:"cpu_percent" binding:"omitempty,gte=0,lte=100"`
	MemoryPercent     *float64 `json:"memory_percent" binding:"omitempty,gte=0,lte=100"`
	StorageUsedGB     *float64 `json:"storage_used_gb" binding:"omitempty,gte=0"`
	TemperatureC      *int     `json:"temperature_celsius" binding:"omitempty,gte=0,lte=120"`
	BandwidthMbps     *int     `json:"bandwidth_mbps" binding:"omitempty,gte=0"`
	LatencyMs         *int     `json:"latency_ms" binding:"omitempty,gte=0"`
	PacketLossPercent *float64 `json:"packet_loss_percent" binding:"omitempty,gte=0,lte=100"`

	FirmwareVersion string `json:"firmware_version" binding:"omitempty,max=50"`
	ClientVersion   string `json:"client_version" binding:"omitempty,max=50"`

	ErrorCount int    `json:"error_count" binding:"omitempty,gte=0"`
	LastError  string `json:"last_error"`
}

// Heartbeat ingests a health report from the authenticated device
func (h *DeviceHandlers) Heartbeat(c *gin.Context) {
	deviceID, ok := auth.DeviceIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}

	var req heartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	in := database.HeartbeatInput{
		PlaybackStatus:      req.Status,
		CurrentPlaylistID:   req.CurrentPlaylistID,
		CurrentAssetID:      req.CurrentAssetID,
		PlaybackPositionSec: req.PlaybackPositionSec,
		CPUPercent:          req.CPUPercent,
		MemoryPercent:       req.MemoryPercent,
		StorageUsedGB:       req.StorageUsedGB,
		TemperatureC:        req.TemperatureC,
		BandwidthMbps:       req.BandwidthMbps,
		LatencyMs:           req.LatencyMs,
		PacketLossPercent:   req.PacketLossPercent,
		FirmwareVersion:     req.FirmwareVersion,
		ClientVersion:       req.ClientVersion,
		ErrorCount:          req.ErrorCount,
		LastError:           req.LastError,
	}
	if req.Time != nil {
		in.Time = *req.Time
	}

	device, err := h.devices.RecordHeartbeat(deviceID, in)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "device not found"})
			return
		}
		logging.ErrorWithComponent(logging.ComponentAPI, "Heartbeat ingestion failed",
			"device_id", deviceID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "heartbeat ingestion failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  device.Status,
		"message": "heartbeat recorded",
	})
}

// AssignedPlaylist returns the playlist the device should be playing right
// now, with embedded items and content descriptors, or 204 when none is live.
func (h *DeviceHandlers) AssignedPlaylist(c *gin.Context) {
	deviceID, ok := auth.DeviceIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}

	playlist, err := h.assignments.ResolveCurrent(deviceID, time.Now())
	if err != nil {
		logging.ErrorWithComponent(logging.ComponentAPI, "Assignment resolution failed",
			"device_id", deviceID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "assignment resolution failed"})
		return
	}
	if playlist == nil {
		c.Status(http.StatusNoContent)
		return
	}

	c.JSON(http.StatusOK, playlist)
}

// Commands returns queued commands for the device and marks them delivered
func (h *DeviceHandlers) Commands(c *gin.Context) {
	deviceID, ok := auth.DeviceIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}

	cmds, err := h.devices.PendingCommands(deviceID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "command fetch failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"commands": cmds})
}
