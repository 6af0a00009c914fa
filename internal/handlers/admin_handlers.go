package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/rmitchellscott/holofleet/internal/database"
	"github.com/rmitchellscott/holofleet/internal/logging"
)

// AdminHandlers exposes the operator API: fleet overview, lifecycle
// transitions, playlist management, and assignments.
type AdminHandlers struct {
	devices     *database.DeviceService
	playlists   *database.PlaylistService
	assignments *database.AssignmentService
	assets      *database.AssetService
}

func NewAdminHandlers(devices *database.DeviceService, playlists *database.PlaylistService, assignments *database.AssignmentService, assets *database.AssetService) *AdminHandlers {
	return &AdminHandlers{devices: devices, playlists: playlists, assignments: assignments, assets: assets}
}

func mustJSON(v any) datatypes.JSON {
	raw, err := json.Marshal(v)
	if err != nil {
		return datatypes.JSON("{}")
	}
	return datatypes.JSON(raw)
}

func parseUUIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return uuid.Nil, false
	}
	return id, true
}

// ListDevices returns all registered devices
func (h *AdminHandlers) ListDevices(c *gin.Context) {
	devices, err := h.devices.GetAllDevices()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list devices"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"devices": devices, "count": len(devices)})
}

// GetDevice returns one device by ID
func (h *AdminHandlers) GetDevice(c *gin.Context) {
	deviceID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	device, err := h.devices.GetDeviceByID(deviceID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "device not found"})
		return
	}
	c.JSON(http.StatusOK, device)
}

type statusRequest struct {
	Status string `json:"status" binding:"required,oneof=active maintenance decommissioned"`
}

// SetDeviceStatus applies an operator lifecycle transition
func (h *AdminHandlers) SetDeviceStatus(c *gin.Context) {
	deviceID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	device, err := h.devices.SetStatus(deviceID, req.Status)
	if err != nil {
		if errors.Is(err, database.ErrInvalidTransition) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "device not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "status update failed"})
		return
	}
	c.JSON(http.StatusOK, device)
}

// DeleteDevice retires a decommissioned device
func (h *AdminHandlers) DeleteDevice(c *gin.Context) {
	deviceID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	if err := h.devices.RetireDevice(deviceID); err != nil {
		if errors.Is(err, database.ErrInvalidTransition) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "device not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

type commandRequest struct {
	Command string         `json:"command" binding:"required,oneof=restart_playback clear_cache update_client reboot screenshot"`
	Params  map[string]any `json:"params"`
}

// SendCommand queues a command for a device to pick up
func (h *AdminHandlers) SendCommand(c *gin.Context) {
	deviceID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	var req commandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cmd, err := h.devices.EnqueueCommand(deviceID, req.Command, mustJSON(req.Params))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to queue command"})
		return
	}
	c.JSON(http.StatusCreated, cmd)
}

// FleetStats returns device counts by status
func (h *AdminHandlers) FleetStats(c *gin.Context) {
	stats, err := h.devices.GetDeviceStats()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute stats"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

type createPlaylistRequest struct {
	Name        string `json:"name" binding:"required,max=255"`
	Description string `json:"description" binding:"max=2000"`
}

// CreatePlaylist creates an empty playlist
func (h *AdminHandlers) CreatePlaylist(c *gin.Context) {
	var req createPlaylistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	playlist, err := h.playlists.CreatePlaylist(req.Name, req.Description)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "playlist creation failed"})
		return
	}
	c.JSON(http.StatusCreated, playlist)
}

// GetPlaylist returns a playlist with its ordered items
func (h *AdminHandlers) GetPlaylist(c *gin.Context) {
	playlistID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	playlist, err := h.playlists.GetPlaylistByID(playlistID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "playlist not found"})
		return
	}
	c.JSON(http.StatusOK, playlist)
}

type updatePlaylistRequest struct {
	Name                 *string `json:"name" binding:"omitempty,max=255"`
	Description          *string `json:"description"`
	LoopMode             *bool   `json:"loop_mode"`
	Shuffle              *bool   `json:"shuffle"`
	TransitionType       *string `json:"transition_type" binding:"omitempty,oneof=cut fade slide zoom"`
	TransitionDurationMs *int    `json:"transition_duration_ms" binding:"omitempty,gte=0,lte=10000"`
	IsActive             *bool   `json:"is_active"`
}

// UpdatePlaylist applies partial settings updates
func (h *AdminHandlers) UpdatePlaylist(c *gin.Context) {
	playlistID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	var req updatePlaylistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	updates := map[string]interface{}{}
	if req.Name != nil {
		updates["name"] = *req.Name
	}
	if req.Description != nil {
		updates["description"] = *req.Description
	}
	if req.LoopMode != nil {
		updates["loop_mode"] = *req.LoopMode
	}
	if req.Shuffle != nil {
		updates["shuffle"] = *req.Shuffle
	}
	if req.TransitionType != nil {
		updates["transition_type"] = *req.TransitionType
	}
	if req.TransitionDurationMs != nil {
		updates["transition_duration_ms"] = *req.TransitionDurationMs
	}
	if req.IsActive != nil {
		updates["is_active"] = *req.IsActive
	}
	if len(updates) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no fields to update"})
		return
	}

	if err := h.playlists.UpdatePlaylistSettings(playlistID, updates); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "playlist update failed"})
		return
	}
	playlist, err := h.playlists.GetPlaylistByID(playlistID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "playlist not found"})
		return
	}
	c.JSON(http.StatusOK, playlist)
}

// SetPlaylistSchedule replaces the playlist's recurrence schedule
func (h *AdminHandlers) SetPlaylistSchedule(c *gin.Context) {
	playlistID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	var raw json.RawMessage
	if err := c.ShouldBindJSON(&raw); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.playlists.SetSchedule(playlistID, datatypes.JSON(raw)); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "schedule update failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

// DeletePlaylist soft-deletes a playlist
func (h *AdminHandlers) DeletePlaylist(c *gin.Context) {
	playlistID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	if err := h.playlists.DeletePlaylist(playlistID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "playlist deletion failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

type addItemRequest struct {
	AssetID            uuid.UUID      `json:"asset_id" binding:"required"`
	Position           *int           `json:"position" binding:"omitempty,gte=0"`
	DurationSeconds    int            `json:"duration_seconds" binding:"omitempty,gte=1,lte=86400"`
	TransitionOverride *string        `json:"transition_override" binding:"omitempty,oneof=cut fade slide zoom"`
	CustomSettings     map[string]any `json:"custom_settings"`
}

// AddPlaylistItem appends or inserts an asset into a playlist
func (h *AdminHandlers) AddPlaylistItem(c *gin.Context) {
	playlistID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	var req addItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.DurationSeconds == 0 {
		req.DurationSeconds = 10
	}
	var settings datatypes.JSON
	if req.CustomSettings != nil {
		settings = mustJSON(req.CustomSettings)
	}
	item, err := h.playlists.AddItem(playlistID, req.AssetID, req.Position, req.DurationSeconds, req.TransitionOverride, settings)
	if err != nil {
		logging.ErrorWithComponent(logging.ComponentAPI, "Add playlist item failed",
			"playlist_id", playlistID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to add item"})
		return
	}
	c.JSON(http.StatusCreated, item)
}

// RemovePlaylistItem deletes an item and compacts positions
func (h *AdminHandlers) RemovePlaylistItem(c *gin.Context) {
	itemID, ok := parseUUIDParam(c, "itemId")
	if !ok {
		return
	}
	if err := h.playlists.RemoveItem(itemID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "item not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to remove item"})
		return
	}
	c.Status(http.StatusNoContent)
}

type reorderRequest struct {
	ItemIDs []uuid.UUID `json:"item_ids" binding:"required,min=1"`
}

// ReorderPlaylistItems replaces the ordering of all items in a playlist
func (h *AdminHandlers) ReorderPlaylistItems(c *gin.Context) {
	playlistID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	var req reorderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.playlists.ReorderItems(playlistID, req.ItemIDs); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

type itemDurationRequest struct {
	DurationSeconds int `json:"duration_seconds" binding:"required,gte=1,lte=86400"`
}

// UpdateItemDuration changes how long an item stays on screen
func (h *AdminHandlers) UpdateItemDuration(c *gin.Context) {
	itemID, ok := parseUUIDParam(c, "itemId")
	if !ok {
		return
	}
	var req itemDurationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.playlists.UpdateItemDuration(itemID, req.DurationSeconds); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update duration"})
		return
	}
	c.Status(http.StatusNoContent)
}

type assignRequest struct {
	PlaylistID       uuid.UUID      `json:"playlist_id" binding:"required"`
	ScheduleOverride map[string]any `json:"schedule_override"`
}

// AssignPlaylist attaches a playlist to a device
func (h *AdminHandlers) AssignPlaylist(c *gin.Context) {
	deviceID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	var req assignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var override datatypes.JSON
	if req.ScheduleOverride != nil {
		override = mustJSON(req.ScheduleOverride)
	}
	assignment, err := h.assignments.Assign(deviceID, req.PlaylistID, override)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "assignment failed"})
		return
	}
	c.JSON(http.StatusCreated, assignment)
}

// UnassignPlaylist detaches a playlist from a device
func (h *AdminHandlers) UnassignPlaylist(c *gin.Context) {
	deviceID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	playlistID, ok := parseUUIDParam(c, "playlistId")
	if !ok {
		return
	}
	if err := h.assignments.Unassign(deviceID, playlistID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unassignment failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

// ListDeviceAssignments returns a device's assignments, newest first
func (h *AdminHandlers) ListDeviceAssignments(c *gin.Context) {
	deviceID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	assignments, err := h.assignments.ListAssignments(deviceID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list assignments"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"assignments": assignments, "count": len(assignments)})
}
