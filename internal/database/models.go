package database

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Device statuses. Transitions happen only through heartbeat ingestion,
// liveness checks, or explicit operator actions.
const (
	StatusPending        = "pending"
	StatusActive         = "active"
	StatusOffline        = "offline"
	StatusMaintenance    = "maintenance"
	StatusDecommissioned = "decommissioned"
)

// Device represents a holographic display unit registered with the fleet
type Device struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	HardwareID string    `gorm:"size:255;not null;uniqueIndex" json:"hardware_id"` // MAC address or TPM hash, immutable
	SecretHash string    `gorm:"size:255;not null" json:"-"`                       // bcrypt hash of the device secret
	Name       string    `gorm:"size:255" json:"name,omitempty"`

	HardwareType  string         `gorm:"size:100;not null" json:"hardware_type"`
	DisplayConfig datatypes.JSON `gorm:"type:text" json:"display_config,omitempty"`

	Status              string     `gorm:"size:20;not null;default:pending;index" json:"status"`
	LastHeartbeat       *time.Time `json:"last_heartbeat,omitempty"`
	ConsecutiveFailures int        `gorm:"default:0" json:"consecutive_failures"`

	// Last reported playback state
	CurrentPlaylistID   *uuid.UUID `gorm:"type:uuid" json:"current_playlist_id,omitempty"`
	CurrentAssetID      *uuid.UUID `gorm:"type:uuid" json:"current_asset_id,omitempty"`
	PlaybackPositionSec *int       `json:"playback_position_sec,omitempty"`

	// Last reported versions and storage
	FirmwareVersion string  `gorm:"size:50" json:"firmware_version,omitempty"`
	ClientVersion   string  `gorm:"size:50" json:"client_version,omitempty"`
	StorageUsedGB   float64 `json:"storage_used_gb,omitempty"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"` // Devices are soft-retired, never physically deleted

	// Associations
	Assignments []DeviceAssignment `gorm:"foreignKey:DeviceID;constraint:OnDelete:CASCADE" json:"-"`
	Heartbeats  []DeviceHeartbeat  `gorm:"foreignKey:DeviceID;constraint:OnDelete:CASCADE" json:"-"`
}

func (d *Device) BeforeCreate(tx *gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return nil
}

// Asset represents a content object devices download and display
type Asset struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name          string    `gorm:"size:255;not null" json:"name"`
	MimeType      string    `gorm:"size:100;not null" json:"mime_type"` // model/glb, quilt/png, ...
	FilePath      string    `gorm:"size:1000;not null" json:"file_path"`
	FileSizeBytes int64     `json:"file_size_bytes"`
	SHA256        string    `gorm:"size:64" json:"sha256,omitempty"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (a *Asset) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

// Playlist represents an ordered, schedulable sequence of assets
type Playlist struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name        string    `gorm:"size:255;not null" json:"name"`
	Description string    `gorm:"type:text" json:"description,omitempty"`

	// Playback settings
	LoopMode             bool   `gorm:"default:true" json:"loop_mode"`
	Shuffle              bool   `gorm:"default:false" json:"shuffle"`
	TransitionType       string `gorm:"size:50;default:fade" json:"transition_type"`
	TransitionDurationMs int    `gorm:"default:500" json:"transition_duration_ms"`

	// Serialized schedule.Schedule; empty means always live while active
	ScheduleConfig datatypes.JSON `gorm:"type:text" json:"schedule_config,omitempty"`

	IsActive bool `gorm:"default:true;index" json:"is_active"`

	// Derived fields, recomputed on every item mutation
	ItemCount        int `gorm:"default:0" json:"item_count"`
	TotalDurationSec int `gorm:"default:0" json:"total_duration_sec"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	// Associations
	Items []PlaylistItem `gorm:"foreignKey:PlaylistID;constraint:OnDelete:CASCADE" json:"items,omitempty"`
}

func (p *Playlist) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// PlaylistItem represents an asset within a playlist with ordering and
// per-item overrides. Positions are dense and unique within a playlist.
type PlaylistItem struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	PlaylistID uuid.UUID `gorm:"type:uuid;not null;index;uniqueIndex:uq_playlist_position,priority:1" json:"playlist_id"`
	AssetID    uuid.UUID `gorm:"type:uuid;not null;index" json:"asset_id"`

	Position        int `gorm:"not null;uniqueIndex:uq_playlist_position,priority:2" json:"position"`
	DurationSeconds int `gorm:"default:10" json:"duration_seconds"`

	TransitionOverride *string        `gorm:"size:50" json:"transition_override,omitempty"`
	CustomSettings     datatypes.JSON `gorm:"type:text" json:"custom_settings,omitempty"`

	CreatedAt time.Time `json:"created_at"`

	// Associations
	Asset Asset `gorm:"foreignKey:AssetID" json:"asset"`
}

func (pi *PlaylistItem) BeforeCreate(tx *gorm.DB) error {
	if pi.ID == uuid.Nil {
		pi.ID = uuid.New()
	}
	return nil
}

// DeviceAssignment binds a playlist to a device. Historical assignments are
// retained; the current playlist is resolved from live assignments at read
// time, so a device never holds more than one current playlist.
type DeviceAssignment struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	DeviceID   uuid.UUID `gorm:"type:uuid;not null;index;uniqueIndex:uq_device_playlist,priority:1" json:"device_id"`
	PlaylistID uuid.UUID `gorm:"type:uuid;not null;index;uniqueIndex:uq_device_playlist,priority:2" json:"playlist_id"`

	AssignedAt time.Time `gorm:"not null" json:"assigned_at"`

	// Per-device override of the playlist schedule, serialized schedule.Schedule
	ScheduleOverride datatypes.JSON `gorm:"type:text" json:"schedule_override,omitempty"`

	CreatedAt time.Time `json:"created_at"`

	// Associations
	Device   Device   `gorm:"foreignKey:DeviceID" json:"-"`
	Playlist Playlist `gorm:"foreignKey:PlaylistID" json:"-"`
}

func (da *DeviceAssignment) BeforeCreate(tx *gorm.DB) error {
	if da.ID == uuid.Nil {
		da.ID = uuid.New()
	}
	if da.AssignedAt.IsZero() {
		da.AssignedAt = time.Now()
	}
	return nil
}

// DeviceHeartbeat is a time-series health sample reported by a device.
// Metric fields are pointers: absent means "not reported", never zero.
type DeviceHeartbeat struct {
	ID       uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	DeviceID uuid.UUID `gorm:"type:uuid;not null;index" json:"device_id"`
	Time     time.Time `gorm:"not null;index" json:"time"`

	CPUPercent        *float64 `json:"cpu_percent,omitempty"`
	MemoryPercent     *float64 `json:"memory_percent,omitempty"`
	StorageUsedGB     *float64 `json:"storage_used_gb,omitempty"`
	TemperatureC      *int     `json:"temperature_celsius,omitempty"`
	BandwidthMbps     *int     `json:"bandwidth_mbps,omitempty"`
	LatencyMs         *int     `json:"latency_ms,omitempty"`
	PacketLossPercent *float64 `json:"packet_loss_percent,omitempty"`

	PlaybackStatus      string     `gorm:"size:20" json:"playback_status,omitempty"` // playing, paused, stopped, error
	CurrentPlaylistID   *uuid.UUID `gorm:"type:uuid" json:"current_playlist_id,omitempty"`
	CurrentAssetID      *uuid.UUID `gorm:"type:uuid" json:"current_asset_id,omitempty"`
	PlaybackPositionSec *int       `json:"playback_position_sec,omitempty"`

	ErrorCount int    `gorm:"default:0" json:"error_count"`
	LastError  string `gorm:"type:text" json:"last_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`

	// Associations
	Device Device `gorm:"foreignKey:DeviceID" json:"-"`
}

func (hb *DeviceHeartbeat) BeforeCreate(tx *gorm.DB) error {
	if hb.ID == uuid.Nil {
		hb.ID = uuid.New()
	}
	if hb.Time.IsZero() {
		hb.Time = time.Now()
	}
	return nil
}

// DeviceCommand is a fire-and-forget command queued for a device.
// Sending a command never changes device status.
type DeviceCommand struct {
	ID       uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	DeviceID uuid.UUID      `gorm:"type:uuid;not null;index" json:"device_id"`
	Command  string         `gorm:"size:50;not null" json:"command"` // play, pause, stop, reboot, clear_cache, screenshot
	Params   datatypes.JSON `gorm:"type:text" json:"params,omitempty"`
	Status   string         `gorm:"size:20;default:pending" json:"status"` // pending, delivered, completed, failed

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Associations
	Device Device `gorm:"foreignKey:DeviceID" json:"-"`
}

func (dc *DeviceCommand) BeforeCreate(tx *gorm.DB) error {
	if dc.ID == uuid.Nil {
		dc.ID = uuid.New()
	}
	return nil
}

// GetAllModels returns all models for auto-migration
func GetAllModels() []interface{} {
	return []interface{}{
		&Device{},
		&Asset{},
		&Playlist{},
		&PlaylistItem{},
		&DeviceAssignment{},
		&DeviceHeartbeat{},
		&DeviceCommand{},
	}
}
