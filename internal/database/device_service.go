package database

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/rmitchellscott/holofleet/internal/config"
	"github.com/rmitchellscott/holofleet/internal/logging"
)

var (
	// ErrInvalidTransition is returned for a status change the device
	// lifecycle does not allow.
	ErrInvalidTransition = errors.New("invalid device status transition")

	// ErrBadCredentials is returned when a device secret does not match.
	ErrBadCredentials = errors.New("invalid device credentials")
)

// operatorTransitions lists the status changes an operator may request.
// Heartbeats and liveness checks drive the pending/active/offline moves.
var operatorTransitions = map[string][]string{
	StatusActive:      {StatusMaintenance, StatusDecommissioned},
	StatusOffline:     {StatusMaintenance, StatusDecommissioned},
	StatusPending:     {StatusDecommissioned},
	StatusMaintenance: {StatusActive, StatusDecommissioned},
	// StatusDecommissioned is terminal
}

// DeviceService handles the device registry and its lifecycle state machine
type DeviceService struct {
	db               *gorm.DB
	failureThreshold int
}

// NewDeviceService creates a new device service. The number of consecutive
// liveness failures that flips a device offline comes from
// DEVICE_OFFLINE_THRESHOLD (default 3).
func NewDeviceService(db *gorm.DB) *DeviceService {
	return &DeviceService{
		db:               db,
		failureThreshold: config.GetInt("DEVICE_OFFLINE_THRESHOLD", 3),
	}
}

// FailureThreshold returns the configured offline threshold.
func (ds *DeviceService) FailureThreshold() int {
	return ds.failureThreshold
}

// RegisterDevice creates a new device in pending status. The secret is
// stored as a bcrypt hash and never returned.
func (ds *DeviceService) RegisterDevice(hardwareID, secret, name, hardwareType string, displayConfig datatypes.JSON) (*Device, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash device secret: %w", err)
	}

	device := &Device{
		HardwareID:    hardwareID,
		SecretHash:    string(hash),
		Name:          name,
		HardwareType:  hardwareType,
		DisplayConfig: displayConfig,
		Status:        StatusPending,
	}

	if err := ds.db.Create(device).Error; err != nil {
		return nil, err
	}

	logging.InfoWithComponent(logging.ComponentRegistry, "Registered device",
		"hardware_id", hardwareID, "device_id", device.ID)
	return device, nil
}

// VerifyCredentials looks up a device by hardware id and checks its secret.
func (ds *DeviceService) VerifyCredentials(hardwareID, secret string) (*Device, error) {
	device, err := ds.GetDeviceByHardwareID(hardwareID)
	if err != nil {
		return nil, err
	}
	if device.Status == StatusDecommissioned {
		return nil, ErrBadCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(device.SecretHash), []byte(secret)) != nil {
		return nil, ErrBadCredentials
	}
	return device, nil
}

// GetDeviceByID returns a device by its ID
func (ds *DeviceService) GetDeviceByID(deviceID uuid.UUID) (*Device, error) {
	var device Device
	if err := ds.db.First(&device, "id = ?", deviceID).Error; err != nil {
		return nil, err
	}
	return &device, nil
}

// GetDeviceByHardwareID returns a device by its hardware fingerprint
func (ds *DeviceService) GetDeviceByHardwareID(hardwareID string) (*Device, error) {
	var device Device
	if err := ds.db.First(&device, "hardware_id = ?", hardwareID).Error; err != nil {
		return nil, err
	}
	return &device, nil
}

// HeartbeatInput is a structured heartbeat payload. All metric fields are
// pointers so an absent metric is distinguishable from a zero reading.
type HeartbeatInput struct {
	Time time.Time

	PlaybackStatus      string
	CurrentPlaylistID   *uuid.UUID
	CurrentAssetID      *uuid.UUID
	PlaybackPositionSec *int

	CPUPercent        *float64
	MemoryPercent     *float64
	StorageUsedGB     *float64
	TemperatureC      *int
	BandwidthMbps     *int
	LatencyMs         *int
	PacketLossPercent *float64

	FirmwareVersion string
	ClientVersion   string

	ErrorCount int
	LastError  string
}

// RecordHeartbeat ingests a heartbeat for a device. It always resets the
// consecutive failure counter; time-ordered fields are only updated when the
// heartbeat is not older than the stored last_heartbeat, keeping
// last_heartbeat monotonic under out-of-order delivery. Pending and offline
// devices move to active. The whole update runs in one transaction so
// concurrent heartbeats for the same device serialize at the row.
func (ds *DeviceService) RecordHeartbeat(deviceID uuid.UUID, in HeartbeatInput) (*Device, error) {
	if in.Time.IsZero() {
		in.Time = time.Now()
	}

	var device Device
	err := ds.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&device, "id = ?", deviceID).Error; err != nil {
			return err
		}

		stale := device.LastHeartbeat != nil && in.Time.Before(*device.LastHeartbeat)

		updates := map[string]interface{}{
			"consecutive_failures": 0,
		}

		if !stale {
			updates["last_heartbeat"] = in.Time

			if in.CurrentPlaylistID != nil {
				updates["current_playlist_id"] = in.CurrentPlaylistID
			}
			if in.CurrentAssetID != nil {
				updates["current_asset_id"] = in.CurrentAssetID
			}
			if in.PlaybackPositionSec != nil {
				updates["playback_position_sec"] = in.PlaybackPositionSec
			}
			if in.StorageUsedGB != nil {
				updates["storage_used_gb"] = *in.StorageUsedGB
			}
			if in.FirmwareVersion != "" {
				updates["firmware_version"] = in.FirmwareVersion
			}
			if in.ClientVersion != "" {
				updates["client_version"] = in.ClientVersion
			}
		}

		// Heartbeats bring pending and offline devices back to active.
		// Maintenance and decommissioned states are operator-controlled.
		if device.Status == StatusPending || device.Status == StatusOffline {
			updates["status"] = StatusActive
		}

		if err := tx.Model(&device).Updates(updates).Error; err != nil {
			return err
		}

		sample := DeviceHeartbeat{
			DeviceID:            device.ID,
			Time:                in.Time,
			CPUPercent:          in.CPUPercent,
			MemoryPercent:       in.MemoryPercent,
			StorageUsedGB:       in.StorageUsedGB,
			TemperatureC:        in.TemperatureC,
			BandwidthMbps:       in.BandwidthMbps,
			LatencyMs:           in.LatencyMs,
			PacketLossPercent:   in.PacketLossPercent,
			PlaybackStatus:      in.PlaybackStatus,
			CurrentPlaylistID:   in.CurrentPlaylistID,
			CurrentAssetID:      in.CurrentAssetID,
			PlaybackPositionSec: in.PlaybackPositionSec,
			ErrorCount:          in.ErrorCount,
			LastError:           in.LastError,
		}
		return tx.Create(&sample).Error
	})
	if err != nil {
		return nil, err
	}

	return ds.GetDeviceByID(deviceID)
}

// RecordLivenessFailure increments a device's consecutive failure counter.
// When the counter reaches the threshold an active device goes offline.
func (ds *DeviceService) RecordLivenessFailure(deviceID uuid.UUID) (*Device, error) {
	var device Device
	err := ds.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&device, "id = ?", deviceID).Error; err != nil {
			return err
		}

		device.ConsecutiveFailures++
		updates := map[string]interface{}{
			"consecutive_failures": device.ConsecutiveFailures,
		}

		if device.Status == StatusActive && device.ConsecutiveFailures >= ds.failureThreshold {
			updates["status"] = StatusOffline
			device.Status = StatusOffline
			logging.WarnWithComponent(logging.ComponentRegistry, "Device went offline",
				"device_id", device.ID, "failures", device.ConsecutiveFailures)
		}

		return tx.Model(&Device{}).Where("id = ?", deviceID).Updates(updates).Error
	})
	if err != nil {
		return nil, err
	}
	return ds.GetDeviceByID(deviceID)
}

// SetStatus applies an operator-requested status transition after checking
// it against the lifecycle table.
func (ds *DeviceService) SetStatus(deviceID uuid.UUID, newStatus string) (*Device, error) {
	device, err := ds.GetDeviceByID(deviceID)
	if err != nil {
		return nil, err
	}

	allowed := false
	for _, s := range operatorTransitions[device.Status] {
		if s == newStatus {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, device.Status, newStatus)
	}

	if err := ds.db.Model(device).Update("status", newStatus).Error; err != nil {
		return nil, err
	}
	device.Status = newStatus

	logging.InfoWithComponent(logging.ComponentRegistry, "Device status changed",
		"device_id", device.ID, "status", newStatus)
	return device, nil
}

// RetireDevice soft-deletes a decommissioned device. Rows are never
// physically removed.
func (ds *DeviceService) RetireDevice(deviceID uuid.UUID) error {
	device, err := ds.GetDeviceByID(deviceID)
	if err != nil {
		return err
	}
	if device.Status != StatusDecommissioned {
		return fmt.Errorf("%w: only decommissioned devices can be retired", ErrInvalidTransition)
	}
	return ds.db.Delete(device).Error
}

// ListStaleDevices returns active devices whose last heartbeat is older than
// the cutoff, plus active devices that never sent one. The liveness poller
// turns these into failure counts.
func (ds *DeviceService) ListStaleDevices(cutoff time.Time) ([]Device, error) {
	var devices []Device
	err := ds.db.
		Where("status = ?", StatusActive).
		Where("last_heartbeat IS NULL OR last_heartbeat < ?", cutoff).
		Find(&devices).Error
	return devices, err
}

// GetAllDevices returns all devices ordered by creation time
func (ds *DeviceService) GetAllDevices() ([]Device, error) {
	var devices []Device
	err := ds.db.Order("created_at DESC").Find(&devices).Error
	return devices, err
}

// GetDeviceStats returns fleet-wide device counts by status
func (ds *DeviceService) GetDeviceStats() (map[string]int64, error) {
	stats := map[string]int64{}
	for _, status := range []string{StatusPending, StatusActive, StatusOffline, StatusMaintenance, StatusDecommissioned} {
		var count int64
		if err := ds.db.Model(&Device{}).Where("status = ?", status).Count(&count).Error; err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, nil
}

// EnqueueCommand queues a fire-and-forget command for a device. Commands
// never change device status.
func (ds *DeviceService) EnqueueCommand(deviceID uuid.UUID, command string, params datatypes.JSON) (*DeviceCommand, error) {
	cmd := &DeviceCommand{
		DeviceID: deviceID,
		Command:  command,
		Params:   params,
		Status:   "pending",
	}
	if err := ds.db.Create(cmd).Error; err != nil {
		return nil, err
	}
	return cmd, nil
}

// PendingCommands returns queued commands for a device and marks them delivered.
func (ds *DeviceService) PendingCommands(deviceID uuid.UUID) ([]DeviceCommand, error) {
	var cmds []DeviceCommand
	err := ds.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("device_id = ? AND status = ?", deviceID, "pending").
			Order("created_at ASC").Find(&cmds).Error; err != nil {
			return err
		}
		if len(cmds) == 0 {
			return nil
		}
		ids := make([]uuid.UUID, len(cmds))
		for i, c := range cmds {
			ids[i] = c.ID
		}
		return tx.Model(&DeviceCommand{}).Where("id IN ?", ids).
			Update("status", "delivered").Error
	})
	return cmds, err
}

// CleanupOldHeartbeats removes heartbeat samples older than the given age.
func (ds *DeviceService) CleanupOldHeartbeats(olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	result := ds.db.Where("time < ?", cutoff).Delete(&DeviceHeartbeat{})
	return result.RowsAffected, result.Error
}
