package database

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/rmitchellscott/holofleet/internal/logging"
	"github.com/rmitchellscott/holofleet/internal/schedule"
)

// AssignmentService binds playlists to devices and resolves which playlist
// is current for a device at a given instant.
type AssignmentService struct {
	db *gorm.DB
}

// NewAssignmentService creates a new assignment service
func NewAssignmentService(db *gorm.DB) *AssignmentService {
	return &AssignmentService{db: db}
}

// Assign binds a playlist to a device, with an optional per-device schedule
// override. Re-assigning an existing pair refreshes assigned_at and the
// override instead of creating a duplicate.
func (as *AssignmentService) Assign(deviceID, playlistID uuid.UUID, scheduleOverride datatypes.JSON) (*DeviceAssignment, error) {
	var assignment DeviceAssignment
	err := as.db.Transaction(func(tx *gorm.DB) error {
		err := tx.Where("device_id = ? AND playlist_id = ?", deviceID, playlistID).
			First(&assignment).Error
		switch {
		case err == nil:
			return tx.Model(&assignment).Updates(map[string]interface{}{
				"assigned_at":       time.Now(),
				"schedule_override": scheduleOverride,
			}).Error
		case errors.Is(err, gorm.ErrRecordNotFound):
			assignment = DeviceAssignment{
				DeviceID:         deviceID,
				PlaylistID:       playlistID,
				ScheduleOverride: scheduleOverride,
			}
			return tx.Create(&assignment).Error
		default:
			return err
		}
	})
	if err != nil {
		return nil, err
	}

	logging.InfoWithComponent(logging.ComponentRegistry, "Assigned playlist",
		"device_id", deviceID, "playlist_id", playlistID)
	return &assignment, nil
}

// Unassign removes a device/playlist binding
func (as *AssignmentService) Unassign(deviceID, playlistID uuid.UUID) error {
	return as.db.Where("device_id = ? AND playlist_id = ?", deviceID, playlistID).
		Delete(&DeviceAssignment{}).Error
}

// ListAssignments returns all assignments for a device, newest first
func (as *AssignmentService) ListAssignments(deviceID uuid.UUID) ([]DeviceAssignment, error) {
	var assignments []DeviceAssignment
	err := as.db.Where("device_id = ?", deviceID).
		Order("assigned_at DESC").Find(&assignments).Error
	return assignments, err
}

// ResolveCurrent returns the playlist that should be playing on a device at
// the given instant, or nil when no assignment is live. Overlapping live
// assignments are settled by schedule priority, then by most recent
// assignment. The device's current playlist reference is updated to match.
func (as *AssignmentService) ResolveCurrent(deviceID uuid.UUID, now time.Time) (*Playlist, error) {
	assignments, err := as.ListAssignments(deviceID)
	if err != nil {
		return nil, err
	}
	if len(assignments) == 0 {
		return nil, nil
	}

	type liveEntry struct {
		playlistID uuid.UUID
	}
	var live []liveEntry
	var cands []schedule.Candidate

	for _, a := range assignments {
		var playlist Playlist
		if err := as.db.First(&playlist, "id = ?", a.PlaylistID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				continue // playlist soft-deleted since assignment
			}
			return nil, err
		}

		sched, err := decodeSchedule(a.ScheduleOverride)
		if err != nil {
			logging.WarnWithComponent(logging.ComponentRegistry, "Bad schedule override, falling back to playlist schedule",
				"assignment_id", a.ID, "error", err)
			sched = nil
		}
		if sched == nil {
			if sched, err = decodeSchedule(playlist.ScheduleConfig); err != nil {
				logging.WarnWithComponent(logging.ComponentRegistry, "Bad playlist schedule, treating as unscheduled",
					"playlist_id", playlist.ID, "error", err)
				sched = nil
			}
		}

		if !schedule.IsLive(sched, playlist.IsActive, now) {
			continue
		}

		priority := 0
		if sched != nil {
			priority = sched.Priority
		}
		live = append(live, liveEntry{playlistID: playlist.ID})
		cands = append(cands, schedule.Candidate{Priority: priority, AssignedAt: a.AssignedAt})
	}

	winner := schedule.Pick(cands)
	if winner < 0 {
		return nil, nil
	}

	playlistID := live[winner].playlistID
	if err := as.db.Model(&Device{}).Where("id = ?", deviceID).
		Update("current_playlist_id", playlistID).Error; err != nil {
		return nil, err
	}

	pls := NewPlaylistService(as.db)
	return pls.GetPlaylistByID(playlistID)
}

// decodeSchedule parses a serialized schedule, returning nil for empty input
func decodeSchedule(raw datatypes.JSON) (*schedule.Schedule, error) {
	if len(raw) == 0 || string(raw) == "null" || string(raw) == "{}" {
		return nil, nil
	}
	var s schedule.Schedule
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return &s, nil
}
