package database

import (
	"fmt"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// PlaylistService handles playlist and playlist item operations
type PlaylistService struct {
	db *gorm.DB
}

// NewPlaylistService creates a new playlist service
func NewPlaylistService(db *gorm.DB) *PlaylistService {
	return &PlaylistService{db: db}
}

// CreatePlaylist creates an empty playlist
func (pls *PlaylistService) CreatePlaylist(name, description string) (*Playlist, error) {
	playlist := &Playlist{
		Name:        name,
		Description: description,
		LoopMode:    true,
		IsActive:    true,
	}
	if err := pls.db.Create(playlist).Error; err != nil {
		return nil, err
	}
	return playlist, nil
}

// GetPlaylistByID returns a playlist with its items ordered by position
func (pls *PlaylistService) GetPlaylistByID(playlistID uuid.UUID) (*Playlist, error) {
	var playlist Playlist
	err := pls.db.Preload("Items", func(db *gorm.DB) *gorm.DB {
		return db.Order("playlist_items.position ASC")
	}).Preload("Items.Asset").First(&playlist, "id = ?", playlistID).Error
	if err != nil {
		return nil, err
	}
	return &playlist, nil
}

// UpdatePlaylistSettings updates playback-wide settings
func (pls *PlaylistService) UpdatePlaylistSettings(playlistID uuid.UUID, updates map[string]interface{}) error {
	return pls.db.Model(&Playlist{}).Where("id = ?", playlistID).Updates(updates).Error
}

// SetSchedule stores a serialized schedule on the playlist
func (pls *PlaylistService) SetSchedule(playlistID uuid.UUID, scheduleJSON datatypes.JSON) error {
	return pls.db.Model(&Playlist{}).Where("id = ?", playlistID).
		Update("schedule_config", scheduleJSON).Error
}

// AddItem appends an asset to a playlist, or inserts it at the given
// position, shifting later items. Derived counts are recomputed in the
// same transaction.
func (pls *PlaylistService) AddItem(playlistID, assetID uuid.UUID, position *int, durationSeconds int, transitionOverride *string, customSettings datatypes.JSON) (*PlaylistItem, error) {
	if durationSeconds <= 0 {
		durationSeconds = 10
	}

	var item *PlaylistItem
	err := pls.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&PlaylistItem{}).Where("playlist_id = ?", playlistID).Count(&count).Error; err != nil {
			return err
		}

		pos := int(count)
		if position != nil && *position >= 0 && *position < int(count) {
			pos = *position
			// Shift later items up in two passes through negative values;
			// a single in-place shift trips the unique (playlist, position)
			// index row by row on sqlite
			if err := tx.Model(&PlaylistItem{}).
				Where("playlist_id = ? AND position >= ?", playlistID, pos).
				Update("position", gorm.Expr("-position - 2")).Error; err != nil {
				return err
			}
			if err := tx.Model(&PlaylistItem{}).
				Where("playlist_id = ? AND position < 0", playlistID).
				Update("position", gorm.Expr("-position - 1")).Error; err != nil {
				return err
			}
		}

		item = &PlaylistItem{
			PlaylistID:         playlistID,
			AssetID:            assetID,
			Position:           pos,
			DurationSeconds:    durationSeconds,
			TransitionOverride: transitionOverride,
			CustomSettings:     customSettings,
		}
		if err := tx.Create(item).Error; err != nil {
			return err
		}

		return pls.recomputeDerived(tx, playlistID)
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// RemoveItem deletes a playlist item and compacts the remaining positions
func (pls *PlaylistService) RemoveItem(itemID uuid.UUID) error {
	return pls.db.Transaction(func(tx *gorm.DB) error {
		var item PlaylistItem
		if err := tx.First(&item, "id = ?", itemID).Error; err != nil {
			return err
		}

		if err := tx.Delete(&item).Error; err != nil {
			return err
		}

		// Same two-pass shift as AddItem, downward
		if err := tx.Model(&PlaylistItem{}).
			Where("playlist_id = ? AND position > ?", item.PlaylistID, item.Position).
			Update("position", gorm.Expr("-position")).Error; err != nil {
			return err
		}
		if err := tx.Model(&PlaylistItem{}).
			Where("playlist_id = ? AND position < 0", item.PlaylistID).
			Update("position", gorm.Expr("-position - 1")).Error; err != nil {
			return err
		}

		return pls.recomputeDerived(tx, item.PlaylistID)
	})
}

// ReorderItems rewrites item positions to match the given order. Every item
// of the playlist must appear exactly once.
func (pls *PlaylistService) ReorderItems(playlistID uuid.UUID, itemIDs []uuid.UUID) error {
	return pls.db.Transaction(func(tx *gorm.DB) error {
		var existingIDs []uuid.UUID
		if err := tx.Model(&PlaylistItem{}).Where("playlist_id = ?", playlistID).Pluck("id", &existingIDs).Error; err != nil {
			return err
		}
		if len(existingIDs) != len(itemIDs) {
			return fmt.Errorf("reorder must include all %d items, got %d", len(existingIDs), len(itemIDs))
		}
		existing := make(map[uuid.UUID]bool, len(existingIDs))
		for _, id := range existingIDs {
			existing[id] = true
		}
		seen := make(map[uuid.UUID]bool, len(itemIDs))
		for _, id := range itemIDs {
			if !existing[id] {
				return fmt.Errorf("item %s does not belong to the playlist", id)
			}
			if seen[id] {
				return fmt.Errorf("item %s listed more than once", id)
			}
			seen[id] = true
		}

		// Two passes to avoid tripping the unique (playlist, position) index
		for i, id := range itemIDs {
			if err := tx.Model(&PlaylistItem{}).
				Where("id = ? AND playlist_id = ?", id, playlistID).
				Update("position", -(i + 1)).Error; err != nil {
				return err
			}
		}
		if err := tx.Model(&PlaylistItem{}).
			Where("playlist_id = ?", playlistID).
			Update("position", gorm.Expr("-position - 1")).Error; err != nil {
			return err
		}

		return pls.recomputeDerived(tx, playlistID)
	})
}

// UpdateItemDuration changes an item's duration and recomputes totals
func (pls *PlaylistService) UpdateItemDuration(itemID uuid.UUID, durationSeconds int) error {
	return pls.db.Transaction(func(tx *gorm.DB) error {
		var item PlaylistItem
		if err := tx.First(&item, "id = ?", itemID).Error; err != nil {
			return err
		}
		if err := tx.Model(&item).Update("duration_seconds", durationSeconds).Error; err != nil {
			return err
		}
		return pls.recomputeDerived(tx, item.PlaylistID)
	})
}

// DeletePlaylist soft-deletes a playlist. Assignments referencing it stop
// resolving; devices keep playing their last synced copy.
func (pls *PlaylistService) DeletePlaylist(playlistID uuid.UUID) error {
	return pls.db.Delete(&Playlist{}, "id = ?", playlistID).Error
}

// recomputeDerived refreshes item_count and total_duration_sec from items
func (pls *PlaylistService) recomputeDerived(tx *gorm.DB, playlistID uuid.UUID) error {
	var count int64
	if err := tx.Model(&PlaylistItem{}).Where("playlist_id = ?", playlistID).Count(&count).Error; err != nil {
		return err
	}

	var total *int64
	if err := tx.Model(&PlaylistItem{}).Where("playlist_id = ?", playlistID).
		Select("SUM(duration_seconds)").Scan(&total).Error; err != nil {
		return err
	}
	totalSec := int64(0)
	if total != nil {
		totalSec = *total
	}

	return tx.Model(&Playlist{}).Where("id = ?", playlistID).Updates(map[string]interface{}{
		"item_count":         count,
		"total_duration_sec": totalSec,
	}).Error
}
