package database

import (
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

func createTestAsset(t *testing.T, db *gorm.DB, name string) *Asset {
	t.Helper()
	asset := &Asset{
		Name:          name,
		MimeType:      "model/glb",
		FilePath:      "/data/assets/" + name,
		FileSizeBytes: 1024,
	}
	if err := db.Create(asset).Error; err != nil {
		t.Fatalf("creating asset: %v", err)
	}
	return asset
}

func positionsOf(t *testing.T, pls *PlaylistService, playlistID uuid.UUID) ([]int, []uuid.UUID) {
	t.Helper()
	playlist, err := pls.GetPlaylistByID(playlistID)
	if err != nil {
		t.Fatalf("loading playlist: %v", err)
	}
	positions := make([]int, len(playlist.Items))
	ids := make([]uuid.UUID, len(playlist.Items))
	for i, item := range playlist.Items {
		positions[i] = item.Position
		ids[i] = item.ID
	}
	return positions, ids
}

func TestAddItemKeepsPositionsDense(t *testing.T) {
	db := newTestDB(t)
	pls := NewPlaylistService(db)

	playlist, err := pls.CreatePlaylist("lobby loop", "")
	if err != nil {
		t.Fatal(err)
	}

	a := createTestAsset(t, db, "a.glb")
	b := createTestAsset(t, db, "b.glb")
	c := createTestAsset(t, db, "c.glb")

	if _, err := pls.AddItem(playlist.ID, a.ID, nil, 10, nil, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := pls.AddItem(playlist.ID, b.ID, nil, 20, nil, nil); err != nil {
		t.Fatal(err)
	}

	// Insert at the head; existing items shift
	head := 0
	inserted, err := pls.AddItem(playlist.ID, c.ID, &head, 30, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if inserted.Position != 0 {
		t.Errorf("inserted position = %d, want 0", inserted.Position)
	}

	positions, _ := positionsOf(t, pls, playlist.ID)
	for i, p := range positions {
		if p != i {
			t.Errorf("position[%d] = %d, positions not dense: %v", i, p, positions)
			break
		}
	}

	updated, err := pls.GetPlaylistByID(playlist.ID)
	if err != nil {
		t.Fatal(err)
	}
	if updated.ItemCount != 3 {
		t.Errorf("item_count = %d, want 3", updated.ItemCount)
	}
	if updated.TotalDurationSec != 60 {
		t.Errorf("total_duration_sec = %d, want 60", updated.TotalDurationSec)
	}
}

func TestRemoveItemCompactsPositions(t *testing.T) {
	db := newTestDB(t)
	pls := NewPlaylistService(db)

	playlist, err := pls.CreatePlaylist("atrium", "")
	if err != nil {
		t.Fatal(err)
	}
	var items []*PlaylistItem
	for _, name := range []string{"a.glb", "b.glb", "c.glb"} {
		asset := createTestAsset(t, db, name)
		item, err := pls.AddItem(playlist.ID, asset.ID, nil, 10, nil, nil)
		if err != nil {
			t.Fatal(err)
		}
		items = append(items, item)
	}

	if err := pls.RemoveItem(items[1].ID); err != nil {
		t.Fatal(err)
	}

	positions, ids := positionsOf(t, pls, playlist.ID)
	if len(positions) != 2 || positions[0] != 0 || positions[1] != 1 {
		t.Errorf("positions after removal = %v, want [0 1]", positions)
	}
	if ids[0] != items[0].ID || ids[1] != items[2].ID {
		t.Error("wrong items survived removal")
	}

	updated, _ := pls.GetPlaylistByID(playlist.ID)
	if updated.ItemCount != 2 || updated.TotalDurationSec != 20 {
		t.Errorf("derived fields = (%d, %d), want (2, 20)", updated.ItemCount, updated.TotalDurationSec)
	}
}

func TestReorderItems(t *testing.T) {
	db := newTestDB(t)
	pls := NewPlaylistService(db)

	playlist, err := pls.CreatePlaylist("window", "")
	if err != nil {
		t.Fatal(err)
	}
	var itemIDs []uuid.UUID
	for _, name := range []string{"a.glb", "b.glb", "c.glb"} {
		asset := createTestAsset(t, db, name)
		item, err := pls.AddItem(playlist.ID, asset.ID, nil, 10, nil, nil)
		if err != nil {
			t.Fatal(err)
		}
		itemIDs = append(itemIDs, item.ID)
	}

	reversed := []uuid.UUID{itemIDs[2], itemIDs[1], itemIDs[0]}
	if err := pls.ReorderItems(playlist.ID, reversed); err != nil {
		t.Fatalf("reorder: %v", err)
	}

	positions, ids := positionsOf(t, pls, playlist.ID)
	for i := range reversed {
		if positions[i] != i || ids[i] != reversed[i] {
			t.Errorf("after reorder item %d = %s at %d, want %s", i, ids[i], positions[i], reversed[i])
		}
	}

	// Partial reorder is rejected
	if err := pls.ReorderItems(playlist.ID, reversed[:2]); err == nil {
		t.Error("partial reorder accepted")
	}

	// So are duplicates and items of another playlist
	if err := pls.ReorderItems(playlist.ID, []uuid.UUID{itemIDs[0], itemIDs[0], itemIDs[1]}); err == nil {
		t.Error("duplicate item id accepted")
	}
	if err := pls.ReorderItems(playlist.ID, []uuid.UUID{itemIDs[0], itemIDs[1], uuid.New()}); err == nil {
		t.Error("foreign item id accepted")
	}

	positions, ids = positionsOf(t, pls, playlist.ID)
	for i := range reversed {
		if positions[i] != i || ids[i] != reversed[i] {
			t.Errorf("rejected reorders disturbed positions: item %d = %s at %d", i, ids[i], positions[i])
		}
	}
}

func TestUpdateItemDurationRecomputesTotal(t *testing.T) {
	db := newTestDB(t)
	pls := NewPlaylistService(db)

	playlist, err := pls.CreatePlaylist("hall", "")
	if err != nil {
		t.Fatal(err)
	}
	asset := createTestAsset(t, db, "a.glb")
	item, err := pls.AddItem(playlist.ID, asset.ID, nil, 10, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	if err := pls.UpdateItemDuration(item.ID, 45); err != nil {
		t.Fatal(err)
	}
	updated, _ := pls.GetPlaylistByID(playlist.ID)
	if updated.TotalDurationSec != 45 {
		t.Errorf("total_duration_sec = %d, want 45", updated.TotalDurationSec)
	}
}

func TestDeletePlaylistSoftDeletes(t *testing.T) {
	db := newTestDB(t)
	pls := NewPlaylistService(db)

	playlist, err := pls.CreatePlaylist("doomed", "")
	if err != nil {
		t.Fatal(err)
	}
	if err := pls.DeletePlaylist(playlist.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := pls.GetPlaylistByID(playlist.ID); err == nil {
		t.Error("deleted playlist still loads")
	}

	var count int64
	if err := db.Unscoped().Model(&Playlist{}).Where("id = ?", playlist.ID).Count(&count).Error; err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Error("playlist row physically removed, expected soft delete")
	}
}
