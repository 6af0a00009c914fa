package database

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rmitchellscott/holofleet/internal/config"
)

// AssetService manages content files and their metadata rows. Files live
// under DATA_DIR/assets, named by asset ID so renames never collide.
type AssetService struct {
	db      *gorm.DB
	rootDir string
}

func NewAssetService(db *gorm.DB) *AssetService {
	dataDir := config.Get("DATA_DIR", "/data")
	return &AssetService{
		db:      db,
		rootDir: filepath.Join(dataDir, "assets"),
	}
}

// StoreAsset streams content to disk, hashes it, and records the asset row.
// The file is written to a temp path and renamed in only after the full
// stream is consumed, so a failed upload leaves nothing behind.
func (as *AssetService) StoreAsset(name, mimeType string, r io.Reader) (*Asset, error) {
	if err := os.MkdirAll(as.rootDir, 0755); err != nil {
		return nil, fmt.Errorf("creating asset directory: %w", err)
	}

	asset := &Asset{
		ID:       uuid.New(),
		Name:     name,
		MimeType: mimeType,
	}

	finalPath := filepath.Join(as.rootDir, asset.ID.String())
	tmpPath := finalPath + ".partial"

	f, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("creating asset file: %w", err)
	}

	hasher := sha256.New()
	written, err := io.Copy(f, io.TeeReader(r, hasher))
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("writing asset file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("closing asset file: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("committing asset file: %w", err)
	}

	asset.FilePath = finalPath
	asset.FileSizeBytes = written
	asset.SHA256 = hex.EncodeToString(hasher.Sum(nil))

	if err := as.db.Create(asset).Error; err != nil {
		os.Remove(finalPath)
		return nil, fmt.Errorf("recording asset: %w", err)
	}
	return asset, nil
}

func (as *AssetService) GetAssetByID(assetID uuid.UUID) (*Asset, error) {
	var asset Asset
	if err := as.db.First(&asset, "id = ?", assetID).Error; err != nil {
		return nil, err
	}
	return &asset, nil
}

func (as *AssetService) ListAssets() ([]Asset, error) {
	var assets []Asset
	err := as.db.Order("created_at DESC").Find(&assets).Error
	return assets, err
}

// DeleteAsset removes the metadata row and the backing file. Deletion is
// refused while any playlist still references the asset.
func (as *AssetService) DeleteAsset(assetID uuid.UUID) error {
	var refs int64
	if err := as.db.Model(&PlaylistItem{}).Where("asset_id = ?", assetID).Count(&refs).Error; err != nil {
		return err
	}
	if refs > 0 {
		return fmt.Errorf("asset is referenced by %d playlist item(s)", refs)
	}

	asset, err := as.GetAssetByID(assetID)
	if err != nil {
		return err
	}
	if err := as.db.Delete(&Asset{}, "id = ?", assetID).Error; err != nil {
		return err
	}
	if asset.FilePath != "" {
		if err := os.Remove(asset.FilePath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing asset file: %w", err)
		}
	}
	return nil
}
