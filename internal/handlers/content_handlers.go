package handlers

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"github.com/rmitchellscott/holofleet/internal/database"
	"github.com/rmitchellscott/holofleet/internal/logging"
)

// ContentHandlers serves content files to devices and accepts operator
// uploads.
type ContentHandlers struct {
	assets *database.AssetService
}

func NewContentHandlers(assets *database.AssetService) *ContentHandlers {
	return &ContentHandlers{assets: assets}
}

// Upload accepts a multipart content file and records its metadata. The
// response includes the computed SHA256 so operators can verify the upload.
func (h *ContentHandlers) Upload(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file field is required"})
		return
	}

	name := c.PostForm("name")
	if name == "" {
		name = filepath.Base(file.Filename)
	}
	mimeType := c.PostForm("mime_type")
	if mimeType == "" {
		mimeType = file.Header.Get("Content-Type")
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read uploaded file"})
		return
	}
	defer src.Close()

	asset, err := h.assets.StoreAsset(name, mimeType, src)
	if err != nil {
		logging.ErrorWithComponent(logging.ComponentAPI, "Asset upload failed", "name", name, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "upload failed"})
		return
	}

	logging.InfoWithComponent(logging.ComponentAPI, "Asset uploaded",
		"asset_id", asset.ID, "name", asset.Name, "size_bytes", asset.FileSizeBytes)
	c.JSON(http.StatusCreated, asset)
}

// ListAssets returns all content metadata
func (h *ContentHandlers) ListAssets(c *gin.Context) {
	assets, err := h.assets.ListAssets()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list assets"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"assets": assets, "count": len(assets)})
}

// GetAsset returns metadata for one content object
func (h *ContentHandlers) GetAsset(c *gin.Context) {
	assetID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	asset, err := h.assets.GetAssetByID(assetID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "asset not found"})
		return
	}
	c.JSON(http.StatusOK, asset)
}

// Download streams the content file. The SHA256 and length headers let
// clients verify integrity without a second metadata request.
func (h *ContentHandlers) Download(c *gin.Context) {
	assetID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	asset, err := h.assets.GetAssetByID(assetID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "asset not found"})
		return
	}

	if _, err := os.Stat(asset.FilePath); err != nil {
		logging.ErrorWithComponent(logging.ComponentAPI, "Asset file missing on disk",
			"asset_id", asset.ID, "path", asset.FilePath)
		c.JSON(http.StatusNotFound, gin.H{"error": "asset file missing"})
		return
	}

	c.Header("Content-Type", asset.MimeType)
	c.Header("Content-Length", fmt.Sprintf("%d", asset.FileSizeBytes))
	c.Header("X-Content-SHA256", asset.SHA256)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", asset.Name))
	c.File(asset.FilePath)
}

// DeleteAsset removes content that no playlist references
func (h *ContentHandlers) DeleteAsset(c *gin.Context) {
	assetID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	if err := h.assets.DeleteAsset(assetID); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}
