package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/rmitchellscott/holofleet/internal/auth"
	"github.com/rmitchellscott/holofleet/internal/database"
)

func newTestRouter(t *testing.T) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := db.AutoMigrate(database.GetAllModels()...); err != nil {
		t.Fatal(err)
	}

	deviceService := database.NewDeviceService(db)
	playlistService := database.NewPlaylistService(db)
	assignmentService := database.NewAssignmentService(db)
	assetService := database.NewAssetService(db)

	deviceHandlers := NewDeviceHandlers(deviceService, assignmentService)
	adminHandlers := NewAdminHandlers(deviceService, playlistService, assignmentService, assetService)

	router := gin.New()
	router.POST("/api/devices/register", deviceHandlers.Register)
	router.POST("/api/devices/auth", deviceHandlers.Authenticate)

	device := router.Group("/api/devices")
	device.Use(auth.DeviceAuthMiddleware())
	device.POST("/heartbeat", deviceHandlers.Heartbeat)
	device.GET("/playlist", deviceHandlers.AssignedPlaylist)

	router.PUT("/api/admin/devices/:id/status", adminHandlers.SetDeviceStatus)
	router.POST("/api/admin/devices/:id/assignments", adminHandlers.AssignPlaylist)
	router.GET("/api/admin/devices/stats", adminHandlers.FleetStats)

	return router, db
}

func doJSON(t *testing.T, router *gin.Engine, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func registerAndAuth(t *testing.T, router *gin.Engine) (deviceID uuid.UUID, token string) {
	t.Helper()

	w := doJSON(t, router, http.MethodPost, "/api/devices/register", "", map[string]any{
		"hardware_id":   "AA:BB:CC:DD:EE:10",
		"device_secret": "a-sufficiently-long-secret",
		"name":          "lobby portrait",
		"hardware_type": "looking_glass_portrait",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("register status = %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, router, http.MethodPost, "/api/devices/auth", "", map[string]any{
		"hardware_id":   "AA:BB:CC:DD:EE:10",
		"device_secret": "a-sufficiently-long-secret",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("auth status = %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		AccessToken string    `json:"access_token"`
		DeviceID    uuid.UUID `json:"device_id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	return resp.DeviceID, resp.AccessToken
}

func TestRegisterValidation(t *testing.T) {
	router, _ := newTestRouter(t)

	tests := []struct {
		name string
		body map[string]any
		want int
	}{
		{
			"valid mac",
			map[string]any{"hardware_id": "aa:bb:cc:dd:ee:ff", "device_secret": "a-sufficiently-long-secret", "name": "d", "hardware_type": "web_emulator"},
			http.StatusCreated,
		},
		{
			"valid tpm hash",
			map[string]any{"hardware_id": fmt.Sprintf("%064X", 0xbeef), "device_secret": "a-sufficiently-long-secret", "name": "d2", "hardware_type": "hypervsn_solo"},
			http.StatusCreated,
		},
		{
			"malformed hardware id",
			map[string]any{"hardware_id": "not-a-mac-address", "device_secret": "a-sufficiently-long-secret", "name": "d3", "hardware_type": "web_emulator"},
			http.StatusBadRequest,
		},
		{
			"short secret",
			map[string]any{"hardware_id": "aa:bb:cc:dd:ee:01", "device_secret": "short", "name": "d4", "hardware_type": "web_emulator"},
			http.StatusBadRequest,
		},
		{
			"unknown hardware type",
			map[string]any{"hardware_id": "aa:bb:cc:dd:ee:02", "device_secret": "a-sufficiently-long-secret", "name": "d5", "hardware_type": "crt_monitor"},
			http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, router, http.MethodPost, "/api/devices/register", "", tt.body)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestRegisterDuplicateHardwareID(t *testing.T) {
	router, _ := newTestRouter(t)
	registerAndAuth(t, router)

	w := doJSON(t, router, http.MethodPost, "/api/devices/register", "", map[string]any{
		"hardware_id":   "AA:BB:CC:DD:EE:10",
		"device_secret": "another-long-enough-secret",
		"name":          "imposter",
		"hardware_type": "web_emulator",
	})
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate registration status = %d, want 409", w.Code)
	}
}

func TestAuthRejectsWrongSecret(t *testing.T) {
	router, _ := newTestRouter(t)
	registerAndAuth(t, router)

	w := doJSON(t, router, http.MethodPost, "/api/devices/auth", "", map[string]any{
		"hardware_id":   "AA:BB:CC:DD:EE:10",
		"device_secret": "wrong-but-long-enough-secret",
	})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong secret status = %d, want 401", w.Code)
	}
}

func TestHeartbeatRequiresToken(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/devices/heartbeat", "", map[string]any{"status": "playing"})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated heartbeat status = %d, want 401", w.Code)
	}

	w = doJSON(t, router, http.MethodPost, "/api/devices/heartbeat", "garbage-token", map[string]any{"status": "playing"})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("bad token heartbeat status = %d, want 401", w.Code)
	}
}

func TestHeartbeatActivatesDevice(t *testing.T) {
	router, db := newTestRouter(t)
	deviceID, token := registerAndAuth(t, router)

	cpu := 42.5
	w := doJSON(t, router, http.MethodPost, "/api/devices/heartbeat", token, map[string]any{
		"status":      "playing",
		"cpu_percent": cpu,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("heartbeat status = %d: %s", w.Code, w.Body.String())
	}

	var device database.Device
	if err := db.First(&device, "id = ?", deviceID).Error; err != nil {
		t.Fatal(err)
	}
	if device.Status != database.StatusActive {
		t.Errorf("device status = %s after heartbeat, want active", device.Status)
	}

	var sample database.DeviceHeartbeat
	if err := db.First(&sample, "device_id = ?", deviceID).Error; err != nil {
		t.Fatal(err)
	}
	if sample.CPUPercent == nil || *sample.CPUPercent != cpu {
		t.Error("heartbeat sample missing reported cpu metric")
	}
}

func TestHeartbeatValidatesMetrics(t *testing.T) {
	router, _ := newTestRouter(t)
	_, token := registerAndAuth(t, router)

	w := doJSON(t, router, http.MethodPost, "/api/devices/heartbeat", token, map[string]any{
		"cpu_percent": 150.0,
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("cpu_percent 150 accepted, status = %d", w.Code)
	}
}

func TestAssignedPlaylistFlow(t *testing.T) {
	router, db := newTestRouter(t)
	deviceID, token := registerAndAuth(t, router)

	// Nothing assigned yet
	w := doJSON(t, router, http.MethodGet, "/api/devices/playlist", token, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("unassigned playlist status = %d, want 204", w.Code)
	}

	pls := database.NewPlaylistService(db)
	playlist, err := pls.CreatePlaylist("handler flow", "")
	if err != nil {
		t.Fatal(err)
	}
	asset := &database.Asset{Name: "a.glb", MimeType: "model/glb", FilePath: "/tmp/a.glb"}
	if err := db.Create(asset).Error; err != nil {
		t.Fatal(err)
	}
	if _, err := pls.AddItem(playlist.ID, asset.ID, nil, 10, nil, nil); err != nil {
		t.Fatal(err)
	}

	w = doJSON(t, router, http.MethodPost, "/api/admin/devices/"+deviceID.String()+"/assignments", "",
		map[string]any{"playlist_id": playlist.ID})
	if w.Code != http.StatusCreated {
		t.Fatalf("assign status = %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, router, http.MethodGet, "/api/devices/playlist", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("assigned playlist status = %d: %s", w.Code, w.Body.String())
	}
	var got database.Playlist
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.ID != playlist.ID || len(got.Items) != 1 {
		t.Errorf("playlist response = %v, want %v with 1 item", got.ID, playlist.ID)
	}
}

func TestSetDeviceStatusTransitionRules(t *testing.T) {
	router, _ := newTestRouter(t)
	deviceID, token := registerAndAuth(t, router)

	// Pending device cannot be moved to maintenance by an operator
	w := doJSON(t, router, http.MethodPut, "/api/admin/devices/"+deviceID.String()+"/status", "",
		map[string]any{"status": "maintenance"})
	if w.Code != http.StatusConflict {
		t.Errorf("pending->maintenance status = %d, want 409", w.Code)
	}

	// Activate via heartbeat, then maintenance is allowed
	if w := doJSON(t, router, http.MethodPost, "/api/devices/heartbeat", token, map[string]any{}); w.Code != http.StatusOK {
		t.Fatalf("heartbeat: %d", w.Code)
	}
	w = doJSON(t, router, http.MethodPut, "/api/admin/devices/"+deviceID.String()+"/status", "",
		map[string]any{"status": "maintenance"})
	if w.Code != http.StatusOK {
		t.Errorf("active->maintenance status = %d: %s", w.Code, w.Body.String())
	}

	// Status values outside the operator vocabulary are rejected up front
	w = doJSON(t, router, http.MethodPut, "/api/admin/devices/"+deviceID.String()+"/status", "",
		map[string]any{"status": "pending"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("operator set to pending status = %d, want 400", w.Code)
	}
}

func TestFleetStats(t *testing.T) {
	router, _ := newTestRouter(t)
	registerAndAuth(t, router)

	w := doJSON(t, router, http.MethodGet, "/api/admin/devices/stats", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("stats status = %d", w.Code)
	}
	var stats map[string]int64
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatal(err)
	}
	if stats["pending"] != 1 {
		t.Errorf("pending count = %d, want 1", stats["pending"])
	}
}
