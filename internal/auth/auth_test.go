package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func TestDeviceTokenRoundTrip(t *testing.T) {
	deviceID := uuid.New()

	token, expiresIn, err := IssueDeviceToken(deviceID)
	if err != nil {
		t.Fatalf("issuing token: %v", err)
	}
	if expiresIn <= 0 {
		t.Errorf("expires_in = %d, want positive", expiresIn)
	}

	got, err := ParseDeviceToken(token)
	if err != nil {
		t.Fatalf("parsing token: %v", err)
	}
	if got != deviceID {
		t.Errorf("parsed device id = %s, want %s", got, deviceID)
	}
}

func TestParseDeviceTokenRejectsGarbage(t *testing.T) {
	for _, bad := range []string{"", "not.a.jwt", "eyJhbGciOiJub25lIn0.e30."} {
		if _, err := ParseDeviceToken(bad); err == nil {
			t.Errorf("ParseDeviceToken(%q) accepted", bad)
		}
	}
}

func TestDeviceAuthMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	deviceID := uuid.New()
	token, _, err := IssueDeviceToken(deviceID)
	if err != nil {
		t.Fatal(err)
	}

	router := gin.New()
	router.GET("/protected", DeviceAuthMiddleware(), func(c *gin.Context) {
		id, ok := DeviceIDFromContext(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, gin.H{"device_id": id})
	})

	t.Run("valid token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/protected", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", w.Code)
		}
	})

	t.Run("missing header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/protected", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", w.Code)
		}
	})

	t.Run("malformed token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/protected", nil)
		req.Header.Set("Authorization", "Bearer junk")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", w.Code)
		}
	})
}
