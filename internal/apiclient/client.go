package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rmitchellscott/holofleet/internal/logging"
)

var (
	// ErrAuthFailure indicates rejected credentials or an expired token
	ErrAuthFailure = errors.New("authentication failed")
	// ErrNotFound indicates the requested resource does not exist
	ErrNotFound = errors.New("not found")
	// ErrNoAssignment indicates no playlist is currently live for the device
	ErrNoAssignment = errors.New("no playlist assigned")
)

// Client talks to the fleet control plane on behalf of one device. It holds
// the bearer token and re-authenticates transparently when the server
// returns 401.
type Client struct {
	baseURL      string
	hardwareID   string
	deviceSecret string
	httpClient   *http.Client

	mu       sync.Mutex
	token    string
	deviceID uuid.UUID
}

// Config holds client connection settings
type Config struct {
	BaseURL      string
	HardwareID   string
	DeviceSecret string
	Timeout      time.Duration
}

// New creates an API client. Requests share one HTTP client with a bounded
// timeout so a dead server never wedges the caller.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:      cfg.BaseURL,
		hardwareID:   cfg.HardwareID,
		deviceSecret: cfg.DeviceSecret,
		httpClient:   &http.Client{Timeout: timeout},
	}
}

// DeviceID returns the server-assigned device ID, zero until authenticated
func (c *Client) DeviceID() uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deviceID
}

type authResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresIn   int       `json:"expires_in"`
	DeviceID    uuid.UUID `json:"device_id"`
}

// Authenticate exchanges device credentials for a bearer token
func (c *Client) Authenticate(ctx context.Context) error {
	payload, _ := json.Marshal(map[string]string{
		"hardware_id":   c.hardwareID,
		"device_secret": c.deviceSecret,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/devices/auth", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("auth request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrAuthFailure
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("auth request: unexpected status %d", resp.StatusCode)
	}

	var auth authResponse
	if err := json.NewDecoder(resp.Body).Decode(&auth); err != nil {
		return fmt.Errorf("decoding auth response: %w", err)
	}

	c.mu.Lock()
	c.token = auth.AccessToken
	c.deviceID = auth.DeviceID
	c.mu.Unlock()

	logging.InfoWithComponent(logging.ComponentAgent, "Authenticated with control plane",
		"device_id", auth.DeviceID, "expires_in", auth.ExpiresIn)
	return nil
}

// do performs an authenticated request, re-authenticating once on 401. The
// caller owns the response body on success.
func (c *Client) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	for attempt := 0; attempt < 2; attempt++ {
		c.mu.Lock()
		token := c.token
		c.mu.Unlock()

		if token == "" {
			if err := c.Authenticate(ctx); err != nil {
				return nil, err
			}
			c.mu.Lock()
			token = c.token
			c.mu.Unlock()
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}

		if resp.StatusCode == http.StatusUnauthorized {
			resp.Body.Close()
			c.mu.Lock()
			c.token = ""
			c.mu.Unlock()
			continue
		}
		return resp, nil
	}
	return nil, ErrAuthFailure
}

// Heartbeat is the health report sent to the control plane. Pointer fields
// are omitted when the local collector could not produce them.
type Heartbeat struct {
	Time                time.Time  `json:"time"`
	Status              string     `json:"status,omitempty"`
	CurrentPlaylistID   *uuid.UUID `json:"current_playlist_id,omitempty"`
	CurrentAssetID      *uuid.UUID `json:"current_asset_id,omitempty"`
	PlaybackPositionSec *int       `json:"playback_position_sec,omitempty"`

	CPUPercent        *float64 `json:"cpu_percent,omitempty"`
	MemoryPercent     *float64 `json:"memory_percent,omitempty"`
	StorageUsedGB     *float64 `json:"storage_used_gb,omitempty"`
	TemperatureC      *int     `json:"temperature_celsius,omitempty"`
	BandwidthMbps     *int     `json:"bandwidth_mbps,omitempty"`
	LatencyMs         *int     `json:"latency_ms,omitempty"`
	PacketLossPercent *float64 `json:"packet_loss_percent,omitempty"`

	FirmwareVersion string `json:"firmware_version,omitempty"`
	ClientVersion   string `json:"client_version,omitempty"`

	ErrorCount int    `json:"error_count,omitempty"`
	LastError  string `json:"last_error,omitempty"`
}

// SendHeartbeat posts a health report
func (c *Client) SendHeartbeat(ctx context.Context, hb Heartbeat) error {
	if hb.Time.IsZero() {
		hb.Time = time.Now()
	}
	payload, err := json.Marshal(hb)
	if err != nil {
		return err
	}

	resp, err := c.do(ctx, http.MethodPost, "/api/devices/heartbeat", payload)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("heartbeat: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// PlaylistItem mirrors the control plane's playlist item payload
type PlaylistItem struct {
	ID                 uuid.UUID       `json:"id"`
	AssetID            uuid.UUID       `json:"asset_id"`
	Position           int             `json:"position"`
	DurationSeconds    int             `json:"duration_seconds"`
	TransitionOverride *string         `json:"transition_override,omitempty"`
	CustomSettings     json.RawMessage `json:"custom_settings,omitempty"`
	Asset              *Asset          `json:"asset,omitempty"`
}

// Asset mirrors the control plane's content metadata payload
type Asset struct {
	ID            uuid.UUID `json:"id"`
	Name          string    `json:"name"`
	MimeType      string    `json:"mime_type"`
	FileSizeBytes int64     `json:"file_size_bytes"`
	SHA256        string    `json:"sha256"`
}

// Playlist mirrors the control plane's playlist payload
type Playlist struct {
	ID                   uuid.UUID      `json:"id"`
	Name                 string         `json:"name"`
	LoopMode             bool           `json:"loop_mode"`
	Shuffle              bool           `json:"shuffle"`
	TransitionType       string         `json:"transition_type"`
	TransitionDurationMs int            `json:"transition_duration_ms"`
	ItemCount            int            `json:"item_count"`
	TotalDurationSec     int            `json:"total_duration_sec"`
	Items                []PlaylistItem `json:"items"`
}

// GetAssignment fetches the playlist the device should currently play.
// Returns ErrNoAssignment when nothing is live.
func (c *Client) GetAssignment(ctx context.Context) (*Playlist, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/devices/playlist", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNoContent:
		return nil, ErrNoAssignment
	case http.StatusNotFound:
		return nil, ErrNotFound
	default:
		return nil, fmt.Errorf("assignment fetch: unexpected status %d", resp.StatusCode)
	}

	var playlist Playlist
	if err := json.NewDecoder(resp.Body).Decode(&playlist); err != nil {
		return nil, fmt.Errorf("decoding playlist: %w", err)
	}
	return &playlist, nil
}

// DownloadContent opens a stream for a content file. The caller must close
// the returned body; expectedSHA256 comes from the response header when the
// server provides it.
func (c *Client) DownloadContent(ctx context.Context, assetID uuid.UUID) (body io.ReadCloser, length int64, expectedSHA256 string, err error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/devices/content/"+assetID.String()+"/download", nil)
	if err != nil {
		return nil, 0, "", err
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		resp.Body.Close()
		return nil, 0, "", ErrNotFound
	default:
		resp.Body.Close()
		return nil, 0, "", fmt.Errorf("content download: unexpected status %d", resp.StatusCode)
	}

	return resp.Body, resp.ContentLength, resp.Header.Get("X-Content-SHA256"), nil
}

// Command mirrors the control plane's queued command payload
type Command struct {
	ID      uuid.UUID       `json:"id"`
	Command string          `json:"command"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// GetCommands fetches queued commands for the device
func (c *Client) GetCommands(ctx context.Context) ([]Command, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/devices/commands", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("command fetch: unexpected status %d", resp.StatusCode)
	}

	var out struct {
		Commands []Command `json:"commands"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out.Commands, nil
}
