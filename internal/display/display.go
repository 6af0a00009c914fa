package display

import (
	"fmt"

	"github.com/rmitchellscott/holofleet/internal/apiclient"
)

// Backend drives a physical or simulated holographic display
type Backend interface {
	// Initialize prepares the display hardware
	Initialize() error

	// ShowContent renders a cached content file on the display
	ShowContent(item apiclient.PlaylistItem, localPath string) error

	// Clear blanks the display
	Clear() error

	// SetBrightness adjusts panel brightness, 0-100
	SetBrightness(percent int) error

	// Shutdown releases the display hardware
	Shutdown() error
}

// Config selects and parameterizes the display backend
type Config struct {
	Backend    string `yaml:"backend"`
	Width      int    `yaml:"width"`
	Height     int    `yaml:"height"`
	Brightness int    `yaml:"brightness"`
}

// NewBackend builds a display backend by name. Hardware-specific drivers
// register here; unknown names are a configuration error, not a fallback.
func NewBackend(cfg Config) (Backend, error) {
	switch cfg.Backend {
	case "", "simulation":
		return NewSimulationBackend(cfg), nil
	default:
		return nil, fmt.Errorf("unknown display backend %q", cfg.Backend)
	}
}
