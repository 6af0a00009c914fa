package display

import (
	"sync"

	"github.com/google/uuid"

	"github.com/rmitchellscott/holofleet/internal/apiclient"
	"github.com/rmitchellscott/holofleet/internal/logging"
)

// SimulationBackend logs what a real panel would show. Used on development
// machines and by the web emulator hardware type.
type SimulationBackend struct {
	cfg Config

	mu          sync.Mutex
	initialized bool
	brightness  int
	current     uuid.UUID
}

func NewSimulationBackend(cfg Config) *SimulationBackend {
	brightness := cfg.Brightness
	if brightness == 0 {
		brightness = 100
	}
	return &SimulationBackend{cfg: cfg, brightness: brightness}
}

func (b *SimulationBackend) Initialize() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.initialized = true
	logging.InfoWithComponent(logging.ComponentDisplay, "Simulation display initialized",
		"width", b.cfg.Width, "height", b.cfg.Height, "brightness", b.brightness)
	return nil
}

func (b *SimulationBackend) ShowContent(item apiclient.PlaylistItem, localPath string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = item.AssetID
	name := ""
	if item.Asset != nil {
		name = item.Asset.Name
	}
	logging.InfoWithComponent(logging.ComponentDisplay, "Showing content",
		"asset_id", item.AssetID, "name", name, "path", localPath,
		"duration_seconds", item.DurationSeconds)
	return nil
}

func (b *SimulationBackend) Clear() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = uuid.Nil
	logging.DebugWithComponent(logging.ComponentDisplay, "Display cleared")
	return nil
}

func (b *SimulationBackend) SetBrightness(percent int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	b.brightness = percent
	return nil
}

func (b *SimulationBackend) Shutdown() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.initialized = false
	b.current = uuid.Nil
	logging.InfoWithComponent(logging.ComponentDisplay, "Simulation display shut down")
	return nil
}

// CurrentAsset returns the asset on screen, for tests and the emulator API
func (b *SimulationBackend) CurrentAsset() uuid.UUID {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}
