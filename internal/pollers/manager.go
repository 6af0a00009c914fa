package pollers

import (
	"context"
	"sync"

	"github.com/rmitchellscott/holofleet/internal/logging"
)

// Manager starts and stops a set of pollers together
type Manager struct {
	pollers map[string]Poller
	mu      sync.RWMutex
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
}

// NewManager creates an empty poller manager
func NewManager() *Manager {
	return &Manager{
		pollers: make(map[string]Poller),
	}
}

// Register adds a poller. Pollers are started by Start, not on registration.
func (m *Manager) Register(poller Poller) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pollers[poller.Name()] = poller
	logging.DebugWithComponent(logging.ComponentPoller, "Registered poller", "poller", poller.Name())
}

// Start starts all registered pollers. A poller that fails to start is
// logged and skipped; the rest still run.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}

	m.ctx, m.cancel = context.WithCancel(ctx)
	m.running = true

	logging.InfoWithComponent(logging.ComponentPoller, "Starting pollers", "count", len(m.pollers))

	for name, poller := range m.pollers {
		if err := poller.Start(m.ctx); err != nil {
			logging.ErrorWithComponent(logging.ComponentPoller, "Failed to start poller",
				"poller", name, "error", err)
			continue
		}
	}

	return nil
}

// Stop stops all pollers in parallel and waits for each to finish its
// current run
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}

	var wg sync.WaitGroup
	for name, poller := range m.pollers {
		if poller.IsRunning() {
			wg.Add(1)
			go func(name string, p Poller) {
				defer wg.Done()
				if err := p.Stop(); err != nil {
					logging.ErrorWithComponent(logging.ComponentPoller, "Error stopping poller",
						"poller", name, "error", err)
				}
			}(name, poller)
		}
	}

	wg.Wait()
	m.cancel()
	m.running = false

	logging.InfoWithComponent(logging.ComponentPoller, "All pollers stopped")
	return nil
}
