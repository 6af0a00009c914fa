package pollers

import (
	"context"
	"sync"
	"time"

	"github.com/rmitchellscott/holofleet/internal/logging"
)

// BasePoller runs a poll function on a ticker with per-run timeout and
// bounded retries. Concrete pollers embed it and supply the function.
type BasePoller struct {
	config   PollerConfig
	running  bool
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	mu       sync.RWMutex
	pollFunc func(ctx context.Context) error
}

// NewBasePoller creates a poller that runs pollFunc per config
func NewBasePoller(config PollerConfig, pollFunc func(ctx context.Context) error) *BasePoller {
	return &BasePoller{
		config:   config,
		pollFunc: pollFunc,
	}
}

// Name returns the poller's configured name
func (p *BasePoller) Name() string {
	return p.config.Name
}

// Start begins the polling loop. The first run happens immediately, not
// after the first tick.
func (p *BasePoller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}

	if !p.config.Enabled {
		logging.InfoWithComponent(logging.ComponentPoller, "Poller disabled, skipping start", "poller", p.config.Name)
		return nil
	}

	logging.InfoWithComponent(logging.ComponentPoller, "Starting poller",
		"poller", p.config.Name, "interval", p.config.Interval)

	p.ctx, p.cancel = context.WithCancel(ctx)
	p.running = true

	p.wg.Add(1)
	go p.pollLoop()

	return nil
}

// Stop cancels the loop and waits for the current run to finish
func (p *BasePoller) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return nil
	}

	p.cancel()
	p.wg.Wait()
	p.running = false

	logging.InfoWithComponent(logging.ComponentPoller, "Poller stopped", "poller", p.config.Name)
	return nil
}

// IsRunning reports whether the polling loop is active
func (p *BasePoller) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

func (p *BasePoller) pollLoop() {
	defer p.wg.Done()

	// Run once immediately
	p.executeWithRetry()

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.executeWithRetry()
		}
	}
}

func (p *BasePoller) executeWithRetry() {
	for attempt := 0; attempt < p.config.MaxRetries; attempt++ {
		if p.ctx.Err() != nil {
			return
		}

		ctx, cancel := context.WithTimeout(p.ctx, p.config.Timeout)
		err := p.pollFunc(ctx)
		cancel()

		if err == nil {
			return
		}

		logging.WarnWithComponent(logging.ComponentPoller, "Poll attempt failed",
			"poller", p.config.Name, "attempt", attempt+1, "max_retries", p.config.MaxRetries, "error", err)

		if attempt < p.config.MaxRetries-1 {
			select {
			case <-p.ctx.Done():
				return
			case <-time.After(p.config.RetryDelay):
				continue
			}
		}
	}

	logging.ErrorWithComponent(logging.ComponentPoller, "Poller exhausted retries",
		"poller", p.config.Name, "max_retries", p.config.MaxRetries)
}
