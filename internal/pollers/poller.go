package pollers

import (
	"context"
	"time"
)

// Poller is a periodic background task
type Poller interface {
	// Name identifies the poller in logs
	Name() string

	// Start begins the polling loop in a goroutine
	Start(ctx context.Context) error

	// Stop gracefully stops the poller
	Stop() error

	// IsRunning reports whether the poller is currently running
	IsRunning() bool
}

// PollerConfig holds configuration for a poller
type PollerConfig struct {
	Name       string
	Interval   time.Duration
	Enabled    bool
	MaxRetries int
	RetryDelay time.Duration
	Timeout    time.Duration
}

// DefaultConfig returns a poller configuration with standard retry settings
func DefaultConfig(name string, interval time.Duration) PollerConfig {
	return PollerConfig{
		Name:       name,
		Interval:   interval,
		Enabled:    true,
		MaxRetries: 3,
		RetryDelay: 30 * time.Second,
		Timeout:    60 * time.Second,
	}
}
