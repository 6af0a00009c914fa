package pollers

import (
	"context"
	"time"

	"github.com/rmitchellscott/holofleet/internal/config"
	"github.com/rmitchellscott/holofleet/internal/database"
	"github.com/rmitchellscott/holofleet/internal/logging"
)

// LivenessPoller sweeps the fleet for devices that stopped reporting. Each
// sweep counts one liveness failure per stale device; a device only flips to
// offline after the consecutive-failure threshold, so a single missed
// heartbeat never marks it down.
type LivenessPoller struct {
	*BasePoller
	devices  *database.DeviceService
	interval time.Duration
}

// NewLivenessPoller creates the fleet liveness sweep. The check interval
// doubles as the heartbeat grace window: a device is stale once its last
// heartbeat is older than one interval.
func NewLivenessPoller(devices *database.DeviceService) *LivenessPoller {
	interval := config.GetDuration("DEVICE_LIVENESS_INTERVAL", 60*time.Second)

	p := &LivenessPoller{
		devices:  devices,
		interval: interval,
	}

	cfg := DefaultConfig("device-liveness", interval)
	cfg.MaxRetries = 1
	cfg.Timeout = 30 * time.Second
	p.BasePoller = NewBasePoller(cfg, p.sweep)

	return p
}

func (p *LivenessPoller) sweep(ctx context.Context) error {
	cutoff := time.Now().Add(-p.interval)
	stale, err := p.devices.ListStaleDevices(cutoff)
	if err != nil {
		return err
	}

	for _, device := range stale {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		updated, err := p.devices.RecordLivenessFailure(device.ID)
		if err != nil {
			logging.ErrorWithComponent(logging.ComponentLiveness, "Liveness failure record failed",
				"device_id", device.ID, "error", err)
			continue
		}
		if updated.Status == database.StatusOffline && device.Status != database.StatusOffline {
			logging.WarnWithComponent(logging.ComponentLiveness, "Device marked offline",
				"device_id", device.ID, "name", device.Name,
				"consecutive_failures", updated.ConsecutiveFailures)
		}
	}

	if len(stale) > 0 {
		logging.DebugWithComponent(logging.ComponentLiveness, "Liveness sweep complete",
			"stale_devices", len(stale))
	}
	return nil
}
