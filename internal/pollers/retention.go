package pollers

import (
	"context"
	"time"

	"github.com/rmitchellscott/holofleet/internal/config"
	"github.com/rmitchellscott/holofleet/internal/database"
	"github.com/rmitchellscott/holofleet/internal/logging"
)

// HeartbeatRetentionPoller prunes old heartbeat samples so the telemetry
// table stays bounded.
type HeartbeatRetentionPoller struct {
	*BasePoller
	devices   *database.DeviceService
	retention time.Duration
}

func NewHeartbeatRetentionPoller(devices *database.DeviceService) *HeartbeatRetentionPoller {
	retention := config.GetDuration("HEARTBEAT_RETENTION", 7*24*time.Hour)

	p := &HeartbeatRetentionPoller{
		devices:   devices,
		retention: retention,
	}

	cfg := DefaultConfig("heartbeat-retention", 1*time.Hour)
	cfg.MaxRetries = 1
	p.BasePoller = NewBasePoller(cfg, p.prune)

	return p
}

func (p *HeartbeatRetentionPoller) prune(ctx context.Context) error {
	deleted, err := p.devices.CleanupOldHeartbeats(p.retention)
	if err != nil {
		return err
	}
	if deleted > 0 {
		logging.InfoWithComponent(logging.ComponentDatabase, "Pruned old heartbeat samples",
			"deleted", deleted, "retention", p.retention)
	}
	return nil
}
