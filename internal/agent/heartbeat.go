package agent

import (
	"context"

	"github.com/rmitchellscott/holofleet/internal/apiclient"
	"github.com/rmitchellscott/holofleet/internal/playback"
	"github.com/rmitchellscott/holofleet/internal/version"
)

// HeartbeatEmitter reports device health on its own timer. It only reads a
// snapshot of playback state, so a stalled renderer never delays a
// heartbeat.
type HeartbeatEmitter struct {
	client  *apiclient.Client
	loop    *playback.Loop
	metrics *MetricsCollector
}

func NewHeartbeatEmitter(client *apiclient.Client, loop *playback.Loop, metrics *MetricsCollector) *HeartbeatEmitter {
	return &HeartbeatEmitter{client: client, loop: loop, metrics: metrics}
}

// Emit sends one heartbeat with current playback state and whatever metrics
// the collector could sample
func (e *HeartbeatEmitter) Emit(ctx context.Context) error {
	status := e.loop.GetStatus()
	sample := e.metrics.Collect()

	hb := apiclient.Heartbeat{
		Status:            status.State,
		CurrentPlaylistID: status.PlaylistID,
		CurrentAssetID:    status.AssetID,
		CPUPercent:        sample.CPUPercent,
		MemoryPercent:     sample.MemoryPercent,
		StorageUsedGB:     sample.StorageUsedGB,
		TemperatureC:      sample.TemperatureC,
		ClientVersion:     version.Version,
		ErrorCount:        status.ErrorCount,
		LastError:         status.LastError,
	}
	if status.AssetID != nil {
		pos := status.PositionSec
		hb.PlaybackPositionSec = &pos
	}

	return e.client.SendHeartbeat(ctx, hb)
}
