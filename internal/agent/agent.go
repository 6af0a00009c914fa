package agent

import (
	"context"
	"fmt"

	"github.com/rmitchellscott/holofleet/internal/apiclient"
	"github.com/rmitchellscott/holofleet/internal/contentstore"
	"github.com/rmitchellscott/holofleet/internal/display"
	"github.com/rmitchellscott/holofleet/internal/logging"
	"github.com/rmitchellscott/holofleet/internal/playback"
	"github.com/rmitchellscott/holofleet/internal/pollers"
)

// Agent is the device-side process: a playback loop plus background pollers
// for playlist sync, heartbeats, and command polling.
type Agent struct {
	cfg     *Config
	client  *apiclient.Client
	store   *contentstore.Store
	loop    *playback.Loop
	syncer  *Syncer
	manager *pollers.Manager
}

// New builds a fully wired agent from config
func New(cfg *Config) (*Agent, error) {
	client := apiclient.New(apiclient.Config{
		BaseURL:      cfg.Server.URL,
		HardwareID:   cfg.Server.HardwareID,
		DeviceSecret: cfg.Server.DeviceSecret,
		Timeout:      cfg.Server.Timeout,
	})

	store, err := contentstore.New(cfg.Cache.Dir, cfg.Cache.QuotaBytes)
	if err != nil {
		return nil, fmt.Errorf("opening content store: %w", err)
	}

	backend, err := display.NewBackend(cfg.Display)
	if err != nil {
		return nil, err
	}

	loop := playback.NewLoop(backend, store)
	syncer := NewSyncer(client, store, loop)
	metrics := NewMetricsCollector(cfg.Cache.Dir)
	emitter := NewHeartbeatEmitter(client, loop, metrics)

	a := &Agent{
		cfg:     cfg,
		client:  client,
		store:   store,
		loop:    loop,
		syncer:  syncer,
		manager: pollers.NewManager(),
	}

	syncCfg := pollers.DefaultConfig("playlist-sync", cfg.Intervals.Sync)
	syncCfg.MaxRetries = 1
	a.manager.Register(pollers.NewBasePoller(syncCfg, syncer.Sync))

	// Heartbeats run with a single attempt and a tight timeout: a missed
	// beat is recorded server-side on the next liveness sweep, retry storms
	// only make a bad network worse
	hbCfg := pollers.DefaultConfig("heartbeat", cfg.Intervals.Heartbeat)
	hbCfg.MaxRetries = 1
	hbCfg.Timeout = cfg.Server.Timeout
	a.manager.Register(pollers.NewBasePoller(hbCfg, emitter.Emit))

	cmdCfg := pollers.DefaultConfig("commands", cfg.Intervals.Commands)
	cmdCfg.MaxRetries = 1
	a.manager.Register(pollers.NewBasePoller(cmdCfg, a.pollCommands))

	return a, nil
}

// Run authenticates, starts the pollers, and blocks in the playback loop
// until the context ends
func (a *Agent) Run(ctx context.Context) error {
	if err := a.client.Authenticate(ctx); err != nil {
		return fmt.Errorf("initial authentication: %w", err)
	}

	stats := a.store.GetStats()
	logging.InfoWithComponent(logging.ComponentAgent, "Content store ready",
		"entries", stats.Entries, "used_bytes", stats.UsedBytes, "quota_bytes", stats.QuotaBytes)

	if err := a.manager.Start(ctx); err != nil {
		return err
	}
	defer a.manager.Stop()

	err := a.loop.Run(ctx)
	if err == context.Canceled {
		return nil
	}
	return err
}

// pollCommands fetches queued operator commands and applies them
func (a *Agent) pollCommands(ctx context.Context) error {
	cmds, err := a.client.GetCommands(ctx)
	if err != nil {
		return err
	}

	for _, cmd := range cmds {
		logging.InfoWithComponent(logging.ComponentAgent, "Executing command",
			"command_id", cmd.ID, "command", cmd.Command)
		switch cmd.Command {
		case "clear_cache":
			if err := a.store.Clear(); err != nil {
				logging.ErrorWithComponent(logging.ComponentAgent, "Cache clear failed", "error", err)
			}
		case "restart_playback":
			// Dropping the fingerprint forces a full resync and playlist
			// republish on the next sync tick
			a.syncer.mu.Lock()
			a.syncer.fingerprint = ""
			a.syncer.mu.Unlock()
		default:
			logging.WarnWithComponent(logging.ComponentAgent, "Unsupported command",
				"command", cmd.Command)
		}
	}
	return nil
}
