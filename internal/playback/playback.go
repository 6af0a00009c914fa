package playback

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rmitchellscott/holofleet/internal/apiclient"
	"github.com/rmitchellscott/holofleet/internal/contentstore"
	"github.com/rmitchellscott/holofleet/internal/display"
	"github.com/rmitchellscott/holofleet/internal/logging"
)

// Status describes what the loop is doing right now, for heartbeats
type Status struct {
	State          string
	PlaylistID     *uuid.UUID
	AssetID        *uuid.UUID
	PositionSec    int
	ErrorCount     int
	LastError      string
}

// Loop renders the current playlist on a display backend. The playlist is
// swapped atomically by the sync goroutine; the loop always sees either the
// old or the new playlist in full. Sync and store failures never stop the
// loop, it keeps showing the last fully-synced playlist.
type Loop struct {
	backend display.Backend
	store   *contentstore.Store

	playlist atomic.Pointer[apiclient.Playlist]

	mu           sync.Mutex
	state        string
	currentAsset uuid.UUID
	startedAt    time.Time
	errorCount   int
	lastError    string

	rng *rand.Rand
}

// NewLoop creates a playback loop over a display backend and content cache
func NewLoop(backend display.Backend, store *contentstore.Store) *Loop {
	return &Loop{
		backend: backend,
		store:   store,
		state:   "stopped",
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetPlaylist atomically publishes a new playlist to the loop. A nil
// playlist clears the display on the next tick.
func (l *Loop) SetPlaylist(p *apiclient.Playlist) {
	l.playlist.Store(p)
}

// CurrentPlaylist returns the playlist the loop is rendering
func (l *Loop) CurrentPlaylist() *apiclient.Playlist {
	return l.playlist.Load()
}

// GetStatus snapshots playback state for heartbeat reporting
func (l *Loop) GetStatus() Status {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := Status{
		State:      l.state,
		ErrorCount: l.errorCount,
		LastError:  l.lastError,
	}
	if p := l.playlist.Load(); p != nil {
		id := p.ID
		st.PlaylistID = &id
	}
	if l.currentAsset != uuid.Nil {
		asset := l.currentAsset
		st.AssetID = &asset
		st.PositionSec = int(time.Since(l.startedAt).Seconds())
	}
	return st
}

func (l *Loop) recordError(err error) {
	l.mu.Lock()
	l.errorCount++
	l.lastError = err.Error()
	l.state = "error"
	l.mu.Unlock()
}

func (l *Loop) setShowing(assetID uuid.UUID) {
	l.mu.Lock()
	l.state = "playing"
	l.currentAsset = assetID
	l.startedAt = time.Now()
	l.mu.Unlock()
}

func (l *Loop) setIdle() {
	l.mu.Lock()
	l.state = "stopped"
	l.currentAsset = uuid.Nil
	l.mu.Unlock()
}

// Run drives the loop until the context is cancelled, then shuts the
// display down. The item index advances modulo the item count whether or
// not loop mode is set; a finished non-looping playlist simply wraps, since
// going dark is never the right fleet behavior. Shuffle reshuffles the
// traversal order once per full cycle so an item never repeats back to back.
func (l *Loop) Run(ctx context.Context) error {
	if err := l.backend.Initialize(); err != nil {
		return err
	}
	defer l.backend.Shutdown()

	idleDelay := 2 * time.Second

	var (
		activeID uuid.UUID
		order    []int
		index    int
	)

	for {
		if ctx.Err() != nil {
			l.setIdle()
			return ctx.Err()
		}

		playlist := l.playlist.Load()
		if playlist == nil || len(playlist.Items) == 0 {
			l.setIdle()
			l.backend.Clear()
			activeID = uuid.Nil
			if !sleep(ctx, idleDelay) {
				return ctx.Err()
			}
			continue
		}

		// New or changed playlist restarts traversal
		if playlist.ID != activeID || len(order) != len(playlist.Items) {
			activeID = playlist.ID
			order = l.cycleOrder(playlist)
			index = 0
		}
		if index >= len(order) {
			// Cycle complete; reshuffle for the next pass
			order = l.cycleOrder(playlist)
			index = 0
		}

		item := playlist.Items[order[index]]
		index++

		localPath, err := l.store.GetPath(item.AssetID)
		if err != nil {
			logging.WarnWithComponent(logging.ComponentPlayback, "Skipping item, content not cached",
				"asset_id", item.AssetID, "error", err)
			l.recordError(err)
			if !sleep(ctx, idleDelay) {
				return ctx.Err()
			}
			continue
		}

		// Pin while on screen so eviction cannot pull the file out from
		// under the renderer
		l.store.Pin(item.AssetID)

		transition := playlist.TransitionType
		if item.TransitionOverride != nil {
			transition = *item.TransitionOverride
		}
		logging.DebugWithComponent(logging.ComponentPlayback, "Transitioning",
			"transition", transition, "duration_ms", playlist.TransitionDurationMs)

		if err := l.backend.ShowContent(item, localPath); err != nil {
			l.store.Unpin(item.AssetID)
			logging.ErrorWithComponent(logging.ComponentPlayback, "Render failed",
				"asset_id", item.AssetID, "error", err)
			l.recordError(err)
			if !sleep(ctx, idleDelay) {
				return ctx.Err()
			}
			continue
		}
		l.setShowing(item.AssetID)

		// Zero duration means show until the playlist changes
		if item.DurationSeconds > 0 {
			sleep(ctx, time.Duration(item.DurationSeconds)*time.Second)
		} else {
			l.holdUntilChange(ctx, playlist.ID)
		}
		l.store.Unpin(item.AssetID)

		if ctx.Err() != nil {
			l.setIdle()
			return ctx.Err()
		}
	}
}

// cycleOrder produces the traversal order for one full pass over the items
func (l *Loop) cycleOrder(p *apiclient.Playlist) []int {
	order := make([]int, len(p.Items))
	for i := range order {
		order[i] = i
	}
	if p.Shuffle {
		l.rng.Shuffle(len(order), func(i, j int) {
			order[i], order[j] = order[j], order[i]
		})
	}
	return order
}

// holdUntilChange blocks while an unbounded-duration item is on screen,
// waking when the published playlist changes or the context ends
func (l *Loop) holdUntilChange(ctx context.Context, playlistID uuid.UUID) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p := l.playlist.Load()
			if p == nil || p.ID != playlistID {
				return
			}
		}
	}
}

// sleep waits for d or context cancellation; returns false when cancelled
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
