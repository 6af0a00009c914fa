package agent

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/rmitchellscott/holofleet/internal/apiclient"
	"github.com/rmitchellscott/holofleet/internal/contentstore"
	"github.com/rmitchellscott/holofleet/internal/logging"
	"github.com/rmitchellscott/holofleet/internal/playback"
)

// Syncer keeps the playback loop's playlist in line with the control plane.
// It fails open: any fetch or download error leaves the previously synced
// playlist playing.
type Syncer struct {
	client *apiclient.Client
	store  *contentstore.Store
	loop   *playback.Loop

	mu          sync.Mutex
	fingerprint string
}

func NewSyncer(client *apiclient.Client, store *contentstore.Store, loop *playback.Loop) *Syncer {
	return &Syncer{client: client, store: store, loop: loop}
}

// fingerprintOf reduces a playlist to the fields a device actually cares
// about: identity, item order, content identity, durations, and per-item
// settings. Volatile server-side fields never force a resync.
func fingerprintOf(p *apiclient.Playlist) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%t|%t|%s|%d\n", p.ID, p.LoopMode, p.Shuffle, p.TransitionType, p.TransitionDurationMs)
	for _, item := range p.Items {
		override := ""
		if item.TransitionOverride != nil {
			override = *item.TransitionOverride
		}
		fmt.Fprintf(h, "%d|%s|%d|%s|%s\n",
			item.Position, item.AssetID, item.DurationSeconds, override, string(item.CustomSettings))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Sync fetches the current assignment and, when it differs from the last
// synced playlist, downloads any missing content before publishing it to
// the playback loop. The loop never sees a playlist with uncached items.
func (s *Syncer) Sync(ctx context.Context) error {
	playlist, err := s.client.GetAssignment(ctx)
	if err != nil {
		if errors.Is(err, apiclient.ErrNoAssignment) {
			// Keep playing last-known-good content rather than going dark
			logging.DebugWithComponent(logging.ComponentSync, "No live assignment, keeping current playlist")
			return nil
		}
		return fmt.Errorf("fetching assignment: %w", err)
	}

	fp := fingerprintOf(playlist)
	s.mu.Lock()
	unchanged := fp == s.fingerprint
	s.mu.Unlock()
	if unchanged {
		return nil
	}

	logging.InfoWithComponent(logging.ComponentSync, "Playlist changed, syncing content",
		"playlist_id", playlist.ID, "items", len(playlist.Items))

	for _, item := range playlist.Items {
		if s.store.IsCached(item.AssetID) {
			continue
		}
		if err := s.downloadItem(ctx, item); err != nil {
			return fmt.Errorf("downloading content %s: %w", item.AssetID, err)
		}
	}

	s.loop.SetPlaylist(playlist)
	s.mu.Lock()
	s.fingerprint = fp
	s.mu.Unlock()

	logging.InfoWithComponent(logging.ComponentSync, "Playlist synced",
		"playlist_id", playlist.ID, "name", playlist.Name)
	return nil
}

func (s *Syncer) downloadItem(ctx context.Context, item apiclient.PlaylistItem) error {
	body, length, expectedSHA, err := s.client.DownloadContent(ctx, item.AssetID)
	if err != nil {
		return err
	}
	defer body.Close()

	name := item.AssetID.String()
	if item.Asset != nil {
		name = item.Asset.Name
		if expectedSHA == "" {
			expectedSHA = item.Asset.SHA256
		}
	}

	var lastLogged int64
	_, err = s.store.Put(item.AssetID, name, body, expectedSHA, length, func(downloaded, total int64) {
		// Log every 10 MiB so big holograms show progress without spamming
		if downloaded-lastLogged >= 10<<20 {
			lastLogged = downloaded
			logging.DebugWithComponent(logging.ComponentSync, "Download progress",
				"asset_id", item.AssetID, "downloaded", downloaded, "total", total)
		}
	})
	return err
}
