package contentstore

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rmitchellscott/holofleet/internal/logging"
)

var (
	// ErrIntegrityMismatch indicates the downloaded bytes do not hash to the
	// expected checksum
	ErrIntegrityMismatch = errors.New("content integrity mismatch")
	// ErrQuotaExceeded indicates the content cannot fit even after evicting
	// everything evictable
	ErrQuotaExceeded = errors.New("cache quota exceeded")
	// ErrNotCached indicates the content is not in the local cache
	ErrNotCached = errors.New("content not cached")
)

const indexFileName = "cache_index.json"

// Entry describes one cached content file
type Entry struct {
	ContentID  uuid.UUID `json:"content_id"`
	FileName   string    `json:"file_name"`
	SizeBytes  int64     `json:"size_bytes"`
	SHA256     string    `json:"sha256"`
	CachedAt   time.Time `json:"cached_at"`
	LastAccess time.Time `json:"last_access"`
}

// ProgressFunc receives download progress. total is -1 when the server did
// not send a length.
type ProgressFunc func(downloaded, total int64)

// Store is a local content cache with a byte quota. Completed files are the
// only files the index ever references; partial downloads live under a
// .partial suffix and are committed by rename.
type Store struct {
	rootDir    string
	quotaBytes int64

	mu      sync.Mutex
	entries map[uuid.UUID]*Entry
	pins    map[uuid.UUID]int
}

// New opens (or creates) a content store rooted at dir. Existing index
// entries are verified against the filesystem: files that are missing or no
// longer match their recorded checksum are dropped, orphaned .partial files
// are removed, and the quota is enforced before the store is used.
func New(dir string, quotaBytes int64) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	s := &Store{
		rootDir:    dir,
		quotaBytes: quotaBytes,
		entries:    make(map[uuid.UUID]*Entry),
		pins:       make(map[uuid.UUID]int),
	}

	if err := s.loadIndex(); err != nil {
		logging.WarnWithComponent(logging.ComponentCache, "Cache index unreadable, starting empty", "error", err)
		s.entries = make(map[uuid.UUID]*Entry)
	}
	s.verify()
	if err := s.EnforceQuota(); err != nil {
		logging.WarnWithComponent(logging.ComponentCache, "Cache over budget after startup eviction", "error", err)
	}

	return s, nil
}

func (s *Store) indexPath() string {
	return filepath.Join(s.rootDir, indexFileName)
}

func (s *Store) filePath(contentID uuid.UUID) string {
	return filepath.Join(s.rootDir, contentID.String())
}

func (s *Store) loadIndex() error {
	data, err := os.ReadFile(s.indexPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var entries []*Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	for _, e := range entries {
		s.entries[e.ContentID] = e
	}
	return nil
}

// saveIndexLocked writes the index through a temp file and rename so a crash
// mid-write never corrupts it. Caller holds s.mu.
func (s *Store) saveIndexLocked() error {
	entries := make([]*Entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CachedAt.Before(entries[j].CachedAt)
	})

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}

	tmp := s.indexPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, s.indexPath())
}

// verify reconciles the index with the filesystem on startup. Every entry
// is re-hashed so content damaged while the process was down is dropped
// instead of served.
func (s *Store) verify() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, e := range s.entries {
		path := s.filePath(id)
		info, err := os.Stat(path)
		ok := err == nil && info.Size() == e.SizeBytes
		if ok {
			sum, err := hashFile(path)
			ok = err == nil && sum == e.SHA256
		}
		if !ok {
			logging.WarnWithComponent(logging.ComponentCache, "Dropping invalid cache entry",
				"content_id", id, "file_name", e.FileName)
			os.Remove(path)
			delete(s.entries, id)
		}
	}

	// Clean up interrupted downloads
	matches, _ := filepath.Glob(filepath.Join(s.rootDir, "*.partial"))
	for _, m := range matches {
		os.Remove(m)
	}

	if err := s.saveIndexLocked(); err != nil {
		logging.ErrorWithComponent(logging.ComponentCache, "Failed to persist cache index", "error", err)
	}
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// EnforceQuota evicts least-recently-accessed unpinned entries until the
// cache fits the configured budget. No-op when already within it.
func (s *Store) EnforceQuota() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.evictForLocked(0, uuid.Nil); err != nil {
		return err
	}
	return s.saveIndexLocked()
}

// IsCached reports whether the content is fully present
func (s *Store) IsCached(contentID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[contentID]
	return ok
}

// GetPath returns the local path for cached content and bumps its access
// time for eviction ordering
func (s *Store) GetPath(contentID uuid.UUID) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[contentID]
	if !ok {
		return "", ErrNotCached
	}
	e.LastAccess = time.Now()
	if err := s.saveIndexLocked(); err != nil {
		logging.ErrorWithComponent(logging.ComponentCache, "Failed to persist cache index", "error", err)
	}
	return s.filePath(contentID), nil
}

// Pin marks content as in use so eviction skips it. Pins nest; each Pin
// needs a matching Unpin.
func (s *Store) Pin(contentID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pins[contentID]++
}

// Unpin releases one pin reference
func (s *Store) Unpin(contentID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pins[contentID] <= 1 {
		delete(s.pins, contentID)
		return
	}
	s.pins[contentID]--
}

// Put streams content into the cache under contentID, verifying it against
// expectedSHA256 when non-empty. The file is written to a .partial path and
// renamed in only after the full stream arrives and the hash matches, so the
// cache never exposes a torn file. Quota is enforced before commit; pinned
// entries are never evicted to make room.
func (s *Store) Put(contentID uuid.UUID, fileName string, r io.Reader, expectedSHA256 string, expectedSize int64, progress ProgressFunc) (*Entry, error) {
	if expectedSize > 0 && expectedSize > s.quotaBytes {
		return nil, ErrQuotaExceeded
	}

	partial := s.filePath(contentID) + ".partial"
	f, err := os.Create(partial)
	if err != nil {
		return nil, fmt.Errorf("creating partial file: %w", err)
	}

	hasher := sha256.New()
	var written int64
	buf := make([]byte, 256*1024)
	for {
		n, readErr := r.Read(buf)
		if n > 0 {
			if _, err := f.Write(buf[:n]); err != nil {
				f.Close()
				os.Remove(partial)
				return nil, fmt.Errorf("writing partial file: %w", err)
			}
			hasher.Write(buf[:n])
			written += int64(n)
			if progress != nil {
				total := expectedSize
				if total == 0 {
					total = -1
				}
				progress(written, total)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			f.Close()
			os.Remove(partial)
			return nil, fmt.Errorf("reading content stream: %w", readErr)
		}
	}
	if err := f.Close(); err != nil {
		os.Remove(partial)
		return nil, fmt.Errorf("closing partial file: %w", err)
	}

	if expectedSize > 0 && written != expectedSize {
		os.Remove(partial)
		return nil, fmt.Errorf("%w: got %d bytes, expected %d", ErrIntegrityMismatch, written, expectedSize)
	}
	gotSHA := hex.EncodeToString(hasher.Sum(nil))
	if expectedSHA256 != "" && gotSHA != expectedSHA256 {
		os.Remove(partial)
		return nil, fmt.Errorf("%w: sha256 %s, expected %s", ErrIntegrityMismatch, gotSHA, expectedSHA256)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.evictForLocked(written, contentID); err != nil {
		os.Remove(partial)
		return nil, err
	}

	if err := os.Rename(partial, s.filePath(contentID)); err != nil {
		os.Remove(partial)
		return nil, fmt.Errorf("committing content file: %w", err)
	}

	now := time.Now()
	entry := &Entry{
		ContentID:  contentID,
		FileName:   fileName,
		SizeBytes:  written,
		SHA256:     gotSHA,
		CachedAt:   now,
		LastAccess: now,
	}
	s.entries[contentID] = entry

	if err := s.saveIndexLocked(); err != nil {
		logging.ErrorWithComponent(logging.ComponentCache, "Failed to persist cache index", "error", err)
	}

	logging.InfoWithComponent(logging.ComponentCache, "Content cached",
		"content_id", contentID, "file_name", fileName, "size_bytes", written)
	return entry, nil
}

// evictForLocked frees space for an incoming file of the given size,
// dropping least-recently-accessed unpinned entries. Caller holds s.mu.
func (s *Store) evictForLocked(incoming int64, incomingID uuid.UUID) error {
	used := s.usedLocked()
	if replacing, ok := s.entries[incomingID]; ok {
		used -= replacing.SizeBytes
	}
	if used+incoming <= s.quotaBytes {
		return nil
	}

	candidates := make([]*Entry, 0, len(s.entries))
	for id, e := range s.entries {
		if id == incomingID {
			continue
		}
		if _, pinned := s.pins[id]; pinned {
			continue
		}
		candidates = append(candidates, e)
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].LastAccess.Before(candidates[j].LastAccess)
	})

	for _, victim := range candidates {
		if used+incoming <= s.quotaBytes {
			break
		}
		os.Remove(s.filePath(victim.ContentID))
		delete(s.entries, victim.ContentID)
		used -= victim.SizeBytes
		logging.InfoWithComponent(logging.ComponentCache, "Evicted content",
			"content_id", victim.ContentID, "file_name", victim.FileName,
			"size_bytes", victim.SizeBytes)
	}

	if used+incoming > s.quotaBytes {
		return ErrQuotaExceeded
	}
	return nil
}

func (s *Store) usedLocked() int64 {
	var used int64
	for _, e := range s.entries {
		used += e.SizeBytes
	}
	return used
}

// Invalidate removes content from the cache
func (s *Store) Invalidate(contentID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[contentID]; !ok {
		return ErrNotCached
	}
	if err := os.Remove(s.filePath(contentID)); err != nil && !os.IsNotExist(err) {
		return err
	}
	delete(s.entries, contentID)
	return s.saveIndexLocked()
}

// Clear drops every unpinned entry
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id := range s.entries {
		if _, pinned := s.pins[id]; pinned {
			continue
		}
		os.Remove(s.filePath(id))
		delete(s.entries, id)
	}
	return s.saveIndexLocked()
}

// Stats summarizes cache occupancy
type Stats struct {
	Entries    int   `json:"entries"`
	UsedBytes  int64 `json:"used_bytes"`
	QuotaBytes int64 `json:"quota_bytes"`
	Pinned     int   `json:"pinned"`
}

// GetStats returns current cache occupancy
func (s *Store) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Entries:    len(s.entries),
		UsedBytes:  s.usedLocked(),
		QuotaBytes: s.quotaBytes,
		Pinned:     len(s.pins),
	}
}
