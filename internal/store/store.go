package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/maypok86/otter/v2"
	"github.com/rs/zerolog/log"

	"github.com/pagefold/extract-cache/internal/keys"
)

const (
	payloadSuffix  = ".dat"
	metadataSuffix = ".meta.json"

	// Temp files carry a dot prefix so a crashed write is never mistaken
	// for an entry by scans or eviction.
	tempPrefix  = ".tmp-"
	tempPattern = tempPrefix + "*"

	// Access-time refreshes for a hot key are collapsed to one per
	// window. The refresh exists to order entries for LRU eviction, so
	// sub-window precision buys nothing.
	defaultRefreshWindow = 30 * time.Second

	refreshTrackerSize = 65536
)

// Store persists cache entries for a single cache directory. Every entry
// is a payload file plus a metadata sidecar; both are written with a
// temp-file-and-rename sequence so readers only ever observe complete
// files. Safe for concurrent use by multiple goroutines and multiple
// processes sharing the directory.
type Store struct {
	dir       string
	refreshed *otter.Cache[string, struct{}]

	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	mu   sync.Mutex
	refs int
}

// Option adjusts store construction.
type Option func(*options)

type options struct {
	refreshWindow time.Duration
}

// WithRefreshWindow overrides the access-time damping window. Intended
// for tests; zero restores the default.
func WithRefreshWindow(window time.Duration) Option {
	return func(o *options) {
		o.refreshWindow = window
	}
}

// New creates a store rooted at dir, creating the directory if needed.
func New(dir string, opts ...Option) (*Store, error) {
	if dir == "" {
		return nil, errors.New("cache directory required")
	}

	cfg := options{refreshWindow: defaultRefreshWindow}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.refreshWindow <= 0 {
		cfg.refreshWindow = defaultRefreshWindow
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve cache directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	refreshed := otter.Must(&otter.Options[string, struct{}]{
		MaximumSize:      refreshTrackerSize,
		ExpiryCalculator: otter.ExpiryWriting[string, struct{}](cfg.refreshWindow),
	})

	return &Store{
		dir:       abs,
		refreshed: refreshed,
		locks:     make(map[string]*refLock),
	}, nil
}

// lockKey serializes writers of the same key within this process so the
// payload and sidecar renames of one Set are never interleaved with
// another's. Writers in other processes still resolve by last rename.
func (s *Store) lockKey(key string) func() {
	s.mu.Lock()
	l := s.locks[key]
	if l == nil {
		l = &refLock{}
		s.locks[key] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

// Dir returns the absolute directory the store manages.
func (s *Store) Dir() string {
	return s.dir
}

// GetOption adjusts a single Get call.
type GetOption func(*getOptions)

type getOptions struct {
	source string
}

// WithSource checks the entry against the current state of the document
// at path instead of the path recorded in the entry's fingerprint.
func WithSource(path string) GetOption {
	return func(o *getOptions) {
		o.source = path
	}
}

// Get retrieves the payload for key. The second return reports whether a
// usable entry was found: corrupt, incomplete or fingerprint-stale
// entries are misses, never errors. Corrupt and incomplete entries are
// removed best-effort on the way out. A hit refreshes the entry's access
// time, damped to one refresh per window.
func (s *Store) Get(ctx context.Context, key string, opts ...GetOption) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if err := keys.Validate(key); err != nil {
		return nil, false, err
	}

	var cfg getOptions
	for _, opt := range opts {
		opt(&cfg)
	}

	meta, ok := s.readMetadata(key)
	if !ok {
		return nil, false, nil
	}

	data, err := os.ReadFile(s.payloadPath(key))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, false, fmt.Errorf("failed to read cache entry: %w", err)
		}
		// Sidecar without payload: an interrupted write or partial
		// removal. Drop the remnant.
		s.discard(key, "payload missing")
		return nil, false, nil
	}

	if int64(len(data)) != meta.SizeBytes {
		s.discard(key, "size mismatch")
		return nil, false, nil
	}

	if meta.Source != nil && !s.sourceMatches(meta.Source, cfg.source) {
		// The source document changed since this result was computed.
		// The entry stays on disk for eviction to reclaim.
		return nil, false, nil
	}

	s.refreshAccess(key)
	return data, true, nil
}

// SetOption adjusts a single Set call.
type SetOption func(*setOptions)

type setOptions struct {
	source string
}

// WithFingerprint records the current fingerprint of the document at
// path so later gets can detect that the source changed.
func WithFingerprint(path string) SetOption {
	return func(o *setOptions) {
		o.source = path
	}
}

// Set stores data under key. The payload and its sidecar are each
// written to a temp file and renamed into place, so a concurrent reader
// sees either the old entry or the new one, never a partial write.
// Concurrent sets of the same key resolve by last rename.
func (s *Store) Set(ctx context.Context, key string, data []byte, opts ...SetOption) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := keys.Validate(key); err != nil {
		return err
	}

	var cfg setOptions
	for _, opt := range opts {
		opt(&cfg)
	}

	meta := Metadata{
		CreatedAt: time.Now().UTC(),
		SizeBytes: int64(len(data)),
	}
	if cfg.source != "" {
		fp, err := Snapshot(cfg.source)
		if err != nil {
			return err
		}
		meta.Source = fp
	}

	encoded, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to encode cache metadata: %w", err)
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	unlock := s.lockKey(key)
	defer unlock()

	if err := s.writeFile(s.payloadPath(key), data); err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	if err := s.writeFile(s.metadataPath(key), encoded); err != nil {
		return fmt.Errorf("failed to write cache metadata: %w", err)
	}

	return nil
}

// Remove deletes the entry for key. Removing an absent entry is not an
// error.
func (s *Store) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := keys.Validate(key); err != nil {
		return err
	}

	unlock := s.lockKey(key)
	defer unlock()

	var firstErr error
	for _, path := range []string{s.payloadPath(key), s.metadataPath(key)} {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	s.refreshed.Invalidate(key)
	return firstErr
}

// Clear removes every entry, sidecar and temp file in the directory.
// Files the store does not own (unrecognized names) are left alone.
func (s *Store) Clear(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read cache directory: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		if !ownedFile(name) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			log.Warn().Err(err).Str("file", name).Msg("failed to remove cache file during clear")
			continue
		}
		if isPayload(name) {
			removed++
		}
	}

	s.refreshed.InvalidateAll()
	return removed, nil
}

// writeFile writes data to path atomically: temp file in the same
// directory, then rename over the destination.
func (s *Store) writeFile(path string, data []byte) error {
	tmp, err := os.CreateTemp(s.dir, tempPattern)
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	_, err = tmp.Write(data)
	closeErr := tmp.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmpName)
		return err
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

// readMetadata loads and decodes the sidecar for key. A missing sidecar
// is a plain miss; an unreadable or undecodable one is corruption and
// the whole entry is discarded.
func (s *Store) readMetadata(key string) (Metadata, bool) {
	var meta Metadata

	raw, err := os.ReadFile(s.metadataPath(key))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.discard(key, "metadata unreadable")
		} else if _, statErr := os.Stat(s.payloadPath(key)); statErr == nil {
			// Payload without sidecar cannot be validated.
			s.discard(key, "metadata missing")
		}
		return meta, false
	}

	if err := json.Unmarshal(raw, &meta); err != nil {
		s.discard(key, "metadata corrupt")
		return meta, false
	}
	return meta, true
}

// sourceMatches compares the recorded fingerprint against the current
// state of the source document. When the caller names a source path it
// must be the recorded one; otherwise the recorded path is probed. An
// unreadable source counts as a mismatch.
func (s *Store) sourceMatches(recorded *Fingerprint, override string) bool {
	path := recorded.Path
	if override != "" {
		path = override
	}

	current, err := Snapshot(path)
	if err != nil {
		return false
	}
	return recorded.Matches(current)
}

// discard removes both files of a broken entry, best-effort.
func (s *Store) discard(key, reason string) {
	log.Warn().Str("key", key).Str("reason", reason).Msg("discarding unusable cache entry")
	for _, path := range []string{s.payloadPath(key), s.metadataPath(key)} {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			log.Debug().Err(err).Str("key", key).Msg("failed to discard cache file")
		}
	}
	s.refreshed.Invalidate(key)
}

// refreshAccess bumps the payload mtime so eviction sees recent use. At
// most one refresh per key per damping window.
func (s *Store) refreshAccess(key string) {
	if _, ok := s.refreshed.GetEntry(key); ok {
		return
	}
	now := time.Now()
	if err := os.Chtimes(s.payloadPath(key), now, now); err != nil {
		return
	}
	s.refreshed.Set(key, struct{}{})
}

func (s *Store) payloadPath(key string) string {
	return filepath.Join(s.dir, key+payloadSuffix)
}

func (s *Store) metadataPath(key string) string {
	return filepath.Join(s.dir, key+metadataSuffix)
}
