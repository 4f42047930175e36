package marker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/pagefold/extract-cache/internal/keys"
)

const (
	suffix      = ".processing"
	tempPattern = ".tmp-*"

	// DefaultStaleAfter bounds how long a marker is believed. A marker
	// older than this belongs to a crashed or hung owner and is treated
	// as absent.
	DefaultStaleAfter = 30 * time.Minute
)

// Record is the contents of a processing marker file. Markers are
// advisory: they let concurrent workers skip work that is already in
// flight, they never provide mutual exclusion.
type Record struct {
	Key       string    `json:"key"`
	Owner     string    `json:"owner"`
	StartedAt time.Time `json:"started_at"`
}

// Coordinator manages processing markers for one cache directory.
type Coordinator struct {
	dir        string
	owner      string
	staleAfter time.Duration
}

// New creates a coordinator for dir. The owner identity embeds host,
// pid and a random component so markers from distinct workers are
// attributable in logs and crash dumps.
func New(dir string, staleAfter time.Duration) (*Coordinator, error) {
	if dir == "" {
		return nil, errors.New("marker directory required")
	}
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve marker directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create marker directory: %w", err)
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	return &Coordinator{
		dir:        abs,
		owner:      fmt.Sprintf("%s:%d:%s", hostname, os.Getpid(), uuid.NewString()),
		staleAfter: staleAfter,
	}, nil
}

// Owner returns this coordinator's identity as written into markers.
func (c *Coordinator) Owner() string {
	return c.owner
}

// IsProcessing reports whether a live marker exists for key. Stale and
// unreadable markers are removed opportunistically and reported absent.
func (c *Coordinator) IsProcessing(ctx context.Context, key string) bool {
	if ctx.Err() != nil || keys.Validate(key) != nil {
		return false
	}

	path := c.path(key)
	raw, err := os.ReadFile(path)
	if err != nil {
		return false
	}

	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		c.expire(path, key, "unreadable")
		return false
	}

	started := rec.StartedAt
	if started.IsZero() {
		if info, err := os.Stat(path); err == nil {
			started = info.ModTime()
		}
	}
	if started.IsZero() || time.Since(started) > c.staleAfter {
		c.expire(path, key, "stale")
		return false
	}

	return true
}

// MarkProcessing records that this owner has started computing key. An
// existing marker is replaced; advisory coordination means the most
// recent claim is the one worth reporting.
func (c *Coordinator) MarkProcessing(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := keys.Validate(key); err != nil {
		return err
	}

	rec := Record{
		Key:       key,
		Owner:     c.owner,
		StartedAt: time.Now().UTC(),
	}
	encoded, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode processing marker: %w", err)
	}

	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create marker directory: %w", err)
	}

	tmp, err := os.CreateTemp(c.dir, tempPattern)
	if err != nil {
		return fmt.Errorf("failed to write processing marker: %w", err)
	}
	tmpName := tmp.Name()

	_, err = tmp.Write(encoded)
	closeErr := tmp.Close()
	if err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Rename(tmpName, c.path(key))
	}
	if err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to write processing marker: %w", err)
	}
	return nil
}

// MarkComplete removes the marker for key. Completing twice, or
// completing work that was never marked, is not an error.
func (c *Coordinator) MarkComplete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := keys.Validate(key); err != nil {
		return err
	}

	if err := os.Remove(c.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove processing marker: %w", err)
	}
	return nil
}

// Sweep removes every stale marker in the directory and returns how
// many were reclaimed. Live markers are untouched.
func (c *Coordinator) Sweep(ctx context.Context) int {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return 0
	}

	swept := 0
	for _, entry := range entries {
		if ctx.Err() != nil {
			return swept
		}
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), suffix) {
			continue
		}

		key := strings.TrimSuffix(entry.Name(), suffix)
		if !c.IsProcessing(ctx, key) {
			// IsProcessing already removed it if it was stale; count
			// the reclaim when the file is gone.
			if _, err := os.Stat(filepath.Join(c.dir, entry.Name())); err != nil {
				swept++
			}
		}
	}
	return swept
}

// Clear removes all markers regardless of age.
func (c *Coordinator) Clear(ctx context.Context) int {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return 0
	}

	removed := 0
	for _, entry := range entries {
		if ctx.Err() != nil {
			return removed
		}
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), suffix) {
			continue
		}
		if err := os.Remove(filepath.Join(c.dir, entry.Name())); err == nil {
			removed++
		}
	}
	return removed
}

func (c *Coordinator) expire(path, key, reason string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Debug().Err(err).Str("key", key).Msg("failed to remove expired processing marker")
		return
	}
	log.Debug().Str("key", key).Str("reason", reason).Msg("expired processing marker removed")
}

func (c *Coordinator) path(key string) string {
	return filepath.Join(c.dir, key+suffix)
}
