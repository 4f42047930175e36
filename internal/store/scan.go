package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// EntryInfo describes one cache entry as seen by a metadata-only scan.
type EntryInfo struct {
	Key        string
	Path       string
	SizeBytes  int64
	AccessedAt time.Time
}

// DirStats summarizes a cache directory without reading any payloads.
type DirStats struct {
	Entries      int
	TotalBytes   int64
	OldestAccess time.Time
	NewestAccess time.Time
}

// List enumerates complete entries in the directory. Size counts payload
// plus sidecar bytes; access time is the payload mtime. Temp files,
// markers and foreign files are ignored. Entries that disappear mid-scan
// are skipped.
func (s *Store) List(ctx context.Context) ([]EntryInfo, error) {
	dirEntries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read cache directory: %w", err)
	}

	infos := make([]EntryInfo, 0, len(dirEntries))
	for _, entry := range dirEntries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if entry.IsDir() || !isPayload(entry.Name()) {
			continue
		}

		fi, err := entry.Info()
		if err != nil {
			continue
		}

		key := strings.TrimSuffix(entry.Name(), payloadSuffix)
		size := fi.Size()
		if mi, err := os.Stat(s.metadataPath(key)); err == nil {
			size += mi.Size()
		}

		infos = append(infos, EntryInfo{
			Key:        key,
			Path:       filepath.Join(s.dir, entry.Name()),
			SizeBytes:  size,
			AccessedAt: fi.ModTime(),
		})
	}

	return infos, nil
}

// Scan computes directory statistics from a List pass.
func (s *Store) Scan(ctx context.Context) (DirStats, error) {
	infos, err := s.List(ctx)
	if err != nil {
		return DirStats{}, err
	}

	var stats DirStats
	for _, info := range infos {
		stats.Entries++
		stats.TotalBytes += info.SizeBytes
		if stats.OldestAccess.IsZero() || info.AccessedAt.Before(stats.OldestAccess) {
			stats.OldestAccess = info.AccessedAt
		}
		if info.AccessedAt.After(stats.NewestAccess) {
			stats.NewestAccess = info.AccessedAt
		}
	}
	return stats, nil
}

// SortByAccess orders entries least recently accessed first, the order
// eviction consumes them in.
func SortByAccess(infos []EntryInfo) {
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].AccessedAt.Before(infos[j].AccessedAt)
	})
}

// SweepTemp removes temp files older than maxAge. A live write holds its
// temp file for milliseconds, so anything old is a leftover from a
// crashed writer.
func (s *Store) SweepTemp(ctx context.Context, maxAge time.Duration) int {
	dirEntries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0
	}

	cutoff := time.Now().Add(-maxAge)
	swept := 0
	for _, entry := range dirEntries {
		if ctx.Err() != nil {
			return swept
		}
		if entry.IsDir() || !isTemp(entry.Name()) {
			continue
		}

		fi, err := entry.Info()
		if err != nil || fi.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, entry.Name())); err == nil {
			swept++
		}
	}

	if swept > 0 {
		log.Debug().Int("count", swept).Str("dir", s.dir).Msg("swept stale temp files")
	}
	return swept
}

func isPayload(name string) bool {
	return strings.HasSuffix(name, payloadSuffix) && !isTemp(name)
}

func isMetadata(name string) bool {
	return strings.HasSuffix(name, metadataSuffix) && !isTemp(name)
}

func isTemp(name string) bool {
	return strings.HasPrefix(name, tempPrefix)
}

// ownedFile reports whether the store is responsible for the named file.
func ownedFile(name string) bool {
	return isPayload(name) || isMetadata(name) || isTemp(name)
}
