package store

import (
	"fmt"
	"os"
	"time"
)

// Metadata is the sidecar record written alongside each payload. It is
// small enough to read during maintenance scans without touching the
// payload itself.
type Metadata struct {
	CreatedAt time.Time    `json:"created_at"`
	SizeBytes int64        `json:"size_bytes"`
	Source    *Fingerprint `json:"source,omitempty"`
}

// Fingerprint captures the identity of a source document at the moment
// its derived result was cached. A later mismatch on any field means the
// source changed and the cached result no longer describes it.
type Fingerprint struct {
	Path      string `json:"path"`
	ModTimeNS int64  `json:"mtime_unix_ns"`
	SizeBytes int64  `json:"size_bytes"`
}

// Snapshot records the current fingerprint of the file at path.
func Snapshot(path string) (*Fingerprint, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to fingerprint source: %w", err)
	}

	return &Fingerprint{
		Path:      path,
		ModTimeNS: info.ModTime().UnixNano(),
		SizeBytes: info.Size(),
	}, nil
}

// Matches reports whether two fingerprints describe the same document
// state. A nil fingerprint never matches.
func (f *Fingerprint) Matches(other *Fingerprint) bool {
	if f == nil || other == nil {
		return false
	}
	return f.Path == other.Path &&
		f.ModTimeNS == other.ModTimeNS &&
		f.SizeBytes == other.SizeBytes
}
