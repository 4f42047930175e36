package diskspace

import (
	"errors"
	"fmt"

	"github.com/shirou/gopsutil/v3/disk"
)

// ErrProbe marks a failed filesystem probe. A probe failure is reported
// distinctly from "no space available" so that callers can choose a
// policy instead of silently treating the filesystem as full or empty.
var ErrProbe = errors.New("disk space probe failed")

// Available reports the free bytes on the filesystem containing path.
func Available(path string) (uint64, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrProbe, path, err)
	}
	return usage.Free, nil
}
