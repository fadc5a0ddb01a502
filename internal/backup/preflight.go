package backup

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v4/disk"
)

var ErrInsufficientSpace = errors.New("not enough free disk space for the mirror")

// DiskFreeFunc returns the free bytes of the filesystem holding path.
type DiskFreeFunc func(path string) (uint64, error)

func diskFree(path string) (uint64, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}

// checkSpace fails when the mirror cannot fit. The previous mirror is about
// to be deleted, so its size counts as free.
func checkSpace(free DiskFreeFunc, dir string, need, reclaimable int64) error {
	avail, err := free(dir)
	if err != nil {
		slog.Warn("disk usage unavailable, skipping space check", "path", dir, "error", err)
		return nil
	}

	if need <= 0 || uint64(need) <= avail+uint64(max(reclaimable, 0)) {
		return nil
	}

	return fmt.Errorf("%w: need %s, have %s", ErrInsufficientSpace,
		humanize.IBytes(uint64(need)), humanize.IBytes(avail))
}
