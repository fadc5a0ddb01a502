package backup

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
	"github.com/openmined/syftbackup/internal/pathfilter"
)

var ErrBackupInProgress = errors.New("backup already in progress")

// runGuard allows one run per orchestrator and, through a lock file in the
// project root, one run per project across processes.
type runGuard struct {
	mu sync.Mutex
}

func (g *runGuard) acquire(projectRoot string) (func(), error) {
	if !g.mu.TryLock() {
		return nil, ErrBackupInProgress
	}

	lock := flock.New(filepath.Join(projectRoot, pathfilter.LockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		g.mu.Unlock()
		return nil, fmt.Errorf("lock project: %w", err)
	}
	if !locked {
		g.mu.Unlock()
		return nil, fmt.Errorf("%w: locked by another process", ErrBackupInProgress)
	}

	return func() {
		_ = lock.Unlock()
		g.mu.Unlock()
	}, nil
}
