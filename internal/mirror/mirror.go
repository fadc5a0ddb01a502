// Package mirror reproduces a source tree under a destination root. Every
// run is a full replacement: the destination is removed and rebuilt.
package mirror

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/openmined/syftbackup/internal/utils"
)

var (
	ErrSourceNotDir       = errors.New("mirror source is not a directory")
	ErrInvalidDestination = errors.New("mirror destination contains the source")
	ErrPrepareDestination = errors.New("mirror destination could not be prepared")
)

type Filter interface {
	IsExcluded(path string) bool
}

type Copier struct {
	filter Filter
}

func New(filter Filter) *Copier {
	return &Copier{filter: filter}
}

type walkState struct {
	destReal string
	visited  mapset.Set[string]
	log      *Log
}

// Mirror deletes destination, recreates it, and copies every non-excluded
// entry of source into it. Per-entry failures land in the returned Log and
// do not stop the walk; only source/destination setup problems are errors.
func (c *Copier) Mirror(source, destination string) (*Log, error) {
	source, err := utils.ResolvePath(source)
	if err != nil {
		return nil, err
	}
	destination, err = utils.ResolvePath(destination)
	if err != nil {
		return nil, err
	}

	if !utils.DirExists(source) {
		return nil, fmt.Errorf("%w: %s", ErrSourceNotDir, source)
	}

	// removing the destination would take the source with it
	if utils.IsSubPath(utils.RealPath(destination), utils.RealPath(source)) {
		return nil, fmt.Errorf("%w: %s in %s", ErrInvalidDestination, source, destination)
	}

	if utils.PathExists(destination) {
		if err := os.RemoveAll(destination); err != nil {
			return nil, fmt.Errorf("%w: remove %s: %w", ErrPrepareDestination, destination, err)
		}
	}
	if err := os.MkdirAll(destination, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create %s: %w", ErrPrepareDestination, destination, err)
	}

	state := &walkState{
		destReal: utils.RealPath(destination),
		visited:  mapset.NewThreadUnsafeSet[string](),
		log:      &Log{Source: source, Destination: destination},
	}
	state.visited.Add(utils.RealPath(source))

	c.copyDir(state, source, destination)

	slog.Debug("mirror done",
		"source", source,
		"destination", destination,
		"dirs", state.log.Dirs,
		"files", state.log.Files,
		"failed", state.log.Failed,
	)
	return state.log, nil
}

func (c *Copier) copyDir(state *walkState, srcDir, dstDir string) {
	entries, err := os.ReadDir(srcDir)
	if err != nil {
		state.log.fail(srcDir, dstDir, fmt.Errorf("list dir: %w", err))
	}

	for _, entry := range entries {
		srcPath := filepath.Join(srcDir, entry.Name())
		dstPath := filepath.Join(dstDir, entry.Name())

		if c.filter != nil && c.filter.IsExcluded(srcPath) {
			state.log.skip(srcPath, "excluded")
			continue
		}

		srcReal := utils.RealPath(srcPath)
		if utils.IsSubPath(state.destReal, srcReal) {
			state.log.skip(srcPath, "inside mirror destination")
			continue
		}

		if isDirEntry(srcPath, entry) {
			if !state.visited.Add(srcReal) {
				state.log.skip(srcPath, "already visited")
				continue
			}
			if err := os.MkdirAll(dstPath, dirMode(srcPath)); err != nil {
				state.log.fail(srcPath, dstPath, fmt.Errorf("create dir: %w", err))
				continue
			}
			state.log.mkdir(srcPath, dstPath)
			c.copyDir(state, srcPath, dstPath)
			continue
		}

		if err := utils.CopyFile(srcPath, dstPath); err != nil {
			state.log.fail(srcPath, dstPath, err)
			continue
		}
		state.log.copied(srcPath, dstPath)
	}
}

func isDirEntry(path string, entry os.DirEntry) bool {
	if entry.IsDir() {
		return true
	}
	if entry.Type()&os.ModeSymlink == 0 {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func dirMode(path string) os.FileMode {
	info, err := os.Stat(path)
	if err != nil {
		return 0o755
	}
	// the mirror must stay writable so the next run can delete it
	return info.Mode().Perm() | 0o700
}
