package remote

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/openmined/syftbackup/internal/utils"
	"golang.org/x/sync/errgroup"
)

const DefaultConcurrency = 4

// Failure is one entry the upload skipped.
type Failure struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

type UploadStats struct {
	Folders  int       `json:"folders"`
	Files    int       `json:"files"`
	Bytes    int64     `json:"bytes"`
	Failures []Failure `json:"failures,omitempty"`
}

// Partial reports whether some entries did not make it to the store.
func (s *UploadStats) Partial() bool {
	return len(s.Failures) > 0
}

type UploaderOptions struct {
	// Destination is the fixed folder path, from the store root, that
	// UploadToDestination resolves before creating the upload root.
	Destination []string
	// Concurrency bounds parallel file uploads. Defaults to DefaultConcurrency.
	Concurrency int
}

type Uploader struct {
	resolver    *Resolver
	destination []string
	concurrency int
}

func NewUploader(resolver *Resolver, opts UploaderOptions) *Uploader {
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Uploader{
		resolver:    resolver,
		destination: append([]string(nil), opts.Destination...),
		concurrency: concurrency,
	}
}

func (u *Uploader) Destination() []string {
	return append([]string(nil), u.destination...)
}

type uploadRun struct {
	group   *errgroup.Group
	visited mapset.Set[string]
	mu      sync.Mutex
	stats   *UploadStats
}

func (r *uploadRun) fail(path string, err error) {
	slog.Warn("upload entry failed", "path", path, "error", err)
	r.mu.Lock()
	r.stats.Failures = append(r.stats.Failures, Failure{Path: path, Reason: err.Error()})
	r.mu.Unlock()
}

// UploadTree recreates the contents of localDir under parent. Folders are
// always created, never looked up: the destination is expected to be fresh.
// Entry failures are recorded in the stats and the walk goes on; credential
// errors and cancellation abort it.
func (u *Uploader) UploadTree(ctx context.Context, localDir string, parent FolderID) (*UploadStats, error) {
	if !utils.DirExists(localDir) {
		return nil, fmt.Errorf("%w: %s", ErrNotDirectory, localDir)
	}

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(u.concurrency)

	run := &uploadRun{
		group:   group,
		visited: mapset.NewThreadUnsafeSet(utils.RealPath(localDir)),
		stats:   &UploadStats{},
	}

	walkErr := u.uploadDir(gctx, run, localDir, parent)
	if err := group.Wait(); err != nil {
		return run.stats, err
	}
	if walkErr != nil {
		return run.stats, walkErr
	}

	return run.stats, nil
}

func (u *Uploader) uploadDir(ctx context.Context, run *uploadRun, dir string, parent FolderID) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		run.fail(dir, fmt.Errorf("list dir: %w", err))
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}

		path := filepath.Join(dir, entry.Name())

		if isDirEntry(path, entry) {
			if !run.visited.Add(utils.RealPath(path)) {
				slog.Debug("upload skipped visited dir", "path", path)
				continue
			}

			id, err := u.resolver.CreateFolder(ctx, entry.Name(), parent)
			if err != nil {
				if IsFatal(err) {
					return err
				}
				run.fail(path, err)
				continue
			}

			run.mu.Lock()
			run.stats.Folders++
			run.mu.Unlock()

			if err := u.uploadDir(ctx, run, path, id); err != nil {
				return err
			}
			continue
		}

		run.group.Go(func() error {
			file, err := u.resolver.store.UploadFile(ctx, path, parent)
			if err != nil {
				if IsFatal(err) {
					return fmt.Errorf("upload %s: %w", path, err)
				}
				run.fail(path, err)
				return nil
			}

			run.mu.Lock()
			run.stats.Files++
			run.stats.Bytes += file.Size
			run.mu.Unlock()
			return nil
		})
	}

	return nil
}

// UploadToDestination resolves the fixed destination, creates a new folder
// named rootName below it and uploads the contents of localDir there. The
// root folder is created on every call so repeated uploads never merge into
// one tree. The returned id is the new root, or empty when no root exists.
func (u *Uploader) UploadToDestination(ctx context.Context, localDir, rootName string) (*UploadStats, FolderID, error) {
	if !utils.DirExists(localDir) {
		return nil, "", fmt.Errorf("%w: %s", ErrNotDirectory, localDir)
	}
	if rootName == "" {
		rootName = filepath.Base(localDir)
	}

	names := u.Destination()
	dest, err := u.resolver.ResolvePath(ctx, names, u.resolver.store.Root())
	if err != nil {
		return nil, "", fmt.Errorf("resolve destination %v: %w", names, err)
	}

	target, err := u.resolver.CreateFolder(ctx, rootName, dest)
	if err != nil {
		return nil, "", fmt.Errorf("create root folder %q: %w", rootName, err)
	}

	slog.Info("uploading tree", "source", localDir, "destination", append(names, rootName), "folder", target)
	stats, err := u.UploadTree(ctx, localDir, target)
	return stats, target, err
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
