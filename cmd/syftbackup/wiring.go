package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/openmined/syftbackup/internal/backup"
	"github.com/openmined/syftbackup/internal/config"
	"github.com/openmined/syftbackup/internal/fswatch"
	"github.com/openmined/syftbackup/internal/remote"
	"github.com/openmined/syftbackup/internal/remote/catalog"
	"github.com/openmined/syftbackup/internal/remote/drive"
	"github.com/openmined/syftbackup/internal/remote/s3store"
	"github.com/openmined/syftbackup/internal/scheduler"
	"github.com/openmined/syftbackup/internal/utils"
)

// newStore builds the configured remote backend. The returned closer is
// never nil.
func newStore(ctx context.Context, cfg *config.Config) (remote.Store, io.Closer, error) {
	nop := io.NopCloser(nil)

	switch cfg.Remote.Backend {
	case config.BackendNone:
		return nil, nop, nil

	case config.BackendDrive:
		store, err := drive.New(drive.Config{
			Token:   cfg.Remote.Drive.Token,
			BaseURL: cfg.Remote.Drive.BaseURL,
			RootID:  cfg.Remote.Drive.RootID,
		})
		if err != nil {
			return nil, nop, fmt.Errorf("drive backend: %w", err)
		}
		return store, nop, nil

	case config.BackendS3:
		s3cfg := cfg.Remote.S3
		store, err := s3store.New(ctx, s3store.Config{
			Bucket:    s3cfg.Bucket,
			Region:    s3cfg.Region,
			AccessKey: s3cfg.AccessKey,
			SecretKey: s3cfg.SecretKey,
			Endpoint:  s3cfg.Endpoint,
			Prefix:    s3cfg.Prefix,
		})
		if err != nil {
			return nil, nop, fmt.Errorf("s3 backend: %w", err)
		}
		return store, nop, nil

	case config.BackendCatalog:
		store, err := catalog.Open(cfg.Remote.Catalog.Dir)
		if err != nil {
			return nil, nop, fmt.Errorf("catalog backend: %w", err)
		}
		return store, store, nil
	}

	return nil, nop, fmt.Errorf("%w %q", config.ErrUnknownBackend, cfg.Remote.Backend)
}

func newOrchestrator(cfg *config.Config, store remote.Store) *backup.Orchestrator {
	opts := backup.Options{
		MirrorSuffix:      cfg.MirrorSuffix,
		IgnorePatterns:    cfg.IgnorePatterns,
		SkipDefaults:      cfg.SkipDefaults,
		PreviewChars:      cfg.PreviewChars,
		JSONReport:        cfg.JSONReport,
		Snapshot:          cfg.Remote.Snapshot,
		UploadConcurrency: cfg.Remote.Concurrency,
		Model:             backup.StaticModel{Roots: cfg.ContentRoots},
	}
	if store != nil {
		opts.Store = store
		opts.Destination = cfg.RemotePath()
	}
	return backup.New(opts)
}

// newScheduler wires the orchestrator, the exclusion rules and a recursive
// watcher on root into a scheduler.
func newScheduler(cfg *config.Config, orch *backup.Orchestrator, root string, runOnStart bool) (*scheduler.Scheduler, error) {
	root, err := utils.ResolvePath(root)
	if err != nil {
		return nil, err
	}
	// events arrive with symlinks resolved
	root = utils.RealPath(root)

	filter, err := orch.NewFilter(root)
	if err != nil {
		return nil, err
	}

	events := func() (scheduler.EventSource, error) {
		return fswatch.New(root, fswatch.Options{
			Debounce: cfg.Debounce,
			Filter:   filter.IsExcluded,
		}), nil
	}

	slog.Debug("scheduler configured", "project", root, "interval", cfg.Interval, "debounce", cfg.Debounce)
	return scheduler.New(orch, scheduler.Options{
		ProjectRoot: root,
		Interval:    cfg.Interval,
		RunOnStart:  runOnStart,
		Exclude:     filter.IsExcluded,
		Events:      events,
	}), nil
}
