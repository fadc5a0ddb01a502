// Package backup runs the scan, report, mirror and upload stages of a backup
// as one unit of work.
package backup

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/openmined/syftbackup/internal/mirror"
	"github.com/openmined/syftbackup/internal/pathfilter"
	"github.com/openmined/syftbackup/internal/remote"
	"github.com/openmined/syftbackup/internal/scanner"
	"github.com/openmined/syftbackup/internal/utils"
)

const snapshotLayout = "20060102_150405"

type Options struct {
	MirrorSuffix    string
	IgnorePatterns  []string
	SkipDefaults    bool
	PreviewPatterns []string
	PreviewChars    int
	JSONReport      bool

	// Store receives the mirrored tree. Nil keeps the backup local.
	Store       remote.Store
	Destination []string
	// Every run uploads into a new "<mirror>" folder below Destination.
	// Snapshot appends the run timestamp to that folder name.
	Snapshot          bool
	UploadConcurrency int

	Model    ProjectModel
	DiskFree DiskFreeFunc
	Now      func() time.Time
}

type Orchestrator struct {
	opts    Options
	guard   runGuard
	running atomic.Bool

	mu   sync.RWMutex
	last *Result
}

func New(opts Options) *Orchestrator {
	if opts.MirrorSuffix == "" {
		opts.MirrorSuffix = pathfilter.DefaultMirrorSuffix
	}
	if opts.Model == nil {
		opts.Model = StaticModel{}
	}
	if opts.DiskFree == nil {
		opts.DiskFree = diskFree
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Orchestrator{opts: opts}
}

// Running reports whether a run is in progress in this process.
func (o *Orchestrator) Running() bool {
	return o.running.Load()
}

// LastResult returns the result of the latest finished run, or nil.
func (o *Orchestrator) LastResult() *Result {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.last
}

// MirrorPath is where the mirror of projectRoot lives.
func (o *Orchestrator) MirrorPath(projectRoot string) string {
	return filepath.Join(projectRoot, filepath.Base(projectRoot)+o.opts.MirrorSuffix)
}

// NewFilter builds the exclusion rules used for projectRoot.
func (o *Orchestrator) NewFilter(projectRoot string) (*pathfilter.Filter, error) {
	return pathfilter.New(pathfilter.Options{
		Root:         projectRoot,
		MirrorSuffix: o.opts.MirrorSuffix,
		Patterns:     o.opts.IgnorePatterns,
		SkipDefaults: o.opts.SkipDefaults,
	})
}

// Preview scans projectRoot and builds the report a backup would write. It
// takes no lock and writes nothing.
func (o *Orchestrator) Preview(projectRoot string) (*scanner.Report, error) {
	root, err := utils.ResolvePath(projectRoot)
	if err != nil {
		return nil, err
	}
	if !utils.DirExists(root) {
		return nil, fmt.Errorf("project root %s is not a directory", root)
	}

	filter, err := o.NewFilter(root)
	if err != nil {
		return nil, err
	}

	scan, err := o.scan(filter, root, &Result{})
	if err != nil {
		return nil, err
	}

	return &scanner.Report{
		GeneratedAt:  o.opts.Now(),
		BasePath:     root,
		Result:       scan,
		ContentRoots: o.contentRoots(slog.Default(), filter, root, scan),
	}, nil
}

// WriteReport writes r next to the project the way a backup run does.
func (o *Orchestrator) WriteReport(r *scanner.Report) (*scanner.WrittenReport, error) {
	return scanner.WriteReports(r.BasePath, r, o.opts.JSONReport)
}

// RunBackup executes one complete backup of projectRoot. Stage errors end the
// run with Success=false; entry errors only mark it Partial. A run already in
// progress makes this call fail fast with ErrBackupInProgress.
func (o *Orchestrator) RunBackup(ctx context.Context, projectRoot string) *Result {
	res := &Result{
		RunID:     uuid.NewString(),
		StartedAt: o.opts.Now(),
	}

	root, err := utils.ResolvePath(projectRoot)
	if err != nil {
		return res.fail(StagePrepare, err)
	}
	if !utils.DirExists(root) {
		return res.fail(StagePrepare, fmt.Errorf("project root %s is not a directory", root))
	}

	release, err := o.guard.acquire(root)
	if err != nil {
		return res.fail(StageLock, err)
	}
	defer release()

	o.running.Store(true)
	defer o.running.Store(false)

	log := slog.With("run", res.RunID, "project", root)
	log.Info("backup started")

	o.run(ctx, log, root, res)

	res.Duration = o.opts.Now().Sub(res.StartedAt)
	res.Partial = res.Success && len(res.Errors) > 0
	if res.Success {
		log.Info("backup finished", "mirror", res.BackupPath, "partial", res.Partial, "duration", res.Duration)
	} else {
		log.Error("backup failed", "stage", res.FailedStage, "error", res.Err)
	}

	o.mu.Lock()
	o.last = res
	o.mu.Unlock()

	return res
}

func (o *Orchestrator) run(ctx context.Context, log *slog.Logger, root string, res *Result) {
	filter, err := o.NewFilter(root)
	if err != nil {
		res.fail(StagePrepare, err)
		return
	}

	scan, err := o.scan(filter, root, res)
	if err != nil {
		res.fail(StageScan, err)
		return
	}

	o.writeReports(log, filter, root, scan, res)

	mirrorPath := o.MirrorPath(root)
	if err := checkSpace(o.opts.DiskFree, root, scan.TotalSize, dirSize(mirrorPath)); err != nil {
		res.fail(StagePreflight, err)
		return
	}

	mlog, err := mirror.New(filter).Mirror(root, mirrorPath)
	if err != nil {
		res.fail(StageMirror, err)
		return
	}
	res.BackupPath = mirrorPath
	res.Stats.MirroredFiles = mlog.Files
	res.Stats.MirroredDirs = mlog.Dirs
	res.Stats.MirrorFailures = mlog.Failed
	for _, e := range mlog.Errors() {
		res.Errors = append(res.Errors, fmt.Sprintf("mirror %s: %s", e.Source, e.Reason))
	}
	log.Info("mirror done", "path", mirrorPath, "files", mlog.Files, "dirs", mlog.Dirs, "failed", mlog.Failed)

	if o.opts.Store != nil {
		if !o.upload(ctx, log, mirrorPath, res) {
			return
		}
	}

	res.Success = true
	res.Message = fmt.Sprintf("backup completed: %s", mirrorPath)
	if len(res.Errors) > 0 {
		res.Message = fmt.Sprintf("backup completed with %d errors: %s", len(res.Errors), mirrorPath)
	}
}

func (o *Orchestrator) scan(filter *pathfilter.Filter, root string, res *Result) (*scanner.ScanResult, error) {
	sc, err := scanner.New(filter, scanner.Options{
		PreviewPatterns: o.opts.PreviewPatterns,
		PreviewChars:    o.opts.PreviewChars,
	})
	if err != nil {
		return nil, err
	}

	scan, err := sc.Scan(root)
	if err != nil {
		return nil, err
	}

	res.Stats.Files = scan.FileCount
	res.Stats.Directories = scan.DirectoryCount
	res.Stats.TotalSize = scan.TotalSize
	res.Stats.UnknownSize = len(scan.UnknownSizeFiles())
	for _, node := range scan.Errors() {
		res.Stats.ScanErrors++
		res.Errors = append(res.Errors, fmt.Sprintf("scan %s: %s", node.Path, node.Error))
	}
	return scan, nil
}

// writeReports never fails the run: a missing report is logged and the
// backup itself goes on.
func (o *Orchestrator) writeReports(log *slog.Logger, filter *pathfilter.Filter, root string, scan *scanner.ScanResult, res *Result) {
	report := &scanner.Report{
		GeneratedAt:  o.opts.Now(),
		BasePath:     root,
		Result:       scan,
		ContentRoots: o.contentRoots(log, filter, root, scan),
	}

	written, err := o.WriteReport(report)
	if written != nil {
		res.ReportPath = written.TextPath
		res.HTMLReportPath = written.HTMLPath
		res.JSONReportPath = written.JSONPath
	}
	if err != nil {
		log.Warn("report not written", "stage", StageReport, "error", err)
		res.Errors = append(res.Errors, fmt.Sprintf("report: %v", err))
		return
	}
	log.Info("report written", "path", written.TextPath)
}

func (o *Orchestrator) contentRoots(log *slog.Logger, filter *pathfilter.Filter, root string, scan *scanner.ScanResult) []scanner.ContentRoot {
	paths, err := o.opts.Model.ContentRoots(root)
	if err != nil {
		log.Warn("content roots unavailable", "error", err)
		return nil
	}

	sc, err := scanner.New(filter, scanner.Options{PreviewPatterns: []string{}})
	if err != nil {
		return nil
	}

	var out []scanner.ContentRoot
	for _, p := range paths {
		if p == root {
			out = append(out, scanner.ContentRoot{Path: p, Tree: scan.Root})
			continue
		}
		tree, err := sc.Scan(p)
		if err != nil {
			log.Warn("content root skipped", "path", p, "error", err)
			continue
		}
		out = append(out, scanner.ContentRoot{Path: p, Tree: tree.Root})
	}
	return out
}

// upload returns false when the run failed.
func (o *Orchestrator) upload(ctx context.Context, log *slog.Logger, mirrorPath string, res *Result) bool {
	// a fresh resolver per run: cached ids must not outlive it
	uploader := remote.NewUploader(remote.NewResolver(o.opts.Store), remote.UploaderOptions{
		Destination: o.opts.Destination,
		Concurrency: o.opts.UploadConcurrency,
	})

	name := filepath.Base(mirrorPath)
	if o.opts.Snapshot {
		name += "_" + res.StartedAt.Format(snapshotLayout)
	}
	res.RemotePath = append(uploader.Destination(), name)

	stats, folder, err := uploader.UploadToDestination(ctx, mirrorPath, name)
	if stats != nil {
		res.Stats.UploadedFiles = stats.Files
		res.Stats.UploadedDirs = stats.Folders
		res.Stats.UploadedBytes = stats.Bytes
		res.Stats.UploadFailures = len(stats.Failures)
		for _, f := range stats.Failures {
			res.Errors = append(res.Errors, fmt.Sprintf("upload %s: %s", f.Path, f.Reason))
		}
	}
	res.RemoteFolder = folder

	if err != nil {
		stage := StageUpload
		if folder == "" {
			stage = StageResolve
		}
		res.fail(stage, err)
		return false
	}

	log.Info("upload done", "folder", folder, "files", stats.Files, "failed", len(stats.Failures))
	return true
}

func dirSize(path string) int64 {
	var total int64
	_ = filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.Type().IsRegular() {
			if info, err := d.Info(); err == nil {
				total += info.Size()
			}
		}
		return nil
	})
	return total
}
