package backup

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/openmined/syftbackup/internal/remote"
)

// Stage names the phase of a run a fatal error came from.
type Stage string

const (
	StagePrepare   Stage = "prepare"
	StageLock      Stage = "lock"
	StageScan      Stage = "scan"
	StageReport    Stage = "report"
	StagePreflight Stage = "preflight"
	StageMirror    Stage = "mirror"
	StageResolve   Stage = "resolve"
	StageUpload    Stage = "upload"
)

type Stats struct {
	Files          int   `json:"files"`
	Directories    int   `json:"directories"`
	TotalSize      int64 `json:"total_size"`
	UnknownSize    int   `json:"unknown_size_files"`
	ScanErrors     int   `json:"scan_errors"`
	MirroredFiles  int   `json:"mirrored_files"`
	MirroredDirs   int   `json:"mirrored_dirs"`
	MirrorFailures int   `json:"mirror_failures"`
	UploadedFiles  int   `json:"uploaded_files"`
	UploadedDirs   int   `json:"uploaded_dirs"`
	UploadedBytes  int64 `json:"uploaded_bytes"`
	UploadFailures int   `json:"upload_failures"`
}

// Result is the outcome of one backup run.
type Result struct {
	RunID          string          `json:"run_id"`
	Success        bool            `json:"success"`
	Message        string          `json:"message"`
	BackupPath     string          `json:"backup_path,omitempty"`
	ReportPath     string          `json:"report_path,omitempty"`
	HTMLReportPath string          `json:"html_report_path,omitempty"`
	JSONReportPath string          `json:"json_report_path,omitempty"`
	RemotePath     []string        `json:"remote_path,omitempty"`
	RemoteFolder   remote.FolderID `json:"remote_folder,omitempty"`
	// Partial is set when entry-level errors were recorded in a successful run.
	Partial     bool          `json:"partial"`
	FailedStage Stage         `json:"failed_stage,omitempty"`
	Stats       Stats         `json:"stats"`
	Errors      []string      `json:"errors,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration"`
	Err         error         `json:"-"`
}

func (r *Result) fail(stage Stage, err error) *Result {
	r.Success = false
	r.FailedStage = stage
	r.Err = err
	r.Message = fmt.Sprintf("backup failed during %s: %v", stage, err)
	return r
}

// Summary is the human readable outcome shown after a manual run.
func (r *Result) Summary() string {
	var sb strings.Builder

	if !r.Success {
		sb.WriteString(r.Message)
		sb.WriteString("\n")
	} else if r.Partial {
		sb.WriteString("Backup completed with errors\n")
	} else {
		sb.WriteString("Backup completed successfully\n")
	}

	if r.BackupPath != "" {
		fmt.Fprintf(&sb, "Mirror: %s\n", r.BackupPath)
	}
	if r.ReportPath != "" {
		fmt.Fprintf(&sb, "Report: %s\n", r.ReportPath)
	}

	s := r.Stats
	fmt.Fprintf(&sb, "Files: %s  Directories: %s  Total size: %s\n",
		humanize.Comma(int64(s.Files)), humanize.Comma(int64(s.Directories)), humanize.IBytes(uint64(s.TotalSize)))

	if len(r.RemotePath) > 0 && r.FailedStage != StageResolve {
		fmt.Fprintf(&sb, "Uploaded: %s files, %s folders, %s to %s\n",
			humanize.Comma(int64(s.UploadedFiles)), humanize.Comma(int64(s.UploadedDirs)),
			humanize.IBytes(uint64(s.UploadedBytes)), strings.Join(r.RemotePath, "/"))
	}

	if failed := s.MirrorFailures + s.UploadFailures + s.ScanErrors; failed > 0 {
		fmt.Fprintf(&sb, "Entry errors: %d\n", failed)
	}
	fmt.Fprintf(&sb, "Duration: %s\n", r.Duration.Round(time.Millisecond))

	return sb.String()
}
