package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/openmined/syftbackup/internal/backup"
	"github.com/spf13/cobra"
)

var errBackupFailed = errors.New("backup failed")

func init() {
	rootCmd.AddCommand(newRunCmd())
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [path]",
		Short: "Run one backup of the project now",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := setupLogging(cfg, false); err != nil {
				return err
			}
			cmd.SilenceUsage = true

			root, err := projectRoot(cfg, args)
			if err != nil {
				return err
			}

			store, closer, err := newStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closer.Close()

			res := newOrchestrator(cfg, store).RunBackup(cmd.Context(), root)
			printResult(cmd.OutOrStdout(), res)
			if !res.Success {
				return fmt.Errorf("%w: %s", errBackupFailed, res.Message)
			}
			return nil
		},
	}

	cmd.Flags().Bool("json-report", false, "also write a JSON report")
	cmd.Flags().String("backend", "", "remote backend (none, drive, s3, catalog)")
	return cmd
}

func printResult(w io.Writer, res *backup.Result) {
	var status string
	switch {
	case !res.Success:
		status = errorStyle.Render("FAILED")
	case res.Partial:
		status = warnStyle.Render("PARTIAL")
	default:
		status = successStyle.Render("OK")
	}

	body := fmt.Sprintf("%s %s\n", status, res.Message)
	body += mutedStyle.Render(fmt.Sprintf("files %d  dirs %d  size %s  took %s",
		res.Stats.Files, res.Stats.Directories, humanize.IBytes(uint64(max(res.Stats.TotalSize, 0))), res.Duration.Round(time.Millisecond)))
	if res.ReportPath != "" {
		body += "\nreport " + accentStyle.Render(res.ReportPath)
	}
	if len(res.RemotePath) > 0 {
		body += fmt.Sprintf("\nremote %s (%d files, %s)", accentStyle.Render(strings.Join(res.RemotePath, "/")),
			res.Stats.UploadedFiles, humanize.IBytes(uint64(max(res.Stats.UploadedBytes, 0))))
	}

	fmt.Fprintln(w, boxStyle.Render(body))
	for _, e := range res.Errors {
		fmt.Fprintf(w, "  %s %s\n", warnStyle.Render("!"), e)
	}
}
