package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newWatchCmd())
}

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch [path]",
		Short: "Back up the project on changes and on a timer until interrupted",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := setupLogging(cfg, true); err != nil {
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

			sched, err := newScheduler(cfg, newOrchestrator(cfg, store), root, cfg.RunOnStart)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if err := sched.Start(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n",
				successStyle.Render("watching"), accentStyle.Render(sched.Status().ProjectRoot),
				mutedStyle.Render("(ctrl+c to stop)"))

			<-ctx.Done()
			sched.Stop()
			sched.Wait()

			status := sched.Status()
			slog.Info("watch finished", "runs", status.Runs, "failures", status.Failures, "coalesced", status.Coalesced)
			if status.LastResult != nil {
				printResult(cmd.OutOrStdout(), status.LastResult)
			}
			return nil
		},
	}

	cmd.Flags().Duration("interval", 0, "time between scheduled backups")
	cmd.Flags().Duration("debounce", 0, "quiet period before file changes trigger a backup")
	cmd.Flags().String("backend", "", "remote backend (none, drive, s3, catalog)")
	return cmd
}
