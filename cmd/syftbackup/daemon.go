package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/openmined/syftbackup/internal/controlplane"
	"github.com/openmined/syftbackup/internal/version"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func init() {
	rootCmd.AddCommand(newDaemonCmd())
}

func newDaemonCmd() *cobra.Command {
	var idle bool

	cmd := &cobra.Command{
		Use:   "daemon [path]",
		Short: "Monitor the project and serve the local control API",
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

			slog.Info("syftbackup", "version", version.Version, "revision", version.Revision, "build", version.BuildDate)
			if cfg.Path != "" {
				slog.Info("daemon using config", "path", cfg.Path)
			}

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

			srv, err := controlplane.New(controlplane.Config{
				Addr:      cfg.Control.Addr,
				Token:     cfg.Control.Token,
				RateLimit: cfg.Control.RateLimit,
			}, sched)
			if err != nil {
				return err
			}

			eg, ctx := errgroup.WithContext(cmd.Context())
			if !idle {
				if err := sched.Start(ctx); err != nil {
					return err
				}
			}
			eg.Go(func() error {
				return srv.Start(ctx)
			})
			eg.Go(func() error {
				<-ctx.Done()
				sched.Stop()
				sched.Wait()
				return nil
			})

			defer slog.Info("Bye!")
			if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("daemon", "error", err)
				return err
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&idle, "idle", false, "start without monitoring; use the API to start it")
	cmd.Flags().StringP("http-addr", "a", "", "address of the local control API")
	cmd.Flags().StringP("http-token", "t", "", "bearer token for the local control API")
	cmd.Flags().Duration("interval", 0, "time between scheduled backups")
	cmd.Flags().Duration("debounce", 0, "quiet period before file changes trigger a backup")
	cmd.Flags().String("backend", "", "remote backend (none, drive, s3, catalog)")
	return cmd
}
