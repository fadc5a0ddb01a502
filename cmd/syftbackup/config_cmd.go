package main

import (
	"errors"
	"fmt"

	"github.com/openmined/syftbackup/internal/config"
	"github.com/openmined/syftbackup/internal/utils"
	"github.com/spf13/cobra"
)

const controlTokenLength = 32

var errConfigExists = errors.New("config already exists")

func init() {
	rootCmd.AddCommand(newConfigCmd())
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the SyftBackup config file",
	}
	cmd.AddCommand(newConfigInitCmd(), newConfigShowCmd())
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var force bool
	var backend string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with default settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			path, _ := cmd.Flags().GetString("config")
			path, err := utils.ResolvePath(path)
			if err != nil {
				return err
			}
			if utils.FileExists(path) && !force {
				return fmt.Errorf("%w at %s (use --force to overwrite)", errConfigExists, path)
			}

			cfg := config.Default()
			if project, _ := cmd.Flags().GetString("project"); project != "" {
				cfg.ProjectRoot = project
			}
			cfg.Remote.Backend = backend
			if cfg.Control.Token, err = utils.RandBase34(controlTokenLength); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := cfg.Save(path); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, successStyle.Render("SyftBackup config written"))
			fmt.Fprintf(out, "Config Path: %s\n", accentStyle.Render(path))
			fmt.Fprintf(out, "Project:     %s\n", accentStyle.Render(orDefault(cfg.ProjectRoot, "(current directory)")))
			fmt.Fprintf(out, "Backend:     %s\n", accentStyle.Render(cfg.Remote.Backend))
			fmt.Fprintf(out, "API Token:   %s\n", accentStyle.Render(utils.MaskSecret(cfg.Control.Token)))
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing config")
	cmd.Flags().StringVarP(&backend, "backend", "b", config.BackendNone, "remote backend (none, drive, s3, catalog)")
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective config with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true

			masked := *cfg
			masked.Remote.Drive.Token = utils.MaskSecret(cfg.Remote.Drive.Token)
			masked.Remote.S3.SecretKey = utils.MaskSecret(cfg.Remote.S3.SecretKey)
			masked.Control.Token = utils.MaskSecret(cfg.Control.Token)

			data, err := masked.Marshal()
			if err != nil {
				return err
			}
			if cfg.Path != "" {
				fmt.Fprintln(cmd.OutOrStdout(), mutedStyle.Render("# "+cfg.Path))
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
