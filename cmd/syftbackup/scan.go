package main

import (
	"fmt"

	"github.com/openmined/syftbackup/internal/scanner"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newScanCmd())
}

func newScanCmd() *cobra.Command {
	var write bool

	cmd := &cobra.Command{
		Use:   "scan [path]",
		Short: "Print the project report without making a backup",
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

			orch := newOrchestrator(cfg, nil)
			report, err := orch.Preview(root)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprint(out, scanner.RenderText(report))

			if !write {
				return nil
			}
			written, err := orch.WriteReport(report)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s %s\n", successStyle.Render("report"), accentStyle.Render(written.TextPath))
			fmt.Fprintf(out, "%s %s\n", successStyle.Render("html"), accentStyle.Render(written.HTMLPath))
			if written.JSONPath != "" {
				fmt.Fprintf(out, "%s %s\n", successStyle.Render("json"), accentStyle.Render(written.JSONPath))
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&write, "write", "w", false, "write the report files into the project")
	cmd.Flags().Bool("json-report", false, "also write a JSON report")
	return cmd
}
