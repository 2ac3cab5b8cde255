package main

import (
	"fmt"

	"github.com/datapulse/orchestrator/internal/version"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "orchestrator",
		Short: "Incident orchestration service",
		Long: "orchestrator records detected incidents, drives the analyst and resolver agents,\n" +
			"and tracks operator decisions on proposed remediation actions.",
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file (default $ORCH_CONFIG)")

	serve := newServeCmd(&configPath)
	root.RunE = serve.RunE

	root.AddCommand(serve)
	root.AddCommand(newMigrateCmd(&configPath))
	root.AddCommand(newVersionCmd())
	root.SetVersionTemplate(version.String() + "\n")

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}
