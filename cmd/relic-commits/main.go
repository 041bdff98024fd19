package main

import (
	"context"
	"os"

	"github.com/sha1n/relic-commits/internal/app"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	// Version is injected at build time
	Version = "dev"
	// Build is injected at build time
	Build = "unknown"
	// ProgramName is injected at build time
	ProgramName = "relic-commits"
)

func main() {
	runMain(os.Args, os.Exit)
}

func runMain(args []string, exit func(int)) {
	if err := Execute(Version, Build, ProgramName, args[1:]); err != nil {
		exit(1)
	}
}

// Execute is the entry point for the CLI, extracted for testing
func Execute(version, build, programName string, args []string) error {
	rootCmd := &cobra.Command{
		Use:     programName,
		Short:   "RELIC commits MCP server",
		Long:    "Keeps a full-text index of commit metadata in sync with git history and serves it over MCP",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithFlags(cmd.Flags(), version)
		},
	}

	rootCmd.SetVersionTemplate(`{{.Version}}
`)

	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Synchronize the index of every configured repository once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.SyncOnce(cmd.Context(), app.DefaultRunParams(), cmd.Flags())
		},
	}

	app.RegisterFlags(rootCmd.PersistentFlags())
	rootCmd.AddCommand(syncCmd)
	rootCmd.SetArgs(args)

	return rootCmd.ExecuteContext(context.Background())
}

func runWithFlags(flags *pflag.FlagSet, version string) error {
	return app.RunWithDeps(context.Background(), app.DefaultRunParams(), flags, version)
}
