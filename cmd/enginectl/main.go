// Package main provides the CLI entry point for enginectl, the agent
// execution engine's runtime server: middleware tool pipeline, queue
// scheduler, durable sandbox sessions, memory manager, and runtime
// observer wired into one HTTP/SSE process (see SPEC_FULL.md).
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during build.
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "enginectl",
		Short:        "enginectl - agent execution engine runtime server",
		Long:         `enginectl runs the agent execution engine's runtime core: middleware tool pipeline, queue-mode run scheduler, durable sandbox sessions, memory manager, and runtime observer, exposed over an HTTP/SSE API.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(buildServeCmd())

	return rootCmd
}
