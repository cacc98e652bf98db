// Package main provides the CLI entry point for the Strand agent runtime.
//
// Strand serves an OpenAI-compatible chat surface backed by a multi-turn
// agent loop with local, sandbox, and MCP tools, per-thread persistence,
// and context-overflow compaction.
//
// # Basic Usage
//
// Start the server:
//
//	strand serve
//
// Start with a config file and debug logging:
//
//	strand serve --config /etc/strand/strand.yaml --debug
//
// Print the config file schema:
//
//	strand config schema
//
// Configuration comes from environment variables (PORTKEY_API_KEY,
// DAYTONA_API_KEY, SUPABASE_URL, ...) layered over an optional
// strand.yaml; environment values always win.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/strandlabs/strand/internal/config"
)

// Build information - populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	root := &cobra.Command{
		Use:           "strand",
		Short:         "Strand LLM agent runtime",
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(buildServeCmd())
	root.AddCommand(buildConfigCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// buildConfigCmd creates the "config" command group.
func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration helpers",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema for strand.yaml",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, err := config.Schema()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(schema))
			return nil
		},
	})

	return cmd
}
