// Package cmd provides the CLI commands for Tollgate.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tollgate/tollgate/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "tollgate",
	Short: "Tollgate - policy-enforcement gateway for AI agent tool calls",
	Long: `Tollgate sits between autonomous AI agents and the tools they invoke.
It classifies every tool call, evaluates it against a workspace's rules and
leases, and returns allow/deny/require-human-approval. When a call requires
approval, Tollgate issues a single-use token bound to the exact call that a
retried request must present to proceed.

Quick start:
  1. Create a config file: tollgate.yaml
  2. Run: tollgate serve

Configuration:
  Config is loaded from tollgate.yaml in the current directory,
  $HOME/.tollgate/, or /etc/tollgate/.

  Environment variables can override config values with the TOLLGATE_
  prefix. Example: TOLLGATE_SERVER_HTTP_ADDR=:9090

Commands:
  serve       Start the gateway's HTTP server
  migrate     Run the SQLite schema migration standalone
  hash-key    Generate SHA256 hash for an agent API key
  version     Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./tollgate.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
