// Package main provides the caravelctl CLI application.
package main

import (
	"github.com/spf13/cobra"
)

// Version is set by the build.
var Version = "dev"

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "caravelctl",
	Short: "Control the Caravel deployment agent",
	Long: `caravelctl talks to a running Caravel agent.

It triggers releases, inspects release history, and carries a few
offline helpers for preparing a host: rendering the dashboard image
recipe and generating deploy keys.`,
	Version: Version,
}

// serverURL is the base URL of the Caravel agent API.
var serverURL string

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main().
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "Base URL of the Caravel agent")
}
