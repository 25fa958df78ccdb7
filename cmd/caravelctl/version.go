package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// BuildTime is set by the build.
var BuildTime = "unknown"

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("caravelctl version: %s\n", Version)
		fmt.Printf("  build date: %s\n", BuildTime)
		fmt.Printf("  go version: %s\n", runtime.Version())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
