package main

import (
	"fmt"
	"net/http"

	"github.com/caravel-sh/caravel/internal/shell/api"
	"github.com/spf13/cobra"
)

// deployCmd represents the deploy command
var deployCmd = &cobra.Command{
	Use:   "deploy <host>",
	Short: "Trigger a release for a host",
	Long: `Queue a manual release for the named host.

The agent runs the full pipeline: materialize secrets, sync the
checkout to the configured branch, and rebuild the compose stack.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp api.DeployResponse
		if err := doJSON(cmd.Context(), http.MethodPost, "/api/v1/hosts/"+args[0]+"/deploy", &resp); err != nil {
			return err
		}
		fmt.Printf("release %s queued\n", resp.ReleaseID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(deployCmd)
}
