package main

import (
	"fmt"
	"os"

	"github.com/caravel-sh/caravel/internal/core/compose"
	"github.com/caravel-sh/caravel/internal/core/secrets"
	"github.com/spf13/cobra"
)

// stackCmd represents the stack command
var stackCmd = &cobra.Command{
	Use:   "stack",
	Short: "Work with compose stack manifests",
}

// stackCheckCmd represents the stack check command
var stackCheckCmd = &cobra.Command{
	Use:   "check <compose-file>",
	Short: "Validate a compose manifest before pushing it",
	Long: `Validate a compose manifest the way the deploy pipeline's remote
rebuild would see it: the file must parse, declare at least one service,
have no circular depends_on chains and no duplicate published ports.

With --secrets, every ${VAR} interpolation in the manifest is checked
against the keys declared in the secrets file, and unresolved variables
are reported.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}

		manifest, err := compose.Parse(string(data))
		if err != nil {
			return fmt.Errorf("parse %s: %w", args[0], err)
		}

		for _, name := range manifest.ServiceNames() {
			fmt.Fprintf(cmd.OutOrStdout(), "service: %s\n", name)
		}

		if stackOpts.secretsFile != "" {
			content, err := os.ReadFile(stackOpts.secretsFile)
			if err != nil {
				return err
			}
			missing := compose.MissingVariables(string(data), secrets.Keys(content))
			if len(missing) > 0 {
				for _, v := range missing {
					fmt.Fprintf(cmd.OutOrStdout(), "unresolved: ${%s}\n", v)
				}
				return fmt.Errorf("%d unresolved variable(s)", len(missing))
			}
		}

		fmt.Fprintln(cmd.OutOrStdout(), "ok")
		return nil
	},
}

// stackFlags holds the flags for the stack subcommands
type stackFlags struct {
	secretsFile string
}

var stackOpts stackFlags

func init() {
	rootCmd.AddCommand(stackCmd)
	stackCmd.AddCommand(stackCheckCmd)

	stackCheckCmd.Flags().StringVar(&stackOpts.secretsFile, "secrets", "", "Secrets file to resolve ${VAR} interpolations against")
}
