package main

import (
	"fmt"
	"os"

	"github.com/caravel-sh/caravel/internal/core/recipe"
	"github.com/spf13/cobra"
)

// recipeCmd represents the recipe command
var recipeCmd = &cobra.Command{
	Use:   "recipe",
	Short: "Work with dashboard image build recipes",
}

// recipeRenderCmd represents the recipe render command
var recipeRenderCmd = &cobra.Command{
	Use:   "render <entrypoint>",
	Short: "Render a Dockerfile for a dashboard entrypoint",
	Long: `Render a Dockerfile that serves the given Streamlit entrypoint.

The image installs the dependency manifest, exposes the serve port and
binds the dashboard to all interfaces so it is reachable from outside
the container.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r := recipe.New(args[0])
		applyRecipeFlags(&r)

		dockerfile, err := r.Render()
		if err != nil {
			return err
		}

		if recipeOpts.output != "" {
			return os.WriteFile(recipeOpts.output, []byte(dockerfile), 0644)
		}
		fmt.Fprint(cmd.OutOrStdout(), dockerfile)
		return nil
	},
}

// recipeLintCmd represents the recipe lint command
var recipeLintCmd = &cobra.Command{
	Use:   "lint <dockerfile> <entrypoint>",
	Short: "Check a Dockerfile against the dashboard serving conventions",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}

		r := recipe.New(args[1])
		applyRecipeFlags(&r)

		problems := r.Lint(string(data))
		if len(problems) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		}
		for _, p := range problems {
			fmt.Fprintf(cmd.OutOrStdout(), "warning: %v\n", p)
		}
		return fmt.Errorf("%d problem(s) found", len(problems))
	},
}

// recipeFlags holds the flags shared by the recipe subcommands
type recipeFlags struct {
	baseImage string
	manifest  string
	port      int
	output    string
}

var recipeOpts recipeFlags

func applyRecipeFlags(r *recipe.Recipe) {
	if recipeOpts.baseImage != "" {
		r.BaseImage = recipeOpts.baseImage
	}
	if recipeOpts.manifest != "" {
		r.Manifest = recipeOpts.manifest
	}
	if recipeOpts.port != 0 {
		r.ServePort = recipeOpts.port
	}
}

func init() {
	rootCmd.AddCommand(recipeCmd)
	recipeCmd.AddCommand(recipeRenderCmd)
	recipeCmd.AddCommand(recipeLintCmd)

	recipeCmd.PersistentFlags().StringVar(&recipeOpts.baseImage, "base-image", "", "Base image (default "+recipe.DefaultBaseImage+")")
	recipeCmd.PersistentFlags().StringVar(&recipeOpts.manifest, "manifest", "", "Dependency manifest (default "+recipe.DefaultManifest+")")
	recipeCmd.PersistentFlags().IntVar(&recipeOpts.port, "port", 0, "Serve port (default 8501)")
	recipeRenderCmd.Flags().StringVarP(&recipeOpts.output, "output", "o", "", "Write the Dockerfile to a file instead of stdout")
}
