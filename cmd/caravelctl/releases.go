package main

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/caravel-sh/caravel/internal/shell/api"
	"github.com/spf13/cobra"
)

// releasesCmd represents the releases command
var releasesCmd = &cobra.Command{
	Use:   "releases",
	Short: "List release history",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "/api/v1/releases/?limit=" + strconv.Itoa(releasesOpts.limit)
		if releasesOpts.host != "" {
			path += "&host=" + url.QueryEscape(releasesOpts.host)
		}

		var resp api.ReleaseListResponse
		if err := doJSON(cmd.Context(), http.MethodGet, path, &resp); err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tHOST\tTRIGGER\tBRANCH\tCOMMIT\tSTATUS\tCREATED")
		for _, r := range resp.Releases {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				r.ID, r.HostName, r.Trigger, r.Branch, shortSHA(r.CommitSHA), r.Status,
				r.CreatedAt.Local().Format(time.RFC3339))
		}
		return w.Flush()
	},
}

// releaseShowCmd represents the releases show command
var releaseShowCmd = &cobra.Command{
	Use:   "show <release-id>",
	Short: "Show one release with step outputs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var r api.ReleaseResponse
		if err := doJSON(cmd.Context(), http.MethodGet, "/api/v1/releases/"+args[0], &r); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "release: %s\n", r.ID)
		fmt.Fprintf(out, "host:    %s\n", r.HostName)
		fmt.Fprintf(out, "branch:  %s\n", r.Branch)
		if r.CommitSHA != "" {
			fmt.Fprintf(out, "commit:  %s\n", r.CommitSHA)
		}
		fmt.Fprintf(out, "status:  %s\n", r.Status)
		if r.ErrorMessage != "" {
			fmt.Fprintf(out, "error:   %s\n", r.ErrorMessage)
		}
		for _, step := range r.Steps {
			fmt.Fprintf(out, "\n[%s] %s\n", step.Status, step.Name)
			if step.Output != "" {
				fmt.Fprintln(out, step.Output)
			}
			if step.Error != "" {
				fmt.Fprintf(out, "error: %s\n", step.Error)
			}
		}
		return nil
	},
}

// releasesFlags holds the flags for the releases command
type releasesFlags struct {
	host  string
	limit int
}

var releasesOpts releasesFlags

func shortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}

func init() {
	rootCmd.AddCommand(releasesCmd)
	releasesCmd.AddCommand(releaseShowCmd)

	releasesCmd.Flags().StringVar(&releasesOpts.host, "host", "", "Filter by host name")
	releasesCmd.Flags().IntVar(&releasesOpts.limit, "limit", 20, "Maximum number of releases to list")
}
