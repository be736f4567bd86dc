package cmd

import (
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cyclops-relay/cyclops/internal/core/store"
)

var rateLimitCmd = &cobra.Command{
	Use:   "rate-limit",
	Short: "Inspect and reset per-project ingest rate limit state",
}

func init() {
	rateLimitCmd.AddCommand(rateLimitListCmd)
	rateLimitCmd.AddCommand(rateLimitResetCmd)
	rootCmd.AddCommand(rateLimitCmd)
}

// rateLimitQueryFlags reads the row selectors from cmd.
func rateLimitQueryFlags(cmd *cobra.Command) store.RateLimitQuery {
	all, _ := cmd.Flags().GetBool("all")
	project, _ := cmd.Flags().GetString("project")
	prefix, _ := cmd.Flags().GetString("prefix")
	backoff, _ := cmd.Flags().GetBool("backoff")
	return store.RateLimitQuery{
		All:         all,
		ProjectID:   strings.TrimSpace(project),
		Prefix:      strings.TrimSpace(prefix),
		BackoffOnly: backoff,
		Now:         time.Now().UTC(),
	}
}

func addRateLimitQueryFlags(cmd *cobra.Command, verb string) {
	cmd.Flags().Bool("all", false, verb+" every project")
	cmd.Flags().String("project", "", verb+" a single project (exact match)")
	cmd.Flags().String("prefix", "", verb+" projects whose id starts with prefix")
	cmd.Flags().Bool("backoff", false, verb+" only projects still backing off after an upstream 429")
}
