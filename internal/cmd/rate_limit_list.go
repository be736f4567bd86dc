package cmd

import (
	"github.com/spf13/cobra"

	"github.com/cyclops-relay/cyclops/internal/output"
)

var rateLimitListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored rate limit state",
	RunE: func(cmd *cobra.Command, args []string) error {
		query := rateLimitQueryFlags(cmd)
		if query.Validate() != nil {
			query.All = true
		}

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		db, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		entries, err := db.ListRateLimits(cmd.Context(), query)
		if err != nil {
			return err
		}

		rows := make([]output.RateLimitRow, 0, len(entries))
		for _, entry := range entries {
			rows = append(rows, output.RateLimitRow{ProjectID: entry.ProjectID, State: entry.State})
		}
		return writeTable(cmd, "rate-limit.list", output.RateLimitsTable(rows, entries))
	},
}

func init() {
	addRateLimitQueryFlags(rateLimitListCmd, "List")
	addOutputFlags(rateLimitListCmd)
}
