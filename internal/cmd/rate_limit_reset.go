package cmd

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/cyclops-relay/cyclops/internal/output"
)

var (
	rateLimitResetYes    bool
	rateLimitResetDryRun bool
)

type rateLimitResetResult struct {
	Matched int   `json:"matched"`
	Deleted int64 `json:"deleted"`
	DryRun  bool  `json:"dry_run"`
}

var rateLimitResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset stored rate limit state",
	Long: `Delete stored ingest windows and upstream backoffs so the selected
projects are accepted again immediately.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		query := rateLimitQueryFlags(cmd)
		if err := query.Validate(); err != nil {
			return err
		}
		if query.All && !rateLimitResetYes && !rateLimitResetDryRun {
			return errors.New("--all requires --yes (or use --dry-run)")
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

		result := rateLimitResetResult{DryRun: rateLimitResetDryRun}
		if result.Matched, err = db.CountRateLimits(cmd.Context(), query); err != nil {
			return err
		}
		if !result.DryRun {
			if result.Deleted, err = db.ResetRateLimits(cmd.Context(), query); err != nil {
				return err
			}
		}

		return writeTable(cmd, "rate-limit.reset", rateLimitResetTable(result))
	},
}

func rateLimitResetTable(result rateLimitResetResult) output.Table {
	summary := fmt.Sprintf("Deleted %d/%d rate limit entr(ies)", result.Deleted, result.Matched)
	if result.DryRun {
		summary = fmt.Sprintf("Would delete %d rate limit entr(ies)", result.Matched)
	}
	return output.Table{
		Title:  "Rate Limit Reset",
		Header: []string{"Matched", "Deleted", "Dry Run"},
		Rows: [][]string{{
			strconv.Itoa(result.Matched),
			strconv.FormatInt(result.Deleted, 10),
			strconv.FormatBool(result.DryRun),
		}},
		Footer:  summary,
		Payload: result,
	}
}

func init() {
	addRateLimitQueryFlags(rateLimitResetCmd, "Reset")
	rateLimitResetCmd.Flags().BoolVar(&rateLimitResetYes, "yes", false, "Confirm destructive reset")
	rateLimitResetCmd.Flags().BoolVar(&rateLimitResetDryRun, "dry-run", false, "Show what would be deleted")
	addOutputFlags(rateLimitResetCmd)
}
