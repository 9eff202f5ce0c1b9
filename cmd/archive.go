package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// newArchiveCmd creates and configures the 'archive' subcommand. It walks the
// catalog and submits files without a snapshot to the Wayback Machine.
func newArchiveCmd() *cobra.Command {
	var budgetSeconds int

	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Submit unarchived catalog entries to the Wayback Machine",
		Long: `Walks the catalog in order and submits every entry without a wayback_url to
the archive service, stopping once the wall-clock budget runs out. Each
successful submission is persisted immediately, so the next run picks up
where this one stopped.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			defer appInstance.PushMetrics(cmd.Context())

			budget := time.Duration(budgetSeconds) * time.Second
			if _, err := appInstance.ArchiveRunner(budget).Run(cmd.Context()); err != nil {
				return fmt.Errorf("archive: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&budgetSeconds, "budget", 0,
		"wall-clock budget in seconds (0 uses archive.budget_seconds from the config)")
	return cmd
}
