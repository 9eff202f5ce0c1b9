package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newSyncCmd creates and configures the 'sync' subcommand. It reconciles the
// live bucket listing against the persisted catalog.
func newSyncCmd() *cobra.Command {
	var initialCrawl bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Reconcile the bucket listing against the catalog",
		Long: `Lists every object in the configured bucket, appends files the catalog has
never seen, marks catalog rows whose file disappeared as removed, and writes
sync_stats.txt for the surrounding automation. The catalog file is replaced
atomically; a failed run leaves the previous catalog untouched.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			defer appInstance.PushMetrics(cmd.Context())

			if _, err := appInstance.SyncRunner(initialCrawl).Run(cmd.Context()); err != nil {
				return fmt.Errorf("sync: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&initialCrawl, "initial-crawl", false,
		"skip removal marking; use when seeding a brand-new catalog")
	return cmd
}
