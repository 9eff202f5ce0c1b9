// Package cmd defines and implements the CLI commands for the tapo-directory
// executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cavefire/Tapo-Directory/internal/app"
	"github.com/cavefire/Tapo-Directory/internal/config"
	"github.com/cavefire/Tapo-Directory/internal/reconciler"
	"github.com/cavefire/Tapo-Directory/internal/submitter"
)

var cfgFile string

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the application surface the subcommands use. This allows us to
// inject a stub app during tests.
type App interface {
	Close()
	GetLogger() *zap.Logger
	SyncRunner(initialCrawl bool) *reconciler.Runner
	ArchiveRunner(budget time.Duration) *submitter.Runner
	PushMetrics(ctx context.Context)
}

// newApp is the application factory. It's a variable so we can replace it
// with a stub factory in our tests.
var newApp = func(ctx context.Context) (App, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	return app.Build(ctx, cfg)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tapo-directory",
		Short: "Catalogs the TP-Link download bucket and archives its files.",
		Long: `tapo-directory maintains a CSV catalog of every file ever observed on the
public download.tplinkcloud.com bucket and submits each file to the Wayback
Machine, so firmware and tools stay retrievable after TP-Link pulls them.`,
		SilenceUsage: true,

		// This hook runs AFTER flags are parsed but BEFORE the subcommand's
		// RunE, so every subcommand finds a fully built application in its
		// context.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}

			// Store the app instance in the context for subcommands to use.
			ctx := context.WithValue(cmd.Context(), appKey, appInstance)
			cmd.SetContext(ctx)
			return nil
		},

		// This hook ensures services are shut down gracefully.
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default searches ., /etc/tapo-directory, $HOME/.tapo-directory)")

	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newArchiveCmd())

	return cmd
}

// resolveApp retrieves the App stored by the root command's PersistentPreRunE.
func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point. SIGINT and SIGTERM cancel the run context;
// an interrupted run loses nothing because the catalog is persisted as it
// changes.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
