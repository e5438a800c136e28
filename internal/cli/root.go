// Package cli provides the command-line interface for kbflow.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/kbflow/kbflow/internal/appstate"
	"github.com/kbflow/kbflow/internal/client"
	"github.com/kbflow/kbflow/internal/config"
	"github.com/kbflow/kbflow/internal/events"
	"github.com/kbflow/kbflow/internal/metrics"
	"github.com/kbflow/kbflow/internal/stage"
	"github.com/kbflow/kbflow/internal/tracking"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose bool

	// Global config and wiring, set up in PersistentPreRunE
	cfg        config.Config
	apiClient  *client.Client
	bus        *events.Bus
	graph      *stage.Graph
	store      *appstate.Store
	manager    *tracking.Manager
	collector  *metrics.Collector
	logCleanup func() error
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "kbflow",
	Short: "Knowledge base pipeline console",
	Long: `Kbflow is an operator console for knowledge base ETL pipelines.

Trigger ingest, build, and publish runs against a pipeline server, then
follow their progress live over polling and websocket push. Inspect
versions, per-file stage state, and task results.`,
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// No server wiring needed for help
		if cmd.Name() == "help" {
			return nil
		}

		cfg = config.Load()

		level := cfg.LogLevel
		if verbose {
			level = slog.LevelDebug
		}
		logger, cleanup := config.SetupLogger(cfg.LogFile, level)
		slog.SetDefault(logger)
		logCleanup = cleanup

		collector = metrics.NewCollector()
		apiClient = client.New(cfg.ServerURL,
			client.WithLogger(logger),
			client.WithMetrics(collector),
			client.WithHeartbeat(cfg.HeartbeatInterval),
		)

		bus = events.NewBus(events.WithLogger(logger))
		graph = stage.NewGraph()
		store = appstate.New()

		manager = tracking.NewManager(apiClient,
			tracking.WithDialer(func(ctx context.Context, taskID string) (tracking.ProgressStream, error) {
				return apiClient.SubscribeProgress(ctx, taskID)
			}),
			tracking.WithBus(bus),
			tracking.WithStageGraph(graph),
			tracking.WithLogger(logger),
			tracking.WithPollInterval(cfg.DetailPollInterval),
			tracking.WithConnectionListener(store.SetSocketConnected),
		)

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if manager != nil {
			manager.StopAll()
		}
		if logCleanup != nil {
			if err := logCleanup(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close log file: %v\n", err)
			}
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
