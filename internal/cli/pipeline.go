package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kbflow/kbflow/internal/models"
	"github.com/kbflow/kbflow/internal/pipeline"
)

var (
	detach        bool
	ingestSource  string
	incremental   bool
	publishTarget string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <version-id>",
	Short: "Start an ingestion run for a version",
	Long: `Start an ingestion run for a version and follow its progress.

The action is checked against the version's current status and in-flight
tasks before triggering. Use --detach to trigger without watching.`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

var buildCmd = &cobra.Command{
	Use:   "build <version-id>",
	Short: "Start an index build for a version",
	Args:  cobra.ExactArgs(1),
	RunE:  runBuild,
}

var publishCmd = &cobra.Command{
	Use:   "publish <version-id>",
	Short: "Publish a ready version",
	Args:  cobra.ExactArgs(1),
	RunE:  runPublish,
}

func init() {
	for _, c := range []*cobra.Command{ingestCmd, buildCmd, publishCmd} {
		c.Flags().BoolVar(&detach, "detach", false, "trigger without watching progress")
	}
	ingestCmd.Flags().StringVar(&ingestSource, "source", "", "source location for ingestion")
	buildCmd.Flags().BoolVar(&incremental, "incremental", false, "only index files changed since the parent version")
	publishCmd.Flags().StringVar(&publishTarget, "target", "production", "publish target environment")

	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(publishCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	config := map[string]any{}
	if ingestSource != "" {
		config["source"] = ingestSource
	}
	return runPipelineAction(args[0], pipeline.ActionIngest, config, apiClient.TriggerIngest)
}

func runBuild(cmd *cobra.Command, args []string) error {
	config := map[string]any{"incremental": incremental}
	return runPipelineAction(args[0], pipeline.ActionBuild, config, apiClient.TriggerBuild)
}

func runPublish(cmd *cobra.Command, args []string) error {
	config := map[string]any{"target": publishTarget}
	return runPipelineAction(args[0], pipeline.ActionPublish, config, apiClient.TriggerPublish)
}

// runPipelineAction is the shared trigger flow: gate check, trigger,
// then track the returned task.
func runPipelineAction(
	versionID string,
	action pipeline.Action,
	config map[string]any,
	trigger func(ctx context.Context, versionID string, config map[string]any) (*models.Task, error),
) error {
	ctx := context.Background()

	v, err := apiClient.FetchVersion(ctx, versionID)
	if err != nil {
		return fmt.Errorf("fetch version: %w", err)
	}
	store.SelectVersion(v)

	actions, err := permittedActions(ctx, v)
	if err != nil {
		return err
	}
	if err := actions.Check(action, v.Status); err != nil {
		return err
	}

	task, err := trigger(ctx, versionID, config)
	if err != nil {
		return fmt.Errorf("trigger %s: %w", action, err)
	}

	fmt.Printf("Started %s task %s\n", action, task.ID)

	tracker := manager.Track(task)
	if detach {
		fmt.Printf("Use 'kbflow task show %s' to check status.\n", task.ID)
		return nil
	}

	return watchTask(tracker)
}
