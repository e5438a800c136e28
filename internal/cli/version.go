package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/kbflow/kbflow/internal/client"
	"github.com/kbflow/kbflow/internal/models"
	"github.com/kbflow/kbflow/internal/pipeline"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Inspect knowledge base versions",
}

var versionShowCmd = &cobra.Command{
	Use:   "show <version-id>",
	Short: "Show a version, its counters, and permitted actions",
	Args:  cobra.ExactArgs(1),
	RunE:  runVersionShow,
}

var (
	filesStatus string
	filesPage   int

	versionFilesCmd = &cobra.Command{
		Use:   "files <version-id>",
		Short: "List a version's files and their stage states",
		Args:  cobra.ExactArgs(1),
		RunE:  runVersionFiles,
	}
)

var (
	previewVersion string

	versionPreviewCmd = &cobra.Command{
		Use:   "preview <file-id> <stage>",
		Short: "Preview a file's output for one completed stage",
		Long: `Preview the output of a completed processing stage for a file.

With --version, the stage states of the whole version are loaded first
and the preview is refused locally unless the stage is done.

Stages: das, qa, embedding, full`,
		Args: cobra.ExactArgs(2),
		RunE: runVersionPreview,
	}
)

func init() {
	versionFilesCmd.Flags().StringVar(&filesStatus, "status", "", "filter files by stage status")
	versionFilesCmd.Flags().IntVar(&filesPage, "page", 1, "page number")
	versionPreviewCmd.Flags().StringVar(&previewVersion, "version", "", "version id, enables the local stage gate")

	versionCmd.AddCommand(versionShowCmd)
	versionCmd.AddCommand(versionFilesCmd)
	versionCmd.AddCommand(versionPreviewCmd)
	rootCmd.AddCommand(versionCmd)
}

func runVersionShow(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	v, err := apiClient.FetchVersion(ctx, args[0])
	if err != nil {
		return fmt.Errorf("fetch version: %w", err)
	}
	store.SelectVersion(v)

	fmt.Printf("Version: %s\n", v.ID)
	fmt.Printf("  Knowledge base: %s\n", v.KnowledgeBaseID)
	fmt.Printf("  Status: %s\n", v.Status)
	fmt.Printf("  Files: %d (%d indexed, %d pending, %d failed)\n",
		v.FileCount, v.IndexedCount, v.PendingCount, v.FailedCount)
	if v.ParentVersionID != nil {
		fmt.Printf("  Parent version: %s\n", *v.ParentVersionID)
	}
	fmt.Printf("  Created: %s\n", v.CreatedAt.Format(time.RFC3339))

	actions, err := permittedActions(ctx, v)
	if err != nil {
		return err
	}

	fmt.Println("\nPermitted actions:")
	fmt.Printf("  ingest:  %s\n", allowedMark(actions.CanIngest))
	fmt.Printf("  build:   %s\n", allowedMark(actions.CanBuild))
	fmt.Printf("  publish: %s\n", allowedMark(actions.CanPublish))

	return nil
}

// permittedActions evaluates the action gate for a version against the
// backend's current task list.
func permittedActions(ctx context.Context, v *models.Version) (pipeline.Actions, error) {
	tasks, err := apiClient.ListTasks(ctx, client.ListTasksOptions{
		VersionID:  v.ID,
		ActiveOnly: true,
	})
	if err != nil {
		return pipeline.Actions{}, fmt.Errorf("list active tasks: %w", err)
	}
	return pipeline.Evaluate(v.Status, pipeline.ActiveFromTasks(v.ID, tasks)), nil
}

func allowedMark(allowed bool) string {
	if allowed {
		return "yes"
	}
	return "no"
}

func runVersionFiles(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	var status *string
	if filesStatus != "" {
		status = &filesStatus
	}

	files, err := apiClient.FetchVersionFiles(ctx, args[0], filesPage, status)
	if err != nil {
		return fmt.Errorf("fetch version files: %w", err)
	}

	if len(files) == 0 {
		fmt.Println("No files found")
		return nil
	}

	fmt.Printf("%-38s %-28s %-12s %-12s %-12s %s\n", "ID", "NAME", "DAS", "QA", "EMBEDDING", "FULL")
	fmt.Println("-----------------------------------------------------------------------------------------------------------------")
	for _, f := range files {
		fmt.Printf("%-38s %-28s %-12s %-12s %-12s %s\n", f.ID, f.Name,
			stageCell(f, models.StageExtraction),
			stageCell(f, models.StageQA),
			stageCell(f, models.StageEmbedding),
			stageCell(f, models.StageFull))
	}

	return nil
}

func stageCell(f models.FileVersion, kind models.StageKind) string {
	st, ok := f.Stages[kind]
	if !ok {
		return string(models.StageNotStarted)
	}
	if st.Status == models.StageRunning && st.Progress != nil {
		return fmt.Sprintf("%s %.0f%%", st.Status, *st.Progress)
	}
	return string(st.Status)
}

func runVersionPreview(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	fileID, kind := args[0], models.StageKind(args[1])

	valid := false
	for _, k := range models.StageKinds {
		if k == kind {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("unknown stage %q (expected one of: das, qa, embedding, full)", args[1])
	}

	if previewVersion != "" {
		files, err := apiClient.FetchVersionFiles(ctx, previewVersion, 0, nil)
		if err != nil {
			return fmt.Errorf("fetch version files: %w", err)
		}
		for _, f := range files {
			graph.RegisterFile(f)
		}
		if !graph.CanPreview(fileID, kind) {
			return fmt.Errorf("stage %s for file %s is not done yet", kind, fileID)
		}
	}

	preview, err := apiClient.FetchStagePreview(ctx, fileID, kind)
	if err != nil {
		return fmt.Errorf("fetch stage preview: %w", err)
	}

	fmt.Println(string(preview))
	return nil
}
