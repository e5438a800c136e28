package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/kbflow/kbflow/internal/client"
	"github.com/kbflow/kbflow/internal/models"
	"github.com/kbflow/kbflow/internal/task"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "List and manage pipeline tasks",
}

var (
	taskListKB      string
	taskListVersion string
	taskListActive  bool
	taskListWatch   bool

	taskListCmd = &cobra.Command{
		Use:   "list",
		Short: "List tasks, most recent first",
		RunE:  runTaskList,
	}
)

var taskShowCmd = &cobra.Command{
	Use:   "show <task-id>",
	Short: "Show details for a task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskShow,
}

var taskResultCmd = &cobra.Command{
	Use:   "result <task-id>",
	Short: "Show the result summary of a finished task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskResult,
}

var (
	cancelReason string

	taskCancelCmd = &cobra.Command{
		Use:   "cancel <task-id>",
		Short: "Request cancellation of an active task",
		Args:  cobra.ExactArgs(1),
		RunE:  runTaskCancel,
	}
)

var taskRetryCmd = &cobra.Command{
	Use:   "retry <task-id>",
	Short: "Retry a failed or cancelled task",
	Long: `Retry a failed or cancelled task.

The server creates a new task; the old task id stays terminal. The new
task is watched unless --detach is given.`,
	Args: cobra.ExactArgs(1),
	RunE: runTaskRetry,
}

var watchCmd = &cobra.Command{
	Use:   "watch <task-id>",
	Short: "Follow a task's progress live",
	Args:  cobra.ExactArgs(1),
	RunE:  runWatch,
}

func init() {
	taskListCmd.Flags().StringVar(&taskListKB, "kb", "", "filter by knowledge base id")
	taskListCmd.Flags().StringVar(&taskListVersion, "version", "", "filter by version id")
	taskListCmd.Flags().BoolVar(&taskListActive, "active", false, "only pending and running tasks")
	taskListCmd.Flags().BoolVar(&taskListWatch, "watch", false, "refresh the listing on the list poll interval")
	taskCancelCmd.Flags().StringVar(&cancelReason, "reason", "", "reason recorded with the cancellation")
	taskRetryCmd.Flags().BoolVar(&detach, "detach", false, "trigger without watching progress")

	taskCmd.AddCommand(taskListCmd)
	taskCmd.AddCommand(taskShowCmd)
	taskCmd.AddCommand(taskResultCmd)
	taskCmd.AddCommand(taskCancelCmd)
	taskCmd.AddCommand(taskRetryCmd)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(watchCmd)
}

func runTaskList(cmd *cobra.Command, args []string) error {
	if taskListKB == "" {
		taskListKB = cfg.DefaultKnowledgeBase
	}

	if !taskListWatch {
		return printTaskList(context.Background())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	ticker := time.NewTicker(cfg.ListPollInterval)
	defer ticker.Stop()

	for {
		if err := printTaskList(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			fmt.Println()
		}
	}
}

func printTaskList(ctx context.Context) error {
	tasks, err := apiClient.ListTasks(ctx, client.ListTasksOptions{
		KnowledgeBaseID: taskListKB,
		VersionID:       taskListVersion,
		ActiveOnly:      taskListActive,
	})
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}

	if len(tasks) == 0 {
		fmt.Println("No tasks found")
		return nil
	}

	fmt.Printf("%-38s %-12s %-12s %-8s %s\n", "ID", "TYPE", "STATUS", "RETRIES", "CREATED")
	fmt.Println("--------------------------------------------------------------------------------------")
	for _, t := range tasks {
		fmt.Printf("%-38s %-12s %-12s %-8s %s\n",
			t.ID, t.TaskType, task.DisplayStatus(t.Status),
			fmt.Sprintf("%d/%d", t.RetryCount, t.MaxRetries),
			t.CreatedAt.Format("15:04:05"))
	}

	return nil
}

func runTaskShow(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	t, err := apiClient.FetchTask(ctx, args[0])
	if err != nil {
		return fmt.Errorf("fetch task: %w", err)
	}

	printTask(t)

	if task.IsTerminal(t.Status) && t.Status != models.TaskStatusCancelled {
		result, err := apiClient.FetchTaskResult(ctx, t.ID)
		if err != nil {
			fmt.Printf("\nResult not available: %v\n", err)
			return nil
		}
		printResult(result)
	}

	return nil
}

func printTask(t *models.Task) {
	fmt.Printf("Task: %s\n", t.ID)
	fmt.Printf("  Type: %s\n", t.TaskType)
	fmt.Printf("  Status: %s\n", task.DisplayStatus(t.Status))
	fmt.Printf("  Knowledge base: %s\n", t.KnowledgeBaseID)
	fmt.Printf("  Version: %s\n", t.KnowledgeBaseVersionID)
	fmt.Printf("  Retries: %d/%d\n", t.RetryCount, t.MaxRetries)
	fmt.Printf("  Created: %s\n", t.CreatedAt.Format(time.RFC3339))
	if t.StartedAt != nil {
		fmt.Printf("  Started: %s\n", t.StartedAt.Format(time.RFC3339))
	}
	if t.CompletedAt != nil {
		fmt.Printf("  Completed: %s\n", t.CompletedAt.Format(time.RFC3339))
		if t.StartedAt != nil {
			fmt.Printf("  Duration: %s\n", t.CompletedAt.Sub(*t.StartedAt).Round(time.Second))
		}
	}
}

func runTaskResult(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	result, err := apiClient.FetchTaskResult(ctx, args[0])
	if err != nil {
		return fmt.Errorf("fetch task result: %w", err)
	}

	printResult(result)
	return nil
}

func printResult(r *models.TaskResult) {
	fmt.Println("\nResult:")
	fmt.Printf("  Items: %d total, %d succeeded, %d failed, %d skipped\n",
		r.TotalItems, r.SucceededCount, r.FailedCount, r.SkippedCount)
	fmt.Printf("  Success rate: %.1f%%\n", r.SuccessRate()*100)
	for step, stats := range r.StepStats {
		fmt.Printf("  %s: %d/%d\n", step, stats.Succeeded, stats.Total)
	}
	if len(r.Errors) > 0 {
		fmt.Printf("\n  Errors (%d):\n", len(r.Errors))
		for _, e := range r.Errors {
			recoverable := ""
			if e.Recoverable {
				recoverable = " (recoverable)"
			}
			fmt.Printf("    - [%s] %s: %s%s\n", e.Step, e.ItemID, e.Message, recoverable)
		}
	}
}

func runTaskCancel(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	t, err := manager.Cancel(ctx, args[0], cancelReason)
	if err != nil {
		return err
	}

	fmt.Printf("Cancellation requested for task %s (status: %s)\n", t.ID, task.DisplayStatus(t.Status))
	return nil
}

func runTaskRetry(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	t, tracker, err := manager.Retry(ctx, args[0], nil)
	if err != nil {
		return err
	}

	fmt.Printf("Retrying as new task %s\n", t.ID)
	if detach {
		fmt.Printf("Use 'kbflow task show %s' to check status.\n", t.ID)
		return nil
	}

	return watchTask(tracker)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	t, err := apiClient.FetchTask(ctx, args[0])
	if err != nil {
		return fmt.Errorf("fetch task: %w", err)
	}

	return watchTask(manager.Track(t))
}
