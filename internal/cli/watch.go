package cli

import (
	"fmt"
	"os"
	"time"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/kbflow/kbflow/internal/models"
	"github.com/kbflow/kbflow/internal/tracking"
)

// refreshInterval is how often the UI re-reads the tracker view. The
// tracker itself polls and listens on its socket independently.
const refreshInterval = 200 * time.Millisecond

// Theme holds the color scheme for the progress display.
type Theme struct {
	Status     lipgloss.Color
	Success    lipgloss.Color
	Error      lipgloss.Color
	Hint       lipgloss.Color
	ProgressBg lipgloss.Color
}

// defaultTheme provides default colors.
var defaultTheme = Theme{
	Status:     lipgloss.Color("#5FAFD7"), // light blue
	Success:    lipgloss.Color("#00D787"), // green
	Error:      lipgloss.Color("#FF005F"), // red
	Hint:       lipgloss.Color("#6C6C6C"), // dim gray
	ProgressBg: lipgloss.Color("#3A3A3A"), // dark gray
}

// Style functions for dynamic theming
func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) completedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// tickMsg triggers re-reading the tracker view
type tickMsg time.Time

// watchModel is the bubbletea model for live task progress.
type watchModel struct {
	tracker  *tracking.Reconciler
	view     tracking.View
	progress progress.Model
	theme    Theme
	done     bool
	quitting bool
}

// newWatchModel creates a new watch model.
func newWatchModel(tracker *tracking.Reconciler) watchModel {
	prog := progress.New(
		progress.WithDefaultBlend(),
		progress.WithWidth(40),
	)

	return watchModel{
		tracker:  tracker,
		view:     tracker.View(),
		progress: prog,
		theme:    defaultTheme,
	}
}

// Init returns the initial command (start the refresh ticker).
func (m watchModel) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		m.progress.Init(),
	)
}

// Update handles messages and returns the updated model.
func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case tickMsg:
		m.view = m.tracker.View()
		if m.view.Finished {
			m.done = true
			return m, tea.Quit
		}
		return m, tickCmd()

	case progress.FrameMsg:
		// Update progress bar animation
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the progress display.
func (m watchModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

// renderContent builds the display string.
func (m watchModel) renderContent() string {
	if m.done {
		return m.finalView()
	}

	v := m.view

	// Status line with color
	status := m.theme.statusStyle().Render(fmt.Sprintf("[%s]", v.Status))

	// Progress bar with counts
	progressBar := m.progress.ViewAs(v.Progress / 100)
	counts := ""
	if v.TotalItems > 0 {
		counts = fmt.Sprintf("%d/%d items", v.ItemsProcessed, v.TotalItems)
	}

	step := ""
	if v.CurrentStep != "" {
		step = " " + v.CurrentStep
	}

	// Hint about background operation
	hint := m.theme.hintStyle().Render("Press Ctrl+C to stop watching")

	line := fmt.Sprintf("%s %s %s%s\n", status, progressBar, counts, step)
	if v.Message != "" {
		line += v.Message + "\n"
	}
	return line + hint + "\n"
}

// finalView renders the completion message.
func (m watchModel) finalView() string {
	v := m.view

	if m.quitting {
		msg := fmt.Sprintf("\nTask %s continues on the server.\nUse 'kbflow task show %s' to check status.\n",
			v.TaskID, v.TaskID)
		return m.theme.hintStyle().Render(msg)
	}

	switch v.Status {
	case models.TaskStatusFailed:
		reason := v.Message
		if reason == "" {
			reason = "task failed"
		}
		out := m.theme.errorStyle().Render(fmt.Sprintf("\n✗ Failed: %s\n", reason))
		return out + resultSummary(v.Result) + stageSummary(v.Task)
	case models.TaskStatusCancelled:
		return m.theme.hintStyle().Render("\nTask cancelled\n")
	}

	return m.theme.completedStyle().Render("\n✓ Completed\n") + resultSummary(v.Result) + stageSummary(v.Task)
}

// stageSummary renders the stage row of the file an ingestion task
// worked on, after the task fed its outcome into the graph.
func stageSummary(t *models.Task) string {
	if t == nil || t.TaskType != models.TaskTypeIngestion {
		return ""
	}
	fileID, _ := t.Metadata["file_id"].(string)
	if fileID == "" {
		return ""
	}
	stages := graph.Stages(fileID)
	if stages == nil {
		return ""
	}

	out := fmt.Sprintf("\n  Stages (%s):\n", fileID)
	for _, kind := range models.StageKinds {
		out += fmt.Sprintf("    %-10s %s\n", kind, stages[kind].Status)
	}
	return out
}

// resultSummary renders result counters once a terminal result exists.
func resultSummary(r *models.TaskResult) string {
	if r == nil {
		return ""
	}

	out := fmt.Sprintf("\n  Items:        %d\n", r.TotalItems)
	out += fmt.Sprintf("  Succeeded:    %d\n", r.SucceededCount)
	if r.FailedCount > 0 {
		out += fmt.Sprintf("  Failed:       %d\n", r.FailedCount)
	}
	if r.SkippedCount > 0 {
		out += fmt.Sprintf("  Skipped:      %d\n", r.SkippedCount)
	}
	out += fmt.Sprintf("  Success rate: %.1f%%\n", r.SuccessRate()*100)
	if len(r.Errors) > 0 {
		out += fmt.Sprintf("\n  Errors (%d):\n", len(r.Errors))
		for _, e := range r.Errors {
			out += fmt.Sprintf("    • [%s] %s\n", e.Step, e.Message)
		}
	}
	return out
}

// tickCmd returns a command that sends a tick after the refresh interval.
func tickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// watchTask follows a tracked task until it finishes. Interactive
// terminals get the live progress UI; everything else gets plain status
// lines, one per change.
func watchTask(tracker *tracking.Reconciler) error {
	if verbose {
		defer printSessionStats()
	}
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return watchPlain(tracker)
	}

	model := newWatchModel(tracker)
	p := tea.NewProgram(model)

	finalModel, err := p.Run()
	if err != nil {
		return fmt.Errorf("progress UI error: %w", err)
	}

	if m, ok := finalModel.(watchModel); ok {
		// Ctrl+C stops watching, the server-side task keeps running
		if m.quitting {
			return nil
		}
		if m.view.Status == models.TaskStatusFailed {
			if m.view.Message != "" {
				return fmt.Errorf("task failed: %s", m.view.Message)
			}
			return fmt.Errorf("task failed")
		}
	}

	return nil
}

// printSessionStats dumps per-operation timings collected during this
// invocation (poll round-trips, result fetches, socket frames).
func printSessionStats() {
	snap := collector.Snapshot()
	if len(snap.Ops) == 0 {
		return
	}

	fmt.Printf("\nSession statistics (%.1fs):\n", snap.UptimeSeconds)
	for op, s := range snap.Ops {
		if s.TotalTimeMs == 0 {
			fmt.Printf("  %-14s %d events\n", op, s.Count)
			continue
		}
		fmt.Printf("  %-14s %d calls, avg %.1fms, min %dms, max %dms\n",
			op, s.Count, s.AvgTimeMs, s.MinTimeMs, s.MaxTimeMs)
	}
}

// watchPlain prints one line per observed change, for pipes and CI logs.
func watchPlain(tracker *tracking.Reconciler) error {
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()

	var last tracking.View
	for {
		select {
		case <-tracker.Done():
			v := tracker.View()
			fmt.Printf("task %s %s (%.1f%%)\n", v.TaskID, v.Status, v.Progress)
			if v.Status == models.TaskStatusFailed {
				return fmt.Errorf("task failed")
			}
			return nil
		case <-ticker.C:
			v := tracker.View()
			if v.Status != last.Status || v.CurrentStep != last.CurrentStep {
				fmt.Printf("task %s %s %s (%.1f%%)\n", v.TaskID, v.Status, v.CurrentStep, v.Progress)
			}
			last = v
		}
	}
}
