package main

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/sdlcd/internal/monitor"
)

var watchInterval time.Duration

// watchCmd renders a live run dashboard
var watchCmd = &cobra.Command{
	Use:   "watch <run-id>",
	Short: "Watch a run in a live terminal dashboard",
	Long: `Watch a run in a full-screen terminal dashboard. The view polls the
server and renders stage progress, artifacts, and poll latency until the
run finishes or you quit with q.

Examples:
  # Watch a run
  sdlc watch 2f6c1fa2-7c30-4a83-9e6b-0f0a4f4f2b11

  # Poll faster
  sdlc watch 2f6c1fa2-7c30-4a83-9e6b-0f0a4f4f2b11 --interval 500ms`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().DurationVar(&watchInterval, "interval", 2*time.Second, "poll interval")
}

// runWatch handles the watch command
func runWatch(cmd *cobra.Command, args []string) error {
	model := monitor.NewModel(serverURL, args[0], watchInterval)

	p := tea.NewProgram(model, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("failed to run dashboard: %w", err)
	}

	return nil
}
