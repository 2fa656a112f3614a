package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"gtasksync/internal/syncsvc"
)

var (
	eventOKStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	eventErrStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

func newServeCmd() *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the periodic sync driver until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(verbose)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			go printEvents(a.sync.Events())

			a.sync.Run(ctx)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	return cmd
}

// printEvents renders each sync event on its own line, colorized by
// outcome, until the channel's producer stops (Run returning closes
// nothing, so this goroutine simply exits with the process).
func printEvents(events <-chan syncsvc.Event) {
	for ev := range events {
		if ev.Status == syncsvc.StatusSuccess {
			fmt.Println(eventOKStyle.Render(fmt.Sprintf("[%s] %s", ev.Type, ev.Status)))
			continue
		}
		fmt.Println(eventErrStyle.Render(fmt.Sprintf("[%s] %s: %s", ev.Type, ev.Status, ev.Error)))
	}
}
