package main

import (
	"github.com/spf13/cobra"
)

func newSyncCmd() *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run a single sync cycle and exit",
		Long: `Runs one drain-queue, dedupe-sweep, poll-remote cycle and exits,
for external schedulers (cron, a launchd/systemd timer) that would
rather own the interval than run a long-lived serve process.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(verbose)
			if err != nil {
				return err
			}
			defer a.Close()

			return a.sync.RunOnce(cmd.Context())
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	return cmd
}
