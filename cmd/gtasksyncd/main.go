// Command gtasksyncd wires C1-C11 together behind a thin cobra CLI
// (C12): serve runs the periodic driver, sync runs one cycle and
// exits, auth bootstraps the stored OAuth2 refresh token.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "gtasksyncd",
		Short: "Offline-first sync core between a local task store and Google Tasks",
	}

	root.AddCommand(newServeCmd())
	root.AddCommand(newSyncCmd())
	root.AddCommand(newAuthCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
