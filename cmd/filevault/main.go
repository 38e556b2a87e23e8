// Command filevault runs the multi-tenant file intake and retrieval service.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var exitFunc = os.Exit

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		exitFunc(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "filevault",
		Short:         "Multi-tenant file intake and retrieval service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCommand(), newMigrateCommand())
	return root
}
