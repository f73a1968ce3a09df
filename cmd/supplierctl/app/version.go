package app

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

func (a *App) installVersion() {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Returns version of supplierctl and exits",
		Args:  cobra.NoArgs,
		RunE:  func(cmd *cobra.Command, args []string) error { return getVersion(cmd.OutOrStdout()) },
	}
	a.rootCmd.AddCommand(cmd)
}

// getVersion prints the current version.
func getVersion(w io.Writer) (err error) {
	fmt.Fprintf(w, "%s\t%s\n", cmdName, Version)
	return nil
}
