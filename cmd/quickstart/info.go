package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newInfoCmd(global *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show the loaded template tree",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			a, err := newApp(cmd.Context(), global)
			if err != nil {
				return err
			}
			defer func() {
				if closeErr := a.close(); err == nil {
					err = closeErr
				}
			}()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "root:    %s\n", a.cache.Root())
			fmt.Fprintf(out, "files:   %d\n", a.cache.FileCount())
			fmt.Fprintf(out, "version: %s\n", a.cache.VersionStamp())

			return nil
		},
	}
}
