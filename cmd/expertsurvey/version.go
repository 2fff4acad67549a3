package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"pkt.systems/expertsurvey/internal/version"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			info := version.Describe()
			if _, err := fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", info.Module, info.Version); err != nil {
				return err
			}
			if info.Revision == "" {
				return nil
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "revision %s (%s)\n", info.Revision, info.GoVersion)
			return err
		},
	}
}
