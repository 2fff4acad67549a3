package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"pkt.systems/expertsurvey/core"
	"pkt.systems/expertsurvey/internal/appconfig"
	"pkt.systems/expertsurvey/internal/roster"
	"pkt.systems/pslog"
)

func newImportCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <roster.csv>",
		Short: "Replace the stored roster with a CSV file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := pslog.Ctx(cmd.Context())
			cfg, err := appconfig.Load(opts.configPath)
			if err != nil {
				return err
			}
			table, err := roster.ReadFile(args[0])
			if err != nil {
				return err
			}
			store, closer, err := openStore(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			if closer != nil {
				defer func() { _ = closer.Close() }()
			}
			svc, err := core.NewService(toServiceConfig(cfg.Roster), core.ServiceDeps{Store: store, Logger: logger})
			if err != nil {
				return err
			}
			resp, err := svc.Import(cmd.Context(), table)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "imported %d rows (%d columns) into %s storage\n", resp.Rows, resp.Columns, cfg.Storage.Driver)
			return err
		},
	}
}
