package main

import (
	"github.com/spf13/cobra"

	"pkt.systems/expertsurvey/flow"
	"pkt.systems/expertsurvey/internal/command"
	"pkt.systems/expertsurvey/internal/console"
)

func newSurveyCmd(opts *globalOptions) *cobra.Command {
	var disableAuditTrails bool
	cmd := &cobra.Command{
		Use:   "survey",
		Short: "Run the interactive survey console",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openClient(cmd, opts)
			if err != nil {
				return err
			}
			ctl := flow.NewController(env.client)
			return console.Run(cmd.Context(), ctl, console.Config{
				In:  cmd.InOrStdin(),
				Out: cmd.OutOrStdout(),
				Handler: command.HandlerConfig{
					DisableAuditLogging: disableAuditTrails || env.cfg.Logging.DisableAuditTrails,
				},
			})
		},
	}
	cmd.Flags().BoolVar(&disableAuditTrails, "disable-audit-trails", false, "disable audit trail logging for commands")
	return cmd
}
