package main

import (
	"context"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"pkt.systems/psi"
	"pkt.systems/pslog"
)

func main() {
	psi.Run(submain)
}

func submain(ctx context.Context) int {
	// A missing .env is normal; the environment is used as-is.
	_ = godotenv.Load()
	logger := pslog.LoggerFromEnv(
		pslog.WithEnvWriter(os.Stderr),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeConsole}),
	)
	ctx = pslog.ContextWithLogger(ctx, logger)
	log.SetOutput(pslog.LogLogger(logger).Writer())
	log.SetFlags(0)

	root := newRootCmd()
	root.SetArgs(os.Args[1:])

	if err := root.ExecuteContext(ctx); err != nil {
		pslog.Ctx(ctx).With("err", err).Error("expertsurvey command failed")
		return 1
	}
	return 0
}

// globalOptions holds the persistent flags shared by every subcommand.
type globalOptions struct {
	configPath string
	serverURL  string
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:           "expertsurvey",
		Short:         "Clinical expert outcome survey: server, console and API client",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to config file")
	root.PersistentFlags().StringVar(&opts.serverURL, "server", "", "survey API base URL (e.g. http://localhost:5001/api)")

	root.AddCommand(newServeCmd(opts))
	root.AddCommand(newImportCmd(opts))
	root.AddCommand(newSurveyCmd(opts))
	root.AddCommand(newClientCmds(opts)...)
	root.AddCommand(newConfigCmd(opts))
	root.AddCommand(newVersionCmd())

	return root
}
