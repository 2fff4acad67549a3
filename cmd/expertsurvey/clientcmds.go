package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"pkt.systems/expertsurvey/flow"
	"pkt.systems/expertsurvey/internal/format"
	"pkt.systems/expertsurvey/schema"
)

// newClientCmds returns the one-shot API commands. Each call reuses the
// session stored by login.
func newClientCmds(opts *globalOptions) []*cobra.Command {
	return []*cobra.Command{
		newHealthCmd(opts),
		newWhoamiCmd(opts),
		newLoginCmd(opts),
		newLogoutCmd(opts),
		newPatientsCmd(opts),
		newShowCmd(opts),
		newClaimCmd(opts),
		newReleaseCmd(opts),
		newSubmitCmd(opts),
		newNextCmd(opts),
		newProgressCmd(opts),
		newMetricsCmd(opts),
		newCSVCmd(opts),
	}
}

func writeLines(w io.Writer, lines []string) error {
	for _, line := range lines {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

func parseRowArg(value string) (schema.Row, error) {
	n, err := strconv.Atoi(value)
	if err != nil || !schema.Row(n).Valid() {
		return 0, fmt.Errorf("invalid row %q", value)
	}
	return schema.Row(n), nil
}

func newHealthCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the survey API is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openClient(cmd, opts)
			if err != nil {
				return err
			}
			if err := env.client.Health(cmd.Context()); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "ok %s\n", env.client.BaseURL())
			return err
		},
	}
}

func newWhoamiCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in reviewer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openClient(cmd, opts)
			if err != nil {
				return err
			}
			user, err := env.client.GetUser(cmd.Context())
			if err != nil {
				return err
			}
			if user == nil {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), "not signed in")
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s <%s>\n", user.Name, user.Email)
			return err
		},
	}
}

func newLoginCmd(opts *globalOptions) *cobra.Command {
	var name, email string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in as a reviewer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := schema.NormalizeUser(name, email); err != nil {
				return err
			}
			env, err := openClient(cmd, opts)
			if err != nil {
				return err
			}
			user, err := env.client.SetUser(cmd.Context(), name, email)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "signed in as %s <%s>\n", user.Name, user.Email)
			return err
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "reviewer name")
	cmd.Flags().StringVar(&email, "email", "", "reviewer email")
	return cmd
}

func newLogoutCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session and forget the stored cookie",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openClient(cmd, opts)
			if err != nil {
				return err
			}
			logoutErr := env.client.Logout(cmd.Context())
			if err := env.jar.Clear(); err != nil {
				return err
			}
			if logoutErr != nil {
				return logoutErr
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "signed out")
			return err
		},
	}
}

func newPatientsCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "patients",
		Short: "List the roster",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openClient(cmd, opts)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			var email schema.Email
			if user, err := env.client.GetUser(ctx); err == nil && user != nil {
				email = user.Email
			}
			patients, err := env.client.ListPatients(ctx)
			if err != nil {
				return err
			}
			return writeLines(cmd.OutOrStdout(), format.NewPlainRenderer().FormatPatients(patients, email))
		},
	}
}

func newShowCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <row>",
		Short: "Show one patient and your submission for it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			row, err := parseRowArg(args[0])
			if err != nil {
				return err
			}
			env, err := openClient(cmd, opts)
			if err != nil {
				return err
			}
			rec, err := env.client.GetPatient(cmd.Context(), row, true)
			if err != nil {
				return err
			}
			r := format.NewPlainRenderer()
			lines := append([]string{fmt.Sprintf("Patient (row %d)", int(row))}, r.FormatRecord(rec.Record)...)
			if rec.MySubmission != nil {
				lines = append(lines, "Your submission")
				lines = append(lines, r.FormatSubmission(*rec.MySubmission)...)
			}
			return writeLines(cmd.OutOrStdout(), lines)
		},
	}
}

func newClaimCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "claim <row>",
		Short: "Claim a patient for review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			row, err := parseRowArg(args[0])
			if err != nil {
				return err
			}
			env, err := openClient(cmd, opts)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			user, err := env.client.GetUser(ctx)
			if err != nil {
				return err
			}
			if user == nil {
				return errors.New(flow.MsgSignIn)
			}
			picker := flow.NewPicker(env.client, user.Email)
			if err := picker.Refresh(ctx); err != nil {
				return errors.New(picker.Error())
			}
			picker.Select(row)
			details, err := picker.Claim(ctx)
			if err != nil {
				return errors.New(picker.Error())
			}
			return writeLines(cmd.OutOrStdout(), format.NewPlainRenderer().FormatDetails(details))
		},
	}
}

func newReleaseCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "release <row>",
		Short: "Release your claim on a patient",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			row, err := parseRowArg(args[0])
			if err != nil {
				return err
			}
			env, err := openClient(cmd, opts)
			if err != nil {
				return err
			}
			picker := flow.NewPicker(env.client, "")
			picker.Select(row)
			if err := picker.Release(cmd.Context()); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "released row %d\n", int(row))
			return err
		},
	}
}

func newSubmitCmd(opts *globalOptions) *cobra.Command {
	var outcome int
	var confidence string
	var snot22 int
	cmd := &cobra.Command{
		Use:   "submit <row>",
		Short: "Submit a prediction for a patient",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			row, err := parseRowArg(args[0])
			if err != nil {
				return err
			}
			details := flow.NewDetails(row, schema.Record{})
			if err := details.SetOutcome(schema.Outcome(outcome)); err != nil {
				return err
			}
			if err := details.SetConfidence(confidence); err != nil {
				return err
			}
			if snot22 < schema.MinSNOT22 || snot22 > schema.MaxSNOT22 {
				return schema.ErrInvalidSNOT22
			}
			details.SetSNOT22(snot22)
			env, err := openClient(cmd, opts)
			if err != nil {
				return err
			}
			if err := details.Submit(cmd.Context(), env.client); err != nil {
				return errors.New(details.Message)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "row %d: %s\n", int(row), details.Message)
			return err
		},
	}
	cmd.Flags().IntVar(&outcome, "outcome", int(schema.OutcomeSuccessful), "predicted outcome (0 or 1)")
	cmd.Flags().StringVar(&confidence, "confidence", string(schema.ConfidenceNeutral), "confidence level label")
	cmd.Flags().IntVar(&snot22, "snot22", schema.DefaultSNOT22, "predicted SNOT-22 score (0-110)")
	return cmd
}

func newNextCmd(opts *globalOptions) *cobra.Command {
	var after int
	cmd := &cobra.Command{
		Use:   "next",
		Short: "Show the next workable patient",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openClient(cmd, opts)
			if err != nil {
				return err
			}
			var afterRow *schema.Row
			if cmd.Flags().Changed("after") {
				row := schema.Row(after)
				afterRow = &row
			}
			next, err := env.client.NextPatient(cmd.Context(), afterRow)
			if err != nil {
				return err
			}
			if next.Complete || !next.Row.Valid() {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), "complete")
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "next row %d\n", int(next.Row))
			return err
		},
	}
	cmd.Flags().IntVar(&after, "after", 0, "start searching after this row")
	return cmd
}

func newProgressCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "progress",
		Short: "Show your progress",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openClient(cmd, opts)
			if err != nil {
				return err
			}
			progress, err := env.client.UserProgress(cmd.Context())
			if err != nil {
				return err
			}
			return writeLines(cmd.OutOrStdout(), format.NewPlainRenderer().FormatProgress(progress))
		},
	}
}

func newMetricsCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "metrics",
		Short: "Show roster-wide counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openClient(cmd, opts)
			if err != nil {
				return err
			}
			metrics, err := env.client.Metrics(cmd.Context())
			if err != nil {
				return err
			}
			return writeLines(cmd.OutOrStdout(), format.NewPlainRenderer().FormatMetrics(metrics))
		},
	}
}

func newCSVCmd(opts *globalOptions) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "csv",
		Short: "Download the predictions CSV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openClient(cmd, opts)
			if err != nil {
				return err
			}
			if output == "" || output == "-" {
				_, err = env.client.DownloadCSV(cmd.Context(), cmd.OutOrStdout())
				return err
			}
			f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
			if err != nil {
				return err
			}
			n, err := env.client.DownloadCSV(cmd.Context(), f)
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.ErrOrStderr(), "wrote %d bytes to %s\n", n, output)
			return err
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to file instead of stdout")
	return cmd
}
