package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/creatorscope/audit-cli/internal/audit"
)

var resumeCmd = &cobra.Command{
	Use:   "resume <audit-id>",
	Short: "Resume an interrupted audit",
	Long:  "Picks up an audit at its first incomplete stage, reusing the results of completed stages. An audit interrupted during ingestion cannot be resumed; use restart.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("audit"); err != nil {
			return err
		}

		runner, st, err := initRunner(ctx, audit.WithProgress(progressToStderr))
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		result, err := runner.Resume(ctx, args[0])
		if err != nil {
			if eris.Is(err, audit.ErrRestartRequired) {
				return eris.Wrap(err, "this audit stopped during ingestion; run `audit-cli restart` instead")
			}
			if result != nil {
				printAudit(result) //nolint:errcheck
			}
			return eris.Wrap(err, "audit resume")
		}

		return printAudit(result)
	},
}

var restartCmd = &cobra.Command{
	Use:   "restart <audit-id>",
	Short: "Re-run an audit from scratch",
	Long:  "Clears all section results for the audit and re-runs the full pipeline from ingestion.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("audit"); err != nil {
			return err
		}

		runner, st, err := initRunner(ctx, audit.WithProgress(progressToStderr))
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		result, err := runner.Restart(ctx, args[0])
		if err != nil {
			if result != nil {
				printAudit(result) //nolint:errcheck
			}
			return eris.Wrap(err, "audit restart")
		}

		return printAudit(result)
	},
}

func init() {
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(restartCmd)
}
