package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/creatorscope/audit-cli/internal/audit"
	"github.com/creatorscope/audit-cli/internal/model"
)

var (
	auditOrg  string
	auditType string
)

var auditCmd = &cobra.Command{
	Use:   "audit <channel>",
	Short: "Run a full audit for a channel",
	Long:  "Runs the six-stage audit pipeline for a channel id (UC...) or handle (@name) and prints the audit record as JSON.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("audit"); err != nil {
			return err
		}

		at := model.AuditType(auditType)
		if at != model.AuditTypeProspect && at != model.AuditTypeBaseline {
			return eris.Errorf("invalid audit type %q (want prospect or baseline)", auditType)
		}

		runner, st, err := initRunner(ctx, audit.WithProgress(progressToStderr))
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		result, err := runner.Run(ctx, auditOrg, args[0], at)
		if err != nil {
			if result != nil {
				printAudit(result)
			}
			return eris.Wrap(err, "audit run")
		}

		zap.L().Info("audit complete",
			zap.String("audit_id", result.ID),
			zap.String("channel", result.Channel.Title),
			zap.Int64("tokens", result.Cost.Tokens),
			zap.Float64("usd", result.Cost.USD),
		)

		return printAudit(result)
	},
}

func printAudit(a *model.Audit) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(a)
}

func init() {
	auditCmd.Flags().StringVar(&auditOrg, "org", "default", "org id owning the audit")
	auditCmd.Flags().StringVar(&auditType, "type", "prospect", "audit type (prospect or baseline)")
	rootCmd.AddCommand(auditCmd)
}
