package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/creatorscope/audit-cli/internal/model"
	"github.com/creatorscope/audit-cli/internal/store"
)

var auditsCmd = &cobra.Command{
	Use:   "audits",
	Short: "Inspect audit history",
	Long:  "Commands for listing and viewing past audits.",
}

// -- audits list --

var auditsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List audits",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		org, _ := cmd.Flags().GetString("org")
		status, _ := cmd.Flags().GetString("status")
		channel, _ := cmd.Flags().GetString("channel")
		limit, _ := cmd.Flags().GetInt("limit")

		audits, err := st.ListAudits(ctx, store.AuditFilter{
			OrgID:     org,
			Status:    model.AuditStatus(status),
			ChannelID: channel,
			Limit:     limit,
		})
		if err != nil {
			return eris.Wrap(err, "audits list")
		}

		if len(audits) == 0 {
			fmt.Fprintln(os.Stderr, "No audits found.")
			return nil
		}

		formatAuditsList(os.Stdout, audits)
		return nil
	},
}

// -- audits show --

var auditsShowCmd = &cobra.Command{
	Use:   "show <audit-id>",
	Short: "Show an audit with its section results",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		audit, err := st.GetAudit(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "audits show")
		}
		sections, err := st.GetSections(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "audits show sections")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"audit":    audit,
			"sections": sections,
		})
	},
}

func init() {
	auditsListCmd.Flags().String("org", "", "filter by org id")
	auditsListCmd.Flags().String("status", "", "filter by audit status (pending, running, completed, failed)")
	auditsListCmd.Flags().String("channel", "", "filter by channel id")
	auditsListCmd.Flags().Int("limit", 50, "max number of audits to display")

	auditsCmd.AddCommand(auditsListCmd)
	auditsCmd.AddCommand(auditsShowCmd)
	rootCmd.AddCommand(auditsCmd)
}

// formatAuditsList writes a tabular list of audits to w.
func formatAuditsList(out io.Writer, audits []model.Audit) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tCHANNEL\tTYPE\tSTATUS\tTOKENS\tUSD\tCREATED")
	_, _ = fmt.Fprintln(w, "--\t-------\t----\t------\t------\t---\t-------")

	for _, a := range audits {
		channel := a.Channel.Title
		if channel == "" {
			channel = a.Channel.Handle
		}
		if channel == "" {
			channel = a.Channel.ID
		}
		if len(channel) > 30 {
			channel = channel[:27] + "..."
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%.4f\t%s\n",
			truncateID(a.ID),
			channel,
			a.Type,
			a.Status,
			a.Cost.Tokens,
			a.Cost.USD,
			a.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
