package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/risk-engine/internal/model"
	"github.com/sells-group/risk-engine/internal/store"
)

var alertsUser string

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "List and acknowledge risk alerts",
}

var alertsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a user's alerts, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		unacked, _ := cmd.Flags().GetBool("unacknowledged")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		st, err := openStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		alerts, err := st.ListAlerts(ctx, alertsUser, store.AlertFilter{
			UnacknowledgedOnly: unacked,
			Limit:              limit,
			Offset:             offset,
		})
		if err != nil {
			return eris.Wrap(err, "alerts: list")
		}
		return writeAlertsTable(os.Stdout, alerts)
	},
}

var alertsAckCmd = &cobra.Command{
	Use:   "ack",
	Short: "Acknowledge one alert, or all unacknowledged alerts of a user",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		alertID, _ := cmd.Flags().GetString("id")

		st, err := openStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		now := time.Now().UTC()
		if alertID != "" {
			if err := st.AcknowledgeAlert(ctx, alertsUser, alertID, now); err != nil {
				return eris.Wrapf(err, "alerts: acknowledge %s", alertID)
			}
			fmt.Printf("Acknowledged alert %s\n", alertID)
			return nil
		}

		n, err := st.AcknowledgeAll(ctx, alertsUser, now)
		if err != nil {
			return eris.Wrap(err, "alerts: acknowledge all")
		}
		fmt.Printf("Acknowledged %d alerts\n", n)
		return nil
	},
}

func writeAlertsTable(w io.Writer, alerts []model.RiskAlert) error {
	if len(alerts) == 0 {
		_, err := fmt.Fprintln(w, "No alerts.")
		return err
	}
	if _, err := fmt.Fprintf(w, "%-36s %-16s %-20s %8s %8s %-16s %s\n",
		"ID", "Reason", "Created", "Previous", "New", "Category", "Ack"); err != nil {
		return eris.Wrap(err, "alerts: write header")
	}
	for _, a := range alerts {
		if _, err := fmt.Fprintf(w, "%-36s %-16s %-20s %8.2f %8.2f %-16s %v\n",
			a.ID, a.TriggerReason, a.CreatedAt.UTC().Format(time.DateTime),
			a.PreviousScore, a.NewScore,
			string(a.PreviousCategory)+" -> "+string(a.NewCategory), a.Acknowledged); err != nil {
			return eris.Wrap(err, "alerts: write row")
		}
	}
	return nil
}

func init() {
	alertsCmd.PersistentFlags().StringVar(&alertsUser, "user", "", "user ID (required)")
	_ = alertsCmd.MarkPersistentFlagRequired("user")

	alertsListCmd.Flags().Bool("unacknowledged", false, "only unacknowledged alerts")
	alertsListCmd.Flags().Int("limit", 50, "maximum alerts to list")
	alertsListCmd.Flags().Int("offset", 0, "alerts to skip")
	alertsAckCmd.Flags().String("id", "", "acknowledge a single alert by ID")

	alertsCmd.AddCommand(alertsListCmd, alertsAckCmd)
	rootCmd.AddCommand(alertsCmd)
}
