package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"rangewatch/internal/app"
)

var (
	alertsLimit int
	alertsPool  string

	pruneBefore    string
	pruneOlderThan time.Duration
)

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Show recent entries of the alert audit log",
	RunE: func(cmd *cobra.Command, args []string) error {
		if alertsLimit <= 0 {
			return errors.New("--limit must be greater than zero")
		}
		return getApp().Alerts(cmd.Context(), app.AlertsOptions{Limit: alertsLimit, PoolID: alertsPool})
	},
}

var alertsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete audit entries older than a cutoff",
	RunE: func(cmd *cobra.Command, args []string) error {
		cutoff, err := pruneCutoff(time.Now().UTC())
		if err != nil {
			return err
		}
		return getApp().PruneAlerts(cmd.Context(), cutoff)
	},
}

func pruneCutoff(now time.Time) (time.Time, error) {
	switch {
	case pruneBefore != "" && pruneOlderThan > 0:
		return time.Time{}, errors.New("use either --before or --older-than")
	case pruneBefore != "":
		return parseTime(pruneBefore)
	case pruneOlderThan > 0:
		return now.Add(-pruneOlderThan), nil
	default:
		return time.Time{}, errors.New("--before or --older-than is required")
	}
}

func parseTime(value string) (time.Time, error) {
	layouts := []string{time.RFC3339, "2006-01-02 15:04", "2006-01-02"}
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time format %q", value)
}

func init() {
	alertsCmd.Flags().IntVar(&alertsLimit, "limit", 20, "Number of alerts to show")
	alertsCmd.Flags().StringVar(&alertsPool, "pool", "", "Only show alerts for this pool id")

	alertsPruneCmd.Flags().StringVar(&pruneBefore, "before", "", "Delete alerts fired before this time (RFC3339 or YYYY-MM-DD)")
	alertsPruneCmd.Flags().DurationVar(&pruneOlderThan, "older-than", 0, "Delete alerts older than this duration")
	alertsCmd.AddCommand(alertsPruneCmd)
}
