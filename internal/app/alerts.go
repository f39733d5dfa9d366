package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"rangewatch/internal/pricing"
	"rangewatch/internal/storage"
)

// AlertsOptions configure the alerts listing.
type AlertsOptions struct {
	Limit  int
	PoolID string
}

// Alerts prints recent entries of the alert audit log.
func (a *App) Alerts(ctx context.Context, opts AlertsOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show alerts")
	}
	defer closeStore()

	var alerts []storage.AlertRecord
	if opts.PoolID != "" {
		alerts, err = store.ListPoolAlerts(ctx, opts.PoolID, opts.Limit)
	} else {
		alerts, err = store.ListRecentAlerts(ctx, opts.Limit)
	}
	if err != nil {
		return err
	}
	if len(alerts) == 0 {
		fmt.Fprintln(a.Out, "no alerts found")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tPool\tName\tKind\tPrice\tRange\tHours\tDelivered")
	for _, rec := range alerts {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s - %s\t%d\t%t\n",
			rec.FiredAt.UTC().Format(time.RFC3339),
			shortID(rec.PoolID),
			sanitizeInline(rec.PoolName),
			rec.Kind,
			pricing.FormatPrice(rec.Price),
			rec.Min,
			rec.Max,
			rec.HoursOutside,
			rec.Delivered,
		)
	}
	return writer.Flush()
}

// PruneAlerts deletes audit entries fired before the cutoff.
func (a *App) PruneAlerts(ctx context.Context, before time.Time) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; nothing to prune")
	}
	defer closeStore()

	deleted, err := store.DeleteAlertsBefore(ctx, before)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "deleted %d alerts older than %s\n", deleted, before.UTC().Format(time.RFC3339))
	return nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
