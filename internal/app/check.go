package app

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"

	"rangewatch/internal/pricing"
	"rangewatch/internal/service"
)

// Check prices every configured pool once and prints a table. Alert state
// and notifications are not involved.
func (a *App) Check(ctx context.Context) error {
	if len(a.Config.Pools) == 0 {
		return errors.New("no pools configured")
	}

	source := a.newSource()
	defer source.Close()

	svc, err := service.New(a.Config, nil, source, nil, nil, a.Logger)
	if err != nil {
		return err
	}
	reports := svc.CheckPricesNow(ctx)

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Pool\tName\tPrice\tRange\tZone")
	failed := 0
	for _, r := range reports {
		price, zone := "-", "inside"
		switch {
		case r.Err != nil:
			failed++
			zone = "error: " + sanitizeInline(r.Err.Error())
		case !r.Inside():
			zone = "OUTSIDE"
			price = pricing.FormatPrice(r.Price)
		default:
			price = pricing.FormatPrice(r.Price)
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s - %s\t%s\n", shortID(r.Pool.ID), r.Pool.Name, price, r.Pool.Min, r.Pool.Max, zone)
	}
	if err := writer.Flush(); err != nil {
		return err
	}

	if failed == len(reports) {
		return fmt.Errorf("all %d pools failed to price", failed)
	}
	return nil
}

// PriceOptions describe an offline sqrt price conversion.
type PriceOptions struct {
	Raw       string
	Decimals0 int32
	Decimals1 int32
	Invert    bool
}

// Price converts a raw sqrt price and prints it with display precision.
func (a *App) Price(opts PriceOptions) error {
	price, err := pricing.DerivePrice(opts.Raw, opts.Decimals0, opts.Decimals1, opts.Invert)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.Out, pricing.FormatPrice(price))
	return nil
}

func shortID(id string) string {
	if len(id) <= 20 {
		return id
	}
	return id[:20] + "..."
}
