package alerting

import (
	"fmt"
	"strings"
	"time"

	"rangewatch/internal/monitor"
	"rangewatch/internal/pricing"
)

// Title is the short headline of a notification.
func Title(note Notification) string {
	switch note.Kind {
	case monitor.EventRecovery:
		return fmt.Sprintf("%s Price Recovered", note.PoolName)
	case monitor.EventEscalation:
		return fmt.Sprintf("%s Still Out of Range", note.PoolName)
	default:
		return fmt.Sprintf("%s Price Alert", note.PoolName)
	}
}

// RenderMarkdown renders the chat message body (Telegram legacy Markdown).
func RenderMarkdown(note Notification) string {
	return render(note, func(s string) string { return "*" + s + "*" })
}

// RenderText is the RenderMarkdown layout without markup.
func RenderText(note Notification) string {
	return render(note, func(s string) string { return s })
}

func render(note Notification, bold func(string) string) string {
	var b strings.Builder
	price := pricing.FormatPrice(note.Price)
	band := fmt.Sprintf("%s–%s", note.Min.String(), note.Max.String())

	switch note.Kind {
	case monitor.EventRecovery:
		fmt.Fprintf(&b, "✅ %s is back inside %s\n", bold(note.PoolName), band)
	case monitor.EventEscalation:
		fmt.Fprintf(&b, "⏳ %s has been outside %s for %s\n", bold(note.PoolName), band, hoursText(note.HoursOutside))
	default:
		fmt.Fprintf(&b, "⚠️ %s is outside %s\n", bold(note.PoolName), band)
	}
	fmt.Fprintf(&b, "Current price: %s\n", bold(price))
	fmt.Fprintf(&b, "⏰ %s UTC", note.At.UTC().Format(time.TimeOnly))
	return b.String()
}

// RenderPlain renders a single-line description without markup.
func RenderPlain(note Notification) string {
	price := pricing.FormatPrice(note.Price)
	band := fmt.Sprintf("%s–%s", note.Min.String(), note.Max.String())
	switch note.Kind {
	case monitor.EventRecovery:
		return fmt.Sprintf("current price %s (back inside %s)", price, band)
	case monitor.EventEscalation:
		return fmt.Sprintf("current price %s (outside %s for %s)", price, band, hoursText(note.HoursOutside))
	default:
		return fmt.Sprintf("current price %s (outside %s)", price, band)
	}
}

func hoursText(hours int) string {
	if hours == 1 {
		return "1 hour"
	}
	return fmt.Sprintf("%d hours", hours)
}
