package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const Rupee = "₹"

// FormatAmount prints whole amounts without decimals and everything else with two.
func FormatAmount(d decimal.Decimal) string {
	if d.Equal(d.Truncate(0)) {
		return d.Truncate(0).String()
	}
	return d.StringFixed(2)
}

func FormatTimestamp(at time.Time, hasTime bool) string {
	if !hasTime {
		return at.Format("2 Jan 2006")
	}
	return at.Format("2 Jan 2006 15:04")
}

// FormatLine renders a canonical entry line.
func FormatLine(e Entry) string {
	return fmt.Sprintf("[%s] %s: %s%s. Balance: %s%s",
		FormatTimestamp(e.At, e.HasTime), e.Kind.Label(), Rupee, FormatAmount(e.Amount), Rupee, FormatAmount(e.Balance))
}

func clearedLine(amount decimal.Decimal, at time.Time) string {
	return fmt.Sprintf("[Cleared] Unexplained balance of %s%s cleared on %s", Rupee, FormatAmount(amount), FormatTimestamp(at, true))
}

// WallClock drops the zone from t, keeping its local date and minute.
func WallClock(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, t.Hour(), t.Minute(), 0, 0, time.UTC)
}
