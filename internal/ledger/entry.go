// Package ledger parses and rewrites the entry log kept in a ledger record's note.
//
// Canonical lines look like
//
//	[5 Jan 2024 10:30] New Due Added: ₹1000. Balance: ₹1000
//
// Older notes may omit the year or carry a 12-hour suffix, and the oldest
// credit sales were written as
//
//	Credit Sale on 5 Jan 2024. Total Bill: ₹1500. Paid Now: ₹500.
//
// Lines that match neither form are kept verbatim and never counted.
package ledger

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Kind string

const (
	DueAdded        Kind = "due_added"
	PaymentReceived Kind = "payment_received"
	CreditSale      Kind = "credit_sale"
)

var kindLabels = map[Kind]string{
	DueAdded:        "New Due Added",
	PaymentReceived: "Received",
	CreditSale:      "Credit Sale",
}

func (k Kind) Label() string { return kindLabels[k] }

func (k Kind) Valid() bool {
	_, ok := kindLabels[k]
	return ok
}

// Entry is one parsed transaction line. At carries the wall-clock time as
// written, stored in UTC.
type Entry struct {
	At      time.Time       `json:"at" format:"date-time"`
	HasTime bool            `json:"has_time"`
	Kind    Kind            `json:"kind"`
	Amount  decimal.Decimal `json:"amount"`
	Balance decimal.Decimal `json:"balance"`
	Legacy  bool            `json:"legacy,omitempty"`
}

// Credit reports whether the entry raises the balance.
func (e Entry) Credit() bool { return e.Kind != PaymentReceived }

// Line is one line of a note; Entry is nil for lines that are not transactions.
type Line struct {
	Text  string
	Entry *Entry
}

var (
	canonicalRe = regexp.MustCompile(`^\[([^\]]+)\]\s*(New Due Added|Received|Credit Sale):\s*₹?\s*([\d,]+(?:\.\d+)?)\.?\s*Balance:\s*₹?\s*(-?[\d,]+(?:\.\d+)?)\.?\s*$`)
	legacyRe    = regexp.MustCompile(`^Credit Sale on (.+?)\.\s*Total Bill:\s*₹?\s*([\d,]+(?:\.\d+)?)\.?\s*Paid Now:\s*₹?\s*([\d,]+(?:\.\d+)?)\.?\s*$`)
	meridiemRe  = regexp.MustCompile(`(?i)\s*([ap])\.?m\.?$`)
	fourDigits  = regexp.MustCompile(`^\d{4}$`)
)

var months = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March, "apr": time.April,
	"may": time.May, "jun": time.June, "jul": time.July, "aug": time.August,
	"sep": time.September, "oct": time.October, "nov": time.November, "dec": time.December,
}

// ParseNote splits a note into lines, dropping blank ones. today anchors
// year inference for timestamps written without a year.
func ParseNote(note string, today time.Time) []Line {
	var lines []Line
	for _, raw := range strings.Split(note, "\n") {
		text := strings.TrimSpace(raw)
		if text == "" {
			continue
		}
		l := Line{Text: text}
		if e, ok := ParseLine(text, today); ok {
			l.Entry = &e
		}
		lines = append(lines, l)
	}
	return lines
}

// ParseLine recognizes a single canonical or legacy line.
func ParseLine(line string, today time.Time) (Entry, bool) {
	line = strings.TrimSpace(line)
	if m := canonicalRe.FindStringSubmatch(line); m != nil {
		at, hasTime, ok := ParseTimestamp(m[1], today)
		if !ok {
			return Entry{}, false
		}
		amount, err := parseAmount(m[3])
		if err != nil {
			return Entry{}, false
		}
		balance, err := parseAmount(m[4])
		if err != nil {
			return Entry{}, false
		}
		return Entry{At: at, HasTime: hasTime, Kind: kindFromLabel(m[2]), Amount: amount, Balance: balance}, true
	}
	if m := legacyRe.FindStringSubmatch(line); m != nil {
		total, err := parseAmount(m[2])
		if err != nil {
			return Entry{}, false
		}
		paid, err := parseAmount(m[3])
		if err != nil {
			return Entry{}, false
		}
		at, ok := parseLegacyDate(m[1], today)
		if !ok {
			// left as plain text so the record surfaces as an anomaly
			return Entry{}, false
		}
		amount := decimal.Max(total.Sub(paid), decimal.Zero)
		return Entry{At: at, Kind: CreditSale, Amount: amount, Legacy: true}, true
	}
	return Entry{}, false
}

func kindFromLabel(label string) Kind {
	for k, l := range kindLabels {
		if l == label {
			return k
		}
	}
	return ""
}

func parseAmount(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(strings.ReplaceAll(strings.TrimSpace(s), ",", ""))
}

// ParseTimestamp reads the bracketed part of a canonical line.
//
// Two tokens are day and month in the current year, or the previous year if
// that date is still ahead of today. With three or more tokens a four-digit
// third token is the year and the rest is the time; otherwise the tokens are
// day, month and time with the year inferred as above. A trailing am/pm is
// dropped from the time.
func ParseTimestamp(s string, today time.Time) (time.Time, bool, bool) {
	var tokens []string
	for _, tok := range strings.Fields(s) {
		tok = strings.Trim(tok, ",")
		if tok != "" {
			tokens = append(tokens, tok)
		}
	}
	if len(tokens) < 2 {
		return time.Time{}, false, false
	}
	day, err := strconv.Atoi(tokens[0])
	if err != nil || day < 1 || day > 31 {
		return time.Time{}, false, false
	}
	month, ok := parseMonth(tokens[1])
	if !ok {
		return time.Time{}, false, false
	}

	var year int
	var clock string
	switch {
	case len(tokens) == 2:
		year = inferYear(day, month, today)
	case fourDigits.MatchString(tokens[2]):
		year, _ = strconv.Atoi(tokens[2])
		clock = strings.Join(tokens[3:], " ")
	default:
		year = inferYear(day, month, today)
		clock = strings.Join(tokens[2:], " ")
	}

	clock = strings.TrimSpace(meridiemRe.ReplaceAllString(clock, ""))
	if clock == "" {
		return time.Date(year, month, day, 0, 0, 0, 0, time.UTC), false, true
	}
	hh, mm, ok := parseClock(clock)
	if !ok {
		return time.Time{}, false, false
	}
	return time.Date(year, month, day, hh, mm, 0, 0, time.UTC), true, true
}

func inferYear(day int, month time.Month, today time.Time) int {
	y := today.Year()
	candidate := time.Date(y, month, day, 0, 0, 0, 0, time.UTC)
	ty, tm, td := today.Date()
	if candidate.After(time.Date(ty, tm, td, 0, 0, 0, 0, time.UTC)) {
		return y - 1
	}
	return y
}

func parseMonth(s string) (time.Month, bool) {
	s = strings.ToLower(strings.TrimSuffix(s, "."))
	if len(s) < 3 {
		return 0, false
	}
	m, ok := months[s[:3]]
	return m, ok
}

func parseClock(s string) (int, int, bool) {
	for _, layout := range []string{"15:04:05", "15:04", "15.04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Hour(), t.Minute(), true
		}
	}
	return 0, 0, false
}

var legacyDateLayouts = []string{"2006-01-02", "02/01/2006", "2/1/2006", "02-01-2006", "2 Jan 2006", "2 January 2006", "Jan 2, 2006"}

func parseLegacyDate(s string, today time.Time) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range legacyDateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, true
		}
	}
	if at, _, ok := ParseTimestamp(s, today); ok {
		return at, true
	}
	return time.Time{}, false
}
