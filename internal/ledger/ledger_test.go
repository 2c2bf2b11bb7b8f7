package ledger

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"khata/internal/domain"
)

var today = time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func record(id string, created int, amount int64, lines ...string) domain.LedgerRecord {
	status := domain.LedgerPending
	if amount == 0 {
		status = domain.LedgerPaid
	}
	return domain.LedgerRecord{
		ID:        id,
		PartyID:   "party",
		PartyKind: domain.PartyCustomer,
		Amount:    dec(amount),
		Status:    status,
		Note:      strings.Join(lines, "\n"),
		Version:   1,
		CreatedAt: today.Add(time.Duration(created) * time.Minute),
	}
}

func TestParseTimestamp(t *testing.T) {
	cases := []struct {
		in      string
		want    time.Time
		hasTime bool
	}{
		{"5 Jan 2024 10:30", time.Date(2024, 1, 5, 10, 30, 0, 0, time.UTC), true},
		{"5 Jan", time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC), false},
		{"15 Jan", time.Date(2023, 1, 15, 0, 0, 0, 0, time.UTC), false},
		{"10 Jan", time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC), false},
		{"5 Jan 10:30 am", time.Date(2024, 1, 5, 10, 30, 0, 0, time.UTC), true},
		{"5 Jan, 9:05 PM", time.Date(2024, 1, 5, 9, 5, 0, 0, time.UTC), true},
		{"20 Dec 14:00", time.Date(2023, 12, 20, 14, 0, 0, 0, time.UTC), true},
		{"3 March 2022", time.Date(2022, 3, 3, 0, 0, 0, 0, time.UTC), false},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, hasTime, ok := ParseTimestamp(tc.in, today)
			if !ok {
				t.Fatalf("failed to parse")
			}
			if !got.Equal(tc.want) || hasTime != tc.hasTime {
				t.Fatalf("got %s (time=%v), want %s (time=%v)", got, hasTime, tc.want, tc.hasTime)
			}
		})
	}
	for _, bad := range []string{"", "Jan", "5 Foo", "40 Jan", "5 Jan 2024 noon"} {
		if _, _, ok := ParseTimestamp(bad, today); ok {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
}

func TestParseLine(t *testing.T) {
	e, ok := ParseLine("[5 Jan 2024 10:30] Received: ₹1,500.50. Balance: ₹2,000", today)
	if !ok {
		t.Fatalf("canonical line not recognized")
	}
	if e.Kind != PaymentReceived || !e.Amount.Equal(decimal.RequireFromString("1500.50")) || !e.Balance.Equal(dec(2000)) {
		t.Fatalf("unexpected entry %+v", e)
	}

	e, ok = ParseLine("Credit Sale on 2 Jan 2024. Total Bill: ₹1500. Paid Now: ₹500.", today)
	if !ok || !e.Legacy || e.Kind != CreditSale || !e.Amount.Equal(dec(1000)) {
		t.Fatalf("unexpected legacy entry %+v ok=%v", e, ok)
	}
	if !e.At.Equal(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("legacy date: %s", e.At)
	}

	for _, line := range []string{"Paid by cheque", "[Cleared] Unexplained balance of ₹500 cleared on 5 Jan 2024 10:30", "[5 Jan 2024] Refund: ₹10. Balance: ₹0"} {
		if _, ok := ParseLine(line, today); ok {
			t.Fatalf("expected %q to be unrecognized", line)
		}
	}
}

func TestFormatLineRoundTrip(t *testing.T) {
	e := Entry{At: time.Date(2024, 1, 5, 9, 5, 0, 0, time.UTC), HasTime: true, Kind: DueAdded, Amount: decimal.RequireFromString("250.5"), Balance: dec(1250)}
	line := FormatLine(e)
	if line != "[5 Jan 2024 09:05] New Due Added: ₹250.50. Balance: ₹1250" {
		t.Fatalf("unexpected line %q", line)
	}
	back, ok := ParseLine(line, today)
	if !ok || !back.At.Equal(e.At) || !back.Amount.Equal(e.Amount) || back.Kind != e.Kind {
		t.Fatalf("round trip mismatch: %+v", back)
	}
}

func scenarioNote() []string {
	return []string{
		"[1 Jan 2024 10:00] New Due Added: ₹1000. Balance: ₹1000",
		"[2 Jan 2024 10:00] Received: ₹400. Balance: ₹600",
		"[3 Jan 2024 10:00] New Due Added: ₹200. Balance: ₹800",
	}
}

func TestDeleteReplaysBalances(t *testing.T) {
	b := Open([]domain.LedgerRecord{record("r1", 0, 800, scenarioNote()...)}, today)
	if !b.Balance().Equal(dec(800)) {
		t.Fatalf("balance: %s", b.Balance())
	}
	if err := b.Delete(1); err != nil {
		t.Fatalf("delete: %v", err)
	}
	changed := b.Commit()
	if len(changed) != 1 {
		t.Fatalf("expected one changed record, got %d", len(changed))
	}
	r := changed[0]
	if !r.Amount.Equal(dec(1200)) || r.Status != domain.LedgerPending {
		t.Fatalf("unexpected record %+v", r)
	}
	want := "[1 Jan 2024 10:00] New Due Added: ₹1000. Balance: ₹1000\n[3 Jan 2024 10:00] New Due Added: ₹200. Balance: ₹1200"
	if r.Note != want {
		t.Fatalf("note:\n%s", r.Note)
	}
}

func TestAppendPaymentSettles(t *testing.T) {
	b := Open([]domain.LedgerRecord{record("r1", 0, 800, scenarioNote()...)}, today)
	if err := b.Append(PaymentReceived, dec(1000), time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("append: %v", err)
	}
	r := b.Commit()[0]
	if !r.Amount.IsZero() || r.Status != domain.LedgerPaid {
		t.Fatalf("expected settled record, got %+v", r)
	}
	if !strings.HasSuffix(r.Note, "[10 Jan 2024 12:00] Received: ₹1000. Balance: ₹0") {
		t.Fatalf("note:\n%s", r.Note)
	}
}

func TestAppendRejectsNonPositive(t *testing.T) {
	b := Open([]domain.LedgerRecord{record("r1", 0, 800, scenarioNote()...)}, today)
	err := b.Append(DueAdded, dec(0), today)
	if !errors.Is(err, domain.ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
	if err := Open(nil, today).Append(DueAdded, dec(5), today); !errors.Is(err, domain.ErrNoRecord) {
		t.Fatalf("expected no record, got %v", err)
	}
}

func TestEditLatestOnly(t *testing.T) {
	b := Open([]domain.LedgerRecord{record("r1", 0, 800, scenarioNote()...)}, today)
	if err := b.EditLatest(dec(300)); err != nil {
		t.Fatalf("edit: %v", err)
	}
	r := b.Commit()[0]
	if !r.Amount.Equal(dec(900)) {
		t.Fatalf("amount: %s", r.Amount)
	}
	if !strings.HasSuffix(r.Note, "New Due Added: ₹300. Balance: ₹900") {
		t.Fatalf("note:\n%s", r.Note)
	}
}

func TestLegacyEntries(t *testing.T) {
	b := Open([]domain.LedgerRecord{record("r1", 0, 1000,
		"[1 Jan 2024 09:00] New Due Added: ₹200. Balance: ₹200",
		"Credit Sale on 2 Jan 2024. Total Bill: ₹1500. Paid Now: ₹700.",
	)}, today)
	if !b.Balance().Equal(dec(1000)) {
		t.Fatalf("balance: %s", b.Balance())
	}
	if err := b.EditLatest(dec(50)); !errors.Is(err, domain.ErrLegacyEntry) {
		t.Fatalf("expected legacy edit to fail, got %v", err)
	}
	if changed := b.Commit(); len(changed) != 0 {
		t.Fatalf("expected no changes, got %+v", changed)
	}
}

func TestUnrecognizedLinesPreserved(t *testing.T) {
	b := Open([]domain.LedgerRecord{record("r1", 0, 800,
		"[1 Jan 2024 10:00] New Due Added: ₹1000. Balance: ₹1000",
		"Promised to pay after Diwali",
		"[2 Jan 2024 10:00] Received: ₹200. Balance: ₹800",
	)}, today)
	if err := b.Delete(1); err != nil {
		t.Fatalf("delete: %v", err)
	}
	r := b.Commit()[0]
	want := "[1 Jan 2024 10:00] New Due Added: ₹1000. Balance: ₹1000\nPromised to pay after Diwali"
	if r.Note != want || !r.Amount.Equal(dec(1000)) {
		t.Fatalf("unexpected record %q %s", r.Note, r.Amount)
	}
}

func TestAnomalyAndClear(t *testing.T) {
	b := Open([]domain.LedgerRecord{record("r1", 0, 500, "Paid by cheque")}, today)
	anomalies := b.Anomalies()
	if len(anomalies) != 1 || anomalies[0].RecordID != "r1" || !anomalies[0].Amount.Equal(dec(500)) {
		t.Fatalf("unexpected anomalies %+v", anomalies)
	}
	if changed := b.Commit(); len(changed) != 0 {
		t.Fatalf("recalculation touched anomalous record: %+v", changed)
	}
	if err := b.Append(DueAdded, dec(10), today); !errors.Is(err, domain.ErrAnomalous) {
		t.Fatalf("expected append to refuse, got %v", err)
	}
	if err := b.Clear("r1", time.Date(2024, 1, 10, 18, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("clear: %v", err)
	}
	changed := b.Commit()
	if len(changed) != 1 {
		t.Fatalf("expected cleared record, got %+v", changed)
	}
	r := changed[0]
	if !r.Amount.IsZero() || r.Status != domain.LedgerPaid {
		t.Fatalf("unexpected record %+v", r)
	}
	if r.Note != "Paid by cheque\n[Cleared] Unexplained balance of ₹500 cleared on 10 Jan 2024 18:00" {
		t.Fatalf("note: %q", r.Note)
	}
	if len(b.Anomalies()) != 0 {
		t.Fatalf("anomaly still reported")
	}
}

func TestClearRefusesExplainedBalance(t *testing.T) {
	b := Open([]domain.LedgerRecord{record("r1", 0, 800, scenarioNote()...)}, today)
	if err := b.Clear("r1", today); !errors.Is(err, domain.ErrNotAnomalous) {
		t.Fatalf("expected not anomalous, got %v", err)
	}
}

func TestBulkDeleteAcrossRecords(t *testing.T) {
	a := record("a", 0, 900,
		"[1 Jan 2024 10:00] New Due Added: ₹1000. Balance: ₹1000",
		"[3 Jan 2024 10:00] Received: ₹300. Balance: ₹1200",
	)
	bRec := record("b", 1, 1400,
		"[2 Jan 2024 10:00] New Due Added: ₹500. Balance: ₹1500",
		"[4 Jan 2024 10:00] New Due Added: ₹200. Balance: ₹1400",
	)
	book := Open([]domain.LedgerRecord{bRec, a}, today)
	items := book.Entries()
	if len(items) != 4 || items[1].RecordID != "b" || items[2].RecordID != "a" {
		t.Fatalf("unexpected chain order %+v", items)
	}
	if err := book.DeleteMany([]int{1, 2}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	changed := book.Commit()
	if len(changed) != 2 {
		t.Fatalf("expected both records changed, got %d", len(changed))
	}
	byID := map[string]domain.LedgerRecord{}
	for _, r := range changed {
		byID[r.ID] = r
	}
	if byID["a"].Note != "[1 Jan 2024 10:00] New Due Added: ₹1000. Balance: ₹1000" {
		t.Fatalf("a note: %q", byID["a"].Note)
	}
	if byID["b"].Note != "[4 Jan 2024 10:00] New Due Added: ₹200. Balance: ₹1200" {
		t.Fatalf("b note: %q", byID["b"].Note)
	}
	for id, r := range byID {
		if !r.Amount.Equal(dec(1200)) || r.Status != domain.LedgerPending {
			t.Fatalf("%s: %+v", id, r)
		}
	}
}

func TestAppendGoesToPrimaryRecord(t *testing.T) {
	a := record("a", 0, 100, "[1 Jan 2024 10:00] New Due Added: ₹100. Balance: ₹100")
	bRec := record("b", 5, 150, "[2 Jan 2024 10:00] New Due Added: ₹50. Balance: ₹150")
	book := Open([]domain.LedgerRecord{bRec, a}, today)
	if err := book.Append(DueAdded, dec(25), time.Date(2024, 1, 9, 8, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("append: %v", err)
	}
	for _, r := range book.Commit() {
		if !r.Amount.Equal(dec(175)) {
			t.Fatalf("%s amount %s", r.ID, r.Amount)
		}
		if r.ID == "a" && !strings.HasSuffix(r.Note, "[9 Jan 2024 08:00] New Due Added: ₹25. Balance: ₹175") {
			t.Fatalf("primary note: %q", r.Note)
		}
		if r.ID == "b" && strings.Contains(r.Note, "₹25") {
			t.Fatalf("entry landed on secondary record")
		}
	}
}

func TestDeletingAllEntriesZeroesRecord(t *testing.T) {
	a := record("a", 0, 100, "[1 Jan 2024 10:00] New Due Added: ₹100. Balance: ₹100")
	bRec := record("b", 1, 150, "[2 Jan 2024 10:00] New Due Added: ₹50. Balance: ₹150")
	book := Open([]domain.LedgerRecord{a, bRec}, today)
	if err := book.Delete(1); err != nil {
		t.Fatalf("delete: %v", err)
	}
	byID := map[string]domain.LedgerRecord{}
	for _, r := range book.Commit() {
		byID[r.ID] = r
	}
	if r := byID["b"]; !r.Amount.IsZero() || r.Status != domain.LedgerPaid || r.Note != "" {
		t.Fatalf("b: %+v", r)
	}
	if _, ok := byID["a"]; ok {
		t.Fatalf("primary record should be unchanged")
	}
}

func TestWindowIndexing(t *testing.T) {
	var lines []string
	bal := 0
	for i := 0; i < 25; i++ {
		bal += 10
		lines = append(lines, fmt.Sprintf("[%d Jan 2024 10:00] New Due Added: ₹10. Balance: ₹%d", i+1, bal))
	}
	book := Open([]domain.LedgerRecord{record("r1", 0, int64(bal), lines...)}, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))
	visible, offset := book.Window(DefaultWindow)
	if len(visible) != 20 || offset != 5 {
		t.Fatalf("window len=%d offset=%d", len(visible), offset)
	}
	idx, err := book.TrueIndex(0, DefaultWindow)
	if err != nil || idx != 5 {
		t.Fatalf("true index %d err %v", idx, err)
	}
	if _, err := book.TrueIndex(20, DefaultWindow); !errors.Is(err, domain.ErrEntryNotFound) {
		t.Fatalf("expected out of range, got %v", err)
	}
	if err := book.DeleteMany([]int{idx, idx + 1}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	r := book.Commit()[0]
	if !r.Amount.Equal(dec(230)) {
		t.Fatalf("amount %s", r.Amount)
	}
	if strings.Contains(r.Note, "[6 Jan 2024") || strings.Contains(r.Note, "[7 Jan 2024") {
		t.Fatalf("wrong entries deleted:\n%s", r.Note)
	}
}

func TestCommitIsIdempotent(t *testing.T) {
	rec := record("r1", 0, 100,
		"[5 Jan 10:30 am] New Due Added: ₹100. Balance: ₹100",
		"",
		"[6 Jan, 11:00] Received: ₹40. Balance: ₹60",
	)
	first := Open([]domain.LedgerRecord{rec}, today).Commit()
	if len(first) != 1 {
		t.Fatalf("expected rewrite of old-format note")
	}
	want := "[5 Jan 2024 10:30] New Due Added: ₹100. Balance: ₹100\n[6 Jan 2024 11:00] Received: ₹40. Balance: ₹60"
	if first[0].Note != want || !first[0].Amount.Equal(dec(60)) {
		t.Fatalf("unexpected rewrite %q %s", first[0].Note, first[0].Amount)
	}
	if again := Open(first, today).Commit(); len(again) != 0 {
		t.Fatalf("second commit changed records: %+v", again)
	}
}

func TestOverpaymentClampsEachStep(t *testing.T) {
	b := Open([]domain.LedgerRecord{record("r1", 0, 50,
		"[1 Jan 2024 10:00] New Due Added: ₹100. Balance: ₹100",
		"[2 Jan 2024 10:00] Received: ₹150. Balance: ₹0",
		"[3 Jan 2024 10:00] New Due Added: ₹50. Balance: ₹50",
	)}, today)
	if !b.Balance().Equal(dec(50)) {
		t.Fatalf("balance: %s", b.Balance())
	}
	if changed := b.Commit(); len(changed) != 0 {
		t.Fatalf("consistent note rewritten: %+v", changed)
	}
}

func TestLegacyLineWithUnknownDate(t *testing.T) {
	line := "Credit Sale on the day of the fair. Total Bill: ₹1500. Paid Now: ₹500."
	if _, ok := ParseLine(line, today); ok {
		t.Fatalf("legacy line with unreadable date should not be parsed")
	}
	b := Open([]domain.LedgerRecord{record("r1", 0, 1000, line)}, today)
	if n := len(b.Entries()); n != 0 {
		t.Fatalf("expected no entries, got %d", n)
	}
	anomalies := b.Anomalies()
	if len(anomalies) != 1 || anomalies[0].RecordID != "r1" || !anomalies[0].Amount.Equal(dec(1000)) {
		t.Fatalf("expected r1 flagged, got %+v", anomalies)
	}
	b.Commit()
	if got := b.Records()[0].Note; got != line {
		t.Fatalf("note rewritten to %q", got)
	}
}
