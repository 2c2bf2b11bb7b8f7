package engine_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"khata/internal/config"
	"khata/internal/db"
	"khata/internal/domain"
	"khata/internal/engine"
	"khata/internal/intent"
	"khata/internal/ledger"
	"khata/internal/logger"
	"khata/internal/migrate"
	"khata/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

// 15 Mar 2024, 11:30 in Kolkata.
var fixedNow = time.Date(2024, 3, 15, 6, 0, 0, 0, time.UTC)

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default())
	eng.Log = logger.Discard()
	eng.Now = func() time.Time { return fixedNow }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func day(s string) *time.Time {
	t, err := domain.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return &t
}

func (env testEnv) sale(t *testing.T, date, sell, buy, qty string) {
	t.Helper()
	if _, err := env.Engine.RecordSale(env.Ctx, engine.SaleOptions{
		Date: day(date), SellPrice: d(sell), BuyPrice: d(buy), Quantity: d(qty), ProductID: "p1", CustomerID: "c1",
	}); err != nil {
		t.Fatalf("record sale: %v", err)
	}
}

func TestNetProfitGoalTracksSales(t *testing.T) {
	env := newTestEnv(t)
	env.sale(t, "2024-03-01", "500", "300", "2")
	if _, err := env.Engine.RecordExpense(env.Ctx, engine.ExpenseOptions{Date: day("2024-03-05"), Amount: d("100")}); err != nil {
		t.Fatalf("record expense: %v", err)
	}
	g, err := env.Engine.CreateGoal(env.Ctx, engine.GoalCreateOptions{
		Title: "March profit", Metric: domain.MetricNetProfit, Target: d("1000"), StartDate: day("2024-03-01"),
	})
	if err != nil {
		t.Fatalf("create goal: %v", err)
	}
	if !g.CurrentAmount.Equal(d("300")) || g.Status != domain.GoalActive {
		t.Fatalf("expected 300 active, got %s %s", g.CurrentAmount, g.Status)
	}

	env.sale(t, "2024-03-10", "1000", "200", "1")
	evs, err := env.Engine.RefreshAll(env.Ctx)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if len(evs) != 1 || !evs[0].Completed {
		t.Fatalf("expected completion, got %+v", evs)
	}
	stored, err := env.Engine.GetGoal(env.Ctx, g.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != domain.GoalCompleted || stored.CompletedAt == nil || !stored.CurrentAmount.Equal(d("1100")) {
		t.Fatalf("unexpected stored goal %+v", stored)
	}

	// completed goals are no longer refreshed
	evs, err = env.Engine.RefreshAll(env.Ctx)
	if err != nil || len(evs) != 0 {
		t.Fatalf("expected no active goals, got %d %v", len(evs), err)
	}
}

func TestSoftDeletedSalesAreIgnored(t *testing.T) {
	env := newTestEnv(t)
	s, err := env.Engine.RecordSale(env.Ctx, engine.SaleOptions{Date: day("2024-03-02"), SellPrice: d("100"), Quantity: d("3")})
	if err != nil {
		t.Fatal(err)
	}
	g, err := env.Engine.CreateGoal(env.Ctx, engine.GoalCreateOptions{
		Title: "Revenue", Metric: domain.MetricRevenue, Target: d("5000"), StartDate: day("2024-03-01"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if !g.CurrentAmount.Equal(d("300")) {
		t.Fatalf("expected 300, got %s", g.CurrentAmount)
	}
	if err := env.Engine.DeleteSale(env.Ctx, s.ID, "tester"); err != nil {
		t.Fatalf("delete sale: %v", err)
	}
	ev, err := env.Engine.RefreshGoal(env.Ctx, g.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !ev.Goal.CurrentAmount.IsZero() {
		t.Fatalf("expected 0 after delete, got %s", ev.Goal.CurrentAmount)
	}
	if err := env.Engine.DeleteSale(env.Ctx, s.ID, "tester"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}

func TestCreateGoalValidation(t *testing.T) {
	env := newTestEnv(t)
	cases := []struct {
		name string
		opts engine.GoalCreateOptions
		want error
	}{
		{"product without id", engine.GoalCreateOptions{Title: "x", Metric: domain.MetricProductSales, Target: d("10")}, domain.ErrMissingProductID},
		{"zero target", engine.GoalCreateOptions{Title: "x", Metric: domain.MetricRevenue, Target: d("0")}, domain.ErrInvalidAmount},
		{"bad metric", engine.GoalCreateOptions{Title: "x", Metric: "vibes", Target: d("10")}, domain.ErrInvalidMetric},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.Engine.CreateGoal(env.Ctx, tc.opts)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestManualProgress(t *testing.T) {
	env := newTestEnv(t)
	g, err := env.Engine.CreateGoal(env.Ctx, engine.GoalCreateOptions{
		Title: "Bike EMI", GoalType: domain.GoalTypeEMI, Metric: domain.MetricManualCheck, Target: d("3000"),
	})
	if err != nil {
		t.Fatal(err)
	}
	g, err = env.Engine.SetProgress(env.Ctx, g.ID, d("1000"), engine.ProgressAdd, "tester")
	if err != nil || !g.CurrentAmount.Equal(d("1000")) {
		t.Fatalf("add: %v %s", err, g.CurrentAmount)
	}
	g, err = env.Engine.SetProgress(env.Ctx, g.ID, d("3000"), engine.ProgressSet, "tester")
	if err != nil || g.Status != domain.GoalCompleted {
		t.Fatalf("set: %v %s", err, g.Status)
	}

	auto, err := env.Engine.CreateGoal(env.Ctx, engine.GoalCreateOptions{Title: "Rev", Metric: domain.MetricRevenue, Target: d("10")})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SetProgress(env.Ctx, auto.ID, d("5"), engine.ProgressAdd, "tester"); !errors.Is(err, domain.ErrNotManual) {
		t.Fatalf("expected ErrNotManual, got %v", err)
	}
}

func TestWaterfallAllocatesByDeadline(t *testing.T) {
	env := newTestEnv(t)
	// month-to-date net profit: 2*(2000-500) + (1000-0) - 0 = 4000
	env.sale(t, "2024-03-01", "2000", "500", "2")
	env.sale(t, "2024-03-12", "1000", "0", "1")
	env.sale(t, "2024-02-28", "9000", "0", "1")

	late, err := env.Engine.CreateGoal(env.Ctx, engine.GoalCreateOptions{
		Title: "Rent", Metric: domain.MetricManualCheck, Target: d("3000"), Deadline: day("2024-03-31"),
	})
	if err != nil {
		t.Fatal(err)
	}
	early, err := env.Engine.CreateGoal(env.Ctx, engine.GoalCreateOptions{
		Title: "Stock", Metric: domain.MetricManualCheck, Target: d("2500"), Deadline: day("2024-03-20"),
	})
	if err != nil {
		t.Fatal(err)
	}
	plan, err := env.Engine.Waterfall(env.Ctx)
	if err != nil {
		t.Fatalf("waterfall: %v", err)
	}
	if !plan.Pool.Equal(d("4000")) || len(plan.Allocations) != 2 {
		t.Fatalf("unexpected plan %+v", plan)
	}
	first, second := plan.Allocations[0], plan.Allocations[1]
	if first.GoalID != early.ID || !first.IsFullyFunded || first.Message != "Fully funded" {
		t.Fatalf("unexpected first allocation %+v", first)
	}
	if second.GoalID != late.ID || !second.AllocatedAmount.Equal(d("1500")) || second.DaysLeft != 16 {
		t.Fatalf("unexpected second allocation %+v", second)
	}
	if !plan.Unallocated.IsZero() {
		t.Fatalf("expected empty remainder, got %s", plan.Unallocated)
	}
}

func TestRolloverRecurring(t *testing.T) {
	env := newTestEnv(t)
	g, err := env.Engine.CreateGoal(env.Ctx, engine.GoalCreateOptions{
		Title: "Savings", Metric: domain.MetricManualCheck, Target: d("100"),
		StartDate: day("2024-03-01"), Deadline: day("2024-03-31"), Recurring: true, RecurrenceType: domain.RecurMonthly,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SetProgress(env.Ctx, g.ID, d("100"), engine.ProgressSet, "tester"); err != nil {
		t.Fatal(err)
	}
	created, err := env.Engine.RolloverRecurring(env.Ctx, "tester")
	if err != nil {
		t.Fatalf("rollover: %v", err)
	}
	if len(created) != 1 {
		t.Fatalf("expected one renewal, got %d", len(created))
	}
	next := created[0]
	if next.PreviousGoalID == nil || *next.PreviousGoalID != g.ID || next.Status != domain.GoalActive {
		t.Fatalf("unexpected successor %+v", next)
	}
	if got := next.StartTrackingDate.Format(domain.DateLayout); got != "2024-04-01" {
		t.Fatalf("expected April start, got %s", got)
	}
	again, err := env.Engine.RolloverRecurring(env.Ctx, "tester")
	if err != nil || len(again) != 0 {
		t.Fatalf("expected rollover to be idempotent, got %d %v", len(again), err)
	}
}

func TestApplyIntent(t *testing.T) {
	env := newTestEnv(t)
	x := intent.PatternExtractor{}
	g, err := env.Engine.ApplyIntent(env.Ctx, intent.CreateGoal{Title: "Scooter", Metric: domain.MetricManualCheck, Target: d("800")}, "tester")
	if err != nil {
		t.Fatalf("create via intent: %v", err)
	}
	g, err = env.Engine.ApplyIntent(env.Ctx, intent.UpdateGoal{GoalTitle: "scooter", Amount: d("300"), Mode: intent.ModeAdd}, "tester")
	if err != nil || !g.CurrentAmount.Equal(d("300")) {
		t.Fatalf("update via intent: %v %s", err, g.CurrentAmount)
	}
	if _, err := env.Engine.ApplyIntent(env.Ctx, x.Extract("what is the weather"), "tester"); !errors.Is(err, engine.ErrUnrecognized) {
		t.Fatalf("expected unrecognized, got %v", err)
	}
}

func TestLedgerPaymentFlow(t *testing.T) {
	env := newTestEnv(t)
	v, err := env.Engine.RecordDue(env.Ctx, engine.LedgerEntryOptions{PartyID: "ramesh", Amount: d("1000")})
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if !v.Balance.Equal(d("1000")) || v.Status != domain.LedgerPending || len(v.Records) != 1 {
		t.Fatalf("unexpected view %+v", v)
	}
	v, err = env.Engine.RecordPayment(env.Ctx, engine.LedgerEntryOptions{PartyID: "ramesh", Amount: d("400")})
	if err != nil {
		t.Fatalf("payment: %v", err)
	}
	if !v.Balance.Equal(d("600")) || v.Total != 2 {
		t.Fatalf("expected 600 over 2 entries, got %s/%d", v.Balance, v.Total)
	}
	note := v.Records[0].Note
	if !strings.Contains(note, "[15 Mar 2024 11:30] Received: ₹400. Balance: ₹600") {
		t.Fatalf("unexpected note:\n%s", note)
	}
	if v.Records[0].Version != 3 {
		t.Fatalf("expected version 3, got %d", v.Records[0].Version)
	}

	v, err = env.Engine.RecordPayment(env.Ctx, engine.LedgerEntryOptions{PartyID: "ramesh", Amount: d("600")})
	if err != nil {
		t.Fatal(err)
	}
	if v.Status != domain.LedgerPaid || v.Records[0].Status != domain.LedgerPaid {
		t.Fatalf("expected paid, got %s", v.Status)
	}

	if _, err := env.Engine.RecordPayment(env.Ctx, engine.LedgerEntryOptions{PartyID: "nobody", Amount: d("1")}); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found for unknown party, got %v", err)
	}
}

func TestLedgerDeleteRecalculates(t *testing.T) {
	env := newTestEnv(t)
	for _, step := range []struct {
		pay bool
		amt string
	}{{false, "500"}, {true, "200"}, {false, "300"}} {
		opts := engine.LedgerEntryOptions{PartyID: "suresh", Amount: d(step.amt)}
		var err error
		if step.pay {
			_, err = env.Engine.RecordPayment(env.Ctx, opts)
		} else {
			_, err = env.Engine.RecordDue(env.Ctx, opts)
		}
		if err != nil {
			t.Fatal(err)
		}
	}
	v, err := env.Engine.DeleteEntry(env.Ctx, "suresh", 1, "tester")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !v.Balance.Equal(d("800")) || v.Total != 2 {
		t.Fatalf("expected 800 over 2 entries, got %s/%d", v.Balance, v.Total)
	}
	if !strings.HasSuffix(v.Records[0].Note, "Balance: ₹800") {
		t.Fatalf("running balances not rewritten:\n%s", v.Records[0].Note)
	}
	if _, err := env.Engine.DeleteEntry(env.Ctx, "suresh", 5, "tester"); !errors.Is(err, domain.ErrEntryNotFound) {
		t.Fatalf("expected entry not found, got %v", err)
	}
	v, err = env.Engine.EditLatestEntry(env.Ctx, "suresh", d("100"), "tester")
	if err != nil {
		t.Fatal(err)
	}
	if !v.Balance.Equal(d("600")) {
		t.Fatalf("expected 600 after edit, got %s", v.Balance)
	}
}

func TestOpenRecordSharesBalance(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.RecordDue(env.Ctx, engine.LedgerEntryOptions{PartyID: "mohan", Amount: d("250")}); err != nil {
		t.Fatal(err)
	}
	env.Engine.Now = func() time.Time { return fixedNow.Add(time.Hour) }
	v, err := env.Engine.OpenRecord(env.Ctx, engine.LedgerEntryOptions{PartyID: "mohan", Amount: d("750"), DueDate: day("2024-04-01")})
	if err != nil {
		t.Fatalf("open record: %v", err)
	}
	if len(v.Records) != 2 || !v.Balance.Equal(d("1000")) {
		t.Fatalf("expected 2 records with 1000, got %d %s", len(v.Records), v.Balance)
	}
	for _, r := range v.Records {
		if !r.Amount.Equal(d("1000")) {
			t.Fatalf("record %s carries %s", r.ID, r.Amount)
		}
	}
	parties, err := env.Engine.ListParties(env.Ctx, domain.PartyCustomer)
	if err != nil || len(parties) != 1 || parties[0].Records != 2 || !parties[0].Balance.Equal(d("1000")) {
		t.Fatalf("unexpected parties %+v %v", parties, err)
	}
}

func TestPartyBalanceAfterEmptyingRecord(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.RecordDue(env.Ctx, engine.LedgerEntryOptions{PartyID: "mohan", Amount: d("250")}); err != nil {
		t.Fatal(err)
	}
	env.Engine.Now = func() time.Time { return fixedNow.Add(time.Hour) }
	if _, err := env.Engine.OpenRecord(env.Ctx, engine.LedgerEntryOptions{PartyID: "mohan", Amount: d("750")}); err != nil {
		t.Fatal(err)
	}
	env.Engine.Now = func() time.Time { return fixedNow.Add(2 * time.Hour) }
	v, err := env.Engine.DeleteEntry(env.Ctx, "mohan", 1, "tester")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !v.Balance.Equal(d("250")) || v.Status != domain.LedgerPending {
		t.Fatalf("expected 250 pending, got %s %s", v.Balance, v.Status)
	}
	parties, err := env.Engine.ListParties(env.Ctx, "")
	if err != nil || len(parties) != 1 {
		t.Fatalf("unexpected parties %+v %v", parties, err)
	}
	if !parties[0].Balance.Equal(v.Balance) || parties[0].Status != v.Status {
		t.Fatalf("party summary %s %s disagrees with ledger %s %s", parties[0].Balance, parties[0].Status, v.Balance, v.Status)
	}
}

func TestClearAnomalousRecord(t *testing.T) {
	env := newTestEnv(t)
	created := fixedNow.Add(-24 * time.Hour)
	rec := domain.LedgerRecord{
		ID: "rec-1", PartyID: "gopal", PartyKind: domain.PartyCustomer, Amount: d("450"),
		Status: domain.LedgerPending, Note: "paid in cash, see register", Version: 1, CreatedAt: created, UpdatedAt: created,
	}
	tx, err := env.Engine.DB.BeginTx(env.Ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.Repo.InsertLedgerRecordTx(env.Ctx, tx, rec); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	v, err := env.Engine.History(env.Ctx, "gopal")
	if err != nil {
		t.Fatal(err)
	}
	if len(v.Anomalies) != 1 || !v.Anomalies[0].Amount.Equal(d("450")) {
		t.Fatalf("expected anomaly, got %+v", v.Anomalies)
	}
	if _, err := env.Engine.RecordDue(env.Ctx, engine.LedgerEntryOptions{PartyID: "gopal", Amount: d("10")}); !errors.Is(err, domain.ErrAnomalous) {
		t.Fatalf("expected append refusal, got %v", err)
	}
	v, err = env.Engine.ClearBalance(env.Ctx, "rec-1", "tester")
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	r := v.Records[0]
	if !r.Amount.IsZero() || r.Status != domain.LedgerPaid || len(v.Anomalies) != 0 {
		t.Fatalf("unexpected record after clear %+v", r)
	}
	if !strings.Contains(r.Note, "paid in cash, see register") || !strings.Contains(r.Note, "[Cleared] Unexplained balance of ₹450 cleared on") {
		t.Fatalf("unexpected note:\n%s", r.Note)
	}
	if _, err := env.Engine.ClearBalance(env.Ctx, "rec-1", "tester"); !errors.Is(err, domain.ErrNotAnomalous) {
		t.Fatalf("expected ErrNotAnomalous, got %v", err)
	}
}

func TestStaleVersionConflicts(t *testing.T) {
	env := newTestEnv(t)
	v, err := env.Engine.RecordDue(env.Ctx, engine.LedgerEntryOptions{PartyID: "asha", Amount: d("100")})
	if err != nil {
		t.Fatal(err)
	}
	stale := v.Records[0]
	if _, err := env.Engine.RecordPayment(env.Ctx, engine.LedgerEntryOptions{PartyID: "asha", Amount: d("40")}); err != nil {
		t.Fatal(err)
	}
	tx, err := env.Engine.DB.BeginTx(env.Ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	stale.Note = "overwritten"
	err = env.Engine.Repo.UpdateLedgerRecordTx(env.Ctx, tx, stale)
	if !domain.IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestCreditSaleBooksUnpaidPart(t *testing.T) {
	env := newTestEnv(t)
	v, err := env.Engine.RecordCreditSale(env.Ctx, engine.LedgerEntryOptions{PartyID: "lata"}, d("1200"), d("200"))
	if err != nil {
		t.Fatal(err)
	}
	if !v.Balance.Equal(d("1000")) || v.Entries[0].Entry.Kind != ledger.CreditSale {
		t.Fatalf("unexpected view %+v", v)
	}
	if _, err := env.Engine.RecordCreditSale(env.Ctx, engine.LedgerEntryOptions{PartyID: "lata"}, d("100"), d("100")); !errors.Is(err, domain.ErrInvalidAmount) {
		t.Fatalf("fully paid sale should be rejected, got %v", err)
	}
}
