package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"khata/internal/domain"
	"khata/internal/events"
	"khata/internal/ledger"
	"khata/internal/metrics"
	"khata/internal/repo"
)

// LedgerView is a party's ledger as shown to a user: the visible tail of the
// entry chain plus the state needed to act on it.
type LedgerView struct {
	PartyID   string                `json:"party_id"`
	PartyKind domain.PartyKind      `json:"party_kind"`
	Balance   decimal.Decimal       `json:"balance"`
	Status    domain.LedgerStatus   `json:"status"`
	Total     int                   `json:"total_entries"`
	Offset    int                   `json:"offset"`
	Entries   []ledger.Item         `json:"entries"`
	Anomalies []ledger.Anomaly      `json:"anomalies,omitempty"`
	Records   []domain.LedgerRecord `json:"records"`
}

// LedgerEntryOptions describe a new ledger entry for a party.
type LedgerEntryOptions struct {
	PartyID   string
	PartyKind domain.PartyKind
	Amount    decimal.Decimal
	DueDate   *time.Time
	ActorID   string
}

// History loads a party's records and builds the visible view.
func (e Engine) History(ctx context.Context, partyID string) (LedgerView, error) {
	records, err := e.Repo.ListLedgerRecords(ctx, partyID, "")
	if err != nil {
		return LedgerView{}, storeErr("list ledger", err)
	}
	if len(records) == 0 {
		return LedgerView{}, notFound("party", partyID)
	}
	book := ledger.Open(records, e.today())
	view := e.view(partyID, book)
	for _, a := range view.Anomalies {
		metrics.LedgerAnomalies.Inc()
		e.log().Warn("ledger record has no entries behind its balance", "party", partyID, "record", a.RecordID, "amount", a.Amount.String())
	}
	return view, nil
}

func (e Engine) view(partyID string, book *ledger.Book) LedgerView {
	records := book.Records()
	items, offset := book.Window(e.window())
	bal := book.Balance()
	status := domain.LedgerPaid
	if bal.IsPositive() {
		status = domain.LedgerPending
	}
	v := LedgerView{
		PartyID:   partyID,
		Balance:   bal,
		Status:    status,
		Total:     len(book.Entries()),
		Offset:    offset,
		Entries:   items,
		Anomalies: book.Anomalies(),
		Records:   records,
	}
	if len(records) > 0 {
		v.PartyKind = records[0].PartyKind
	}
	return v
}

// RecordDue adds money owed by the party, opening its first record when needed.
func (e Engine) RecordDue(ctx context.Context, opts LedgerEntryOptions) (LedgerView, error) {
	return e.appendEntry(ctx, "due", opts, ledger.DueAdded)
}

// RecordCreditSale adds the unpaid part of a sale to the party's balance.
func (e Engine) RecordCreditSale(ctx context.Context, opts LedgerEntryOptions, total, paid decimal.Decimal) (LedgerView, error) {
	if paid.IsNegative() || paid.GreaterThan(total) {
		return LedgerView{}, domain.Violation(domain.ErrInvalidAmount, "paid %s of %s", paid, total)
	}
	opts.Amount = total.Sub(paid)
	return e.appendEntry(ctx, "credit_sale", opts, ledger.CreditSale)
}

// RecordPayment reduces the party's balance. The party must already have a record.
func (e Engine) RecordPayment(ctx context.Context, opts LedgerEntryOptions) (LedgerView, error) {
	return e.mutateParty(ctx, opts.PartyID, "payment", opts.ActorID, nil, func(b *ledger.Book) error {
		return b.Append(ledger.PaymentReceived, opts.Amount, e.local())
	})
}

func (e Engine) appendEntry(ctx context.Context, op string, opts LedgerEntryOptions, kind ledger.Kind) (LedgerView, error) {
	if !opts.Amount.IsPositive() {
		return LedgerView{}, domain.Violation(domain.ErrInvalidAmount, "%s", opts.Amount)
	}
	seed := e.newRecord(opts)
	return e.mutateParty(ctx, opts.PartyID, op, opts.ActorID, &seed, func(b *ledger.Book) error {
		return b.Append(kind, opts.Amount, e.local())
	})
}

// OpenRecord starts a separate record for the party, for example a new due
// date, and books the amount on it.
func (e Engine) OpenRecord(ctx context.Context, opts LedgerEntryOptions) (LedgerView, error) {
	if !opts.Amount.IsPositive() {
		return LedgerView{}, domain.Violation(domain.ErrInvalidAmount, "%s", opts.Amount)
	}
	rec := e.newRecord(opts)
	return e.mutateParty(ctx, opts.PartyID, "open", opts.ActorID, &rec, func(b *ledger.Book) error {
		return b.AppendTo(rec.ID, ledger.DueAdded, opts.Amount, e.local())
	}, forceInsert)
}

func (e Engine) newRecord(opts LedgerEntryOptions) domain.LedgerRecord {
	now := e.now().UTC()
	kind := opts.PartyKind
	if kind == "" {
		kind = domain.PartyCustomer
	}
	var due *time.Time
	if opts.DueDate != nil {
		d := domain.Day(*opts.DueDate)
		due = &d
	}
	return domain.LedgerRecord{
		ID:        uuid.NewString(),
		PartyID:   opts.PartyID,
		PartyKind: kind,
		Amount:    decimal.Zero,
		DueDate:   due,
		Status:    domain.LedgerPending,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// EditLatestEntry changes the amount of the party's most recent entry.
func (e Engine) EditLatestEntry(ctx context.Context, partyID string, amount decimal.Decimal, actorID string) (LedgerView, error) {
	return e.mutateParty(ctx, partyID, "edit", actorID, nil, func(b *ledger.Book) error {
		return b.EditLatest(amount)
	})
}

// DeleteEntry removes the entry shown at a position of the visible window.
func (e Engine) DeleteEntry(ctx context.Context, partyID string, visible int, actorID string) (LedgerView, error) {
	return e.DeleteEntries(ctx, partyID, []int{visible}, actorID)
}

// DeleteEntries removes several entries chosen by their visible positions.
func (e Engine) DeleteEntries(ctx context.Context, partyID string, visible []int, actorID string) (LedgerView, error) {
	size := e.window()
	return e.mutateParty(ctx, partyID, "delete", actorID, nil, func(b *ledger.Book) error {
		idxs := make([]int, 0, len(visible))
		for _, v := range visible {
			idx, err := b.TrueIndex(v, size)
			if err != nil {
				return err
			}
			idxs = append(idxs, idx)
		}
		return b.DeleteMany(idxs)
	})
}

// ClearBalance writes off the unexplained amount of an anomalous record.
func (e Engine) ClearBalance(ctx context.Context, recordID, actorID string) (LedgerView, error) {
	rec, err := e.Repo.GetLedgerRecord(ctx, recordID)
	if errors.Is(err, repo.ErrNotFound) {
		return LedgerView{}, notFound("ledger record", recordID)
	}
	if err != nil {
		return LedgerView{}, storeErr("get ledger record", err)
	}
	return e.mutateParty(ctx, rec.PartyID, "clear", actorID, nil, func(b *ledger.Book) error {
		return b.Clear(recordID, e.local())
	})
}

// ListParties summarizes every party. Balances come from replaying each
// party's entries, the same figure History reports.
func (e Engine) ListParties(ctx context.Context, kind domain.PartyKind) ([]domain.Party, error) {
	parties, err := e.Repo.ListParties(ctx, kind)
	if err != nil {
		return nil, storeErr("list parties", err)
	}
	today := e.today()
	for i := range parties {
		records, err := e.Repo.ListLedgerRecords(ctx, parties[i].ID, "")
		if err != nil {
			return nil, storeErr("list ledger", err)
		}
		book := ledger.Open(records, today)
		parties[i].Balance = book.Balance()
		parties[i].Status = book.Status()
	}
	return parties, nil
}

type mutateOption int

const forceInsert mutateOption = 1

var ledgerEvents = map[string]string{
	"due":         events.LedgerEntryAdded,
	"credit_sale": events.LedgerEntryAdded,
	"payment":     events.LedgerEntryAdded,
	"open":        events.LedgerOpened,
	"edit":        events.LedgerEntryEdited,
	"delete":      events.LedgerDeleted,
	"clear":       events.LedgerCleared,
}

// mutateParty loads every record of the party inside one transaction, applies
// fn to the parsed book and writes back the changed records with a version
// check. seed is inserted when the party has no records yet, or always with
// forceInsert.
func (e Engine) mutateParty(ctx context.Context, partyID, op, actorID string, seed *domain.LedgerRecord, fn func(*ledger.Book) error, opts ...mutateOption) (LedgerView, error) {
	if partyID == "" {
		return LedgerView{}, errors.New("party is required")
	}
	force := len(opts) > 0 && opts[0] == forceInsert

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return LedgerView{}, storeErr("begin", err)
	}
	defer tx.Rollback()

	records, err := e.Repo.ListLedgerRecordsTx(ctx, tx, partyID)
	if err != nil {
		return LedgerView{}, storeErr("list ledger", err)
	}
	if seed != nil && (force || len(records) == 0) {
		if len(records) > 0 {
			seed.PartyKind = records[0].PartyKind
		}
		if err := e.Repo.InsertLedgerRecordTx(ctx, tx, *seed); err != nil {
			return LedgerView{}, storeErr("insert ledger record", err)
		}
		records = append(records, *seed)
	}
	if len(records) == 0 {
		return LedgerView{}, notFound("party", partyID)
	}

	book := ledger.Open(records, e.today())
	if err := fn(book); err != nil {
		return LedgerView{}, err
	}
	now := e.now().UTC()
	changed := book.Commit()
	for _, rec := range changed {
		rec.UpdatedAt = now
		if err := e.Repo.UpdateLedgerRecordTx(ctx, tx, rec); err != nil {
			var conflict *domain.ConflictError
			if errors.As(err, &conflict) {
				metrics.LedgerConflicts.Inc()
				e.log().Warn("ledger record changed concurrently", "party", partyID, "record", rec.ID, "op", op)
			}
			return LedgerView{}, storeErr("update ledger record", err)
		}
	}
	ids := make([]string, 0, len(changed))
	for _, rec := range changed {
		ids = append(ids, rec.ID)
	}
	if err := e.events().Append(ctx, tx, ledgerEvents[op], "party", partyID, requireActor(actorID), events.EventPayload{
		"op":      op,
		"balance": book.Balance().String(),
		"records": ids,
	}); err != nil {
		return LedgerView{}, err
	}
	if err := tx.Commit(); err != nil {
		return LedgerView{}, storeErr("commit", err)
	}
	metrics.LedgerMutations.WithLabelValues(op).Inc()
	e.log().Info("ledger updated", "party", partyID, "op", op, "balance", book.Balance().String(), "records", len(changed))
	return e.History(ctx, partyID)
}
