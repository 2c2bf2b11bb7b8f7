package engine

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"khata/internal/domain"
	"khata/internal/events"
	"khata/internal/finance"
	"khata/internal/repo"
)

type SaleOptions struct {
	Date       *time.Time
	CustomerID string
	ProductID  string
	SellPrice  decimal.Decimal
	BuyPrice   decimal.Decimal
	Quantity   decimal.Decimal
	ActorID    string
}

func (e Engine) RecordSale(ctx context.Context, opts SaleOptions) (domain.Sale, error) {
	if !opts.Quantity.IsPositive() {
		return domain.Sale{}, domain.Violation(domain.ErrInvalidAmount, "quantity %s", opts.Quantity)
	}
	if opts.SellPrice.IsNegative() || opts.BuyPrice.IsNegative() {
		return domain.Sale{}, domain.Violation(domain.ErrInvalidAmount, "negative price")
	}
	s := domain.Sale{
		ID:         uuid.NewString(),
		Date:       e.today(),
		CustomerID: optionalString(opts.CustomerID),
		ProductID:  optionalString(opts.ProductID),
		SellPrice:  opts.SellPrice,
		BuyPrice:   opts.BuyPrice,
		Quantity:   opts.Quantity,
		CreatedAt:  e.now().UTC(),
	}
	if opts.Date != nil {
		s.Date = domain.Day(*opts.Date)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return s, storeErr("begin", err)
	}
	defer tx.Rollback()
	if err := e.Repo.InsertSaleTx(ctx, tx, s); err != nil {
		return s, storeErr("insert sale", err)
	}
	if err := e.events().Append(ctx, tx, events.SaleRecorded, "sale", s.ID, requireActor(opts.ActorID), events.EventPayload{
		"date":    s.Date.Format(domain.DateLayout),
		"revenue": s.Revenue().String(),
	}); err != nil {
		return s, err
	}
	return s, storeErr("commit", tx.Commit())
}

func (e Engine) DeleteSale(ctx context.Context, id, actorID string) error {
	return e.softDelete(ctx, "sale", id, actorID, events.SaleDeleted, e.Repo.SoftDeleteSaleTx)
}

type ExpenseOptions struct {
	Date        *time.Time
	Amount      decimal.Decimal
	Category    string
	Description string
	ActorID     string
}

func (e Engine) RecordExpense(ctx context.Context, opts ExpenseOptions) (domain.Expense, error) {
	if !opts.Amount.IsPositive() {
		return domain.Expense{}, domain.Violation(domain.ErrInvalidAmount, "expense %s", opts.Amount)
	}
	x := domain.Expense{
		ID:          uuid.NewString(),
		Date:        e.today(),
		Amount:      opts.Amount,
		Category:    opts.Category,
		Description: opts.Description,
		CreatedAt:   e.now().UTC(),
	}
	if opts.Date != nil {
		x.Date = domain.Day(*opts.Date)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return x, storeErr("begin", err)
	}
	defer tx.Rollback()
	if err := e.Repo.InsertExpenseTx(ctx, tx, x); err != nil {
		return x, storeErr("insert expense", err)
	}
	if err := e.events().Append(ctx, tx, events.ExpenseRecorded, "expense", x.ID, requireActor(opts.ActorID), events.EventPayload{
		"date":   x.Date.Format(domain.DateLayout),
		"amount": x.Amount.String(),
	}); err != nil {
		return x, err
	}
	return x, storeErr("commit", tx.Commit())
}

func (e Engine) DeleteExpense(ctx context.Context, id, actorID string) error {
	return e.softDelete(ctx, "expense", id, actorID, events.ExpenseDeleted, e.Repo.SoftDeleteExpenseTx)
}

func (e Engine) softDelete(ctx context.Context, kind, id, actorID, evt string, del func(context.Context, *sql.Tx, string, string) error) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("begin", err)
	}
	defer tx.Rollback()
	if err := del(ctx, tx, id, e.now().UTC().Format(time.RFC3339Nano)); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return notFound(kind, id)
		}
		return storeErr("delete "+kind, err)
	}
	if err := e.events().Append(ctx, tx, evt, kind, id, requireActor(actorID), nil); err != nil {
		return err
	}
	return storeErr("commit", tx.Commit())
}

// Summary reports month-to-date totals for the dashboard.
func (e Engine) Summary(ctx context.Context) (finance.Totals, domain.DateRange, error) {
	r := finance.MonthToDate(e.today())
	t, err := finance.Aggregator{Source: e.Repo}.Totals(ctx, r, domain.SaleFilter{}, true)
	return t, r, err
}
