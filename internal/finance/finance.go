// Package finance computes revenue, cost and profit aggregates over sales and expenses.
package finance

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"khata/internal/domain"
)

// Source is the read side of the financial data store.
type Source interface {
	QueryTransactions(ctx context.Context, r domain.DateRange, f domain.SaleFilter) ([]domain.Sale, error)
	QueryExpenses(ctx context.Context, r domain.DateRange) ([]domain.Expense, error)
}

type Totals struct {
	Revenue   decimal.Decimal `json:"revenue"`
	Cost      decimal.Decimal `json:"cost"`
	Expenses  decimal.Decimal `json:"expenses"`
	Quantity  decimal.Decimal `json:"quantity"`
	Count     int             `json:"count"`
	Customers int             `json:"customers"`
}

func (t Totals) GrossProfit() decimal.Decimal { return t.Revenue.Sub(t.Cost) }

func (t Totals) NetProfit() decimal.Decimal { return t.Revenue.Sub(t.Cost).Sub(t.Expenses) }

// Summarize folds sales and expenses into totals. Sales without a customer
// do not count toward Customers.
func Summarize(sales []domain.Sale, expenses []domain.Expense) Totals {
	t := Totals{Revenue: decimal.Zero, Cost: decimal.Zero, Expenses: decimal.Zero, Quantity: decimal.Zero}
	customers := map[string]struct{}{}
	for _, s := range sales {
		t.Revenue = t.Revenue.Add(s.Revenue())
		t.Cost = t.Cost.Add(s.Cost())
		t.Quantity = t.Quantity.Add(s.Quantity)
		t.Count++
		if s.CustomerID != nil && *s.CustomerID != "" {
			customers[*s.CustomerID] = struct{}{}
		}
	}
	for _, e := range expenses {
		t.Expenses = t.Expenses.Add(e.Amount)
	}
	t.Customers = len(customers)
	return t
}

type DayBucket struct {
	Date    time.Time
	Revenue decimal.Decimal
	Cost    decimal.Decimal
}

// Margin is gross margin as a percentage of revenue. Zero revenue yields zero.
func (b DayBucket) Margin() decimal.Decimal {
	return MarginPercent(b.Revenue, b.Cost)
}

// DailyBuckets groups sales by calendar day, oldest first.
func DailyBuckets(sales []domain.Sale) []DayBucket {
	byDay := map[time.Time]*DayBucket{}
	for _, s := range sales {
		d := domain.Day(s.Date)
		b, ok := byDay[d]
		if !ok {
			b = &DayBucket{Date: d, Revenue: decimal.Zero, Cost: decimal.Zero}
			byDay[d] = b
		}
		b.Revenue = b.Revenue.Add(s.Revenue())
		b.Cost = b.Cost.Add(s.Cost())
	}
	res := make([]DayBucket, 0, len(byDay))
	for _, b := range byDay {
		res = append(res, *b)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Date.Before(res[j].Date) })
	return res
}

func MarginPercent(revenue, cost decimal.Decimal) decimal.Decimal {
	if revenue.IsZero() {
		return decimal.Zero
	}
	return revenue.Sub(cost).Div(revenue).Mul(decimal.NewFromInt(100)).Round(2)
}

// DaysElapsed counts calendar days in [start, end], never less than one.
func DaysElapsed(start, end time.Time) int {
	diff := domain.Day(end).Sub(domain.Day(start)).Hours() / 24
	n := int(math.Ceil(math.Abs(diff))) + 1
	if n < 1 {
		return 1
	}
	return n
}

// MonthToDate returns the range from the first of today's month through today.
func MonthToDate(today time.Time) domain.DateRange {
	d := domain.Day(today)
	return domain.DateRange{Start: time.Date(d.Year(), d.Month(), 1, 0, 0, 0, 0, time.UTC), End: d}
}

// Aggregator runs Summarize over rows pulled from a Source.
type Aggregator struct {
	Source Source
}

func (a Aggregator) Totals(ctx context.Context, r domain.DateRange, f domain.SaleFilter, withExpenses bool) (Totals, error) {
	sales, err := a.Source.QueryTransactions(ctx, r, f)
	if err != nil {
		return Totals{}, &domain.DataSourceError{Op: "query transactions", Err: err}
	}
	var expenses []domain.Expense
	if withExpenses {
		expenses, err = a.Source.QueryExpenses(ctx, r)
		if err != nil {
			return Totals{}, &domain.DataSourceError{Op: "query expenses", Err: err}
		}
	}
	return Summarize(sales, expenses), nil
}

func (a Aggregator) NetProfit(ctx context.Context, r domain.DateRange) (decimal.Decimal, error) {
	t, err := a.Totals(ctx, r, domain.SaleFilter{}, true)
	if err != nil {
		return decimal.Zero, err
	}
	return t.NetProfit(), nil
}

func (a Aggregator) Daily(ctx context.Context, r domain.DateRange) ([]DayBucket, error) {
	sales, err := a.Source.QueryTransactions(ctx, r, domain.SaleFilter{})
	if err != nil {
		return nil, &domain.DataSourceError{Op: "query transactions", Err: err}
	}
	return DailyBuckets(sales), nil
}
