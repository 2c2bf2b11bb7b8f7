// Package goals measures goal progress against sales data and splits profit across goals.
package goals

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"khata/internal/domain"
	"khata/internal/finance"
)

// Store persists evaluated progress. Implementations write current_amount,
// status, completed_at and updated_at of the given goal.
type Store interface {
	UpdateGoalProgress(ctx context.Context, g domain.Goal) error
}

type Evaluator struct {
	Source   finance.Source
	Store    Store
	Now      func() time.Time
	Location *time.Location
}

// Evaluation describes the outcome of one goal refresh.
type Evaluation struct {
	Goal      domain.Goal     `json:"goal"`
	Previous  decimal.Decimal `json:"previous_amount"`
	Changed   bool            `json:"changed"`
	Completed bool            `json:"completed"`
	Skipped   bool            `json:"skipped"`
	Violation error           `json:"-"`
	Reason    string          `json:"reason,omitempty"`
}

func (e Evaluator) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Evaluator) today() time.Time {
	now := e.now()
	if e.Location != nil {
		now = now.In(e.Location)
	}
	return domain.Day(now)
}

// EffectiveRange is [start_tracking_date, today], ending at the deadline once it has passed.
func EffectiveRange(g domain.Goal, today time.Time) domain.DateRange {
	end := domain.Day(today)
	if g.Deadline != nil && domain.Day(*g.Deadline).Before(end) {
		end = domain.Day(*g.Deadline)
	}
	return domain.DateRange{Start: domain.Day(g.StartTrackingDate), End: end}
}

// Evaluate recomputes a goal's progress and persists it when it moved or the
// goal just reached its target. Manual goals come back untouched.
func (e Evaluator) Evaluate(ctx context.Context, g domain.Goal) (Evaluation, error) {
	ev := Evaluation{Goal: g, Previous: g.CurrentAmount}
	if g.IsManual() {
		return ev, nil
	}
	if g.Status == domain.GoalArchived {
		ev.Skipped = true
		ev.Violation = domain.Violation(domain.ErrGoalArchived, "%s", g.ID)
		ev.Reason = ev.Violation.Error()
		return ev, nil
	}
	if g.MetricType == domain.MetricProductSales && (g.ProductID == nil || *g.ProductID == "") {
		ev.Skipped = true
		ev.Violation = domain.Violation(domain.ErrMissingProductID, "%s", g.ID)
		ev.Reason = ev.Violation.Error()
		return ev, nil
	}
	value, err := e.Compute(ctx, g, e.today())
	if err != nil {
		return ev, err
	}

	now := e.now().UTC()
	switch {
	case value.GreaterThanOrEqual(g.TargetAmount) && g.Status != domain.GoalCompleted:
		g.CurrentAmount = value
		g.Status = domain.GoalCompleted
		g.CompletedAt = &now
		ev.Completed = true
	case !value.Equal(g.CurrentAmount):
		g.CurrentAmount = value
	default:
		return ev, nil
	}
	g.UpdatedAt = now
	if err := e.Store.UpdateGoalProgress(ctx, g); err != nil {
		return ev, &domain.DataSourceError{Op: "update goal progress", Err: err}
	}
	ev.Goal = g
	ev.Changed = true
	return ev, nil
}

// Compute derives the metric value for g over its effective range without persisting.
func (e Evaluator) Compute(ctx context.Context, g domain.Goal, today time.Time) (decimal.Decimal, error) {
	r := EffectiveRange(g, today)
	agg := finance.Aggregator{Source: e.Source}

	switch g.MetricType {
	case domain.MetricNetProfit, domain.MetricAvgProfit:
		t, err := agg.Totals(ctx, r, domain.SaleFilter{}, true)
		if err != nil {
			return decimal.Zero, err
		}
		if g.MetricType == domain.MetricAvgProfit {
			return perDay(t.NetProfit(), r), nil
		}
		return t.NetProfit(), nil
	case domain.MetricRevenue, domain.MetricGrossProfit, domain.MetricSalesCount,
		domain.MetricCustomerCount, domain.MetricAvgMargin, domain.MetricAvgRevenue:
		t, err := agg.Totals(ctx, r, domain.SaleFilter{}, false)
		if err != nil {
			return decimal.Zero, err
		}
		switch g.MetricType {
		case domain.MetricRevenue:
			return t.Revenue, nil
		case domain.MetricGrossProfit:
			return t.GrossProfit(), nil
		case domain.MetricSalesCount:
			return decimal.NewFromInt(int64(t.Count)), nil
		case domain.MetricCustomerCount:
			return decimal.NewFromInt(int64(t.Customers)), nil
		case domain.MetricAvgMargin:
			return finance.MarginPercent(t.Revenue, t.Cost), nil
		default:
			return perDay(t.Revenue, r), nil
		}
	case domain.MetricProductSales:
		t, err := agg.Totals(ctx, r, domain.SaleFilter{ProductID: *g.ProductID}, false)
		if err != nil {
			return decimal.Zero, err
		}
		return t.Quantity, nil
	case domain.MetricDailyRevenue, domain.MetricDailyMargin, domain.MetricMargin:
		buckets, err := agg.Daily(ctx, r)
		if err != nil {
			return decimal.Zero, err
		}
		best := decimal.Zero
		for _, b := range buckets {
			v := b.Revenue
			if g.MetricType != domain.MetricDailyRevenue {
				v = b.Margin()
			}
			if v.GreaterThan(best) {
				best = v
			}
		}
		// A single qualifying day satisfies the goal outright.
		if best.GreaterThanOrEqual(g.TargetAmount) {
			return g.TargetAmount, nil
		}
		return best, nil
	case domain.MetricManualCheck:
		return g.CurrentAmount, nil
	}
	return decimal.Zero, domain.Violation(domain.ErrInvalidMetric, "%s", g.MetricType)
}

func perDay(total decimal.Decimal, r domain.DateRange) decimal.Decimal {
	days := finance.DaysElapsed(r.Start, r.End)
	return total.Div(decimal.NewFromInt(int64(days))).Round(2)
}
