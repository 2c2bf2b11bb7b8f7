package goals

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"khata/internal/domain"
)

type Allocation struct {
	GoalID          string          `json:"goal_id"`
	Title           string          `json:"title"`
	Deadline        *time.Time      `json:"deadline,omitempty" format:"date"`
	TargetAmount    decimal.Decimal `json:"target_amount"`
	AllocatedAmount decimal.Decimal `json:"allocated_amount"`
	RemainingNeeded decimal.Decimal `json:"remaining_needed"`
	DaysLeft        int             `json:"days_left"`
	DailyRunRate    decimal.Decimal `json:"daily_run_rate"`
	IsFullyFunded   bool            `json:"is_fully_funded"`
	Message         string          `json:"message"`
}

// Plan is the result of one waterfall pass over a profit pool.
type Plan struct {
	RawPool     decimal.Decimal `json:"raw_pool"`
	Pool        decimal.Decimal `json:"pool"`
	Unallocated decimal.Decimal `json:"unallocated"`
	Allocations []Allocation    `json:"allocations"`
}

// SortByDeadline orders goals earliest deadline first; goals without one go last.
// Ties keep their input order.
func SortByDeadline(goals []domain.Goal) []domain.Goal {
	out := append([]domain.Goal(nil), goals...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Deadline, out[j].Deadline
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.Before(*b)
		}
	})
	return out
}

type Allocator struct {
	Currency string
}

// Allocate walks goals in the given order, funding each from what is left of
// the pool. A negative pool is treated as empty.
func (al Allocator) Allocate(goals []domain.Goal, pool decimal.Decimal, today time.Time) Plan {
	plan := Plan{RawPool: pool, Pool: decimal.Max(pool, decimal.Zero)}
	remaining := plan.Pool
	today = domain.Day(today)
	for _, g := range goals {
		allocated := decimal.Min(remaining, g.TargetAmount)
		remaining = remaining.Sub(allocated)
		a := Allocation{
			GoalID:          g.ID,
			Title:           g.Title,
			Deadline:        g.Deadline,
			TargetAmount:    g.TargetAmount,
			AllocatedAmount: allocated,
			RemainingNeeded: g.TargetAmount.Sub(allocated),
			DailyRunRate:    decimal.Zero,
		}
		a.IsFullyFunded = allocated.GreaterThanOrEqual(g.TargetAmount)
		if g.Deadline != nil {
			a.DaysLeft = int(math.Ceil(g.Deadline.Sub(today).Hours() / 24))
		}
		if !a.IsFullyFunded && a.DaysLeft > 0 {
			a.DailyRunRate = a.RemainingNeeded.Div(decimal.NewFromInt(int64(a.DaysLeft))).Round(2)
		}
		a.Message = al.message(a)
		plan.Allocations = append(plan.Allocations, a)
	}
	plan.Unallocated = remaining
	return plan
}

func (al Allocator) message(a Allocation) string {
	cur := al.Currency
	if cur == "" {
		cur = "₹"
	}
	if a.IsFullyFunded {
		return "Fully funded"
	}
	short := fmt.Sprintf("short by %s%s", cur, a.RemainingNeeded.String())
	switch {
	case a.Deadline == nil:
		return "No deadline; " + short
	case a.DaysLeft > 0:
		return fmt.Sprintf("Needs %s%s/day for %d days; %s", cur, a.DailyRunRate.StringFixed(2), a.DaysLeft, short)
	case a.DaysLeft == 0:
		return "Due today; " + short
	default:
		return fmt.Sprintf("Overdue by %d days; %s", -a.DaysLeft, short)
	}
}
