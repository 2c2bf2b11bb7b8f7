package goals

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"khata/internal/domain"
)

// PeriodStart returns the first day of the recurrence period containing t.
// Weeks start on Monday.
func PeriodStart(rt domain.RecurrenceType, t time.Time) time.Time {
	d := domain.Day(t)
	switch rt {
	case domain.RecurWeekly:
		offset := (int(d.Weekday()) + 6) % 7
		return d.AddDate(0, 0, -offset)
	case domain.RecurYearly:
		return time.Date(d.Year(), 1, 1, 0, 0, 0, 0, time.UTC)
	default:
		return time.Date(d.Year(), d.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
}

func nextPeriod(rt domain.RecurrenceType, start time.Time) time.Time {
	switch rt {
	case domain.RecurWeekly:
		return start.AddDate(0, 0, 7)
	case domain.RecurYearly:
		return start.AddDate(1, 0, 0)
	default:
		return start.AddDate(0, 1, 0)
	}
}

// shiftDate moves t forward by one period. Month and year steps keep the day
// of month, clamped to the last day of a shorter month.
func shiftDate(rt domain.RecurrenceType, t time.Time) time.Time {
	switch rt {
	case domain.RecurWeekly:
		return t.AddDate(0, 0, 7)
	case domain.RecurYearly:
		return addMonths(t, 12)
	default:
		return addMonths(t, 1)
	}
}

func addMonths(t time.Time, n int) time.Time {
	first := time.Date(t.Year(), t.Month()+time.Month(n), 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1).Day()
	day := t.Day()
	if day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day, 0, 0, 0, 0, time.UTC)
}

// NextCycle builds the successor of a completed recurring goal. The second
// return is false when g does not recur or has not completed.
func NextCycle(g domain.Goal, now time.Time) (domain.Goal, bool) {
	if !g.IsRecurring || g.Status != domain.GoalCompleted {
		return domain.Goal{}, false
	}
	rt := domain.RecurMonthly
	if g.RecurrenceType != nil {
		rt = *g.RecurrenceType
	}
	anchor := now
	if g.CompletedAt != nil {
		anchor = *g.CompletedAt
	}
	start := nextPeriod(rt, PeriodStart(rt, anchor))
	next := domain.Goal{
		ID:                uuid.NewString(),
		Title:             g.Title,
		Description:       g.Description,
		GoalType:          g.GoalType,
		MetricType:        g.MetricType,
		TargetAmount:      g.TargetAmount,
		CurrentAmount:     decimal.Zero,
		Status:            domain.GoalActive,
		StartTrackingDate: start,
		ProductID:         g.ProductID,
		IsRecurring:       true,
		RecurrenceType:    &rt,
		PreviousGoalID:    &g.ID,
		CreatedAt:         now.UTC(),
		UpdatedAt:         now.UTC(),
	}
	if g.Deadline != nil {
		end := shiftDate(rt, domain.Day(*g.Deadline))
		for end.Before(start) {
			end = shiftDate(rt, end)
		}
		next.Deadline = &end
	}
	return next, true
}
