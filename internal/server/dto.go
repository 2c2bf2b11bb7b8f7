package server

import (
	"time"

	"khata/internal/domain"
	"khata/internal/engine"
	"khata/internal/finance"
	"khata/internal/goals"
)

// Request payloads. Money travels as decimal strings.

type CreateGoalRequest struct {
	ID             *string `json:"id,omitempty"`
	Title          string  `json:"title" minLength:"1"`
	Description    *string `json:"description,omitempty"`
	GoalType       *string `json:"goal_type,omitempty" enum:"emi"`
	MetricType     string  `json:"metric_type" enum:"net_profit,revenue,gross_profit,sales_count,customer_count,avg_margin,avg_revenue,avg_profit,daily_revenue,daily_margin,margin,product_sales,manual_check"`
	TargetAmount   string  `json:"target_amount" example:"50000"`
	StartDate      *string `json:"start_tracking_date,omitempty" format:"date"`
	Deadline       *string `json:"deadline,omitempty" format:"date"`
	ProductID      *string `json:"product_id,omitempty"`
	IsRecurring    bool    `json:"is_recurring,omitempty"`
	RecurrenceType *string `json:"recurrence_type,omitempty" enum:"weekly,monthly,yearly"`
}

type GoalProgressRequest struct {
	Amount string `json:"amount" example:"1500"`
	Mode   string `json:"mode,omitempty" enum:"add,set" default:"add"`
}

type GoalIntentRequest struct {
	Text string `json:"text" minLength:"1" example:"add 500 to scooter"`
}

type CreateSaleRequest struct {
	Date       *string `json:"date,omitempty" format:"date"`
	CustomerID *string `json:"customer_id,omitempty"`
	ProductID  *string `json:"product_id,omitempty"`
	SellPrice  string  `json:"sell_price"`
	BuyPrice   string  `json:"buy_price"`
	Quantity   string  `json:"quantity" default:"1"`
}

type CreateExpenseRequest struct {
	Date        *string `json:"date,omitempty" format:"date"`
	Amount      string  `json:"amount"`
	Category    *string `json:"category,omitempty"`
	Description *string `json:"description,omitempty"`
}

type LedgerEntryRequest struct {
	Kind      string  `json:"kind" enum:"due,payment,credit_sale,open"`
	PartyKind string  `json:"party_kind,omitempty" enum:"customer,supplier" default:"customer"`
	Amount    string  `json:"amount"`
	Paid      *string `json:"paid,omitempty" doc:"amount paid upfront on a credit sale"`
	DueDate   *string `json:"due_date,omitempty" format:"date"`
}

type LedgerEditRequest struct {
	Amount string `json:"amount"`
}

type LedgerDeleteRequest struct {
	Indexes []int `json:"indexes" minItems:"1" doc:"positions in the visible window"`
}

// Response payloads

type GoalListResponse struct {
	Items []domain.Goal `json:"items"`
}

type RefreshResponse struct {
	Items []goals.Evaluation `json:"items"`
}

func refreshResponse(evs []goals.Evaluation) RefreshResponse {
	if evs == nil {
		evs = []goals.Evaluation{}
	}
	return RefreshResponse{Items: evs}
}

type PlanResponse = goals.Plan

type RolloverResponse struct {
	Created []domain.Goal `json:"created"`
}

type SummaryResponse struct {
	Start       time.Time `json:"start" format:"date"`
	End         time.Time `json:"end" format:"date"`
	Revenue     string    `json:"revenue"`
	GrossProfit string    `json:"gross_profit"`
	Expenses    string    `json:"expenses"`
	NetProfit   string    `json:"net_profit"`
	Sales       int       `json:"sales"`
	Customers   int       `json:"customers"`
}

func summaryResponse(t finance.Totals, r domain.DateRange) SummaryResponse {
	return SummaryResponse{
		Start:       r.Start,
		End:         r.End,
		Revenue:     t.Revenue.String(),
		GrossProfit: t.GrossProfit().String(),
		Expenses:    t.Expenses.String(),
		NetProfit:   t.NetProfit().String(),
		Sales:       t.Count,
		Customers:   t.Customers,
	}
}

type PartyListResponse struct {
	Items []domain.Party `json:"items"`
}

type LedgerResponse = engine.LedgerView

type paginatedEvents struct {
	Items      []domain.Event `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}
