package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type MetricType string

const (
	MetricNetProfit     MetricType = "net_profit"
	MetricRevenue       MetricType = "revenue"
	MetricGrossProfit   MetricType = "gross_profit"
	MetricSalesCount    MetricType = "sales_count"
	MetricCustomerCount MetricType = "customer_count"
	MetricProductSales  MetricType = "product_sales"
	MetricDailyRevenue  MetricType = "daily_revenue"
	MetricDailyMargin   MetricType = "daily_margin"
	MetricMargin        MetricType = "margin"
	MetricAvgMargin     MetricType = "avg_margin"
	MetricAvgRevenue    MetricType = "avg_revenue"
	MetricAvgProfit     MetricType = "avg_profit"
	MetricManualCheck   MetricType = "manual_check"
)

// MetricTypes lists every supported metric in display order.
var MetricTypes = []MetricType{
	MetricNetProfit, MetricRevenue, MetricGrossProfit, MetricSalesCount, MetricCustomerCount,
	MetricProductSales, MetricDailyRevenue, MetricDailyMargin, MetricMargin, MetricAvgMargin,
	MetricAvgRevenue, MetricAvgProfit, MetricManualCheck,
}

func (m MetricType) Valid() bool {
	for _, v := range MetricTypes {
		if v == m {
			return true
		}
	}
	return false
}

type GoalStatus string

const (
	GoalActive    GoalStatus = "active"
	GoalCompleted GoalStatus = "completed"
	GoalArchived  GoalStatus = "archived"
)

type RecurrenceType string

const (
	RecurWeekly  RecurrenceType = "weekly"
	RecurMonthly RecurrenceType = "monthly"
	RecurYearly  RecurrenceType = "yearly"
)

// GoalTypeEMI marks a loan-instalment goal; its progress is only ever set by hand.
const GoalTypeEMI = "emi"

type Goal struct {
	ID                string          `json:"id"`
	Title             string          `json:"title"`
	Description       string          `json:"description,omitempty"`
	GoalType          string          `json:"goal_type,omitempty"`
	MetricType        MetricType      `json:"metric_type"`
	TargetAmount      decimal.Decimal `json:"target_amount"`
	CurrentAmount     decimal.Decimal `json:"current_amount"`
	Status            GoalStatus      `json:"status" enum:"active,completed,archived"`
	StartTrackingDate time.Time       `json:"start_tracking_date" format:"date"`
	Deadline          *time.Time      `json:"deadline,omitempty" format:"date"`
	ProductID         *string         `json:"product_id,omitempty"`
	IsRecurring       bool            `json:"is_recurring"`
	RecurrenceType    *RecurrenceType `json:"recurrence_type,omitempty"`
	PreviousGoalID    *string         `json:"previous_goal_id,omitempty"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty" format:"date-time"`
	CreatedAt         time.Time       `json:"created_at" format:"date-time"`
	UpdatedAt         time.Time       `json:"updated_at" format:"date-time"`
}

// IsManual reports whether progress comes from the user rather than sales data.
func (g Goal) IsManual() bool {
	return g.MetricType == MetricManualCheck || g.GoalType == GoalTypeEMI
}

// Sale is one transaction row. Amounts are per unit.
type Sale struct {
	ID         string          `json:"id"`
	Date       time.Time       `json:"date" format:"date"`
	CustomerID *string         `json:"customer_id,omitempty"`
	ProductID  *string         `json:"product_id,omitempty"`
	SellPrice  decimal.Decimal `json:"sell_price"`
	BuyPrice   decimal.Decimal `json:"buy_price"`
	Quantity   decimal.Decimal `json:"quantity"`
	DeletedAt  *time.Time      `json:"deleted_at,omitempty" format:"date-time"`
	CreatedAt  time.Time       `json:"created_at" format:"date-time"`
}

func (s Sale) Revenue() decimal.Decimal { return s.SellPrice.Mul(s.Quantity) }
func (s Sale) Cost() decimal.Decimal    { return s.BuyPrice.Mul(s.Quantity) }

// SaleFilter narrows a transaction query. Empty fields match everything.
type SaleFilter struct {
	ProductID  string
	CustomerID string
}

type Expense struct {
	ID          string          `json:"id"`
	Date        time.Time       `json:"date" format:"date"`
	Amount      decimal.Decimal `json:"amount"`
	Category    string          `json:"category,omitempty"`
	Description string          `json:"description,omitempty"`
	DeletedAt   *time.Time      `json:"deleted_at,omitempty" format:"date-time"`
	CreatedAt   time.Time       `json:"created_at" format:"date-time"`
}

type PartyKind string

const (
	PartyCustomer PartyKind = "customer"
	PartySupplier PartyKind = "supplier"
)

type LedgerStatus string

const (
	LedgerPending LedgerStatus = "pending"
	LedgerPaid    LedgerStatus = "paid"
)

// LedgerRecord is one receivable/payable row. Note holds the append-only entry log.
type LedgerRecord struct {
	ID        string          `json:"id"`
	PartyID   string          `json:"party_id"`
	PartyKind PartyKind       `json:"party_kind" enum:"customer,supplier"`
	Amount    decimal.Decimal `json:"amount"`
	DueDate   *time.Time      `json:"due_date,omitempty" format:"date"`
	Status    LedgerStatus    `json:"status" enum:"pending,paid"`
	Note      string          `json:"note"`
	Version   int64           `json:"version"`
	CreatedAt time.Time       `json:"created_at" format:"date-time"`
	UpdatedAt time.Time       `json:"updated_at" format:"date-time"`
}

// Party summarizes the records held for one counterparty.
type Party struct {
	ID      string          `json:"id"`
	Kind    PartyKind       `json:"kind"`
	Records int             `json:"records"`
	Balance decimal.Decimal `json:"balance"`
	Status  LedgerStatus    `json:"status"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload,omitempty"`
}

// DateRange is an inclusive span of calendar days.
type DateRange struct {
	Start time.Time
	End   time.Time
}

func (r DateRange) Contains(t time.Time) bool {
	d := Day(t)
	return !d.Before(Day(r.Start)) && !d.After(Day(r.End))
}

// Day truncates t to midnight UTC keeping its calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

const DateLayout = "2006-01-02"

// ParseDate reads a YYYY-MM-DD string.
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, s, time.UTC)
}
