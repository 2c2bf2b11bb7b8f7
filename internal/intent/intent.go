// Package intent turns free-form goal requests into typed intents.
package intent

import (
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"khata/internal/domain"
)

// Intent is one of CreateGoal, UpdateGoal or Unrecognized.
type Intent interface {
	intent()
}

type CreateGoal struct {
	Title    string
	Target   decimal.Decimal
	Metric   domain.MetricType
	Deadline *time.Time
}

type UpdateMode string

const (
	ModeAdd UpdateMode = "add"
	ModeSet UpdateMode = "set"
)

type UpdateGoal struct {
	GoalTitle string
	Amount    decimal.Decimal
	Mode      UpdateMode
}

type Unrecognized struct {
	Text string
}

func (CreateGoal) intent()   {}
func (UpdateGoal) intent()   {}
func (Unrecognized) intent() {}

// Extractor classifies text. Implementations may be rule based or call out
// to a language model; callers only see the typed result.
type Extractor interface {
	Extract(text string) Intent
}

var (
	createRe = regexp.MustCompile(`(?i)^(?:new\s+)?goal:?\s+(?:earn|make|reach|get|sell)?\s*₹?\s*([\d,]+(?:\.\d+)?)\s*(.*?)(?:\s+by\s+(\d{4}-\d{2}-\d{2}))?$`)
	addRe    = regexp.MustCompile(`(?i)^(?:add|put|saved?)\s+₹?\s*([\d,]+(?:\.\d+)?)\s+(?:to|into|for)\s+(.+)$`)
	setRe    = regexp.MustCompile(`(?i)^set\s+(.+?)\s+to\s+₹?\s*([\d,]+(?:\.\d+)?)$`)
)

var metricWords = []struct {
	word   string
	metric domain.MetricType
}{
	{"daily revenue", domain.MetricDailyRevenue},
	{"daily margin", domain.MetricDailyMargin},
	{"average margin", domain.MetricAvgMargin},
	{"average revenue", domain.MetricAvgRevenue},
	{"average profit", domain.MetricAvgProfit},
	{"gross profit", domain.MetricGrossProfit},
	{"net profit", domain.MetricNetProfit},
	{"profit", domain.MetricNetProfit},
	{"revenue", domain.MetricRevenue},
	{"sales", domain.MetricSalesCount},
	{"customers", domain.MetricCustomerCount},
	{"margin", domain.MetricMargin},
}

// PatternExtractor recognizes a handful of English phrasings.
type PatternExtractor struct{}

func (PatternExtractor) Extract(text string) Intent {
	text = strings.TrimSpace(text)
	if m := createRe.FindStringSubmatch(text); m != nil {
		target, err := amount(m[1])
		if err != nil {
			return Unrecognized{Text: text}
		}
		rest := strings.TrimSpace(m[2])
		c := CreateGoal{Target: target, Metric: domain.MetricManualCheck, Title: rest}
		lower := strings.ToLower(rest)
		for _, w := range metricWords {
			if strings.Contains(lower, w.word) {
				c.Metric = w.metric
				break
			}
		}
		if c.Title == "" {
			c.Title = string(c.Metric) + " goal"
		}
		if m[3] != "" {
			if d, err := domain.ParseDate(m[3]); err == nil {
				c.Deadline = &d
			}
		}
		return c
	}
	if m := addRe.FindStringSubmatch(text); m != nil {
		if v, err := amount(m[1]); err == nil {
			return UpdateGoal{GoalTitle: strings.TrimSpace(m[2]), Amount: v, Mode: ModeAdd}
		}
	}
	if m := setRe.FindStringSubmatch(text); m != nil {
		if v, err := amount(m[2]); err == nil {
			return UpdateGoal{GoalTitle: strings.TrimSpace(m[1]), Amount: v, Mode: ModeSet}
		}
	}
	return Unrecognized{Text: text}
}

func amount(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(strings.ReplaceAll(s, ",", ""))
}
