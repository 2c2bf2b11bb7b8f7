package intent

import (
	"testing"

	"github.com/shopspring/decimal"

	"khata/internal/domain"
)

func TestPatternExtractor(t *testing.T) {
	ex := PatternExtractor{}

	got := ex.Extract("goal: earn 50,000 revenue by 2024-12-31")
	c, ok := got.(CreateGoal)
	if !ok {
		t.Fatalf("expected create intent, got %#v", got)
	}
	if !c.Target.Equal(decimal.NewFromInt(50000)) || c.Metric != domain.MetricRevenue || c.Deadline == nil {
		t.Fatalf("unexpected create intent %+v", c)
	}
	if c.Deadline.Format(domain.DateLayout) != "2024-12-31" {
		t.Fatalf("deadline: %s", c.Deadline)
	}

	got = ex.Extract("new goal 20000 new scooter")
	if c, ok := got.(CreateGoal); !ok || c.Metric != domain.MetricManualCheck || c.Title != "new scooter" {
		t.Fatalf("expected manual create intent, got %#v", got)
	}

	got = ex.Extract("add ₹500 to scooter fund")
	u, ok := got.(UpdateGoal)
	if !ok || u.Mode != ModeAdd || u.GoalTitle != "scooter fund" || !u.Amount.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("unexpected add intent %#v", got)
	}

	got = ex.Extract("set scooter fund to 1200")
	u, ok = got.(UpdateGoal)
	if !ok || u.Mode != ModeSet || u.GoalTitle != "scooter fund" || !u.Amount.Equal(decimal.NewFromInt(1200)) {
		t.Fatalf("unexpected set intent %#v", got)
	}

	if _, ok := ex.Extract("what is the weather").(Unrecognized); !ok {
		t.Fatalf("expected unrecognized")
	}
}
