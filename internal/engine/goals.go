package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"khata/internal/domain"
	"khata/internal/events"
	"khata/internal/finance"
	"khata/internal/goals"
	"khata/internal/intent"
	"khata/internal/metrics"
	"khata/internal/repo"
)

// GoalCreateOptions are parameters for creating a goal.
type GoalCreateOptions struct {
	ID             string
	Title          string
	Description    string
	GoalType       string
	Metric         domain.MetricType
	Target         decimal.Decimal
	StartDate      *time.Time
	Deadline       *time.Time
	ProductID      string
	Recurring      bool
	RecurrenceType domain.RecurrenceType
	ActorID        string
}

func (e Engine) CreateGoal(ctx context.Context, opts GoalCreateOptions) (domain.Goal, error) {
	if strings.TrimSpace(opts.Title) == "" {
		return domain.Goal{}, errors.New("title is required")
	}
	if opts.Metric == "" {
		opts.Metric = domain.MetricNetProfit
	}
	if !opts.Metric.Valid() {
		return domain.Goal{}, domain.Violation(domain.ErrInvalidMetric, "%s", opts.Metric)
	}
	if !opts.Target.IsPositive() {
		return domain.Goal{}, domain.Violation(domain.ErrInvalidAmount, "target %s", opts.Target)
	}
	if opts.Metric == domain.MetricProductSales && opts.ProductID == "" {
		return domain.Goal{}, domain.Violation(domain.ErrMissingProductID, "")
	}
	if opts.GoalType != "" && opts.GoalType != domain.GoalTypeEMI {
		return domain.Goal{}, errors.New("goal type must be empty or emi")
	}
	now := e.now().UTC()
	g := domain.Goal{
		ID:                opts.ID,
		Title:             strings.TrimSpace(opts.Title),
		Description:       opts.Description,
		GoalType:          opts.GoalType,
		MetricType:        opts.Metric,
		TargetAmount:      opts.Target,
		CurrentAmount:     decimal.Zero,
		Status:            domain.GoalActive,
		StartTrackingDate: e.today(),
		Deadline:          opts.Deadline,
		ProductID:         optionalString(opts.ProductID),
		IsRecurring:       opts.Recurring,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if opts.StartDate != nil {
		g.StartTrackingDate = domain.Day(*opts.StartDate)
	}
	if g.Deadline != nil {
		d := domain.Day(*g.Deadline)
		g.Deadline = &d
	}
	if opts.Recurring {
		rt := opts.RecurrenceType
		switch rt {
		case "":
			rt = domain.RecurMonthly
		case domain.RecurWeekly, domain.RecurMonthly, domain.RecurYearly:
		default:
			return domain.Goal{}, errors.New("recurrence must be weekly, monthly or yearly")
		}
		g.RecurrenceType = &rt
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Goal{}, storeErr("begin", err)
	}
	defer tx.Rollback()

	if err := e.Repo.InsertGoalTx(ctx, tx, g); err != nil {
		return domain.Goal{}, storeErr("insert goal", err)
	}
	if err := e.events().Append(ctx, tx, events.GoalCreated, "goal", g.ID, requireActor(opts.ActorID), events.EventPayload{
		"title":  g.Title,
		"metric": g.MetricType,
		"target": g.TargetAmount.String(),
	}); err != nil {
		return domain.Goal{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Goal{}, storeErr("commit", err)
	}
	ev, err := e.evaluator().Evaluate(ctx, g)
	if err != nil {
		return g, err
	}
	return ev.Goal, nil
}

func (e Engine) GetGoal(ctx context.Context, id string) (domain.Goal, error) {
	g, err := e.Repo.GetGoal(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return g, notFound("goal", id)
	}
	return g, storeErr("get goal", err)
}

func (e Engine) ListGoals(ctx context.Context, status domain.GoalStatus) ([]domain.Goal, error) {
	gs, err := e.Repo.ListGoals(ctx, status)
	return gs, storeErr("list goals", err)
}

type goalStore struct {
	e Engine
}

// UpdateGoalProgress persists an evaluation and its audit event in one transaction.
func (s goalStore) UpdateGoalProgress(ctx context.Context, g domain.Goal) error {
	tx, err := s.e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := s.e.Repo.UpdateGoalProgressTx(ctx, tx, g); err != nil {
		return err
	}
	evt := events.GoalProgress
	if g.Status == domain.GoalCompleted && g.CompletedAt != nil && g.CompletedAt.Equal(g.UpdatedAt) {
		evt = events.GoalCompleted
	}
	if err := s.e.events().Append(ctx, tx, evt, "goal", g.ID, "system", events.EventPayload{
		"current": g.CurrentAmount.String(),
		"target":  g.TargetAmount.String(),
		"status":  g.Status,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) evaluator() goals.Evaluator {
	return goals.Evaluator{
		Source:   e.Repo,
		Store:    goalStore{e: e},
		Now:      e.now,
		Location: e.Config.Location(),
	}
}

// RefreshGoal re-evaluates a single goal.
func (e Engine) RefreshGoal(ctx context.Context, id string) (goals.Evaluation, error) {
	g, err := e.GetGoal(ctx, id)
	if err != nil {
		return goals.Evaluation{}, err
	}
	return e.evaluate(ctx, g)
}

func (e Engine) evaluate(ctx context.Context, g domain.Goal) (goals.Evaluation, error) {
	ev, err := e.evaluator().Evaluate(ctx, g)
	outcome := "unchanged"
	switch {
	case err != nil:
		outcome = "error"
	case ev.Skipped:
		outcome = "skipped"
		e.log().Warn("goal skipped", "goal", g.ID, "reason", ev.Reason)
	case ev.Changed:
		outcome = "changed"
	}
	metrics.GoalEvaluations.WithLabelValues(string(g.MetricType), outcome).Inc()
	if ev.Completed {
		metrics.GoalsCompleted.Inc()
		e.log().Info("goal completed", "goal", g.ID, "title", g.Title, "current", ev.Goal.CurrentAmount.String())
	}
	return ev, err
}

// RefreshAll evaluates every active goal in order and stops at the first store failure.
func (e Engine) RefreshAll(ctx context.Context) ([]goals.Evaluation, error) {
	start := time.Now()
	defer func() { metrics.EvaluationDuration.Observe(time.Since(start).Seconds()) }()
	active, err := e.ListGoals(ctx, domain.GoalActive)
	if err != nil {
		return nil, err
	}
	res := make([]goals.Evaluation, 0, len(active))
	for _, g := range active {
		ev, err := e.evaluate(ctx, g)
		if err != nil {
			return res, err
		}
		res = append(res, ev)
	}
	return res, nil
}

// Waterfall refreshes all goals, then splits month-to-date net profit across
// the active ones, earliest deadline first.
func (e Engine) Waterfall(ctx context.Context) (goals.Plan, error) {
	if _, err := e.RefreshAll(ctx); err != nil {
		return goals.Plan{}, err
	}
	active, err := e.ListGoals(ctx, domain.GoalActive)
	if err != nil {
		return goals.Plan{}, err
	}
	today := e.today()
	pool, err := finance.Aggregator{Source: e.Repo}.NetProfit(ctx, finance.MonthToDate(today))
	if err != nil {
		return goals.Plan{}, err
	}
	plan := goals.Allocator{Currency: e.currency()}.Allocate(goals.SortByDeadline(active), pool, today)
	metrics.WaterfallPool.Set(plan.Pool.InexactFloat64())
	return plan, nil
}

// ProgressMode selects how SetProgress applies its amount.
type ProgressMode string

const (
	ProgressAdd ProgressMode = "add"
	ProgressSet ProgressMode = "set"
)

// SetProgress records progress on a manual or EMI goal.
func (e Engine) SetProgress(ctx context.Context, id string, amount decimal.Decimal, mode ProgressMode, actorID string) (domain.Goal, error) {
	g, err := e.GetGoal(ctx, id)
	if err != nil {
		return g, err
	}
	if !g.IsManual() {
		return g, domain.Violation(domain.ErrNotManual, "%s uses %s", g.ID, g.MetricType)
	}
	if g.Status == domain.GoalArchived {
		return g, domain.Violation(domain.ErrGoalArchived, "%s", g.ID)
	}
	next := amount
	if mode == ProgressAdd {
		next = g.CurrentAmount.Add(amount)
	}
	if next.IsNegative() {
		return g, domain.Violation(domain.ErrInvalidAmount, "progress %s", next)
	}
	now := e.now().UTC()
	evt := events.GoalProgress
	g.CurrentAmount = next
	g.UpdatedAt = now
	if next.GreaterThanOrEqual(g.TargetAmount) && g.Status != domain.GoalCompleted {
		g.Status = domain.GoalCompleted
		g.CompletedAt = &now
		evt = events.GoalCompleted
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return g, storeErr("begin", err)
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateGoalTx(ctx, tx, g); err != nil {
		return g, storeErr("update goal", err)
	}
	if err := e.events().Append(ctx, tx, evt, "goal", g.ID, requireActor(actorID), events.EventPayload{
		"mode":    mode,
		"amount":  amount.String(),
		"current": g.CurrentAmount.String(),
	}); err != nil {
		return g, err
	}
	if err := tx.Commit(); err != nil {
		return g, storeErr("commit", err)
	}
	if evt == events.GoalCompleted {
		metrics.GoalsCompleted.Inc()
	}
	return g, nil
}

// ArchiveGoal soft-deletes a goal.
func (e Engine) ArchiveGoal(ctx context.Context, id, actorID string) (domain.Goal, error) {
	g, err := e.GetGoal(ctx, id)
	if err != nil {
		return g, err
	}
	if g.Status == domain.GoalArchived {
		return g, nil
	}
	g.Status = domain.GoalArchived
	g.UpdatedAt = e.now().UTC()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return g, storeErr("begin", err)
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateGoalTx(ctx, tx, g); err != nil {
		return g, storeErr("update goal", err)
	}
	if err := e.events().Append(ctx, tx, events.GoalArchived, "goal", g.ID, requireActor(actorID), nil); err != nil {
		return g, err
	}
	return g, storeErr("commit", tx.Commit())
}

// RolloverRecurring opens the next period for every completed recurring goal
// that has not been renewed yet.
func (e Engine) RolloverRecurring(ctx context.Context, actorID string) ([]domain.Goal, error) {
	completed, err := e.ListGoals(ctx, domain.GoalCompleted)
	if err != nil {
		return nil, err
	}
	var created []domain.Goal
	for _, g := range completed {
		next, ok := goals.NextCycle(g, e.now())
		if !ok {
			continue
		}
		renewed, err := e.Repo.HasSuccessor(ctx, g.ID)
		if err != nil {
			return created, storeErr("find successor", err)
		}
		if renewed {
			continue
		}
		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return created, storeErr("begin", err)
		}
		if err := e.Repo.InsertGoalTx(ctx, tx, next); err != nil {
			tx.Rollback()
			return created, storeErr("insert goal", err)
		}
		if err := e.events().Append(ctx, tx, events.GoalRenewed, "goal", next.ID, requireActor(actorID), events.EventPayload{
			"previous": g.ID,
			"start":    next.StartTrackingDate.Format(domain.DateLayout),
		}); err != nil {
			tx.Rollback()
			return created, err
		}
		if err := tx.Commit(); err != nil {
			return created, storeErr("commit", err)
		}
		created = append(created, next)
	}
	return created, nil
}

// ErrUnrecognized is returned by ApplyIntent when the text matched no intent.
var ErrUnrecognized = errors.New("could not understand the request")

// ApplyIntent executes an extracted goal intent.
func (e Engine) ApplyIntent(ctx context.Context, in intent.Intent, actorID string) (domain.Goal, error) {
	switch v := in.(type) {
	case intent.CreateGoal:
		return e.CreateGoal(ctx, GoalCreateOptions{
			Title:    v.Title,
			Metric:   v.Metric,
			Target:   v.Target,
			Deadline: v.Deadline,
			ActorID:  actorID,
		})
	case intent.UpdateGoal:
		g, err := e.Repo.FindGoalByTitle(ctx, v.GoalTitle)
		if errors.Is(err, repo.ErrNotFound) {
			return g, notFound("goal", v.GoalTitle)
		}
		if err != nil {
			return g, storeErr("find goal", err)
		}
		mode := ProgressSet
		if v.Mode == intent.ModeAdd {
			mode = ProgressAdd
		}
		return e.SetProgress(ctx, g.ID, v.Amount, mode, actorID)
	case intent.Unrecognized:
		return domain.Goal{}, ErrUnrecognized
	}
	return domain.Goal{}, ErrUnrecognized
}
