package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"khata/internal/domain"
	"khata/internal/engine"
	"khata/internal/goals"
	"khata/internal/intent"
)

func goalCmd() *cobra.Command {
	g := &cobra.Command{
		Use:   "goal",
		Short: "Manage goals",
		Long: `Goals track one metric over a date range.
Metrics: net_profit, revenue, gross_profit, sales_count, customer_count, avg_margin, avg_revenue,
avg_profit, daily_revenue, daily_margin, margin, product_sales, manual_check.
manual_check and EMI goals are advanced with 'kh goal progress'; the rest follow sales and expenses.`,
	}
	g.AddCommand(goalCreateCmd())
	g.AddCommand(goalListCmd())
	g.AddCommand(goalShowCmd())
	g.AddCommand(goalRefreshCmd())
	g.AddCommand(goalProgressCmd())
	g.AddCommand(goalArchiveCmd())
	g.AddCommand(goalWaterfallCmd())
	g.AddCommand(goalRolloverCmd())
	g.AddCommand(goalSayCmd())
	return g
}

func goalCreateCmd() *cobra.Command {
	var id, title, desc, metric, target, start, deadline, product, goalType, recurrence string
	var recurring bool
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a goal",
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parseAmount(target)
			if err != nil {
				return err
			}
			startAt, err := parseDateFlag("start", start)
			if err != nil {
				return err
			}
			deadlineAt, err := parseDateFlag("deadline", deadline)
			if err != nil {
				return err
			}
			opts := engine.GoalCreateOptions{
				ID:          id,
				Title:       title,
				Description: desc,
				GoalType:    goalType,
				Metric:      domain.MetricType(metric),
				Target:      amount,
				StartDate:   startAt,
				Deadline:    deadlineAt,
				ProductID:   product,
				Recurring:   recurring,
				ActorID:     actorID(),
			}
			if recurrence != "" {
				opts.RecurrenceType = domain.RecurrenceType(recurrence)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				g, err := e.CreateGoal(ctx, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(g)
				}
				fmt.Printf("Created goal %s (%s)\n", g.ID, g.Title)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "goal id (generated when empty)")
	cmd.Flags().StringVar(&title, "title", "", "goal title")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	cmd.Flags().StringVar(&metric, "metric", string(domain.MetricNetProfit), "metric type")
	cmd.Flags().StringVar(&target, "target", "", "target amount")
	cmd.Flags().StringVar(&start, "start", "", "start tracking date (YYYY-MM-DD, default today)")
	cmd.Flags().StringVar(&deadline, "deadline", "", "deadline (YYYY-MM-DD)")
	cmd.Flags().StringVar(&product, "product", "", "product id for product_sales goals")
	cmd.Flags().StringVar(&goalType, "type", "", "goal type (emi)")
	cmd.Flags().BoolVar(&recurring, "recurring", false, "start a new cycle when the period ends")
	cmd.Flags().StringVar(&recurrence, "recurrence", "", "weekly, monthly or yearly")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("target")
	return cmd
}

func goalListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List goals",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				list, err := e.ListGoals(ctx, domain.GoalStatus(status))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(list)
				}
				cur := e.Config.Business.CurrencySymbol
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Title", "Metric", "Progress", "Target", "Deadline", "Status"})
				for _, g := range list {
					tw.AppendRow(table.Row{g.ID, g.Title, g.MetricType, money(cur, g.CurrentAmount), money(cur, g.TargetAmount), dateOrDash(g.Deadline), g.Status})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status (active, completed, archived)")
	return cmd
}

func goalShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <goal-id>",
		Short: "Show a goal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				g, err := e.GetGoal(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(g)
				}
				cur := e.Config.Business.CurrencySymbol
				tw := newTable()
				tw.SetTitle(g.Title)
				tw.AppendRows([]table.Row{
					{"ID", g.ID},
					{"Metric", g.MetricType},
					{"Progress", fmt.Sprintf("%s / %s", money(cur, g.CurrentAmount), money(cur, g.TargetAmount))},
					{"Tracking from", g.StartTrackingDate.Format(domain.DateLayout)},
					{"Deadline", dateOrDash(g.Deadline)},
					{"Status", g.Status},
				})
				if g.IsRecurring && g.RecurrenceType != nil {
					tw.AppendRow(table.Row{"Repeats", *g.RecurrenceType})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func goalRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh [goal-id]",
		Short: "Recompute progress for one goal or all active goals",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var evs []goals.Evaluation
				if len(args) == 1 {
					ev, err := e.RefreshGoal(ctx, args[0])
					if err != nil {
						return err
					}
					evs = append(evs, ev)
				} else {
					all, err := e.RefreshAll(ctx)
					if err != nil {
						return err
					}
					evs = all
				}
				if viper.GetBool("json") {
					return printJSON(evs)
				}
				cur := e.Config.Business.CurrencySymbol
				tw := newTable()
				tw.AppendHeader(table.Row{"Goal", "Before", "Now", "Result"})
				for _, ev := range evs {
					result := "unchanged"
					switch {
					case ev.Skipped:
						result = "skipped: " + ev.Reason
					case ev.Completed:
						result = "completed"
					case ev.Changed:
						result = "updated"
					}
					tw.AppendRow(table.Row{ev.Goal.Title, money(cur, ev.Previous), money(cur, ev.Goal.CurrentAmount), result})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func goalProgressCmd() *cobra.Command {
	var set bool
	cmd := &cobra.Command{
		Use:   "progress <goal-id> <amount>",
		Short: "Add to (or --set) the progress of a manual goal",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parseAmount(args[1])
			if err != nil {
				return err
			}
			mode := engine.ProgressAdd
			if set {
				mode = engine.ProgressSet
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				g, err := e.SetProgress(ctx, args[0], amount, mode, actorID())
				if err != nil {
					return err
				}
				return printGoalResult(e, g)
			})
		},
	}
	cmd.Flags().BoolVar(&set, "set", false, "replace progress instead of adding")
	return cmd
}

func goalArchiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "archive <goal-id>",
		Short: "Archive a goal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				g, err := e.ArchiveGoal(ctx, args[0], actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(g)
				}
				fmt.Printf("Archived %s\n", g.Title)
				return nil
			})
		},
	}
}

func goalWaterfallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "waterfall",
		Short: "Split this month's net profit across active goals",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				plan, err := e.Waterfall(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(plan)
				}
				cur := e.Config.Business.CurrencySymbol
				tw := newTable()
				tw.SetTitle(fmt.Sprintf("Pool %s", money(cur, plan.Pool)))
				tw.AppendHeader(table.Row{"Goal", "Deadline", "Allocated", "Still needed", "Per day", "Note"})
				for _, a := range plan.Allocations {
					tw.AppendRow(table.Row{a.Title, dateOrDash(a.Deadline), money(cur, a.AllocatedAmount), money(cur, a.RemainingNeeded), money(cur, a.DailyRunRate), a.Message})
				}
				tw.AppendFooter(table.Row{"", "", "", "", "Unallocated", money(cur, plan.Unallocated)})
				tw.Render()
				return nil
			})
		},
	}
}

func goalRolloverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rollover",
		Short: "Start the next cycle of recurring goals whose period ended",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				created, err := e.RolloverRecurring(ctx, actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(created)
				}
				if len(created) == 0 {
					fmt.Println("Nothing to roll over.")
					return nil
				}
				for _, g := range created {
					fmt.Printf("Started %s (%s) from %s\n", g.Title, g.ID, g.StartTrackingDate.Format(domain.DateLayout))
				}
				return nil
			})
		},
	}
}

func goalSayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "say <text>",
		Short: `Apply a plain-language instruction, e.g. "add 500 to scooter"`,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := intent.PatternExtractor{}.Extract(strings.Join(args, " "))
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				g, err := e.ApplyIntent(ctx, in, actorID())
				if err != nil {
					return err
				}
				return printGoalResult(e, g)
			})
		},
	}
}

func printGoalResult(e engine.Engine, g domain.Goal) error {
	if viper.GetBool("json") {
		return printJSON(g)
	}
	cur := e.Config.Business.CurrencySymbol
	fmt.Printf("%s: %s / %s (%s)\n", g.Title, money(cur, g.CurrentAmount), money(cur, g.TargetAmount), g.Status)
	return nil
}
