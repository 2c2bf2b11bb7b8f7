package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"khata/internal/domain"
	"khata/internal/engine"
	"khata/internal/ledger"
)

func ledgerCmd() *cobra.Command {
	l := &cobra.Command{
		Use:   "ledger",
		Short: "Customer and supplier credit ledgers",
		Long: `Every party (customer or supplier) has a running balance kept as dated note lines:
  [15 Mar 2024 11:30] Received: ₹400. Balance: ₹600
Balances are recomputed from all entries on every change. Only the latest entry can be edited;
any entry in the visible window can be deleted by its '#'.`,
	}
	l.AddCommand(ledgerEntryCmd("due", "Add money the party owes", func(ctx context.Context, e engine.Engine, opts engine.LedgerEntryOptions, _ decimal.Decimal) (engine.LedgerView, error) {
		return e.RecordDue(ctx, opts)
	}))
	l.AddCommand(ledgerEntryCmd("pay", "Record a payment from the party", func(ctx context.Context, e engine.Engine, opts engine.LedgerEntryOptions, _ decimal.Decimal) (engine.LedgerView, error) {
		return e.RecordPayment(ctx, opts)
	}))
	l.AddCommand(ledgerEntryCmd("credit", "Book the unpaid part of a sale (amount is the sale total)", func(ctx context.Context, e engine.Engine, opts engine.LedgerEntryOptions, paid decimal.Decimal) (engine.LedgerView, error) {
		return e.RecordCreditSale(ctx, opts, opts.Amount, paid)
	}))
	l.AddCommand(ledgerEntryCmd("extend", "Open a separate record for the party, e.g. with its own due date", func(ctx context.Context, e engine.Engine, opts engine.LedgerEntryOptions, _ decimal.Decimal) (engine.LedgerView, error) {
		return e.OpenRecord(ctx, opts)
	}))
	l.AddCommand(ledgerShowCmd())
	l.AddCommand(ledgerEditCmd())
	l.AddCommand(ledgerDeleteCmd())
	l.AddCommand(ledgerClearCmd())
	l.AddCommand(ledgerPartiesCmd())
	return l
}

type ledgerAction func(context.Context, engine.Engine, engine.LedgerEntryOptions, decimal.Decimal) (engine.LedgerView, error)

func ledgerEntryCmd(use, short string, action ledgerAction) *cobra.Command {
	var kind, due, paid string
	cmd := &cobra.Command{
		Use:   use + " <party-id> <amount>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parseAmount(args[1])
			if err != nil {
				return err
			}
			paidAmount := decimal.Zero
			if paid != "" {
				if paidAmount, err = parseAmount(paid); err != nil {
					return err
				}
			}
			dueAt, err := parseDateFlag("due", due)
			if err != nil {
				return err
			}
			opts := engine.LedgerEntryOptions{
				PartyID:   args[0],
				PartyKind: domain.PartyKind(kind),
				Amount:    amount,
				DueDate:   dueAt,
				ActorID:   actorID(),
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var view engine.LedgerView
				err := retryConflict(func() error {
					var err error
					view, err = action(ctx, e, opts, paidAmount)
					return err
				})
				if err != nil {
					return err
				}
				return printLedger(e, view)
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", string(domain.PartyCustomer), "party kind (customer or supplier)")
	cmd.Flags().StringVar(&due, "due", "", "due date for a new record (YYYY-MM-DD)")
	if use == "credit" {
		cmd.Flags().StringVar(&paid, "paid", "", "amount paid upfront")
	}
	return cmd
}

func ledgerShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <party-id>",
		Short: "Show a party's recent entries and balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				view, err := e.History(ctx, args[0])
				if err != nil {
					return err
				}
				return printLedger(e, view)
			})
		},
	}
}

func ledgerEditCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "edit <party-id> <amount>",
		Short: "Change the amount of the latest entry",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parseAmount(args[1])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var view engine.LedgerView
				err := retryConflict(func() error {
					var err error
					view, err = e.EditLatestEntry(ctx, args[0], amount, actorID())
					return err
				})
				if err != nil {
					return err
				}
				return printLedger(e, view)
			})
		},
	}
}

func ledgerDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <party-id> <#>...",
		Short: "Delete entries by their position in 'kh ledger show'",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			idxs := make([]int, 0, len(args)-1)
			for _, a := range args[1:] {
				n, err := strconv.Atoi(a)
				if err != nil {
					return fmt.Errorf("invalid entry number %q", a)
				}
				idxs = append(idxs, n)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var view engine.LedgerView
				err := retryConflict(func() error {
					var err error
					view, err = e.DeleteEntries(ctx, args[0], idxs, actorID())
					return err
				})
				if err != nil {
					return err
				}
				return printLedger(e, view)
			})
		},
	}
}

func ledgerClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear <record-id>",
		Short: "Write off the unexplained balance of a record with no entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				view, err := e.ClearBalance(ctx, args[0], actorID())
				if err != nil {
					return err
				}
				return printLedger(e, view)
			})
		},
	}
}

func ledgerPartiesCmd() *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "parties",
		Short: "List parties with their balances",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				parties, err := e.ListParties(ctx, domain.PartyKind(kind))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(parties)
				}
				cur := e.Config.Business.CurrencySymbol
				tw := newTable()
				tw.AppendHeader(table.Row{"Party", "Kind", "Records", "Balance", "Status"})
				for _, p := range parties {
					tw.AppendRow(table.Row{p.ID, p.Kind, p.Records, money(cur, p.Balance), p.Status})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "filter by party kind")
	return cmd
}

func printLedger(e engine.Engine, view engine.LedgerView) error {
	if viper.GetBool("json") {
		return printJSON(view)
	}
	cur := e.Config.Business.CurrencySymbol
	tw := newTable()
	tw.SetTitle(fmt.Sprintf("%s (%s)", view.PartyID, view.PartyKind))
	tw.AppendHeader(table.Row{"#", "When", "Entry", "Amount", "Balance"})
	for i, it := range view.Entries {
		when := ledger.FormatTimestamp(it.Entry.At, it.Entry.HasTime)
		if it.Entry.Legacy {
			when += " (old)"
		}
		tw.AppendRow(table.Row{i, when, it.Entry.Kind.Label(), money(cur, it.Entry.Amount), money(cur, it.Entry.Balance)})
	}
	tw.AppendFooter(table.Row{"", "", "", view.Status, money(cur, view.Balance)})
	tw.Render()
	if view.Offset > 0 {
		fmt.Printf("%d older entries not shown.\n", view.Offset)
	}
	for _, a := range view.Anomalies {
		fmt.Printf("Record %s holds %s with no entries; run 'kh ledger clear %s' to write it off.\n", a.RecordID, money(cur, a.Amount), a.RecordID)
	}
	return nil
}
