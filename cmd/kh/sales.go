package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"khata/internal/engine"
)

func saleCmd() *cobra.Command {
	s := &cobra.Command{
		Use:   "sale",
		Short: "Record and remove sales",
	}
	s.AddCommand(saleAddCmd())
	s.AddCommand(&cobra.Command{
		Use:   "delete <sale-id>",
		Short: "Delete a sale (kept in the database, ignored by every total)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.DeleteSale(ctx, args[0], actorID()); err != nil {
					return err
				}
				fmt.Printf("Deleted sale %s\n", args[0])
				return nil
			})
		},
	})
	return s
}

func saleAddCmd() *cobra.Command {
	var sell, buy, qty, date, customer, product string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Record a sale",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.SaleOptions{CustomerID: customer, ProductID: product, ActorID: actorID()}
			var err error
			if opts.SellPrice, err = parseAmount(sell); err != nil {
				return err
			}
			if opts.BuyPrice, err = parseAmount(buy); err != nil {
				return err
			}
			if opts.Quantity, err = parseAmount(qty); err != nil {
				return err
			}
			if opts.Date, err = parseDateFlag("date", date); err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				sale, err := e.RecordSale(ctx, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(sale)
				}
				fmt.Printf("Recorded sale %s: %s\n", sale.ID, money(e.Config.Business.CurrencySymbol, sale.Revenue()))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&sell, "sell", "", "selling price per unit")
	cmd.Flags().StringVar(&buy, "buy", "0", "buying price per unit")
	cmd.Flags().StringVar(&qty, "qty", "1", "quantity")
	cmd.Flags().StringVar(&date, "date", "", "sale date (YYYY-MM-DD, default today)")
	cmd.Flags().StringVar(&customer, "customer", "", "customer id")
	cmd.Flags().StringVar(&product, "product", "", "product id")
	_ = cmd.MarkFlagRequired("sell")
	return cmd
}

func expenseCmd() *cobra.Command {
	x := &cobra.Command{
		Use:   "expense",
		Short: "Record and remove expenses",
	}
	x.AddCommand(expenseAddCmd())
	x.AddCommand(&cobra.Command{
		Use:   "delete <expense-id>",
		Short: "Delete an expense",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.DeleteExpense(ctx, args[0], actorID()); err != nil {
					return err
				}
				fmt.Printf("Deleted expense %s\n", args[0])
				return nil
			})
		},
	})
	return x
}

func expenseAddCmd() *cobra.Command {
	var amount, date, category, desc string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Record an expense",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.ExpenseOptions{Category: category, Description: desc, ActorID: actorID()}
			var err error
			if opts.Amount, err = parseAmount(amount); err != nil {
				return err
			}
			if opts.Date, err = parseDateFlag("date", date); err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				x, err := e.RecordExpense(ctx, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(x)
				}
				fmt.Printf("Recorded expense %s: %s\n", x.ID, money(e.Config.Business.CurrencySymbol, x.Amount))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&amount, "amount", "", "expense amount")
	cmd.Flags().StringVar(&date, "date", "", "expense date (YYYY-MM-DD, default today)")
	cmd.Flags().StringVar(&category, "category", "", "category")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}
