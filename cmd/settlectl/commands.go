package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newRootCmd(build factory) *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:           "settlectl",
		Short:         "Operate the course order and settlement ledger",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (yaml, json or toml); environment variables override it")

	// withServices builds services, runs fn and closes them.
	withServices := func(cmd *cobra.Command, fn func(ctx context.Context, svc *services) error) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		svc, err := build(ctx, configFile)
		if err != nil {
			return fmt.Errorf("wire services: %w", err)
		}
		if svc.Close != nil {
			defer svc.Close() //nolint:errcheck
		}
		return fn(ctx, svc)
	}

	root.AddCommand(ordersCmd(withServices))
	root.AddCommand(balanceCmd(withServices))
	root.AddCommand(grantsCmd(withServices))
	root.AddCommand(reconcileCmd(withServices))
	root.AddCommand(catalogCmd(withServices))
	return root
}

type runner func(cmd *cobra.Command, fn func(ctx context.Context, svc *services) error) error

func ordersCmd(run runner) *cobra.Command {
	orders := &cobra.Command{
		Use:   "orders",
		Short: "Inspect orders",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List all orders, or one instructor's sales",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			instructor, _ := cmd.Flags().GetString("instructor")
			return run(cmd, func(ctx context.Context, svc *services) error {
				if instructor != "" {
					sales, err := svc.Orders.ListOrdersForInstructor(ctx, instructor)
					if err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), sales)
				}
				list, err := svc.Orders.ListAllOrders(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), list)
			})
		},
	}
	list.Flags().StringP("instructor", "i", "", "only orders containing this instructor's courses")

	orders.AddCommand(list)
	return orders
}

func balanceCmd(run runner) *cobra.Command {
	return &cobra.Command{
		Use:   "balance INSTRUCTOR_ID",
		Short: "Show an instructor's accumulated revenue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, svc *services) error {
				bal, err := svc.Balances.Balance(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]any{"instructor_id": args[0], "revenue": bal})
			})
		},
	}
}

func grantsCmd(run runner) *cobra.Command {
	return &cobra.Command{
		Use:   "grants BUYER_ID",
		Short: "Show the courses a buyer owns",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, svc *services) error {
				owned, err := svc.Grants.Owned(ctx, args[0])
				if err != nil {
					return err
				}
				if owned == nil {
					owned = []string{}
				}
				return printJSON(cmd.OutOrStdout(), map[string]any{"buyer_id": args[0], "course_ids": owned})
			})
		},
	}
}

func reconcileCmd(run runner) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile [ORDER_ID]",
		Short: "Finish crediting and granting for paid orders",
		Long: `Reconcile one order by ID, or every paid order that is not yet fulfilled
with --all. --watch keeps sweeping on the given interval until interrupted.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			all, _ := cmd.Flags().GetBool("all")
			watch, _ := cmd.Flags().GetDuration("watch")

			switch {
			case len(args) == 1 && (all || watch > 0):
				return errors.New("ORDER_ID cannot be combined with --all or --watch")
			case len(args) == 0 && !all && watch <= 0:
				return errors.New("give an ORDER_ID, --all or --watch")
			}

			return run(cmd, func(ctx context.Context, svc *services) error {
				out := cmd.OutOrStdout()
				if len(args) == 1 {
					if err := svc.Reconciler.ReconcileOrder(ctx, args[0]); err != nil {
						return err
					}
					fmt.Fprintf(out, "order %s reconciled\n", args[0])
					return nil
				}
				if watch > 0 {
					ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
					defer stop()
					fmt.Fprintf(out, "sweeping every %s\n", watch)
					svc.Reconciler.Run(ctx, watch)
					return nil
				}
				n, err := svc.Reconciler.Sweep(ctx)
				fmt.Fprintf(out, "%d orders reconciled\n", n)
				return err
			})
		},
	}
	cmd.Flags().Bool("all", false, "reconcile every paid, unfulfilled order once")
	cmd.Flags().Duration("watch", 0, "sweep repeatedly on this interval")
	return cmd
}

func catalogCmd(run runner) *cobra.Command {
	catalog := &cobra.Command{
		Use:   "catalog",
		Short: "Manage the course catalog cache",
	}
	catalog.AddCommand(&cobra.Command{
		Use:   "invalidate COURSE_ID...",
		Short: "Drop cached courses after an unapprove or price change",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, svc *services) error {
				if svc.Catalog == nil {
					return errors.New("catalog cache is not configured (set REDIS_ADDR)")
				}
				if err := svc.Catalog.Invalidate(ctx, args...); err != nil {
					return fmt.Errorf("invalidate: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d courses invalidated\n", len(args))
				return nil
			})
		},
	})
	return catalog
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
