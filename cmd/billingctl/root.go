package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"billing-saga/internal/application"
	"billing-saga/internal/config"
	"billing-saga/internal/domain/model"
	"billing-saga/internal/infra/logging"
	"billing-saga/internal/usecase"
)

type rootOptions struct {
	configPath string
	dev        bool
	logLevel   string
}

// session is the billing graph for one command.
type session struct {
	billing *application.Billing
	out     io.Writer
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	var sess session

	root := &cobra.Command{
		Use:          "billingctl",
		Short:        "Run billing operations (subscribe, create price, change price, portal) against the provider",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfig(opts.configPath, opts.dev)
			if err != nil {
				return err
			}
			if opts.logLevel != "" {
				cfg.Log.Level = opts.logLevel
			}
			logger := logging.NewWithWriter(cfg.Log, cfg.Runtime.Dev, cmd.ErrOrStderr())
			b, err := application.Build(cmd.Context(), cfg, logger, false)
			if err != nil {
				return err
			}
			sess = session{billing: b, out: cmd.OutOrStdout()}
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if sess.billing != nil {
				sess.billing.Close()
			}
		},
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "config.yaml", "path to YAML config file")
	root.PersistentFlags().BoolVar(&opts.dev, "dev", false, "developer mode: in-memory provider when no key is set")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level (trace|debug|info|warn|error)")

	root.AddCommand(
		newSubscribeCmd(&sess),
		newPriceCmd(&sess),
		newChangePriceCmd(&sess),
		newPortalCmd(&sess),
		newRunCmd(&sess),
	)
	return root
}

func newSubscribeCmd(sess *session) *cobra.Command {
	var (
		in          usecase.SubscribeInput
		amountMajor int64
	)
	cmd := &cobra.Command{
		Use:   "subscribe",
		Short: "Create product, price, customer and subscription in one saga",
		RunE: func(cmd *cobra.Command, _ []string) error {
			amount, err := minorAmount(in.UnitAmount, amountMajor)
			if err != nil {
				return err
			}
			in.UnitAmount = amount
			res, err := sess.billing.Subscribe.Run(cmd.Context(), in)
			if err != nil {
				return err
			}
			return printJSON(sess.out, res)
		},
	}
	f := cmd.Flags()
	f.StringVar(&in.Email, "email", "", "customer email")
	f.StringVar(&in.Name, "name", "", "customer display name")
	f.StringVar(&in.PaymentMethod, "payment-method", "", "payment method reference (pm_...)")
	f.Int64Var(&in.UnitAmount, "amount", 0, "unit amount in minor units (cents)")
	f.Int64Var(&amountMajor, "amount-major", 0, "unit amount in whole currency units")
	f.StringVar(&in.IdempotencyKey, "idempotency-key", "", "reuse to make a retry safe")
	return cmd
}

func newPriceCmd(sess *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "price",
		Short: "Manage recurring prices",
	}
	cmd.AddCommand(newPriceCreateCmd(sess))
	return cmd
}

func newPriceCreateCmd(sess *session) *cobra.Command {
	var (
		in          usecase.CreatePriceInput
		amountMajor int64
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a recurring price for an existing product",
		RunE: func(cmd *cobra.Command, _ []string) error {
			amount, err := minorAmount(in.UnitAmount, amountMajor)
			if err != nil {
				return err
			}
			in.UnitAmount = amount
			price, err := sess.billing.Prices.Create(cmd.Context(), in)
			if err != nil {
				return err
			}
			return printJSON(sess.out, price)
		},
	}
	f := cmd.Flags()
	f.StringVar(&in.ProductID, "product", "", "product id")
	f.Int64Var(&in.UnitAmount, "amount", 0, "unit amount in minor units (cents)")
	f.Int64Var(&amountMajor, "amount-major", 0, "unit amount in whole currency units")
	f.StringVar(&in.IdempotencyKey, "idempotency-key", "", "reuse to make a retry safe")
	return cmd
}

func newChangePriceCmd(sess *session) *cobra.Command {
	var in usecase.ChangePriceInput
	cmd := &cobra.Command{
		Use:   "change-price",
		Short: "Move a subscription item to a new price, keeping the item",
		RunE: func(cmd *cobra.Command, _ []string) error {
			sub, err := sess.billing.Subscriptions.ChangePrice(cmd.Context(), in)
			if err != nil {
				return err
			}
			return printJSON(sess.out, sub)
		},
	}
	f := cmd.Flags()
	f.StringVar(&in.SubscriptionID, "subscription", "", "subscription id")
	f.StringVar(&in.NewPriceID, "price", "", "new price id")
	f.StringVar(&in.ItemID, "item", "", "item id (multi-item subscriptions)")
	f.StringVar(&in.CurrentPriceID, "current-price", "", "select the item by its current price")
	f.StringVar(&in.IdempotencyKey, "idempotency-key", "", "reuse to make a retry safe")
	return cmd
}

func newPortalCmd(sess *session) *cobra.Command {
	var customerID, returnURL string
	cmd := &cobra.Command{
		Use:   "portal",
		Short: "Issue a billing portal URL for a customer",
		RunE: func(cmd *cobra.Command, _ []string) error {
			url, err := sess.billing.Portal.CreateSession(cmd.Context(), customerID, returnURL)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(sess.out, url)
			return err
		},
	}
	cmd.Flags().StringVar(&customerID, "customer", "", "customer id")
	cmd.Flags().StringVar(&returnURL, "return-url", "", "where the portal sends the customer back (default billing.portal_return_url)")
	return cmd
}

func newRunCmd(sess *session) *cobra.Command {
	var compensate bool
	cmd := &cobra.Command{
		Use:   "run <id>",
		Short: "Show a saga run from the ledger, optionally retrying its compensation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if compensate {
				run, err := sess.billing.Subscribe.Compensate(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(sess.out, run)
			}
			run, err := sess.billing.Subscribe.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(sess.out, run)
		},
	}
	cmd.Flags().BoolVar(&compensate, "compensate", false, "retry undoing a failed run")
	return cmd
}

// minorAmount resolves --amount and --amount-major into minor units.
func minorAmount(minor, major int64) (int64, error) {
	if major == 0 {
		return minor, nil
	}
	if minor != 0 {
		return 0, fmt.Errorf("use either --amount or --amount-major")
	}
	return model.MinorUnits(major)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
