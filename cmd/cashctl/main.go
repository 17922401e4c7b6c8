/*
main.go - cashctl, the operator command line

PURPOSE:
  Runs register commands and queries directly against the ledger store,
  without the HTTP server. Useful for back-office corrections of the summary
  cache and for scripting.

EXAMPLES:
  cashctl --company acme open 1000 --notes "morning float"
  cashctl --company acme withdraw 250.50
  cashctl --company acme status
  cashctl --company acme history --from 2025-03-01 --to 2025-03-07
  cashctl --company acme verify

SEE ALSO:
  - store/store.go: Backend selection (same config as the server)
*/
package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/warp/cashbox/cash"
	"github.com/warp/cashbox/config"
	"github.com/warp/cashbox/store"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
	driver     string
	dbPath     string
	company    string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "cashctl",
		Short:         "Cash register operator tool",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "YAML config file")
	root.PersistentFlags().StringVar(&opts.driver, "driver", "", "store driver: memory|sqlite|postgres")
	root.PersistentFlags().StringVar(&opts.dbPath, "db", "", "SQLite database path")
	root.PersistentFlags().StringVar(&opts.company, "company", "", "company (tenant) id")

	root.AddCommand(newAmountCmd(opts, cash.KindOpen, "Open the register with a starting float"))
	root.AddCommand(newAmountCmd(opts, cash.KindSupply, "Add cash to the open session"))
	root.AddCommand(newAmountCmd(opts, cash.KindWithdraw, "Remove cash from the open session"))
	root.AddCommand(newCloseCmd(opts))
	root.AddCommand(newStatusCmd(opts))
	root.AddCommand(newHistoryCmd(opts))
	root.AddCommand(newEntriesCmd(opts))
	root.AddCommand(newRebuildCmd(opts))
	root.AddCommand(newVerifyCmd(opts))
	return root
}

// withRegister opens the configured store, runs fn and closes the store.
func withRegister(opts *rootOptions, fn func(ctx context.Context, reg *cash.Register, tenant cash.TenantID) error) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if opts.driver != "" {
		cfg.Driver = opts.driver
	}
	if opts.dbPath != "" {
		cfg.DBPath = opts.dbPath
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx := context.Background()
	backend, err := store.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer backend.Close()

	reg := cash.NewRegister(backend, cash.WithOpTimeout(cfg.OpTimeout))
	return fn(ctx, reg, cash.TenantID(opts.company))
}

func newAmountCmd(opts *rootOptions, kind cash.EntryKind, short string) *cobra.Command {
	var notes string
	cmd := &cobra.Command{
		Use:   string(kind) + " <amount>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := cash.ParseAmount(args[0])
			if err != nil {
				return err
			}
			return withRegister(opts, func(ctx context.Context, reg *cash.Register, tenant cash.TenantID) error {
				s, err := reg.Execute(ctx, tenant, cash.Command{Kind: kind, Amount: amount, Notes: notes})
				if err != nil {
					return err
				}
				printSession(cmd, s)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "free-text note")
	return cmd
}

func newCloseCmd(opts *rootOptions) *cobra.Command {
	var notes string
	cmd := &cobra.Command{
		Use:   "close",
		Short: "Close the open session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRegister(opts, func(ctx context.Context, reg *cash.Register, tenant cash.TenantID) error {
				s, err := reg.CloseSession(ctx, tenant, notes)
				if err != nil {
					return err
				}
				printSession(cmd, s)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "free-text note")
	return cmd
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRegister(opts, func(ctx context.Context, reg *cash.Register, tenant cash.TenantID) error {
				s, err := reg.Status(ctx, tenant)
				if err != nil {
					return err
				}
				printSession(cmd, s)
				return nil
			})
		},
	}
}

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var from, to string
	var days int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Daily summaries for a date range",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rng, err := historyRange(from, to, days)
			if err != nil {
				return err
			}
			return withRegister(opts, func(ctx context.Context, reg *cash.Register, tenant cash.TenantID) error {
				summaries, err := reg.History(ctx, tenant, rng)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				_, _ = fmt.Fprintln(w, "DATE\tSESSIONS\tOPENING\tSUPPLIED\tWITHDRAWN\tCLOSING")
				for _, d := range summaries {
					_, _ = fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\n",
						d.Date.Format("2006-01-02"), d.SessionCount,
						d.TotalOpening, d.TotalSupplied, d.TotalWithdrawn, d.ClosingBalance)
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "first day, YYYY-MM-DD")
	cmd.Flags().StringVar(&to, "to", "", "last day, YYYY-MM-DD (default today)")
	cmd.Flags().IntVar(&days, "days", 7, "window length when --from is not set")
	return cmd
}

func historyRange(from, to string, days int) (cash.DateRange, error) {
	end := cash.StartOfDay(cash.SystemClock{}.Now())
	if to != "" {
		d, err := cash.ParseDay(to)
		if err != nil {
			return cash.DateRange{}, fmt.Errorf("%w: bad --to %q", cash.ErrInvalidRange, to)
		}
		end = d
	}
	rng := cash.LastDays(end, days)
	if from != "" {
		d, err := cash.ParseDay(from)
		if err != nil {
			return cash.DateRange{}, fmt.Errorf("%w: bad --from %q", cash.ErrInvalidRange, from)
		}
		rng.From = d
	}
	return rng, nil
}

func newEntriesCmd(opts *rootOptions) *cobra.Command {
	var session string
	var at int
	cmd := &cobra.Command{
		Use:   "entries",
		Short: "List a session's movements (default: current session)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRegister(opts, func(ctx context.Context, reg *cash.Register, tenant cash.TenantID) error {
				entries, err := reg.Entries(ctx, tenant, cash.SessionID(session))
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				_, _ = fmt.Fprintln(w, "#\tTIME\tKIND\tAMOUNT\tBALANCE\tNOTES")
				for i, e := range entries {
					balance := cash.ProjectThrough(entries, i+1).Balance
					_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
						i+1, e.Timestamp.Format("2006-01-02 15:04:05"), e.Kind, e.Delta(), balance, e.Notes)
				}
				if err := w.Flush(); err != nil {
					return err
				}
				if at > 0 {
					s := cash.ProjectThrough(entries, at)
					_, _ = fmt.Fprintf(cmd.OutOrStdout(), "after %d entries: %s %s\n", s.EntryCount, s.Status, s.Balance)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&session, "session", "", "session id")
	cmd.Flags().IntVar(&at, "at", 0, "also print the session state after this many entries")
	return cmd
}

func newRebuildCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild",
		Short: "Regenerate the session summary cache from the ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRegister(opts, func(ctx context.Context, reg *cash.Register, tenant cash.TenantID) error {
				n, err := reg.Rebuild(ctx, tenant)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "rebuilt %d sessions\n", n)
				return nil
			})
		},
	}
}

func newVerifyCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Compare the session summary cache against the ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRegister(opts, func(ctx context.Context, reg *cash.Register, tenant cash.TenantID) error {
				drifts, err := reg.Verify(ctx, tenant)
				if err != nil {
					return err
				}
				if len(drifts) == 0 {
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), "clean")
					return nil
				}
				for _, d := range drifts {
					_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", d.SessionID, d.Reason)
				}
				return fmt.Errorf("%d sessions drifted, run rebuild", len(drifts))
			})
		},
	}
}

func printSession(cmd *cobra.Command, s cash.Session) {
	out := cmd.OutOrStdout()
	if s.ID == "" {
		_, _ = fmt.Fprintf(out, "%s: no sessions yet\n", s.TenantID)
		return
	}
	_, _ = fmt.Fprintf(out, "session %s (%s)\n", s.ID, s.Status)
	_, _ = fmt.Fprintf(out, "  balance    %s\n", s.Balance)
	_, _ = fmt.Fprintf(out, "  opening    %s\n", s.OpeningAmount)
	_, _ = fmt.Fprintf(out, "  supplied   %s\n", s.TotalSupplied)
	_, _ = fmt.Fprintf(out, "  withdrawn  %s\n", s.TotalWithdrawn)
	_, _ = fmt.Fprintf(out, "  entries    %d\n", s.EntryCount)
}
