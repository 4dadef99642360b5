package commands

import (
	"context"
	"fmt"
	"io"
	"time"

	"callpilot/internal/app"
	"callpilot/internal/calls"

	"github.com/spf13/cobra"
)

func newListCommand(g *globals) *cobra.Command {
	var (
		status string
		f      calls.ListFilter
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List calls, newest first",
		Example: `  callctl list
  callctl list --status failed --limit 20
  callctl list --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if status != "" {
				st, ok := calls.ParseStatus(status)
				if !ok {
					return fmt.Errorf("unknown status %q", status)
				}
				f.Status = st
			}
			if f.Limit < 0 || f.Offset < 0 {
				return fmt.Errorf("limit and offset must be non-negative")
			}
			return g.withApp(cmd, func(a *app.App) error {
				rows, err := a.Orch.List(cmd.Context(), f)
				if err != nil {
					return err
				}
				return g.emit(cmd.OutOrStdout(), rows, func(w io.Writer) error {
					return printCallTable(w, rows)
				})
			})
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "only calls in this status")
	cmd.Flags().IntVar(&f.Limit, "limit", calls.DefaultListLimit, "maximum rows")
	cmd.Flags().IntVar(&f.Offset, "offset", 0, "rows to skip")

	return cmd
}

func newStatusCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:     "status <call-id>",
		Short:   "Show one call",
		Example: `  callctl status 5f1c2c0e-8d7e-4a53-9f1e-2b7d0b3c4a11`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withApp(cmd, func(a *app.App) error {
				c, err := a.Orch.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return g.emit(cmd.OutOrStdout(), c, func(w io.Writer) error {
					printCall(w, c)
					return nil
				})
			})
		},
	}
}

func newTerminateCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "terminate <call-id>",
		Short: "Mark an active call as terminated",
		Long: `Mark a live call (dialing, queued or in progress) as terminated. The provider
is not asked to hang up; the record stops changing and its worker winds down.`,
		Example: `  callctl terminate 5f1c2c0e-8d7e-4a53-9f1e-2b7d0b3c4a11`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withApp(cmd, func(a *app.App) error {
				c, err := a.Orch.Terminate(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return g.emit(cmd.OutOrStdout(), c, func(w io.Writer) error {
					printf(w, "call %s terminated\n", c.ID)
					return nil
				})
			})
		},
	}
}

func newCleanupCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Fail calls stuck in an active status",
		Long: `Fail every call that has sat in an active status longer than STALE_CALL_AFTER.
Run it after a crash; the api server does the same on a timer.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.withApp(cmd, func(a *app.App) error {
				n, err := a.Orch.CleanupStuck(cmd.Context())
				if err != nil {
					return fmt.Errorf("cleaned %d before error: %w", n, err)
				}
				return g.emit(cmd.OutOrStdout(), map[string]int{"cleaned": n}, func(w io.Writer) error {
					printf(w, "cleaned %d stuck call(s)\n", n)
					return nil
				})
			})
		},
	}
}

func newHealthCommand(g *globals) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check that the voice provider accepts our credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.withApp(cmd, func(a *app.App) error {
				ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
				defer cancel()
				name := a.Provider.Name()
				if err := a.Provider.HealthCheck(ctx); err != nil {
					return fmt.Errorf("%s: %w", name, err)
				}
				return g.emit(cmd.OutOrStdout(), map[string]string{"provider": name, "status": "ok"}, func(w io.Writer) error {
					printf(w, "%s: ok\n", name)
					return nil
				})
			})
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "give up after this long")
	return cmd
}
