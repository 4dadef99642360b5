package commands

import (
	"context"
	"errors"
	"fmt"
	"io"

	"callpilot/internal/app"
	"callpilot/internal/calls"
	"callpilot/internal/events"

	"github.com/spf13/cobra"
)

func newCallCommand(g *globals) *cobra.Command {
	var req calls.CallRequest
	var quiet bool

	cmd := &cobra.Command{
		Use:   "call",
		Short: "Place one outbound call and follow it to the end",
		Long: `Place one outbound AI call and print each status change until the call
finishes. With --quiet only the call id is printed, as soon as the call is
accepted; the command still waits silently until the call ends, since the
call is driven by this process.`,
		Example: `  # Ask the agent to change a plan on the caller's behalf
  callctl call --phone +15553334444 --name "Jane Doe" --caller-phone +15551112222 \
    --action "switch to the unlimited plan"

  # Print only the call id, then wait quietly for the outcome
  callctl call --phone ... --quiet --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.withApp(cmd, func(a *app.App) error {
				return runCall(cmd, g, a, req, quiet)
			})
		},
	}

	cmd.Flags().StringVar(&req.PhoneNumber, "phone", "", "number the agent dials")
	cmd.Flags().StringVar(&req.CallerName, "name", "", "name of the account holder")
	cmd.Flags().StringVar(&req.CallerPhone, "caller-phone", "", "phone number on the account")
	cmd.Flags().StringVar(&req.AccountAction, "action", "", "what the agent must get done")
	cmd.Flags().StringVar(&req.AdditionalInfo, "info", "", "extra context for the agent")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "print only the call id, then wait quietly for the call to end")

	return cmd
}

func runCall(cmd *cobra.Command, g *globals, a *app.App, req calls.CallRequest, quiet bool) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	// Subscribe first so the pending and initiating events are buffered.
	var sub *events.Subscription
	if !quiet {
		sub = a.Bus.Subscribe(events.DefaultBuffer)
		defer sub.Close()
	}

	id, err := a.Orch.Submit(ctx, req)
	if err != nil {
		var verr *calls.ValidationError
		if errors.As(err, &verr) {
			for _, fe := range verr.Fields {
				printf(cmd.ErrOrStderr(), "  %s: %s\n", fe.Field, fe.Message)
			}
		}
		return err
	}

	if quiet {
		err := g.emit(out, map[string]any{"call_id": id, "status": calls.StatusPending}, func(w io.Writer) error {
			printf(w, "call %s accepted\n", id)
			return nil
		})
		if err != nil {
			return err
		}
		if err := drain(cmd, a, id); err != nil {
			return err
		}
		final, err := a.Orch.Get(ctx, id)
		if err != nil {
			return err
		}
		if final.Status != calls.StatusCompleted {
			return fmt.Errorf("call %s ended %s", id, final.Status)
		}
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			printf(cmd.ErrOrStderr(), "stopped following call %s; it stays in its last recorded status\n", id)
			return ctx.Err()
		case ev := <-sub.Events():
			if ev.CallID != id {
				continue
			}
			if err := g.emitEvent(out, ev); err != nil {
				return err
			}
			if !ev.Terminal() {
				continue
			}
			final, err := a.Orch.Get(ctx, id)
			if err != nil {
				return err
			}
			if !g.jsonOutput {
				printCall(out, final)
			}
			if final.Status != calls.StatusCompleted {
				return fmt.Errorf("call %s ended %s", id, final.Status)
			}
			return nil
		}
	}
}

// drain blocks until the call's worker, which runs in this process, is done.
func drain(cmd *cobra.Command, a *app.App, id string) error {
	ctx := cmd.Context()
	if limit := a.Config.Orchestrator.StaleAfter; limit > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, limit)
		defer cancel()
	}
	if err := a.Orch.Drain(ctx); err != nil {
		printf(cmd.ErrOrStderr(), "stopped waiting for call %s; the cleanup sweep will fail it if it never finishes\n", id)
		return err
	}
	return nil
}

// emitEvent prints one event per line; with --json each line is one object.
func (g *globals) emitEvent(w io.Writer, ev events.Event) error {
	if g.jsonOutput {
		return writeJSONLine(w, ev)
	}
	line := fmt.Sprintf("%s  %-11s %s", ev.Timestamp.Format("15:04:05"), ev.Status, ev.Message)
	if ev.Error != "" {
		line += " (" + ev.Error + ")"
	}
	printf(w, "%s\n", line)
	return nil
}
