// Package commands implements the callctl operator CLI.
package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"callpilot/internal/app"
	"callpilot/internal/config"
	"callpilot/pkg/logger"

	"github.com/spf13/cobra"
)

// AppFactory builds the pipeline a command runs against. The returned func
// releases it.
type AppFactory func(ctx context.Context, verbose bool) (*app.App, func(), error)

type globals struct {
	jsonOutput bool
	verbose    bool
	newApp     AppFactory
}

// Execute runs the root command.
func Execute(ctx context.Context, version string) error {
	return NewRootCommand(version, nil).ExecuteContext(ctx)
}

// NewRootCommand builds callctl. A nil factory loads config from the environment.
func NewRootCommand(version string, factory AppFactory) *cobra.Command {
	g := &globals{newApp: factory}
	if g.newApp == nil {
		g.newApp = envApp
	}

	root := &cobra.Command{
		Use:   "callctl",
		Short: "Operate the outbound AI call pipeline",
		Long: `callctl places outbound AI voice calls and inspects the shared call store.

It reads the same environment as the api server (STORE_DRIVER, SYNTHFLOW_*,
POLL_INTERVAL, ...), so records written here are visible to the dashboard.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().BoolVar(&g.jsonOutput, "json", false, "output in JSON format")
	root.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "log pipeline activity to stderr")

	root.AddCommand(newCallCommand(g))
	root.AddCommand(newListCommand(g))
	root.AddCommand(newStatusCommand(g))
	root.AddCommand(newTerminateCommand(g))
	root.AddCommand(newCleanupCommand(g))
	root.AddCommand(newSummaryCommand(g))
	root.AddCommand(newHealthCommand(g))

	return root
}

func envApp(ctx context.Context, verbose bool) (*app.App, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	level := slog.LevelWarn
	if verbose {
		level = cfg.Level()
	}
	a, err := app.New(ctx, cfg, logger.NewTo(os.Stderr, level))
	if err != nil {
		return nil, nil, err
	}
	return a, closeApp(a), nil
}

// closeApp cancels whatever is still running and releases the store.
func closeApp(a *app.App) func() {
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), app.ShutdownTimeout)
		defer cancel()
		_ = a.Close(shutdownCtx)
	}
}

// withApp builds the pipeline, runs fn and releases it.
func (g *globals) withApp(cmd *cobra.Command, fn func(a *app.App) error) error {
	a, release, err := g.newApp(cmd.Context(), g.verbose)
	if err != nil {
		return err
	}
	defer release()
	return fn(a)
}

// emit writes v as indented JSON when --json is set, else calls text.
func (g *globals) emit(w io.Writer, v any, text func(io.Writer) error) error {
	if g.jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	return text(w)
}

func printf(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
