package commands

import (
	"io"
	"text/tabwriter"

	"callpilot/internal/app"
	"callpilot/internal/reporting"

	"github.com/spf13/cobra"
)

func newSummaryCommand(g *globals) *cobra.Command {
	var req reporting.SummaryRequest

	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Show success rate and volume over recent days",
		Example: `  callctl summary
  callctl summary --days 7 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.withApp(cmd, func(a *app.App) error {
				s, err := a.Reports.Summary(cmd.Context(), req)
				if err != nil {
					return err
				}
				return g.emit(cmd.OutOrStdout(), s, func(w io.Writer) error {
					return printSummary(w, s)
				})
			})
		},
	}

	cmd.Flags().IntVar(&req.Days, "days", reporting.DefaultDays, "days to look back")
	return cmd
}

func printSummary(w io.Writer, s reporting.Summary) error {
	printf(w, "Last %d day(s)\n", s.PeriodDays)
	printf(w, "  calls:        %d (%d finished, %d active)\n", s.TotalCalls, s.FinishedCalls, s.ActiveCalls)
	printf(w, "  successful:   %d\n", s.SuccessfulCalls)
	printf(w, "  failed:       %d\n", s.FailedCalls)
	printf(w, "  success rate: %.1f%%\n", s.SuccessRate*100)
	printf(w, "  avg duration: %.0fs\n", s.AverageDurationSeconds)

	if len(s.DailySuccess) > 0 {
		printf(w, "\n")
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		printf(tw, "DATE\tFINISHED\tSUCCESSFUL\tRATE\n")
		for _, d := range s.DailySuccess {
			printf(tw, "%s\t%d\t%d\t%.1f%%\n", d.Date, d.Finished, d.Successful, d.SuccessRate*100)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	if len(s.FailureReasons) > 0 {
		printf(w, "\nTop failure reasons\n")
		for _, r := range s.FailureReasons {
			printf(w, "  %4d  %s\n", r.Count, r.Reason)
		}
	}
	return nil
}
