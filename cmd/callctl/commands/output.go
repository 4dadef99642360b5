package commands

import (
	"encoding/json"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"callpilot/internal/calls"
)

func writeJSONLine(w io.Writer, v any) error {
	return json.NewEncoder(w).Encode(v)
}

func printCallTable(w io.Writer, rows []calls.Call) error {
	if len(rows) == 0 {
		printf(w, "no calls\n")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	printf(tw, "ID\tSTATUS\tPHONE\tCALLER\tCREATED\tDURATION\tSUCCESS\n")
	for _, c := range rows {
		printf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			c.ID, c.Status, c.Request.PhoneNumber, c.Request.CallerName,
			c.CreatedAt.UTC().Format(time.RFC3339), duration(c.DurationSeconds), success(c.Success))
	}
	return tw.Flush()
}

func printCall(w io.Writer, c calls.Call) {
	printf(w, "Call %s\n", c.ID)
	printf(w, "  status:    %s\n", c.Status)
	printf(w, "  phone:     %s\n", c.Request.PhoneNumber)
	printf(w, "  caller:    %s (%s)\n", c.Request.CallerName, c.Request.CallerPhone)
	printf(w, "  action:    %s\n", c.Request.AccountAction)
	if c.ProviderCallID != "" {
		printf(w, "  provider:  %s\n", c.ProviderCallID)
	}
	printf(w, "  created:   %s\n", c.CreatedAt.UTC().Format(time.RFC3339))
	if c.CompletedAt != nil {
		printf(w, "  completed: %s\n", c.CompletedAt.UTC().Format(time.RFC3339))
	}
	printf(w, "  duration:  %s\n", duration(c.DurationSeconds))
	printf(w, "  success:   %s\n", success(c.Success))
	if c.ErrorMessage != nil {
		printf(w, "  error:     %s\n", *c.ErrorMessage)
	}
	if c.Transcript != nil && *c.Transcript != "" {
		printf(w, "\n%s\n", *c.Transcript)
	}
}

func duration(d *int) string {
	if d == nil {
		return "-"
	}
	return strconv.Itoa(*d) + "s"
}

func success(b *bool) string {
	switch {
	case b == nil:
		return "-"
	case *b:
		return "yes"
	default:
		return "no"
	}
}
