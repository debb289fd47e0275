package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/fpang/nextlevel-variants/internal/pipeline"
	"github.com/fpang/nextlevel-variants/internal/store"
)

// FormatDurationShort formats a duration as milliseconds below one second
// and as seconds with one decimal above.
func FormatDurationShort(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

// WriteOutcome prints a summary line and one row per variant.
func WriteOutcome(w io.Writer, out *pipeline.Outcome) error {
	fmt.Fprintf(w, "%s  %s  %s  %s\n", out.Result(), out.Key, out.State, FormatDurationShort(out.Duration))
	switch {
	case out.Skipped:
		fmt.Fprintf(w, "skipped: %s\n", out.SkipReason)
	case out.Fatal:
		fmt.Fprintf(w, "error (%s): %s\n", out.ErrorKind, out.Error)
	}
	if len(out.Variants) == 0 {
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "VARIANT\tKEY\tSIZE\tBYTES\tRESULT")
	for _, v := range out.Variants {
		result := "ok"
		if !v.Success {
			result = fmt.Sprintf("%s: %s", v.ErrorKind, v.Error)
		}
		fmt.Fprintf(tw, "%s\t%s\t%dx%d\t%d\t%s\n", v.Variant, v.OutputKey, v.Width, v.Height, v.Bytes, result)
	}
	return tw.Flush()
}

// WriteHistory prints ledger rows, oldest first.
func WriteHistory(w io.Writer, records []store.OutcomeRecord) error {
	if len(records) == 0 {
		_, err := fmt.Fprintln(w, "no recorded invocations")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tINVOCATION\tSTATUS\tVARIANTS\tDURATION\tDETAIL")
	for _, r := range records {
		ok := 0
		for _, v := range r.Variants {
			if v.Success {
				ok++
			}
		}
		detail := r.SkipReason
		if r.Error != "" {
			detail = r.ErrorKind + ": " + r.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%s\t%s\n",
			r.StartedAt.UTC().Format(time.RFC3339), r.InvocationID, r.Status,
			ok, len(r.Variants), FormatDurationShort(time.Duration(r.DurationMs)*time.Millisecond), detail)
	}
	return tw.Flush()
}
