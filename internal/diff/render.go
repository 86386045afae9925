package diff

import (
	"fmt"
	"io"
	"text/tabwriter"
)

// WriteText renders r as an aligned, human-readable report.
func WriteText(w io.Writer, r *Result) error {
	if _, err := fmt.Fprintf(w, "%s -> %s: %s\n", r.RunIDA, r.RunIDB, r.Severity); err != nil {
		return err
	}
	for _, n := range r.Notes {
		if _, err := fmt.Fprintf(w, "note: %s\n", n); err != nil {
			return err
		}
	}
	if len(r.Differences) == 0 {
		_, err := fmt.Fprintln(w, "no differences")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEVERITY\tFIELD\tA\tB\tNOTE")
	for _, d := range r.Differences {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", d.Severity, d.Field, formatValue(d.A), formatValue(d.B), d.Message)
	}
	return tw.Flush()
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "-"
	case string:
		if x == "" {
			return `""`
		}
		return x
	case float64:
		return fmt.Sprintf("%.2f", x)
	default:
		return fmt.Sprint(x)
	}
}
