package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/runledger/internal/artifact"
	"github.com/roach88/runledger/internal/runstore"
)

// artifactView renders one artifact. Text output is the indented document.
type artifactView struct {
	*artifact.RunArtifact
}

func (v artifactView) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.RunArtifact)
}

func (v artifactView) WriteText(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v.RunArtifact)
}

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <run-id>",
		Short: "Show one run artifact with its advisories and explanation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(rootOpts, cmd)
			if err != nil {
				return err
			}
			repo, err := s.repository()
			if err != nil {
				return err
			}
			a, found, err := repo.Get(cmd.Context(), args[0])
			if err != nil {
				return classify("failed to read artifact", err)
			}
			if !found {
				return classify("artifact not found", &artifact.NotFoundError{RunID: args[0]})
			}
			return s.out.Success(artifactView{a})
		},
	}
}

// ListOptions holds flags for the list command.
type ListOptions struct {
	*RootOptions
	Status string
	Mode   string
	ToolID string
	Risk   string
	From   string
	To     string
	Limit  int
}

// artifactList renders list results as a table.
type artifactList []*artifact.RunArtifact

func (l artifactList) WriteText(w io.Writer) error {
	if len(l) == 0 {
		_, err := fmt.Fprintln(w, "No artifacts found")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN ID\tCREATED\tMODE\tTOOL\tSTATUS\tRISK\tADVISORIES")
	for _, a := range l {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%d\n",
			a.RunID,
			a.CreatedAt.UTC().Format(time.RFC3339),
			dash(a.Mode),
			dash(a.ToolID),
			a.Status,
			a.Decision.RiskLevel,
			len(a.AdvisoryInputs),
		)
	}
	return tw.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ListOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List run artifacts, newest first",
		Long: `List run artifacts, newest first.

Dates accept YYYY-MM-DD (a whole UTC day) or RFC 3339 timestamps; both
bounds are inclusive.

Example:
  runledger list --status BLOCKED --risk red
  runledger list --from 2026-03-01 --to 2026-03-31 --limit 200`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Status, "status", "", "filter by status (OK|BLOCKED|ERROR)")
	cmd.Flags().StringVar(&opts.Mode, "mode", "", "filter by mode")
	cmd.Flags().StringVar(&opts.ToolID, "tool", "", "filter by tool id")
	cmd.Flags().StringVar(&opts.Risk, "risk", "", "filter by risk level (case-insensitive)")
	cmd.Flags().StringVar(&opts.From, "from", "", "earliest created_at (inclusive)")
	cmd.Flags().StringVar(&opts.To, "to", "", "latest created_at (inclusive)")
	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", runstore.DefaultListLimit, "maximum number of results")

	return cmd
}

func runList(opts *ListOptions, cmd *cobra.Command) error {
	s, err := newSession(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	filter, err := opts.filter()
	if err != nil {
		return err
	}
	repo, err := s.repository()
	if err != nil {
		return err
	}

	items, err := repo.ListFiltered(cmd.Context(), filter)
	if err != nil {
		return classify("failed to list artifacts", err)
	}
	if items == nil {
		items = []*artifact.RunArtifact{}
	}
	s.out.VerboseLog("Matched %d artifact(s)", len(items))
	return s.out.Success(artifactList(items))
}

func (o *ListOptions) filter() (runstore.Filter, error) {
	f := runstore.Filter{
		Mode:      o.Mode,
		ToolID:    o.ToolID,
		RiskLevel: o.Risk,
		Limit:     o.Limit,
	}
	if o.Status != "" {
		f.Status = artifact.Status(strings.ToUpper(o.Status))
		if !f.Status.Valid() {
			return f, NewExitError(ExitValidation, fmt.Sprintf("invalid --status %q: want OK, BLOCKED or ERROR", o.Status))
		}
	}
	var err error
	if f.DateFrom, err = parseDateBound(o.From, false); err != nil {
		return f, WrapExitError(ExitValidation, "invalid --from", err)
	}
	if f.DateTo, err = parseDateBound(o.To, true); err != nil {
		return f, WrapExitError(ExitValidation, "invalid --to", err)
	}
	return f, nil
}

// parseDateBound parses a date filter. A bare date covers the whole UTC
// day, so as an upper bound it extends to the day's last instant.
func parseDateBound(v string, upper bool) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.DateOnly, v); err == nil {
		if upper {
			return t.Add(24*time.Hour - time.Nanosecond), nil
		}
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, v)
}

// countResult is the count command's output.
type countResult struct {
	Count int `json:"count"`
}

func (c countResult) WriteText(w io.Writer) error {
	_, err := fmt.Fprintln(w, c.Count)
	return err
}

// NewCountCommand creates the count command.
func NewCountCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "count",
		Short: "Count stored run artifacts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(rootOpts, cmd)
			if err != nil {
				return err
			}
			repo, err := s.repository()
			if err != nil {
				return err
			}
			n, err := repo.Count(cmd.Context())
			if err != nil {
				return classify("failed to count artifacts", err)
			}
			return s.out.Success(countResult{Count: n})
		},
	}
}
