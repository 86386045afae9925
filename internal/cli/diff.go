package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/runledger/internal/diff"
)

// DiffOptions holds flags for the diff command.
type DiffOptions struct {
	*RootOptions
	FailOn string
}

// diffView renders a diff result.
type diffView struct {
	*diff.Result
}

func (v diffView) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Result)
}

func (v diffView) WriteText(w io.Writer) error {
	return diff.WriteText(w, v.Result)
}

// NewDiffCommand creates the diff command.
func NewDiffCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DiffOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "diff <run-id-a> <run-id-b>",
		Short: "Compare two runs and grade the differences",
		Long: `Compare two stored runs field by field.

Each difference is graded INFO, WARNING or CRITICAL and the report carries
the highest grade. With --fail-on the command exits 1 when the report
reaches that grade, which makes it usable as a regression gate.

Example:
  runledger diff run_0193a1b2c3d4 run_0193a1b2c3ff
  runledger diff run_0193a1b2c3d4 run_0193a1b2c3ff --fail-on WARNING --format json`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDiff(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.FailOn, "fail-on", "", "exit 1 when severity reaches INFO, WARNING or CRITICAL")

	return cmd
}

func runDiff(opts *DiffOptions, runIDA, runIDB string, cmd *cobra.Command) error {
	var threshold diff.Severity
	gate := opts.FailOn != ""
	if gate {
		var err error
		if threshold, err = diff.ParseSeverity(strings.ToUpper(opts.FailOn)); err != nil {
			return WrapExitError(ExitValidation, "invalid --fail-on", err)
		}
	}

	s, err := newSession(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	repo, err := s.repository()
	if err != nil {
		return err
	}

	result, err := diff.NewEngine(repo).DiffRuns(cmd.Context(), runIDA, runIDB)
	if err != nil {
		return classify("failed to diff runs", err)
	}
	if err := s.out.Success(diffView{result}); err != nil {
		return err
	}

	if gate && result.Changed() && result.Severity >= threshold {
		return &ExitError{
			Code:     ExitFailure,
			ErrCode:  ErrCodeFailed,
			Message:  fmt.Sprintf("diff severity %s reaches --fail-on %s", result.Severity, threshold),
			Reported: true,
		}
	}
	return nil
}
