package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/runledger/internal/artifact"
)

// AttachAdvisoryOptions holds flags for the attach-advisory command.
type AttachAdvisoryOptions struct {
	*RootOptions
	Kind          string
	CreatedAt     string
	EngineID      string
	EngineVersion string
}

// NewAttachAdvisoryCommand creates the attach-advisory command.
func NewAttachAdvisoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AttachAdvisoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "attach-advisory <run-id> <advisory-id>",
		Short: "Link an advisory to a stored run",
		Long: `Link an advisory to a stored run without modifying the run itself.

Attaching the same advisory id again is a no-op, so retries are safe.

Example:
  runledger attach-advisory run_0193a1b2c3d4 adv-7781 --kind risk --engine-id rules`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAttachAdvisory(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Kind, "kind", "", "advisory kind")
	cmd.Flags().StringVar(&opts.CreatedAt, "created-at", "", "advisory timestamp, RFC 3339 (default now)")
	cmd.Flags().StringVar(&opts.EngineID, "engine-id", "", "id of the engine that produced the advisory")
	cmd.Flags().StringVar(&opts.EngineVersion, "engine-version", "", "version of that engine")

	return cmd
}

func runAttachAdvisory(opts *AttachAdvisoryOptions, runID, advisoryID string, cmd *cobra.Command) error {
	s, err := newSession(opts.RootOptions, cmd)
	if err != nil {
		return err
	}

	ref := artifact.AdvisoryInputRef{
		AdvisoryID:    advisoryID,
		Kind:          opts.Kind,
		EngineID:      opts.EngineID,
		EngineVersion: opts.EngineVersion,
	}
	if opts.CreatedAt != "" {
		if ref.CreatedAt, err = time.Parse(time.RFC3339Nano, opts.CreatedAt); err != nil {
			return WrapExitError(ExitValidation, "invalid --created-at", err)
		}
	}

	repo, err := s.repository()
	if err != nil {
		return err
	}
	a, err := repo.AttachAdvisory(cmd.Context(), runID, ref)
	if err != nil {
		return classify("failed to attach advisory", err)
	}
	s.out.VerboseLog("Run %s now has %d advisory input(s)", a.RunID, len(a.AdvisoryInputs))
	return s.out.Success(artifactView{a})
}

// ExplainOptions holds flags for the explain command.
type ExplainOptions struct {
	*RootOptions
	Status  string
	Summary string
}

// NewExplainCommand creates the explain command.
func NewExplainCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExplainOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "explain <run-id>",
		Short: "Set the explanation status and summary of a run",
		Long: `Set the explanation status and summary of a run.

The explanation is the only mutable part of a run; each call replaces the
previous one and the stored run document is never rewritten.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(opts.RootOptions, cmd)
			if err != nil {
				return err
			}
			repo, err := s.repository()
			if err != nil {
				return err
			}
			a, err := repo.SetExplanation(cmd.Context(), args[0], opts.Status, opts.Summary)
			if err != nil {
				return classify("failed to set explanation", err)
			}
			return s.out.Success(artifactView{a})
		},
	}

	cmd.Flags().StringVar(&opts.Status, "status", "", "explanation status, e.g. PENDING or READY (required)")
	cmd.Flags().StringVar(&opts.Summary, "summary", "", "explanation text")
	_ = cmd.MarkFlagRequired("status")

	return cmd
}
