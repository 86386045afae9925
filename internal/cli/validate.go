package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/runledger/internal/artifact"
	"github.com/roach88/runledger/internal/schema"
)

// FileValidation is the outcome for one document.
type FileValidation struct {
	Path   string         `json:"path"`
	Valid  bool           `json:"valid"`
	Issues []schema.Issue `json:"issues,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid bool             `json:"valid"`
	Files []FileValidation `json:"files"`
}

// WriteText implements TextRenderer.
func (r ValidationResult) WriteText(w io.Writer) error {
	for _, f := range r.Files {
		if f.Valid {
			fmt.Fprintf(w, "ok    %s\n", f.Path)
			continue
		}
		fmt.Fprintf(w, "FAIL  %s\n", f.Path)
		for _, issue := range f.Issues {
			fmt.Fprintf(w, "      %s\n", issue)
		}
	}
	return nil
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>...",
		Short: "Check artifact documents against the schema without storing them",
		Long: `Check run artifact JSON documents against the artifact schema and the
repository's own write rules, without storing anything.

Exits 2 when any document is invalid.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args, cmd)
		},
	}
}

func runValidate(opts *RootOptions, paths []string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	validator, err := schema.New()
	if err != nil {
		return WrapExitError(ExitFailure, "failed to load artifact schema", err)
	}

	result := ValidationResult{Valid: true, Files: make([]FileValidation, 0, len(paths))}
	for _, path := range paths {
		formatter.VerboseLog("Validating %s", path)
		fv := validateFile(validator, path, cmd.InOrStdin())
		result.Valid = result.Valid && fv.Valid
		result.Files = append(result.Files, fv)
	}

	if result.Valid {
		return formatter.Success(result)
	}

	invalid := 0
	for _, f := range result.Files {
		if !f.Valid {
			invalid++
		}
	}
	if formatter.Format == "json" {
		if err := json.NewEncoder(formatter.Writer).Encode(CLIResponse{
			Status: "error",
			Data:   result,
			Error: &CLIError{
				Code:    ErrCodeValidation,
				Message: fmt.Sprintf("%d of %d document(s) invalid", invalid, len(result.Files)),
			},
		}); err != nil {
			return err
		}
	} else if err := result.WriteText(formatter.Writer); err != nil {
		return err
	}
	return &ExitError{
		Code:     ExitValidation,
		Message:  fmt.Sprintf("validation failed for %d document(s)", invalid),
		Reported: true,
	}
}

// validateFile runs the schema check and then the checks Put applies.
func validateFile(v *schema.Validator, path string, stdin io.Reader) FileValidation {
	fv := FileValidation{Path: path}

	data, err := readInput(path, stdin)
	if err != nil {
		fv.Issues = []schema.Issue{{Message: err.Error()}}
		return fv
	}

	if err := v.ValidateJSON(path, data); err != nil {
		var serr *schema.Error
		if errors.As(err, &serr) {
			fv.Issues = serr.Issues
		} else {
			fv.Issues = []schema.Issue{{Message: err.Error()}}
		}
		return fv
	}

	var a artifact.RunArtifact
	if err := json.Unmarshal(data, &a); err != nil {
		fv.Issues = []schema.Issue{{Message: err.Error()}}
		return fv
	}
	if err := a.Validate(); err != nil {
		issue := schema.Issue{Message: err.Error()}
		var verr *artifact.ValidationError
		if errors.As(err, &verr) {
			issue = schema.Issue{Path: verr.Field, Message: verr.Message}
		}
		fv.Issues = []schema.Issue{issue}
		return fv
	}

	fv.Valid = true
	return fv
}
